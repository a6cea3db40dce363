package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
)

// CheckoutParams describes a subscription checkout for one organization.
type CheckoutParams struct {
	CustomerID     string
	PriceID        string
	OrganizationID string
	SuccessURL     string
	CancelURL      string

	// TrialDays starts the subscription with a trial when greater than zero.
	TrialDays int64
}

func (p CheckoutParams) validate() error {
	var missing []string
	if strings.TrimSpace(p.CustomerID) == "" {
		missing = append(missing, "customer id")
	}
	if strings.TrimSpace(p.PriceID) == "" {
		missing = append(missing, "price id")
	}
	if strings.TrimSpace(p.OrganizationID) == "" {
		missing = append(missing, "organization id")
	}
	if strings.TrimSpace(p.SuccessURL) == "" {
		missing = append(missing, "success url")
	}
	if strings.TrimSpace(p.CancelURL) == "" {
		missing = append(missing, "cancel url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid checkout params: missing %s", strings.Join(missing, ", "))
	}
	if p.TrialDays < 0 {
		return errors.New("invalid checkout params: trial days must not be negative")
	}
	return nil
}

// CreateCheckoutSession creates a subscription-mode Checkout Session for a single price.
// The organization id is stored in the session and subscription metadata so the
// completion webhook can be correlated back to the organization.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*stripe.CheckoutSession, error) {
	if err := c.ensureConfigured(); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	startTime := time.Now()
	params := &stripe.CheckoutSessionCreateParams{
		Customer:           stripe.String(p.CustomerID),
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:          stripe.String(p.SuccessURL),
		CancelURL:           stripe.String(p.CancelURL),
		AllowPromotionCodes: stripe.Bool(true),
	}
	params.AddMetadata(metadataOrganizationIDKey, p.OrganizationID)

	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	params.SubscriptionData.AddMetadata(metadataOrganizationIDKey, p.OrganizationID)
	if p.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(p.TrialDays)
	}

	session, err := c.api.V1CheckoutSessions.Create(ctx, params)
	c.observe("/checkout/sessions", startTime, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return session, nil
}

// CreateBillingPortalSession creates a Customer Portal session where the customer
// can manage payment methods, invoices and the subscription.
func (c *Client) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	if err := c.ensureConfigured(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(customerID) == "" {
		return nil, errors.New("customer id is required")
	}

	startTime := time.Now()
	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}

	session, err := c.api.V1BillingPortalSessions.Create(ctx, params)
	c.observe("/billing_portal/sessions", startTime, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create portal session: %w", err)
	}
	return session, nil
}
