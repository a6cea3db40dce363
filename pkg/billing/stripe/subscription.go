package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/orgbilling/pkg/billing"
)

const prorationCreateProrations = "create_prorations"

// CancelSubscription cancels a subscription. With immediate set the subscription
// ends now; otherwise it is flagged to cancel at the end of the current period.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) (*stripe.Subscription, error) {
	if err := c.ensureConfigured(); err != nil {
		return nil, err
	}

	startTime := time.Now()
	if immediate {
		sub, err := c.api.V1Subscriptions.Cancel(ctx, subscriptionID, &stripe.SubscriptionCancelParams{})
		c.observe("/subscriptions/cancel", startTime, err)
		if err != nil {
			return nil, fmt.Errorf("failed to cancel subscription: %w", err)
		}
		return sub, nil
	}

	sub, err := c.api.V1Subscriptions.Update(ctx, subscriptionID, &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	c.observe("/subscriptions/update", startTime, err)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule subscription cancellation: %w", err)
	}
	return sub, nil
}

// ResumeSubscription clears a pending cancel-at-period-end.
func (c *Client) ResumeSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	if err := c.ensureConfigured(); err != nil {
		return nil, err
	}

	startTime := time.Now()
	sub, err := c.api.V1Subscriptions.Update(ctx, subscriptionID, &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	})
	c.observe("/subscriptions/update", startTime, err)
	if err != nil {
		return nil, fmt.Errorf("failed to resume subscription: %w", err)
	}
	return sub, nil
}

// UpdateSubscriptionPlan swaps the price of the subscription's single item,
// prorating the difference.
func (c *Client) UpdateSubscriptionPlan(ctx context.Context, subscriptionID, newPriceID string) (*stripe.Subscription, error) {
	if err := c.ensureConfigured(); err != nil {
		return nil, err
	}

	startTime := time.Now()
	current, err := c.api.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	c.observe("/subscriptions/retrieve", startTime, err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscription: %w", err)
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", billing.ErrSubscriptionHasNoItems, subscriptionID)
	}

	startTime = time.Now()
	sub, err := c.api.V1Subscriptions.Update(ctx, subscriptionID, &stripe.SubscriptionUpdateParams{
		Items: []*stripe.SubscriptionUpdateItemParams{
			{
				ID:    stripe.String(current.Items.Data[0].ID),
				Price: stripe.String(newPriceID),
			},
		},
		ProrationBehavior: stripe.String(prorationCreateProrations),
	})
	c.observe("/subscriptions/update", startTime, err)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription plan: %w", err)
	}
	return sub, nil
}

// GetSubscription fetches a subscription. Any failure, including an
// unconfigured client, yields nil.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) *stripe.Subscription {
	if !c.Configured() || subscriptionID == "" {
		return nil
	}

	startTime := time.Now()
	sub, err := c.api.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	c.observe("/subscriptions/retrieve", startTime, err)
	if err != nil {
		c.logger.Warn("failed to fetch subscription",
			billing.F("subscription_id", subscriptionID),
			billing.F("error", err.Error()))
		return nil
	}
	return sub
}
