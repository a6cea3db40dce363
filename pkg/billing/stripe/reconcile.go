package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/orgbilling/pkg/billing"
)

const (
	reasonCheckoutCreated   = "Subscription created via Stripe checkout"
	reasonCancelScheduled   = "Subscription scheduled for cancellation"
	reasonSubscriptionSaved = "Subscription updated"
	reasonSubscriptionEnded = "Subscription canceled"

	descriptionInvoicePaid   = "Subscription payment"
	descriptionInvoiceFailed = "Payment failed"

	fallbackGreetingName = "there"
)

// SubscriptionFetcher loads a subscription from the provider. Implementations
// return nil when the subscription cannot be fetched.
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, subscriptionID string) *stripe.Subscription
}

// EventHandlers is the set of per-kind handlers the webhook dispatcher routes to.
type EventHandlers interface {
	HandleCheckoutCompleted(ctx context.Context, session *CheckoutSession) error
	HandleSubscriptionChanged(ctx context.Context, sub *Subscription) error
	HandleSubscriptionDeleted(ctx context.Context, sub *Subscription) error
	HandleInvoicePaid(ctx context.Context, inv *Invoice) error
	HandleInvoicePaymentFailed(ctx context.Context, inv *Invoice) error
}

// ReconcilerConfig holds the collaborators of a Reconciler.
type ReconcilerConfig struct {
	// Store is required.
	Store billing.Store

	// Subscriptions fetches the subscription created by a checkout. Usually the *Client.
	Subscriptions SubscriptionFetcher

	// Notifier sends owner emails. Optional.
	Notifier billing.Notifier

	// Catalog maps price ids to plans. Defaults to billing.DefaultCatalog().
	Catalog *billing.Catalog

	Logger  billing.Logger
	Metrics billing.Metrics

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Reconciler applies provider events to organization billing records.
type Reconciler struct {
	store         billing.Store
	subscriptions SubscriptionFetcher
	notifier      billing.Notifier
	catalog       *billing.Catalog
	logger        billing.Logger
	metrics       billing.Metrics
	now           func() time.Time
	newID         func() string
}

var _ EventHandlers = (*Reconciler)(nil)

// NewReconciler creates a Reconciler.
func NewReconciler(config ReconcilerConfig) (*Reconciler, error) {
	if config.Store == nil {
		return nil, errors.New("store is required")
	}

	r := &Reconciler{
		store:         config.Store,
		subscriptions: config.Subscriptions,
		notifier:      config.Notifier,
		catalog:       config.Catalog,
		logger:        config.Logger,
		metrics:       config.Metrics,
		now:           config.Now,
		newID:         config.NewID,
	}
	if r.notifier == nil {
		r.notifier = billing.NoopNotifier{}
	}
	if r.catalog == nil {
		r.catalog = billing.DefaultCatalog()
	}
	if r.logger == nil {
		r.logger = &billing.NoopLogger{}
	}
	if r.metrics == nil {
		r.metrics = &billing.NoopMetrics{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r, nil
}

// HandleCheckoutCompleted links a freshly purchased subscription to the
// organization named in the session metadata.
func (r *Reconciler) HandleCheckoutCompleted(ctx context.Context, session *CheckoutSession) error {
	orgID := session.OrganizationID()
	if orgID == "" {
		r.logger.Warn("checkout session has no organization_id metadata", billing.F("session_id", session.ID))
		return nil
	}

	subscriptionID := session.Subscription.String()
	var sub *stripe.Subscription
	if r.subscriptions != nil && subscriptionID != "" {
		sub = r.subscriptions.GetSubscription(ctx, subscriptionID)
	}
	priceID, providerStatus, periodEnd := summarizeSubscription(sub)
	plan, _ := r.catalog.PlanFor(priceID)
	status := billing.CheckoutStatusFromProvider(providerStatus)

	org, err := r.store.GetOrganization(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to load organization %s: %w", orgID, err)
	}
	previousPlan, previousStatus := priorState(org)

	update := billing.OrganizationUpdate{
		SubscriptionID:   &subscriptionID,
		PriceID:          &priceID,
		Plan:             &plan,
		Status:           &status,
		CurrentPeriodEnd: periodEnd,
	}
	if customerID := session.Customer.String(); customerID != "" {
		update.CustomerID = &customerID
	}
	if err := r.store.UpdateOrganization(ctx, orgID, update); err != nil {
		return fmt.Errorf("failed to update organization %s: %w", orgID, err)
	}

	if err := r.recordTransition(ctx, orgID, previousPlan, plan, previousStatus, status, reasonCheckoutCreated, subscriptionID); err != nil {
		return err
	}

	r.logger.Info("subscription linked from checkout",
		billing.F("organization_id", orgID),
		billing.F("subscription_id", subscriptionID),
		billing.F("price_id", priceID),
		billing.F("plan", string(plan)),
		billing.F("status", string(status)))

	owner, err := r.store.GetOwner(ctx, orgID)
	switch {
	case err == nil && owner != nil && owner.Email != "":
		r.notify(ctx, owner.Email, billing.TemplateSubscriptionCreated, billing.TemplateData{
			OrganizationName: org.Name,
			UserName:         greetingName(owner),
		})
	case err != nil && !errors.Is(err, billing.ErrOwnerNotFound):
		r.logger.Warn("failed to look up organization owner",
			billing.F("organization_id", orgID),
			billing.F("error", err.Error()))
	}
	return nil
}

// HandleSubscriptionChanged mirrors a created or updated subscription onto its organization.
func (r *Reconciler) HandleSubscriptionChanged(ctx context.Context, sub *Subscription) error {
	org, err := r.organizationForCustomer(ctx, sub.Customer.String())
	if err != nil || org == nil {
		return err
	}

	priceID := sub.FirstPriceID()
	plan, _ := r.catalog.PlanFor(priceID)
	status := billing.StatusFromProvider(sub.Status)
	subscriptionID := sub.ID
	cancelAtPeriodEnd := sub.CancelAtPeriodEnd

	err = r.store.UpdateOrganization(ctx, org.ID, billing.OrganizationUpdate{
		SubscriptionID:    &subscriptionID,
		PriceID:           &priceID,
		Plan:              &plan,
		Status:            &status,
		CancelAtPeriodEnd: &cancelAtPeriodEnd,
		CurrentPeriodEnd:  sub.PeriodEnd(),
	})
	if err != nil {
		return fmt.Errorf("failed to update organization %s: %w", org.ID, err)
	}

	if org.Plan == plan && org.Status == status {
		return nil
	}

	reason := reasonSubscriptionSaved
	if cancelAtPeriodEnd {
		reason = reasonCancelScheduled
	}
	previousPlan, previousStatus := priorState(org)
	if err := r.recordTransition(ctx, org.ID, previousPlan, plan, previousStatus, status, reason, ""); err != nil {
		return err
	}

	r.logger.Info("subscription changed",
		billing.F("organization_id", org.ID),
		billing.F("subscription_id", subscriptionID),
		billing.F("price_id", priceID),
		billing.F("plan", string(plan)),
		billing.F("status", string(status)))
	return nil
}

// HandleSubscriptionDeleted returns the organization to the free plan.
func (r *Reconciler) HandleSubscriptionDeleted(ctx context.Context, sub *Subscription) error {
	org, err := r.organizationForCustomer(ctx, sub.Customer.String())
	if err != nil || org == nil {
		return err
	}

	plan := billing.PlanFree
	status := billing.StatusCancelled
	err = r.store.UpdateOrganization(ctx, org.ID, billing.OrganizationUpdate{
		Plan:              &plan,
		Status:            &status,
		ClearSubscription: true,
	})
	if err != nil {
		return fmt.Errorf("failed to update organization %s: %w", org.ID, err)
	}

	previousPlan, _ := priorState(org)
	if err := r.recordTransition(ctx, org.ID, previousPlan, plan, billing.StatusActive, status, reasonSubscriptionEnded, ""); err != nil {
		return err
	}

	r.logger.Info("subscription deleted",
		billing.F("organization_id", org.ID),
		billing.F("subscription_id", sub.ID))
	return nil
}

// HandleInvoicePaid records a successful payment. It never changes plan or status.
func (r *Reconciler) HandleInvoicePaid(ctx context.Context, inv *Invoice) error {
	customerID := inv.Customer.String()
	if customerID == "" {
		return nil
	}
	org, err := r.store.GetOrganizationByCustomer(ctx, customerID)
	if errors.Is(err, billing.ErrOrganizationNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load organization for customer %s: %w", customerID, err)
	}

	description := descriptionInvoicePaid
	if line, ok := inv.FirstLine(); ok && strings.TrimSpace(line.Description) != "" {
		description = line.Description
	}

	return r.insertBilling(ctx, &billing.BillingHistory{
		OrganizationID:  org.ID,
		InvoiceID:       inv.ID,
		PaymentIntentID: inv.PaymentIntent.String(),
		Amount:          inv.AmountPaid,
		Currency:        inv.Currency,
		Status:          billing.BillingStatusPaid,
		Description:     description,
		InvoiceURL:      inv.HostedInvoiceURL,
		InvoicePDF:      inv.InvoicePDF,
	})
}

// HandleInvoicePaymentFailed records a failed payment and warns the organization owner.
func (r *Reconciler) HandleInvoicePaymentFailed(ctx context.Context, inv *Invoice) error {
	customerID := inv.Customer.String()
	if customerID == "" {
		return nil
	}
	org, owner, err := r.store.GetOrganizationWithOwnerByCustomer(ctx, customerID)
	if errors.Is(err, billing.ErrOrganizationNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load organization for customer %s: %w", customerID, err)
	}

	err = r.insertBilling(ctx, &billing.BillingHistory{
		OrganizationID: org.ID,
		InvoiceID:      inv.ID,
		Amount:         inv.AmountDue,
		Currency:       inv.Currency,
		Status:         billing.BillingStatusFailed,
		Description:    descriptionInvoiceFailed,
		InvoiceURL:     inv.HostedInvoiceURL,
	})
	if err != nil {
		return err
	}

	r.logger.Warn("invoice payment failed",
		billing.F("organization_id", org.ID),
		billing.F("customer_id", customerID),
		billing.F("invoice_id", inv.ID))

	if owner != nil && owner.Email != "" {
		r.notify(ctx, owner.Email, billing.TemplatePaymentFailed, billing.TemplateData{
			OrganizationName: org.Name,
			UserName:         greetingName(owner),
			InvoiceURL:       inv.HostedInvoiceURL,
		})
	}
	return nil
}

// organizationForCustomer returns nil without error when no organization
// belongs to customerID.
func (r *Reconciler) organizationForCustomer(ctx context.Context, customerID string) (*billing.Organization, error) {
	if customerID == "" {
		r.logger.Info("event has no customer id, skipping")
		return nil, nil
	}
	org, err := r.store.GetOrganizationByCustomer(ctx, customerID)
	if errors.Is(err, billing.ErrOrganizationNotFound) {
		r.logger.Info("no organization for customer, skipping", billing.F("customer_id", customerID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load organization for customer %s: %w", customerID, err)
	}
	return org, nil
}

func (r *Reconciler) recordTransition(ctx context.Context, orgID string,
	fromPlan, toPlan billing.Plan, fromStatus, toStatus billing.Status, reason, invoiceRef string,
) error {
	err := r.store.InsertSubscriptionHistory(ctx, &billing.SubscriptionHistory{
		ID:             r.newID(),
		OrganizationID: orgID,
		PreviousPlan:   fromPlan,
		NewPlan:        toPlan,
		PreviousStatus: fromStatus,
		NewStatus:      toStatus,
		ChangeReason:   reason,
		InvoiceRef:     invoiceRef,
		CreatedAt:      r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to record subscription history for %s: %w", orgID, err)
	}
	r.metrics.RecordPlanChange(fromPlan, toPlan, toStatus)
	return nil
}

func (r *Reconciler) insertBilling(ctx context.Context, row *billing.BillingHistory) error {
	row.ID = r.newID()
	row.CreatedAt = r.now().UTC()
	if err := r.store.InsertBillingHistory(ctx, row); err != nil {
		return fmt.Errorf("failed to record billing history for %s: %w", row.OrganizationID, err)
	}
	return nil
}

func (r *Reconciler) notify(ctx context.Context, to string, tmpl billing.TemplateType, data billing.TemplateData) {
	if err := r.notifier.Send(ctx, to, tmpl, data); err != nil {
		r.metrics.RecordNotification(tmpl, "error")
		r.logger.Warn("failed to send notification",
			billing.F("template", string(tmpl)),
			billing.F("error", err.Error()))
		return
	}
	r.metrics.RecordNotification(tmpl, "sent")
}

// priorState fills the blanks of a stored organization with free/trial.
func priorState(org *billing.Organization) (billing.Plan, billing.Status) {
	plan, status := org.Plan, org.Status
	if plan == "" {
		plan = billing.PlanFree
	}
	if status == "" {
		status = billing.StatusTrial
	}
	return plan, status
}

func greetingName(owner *billing.Owner) string {
	if name := strings.TrimSpace(owner.FullName); name != "" {
		return name
	}
	return fallbackGreetingName
}

// summarizeSubscription extracts the first item's price, the provider status
// and the period end from a fetched subscription. A nil subscription yields zero values.
func summarizeSubscription(sub *stripe.Subscription) (priceID, status string, periodEnd *time.Time) {
	if sub == nil {
		return "", "", nil
	}
	status = string(sub.Status)
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0] != nil {
		item := sub.Items.Data[0]
		if item.Price != nil {
			priceID = item.Price.ID
		}
		periodEnd = unixTime(item.CurrentPeriodEnd)
	}
	return priceID, status, periodEnd
}
