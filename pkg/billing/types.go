package billing

import "time"

// Plan is the product tier an organization has purchased.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanBasic      Plan = "basic"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Valid reports whether p is one of the known plan tiers.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanBasic, PlanPro, PlanEnterprise:
		return true
	}
	return false
}

// ParsePlan converts a case-insensitive plan name into a Plan.
func ParsePlan(s string) (Plan, bool) {
	p := Plan(toLowerTrim(s))
	return p, p.Valid()
}

// Status is the lifecycle state of an organization's subscription.
type Status string

const (
	StatusTrial     Status = "trial"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known subscription statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusTrial, StatusActive, StatusPastDue, StatusSuspended, StatusCancelled:
		return true
	}
	return false
}

// Provider subscription statuses as reported by Stripe.
const (
	ProviderStatusTrialing = "trialing"
	ProviderStatusActive   = "active"
	ProviderStatusPastDue  = "past_due"
	ProviderStatusCanceled = "canceled"
)

// StatusFromProvider maps a provider subscription status onto the organization
// status taxonomy. Unrecognized statuses resolve to active.
func StatusFromProvider(providerStatus string) Status {
	switch providerStatus {
	case ProviderStatusTrialing:
		return StatusTrial
	case ProviderStatusActive:
		return StatusActive
	case ProviderStatusPastDue:
		return StatusPastDue
	case ProviderStatusCanceled:
		return StatusCancelled
	default:
		return StatusActive
	}
}

// CheckoutStatusFromProvider maps the status of a subscription that was just
// started through checkout. Only trialing is distinguished; everything else is active.
func CheckoutStatusFromProvider(providerStatus string) Status {
	if providerStatus == ProviderStatusTrialing {
		return StatusTrial
	}
	return StatusActive
}

// Interval is the billing cadence of a catalog price.
type Interval string

const (
	IntervalMonthly Interval = "monthly"
	IntervalYearly  Interval = "yearly"
)

// Organization is the tenant record holding one billing subscription.
type Organization struct {
	ID                string
	Name              string
	CustomerID        string
	SubscriptionID    string
	PriceID           string
	Plan              Plan
	Status            Status
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
}

// Owner is the member of an organization holding the owner role.
type Owner struct {
	UserID   string
	Email    string
	FullName string
}

// OrganizationUpdate is a partial update of an Organization. Nil fields are left untouched.
type OrganizationUpdate struct {
	CustomerID        *string
	SubscriptionID    *string
	PriceID           *string
	Plan              *Plan
	Status            *Status
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd *bool

	// ClearSubscription nulls the subscription and price ids. It wins over
	// SubscriptionID and PriceID when both are set.
	ClearSubscription bool
}

// Apply copies the set fields of u onto org.
func (u OrganizationUpdate) Apply(org *Organization) {
	if u.CustomerID != nil {
		org.CustomerID = *u.CustomerID
	}
	if u.SubscriptionID != nil {
		org.SubscriptionID = *u.SubscriptionID
	}
	if u.PriceID != nil {
		org.PriceID = *u.PriceID
	}
	if u.Plan != nil {
		org.Plan = *u.Plan
	}
	if u.Status != nil {
		org.Status = *u.Status
	}
	if u.CurrentPeriodEnd != nil {
		t := *u.CurrentPeriodEnd
		org.CurrentPeriodEnd = &t
	}
	if u.CancelAtPeriodEnd != nil {
		org.CancelAtPeriodEnd = *u.CancelAtPeriodEnd
	}
	if u.ClearSubscription {
		org.SubscriptionID = ""
		org.PriceID = ""
	}
}

// SubscriptionHistory is an append-only audit row for a (plan, status) transition.
type SubscriptionHistory struct {
	ID             string
	OrganizationID string
	PreviousPlan   Plan
	NewPlan        Plan
	PreviousStatus Status
	NewStatus      Status
	ChangeReason   string
	InvoiceRef     string
	CreatedAt      time.Time
}

// BillingStatus is the outcome recorded for an invoice.
type BillingStatus string

const (
	BillingStatusPaid   BillingStatus = "paid"
	BillingStatusFailed BillingStatus = "failed"
)

// BillingHistory is an append-only row describing one invoice payment outcome.
type BillingHistory struct {
	ID              string
	OrganizationID  string
	InvoiceID       string
	PaymentIntentID string
	Amount          int64 // minor currency units
	Currency        string
	Status          BillingStatus
	Description     string
	InvoiceURL      string
	InvoicePDF      string
	CreatedAt       time.Time
}
