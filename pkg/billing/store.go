package billing

import "context"

// Store is the relational store holding organizations and their billing audit trail.
// Rows in the history tables are only ever inserted.
type Store interface {
	// GetOrganization returns the organization with the given id or ErrOrganizationNotFound.
	GetOrganization(ctx context.Context, orgID string) (*Organization, error)

	// GetOrganizationByCustomer returns the organization linked to a provider
	// customer id or ErrOrganizationNotFound.
	GetOrganizationByCustomer(ctx context.Context, customerID string) (*Organization, error)

	// GetOrganizationWithOwnerByCustomer resolves the organization and its owner in one read.
	// The owner is nil when the organization has no owner member.
	GetOrganizationWithOwnerByCustomer(ctx context.Context, customerID string) (*Organization, *Owner, error)

	// GetOwner returns the first member with the owner role or ErrOwnerNotFound.
	GetOwner(ctx context.Context, orgID string) (*Owner, error)

	// UpdateOrganization applies a partial update. Unknown ids return ErrOrganizationNotFound.
	UpdateOrganization(ctx context.Context, orgID string, upd OrganizationUpdate) error

	InsertSubscriptionHistory(ctx context.Context, row *SubscriptionHistory) error
	InsertBillingHistory(ctx context.Context, row *BillingHistory) error
}

// EventLedger remembers provider event ids that were processed successfully,
// so redelivered events are acknowledged without being applied twice.
type EventLedger interface {
	// Processed reports whether the event id was already marked.
	Processed(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed records the event id after its handler succeeded.
	MarkProcessed(ctx context.Context, eventID, eventType string) error
}

// NoopLedger never remembers anything. Every delivery is processed.
type NoopLedger struct{}

func (NoopLedger) Processed(_ context.Context, _ string) (bool, error) { return false, nil }
func (NoopLedger) MarkProcessed(_ context.Context, _, _ string) error  { return nil }
