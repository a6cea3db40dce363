// Package memory provides an in-memory implementation of billing.Store and billing.EventLedger.
// This implementation is primarily intended for testing and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mihaimyh/orgbilling/pkg/billing"
)

// Store implements billing.Store and billing.EventLedger using in-memory maps
type Store struct {
	mu                  sync.RWMutex
	organizations       map[string]*billing.Organization
	owners              map[string]billing.Owner
	subscriptionHistory []billing.SubscriptionHistory
	billingHistory      []billing.BillingHistory
	processed           map[string]processedEvent
}

type processedEvent struct {
	eventType   string
	processedAt time.Time
}

var (
	_ billing.Store       = (*Store)(nil)
	_ billing.EventLedger = (*Store)(nil)
)

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		organizations: make(map[string]*billing.Organization),
		owners:        make(map[string]billing.Owner),
		processed:     make(map[string]processedEvent),
	}
}

// PutOrganization creates or replaces an organization.
func (s *Store) PutOrganization(org billing.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.organizations[org.ID] = copyOrganization(&org)
}

// SetOwner registers the owner member of an organization.
func (s *Store) SetOwner(orgID string, owner billing.Owner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[orgID] = owner
}

// SubscriptionHistory returns the subscription history rows of an organization in insertion order.
func (s *Store) SubscriptionHistory(orgID string) []billing.SubscriptionHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []billing.SubscriptionHistory
	for _, row := range s.subscriptionHistory {
		if row.OrganizationID == orgID {
			rows = append(rows, row)
		}
	}
	return rows
}

// BillingHistory returns the billing history rows of an organization in insertion order.
func (s *Store) BillingHistory(orgID string) []billing.BillingHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []billing.BillingHistory
	for _, row := range s.billingHistory {
		if row.OrganizationID == orgID {
			rows = append(rows, row)
		}
	}
	return rows
}

// GetOrganization implements billing.Store
func (s *Store) GetOrganization(_ context.Context, orgID string) (*billing.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.organizations[orgID]
	if !ok {
		return nil, billing.ErrOrganizationNotFound
	}
	return copyOrganization(org), nil
}

// GetOrganizationByCustomer implements billing.Store
func (s *Store) GetOrganizationByCustomer(_ context.Context, customerID string) (*billing.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org := s.byCustomer(customerID)
	if org == nil {
		return nil, billing.ErrOrganizationNotFound
	}
	return copyOrganization(org), nil
}

// GetOrganizationWithOwnerByCustomer implements billing.Store
func (s *Store) GetOrganizationWithOwnerByCustomer(_ context.Context, customerID string) (*billing.Organization, *billing.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org := s.byCustomer(customerID)
	if org == nil {
		return nil, nil, billing.ErrOrganizationNotFound
	}

	var owner *billing.Owner
	if o, ok := s.owners[org.ID]; ok {
		owner = &o
	}
	return copyOrganization(org), owner, nil
}

// GetOwner implements billing.Store
func (s *Store) GetOwner(_ context.Context, orgID string) (*billing.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner, ok := s.owners[orgID]
	if !ok {
		return nil, billing.ErrOwnerNotFound
	}
	return &owner, nil
}

// UpdateOrganization implements billing.Store
func (s *Store) UpdateOrganization(_ context.Context, orgID string, upd billing.OrganizationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.organizations[orgID]
	if !ok {
		return billing.ErrOrganizationNotFound
	}
	upd.Apply(org)
	return nil
}

// InsertSubscriptionHistory implements billing.Store
func (s *Store) InsertSubscriptionHistory(_ context.Context, row *billing.SubscriptionHistory) error {
	if row == nil || row.OrganizationID == "" {
		return fmt.Errorf("invalid subscription history row")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptionHistory = append(s.subscriptionHistory, *row)
	return nil
}

// InsertBillingHistory implements billing.Store
func (s *Store) InsertBillingHistory(_ context.Context, row *billing.BillingHistory) error {
	if row == nil || row.OrganizationID == "" {
		return fmt.Errorf("invalid billing history row")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.billingHistory = append(s.billingHistory, *row)
	return nil
}

// Processed implements billing.EventLedger
func (s *Store) Processed(_ context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processed[eventID]
	return ok, nil
}

// MarkProcessed implements billing.EventLedger
func (s *Store) MarkProcessed(_ context.Context, eventID, eventType string) error {
	if eventID == "" {
		return fmt.Errorf("event id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[eventID]; !ok {
		s.processed[eventID] = processedEvent{eventType: eventType, processedAt: time.Now().UTC()}
	}
	return nil
}

// byCustomer must be called with the lock held. Ties resolve to the lowest organization id.
func (s *Store) byCustomer(customerID string) *billing.Organization {
	if customerID == "" {
		return nil
	}
	ids := make([]string, 0, len(s.organizations))
	for id, org := range s.organizations {
		if org.CustomerID == customerID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	return s.organizations[ids[0]]
}

func copyOrganization(org *billing.Organization) *billing.Organization {
	c := *org
	if org.CurrentPeriodEnd != nil {
		t := *org.CurrentPeriodEnd
		c.CurrentPeriodEnd = &t
	}
	return &c
}
