// Package postgres provides a PostgreSQL implementation of billing.Store and billing.EventLedger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/orgbilling/pkg/billing"
)

// Store implements billing.Store and billing.EventLedger using PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	config Config

	// stopCleanup cancels the background ledger pruning goroutine
	stopCleanup func()
}

var (
	_ billing.Store       = (*Store)(nil)
	_ billing.EventLedger = (*Store)(nil)
)

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Password overrides the password of ConnectionString, for deployments
	// that hand out the privileged database key separately.
	Password string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// Processed-event pruning
	CleanupEnabled  bool
	CleanupInterval time.Duration
	EventRetention  time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		CleanupEnabled:  true,
		CleanupInterval: time.Hour,
		EventRetention:  30 * 24 * time.Hour,
	}
}

// New creates a new PostgreSQL store
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.Password != "" {
		poolConfig.ConnConfig.Password = config.Password
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())
	s := &Store{
		pool:        pool,
		config:      config,
		stopCleanup: cancel,
	}

	if config.CleanupEnabled && config.CleanupInterval > 0 && config.EventRetention > 0 {
		go s.startCleanup(cleanupCtx)
	}

	return s, nil
}

// Close closes the connection pool and stops background pruning
func (s *Store) Close() {
	if s.stopCleanup != nil {
		s.stopCleanup()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the billing tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range schema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return tx.Commit(ctx)
}

const organizationColumns = `o.organization_id, o.name, o.stripe_customer_id, o.stripe_subscription_id,
	o.stripe_price_id, o.subscription_plan, o.subscription_status, o.current_period_end,
	o.cancel_at_period_end`

// GetOrganization implements billing.Store
func (s *Store) GetOrganization(ctx context.Context, orgID string) (*billing.Organization, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+organizationColumns+` FROM organizations o WHERE o.organization_id = $1`, orgID)

	org, err := scanOrganization(row)
	if err != nil {
		return nil, err
	}
	return org, nil
}

// GetOrganizationByCustomer implements billing.Store
func (s *Store) GetOrganizationByCustomer(ctx context.Context, customerID string) (*billing.Organization, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+organizationColumns+` FROM organizations o
			WHERE o.stripe_customer_id = $1
			ORDER BY o.organization_id LIMIT 1`, customerID)

	return scanOrganization(row)
}

// GetOrganizationWithOwnerByCustomer implements billing.Store. The owner join
// is a left join so organizations without an owner member still resolve.
func (s *Store) GetOrganizationWithOwnerByCustomer(ctx context.Context, customerID string) (*billing.Organization, *billing.Owner, error) {
	var (
		org                      billing.Organization
		customer, sub, price     *string
		ownerID, email, fullName *string
	)

	err := s.pool.QueryRow(ctx,
		`SELECT `+organizationColumns+`, u.user_id, u.email, u.full_name
			FROM organizations o
			LEFT JOIN LATERAL (
				SELECT m.user_id FROM organization_members m
				WHERE m.organization_id = o.organization_id AND m.role = 'owner'
				ORDER BY m.created_at LIMIT 1
			) owner ON true
			LEFT JOIN users u ON u.user_id = owner.user_id
			WHERE o.stripe_customer_id = $1
			ORDER BY o.organization_id LIMIT 1`, customerID).Scan(
		&org.ID, &org.Name, &customer, &sub, &price,
		&org.Plan, &org.Status, &org.CurrentPeriodEnd, &org.CancelAtPeriodEnd,
		&ownerID, &email, &fullName,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, billing.ErrOrganizationNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get organization: %w", err)
	}
	org.CustomerID, org.SubscriptionID, org.PriceID = deref(customer), deref(sub), deref(price)

	var owner *billing.Owner
	if ownerID != nil {
		owner = &billing.Owner{UserID: *ownerID, Email: deref(email), FullName: deref(fullName)}
	}
	return &org, owner, nil
}

// GetOwner implements billing.Store
func (s *Store) GetOwner(ctx context.Context, orgID string) (*billing.Owner, error) {
	var (
		owner           billing.Owner
		email, fullName *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT u.user_id, u.email, u.full_name
			FROM organization_members m
			JOIN users u ON u.user_id = m.user_id
			WHERE m.organization_id = $1 AND m.role = 'owner'
			ORDER BY m.created_at LIMIT 1`, orgID).Scan(&owner.UserID, &email, &fullName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrOwnerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get owner: %w", err)
	}
	owner.Email, owner.FullName = deref(email), deref(fullName)
	return &owner, nil
}

// UpdateOrganization implements billing.Store
func (s *Store) UpdateOrganization(ctx context.Context, orgID string, upd billing.OrganizationUpdate) error {
	sets, args := updateClauses(upd)
	args = append(args, orgID)

	query := fmt.Sprintf(`UPDATE organizations SET %s WHERE organization_id = $%d`,
		strings.Join(sets, ", "), len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrOrganizationNotFound
	}
	return nil
}

// updateClauses renders the SET list of an update. updated_at is always touched.
func updateClauses(upd billing.OrganizationUpdate) ([]string, []interface{}) {
	var (
		sets []string
		args []interface{}
	)
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.CustomerID != nil {
		set("stripe_customer_id", nullIfEmpty(*upd.CustomerID))
	}
	if upd.ClearSubscription {
		sets = append(sets, "stripe_subscription_id = NULL", "stripe_price_id = NULL")
	} else {
		if upd.SubscriptionID != nil {
			set("stripe_subscription_id", nullIfEmpty(*upd.SubscriptionID))
		}
		if upd.PriceID != nil {
			set("stripe_price_id", nullIfEmpty(*upd.PriceID))
		}
	}
	if upd.Plan != nil {
		set("subscription_plan", string(*upd.Plan))
	}
	if upd.Status != nil {
		set("subscription_status", string(*upd.Status))
	}
	if upd.CurrentPeriodEnd != nil {
		set("current_period_end", upd.CurrentPeriodEnd.UTC())
	}
	if upd.CancelAtPeriodEnd != nil {
		set("cancel_at_period_end", *upd.CancelAtPeriodEnd)
	}
	sets = append(sets, "updated_at = now()")
	return sets, args
}

// InsertSubscriptionHistory implements billing.Store
func (s *Store) InsertSubscriptionHistory(ctx context.Context, row *billing.SubscriptionHistory) error {
	if row == nil || row.OrganizationID == "" {
		return fmt.Errorf("invalid subscription history row")
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscription_history
			(id, organization_id, previous_plan, new_plan, previous_status, new_status,
			 stripe_invoice_id, change_reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		row.ID, row.OrganizationID, string(row.PreviousPlan), string(row.NewPlan),
		string(row.PreviousStatus), string(row.NewStatus),
		nullIfEmpty(row.InvoiceRef), row.ChangeReason, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert subscription history: %w", err)
	}
	return nil
}

// InsertBillingHistory implements billing.Store
func (s *Store) InsertBillingHistory(ctx context.Context, row *billing.BillingHistory) error {
	if row == nil || row.OrganizationID == "" {
		return fmt.Errorf("invalid billing history row")
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_history
			(id, organization_id, stripe_invoice_id, stripe_payment_intent_id, amount_paid,
			 currency, status, description, invoice_url, invoice_pdf, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		row.ID, row.OrganizationID, row.InvoiceID, nullIfEmpty(row.PaymentIntentID), row.Amount,
		row.Currency, string(row.Status), row.Description,
		nullIfEmpty(row.InvoiceURL), nullIfEmpty(row.InvoicePDF), row.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert billing history: %w", err)
	}
	return nil
}

// Processed implements billing.EventLedger
func (s *Store) Processed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return exists, nil
}

// MarkProcessed implements billing.EventLedger
func (s *Store) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	if eventID == "" {
		return fmt.Errorf("event id is required")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2)
			ON CONFLICT (event_id) DO NOTHING`, eventID, eventType)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// PruneProcessedEvents deletes ledger entries older than before.
func (s *Store) PruneProcessedEvents(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.PruneProcessedEvents(ctx, time.Now().Add(-s.config.EventRetention))
		}
	}
}

func scanOrganization(row pgx.Row) (*billing.Organization, error) {
	var (
		org                  billing.Organization
		customer, sub, price *string
	)
	err := row.Scan(&org.ID, &org.Name, &customer, &sub, &price,
		&org.Plan, &org.Status, &org.CurrentPeriodEnd, &org.CancelAtPeriodEnd)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	org.CustomerID, org.SubscriptionID, org.PriceID = deref(customer), deref(sub), deref(price)
	return &org, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
