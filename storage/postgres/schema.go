package postgres

// schema creates the tables the billing store reads and writes. Every statement
// is idempotent so Migrate can run on each deploy.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id    TEXT PRIMARY KEY,
		email      TEXT,
		full_name  TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS organizations (
		organization_id        TEXT PRIMARY KEY,
		name                   TEXT NOT NULL DEFAULT '',
		stripe_customer_id     TEXT,
		stripe_subscription_id TEXT,
		stripe_price_id        TEXT,
		subscription_plan      TEXT NOT NULL DEFAULT 'free'
			CHECK (subscription_plan IN ('free', 'basic', 'pro', 'enterprise')),
		subscription_status    TEXT NOT NULL DEFAULT 'trial'
			CHECK (subscription_status IN ('trial', 'active', 'past_due', 'suspended', 'cancelled')),
		current_period_end     TIMESTAMPTZ,
		cancel_at_period_end   BOOLEAN NOT NULL DEFAULT false,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS organizations_stripe_customer_idx
		ON organizations (stripe_customer_id)`,
	`CREATE TABLE IF NOT EXISTS organization_members (
		organization_id TEXT NOT NULL REFERENCES organizations (organization_id) ON DELETE CASCADE,
		user_id         TEXT NOT NULL REFERENCES users (user_id) ON DELETE CASCADE,
		role            TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (organization_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS subscription_history (
		id                TEXT PRIMARY KEY,
		organization_id   TEXT NOT NULL REFERENCES organizations (organization_id) ON DELETE CASCADE,
		previous_plan     TEXT NOT NULL,
		new_plan          TEXT NOT NULL,
		previous_status   TEXT NOT NULL,
		new_status        TEXT NOT NULL,
		stripe_invoice_id TEXT,
		change_reason     TEXT NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS billing_history (
		id                       TEXT PRIMARY KEY,
		organization_id          TEXT NOT NULL REFERENCES organizations (organization_id) ON DELETE CASCADE,
		stripe_invoice_id        TEXT NOT NULL,
		stripe_payment_intent_id TEXT,
		amount_paid              BIGINT NOT NULL,
		currency                 TEXT NOT NULL,
		status                   TEXT NOT NULL CHECK (status IN ('paid', 'failed')),
		description              TEXT NOT NULL,
		invoice_url              TEXT,
		invoice_pdf              TEXT,
		created_at               TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS processed_events (
		event_id     TEXT PRIMARY KEY,
		event_type   TEXT NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}
