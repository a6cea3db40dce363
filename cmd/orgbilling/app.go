package main

import (
	"context"
	"fmt"
	"io"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/orgbilling/internal/config"
	"github.com/mihaimyh/orgbilling/pkg/billing"
	zerologadapter "github.com/mihaimyh/orgbilling/pkg/billing/logger/zerolog"
	resendnotify "github.com/mihaimyh/orgbilling/pkg/billing/notify/resend"
	billingstripe "github.com/mihaimyh/orgbilling/pkg/billing/stripe"
	"github.com/mihaimyh/orgbilling/storage/postgres"
	redisledger "github.com/mihaimyh/orgbilling/storage/redis"
)

const (
	ledgerFailureThreshold = 5
	ledgerResetTimeout     = 30 * time.Second
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from the configured level and format.
func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("component", "orgbilling").Logger()
}

func newStripeClient(cfg *config.Config, logger billing.Logger, metrics billing.Metrics) *billingstripe.Client {
	return billingstripe.NewClient(billingstripe.ClientConfig{
		SecretKey: cfg.StripeSecretKey,
		Logger:    logger,
		Metrics:   metrics,
	})
}

func openStore(ctx context.Context, cfg *config.Config) (*postgres.Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	pgConfig := postgres.DefaultConfig()
	pgConfig.ConnectionString = cfg.DatabaseURL
	pgConfig.Password = cfg.DatabasePassword
	pgConfig.CleanupEnabled = cfg.LedgerBackend == config.LedgerPostgres

	store, err := postgres.New(ctx, pgConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

// newLedger selects the processed-event ledger. The returned close function is never nil.
func newLedger(cfg *config.Config, store *postgres.Store) (billing.EventLedger, func(), error) {
	noop := func() {}

	switch cfg.LedgerBackend {
	case config.LedgerRedis:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, noop, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := goredis.NewClient(opts)
		ledger, err := redisledger.New(client, redisledger.DefaultConfig())
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return ledger, func() { _ = client.Close() }, nil
	case config.LedgerPostgres:
		if store == nil {
			return nil, noop, fmt.Errorf("postgres ledger requires a database")
		}
		return store, noop, nil
	default:
		return billing.NoopLedger{}, noop, nil
	}
}

func newNotifier(cfg *config.Config, logger billing.Logger) (billing.Notifier, error) {
	if cfg.ResendAPIKey == "" {
		logger.Warn("RESEND_API_KEY is not set, billing emails are disabled")
		return billing.NoopNotifier{}, nil
	}
	return resendnotify.New(resendnotify.Config{
		APIKey:    cfg.ResendAPIKey,
		FromEmail: cfg.EmailFrom,
		FromName:  cfg.EmailFromName,
		AppURL:    cfg.AppURL,
		Logger:    logger,
	})
}

// guardLedger puts a circuit breaker in front of a remote ledger so an outage
// costs one fast failure per delivery instead of a timeout.
func guardLedger(ledger billing.EventLedger, log zerolog.Logger) billing.EventLedger {
	if _, ok := ledger.(billing.NoopLedger); ok {
		return ledger
	}
	cb := billing.NewDefaultCircuitBreaker(ledgerFailureThreshold, ledgerResetTimeout, func(state billing.CircuitBreakerState) {
		log.Warn().Str("state", string(state)).Msg("event ledger circuit breaker changed state")
	})
	return billing.NewCircuitBreakerLedger(ledger, cb)
}

// cliClient returns a configured Stripe client for the operator commands.
func cliClient(cmd interface{ ErrOrStderr() io.Writer }) (*billingstripe.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := zerologadapter.NewLogger(newLogger(cfg, cmd.ErrOrStderr()))
	client := newStripeClient(cfg, logger, nil)
	if !client.Configured() {
		return nil, nil, fmt.Errorf("STRIPE_SECRET_KEY: %w", billing.ErrProviderNotConfigured)
	}
	return client, cfg, nil
}
