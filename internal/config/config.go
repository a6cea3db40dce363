// Package config loads the orgbilling runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/orgbilling/pkg/billing"
)

// LedgerBackend selects where processed webhook event ids are remembered.
type LedgerBackend string

const (
	LedgerNone     LedgerBackend = "none"
	LedgerRedis    LedgerBackend = "redis"
	LedgerPostgres LedgerBackend = "postgres"
)

// Config is the runtime configuration of the orgbilling binary.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	StripeSecretKey     string
	StripeWebhookSecret string

	DatabaseURL      string
	DatabasePassword string
	RedisURL         string
	LedgerBackend    LedgerBackend

	ResendAPIKey  string
	EmailFrom     string
	EmailFromName string
	AppURL        string

	WebhookRateLimit int
	MetricsNamespace string

	// Prices holds the catalog price ids keyed by environment variable name.
	Prices map[string]string
}

type priceVar struct {
	plan     billing.Plan
	interval billing.Interval
	mode     billing.Mode
}

// priceVars maps the catalog environment variables to the price they configure.
var priceVars = map[string]priceVar{
	"STRIPE_PRICE_BASIC_MONTHLY":           {billing.PlanBasic, billing.IntervalMonthly, billing.ModeLive},
	"STRIPE_PRICE_BASIC_YEARLY":            {billing.PlanBasic, billing.IntervalYearly, billing.ModeLive},
	"STRIPE_PRICE_PRO_MONTHLY":             {billing.PlanPro, billing.IntervalMonthly, billing.ModeLive},
	"STRIPE_PRICE_PRO_YEARLY":              {billing.PlanPro, billing.IntervalYearly, billing.ModeLive},
	"STRIPE_PRICE_ENTERPRISE_MONTHLY":      {billing.PlanEnterprise, billing.IntervalMonthly, billing.ModeLive},
	"STRIPE_PRICE_ENTERPRISE_YEARLY":       {billing.PlanEnterprise, billing.IntervalYearly, billing.ModeLive},
	"STRIPE_PRICE_BASIC_MONTHLY_TEST":      {billing.PlanBasic, billing.IntervalMonthly, billing.ModeTest},
	"STRIPE_PRICE_BASIC_YEARLY_TEST":       {billing.PlanBasic, billing.IntervalYearly, billing.ModeTest},
	"STRIPE_PRICE_PRO_MONTHLY_TEST":        {billing.PlanPro, billing.IntervalMonthly, billing.ModeTest},
	"STRIPE_PRICE_PRO_YEARLY_TEST":         {billing.PlanPro, billing.IntervalYearly, billing.ModeTest},
	"STRIPE_PRICE_ENTERPRISE_MONTHLY_TEST": {billing.PlanEnterprise, billing.IntervalMonthly, billing.ModeTest},
	"STRIPE_PRICE_ENTERPRISE_YEARLY_TEST":  {billing.PlanEnterprise, billing.IntervalYearly, billing.ModeTest},
}

// Load reads optional dotenv files (".env" when none are given) and then the
// process environment. Variables already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, path := range envFiles {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	cfg := &Config{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(getEnv("LOG_FORMAT", "json")),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabasePassword:    getEnv("DATABASE_PASSWORD", ""),
		RedisURL:            getEnv("REDIS_URL", ""),
		LedgerBackend:       LedgerBackend(strings.ToLower(getEnv("LEDGER_BACKEND", string(LedgerNone)))),
		ResendAPIKey:        getEnv("RESEND_API_KEY", ""),
		EmailFrom:           getEnv("EMAIL_FROM", ""),
		EmailFromName:       getEnv("EMAIL_FROM_NAME", ""),
		AppURL:              getEnv("APP_URL", ""),
		MetricsNamespace:    getEnv("METRICS_NAMESPACE", "orgbilling"),
		Prices:              make(map[string]string),
	}

	limit, err := strconv.Atoi(getEnv("WEBHOOK_RATE_LIMIT", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_RATE_LIMIT: %w", err)
	}
	cfg.WebhookRateLimit = limit

	for name := range priceVars {
		if v := getEnv(name, ""); v != "" {
			cfg.Prices[name] = v
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values and combinations of settings.
func (c *Config) Validate() error {
	var errs []error

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("invalid LOG_FORMAT %q (want json or console)", c.LogFormat))
	}
	if c.WebhookRateLimit < 0 {
		errs = append(errs, fmt.Errorf("WEBHOOK_RATE_LIMIT must not be negative"))
	}

	switch c.LedgerBackend {
	case LedgerNone:
	case LedgerRedis:
		if c.RedisURL == "" {
			errs = append(errs, fmt.Errorf("LEDGER_BACKEND=redis requires REDIS_URL"))
		}
	case LedgerPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("LEDGER_BACKEND=postgres requires DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid LEDGER_BACKEND %q (want none, redis or postgres)", c.LedgerBackend))
	}

	if c.ResendAPIKey != "" && c.EmailFrom == "" {
		errs = append(errs, fmt.Errorf("RESEND_API_KEY requires EMAIL_FROM"))
	}
	if c.StripeSecretKey != "" &&
		!strings.HasPrefix(c.StripeSecretKey, "sk_") && !strings.HasPrefix(c.StripeSecretKey, "rk_") {
		errs = append(errs, fmt.Errorf("STRIPE_SECRET_KEY must be a secret or restricted key"))
	}

	return errors.Join(errs...)
}

// Mode returns the catalog mode matching the configured secret key.
func (c *Config) Mode() billing.Mode {
	return billing.ModeForSecretKey(c.StripeSecretKey)
}

// Catalog builds the price catalog from the configured price variables. With
// no price variables set the launch catalog is used.
func (c *Config) Catalog() *billing.Catalog {
	if len(c.Prices) == 0 {
		return billing.DefaultCatalog()
	}

	entries := make([]billing.CatalogEntry, 0, len(c.Prices))
	for name, priceID := range c.Prices {
		v, ok := priceVars[name]
		if !ok {
			continue
		}
		entries = append(entries, billing.CatalogEntry{
			PriceID:  priceID,
			Plan:     v.plan,
			Interval: v.interval,
			Mode:     v.mode,
		})
	}
	return billing.NewCatalog(entries, billing.DefaultFragments())
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return fallback
}
