package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/orgbilling/pkg/billing"
)

const (
	defaultHTTPTimeout = 10 * time.Second
)

// ClientConfig configures the Stripe client adapter.
type ClientConfig struct {
	// SecretKey is the Stripe secret API key. When empty the client is
	// constructed in the unconfigured state.
	SecretKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Backends overrides the SDK backends (proxies, test servers).
	// When set, HTTPClient is ignored.
	Backends *stripe.Backends

	// Metrics is an optional metrics collector. If nil, metrics are ignored.
	Metrics billing.Metrics

	// Logger is an optional structured logger. If nil, logs are dropped.
	Logger billing.Logger
}

// Client wraps the Stripe SDK calls the application needs. A Client built
// without a secret key is unconfigured: every operation returns
// billing.ErrProviderNotConfigured.
type Client struct {
	api     *stripe.Client
	metrics billing.Metrics
	logger  billing.Logger
}

// NewClient creates a Stripe client adapter.
func NewClient(config ClientConfig) *Client {
	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}

	c := &Client{
		metrics: metrics,
		logger:  logger,
	}

	apiKey := strings.TrimSpace(config.SecretKey)
	if apiKey == "" {
		logger.Warn("stripe secret key is not set, billing provider calls are disabled")
		return c
	}

	backends := config.Backends
	if backends == nil {
		httpClient := config.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: defaultHTTPTimeout}
		}
		backends = stripe.NewBackendsWithConfig(&stripe.BackendConfig{
			HTTPClient: httpClient,
		})
	}

	c.api = stripe.NewClient(apiKey, stripe.WithBackends(backends))
	return c
}

// Configured reports whether the client holds a provider credential.
func (c *Client) Configured() bool {
	return c != nil && c.api != nil
}

func (c *Client) ensureConfigured() error {
	if !c.Configured() {
		return billing.ErrProviderNotConfigured
	}
	return nil
}

// observe records the outcome and latency of one provider call.
func (c *Client) observe(endpoint string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordAPICall(endpoint, status)
	c.metrics.RecordAPICallDuration(endpoint, time.Since(start))
}
