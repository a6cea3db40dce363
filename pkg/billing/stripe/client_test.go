package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/orgbilling/pkg/billing"
)

type apiCall struct {
	method string
	path   string
	form   url.Values
}

// fakeStripe is a minimal Stripe API double. Routes are keyed by "METHOD /path".
type fakeStripe struct {
	mu     sync.Mutex
	calls  []apiCall
	routes map[string]interface{}
}

func (f *fakeStripe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	f.calls = append(f.calls, apiCall{method: r.Method, path: r.URL.Path, form: r.Form})
	body, ok := f.routes[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such resource"}}`))
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeStripe) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeStripe) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeStripe) called(method, path string) (apiCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.method == method && c.path == path {
			return c, true
		}
	}
	return apiCall{}, false
}

type apiMetrics struct {
	billing.NoopMetrics
	mu    sync.Mutex
	calls map[string]string
}

func (m *apiMetrics) RecordAPICall(endpoint, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = map[string]string{}
	}
	m.calls[endpoint] = status
}

func newFakeStripeClient(t *testing.T, routes map[string]interface{}) (*Client, *fakeStripe, *apiMetrics) {
	t.Helper()
	fake := &fakeStripe{routes: routes}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	metrics := &apiMetrics{}
	client := NewClient(ClientConfig{
		SecretKey: testSecretKey,
		Backends: stripe.NewBackendsWithConfig(&stripe.BackendConfig{
			URL:               stripe.String(srv.URL),
			HTTPClient:        srv.Client(),
			MaxNetworkRetries: stripe.Int64(0),
		}),
		Metrics: metrics,
	})
	return client, fake, metrics
}

func listOf(objects ...interface{}) map[string]interface{} {
	if objects == nil {
		objects = []interface{}{}
	}
	return map[string]interface{}{
		"object":   "list",
		"data":     objects,
		"has_more": false,
		"url":      "/v1/customers",
	}
}

func TestClient_Unconfigured(t *testing.T) {
	client := NewClient(ClientConfig{SecretKey: "   "})
	ctx := context.Background()

	assert.False(t, client.Configured())

	_, err := client.GetOrCreateCustomer(ctx, "a@example.com", "A", nil)
	assert.True(t, errors.Is(err, billing.ErrProviderNotConfigured))
	_, err = client.CreateCustomer(ctx, "a@example.com", "A", nil)
	assert.True(t, errors.Is(err, billing.ErrProviderNotConfigured))
	_, err = client.CreateCheckoutSession(ctx, CheckoutParams{})
	assert.True(t, errors.Is(err, billing.ErrProviderNotConfigured))
	_, err = client.CreateBillingPortalSession(ctx, "cus_1", "https://app.test")
	assert.True(t, errors.Is(err, billing.ErrProviderNotConfigured))
	_, err = client.CancelSubscription(ctx, "sub_1", true)
	assert.True(t, errors.Is(err, billing.ErrProviderNotConfigured))
	_, err = client.ResumeSubscription(ctx, "sub_1")
	assert.True(t, errors.Is(err, billing.ErrProviderNotConfigured))
	_, err = client.UpdateSubscriptionPlan(ctx, "sub_1", testProMonthly)
	assert.True(t, errors.Is(err, billing.ErrProviderNotConfigured))
	assert.Nil(t, client.GetSubscription(ctx, "sub_1"))
}

func TestClient_GetOrCreateCustomer_ReusesExisting(t *testing.T) {
	client, fake, metrics := newFakeStripeClient(t, map[string]interface{}{
		"GET /v1/customers": listOf(map[string]interface{}{"id": "cus_existing", "object": "customer"}),
	})

	id, err := client.GetOrCreateCustomer(context.Background(), "owner@acme.test", "Acme", nil)
	require.NoError(t, err)
	assert.Equal(t, "cus_existing", id)

	call, ok := fake.called(http.MethodGet, "/v1/customers")
	require.True(t, ok)
	assert.Equal(t, "owner@acme.test", call.form.Get("email"))
	assert.Equal(t, "1", call.form.Get("limit"))

	_, created := fake.called(http.MethodPost, "/v1/customers")
	assert.False(t, created)
	assert.Equal(t, "success", metrics.calls["/customers/list"])
}

func TestClient_GetOrCreateCustomer_CreatesWhenMissing(t *testing.T) {
	client, fake, _ := newFakeStripeClient(t, map[string]interface{}{
		"GET /v1/customers":  listOf(),
		"POST /v1/customers": map[string]interface{}{"id": "cus_new", "object": "customer"},
	})

	id, err := client.GetOrCreateCustomer(context.Background(), "owner@acme.test", "Acme",
		map[string]string{"organization_id": "org_1"})
	require.NoError(t, err)
	assert.Equal(t, "cus_new", id)

	call, ok := fake.called(http.MethodPost, "/v1/customers")
	require.True(t, ok)
	assert.Equal(t, "owner@acme.test", call.form.Get("email"))
	assert.Equal(t, "Acme", call.form.Get("name"))
	assert.Equal(t, "org_1", call.form.Get("metadata[organization_id]"))
}

func TestClient_CreateCheckoutSession(t *testing.T) {
	client, fake, _ := newFakeStripeClient(t, map[string]interface{}{
		"POST /v1/checkout/sessions": map[string]interface{}{
			"id":     "cs_1",
			"object": "checkout.session",
			"url":    "https://checkout.stripe.com/c/pay/cs_1",
		},
	})

	session, err := client.CreateCheckoutSession(context.Background(), CheckoutParams{
		CustomerID:     "cus_1",
		PriceID:        testProMonthly,
		OrganizationID: "org_1",
		SuccessURL:     "https://app.test/billing?success=1",
		CancelURL:      "https://app.test/billing",
		TrialDays:      14,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_1", session.URL)

	call, ok := fake.called(http.MethodPost, "/v1/checkout/sessions")
	require.True(t, ok)
	assert.Equal(t, "subscription", call.form.Get("mode"))
	assert.Equal(t, "cus_1", call.form.Get("customer"))
	assert.Equal(t, "card", call.form.Get("payment_method_types[0]"))
	assert.Equal(t, testProMonthly, call.form.Get("line_items[0][price]"))
	assert.Equal(t, "1", call.form.Get("line_items[0][quantity]"))
	assert.Equal(t, "org_1", call.form.Get("metadata[organization_id]"))
	assert.Equal(t, "org_1", call.form.Get("subscription_data[metadata][organization_id]"))
	assert.Equal(t, "14", call.form.Get("subscription_data[trial_period_days]"))
	assert.Equal(t, "true", call.form.Get("allow_promotion_codes"))
}

func TestClient_CreateCheckoutSession_Validation(t *testing.T) {
	client, fake, _ := newFakeStripeClient(t, nil)

	_, err := client.CreateCheckoutSession(context.Background(), CheckoutParams{CustomerID: "cus_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price id")
	assert.Zero(t, fake.count())
}

func TestClient_CreateBillingPortalSession(t *testing.T) {
	client, fake, _ := newFakeStripeClient(t, map[string]interface{}{
		"POST /v1/billing_portal/sessions": map[string]interface{}{
			"id":     "bps_1",
			"object": "billing_portal.session",
			"url":    "https://billing.stripe.com/p/session/bps_1",
		},
	})

	session, err := client.CreateBillingPortalSession(context.Background(), "cus_1", "https://app.test/settings")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.com/p/session/bps_1", session.URL)

	call, _ := fake.called(http.MethodPost, "/v1/billing_portal/sessions")
	assert.Equal(t, "https://app.test/settings", call.form.Get("return_url"))
}

func TestClient_CancelAndResumeSubscription(t *testing.T) {
	subscription := map[string]interface{}{"id": "sub_1", "object": "subscription", "status": "active"}
	client, fake, _ := newFakeStripeClient(t, map[string]interface{}{
		"DELETE /v1/subscriptions/sub_1": subscription,
		"POST /v1/subscriptions/sub_1":   subscription,
	})
	ctx := context.Background()

	_, err := client.CancelSubscription(ctx, "sub_1", true)
	require.NoError(t, err)
	_, ok := fake.called(http.MethodDelete, "/v1/subscriptions/sub_1")
	assert.True(t, ok)

	_, err = client.CancelSubscription(ctx, "sub_1", false)
	require.NoError(t, err)
	call, _ := fake.called(http.MethodPost, "/v1/subscriptions/sub_1")
	assert.Equal(t, "true", call.form.Get("cancel_at_period_end"))

	fake.reset()
	_, err = client.ResumeSubscription(ctx, "sub_1")
	require.NoError(t, err)
	call, _ = fake.called(http.MethodPost, "/v1/subscriptions/sub_1")
	assert.Equal(t, "false", call.form.Get("cancel_at_period_end"))
}

func TestClient_UpdateSubscriptionPlan(t *testing.T) {
	client, fake, _ := newFakeStripeClient(t, map[string]interface{}{
		"GET /v1/subscriptions/sub_1": map[string]interface{}{
			"id":     "sub_1",
			"object": "subscription",
			"items": map[string]interface{}{
				"object": "list",
				"data": []interface{}{
					map[string]interface{}{"id": "si_1", "object": "subscription_item"},
				},
			},
		},
		"POST /v1/subscriptions/sub_1": map[string]interface{}{"id": "sub_1", "object": "subscription"},
	})

	_, err := client.UpdateSubscriptionPlan(context.Background(), "sub_1", testEnterpriseMonthly)
	require.NoError(t, err)

	call, ok := fake.called(http.MethodPost, "/v1/subscriptions/sub_1")
	require.True(t, ok)
	assert.Equal(t, "si_1", call.form.Get("items[0][id]"))
	assert.Equal(t, testEnterpriseMonthly, call.form.Get("items[0][price]"))
	assert.Equal(t, "create_prorations", call.form.Get("proration_behavior"))
}

func TestClient_UpdateSubscriptionPlan_NoItems(t *testing.T) {
	client, fake, _ := newFakeStripeClient(t, map[string]interface{}{
		"GET /v1/subscriptions/sub_1": map[string]interface{}{"id": "sub_1", "object": "subscription"},
	})

	_, err := client.UpdateSubscriptionPlan(context.Background(), "sub_1", testEnterpriseMonthly)
	assert.True(t, errors.Is(err, billing.ErrSubscriptionHasNoItems))

	_, updated := fake.called(http.MethodPost, "/v1/subscriptions/sub_1")
	assert.False(t, updated)
}

func TestClient_GetSubscription(t *testing.T) {
	client, _, metrics := newFakeStripeClient(t, map[string]interface{}{
		"GET /v1/subscriptions/sub_1": map[string]interface{}{
			"id":     "sub_1",
			"object": "subscription",
			"status": "trialing",
			"items": map[string]interface{}{
				"object": "list",
				"data": []interface{}{
					map[string]interface{}{
						"id":                 "si_1",
						"object":             "subscription_item",
						"price":              map[string]interface{}{"id": testBasicMonthly, "object": "price"},
						"current_period_end": time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Unix(),
					},
				},
			},
		},
	})
	ctx := context.Background()

	sub := client.GetSubscription(ctx, "sub_1")
	require.NotNil(t, sub)
	priceID, status, periodEnd := summarizeSubscription(sub)
	assert.Equal(t, testBasicMonthly, priceID)
	assert.Equal(t, "trialing", status)
	require.NotNil(t, periodEnd)
	assert.Equal(t, 2026, periodEnd.Year())

	assert.Nil(t, client.GetSubscription(ctx, "sub_missing"))
	assert.Equal(t, "error", metrics.calls["/subscriptions/retrieve"])
}
