package stripe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/orgbilling/pkg/billing"
	"github.com/mihaimyh/orgbilling/storage/memory"
)

const (
	testWebhookSecret = "whsec_test_secret"
	testSecretKey     = "sk_test_123"

	testBasicMonthly      = "price_1Sjvyj86MNjhkH0aYaxu1M8A"
	testProMonthly        = "price_1Sjvyl86MNjhkH0aJSPO6Zkl"
	testEnterpriseMonthly = "price_1Sjvyn86MNjhkH0aKIvNQwrA"
	foreignPrice          = "price_other_product_monthly"
)

type sentNotification struct {
	to   string
	tmpl billing.TemplateType
	data billing.TemplateData
}

type captureNotifier struct {
	mu    sync.Mutex
	calls []sentNotification
	err   error
}

func (n *captureNotifier) Send(_ context.Context, to string, tmpl billing.TemplateType, data billing.TemplateData) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, sentNotification{to: to, tmpl: tmpl, data: data})
	return n.err
}

func (n *captureNotifier) sent() []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentNotification(nil), n.calls...)
}

type fakeFetcher struct {
	mu    sync.Mutex
	subs  map[string]*stripe.Subscription
	calls int
}

func (f *fakeFetcher) GetSubscription(_ context.Context, id string) *stripe.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.subs[id]
}

type recordingMetrics struct {
	billing.NoopMetrics
	mu       sync.Mutex
	outcomes []string
	errors   []string
}

func (m *recordingMetrics) RecordWebhookEvent(_ string, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) RecordWebhookError(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, errorType)
}

// failingLedger reports every lookup and mark as failed.
type failingLedger struct{}

func (failingLedger) Processed(context.Context, string) (bool, error) {
	return false, errors.New("ledger unavailable")
}

func (failingLedger) MarkProcessed(context.Context, string, string) error {
	return errors.New("ledger unavailable")
}

func stripeSubscription(id, status, priceID string, periodEnd int64) *stripe.Subscription {
	return &stripe.Subscription{
		ID:     id,
		Status: stripe.SubscriptionStatus(status),
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{
					ID:               "si_" + id,
					Price:            &stripe.Price{ID: priceID},
					CurrentPeriodEnd: periodEnd,
				},
			},
		},
	}
}

func eventPayload(t *testing.T, id, eventType string, object map[string]interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"created":     time.Now().Unix(),
		"livemode":    false,
		"data":        map[string]interface{}{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload
}

func checkoutObject(customerID, subscriptionID, orgID string) map[string]interface{} {
	metadata := map[string]string{}
	if orgID != "" {
		metadata["organization_id"] = orgID
	}
	return map[string]interface{}{
		"id":           "cs_test_1",
		"object":       "checkout.session",
		"mode":         "subscription",
		"customer":     customerID,
		"subscription": subscriptionID,
		"metadata":     metadata,
	}
}

func subscriptionObject(id, customerID, status, priceID string, cancelAtPeriodEnd bool) map[string]interface{} {
	return map[string]interface{}{
		"id":                   id,
		"object":               "subscription",
		"customer":             customerID,
		"status":               status,
		"cancel_at_period_end": cancelAtPeriodEnd,
		"items": map[string]interface{}{
			"object": "list",
			"data": []interface{}{
				map[string]interface{}{
					"id":                 "si_" + id,
					"object":             "subscription_item",
					"price":              map[string]interface{}{"id": priceID, "object": "price"},
					"current_period_end": int64(1767225600),
				},
			},
		},
	}
}

func invoiceObject(id, customerID, priceID string) map[string]interface{} {
	return map[string]interface{}{
		"id":                 id,
		"object":             "invoice",
		"customer":           customerID,
		"amount_paid":        int64(2900),
		"amount_due":         int64(2900),
		"currency":           "usd",
		"hosted_invoice_url": "https://invoice.stripe.com/i/" + id,
		"invoice_pdf":        "https://pay.stripe.com/invoice/" + id + "/pdf",
		"payment_intent":     "pi_" + id,
		"lines": map[string]interface{}{
			"object": "list",
			"data": []interface{}{
				map[string]interface{}{
					"id":          "il_" + id,
					"description": "1 × Pro (at $29.00 / month)",
					"pricing": map[string]interface{}{
						"price_details": map[string]interface{}{"price": priceID},
					},
				},
			},
		},
	}
}

func signedRequest(t *testing.T, payload []byte, secret string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set(SignatureHeader, signed.Header)
	return req
}

// harness wires a real Client, Reconciler and WebhookHandler over the memory store.
type harness struct {
	store    *memory.Store
	notifier *captureNotifier
	fetcher  *fakeFetcher
	metrics  *recordingMetrics
	handler  http.Handler
}

func newHarness(t *testing.T, configure ...func(*harness, *WebhookConfig)) *harness {
	t.Helper()

	h := &harness{
		store:    memory.New(),
		notifier: &captureNotifier{},
		fetcher:  &fakeFetcher{subs: map[string]*stripe.Subscription{}},
		metrics:  &recordingMetrics{},
	}

	reconciler, err := NewReconciler(ReconcilerConfig{
		Store:         h.store,
		Subscriptions: h.fetcher,
		Notifier:      h.notifier,
		Metrics:       h.metrics,
	})
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}

	config := WebhookConfig{
		Verifier:      NewClient(ClientConfig{SecretKey: testSecretKey}),
		WebhookSecret: testWebhookSecret,
		Handlers:      reconciler,
		Metrics:       h.metrics,
	}
	for _, fn := range configure {
		fn(h, &config)
	}

	h.handler, err = NewWebhookHandler(config)
	if err != nil {
		t.Fatalf("NewWebhookHandler: %v", err)
	}
	return h
}

func (h *harness) deliver(t *testing.T, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, signedRequest(t, payload, testWebhookSecret))
	return rec
}

func (h *harness) organization(t *testing.T, orgID string) *billing.Organization {
	t.Helper()
	org, err := h.store.GetOrganization(context.Background(), orgID)
	if err != nil {
		t.Fatalf("GetOrganization(%s): %v", orgID, err)
	}
	return org
}
