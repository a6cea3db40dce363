package stripe

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/orgbilling/pkg/billing"
)

func mustStripeEvent(t *testing.T, eventType string, object map[string]interface{}) *stripe.Event {
	t.Helper()
	var ev stripe.Event
	require.NoError(t, json.Unmarshal(eventPayload(t, "evt_test", eventType, object), &ev))
	return &ev
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindCheckoutCompleted, KindOf("checkout.session.completed"))
	assert.Equal(t, KindSubscriptionCreated, KindOf("customer.subscription.created"))
	assert.Equal(t, KindSubscriptionUpdated, KindOf("customer.subscription.updated"))
	assert.Equal(t, KindSubscriptionDeleted, KindOf("customer.subscription.deleted"))
	assert.Equal(t, KindInvoicePaid, KindOf("invoice.paid"))
	assert.Equal(t, KindInvoicePaymentFailed, KindOf("invoice.payment_failed"))
	assert.Equal(t, KindUnknown, KindOf("invoice.payment_succeeded"))
	assert.Equal(t, "unknown", KindUnknown.String())
	assert.Equal(t, "invoice_paid", KindInvoicePaid.String())
}

func TestObjectID_Unmarshal(t *testing.T) {
	var payload struct {
		A ObjectID `json:"a"`
		B ObjectID `json:"b"`
		C ObjectID `json:"c"`
	}
	err := json.Unmarshal([]byte(`{"a":"cus_1","b":{"id":"sub_1","object":"subscription"},"c":null}`), &payload)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", payload.A.String())
	assert.Equal(t, "sub_1", payload.B.String())
	assert.Equal(t, "", payload.C.String())
}

func TestParseEvent_Subscription(t *testing.T) {
	ev, err := ParseEvent(mustStripeEvent(t, eventSubscriptionDeleted,
		subscriptionObject("sub_1", "cus_1", "canceled", testProMonthly, true)))
	require.NoError(t, err)

	assert.Equal(t, KindSubscriptionDeleted, ev.Kind)
	require.NotNil(t, ev.Subscription)
	assert.Nil(t, ev.Checkout)
	assert.Nil(t, ev.Invoice)
	assert.Equal(t, "cus_1", ev.Subscription.Customer.String())
	assert.Equal(t, testProMonthly, ev.Subscription.FirstPriceID())
	assert.True(t, ev.Subscription.CancelAtPeriodEnd)
	require.NotNil(t, ev.Subscription.PeriodEnd())
	assert.Equal(t, int64(1767225600), ev.Subscription.PeriodEnd().Unix())
}

func TestParseEvent_InvoicePriceLocations(t *testing.T) {
	ev, err := ParseEvent(mustStripeEvent(t, eventInvoicePaymentFailed, invoiceObject("in_1", "cus_1", testBasicMonthly)))
	require.NoError(t, err)
	require.NotNil(t, ev.Invoice)
	assert.Equal(t, testBasicMonthly, ev.Invoice.FirstPriceID())
	assert.Equal(t, "pi_in_1", ev.Invoice.PaymentIntent.String())

	var legacy Invoice
	require.NoError(t, json.Unmarshal([]byte(`{"id":"in_2","lines":{"data":[{"price":{"id":"price_legacy"}}]}}`), &legacy))
	assert.Equal(t, "price_legacy", legacy.FirstPriceID())

	var empty Invoice
	assert.Equal(t, "", empty.FirstPriceID())
}

func TestParseEvent_Checkout(t *testing.T) {
	ev, err := ParseEvent(mustStripeEvent(t, eventCheckoutCompleted, checkoutObject("cus_1", "sub_1", " org_1 ")))
	require.NoError(t, err)
	require.NotNil(t, ev.Checkout)
	assert.Equal(t, "org_1", ev.Checkout.OrganizationID())
	assert.Equal(t, "sub_1", ev.Checkout.Subscription.String())
}

func TestParseEvent_Unknown(t *testing.T) {
	ev, err := ParseEvent(mustStripeEvent(t, "customer.created", map[string]interface{}{"id": "cus_1"}))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, ev.Kind)
	assert.Equal(t, "customer.created", ev.Type)
	assert.Nil(t, ev.Checkout)
	assert.Nil(t, ev.Subscription)
	assert.Nil(t, ev.Invoice)
}

func TestParseEvent_MalformedPayload(t *testing.T) {
	raw := &stripe.Event{
		ID:   "evt_bad",
		Type: stripe.EventType(eventInvoicePaid),
		Data: &stripe.EventData{Raw: json.RawMessage(`{"amount_paid":"lots"}`)},
	}
	_, err := ParseEvent(raw)
	assert.True(t, errors.Is(err, billing.ErrInvalidWebhookPayload))

	_, err = ParseEvent(nil)
	assert.True(t, errors.Is(err, billing.ErrInvalidWebhookPayload))
}

func TestVerifyAndParseEvent(t *testing.T) {
	client := NewClient(ClientConfig{SecretKey: testSecretKey})
	payload := eventPayload(t, "evt_1", eventInvoicePaid, invoiceObject("in_1", "cus_1", testProMonthly))
	header := signedRequest(t, payload, testWebhookSecret).Header.Get(SignatureHeader)

	ev, err := client.VerifyAndParseEvent(payload, header, testWebhookSecret)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, KindInvoicePaid, ev.Kind)

	_, err = client.VerifyAndParseEvent(payload, "", testWebhookSecret)
	assert.True(t, errors.Is(err, billing.ErrInvalidWebhookSignature))

	_, err = client.VerifyAndParseEvent(payload, header, "")
	assert.True(t, errors.Is(err, billing.ErrInvalidWebhookSignature))

	_, err = client.VerifyAndParseEvent(payload, header, "whsec_other")
	assert.True(t, errors.Is(err, billing.ErrInvalidWebhookSignature))

	_, err = NewClient(ClientConfig{}).VerifyAndParseEvent(payload, header, testWebhookSecret)
	assert.True(t, errors.Is(err, billing.ErrProviderNotConfigured))
}
