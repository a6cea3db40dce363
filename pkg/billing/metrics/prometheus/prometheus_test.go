package prommetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/orgbilling/pkg/billing"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "orgbilling")

	m.RecordWebhookEvent("invoice.paid", "processed")
	m.RecordWebhookEvent("invoice.paid", "processed")
	m.RecordWebhookEvent("invoice.paid", "duplicate")
	m.RecordWebhookError("invalid_signature")
	m.RecordPlanChange(billing.PlanFree, billing.PlanBasic, billing.StatusTrial)
	m.RecordNotification(billing.TemplatePaymentFailed, "sent")
	m.RecordAPICall("/customers/list", "success")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.webhookEventsTotal.WithLabelValues("invoice.paid", "processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookEventsTotal.WithLabelValues("invoice.paid", "duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookErrorsTotal.WithLabelValues("invalid_signature")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.planChangesTotal.WithLabelValues("free", "basic", "trial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationsTotal.WithLabelValues("payment_failed", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.apiCallsTotal.WithLabelValues("/customers/list", "success")))
}

func TestMetrics_Histograms(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "orgbilling")

	m.RecordWebhookProcessingDuration("invoice.paid", 20*time.Millisecond)
	m.RecordAPICallDuration("/subscriptions/retrieve", 150*time.Millisecond)

	assert.Equal(t, 1, testutil.CollectAndCount(m.webhookProcessingDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(m.apiCallDuration))
}

func TestMetrics_RegisteredNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "orgbilling")
	m.RecordWebhookError("missing_signature")

	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "orgbilling_billing_webhook_errors_total")
}
