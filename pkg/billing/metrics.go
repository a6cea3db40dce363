package billing

import "time"

// Metrics defines the interface for tracking webhook reconciliation and provider calls.
// All methods are optional - components fall back to NoopMetrics when none is supplied.
type Metrics interface {
	// RecordWebhookEvent records a webhook event outcome.
	// outcome: "processed", "skipped", "ignored", "duplicate" or "error"
	RecordWebhookEvent(eventType, outcome string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(eventType string, duration time.Duration)

	// RecordWebhookError records a webhook rejection or failure.
	// errorType: e.g. "missing_signature", "auth_failed", "invalid_payload", "processing_error"
	RecordWebhookError(errorType string)

	// RecordPlanChange records an audited (plan, status) transition.
	RecordPlanChange(fromPlan, toPlan Plan, toStatus Status)

	// RecordNotification records a notification delivery attempt.
	// status: "sent" or "error"
	RecordNotification(template TemplateType, status string)

	// RecordAPICall records a call to the billing provider.
	// endpoint: e.g. "/subscriptions/retrieve"; status: "success" or "error"
	RecordAPICall(endpoint, status string)

	// RecordAPICallDuration records how long a provider call took.
	RecordAPICallDuration(endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_ string)                               {}
func (n *NoopMetrics) RecordPlanChange(_, _ Plan, _ Status)                      {}
func (n *NoopMetrics) RecordNotification(_ TemplateType, _ string)               {}
func (n *NoopMetrics) RecordAPICall(_, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_ string, _ time.Duration)           {}
