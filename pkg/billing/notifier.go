package billing

import "context"

// TemplateType names a notification template.
type TemplateType string

const (
	TemplateSubscriptionCreated TemplateType = "subscription_created"
	TemplatePaymentFailed       TemplateType = "payment_failed"
)

// TemplateData is the data rendered into a notification template.
type TemplateData struct {
	OrganizationName string
	UserName         string
	InvoiceURL       string
}

// Notifier delivers transactional notifications to organization owners.
type Notifier interface {
	Send(ctx context.Context, to string, tmpl TemplateType, data TemplateData) error
}

// NoopNotifier drops every notification.
type NoopNotifier struct{}

func (NoopNotifier) Send(_ context.Context, _ string, _ TemplateType, _ TemplateData) error {
	return nil
}
