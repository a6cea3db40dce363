// Package resendnotify delivers billing notifications through the Resend email API.
package resendnotify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/resend/resend-go/v2"

	"github.com/mihaimyh/orgbilling/pkg/billing"
)

// emailSender is the part of the Resend client the notifier uses.
type emailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Config configures the Resend notifier.
type Config struct {
	// APIKey is the Resend API key.
	APIKey string

	// FromEmail and FromName form the sender address.
	FromEmail string
	FromName  string

	// AppURL is linked from every email, typically the billing settings page.
	AppURL string

	Logger billing.Logger
}

// Notifier implements billing.Notifier on top of Resend.
type Notifier struct {
	emails emailSender
	from   string
	appURL string
	logger billing.Logger
}

var _ billing.Notifier = (*Notifier)(nil)

// New creates a Resend notifier.
func New(config Config) (*Notifier, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	client := resend.NewClient(config.APIKey)
	return newNotifier(client.Emails, config)
}

func newNotifier(emails emailSender, config Config) (*Notifier, error) {
	if strings.TrimSpace(config.FromEmail) == "" {
		return nil, fmt.Errorf("from email is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}

	from := config.FromEmail
	if config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", config.FromName, config.FromEmail)
	}

	return &Notifier{
		emails: emails,
		from:   from,
		appURL: strings.TrimRight(config.AppURL, "/"),
		logger: logger,
	}, nil
}

// Send renders the template and sends it to a single recipient.
func (n *Notifier) Send(ctx context.Context, to string, tmpl billing.TemplateType, data billing.TemplateData) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return fmt.Errorf("recipient is required")
	}

	t, ok := templates[tmpl]
	if !ok {
		return fmt.Errorf("unknown notification template %q", tmpl)
	}

	view := templateView{TemplateData: data, AppURL: n.appURL}
	subject, err := render(t.subject, view)
	if err != nil {
		return fmt.Errorf("failed to render subject: %w", err)
	}
	html, err := render(t.html, view)
	if err != nil {
		return fmt.Errorf("failed to render body: %w", err)
	}

	sent, err := n.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{to},
		Subject: subject,
		Html:    html,
		Headers: map[string]string{
			"X-Entity-Ref-ID": uuid.New().String(),
		},
		Tags: []resend.Tag{
			{Name: "category", Value: "billing"},
			{Name: "template_type", Value: string(tmpl)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("billing email sent",
		billing.F("email_id", sent.Id),
		billing.F("template", string(tmpl)),
	)
	return nil
}

type templateView struct {
	billing.TemplateData
	AppURL string
}

type executor interface {
	Execute(w io.Writer, data any) error
}

func render(t executor, view templateView) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}
