package stripe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/orgbilling/pkg/billing"
)

// Stripe event types handled by the reconciler.
const (
	eventCheckoutCompleted    = "checkout.session.completed"
	eventSubscriptionCreated  = "customer.subscription.created"
	eventSubscriptionUpdated  = "customer.subscription.updated"
	eventSubscriptionDeleted  = "customer.subscription.deleted"
	eventInvoicePaid          = "invoice.paid"
	eventInvoicePaymentFailed = "invoice.payment_failed"
)

const (
	metadataOrganizationIDKey = "organization_id"
	defaultSignatureTolerance = 300 * time.Second
)

// EventKind is the closed set of event kinds the dispatcher understands.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindCheckoutCompleted
	KindSubscriptionCreated
	KindSubscriptionUpdated
	KindSubscriptionDeleted
	KindInvoicePaid
	KindInvoicePaymentFailed
)

var kindByType = map[string]EventKind{
	eventCheckoutCompleted:    KindCheckoutCompleted,
	eventSubscriptionCreated:  KindSubscriptionCreated,
	eventSubscriptionUpdated:  KindSubscriptionUpdated,
	eventSubscriptionDeleted:  KindSubscriptionDeleted,
	eventInvoicePaid:          KindInvoicePaid,
	eventInvoicePaymentFailed: KindInvoicePaymentFailed,
}

// KindOf classifies a Stripe event type string.
func KindOf(eventType string) EventKind {
	return kindByType[eventType]
}

func (k EventKind) String() string {
	switch k {
	case KindCheckoutCompleted:
		return "checkout_completed"
	case KindSubscriptionCreated:
		return "subscription_created"
	case KindSubscriptionUpdated:
		return "subscription_updated"
	case KindSubscriptionDeleted:
		return "subscription_deleted"
	case KindInvoicePaid:
		return "invoice_paid"
	case KindInvoicePaymentFailed:
		return "invoice_payment_failed"
	default:
		return "unknown"
	}
}

// Event is a verified Stripe event. Exactly one payload pointer is set for
// the known kinds, none for KindUnknown.
type Event struct {
	ID       string
	Type     string
	Kind     EventKind
	Created  time.Time
	Livemode bool

	Checkout     *CheckoutSession
	Subscription *Subscription
	Invoice      *Invoice
}

// ObjectID is an expandable Stripe reference. It decodes from either the
// bare id string or the expanded object.
type ObjectID string

func (id *ObjectID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ObjectID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*id = ObjectID(obj.ID)
	return nil
}

func (id ObjectID) String() string {
	return strings.TrimSpace(string(id))
}

// CheckoutSession is the part of a checkout.session object the reconciler reads.
type CheckoutSession struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"`
	Customer     ObjectID          `json:"customer"`
	Subscription ObjectID          `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// OrganizationID returns the organization the session was created for.
func (s *CheckoutSession) OrganizationID() string {
	if s == nil || s.Metadata == nil {
		return ""
	}
	return strings.TrimSpace(s.Metadata[metadataOrganizationIDKey])
}

// SubscriptionItem is one line of a subscription.
type SubscriptionItem struct {
	ID               string   `json:"id"`
	Price            ObjectID `json:"price"`
	CurrentPeriodEnd int64    `json:"current_period_end"`
}

// Subscription is the part of a subscription object the reconciler reads.
type Subscription struct {
	ID                string   `json:"id"`
	Customer          ObjectID `json:"customer"`
	Status            string   `json:"status"`
	CancelAtPeriodEnd bool     `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64    `json:"current_period_end"`
	Items             struct {
		Data []SubscriptionItem `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

// FirstPriceID returns the price of the first subscription item.
func (s *Subscription) FirstPriceID() string {
	if s == nil || len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.String()
}

// PeriodEnd returns the end of the current billing period, if known. Newer API
// versions report it on the subscription item instead of the subscription.
func (s *Subscription) PeriodEnd() *time.Time {
	if s == nil {
		return nil
	}
	end := s.CurrentPeriodEnd
	if end == 0 && len(s.Items.Data) > 0 {
		end = s.Items.Data[0].CurrentPeriodEnd
	}
	return unixTime(end)
}

// InvoiceLine is one line item of an invoice.
type InvoiceLine struct {
	Description string   `json:"description"`
	Price       ObjectID `json:"price"`
	Pricing     *struct {
		PriceDetails *struct {
			Price ObjectID `json:"price"`
		} `json:"price_details"`
	} `json:"pricing"`
}

// PriceID returns the line's price from either the legacy or the pricing field.
func (l InvoiceLine) PriceID() string {
	if id := l.Price.String(); id != "" {
		return id
	}
	if l.Pricing != nil && l.Pricing.PriceDetails != nil {
		return l.Pricing.PriceDetails.Price.String()
	}
	return ""
}

// Invoice is the part of an invoice object the reconciler reads.
type Invoice struct {
	ID               string   `json:"id"`
	Customer         ObjectID `json:"customer"`
	AmountPaid       int64    `json:"amount_paid"`
	AmountDue        int64    `json:"amount_due"`
	Currency         string   `json:"currency"`
	HostedInvoiceURL string   `json:"hosted_invoice_url"`
	InvoicePDF       string   `json:"invoice_pdf"`
	PaymentIntent    ObjectID `json:"payment_intent"`
	Lines            struct {
		Data []InvoiceLine `json:"data"`
	} `json:"lines"`
}

// FirstLine returns the first invoice line, if any.
func (i *Invoice) FirstLine() (InvoiceLine, bool) {
	if i == nil || len(i.Lines.Data) == 0 {
		return InvoiceLine{}, false
	}
	return i.Lines.Data[0], true
}

// FirstPriceID returns the price of the first invoice line.
func (i *Invoice) FirstPriceID() string {
	line, ok := i.FirstLine()
	if !ok {
		return ""
	}
	return line.PriceID()
}

// VerifyAndParseEvent authenticates a webhook delivery against the exact raw body
// and decodes it into an Event. A missing header or secret, or a signature
// mismatch, yields billing.ErrInvalidWebhookSignature.
func (c *Client) VerifyAndParseEvent(payload []byte, signatureHeader, secret string) (*Event, error) {
	if err := c.ensureConfigured(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(signatureHeader) == "" || strings.TrimSpace(secret) == "" {
		return nil, billing.ErrInvalidWebhookSignature
	}

	raw, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		Tolerance:                defaultSignatureTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookSignature, err)
	}

	return ParseEvent(&raw)
}

// ParseEvent decodes the payload of a verified Stripe event into its kind-specific struct.
func ParseEvent(raw *stripe.Event) (*Event, error) {
	if raw == nil {
		return nil, billing.ErrInvalidWebhookPayload
	}

	ev := &Event{
		ID:       raw.ID,
		Type:     string(raw.Type),
		Kind:     KindOf(string(raw.Type)),
		Created:  time.Unix(raw.Created, 0).UTC(),
		Livemode: raw.Livemode,
	}

	var data []byte
	if raw.Data != nil {
		data = raw.Data.Raw
	}

	switch ev.Kind {
	case KindCheckoutCompleted:
		ev.Checkout = &CheckoutSession{}
		if err := decodePayload(data, ev.Checkout); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
	case KindSubscriptionCreated, KindSubscriptionUpdated, KindSubscriptionDeleted:
		ev.Subscription = &Subscription{}
		if err := decodePayload(data, ev.Subscription); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
	case KindInvoicePaid, KindInvoicePaymentFailed:
		ev.Invoice = &Invoice{}
		if err := decodePayload(data, ev.Invoice); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
	case KindUnknown:
	}

	return ev, nil
}

func decodePayload(data []byte, v interface{}) error {
	if len(data) == 0 {
		return billing.ErrInvalidWebhookPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}
	return nil
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
