package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mihaimyh/orgbilling/pkg/billing"
	"github.com/mihaimyh/orgbilling/pkg/billing/internal"
)

// SignatureHeader carries the Stripe webhook signature.
const SignatureHeader = "Stripe-Signature"

// Webhook processing outcomes reported to metrics.
const (
	outcomeProcessed = "processed"
	outcomeDuplicate = "duplicate"
	outcomeSkipped   = "skipped"
	outcomeIgnored   = "ignored"
	outcomeError     = "error"
)

const (
	msgMethodNotAllowed = "Method not allowed"
	msgPayloadTooLarge  = "Payload too large"
	msgInvalidPayload   = "Invalid payload"
	msgMissingSignature = "Missing Stripe-Signature header"
	msgInvalidSignature = "Invalid signature"
	msgHandlerFailed    = "Webhook handler failed"
)

// EventVerifier authenticates and decodes a raw webhook delivery. *Client implements it.
type EventVerifier interface {
	VerifyAndParseEvent(payload []byte, signatureHeader, secret string) (*Event, error)
}

// WebhookConfig configures the webhook endpoint.
type WebhookConfig struct {
	// Verifier checks signatures, usually the *Client. Required.
	Verifier EventVerifier

	// WebhookSecret is the endpoint signing secret (whsec_...).
	WebhookSecret string

	// Handlers receives routed events, usually the *Reconciler. Required.
	Handlers EventHandlers

	// Catalog decides which events belong to this application.
	// Defaults to billing.DefaultCatalog().
	Catalog *billing.Catalog

	// Ledger records processed event ids. Defaults to billing.NoopLedger.
	Ledger billing.EventLedger

	Logger  billing.Logger
	Metrics billing.Metrics

	// RateLimit is the number of requests allowed per client IP per minute.
	// Zero disables rate limiting.
	RateLimit int

	// MaxBodyBytes caps the request body. Defaults to 1 MiB.
	MaxBodyBytes int64
}

// WebhookHandler is the POST endpoint receiving Stripe events.
type WebhookHandler struct {
	verifier EventVerifier
	secret   string
	handlers EventHandlers
	catalog  *billing.Catalog
	ledger   billing.EventLedger
	logger   billing.Logger
	metrics  billing.Metrics
	maxBody  int64
}

type webhookAck struct {
	Received bool `json:"received"`
}

// NewWebhookHandler builds the webhook endpoint, wrapped in a per-IP rate
// limiter when config.RateLimit is positive.
func NewWebhookHandler(config WebhookConfig) (http.Handler, error) {
	if config.Verifier == nil {
		return nil, errors.New("event verifier is required")
	}
	if config.Handlers == nil {
		return nil, errors.New("event handlers are required")
	}

	h := &WebhookHandler{
		verifier: config.Verifier,
		secret:   config.WebhookSecret,
		handlers: config.Handlers,
		catalog:  config.Catalog,
		ledger:   config.Ledger,
		logger:   config.Logger,
		metrics:  config.Metrics,
		maxBody:  config.MaxBodyBytes,
	}
	if h.catalog == nil {
		h.catalog = billing.DefaultCatalog()
	}
	if h.ledger == nil {
		h.ledger = billing.NoopLedger{}
	}
	if h.logger == nil {
		h.logger = &billing.NoopLogger{}
	}
	if h.metrics == nil {
		h.metrics = &billing.NoopMetrics{}
	}
	if h.maxBody <= 0 {
		h.maxBody = internal.MaxWebhookBodyBytes
	}
	if h.secret == "" {
		h.logger.Warn("stripe webhook secret is not set, every delivery will be rejected")
	}

	if config.RateLimit > 0 {
		limiter := internal.NewRateLimiter(config.RateLimit, time.Minute)
		return limiter.Middleware(h), nil
	}
	return h, nil
}

// ServeHTTP verifies, filters and dispatches one webhook delivery.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if r.Method != http.MethodPost {
		h.reply(w, http.StatusMethodNotAllowed, msgMethodNotAllowed)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, h.maxBody)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			h.metrics.RecordWebhookError("payload_too_large")
			h.reply(w, http.StatusRequestEntityTooLarge, msgPayloadTooLarge)
			return
		}
		h.metrics.RecordWebhookError("invalid_payload")
		h.reply(w, http.StatusBadRequest, msgInvalidPayload)
		return
	}

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		h.metrics.RecordWebhookError("missing_signature")
		h.reply(w, http.StatusBadRequest, msgMissingSignature)
		return
	}

	event, err := h.verifier.VerifyAndParseEvent(body, signature, h.secret)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrProviderNotConfigured):
			h.logger.Error("webhook received but stripe is not configured")
			h.metrics.RecordWebhookError("not_configured")
			h.reply(w, http.StatusInternalServerError, msgHandlerFailed)
		case errors.Is(err, billing.ErrInvalidWebhookPayload):
			h.logger.Warn("webhook payload could not be decoded", billing.F("error", err.Error()))
			h.metrics.RecordWebhookError("invalid_payload")
			h.reply(w, http.StatusBadRequest, msgInvalidPayload)
		default:
			h.logger.Warn("webhook signature verification failed",
				billing.F("remote_ip", internal.GetClientIP(r)),
				billing.F("error", err.Error()))
			h.metrics.RecordWebhookError("invalid_signature")
			h.reply(w, http.StatusBadRequest, msgInvalidSignature)
		}
		return
	}

	outcome, err := h.process(r.Context(), event)
	h.metrics.RecordWebhookEvent(event.Type, outcome)
	h.metrics.RecordWebhookProcessingDuration(event.Type, time.Since(startTime))
	if err != nil {
		h.logger.Error("webhook handler failed",
			billing.F("event_id", event.ID),
			billing.F("event_type", event.Type),
			billing.F("error", err.Error()))
		h.metrics.RecordWebhookError("handler_failed")
		h.reply(w, http.StatusInternalServerError, msgHandlerFailed)
		return
	}

	_ = internal.WriteJSON(w, http.StatusOK, webhookAck{Received: true})
}

// process runs the dedup, scope and routing steps for a verified event. A
// panic in any handler is reported as an error.
func (h *WebhookHandler) process(ctx context.Context, event *Event) (outcome string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			outcome = outcomeError
			err = fmt.Errorf("panic while handling %s: %v", event.Type, rec)
		}
	}()

	if event.Kind == KindUnknown {
		h.logger.Debug("ignoring unhandled event type",
			billing.F("event_id", event.ID),
			billing.F("event_type", event.Type))
		return outcomeIgnored, nil
	}

	seen, err := h.ledger.Processed(ctx, event.ID)
	if err != nil {
		h.logger.Warn("event ledger lookup failed, processing anyway",
			billing.F("event_id", event.ID),
			billing.F("error", err.Error()))
	} else if seen {
		h.logger.Info("duplicate event delivery, already processed",
			billing.F("event_id", event.ID),
			billing.F("event_type", event.Type))
		return outcomeDuplicate, nil
	}

	if !h.inScope(event) {
		h.logger.Info("event does not belong to this application, skipping",
			billing.F("event_id", event.ID),
			billing.F("event_type", event.Type))
		return outcomeSkipped, nil
	}

	if err := h.route(ctx, event); err != nil {
		return outcomeError, err
	}

	if err := h.ledger.MarkProcessed(ctx, event.ID, event.Type); err != nil {
		h.logger.Warn("failed to record processed event",
			billing.F("event_id", event.ID),
			billing.F("error", err.Error()))
	}
	return outcomeProcessed, nil
}

// inScope keeps events of other products sharing the Stripe account away
// from this application's records.
func (h *WebhookHandler) inScope(event *Event) bool {
	switch event.Kind {
	case KindCheckoutCompleted:
		return event.Checkout.OrganizationID() != ""
	case KindSubscriptionCreated, KindSubscriptionUpdated, KindSubscriptionDeleted:
		return h.catalog.InScope(event.Subscription.FirstPriceID())
	case KindInvoicePaid, KindInvoicePaymentFailed:
		return h.catalog.InScope(event.Invoice.FirstPriceID())
	default:
		return false
	}
}

func (h *WebhookHandler) route(ctx context.Context, event *Event) error {
	switch event.Kind {
	case KindCheckoutCompleted:
		return h.handlers.HandleCheckoutCompleted(ctx, event.Checkout)
	case KindSubscriptionCreated, KindSubscriptionUpdated:
		return h.handlers.HandleSubscriptionChanged(ctx, event.Subscription)
	case KindSubscriptionDeleted:
		return h.handlers.HandleSubscriptionDeleted(ctx, event.Subscription)
	case KindInvoicePaid:
		return h.handlers.HandleInvoicePaid(ctx, event.Invoice)
	case KindInvoicePaymentFailed:
		return h.handlers.HandleInvoicePaymentFailed(ctx, event.Invoice)
	default:
		return fmt.Errorf("no handler for event kind %s", event.Kind)
	}
}

func (h *WebhookHandler) reply(w http.ResponseWriter, code int, message string) {
	if err := internal.WriteError(w, code, message); err != nil {
		h.logger.Debug("failed to write webhook response", billing.F("error", err.Error()))
	}
}
