package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/quimera-ai/commerce-api/internal/payments"
	"github.com/quimera-ai/commerce-api/internal/platform/httpx"
	"github.com/quimera-ai/commerce-api/internal/platform/idempotency"
	"github.com/quimera-ai/commerce-api/internal/platform/requestctx"
	"github.com/quimera-ai/commerce-api/internal/services"
)

const (
	maxWebhookBodySize = 256 * 1024
	webhookRateLimit   = 120
	webhookRateWindow  = time.Minute
)

// WebhookHandlers receives Stripe payment events and feeds them into the
// order lifecycle. Delivery is at-least-once, so events are deduplicated by
// event ID before any side effect runs.
type WebhookHandlers struct {
	secret  string
	orders  services.OrderService
	dedupe  *idempotency.Deduplicator
	limiter rateLimiter
}

// NewWebhookHandlers constructs the webhook handlers.
func NewWebhookHandlers(secret string, orders services.OrderService, dedupe *idempotency.Deduplicator) *WebhookHandlers {
	return &WebhookHandlers{
		secret:  secret,
		orders:  orders,
		dedupe:  dedupe,
		limiter: newSimpleRateLimiter(webhookRateLimit, webhookRateWindow, time.Now),
	}
}

// Routes wires the webhook endpoints onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

type webhookAckResponse struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
	EventID   string `json:"eventId,omitempty"`
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx)

	if h.limiter != nil && !h.limiter.Allow(clientKey(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many webhook deliveries; retry later", http.StatusTooManyRequests))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "failed to read request body", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload too large", http.StatusRequestEntityTooLarge))
		return
	}

	event, err := payments.ParseWebhook(payload, r.Header.Get("Stripe-Signature"), h.secret)
	if err != nil {
		if errors.Is(err, payments.ErrWebhookSignature) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		logger.Warn("webhook payload rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "failed to decode webhook event", http.StatusBadRequest))
		return
	}

	logger = logger.With(zap.String("event_id", event.ID), zap.String("event_type", event.StripeType))

	if event.Kind == payments.WebhookIgnored {
		writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true, Ignored: true, EventID: event.ID})
		return
	}

	if event.StoreID == "" || event.OrderID == "" {
		// Nothing to correlate the payment against; retries will not help.
		logger.Warn("webhook event missing order metadata")
		writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true, Ignored: true, EventID: event.ID})
		return
	}

	seen, err := h.dedupe.Seen(ctx, event.ID)
	if err != nil {
		logger.Error("webhook dedupe lookup failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process webhook event", http.StatusInternalServerError))
		return
	}
	if seen {
		writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true, Duplicate: true, EventID: event.ID})
		return
	}

	cmd := services.PaymentEventCommand{
		StoreID:    event.StoreID,
		OrderID:    event.OrderID,
		PaymentRef: event.PaymentRef,
		Reason:     event.Reason,
	}

	switch event.Kind {
	case payments.WebhookPaymentSucceeded:
		_, err = h.orders.OnPaymentSucceeded(ctx, cmd)
	case payments.WebhookPaymentFailed:
		_, err = h.orders.OnPaymentFailed(ctx, cmd)
	}

	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			// The order was deleted or never existed; acknowledge so the
			// provider stops redelivering.
			logger.Warn("webhook references unknown order", zap.String("order_id", event.OrderID))
			_ = h.dedupe.Done(ctx, event.ID)
			writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true, Ignored: true, EventID: event.ID})
			return
		}
		// Release the reservation so the provider's retry can be processed.
		_ = h.dedupe.Forget(ctx, event.ID)
		logger.Error("webhook processing failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process webhook event", http.StatusInternalServerError))
		return
	}

	if err := h.dedupe.Done(ctx, event.ID); err != nil {
		logger.Warn("webhook dedupe completion failed", zap.Error(err))
	}
	writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true, EventID: event.ID})
}
