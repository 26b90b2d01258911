package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"

	domain "github.com/quimera-ai/commerce-api/internal/domain"
	"github.com/quimera-ai/commerce-api/internal/platform/idempotency"
	"github.com/quimera-ai/commerce-api/internal/services"
)

const testWebhookSecret = "whsec_test"

type stubOrderService struct {
	succeeded []services.PaymentEventCommand
	failed    []services.PaymentEventCommand
	err       error
}

func (s *stubOrderService) Get(ctx context.Context, storeID, orderID string) (services.Order, error) {
	return services.Order{}, nil
}

func (s *stubOrderService) List(ctx context.Context, storeID string, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) OnPaymentSucceeded(ctx context.Context, cmd services.PaymentEventCommand) (services.Order, error) {
	if s.err != nil {
		return services.Order{}, s.err
	}
	s.succeeded = append(s.succeeded, cmd)
	return services.Order{ID: cmd.OrderID, Status: domain.OrderStatusPaid}, nil
}

func (s *stubOrderService) OnPaymentFailed(ctx context.Context, cmd services.PaymentEventCommand) (services.Order, error) {
	if s.err != nil {
		return services.Order{}, s.err
	}
	s.failed = append(s.failed, cmd)
	return services.Order{ID: cmd.OrderID, Status: domain.OrderStatusPending}, nil
}

func (s *stubOrderService) Transition(ctx context.Context, cmd services.TransitionOrderCommand) (services.Order, error) {
	return services.Order{}, nil
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	return services.Order{}, nil
}

func (s *stubOrderService) Refund(ctx context.Context, cmd services.RefundOrderCommand) (services.Order, error) {
	return services.Order{}, nil
}

func signStripePayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func stripeEventPayload(t *testing.T, eventID, eventType string, object map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          eventID,
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal event payload: %v", err)
	}
	return payload
}

func postStripeWebhook(t *testing.T, handlers *WebhookHandlers, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", signature)
	rec := httptest.NewRecorder()
	handlers.handleStripe(rec, req)
	return rec
}

func TestStripeWebhookCapturesPayment(t *testing.T) {
	orders := &stubOrderService{}
	dedupe := idempotency.NewDeduplicator(idempotency.NewMemoryStore(), time.Hour)
	handlers := NewWebhookHandlers(testWebhookSecret, orders, dedupe)

	payload := stripeEventPayload(t, "evt_1", "payment_intent.succeeded", map[string]any{
		"id":       "pi_123",
		"metadata": map[string]string{"storeId": "store-1", "orderId": "ord_1"},
	})
	rec := postStripeWebhook(t, handlers, payload, signStripePayload(payload, testWebhookSecret, time.Now()))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(orders.succeeded) != 1 {
		t.Fatalf("expected one capture, got %d", len(orders.succeeded))
	}
	cmd := orders.succeeded[0]
	if cmd.StoreID != "store-1" || cmd.OrderID != "ord_1" || cmd.PaymentRef != "pi_123" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestStripeWebhookSuppressesDuplicateDeliveries(t *testing.T) {
	orders := &stubOrderService{}
	dedupe := idempotency.NewDeduplicator(idempotency.NewMemoryStore(), time.Hour)
	handlers := NewWebhookHandlers(testWebhookSecret, orders, dedupe)

	payload := stripeEventPayload(t, "evt_2", "payment_intent.succeeded", map[string]any{
		"id":       "pi_456",
		"metadata": map[string]string{"storeId": "store-1", "orderId": "ord_2"},
	})
	signature := signStripePayload(payload, testWebhookSecret, time.Now())

	first := postStripeWebhook(t, handlers, payload, signature)
	second := postStripeWebhook(t, handlers, payload, signature)

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected 200/200, got %d/%d", first.Code, second.Code)
	}
	if len(orders.succeeded) != 1 {
		t.Fatalf("expected a single capture across deliveries, got %d", len(orders.succeeded))
	}

	var ack webhookAckResponse
	if err := json.Unmarshal(second.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode second ack: %v", err)
	}
	if !ack.Duplicate {
		t.Fatalf("expected duplicate ack, got %+v", ack)
	}
}

func TestStripeWebhookRecordsPaymentFailure(t *testing.T) {
	orders := &stubOrderService{}
	dedupe := idempotency.NewDeduplicator(idempotency.NewMemoryStore(), time.Hour)
	handlers := NewWebhookHandlers(testWebhookSecret, orders, dedupe)

	payload := stripeEventPayload(t, "evt_3", "payment_intent.payment_failed", map[string]any{
		"id":                 "pi_789",
		"metadata":           map[string]string{"storeId": "store-1", "orderId": "ord_3"},
		"last_payment_error": map[string]any{"message": "card declined"},
	})
	rec := postStripeWebhook(t, handlers, payload, signStripePayload(payload, testWebhookSecret, time.Now()))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(orders.failed) != 1 {
		t.Fatalf("expected one failure record, got %d", len(orders.failed))
	}
	if orders.failed[0].Reason != "card declined" {
		t.Fatalf("expected decline reason, got %q", orders.failed[0].Reason)
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	orders := &stubOrderService{}
	dedupe := idempotency.NewDeduplicator(idempotency.NewMemoryStore(), time.Hour)
	handlers := NewWebhookHandlers(testWebhookSecret, orders, dedupe)

	payload := stripeEventPayload(t, "evt_4", "payment_intent.succeeded", map[string]any{
		"id":       "pi_000",
		"metadata": map[string]string{"storeId": "store-1", "orderId": "ord_4"},
	})
	rec := postStripeWebhook(t, handlers, payload, signStripePayload(payload, "whsec_other", time.Now()))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(orders.succeeded) != 0 {
		t.Fatalf("expected no captures, got %d", len(orders.succeeded))
	}
}

func TestStripeWebhookIgnoresUnhandledEvents(t *testing.T) {
	orders := &stubOrderService{}
	dedupe := idempotency.NewDeduplicator(idempotency.NewMemoryStore(), time.Hour)
	handlers := NewWebhookHandlers(testWebhookSecret, orders, dedupe)

	payload := stripeEventPayload(t, "evt_5", "customer.created", map[string]any{"id": "cus_1"})
	rec := postStripeWebhook(t, handlers, payload, signStripePayload(payload, testWebhookSecret, time.Now()))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var ack webhookAckResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ack.Ignored {
		t.Fatalf("expected ignored ack, got %+v", ack)
	}
}
