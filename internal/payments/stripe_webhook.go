package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// WebhookEventKind normalises the Stripe event types the lifecycle reacts to.
type WebhookEventKind string

const (
	// WebhookPaymentSucceeded covers checkout.session.completed and
	// payment_intent.succeeded.
	WebhookPaymentSucceeded WebhookEventKind = "payment_succeeded"
	// WebhookPaymentFailed covers payment_intent.payment_failed.
	WebhookPaymentFailed WebhookEventKind = "payment_failed"
	// WebhookIgnored marks event types the lifecycle does not react to.
	WebhookIgnored WebhookEventKind = "ignored"
)

// ErrWebhookSignature indicates the payload failed signature verification.
var ErrWebhookSignature = errors.New("stripe: webhook signature verification failed")

// WebhookEvent is the normalised payment event handed to the order lifecycle.
type WebhookEvent struct {
	ID         string
	Kind       WebhookEventKind
	StripeType string
	StoreID    string
	OrderID    string
	PaymentRef string
	Reason     string
}

// ParseWebhook verifies the Stripe signature and maps the event onto the
// lifecycle vocabulary. The store and order references travel in the metadata
// stamped onto the session and intent at checkout.
func ParseWebhook(payload []byte, signature, secret string) (WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, secret)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}
	return mapWebhookEvent(event)
}

func mapWebhookEvent(event stripe.Event) (WebhookEvent, error) {
	out := WebhookEvent{
		ID:         event.ID,
		StripeType: string(event.Type),
		Kind:       WebhookIgnored,
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode checkout session event: %w", err)
		}
		out.Kind = WebhookPaymentSucceeded
		out.StoreID = session.Metadata["storeId"]
		out.OrderID = session.Metadata["orderId"]
		if session.PaymentIntent != nil {
			out.PaymentRef = session.PaymentIntent.ID
		}
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode payment intent event: %w", err)
		}
		if event.Type == "payment_intent.succeeded" {
			out.Kind = WebhookPaymentSucceeded
		} else {
			out.Kind = WebhookPaymentFailed
			if intent.LastPaymentError != nil {
				out.Reason = strings.TrimSpace(intent.LastPaymentError.Msg)
			}
		}
		out.StoreID = intent.Metadata["storeId"]
		out.OrderID = intent.Metadata["orderId"]
		out.PaymentRef = intent.ID
	}

	return out, nil
}
