package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/quimera-ai/commerce-api/internal/services"
)

func newTestTopic(t *testing.T, name string) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, name)
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	return srv, topic
}

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t, "order-events")

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	occurredAt := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:           "order.status.changed",
		StoreID:        "store-1",
		OrderID:        "ord_test",
		OrderNumber:    "QA-2025-000042",
		PreviousStatus: "paid",
		CurrentStatus:  "shipped",
		OccurredAt:     occurredAt,
	}

	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != event.OrderID || payload.CurrentStatus != event.CurrentStatus {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["storeId"]; attr != "store-1" {
		t.Fatalf("expected storeId attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["type"]; attr != "order.status.changed" {
		t.Fatalf("expected type attribute, got %q", attr)
	}
}

func TestPubSubStockEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t, "stock-events")

	publisher, err := NewPubSubStockEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubStockEventPublisher: %v", err)
	}

	event := services.StockEvent{
		Type:       "inventory.out_of_stock",
		StoreID:    "store-1",
		ProductID:  "prd_test",
		SKU:        "SKU-9",
		Quantity:   0,
		OccurredAt: time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
	}

	if err := publisher.PublishStockEvent(ctx, event); err != nil {
		t.Fatalf("PublishStockEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.StockEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ProductID != event.ProductID || payload.Type != event.Type {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["sku"]; attr != "SKU-9" {
		t.Fatalf("expected sku attribute, got %q", attr)
	}
}
