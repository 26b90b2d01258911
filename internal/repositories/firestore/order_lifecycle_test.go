package firestore

import (
	"errors"
	"testing"
	"time"

	domain "github.com/quimera-ai/commerce-api/internal/domain"
	"github.com/quimera-ai/commerce-api/internal/repositories"
)

func pendingOrderDocument(items ...orderItemDocument) orderDocument {
	var total int64
	for _, item := range items {
		total += item.TotalPrice
	}
	return orderDocument{
		OrderNumber:   "QA-2026-000001",
		Status:        string(domain.OrderStatusPending),
		PaymentStatus: string(domain.PaymentStatusPending),
		Items:         items,
		Subtotal:      total,
		Total:         total,
		Currency:      "usd",
	}
}

func TestApplyCapture_DecrementsTrackedLines(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	order := pendingOrderDocument(
		orderItemDocument{ProductID: "prd_mug", Quantity: 2, UnitPrice: 1500, TotalPrice: 3000},
		orderItemDocument{ProductID: "prd_tee", Quantity: 1, UnitPrice: 800, TotalPrice: 800},
	)
	products := map[string]productDocument{
		"prd_mug": {SKU: "MUG-1", Quantity: 10, TrackInventory: true},
		"prd_tee": {SKU: "TEE-1", Quantity: 4},
	}

	changes, err := applyCapture(captureInputs{Order: order, Products: products}, "ord_1", "pi_123", now)
	if err != nil {
		t.Fatalf("applyCapture error: %v", err)
	}
	if got := changes.Products["prd_mug"].Quantity; got != 8 {
		t.Fatalf("expected tracked quantity 8, got %d", got)
	}
	if _, ok := changes.Products["prd_tee"]; ok {
		t.Fatal("expected untracked product to stay unwritten")
	}
	if products["prd_mug"].Quantity != 10 {
		t.Fatal("expected inputs to stay unmutated")
	}
	if changes.Order.Status != string(domain.OrderStatusPaid) || changes.Order.PaymentStatus != string(domain.PaymentStatusPaid) {
		t.Fatalf("unexpected order state: %+v", changes.Order)
	}
	if changes.Order.PaymentRef != "pi_123" {
		t.Fatalf("expected payment ref recorded, got %q", changes.Order.PaymentRef)
	}
	if n := len(changes.Order.StatusHistory); n != 1 || changes.Order.StatusHistory[0].To != string(domain.OrderStatusPaid) {
		t.Fatalf("expected one history entry to paid, got %+v", changes.Order.StatusHistory)
	}
}

func TestApplyCapture_AllOrNothingStockCheck(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	order := pendingOrderDocument(
		orderItemDocument{ProductID: "prd_full", Quantity: 1, TotalPrice: 1000},
		orderItemDocument{ProductID: "prd_short", Quantity: 5, TotalPrice: 5000},
	)
	products := map[string]productDocument{
		"prd_full":  {Quantity: 10, TrackInventory: true},
		"prd_short": {Quantity: 4, TrackInventory: true},
	}

	_, err := applyCapture(captureInputs{Order: order, Products: products}, "ord_1", "", now)
	var invErr *repositories.InventoryError
	if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if products["prd_full"].Quantity != 10 {
		t.Fatal("expected no decrement when any line falls short")
	}
}

func TestApplyCapture_SecondOrderExhaustsStock(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	product := productDocument{SKU: "MUG-1", Quantity: 3, TrackInventory: true}
	order := pendingOrderDocument(orderItemDocument{ProductID: "prd_mug", Quantity: 2, TotalPrice: 3000})

	first, err := applyCapture(captureInputs{
		Order:    order,
		Products: map[string]productDocument{"prd_mug": product},
	}, "ord_1", "", now)
	if err != nil {
		t.Fatalf("first capture error: %v", err)
	}
	if first.Products["prd_mug"].Quantity != 1 {
		t.Fatalf("expected quantity 1 after first capture, got %d", first.Products["prd_mug"].Quantity)
	}
	if len(first.Emptied) != 0 {
		t.Fatalf("expected no emptied movements, got %+v", first.Emptied)
	}

	_, err = applyCapture(captureInputs{
		Order:    order,
		Products: map[string]productDocument{"prd_mug": first.Products["prd_mug"]},
	}, "ord_2", "", now)
	var invErr *repositories.InventoryError
	if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock {
		t.Fatalf("expected second capture to fail on stock, got %v", err)
	}
}

func TestApplyCapture_EmptiedMovementOnZero(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	order := pendingOrderDocument(orderItemDocument{ProductID: "prd_mug", Quantity: 3, TotalPrice: 4500})
	products := map[string]productDocument{
		"prd_mug": {SKU: "MUG-1", Quantity: 3, TrackInventory: true},
	}

	changes, err := applyCapture(captureInputs{Order: order, Products: products}, "ord_1", "", now)
	if err != nil {
		t.Fatalf("applyCapture error: %v", err)
	}
	if len(changes.Emptied) != 1 {
		t.Fatalf("expected one emptied movement, got %+v", changes.Emptied)
	}
	movement := changes.Emptied[0]
	if movement.ProductID != "prd_mug" || movement.SKU != "MUG-1" || !movement.ToZero {
		t.Fatalf("unexpected movement: %+v", movement)
	}
}

func TestApplyCapture_DiscountUsageBoundedByMaxUses(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	limit := 3
	order := pendingOrderDocument(orderItemDocument{ProductID: "prd_mug", Quantity: 1, TotalPrice: 1500})
	order.DiscountID = "dsc_1"

	underCap := discountDocument{Code: "SAVE10", MaxUses: &limit, UsedCount: 2}
	changes, err := applyCapture(captureInputs{Order: order, Discount: &underCap}, "ord_1", "", now)
	if err != nil {
		t.Fatalf("applyCapture error: %v", err)
	}
	if changes.Discount == nil || changes.Discount.UsedCount != 3 {
		t.Fatalf("expected usage incremented to the cap, got %+v", changes.Discount)
	}
	if underCap.UsedCount != 2 {
		t.Fatal("expected discount input to stay unmutated")
	}

	atCap := discountDocument{Code: "SAVE10", MaxUses: &limit, UsedCount: 3}
	changes, err = applyCapture(captureInputs{Order: order, Discount: &atCap}, "ord_2", "", now)
	if err != nil {
		t.Fatalf("applyCapture error: %v", err)
	}
	if changes.Discount != nil {
		t.Fatalf("expected no usage write past the cap, got %+v", changes.Discount)
	}
}

func TestApplyCapture_BumpsCustomerCounters(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	order := pendingOrderDocument(orderItemDocument{ProductID: "prd_mug", Quantity: 1, TotalPrice: 1500})
	order.CustomerID = "cus_1"
	customer := customerDocument{Email: "shopper@example.com", TotalOrders: 4, TotalSpent: 9000}

	changes, err := applyCapture(captureInputs{Order: order, Customer: &customer}, "ord_1", "", now)
	if err != nil {
		t.Fatalf("applyCapture error: %v", err)
	}
	if changes.Customer == nil || changes.Customer.TotalOrders != 5 || changes.Customer.TotalSpent != 10500 {
		t.Fatalf("unexpected customer counters: %+v", changes.Customer)
	}
}

func TestApplyCapture_IdempotentOnPaidOrder(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	order := pendingOrderDocument(orderItemDocument{ProductID: "prd_mug", Quantity: 2, TotalPrice: 3000})
	order.Status = string(domain.OrderStatusPaid)
	order.PaymentStatus = string(domain.PaymentStatusPaid)

	changes, err := applyCapture(captureInputs{
		Order:    order,
		Products: map[string]productDocument{"prd_mug": {Quantity: 8, TrackInventory: true}},
	}, "ord_1", "", now)
	if err != nil {
		t.Fatalf("applyCapture error: %v", err)
	}
	if !changes.AlreadyPaid {
		t.Fatal("expected already-paid report")
	}
	if len(changes.Products) != 0 || changes.Discount != nil || changes.Customer != nil {
		t.Fatalf("expected no side-effect writes on re-capture, got %+v", changes)
	}
	if len(changes.Order.StatusHistory) != 0 {
		t.Fatal("expected no new history entry on re-capture")
	}
}

func TestApplyCapture_RejectsCancelledOrder(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	order := pendingOrderDocument()
	order.Status = string(domain.OrderStatusCancelled)

	_, err := applyCapture(captureInputs{Order: order}, "ord_1", "", now)
	var orderErr *repositories.OrderError
	if !errors.As(err, &orderErr) || orderErr.Code != repositories.OrderErrorInvalidTransition {
		t.Fatalf("expected invalid transition error, got %v", err)
	}
}

func TestApplyTransition_RejectsInvalidAdjacency(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	order := pendingOrderDocument()

	_, err := applyTransition(transitionInputs{Order: order}, repositories.OrderTransitionRequest{
		OrderID: "ord_1",
		Target:  domain.OrderStatusShipped,
	}, now)
	var orderErr *repositories.OrderError
	if !errors.As(err, &orderErr) || orderErr.Code != repositories.OrderErrorInvalidTransition {
		t.Fatalf("expected invalid transition error, got %v", err)
	}
}

func TestApplyTransition_RejectsPaidTarget(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	order := pendingOrderDocument(orderItemDocument{ProductID: "prd_mug", Quantity: 2, TotalPrice: 3000})

	_, err := applyTransition(transitionInputs{Order: order}, repositories.OrderTransitionRequest{
		OrderID: "ord_1",
		Target:  domain.OrderStatusPaid,
	}, now)
	var orderErr *repositories.OrderError
	if !errors.As(err, &orderErr) || orderErr.Code != repositories.OrderErrorInvalidTransition {
		t.Fatalf("expected invalid transition error, got %v", err)
	}
}

func TestApplyTransition_ExpectedStatusGuard(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	order := pendingOrderDocument()
	order.Status = string(domain.OrderStatusPaid)
	expected := domain.OrderStatusProcessing

	_, err := applyTransition(transitionInputs{Order: order}, repositories.OrderTransitionRequest{
		OrderID:        "ord_1",
		Target:         domain.OrderStatusCancelled,
		ExpectedStatus: &expected,
	}, now)
	var orderErr *repositories.OrderError
	if !errors.As(err, &orderErr) || orderErr.Code != repositories.OrderErrorStatusMismatch {
		t.Fatalf("expected status mismatch error, got %v", err)
	}
}

func TestApplyTransition_ShippedRequiresTracking(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	order := pendingOrderDocument()
	order.Status = string(domain.OrderStatusProcessing)

	_, err := applyTransition(transitionInputs{Order: order}, repositories.OrderTransitionRequest{
		OrderID: "ord_1",
		Target:  domain.OrderStatusShipped,
	}, now)
	var orderErr *repositories.OrderError
	if !errors.As(err, &orderErr) || orderErr.Code != repositories.OrderErrorTrackingRequired {
		t.Fatalf("expected tracking required error, got %v", err)
	}

	changes, err := applyTransition(transitionInputs{Order: order}, repositories.OrderTransitionRequest{
		OrderID:  "ord_1",
		Target:   domain.OrderStatusShipped,
		Tracking: &domain.OrderTracking{Carrier: "dhl", TrackingNumber: "123"},
	}, now)
	if err != nil {
		t.Fatalf("applyTransition error: %v", err)
	}
	if changes.Order.Tracking == nil || changes.Order.Tracking.Carrier != "dhl" {
		t.Fatalf("expected tracking recorded, got %+v", changes.Order.Tracking)
	}
	if changes.Order.ShippedAt == nil || !changes.Order.ShippedAt.Equal(now) {
		t.Fatalf("expected shippedAt stamped, got %v", changes.Order.ShippedAt)
	}
}

func TestApplyTransition_CancelRestocksTrackedLines(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	order := pendingOrderDocument(
		orderItemDocument{ProductID: "prd_mug", Quantity: 2, TotalPrice: 3000},
		orderItemDocument{ProductID: "prd_tee", Quantity: 1, TotalPrice: 800},
	)
	order.Status = string(domain.OrderStatusPaid)
	order.CustomerID = "cus_1"
	products := map[string]productDocument{
		"prd_mug": {SKU: "MUG-1", Quantity: 0, TrackInventory: true},
		"prd_tee": {SKU: "TEE-1", Quantity: 4},
	}
	customer := customerDocument{TotalOrders: 5, TotalSpent: 10000}

	changes, err := applyTransition(transitionInputs{
		Order:    order,
		Products: products,
		Customer: &customer,
	}, repositories.OrderTransitionRequest{
		OrderID: "ord_1",
		Target:  domain.OrderStatusCancelled,
		Reason:  "customer request",
	}, now)
	if err != nil {
		t.Fatalf("applyTransition error: %v", err)
	}
	if got := changes.Products["prd_mug"].Quantity; got != 2 {
		t.Fatalf("expected restocked quantity 2, got %d", got)
	}
	if len(changes.Restocked) != 1 {
		t.Fatalf("expected one restock movement, got %+v", changes.Restocked)
	}
	if !changes.Restocked[0].FromZero {
		t.Fatal("expected restock from zero to be flagged")
	}
	if changes.Customer == nil || changes.Customer.TotalOrders != 4 || changes.Customer.TotalSpent != 6200 {
		t.Fatalf("expected both counters reversed, got %+v", changes.Customer)
	}
	if changes.Order.CancelReason != "customer request" || changes.Order.CancelledAt == nil {
		t.Fatalf("unexpected cancelled order: %+v", changes.Order)
	}
}

func TestApplyTransition_CancelPendingSkipsRestock(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	order := pendingOrderDocument(orderItemDocument{ProductID: "prd_mug", Quantity: 2, TotalPrice: 3000})
	customer := customerDocument{TotalOrders: 5, TotalSpent: 10000}

	changes, err := applyTransition(transitionInputs{Order: order, Customer: &customer}, repositories.OrderTransitionRequest{
		OrderID: "ord_1",
		Target:  domain.OrderStatusCancelled,
	}, now)
	if err != nil {
		t.Fatalf("applyTransition error: %v", err)
	}
	if len(changes.Products) != 0 || len(changes.Restocked) != 0 {
		t.Fatalf("expected no restock for a pending cancel, got %+v", changes)
	}
	if changes.Customer != nil {
		t.Fatalf("expected counters untouched for a pending cancel, got %+v", changes.Customer)
	}
}

func TestApplyTransition_RefundReversesSpendOnly(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	order := pendingOrderDocument(orderItemDocument{ProductID: "prd_mug", Quantity: 2, TotalPrice: 3000})
	order.Status = string(domain.OrderStatusDelivered)
	order.CustomerID = "cus_1"
	customer := customerDocument{TotalOrders: 5, TotalSpent: 2000}

	changes, err := applyTransition(transitionInputs{Order: order, Customer: &customer}, repositories.OrderTransitionRequest{
		OrderID: "ord_1",
		Target:  domain.OrderStatusRefunded,
	}, now)
	if err != nil {
		t.Fatalf("applyTransition error: %v", err)
	}
	if changes.Customer == nil || changes.Customer.TotalOrders != 5 {
		t.Fatalf("expected totalOrders kept on refund, got %+v", changes.Customer)
	}
	if changes.Customer.TotalSpent != 0 {
		t.Fatalf("expected totalSpent clamped at zero, got %d", changes.Customer.TotalSpent)
	}
	if changes.Order.PaymentStatus != string(domain.PaymentStatusRefunded) || changes.Order.RefundedAt == nil {
		t.Fatalf("unexpected refunded order: %+v", changes.Order)
	}
	if len(changes.Restocked) != 0 {
		t.Fatalf("expected no restock on refund, got %+v", changes.Restocked)
	}
}

func TestApplyTransition_AppendsStatusHistory(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	order := pendingOrderDocument()
	order.Status = string(domain.OrderStatusPaid)
	order.StatusHistory = []orderStatusChangeDocument{{
		From: string(domain.OrderStatusPending), To: string(domain.OrderStatusPaid),
	}}

	changes, err := applyTransition(transitionInputs{Order: order}, repositories.OrderTransitionRequest{
		OrderID: "ord_1",
		Target:  domain.OrderStatusProcessing,
		ActorID: "usr_admin",
	}, now)
	if err != nil {
		t.Fatalf("applyTransition error: %v", err)
	}
	history := changes.Order.StatusHistory
	if len(history) != 2 {
		t.Fatalf("expected two history entries, got %d", len(history))
	}
	last := history[1]
	if last.From != string(domain.OrderStatusPaid) || last.To != string(domain.OrderStatusProcessing) || last.ActorID != "usr_admin" {
		t.Fatalf("unexpected history entry: %+v", last)
	}
}
