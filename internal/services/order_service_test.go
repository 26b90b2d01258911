package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/quimera-ai/commerce-api/internal/domain"
	"github.com/quimera-ai/commerce-api/internal/repositories"
)

type stubRepoError struct {
	notFound bool
	conflict bool
}

func (e stubRepoError) Error() string       { return "repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return false }

type stubOrderRepository struct {
	inserted  []domain.Order
	insertErr error

	findOrder domain.Order
	findErr   error

	pages       []domain.CursorPage[domain.Order]
	listFilters []repositories.OrderListFilter

	captureResult repositories.CapturePaymentResult
	captureErr    error
	captureReqs   []repositories.CapturePaymentRequest

	transitionResult repositories.OrderTransitionResult
	transitionErr    error
	transitionReqs   []repositories.OrderTransitionRequest

	failedOrder domain.Order
	failedErr   error
	failedReqs  []repositories.PaymentFailureRequest
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	s.inserted = append(s.inserted, order)
	return s.insertErr
}

func (s *stubOrderRepository) FindByID(ctx context.Context, storeID, orderID string) (domain.Order, error) {
	return s.findOrder, s.findErr
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	s.listFilters = append(s.listFilters, filter)
	if len(s.pages) == 0 {
		return domain.CursorPage[domain.Order]{}, nil
	}
	page := s.pages[0]
	s.pages = s.pages[1:]
	return page, nil
}

func (s *stubOrderRepository) CapturePayment(ctx context.Context, req repositories.CapturePaymentRequest) (repositories.CapturePaymentResult, error) {
	s.captureReqs = append(s.captureReqs, req)
	return s.captureResult, s.captureErr
}

func (s *stubOrderRepository) Transition(ctx context.Context, req repositories.OrderTransitionRequest) (repositories.OrderTransitionResult, error) {
	s.transitionReqs = append(s.transitionReqs, req)
	return s.transitionResult, s.transitionErr
}

func (s *stubOrderRepository) MarkPaymentFailed(ctx context.Context, req repositories.PaymentFailureRequest) (domain.Order, error) {
	s.failedReqs = append(s.failedReqs, req)
	return s.failedOrder, s.failedErr
}

type stubOrderEvents struct {
	events []OrderEvent
	err    error
}

func (s *stubOrderEvents) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	s.events = append(s.events, event)
	return s.err
}

type stubInventoryService struct {
	notified  []string
	notifyErr error
}

func (s *stubInventoryService) AdjustStock(ctx context.Context, cmd AdjustStockCommand) (Product, error) {
	return Product{}, nil
}

func (s *stubInventoryService) ListLowStock(ctx context.Context, storeID string) ([]Product, error) {
	return nil, nil
}

func (s *stubInventoryService) ListOutOfStock(ctx context.Context, storeID string) ([]Product, error) {
	return nil, nil
}

func (s *stubInventoryService) SubscribeRestock(ctx context.Context, storeID, productID, email string) (RestockSubscription, error) {
	return RestockSubscription{}, nil
}

func (s *stubInventoryService) NotifyRestocked(ctx context.Context, storeID, productID string) (int, error) {
	s.notified = append(s.notified, productID)
	return len(s.notified), s.notifyErr
}

func newOrderServiceForTest(t *testing.T, repo *stubOrderRepository, inventory InventoryService, events *stubOrderEvents, now time.Time) OrderService {
	t.Helper()
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:    repo,
		Inventory: inventory,
		Events:    events,
		Clock:     fixedClock(now),
	})
	if err != nil {
		t.Fatalf("NewOrderService error: %v", err)
	}
	return svc
}

func TestOrderService_OnPaymentSucceeded_CapturesAndPublishes(t *testing.T) {
	now := time.Date(2026, time.April, 2, 9, 30, 0, 0, time.UTC)
	paid := domain.Order{
		ID:          "ord_1",
		StoreID:     "store_1",
		OrderNumber: "QA-2026-000042",
		Status:      domain.OrderStatusPaid,
		Total:       4300,
		PaymentRef:  "pi_123",
	}
	repo := &stubOrderRepository{captureResult: repositories.CapturePaymentResult{Order: paid}}
	events := &stubOrderEvents{}
	svc := newOrderServiceForTest(t, repo, nil, events, now)

	order, err := svc.OnPaymentSucceeded(context.Background(), PaymentEventCommand{
		StoreID:    "store_1",
		OrderID:    "ord_1",
		PaymentRef: " pi_123 ",
	})
	if err != nil {
		t.Fatalf("OnPaymentSucceeded error: %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid order, got %q", order.Status)
	}
	if len(repo.captureReqs) != 1 {
		t.Fatalf("expected one capture, got %d", len(repo.captureReqs))
	}
	if repo.captureReqs[0].PaymentRef != "pi_123" {
		t.Fatalf("expected trimmed payment ref pi_123, got %q", repo.captureReqs[0].PaymentRef)
	}
	if !repo.captureReqs[0].Now.Equal(now) {
		t.Fatalf("expected capture timestamp %v, got %v", now, repo.captureReqs[0].Now)
	}
	if len(events.events) != 1 {
		t.Fatalf("expected one event, got %d", len(events.events))
	}
	event := events.events[0]
	if event.Type != "order.paid" {
		t.Fatalf("expected order.paid event, got %q", event.Type)
	}
	if event.PreviousStatus != "pending" || event.CurrentStatus != "paid" {
		t.Fatalf("expected pending->paid, got %q->%q", event.PreviousStatus, event.CurrentStatus)
	}
}

func TestOrderService_OnPaymentSucceeded_PublishesOutOfStockForEmptiedLines(t *testing.T) {
	now := time.Date(2026, time.April, 2, 9, 30, 0, 0, time.UTC)
	repo := &stubOrderRepository{
		captureResult: repositories.CapturePaymentResult{
			Order: domain.Order{ID: "ord_1", StoreID: "store_1", Status: domain.OrderStatusPaid},
			Emptied: []repositories.StockMovement{
				{ProductID: "prd_mug", SKU: "MUG-1", Quantity: 3, ToZero: true},
			},
		},
	}
	stockEvents := &stubStockEvents{}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      repo,
		Events:      &stubOrderEvents{},
		StockEvents: stockEvents,
		Clock:       fixedClock(now),
	})
	if err != nil {
		t.Fatalf("NewOrderService error: %v", err)
	}

	if _, err := svc.OnPaymentSucceeded(context.Background(), PaymentEventCommand{
		StoreID: "store_1",
		OrderID: "ord_1",
	}); err != nil {
		t.Fatalf("OnPaymentSucceeded error: %v", err)
	}
	if len(stockEvents.events) != 1 {
		t.Fatalf("expected one stock event, got %d", len(stockEvents.events))
	}
	event := stockEvents.events[0]
	if event.Type != "inventory.out_of_stock" || event.ProductID != "prd_mug" || event.SKU != "MUG-1" {
		t.Fatalf("unexpected stock event: %+v", event)
	}
	if event.Quantity != 0 {
		t.Fatalf("expected quantity 0, got %d", event.Quantity)
	}
}

func TestOrderService_OnPaymentSucceeded_DuplicateDeliveryIsSilent(t *testing.T) {
	repo := &stubOrderRepository{
		captureResult: repositories.CapturePaymentResult{
			Order:       domain.Order{ID: "ord_1", Status: domain.OrderStatusPaid},
			AlreadyPaid: true,
		},
	}
	events := &stubOrderEvents{}
	svc := newOrderServiceForTest(t, repo, nil, events, time.Now())

	order, err := svc.OnPaymentSucceeded(context.Background(), PaymentEventCommand{
		StoreID: "store_1",
		OrderID: "ord_1",
	})
	if err != nil {
		t.Fatalf("OnPaymentSucceeded error: %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid order, got %q", order.Status)
	}
	if len(events.events) != 0 {
		t.Fatalf("expected no events on replay, got %d", len(events.events))
	}
}

func TestOrderService_OnPaymentSucceeded_UnknownOrder(t *testing.T) {
	repo := &stubOrderRepository{captureErr: stubRepoError{notFound: true}}
	svc := newOrderServiceForTest(t, repo, nil, &stubOrderEvents{}, time.Now())

	_, err := svc.OnPaymentSucceeded(context.Background(), PaymentEventCommand{
		StoreID: "store_1",
		OrderID: "ord_missing",
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderService_OnPaymentFailed_RecordsReason(t *testing.T) {
	now := time.Date(2026, time.April, 2, 9, 30, 0, 0, time.UTC)
	repo := &stubOrderRepository{
		failedOrder: domain.Order{
			ID:          "ord_1",
			OrderNumber: "QA-2026-000042",
			Status:      domain.OrderStatusPending,
		},
	}
	events := &stubOrderEvents{}
	svc := newOrderServiceForTest(t, repo, nil, events, now)

	order, err := svc.OnPaymentFailed(context.Background(), PaymentEventCommand{
		StoreID:    "store_1",
		OrderID:    "ord_1",
		PaymentRef: "pi_123",
		Reason:     "card declined",
	})
	if err != nil {
		t.Fatalf("OnPaymentFailed error: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected order to stay pending, got %q", order.Status)
	}
	if len(repo.failedReqs) != 1 || repo.failedReqs[0].Reason != "card declined" {
		t.Fatalf("expected failure recorded with reason, got %+v", repo.failedReqs)
	}
	if len(events.events) != 1 || events.events[0].Type != "order.payment.failed" {
		t.Fatalf("expected order.payment.failed event, got %+v", events.events)
	}
	if events.events[0].Metadata["reason"] != "card declined" {
		t.Fatalf("expected reason in event metadata, got %+v", events.events[0].Metadata)
	}
}

func TestOrderService_Transition_RejectsUnknownTarget(t *testing.T) {
	repo := &stubOrderRepository{}
	svc := newOrderServiceForTest(t, repo, nil, &stubOrderEvents{}, time.Now())

	_, err := svc.Transition(context.Background(), TransitionOrderCommand{
		StoreID: "store_1",
		OrderID: "ord_1",
		Target:  domain.OrderStatus("archived"),
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
	if len(repo.transitionReqs) != 0 {
		t.Fatalf("expected no repository call, got %d", len(repo.transitionReqs))
	}
}

func TestOrderService_Transition_RejectsPaidTarget(t *testing.T) {
	repo := &stubOrderRepository{}
	svc := newOrderServiceForTest(t, repo, nil, &stubOrderEvents{}, time.Now())

	_, err := svc.Transition(context.Background(), TransitionOrderCommand{
		StoreID: "store_1",
		OrderID: "ord_1",
		Target:  domain.OrderStatusPaid,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
	if len(repo.transitionReqs) != 0 {
		t.Fatalf("expected no repository call, got %d", len(repo.transitionReqs))
	}
}

func TestOrderService_Transition_ShippedRequiresTrackingDetails(t *testing.T) {
	repo := &stubOrderRepository{}
	svc := newOrderServiceForTest(t, repo, nil, &stubOrderEvents{}, time.Now())

	_, err := svc.Transition(context.Background(), TransitionOrderCommand{
		StoreID:  "store_1",
		OrderID:  "ord_1",
		Target:   domain.OrderStatusShipped,
		Tracking: &domain.OrderTracking{Carrier: "dhl"},
	})
	if !errors.Is(err, ErrOrderTrackingRequired) {
		t.Fatalf("expected ErrOrderTrackingRequired, got %v", err)
	}
	if len(repo.transitionReqs) != 0 {
		t.Fatalf("expected no repository call, got %d", len(repo.transitionReqs))
	}
}

func TestOrderService_Transition_TranslatesRepositoryErrors(t *testing.T) {
	cases := []struct {
		name    string
		repoErr error
		want    error
	}{
		{
			name:    "invalid transition",
			repoErr: repositories.NewOrderError(repositories.OrderErrorInvalidTransition, "delivered orders cannot ship", nil),
			want:    ErrOrderInvalidState,
		},
		{
			name:    "expected status mismatch",
			repoErr: repositories.NewOrderError(repositories.OrderErrorStatusMismatch, "status changed underneath", nil),
			want:    ErrOrderConflict,
		},
		{
			name:    "tracking enforced by repository",
			repoErr: repositories.NewOrderError(repositories.OrderErrorTrackingRequired, "tracking required", nil),
			want:    ErrOrderTrackingRequired,
		},
		{
			name:    "order missing",
			repoErr: stubRepoError{notFound: true},
			want:    ErrOrderNotFound,
		},
		{
			name:    "writers raced",
			repoErr: stubRepoError{conflict: true},
			want:    ErrOrderConflict,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubOrderRepository{transitionErr: tc.repoErr}
			svc := newOrderServiceForTest(t, repo, nil, &stubOrderEvents{}, time.Now())

			_, err := svc.Transition(context.Background(), TransitionOrderCommand{
				StoreID: "store_1",
				OrderID: "ord_1",
				Target:  domain.OrderStatusProcessing,
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestOrderService_Cancel_NotifiesRestockedFromZero(t *testing.T) {
	now := time.Date(2026, time.April, 2, 9, 30, 0, 0, time.UTC)
	cancelled := domain.Order{
		ID:          "ord_1",
		OrderNumber: "QA-2026-000042",
		Status:      domain.OrderStatusCancelled,
		StatusHistory: []domain.OrderStatusChange{
			{From: domain.OrderStatusPending, To: domain.OrderStatusPaid},
			{From: domain.OrderStatusPaid, To: domain.OrderStatusCancelled},
		},
	}
	repo := &stubOrderRepository{
		transitionResult: repositories.OrderTransitionResult{
			Order: cancelled,
			Restocked: []repositories.StockMovement{
				{ProductID: "prd_1", Quantity: 2, FromZero: true},
				{ProductID: "prd_2", Quantity: 1, FromZero: false},
			},
		},
	}
	inventory := &stubInventoryService{}
	events := &stubOrderEvents{}
	svc := newOrderServiceForTest(t, repo, inventory, events, now)

	order, err := svc.Cancel(context.Background(), CancelOrderCommand{
		StoreID: "store_1",
		OrderID: "ord_1",
		ActorID: "user_9",
		Reason:  "customer request",
	})
	if err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled order, got %q", order.Status)
	}
	if len(repo.transitionReqs) != 1 {
		t.Fatalf("expected one transition, got %d", len(repo.transitionReqs))
	}
	req := repo.transitionReqs[0]
	if req.Target != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled target, got %q", req.Target)
	}
	if req.Reason != "customer request" || req.ActorID != "user_9" {
		t.Fatalf("expected actor and reason forwarded, got %+v", req)
	}
	if len(inventory.notified) != 1 || inventory.notified[0] != "prd_1" {
		t.Fatalf("expected restock alert for prd_1 only, got %v", inventory.notified)
	}
	if len(events.events) != 1 || events.events[0].Type != "order.status.changed" {
		t.Fatalf("expected status change event, got %+v", events.events)
	}
	if events.events[0].PreviousStatus != "paid" {
		t.Fatalf("expected previous status paid, got %q", events.events[0].PreviousStatus)
	}
}

func TestOrderService_Cancel_NotifyFailureDoesNotFailCancel(t *testing.T) {
	repo := &stubOrderRepository{
		transitionResult: repositories.OrderTransitionResult{
			Order:     domain.Order{ID: "ord_1", Status: domain.OrderStatusCancelled},
			Restocked: []repositories.StockMovement{{ProductID: "prd_1", FromZero: true}},
		},
	}
	inventory := &stubInventoryService{notifyErr: errors.New("pubsub unavailable")}
	svc := newOrderServiceForTest(t, repo, inventory, &stubOrderEvents{}, time.Now())

	if _, err := svc.Cancel(context.Background(), CancelOrderCommand{StoreID: "store_1", OrderID: "ord_1"}); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
}

func TestOrderService_Refund_TargetsRefunded(t *testing.T) {
	repo := &stubOrderRepository{
		transitionResult: repositories.OrderTransitionResult{
			Order: domain.Order{ID: "ord_1", Status: domain.OrderStatusRefunded},
		},
	}
	svc := newOrderServiceForTest(t, repo, nil, &stubOrderEvents{}, time.Now())

	order, err := svc.Refund(context.Background(), RefundOrderCommand{
		StoreID: "store_1",
		OrderID: "ord_1",
		Reason:  "damaged in transit",
	})
	if err != nil {
		t.Fatalf("Refund error: %v", err)
	}
	if order.Status != domain.OrderStatusRefunded {
		t.Fatalf("expected refunded order, got %q", order.Status)
	}
	if len(repo.transitionReqs) != 1 || repo.transitionReqs[0].Target != domain.OrderStatusRefunded {
		t.Fatalf("expected refunded target, got %+v", repo.transitionReqs)
	}
}

func TestOrderService_Refund_ReturnsPaymentThroughProvider(t *testing.T) {
	repo := &stubOrderRepository{
		findOrder: domain.Order{ID: "ord_1", StoreID: "store_1", Status: domain.OrderStatusPaid, PaymentRef: "pi_123"},
		transitionResult: repositories.OrderTransitionResult{
			Order: domain.Order{ID: "ord_1", Status: domain.OrderStatusRefunded},
		},
	}
	provider := &stubPaymentProvider{}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   repo,
		Payments: provider,
		Clock:    fixedClock(time.Now()),
	})
	if err != nil {
		t.Fatalf("NewOrderService error: %v", err)
	}

	order, err := svc.Refund(context.Background(), RefundOrderCommand{
		StoreID: "store_1",
		OrderID: "ord_1",
		Reason:  "requested_by_customer",
	})
	if err != nil {
		t.Fatalf("Refund error: %v", err)
	}
	if order.Status != domain.OrderStatusRefunded {
		t.Fatalf("expected refunded order, got %q", order.Status)
	}
	if len(provider.refunds) != 1 {
		t.Fatalf("expected one provider refund, got %d", len(provider.refunds))
	}
	refund := provider.refunds[0]
	if refund.IntentID != "pi_123" {
		t.Fatalf("expected refund of pi_123, got %q", refund.IntentID)
	}
	if refund.IdempotencyKey != "refund-ord_1" {
		t.Fatalf("expected idempotency key refund-ord_1, got %q", refund.IdempotencyKey)
	}
}

func TestOrderService_Refund_ProviderFailureLeavesOrderUntouched(t *testing.T) {
	repo := &stubOrderRepository{
		findOrder: domain.Order{ID: "ord_1", StoreID: "store_1", Status: domain.OrderStatusPaid, PaymentRef: "pi_123"},
	}
	provider := &stubPaymentProvider{refundErr: errors.New("psp unavailable")}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   repo,
		Payments: provider,
		Clock:    fixedClock(time.Now()),
	})
	if err != nil {
		t.Fatalf("NewOrderService error: %v", err)
	}

	if _, err := svc.Refund(context.Background(), RefundOrderCommand{StoreID: "store_1", OrderID: "ord_1"}); err == nil {
		t.Fatalf("expected refund error")
	}
	if len(repo.transitionReqs) != 0 {
		t.Fatalf("expected no transition after failed refund, got %d", len(repo.transitionReqs))
	}
}

func TestOrderService_EventPublishFailureDoesNotFailWrite(t *testing.T) {
	repo := &stubOrderRepository{
		captureResult: repositories.CapturePaymentResult{
			Order: domain.Order{ID: "ord_1", Status: domain.OrderStatusPaid},
		},
	}
	events := &stubOrderEvents{err: errors.New("publish failed")}
	svc := newOrderServiceForTest(t, repo, nil, events, time.Now())

	if _, err := svc.OnPaymentSucceeded(context.Background(), PaymentEventCommand{StoreID: "store_1", OrderID: "ord_1"}); err != nil {
		t.Fatalf("OnPaymentSucceeded error: %v", err)
	}
}
