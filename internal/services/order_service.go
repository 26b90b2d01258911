package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/quimera-ai/commerce-api/internal/domain"
	"github.com/quimera-ai/commerce-api/internal/payments"
	"github.com/quimera-ai/commerce-api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventPaid          = "order.paid"
	orderEventPaymentFailed = "order.payment.failed"
	orderEventStatusChanged = "order.status.changed"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates the expected-status guard failed or writers raced.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderTrackingRequired indicates a move to shipped without tracking details.
	ErrOrderTrackingRequired = errors.New("order: tracking details required")
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	StoreID        string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Inventory   InventoryService
	Payments    payments.Provider
	Events      OrderEventPublisher
	StockEvents StockEventPublisher
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	inventory   InventoryService
	payments    payments.Provider
	events      OrderEventPublisher
	stockEvents StockEventPublisher
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		orders:      deps.Orders,
		inventory:   deps.Inventory,
		payments:    deps.Payments,
		events:      deps.Events,
		stockEvents: deps.StockEvents,
		clock:       func() time.Time { return clock().UTC() },
		logger:      logger,
	}, nil
}

func (s *orderService) Get(ctx context.Context, storeID, orderID string) (Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, storeID, orderID)
	if err != nil {
		return Order{}, translateOrderError(err, orderID)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, storeID string, filter OrderListFilter) (domain.CursorPage[Order], error) {
	return s.orders.List(ctx, repositories.OrderListFilter{
		StoreID:    storeID,
		CustomerID: filter.CustomerID,
		Status:     filter.Status,
		DateRange:  domain.RangeQuery[time.Time]{From: filter.From, To: filter.To},
		Pagination: filter.Pagination,
	})
}

// OnPaymentSucceeded captures payment for the order. The repository runs the
// whole capture in one transaction, so a replayed event observes the paid
// status and returns without repeating inventory, discount, or customer
// side effects.
func (s *orderService) OnPaymentSucceeded(ctx context.Context, cmd PaymentEventCommand) (Order, error) {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	result, err := s.orders.CapturePayment(ctx, repositories.CapturePaymentRequest{
		StoreID:    cmd.StoreID,
		OrderID:    cmd.OrderID,
		PaymentRef: strings.TrimSpace(cmd.PaymentRef),
		Now:        now,
	})
	if err != nil {
		return Order{}, translateOrderError(err, cmd.OrderID)
	}
	if result.AlreadyPaid {
		s.logger(ctx, "order.payment.duplicate", map[string]any{
			"orderId":    cmd.OrderID,
			"paymentRef": cmd.PaymentRef,
		})
		return result.Order, nil
	}

	order := result.Order
	s.logger(ctx, orderEventPaid, map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"total":       order.Total,
	})
	s.publish(ctx, OrderEvent{
		Type:           orderEventPaid,
		StoreID:        cmd.StoreID,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(domain.OrderStatusPending),
		CurrentStatus:  string(order.Status),
		OccurredAt:     now,
		Metadata:       map[string]any{"paymentRef": order.PaymentRef},
	})

	// Lines the capture exhausted get out-of-stock events, mirroring what an
	// admin adjustment to zero would emit.
	if s.stockEvents != nil {
		for _, movement := range result.Emptied {
			if !movement.ToZero {
				continue
			}
			if err := s.stockEvents.PublishStockEvent(ctx, StockEvent{
				Type:       stockEventOut,
				StoreID:    cmd.StoreID,
				ProductID:  movement.ProductID,
				SKU:        movement.SKU,
				Quantity:   0,
				OccurredAt: now,
			}); err != nil {
				// Event delivery must not undo a committed capture.
				s.logger(ctx, "order.stock.publish.failed", map[string]any{
					"orderId":   order.ID,
					"productId": movement.ProductID,
					"error":     err.Error(),
				})
			}
		}
	}
	return order, nil
}

// OnPaymentFailed records the failure. The order stays pending so the
// customer may retry payment.
func (s *orderService) OnPaymentFailed(ctx context.Context, cmd PaymentEventCommand) (Order, error) {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	order, err := s.orders.MarkPaymentFailed(ctx, repositories.PaymentFailureRequest{
		StoreID:    cmd.StoreID,
		OrderID:    cmd.OrderID,
		PaymentRef: strings.TrimSpace(cmd.PaymentRef),
		Reason:     strings.TrimSpace(cmd.Reason),
		Now:        now,
	})
	if err != nil {
		return Order{}, translateOrderError(err, cmd.OrderID)
	}

	s.logger(ctx, orderEventPaymentFailed, map[string]any{
		"orderId": order.ID,
		"reason":  cmd.Reason,
	})
	s.publish(ctx, OrderEvent{
		Type:          orderEventPaymentFailed,
		StoreID:       cmd.StoreID,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: string(order.Status),
		OccurredAt:    now,
		Metadata:      map[string]any{"reason": cmd.Reason},
	})
	return order, nil
}

// Transition applies an explicit lifecycle move with an optional
// expected-status guard.
func (s *orderService) Transition(ctx context.Context, cmd TransitionOrderCommand) (Order, error) {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !domain.KnownOrderStatus(cmd.Target) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Target)
	}
	// Paid is only reached through payment capture, which decrements stock,
	// counts discount usage and updates customer totals in one transaction.
	if cmd.Target == domain.OrderStatusPaid {
		return Order{}, fmt.Errorf("%w: paid is set by payment capture", ErrOrderInvalidState)
	}
	if cmd.Target == domain.OrderStatusShipped && cmd.Tracking != nil {
		if strings.TrimSpace(cmd.Tracking.Carrier) == "" || strings.TrimSpace(cmd.Tracking.TrackingNumber) == "" {
			return Order{}, fmt.Errorf("%w: carrier and tracking number are required", ErrOrderTrackingRequired)
		}
	}

	now := s.clock()
	result, err := s.orders.Transition(ctx, repositories.OrderTransitionRequest{
		StoreID:        cmd.StoreID,
		OrderID:        cmd.OrderID,
		Target:         cmd.Target,
		ExpectedStatus: cmd.ExpectedStatus,
		Tracking:       cmd.Tracking,
		ActorID:        strings.TrimSpace(cmd.ActorID),
		Reason:         strings.TrimSpace(cmd.Reason),
		Now:            now,
	})
	if err != nil {
		return Order{}, translateOrderError(err, cmd.OrderID)
	}

	order := result.Order
	previous := string(cmd.Target)
	if n := len(order.StatusHistory); n > 0 {
		previous = string(order.StatusHistory[n-1].From)
	}
	s.logger(ctx, orderEventStatusChanged, map[string]any{
		"orderId": order.ID,
		"from":    previous,
		"to":      string(order.Status),
		"actorId": cmd.ActorID,
	})
	s.publish(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		StoreID:        cmd.StoreID,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: previous,
		CurrentStatus:  string(order.Status),
		ActorID:        cmd.ActorID,
		OccurredAt:     now,
	})

	// Back-in-stock alerts for lines a cancellation restored from zero.
	if s.inventory != nil {
		for _, movement := range result.Restocked {
			if !movement.FromZero {
				continue
			}
			if _, err := s.inventory.NotifyRestocked(ctx, cmd.StoreID, movement.ProductID); err != nil {
				s.logger(ctx, "order.restock.notify.failed", map[string]any{
					"orderId":   order.ID,
					"productId": movement.ProductID,
					"error":     err.Error(),
				})
			}
		}
	}
	return order, nil
}

// Cancel moves the order to cancelled, restocking when stock had been taken.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	return s.Transition(ctx, TransitionOrderCommand{
		StoreID: cmd.StoreID,
		OrderID: cmd.OrderID,
		Target:  domain.OrderStatusCancelled,
		ActorID: cmd.ActorID,
		Reason:  cmd.Reason,
	})
}

// Refund returns the payment through the PSP, then moves the order to
// refunded, reversing the customer's spend. The PSP refund must succeed
// before the status changes; a failed refund leaves the order untouched.
func (s *orderService) Refund(ctx context.Context, cmd RefundOrderCommand) (Order, error) {
	order, err := s.Get(ctx, cmd.StoreID, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}

	if s.payments != nil && order.PaymentRef != "" {
		_, err := s.payments.Refund(ctx, payments.RefundRequest{
			IntentID:       order.PaymentRef,
			Reason:         cmd.Reason,
			IdempotencyKey: "refund-" + order.ID,
			Metadata: map[string]string{
				"storeId": order.StoreID,
				"orderId": order.ID,
			},
		})
		if err != nil {
			return Order{}, fmt.Errorf("order: refund payment: %w", err)
		}
	}

	return s.Transition(ctx, TransitionOrderCommand{
		StoreID: cmd.StoreID,
		OrderID: cmd.OrderID,
		Target:  domain.OrderStatusRefunded,
		ActorID: cmd.ActorID,
		Reason:  cmd.Reason,
	})
}

func (s *orderService) publish(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		// Event delivery must not undo a committed lifecycle write.
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":    event.Type,
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
	}
}

func translateOrderError(err error, orderID string) error {
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorInvalidTransition:
			return fmt.Errorf("%w: %s", ErrOrderInvalidState, orderErr.Message)
		case repositories.OrderErrorStatusMismatch:
			return fmt.Errorf("%w: %s", ErrOrderConflict, orderErr.Message)
		case repositories.OrderErrorTrackingRequired:
			return fmt.Errorf("%w: %s", ErrOrderTrackingRequired, orderErr.Message)
		}
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorInsufficientStock {
		return fmt.Errorf("%w: %s", ErrInsufficientStock, invErr.Message)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
	}
	return err
}
