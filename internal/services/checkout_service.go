package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/quimera-ai/commerce-api/internal/domain"
	"github.com/quimera-ai/commerce-api/internal/payments"
	"github.com/quimera-ai/commerce-api/internal/repositories"
)

const (
	orderIDPrefix        = "ord_"
	orderNumberPrefix    = "QA"
	ordersCounterSuffix  = ".orders"
	defaultOrderCurrency = "usd"
)

var (
	// ErrCheckoutInvalidInput signals the caller provided invalid data.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutProductUnavailable indicates a line references a missing or inactive product.
	ErrCheckoutProductUnavailable = errors.New("checkout: product unavailable")
	// ErrCheckoutDiscountRejected indicates the provided code failed validation.
	ErrCheckoutDiscountRejected = errors.New("checkout: discount rejected")
)

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Products    repositories.ProductRepository
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Discounts   DiscountService
	Customers   CustomerService
	Payments    payments.Provider
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	products  repositories.ProductRepository
	orders    repositories.OrderRepository
	counters  repositories.CounterRepository
	discounts DiscountService
	customers CustomerService
	payments  payments.Provider
	events    OrderEventPublisher
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Products == nil {
		return nil, errors.New("checkout service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("checkout service: counter repository is required")
	}
	if deps.Discounts == nil {
		return nil, errors.New("checkout service: discount service is required")
	}
	if deps.Customers == nil {
		return nil, errors.New("checkout service: customer service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &checkoutService{
		products:  deps.Products,
		orders:    deps.Orders,
		counters:  deps.Counters,
		discounts: deps.Discounts,
		customers: deps.Customers,
		payments:  deps.Payments,
		events:    deps.Events,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

// Checkout builds a pending order from the requested lines. Prices come from
// the catalog, never from the client. Stock is only checked for availability
// here; the decrement happens at payment capture, all-or-nothing.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	if strings.TrimSpace(cmd.StoreID) == "" {
		return CheckoutResult{}, fmt.Errorf("%w: store id is required", ErrCheckoutInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return CheckoutResult{}, fmt.Errorf("%w: at least one line is required", ErrCheckoutInvalidInput)
	}
	if cmd.ShippingCost < 0 {
		return CheckoutResult{}, fmt.Errorf("%w: shipping cost must be >= 0", ErrCheckoutInvalidInput)
	}
	email := strings.ToLower(strings.TrimSpace(cmd.CustomerEmail))
	if email == "" || !strings.Contains(email, "@") {
		return CheckoutResult{}, fmt.Errorf("%w: a valid customer email is required", ErrCheckoutInvalidInput)
	}

	now := s.clock()

	items, subtotal, err := s.priceLines(ctx, cmd.StoreID, cmd.Lines)
	if err != nil {
		return CheckoutResult{}, err
	}

	shipping := cmd.ShippingCost
	var discountAmount int64
	var appliedDiscount *domain.Discount
	if code := strings.TrimSpace(cmd.DiscountCode); code != "" {
		validation, err := s.discounts.Validate(ctx, ValidateDiscountCommand{
			StoreID:  cmd.StoreID,
			Code:     code,
			Subtotal: subtotal,
		})
		if err != nil {
			return CheckoutResult{}, err
		}
		if !validation.Valid {
			return CheckoutResult{}, fmt.Errorf("%w: %s", ErrCheckoutDiscountRejected, validation.Reason)
		}
		discount := validation.Discount
		appliedDiscount = &discount
		discountAmount = CalculateDiscountAmount(discount, subtotal, shipping)
	}

	customer, err := s.customers.FindOrCreate(ctx, FindOrCreateCustomerCommand{
		StoreID: cmd.StoreID,
		Email:   email,
		Name:    cmd.CustomerName,
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	orderNumber, err := s.nextOrderNumber(ctx, cmd.StoreID, now)
	if err != nil {
		return CheckoutResult{}, err
	}

	currency := strings.ToLower(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = defaultOrderCurrency
	}

	order := domain.Order{
		ID:             orderIDPrefix + s.newID(),
		StoreID:        cmd.StoreID,
		OrderNumber:    orderNumber,
		Status:         domain.OrderStatusPending,
		PaymentStatus:  domain.PaymentStatusPending,
		Items:          items,
		Subtotal:       subtotal,
		DiscountAmount: discountAmount,
		ShippingCost:   shipping,
		Total:          subtotal - discountAmount + shipping,
		Currency:       currency,
		CustomerID:     customer.ID,
		CustomerEmail:  customer.Email,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if appliedDiscount != nil {
		order.DiscountID = appliedDiscount.ID
		order.DiscountCode = appliedDiscount.Code
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return CheckoutResult{}, err
	}
	s.logger(ctx, orderEventCreated, map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"total":       order.Total,
	})
	if s.events != nil {
		err := s.events.PublishOrderEvent(ctx, OrderEvent{
			Type:          orderEventCreated,
			StoreID:       cmd.StoreID,
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			CurrentStatus: string(order.Status),
			OccurredAt:    now,
		})
		if err != nil {
			s.logger(ctx, "order.event.publish.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		}
	}

	result := CheckoutResult{Order: order}
	if s.payments != nil {
		session, err := s.openPaymentSession(ctx, order, cmd)
		if err != nil {
			// The pending order survives a session failure; the storefront
			// may retry payment for the same order.
			s.logger(ctx, "checkout.session.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
			return result, err
		}
		result.SessionID = session.ID
		result.RedirectURL = session.RedirectURL
	}
	return result, nil
}

func (s *checkoutService) priceLines(ctx context.Context, storeID string, lines []CheckoutLine) ([]domain.OrderItem, int64, error) {
	items := make([]domain.OrderItem, 0, len(lines))
	var subtotal int64
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, 0, fmt.Errorf("%w: line product id is required", ErrCheckoutInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, 0, fmt.Errorf("%w: line quantity must be positive", ErrCheckoutInvalidInput)
		}

		product, err := s.products.FindByID(ctx, storeID, productID)
		if err != nil {
			if isRepoNotFound(err) {
				return nil, 0, fmt.Errorf("%w: %s", ErrCheckoutProductUnavailable, productID)
			}
			return nil, 0, err
		}
		if !product.Active {
			return nil, 0, fmt.Errorf("%w: %s is not for sale", ErrCheckoutProductUnavailable, productID)
		}
		if product.TrackInventory && product.Quantity < line.Quantity {
			return nil, 0, fmt.Errorf("%w: %s", ErrInsufficientStock, productID)
		}

		total := product.Price * int64(line.Quantity)
		items = append(items, domain.OrderItem{
			ProductID:  product.ID,
			SKU:        product.SKU,
			Name:       product.Name,
			Quantity:   line.Quantity,
			UnitPrice:  product.Price,
			TotalPrice: total,
		})
		subtotal += total
	}
	return items, subtotal, nil
}

// nextOrderNumber allocates "QA-<year>-<seq>" from the store's atomic counter.
func (s *checkoutService) nextOrderNumber(ctx context.Context, storeID string, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, storeID+ordersCounterSuffix, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%06d", orderNumberPrefix, now.Year(), seq), nil
}

func (s *checkoutService) openPaymentSession(ctx context.Context, order domain.Order, cmd CheckoutCommand) (payments.CheckoutSession, error) {
	lineItems := make([]payments.CheckoutLineItem, len(order.Items))
	for i, item := range order.Items {
		lineItems[i] = payments.CheckoutLineItem{
			Name:     item.Name,
			SKU:      item.SKU,
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice,
			Currency: order.Currency,
		}
	}
	return s.payments.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		Amount:     order.Total,
		Currency:   order.Currency,
		SuccessURL: strings.TrimSpace(cmd.SuccessURL),
		CancelURL:  strings.TrimSpace(cmd.CancelURL),
		Metadata: map[string]string{
			"storeId":     order.StoreID,
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
			"total":       strconv.FormatInt(order.Total, 10),
		},
		IdempotencyKey: order.ID,
		Items:          lineItems,
	})
}
