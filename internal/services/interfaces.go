package services

import (
	"context"
	"time"

	domain "github.com/quimera-ai/commerce-api/internal/domain"
)

// Type aliases keep handler signatures on the domain vocabulary.
type (
	Product             = domain.Product
	Discount            = domain.Discount
	Order               = domain.Order
	OrderItem           = domain.OrderItem
	OrderTracking       = domain.OrderTracking
	Customer            = domain.Customer
	RestockSubscription = domain.RestockSubscription
)

// DiscountService validates codes against carts and manages discount definitions.
type DiscountService interface {
	Validate(ctx context.Context, cmd ValidateDiscountCommand) (DiscountValidation, error)
	Create(ctx context.Context, cmd UpsertDiscountCommand) (Discount, error)
	Update(ctx context.Context, cmd UpsertDiscountCommand) (Discount, error)
	Deactivate(ctx context.Context, storeID, discountID string) (Discount, error)
	Delete(ctx context.Context, storeID, discountID string) error
	Get(ctx context.Context, storeID, discountID string) (Discount, error)
	List(ctx context.Context, storeID string, filter DiscountListFilter) (domain.CursorPage[Discount], error)
}

// ValidateDiscountCommand carries the inputs of a code validation.
type ValidateDiscountCommand struct {
	StoreID  string
	Code     string
	Subtotal int64
}

// DiscountValidationReason enumerates rejection causes in check order.
type DiscountValidationReason string

const (
	DiscountReasonNotFound      DiscountValidationReason = "not_found"
	DiscountReasonInactive      DiscountValidationReason = "inactive"
	DiscountReasonNotStarted    DiscountValidationReason = "not_started"
	DiscountReasonExpired       DiscountValidationReason = "expired"
	DiscountReasonExhausted     DiscountValidationReason = "max_uses_reached"
	DiscountReasonMinimumNotMet DiscountValidationReason = "minimum_purchase_not_met"
)

// DiscountValidation is the outcome of validating a code against a subtotal.
type DiscountValidation struct {
	Valid    bool
	Reason   DiscountValidationReason
	Discount Discount
}

// UpsertDiscountCommand carries admin create/update input. A blank Code on
// create requests autogeneration.
type UpsertDiscountCommand struct {
	StoreID         string
	DiscountID      string
	Code            string
	Type            domain.DiscountType
	Value           int64
	MinimumPurchase int64
	MaxUses         *int
	StartsAt        *time.Time
	EndsAt          *time.Time
	IsActive        bool
}

// DiscountListFilter narrows admin discount listings.
type DiscountListFilter struct {
	ActiveOnly bool
	Pagination domain.Pagination
}

// InventoryService owns sanctioned stock mutations and derived stock views.
type InventoryService interface {
	AdjustStock(ctx context.Context, cmd AdjustStockCommand) (Product, error)
	ListLowStock(ctx context.Context, storeID string) ([]Product, error)
	ListOutOfStock(ctx context.Context, storeID string) ([]Product, error)
	SubscribeRestock(ctx context.Context, storeID, productID, email string) (RestockSubscription, error)
	NotifyRestocked(ctx context.Context, storeID, productID string) (int, error)
}

// AdjustStockCommand applies a relative delta or absolute quantity.
type AdjustStockCommand struct {
	StoreID   string
	ProductID string
	Delta     *int
	SetTo     *int
	ActorID   string
	Reason    string
}

// ProductService manages the catalog.
type ProductService interface {
	Create(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	Update(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	Delete(ctx context.Context, storeID, productID string) error
	Get(ctx context.Context, storeID, productID string) (Product, error)
	List(ctx context.Context, storeID string, filter ProductListFilter) (domain.CursorPage[Product], error)
}

// UpsertProductCommand carries admin product input.
type UpsertProductCommand struct {
	StoreID           string
	ProductID         string
	Name              string
	Description       string
	SKU               string
	Price             int64
	Quantity          *int
	TrackInventory    bool
	LowStockThreshold int
	Active            bool
}

// ProductListFilter narrows catalog listings.
type ProductListFilter struct {
	ActiveOnly  bool
	TrackedOnly bool
	Search      string
	Pagination  domain.Pagination
}

// OrderService drives the order lifecycle state machine.
type OrderService interface {
	Get(ctx context.Context, storeID, orderID string) (Order, error)
	List(ctx context.Context, storeID string, filter OrderListFilter) (domain.CursorPage[Order], error)

	// OnPaymentSucceeded captures payment for a pending order. Replays of the
	// same event return the already-paid order without repeating side effects.
	OnPaymentSucceeded(ctx context.Context, cmd PaymentEventCommand) (Order, error)
	// OnPaymentFailed records the failure; the order stays pending.
	OnPaymentFailed(ctx context.Context, cmd PaymentEventCommand) (Order, error)

	Transition(ctx context.Context, cmd TransitionOrderCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	Refund(ctx context.Context, cmd RefundOrderCommand) (Order, error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	CustomerID string
	Status     []domain.OrderStatus
	From       *time.Time
	To         *time.Time
	Pagination domain.Pagination
}

// PaymentEventCommand identifies the order referenced by a payment event.
type PaymentEventCommand struct {
	StoreID    string
	OrderID    string
	PaymentRef string
	Reason     string
}

// TransitionOrderCommand moves an order along the lifecycle.
type TransitionOrderCommand struct {
	StoreID        string
	OrderID        string
	Target         domain.OrderStatus
	ExpectedStatus *domain.OrderStatus
	Tracking       *OrderTracking
	ActorID        string
	Reason         string
}

// CancelOrderCommand cancels an order, restocking when stock was taken.
type CancelOrderCommand struct {
	StoreID string
	OrderID string
	ActorID string
	Reason  string
}

// RefundOrderCommand refunds a captured order.
type RefundOrderCommand struct {
	StoreID string
	OrderID string
	ActorID string
	Reason  string
}

// CustomerService manages store shoppers.
type CustomerService interface {
	FindOrCreate(ctx context.Context, cmd FindOrCreateCustomerCommand) (Customer, error)
	Get(ctx context.Context, storeID, customerID string) (Customer, error)
	List(ctx context.Context, storeID string, filter CustomerListFilter) (domain.CursorPage[Customer], error)
	Tag(ctx context.Context, storeID, customerID string, tags []string) (Customer, error)
	Untag(ctx context.Context, storeID, customerID string, tags []string) (Customer, error)
}

// FindOrCreateCustomerCommand looks a customer up by email, creating on miss.
type FindOrCreateCustomerCommand struct {
	StoreID string
	Email   string
	Name    string
}

// CustomerListFilter narrows customer listings.
type CustomerListFilter struct {
	Tag        string
	Search     string
	Pagination domain.Pagination
}

// CheckoutService builds pending orders and opens payment sessions.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
}

// CheckoutLine is one requested cart line.
type CheckoutLine struct {
	ProductID string
	Quantity  int
}

// CheckoutCommand carries a storefront checkout request.
type CheckoutCommand struct {
	StoreID       string
	Lines         []CheckoutLine
	DiscountCode  string
	CustomerEmail string
	CustomerName  string
	ShippingCost  int64
	Currency      string
	SuccessURL    string
	CancelURL     string
}

// CheckoutResult reports the pending order and the payment session to redirect to.
type CheckoutResult struct {
	Order       Order
	SessionID   string
	RedirectURL string
}

// AnalyticsService computes store reports on demand.
type AnalyticsService interface {
	Report(ctx context.Context, cmd AnalyticsReportCommand) (AnalyticsReport, error)
}

// AnalyticsReportCommand bounds the report period.
type AnalyticsReportCommand struct {
	StoreID string
	From    time.Time
	To      time.Time
}
