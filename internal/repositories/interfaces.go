package repositories

import (
	"context"
	"time"

	domain "github.com/quimera-ai/commerce-api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Discounts() DiscountRepository
	Orders() OrderRepository
	Customers() CustomerRepository
	Counters() CounterRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository persists products and owns the transactional stock mutations.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	Delete(ctx context.Context, storeID, productID string) error
	FindByID(ctx context.Context, storeID, productID string) (domain.Product, error)
	List(ctx context.Context, storeID string, filter ProductListFilter) (domain.CursorPage[domain.Product], error)

	// AdjustStock applies an absolute or relative stock change inside a
	// transaction; the resulting quantity must never drop below zero.
	AdjustStock(ctx context.Context, req StockAdjustment) (StockAdjustmentResult, error)

	SubscribeRestock(ctx context.Context, storeID, productID, email string, now time.Time) (domain.RestockSubscription, error)
	ListRestockSubscribers(ctx context.Context, storeID, productID string) ([]domain.RestockSubscription, error)
	MarkRestockNotified(ctx context.Context, storeID, productID string, subscriptionIDs []string, now time.Time) error
}

// StockAdjustment mutates a single product's on-hand quantity.
// Exactly one of Delta or SetTo must be provided.
type StockAdjustment struct {
	StoreID   string
	ProductID string
	Delta     *int
	SetTo     *int
	ActorID   string
	Reason    string
	Now       time.Time
}

// StockAdjustmentResult reports the post-adjustment product and whether the
// quantity transitioned from zero to positive (a restock).
type StockAdjustmentResult struct {
	Product   domain.Product
	Restocked bool
}

// DiscountRepository maintains discount definitions with per-store code uniqueness.
// Code uniqueness is enforced by a transactional insert of a code index document,
// not by a post-hoc existence check.
type DiscountRepository interface {
	Insert(ctx context.Context, discount domain.Discount) error
	Update(ctx context.Context, discount domain.Discount) error
	Delete(ctx context.Context, storeID, discountID string) error
	FindByID(ctx context.Context, storeID, discountID string) (domain.Discount, error)
	FindByCode(ctx context.Context, storeID, code string) (domain.Discount, error)
	List(ctx context.Context, storeID string, filter DiscountListFilter) (domain.CursorPage[domain.Discount], error)
}

// OrderRepository persists orders and owns the multi-document lifecycle transactions.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, storeID, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)

	// CapturePayment performs the atomic pending->paid transition: all-or-nothing
	// inventory decrement, discount usage increment bounded by maxUses, and
	// customer stat increments. Calling it for an order that is already paid or
	// further along is a no-op reported via AlreadyPaid.
	CapturePayment(ctx context.Context, req CapturePaymentRequest) (CapturePaymentResult, error)

	// Transition applies a lifecycle move inside a transaction, validating the
	// adjacency against the freshly read status. Cancellations after capture
	// restock inventory; refunds reverse the customer's totalSpent contribution.
	Transition(ctx context.Context, req OrderTransitionRequest) (OrderTransitionResult, error)

	// MarkPaymentFailed records a failed capture attempt; the order stays pending.
	MarkPaymentFailed(ctx context.Context, req PaymentFailureRequest) (domain.Order, error)
}

// CapturePaymentRequest identifies the order whose payment succeeded.
type CapturePaymentRequest struct {
	StoreID    string
	OrderID    string
	PaymentRef string
	Now        time.Time
}

// CapturePaymentResult reports the post-capture order and restock bookkeeping.
type CapturePaymentResult struct {
	Order       domain.Order
	AlreadyPaid bool
	// Emptied lists products whose quantity reached zero during this capture.
	Emptied []StockMovement
}

// OrderTransitionRequest carries a lifecycle move and its side-effect inputs.
type OrderTransitionRequest struct {
	StoreID        string
	OrderID        string
	Target         domain.OrderStatus
	ExpectedStatus *domain.OrderStatus
	Tracking       *domain.OrderTracking
	ActorID        string
	Reason         string
	Now            time.Time
}

// OrderTransitionResult reports the updated order and any inventory reversals.
type OrderTransitionResult struct {
	Order domain.Order
	// Restocked lists products whose stock was restored by a cancellation,
	// flagged when the quantity transitioned from zero to positive.
	Restocked []StockMovement
}

// StockMovement describes one product's quantity change inside a lifecycle transaction.
type StockMovement struct {
	ProductID string
	SKU       string
	Quantity  int
	FromZero  bool
	ToZero    bool
}

// PaymentFailureRequest records the failure surfaced by the payment processor.
type PaymentFailureRequest struct {
	StoreID    string
	OrderID    string
	PaymentRef string
	Reason     string
	Now        time.Time
}

// CustomerRepository stores customers with per-store email uniqueness enforced
// by a transactional email index insert.
type CustomerRepository interface {
	Insert(ctx context.Context, customer domain.Customer) error
	Update(ctx context.Context, customer domain.Customer) error
	FindByID(ctx context.Context, storeID, customerID string) (domain.Customer, error)
	FindByEmail(ctx context.Context, storeID, email string) (domain.Customer, error)
	List(ctx context.Context, storeID string, filter CustomerListFilter) (domain.CursorPage[domain.Customer], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// Filter DTOs shared across repositories ------------------------------------

type ProductListFilter struct {
	ActiveOnly  bool
	TrackedOnly bool
	Search      string
	Pagination  domain.Pagination
}

type DiscountListFilter struct {
	ActiveOnly bool
	Pagination domain.Pagination
}

type OrderListFilter struct {
	StoreID    string
	CustomerID string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type CustomerListFilter struct {
	Tag        string
	Search     string
	Pagination domain.Pagination
}
