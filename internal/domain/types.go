package domain

import "time"

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a result page together with the continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// DiscountType enumerates the supported discount semantics.
type DiscountType string

const (
	DiscountTypePercentage   DiscountType = "percentage"
	DiscountTypeFixedAmount  DiscountType = "fixed_amount"
	DiscountTypeFreeShipping DiscountType = "free_shipping"
)

// KnownDiscountType reports whether the value is one of the supported variants.
func KnownDiscountType(t DiscountType) bool {
	switch t {
	case DiscountTypePercentage, DiscountTypeFixedAmount, DiscountTypeFreeShipping:
		return true
	}
	return false
}

// OrderStatus enumerates the order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// PaymentStatus tracks the payment state independently of fulfillment.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// orderTransitions defines the adjacency of the order state machine.
// Forward moves follow the fulfillment sequence; cancelled and refunded are
// side exits listed explicitly. Anything absent is invalid.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:       {OrderStatusProcessing, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusRefunded},
	OrderStatusDelivered:  {OrderStatusRefunded},
}

// CanTransition reports whether an order may move from current to target.
func CanTransition(current, target OrderStatus) bool {
	for _, next := range orderTransitions[current] {
		if next == target {
			return true
		}
	}
	return false
}

// KnownOrderStatus reports whether the raw value maps onto a defined state.
// Unrecognised statuses are rejected at transition points rather than defaulted.
func KnownOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// StockAffected reports whether inventory was decremented while the order held
// this status, which decides whether a cancellation must restock.
func StockAffected(s OrderStatus) bool {
	switch s {
	case OrderStatusPaid, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered:
		return true
	}
	return false
}

// DefaultLowStockThreshold applies when a product has no explicit threshold configured.
const DefaultLowStockThreshold = 5

// Product is a sellable item belonging to a single store.
type Product struct {
	ID                string
	StoreID           string
	Name              string
	Description       string
	SKU               string
	Price             int64
	Quantity          int
	TrackInventory    bool
	LowStockThreshold int
	Active            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EffectiveLowStockThreshold resolves the configured threshold or the default.
func (p Product) EffectiveLowStockThreshold() int {
	if p.LowStockThreshold > 0 {
		return p.LowStockThreshold
	}
	return DefaultLowStockThreshold
}

// LowStock reports whether the product is tracked, at or below its threshold, and not exhausted.
func (p Product) LowStock() bool {
	return p.TrackInventory && p.Quantity > 0 && p.Quantity <= p.EffectiveLowStockThreshold()
}

// OutOfStock reports whether the product is tracked and fully exhausted.
func (p Product) OutOfStock() bool {
	return p.TrackInventory && p.Quantity == 0
}

// Discount is a redeemable code entitling a cart to a price reduction.
type Discount struct {
	ID              string
	StoreID         string
	Code            string
	Type            DiscountType
	Value           int64
	MinimumPurchase int64
	MaxUses         *int
	UsedCount       int
	StartsAt        *time.Time
	EndsAt          *time.Time
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Exhausted reports whether the usage cap has been reached.
func (d Discount) Exhausted() bool {
	return d.MaxUses != nil && d.UsedCount >= *d.MaxUses
}

// OrderItem is one priced line of an order.
type OrderItem struct {
	ProductID  string
	SKU        string
	Name       string
	Quantity   int
	UnitPrice  int64
	TotalPrice int64
}

// OrderTracking carries fulfillment details required to mark an order shipped.
type OrderTracking struct {
	Carrier        string
	TrackingNumber string
	TrackingURL    string
}

// OrderStatusChange is an append-only audit entry for a lifecycle transition.
type OrderStatusChange struct {
	From       OrderStatus
	To         OrderStatus
	ActorID    string
	Reason     string
	OccurredAt time.Time
}

// Order is a customer purchase progressing through the lifecycle state machine.
type Order struct {
	ID             string
	StoreID        string
	OrderNumber    string
	Status         OrderStatus
	PaymentStatus  PaymentStatus
	Items          []OrderItem
	Subtotal       int64
	DiscountAmount int64
	ShippingCost   int64
	Total          int64
	Currency       string
	DiscountID     string
	DiscountCode   string
	CustomerID     string
	CustomerEmail  string
	Tracking       *OrderTracking
	StatusHistory  []OrderStatusChange
	PaymentRef     string
	CancelReason   string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	PaidAt      *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time
	RefundedAt  *time.Time
}

// TotalsConsistent verifies the order invariant total = subtotal - discount + shipping.
func (o Order) TotalsConsistent() bool {
	return o.Total == o.Subtotal-o.DiscountAmount+o.ShippingCost
}

// CustomerAddress is a saved shipping destination.
type CustomerAddress struct {
	Label      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	IsDefault  bool
}

// Customer aggregates purchase activity for a store shopper. TotalOrders and
// TotalSpent are server-incremented counters, never recomputed client-side.
type Customer struct {
	ID          string
	StoreID     string
	Email       string
	Name        string
	TotalOrders int
	TotalSpent  int64
	Addresses   []CustomerAddress
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RestockSubscription records an email waiting on a product coming back in stock.
type RestockSubscription struct {
	ID         string
	ProductID  string
	Email      string
	CreatedAt  time.Time
	NotifiedAt *time.Time
}
