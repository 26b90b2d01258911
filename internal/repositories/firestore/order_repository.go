package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/quimera-ai/commerce-api/internal/domain"
	pfirestore "github.com/quimera-ai/commerce-api/internal/platform/firestore"
	"github.com/quimera-ai/commerce-api/internal/repositories"
)

const ordersPattern = "stores/%s/orders"

type orderItemDocument struct {
	ProductID  string `firestore:"productId"`
	SKU        string `firestore:"sku,omitempty"`
	Name       string `firestore:"name"`
	Quantity   int    `firestore:"quantity"`
	UnitPrice  int64  `firestore:"unitPrice"`
	TotalPrice int64  `firestore:"totalPrice"`
}

type orderTrackingDocument struct {
	Carrier        string `firestore:"carrier"`
	TrackingNumber string `firestore:"trackingNumber"`
	TrackingURL    string `firestore:"trackingUrl,omitempty"`
}

type orderStatusChangeDocument struct {
	From       string    `firestore:"from"`
	To         string    `firestore:"to"`
	ActorID    string    `firestore:"actorId,omitempty"`
	Reason     string    `firestore:"reason,omitempty"`
	OccurredAt time.Time `firestore:"occurredAt"`
}

type orderDocument struct {
	OrderNumber    string                      `firestore:"orderNumber"`
	Status         string                      `firestore:"status"`
	PaymentStatus  string                      `firestore:"paymentStatus"`
	Items          []orderItemDocument         `firestore:"items"`
	Subtotal       int64                       `firestore:"subtotal"`
	DiscountAmount int64                       `firestore:"discountAmount"`
	ShippingCost   int64                       `firestore:"shippingCost"`
	Total          int64                       `firestore:"total"`
	Currency       string                      `firestore:"currency"`
	DiscountID     string                      `firestore:"discountId,omitempty"`
	DiscountCode   string                      `firestore:"discountCode,omitempty"`
	CustomerID     string                      `firestore:"customerId,omitempty"`
	CustomerEmail  string                      `firestore:"customerEmail,omitempty"`
	Tracking       *orderTrackingDocument      `firestore:"tracking,omitempty"`
	StatusHistory  []orderStatusChangeDocument `firestore:"statusHistory,omitempty"`
	PaymentRef     string                      `firestore:"paymentRef,omitempty"`
	CancelReason   string                      `firestore:"cancelReason,omitempty"`
	CreatedAt      time.Time                   `firestore:"createdAt"`
	UpdatedAt      time.Time                   `firestore:"updatedAt"`
	PaidAt         *time.Time                  `firestore:"paidAt,omitempty"`
	ShippedAt      *time.Time                  `firestore:"shippedAt,omitempty"`
	DeliveredAt    *time.Time                  `firestore:"deliveredAt,omitempty"`
	CancelledAt    *time.Time                  `firestore:"cancelledAt,omitempty"`
	RefundedAt     *time.Time                  `firestore:"refundedAt,omitempty"`
}

func newOrderDocument(o domain.Order) orderDocument {
	items := make([]orderItemDocument, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemDocument{
			ProductID:  strings.TrimSpace(item.ProductID),
			SKU:        strings.TrimSpace(item.SKU),
			Name:       strings.TrimSpace(item.Name),
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice,
		}
	}
	history := make([]orderStatusChangeDocument, len(o.StatusHistory))
	for i, change := range o.StatusHistory {
		history[i] = newStatusChangeDocument(change)
	}
	doc := orderDocument{
		OrderNumber:    strings.TrimSpace(o.OrderNumber),
		Status:         string(o.Status),
		PaymentStatus:  string(o.PaymentStatus),
		Items:          items,
		Subtotal:       o.Subtotal,
		DiscountAmount: o.DiscountAmount,
		ShippingCost:   o.ShippingCost,
		Total:          o.Total,
		Currency:       strings.ToLower(strings.TrimSpace(o.Currency)),
		DiscountID:     strings.TrimSpace(o.DiscountID),
		DiscountCode:   strings.TrimSpace(o.DiscountCode),
		CustomerID:     strings.TrimSpace(o.CustomerID),
		CustomerEmail:  strings.ToLower(strings.TrimSpace(o.CustomerEmail)),
		StatusHistory:  history,
		PaymentRef:     strings.TrimSpace(o.PaymentRef),
		CancelReason:   strings.TrimSpace(o.CancelReason),
		CreatedAt:      o.CreatedAt.UTC(),
		UpdatedAt:      o.UpdatedAt.UTC(),
		PaidAt:         o.PaidAt,
		ShippedAt:      o.ShippedAt,
		DeliveredAt:    o.DeliveredAt,
		CancelledAt:    o.CancelledAt,
		RefundedAt:     o.RefundedAt,
	}
	if o.Tracking != nil {
		doc.Tracking = &orderTrackingDocument{
			Carrier:        strings.TrimSpace(o.Tracking.Carrier),
			TrackingNumber: strings.TrimSpace(o.Tracking.TrackingNumber),
			TrackingURL:    strings.TrimSpace(o.Tracking.TrackingURL),
		}
	}
	return doc
}

func newStatusChangeDocument(change domain.OrderStatusChange) orderStatusChangeDocument {
	return orderStatusChangeDocument{
		From:       string(change.From),
		To:         string(change.To),
		ActorID:    strings.TrimSpace(change.ActorID),
		Reason:     strings.TrimSpace(change.Reason),
		OccurredAt: change.OccurredAt.UTC(),
	}
}

func (d orderDocument) toDomain(storeID, id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID:  item.ProductID,
			SKU:        item.SKU,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice,
		}
	}
	history := make([]domain.OrderStatusChange, len(d.StatusHistory))
	for i, change := range d.StatusHistory {
		history[i] = domain.OrderStatusChange{
			From:       domain.OrderStatus(change.From),
			To:         domain.OrderStatus(change.To),
			ActorID:    change.ActorID,
			Reason:     change.Reason,
			OccurredAt: change.OccurredAt,
		}
	}
	order := domain.Order{
		ID:             id,
		StoreID:        storeID,
		OrderNumber:    d.OrderNumber,
		Status:         domain.OrderStatus(d.Status),
		PaymentStatus:  domain.PaymentStatus(d.PaymentStatus),
		Items:          items,
		Subtotal:       d.Subtotal,
		DiscountAmount: d.DiscountAmount,
		ShippingCost:   d.ShippingCost,
		Total:          d.Total,
		Currency:       d.Currency,
		DiscountID:     d.DiscountID,
		DiscountCode:   d.DiscountCode,
		CustomerID:     d.CustomerID,
		CustomerEmail:  d.CustomerEmail,
		StatusHistory:  history,
		PaymentRef:     d.PaymentRef,
		CancelReason:   d.CancelReason,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		PaidAt:         d.PaidAt,
		ShippedAt:      d.ShippedAt,
		DeliveredAt:    d.DeliveredAt,
		CancelledAt:    d.CancelledAt,
		RefundedAt:     d.RefundedAt,
	}
	if d.Tracking != nil {
		order.Tracking = &domain.OrderTracking{
			Carrier:        d.Tracking.Carrier,
			TrackingNumber: d.Tracking.TrackingNumber,
			TrackingURL:    d.Tracking.TrackingURL,
		}
	}
	return order
}

// OrderRepository implements repositories.OrderRepository. Lifecycle moves run
// in transactions spanning the order, product, discount, and customer
// documents so captures and cancellations are all-or-nothing.
type OrderRepository struct {
	provider  *pfirestore.Provider
	orders    *pfirestore.ScopedRepository[orderDocument]
	products  *pfirestore.ScopedRepository[productDocument]
	discounts *pfirestore.ScopedRepository[discountDocument]
	customers *pfirestore.ScopedRepository[customerDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider:  provider,
		orders:    pfirestore.NewScopedRepository[orderDocument](provider, ordersPattern, nil, nil),
		products:  pfirestore.NewScopedRepository[productDocument](provider, productsPattern, nil, nil),
		discounts: pfirestore.NewScopedRepository[discountDocument](provider, discountsPattern, nil, nil),
		customers: pfirestore.NewScopedRepository[customerDocument](provider, customersPattern, nil, nil),
	}, nil
}

// Insert creates a pending order, failing on duplicate IDs.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: id is required")
	}
	_, err := r.orders.Create(ctx, order.StoreID, order.ID, newOrderDocument(order))
	return err
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, storeID, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.orders.Get(ctx, storeID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(storeID, doc.ID), nil
}

// List returns a page of orders ordered by creation time, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.orders == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := normalisePageSize(filter.Pagination.PageSize)

	var token *listPageToken
	if encoded := strings.TrimSpace(filter.Pagination.PageToken); encoded != "" {
		decoded, err := decodeListPageToken(encoded)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		token = decoded
	}

	docs, err := r.orders.Query(ctx, filter.StoreID, func(q firestore.Query) firestore.Query {
		if customerID := strings.TrimSpace(filter.CustomerID); customerID != "" {
			q = q.Where("customerId", "==", customerID)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, len(filter.Status))
			for i, s := range filter.Status {
				statuses[i] = string(s)
			}
			q = q.Where("status", "in", statuses)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if token != nil {
			q = q.StartAfter(token.CreatedAt, token.ID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(filter.StoreID, doc.ID))
	}

	page := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) > pageSize {
		last := orders[pageSize-1]
		page.Items = orders[:pageSize]
		next, err := encodeListPageToken(listPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		page.NextPageToken = next
	}
	return page, nil
}

// CapturePayment performs the atomic pending to paid transition. Inside one
// transaction it validates stock for every tracked line, decrements it,
// increments the discount usage bounded by maxUses, bumps the customer's
// counters, and stamps the order paid. A second call for the same order
// observes the paid status and reports AlreadyPaid instead of repeating the
// side effects.
func (r *OrderRepository) CapturePayment(ctx context.Context, req repositories.CapturePaymentRequest) (repositories.CapturePaymentResult, error) {
	if r == nil || r.provider == nil {
		return repositories.CapturePaymentResult{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return repositories.CapturePaymentResult{}, errors.New("capture payment: order id is required")
	}

	now := req.Now.UTC()
	var result repositories.CapturePaymentResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.CapturePaymentResult{}

		orderRef, err := r.orders.DocumentRef(ctx, req.StoreID, req.OrderID)
		if err != nil {
			return err
		}
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var order orderDocument
		if err := orderSnap.DataTo(&order); err != nil {
			return fmt.Errorf("decode order %s: %w", req.OrderID, err)
		}

		alreadyPaid, err := captureGate(order, req.OrderID)
		if err != nil {
			return err
		}
		if alreadyPaid {
			result = repositories.CapturePaymentResult{
				Order:       order.toDomain(req.StoreID, req.OrderID),
				AlreadyPaid: true,
			}
			return nil
		}

		// All reads happen before the first write.
		required := aggregateQuantities(order.Items)
		productRefs := make(map[string]*firestore.DocumentRef, len(required))
		productDocs := make(map[string]productDocument, len(required))
		for _, productID := range sortedKeys(required) {
			ref, err := r.products.DocumentRef(ctx, req.StoreID, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					// The product was removed after the order was placed.
					// Nothing to decrement.
					continue
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", productID, err)
			}
			productRefs[productID] = ref
			productDocs[productID] = doc
		}

		var discountRef *firestore.DocumentRef
		var discount discountDocument
		hasDiscount := false
		if order.DiscountID != "" {
			discountRef, err = r.discounts.DocumentRef(ctx, req.StoreID, order.DiscountID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(discountRef)
			if err == nil {
				if err := snap.DataTo(&discount); err != nil {
					return fmt.Errorf("decode discount %s: %w", order.DiscountID, err)
				}
				hasDiscount = true
			} else if status.Code(err) != codes.NotFound {
				return err
			}
		}

		var customerRef *firestore.DocumentRef
		var customer customerDocument
		hasCustomer := false
		if order.CustomerID != "" {
			customerRef, err = r.customers.DocumentRef(ctx, req.StoreID, order.CustomerID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(customerRef)
			if err == nil {
				if err := snap.DataTo(&customer); err != nil {
					return fmt.Errorf("decode customer %s: %w", order.CustomerID, err)
				}
				hasCustomer = true
			} else if status.Code(err) != codes.NotFound {
				return err
			}
		}

		inputs := captureInputs{Order: order, Products: productDocs}
		if hasDiscount {
			inputs.Discount = &discount
		}
		if hasCustomer {
			inputs.Customer = &customer
		}
		changes, err := applyCapture(inputs, req.OrderID, req.PaymentRef, now)
		if err != nil {
			return err
		}

		for _, productID := range sortedKeys(changes.Products) {
			if err := tx.Set(productRefs[productID], changes.Products[productID]); err != nil {
				return err
			}
		}
		if changes.Discount != nil {
			if err := tx.Set(discountRef, *changes.Discount); err != nil {
				return err
			}
		}
		if changes.Customer != nil {
			if err := tx.Set(customerRef, *changes.Customer); err != nil {
				return err
			}
		}
		if err := tx.Set(orderRef, changes.Order); err != nil {
			return err
		}

		result = repositories.CapturePaymentResult{
			Order:   changes.Order.toDomain(req.StoreID, req.OrderID),
			Emptied: changes.Emptied,
		}
		return nil
	})
	if err != nil {
		return repositories.CapturePaymentResult{}, wrapOrderError("orders.capturePayment", err)
	}
	return result, nil
}

// Transition applies a lifecycle move, validating the adjacency against the
// freshly read status. Cancelling a captured order restocks its tracked lines;
// refunding reverses the customer's totalSpent contribution.
func (r *OrderRepository) Transition(ctx context.Context, req repositories.OrderTransitionRequest) (repositories.OrderTransitionResult, error) {
	if r == nil || r.provider == nil {
		return repositories.OrderTransitionResult{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return repositories.OrderTransitionResult{}, errors.New("order transition: order id is required")
	}
	if !domain.KnownOrderStatus(req.Target) {
		return repositories.OrderTransitionResult{}, repositories.NewOrderError(repositories.OrderErrorInvalidTransition, fmt.Sprintf("unknown target status %q", req.Target), nil)
	}

	now := req.Now.UTC()
	var result repositories.OrderTransitionResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.OrderTransitionResult{}

		orderRef, err := r.orders.DocumentRef(ctx, req.StoreID, req.OrderID)
		if err != nil {
			return err
		}
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var order orderDocument
		if err := orderSnap.DataTo(&order); err != nil {
			return fmt.Errorf("decode order %s: %w", req.OrderID, err)
		}

		current, err := checkTransitionGuards(order, req)
		if err != nil {
			return err
		}

		// Reads for side effects come before any write.
		restock := transitionRestocks(current, req.Target)
		var productRefs map[string]*firestore.DocumentRef
		var productDocs map[string]productDocument
		required := aggregateQuantities(order.Items)
		if restock {
			productRefs = make(map[string]*firestore.DocumentRef, len(required))
			productDocs = make(map[string]productDocument, len(required))
			for _, productID := range sortedKeys(required) {
				ref, err := r.products.DocumentRef(ctx, req.StoreID, productID)
				if err != nil {
					return err
				}
				snap, err := tx.Get(ref)
				if err != nil {
					if status.Code(err) == codes.NotFound {
						continue
					}
					return err
				}
				var doc productDocument
				if err := snap.DataTo(&doc); err != nil {
					return fmt.Errorf("decode product %s: %w", productID, err)
				}
				productRefs[productID] = ref
				productDocs[productID] = doc
			}
		}

		var customerRef *firestore.DocumentRef
		var customer customerDocument
		hasCustomer := false
		if transitionReversesStats(current, req.Target) && order.CustomerID != "" {
			customerRef, err = r.customers.DocumentRef(ctx, req.StoreID, order.CustomerID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(customerRef)
			if err == nil {
				if err := snap.DataTo(&customer); err != nil {
					return fmt.Errorf("decode customer %s: %w", order.CustomerID, err)
				}
				hasCustomer = true
			} else if status.Code(err) != codes.NotFound {
				return err
			}
		}

		inputs := transitionInputs{Order: order, Products: productDocs}
		if hasCustomer {
			inputs.Customer = &customer
		}
		changes, err := applyTransition(inputs, req, now)
		if err != nil {
			return err
		}

		for _, productID := range sortedKeys(changes.Products) {
			if err := tx.Set(productRefs[productID], changes.Products[productID]); err != nil {
				return err
			}
		}
		if changes.Customer != nil {
			if err := tx.Set(customerRef, *changes.Customer); err != nil {
				return err
			}
		}
		if err := tx.Set(orderRef, changes.Order); err != nil {
			return err
		}

		result = repositories.OrderTransitionResult{
			Order:     changes.Order.toDomain(req.StoreID, req.OrderID),
			Restocked: changes.Restocked,
		}
		return nil
	})
	if err != nil {
		return repositories.OrderTransitionResult{}, wrapOrderError("orders.transition", err)
	}
	return result, nil
}

// MarkPaymentFailed records a failed capture attempt. The order stays pending
// so the customer may retry; a failure arriving after a successful capture is
// ignored.
func (r *OrderRepository) MarkPaymentFailed(ctx context.Context, req repositories.PaymentFailureRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return domain.Order{}, errors.New("payment failure: order id is required")
	}

	now := req.Now.UTC()
	var updated domain.Order

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, req.StoreID, req.OrderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var order orderDocument
		if err := snap.DataTo(&order); err != nil {
			return fmt.Errorf("decode order %s: %w", req.OrderID, err)
		}

		if domain.OrderStatus(order.Status) != domain.OrderStatusPending {
			updated = order.toDomain(req.StoreID, req.OrderID)
			return nil
		}

		order.PaymentStatus = string(domain.PaymentStatusFailed)
		order.UpdatedAt = now
		if ref := strings.TrimSpace(req.PaymentRef); ref != "" {
			order.PaymentRef = ref
		}
		if err := tx.Set(orderRef, order); err != nil {
			return err
		}
		updated = order.toDomain(req.StoreID, req.OrderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.markPaymentFailed", err)
	}
	return updated, nil
}

// aggregateQuantities sums line quantities per product so repeated lines are
// read and written once.
func aggregateQuantities(items []orderItemDocument) map[string]int {
	required := make(map[string]int, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" || item.Quantity <= 0 {
			continue
		}
		required[productID] += item.Quantity
	}
	return required
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
