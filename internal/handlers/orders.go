package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/quimera-ai/commerce-api/internal/domain"
	"github.com/quimera-ai/commerce-api/internal/platform/auth"
	"github.com/quimera-ai/commerce-api/internal/platform/httpx"
	"github.com/quimera-ai/commerce-api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderHandlers exposes order lifecycle endpoints for store operators.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs the order handlers.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes wires the order endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:transition", h.transitionOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}:refund", h.refundOrder)
}

type orderItemPayload struct {
	ProductID  string `json:"productId"`
	SKU        string `json:"sku,omitempty"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unitPrice"`
	TotalPrice int64  `json:"totalPrice"`
}

type orderTrackingPayload struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"trackingNumber"`
	TrackingURL    string `json:"trackingUrl,omitempty"`
}

type orderStatusChangePayload struct {
	From       string `json:"from"`
	To         string `json:"to"`
	ActorID    string `json:"actorId,omitempty"`
	Reason     string `json:"reason,omitempty"`
	OccurredAt string `json:"occurredAt"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"orderNumber"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	Total         int64  `json:"total"`
	Currency      string `json:"currency,omitempty"`
	CustomerEmail string `json:"customerEmail,omitempty"`
	CreatedAt     string `json:"createdAt,omitempty"`
}

type orderPayload struct {
	ID             string                     `json:"id"`
	OrderNumber    string                     `json:"orderNumber"`
	Status         string                     `json:"status"`
	PaymentStatus  string                     `json:"paymentStatus"`
	Items          []orderItemPayload         `json:"items"`
	Subtotal       int64                      `json:"subtotal"`
	DiscountAmount int64                      `json:"discountAmount,omitempty"`
	ShippingCost   int64                      `json:"shippingCost,omitempty"`
	Total          int64                      `json:"total"`
	Currency       string                     `json:"currency,omitempty"`
	DiscountCode   string                     `json:"discountCode,omitempty"`
	CustomerID     string                     `json:"customerId,omitempty"`
	CustomerEmail  string                     `json:"customerEmail,omitempty"`
	Tracking       *orderTrackingPayload      `json:"tracking,omitempty"`
	StatusHistory  []orderStatusChangePayload `json:"statusHistory,omitempty"`
	PaymentRef     string                     `json:"paymentRef,omitempty"`
	CancelReason   string                     `json:"cancelReason,omitempty"`
	CreatedAt      string                     `json:"createdAt,omitempty"`
	PaidAt         string                     `json:"paidAt,omitempty"`
	ShippedAt      string                     `json:"shippedAt,omitempty"`
	DeliveredAt    string                     `json:"deliveredAt,omitempty"`
	CancelledAt    string                     `json:"cancelledAt,omitempty"`
	RefundedAt     string                     `json:"refundedAt,omitempty"`
}

type orderListResponse struct {
	Orders        []orderSummaryPayload `json:"orders"`
	NextPageToken string                `json:"nextPageToken,omitempty"`
}

type transitionOrderRequest struct {
	Target         string                `json:"target"`
	ExpectedStatus string                `json:"expectedStatus"`
	Tracking       *orderTrackingPayload `json:"tracking"`
	Reason         string                `json:"reason"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	filter := services.OrderListFilter{
		CustomerID: strings.TrimSpace(query.Get("customer_id")),
		Pagination: paginationFromQuery(r, defaultOrderPageSize, maxOrderPageSize),
	}

	for _, raw := range query["status"] {
		status := domain.OrderStatus(strings.TrimSpace(strings.ToLower(raw)))
		if status == "" {
			continue
		}
		if !domain.KnownOrderStatus(status) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_status", "unknown order status "+string(status), http.StatusBadRequest))
			return
		}
		filter.Status = append(filter.Status, status)
	}

	if raw := query.Get("created_after"); raw != "" {
		from, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_time", "created_after must be RFC 3339 or YYYY-MM-DD", http.StatusBadRequest))
			return
		}
		filter.From = &from
	}
	if raw := query.Get("created_before"); raw != "" {
		to, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_time", "created_before must be RFC 3339 or YYYY-MM-DD", http.StatusBadRequest))
			return
		}
		filter.To = &to
	}

	page, err := h.orders.List(ctx, storeIDParam(r), filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	resp := orderListResponse{
		Orders:        make([]orderSummaryPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		resp.Orders = append(resp.Orders, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.orders.Get(ctx, storeIDParam(r), urlParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req transitionOrderRequest
	if err := json.Unmarshal(data, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	target := domain.OrderStatus(strings.TrimSpace(strings.ToLower(req.Target)))
	if !domain.KnownOrderStatus(target) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status", "unknown target status", http.StatusBadRequest))
		return
	}

	cmd := services.TransitionOrderCommand{
		StoreID: storeIDParam(r),
		OrderID: urlParam(r, "orderID"),
		Target:  target,
		ActorID: actorID(ctx),
		Reason:  strings.TrimSpace(req.Reason),
	}
	if raw := strings.TrimSpace(strings.ToLower(req.ExpectedStatus)); raw != "" {
		expected := domain.OrderStatus(raw)
		if !domain.KnownOrderStatus(expected) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_status", "unknown expected status", http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}
	if req.Tracking != nil {
		cmd.Tracking = &services.OrderTracking{
			Carrier:        strings.TrimSpace(req.Tracking.Carrier),
			TrackingNumber: strings.TrimSpace(req.Tracking.TrackingNumber),
			TrackingURL:    strings.TrimSpace(req.Tracking.TrackingURL),
		}
	}

	order, err := h.orders.Transition(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reason, ok := h.decodeReason(ctx, w, r)
	if !ok {
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		StoreID: storeIDParam(r),
		OrderID: urlParam(r, "orderID"),
		ActorID: actorID(ctx),
		Reason:  reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reason, ok := h.decodeReason(ctx, w, r)
	if !ok {
		return
	}

	order, err := h.orders.Refund(ctx, services.RefundOrderCommand{
		StoreID: storeIDParam(r),
		OrderID: urlParam(r, "orderID"),
		ActorID: actorID(ctx),
		Reason:  reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

// decodeReason reads an optional {"reason": "..."} body; a missing body is allowed.
func (h *OrderHandlers) decodeReason(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	data, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		if errors.Is(err, errEmptyBody) {
			return "", true
		}
		writeBodyError(ctx, w, err)
		return "", false
	}

	var req cancelOrderRequest
	if err := json.Unmarshal(data, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "invalid JSON payload", http.StatusBadRequest))
		return "", false
	}
	return strings.TrimSpace(req.Reason), true
}

func actorID(ctx context.Context) string {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return ""
	}
	return identity.UID
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Total:         order.Total,
		Currency:      order.Currency,
		CustomerEmail: order.CustomerEmail,
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		Items:          make([]orderItemPayload, 0, len(order.Items)),
		Subtotal:       order.Subtotal,
		DiscountAmount: order.DiscountAmount,
		ShippingCost:   order.ShippingCost,
		Total:          order.Total,
		Currency:       order.Currency,
		DiscountCode:   order.DiscountCode,
		CustomerID:     order.CustomerID,
		CustomerEmail:  order.CustomerEmail,
		PaymentRef:     order.PaymentRef,
		CancelReason:   order.CancelReason,
		CreatedAt:      formatTime(order.CreatedAt),
		PaidAt:         formatTimePtr(order.PaidAt),
		ShippedAt:      formatTimePtr(order.ShippedAt),
		DeliveredAt:    formatTimePtr(order.DeliveredAt),
		CancelledAt:    formatTimePtr(order.CancelledAt),
		RefundedAt:     formatTimePtr(order.RefundedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:  item.ProductID,
			SKU:        item.SKU,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice,
		})
	}
	if order.Tracking != nil {
		payload.Tracking = &orderTrackingPayload{
			Carrier:        order.Tracking.Carrier,
			TrackingNumber: order.Tracking.TrackingNumber,
			TrackingURL:    order.Tracking.TrackingURL,
		}
	}
	for _, change := range order.StatusHistory {
		payload.StatusHistory = append(payload.StatusHistory, orderStatusChangePayload{
			From:       string(change.From),
			To:         string(change.To),
			ActorID:    change.ActorID,
			Reason:     change.Reason,
			OccurredAt: formatTime(change.OccurredAt),
		})
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order changed concurrently; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderTrackingRequired):
		httpx.WriteError(ctx, w, httpx.NewError("tracking_required", "tracking details are required to mark an order shipped", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process order request", http.StatusInternalServerError))
	}
}
