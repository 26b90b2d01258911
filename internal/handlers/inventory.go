package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/quimera-ai/commerce-api/internal/platform/httpx"
	"github.com/quimera-ai/commerce-api/internal/services"
)

// InventoryHandlers exposes stock adjustment and stock alert endpoints.
type InventoryHandlers struct {
	inventory services.InventoryService
}

// NewInventoryHandlers constructs the inventory handlers.
func NewInventoryHandlers(inventory services.InventoryService) *InventoryHandlers {
	return &InventoryHandlers{inventory: inventory}
}

// Routes wires the inventory endpoints onto the provided router.
func (h *InventoryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/low-stock", h.listLowStock)
	r.Get("/out-of-stock", h.listOutOfStock)
	r.Post("/{productID}:adjust", h.adjustStock)
	r.Post("/{productID}/restock-subscriptions", h.subscribeRestock)
	r.Post("/{productID}:notify-restocked", h.notifyRestocked)
}

type adjustStockRequest struct {
	Delta  *int   `json:"delta"`
	SetTo  *int   `json:"setTo"`
	Reason string `json:"reason"`
}

type stockListResponse struct {
	Products []productPayload `json:"products"`
}

type restockSubscriptionPayload struct {
	ID         string `json:"id"`
	ProductID  string `json:"productId"`
	Email      string `json:"email"`
	CreatedAt  string `json:"createdAt,omitempty"`
	NotifiedAt string `json:"notifiedAt,omitempty"`
}

type subscribeRestockRequest struct {
	Email string `json:"email"`
}

type notifyRestockedResponse struct {
	Notified int `json:"notified"`
}

func (h *InventoryHandlers) listLowStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	products, err := h.inventory.ListLowStock(ctx, storeIDParam(r))
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStockListResponse(products))
}

func (h *InventoryHandlers) listOutOfStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	products, err := h.inventory.ListOutOfStock(ctx, storeIDParam(r))
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStockListResponse(products))
}

func (h *InventoryHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req adjustStockRequest
	if err := json.Unmarshal(data, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	product, err := h.inventory.AdjustStock(ctx, services.AdjustStockCommand{
		StoreID:   storeIDParam(r),
		ProductID: urlParam(r, "productID"),
		Delta:     req.Delta,
		SetTo:     req.SetTo,
		ActorID:   actorID(ctx),
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *InventoryHandlers) subscribeRestock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req subscribeRestockRequest
	if err := json.Unmarshal(data, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	subscription, err := h.inventory.SubscribeRestock(ctx, storeIDParam(r), urlParam(r, "productID"), strings.TrimSpace(req.Email))
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, restockSubscriptionPayload{
		ID:         subscription.ID,
		ProductID:  subscription.ProductID,
		Email:      subscription.Email,
		CreatedAt:  formatTime(subscription.CreatedAt),
		NotifiedAt: formatTimePtr(subscription.NotifiedAt),
	})
}

func (h *InventoryHandlers) notifyRestocked(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	notified, err := h.inventory.NotifyRestocked(ctx, storeIDParam(r), urlParam(r, "productID"))
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, notifyRestockedResponse{Notified: notified})
}

func buildStockListResponse(products []services.Product) stockListResponse {
	resp := stockListResponse{Products: make([]productPayload, 0, len(products))}
	for _, product := range products {
		resp.Products = append(resp.Products, buildProductPayload(product))
	}
	return resp
}

func writeInventoryError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInventoryProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "adjustment would push stock below zero", http.StatusConflict))
	case errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_inventory_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process inventory request", http.StatusInternalServerError))
	}
}
