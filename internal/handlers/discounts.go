package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/quimera-ai/commerce-api/internal/domain"
	"github.com/quimera-ai/commerce-api/internal/platform/httpx"
	"github.com/quimera-ai/commerce-api/internal/services"
)

const (
	defaultDiscountPageSize = 20
	maxDiscountPageSize     = 100
)

// DiscountHandlers exposes discount management and code validation endpoints.
type DiscountHandlers struct {
	discounts services.DiscountService
}

// NewDiscountHandlers constructs the discount handlers.
func NewDiscountHandlers(discounts services.DiscountService) *DiscountHandlers {
	return &DiscountHandlers{discounts: discounts}
}

// Routes wires the discount endpoints onto the provided router.
func (h *DiscountHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listDiscounts)
	r.Post("/", h.createDiscount)
	r.Post("/validate", h.validateDiscount)
	r.Get("/{discountID}", h.getDiscount)
	r.Put("/{discountID}", h.updateDiscount)
	r.Post("/{discountID}:deactivate", h.deactivateDiscount)
	r.Delete("/{discountID}", h.deleteDiscount)
}

type discountPayload struct {
	ID              string `json:"id"`
	Code            string `json:"code"`
	Type            string `json:"type"`
	Value           int64  `json:"value"`
	MinimumPurchase int64  `json:"minimumPurchase,omitempty"`
	MaxUses         *int   `json:"maxUses,omitempty"`
	UsedCount       int    `json:"usedCount"`
	StartsAt        string `json:"startsAt,omitempty"`
	EndsAt          string `json:"endsAt,omitempty"`
	IsActive        bool   `json:"isActive"`
	CreatedAt       string `json:"createdAt,omitempty"`
	UpdatedAt       string `json:"updatedAt,omitempty"`
}

type discountListResponse struct {
	Discounts     []discountPayload `json:"discounts"`
	NextPageToken string            `json:"nextPageToken,omitempty"`
}

type upsertDiscountRequest struct {
	Code            string     `json:"code"`
	Type            string     `json:"type"`
	Value           int64      `json:"value"`
	MinimumPurchase int64      `json:"minimumPurchase"`
	MaxUses         *int       `json:"maxUses"`
	StartsAt        *time.Time `json:"startsAt"`
	EndsAt          *time.Time `json:"endsAt"`
	IsActive        bool       `json:"isActive"`
}

type validateDiscountRequest struct {
	Code     string `json:"code"`
	Subtotal int64  `json:"subtotal"`
}

type validateDiscountResponse struct {
	Valid    bool             `json:"valid"`
	Reason   string           `json:"reason,omitempty"`
	Discount *discountPayload `json:"discount,omitempty"`
}

func (h *DiscountHandlers) listDiscounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := services.DiscountListFilter{
		ActiveOnly: parseBoolParam(r.URL.Query().Get("active_only")),
		Pagination: paginationFromQuery(r, defaultDiscountPageSize, maxDiscountPageSize),
	}

	page, err := h.discounts.List(ctx, storeIDParam(r), filter)
	if err != nil {
		writeDiscountError(ctx, w, err)
		return
	}

	resp := discountListResponse{
		Discounts:     make([]discountPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, discount := range page.Items {
		resp.Discounts = append(resp.Discounts, buildDiscountPayload(discount))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *DiscountHandlers) getDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	discount, err := h.discounts.Get(ctx, storeIDParam(r), urlParam(r, "discountID"))
	if err != nil {
		writeDiscountError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildDiscountPayload(discount))
}

func (h *DiscountHandlers) createDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.decodeUpsert(ctx, w, r, "")
	if !ok {
		return
	}
	discount, err := h.discounts.Create(ctx, cmd)
	if err != nil {
		writeDiscountError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildDiscountPayload(discount))
}

func (h *DiscountHandlers) updateDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.decodeUpsert(ctx, w, r, urlParam(r, "discountID"))
	if !ok {
		return
	}
	discount, err := h.discounts.Update(ctx, cmd)
	if err != nil {
		writeDiscountError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildDiscountPayload(discount))
}

func (h *DiscountHandlers) deactivateDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	discount, err := h.discounts.Deactivate(ctx, storeIDParam(r), urlParam(r, "discountID"))
	if err != nil {
		writeDiscountError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildDiscountPayload(discount))
}

func (h *DiscountHandlers) deleteDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.discounts.Delete(ctx, storeIDParam(r), urlParam(r, "discountID")); err != nil {
		writeDiscountError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DiscountHandlers) validateDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req validateDiscountRequest
	if err := json.Unmarshal(data, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	result, err := h.discounts.Validate(ctx, services.ValidateDiscountCommand{
		StoreID:  storeIDParam(r),
		Code:     strings.TrimSpace(req.Code),
		Subtotal: req.Subtotal,
	})
	if err != nil {
		writeDiscountError(ctx, w, err)
		return
	}

	resp := validateDiscountResponse{Valid: result.Valid, Reason: string(result.Reason)}
	if result.Valid {
		payload := buildDiscountPayload(result.Discount)
		resp.Discount = &payload
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *DiscountHandlers) decodeUpsert(ctx context.Context, w http.ResponseWriter, r *http.Request, discountID string) (services.UpsertDiscountCommand, bool) {
	data, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return services.UpsertDiscountCommand{}, false
	}

	var req upsertDiscountRequest
	if err := json.Unmarshal(data, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "invalid JSON payload", http.StatusBadRequest))
		return services.UpsertDiscountCommand{}, false
	}

	return services.UpsertDiscountCommand{
		StoreID:         storeIDParam(r),
		DiscountID:      discountID,
		Code:            strings.TrimSpace(req.Code),
		Type:            domain.DiscountType(strings.TrimSpace(req.Type)),
		Value:           req.Value,
		MinimumPurchase: req.MinimumPurchase,
		MaxUses:         req.MaxUses,
		StartsAt:        req.StartsAt,
		EndsAt:          req.EndsAt,
		IsActive:        req.IsActive,
	}, true
}

func buildDiscountPayload(discount services.Discount) discountPayload {
	return discountPayload{
		ID:              discount.ID,
		Code:            discount.Code,
		Type:            string(discount.Type),
		Value:           discount.Value,
		MinimumPurchase: discount.MinimumPurchase,
		MaxUses:         discount.MaxUses,
		UsedCount:       discount.UsedCount,
		StartsAt:        formatTimePtr(discount.StartsAt),
		EndsAt:          formatTimePtr(discount.EndsAt),
		IsActive:        discount.IsActive,
		CreatedAt:       formatTime(discount.CreatedAt),
		UpdatedAt:       formatTime(discount.UpdatedAt),
	}
}

func writeDiscountError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrDiscountNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("discount_not_found", "discount not found", http.StatusNotFound))
	case errors.Is(err, services.ErrDiscountCodeTaken):
		httpx.WriteError(ctx, w, httpx.NewError("discount_code_taken", "discount code already in use", http.StatusConflict))
	case errors.Is(err, services.ErrDiscountInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_discount", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process discount request", http.StatusInternalServerError))
	}
}
