package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quimera-ai/commerce-api/internal/platform/httpx"
	"github.com/quimera-ai/commerce-api/internal/services"
)

const (
	checkoutRateLimit  = 30
	checkoutRateWindow = time.Minute
)

// CheckoutHandlers exposes the storefront checkout endpoint. The route is
// unauthenticated, so requests are rate limited per client IP.
type CheckoutHandlers struct {
	checkout services.CheckoutService
	limiter  rateLimiter
}

// NewCheckoutHandlers constructs the checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		checkout: checkout,
		limiter:  newSimpleRateLimiter(checkoutRateLimit, checkoutRateWindow, time.Now),
	}
}

// Routes wires the checkout endpoint onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createCheckout)
}

type checkoutLineRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type checkoutRequest struct {
	StoreID       string                `json:"storeId"`
	Lines         []checkoutLineRequest `json:"lines"`
	DiscountCode  string                `json:"discountCode"`
	CustomerEmail string                `json:"customerEmail"`
	CustomerName  string                `json:"customerName"`
	ShippingCost  int64                 `json:"shippingCost"`
	Currency      string                `json:"currency"`
	SuccessURL    string                `json:"successUrl"`
	CancelURL     string                `json:"cancelUrl"`
}

type checkoutResponse struct {
	Order       orderPayload `json:"order"`
	SessionID   string       `json:"sessionId"`
	RedirectURL string       `json:"redirectUrl"`
}

func (h *CheckoutHandlers) createCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.limiter != nil && !h.limiter.Allow(clientKey(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts; retry later", http.StatusTooManyRequests))
		return
	}

	data, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(data, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	cmd := services.CheckoutCommand{
		StoreID:       strings.TrimSpace(req.StoreID),
		Lines:         make([]services.CheckoutLine, 0, len(req.Lines)),
		DiscountCode:  strings.TrimSpace(req.DiscountCode),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerName:  strings.TrimSpace(req.CustomerName),
		ShippingCost:  req.ShippingCost,
		Currency:      strings.TrimSpace(req.Currency),
		SuccessURL:    strings.TrimSpace(req.SuccessURL),
		CancelURL:     strings.TrimSpace(req.CancelURL),
	}
	for _, line := range req.Lines {
		cmd.Lines = append(cmd.Lines, services.CheckoutLine{
			ProductID: strings.TrimSpace(line.ProductID),
			Quantity:  line.Quantity,
		})
	}

	result, err := h.checkout.Checkout(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutResponse{
		Order:       buildOrderPayload(result.Order),
		SessionID:   result.SessionID,
		RedirectURL: result.RedirectURL,
	})
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutDiscountRejected):
		httpx.WriteError(ctx, w, httpx.NewError("discount_rejected", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_checkout_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to create checkout", http.StatusInternalServerError))
	}
}
