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

const (
	defaultProductPageSize = 20
	maxProductPageSize     = 100
)

// ProductHandlers exposes the store catalog endpoints.
type ProductHandlers struct {
	products services.ProductService
}

// NewProductHandlers constructs the catalog handlers.
func NewProductHandlers(products services.ProductService) *ProductHandlers {
	return &ProductHandlers{products: products}
}

// Routes wires the catalog endpoints onto the provided router.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Post("/", h.createProduct)
	r.Get("/{productID}", h.getProduct)
	r.Put("/{productID}", h.updateProduct)
	r.Delete("/{productID}", h.deleteProduct)
}

type productPayload struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	SKU               string `json:"sku"`
	Price             int64  `json:"price"`
	Quantity          int    `json:"quantity"`
	TrackInventory    bool   `json:"trackInventory"`
	LowStockThreshold int    `json:"lowStockThreshold,omitempty"`
	Active            bool   `json:"active"`
	LowStock          bool   `json:"lowStock"`
	OutOfStock        bool   `json:"outOfStock"`
	CreatedAt         string `json:"createdAt,omitempty"`
	UpdatedAt         string `json:"updatedAt,omitempty"`
}

type productListResponse struct {
	Products      []productPayload `json:"products"`
	NextPageToken string           `json:"nextPageToken,omitempty"`
}

type upsertProductRequest struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	SKU               string `json:"sku"`
	Price             int64  `json:"price"`
	Quantity          *int   `json:"quantity"`
	TrackInventory    bool   `json:"trackInventory"`
	LowStockThreshold int    `json:"lowStockThreshold"`
	Active            bool   `json:"active"`
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := services.ProductListFilter{
		ActiveOnly:  parseBoolParam(r.URL.Query().Get("active_only")),
		TrackedOnly: parseBoolParam(r.URL.Query().Get("tracked_only")),
		Search:      strings.TrimSpace(r.URL.Query().Get("search")),
		Pagination:  paginationFromQuery(r, defaultProductPageSize, maxProductPageSize),
	}

	page, err := h.products.List(ctx, storeIDParam(r), filter)
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}

	resp := productListResponse{
		Products:      make([]productPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, product := range page.Items {
		resp.Products = append(resp.Products, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	product, err := h.products.Get(ctx, storeIDParam(r), urlParam(r, "productID"))
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.decodeUpsert(ctx, w, r, "")
	if !ok {
		return
	}
	product, err := h.products.Create(ctx, cmd)
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildProductPayload(product))
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.decodeUpsert(ctx, w, r, urlParam(r, "productID"))
	if !ok {
		return
	}
	product, err := h.products.Update(ctx, cmd)
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *ProductHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.products.Delete(ctx, storeIDParam(r), urlParam(r, "productID")); err != nil {
		writeProductError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProductHandlers) decodeUpsert(ctx context.Context, w http.ResponseWriter, r *http.Request, productID string) (services.UpsertProductCommand, bool) {
	data, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return services.UpsertProductCommand{}, false
	}

	var req upsertProductRequest
	if err := json.Unmarshal(data, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "invalid JSON payload", http.StatusBadRequest))
		return services.UpsertProductCommand{}, false
	}

	return services.UpsertProductCommand{
		StoreID:           storeIDParam(r),
		ProductID:         productID,
		Name:              req.Name,
		Description:       req.Description,
		SKU:               req.SKU,
		Price:             req.Price,
		Quantity:          req.Quantity,
		TrackInventory:    req.TrackInventory,
		LowStockThreshold: req.LowStockThreshold,
		Active:            req.Active,
	}, true
}

func buildProductPayload(product services.Product) productPayload {
	return productPayload{
		ID:                product.ID,
		Name:              product.Name,
		Description:       product.Description,
		SKU:               product.SKU,
		Price:             product.Price,
		Quantity:          product.Quantity,
		TrackInventory:    product.TrackInventory,
		LowStockThreshold: product.LowStockThreshold,
		Active:            product.Active,
		LowStock:          product.LowStock(),
		OutOfStock:        product.OutOfStock(),
		CreatedAt:         formatTime(product.CreatedAt),
		UpdatedAt:         formatTime(product.UpdatedAt),
	}
}

func writeProductError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrProductInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_product", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process product request", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("empty_body", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "failed to read request body", http.StatusBadRequest))
	}
}
