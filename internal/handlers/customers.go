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
	defaultCustomerPageSize = 20
	maxCustomerPageSize     = 100
)

// CustomerHandlers exposes customer directory endpoints for store operators.
type CustomerHandlers struct {
	customers services.CustomerService
}

// NewCustomerHandlers constructs the customer handlers.
func NewCustomerHandlers(customers services.CustomerService) *CustomerHandlers {
	return &CustomerHandlers{customers: customers}
}

// Routes wires the customer endpoints onto the provided router.
func (h *CustomerHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listCustomers)
	r.Get("/{customerID}", h.getCustomer)
	r.Post("/{customerID}/tags", h.tagCustomer)
	r.Delete("/{customerID}/tags", h.untagCustomer)
}

type customerAddressPayload struct {
	Label      string `json:"label,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	IsDefault  bool   `json:"isDefault"`
}

type customerPayload struct {
	ID          string                   `json:"id"`
	Email       string                   `json:"email"`
	Name        string                   `json:"name,omitempty"`
	TotalOrders int                      `json:"totalOrders"`
	TotalSpent  int64                    `json:"totalSpent"`
	Addresses   []customerAddressPayload `json:"addresses,omitempty"`
	Tags        []string                 `json:"tags,omitempty"`
	CreatedAt   string                   `json:"createdAt,omitempty"`
	UpdatedAt   string                   `json:"updatedAt,omitempty"`
}

type customerListResponse struct {
	Customers     []customerPayload `json:"customers"`
	NextPageToken string            `json:"nextPageToken,omitempty"`
}

type customerTagsRequest struct {
	Tags []string `json:"tags"`
}

func (h *CustomerHandlers) listCustomers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := services.CustomerListFilter{
		Tag:        strings.TrimSpace(r.URL.Query().Get("tag")),
		Search:     strings.TrimSpace(r.URL.Query().Get("search")),
		Pagination: paginationFromQuery(r, defaultCustomerPageSize, maxCustomerPageSize),
	}

	page, err := h.customers.List(ctx, storeIDParam(r), filter)
	if err != nil {
		writeCustomerError(ctx, w, err)
		return
	}

	resp := customerListResponse{
		Customers:     make([]customerPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, customer := range page.Items {
		resp.Customers = append(resp.Customers, buildCustomerPayload(customer))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *CustomerHandlers) getCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	customer, err := h.customers.Get(ctx, storeIDParam(r), urlParam(r, "customerID"))
	if err != nil {
		writeCustomerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCustomerPayload(customer))
}

func (h *CustomerHandlers) tagCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tags, ok := h.decodeTags(ctx, w, r)
	if !ok {
		return
	}
	customer, err := h.customers.Tag(ctx, storeIDParam(r), urlParam(r, "customerID"), tags)
	if err != nil {
		writeCustomerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCustomerPayload(customer))
}

func (h *CustomerHandlers) untagCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tags, ok := h.decodeTags(ctx, w, r)
	if !ok {
		return
	}
	customer, err := h.customers.Untag(ctx, storeIDParam(r), urlParam(r, "customerID"), tags)
	if err != nil {
		writeCustomerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCustomerPayload(customer))
}

func (h *CustomerHandlers) decodeTags(ctx context.Context, w http.ResponseWriter, r *http.Request) ([]string, bool) {
	data, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return nil, false
	}

	var req customerTagsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "invalid JSON payload", http.StatusBadRequest))
		return nil, false
	}
	if len(req.Tags) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "tags are required", http.StatusBadRequest))
		return nil, false
	}
	return req.Tags, true
}

func buildCustomerPayload(customer services.Customer) customerPayload {
	payload := customerPayload{
		ID:          customer.ID,
		Email:       customer.Email,
		Name:        customer.Name,
		TotalOrders: customer.TotalOrders,
		TotalSpent:  customer.TotalSpent,
		Tags:        customer.Tags,
		CreatedAt:   formatTime(customer.CreatedAt),
		UpdatedAt:   formatTime(customer.UpdatedAt),
	}
	for _, address := range customer.Addresses {
		payload.Addresses = append(payload.Addresses, customerAddressPayload{
			Label:      address.Label,
			Line1:      address.Line1,
			Line2:      address.Line2,
			City:       address.City,
			State:      address.State,
			PostalCode: address.PostalCode,
			Country:    address.Country,
			IsDefault:  address.IsDefault,
		})
	}
	return payload
}

func writeCustomerError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCustomerNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("customer_not_found", "customer not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCustomerInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_customer_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process customer request", http.StatusInternalServerError))
	}
}
