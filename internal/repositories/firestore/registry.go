package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/quimera-ai/commerce-api/internal/platform/firestore"
	"github.com/quimera-ai/commerce-api/internal/repositories"
)

// Registry wires the Firestore-backed repository implementations behind the
// repositories.Registry interface consumed by the service layer.
type Registry struct {
	provider  *pfirestore.Provider
	products  *ProductRepository
	discounts *DiscountRepository
	orders    *OrderRepository
	customers *CustomerRepository
	counters  *CounterRepository
}

// NewRegistry constructs the full repository set on top of a shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("repository registry requires firestore provider")
	}

	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	discounts, err := NewDiscountRepository(provider)
	if err != nil {
		return nil, err
	}
	customers, err := NewCustomerRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:  provider,
		products:  products,
		discounts: discounts,
		orders:    orders,
		customers: customers,
		counters:  counters,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Products() repositories.ProductRepository   { return r.products }
func (r *Registry) Discounts() repositories.DiscountRepository { return r.discounts }
func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Customers() repositories.CustomerRepository { return r.customers }
func (r *Registry) Counters() repositories.CounterRepository   { return r.counters }

var _ repositories.Registry = (*Registry)(nil)
