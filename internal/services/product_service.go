package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/quimera-ai/commerce-api/internal/domain"
	"github.com/quimera-ai/commerce-api/internal/repositories"
)

const productIDPrefix = "prd_"

var (
	// ErrProductInvalidInput signals the caller provided invalid data.
	ErrProductInvalidInput = errors.New("product: invalid input")
	// ErrProductNotFound indicates the product could not be located.
	ErrProductNotFound = errors.New("product: not found")
)

// ProductServiceDeps bundles collaborators required to construct the product service.
type ProductServiceDeps struct {
	Products    repositories.ProductRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type productService struct {
	repo  repositories.ProductRepository
	clock func() time.Time
	newID func() string
}

// NewProductService wires a ProductService backed by the provided repository.
func NewProductService(deps ProductServiceDeps) (ProductService, error) {
	if deps.Products == nil {
		return nil, errors.New("product service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &productService{
		repo:  deps.Products,
		clock: func() time.Time { return clock().UTC() },
		newID: idGen,
	}, nil
}

func (s *productService) Create(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	if err := validateProductCommand(cmd); err != nil {
		return Product{}, err
	}

	now := s.clock()
	quantity := 0
	if cmd.Quantity != nil {
		quantity = *cmd.Quantity
	}
	product := domain.Product{
		ID:                productIDPrefix + s.newID(),
		StoreID:           cmd.StoreID,
		Name:              strings.TrimSpace(cmd.Name),
		Description:       strings.TrimSpace(cmd.Description),
		SKU:               strings.TrimSpace(cmd.SKU),
		Price:             cmd.Price,
		Quantity:          quantity,
		TrackInventory:    cmd.TrackInventory,
		LowStockThreshold: cmd.LowStockThreshold,
		Active:            cmd.Active,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Insert(ctx, product); err != nil {
		return Product{}, err
	}
	return product, nil
}

// Update rewrites product attributes. Quantity is deliberately left alone,
// stock moves only through InventoryService.AdjustStock and the order
// lifecycle transactions.
func (s *productService) Update(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	if strings.TrimSpace(cmd.ProductID) == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	if err := validateProductCommand(cmd); err != nil {
		return Product{}, err
	}

	current, err := s.Get(ctx, cmd.StoreID, cmd.ProductID)
	if err != nil {
		return Product{}, err
	}

	updated := current
	updated.Name = strings.TrimSpace(cmd.Name)
	updated.Description = strings.TrimSpace(cmd.Description)
	updated.SKU = strings.TrimSpace(cmd.SKU)
	updated.Price = cmd.Price
	updated.TrackInventory = cmd.TrackInventory
	updated.LowStockThreshold = cmd.LowStockThreshold
	updated.Active = cmd.Active
	updated.UpdatedAt = s.clock()

	if err := s.repo.Update(ctx, updated); err != nil {
		return Product{}, err
	}
	return updated, nil
}

func (s *productService) Delete(ctx context.Context, storeID, productID string) error {
	if strings.TrimSpace(productID) == "" {
		return fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	return s.repo.Delete(ctx, storeID, productID)
}

func (s *productService) Get(ctx context.Context, storeID, productID string) (Product, error) {
	if strings.TrimSpace(productID) == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	product, err := s.repo.FindByID(ctx, storeID, productID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return Product{}, err
	}
	return product, nil
}

func (s *productService) List(ctx context.Context, storeID string, filter ProductListFilter) (domain.CursorPage[Product], error) {
	return s.repo.List(ctx, storeID, repositories.ProductListFilter{
		ActiveOnly:  filter.ActiveOnly,
		TrackedOnly: filter.TrackedOnly,
		Search:      filter.Search,
		Pagination:  filter.Pagination,
	})
}

func validateProductCommand(cmd UpsertProductCommand) error {
	if strings.TrimSpace(cmd.StoreID) == "" {
		return fmt.Errorf("%w: store id is required", ErrProductInvalidInput)
	}
	if strings.TrimSpace(cmd.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrProductInvalidInput)
	}
	if cmd.Price < 0 {
		return fmt.Errorf("%w: price must be >= 0", ErrProductInvalidInput)
	}
	if cmd.Quantity != nil && *cmd.Quantity < 0 {
		return fmt.Errorf("%w: quantity must be >= 0", ErrProductInvalidInput)
	}
	if cmd.LowStockThreshold < 0 {
		return fmt.Errorf("%w: low stock threshold must be >= 0", ErrProductInvalidInput)
	}
	return nil
}
