package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/quimera-ai/commerce-api/internal/domain"
	"github.com/quimera-ai/commerce-api/internal/repositories"
)

const (
	stockEventAdjusted     = "inventory.adjusted"
	stockEventRestocked    = "inventory.restocked"
	stockEventLow          = "inventory.low_stock"
	stockEventOut          = "inventory.out_of_stock"
	stockEventNotifyQueued = "inventory.restock.notify"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid data.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInsufficientStock indicates an adjustment or capture would take the quantity below zero.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryProductNotFound indicates the product could not be located.
	ErrInventoryProductNotFound = errors.New("inventory: product not found")
)

// StockEventPublisher accepts stock change notifications for downstream processing.
type StockEventPublisher interface {
	PublishStockEvent(ctx context.Context, event StockEvent) error
}

// StockEvent captures metadata for emitted inventory events.
type StockEvent struct {
	Type       string
	StoreID    string
	ProductID  string
	SKU        string
	Quantity   int
	Emails     []string
	OccurredAt time.Time
}

// InventoryServiceDeps bundles collaborators required to construct the inventory service.
type InventoryServiceDeps struct {
	Products repositories.ProductRepository
	Events   StockEventPublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products repositories.ProductRepository
	events   StockEventPublisher
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewInventoryService wires an InventoryService backed by the product repository.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryService{
		products: deps.Products,
		events:   deps.Events,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// AdjustStock is the only sanctioned stock mutation outside the order
// lifecycle transactions. Restocks from zero trigger back-in-stock alerts.
func (s *inventoryService) AdjustStock(ctx context.Context, cmd AdjustStockCommand) (Product, error) {
	if strings.TrimSpace(cmd.ProductID) == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if (cmd.Delta == nil) == (cmd.SetTo == nil) {
		return Product{}, fmt.Errorf("%w: exactly one of delta or quantity is required", ErrInventoryInvalidInput)
	}

	now := s.clock()
	result, err := s.products.AdjustStock(ctx, repositories.StockAdjustment{
		StoreID:   cmd.StoreID,
		ProductID: cmd.ProductID,
		Delta:     cmd.Delta,
		SetTo:     cmd.SetTo,
		ActorID:   strings.TrimSpace(cmd.ActorID),
		Reason:    strings.TrimSpace(cmd.Reason),
		Now:       now,
	})
	if err != nil {
		return Product{}, translateInventoryError(err)
	}

	product := result.Product
	s.logger(ctx, stockEventAdjusted, map[string]any{
		"productId": product.ID,
		"quantity":  product.Quantity,
		"actorId":   cmd.ActorID,
	})
	s.publish(ctx, StockEvent{
		Type:       stockEventAdjusted,
		StoreID:    cmd.StoreID,
		ProductID:  product.ID,
		SKU:        product.SKU,
		Quantity:   product.Quantity,
		OccurredAt: now,
	})

	if result.Restocked {
		if _, err := s.NotifyRestocked(ctx, cmd.StoreID, product.ID); err != nil {
			// Alert delivery must not undo a committed stock change.
			s.logger(ctx, "inventory.restock.notify.failed", map[string]any{
				"productId": product.ID,
				"error":     err.Error(),
			})
		}
	}
	if product.OutOfStock() {
		s.publish(ctx, StockEvent{
			Type:       stockEventOut,
			StoreID:    cmd.StoreID,
			ProductID:  product.ID,
			SKU:        product.SKU,
			Quantity:   0,
			OccurredAt: now,
		})
	} else if product.LowStock() {
		s.publish(ctx, StockEvent{
			Type:       stockEventLow,
			StoreID:    cmd.StoreID,
			ProductID:  product.ID,
			SKU:        product.SKU,
			Quantity:   product.Quantity,
			OccurredAt: now,
		})
	}
	return product, nil
}

// ListLowStock scans the tracked catalog and keeps products at or below
// their threshold. The view is derived on demand, never materialised.
func (s *inventoryService) ListLowStock(ctx context.Context, storeID string) ([]Product, error) {
	return s.scanTracked(ctx, storeID, func(p Product) bool { return p.LowStock() })
}

// ListOutOfStock scans the tracked catalog and keeps exhausted products.
func (s *inventoryService) ListOutOfStock(ctx context.Context, storeID string) ([]Product, error) {
	return s.scanTracked(ctx, storeID, func(p Product) bool { return p.OutOfStock() })
}

func (s *inventoryService) scanTracked(ctx context.Context, storeID string, keep func(Product) bool) ([]Product, error) {
	var matched []Product
	token := ""
	for {
		page, err := s.products.List(ctx, storeID, repositories.ProductListFilter{
			TrackedOnly: true,
			Pagination:  domain.Pagination{PageSize: 200, PageToken: token},
		})
		if err != nil {
			return nil, err
		}
		for _, product := range page.Items {
			if keep(product) {
				matched = append(matched, product)
			}
		}
		if page.NextPageToken == "" {
			return matched, nil
		}
		token = page.NextPageToken
	}
}

// SubscribeRestock records an email to alert when the product comes back.
func (s *inventoryService) SubscribeRestock(ctx context.Context, storeID, productID, email string) (RestockSubscription, error) {
	productID = strings.TrimSpace(productID)
	email = strings.ToLower(strings.TrimSpace(email))
	if productID == "" || email == "" || !strings.Contains(email, "@") {
		return RestockSubscription{}, fmt.Errorf("%w: product id and a valid email are required", ErrInventoryInvalidInput)
	}
	return s.products.SubscribeRestock(ctx, storeID, productID, email, s.clock())
}

// NotifyRestocked publishes a back-in-stock alert to all pending subscribers
// and marks them notified. It returns the number of emails queued.
func (s *inventoryService) NotifyRestocked(ctx context.Context, storeID, productID string) (int, error) {
	subs, err := s.products.ListRestockSubscribers(ctx, storeID, productID)
	if err != nil {
		return 0, err
	}
	if len(subs) == 0 {
		return 0, nil
	}

	emails := make([]string, 0, len(subs))
	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		emails = append(emails, sub.Email)
		ids = append(ids, sub.ID)
	}

	now := s.clock()
	if s.events != nil {
		err := s.events.PublishStockEvent(ctx, StockEvent{
			Type:       stockEventNotifyQueued,
			StoreID:    storeID,
			ProductID:  productID,
			Emails:     emails,
			OccurredAt: now,
		})
		if err != nil {
			return 0, err
		}
	}

	if err := s.products.MarkRestockNotified(ctx, storeID, productID, ids, now); err != nil {
		return 0, err
	}
	s.logger(ctx, stockEventRestocked, map[string]any{
		"productId": productID,
		"notified":  len(emails),
	})
	return len(emails), nil
}

func (s *inventoryService) publish(ctx context.Context, event StockEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishStockEvent(ctx, event); err != nil {
		s.logger(ctx, "inventory.event.publish.failed", map[string]any{
			"type":      event.Type,
			"productId": event.ProductID,
			"error":     err.Error(),
		})
	}
}

func translateInventoryError(err error) error {
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrInsufficientStock, invErr.Message)
		case repositories.InventoryErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryProductNotFound, invErr.Message)
		case repositories.InventoryErrorInvalidAdjustment:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, invErr.Message)
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrInventoryProductNotFound, err)
	}
	return err
}
