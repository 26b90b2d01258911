package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quimera-ai/commerce-api/internal/payments"
	"github.com/quimera-ai/commerce-api/internal/platform/config"
	"github.com/quimera-ai/commerce-api/internal/platform/requestctx"
	"github.com/quimera-ai/commerce-api/internal/repositories"
	"github.com/quimera-ai/commerce-api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Products  services.ProductService
	Discounts services.DiscountService
	Inventory services.InventoryService
	Orders    services.OrderService
	Customers services.CustomerService
	Checkout  services.CheckoutService
	Analytics services.AnalyticsService
}

// Deps carries the external collaborators the service layer is wired against.
type Deps struct {
	Registry    repositories.Registry
	Payments    payments.Provider
	OrderEvents services.OrderEventPublisher
	StockEvents services.StockEventPublisher
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries and stub publishers.
func NewContainer(ctx context.Context, cfg config.Config, deps Deps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(ctx context.Context, cfg config.Config, deps Deps) (Services, error) {
	var svc Services
	reg := deps.Registry

	productSvc, err := services.NewProductService(services.ProductServiceDeps{
		Products: reg.Products(),
		Clock:    time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build product service: %w", err)
	}
	svc.Products = productSvc

	discountSvc, err := services.NewDiscountService(services.DiscountServiceDeps{
		Discounts: reg.Discounts(),
		Clock:     time.Now,
		Logger:    zapEventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build discount service: %w", err)
	}
	svc.Discounts = discountSvc

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Products: reg.Products(),
		Events:   deps.StockEvents,
		Clock:    time.Now,
		Logger:   zapEventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      reg.Orders(),
		Inventory:   svc.Inventory,
		Payments:    deps.Payments,
		Events:      deps.OrderEvents,
		StockEvents: deps.StockEvents,
		Clock:       time.Now,
		Logger:      zapEventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	customerSvc, err := services.NewCustomerService(services.CustomerServiceDeps{
		Customers: reg.Customers(),
		Clock:     time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build customer service: %w", err)
	}
	svc.Customers = customerSvc

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Products:  reg.Products(),
		Orders:    reg.Orders(),
		Counters:  reg.Counters(),
		Discounts: svc.Discounts,
		Customers: svc.Customers,
		Payments:  deps.Payments,
		Events:    deps.OrderEvents,
		Clock:     time.Now,
		Logger:    zapEventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	analyticsSvc, err := services.NewAnalyticsService(services.AnalyticsServiceDeps{
		Orders:    reg.Orders(),
		Products:  reg.Products(),
		Customers: reg.Customers(),
		Clock:     time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build analytics service: %w", err)
	}
	svc.Analytics = analyticsSvc

	return svc, nil
}

// zapEventLogger adapts the request-scoped zap logger to the service layer's
// structured event callback.
func zapEventLogger(ctx context.Context, event string, fields map[string]any) {
	logger := requestctx.Logger(ctx)
	zapFields := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		zapFields = append(zapFields, zap.Any(key, value))
	}
	logger.Info(event, zapFields...)
}
