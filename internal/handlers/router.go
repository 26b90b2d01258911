package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quimera-ai/commerce-api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers

	products  RouteRegistrar
	discounts RouteRegistrar
	orders    RouteRegistrar
	customers RouteRegistrar
	inventory RouteRegistrar
	analytics RouteRegistrar
	checkout  RouteRegistrar
	webhooks  RouteRegistrar

	storeMiddlewares   []func(http.Handler) http.Handler
	webhookMiddlewares []func(http.Handler) http.Handler
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// NewRouter constructs the chi router with shared middleware and the expected
// route groups. Store-scoped groups live under /stores/{storeID} and run the
// configured store middlewares before their registrars.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()

	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		mount := func(parent chi.Router, path string, registrar RouteRegistrar, name string, groupMW []func(http.Handler) http.Handler) {
			parent.Route(path, func(group chi.Router) {
				for _, mw := range groupMW {
					if mw != nil {
						group.Use(mw)
					}
				}
				if registrar != nil {
					registrar(group)
					return
				}
				registerNotImplemented(group, name)
			})
		}

		api.Route("/stores/{storeID}", func(store chi.Router) {
			for _, mw := range cfg.storeMiddlewares {
				if mw != nil {
					store.Use(mw)
				}
			}
			mount(store, "/products", cfg.products, "products", nil)
			mount(store, "/discounts", cfg.discounts, "discounts", nil)
			mount(store, "/orders", cfg.orders, "orders", nil)
			mount(store, "/customers", cfg.customers, "customers", nil)
			mount(store, "/inventory", cfg.inventory, "inventory", nil)
			mount(store, "/analytics", cfg.analytics, "analytics", nil)
		})

		mount(api, "/checkout", cfg.checkout, "checkout", nil)
		mount(api, "/webhooks", cfg.webhooks, "webhooks", cfg.webhookMiddlewares)
	})

	return r
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithStoreMiddlewares configures middlewares applied to every /stores/{storeID} group,
// typically authentication and store access enforcement.
func WithStoreMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.storeMiddlewares = append(cfg.storeMiddlewares, mw...)
	}
}

// WithProductRoutes configures the registrar responsible for catalog endpoints.
func WithProductRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.products = reg
	}
}

// WithDiscountRoutes configures the registrar responsible for discount endpoints.
func WithDiscountRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.discounts = reg
	}
}

// WithOrderRoutes configures the registrar responsible for order endpoints.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.orders = reg
	}
}

// WithCustomerRoutes configures the registrar responsible for customer endpoints.
func WithCustomerRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.customers = reg
	}
}

// WithInventoryRoutes configures the registrar responsible for inventory endpoints.
func WithInventoryRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.inventory = reg
	}
}

// WithAnalyticsRoutes configures the registrar responsible for analytics endpoints.
func WithAnalyticsRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.analytics = reg
	}
}

// WithCheckoutRoutes configures the registrar responsible for storefront checkout endpoints.
func WithCheckoutRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.checkout = reg
	}
}

// WithWebhookRoutes configures the registrar responsible for webhook endpoints.
func WithWebhookRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.webhooks = reg
	}
}

// WithWebhookMiddlewares configures middlewares applied to the /webhooks group.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.webhookMiddlewares = append(cfg.webhookMiddlewares, mw...)
	}
}

func registerNotImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
