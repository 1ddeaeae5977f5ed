package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/roosvelt/autobusiness/pkg/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	Products       *ProductHandler
	Cart           *CartHandler
	Checkout       *CheckoutHandler
	Metrics        *metrics.ServerMetrics
	MetricsHandler http.Handler
	RequestTimeout time.Duration
}

// NewRouter mounts the storefront API. The returned handler is traced with
// otelhttp.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	r.Use(middleware.Compress(5))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(SessionMiddleware)

		r.Get("/products", cfg.Products.List)
		r.Get("/products/{id}", cfg.Products.Get)
		r.Get("/categories", cfg.Products.Categories)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cfg.Cart.GetCart)
			r.Delete("/", cfg.Cart.ClearCart)
			r.Post("/items", cfg.Cart.AddItem)
			r.Put("/items/{product_id}", cfg.Cart.UpdateQuantity)
			r.Delete("/items/{product_id}", cfg.Cart.RemoveItem)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Get("/", cfg.Checkout.View)
			r.Post("/", cfg.Checkout.Open)
			r.Delete("/", cfg.Checkout.Cancel)
			r.Put("/fields/{field}", cfg.Checkout.SetField)
			r.Post("/fields/{field}/blur", cfg.Checkout.BlurField)
			r.Post("/submit", cfg.Checkout.Submit)
			r.Get("/confirmation", cfg.Checkout.Confirmation)
			r.Delete("/confirmation", cfg.Checkout.CloseConfirmation)
		})

		r.Get("/orders/phone/{phone}", cfg.Checkout.OrdersByPhone)
	})

	return otelhttp.NewHandler(r, "storefront")
}
