package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/roosvelt/autobusiness/internal/catalog"
	"github.com/roosvelt/autobusiness/internal/domain"
	"github.com/roosvelt/autobusiness/pkg/logger"
	"go.uber.org/zap"
)

type ProductHandler struct {
	catalog catalog.Catalog
	timeout time.Duration
	log     *zap.Logger
}

func NewProductHandler(c catalog.Catalog, timeout time.Duration, log *zap.Logger) *ProductHandler {
	return &ProductHandler{
		catalog: c,
		timeout: timeout,
		log:     logger.OrNop(log),
	}
}

// GET /api/v1/products
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	minPrice, err := catalog.PriceParam(q.Get("minPrice"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_price", err.Error())
		return
	}
	maxPrice, err := catalog.PriceParam(q.Get("maxPrice"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_price", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	page, err := h.catalog.ListProducts(ctx, catalog.Filter{
		Category: q.Get("category"),
		MinPrice: minPrice,
		MaxPrice: maxPrice,
		Search:   q.Get("search"),
		SortBy:   q.Get("sortBy"),
	})
	if errors.Is(err, catalog.ErrInvalidPriceRange) {
		handleServiceError(w, r, h.log, err)
		return
	}
	if err != nil {
		logger.FromContext(r.Context(), h.log).Warn("product listing failed", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, &domain.ProductPage{Products: []domain.Product{}})
		return
	}

	respondJSON(w, http.StatusOK, page)
}

// GET /api/v1/products/{id}
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := domain.ProductID(chi.URLParam(r, "id"))
	p, err := h.catalog.GetProduct(ctx, id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, p)
}

// GET /api/v1/categories
func (h *ProductHandler) Categories(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	categories, err := h.catalog.ListCategories(ctx)
	if err != nil {
		logger.FromContext(r.Context(), h.log).Warn("category listing failed", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, []domain.Category{})
		return
	}

	respondJSON(w, http.StatusOK, categories)
}
