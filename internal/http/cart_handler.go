package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/roosvelt/autobusiness/internal/domain"
	"github.com/roosvelt/autobusiness/pkg/logger"
	"go.uber.org/zap"
)

type CartService interface {
	GetCart(ctx context.Context, sessionID string) (*domain.Cart, error)
	AddItem(ctx context.Context, sessionID string, productID domain.ProductID) (*domain.Cart, error)
	UpdateQuantity(ctx context.Context, sessionID string, productID domain.ProductID, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, sessionID string, productID domain.ProductID) (*domain.Cart, error)
	ClearCart(ctx context.Context, sessionID string) error
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
	log     *zap.Logger
}

func NewCartHandler(carts CartService, timeout time.Duration, log *zap.Logger) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
		log:     logger.OrNop(log),
	}
}

type AddItemRequestDTO struct {
	ProductID domain.ProductID `json:"product_id" validate:"required"`
}

type UpdateQuantityRequestDTO struct {
	Quantity *int `json:"quantity" validate:"required,min=-1000,max=999"`
}

type CartResponse struct {
	SessionID string            `json:"session_id"`
	Items     []domain.CartLine `json:"items"`
	Total     int64             `json:"total"`
	ItemCount int               `json:"item_count"`
}

func newCartResponse(sessionID string, c *domain.Cart) CartResponse {
	resp := CartResponse{SessionID: sessionID, Items: []domain.CartLine{}}
	if c == nil {
		return resp
	}
	if c.Lines != nil {
		resp.Items = c.Lines
	}
	resp.Total = c.Total
	for _, l := range c.Lines {
		resp.ItemCount += l.Quantity
	}
	return resp
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessionID := getSessionID(r.Context())
	c, err := h.carts.GetCart(ctx, sessionID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, newCartResponse(sessionID, c))
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := decodeAndValidate(r, &req); err != nil {
		respondBadRequest(w, err)
		return
	}

	sessionID := getSessionID(r.Context())
	c, err := h.carts.AddItem(ctx, sessionID, req.ProductID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondJSON(w, http.StatusCreated, newCartResponse(sessionID, c))
}

// PUT /api/v1/cart/items/{product_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID := domain.ProductID(chi.URLParam(r, "product_id"))

	var req UpdateQuantityRequestDTO
	if err := decodeAndValidate(r, &req); err != nil {
		respondBadRequest(w, err)
		return
	}

	sessionID := getSessionID(r.Context())
	c, err := h.carts.UpdateQuantity(ctx, sessionID, productID, *req.Quantity)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, newCartResponse(sessionID, c))
}

// DELETE /api/v1/cart/items/{product_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessionID := getSessionID(r.Context())
	productID := domain.ProductID(chi.URLParam(r, "product_id"))
	c, err := h.carts.RemoveItem(ctx, sessionID, productID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, newCartResponse(sessionID, c))
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessionID := getSessionID(r.Context())
	if err := h.carts.ClearCart(ctx, sessionID); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, newCartResponse(sessionID, nil))
}
