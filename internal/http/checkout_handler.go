package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/roosvelt/autobusiness/internal/checkout/workflow"
	"github.com/roosvelt/autobusiness/internal/domain"
	"github.com/roosvelt/autobusiness/pkg/logger"
	"go.uber.org/zap"
)

type CheckoutService interface {
	View(sessionID string) (workflow.View, error)
	Open(sessionID string) (workflow.View, bool, error)
	Cancel(sessionID string) (workflow.View, error)
	SetField(sessionID string, field domain.Field, value string) (workflow.View, error)
	BlurField(sessionID string, field domain.Field) (workflow.View, error)
	Submit(ctx context.Context, sessionID string) (*workflow.ConfirmationView, error)
	Confirmation(sessionID string) (*workflow.ConfirmationView, error)
	CloseConfirmation(sessionID string)
	OrdersByPhone(ctx context.Context, phone string) ([]domain.OrderRecord, error)
}

type CheckoutHandler struct {
	checkout CheckoutService
	timeout  time.Duration
	log      *zap.Logger
}

func NewCheckoutHandler(checkout CheckoutService, timeout time.Duration, log *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		timeout:  timeout,
		log:      logger.OrNop(log),
	}
}

type SetFieldRequestDTO struct {
	Value *string `json:"value" validate:"required"`
}

// GET /api/v1/checkout
func (h *CheckoutHandler) View(w http.ResponseWriter, r *http.Request) {
	view, err := h.checkout.View(getSessionID(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Open(w http.ResponseWriter, r *http.Request) {
	view, _, err := h.checkout.Open(getSessionID(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// DELETE /api/v1/checkout
func (h *CheckoutHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	view, err := h.checkout.Cancel(getSessionID(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// PUT /api/v1/checkout/fields/{field}
func (h *CheckoutHandler) SetField(w http.ResponseWriter, r *http.Request) {
	var req SetFieldRequestDTO
	if err := decodeAndValidate(r, &req); err != nil {
		respondBadRequest(w, err)
		return
	}

	field := domain.Field(chi.URLParam(r, "field"))
	view, err := h.checkout.SetField(getSessionID(r.Context()), field, *req.Value)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// POST /api/v1/checkout/fields/{field}/blur
func (h *CheckoutHandler) BlurField(w http.ResponseWriter, r *http.Request) {
	field := domain.Field(chi.URLParam(r, "field"))
	view, err := h.checkout.BlurField(getSessionID(r.Context()), field)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// POST /api/v1/checkout/submit
func (h *CheckoutHandler) Submit(w http.ResponseWriter, r *http.Request) {
	conf, err := h.checkout.Submit(r.Context(), getSessionID(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, conf)
}

// GET /api/v1/checkout/confirmation
func (h *CheckoutHandler) Confirmation(w http.ResponseWriter, r *http.Request) {
	conf, err := h.checkout.Confirmation(getSessionID(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, conf)
}

// DELETE /api/v1/checkout/confirmation
func (h *CheckoutHandler) CloseConfirmation(w http.ResponseWriter, r *http.Request) {
	h.checkout.CloseConfirmation(getSessionID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/orders/phone/{phone}
func (h *CheckoutHandler) OrdersByPhone(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	phone := chi.URLParam(r, "phone")
	if phone == "" {
		respondError(w, http.StatusBadRequest, "invalid_phone", "phone is required")
		return
	}

	orders, err := h.checkout.OrdersByPhone(ctx, phone)
	if err != nil {
		logger.FromContext(r.Context(), h.log).Warn("orders by phone failed", zap.Error(err))
		respondError(w, http.StatusBadGateway, "backend_unavailable", "could not load orders")
		return
	}
	respondJSON(w, http.StatusOK, orders)
}
