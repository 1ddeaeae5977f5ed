package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/roosvelt/autobusiness/internal/backend"
	"github.com/roosvelt/autobusiness/internal/catalog"
	"github.com/roosvelt/autobusiness/internal/checkout/form"
	"github.com/roosvelt/autobusiness/internal/checkout/orderclient"
	"github.com/roosvelt/autobusiness/internal/checkout/service"
	"github.com/roosvelt/autobusiness/internal/checkout/workflow"
	"github.com/roosvelt/autobusiness/internal/domain"
	"github.com/roosvelt/autobusiness/pkg/logger"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// ValidationErrorResponse is the 422 body of a rejected checkout form.
type ValidationErrorResponse struct {
	Error  string                  `json:"error"`
	Code   string                  `json:"code"`
	Errors domain.ValidationErrors `json:"errors"`
	Focus  domain.Field            `json:"focus"`
}

var validate = validator.New()

func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errInvalidJSON
	}
	return validate.Struct(dst)
}

var errInvalidJSON = errors.New("invalid JSON body")

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func respondBadRequest(w http.ResponseWriter, err error) {
	if errors.Is(err, errInvalidJSON) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "request validation failed",
			Code:    "invalid_request",
			Details: verrs.Error(),
		})
		return
	}
	respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
}

// handleServiceError maps domain and backend errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var (
		vf     *workflow.ValidationFailure
		apiErr *backend.APIError
	)

	switch {
	case errors.As(err, &vf):
		respondJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{
			Error:  vf.Error(),
			Code:   "validation_failed",
			Errors: vf.Errors,
			Focus:  vf.Focus,
		})
	case errors.Is(err, service.ErrMissingSession):
		respondError(w, http.StatusBadRequest, "missing_session", err.Error())
	case errors.Is(err, catalog.ErrInvalidPriceRange):
		respondError(w, http.StatusBadRequest, "invalid_price_range", err.Error())
	case errors.Is(err, form.ErrUnknownField):
		respondError(w, http.StatusBadRequest, "unknown_field", err.Error())
	case errors.Is(err, domain.ErrUnsupportedCity):
		respondError(w, http.StatusBadRequest, "unsupported_city", err.Error())
	case errors.Is(err, catalog.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", err.Error())
	case errors.Is(err, orderclient.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, service.ErrNoConfirmation):
		respondError(w, http.StatusNotFound, "no_confirmation", err.Error())
	case errors.Is(err, workflow.ErrCheckoutNotOpen):
		respondError(w, http.StatusConflict, "checkout_not_open", err.Error())
	case errors.Is(err, workflow.ErrSubmitInProgress):
		respondError(w, http.StatusConflict, "submission_in_progress", err.Error())
	case errors.Is(err, workflow.ErrEmptyCart):
		respondError(w, http.StatusConflict, "empty_cart", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "upstream call timed out")
	case errors.As(err, &apiErr):
		logger.FromContext(r.Context(), log).Warn("backend call failed", zap.Error(err))
		respondError(w, http.StatusBadGateway, "backend_error", "backend is unavailable")
	default:
		logger.FromContext(r.Context(), log).Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
