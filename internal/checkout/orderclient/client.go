// Package orderclient submits orders to the backend order API.
package orderclient

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roosvelt/autobusiness/internal/backend"
	"github.com/roosvelt/autobusiness/internal/domain"
	"github.com/roosvelt/autobusiness/pkg/logger"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

var ErrOrderNotFound = errors.New("order not found")

type Config struct {
	// AttemptTimeout bounds a single POST.
	AttemptTimeout time.Duration
	// MaxRetries is the number of attempts after the first one.
	MaxRetries  uint64
	BaseBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		AttemptTimeout: 5 * time.Second,
		MaxRetries:     2,
		BaseBackoff:    200 * time.Millisecond,
	}
}

type Client struct {
	api *backend.Client
	cfg Config
	log *zap.Logger
}

func New(api *backend.Client, cfg Config, log *zap.Logger) *Client {
	def := DefaultConfig()
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	return &Client{api: api, cfg: cfg, log: logger.OrNop(log)}
}

type createOrderItem struct {
	Product  domain.Product `json:"product"`
	Quantity int            `json:"quantity"`
}

type createOrderRequest struct {
	CustomerInfo domain.CustomerInfo `json:"customerInfo"`
	Items        []createOrderItem   `json:"items"`
	Total        int64               `json:"total"`
}

// CreateOrder posts draft. Transport errors, attempt timeouts, 5xx and 429
// are retried with exponential backoff; every attempt carries the draft's
// idempotency key. A success answer that cannot be decoded is returned as
// is and never retried.
func (c *Client) CreateOrder(ctx context.Context, draft domain.OrderDraft) (*domain.OrderRecord, error) {
	body := createOrderRequest{
		CustomerInfo: draft.CustomerInfo,
		Items:        make([]createOrderItem, 0, len(draft.Items)),
		Total:        draft.Total,
	}
	for _, l := range draft.Items {
		body.Items = append(body.Items, createOrderItem{Product: l.Product, Quantity: l.Quantity})
	}

	b := retry.WithMaxRetries(c.cfg.MaxRetries, retry.NewExponential(c.cfg.BaseBackoff))
	attempt := 0

	return retry.DoValue(ctx, b, func(ctx context.Context) (*domain.OrderRecord, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		defer cancel()

		var resp orderResponse
		err := c.api.Do(attemptCtx, backend.Request{
			Method: http.MethodPost,
			Path:   "/orders",
			Header: http.Header{"Idempotency-Key": {draft.IdempotencyKey}},
			Body:   body,
		}, &resp)
		if err == nil {
			return resp.record(draft), nil
		}

		if ctx.Err() == nil && retryable(err) {
			logger.FromContext(ctx, c.log).Warn("create order attempt failed",
				zap.String("order_id", draft.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return nil, retry.RetryableError(err)
		}
		return nil, err
	})
}

func (c *Client) GetOrder(ctx context.Context, id string) (*domain.OrderRecord, error) {
	var resp orderResponse
	err := c.api.Do(ctx, backend.Request{
		Method: http.MethodGet,
		Path:   "/orders/" + url.PathEscape(id),
	}, &resp)
	if backend.IsStatus(err, http.StatusNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return resp.record(domain.OrderDraft{}), nil
}

// GetOrdersByPhone lists the orders placed with phone, as the backend
// stores it.
func (c *Client) GetOrdersByPhone(ctx context.Context, phone string) ([]domain.OrderRecord, error) {
	var resp []orderResponse
	err := c.api.Do(ctx, backend.Request{
		Method: http.MethodGet,
		Path:   "/orders/phone/" + url.PathEscape(phone),
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]domain.OrderRecord, 0, len(resp))
	for _, r := range resp {
		out = append(out, *r.record(domain.OrderDraft{}))
	}
	return out, nil
}

func retryable(err error) bool {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	// the backend answered 2xx, the order exists
	if backend.IsDecodeError(err) {
		return false
	}
	// transport failures and attempt timeouts
	return true
}

type orderResponse struct {
	ID           string              `json:"id"`
	CustomerInfo domain.CustomerInfo `json:"customerInfo"`
	Items        []domain.CartLine   `json:"items"`
	Total        int64               `json:"total"`
	Status       string              `json:"status"`
	CreatedAt    domain.Timestamp    `json:"createdAt"`
}

// record converts the backend answer. Lines the backend echoes without a
// product name are replaced by the submitted ones.
func (r orderResponse) record(draft domain.OrderDraft) *domain.OrderRecord {
	items := r.Items
	if len(draft.Items) > 0 && !complete(items) {
		items = domain.CartState{Lines: draft.Items}.Clone().Lines
	}
	total := r.Total
	if total == 0 {
		total = domain.SumLines(items)
	}
	info := r.CustomerInfo
	if info == (domain.CustomerInfo{}) {
		info = draft.CustomerInfo
	}
	status := domain.OrderStatus(strings.ToLower(r.Status))
	if status == "" {
		status = domain.OrderStatusPending
	}
	return &domain.OrderRecord{
		ID:           r.ID,
		CustomerInfo: info,
		Items:        items,
		Total:        total,
		Status:       status,
		CreatedAt:    r.CreatedAt,
		Persisted:    true,
	}
}

func complete(lines []domain.CartLine) bool {
	if len(lines) == 0 {
		return false
	}
	for _, l := range lines {
		if l.Product.Name == "" {
			return false
		}
	}
	return true
}
