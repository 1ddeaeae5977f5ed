package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/roosvelt/autobusiness/internal/cart"
	"github.com/roosvelt/autobusiness/internal/catalog"
	"github.com/roosvelt/autobusiness/internal/checkout/service"
	"github.com/roosvelt/autobusiness/internal/checkout/workflow"
	"github.com/roosvelt/autobusiness/internal/domain"
	"github.com/roosvelt/autobusiness/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCatalog struct {
	products   map[domain.ProductID]domain.Product
	categories []domain.Category
	err        error
	lastFilter catalog.Filter
}

func (m *mockCatalog) ListProducts(_ context.Context, f catalog.Filter) (*domain.ProductPage, error) {
	m.lastFilter = f
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	page := &domain.ProductPage{Products: []domain.Product{}}
	for _, p := range m.products {
		if f.Matches(p) {
			page.Products = append(page.Products, p)
		}
	}
	catalog.SortProducts(page.Products, f.SortBy)
	page.Count = int64(len(page.Products))
	return page, nil
}

func (m *mockCatalog) GetProduct(_ context.Context, id domain.ProductID) (*domain.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return &p, nil
}

func (m *mockCatalog) ListCategories(context.Context) ([]domain.Category, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.categories, nil
}

// memoryCarts keeps one cart.Store per session.
type memoryCarts struct {
	mu       sync.Mutex
	stores   map[string]*cart.Store
	products *mockCatalog
}

func (m *memoryCarts) store(sessionID string) *cart.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[sessionID]
	if !ok {
		s = cart.NewStore()
		m.stores[sessionID] = s
	}
	return s
}

func (m *memoryCarts) cart(sessionID string) *domain.Cart {
	return &domain.Cart{SessionID: sessionID, CartState: m.store(sessionID).Snapshot()}
}

func (m *memoryCarts) GetCart(_ context.Context, sessionID string) (*domain.Cart, error) {
	return m.cart(sessionID), nil
}

func (m *memoryCarts) AddItem(ctx context.Context, sessionID string, id domain.ProductID) (*domain.Cart, error) {
	p, err := m.products.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	m.store(sessionID).AddItem(*p)
	return m.cart(sessionID), nil
}

func (m *memoryCarts) UpdateQuantity(_ context.Context, sessionID string, id domain.ProductID, q int) (*domain.Cart, error) {
	m.store(sessionID).UpdateQuantity(id, q)
	return m.cart(sessionID), nil
}

func (m *memoryCarts) RemoveItem(_ context.Context, sessionID string, id domain.ProductID) (*domain.Cart, error) {
	m.store(sessionID).RemoveItem(id)
	return m.cart(sessionID), nil
}

func (m *memoryCarts) ClearCart(_ context.Context, sessionID string) error {
	m.store(sessionID).Clear()
	return nil
}

type mockOrders struct {
	mu  sync.Mutex
	err error
}

func (m *mockOrders) CreateOrder(_ context.Context, draft domain.OrderDraft) (*domain.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	rec := domain.FromDraft(draft)
	rec.ID = "42"
	return rec, nil
}

func (m *mockOrders) GetOrdersByPhone(context.Context, string) ([]domain.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return []domain.OrderRecord{{ID: "42", Total: 10000, Status: domain.OrderStatusPending}}, nil
}

type testServer struct {
	handler http.Handler
	catalog *mockCatalog
	carts   *memoryCarts
	orders  *mockOrders
	metrics *metrics.ServerMetrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cat := &mockCatalog{
		products: map[domain.ProductID]domain.Product{
			"1": {ID: "1", Name: "Amortisseur", Price: 45000, Category: "suspension"},
			"2": {ID: "2", Name: "Filtre à huile", Price: 5000, Category: "moteur"},
		},
		categories: []domain.Category{{ID: "suspension", Name: "Suspension"}},
	}
	carts := &memoryCarts{stores: map[string]*cart.Store{}, products: cat}
	orders := &mockOrders{}

	checkout := service.NewCheckoutService(
		func(sessionID string) workflow.Cart { return carts.store(sessionID) },
		orders, orders, nil, nil, nil,
		service.Config{CleanupInterval: time.Hour},
	)
	t.Cleanup(func() { checkout.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.NewServerMetrics(reg, "storefront")

	h := NewRouter(RouterConfig{
		Products:       NewProductHandler(cat, 5*time.Second, nil),
		Cart:           NewCartHandler(carts, 5*time.Second, nil),
		Checkout:       NewCheckoutHandler(checkout, 5*time.Second, nil),
		Metrics:        m,
		MetricsHandler: metrics.Handler(reg),
		RequestTimeout: 30 * time.Second,
	})
	return &testServer{handler: h, catalog: cat, carts: carts, orders: orders, metrics: m}
}

const testSession = "sess-1"

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(SessionHeader, testSession)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestID_EchoesCallerHeader(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()

	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestSession_IssuedWhenMissing(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	rec := httptest.NewRecorder()

	s.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	issued := rec.Header().Get(SessionHeader)
	require.NotEmpty(t, issued)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.Equal(t, issued, cookies[0].Value)
	assert.Equal(t, issued, decode[CartResponse](t, rec).SessionID)
}

func TestSession_FromCookieAndHeader(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "cookie-session"})
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "cookie-session", rec.Header().Get(SessionHeader))
	assert.Empty(t, rec.Result().Cookies())

	req = httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "cookie-session"})
	req.Header.Set(SessionHeader, "header-session")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "header-session", rec.Header().Get(SessionHeader))
}

func TestSession_RejectsMalformedID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cookie string
	}{
		{name: "header with separators", header: "bad id; drop"},
		{name: "header too long", header: strings.Repeat("a", 65)},
		{name: "cookie with separators", cookie: "bad/id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
			if tt.header != "" {
				req.Header.Set(SessionHeader, tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()

			s.handler.ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid_session", decode[ErrorResponse](t, rec).Code)
			assert.Empty(t, rec.Header().Get(SessionHeader))
		})
	}
}

func TestSession_MalformedCookieIsExpired(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "bad/id"})
	rec := httptest.NewRecorder()

	s.handler.ServeHTTP(rec, req)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.Less(t, cookies[0].MaxAge, 0)
}

func TestSession_MaxLengthIDAccepted(t *testing.T) {
	s := newTestServer(t)
	id := strings.Repeat("a", 64)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set(SessionHeader, id)
	rec := httptest.NewRecorder()

	s.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, rec.Header().Get(SessionHeader))
}

func TestListProducts(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/products?category=moteur&minPrice=null&sortBy=price_desc", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[domain.ProductPage](t, rec)
	require.Len(t, page.Products, 1)
	assert.Equal(t, domain.ProductID("2"), page.Products[0].ID)
	assert.Nil(t, s.catalog.lastFilter.MinPrice)
	assert.Equal(t, "price_desc", s.catalog.lastFilter.SortBy)
}

func TestListProducts_BadPrices(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/products?minPrice=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/products?minPrice=500&maxPrice=100", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_price_range", decode[ErrorResponse](t, rec).Code)
}

func TestListProducts_LoadError(t *testing.T) {
	s := newTestServer(t)
	s.catalog.err = errors.New("backend down")

	rec := s.do(t, http.MethodGet, "/api/v1/products", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	page := decode[domain.ProductPage](t, rec)
	assert.NotNil(t, page.Products)
	assert.Empty(t, page.Products)

	rec = s.do(t, http.MethodGet, "/api/v1/categories", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestGetProduct(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/products/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Amortisseur", decode[domain.Product](t, rec).Name)

	rec = s.do(t, http.MethodGet, "/api/v1/products/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "product_not_found", decode[ErrorResponse](t, rec).Code)
}

func TestCategories(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/categories", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Category](t, rec), 1)
}

func TestCart_AddUpdateRemoveClear(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": 2})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": "2"})
	require.Equal(t, http.StatusCreated, rec.Code)
	got := decode[CartResponse](t, rec)
	assert.Equal(t, testSession, got.SessionID)
	assert.Equal(t, 2, got.ItemCount)
	assert.Equal(t, int64(10000), got.Total)

	rec = s.do(t, http.MethodPut, "/api/v1/cart/items/2", map[string]any{"quantity": 5})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(25000), decode[CartResponse](t, rec).Total)

	rec = s.do(t, http.MethodPut, "/api/v1/cart/items/2", map[string]any{"quantity": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[CartResponse](t, rec).Items)

	s.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": "1"})
	rec = s.do(t, http.MethodDelete, "/api/v1/cart/items/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[CartResponse](t, rec).ItemCount)

	s.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": "1"})
	rec = s.do(t, http.MethodDelete, "/api/v1/cart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := decode[CartResponse](t, rec)
	assert.NotNil(t, cleared.Items)
	assert.Equal(t, int64(0), cleared.Total)
}

func TestCart_BadRequests(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader("{"))
	req.Header.Set(SessionHeader, testSession)
	raw := httptest.NewRecorder()
	s.handler.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": "999"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/v1/cart/items/1", map[string]any{"quantity": 1000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/v1/cart/items/1", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func fillCheckout(t *testing.T, s *testServer) {
	t.Helper()
	values := []struct{ field, value string }{
		{"firstName", "Jean"},
		{"lastName", "Mballa"},
		{"phone", "+237 699 849 474"},
		{"address", "Rue 1.234"},
		{"city", "Douala"},
		{"quarter", "Akwa"},
	}
	for _, v := range values {
		rec := s.do(t, http.MethodPut, "/api/v1/checkout/fields/"+v.field, map[string]string{"value": v.value})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
}

func TestCheckout_OpenEmptyCartStaysIdle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/checkout", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.CheckoutIdle, decode[workflow.View](t, rec).State)
}

func TestCheckout_FieldErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/v1/checkout/fields/firstName", map[string]string{"value": "Jean"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "checkout_not_open", decode[ErrorResponse](t, rec).Code)

	s.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": "1"})
	s.do(t, http.MethodPost, "/api/v1/checkout", nil)

	rec = s.do(t, http.MethodPut, "/api/v1/checkout/fields/email", map[string]string{"value": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_field", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPut, "/api/v1/checkout/fields/city", map[string]string{"value": "Paris"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unsupported_city", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/checkout/fields/lastName/blur", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[workflow.View](t, rec).Errors, domain.FieldLastName)
}

func TestCheckout_SubmitValidationFailure(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": "1"})
	s.do(t, http.MethodPost, "/api/v1/checkout", nil)

	rec := s.do(t, http.MethodPost, "/api/v1/checkout/submit", nil)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[ValidationErrorResponse](t, rec)
	assert.Equal(t, domain.FieldFirstName, body.Focus)
	assert.Contains(t, body.Errors, domain.FieldPhone)
}

func TestCheckout_FullFlow(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": "2"})
	s.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": "2"})

	rec := s.do(t, http.MethodPost, "/api/v1/checkout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.CheckoutFormOpen, decode[workflow.View](t, rec).State)

	fillCheckout(t, s)

	rec = s.do(t, http.MethodPost, "/api/v1/checkout/submit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	conf := decode[workflow.ConfirmationView](t, rec)
	assert.True(t, conf.Persisted)
	assert.Equal(t, "42", conf.Order.ID)
	assert.True(t, strings.HasPrefix(conf.HandoffURL, "https://wa.me/237699849474?text="))

	rec = s.do(t, http.MethodGet, "/api/v1/cart", nil)
	assert.Equal(t, 0, decode[CartResponse](t, rec).ItemCount)

	rec = s.do(t, http.MethodGet, "/api/v1/checkout/confirmation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, conf.Message, decode[workflow.ConfirmationView](t, rec).Message)

	rec = s.do(t, http.MethodPost, "/api/v1/checkout/submit", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/checkout/confirmation", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/v1/checkout/confirmation", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/checkout/confirmation", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/checkout", nil)
	assert.Equal(t, domain.CheckoutClosed, decode[workflow.View](t, rec).State)
}

func TestCheckout_BackendFailureStillConfirms(t *testing.T) {
	s := newTestServer(t)
	s.orders.err = errors.New("backend down")
	s.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": "1"})
	s.do(t, http.MethodPost, "/api/v1/checkout", nil)
	fillCheckout(t, s)

	rec := s.do(t, http.MethodPost, "/api/v1/checkout/submit", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	conf := decode[workflow.ConfirmationView](t, rec)
	assert.False(t, conf.Persisted)
	assert.True(t, strings.HasPrefix(conf.Order.ID, "order_"))
}

func TestCheckout_Cancel(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": "1"})
	s.do(t, http.MethodPost, "/api/v1/checkout", nil)

	rec := s.do(t, http.MethodDelete, "/api/v1/checkout", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.CheckoutIdle, decode[workflow.View](t, rec).State)
}

func TestOrdersByPhone(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/orders/phone/699849474", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.OrderRecord](t, rec), 1)

	s.orders.err = errors.New("backend down")
	rec = s.do(t, http.MethodGet, "/api/v1/orders/phone/699849474", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestMetrics_CountsByRoutePattern(t *testing.T) {
	s := newTestServer(t)

	s.do(t, http.MethodGet, "/api/v1/products/1", nil)
	s.do(t, http.MethodGet, "/api/v1/products/999", nil)

	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.Requests.WithLabelValues("/api/v1/products/{id}", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.Requests.WithLabelValues("/api/v1/products/{id}", "404")))

	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "autobusiness_storefront_http_requests_total")
}
