package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/roosvelt/autobusiness/internal/backend"
	"github.com/roosvelt/autobusiness/internal/cart"
	r "github.com/roosvelt/autobusiness/internal/checkout/repository"
	"github.com/roosvelt/autobusiness/internal/checkout/workflow"
	"github.com/roosvelt/autobusiness/internal/domain"
	"github.com/roosvelt/autobusiness/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockLedger struct {
	mu        sync.RWMutex
	created   []*r.CheckoutRecord
	createErr error
}

func (m *MockLedger) CreateCheckoutRecord(_ context.Context, rec *r.CheckoutRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, rec)
	return nil
}

func (m *MockLedger) records() []*r.CheckoutRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*r.CheckoutRecord(nil), m.created...)
}

func (m *MockLedger) GetByIdempotencyKey(context.Context, string) (*r.CheckoutRecord, error) {
	return nil, r.ErrCheckoutNotFound
}
func (m *MockLedger) GetUnpublished(context.Context, int) ([]*r.CheckoutRecord, error) {
	return nil, nil
}
func (m *MockLedger) MarkPublished(context.Context, uuid.UUID) error { return nil }
func (m *MockLedger) GetUnpersisted(context.Context, int) ([]*r.CheckoutRecord, error) {
	return nil, nil
}
func (m *MockLedger) MarkPersisted(context.Context, uuid.UUID, string, json.RawMessage) error {
	return nil
}
func (m *MockLedger) StopResync(context.Context, uuid.UUID, string, string) error {
	return nil
}
func (m *MockLedger) Close() error                       { return nil }
func (m *MockLedger) RunMigrations(*r.Credentials) error { return nil }

type mockOrders struct {
	mu     sync.Mutex
	err    error
	drafts []domain.OrderDraft
	byTel  map[string][]domain.OrderRecord
}

func (m *mockOrders) CreateOrder(_ context.Context, draft domain.OrderDraft) (*domain.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts = append(m.drafts, draft)
	if m.err != nil {
		return nil, m.err
	}
	rec := domain.FromDraft(draft)
	rec.ID = "42"
	return rec, nil
}

func (m *mockOrders) GetOrdersByPhone(_ context.Context, phone string) ([]domain.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.byTel[phone], nil
}

type fixture struct {
	svc     *CheckoutService
	carts   map[string]*cart.Store
	orders  *mockOrders
	ledger  *MockLedger
	metrics *metrics.CheckoutMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		carts:   map[string]*cart.Store{},
		orders:  &mockOrders{},
		ledger:  &MockLedger{},
		metrics: metrics.NewCheckoutMetrics(prometheus.NewRegistry()),
	}
	var mu sync.Mutex
	binder := func(sessionID string) workflow.Cart {
		mu.Lock()
		defer mu.Unlock()
		s, ok := f.carts[sessionID]
		if !ok {
			s = cart.NewStore()
			f.carts[sessionID] = s
		}
		return s
	}
	f.svc = NewCheckoutService(binder, f.orders, f.orders, f.ledger, f.metrics, nil, Config{
		SessionTTL:      time.Hour,
		CleanupInterval: time.Hour,
		WorkflowOptions: []workflow.Option{workflow.WithSubmitTimeout(time.Second)},
	})
	t.Cleanup(func() { f.svc.Close() })
	return f
}

func (f *fixture) fillCart(sessionID string) {
	f.svc.session(sessionID)
	f.carts[sessionID].AddItem(domain.Product{ID: "a", Name: "Casque", Price: 5000})
	f.carts[sessionID].AddItem(domain.Product{ID: "a", Name: "Casque", Price: 5000})
}

func (f *fixture) fillForm(t *testing.T, sessionID string) {
	t.Helper()
	values := map[domain.Field]string{
		domain.FieldFirstName: "Jean",
		domain.FieldLastName:  "Mballa",
		domain.FieldPhone:     "+237 699 849 474",
		domain.FieldAddress:   "Rue 1.234",
		domain.FieldCity:      "Douala",
		domain.FieldQuarter:   "Akwa",
	}
	for field, value := range values {
		_, err := f.svc.SetField(sessionID, field, value)
		require.NoError(t, err)
	}
}

func TestOpen_EmptyCartStaysIdle(t *testing.T) {
	f := newFixture(t)

	view, opened, err := f.svc.Open("s1")
	require.NoError(t, err)
	assert.False(t, opened)
	assert.Equal(t, domain.CheckoutIdle, view.State)
}

func TestOpen_MissingSession(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.Open("")
	assert.ErrorIs(t, err, ErrMissingSession)
	_, err = f.svc.View("")
	assert.ErrorIs(t, err, ErrMissingSession)
	_, err = f.svc.Submit(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingSession)
}

func TestSessionsAreIsolated(t *testing.T) {
	f := newFixture(t)
	f.fillCart("s1")

	_, opened, err := f.svc.Open("s1")
	require.NoError(t, err)
	assert.True(t, opened)

	view, err := f.svc.View("s2")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutIdle, view.State)

	_, err = f.svc.SetField("s2", domain.FieldFirstName, "Jean")
	assert.ErrorIs(t, err, workflow.ErrCheckoutNotOpen)
}

func TestSetField_UnknownFieldAndCity(t *testing.T) {
	f := newFixture(t)
	f.fillCart("s1")
	f.svc.Open("s1")

	_, err := f.svc.SetField("s1", domain.Field("email"), "x")
	assert.Error(t, err)

	_, err = f.svc.SetField("s1", domain.FieldCity, "Paris")
	assert.ErrorIs(t, err, domain.ErrUnsupportedCity)
}

func TestBlurField_ShowsError(t *testing.T) {
	f := newFixture(t)
	f.fillCart("s1")
	f.svc.Open("s1")

	view, err := f.svc.BlurField("s1", domain.FieldFirstName)
	require.NoError(t, err)
	assert.Contains(t, view.Errors, domain.FieldFirstName)
	assert.Equal(t, []domain.Field{domain.FieldFirstName}, view.Touched)
}

func TestCancel_ReturnsToIdle(t *testing.T) {
	f := newFixture(t)
	f.fillCart("s1")
	f.svc.Open("s1")

	view, err := f.svc.Cancel("s1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutIdle, view.State)
}

func TestSubmit_ValidationFailure(t *testing.T) {
	f := newFixture(t)
	f.fillCart("s1")
	f.svc.Open("s1")

	_, err := f.svc.Submit(context.Background(), "s1")

	var vf *workflow.ValidationFailure
	require.ErrorAs(t, err, &vf)
	assert.Equal(t, domain.FieldFirstName, vf.Focus)
	assert.Empty(t, f.ledger.records())
}

func TestSubmit_PersistedIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.fillCart("s1")
	f.svc.Open("s1")
	f.fillForm(t, "s1")

	conf, err := f.svc.Submit(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, conf.Persisted)
	assert.Equal(t, "42", conf.Order.ID)
	assert.Contains(t, conf.HandoffURL, "https://wa.me/237699849474?text=")
	assert.True(t, f.carts["s1"].IsEmpty())

	recs := f.ledger.records()
	require.Len(t, recs, 1)
	assert.Equal(t, "s1", recs[0].SessionID)
	assert.Equal(t, "42", recs[0].OrderID)
	assert.Equal(t, r.StatusPersisted, recs[0].Status)
	assert.True(t, recs[0].Persisted)
	assert.Equal(t, f.orders.drafts[0].IdempotencyKey, recs[0].IdempotencyKey)

	var draft domain.OrderDraft
	require.NoError(t, json.Unmarshal(recs[0].Draft, &draft))
	assert.Equal(t, int64(10000), draft.Total)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Submissions.WithLabelValues(metrics.OutcomePersisted)))
}

func TestSubmit_FallbackIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.orders.err = errors.New("backend down")
	f.fillCart("s1")
	f.svc.Open("s1")
	f.fillForm(t, "s1")

	conf, err := f.svc.Submit(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, conf.Persisted)
	assert.Equal(t, f.orders.drafts[0].ID, conf.Order.ID)

	recs := f.ledger.records()
	require.Len(t, recs, 1)
	assert.Equal(t, r.StatusFallback, recs[0].Status)
	assert.False(t, recs[0].Persisted)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Submissions.WithLabelValues(metrics.OutcomeFallback)))
}

func TestSubmit_FinalBackendAnswersSkipResync(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus string
	}{
		{
			name:       "unreadable success",
			err:        &backend.DecodeError{Method: "POST", Path: "/orders", StatusCode: 201, Err: errors.New("unexpected EOF")},
			wantStatus: r.StatusAccepted,
		},
		{
			name:       "bad request",
			err:        &backend.APIError{Method: "POST", Path: "/orders", StatusCode: 400, Body: "invalid"},
			wantStatus: r.StatusRejected,
		},
		{
			name:       "server error",
			err:        &backend.APIError{Method: "POST", Path: "/orders", StatusCode: 503},
			wantStatus: r.StatusFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.orders.err = tt.err
			f.fillCart("s1")
			f.svc.Open("s1")
			f.fillForm(t, "s1")

			conf, err := f.svc.Submit(context.Background(), "s1")
			require.NoError(t, err)
			assert.False(t, conf.Persisted)

			recs := f.ledger.records()
			require.Len(t, recs, 1)
			assert.Equal(t, tt.wantStatus, recs[0].Status)
			assert.Equal(t, tt.err.Error(), recs[0].LastError)
		})
	}
}

func TestSubmit_LedgerFailureDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	f.ledger.createErr = errors.New("postgres down")
	f.fillCart("s1")
	f.svc.Open("s1")
	f.fillForm(t, "s1")

	conf, err := f.svc.Submit(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, conf.Persisted)

	view, err := f.svc.View("s1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutConfirmed, view.State)
}

func TestConfirmation_LifeCycle(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Confirmation("s1")
	assert.ErrorIs(t, err, ErrNoConfirmation)

	f.fillCart("s1")
	f.svc.Open("s1")
	f.fillForm(t, "s1")
	submitted, err := f.svc.Submit(context.Background(), "s1")
	require.NoError(t, err)

	conf, err := f.svc.Confirmation("s1")
	require.NoError(t, err)
	assert.Equal(t, submitted.Message, conf.Message)

	f.svc.CloseConfirmation("s1")
	f.svc.CloseConfirmation("s1")
	f.svc.CloseConfirmation("unknown")

	_, err = f.svc.Confirmation("s1")
	assert.ErrorIs(t, err, ErrNoConfirmation)

	view, err := f.svc.View("s1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutClosed, view.State)
}

func TestOrdersByPhone(t *testing.T) {
	f := newFixture(t)
	f.orders.byTel = map[string][]domain.OrderRecord{
		"699849474": {{ID: "1"}, {ID: "2"}},
	}

	orders, err := f.svc.OrdersByPhone(context.Background(), "699849474")
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	orders, err = f.svc.OrdersByPhone(context.Background(), "000")
	require.NoError(t, err)
	assert.NotNil(t, orders)
	assert.Empty(t, orders)

	f.orders.err = errors.New("backend down")
	_, err = f.svc.OrdersByPhone(context.Background(), "699849474")
	assert.ErrorIs(t, err, f.orders.err)
}

func TestEvictIdle(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	f.svc.View("old")
	now = now.Add(30 * time.Minute)
	f.svc.View("fresh")
	now = now.Add(45 * time.Minute)

	assert.Equal(t, 1, f.svc.evictIdle())

	_, ok := f.svc.existing("old")
	assert.False(t, ok)
	_, ok = f.svc.existing("fresh")
	assert.True(t, ok)
}

func TestClose_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Close())
	require.NoError(t, f.svc.Close())
}
