// Package service keeps one checkout workflow per shopper session and
// records every confirmation in the checkout ledger.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	r "github.com/roosvelt/autobusiness/internal/checkout/repository"
	"github.com/roosvelt/autobusiness/internal/checkout/workflow"
	"github.com/roosvelt/autobusiness/internal/domain"
	"github.com/roosvelt/autobusiness/pkg/logger"
	"github.com/roosvelt/autobusiness/pkg/metrics"
	"go.uber.org/zap"
)

const (
	DefaultSessionTTL      = 2 * time.Hour
	DefaultCleanupInterval = time.Minute

	ledgerTimeout = 5 * time.Second
)

// CartBinder returns the cart of one session.
type CartBinder func(sessionID string) workflow.Cart

type OrderLookup interface {
	GetOrdersByPhone(ctx context.Context, phone string) ([]domain.OrderRecord, error)
}

type Config struct {
	SessionTTL      time.Duration
	CleanupInterval time.Duration
	// WorkflowOptions are applied to every workflow the service creates.
	WorkflowOptions []workflow.Option
}

type CheckoutService struct {
	mu       sync.Mutex
	sessions map[string]*workflow.Workflow

	carts     CartBinder
	submitter workflow.OrderSubmitter
	orders    OrderLookup
	ledger    r.RepoInterface
	metrics   *metrics.CheckoutMetrics
	log       *zap.Logger
	cfg       Config
	now       func() time.Time

	stopCleanup chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewCheckoutService starts the idle-session cleanup. A nil ledger skips
// recording and nil metrics are not counted. Call Close to stop it.
func NewCheckoutService(
	carts CartBinder,
	submitter workflow.OrderSubmitter,
	orders OrderLookup,
	ledger r.RepoInterface,
	m *metrics.CheckoutMetrics,
	log *zap.Logger,
	cfg Config,
) *CheckoutService {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	s := &CheckoutService{
		sessions:    make(map[string]*workflow.Workflow),
		carts:       carts,
		submitter:   submitter,
		orders:      orders,
		ledger:      ledger,
		metrics:     m,
		log:         logger.OrNop(log),
		cfg:         cfg,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop()

	return s
}

func (s *CheckoutService) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictIdle()
		case <-s.stopCleanup:
			return
		}
	}
}

// evictIdle drops workflows untouched for longer than the session TTL.
// A workflow waiting on the backend is kept.
func (s *CheckoutService) evictIdle() int {
	cutoff := s.now().Add(-s.cfg.SessionTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, wf := range s.sessions {
		if wf.State() == domain.CheckoutSubmitting {
			continue
		}
		if wf.LastActivity().Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		s.log.Debug("evicted idle checkouts", zap.Int("count", evicted))
	}
	return evicted
}

// Close stops the background cleanup and waits for it to finish.
func (s *CheckoutService) Close() error {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
	s.wg.Wait()
	return nil
}

func (s *CheckoutService) session(sessionID string) *workflow.Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.sessions[sessionID]
	if !ok {
		opts := append([]workflow.Option{
			workflow.WithClock(s.now),
			workflow.WithLogger(s.log),
		}, s.cfg.WorkflowOptions...)
		opts = append(opts, workflow.WithOnConfirmed(func(ctx context.Context, out workflow.Outcome) {
			s.confirmed(ctx, sessionID, out)
		}))
		wf = workflow.New(s.carts(sessionID), s.submitter, opts...)
		s.sessions[sessionID] = wf
	}
	return wf
}

func (s *CheckoutService) existing(sessionID string) (*workflow.Workflow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.sessions[sessionID]
	return wf, ok
}

func (s *CheckoutService) View(sessionID string) (workflow.View, error) {
	if sessionID == "" {
		return workflow.View{}, ErrMissingSession
	}
	return s.session(sessionID).View(), nil
}

// Open shows the form. The returned flag is false when the cart is empty
// or a submission is under way.
func (s *CheckoutService) Open(sessionID string) (workflow.View, bool, error) {
	if sessionID == "" {
		return workflow.View{}, false, ErrMissingSession
	}
	wf := s.session(sessionID)
	opened := wf.Open()
	return wf.View(), opened, nil
}

func (s *CheckoutService) Cancel(sessionID string) (workflow.View, error) {
	if sessionID == "" {
		return workflow.View{}, ErrMissingSession
	}
	wf := s.session(sessionID)
	wf.Cancel()
	return wf.View(), nil
}

func (s *CheckoutService) SetField(sessionID string, field domain.Field, value string) (workflow.View, error) {
	if sessionID == "" {
		return workflow.View{}, ErrMissingSession
	}
	wf := s.session(sessionID)
	if err := wf.Change(field, value); err != nil {
		return workflow.View{}, err
	}
	return wf.View(), nil
}

func (s *CheckoutService) BlurField(sessionID string, field domain.Field) (workflow.View, error) {
	if sessionID == "" {
		return workflow.View{}, ErrMissingSession
	}
	wf := s.session(sessionID)
	if err := wf.Blur(field); err != nil {
		return workflow.View{}, err
	}
	return wf.View(), nil
}

// Submit runs the submission and returns what the confirmation screen shows.
func (s *CheckoutService) Submit(ctx context.Context, sessionID string) (*workflow.ConfirmationView, error) {
	if sessionID == "" {
		return nil, ErrMissingSession
	}
	out, err := s.session(sessionID).Submit(ctx)
	if err != nil {
		return nil, err
	}
	return confirmationView(out), nil
}

func (s *CheckoutService) Confirmation(sessionID string) (*workflow.ConfirmationView, error) {
	wf, ok := s.existing(sessionID)
	if !ok {
		return nil, ErrNoConfirmation
	}
	out, ok := wf.Outcome()
	if !ok {
		return nil, ErrNoConfirmation
	}
	return confirmationView(out), nil
}

// CloseConfirmation is a no-op when nothing is being confirmed.
func (s *CheckoutService) CloseConfirmation(sessionID string) {
	if wf, ok := s.existing(sessionID); ok {
		wf.CloseConfirmation()
	}
}

func (s *CheckoutService) OrdersByPhone(ctx context.Context, phone string) ([]domain.OrderRecord, error) {
	orders, err := s.orders.GetOrdersByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to load orders by phone: %w", err)
	}
	if orders == nil {
		orders = []domain.OrderRecord{}
	}
	return orders, nil
}

func confirmationView(out *workflow.Outcome) *workflow.ConfirmationView {
	return &workflow.ConfirmationView{
		Order:      out.Record,
		Persisted:  out.Persisted,
		Message:    out.Message,
		HandoffURL: out.HandoffURL,
	}
}

// confirmed counts the outcome and writes the ledger record. Ledger
// failures are logged only.
func (s *CheckoutService) confirmed(ctx context.Context, sessionID string, out workflow.Outcome) {
	outcome := metrics.OutcomeFallback
	if out.Persisted {
		outcome = metrics.OutcomePersisted
	}
	if s.metrics != nil {
		s.metrics.Submissions.WithLabelValues(outcome).Inc()
	}
	if s.ledger == nil {
		return
	}

	log := logger.FromContext(ctx, s.log).With(
		zap.String("session_id", sessionID),
		zap.String("order_id", out.Draft.ID),
	)

	rec, err := newCheckoutRecord(sessionID, out)
	if err != nil {
		log.Error("failed to build checkout record", zap.Error(err))
		return
	}

	ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()

	err = s.ledger.CreateCheckoutRecord(ledgerCtx, rec)
	switch {
	case errors.Is(err, r.ErrDuplicateCheckout):
		log.Info("checkout already recorded", zap.String("idempotency_key", rec.IdempotencyKey))
	case err != nil:
		log.Error("failed to record checkout", zap.Error(err))
	}
}

func newCheckoutRecord(sessionID string, out workflow.Outcome) (*r.CheckoutRecord, error) {
	if out.Record == nil {
		return nil, errors.New("outcome has no order record")
	}
	record, err := json.Marshal(out.Record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order record: %w", err)
	}
	draft, err := json.Marshal(out.Draft)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order draft: %w", err)
	}

	status := r.StatusPersisted
	lastError := ""
	if !out.Persisted {
		status = r.StatusFallback
		if out.SubmissionErr != nil {
			status = r.StatusForSubmissionError(out.SubmissionErr)
			lastError = out.SubmissionErr.Error()
		}
	}
	return &r.CheckoutRecord{
		SessionID:      sessionID,
		IdempotencyKey: out.Draft.IdempotencyKey,
		OrderID:        out.Record.ID,
		Status:         status,
		Persisted:      out.Persisted,
		Record:         record,
		Draft:          draft,
		LastError:      lastError,
		CreatedAt:      out.Draft.CreatedAt,
	}, nil
}
