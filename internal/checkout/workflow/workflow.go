// Package workflow drives one checkout from the open cart to the WhatsApp
// confirmation: IDLE → FORM_OPEN → SUBMITTING → CONFIRMED → CLOSED.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roosvelt/autobusiness/internal/checkout/confirmation"
	"github.com/roosvelt/autobusiness/internal/checkout/form"
	"github.com/roosvelt/autobusiness/internal/domain"
	"github.com/roosvelt/autobusiness/pkg/logger"
	"go.uber.org/zap"
)

var (
	ErrCheckoutNotOpen   = errors.New("checkout form is not open")
	ErrSubmitInProgress  = errors.New("order submission already in progress")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrIllegalTransition = errors.New("illegal transition of checkout state")
)

// ValidationFailure is returned by Submit when the form has errors. Focus
// is the first invalid field.
type ValidationFailure struct {
	Errors domain.ValidationErrors
	Focus  domain.Field
}

func (v *ValidationFailure) Error() string {
	return fmt.Sprintf("checkout form has %d invalid field(s), first is %s", len(v.Errors), v.Focus)
}

// Cart is the workflow's view of the shopper's cart.
type Cart interface {
	Snapshot() domain.CartState
	Clear()
}

type OrderSubmitter interface {
	CreateOrder(ctx context.Context, draft domain.OrderDraft) (*domain.OrderRecord, error)
}

// Outcome describes a finished submission. Record is the backend record
// when Persisted, otherwise the local stand-in built from Draft.
type Outcome struct {
	Record        *domain.OrderRecord
	Draft         domain.OrderDraft
	Persisted     bool
	SubmissionErr error
	Message       string
	HandoffURL    string
}

const DefaultSubmitTimeout = 15 * time.Second

type Workflow struct {
	mu       sync.Mutex
	state    domain.CheckoutState
	form     *form.Form
	step     *confirmation.Step
	outcome  *Outcome
	activity time.Time

	cart          Cart
	submitter     OrderSubmitter
	submitTimeout time.Duration
	supportPhone  string
	renderer      confirmation.Renderer
	now           func() time.Time
	log           *zap.Logger
	onConfirmed   func(context.Context, Outcome)
}

type Option func(*Workflow)

func WithSubmitTimeout(d time.Duration) Option {
	return func(w *Workflow) {
		if d > 0 {
			w.submitTimeout = d
		}
	}
}

func WithSupportPhone(phone string) Option {
	return func(w *Workflow) {
		if phone != "" {
			w.supportPhone = phone
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(w *Workflow) { w.log = logger.OrNop(log) }
}

// WithOnConfirmed registers a hook run after every confirmation, once the
// cart has been cleared.
func WithOnConfirmed(fn func(context.Context, Outcome)) Option {
	return func(w *Workflow) { w.onConfirmed = fn }
}

func WithRenderer(r confirmation.Renderer) Option {
	return func(w *Workflow) { w.renderer = r }
}

func New(cart Cart, submitter OrderSubmitter, opts ...Option) *Workflow {
	w := &Workflow{
		state:         domain.CheckoutIdle,
		form:          form.New(),
		cart:          cart,
		submitter:     submitter,
		submitTimeout: DefaultSubmitTimeout,
		supportPhone:  confirmation.DefaultSupportPhone,
		renderer:      confirmation.DefaultRenderer,
		now:           time.Now,
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.activity = w.now()
	return w
}

func (w *Workflow) State() domain.CheckoutState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// LastActivity is the time of the last state-changing call.
func (w *Workflow) LastActivity() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activity
}

// Open shows the form. An empty cart keeps the workflow idle and returns
// false; so does any state past FORM_OPEN.
func (w *Workflow) Open() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case domain.CheckoutFormOpen:
		return true
	case domain.CheckoutClosed:
		w.outcome = nil
		if err := w.moveTo(domain.CheckoutIdle); err != nil {
			return false
		}
	case domain.CheckoutIdle:
		w.activity = w.now()
	default:
		return false
	}

	if w.cart.Snapshot().IsEmpty() {
		return false
	}
	return w.moveTo(domain.CheckoutFormOpen) == nil
}

// Cancel returns an open form to IDLE. Entered values are kept.
func (w *Workflow) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == domain.CheckoutFormOpen {
		_ = w.moveTo(domain.CheckoutIdle)
	}
}

func (w *Workflow) Change(field domain.Field, value string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != domain.CheckoutFormOpen {
		return ErrCheckoutNotOpen
	}
	w.activity = w.now()
	return w.form.Set(field, value)
}

func (w *Workflow) Blur(field domain.Field) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != domain.CheckoutFormOpen {
		return ErrCheckoutNotOpen
	}
	w.activity = w.now()
	return w.form.Blur(field)
}

// Submit validates the form and hands the order to the backend. Success and
// failure of that call both end in CONFIRMED with the cart cleared; the
// failure is reported in Outcome.SubmissionErr, not as an error. A ctx
// already done before the call is sent returns the workflow to FORM_OPEN.
func (w *Workflow) Submit(ctx context.Context) (*Outcome, error) {
	w.mu.Lock()
	switch w.state {
	case domain.CheckoutFormOpen:
	case domain.CheckoutSubmitting:
		w.mu.Unlock()
		return nil, ErrSubmitInProgress
	default:
		w.mu.Unlock()
		return nil, ErrCheckoutNotOpen
	}

	w.activity = w.now()
	if errs := w.form.Validate(); errs.HasErrors() {
		focus, _ := errs.First()
		w.mu.Unlock()
		return nil, &ValidationFailure{Errors: errs, Focus: focus}
	}

	snapshot := w.cart.Snapshot()
	if snapshot.IsEmpty() {
		_ = w.moveTo(domain.CheckoutIdle)
		w.mu.Unlock()
		return nil, ErrEmptyCart
	}

	if err := w.moveTo(domain.CheckoutSubmitting); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	draft := domain.NewOrderDraft(w.form.Info(), snapshot, w.now())
	w.mu.Unlock()

	// Nothing has been sent yet, so a caller that already left gets the
	// form back instead of a confirmation it will never see.
	if err := ctx.Err(); err != nil {
		w.mu.Lock()
		_ = w.moveTo(domain.CheckoutFormOpen)
		w.mu.Unlock()
		return nil, err
	}

	log := logger.FromContext(ctx, w.log).With(zap.String("order_id", draft.ID))
	result := w.submit(ctx, draft)

	outcome := Outcome{Draft: draft, Persisted: result.OK(), SubmissionErr: result.Err}
	if outcome.Persisted {
		outcome.Record = result.Record
		outcome.Record.Persisted = true
		log.Info("order created", zap.String("backend_id", outcome.Record.ID))
	} else {
		outcome.Record = domain.FromDraft(draft)
		log.Warn("order submission failed, confirming with local draft", zap.Error(result.Err))
	}

	w.mu.Lock()
	if err := w.moveTo(domain.CheckoutConfirmed); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	w.form.Reset()
	w.cart.Clear()
	w.step = confirmation.NewStep(outcome.Record, w.supportPhone, w.confirmationClosed, confirmation.WithRenderer(w.renderer))
	outcome.Message, _ = w.step.Message()
	outcome.HandoffURL, _ = w.step.HandoffURL()
	w.outcome = &outcome
	hook := w.onConfirmed
	w.mu.Unlock()

	if hook != nil {
		hook(ctx, outcome)
	}
	return &outcome, nil
}

// submit calls the backend under the submit timeout. The caller going away
// does not abort the call.
func (w *Workflow) submit(ctx context.Context, draft domain.OrderDraft) domain.SubmissionResult {
	subCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.submitTimeout)
	defer cancel()

	rec, err := w.submitter.CreateOrder(subCtx, draft)
	if err == nil && rec == nil {
		err = errors.New("order backend returned no record")
	}
	if err != nil {
		return domain.SubmissionResult{Err: err}
	}
	return domain.SubmissionResult{Record: rec}
}

// Confirmation returns the open confirmation step, if any.
func (w *Workflow) Confirmation() (*confirmation.Step, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step == nil {
		return nil, false
	}
	return w.step, true
}

// Outcome returns the last submission outcome while it is being confirmed.
func (w *Workflow) Outcome() (*Outcome, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.outcome == nil || w.state != domain.CheckoutConfirmed {
		return nil, false
	}
	out := *w.outcome
	return &out, true
}

// CloseConfirmation closes the confirmation step. Safe to call repeatedly
// and in any state.
func (w *Workflow) CloseConfirmation() {
	w.mu.Lock()
	step := w.step
	w.mu.Unlock()

	if step != nil {
		step.Close()
	}
}

// moveTo changes state along an allowed edge. Callers hold w.mu.
func (w *Workflow) moveTo(next domain.CheckoutState) error {
	if !w.state.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s to %s", ErrIllegalTransition, w.state, next)
	}
	w.state = next
	w.activity = w.now()
	return nil
}

func (w *Workflow) confirmationClosed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.moveTo(domain.CheckoutClosed)
	w.step = nil
	w.outcome = nil
}

type ConfirmationView struct {
	Order      *domain.OrderRecord `json:"order"`
	Persisted  bool                `json:"persisted"`
	Message    string              `json:"message"`
	HandoffURL string              `json:"handoff_url"`
}

// View is a JSON-ready snapshot of the workflow.
type View struct {
	State        domain.CheckoutState    `json:"state"`
	Customer     domain.CustomerInfo     `json:"customer"`
	Errors       domain.ValidationErrors `json:"errors"`
	Touched      []domain.Field          `json:"touched"`
	Cities       []string                `json:"cities"`
	Confirmation *ConfirmationView       `json:"confirmation,omitempty"`
}

func (w *Workflow) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()

	v := View{
		State:    w.state,
		Customer: w.form.Info(),
		Errors:   w.form.Errors(),
		Touched:  w.form.Touched(),
		Cities:   domain.SupportedCities(),
	}
	if v.Touched == nil {
		v.Touched = []domain.Field{}
	}
	if w.state == domain.CheckoutConfirmed && w.outcome != nil {
		v.Confirmation = &ConfirmationView{
			Order:      w.outcome.Record,
			Persisted:  w.outcome.Persisted,
			Message:    w.outcome.Message,
			HandoffURL: w.outcome.HandoffURL,
		}
	}
	return v
}
