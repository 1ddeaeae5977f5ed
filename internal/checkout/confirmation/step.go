package confirmation

import (
	"sync"

	"github.com/roosvelt/autobusiness/internal/domain"
)

// Step is the confirmation screen of one checkout. Once closed it holds no
// order and every accessor reports ok=false.
type Step struct {
	mu       sync.Mutex
	order    *domain.OrderRecord
	phone    string
	renderer Renderer
	onClose  func()
	closed   bool
}

type StepOption func(*Step)

func WithRenderer(r Renderer) StepOption {
	return func(s *Step) { s.renderer = r }
}

// NewStep holds order until Close. An empty phone means DefaultSupportPhone.
func NewStep(order *domain.OrderRecord, phone string, onClose func(), opts ...StepOption) *Step {
	if phone == "" {
		phone = DefaultSupportPhone
	}
	s := &Step{
		order:    order,
		phone:    phone,
		renderer: DefaultRenderer,
		onClose:  onClose,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Step) Order() (*domain.OrderRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.order == nil {
		return nil, false
	}
	cp := *s.order
	cp.Items = domain.CartState{Lines: s.order.Items}.Clone().Lines
	return &cp, true
}

// Message returns the encoded summary.
func (s *Step) Message() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.order == nil {
		return "", false
	}
	return s.renderer.Message(s.order), true
}

func (s *Step) HandoffURL() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.order == nil {
		return "", false
	}
	return BuildHandoffURL(s.phone, s.renderer.Message(s.order)), true
}

// Close drops the order and runs the close hook. Later calls do nothing.
func (s *Step) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.order = nil
	hook := s.onClose
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
}

func (s *Step) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
