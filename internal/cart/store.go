package cart

import (
	"sync"

	"github.com/roosvelt/autobusiness/internal/domain"
)

// Store is the in-memory cart. Every mutation re-sums the total inside the
// same critical section, so readers never see lines and total disagree.
type Store struct {
	mu    sync.RWMutex
	lines []domain.CartLine
	total int64
}

func NewStore() *Store {
	return &Store{}
}

// Restore rebuilds a store from persisted lines. Lines with a quantity
// below 1 are dropped and repeated product ids are merged.
func Restore(lines []domain.CartLine) *Store {
	s := NewStore()
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		if i := s.indexOf(l.Product.ID); i >= 0 {
			s.lines[i].Quantity += l.Quantity
			continue
		}
		s.lines = append(s.lines, l)
	}
	s.recompute()
	return s
}

// AddItem increments the line for p, or appends a new line with quantity 1.
func (s *Store) AddItem(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(p.ID); i >= 0 {
		s.lines[i].Quantity++
	} else {
		s.lines = append(s.lines, domain.CartLine{Product: p, Quantity: 1})
	}
	s.recompute()
}

// UpdateQuantity sets the quantity of an existing line. A quantity of zero
// or less removes it. Unknown ids are ignored.
func (s *Store) UpdateQuantity(id domain.ProductID, quantity int) {
	if quantity <= 0 {
		s.RemoveItem(id)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return
	}
	s.lines[i].Quantity = quantity
	s.recompute()
}

func (s *Store) RemoveItem(id domain.ProductID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return
	}
	s.lines = append(s.lines[:i], s.lines[i+1:]...)
	s.recompute()
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = nil
	s.recompute()
}

// Snapshot returns a copy of the current state that callers may keep.
func (s *Store) Snapshot() domain.CartState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.CartState{Lines: s.lines, Total: s.total}.Clone()
}

func (s *Store) Total() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Len is the number of distinct lines.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lines)
}

// ItemCount is the sum of quantities, shown on the cart badge.
func (s *Store) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, l := range s.lines {
		n += l.Quantity
	}
	return n
}

func (s *Store) IsEmpty() bool {
	return s.Len() == 0
}

func (s *Store) indexOf(id domain.ProductID) int {
	for i := range s.lines {
		if s.lines[i].Product.ID == id {
			return i
		}
	}
	return -1
}

// caller holds mu
func (s *Store) recompute() {
	s.total = domain.SumLines(s.lines)
}
