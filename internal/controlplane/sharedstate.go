// Package controlplane implements the runtime symbol-set mutation channel:
// a SharedState guarded by a single mutex, and a ControlPlane that consumes
// AMQP command messages and replies with structured JSON responses.
package controlplane

import (
	"sort"
	"sync"

	"github.com/cryptofeed/collector/internal/domain"
)

// SharedState is the working set of symbols the Collector reads at the
// start of every round. All mutations are funneled through a single mutex
// so concurrent add/remove/set calls are linearized; readers always
// observe a fully-before or fully-after view, never a partial update, and
// get back an independent copy they can keep without further locking.
type SharedState struct {
	mu      sync.Mutex
	symbols map[domain.Symbol]struct{}
}

// NewSharedState constructs an empty symbol set.
func NewSharedState() *SharedState {
	return &SharedState{symbols: make(map[domain.Symbol]struct{})}
}

// Symbols returns a sorted, independent copy of the working set.
func (s *SharedState) Symbols() []domain.Symbol {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Symbol, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Add inserts a symbol. Returns false if it was already present -- the
// caller (ControlPlane) maps that to the duplicate_symbol error code.
func (s *SharedState) Add(symbol domain.Symbol) (added bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.symbols[symbol]; exists {
		return false
	}
	s.symbols[symbol] = struct{}{}
	return true
}

// Remove deletes a symbol. Returns false if it was not present -- the
// caller maps that to the symbol_not_found error code.
func (s *SharedState) Remove(symbol domain.Symbol) (removed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.symbols[symbol]; !exists {
		return false
	}
	delete(s.symbols, symbol)
	return true
}

// Set atomically replaces the entire working set.
func (s *SharedState) Set(symbols []domain.Symbol) {
	next := make(map[domain.Symbol]struct{}, len(symbols))
	for _, sym := range symbols {
		next[sym] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols = next
}

// Count returns the number of symbols currently in the working set.
func (s *SharedState) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.symbols)
}
