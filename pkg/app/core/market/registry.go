package market

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrMarketNotFound = errors.New("market not found")

// Registry is the market arena, keyed by stable market index.
// Get returns a copy; changes only land through Put, so two callers never
// alias the same record.
type Registry struct {
	mu      sync.RWMutex
	markets map[uint16]Market
}

// NewRegistry creates an empty market registry
func NewRegistry() *Registry {
	return &Registry{markets: make(map[uint16]Market)}
}

// Register adds a new market
// Returns error if the index is taken or the parameters are invalid
func (r *Registry) Register(m Market) error {
	if err := m.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[m.Index]; exists {
		return fmt.Errorf("market %d already registered", m.Index)
	}
	r.markets[m.Index] = m
	return nil
}

// Market returns a copy of the market at index
func (r *Registry) Market(index uint16) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.markets[index]
	if !exists {
		return nil, fmt.Errorf("%w: %d", ErrMarketNotFound, index)
	}
	return &m, nil
}

// Put overwrites an already registered market
func (r *Registry) Put(m Market) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[m.Index]; !exists {
		return fmt.Errorf("%w: %d", ErrMarketNotFound, m.Index)
	}
	r.markets[m.Index] = m
	return nil
}

// List returns copies of all markets ordered by index
func (r *Registry) List() []Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// UpdateStatus changes the trading status of a market
func (r *Registry) UpdateStatus(index uint16, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.markets[index]
	if !exists {
		return fmt.Errorf("%w: %d", ErrMarketNotFound, index)
	}
	if err := validateStatusTransition(m.Status, status); err != nil {
		return err
	}
	m.Status = status
	r.markets[index] = m
	return nil
}

// validateStatusTransition checks if status change is valid
// Settled is terminal; every other transition is allowed
func validateStatusTransition(from, to Status) error {
	if from == Settled && to != Settled {
		return fmt.Errorf("cannot change status from Settled (terminal state)")
	}
	return nil
}

// Count returns the total number of registered markets
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}
