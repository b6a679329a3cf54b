package pool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrPoolNotFound = errors.New("pool not found")

// Registry is the pool arena, keyed by stable pool index.
// Pool returns a copy; mutations land only through Put or Accrue.
type Registry struct {
	mu    sync.RWMutex
	pools map[uint16]Pool
}

// NewRegistry creates an empty pool registry
func NewRegistry() *Registry {
	return &Registry{pools: make(map[uint16]Pool)}
}

// Register adds a new pool
func (r *Registry) Register(p Pool) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pools[p.Index]; exists {
		return fmt.Errorf("pool %d already registered", p.Index)
	}
	r.pools[p.Index] = p
	return nil
}

// Pool returns a copy of the pool at index
func (r *Registry) Pool(index uint16) (*Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.pools[index]
	if !exists {
		return nil, fmt.Errorf("%w: %d", ErrPoolNotFound, index)
	}
	return &p, nil
}

// Put overwrites an already registered pool
func (r *Registry) Put(p Pool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pools[p.Index]; !exists {
		return fmt.Errorf("%w: %d", ErrPoolNotFound, p.Index)
	}
	r.pools[p.Index] = p
	return nil
}

// Accrue settles interest on one pool up to now and returns the updated copy
func (r *Registry) Accrue(index uint16, now int64) (*Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.pools[index]
	if !exists {
		return nil, fmt.Errorf("%w: %d", ErrPoolNotFound, index)
	}
	if _, err := p.UpdateCumulativeInterest(now); err != nil {
		return nil, fmt.Errorf("accrue pool %d: %w", index, err)
	}
	r.pools[index] = p
	return &p, nil
}

// List returns copies of all pools ordered by index
func (r *Registry) List() []Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Pool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Count returns the total number of registered pools
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}
