// Package oracle defines the read-only price lookup consumed by the risk engine.
//
// Prices are supplied fresh for each evaluation and never cached by callers.
// TODO: staleness and confidence checks are not implemented; callers that
// gate liquidations on price freshness must do so before invoking the engine.
package oracle

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrPriceNotFound = errors.New("oracle: price not found")
	ErrInvalidPrice  = errors.New("oracle: invalid price")
)

// Ref identifies a price feed, e.g. "SOL/USD".
type Ref string

// Quote is a spot price with an optional time-weighted price, both in
// fixed.PricePrecision. TWAP == 0 means no time-weighted price is available.
type Quote struct {
	Price int64 `json:"price"`
	TWAP  int64 `json:"twap,omitempty"`
}

// HasTWAP reports whether a time-weighted price was supplied.
func (q Quote) HasTWAP() bool { return q.TWAP != 0 }

// Validate rejects non-positive prices.
func (q Quote) Validate() error {
	if q.Price <= 0 {
		return fmt.Errorf("%w: price %d", ErrInvalidPrice, q.Price)
	}
	if q.TWAP < 0 {
		return fmt.Errorf("%w: twap %d", ErrInvalidPrice, q.TWAP)
	}
	return nil
}

// Source resolves a price reference to a quote.
type Source interface {
	Price(ref Ref) (Quote, error)
}

// Map is an in-memory Source fed by an external price ingestion process.
type Map struct {
	mu     sync.RWMutex
	quotes map[Ref]Quote
}

// NewMap creates an empty price map
func NewMap() *Map {
	return &Map{quotes: make(map[Ref]Quote)}
}

// Set stores the latest quote for ref
func (m *Map) Set(ref Ref, q Quote) error {
	if err := q.Validate(); err != nil {
		return fmt.Errorf("set %s: %w", ref, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[ref] = q
	return nil
}

func (m *Map) Price(ref Ref) (Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[ref]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrPriceNotFound, ref)
	}
	return q, nil
}

var _ Source = (*Map)(nil)
