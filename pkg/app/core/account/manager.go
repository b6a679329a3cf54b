package account

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Store persists accounts. LoadAccount returns (nil, nil) for unknown addresses.
type Store interface {
	LoadAccount(addr common.Address) (*Account, error)
	SaveAccount(acc *Account) error
}

// Manager caches accounts in memory in front of an optional Store
// Callers serialize mutation of any single account
type Manager struct {
	mu       sync.RWMutex
	accounts map[common.Address]*Account // address -> account (in-memory cache)
	store    Store
}

// NewManager creates an account manager. A nil store keeps accounts in memory only.
func NewManager(store Store) *Manager {
	return &Manager{
		accounts: make(map[common.Address]*Account),
		store:    store,
	}
}

// GetAccount retrieves an account by address
// Loads from the store on a cache miss and creates an empty account if none exists
func (m *Manager) GetAccount(addr common.Address) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if acc, ok := m.accounts[addr]; ok {
		return acc, nil
	}

	var acc *Account
	if m.store != nil {
		loaded, err := m.store.LoadAccount(addr)
		if err != nil {
			return nil, fmt.Errorf("load account %s: %w", addr.Hex(), err)
		}
		acc = loaded
	}
	if acc == nil {
		acc = NewAccount(addr)
	}

	m.accounts[addr] = acc
	return acc, nil
}

// Snapshot returns a deep copy of a cached account for read-only use
func (m *Manager) Snapshot(addr common.Address) (*Account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[addr]
	if !ok {
		return nil, false
	}
	return acc.Clone(), true
}

// Put writes acc through to the store and then replaces the cached account.
// The cache is left untouched when the write fails.
func (m *Manager) Put(acc *Account) error {
	if m.store != nil {
		if err := m.store.SaveAccount(acc); err != nil {
			return fmt.Errorf("save account %s: %w", acc.Address.Hex(), err)
		}
	}
	m.Cache(acc)
	return nil
}

// Cache replaces the cached account without writing it. Callers use it after
// persisting acc themselves as part of a larger batch.
func (m *Manager) Cache(acc *Account) {
	m.mu.Lock()
	m.accounts[acc.Address] = acc
	m.mu.Unlock()
}

// Addresses lists cached accounts in byte order
func (m *Manager) Addresses() []common.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]common.Address, 0, len(m.accounts))
	for addr := range m.accounts {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// CancelReason records why an order was canceled on the account's behalf
type CancelReason uint8

const (
	CancelByUser CancelReason = iota
	CancelForLiquidation
)

func (r CancelReason) String() string {
	switch r {
	case CancelByUser:
		return "user"
	case CancelForLiquidation:
		return "liquidation"
	default:
		return "unknown"
	}
}

// OrderCanceller removes a resting order from an account and releases the
// exposure it reserved
type OrderCanceller interface {
	CancelOrder(acc *Account, orderIndex int, reason CancelReason) error
}
