package storage

import (
	"bytes"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/liquidation"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/market"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/pool"
)

// MemStore is an in-memory Store for tests and ephemeral runs
type MemStore struct {
	mu       sync.Mutex
	accounts map[common.Address]*account.Account
	pools    map[uint16]pool.Pool
	markets  map[uint16]market.Market
	records  []liquidation.Record
}

func NewMemStore() *MemStore {
	return &MemStore{
		accounts: make(map[common.Address]*account.Account),
		pools:    make(map[uint16]pool.Pool),
		markets:  make(map[uint16]market.Market),
	}
}

func (s *MemStore) SaveAccount(acc *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.Address] = acc.Clone()
	return nil
}

func (s *MemStore) LoadAccount(addr common.Address) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[addr]
	if !ok {
		return nil, nil
	}
	return acc.Clone(), nil
}

func (s *MemStore) LoadAccounts() ([]*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*account.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out, nil
}

func (s *MemStore) SavePool(p pool.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[p.Index] = p
	return nil
}

func (s *MemStore) LoadPools() ([]pool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pool.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *MemStore) SaveMarket(m market.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.Index] = m
	return nil
}

func (s *MemStore) LoadMarkets() ([]market.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]market.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *MemStore) CommitLiquidation(c Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commit(c)
	return nil
}

func (s *MemStore) CommitState(c Commit) error {
	c.Record = nil
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commit(c)
	return nil
}

// commit requires s.mu held
func (s *MemStore) commit(c Commit) {
	for _, acc := range c.Accounts {
		s.accounts[acc.Address] = acc.Clone()
	}
	for _, m := range c.Markets {
		s.markets[m.Index] = m
	}
	for _, p := range c.Pools {
		s.pools[p.Index] = p
	}
	if c.Record != nil {
		s.records = append(s.records, *c.Record)
	}
}

func (s *MemStore) RecentLiquidations(limit int) ([]liquidation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []liquidation.Record
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

func (s *MemStore) Close() error { return nil }

var _ Store = (*MemStore)(nil)
