package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/liquidation"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/market"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/pool"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}
func (s *PebbleStore) Close() error { return s.db.Close() }

// get decodes the value at key into v. found is false if the key is absent.
func (s *PebbleStore) get(kind string, key []byte, v any) (found bool, err error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", kind, err)
	}
	defer closer.Close()
	if err := decode(kind, data, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PebbleStore) set(kind string, key []byte, v any) error {
	data, err := encode(kind, v)
	if err != nil {
		return err
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save %s: %w", kind, err)
	}
	return nil
}

// scan decodes every value under prefix, in key order
func scan[T any](s *PebbleStore, kind string, prefix []byte) ([]T, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
	}
	defer iter.Close()

	var out []T
	for iter.First(); iter.Valid(); iter.Next() {
		var v T
		if err := decode(kind, iter.Value(), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, iter.Error()
}

// ============================================================================
// Accounts
// ============================================================================

// SaveAccount persists an account to Pebble
func (s *PebbleStore) SaveAccount(acc *account.Account) error {
	return s.set("account", accountKey(acc.Address), acc)
}

// LoadAccount loads an account from Pebble
// Returns nil if account doesn't exist
func (s *PebbleStore) LoadAccount(addr common.Address) (*account.Account, error) {
	var acc account.Account
	found, err := s.get("account", accountKey(addr), &acc)
	if err != nil || !found {
		return nil, err
	}
	return &acc, nil
}

// LoadAccounts loads every stored account ordered by address
func (s *PebbleStore) LoadAccounts() ([]*account.Account, error) {
	accs, err := scan[account.Account](s, "account", []byte(prefixAccount))
	if err != nil {
		return nil, err
	}
	out := make([]*account.Account, len(accs))
	for i := range accs {
		out[i] = &accs[i]
	}
	return out, nil
}

// ============================================================================
// Pools and markets
// ============================================================================

func (s *PebbleStore) SavePool(p pool.Pool) error {
	return s.set("pool", poolKey(p.Index), p)
}

// LoadPools returns every stored pool ordered by index
func (s *PebbleStore) LoadPools() ([]pool.Pool, error) {
	return scan[pool.Pool](s, "pool", []byte(prefixPool))
}

func (s *PebbleStore) SaveMarket(m market.Market) error {
	return s.set("market", marketKey(m.Index), m)
}

// LoadMarkets returns every stored market ordered by index
func (s *PebbleStore) LoadMarkets() ([]market.Market, error) {
	return scan[market.Market](s, "market", []byte(prefixMarket))
}

// ============================================================================
// Liquidations
// ============================================================================

// CommitLiquidation writes the record together with every account, market
// and pool it touched. Either all of it lands or none of it does.
func (s *PebbleStore) CommitLiquidation(c Commit) error {
	if c.Record == nil {
		return fmt.Errorf("commit liquidation: missing record")
	}
	if err := s.commit(c); err != nil {
		return fmt.Errorf("failed to commit liquidation %s: %w", c.Record.ID, err)
	}
	return nil
}

// CommitState writes the accounts, markets and pools in c as one batch
func (s *PebbleStore) CommitState(c Commit) error {
	c.Record = nil
	if err := s.commit(c); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	return nil
}

func (s *PebbleStore) commit(c Commit) error {
	b := s.db.NewBatch()
	defer b.Close()

	put := func(kind string, key []byte, v any) error {
		data, err := encode(kind, v)
		if err != nil {
			return err
		}
		return b.Set(key, data, nil)
	}
	for _, acc := range c.Accounts {
		if err := put("account", accountKey(acc.Address), acc); err != nil {
			return err
		}
	}
	for _, m := range c.Markets {
		if err := put("market", marketKey(m.Index), m); err != nil {
			return err
		}
	}
	for _, p := range c.Pools {
		if err := put("pool", poolKey(p.Index), p); err != nil {
			return err
		}
	}
	if c.Record != nil {
		if err := put("liquidation", liquidationKey(c.Record.Ts, c.Record.ID), c.Record); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// RecentLiquidations loads the most recent records, newest first
func (s *PebbleStore) RecentLiquidations(limit int) ([]liquidation.Record, error) {
	prefix := []byte(prefixLiquidation)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan liquidations: %w", err)
	}
	defer iter.Close()

	var out []liquidation.Record
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var rec liquidation.Record
		if err := decode("liquidation", iter.Value(), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

var _ Store = (*PebbleStore)(nil)
