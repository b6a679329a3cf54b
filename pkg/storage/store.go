// Package storage persists risk state: accounts, pools, markets and the
// liquidation history.
package storage

import (
	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/liquidation"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/market"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/pool"
)

// Store is the persistence layer used by the risk service
type Store interface {
	account.Store
	LoadAccounts() ([]*account.Account, error)

	SavePool(p pool.Pool) error
	LoadPools() ([]pool.Pool, error)
	SaveMarket(m market.Market) error
	LoadMarkets() ([]market.Market, error)

	// CommitLiquidation writes everything one liquidation touched in a
	// single atomic batch
	CommitLiquidation(c Commit) error
	// CommitState writes the accounts, markets and pools in c in a single
	// atomic batch. c.Record is ignored.
	CommitState(c Commit) error
	// RecentLiquidations returns up to limit records, newest first
	RecentLiquidations(limit int) ([]liquidation.Record, error)

	Close() error
}

// Commit is the state written after a successful liquidation or ingest
type Commit struct {
	Record   *liquidation.Record
	Accounts []*account.Account
	Markets  []market.Market
	Pools    []pool.Pool
}
