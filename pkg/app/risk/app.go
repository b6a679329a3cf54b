// Package risk hosts the risk engine: the pool and market arenas, account
// state, the oracle feed and the liquidation controller, behind one lock.
package risk

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperrisk/pkg/app/core"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/liquidation"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/margin"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/market"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/pool"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/position"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
	"github.com/uhyunpark/hyperrisk/pkg/metrics"
	"github.com/uhyunpark/hyperrisk/pkg/storage"
	"github.com/uhyunpark/hyperrisk/pkg/util"
)

var ErrUnknownTier = errors.New("risk: unknown margin tier")

// EventSink receives every committed liquidation
type EventSink interface {
	PublishLiquidation(rec liquidation.Record)
}

// Options configure an App. Zero values fall back to defaults.
type Options struct {
	BufferRatio uint32 // fixed.MarginPrecision units
	Clock       util.Clock
	Logger      *zap.Logger
}

type App struct {
	mu sync.Mutex

	markets  *market.Registry
	pools    *pool.Registry
	prices   *oracle.Map
	accounts *account.Manager
	ctrl     *liquidation.Controller
	store    storage.Store

	clock       util.Clock
	bufferRatio uint32
	sink        EventSink
	nonces      map[common.Address]uint64

	logger *zap.SugaredLogger
}

// NewApp restores pools and markets from store and counts the accounts that
// were flagged when the engine last stopped.
func NewApp(store storage.Store, opts Options) (*App, error) {
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	a := &App{
		markets:     market.NewRegistry(),
		pools:       pool.NewRegistry(),
		prices:      oracle.NewMap(),
		accounts:    account.NewManager(store),
		store:       store,
		clock:       opts.Clock,
		bufferRatio: opts.BufferRatio,
		nonces:      make(map[common.Address]uint64),
		logger:      opts.Logger.Sugar(),
	}
	a.ctrl = liquidation.NewController(a.markets, a.pools, a.prices, position.Canceller{}, opts.Logger.Named("liquidation"))

	pools, err := store.LoadPools()
	if err != nil {
		return nil, fmt.Errorf("load pools: %w", err)
	}
	for _, p := range pools {
		if err := a.pools.Register(p); err != nil {
			return nil, err
		}
	}
	markets, err := store.LoadMarkets()
	if err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}
	for _, m := range markets {
		if err := a.markets.Register(m); err != nil {
			return nil, err
		}
	}

	accs, err := store.LoadAccounts()
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	flagged := 0
	for _, acc := range accs {
		if acc.BeingLiquidated {
			flagged++
		}
	}
	metrics.AccountsBeingLiquidated.Set(float64(flagged))

	a.logger.Infow("risk_engine_restored",
		"pools", len(pools),
		"markets", len(markets),
		"accounts", len(accs),
		"flagged", flagged)
	return a, nil
}

// SetEventSink installs the liquidation subscriber. It may be called once
// before the engine starts serving.
func (a *App) SetEventSink(sink EventSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = sink
}

func (a *App) now() int64 { return a.clock.Now().Unix() }

// RegisterPool validates, registers and persists a lending pool. A pool with
// no accrual timestamp starts accruing now.
func (a *App) RegisterPool(p pool.Pool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p.LastInterestTs == 0 {
		p.LastInterestTs = a.now()
	}
	if err := a.pools.Register(p); err != nil {
		return err
	}
	return a.store.SavePool(p)
}

// RegisterMarket validates, registers and persists a perpetual market
func (a *App) RegisterMarket(m market.Market) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.markets.Register(m); err != nil {
		return err
	}
	return a.store.SaveMarket(m)
}

// UpdateMarketStatus moves a market through its lifecycle
func (a *App) UpdateMarketStatus(index uint16, status market.Status) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.markets.UpdateStatus(index, status); err != nil {
		return err
	}
	m, err := a.markets.Market(index)
	if err != nil {
		return err
	}
	return a.store.SaveMarket(*m)
}

// SetPrice feeds the latest oracle quote
func (a *App) SetPrice(ref oracle.Ref, q oracle.Quote) error {
	return a.prices.Set(ref, q)
}

// settledPools serves pool copies with interest settled up to now, so reads
// never value balances at stale indices
type settledPools struct {
	reg *pool.Registry
	now int64
}

func (s settledPools) Pool(index uint16) (*pool.Pool, error) {
	p, err := s.reg.Pool(index)
	if err != nil {
		return nil, err
	}
	if _, err := p.UpdateCumulativeInterest(s.now); err != nil {
		return nil, err
	}
	return p, nil
}

func (a *App) calculator() *margin.Calculator {
	return margin.NewCalculator(a.markets, settledPools{reg: a.pools, now: a.now()}, a.prices)
}

// HealthReport is an account's margin state at one tier
type HealthReport struct {
	Address           common.Address `json:"address"`
	Tier              string         `json:"tier"`
	MarginRequirement fixed.Uint     `json:"margin_requirement"`
	TotalCollateral   fixed.Int      `json:"total_collateral"`
	// BufferedRequirement is the maintenance requirement plus the
	// liquidation buffer. Only set for the maintenance tier.
	BufferedRequirement fixed.Uint `json:"buffered_requirement"`
	Shortage            fixed.Uint `json:"shortage"`
	Sufficient          bool       `json:"sufficient"`
	BeingLiquidated     bool       `json:"being_liquidated"`
}

// Health evaluates an account. Unknown addresses evaluate as empty accounts.
func (a *App) Health(addr common.Address, tier core.Tier) (HealthReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, err := a.accounts.GetAccount(addr)
	if err != nil {
		return HealthReport{}, err
	}
	acc = acc.Clone()
	calc := a.calculator()

	var (
		res      margin.Result
		buffered fixed.Uint
	)
	switch tier {
	case core.Maintenance:
		res, buffered, err = calc.EvaluateWithBuffer(acc, a.bufferRatio)
	case core.Initial:
		res, err = calc.Evaluate(acc, tier)
	default:
		return HealthReport{}, fmt.Errorf("%w: %d", ErrUnknownTier, tier)
	}
	if err != nil {
		return HealthReport{}, fmt.Errorf("evaluate %s: %w", addr.Hex(), err)
	}

	report := HealthReport{
		Address:             addr,
		Tier:                tier.String(),
		MarginRequirement:   res.MarginRequirement,
		TotalCollateral:     res.TotalCollateral,
		BufferedRequirement: buffered,
		Sufficient:          res.Sufficient(),
		BeingLiquidated:     acc.BeingLiquidated,
	}
	if !report.Sufficient {
		if report.Shortage, err = margin.Shortage(res.TotalCollateral, res.MarginRequirement); err != nil {
			return HealthReport{}, err
		}
	}
	return report, nil
}

// Account returns a copy of an account
func (a *App) Account(addr common.Address) (*account.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, err := a.accounts.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return acc.Clone(), nil
}

// PoolStatus is a pool with its live rates
type PoolStatus struct {
	pool.Pool
	DepositTokens fixed.Uint `json:"deposit_tokens"`
	BorrowTokens  fixed.Uint `json:"borrow_tokens"`
	Utilization   fixed.Uint `json:"utilization"`
	BorrowRate    fixed.Uint `json:"borrow_rate"`
	DepositRate   fixed.Uint `json:"deposit_rate"`
}

func poolStatus(p pool.Pool) (PoolStatus, error) {
	st := PoolStatus{Pool: p}
	var err error
	if st.DepositTokens, err = pool.TokenAmount(p.DepositBalance, &p, account.Deposit); err != nil {
		return PoolStatus{}, err
	}
	if st.BorrowTokens, err = pool.TokenAmount(p.BorrowBalance, &p, account.Borrow); err != nil {
		return PoolStatus{}, err
	}
	if st.Utilization, err = pool.Utilization(st.DepositTokens, st.BorrowTokens); err != nil {
		return PoolStatus{}, err
	}
	if st.BorrowRate, err = p.BorrowRate(st.Utilization); err != nil {
		return PoolStatus{}, err
	}
	if st.DepositRate, err = pool.DepositRate(st.BorrowRate, st.Utilization); err != nil {
		return PoolStatus{}, err
	}
	return st, nil
}

// Pools lists every pool with interest settled up to now
func (a *App) Pools() ([]PoolStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	view := settledPools{reg: a.pools, now: a.now()}
	out := make([]PoolStatus, 0, a.pools.Count())
	for _, listed := range a.pools.List() {
		p, err := view.Pool(listed.Index)
		if err != nil {
			return nil, err
		}
		st, err := poolStatus(*p)
		if err != nil {
			return nil, fmt.Errorf("pool %d: %w", p.Index, err)
		}
		out = append(out, st)
	}
	return out, nil
}

// Pool returns one pool with interest settled up to now
func (a *App) Pool(index uint16) (PoolStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, err := settledPools{reg: a.pools, now: a.now()}.Pool(index)
	if err != nil {
		return PoolStatus{}, err
	}
	return poolStatus(*p)
}

// Markets lists every market
func (a *App) Markets() []market.Market {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.markets.List()
}

// RecentLiquidations returns up to limit records, newest first
func (a *App) RecentLiquidations(limit int) ([]liquidation.Record, error) {
	return a.store.RecentLiquidations(limit)
}

// AccrueAll settles every pool's interest up to now and persists the result
func (a *App) AccrueAll() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	var errs []error
	for _, listed := range a.pools.List() {
		label := listed.Name
		p, err := a.pools.Accrue(listed.Index, now)
		if err == nil {
			err = a.store.SavePool(*p)
		}
		if err != nil {
			metrics.InterestAccruals.WithLabelValues(label, "error").Inc()
			errs = append(errs, fmt.Errorf("pool %d: %w", listed.Index, err))
			continue
		}
		metrics.InterestAccruals.WithLabelValues(label, "ok").Inc()
		if u, err := p.Utilization(); err == nil {
			metrics.PoolUtilization.WithLabelValues(label).Set(ratio(u, fixed.SpotUtilizationPrecision))
		}
	}
	return errors.Join(errs...)
}

// ratio renders a fixed-point value as a float for metrics only
func ratio(v fixed.Uint, precision uint64) float64 {
	f, err := strconv.ParseFloat(v.String(), 64)
	if err != nil {
		return 0
	}
	return f / float64(precision)
}

func since(start time.Time) float64 { return time.Since(start).Seconds() }
