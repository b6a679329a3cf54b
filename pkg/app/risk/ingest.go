package risk

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperrisk/pkg/app/core"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/auction"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/market"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/pool"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/position"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
	"github.com/uhyunpark/hyperrisk/pkg/storage"
)

var (
	ErrInitialMargin  = errors.New("risk: initial margin not met")
	ErrMarketInactive = errors.New("risk: market not active")
)

// The operations below feed state produced outside the risk engine:
// deposits and withdrawals, trade fills, funding and order placement. Each
// runs on copies and only writes back once every check has passed.

// ApplyBalance moves amount tokens into (Deposit) or out of (Borrow) an
// account's pool balance. Interest is settled first. Moves towards Borrow
// must leave the account above initial margin.
func (a *App) ApplyBalance(addr common.Address, poolIndex uint16, amount fixed.Uint, direction account.BalanceType) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cached, err := a.accounts.GetAccount(addr)
	if err != nil {
		return err
	}
	acc := cached.Clone()

	p, err := a.accrued(poolIndex)
	if err != nil {
		return err
	}
	entry, err := acc.ForceBalance(poolIndex, direction)
	if err != nil {
		return err
	}
	if err := pool.UpdateBalance(p, entry, amount, direction); err != nil {
		return fmt.Errorf("apply %s of %s to pool %d: %w", direction, amount, poolIndex, err)
	}
	if direction == account.Borrow {
		if err := a.requireInitialMargin(acc); err != nil {
			return err
		}
	}
	return a.persist(acc, nil, []pool.Pool{*p})
}

// ApplyFill records a trade of base for quote on a perp market. Funding is
// settled before the size changes and realized pnl lands in unsettled pnl.
func (a *App) ApplyFill(addr common.Address, marketIndex uint16, base, quote fixed.Uint, direction core.Direction) (fixed.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, err := a.activeMarket(marketIndex)
	if err != nil {
		return fixed.Int{}, err
	}
	cached, err := a.accounts.GetAccount(addr)
	if err != nil {
		return fixed.Int{}, err
	}
	acc := cached.Clone()
	pos, err := acc.ForcePosition(marketIndex)
	if err != nil {
		return fixed.Int{}, err
	}

	if _, err := position.SettleFunding(pos, m); err != nil {
		return fixed.Int{}, fmt.Errorf("settle funding: %w", err)
	}
	delta, err := position.DeltaForFill(base, quote, direction)
	if err != nil {
		return fixed.Int{}, err
	}
	pnl, err := position.Update(pos, m, delta)
	if err != nil {
		return fixed.Int{}, err
	}
	if err := position.UpdateUnsettledPnl(pos, m, pnl); err != nil {
		return fixed.Int{}, err
	}
	if err := a.persist(acc, []market.Market{*m}, nil); err != nil {
		return fixed.Int{}, err
	}
	return pnl, nil
}

// UpdateFunding advances a market's cumulative funding rates by the given
// per-base-unit deltas
func (a *App) UpdateFunding(marketIndex uint16, longDelta, shortDelta fixed.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, err := a.markets.Market(marketIndex)
	if err != nil {
		return err
	}
	if m.CumulativeFundingRateLong, err = m.CumulativeFundingRateLong.Add(longDelta); err != nil {
		return err
	}
	if m.CumulativeFundingRateShort, err = m.CumulativeFundingRateShort.Add(shortDelta); err != nil {
		return err
	}
	if err := a.store.SaveMarket(*m); err != nil {
		return err
	}
	return a.markets.Put(*m)
}

// SettlePnl moves a position's unsettled pnl into the account's quote pool
// balance: profit becomes a deposit, loss is repaid from the deposit or
// borrowed.
func (a *App) SettlePnl(addr common.Address, marketIndex uint16) (fixed.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, err := a.markets.Market(marketIndex)
	if err != nil {
		return fixed.Int{}, err
	}
	cached, err := a.accounts.GetAccount(addr)
	if err != nil {
		return fixed.Int{}, err
	}
	acc := cached.Clone()
	pos, err := acc.Position(marketIndex)
	if err != nil {
		return fixed.Int{}, err
	}
	if _, err := position.SettleFunding(pos, m); err != nil {
		return fixed.Int{}, err
	}
	pnl := pos.UnsettledPnl
	if pnl.IsZero() {
		return pnl, nil
	}

	quote, err := a.accrued(fixed.QuoteSpotMarketIndex)
	if err != nil {
		return fixed.Int{}, err
	}
	direction := account.Deposit
	if pnl.IsNegative() {
		direction = account.Borrow
	}
	entry, err := acc.ForceBalance(quote.Index, direction)
	if err != nil {
		return fixed.Int{}, err
	}
	if err := pool.UpdateBalance(quote, entry, pnl.Abs(), direction); err != nil {
		return fixed.Int{}, err
	}
	if err := position.UpdateUnsettledPnl(pos, m, pnl.Neg()); err != nil {
		return fixed.Int{}, err
	}
	if err := a.persist(acc, []market.Market{*m}, []pool.Pool{*quote}); err != nil {
		return fixed.Int{}, err
	}
	return pnl, nil
}

// accrued returns a copy of a pool with interest settled up to now. The
// registry sees it only once persist succeeds.
func (a *App) accrued(index uint16) (*pool.Pool, error) {
	p, err := a.pools.Pool(index)
	if err != nil {
		return nil, err
	}
	if _, err := p.UpdateCumulativeInterest(a.now()); err != nil {
		return nil, fmt.Errorf("accrue pool %d: %w", index, err)
	}
	return p, nil
}

// persist writes acc with the markets and pools it changed in one batch and
// then publishes them to memory. Nothing in memory changes if the write fails.
func (a *App) persist(acc *account.Account, markets []market.Market, pools []pool.Pool) error {
	c := storage.Commit{Accounts: []*account.Account{acc}, Markets: markets, Pools: pools}
	if err := a.store.CommitState(c); err != nil {
		return fmt.Errorf("persist %s: %w", acc.Address.Hex(), err)
	}
	for _, m := range markets {
		if err := a.markets.Put(m); err != nil {
			return err
		}
	}
	for _, p := range pools {
		if err := a.pools.Put(p); err != nil {
			return err
		}
	}
	a.accounts.Cache(acc)
	return nil
}

// PlaceOrder rests an order and reserves its exposure. Perp market orders
// with an auction duration and no explicit auction prices get them from the
// oracle. The account must stay above initial margin with the order counted.
func (a *App) PlaceOrder(addr common.Address, o account.Order) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if o.MarketType == core.Perp {
		m, err := a.activeMarket(o.MarketIndex)
		if err != nil {
			return 0, err
		}
		if o.AuctionDuration > 0 && o.AuctionStartPrice == 0 && o.AuctionEndPrice == 0 {
			q, err := a.prices.Price(m.Oracle)
			if err != nil {
				return 0, err
			}
			if o.AuctionStartPrice, o.AuctionEndPrice, err = auction.CalculateAuctionPrices(o.Direction, o.Price, q.Price); err != nil {
				return 0, err
			}
		}
	}
	if o.Slot == 0 {
		o.Slot = uint64(a.now())
	}

	cached, err := a.accounts.GetAccount(addr)
	if err != nil {
		return 0, err
	}
	acc := cached.Clone()
	slot, err := position.PlaceOrder(acc, o)
	if err != nil {
		return 0, err
	}
	if err := a.requireInitialMargin(acc); err != nil {
		return 0, err
	}
	return slot, a.accounts.Put(acc)
}

// CancelOrder cancels a resting order on the owner's behalf
func (a *App) CancelOrder(addr common.Address, slot int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cached, err := a.accounts.GetAccount(addr)
	if err != nil {
		return err
	}
	acc := cached.Clone()
	if err := (position.Canceller{}).CancelOrder(acc, slot, account.CancelByUser); err != nil {
		return err
	}
	return a.accounts.Put(acc)
}

func (a *App) activeMarket(index uint16) (*market.Market, error) {
	m, err := a.markets.Market(index)
	if err != nil {
		return nil, err
	}
	if m.Status != market.Active {
		return nil, fmt.Errorf("%w: %s is %s", ErrMarketInactive, m.Symbol, m.Status)
	}
	return m, nil
}

func (a *App) requireInitialMargin(acc *account.Account) error {
	res, err := a.calculator().Evaluate(acc, core.Initial)
	if err != nil {
		return err
	}
	if !res.Sufficient() {
		return fmt.Errorf("%w: collateral %s, requirement %s", ErrInitialMargin, res.TotalCollateral, res.MarginRequirement)
	}
	return nil
}
