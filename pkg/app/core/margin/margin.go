// Package margin aggregates an account's positions and balances into a margin
// requirement and total collateral.
package margin

import (
	"fmt"

	"github.com/uhyunpark/hyperrisk/pkg/app/core"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/market"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/pool"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/valuation"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

// Markets resolves market parameters by index
type Markets interface {
	Market(index uint16) (*market.Market, error)
}

// Pools resolves pools by index. Implementations return pools whose interest
// has been settled up to the evaluation time.
type Pools interface {
	Pool(index uint16) (*pool.Pool, error)
}

// Result is the outcome of one evaluation. Requirement contributions round
// up and collateral contributions round down.
type Result struct {
	MarginRequirement fixed.Uint `json:"margin_requirement"`
	TotalCollateral   fixed.Int  `json:"total_collateral"`
}

// Sufficient reports TotalCollateral >= MarginRequirement
func (r Result) Sufficient() bool {
	return Covers(r.TotalCollateral, r.MarginRequirement)
}

// Covers reports collateral >= requirement
func Covers(collateral fixed.Int, requirement fixed.Uint) bool {
	if collateral.IsNegative() {
		return false
	}
	return collateral.Abs().Gte(requirement)
}

// Shortage returns |requirement - collateral|
func Shortage(collateral fixed.Int, requirement fixed.Uint) (fixed.Uint, error) {
	req, err := requirement.Signed()
	if err != nil {
		return fixed.Uint{}, err
	}
	diff, err := req.Sub(collateral)
	if err != nil {
		return fixed.Uint{}, err
	}
	return diff.Abs(), nil
}

// BufferedRequirement inflates a maintenance requirement by bufferRatio
// (fixed.MarginPrecision units), rounding up
func BufferedRequirement(requirement fixed.Uint, bufferRatio uint32) (fixed.Uint, error) {
	buffer, err := requirement.MulDiv(fixed.NewUint(uint64(bufferRatio)), fixed.NewUint(fixed.MarginPrecision), fixed.RoundUp)
	if err != nil {
		return fixed.Uint{}, err
	}
	return requirement.Add(buffer)
}

// Calculator evaluates account health against live market, pool and price data
type Calculator struct {
	markets Markets
	pools   Pools
	prices  oracle.Source
}

// NewCalculator creates a margin calculator
func NewCalculator(markets Markets, pools Pools, prices oracle.Source) *Calculator {
	return &Calculator{markets: markets, pools: pools, prices: prices}
}

// Evaluate computes the margin requirement and total collateral of acc under tier.
// The initial tier values balances with the strict (spot vs twap) price.
func (c *Calculator) Evaluate(acc *account.Account, tier core.Tier) (Result, error) {
	var res Result

	for i := range acc.Balances {
		e := &acc.Balances[i]
		if e.Balance.IsZero() {
			continue
		}
		if err := c.addBalance(&res, e, tier); err != nil {
			return Result{}, fmt.Errorf("account %s pool %d: %w", acc.Address.Hex(), e.PoolIndex, err)
		}
	}

	for i := range acc.Positions {
		pos := &acc.Positions[i]
		if pos.IsAvailable() {
			continue
		}
		if err := c.addPosition(&res, pos, tier); err != nil {
			return Result{}, fmt.Errorf("account %s market %d: %w", acc.Address.Hex(), pos.MarketIndex, err)
		}
	}

	return res, nil
}

// MeetsInitialMargin reports whether acc may take on new exposure
func (c *Calculator) MeetsInitialMargin(acc *account.Account) (bool, error) {
	res, err := c.Evaluate(acc, core.Initial)
	if err != nil {
		return false, err
	}
	return res.Sufficient(), nil
}

// EvaluateWithBuffer evaluates acc at maintenance and also returns the
// requirement inflated by bufferRatio
func (c *Calculator) EvaluateWithBuffer(acc *account.Account, bufferRatio uint32) (Result, fixed.Uint, error) {
	res, err := c.Evaluate(acc, core.Maintenance)
	if err != nil {
		return Result{}, fixed.Uint{}, err
	}
	buffered, err := BufferedRequirement(res.MarginRequirement, bufferRatio)
	if err != nil {
		return Result{}, fixed.Uint{}, err
	}
	return res, buffered, nil
}

// MeetsMaintenanceMargin reports whether acc is outside liquidation territory
func (c *Calculator) MeetsMaintenanceMargin(acc *account.Account) (bool, error) {
	res, err := c.Evaluate(acc, core.Maintenance)
	if err != nil {
		return false, err
	}
	return res.Sufficient(), nil
}

func (c *Calculator) addBalance(res *Result, e *account.BalanceEntry, tier core.Tier) error {
	p, err := c.pools.Pool(e.PoolIndex)
	if err != nil {
		return err
	}
	q, err := c.prices.Price(p.Oracle)
	if err != nil {
		return err
	}
	amount, value, err := valuation.BalanceValue(e, p, q, tier == core.Initial)
	if err != nil {
		return err
	}

	switch e.Type {
	case account.Deposit:
		weight, err := p.AssetWeight(amount, tier)
		if err != nil {
			return err
		}
		weighted, err := value.MulDiv(fixed.NewUint(uint64(weight)), fixed.NewUint(fixed.SpotWeightPrecision), fixed.RoundDown)
		if err != nil {
			return err
		}
		res.TotalCollateral, err = res.TotalCollateral.Add(weighted)
		return err
	default:
		weight, err := p.LiabilityWeight(amount, tier)
		if err != nil {
			return err
		}
		weighted, err := value.Abs().MulDiv(fixed.NewUint(uint64(weight)), fixed.NewUint(fixed.SpotWeightPrecision), fixed.RoundUp)
		if err != nil {
			return err
		}
		res.MarginRequirement, err = res.MarginRequirement.Add(weighted)
		return err
	}
}

func (c *Calculator) addPosition(res *Result, pos *account.Position, tier core.Tier) error {
	m, err := c.markets.Market(pos.MarketIndex)
	if err != nil {
		return err
	}
	q, err := c.prices.Price(m.Oracle)
	if err != nil {
		return err
	}

	pnl, err := UnrealizedPnl(pos, q.Price)
	if err != nil {
		return err
	}
	if pnl, err = pnl.Add(pos.UnsettledPnl); err != nil {
		return err
	}
	if pnl.IsPositive() {
		pnl, err = pnl.MulDiv(fixed.NewUint(uint64(m.UnsettledAssetWeight(tier))), fixed.NewUint(fixed.MarginPrecision), fixed.RoundDown)
		if err != nil {
			return err
		}
	}
	if res.TotalCollateral, err = res.TotalCollateral.Add(pnl); err != nil {
		return err
	}

	if pos.IsFlat() {
		return nil
	}
	worst, err := pos.WorstCaseBaseAssetAmount()
	if err != nil {
		return err
	}
	worstValue, err := valuation.BaseAssetValue(worst, q.Price)
	if err != nil {
		return err
	}
	ratio, err := m.MarginRatio(worst.Abs(), tier)
	if err != nil {
		return err
	}
	req, err := worstValue.MulDiv(fixed.NewUint(uint64(ratio)), fixed.NewUint(fixed.MarginPrecision), fixed.RoundUp)
	if err != nil {
		return err
	}
	res.MarginRequirement, err = res.MarginRequirement.Add(req)
	return err
}

// UnrealizedPnl is the mark-to-oracle pnl of the open size against its cost basis
func UnrealizedPnl(pos *account.Position, price int64) (fixed.Int, error) {
	if pos.BaseAssetAmount.IsZero() {
		return fixed.Int{}, nil
	}
	value, err := valuation.BaseAssetValue(pos.BaseAssetAmount, price)
	if err != nil {
		return fixed.Int{}, err
	}
	v, err := value.Signed()
	if err != nil {
		return fixed.Int{}, err
	}
	entry, err := pos.QuoteEntryAmount.Signed()
	if err != nil {
		return fixed.Int{}, err
	}
	if pos.BaseAssetAmount.IsPositive() {
		return v.Sub(entry)
	}
	return entry.Sub(v)
}
