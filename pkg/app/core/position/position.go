// Package position applies fills, funding and unsettled pnl to perpetual
// positions and keeps the market totals in step.
package position

import (
	"errors"
	"fmt"

	"github.com/uhyunpark/hyperrisk/pkg/app/core"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/market"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

var ErrMarketMismatch = errors.New("position: market mismatch")

// Delta is a signed base change and the quote notional it traded at
type Delta struct {
	BaseAssetAmount  fixed.Int
	QuoteAssetAmount fixed.Uint
}

// DeltaForFill signs a fill of base for quote by direction
func DeltaForFill(base, quote fixed.Uint, d core.Direction) (Delta, error) {
	signed, err := base.Signed()
	if err != nil {
		return Delta{}, err
	}
	if d == core.Short {
		signed = signed.Neg()
	}
	return Delta{BaseAssetAmount: signed, QuoteAssetAmount: quote}, nil
}

// Update applies delta to the position and market and returns the realized pnl.
// Closing cost basis is rounded so realized pnl never rounds in the trader's favor.
func Update(pos *account.Position, m *market.Market, delta Delta) (fixed.Int, error) {
	if pos.MarketIndex != m.Index {
		return fixed.Int{}, fmt.Errorf("%w: position %d, market %d", ErrMarketMismatch, pos.MarketIndex, m.Index)
	}
	if delta.BaseAssetAmount.IsZero() {
		return fixed.Int{}, nil
	}

	oldBase := pos.BaseAssetAmount
	newBase, err := oldBase.Add(delta.BaseAssetAmount)
	if err != nil {
		return fixed.Int{}, err
	}

	var (
		newEntry fixed.Uint
		pnl      fixed.Int
	)
	switch {
	case oldBase.IsZero():
		newEntry = delta.QuoteAssetAmount
		pos.LastCumulativeFundingRate = m.CumulativeFundingRate(directionOf(newBase))

	case oldBase.Sign() == delta.BaseAssetAmount.Sign():
		if newEntry, err = pos.QuoteEntryAmount.Add(delta.QuoteAssetAmount); err != nil {
			return fixed.Int{}, err
		}

	case delta.BaseAssetAmount.Abs().Lte(oldBase.Abs()):
		// reduce or close
		mode := fixed.RoundDown
		if oldBase.IsPositive() {
			mode = fixed.RoundUp
		}
		closedEntry, err := pos.QuoteEntryAmount.MulDiv(delta.BaseAssetAmount.Abs(), oldBase.Abs(), mode)
		if err != nil {
			return fixed.Int{}, err
		}
		closedEntry = fixed.MinUint(closedEntry, pos.QuoteEntryAmount)
		if newEntry, err = pos.QuoteEntryAmount.Sub(closedEntry); err != nil {
			return fixed.Int{}, err
		}
		if pnl, err = realized(oldBase, closedEntry, delta.QuoteAssetAmount); err != nil {
			return fixed.Int{}, err
		}

	default:
		// flip: close the old size, open the remainder
		mode := fixed.RoundUp
		if oldBase.IsPositive() {
			mode = fixed.RoundDown
		}
		closingQuote, err := delta.QuoteAssetAmount.MulDiv(oldBase.Abs(), delta.BaseAssetAmount.Abs(), mode)
		if err != nil {
			return fixed.Int{}, err
		}
		closingQuote = fixed.MinUint(closingQuote, delta.QuoteAssetAmount)
		if newEntry, err = delta.QuoteAssetAmount.Sub(closingQuote); err != nil {
			return fixed.Int{}, err
		}
		if pnl, err = realized(oldBase, pos.QuoteEntryAmount, closingQuote); err != nil {
			return fixed.Int{}, err
		}
		pos.LastCumulativeFundingRate = m.CumulativeFundingRate(directionOf(newBase))
	}

	if err := moveOpenInterest(m, oldBase, newBase); err != nil {
		return fixed.Int{}, err
	}
	pos.BaseAssetAmount = newBase
	pos.QuoteEntryAmount = newEntry
	return pnl, nil
}

// realized pnl of closing a position of sign oldBase with entry cost against exit quote
func realized(oldBase fixed.Int, entry, exit fixed.Uint) (fixed.Int, error) {
	e, err := entry.Signed()
	if err != nil {
		return fixed.Int{}, err
	}
	x, err := exit.Signed()
	if err != nil {
		return fixed.Int{}, err
	}
	if oldBase.IsPositive() {
		return x.Sub(e)
	}
	return e.Sub(x)
}

func directionOf(base fixed.Int) core.Direction {
	if base.IsNegative() {
		return core.Short
	}
	return core.Long
}

func moveOpenInterest(m *market.Market, oldBase, newBase fixed.Int) error {
	var err error
	if oldBase.IsPositive() {
		m.BaseAssetAmountLong, err = m.BaseAssetAmountLong.Sub(oldBase)
	} else if oldBase.IsNegative() {
		m.BaseAssetAmountShort, err = m.BaseAssetAmountShort.Sub(oldBase)
	}
	if err != nil {
		return err
	}
	if newBase.IsPositive() {
		m.BaseAssetAmountLong, err = m.BaseAssetAmountLong.Add(newBase)
	} else if newBase.IsNegative() {
		m.BaseAssetAmountShort, err = m.BaseAssetAmountShort.Add(newBase)
	}
	return err
}

// UpdateUnsettledPnl adds delta to the position's unsettled pnl and moves the
// market's unsettled profit/loss totals accordingly
func UpdateUnsettledPnl(pos *account.Position, m *market.Market, delta fixed.Int) error {
	if pos.MarketIndex != m.Index {
		return fmt.Errorf("%w: position %d, market %d", ErrMarketMismatch, pos.MarketIndex, m.Index)
	}
	if delta.IsZero() {
		return nil
	}
	next, err := pos.UnsettledPnl.Add(delta)
	if err != nil {
		return err
	}

	profit, loss := m.UnsettledProfit, m.UnsettledLoss
	if old := pos.UnsettledPnl; old.IsPositive() {
		profit, err = profit.Sub(old.Abs())
	} else if old.IsNegative() {
		loss, err = loss.Sub(old.Abs())
	}
	if err != nil {
		return fmt.Errorf("market %d unsettled totals: %w", m.Index, err)
	}
	if next.IsPositive() {
		profit, err = profit.Add(next.Abs())
	} else if next.IsNegative() {
		loss, err = loss.Add(next.Abs())
	}
	if err != nil {
		return err
	}

	m.UnsettledProfit, m.UnsettledLoss = profit, loss
	pos.UnsettledPnl = next
	return nil
}

// SettleFunding moves funding accrued since the position's last settlement
// into unsettled pnl and returns the payment (negative when paying). Amounts
// owed round up.
func SettleFunding(pos *account.Position, m *market.Market) (fixed.Int, error) {
	rate := m.CumulativeFundingRate(pos.Direction())
	if pos.BaseAssetAmount.IsZero() {
		pos.LastCumulativeFundingRate = rate
		return fixed.Int{}, nil
	}
	delta, err := rate.Sub(pos.LastCumulativeFundingRate)
	if err != nil {
		return fixed.Int{}, err
	}
	owed, err := delta.Mul(pos.BaseAssetAmount)
	if err != nil {
		return fixed.Int{}, err
	}
	payment, err := owed.Neg().QuoFloor(fixed.NewUint(fixed.BasePrecision))
	if err != nil {
		return fixed.Int{}, err
	}
	if err := UpdateUnsettledPnl(pos, m, payment); err != nil {
		return fixed.Int{}, err
	}
	pos.LastCumulativeFundingRate = rate
	return payment, nil
}
