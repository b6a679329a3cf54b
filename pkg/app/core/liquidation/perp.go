package liquidation

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperrisk/pkg/app/core"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/margin"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/position"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/valuation"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

// LiquidatePerp transfers part of user's perpetual position in marketIndex to
// liquidator at the oracle price, less the market's liquidation fee. Open
// orders in the market are canceled first; if that alone restores the
// account, no position changes hands.
func (c *Controller) LiquidatePerp(user, liquidator *account.Account, marketIndex uint16, maxBaseAssetAmount fixed.Uint, p Params) (*Record, error) {
	s, err := c.newStage(user, liquidator, p)
	if err != nil {
		return nil, err
	}
	rec := newRecord(FlowPerp, user, liquidator, p)
	rec.MarketIndex = marketIndex

	userPos, err := s.user.Position(marketIndex)
	if err != nil {
		return nil, err
	}
	if userPos.IsFlat() {
		return nil, fmt.Errorf("%w: market %d", ErrNothingToLiquidate, marketIndex)
	}
	if maxBaseAssetAmount.IsZero() {
		return nil, ErrZeroTransferCap
	}
	liqPos, err := s.liquidator.ForcePosition(marketIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLiquidatorSlotMissing, err)
	}

	m, err := s.Market(marketIndex)
	if err != nil {
		return nil, err
	}
	if _, err := position.SettleFunding(userPos, m); err != nil {
		return nil, fmt.Errorf("settle user funding: %w", err)
	}
	if _, err := position.SettleFunding(liqPos, m); err != nil {
		return nil, fmt.Errorf("settle liquidator funding: %w", err)
	}

	res, buffered, done, err := s.health(p.BufferRatio, rec)
	if err != nil {
		return nil, err
	}
	if done {
		return s.commit(user, liquidator, rec)
	}

	q, err := c.prices.Price(m.Oracle)
	if err != nil {
		return nil, err
	}

	// release the exposure reserved by resting orders
	worstBefore, err := userPos.WorstCaseBaseAssetAmount()
	if err != nil {
		return nil, err
	}
	for _, idx := range s.user.OpenOrderIndexes(marketIndex, core.Perp) {
		if err := c.canceller.CancelOrder(s.user, idx, account.CancelForLiquidation); err != nil {
			return nil, fmt.Errorf("cancel order slot %d: %w", idx, err)
		}
		rec.CanceledOrders++
	}
	// the canceller may have replaced the position slot
	if userPos, err = s.user.Position(marketIndex); err != nil {
		return nil, err
	}
	worstAfter, err := userPos.WorstCaseBaseAssetAmount()
	if err != nil {
		return nil, err
	}

	ratio, err := m.MarginRatio(worstBefore.Abs(), core.Maintenance)
	if err != nil {
		return nil, err
	}
	requirement := res.MarginRequirement
	released, err := worstBefore.Abs().Sub(worstAfter.Abs())
	if err != nil {
		return nil, err
	}
	if !released.IsZero() {
		signedReleased, err := released.Signed()
		if err != nil {
			return nil, err
		}
		value, err := valuation.BaseAssetValue(signedReleased, q.Price)
		if err != nil {
			return nil, err
		}
		freed, err := value.MulDiv(fixed.NewUint(uint64(ratio)), fixed.NewUint(fixed.MarginPrecision), fixed.RoundDown)
		if err != nil {
			return nil, err
		}
		requirement = saturatingSub(requirement, freed)
		buffered = saturatingSub(buffered, freed)
	}
	rec.MarginRequirement = requirement

	if margin.Covers(res.TotalCollateral, requirement) {
		s.user.BeingLiquidated = false
		rec.Healed, rec.Cleared = true, true
		return s.commit(user, liquidator, rec)
	}
	s.user.BeingLiquidated = true

	// canceling orders was all that could be done in this market
	if userPos.BaseAssetAmount.IsZero() {
		return s.commit(user, liquidator, rec)
	}

	shortage, err := margin.Shortage(res.TotalCollateral, buffered)
	if err != nil {
		return nil, err
	}
	rec.MarginShortage = shortage

	toCover, err := BaseAssetAmountToCoverMarginShortage(shortage, ratio, m.LiquidationFee, q.Price)
	if err != nil {
		return nil, err
	}
	// the cap is rounded up to whole steps, after clamping to the position so
	// the rounding cannot overflow
	userBase := userPos.BaseAssetAmount.Abs()
	limit, err := standardizeCeil(fixed.MinUint(maxBaseAssetAmount, userBase), m.StepSize)
	if err != nil {
		return nil, err
	}
	base := fixed.MinUint(userBase, limit, toCover)

	signedBase, err := base.Signed()
	if err != nil {
		return nil, err
	}
	fairValue, err := valuation.BaseAssetValue(signedBase, q.Price)
	if err != nil {
		return nil, err
	}

	userDirection := userPos.Direction()
	var quote fixed.Uint
	if userDirection == core.Long {
		quote, err = fairValue.MulDiv(fixed.NewUint(uint64(liabilityMultiplier(m.LiquidationFee))), fixed.NewUint(fixed.LiquidationFeePrecision), fixed.RoundDown)
	} else {
		quote, err = fairValue.MulDiv(fixed.NewUint(uint64(assetMultiplier(m.LiquidationFee))), fixed.NewUint(fixed.LiquidationFeePrecision), fixed.RoundUp)
	}
	if err != nil {
		return nil, err
	}

	userDelta, err := position.DeltaForFill(base, quote, userDirection.Opposite())
	if err != nil {
		return nil, err
	}
	liqDelta, err := position.DeltaForFill(base, quote, userDirection)
	if err != nil {
		return nil, err
	}
	userPnl, err := position.Update(userPos, m, userDelta)
	if err != nil {
		return nil, fmt.Errorf("close user position: %w", err)
	}
	if err := position.UpdateUnsettledPnl(userPos, m, userPnl); err != nil {
		return nil, err
	}
	liqPnl, err := position.Update(liqPos, m, liqDelta)
	if err != nil {
		return nil, fmt.Errorf("open liquidator position: %w", err)
	}
	if err := position.UpdateUnsettledPnl(liqPos, m, liqPnl); err != nil {
		return nil, err
	}

	rec.BaseAssetAmount = base
	rec.QuoteAssetAmount = quote
	if base.Gte(toCover) {
		s.user.BeingLiquidated = false
		rec.Cleared = true
	}

	c.logger.Debug("perp_liquidation_sized",
		zap.Stringer("base", base),
		zap.Stringer("to_cover", toCover),
		zap.Stringer("quote", quote),
		zap.Uint32("margin_ratio", ratio))

	return s.commit(user, liquidator, rec)
}

func saturatingSub(a, b fixed.Uint) fixed.Uint {
	if b.Gte(a) {
		return fixed.Uint{}
	}
	out, _ := a.Sub(b)
	return out
}
