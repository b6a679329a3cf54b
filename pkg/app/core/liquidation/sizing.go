package liquidation

import (
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

// leg is one side of a spot-style transfer: a deposit, a borrow, or
// unsettled pnl priced as quote tokens
type leg struct {
	amount     fixed.Uint // the user's holding, in token units
	decimals   uint8
	price      int64
	weight     uint32 // fixed.SpotWeightPrecision
	multiplier uint32 // fee-adjusted, fixed.LiquidationFeePrecision
}

func assetMultiplier(fee uint32) uint32     { return fixed.LiquidationFeePrecision + fee }
func liabilityMultiplier(fee uint32) uint32 { return fixed.LiquidationFeePrecision - fee }

// standardizeCeil rounds amount up to a whole number of steps
func standardizeCeil(amount fixed.Uint, step uint64) (fixed.Uint, error) {
	if step == 0 {
		return amount, nil
	}
	steps, err := amount.DivRound(fixed.NewUint(step), fixed.RoundUp)
	if err != nil {
		return fixed.Uint{}, err
	}
	return steps.Mul(fixed.NewUint(step))
}

// sized is the outcome of sizeTransfer
type sized struct {
	liability fixed.Uint // liability amount moved to the liquidator
	asset     fixed.Uint // asset amount paid for it
	toCover   fixed.Uint // liability amount that would erase the whole shortage
}

// sizeTransfer picks the liability amount as the minimum of the liquidator's
// cap, the user's outstanding liability, the amount that erases the
// shortage, and the amount the user's asset can fund. The asset amount is
// derived from it at the same fee-adjusted rate.
func sizeTransfer(shortage, maxLiability fixed.Uint, asset, liability leg) (sized, error) {
	if asset.amount.IsZero() {
		return sized{}, ErrEmptyAsset
	}
	toCover, err := LiabilityTransferToCoverMarginShortage(
		shortage,
		asset.weight, asset.multiplier,
		liability.weight, liability.multiplier,
		liability.decimals, liability.price)
	if err != nil {
		return sized{}, err
	}
	fundable, err := LiabilityTransferImpliedByAssetAmount(
		asset.amount, asset.decimals, asset.price, asset.multiplier,
		liability.decimals, liability.price, liability.multiplier)
	if err != nil {
		return sized{}, err
	}

	amount := fixed.MinUint(maxLiability, liability.amount, toCover, fundable)

	assetTransfer, err := AssetTransferForLiabilityTransfer(
		amount, liability.decimals, liability.price, liability.multiplier,
		asset.amount, asset.decimals, asset.price, asset.multiplier)
	if err != nil {
		return sized{}, err
	}
	return sized{liability: amount, asset: assetTransfer, toCover: toCover}, nil
}
