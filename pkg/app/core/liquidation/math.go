package liquidation

import (
	"fmt"

	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

// BaseAssetAmountToCoverMarginShortage is the smallest base amount whose
// liquidation at the oracle price releases enough margin, net of the fee the
// user pays, to erase shortage. Returns fixed.MaxUint128 when the fee
// consumes the released margin.
func BaseAssetAmountToCoverMarginShortage(shortage fixed.Uint, marginRatio, liquidationFee uint32, oraclePrice int64) (fixed.Uint, error) {
	if oraclePrice <= 0 {
		return fixed.Uint{}, fmt.Errorf("%w: %d", ErrInvalidOraclePrice, oraclePrice)
	}
	ratio := uint64(marginRatio) * fixed.LiquidationFeeToMarginRatio
	if ratio <= uint64(liquidationFee) {
		return fixed.MaxUint128(), nil
	}
	released, err := fixed.NewUint(uint64(oraclePrice)).MulDiv(
		fixed.NewUint(ratio-uint64(liquidationFee)), fixed.NewUint(fixed.LiquidationFeePrecision), fixed.RoundDown)
	if err != nil {
		return fixed.Uint{}, err
	}
	if released.IsZero() {
		return fixed.MaxUint128(), nil
	}
	return shortage.MulDiv(fixed.NewUint(fixed.PriceTimesBaseToQuoteRatio), released, fixed.RoundUp)
}

// LiabilityTransferToCoverMarginShortage is the liability token amount whose
// transfer, paid for with asset at the fee-adjusted rate, erases shortage.
// Weights are in fixed.SpotWeightPrecision and multipliers in
// fixed.LiquidationFeePrecision. Returns fixed.MaxUint128 when the weighted
// asset given up is worth at least the weighted liability removed.
//
//	x = shortage * 1e4 * lm * 10^dec / (price * (lw*lm - aw*am))
func LiabilityTransferToCoverMarginShortage(
	shortage fixed.Uint,
	assetWeight, assetMultiplier uint32,
	liabilityWeight, liabilityMultiplier uint32,
	liabilityDecimals uint8,
	liabilityPrice int64,
) (fixed.Uint, error) {
	if liabilityPrice <= 0 {
		return fixed.Uint{}, fmt.Errorf("%w: %d", ErrInvalidOraclePrice, liabilityPrice)
	}
	if liabilityMultiplier == 0 {
		return fixed.Uint{}, fixed.ErrDivisionByZero
	}
	liabilityComponent := uint64(liabilityWeight) * uint64(liabilityMultiplier)
	assetComponent := uint64(assetWeight) * uint64(assetMultiplier)
	if assetComponent >= liabilityComponent {
		return fixed.MaxUint128(), nil
	}

	scaled, err := shortage.Mul(fixed.NewUint(fixed.SpotWeightPrecision))
	if err != nil {
		return fixed.Uint{}, err
	}
	if scaled, err = scaled.Mul(fixed.NewUint(uint64(liabilityMultiplier))); err != nil {
		return fixed.Uint{}, err
	}
	tokenScale, err := fixed.Pow10(liabilityDecimals)
	if err != nil {
		return fixed.Uint{}, err
	}
	denom, err := fixed.NewUint(uint64(liabilityPrice)).Mul(fixed.NewUint(liabilityComponent - assetComponent))
	if err != nil {
		return fixed.Uint{}, err
	}
	return scaled.MulDiv(tokenScale, denom, fixed.RoundUp)
}

// crossRate returns numerator and denominator factors converting an amount
// of `from` tokens into `to` tokens at the given prices and fee multipliers:
// to = from * fromPrice * toMultiplier * 10^toDec / (toPrice * fromMultiplier * 10^fromDec)
func crossRate(fromDecimals uint8, fromPrice int64, fromMultiplier uint32, toDecimals uint8, toPrice int64, toMultiplier uint32) (fixed.Uint, fixed.Uint, error) {
	if fromPrice <= 0 || toPrice <= 0 {
		return fixed.Uint{}, fixed.Uint{}, fmt.Errorf("%w: %d/%d", ErrInvalidOraclePrice, fromPrice, toPrice)
	}
	num, err := fixed.NewUint(uint64(fromPrice)).Mul(fixed.NewUint(uint64(toMultiplier)))
	if err != nil {
		return fixed.Uint{}, fixed.Uint{}, err
	}
	den, err := fixed.NewUint(uint64(toPrice)).Mul(fixed.NewUint(uint64(fromMultiplier)))
	if err != nil {
		return fixed.Uint{}, fixed.Uint{}, err
	}
	if toDecimals >= fromDecimals {
		num, err = fixed.Rescale(num, fromDecimals, toDecimals, fixed.RoundDown)
	} else {
		den, err = fixed.Rescale(den, toDecimals, fromDecimals, fixed.RoundDown)
	}
	if err != nil {
		return fixed.Uint{}, fixed.Uint{}, err
	}
	if den.IsZero() {
		return fixed.Uint{}, fixed.Uint{}, fixed.ErrDivisionByZero
	}
	return num, den, nil
}

// LiabilityTransferImpliedByAssetAmount is the liability amount the whole
// asset holding can pay for at the fee-adjusted rate, rounded up.
func LiabilityTransferImpliedByAssetAmount(
	assetAmount fixed.Uint, assetDecimals uint8, assetPrice int64, assetMultiplier uint32,
	liabilityDecimals uint8, liabilityPrice int64, liabilityMultiplier uint32,
) (fixed.Uint, error) {
	num, den, err := crossRate(assetDecimals, assetPrice, assetMultiplier, liabilityDecimals, liabilityPrice, liabilityMultiplier)
	if err != nil {
		return fixed.Uint{}, err
	}
	return assetAmount.MulDiv(num, den, fixed.RoundUp)
}

// AssetTransferForLiabilityTransfer converts a liability amount into the asset
// amount the liquidator receives for it, rounded down. When the result is
// within one quote unit of value of the whole holding, the whole holding
// moves so no unusable dust is left behind.
func AssetTransferForLiabilityTransfer(
	liabilityTransfer fixed.Uint, liabilityDecimals uint8, liabilityPrice int64, liabilityMultiplier uint32,
	assetAmount fixed.Uint, assetDecimals uint8, assetPrice int64, assetMultiplier uint32,
) (fixed.Uint, error) {
	num, den, err := crossRate(liabilityDecimals, liabilityPrice, liabilityMultiplier, assetDecimals, assetPrice, assetMultiplier)
	if err != nil {
		return fixed.Uint{}, err
	}
	transfer, err := liabilityTransfer.MulDiv(num, den, fixed.RoundDown)
	if err != nil {
		return fixed.Uint{}, err
	}

	var remaining fixed.Uint
	if assetAmount.Gt(transfer) {
		remaining, _ = assetAmount.Sub(transfer)
	} else {
		remaining, _ = transfer.Sub(assetAmount)
	}
	scale, err := fixed.Pow10(assetDecimals)
	if err != nil {
		return fixed.Uint{}, err
	}
	remainingValue, err := remaining.MulDiv(fixed.NewUint(uint64(assetPrice)), scale, fixed.RoundDown)
	if err != nil {
		return fixed.Uint{}, err
	}
	if remainingValue.Lt(fixed.NewUint(fixed.QuotePrecision)) {
		return assetAmount, nil
	}
	// rounding up the implied liability can overshoot the holding by a unit
	return fixed.MinUint(transfer, assetAmount), nil
}
