// Package fixed implements the overflow-checked fixed-point arithmetic used by
// every valuation in the risk engine.
//
// All monetary values are integers scaled by one of the precision constants
// below. Unsigned values are bounded to 128 bits and signed values to the
// signed 128-bit range; any step that would leave that range fails with
// ErrArithmeticOverflow instead of wrapping.
package fixed

// Precision scales
const (
	PricePrecision   = 1_000_000     // oracle and order prices
	QuotePrecision   = 1_000_000     // quote asset (USDC) amounts, collateral, requirements
	BasePrecision    = 1_000_000_000 // perpetual base asset amounts
	MarginPrecision  = 10_000        // margin ratios (1000 = 10%)
	FundingPrecision = PricePrecision

	LiquidationFeePrecision = 1_000_000 // liquidation fee fractions (10_000 = 1%)
	BidAskSpreadPrecision   = 1_000_000 // auction offsets

	SpotWeightPrecision             = 10_000         // pool asset/liability weights
	SpotRatePrecision               = 1_000_000      // borrow/deposit rates
	SpotUtilizationPrecision        = 1_000_000      // utilization (1_000_000 = 100%)
	SpotCumulativeInterestPrecision = 10_000_000_000 // cumulative interest indices
	SpotBalancePrecision            = 1_000_000_000  // pool-internal scaled balances
	SpotIMFPrecision                = 1_000_000      // initial margin fraction factor

	// SpotBalanceScaleDecimals is log10(SpotBalancePrecision * SpotCumulativeInterestPrecision).
	SpotBalanceScaleDecimals = 19
)

// Derived ratios
const (
	// PriceTimesBaseToQuoteRatio converts base*price into quote precision.
	PriceTimesBaseToQuoteRatio = BasePrecision * PricePrecision / QuotePrecision

	// LiquidationFeeToMarginRatio converts a margin ratio into fee precision.
	LiquidationFeeToMarginRatio = LiquidationFeePrecision / MarginPrecision

	// QuoteDecimals is the decimal count of the quote asset.
	QuoteDecimals = 6

	OneYear = 31_536_000 // seconds
)

// Market and pool bounds
const (
	MaximumMarginRatio = MarginPrecision
	MinimumMarginRatio = MarginPrecision / 50

	// QuoteSpotMarketIndex is the pool holding the quote asset. Unsettled pnl is
	// valued at this pool's oracle price.
	QuoteSpotMarketIndex = 0
)
