// Package pool implements lending pools: the interest accrual model, the
// conversion between pool-internal scaled balances and token amounts, and the
// pool arena.
package pool

import (
	"fmt"

	"github.com/uhyunpark/hyperrisk/pkg/app/core"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

// Pool is a lending market for one token
type Pool struct {
	Index    uint16     `json:"index"`
	Name     string     `json:"name"`
	Oracle   oracle.Ref `json:"oracle"`
	Decimals uint8      `json:"decimals"`

	// Rate curve: utilization in fixed.SpotUtilizationPrecision, rates in fixed.SpotRatePrecision
	OptimalUtilization uint32 `json:"optimal_utilization"`
	OptimalBorrowRate  uint32 `json:"optimal_borrow_rate"`
	MaxBorrowRate      uint32 `json:"max_borrow_rate"`

	// Cumulative interest indices (fixed.SpotCumulativeInterestPrecision), never decreasing
	CumulativeDepositInterest fixed.Uint `json:"cumulative_deposit_interest"`
	CumulativeBorrowInterest  fixed.Uint `json:"cumulative_borrow_interest"`
	LastInterestTs            int64      `json:"last_interest_ts"`

	// Aggregate scaled balances across all accounts
	DepositBalance fixed.Uint `json:"deposit_balance"`
	BorrowBalance  fixed.Uint `json:"borrow_balance"`

	// Margin weights (fixed.SpotWeightPrecision)
	InitialAssetWeight         uint32 `json:"initial_asset_weight"`
	MaintenanceAssetWeight     uint32 `json:"maintenance_asset_weight"`
	InitialLiabilityWeight     uint32 `json:"initial_liability_weight"`
	MaintenanceLiabilityWeight uint32 `json:"maintenance_liability_weight"`
	IMFFactor                  uint32 `json:"imf_factor"`

	// LiquidationFee is the liquidator's share of transferred value (fixed.LiquidationFeePrecision)
	LiquidationFee uint32 `json:"liquidation_fee"`
}

// Validate checks pool parameters for consistency
func (p *Pool) Validate() error {
	if p.Oracle == "" {
		return fmt.Errorf("pool %d: oracle reference cannot be empty", p.Index)
	}
	if p.Decimals > fixed.SpotBalanceScaleDecimals {
		return fmt.Errorf("pool %d: decimals %d exceed %d", p.Index, p.Decimals, fixed.SpotBalanceScaleDecimals)
	}
	if p.OptimalUtilization == 0 || p.OptimalUtilization > fixed.SpotUtilizationPrecision {
		return fmt.Errorf("pool %d: optimal utilization %d out of range", p.Index, p.OptimalUtilization)
	}
	if p.OptimalBorrowRate > p.MaxBorrowRate {
		return fmt.Errorf("pool %d: optimal borrow rate %d exceeds max %d", p.Index, p.OptimalBorrowRate, p.MaxBorrowRate)
	}
	if p.InitialAssetWeight > p.MaintenanceAssetWeight || p.MaintenanceAssetWeight > fixed.SpotWeightPrecision {
		return fmt.Errorf("pool %d: asset weights must satisfy initial <= maintenance <= 1", p.Index)
	}
	if p.InitialLiabilityWeight < p.MaintenanceLiabilityWeight || p.MaintenanceLiabilityWeight < fixed.SpotWeightPrecision {
		return fmt.Errorf("pool %d: liability weights must satisfy initial >= maintenance >= 1", p.Index)
	}
	if p.LiquidationFee >= fixed.LiquidationFeePrecision {
		return fmt.Errorf("pool %d: liquidation fee %d out of range", p.Index, p.LiquidationFee)
	}
	if p.CumulativeDepositInterest.IsZero() || p.CumulativeBorrowInterest.IsZero() {
		return fmt.Errorf("pool %d: cumulative interest indices must be initialized", p.Index)
	}
	return nil
}

// PrecisionScale is 10^(19 - decimals), the divisor turning balance*index into tokens
func (p *Pool) PrecisionScale() (fixed.Uint, error) {
	return fixed.Pow10(fixed.SpotBalanceScaleDecimals - p.Decimals)
}

// CumulativeInterest returns the index matching a balance type
func (p *Pool) CumulativeInterest(bt account.BalanceType) fixed.Uint {
	if bt == account.Borrow {
		return p.CumulativeBorrowInterest
	}
	return p.CumulativeDepositInterest
}

// AssetWeight returns the tier's asset weight for a holding of tokenAmount,
// reduced by the size discount
func (p *Pool) AssetWeight(tokenAmount fixed.Uint, tier core.Tier) (uint32, error) {
	if tier == core.Maintenance {
		return p.MaintenanceAssetWeight, nil
	}
	size, err := fixed.Rescale(tokenAmount, p.Decimals, 9, fixed.RoundDown)
	if err != nil {
		return 0, err
	}
	return fixed.SizeDiscountAssetWeight(size, p.IMFFactor, p.InitialAssetWeight)
}

// LiabilityWeight returns the tier's liability weight for a borrow of
// tokenAmount, raised by the size premium
func (p *Pool) LiabilityWeight(tokenAmount fixed.Uint, tier core.Tier) (uint32, error) {
	if tier == core.Maintenance {
		return p.MaintenanceLiabilityWeight, nil
	}
	size, err := fixed.Rescale(tokenAmount, p.Decimals, 9, fixed.RoundDown)
	if err != nil {
		return 0, err
	}
	return fixed.SizePremiumWeight(size, p.IMFFactor, p.InitialLiabilityWeight, fixed.SpotWeightPrecision)
}

func newIndex() fixed.Uint { return fixed.NewUint(fixed.SpotCumulativeInterestPrecision) }

// DefaultUSDC is the quote pool
var DefaultUSDC = Pool{
	Index:    fixed.QuoteSpotMarketIndex,
	Name:     "USDC",
	Oracle:   "USDC/USD",
	Decimals: 6,

	OptimalUtilization: 800_000, // 80%
	OptimalBorrowRate:  100_000, // 10% APR at optimal
	MaxBorrowRate:      1_000_000,

	CumulativeDepositInterest: newIndex(),
	CumulativeBorrowInterest:  newIndex(),

	InitialAssetWeight:         10_000,
	MaintenanceAssetWeight:     10_000,
	InitialLiabilityWeight:     10_000,
	MaintenanceLiabilityWeight: 10_000,
}

// DefaultSOL is a volatile collateral pool
var DefaultSOL = Pool{
	Index:    1,
	Name:     "SOL",
	Oracle:   "SOL/USD",
	Decimals: 9,

	OptimalUtilization: 700_000,
	OptimalBorrowRate:  200_000,
	MaxBorrowRate:      2_000_000,

	CumulativeDepositInterest: newIndex(),
	CumulativeBorrowInterest:  newIndex(),

	InitialAssetWeight:         8_000,
	MaintenanceAssetWeight:     9_000,
	InitialLiabilityWeight:     12_000,
	MaintenanceLiabilityWeight: 11_000,

	LiquidationFee: 10_000, // 1%
}
