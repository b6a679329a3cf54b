// Package market holds perpetual market parameters and the market arena.
package market

import (
	"fmt"

	"github.com/uhyunpark/hyperrisk/pkg/app/core"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

// Status defines the trading status of a market
type Status int8

const (
	Active   Status = iota // Trading enabled
	Paused                 // Trading halted (emergency)
	Settling               // Expiry in progress
	Settled                // Market closed
)

func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	case Settling:
		return "Settling"
	case Settled:
		return "Settled"
	default:
		return "Unknown"
	}
}

// Market defines the risk parameters and running totals of a perpetual market
type Market struct {
	// Identity
	Index  uint16     `json:"index"`
	Symbol string     `json:"symbol"` // "SOL-PERP"
	Oracle oracle.Ref `json:"oracle"`
	Status Status     `json:"status"`

	// Margin (fixed.MarginPrecision: 1000 = 10%)
	MarginRatioInitial     uint32 `json:"margin_ratio_initial"`
	MarginRatioMaintenance uint32 `json:"margin_ratio_maintenance"`
	IMFFactor              uint32 `json:"imf_factor"` // fixed.SpotIMFPrecision, 0 disables size premium

	// Positive unsettled pnl counts towards collateral at these weights
	UnsettledInitialAssetWeight     uint32 `json:"unsettled_initial_asset_weight"`
	UnsettledMaintenanceAssetWeight uint32 `json:"unsettled_maintenance_asset_weight"`

	// LiquidationFee is the liquidator's share of transferred value (fixed.LiquidationFeePrecision)
	LiquidationFee uint32 `json:"liquidation_fee"`

	// Precision
	TickSize uint64 `json:"tick_size"` // fixed.PricePrecision
	StepSize uint64 `json:"step_size"` // fixed.BasePrecision

	// Funding indices, quote per base unit in fixed.FundingPrecision
	CumulativeFundingRateLong  fixed.Int `json:"cumulative_funding_rate_long"`
	CumulativeFundingRateShort fixed.Int `json:"cumulative_funding_rate_short"`

	// Open interest and unsettled pnl totals
	BaseAssetAmountLong  fixed.Int  `json:"base_asset_amount_long"`
	BaseAssetAmountShort fixed.Int  `json:"base_asset_amount_short"`
	UnsettledProfit      fixed.Uint `json:"unsettled_profit"`
	UnsettledLoss        fixed.Uint `json:"unsettled_loss"`
}

// Validate checks market parameters for consistency
func (m *Market) Validate() error {
	if m.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if m.Oracle == "" {
		return fmt.Errorf("market %s: oracle reference cannot be empty", m.Symbol)
	}
	if m.MarginRatioInitial > fixed.MaximumMarginRatio || m.MarginRatioInitial < fixed.MinimumMarginRatio {
		return fmt.Errorf("market %s: initial margin ratio %d out of range", m.Symbol, m.MarginRatioInitial)
	}
	if m.MarginRatioMaintenance > m.MarginRatioInitial || m.MarginRatioMaintenance == 0 {
		return fmt.Errorf("market %s: maintenance margin ratio (%d) must be positive and <= initial (%d)",
			m.Symbol, m.MarginRatioMaintenance, m.MarginRatioInitial)
	}
	// the liquidator's fee must leave room for the margin being released
	if uint64(m.LiquidationFee) >= uint64(m.MarginRatioMaintenance)*fixed.LiquidationFeeToMarginRatio {
		return fmt.Errorf("market %s: liquidation fee %d must be below maintenance margin ratio",
			m.Symbol, m.LiquidationFee)
	}
	if m.UnsettledMaintenanceAssetWeight > fixed.MarginPrecision ||
		m.UnsettledInitialAssetWeight > m.UnsettledMaintenanceAssetWeight {
		return fmt.Errorf("market %s: unsettled asset weights out of range", m.Symbol)
	}
	if m.TickSize == 0 || m.StepSize == 0 {
		return fmt.Errorf("market %s: tick size and step size must be positive", m.Symbol)
	}
	return nil
}

// MarginRatio returns the margin ratio for a position of the given size
// (fixed.BasePrecision) under a tier, including the size premium
func (m *Market) MarginRatio(size fixed.Uint, tier core.Tier) (uint32, error) {
	base := m.MarginRatioMaintenance
	if tier == core.Initial {
		base = m.MarginRatioInitial
	}
	ratio, err := fixed.SizePremiumWeight(size, m.IMFFactor, base, fixed.MarginPrecision)
	if err != nil {
		return 0, fmt.Errorf("market %s margin ratio: %w", m.Symbol, err)
	}
	if ratio > fixed.MaximumMarginRatio {
		ratio = fixed.MaximumMarginRatio
	}
	return ratio, nil
}

// UnsettledAssetWeight returns the weight applied to positive pnl
func (m *Market) UnsettledAssetWeight(tier core.Tier) uint32 {
	if tier == core.Initial {
		return m.UnsettledInitialAssetWeight
	}
	return m.UnsettledMaintenanceAssetWeight
}

// CumulativeFundingRate returns the funding index for a side
func (m *Market) CumulativeFundingRate(d core.Direction) fixed.Int {
	if d == core.Short {
		return m.CumulativeFundingRateShort
	}
	return m.CumulativeFundingRateLong
}

// DefaultSOLPerp is a reference 10x perpetual market
// Initial 10%, maintenance 5%, liquidator fee 1%
var DefaultSOLPerp = Market{
	Index:  0,
	Symbol: "SOL-PERP",
	Oracle: "SOL/USD",
	Status: Active,

	MarginRatioInitial:     1000,
	MarginRatioMaintenance: 500,

	UnsettledInitialAssetWeight:     9500,
	UnsettledMaintenanceAssetWeight: 10000,

	LiquidationFee: 10_000,

	TickSize: 100,        // $0.0001
	StepSize: 10_000_000, // 0.01 SOL
}
