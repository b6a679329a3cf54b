package api

import (
	"github.com/uhyunpark/hyperrisk/pkg/app/core/liquidation"
	"github.com/uhyunpark/hyperrisk/pkg/app/risk"
)

// API response types for REST endpoints and WebSocket messages.
// Fixed-point amounts are decimal strings in their native precision.

// ==============================
// REST Response Types
// ==============================

// MarketInfo is a perpetual market's parameters and running totals
type MarketInfo struct {
	Index                  uint16 `json:"index"`
	Symbol                 string `json:"symbol"`
	Oracle                 string `json:"oracle"`
	Status                 string `json:"status"`
	MarginRatioInitial     uint32 `json:"marginRatioInitial"`     // 1000 = 10%
	MarginRatioMaintenance uint32 `json:"marginRatioMaintenance"` // 1000 = 10%
	LiquidationFee         uint32 `json:"liquidationFee"`         // 10000 = 1%
	OpenInterestLong       string `json:"openInterestLong"`
	OpenInterestShort      string `json:"openInterestShort"`
	UnsettledProfit        string `json:"unsettledProfit"`
	UnsettledLoss          string `json:"unsettledLoss"`
}

// PoolInfo is a lending pool with its live rates
type PoolInfo struct {
	Index          uint16 `json:"index"`
	Name           string `json:"name"`
	Oracle         string `json:"oracle"`
	Decimals       uint8  `json:"decimals"`
	DepositTokens  string `json:"depositTokens"`
	BorrowTokens   string `json:"borrowTokens"`
	Utilization    string `json:"utilization"` // 1000000 = 100%
	BorrowRate     string `json:"borrowRate"`  // 1000000 = 100% APR
	DepositRate    string `json:"depositRate"`
	LastInterestTs int64  `json:"lastInterestTs"`
}

// HealthInfo is an account's margin state at one tier
type HealthInfo struct {
	Address             string `json:"address"`
	Tier                string `json:"tier"`
	MarginRequirement   string `json:"marginRequirement"`
	TotalCollateral     string `json:"totalCollateral"`
	BufferedRequirement string `json:"bufferedRequirement,omitempty"`
	Shortage            string `json:"shortage"`
	Sufficient          bool   `json:"sufficient"`
	BeingLiquidated     bool   `json:"beingLiquidated"`
}

func healthInfo(h risk.HealthReport) HealthInfo {
	info := HealthInfo{
		Address:           h.Address.Hex(),
		Tier:              h.Tier,
		MarginRequirement: h.MarginRequirement.String(),
		TotalCollateral:   h.TotalCollateral.String(),
		Shortage:          h.Shortage.String(),
		Sufficient:        h.Sufficient,
		BeingLiquidated:   h.BeingLiquidated,
	}
	if !h.BufferedRequirement.IsZero() {
		info.BufferedRequirement = h.BufferedRequirement.String()
	}
	return info
}

func poolInfo(p risk.PoolStatus) PoolInfo {
	return PoolInfo{
		Index:          p.Index,
		Name:           p.Name,
		Oracle:         string(p.Oracle),
		Decimals:       p.Decimals,
		DepositTokens:  p.DepositTokens.String(),
		BorrowTokens:   p.BorrowTokens.String(),
		Utilization:    p.Utilization.String(),
		BorrowRate:     p.BorrowRate.String(),
		DepositRate:    p.DepositRate.String(),
		LastInterestTs: p.LastInterestTs,
	}
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type string      `json:"type"` // "liquidation"
	Data interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["liquidations", "account:0x..."]
}

// ==============================
// REST Request Types
// ==============================

// LiquidationRequest is the payload for POST /api/v1/liquidations. The
// liquidator signs the EIP-712 "Liquidation" struct built from these fields.
type LiquidationRequest struct {
	Flow          liquidation.Flow `json:"flow"`
	User          string           `json:"user"`
	Liquidator    string           `json:"liquidator"`
	MarketIndex   uint16           `json:"marketIndex"`
	AssetPool     uint16           `json:"assetPool"`
	LiabilityPool uint16           `json:"liabilityPool"`
	MaxTransfer   string           `json:"maxTransfer"`
	Nonce         uint64           `json:"nonce"`
	Deadline      int64            `json:"deadline"` // unix seconds, 0 = none
	Signature     string           `json:"signature"` // 0x-prefixed 65 bytes
}

// PriceUpdate is the payload for POST /api/v1/prices, pushed by the price feeder
type PriceUpdate struct {
	Ref   string `json:"ref"`   // "SOL/USD"
	Price int64  `json:"price"` // 1000000 = $1
	TWAP  int64  `json:"twap,omitempty"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"` // liquidation error class
}
