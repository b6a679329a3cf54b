package liquidation

import (
	"errors"

	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/market"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/pool"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/valuation"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

var (
	// eligibility
	ErrSufficientCollateral = errors.New("liquidation: account has sufficient collateral")

	// post-condition
	ErrInsufficientCollateral = errors.New("liquidation: liquidator would be under-collateralized")

	// preconditions
	ErrSelfLiquidation       = errors.New("liquidation: user and liquidator are the same account")
	ErrNothingToLiquidate    = errors.New("liquidation: position has no size or open orders")
	ErrInvalidBalanceType    = errors.New("liquidation: wrong balance type for role")
	ErrSamePool              = errors.New("liquidation: asset and liability pool must differ")
	ErrPositionNotFlat       = errors.New("liquidation: position must have no size and no open orders")
	ErrPnlNotPositive        = errors.New("liquidation: unsettled pnl must be positive")
	ErrPnlNotNegative        = errors.New("liquidation: unsettled pnl must be negative")
	ErrZeroTransferCap       = errors.New("liquidation: liquidator max transfer must be positive")
	ErrEmptyAsset            = errors.New("liquidation: asset holding is empty")
	ErrInvalidOraclePrice    = errors.New("liquidation: oracle price must be positive")
	ErrLiquidatorSlotMissing = errors.New("liquidation: liquidator slot unavailable")
)

// Kind classifies a liquidation failure
type Kind uint8

const (
	KindUnknown Kind = iota
	KindPrecondition
	KindEligibility
	KindArithmetic
	KindPostCondition
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindEligibility:
		return "eligibility"
	case KindArithmetic:
		return "arithmetic"
	case KindPostCondition:
		return "post_condition"
	default:
		return "unknown"
	}
}

var preconditions = []error{
	ErrSelfLiquidation,
	ErrNothingToLiquidate,
	ErrInvalidBalanceType,
	ErrSamePool,
	ErrPositionNotFlat,
	ErrPnlNotPositive,
	ErrPnlNotNegative,
	ErrZeroTransferCap,
	ErrEmptyAsset,
	ErrInvalidOraclePrice,
	ErrLiquidatorSlotMissing,
	account.ErrPositionNotFound,
	account.ErrBalanceNotFound,
	account.ErrNoPositionSlot,
	account.ErrNoBalanceSlot,
	market.ErrMarketNotFound,
	pool.ErrPoolNotFound,
	oracle.ErrPriceNotFound,
	oracle.ErrInvalidPrice,
	valuation.ErrInvalidTWAP,
}

// KindOf returns the class of a liquidation error
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrSufficientCollateral):
		return KindEligibility
	case errors.Is(err, ErrInsufficientCollateral):
		return KindPostCondition
	case errors.Is(err, fixed.ErrArithmeticOverflow),
		errors.Is(err, fixed.ErrDivisionByZero),
		errors.Is(err, fixed.ErrNegativeValue):
		return KindArithmetic
	}
	for _, target := range preconditions {
		if errors.Is(err, target) {
			return KindPrecondition
		}
	}
	return KindUnknown
}
