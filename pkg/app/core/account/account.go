package account

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperrisk/pkg/app/core"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

// Slot limits per account
const (
	MaxPositions = 8
	MaxBalances  = 8
	MaxOrders    = 32
)

var (
	ErrPositionNotFound = errors.New("account: position not found")
	ErrNoPositionSlot   = errors.New("account: no available position slot")
	ErrBalanceNotFound  = errors.New("account: balance not found")
	ErrNoBalanceSlot    = errors.New("account: no available balance slot")
	ErrOrderNotFound    = errors.New("account: order not found")
	ErrNoOrderSlot      = errors.New("account: no available order slot")
)

// Account represents a margin account with EVM-compatible address
// Holds one position per perpetual market and one balance entry per pool
type Account struct {
	Address common.Address `json:"address"`

	Positions []Position     `json:"positions"`
	Balances  []BalanceEntry `json:"balances"`
	Orders    []Order        `json:"orders"`

	// BeingLiquidated is set while a margin deficiency persists and cleared once
	// collateral clears the buffered maintenance requirement
	BeingLiquidated bool `json:"being_liquidated"`

	NextOrderID uint32 `json:"next_order_id"`
}

// NewAccount creates an empty account
func NewAccount(addr common.Address) *Account {
	return &Account{Address: addr, NextOrderID: 1}
}

// Clone returns a deep copy. Liquidation stages its mutations on clones and
// copies them back only once every check has passed.
func (a *Account) Clone() *Account {
	out := *a
	out.Positions = append([]Position(nil), a.Positions...)
	out.Balances = append([]BalanceEntry(nil), a.Balances...)
	out.Orders = append([]Order(nil), a.Orders...)
	return &out
}

// Position returns the position for a perpetual market
func (a *Account) Position(marketIndex uint16) (*Position, error) {
	for i := range a.Positions {
		if a.Positions[i].MarketIndex == marketIndex {
			return &a.Positions[i], nil
		}
	}
	return nil, fmt.Errorf("%w: market %d", ErrPositionNotFound, marketIndex)
}

// ForcePosition returns the position for marketIndex, claiming a free slot if
// the account has none yet
func (a *Account) ForcePosition(marketIndex uint16) (*Position, error) {
	if p, err := a.Position(marketIndex); err == nil {
		return p, nil
	}
	for i := range a.Positions {
		if a.Positions[i].IsAvailable() {
			a.Positions[i] = Position{MarketIndex: marketIndex}
			return &a.Positions[i], nil
		}
	}
	if len(a.Positions) >= MaxPositions {
		return nil, ErrNoPositionSlot
	}
	a.Positions = append(a.Positions, Position{MarketIndex: marketIndex})
	return &a.Positions[len(a.Positions)-1], nil
}

// Balance returns the balance entry for a pool
func (a *Account) Balance(poolIndex uint16) (*BalanceEntry, error) {
	for i := range a.Balances {
		if a.Balances[i].PoolIndex == poolIndex {
			return &a.Balances[i], nil
		}
	}
	return nil, fmt.Errorf("%w: pool %d", ErrBalanceNotFound, poolIndex)
}

// ForceBalance returns the balance entry for poolIndex, creating an empty one
// of type bt if absent. Empty entries may be reused unless their pool is in
// keep, so callers claiming several pools at once pass the ones already claimed.
func (a *Account) ForceBalance(poolIndex uint16, bt BalanceType, keep ...uint16) (*BalanceEntry, error) {
	if b, err := a.Balance(poolIndex); err == nil {
		return b, nil
	}
	for i := range a.Balances {
		if a.Balances[i].Balance.IsZero() && !slices.Contains(keep, a.Balances[i].PoolIndex) {
			a.Balances[i] = BalanceEntry{PoolIndex: poolIndex, Type: bt}
			return &a.Balances[i], nil
		}
	}
	if len(a.Balances) >= MaxBalances {
		return nil, ErrNoBalanceSlot
	}
	a.Balances = append(a.Balances, BalanceEntry{PoolIndex: poolIndex, Type: bt})
	return &a.Balances[len(a.Balances)-1], nil
}

// OpenOrderIndexes returns the slots of every open order in a market
func (a *Account) OpenOrderIndexes(marketIndex uint16, mt core.MarketType) []int {
	var out []int
	for i := range a.Orders {
		o := &a.Orders[i]
		if o.Status == OrderOpen && o.MarketIndex == marketIndex && o.MarketType == mt {
			out = append(out, i)
		}
	}
	return out
}

// Order returns the order in slot i
func (a *Account) Order(i int) (*Order, error) {
	if i < 0 || i >= len(a.Orders) {
		return nil, fmt.Errorf("%w: index %d", ErrOrderNotFound, i)
	}
	return &a.Orders[i], nil
}

// FreeOrderSlot returns a reusable order slot index, growing the slice when needed
func (a *Account) FreeOrderSlot() (int, error) {
	for i := range a.Orders {
		if a.Orders[i].Status != OrderOpen {
			return i, nil
		}
	}
	if len(a.Orders) >= MaxOrders {
		return 0, ErrNoOrderSlot
	}
	a.Orders = append(a.Orders, Order{})
	return len(a.Orders) - 1, nil
}

// BalanceType is the side of a pool balance. An account holds either a
// deposit or a borrow in a given pool, never both.
type BalanceType uint8

const (
	Deposit BalanceType = iota
	Borrow
)

func (bt BalanceType) String() string {
	switch bt {
	case Deposit:
		return "deposit"
	case Borrow:
		return "borrow"
	default:
		return "unknown"
	}
}

// BalanceEntry is an account's holding in one lending pool.
// Balance is in pool-internal units scaled by the pool's cumulative interest
// index, not token units.
type BalanceEntry struct {
	PoolIndex uint16      `json:"pool_index"`
	Type      BalanceType `json:"type"`
	Balance   fixed.Uint  `json:"balance"`
}

// Position is a perpetual futures position
type Position struct {
	MarketIndex uint16 `json:"market_index"`

	// BaseAssetAmount is the signed size in fixed.BasePrecision (+ long, - short)
	BaseAssetAmount fixed.Int `json:"base_asset_amount"`

	// QuoteEntryAmount is the cost basis of the open size in fixed.QuotePrecision
	QuoteEntryAmount fixed.Uint `json:"quote_entry_amount"`

	// UnsettledPnl is realized profit/loss not yet settled into a pool balance
	UnsettledPnl fixed.Int `json:"unsettled_pnl"`

	LastCumulativeFundingRate fixed.Int `json:"last_cumulative_funding_rate"`

	OpenOrders uint8     `json:"open_orders"`
	OpenBids   fixed.Int `json:"open_bids"` // >= 0
	OpenAsks   fixed.Int `json:"open_asks"` // <= 0
}

// IsFlat reports zero size and no resting orders
func (p *Position) IsFlat() bool {
	return p.BaseAssetAmount.IsZero() && p.OpenOrders == 0
}

// IsAvailable reports whether the slot can be reused for another market
func (p *Position) IsAvailable() bool {
	return p.IsFlat() && p.UnsettledPnl.IsZero() && p.QuoteEntryAmount.IsZero()
}

// Direction of the open size. A flat position reports Long.
func (p *Position) Direction() core.Direction {
	if p.BaseAssetAmount.IsNegative() {
		return core.Short
	}
	return core.Long
}

// WorstCaseBaseAssetAmount is the signed size if every resting bid or every
// resting ask filled, whichever is larger in magnitude
func (p *Position) WorstCaseBaseAssetAmount() (fixed.Int, error) {
	allBids, err := p.BaseAssetAmount.Add(p.OpenBids)
	if err != nil {
		return fixed.Int{}, err
	}
	allAsks, err := p.BaseAssetAmount.Add(p.OpenAsks)
	if err != nil {
		return fixed.Int{}, err
	}
	if allBids.Abs().Gt(allAsks.Abs()) {
		return allBids, nil
	}
	return allAsks, nil
}

// OrderStatus tracks order lifecycle
type OrderStatus uint8

const (
	OrderInit OrderStatus = iota // empty slot
	OrderOpen
	OrderFilled
	OrderCanceled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderInit:
		return "init"
	case OrderOpen:
		return "open"
	case OrderFilled:
		return "filled"
	case OrderCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Order is a resting or auctioning order. Prices are in fixed.PricePrecision,
// amounts in fixed.BasePrecision.
type Order struct {
	OrderID     uint32          `json:"order_id"`
	MarketIndex uint16          `json:"market_index"`
	MarketType  core.MarketType `json:"market_type"`
	Status      OrderStatus     `json:"status"`
	Direction   core.Direction  `json:"direction"`

	BaseAssetAmount       uint64 `json:"base_asset_amount"`
	BaseAssetAmountFilled uint64 `json:"base_asset_amount_filled"`

	Price             uint64 `json:"price"` // 0 = market order
	AuctionStartPrice uint64 `json:"auction_start_price"`
	AuctionEndPrice   uint64 `json:"auction_end_price"`
	Slot              uint64 `json:"slot"`
	AuctionDuration   uint8  `json:"auction_duration"`
	PostOnly          bool   `json:"post_only"`
}

// RemainingBaseAssetAmount is the unfilled size
func (o *Order) RemainingBaseAssetAmount() uint64 {
	if o.BaseAssetAmountFilled >= o.BaseAssetAmount {
		return 0
	}
	return o.BaseAssetAmount - o.BaseAssetAmountFilled
}
