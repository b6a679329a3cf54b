// Package liquidation moves risk from under-collateralized accounts to
// liquidators.
//
// Four flows share one preamble: settle interest and funding, evaluate the
// account at maintenance margin, decide eligibility, size the transfer as the
// minimum of every binding cap, apply it, and re-check the liquidator at
// initial margin. Each flow runs on staged copies of the accounts, markets and
// pools it touches; nothing is written back unless the whole flow succeeds.
package liquidation

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/margin"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/market"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/pool"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

// MarketStore is the market arena as seen by the controller
type MarketStore interface {
	Market(index uint16) (*market.Market, error)
	Put(m market.Market) error
}

// PoolStore is the pool arena as seen by the controller
type PoolStore interface {
	Pool(index uint16) (*pool.Pool, error)
	Put(p pool.Pool) error
}

// Params is the timing and hysteresis context of one call
type Params struct {
	Now         int64  // unix seconds, interest is settled up to here
	BufferRatio uint32 // fixed.MarginPrecision units added on top of maintenance
}

// Flow identifies a liquidation entry point
type Flow uint8

const (
	FlowPerp Flow = iota
	FlowBorrow
	FlowBorrowForPerpPnl
	FlowPerpPnlForDeposit
)

func (f Flow) String() string {
	switch f {
	case FlowPerp:
		return "perp"
	case FlowBorrow:
		return "borrow"
	case FlowBorrowForPerpPnl:
		return "borrow_for_perp_pnl"
	case FlowPerpPnlForDeposit:
		return "perp_pnl_for_deposit"
	default:
		return "unknown"
	}
}

func (f Flow) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Flow) UnmarshalText(b []byte) error {
	for _, candidate := range []Flow{FlowPerp, FlowBorrow, FlowBorrowForPerpPnl, FlowPerpPnlForDeposit} {
		if candidate.String() == string(b) {
			*f = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown liquidation flow %q", b)
}

// Record describes one successful liquidation call
type Record struct {
	ID         string         `json:"id"`
	Flow       Flow           `json:"flow"`
	User       common.Address `json:"user"`
	Liquidator common.Address `json:"liquidator"`
	Ts         int64          `json:"ts"`

	MarketIndex   uint16 `json:"market_index,omitempty"`
	AssetPool     uint16 `json:"asset_pool,omitempty"`
	LiabilityPool uint16 `json:"liability_pool,omitempty"`

	// Health before the transfer
	MarginRequirement fixed.Uint `json:"margin_requirement"`
	TotalCollateral   fixed.Int  `json:"total_collateral"`
	MarginShortage    fixed.Uint `json:"margin_shortage"`

	CanceledOrders int `json:"canceled_orders,omitempty"`

	// Flow A amounts
	BaseAssetAmount  fixed.Uint `json:"base_asset_amount"`
	QuoteAssetAmount fixed.Uint `json:"quote_asset_amount"`

	// Flows B-D amounts. Pnl legs are in quote units.
	LiabilityTransfer fixed.Uint `json:"liability_transfer"`
	AssetTransfer     fixed.Uint `json:"asset_transfer"`

	// Healed means the account was found healthy (after any order
	// cancellation) and nothing was transferred
	Healed bool `json:"healed"`
	// Cleared means the call left the account no longer flagged
	Cleared bool `json:"cleared"`
}

// Transferred reports whether the call moved any risk
func (r *Record) Transferred() bool {
	return !r.BaseAssetAmount.IsZero() || !r.LiabilityTransfer.IsZero()
}

// Controller runs the four liquidation flows
type Controller struct {
	markets   MarketStore
	pools     PoolStore
	prices    oracle.Source
	canceller account.OrderCanceller
	logger    *zap.Logger
}

// NewController creates a controller. A nil logger disables logging.
func NewController(markets MarketStore, pools PoolStore, prices oracle.Source, canceller account.OrderCanceller, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		markets:   markets,
		pools:     pools,
		prices:    prices,
		canceller: canceller,
		logger:    logger,
	}
}

// stage holds copies of everything a flow touches
type stage struct {
	c   *Controller
	now int64

	user       *account.Account
	liquidator *account.Account

	markets     map[uint16]*market.Market
	pools       map[uint16]*pool.Pool
	marketOrder []uint16
	poolOrder   []uint16
	claimed     []uint16 // liquidator balance slots claimed by this call

	calc *margin.Calculator
}

func (c *Controller) newStage(user, liquidator *account.Account, p Params) (*stage, error) {
	if user.Address == liquidator.Address {
		return nil, fmt.Errorf("%w: %s", ErrSelfLiquidation, user.Address.Hex())
	}
	s := &stage{
		c:          c,
		now:        p.Now,
		user:       user.Clone(),
		liquidator: liquidator.Clone(),
		markets:    make(map[uint16]*market.Market),
		pools:      make(map[uint16]*pool.Pool),
	}
	s.calc = margin.NewCalculator(s, s, c.prices)
	return s, nil
}

// Market returns the staged copy of a market
func (s *stage) Market(index uint16) (*market.Market, error) {
	if m, ok := s.markets[index]; ok {
		return m, nil
	}
	m, err := s.c.markets.Market(index)
	if err != nil {
		return nil, err
	}
	s.markets[index] = m
	s.marketOrder = append(s.marketOrder, index)
	return m, nil
}

// Pool returns the staged copy of a pool with interest settled up to now
func (s *stage) Pool(index uint16) (*pool.Pool, error) {
	if p, ok := s.pools[index]; ok {
		return p, nil
	}
	p, err := s.c.pools.Pool(index)
	if err != nil {
		return nil, err
	}
	if _, err := p.UpdateCumulativeInterest(s.now); err != nil {
		return nil, fmt.Errorf("settle pool %d interest: %w", index, err)
	}
	s.pools[index] = p
	s.poolOrder = append(s.poolOrder, index)
	return p, nil
}

func (s *stage) quotePrice() (int64, error) {
	p, err := s.Pool(fixed.QuoteSpotMarketIndex)
	if err != nil {
		return 0, err
	}
	q, err := s.c.prices.Price(p.Oracle)
	if err != nil {
		return 0, err
	}
	return q.Price, nil
}

// health evaluates the user at maintenance and applies the shared
// eligibility rules. done is true when the call should exit successfully
// without a transfer.
func (s *stage) health(bufferRatio uint32, rec *Record) (res margin.Result, buffered fixed.Uint, done bool, err error) {
	res, buffered, err = s.calc.EvaluateWithBuffer(s.user, bufferRatio)
	if err != nil {
		return margin.Result{}, fixed.Uint{}, false, err
	}
	rec.MarginRequirement = res.MarginRequirement
	rec.TotalCollateral = res.TotalCollateral

	if !s.user.BeingLiquidated && res.Sufficient() {
		return res, buffered, false, fmt.Errorf("%w: collateral %s, requirement %s",
			ErrSufficientCollateral, res.TotalCollateral, res.MarginRequirement)
	}
	if s.user.BeingLiquidated && margin.Covers(res.TotalCollateral, buffered) {
		s.user.BeingLiquidated = false
		rec.Healed, rec.Cleared = true, true
		return res, buffered, true, nil
	}
	return res, buffered, false, nil
}

// commit verifies the liquidator and writes every staged copy back. Markets
// and pools are written in the order the flow first touched them.
func (s *stage) commit(user, liquidator *account.Account, rec *Record) (*Record, error) {
	if rec.Transferred() {
		ok, err := s.calc.MeetsInitialMargin(s.liquidator)
		if err != nil {
			return nil, fmt.Errorf("evaluate liquidator: %w", err)
		}
		if !ok {
			return nil, ErrInsufficientCollateral
		}
	}

	for _, idx := range s.marketOrder {
		if err := s.c.markets.Put(*s.markets[idx]); err != nil {
			return nil, err
		}
	}
	for _, idx := range s.poolOrder {
		if err := s.c.pools.Put(*s.pools[idx]); err != nil {
			return nil, err
		}
	}
	*user = *s.user
	*liquidator = *s.liquidator

	s.c.logger.Debug("liquidation_committed",
		zap.String("id", rec.ID),
		zap.Stringer("flow", rec.Flow),
		zap.String("user", rec.User.Hex()),
		zap.Bool("healed", rec.Healed),
		zap.Bool("cleared", rec.Cleared),
		zap.Stringer("shortage", rec.MarginShortage))
	return rec, nil
}

func newRecord(flow Flow, user, liquidator *account.Account, p Params) *Record {
	return &Record{
		ID:         uuid.NewString(),
		Flow:       flow,
		User:       user.Address,
		Liquidator: liquidator.Address,
		Ts:         p.Now,
	}
}
