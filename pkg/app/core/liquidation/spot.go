package liquidation

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperrisk/pkg/app/core"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/margin"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/market"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/pool"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/position"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

// LiquidateBorrow moves part of the user's borrow in liabilityPool to the
// liquidator, who is paid from the user's deposit in assetPool at a discount
// set by both pools' liquidation fees.
func (c *Controller) LiquidateBorrow(user, liquidator *account.Account, assetPool, liabilityPool uint16, maxLiabilityTransfer fixed.Uint, p Params) (*Record, error) {
	if assetPool == liabilityPool {
		return nil, fmt.Errorf("%w: %d", ErrSamePool, assetPool)
	}
	s, err := c.newStage(user, liquidator, p)
	if err != nil {
		return nil, err
	}
	rec := newRecord(FlowBorrow, user, liquidator, p)
	rec.AssetPool, rec.LiabilityPool = assetPool, liabilityPool

	if err := s.requireBalance(s.user, assetPool, account.Deposit); err != nil {
		return nil, err
	}
	if err := s.requireBalance(s.user, liabilityPool, account.Borrow); err != nil {
		return nil, err
	}
	if maxLiabilityTransfer.IsZero() {
		return nil, ErrZeroTransferCap
	}
	if err := s.claimBalance(liabilityPool, account.Borrow); err != nil {
		return nil, err
	}
	if err := s.claimBalance(assetPool, account.Deposit); err != nil {
		return nil, err
	}

	asset, assetP, err := s.poolLeg(assetPool, account.Deposit)
	if err != nil {
		return nil, err
	}
	liability, liabilityP, err := s.poolLeg(liabilityPool, account.Borrow)
	if err != nil {
		return nil, err
	}

	res, buffered, done, err := s.health(p.BufferRatio, rec)
	if err != nil {
		return nil, err
	}
	if done {
		return s.commit(user, liquidator, rec)
	}
	s.user.BeingLiquidated = true

	shortage, err := margin.Shortage(res.TotalCollateral, buffered)
	if err != nil {
		return nil, err
	}
	rec.MarginShortage = shortage

	out, err := sizeTransfer(shortage, maxLiabilityTransfer, asset, liability)
	if err != nil {
		return nil, err
	}

	// liability first: the user repays, the liquidator takes on the borrow
	if err := s.moveBalance(liabilityP, out.liability, account.Deposit, account.Borrow); err != nil {
		return nil, fmt.Errorf("transfer borrow: %w", err)
	}
	if err := s.moveBalance(assetP, out.asset, account.Borrow, account.Deposit); err != nil {
		return nil, fmt.Errorf("transfer deposit: %w", err)
	}

	return s.finishTransfer(user, liquidator, rec, out)
}

// LiquidateBorrowForPerpPnl moves part of the user's borrow in liabilityPool
// to the liquidator in exchange for positive unsettled pnl from a flat
// position in marketIndex.
func (c *Controller) LiquidateBorrowForPerpPnl(user, liquidator *account.Account, marketIndex, liabilityPool uint16, maxLiabilityTransfer fixed.Uint, p Params) (*Record, error) {
	s, err := c.newStage(user, liquidator, p)
	if err != nil {
		return nil, err
	}
	rec := newRecord(FlowBorrowForPerpPnl, user, liquidator, p)
	rec.MarketIndex, rec.LiabilityPool = marketIndex, liabilityPool

	userPos, err := s.flatPosition(marketIndex)
	if err != nil {
		return nil, err
	}
	if err := s.requireBalance(s.user, liabilityPool, account.Borrow); err != nil {
		return nil, err
	}
	if maxLiabilityTransfer.IsZero() {
		return nil, ErrZeroTransferCap
	}
	if _, err := s.liquidator.ForcePosition(marketIndex); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLiquidatorSlotMissing, err)
	}
	if err := s.claimBalance(liabilityPool, account.Borrow); err != nil {
		return nil, err
	}

	m, err := s.settleFunding(marketIndex)
	if err != nil {
		return nil, err
	}
	if !userPos.UnsettledPnl.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrPnlNotPositive, userPos.UnsettledPnl)
	}

	asset, err := s.pnlLeg(userPos.UnsettledPnl.Abs(), m.UnsettledMaintenanceAssetWeight, assetMultiplier(m.LiquidationFee))
	if err != nil {
		return nil, err
	}
	liability, liabilityP, err := s.poolLeg(liabilityPool, account.Borrow)
	if err != nil {
		return nil, err
	}

	res, buffered, done, err := s.health(p.BufferRatio, rec)
	if err != nil {
		return nil, err
	}
	if done {
		return s.commit(user, liquidator, rec)
	}
	s.user.BeingLiquidated = true

	shortage, err := margin.Shortage(res.TotalCollateral, buffered)
	if err != nil {
		return nil, err
	}
	rec.MarginShortage = shortage

	out, err := sizeTransfer(shortage, maxLiabilityTransfer, asset, liability)
	if err != nil {
		return nil, err
	}

	if err := s.moveBalance(liabilityP, out.liability, account.Deposit, account.Borrow); err != nil {
		return nil, fmt.Errorf("transfer borrow: %w", err)
	}
	if err := s.movePnl(m, out.asset, false); err != nil {
		return nil, fmt.Errorf("transfer pnl: %w", err)
	}

	return s.finishTransfer(user, liquidator, rec, out)
}

// LiquidatePerpPnlForDeposit moves negative unsettled pnl from a flat position
// in marketIndex to the liquidator, who is paid from the user's deposit in
// assetPool.
func (c *Controller) LiquidatePerpPnlForDeposit(user, liquidator *account.Account, marketIndex, assetPool uint16, maxPnlTransfer fixed.Uint, p Params) (*Record, error) {
	s, err := c.newStage(user, liquidator, p)
	if err != nil {
		return nil, err
	}
	rec := newRecord(FlowPerpPnlForDeposit, user, liquidator, p)
	rec.MarketIndex, rec.AssetPool = marketIndex, assetPool

	userPos, err := s.flatPosition(marketIndex)
	if err != nil {
		return nil, err
	}
	if err := s.requireBalance(s.user, assetPool, account.Deposit); err != nil {
		return nil, err
	}
	if maxPnlTransfer.IsZero() {
		return nil, ErrZeroTransferCap
	}
	if _, err := s.liquidator.ForcePosition(marketIndex); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLiquidatorSlotMissing, err)
	}
	if err := s.claimBalance(assetPool, account.Deposit); err != nil {
		return nil, err
	}

	m, err := s.settleFunding(marketIndex)
	if err != nil {
		return nil, err
	}
	if !userPos.UnsettledPnl.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrPnlNotNegative, userPos.UnsettledPnl)
	}

	asset, assetP, err := s.poolLeg(assetPool, account.Deposit)
	if err != nil {
		return nil, err
	}
	liability, err := s.pnlLeg(userPos.UnsettledPnl.Abs(), fixed.SpotWeightPrecision, liabilityMultiplier(m.LiquidationFee))
	if err != nil {
		return nil, err
	}

	res, buffered, done, err := s.health(p.BufferRatio, rec)
	if err != nil {
		return nil, err
	}
	if done {
		return s.commit(user, liquidator, rec)
	}
	s.user.BeingLiquidated = true

	shortage, err := margin.Shortage(res.TotalCollateral, buffered)
	if err != nil {
		return nil, err
	}
	rec.MarginShortage = shortage

	out, err := sizeTransfer(shortage, maxPnlTransfer, asset, liability)
	if err != nil {
		return nil, err
	}

	// asset first: the deposit pays for the loss the liquidator absorbs
	if err := s.moveBalance(assetP, out.asset, account.Borrow, account.Deposit); err != nil {
		return nil, fmt.Errorf("transfer deposit: %w", err)
	}
	if err := s.movePnl(m, out.liability, true); err != nil {
		return nil, fmt.Errorf("transfer pnl: %w", err)
	}

	return s.finishTransfer(user, liquidator, rec, out)
}

// requireBalance checks that acc holds a balance of type bt in poolIndex
func (s *stage) requireBalance(acc *account.Account, poolIndex uint16, bt account.BalanceType) error {
	e, err := acc.Balance(poolIndex)
	if err != nil {
		return err
	}
	if e.Type != bt {
		return fmt.Errorf("%w: pool %d holds a %s, want %s", ErrInvalidBalanceType, poolIndex, e.Type, bt)
	}
	return nil
}

// claimBalance makes sure the liquidator has an entry in poolIndex without
// recycling an entry claimed earlier in the same call
func (s *stage) claimBalance(poolIndex uint16, bt account.BalanceType) error {
	if _, err := s.liquidator.ForceBalance(poolIndex, bt, s.claimed...); err != nil {
		return fmt.Errorf("%w: %w", ErrLiquidatorSlotMissing, err)
	}
	s.claimed = append(s.claimed, poolIndex)
	return nil
}

// flatPosition returns the user's position in marketIndex, which must carry
// no size and no resting orders
func (s *stage) flatPosition(marketIndex uint16) (*account.Position, error) {
	pos, err := s.user.Position(marketIndex)
	if err != nil {
		return nil, err
	}
	if !pos.BaseAssetAmount.IsZero() || pos.OpenOrders != 0 {
		return nil, fmt.Errorf("%w: market %d", ErrPositionNotFlat, marketIndex)
	}
	return pos, nil
}

// settleFunding settles both parties' funding in marketIndex
func (s *stage) settleFunding(marketIndex uint16) (*market.Market, error) {
	m, err := s.Market(marketIndex)
	if err != nil {
		return nil, err
	}
	for _, acc := range []*account.Account{s.user, s.liquidator} {
		pos, err := acc.Position(marketIndex)
		if err != nil {
			return nil, err
		}
		if _, err := position.SettleFunding(pos, m); err != nil {
			return nil, fmt.Errorf("settle funding for %s: %w", acc.Address.Hex(), err)
		}
	}
	return m, nil
}

// poolLeg describes the user's holding in a pool. Deposits are assets
// priced at a premium, borrows are liabilities priced at a discount.
func (s *stage) poolLeg(poolIndex uint16, bt account.BalanceType) (leg, *pool.Pool, error) {
	p, err := s.Pool(poolIndex)
	if err != nil {
		return leg{}, nil, err
	}
	e, err := s.user.Balance(poolIndex)
	if err != nil {
		return leg{}, nil, err
	}
	amount, err := pool.EntryTokenAmount(e, p)
	if err != nil {
		return leg{}, nil, err
	}
	q, err := s.c.prices.Price(p.Oracle)
	if err != nil {
		return leg{}, nil, err
	}

	l := leg{amount: amount, decimals: p.Decimals, price: q.Price}
	if bt == account.Deposit {
		if l.weight, err = p.AssetWeight(amount, core.Maintenance); err != nil {
			return leg{}, nil, err
		}
		l.multiplier = assetMultiplier(p.LiquidationFee)
	} else {
		if l.weight, err = p.LiabilityWeight(amount, core.Maintenance); err != nil {
			return leg{}, nil, err
		}
		l.multiplier = liabilityMultiplier(p.LiquidationFee)
	}
	return l, p, nil
}

// pnlLeg prices unsettled pnl as quote tokens
func (s *stage) pnlLeg(amount fixed.Uint, weight, multiplier uint32) (leg, error) {
	price, err := s.quotePrice()
	if err != nil {
		return leg{}, err
	}
	return leg{
		amount:     amount,
		decimals:   fixed.QuoteDecimals,
		price:      price,
		weight:     weight,
		multiplier: multiplier,
	}, nil
}

// moveBalance applies amount to the user's entry in direction userSide and
// to the liquidator's in liquidatorSide
func (s *stage) moveBalance(p *pool.Pool, amount fixed.Uint, userSide, liquidatorSide account.BalanceType) error {
	userEntry, err := s.user.Balance(p.Index)
	if err != nil {
		return err
	}
	if err := pool.UpdateBalance(p, userEntry, amount, userSide); err != nil {
		return err
	}
	liqEntry, err := s.liquidator.Balance(p.Index)
	if err != nil {
		return err
	}
	return pool.UpdateBalance(p, liqEntry, amount, liquidatorSide)
}

// movePnl hands amount of unsettled pnl from user to liquidator. A loss moves
// the other way: the liquidator's pnl falls and the user's rises.
func (s *stage) movePnl(m *market.Market, amount fixed.Uint, loss bool) error {
	delta, err := amount.Signed()
	if err != nil {
		return err
	}
	if loss {
		delta = delta.Neg()
	}
	liqPos, err := s.liquidator.Position(m.Index)
	if err != nil {
		return err
	}
	if err := position.UpdateUnsettledPnl(liqPos, m, delta); err != nil {
		return err
	}
	userPos, err := s.user.Position(m.Index)
	if err != nil {
		return err
	}
	return position.UpdateUnsettledPnl(userPos, m, delta.Neg())
}

func (s *stage) finishTransfer(user, liquidator *account.Account, rec *Record, out sized) (*Record, error) {
	rec.LiabilityTransfer = out.liability
	rec.AssetTransfer = out.asset
	if out.liability.Gte(out.toCover) {
		s.user.BeingLiquidated = false
		rec.Cleared = true
	}

	s.c.logger.Debug("transfer_liquidation_sized",
		zap.Stringer("flow", rec.Flow),
		zap.Stringer("liability", out.liability),
		zap.Stringer("to_cover", out.toCover),
		zap.Stringer("asset", out.asset))

	return s.commit(user, liquidator, rec)
}
