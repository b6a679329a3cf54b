package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/liquidation"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
	"github.com/uhyunpark/hyperrisk/pkg/metrics"
	"github.com/uhyunpark/hyperrisk/pkg/storage"
)

var ErrUnknownFlow = errors.New("risk: unknown liquidation flow")

// Request names one liquidation call. MaxTransfer caps the flow's transfer:
// base units for perp, liability tokens for borrow flows and quote units for
// the pnl-for-deposit flow.
type Request struct {
	Flow          liquidation.Flow `json:"flow"`
	User          common.Address   `json:"user"`
	Liquidator    common.Address   `json:"liquidator"`
	MarketIndex   uint16           `json:"market_index"`
	AssetPool     uint16           `json:"asset_pool"`
	LiabilityPool uint16           `json:"liability_pool"`
	MaxTransfer   fixed.Uint       `json:"max_transfer"`
}

// Liquidate dispatches a request to its flow
func (a *App) Liquidate(req Request) (*liquidation.Record, error) {
	switch req.Flow {
	case liquidation.FlowPerp:
		return a.LiquidatePerp(req.User, req.Liquidator, req.MarketIndex, req.MaxTransfer)
	case liquidation.FlowBorrow:
		return a.LiquidateBorrow(req.User, req.Liquidator, req.AssetPool, req.LiabilityPool, req.MaxTransfer)
	case liquidation.FlowBorrowForPerpPnl:
		return a.LiquidateBorrowForPerpPnl(req.User, req.Liquidator, req.MarketIndex, req.LiabilityPool, req.MaxTransfer)
	case liquidation.FlowPerpPnlForDeposit:
		return a.LiquidatePerpPnlForDeposit(req.User, req.Liquidator, req.MarketIndex, req.AssetPool, req.MaxTransfer)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFlow, req.Flow)
	}
}

// LiquidatePerp closes part of the user's perp position into the liquidator
func (a *App) LiquidatePerp(user, liquidator common.Address, marketIndex uint16, maxBaseAssetAmount fixed.Uint) (*liquidation.Record, error) {
	return a.run(liquidation.FlowPerp, user, liquidator, func(u, l *account.Account, p liquidation.Params) (*liquidation.Record, error) {
		return a.ctrl.LiquidatePerp(u, l, marketIndex, maxBaseAssetAmount, p)
	})
}

// LiquidateBorrow swaps a borrow for a deposit at a discount
func (a *App) LiquidateBorrow(user, liquidator common.Address, assetPool, liabilityPool uint16, maxLiabilityTransfer fixed.Uint) (*liquidation.Record, error) {
	return a.run(liquidation.FlowBorrow, user, liquidator, func(u, l *account.Account, p liquidation.Params) (*liquidation.Record, error) {
		return a.ctrl.LiquidateBorrow(u, l, assetPool, liabilityPool, maxLiabilityTransfer, p)
	})
}

// LiquidateBorrowForPerpPnl swaps a borrow for positive unsettled pnl
func (a *App) LiquidateBorrowForPerpPnl(user, liquidator common.Address, marketIndex, liabilityPool uint16, maxLiabilityTransfer fixed.Uint) (*liquidation.Record, error) {
	return a.run(liquidation.FlowBorrowForPerpPnl, user, liquidator, func(u, l *account.Account, p liquidation.Params) (*liquidation.Record, error) {
		return a.ctrl.LiquidateBorrowForPerpPnl(u, l, marketIndex, liabilityPool, maxLiabilityTransfer, p)
	})
}

// LiquidatePerpPnlForDeposit swaps negative unsettled pnl for a deposit
func (a *App) LiquidatePerpPnlForDeposit(user, liquidator common.Address, marketIndex, assetPool uint16, maxPnlTransfer fixed.Uint) (*liquidation.Record, error) {
	return a.run(liquidation.FlowPerpPnlForDeposit, user, liquidator, func(u, l *account.Account, p liquidation.Params) (*liquidation.Record, error) {
		return a.ctrl.LiquidatePerpPnlForDeposit(u, l, marketIndex, assetPool, maxPnlTransfer, p)
	})
}

type flowFunc func(user, liquidator *account.Account, p liquidation.Params) (*liquidation.Record, error)

// run executes one flow under the engine lock and persists everything it
// touched in a single batch. Accounts, markets and pools are untouched when
// the flow fails.
func (a *App) run(flow liquidation.Flow, userAddr, liquidatorAddr common.Address, fn flowFunc) (*liquidation.Record, error) {
	start := time.Now()
	defer func() {
		metrics.LiquidationLatency.WithLabelValues(flow.String()).Observe(since(start))
	}()

	a.mu.Lock()
	rec, err := a.runLocked(flow, userAddr, liquidatorAddr, fn)
	sink := a.sink
	a.mu.Unlock()

	if err != nil {
		kind := liquidation.KindOf(err)
		metrics.LiquidationErrors.WithLabelValues(flow.String(), kind.String()).Inc()
		metrics.LiquidationsTotal.WithLabelValues(flow.String(), "rejected").Inc()
		a.logger.Debugw("liquidation_rejected",
			"flow", flow.String(),
			"user", userAddr.Hex(),
			"liquidator", liquidatorAddr.Hex(),
			"kind", kind.String(),
			"error", err)
		return nil, err
	}

	outcome := "transferred"
	if rec.Healed {
		outcome = "healed"
	}
	metrics.LiquidationsTotal.WithLabelValues(flow.String(), outcome).Inc()
	if !rec.MarginShortage.IsZero() {
		metrics.MarginShortage.WithLabelValues(flow.String()).Observe(ratio(rec.MarginShortage, fixed.QuotePrecision))
	}
	if sink != nil {
		sink.PublishLiquidation(*rec)
	}

	a.logger.Infow("liquidation_completed",
		"id", rec.ID,
		"flow", flow.String(),
		"user", rec.User.Hex(),
		"liquidator", rec.Liquidator.Hex(),
		"shortage", rec.MarginShortage.String(),
		"base", rec.BaseAssetAmount.String(),
		"liability", rec.LiabilityTransfer.String(),
		"asset", rec.AssetTransfer.String(),
		"healed", rec.Healed,
		"cleared", rec.Cleared)
	return rec, nil
}

func (a *App) runLocked(flow liquidation.Flow, userAddr, liquidatorAddr common.Address, fn flowFunc) (*liquidation.Record, error) {
	user, err := a.accounts.GetAccount(userAddr)
	if err != nil {
		return nil, err
	}
	liquidator, err := a.accounts.GetAccount(liquidatorAddr)
	if err != nil {
		return nil, err
	}

	// the controller writes back into these only on success
	wasFlagged := user.BeingLiquidated
	userBefore, liquidatorBefore := user.Clone(), liquidator.Clone()
	marketsBefore, poolsBefore := a.markets.List(), a.pools.List()

	rec, err := fn(user, liquidator, liquidation.Params{Now: a.now(), BufferRatio: a.bufferRatio})
	if err != nil {
		return nil, err
	}

	commit := storage.Commit{
		Record:   rec,
		Accounts: []*account.Account{user, liquidator},
		Markets:  a.markets.List(),
		Pools:    a.pools.List(),
	}
	if err := a.store.CommitLiquidation(commit); err != nil {
		// keep memory and disk in step
		*user, *liquidator = *userBefore, *liquidatorBefore
		for _, m := range marketsBefore {
			_ = a.markets.Put(m)
		}
		for _, p := range poolsBefore {
			_ = a.pools.Put(p)
		}
		return nil, fmt.Errorf("persist liquidation %s (%s): %w", rec.ID, flow, err)
	}

	switch {
	case !wasFlagged && user.BeingLiquidated:
		metrics.AccountsBeingLiquidated.Inc()
	case wasFlagged && !user.BeingLiquidated:
		metrics.AccountsBeingLiquidated.Dec()
	}
	return rec, nil
}
