package liquidation

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/hyperrisk/pkg/app/core"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/margin"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/market"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/pool"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/position"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

const (
	usdc    = uint16(0)
	sol     = uint16(1)
	solPerp = uint16(0)

	oneSOL  = 1_000_000_000
	oneUSDC = 1_000_000
)

var (
	userAddr       = common.HexToAddress("0x1111111111111111111111111111111111111111")
	liquidatorAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type env struct {
	markets *market.Registry
	pools   *pool.Registry
	prices  *oracle.Map
	ctrl    *Controller
}

// newEnv builds a USDC pool, a SOL pool at $50 and a 10% maintenance
// SOL-PERP market charging perpFee.
func newEnv(t *testing.T, perpFee uint32) *env {
	t.Helper()
	e := &env{
		markets: market.NewRegistry(),
		pools:   pool.NewRegistry(),
		prices:  oracle.NewMap(),
	}
	require.NoError(t, e.pools.Register(pool.DefaultUSDC))
	require.NoError(t, e.pools.Register(pool.DefaultSOL))

	m := market.DefaultSOLPerp
	m.MarginRatioInitial = 2000
	m.MarginRatioMaintenance = 1000
	m.LiquidationFee = perpFee
	require.NoError(t, e.markets.Register(m))

	require.NoError(t, e.prices.Set("USDC/USD", oracle.Quote{Price: 1_000_000}))
	require.NoError(t, e.prices.Set("SOL/USD", oracle.Quote{Price: 50_000_000}))

	e.ctrl = NewController(e.markets, e.pools, e.prices, position.Canceller{}, zaptest.NewLogger(t))
	return e
}

func (e *env) balance(t *testing.T, acc *account.Account, poolIndex uint16, amount uint64, bt account.BalanceType) {
	t.Helper()
	p, err := e.pools.Pool(poolIndex)
	require.NoError(t, err)
	entry, err := acc.ForceBalance(poolIndex, bt)
	require.NoError(t, err)
	require.NoError(t, pool.UpdateBalance(p, entry, fixed.NewUint(amount), bt))
	require.NoError(t, e.pools.Put(*p))
}

func (e *env) open(t *testing.T, acc *account.Account, base int64, quote uint64) {
	t.Helper()
	m, err := e.markets.Market(solPerp)
	require.NoError(t, err)
	pos, err := acc.ForcePosition(solPerp)
	require.NoError(t, err)
	_, err = position.Update(pos, m, position.Delta{BaseAssetAmount: fixed.NewInt(base), QuoteAssetAmount: fixed.NewUint(quote)})
	require.NoError(t, err)
	require.NoError(t, e.markets.Put(*m))
}

func (e *env) pnl(t *testing.T, acc *account.Account, delta int64) {
	t.Helper()
	m, err := e.markets.Market(solPerp)
	require.NoError(t, err)
	pos, err := acc.ForcePosition(solPerp)
	require.NoError(t, err)
	require.NoError(t, position.UpdateUnsettledPnl(pos, m, fixed.NewInt(delta)))
	require.NoError(t, e.markets.Put(*m))
}

func (e *env) health(t *testing.T, acc *account.Account) margin.Result {
	t.Helper()
	res, err := margin.NewCalculator(e.markets, e.pools, e.prices).Evaluate(acc, core.Maintenance)
	require.NoError(t, err)
	return res
}

// shortage is how far acc falls below maintenance, zero when it is healthy
func (e *env) shortage(t *testing.T, acc *account.Account) fixed.Uint {
	t.Helper()
	res := e.health(t, acc)
	if res.Sufficient() {
		return fixed.Uint{}
	}
	s, err := margin.Shortage(res.TotalCollateral, res.MarginRequirement)
	require.NoError(t, err)
	return s
}

func (e *env) tokens(t *testing.T, acc *account.Account, poolIndex uint16) (fixed.Uint, account.BalanceType) {
	t.Helper()
	p, err := e.pools.Pool(poolIndex)
	require.NoError(t, err)
	entry, err := acc.Balance(poolIndex)
	require.NoError(t, err)
	amount, err := pool.EntryTokenAmount(entry, p)
	require.NoError(t, err)
	return amount, entry.Type
}

// richLiquidator holds enough USDC to pass any initial margin check in these tests
func (e *env) richLiquidator(t *testing.T) *account.Account {
	liq := account.NewAccount(liquidatorAddr)
	e.balance(t, liq, usdc, 100_000*oneUSDC, account.Deposit)
	return liq
}

// pnlLiquidator backs its transfers with perp pnl alone and holds no balances
func (e *env) pnlLiquidator(t *testing.T) *account.Account {
	liq := account.NewAccount(liquidatorAddr)
	e.pnl(t, liq, 100_000*oneUSDC)
	require.Empty(t, liq.Balances)
	return liq
}

func noBuffer() Params { return Params{Now: 0, BufferRatio: 0} }

func bigCap() fixed.Uint { return fixed.MaxUint128() }
