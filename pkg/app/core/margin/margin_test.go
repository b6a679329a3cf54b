package margin

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperrisk/pkg/app/core"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/market"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/pool"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/position"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

type fixture struct {
	markets *market.Registry
	pools   *pool.Registry
	prices  *oracle.Map
	calc    *Calculator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		markets: market.NewRegistry(),
		pools:   pool.NewRegistry(),
		prices:  oracle.NewMap(),
	}
	require.NoError(t, f.pools.Register(pool.DefaultUSDC))
	require.NoError(t, f.pools.Register(pool.DefaultSOL))
	require.NoError(t, f.markets.Register(market.DefaultSOLPerp))
	require.NoError(t, f.prices.Set("USDC/USD", oracle.Quote{Price: 1_000_000}))
	require.NoError(t, f.prices.Set("SOL/USD", oracle.Quote{Price: 50_000_000}))
	f.calc = NewCalculator(f.markets, f.pools, f.prices)
	return f
}

func (f *fixture) balance(t *testing.T, acc *account.Account, poolIndex uint16, amount uint64, bt account.BalanceType) {
	t.Helper()
	p, err := f.pools.Pool(poolIndex)
	require.NoError(t, err)
	e, err := acc.ForceBalance(poolIndex, bt)
	require.NoError(t, err)
	require.NoError(t, pool.UpdateBalance(p, e, fixed.NewUint(amount), bt))
	require.NoError(t, f.pools.Put(*p))
}

func (f *fixture) open(t *testing.T, acc *account.Account, base int64, quote uint64) {
	t.Helper()
	m, err := f.markets.Market(0)
	require.NoError(t, err)
	pos, err := acc.ForcePosition(0)
	require.NoError(t, err)
	_, err = position.Update(pos, m, position.Delta{BaseAssetAmount: fixed.NewInt(base), QuoteAssetAmount: fixed.NewUint(quote)})
	require.NoError(t, err)
	require.NoError(t, f.markets.Put(*m))
}

func TestEvaluateEmptyAccount(t *testing.T) {
	f := newFixture(t)
	res, err := f.calc.Evaluate(account.NewAccount(common.HexToAddress("0x01")), core.Maintenance)
	require.NoError(t, err)
	require.True(t, res.MarginRequirement.IsZero())
	require.True(t, res.TotalCollateral.IsZero())
	require.True(t, res.Sufficient())
}

func TestEvaluatePerpPosition(t *testing.T) {
	f := newFixture(t)
	acc := account.NewAccount(common.HexToAddress("0x01"))
	f.balance(t, acc, 0, 1_000_000_000, account.Deposit)
	f.open(t, acc, 10_000_000_000, 500_000_000) // 10 SOL at 50

	tests := []struct {
		tier        core.Tier
		price       int64
		requirement string
		collateral  string
	}{
		{core.Maintenance, 50_000_000, "25000000", "1000000000"},
		{core.Initial, 50_000_000, "50000000", "1000000000"},
		// +100 pnl, weighted 100% at maintenance and 95% at initial
		{core.Maintenance, 60_000_000, "30000000", "1100000000"},
		{core.Initial, 60_000_000, "60000000", "1095000000"},
		// losses are never weighted
		{core.Maintenance, 40_000_000, "20000000", "900000000"},
	}
	for _, tt := range tests {
		t.Run(tt.tier.String(), func(t *testing.T) {
			require.NoError(t, f.prices.Set("SOL/USD", oracle.Quote{Price: tt.price}))
			res, err := f.calc.Evaluate(acc, tt.tier)
			require.NoError(t, err)
			require.Equal(t, tt.requirement, res.MarginRequirement.String())
			require.Equal(t, tt.collateral, res.TotalCollateral.String())
		})
	}
}

func TestEvaluateBorrow(t *testing.T) {
	f := newFixture(t)
	acc := account.NewAccount(common.HexToAddress("0x01"))
	f.balance(t, acc, 0, 100_000_000, account.Deposit)
	f.balance(t, acc, 1, 1_000_000_000, account.Borrow) // 1 SOL = 50 USDC

	res, err := f.calc.Evaluate(acc, core.Maintenance)
	require.NoError(t, err)
	require.Equal(t, "55000000", res.MarginRequirement.String())
	require.Equal(t, "100000000", res.TotalCollateral.String())

	res, err = f.calc.Evaluate(acc, core.Initial)
	require.NoError(t, err)
	require.Equal(t, "60000000", res.MarginRequirement.String())

	ok, err := f.calc.MeetsInitialMargin(acc)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvaluateStrictPricingAtInitial(t *testing.T) {
	f := newFixture(t)
	acc := account.NewAccount(common.HexToAddress("0x01"))
	f.balance(t, acc, 1, 1_000_000_000, account.Deposit)
	require.NoError(t, f.prices.Set("SOL/USD", oracle.Quote{Price: 50_000_000, TWAP: 40_000_000}))

	res, err := f.calc.Evaluate(acc, core.Maintenance)
	require.NoError(t, err)
	require.Equal(t, "45000000", res.TotalCollateral.String()) // 50 * 90%

	res, err = f.calc.Evaluate(acc, core.Initial)
	require.NoError(t, err)
	require.Equal(t, "32000000", res.TotalCollateral.String()) // 40 * 80%
}

func TestEvaluateRestingOrders(t *testing.T) {
	f := newFixture(t)
	acc := account.NewAccount(common.HexToAddress("0x01"))
	_, err := position.PlaceOrder(acc, account.Order{
		MarketIndex:     0,
		MarketType:      core.Perp,
		Direction:       core.Short,
		BaseAssetAmount: 2_000_000_000,
		Price:           50_000_000,
	})
	require.NoError(t, err)

	res, err := f.calc.Evaluate(acc, core.Maintenance)
	require.NoError(t, err)
	// 2 SOL worst case at 50, 5%
	require.Equal(t, "5000000", res.MarginRequirement.String())
	require.False(t, res.Sufficient())

	ok, err := f.calc.MeetsMaintenanceMargin(acc)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvaluateMissingPrice(t *testing.T) {
	f := newFixture(t)
	acc := account.NewAccount(common.HexToAddress("0x01"))
	f.balance(t, acc, 0, 1, account.Deposit)

	empty := NewCalculator(f.markets, f.pools, oracle.NewMap())
	_, err := empty.Evaluate(acc, core.Maintenance)
	require.ErrorIs(t, err, oracle.ErrPriceNotFound)
}

func TestEvaluateWithBuffer(t *testing.T) {
	f := newFixture(t)
	acc := account.NewAccount(common.HexToAddress("0x01"))
	f.balance(t, acc, 0, 1_000_000_000, account.Deposit)
	f.open(t, acc, 10_000_000_000, 500_000_000)

	res, buffered, err := f.calc.EvaluateWithBuffer(acc, 200)
	require.NoError(t, err)
	require.Equal(t, "25000000", res.MarginRequirement.String())
	require.Equal(t, "25500000", buffered.String())
}

func TestCoversAndShortage(t *testing.T) {
	require.True(t, Covers(fixed.NewInt(10), fixed.NewUint(10)))
	require.False(t, Covers(fixed.NewInt(9), fixed.NewUint(10)))
	require.False(t, Covers(fixed.NewInt(-1), fixed.NewUint(0)))

	s, err := Shortage(fixed.NewInt(900), fixed.NewUint(1000))
	require.NoError(t, err)
	require.Equal(t, "100", s.String())

	s, err = Shortage(fixed.NewInt(-50), fixed.NewUint(0))
	require.NoError(t, err)
	require.Equal(t, "50", s.String())

	b, err := BufferedRequirement(fixed.NewUint(1_000), 200)
	require.NoError(t, err)
	require.Equal(t, "1020", b.String())

	b, err = BufferedRequirement(fixed.NewUint(1), 1)
	require.NoError(t, err)
	require.Equal(t, "2", b.String())
}
