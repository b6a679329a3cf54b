package pool

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

const usdc = 1_000_000 // one token at 6 decimals

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	p := DefaultUSDC
	p.LastInterestTs = 1_000
	require.NoError(t, p.Validate())
	return &p
}

// fund seeds a pool with deposits and borrows through the balance mechanics
func fund(t *testing.T, p *Pool, deposits, borrows uint64) {
	t.Helper()
	dep := account.BalanceEntry{PoolIndex: p.Index}
	require.NoError(t, UpdateBalance(p, &dep, fixed.NewUint(deposits), account.Deposit))
	if borrows > 0 {
		bor := account.BalanceEntry{PoolIndex: p.Index}
		require.NoError(t, UpdateBalance(p, &bor, fixed.NewUint(borrows), account.Borrow))
	}
}

func TestUtilization(t *testing.T) {
	tests := []struct {
		name              string
		deposits, borrows uint64
		want              uint64
	}{
		{"empty pool", 0, 0, 0},
		{"deposits only", 100, 0, 0},
		{"borrows without deposits saturate", 0, 100, fixed.SpotUtilizationPrecision},
		{"half", 100, 50, 500_000},
		{"over-borrowed clamps", 100, 150, fixed.SpotUtilizationPrecision},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Utilization(fixed.NewUint(tt.deposits), fixed.NewUint(tt.borrows))
			require.NoError(t, err)
			require.True(t, got.Eq(fixed.NewUint(tt.want)), "got %s", got)
		})
	}
}

func TestBorrowRateCurve(t *testing.T) {
	p := newTestPool(t) // optimal 80% at 10%, max 100%
	tests := []struct {
		util uint64
		want uint64
	}{
		{0, 0},
		{400_000, 50_000},
		{800_000, 100_000},
		{900_000, 550_000},
		{1_000_000, 1_000_000},
	}
	for _, tt := range tests {
		got, err := p.BorrowRate(fixed.NewUint(tt.util))
		require.NoError(t, err)
		require.True(t, got.Eq(fixed.NewUint(tt.want)), "util %d: got %s want %d", tt.util, got, tt.want)
	}
}

func TestZeroUtilizationAccruesNothing(t *testing.T) {
	require := require.New(t)
	p := newTestPool(t)
	fund(t, p, 1_000*usdc, 0)

	depositIndex, borrowIndex := p.CumulativeDepositInterest, p.CumulativeBorrowInterest
	acc, err := p.UpdateCumulativeInterest(p.LastInterestTs + fixed.OneYear)
	require.NoError(err)
	require.True(acc.BorrowInterest.IsZero())
	require.True(acc.DepositInterest.IsZero())
	require.True(p.CumulativeDepositInterest.Eq(depositIndex))
	require.True(p.CumulativeBorrowInterest.Eq(borrowIndex))
}

func TestOneYearAccrual(t *testing.T) {
	require := require.New(t)
	p := newTestPool(t)
	fund(t, p, 1_000*usdc, 500*usdc) // 50% utilization -> 6.25% borrow rate

	acc, err := p.UpdateCumulativeInterest(p.LastInterestTs + fixed.OneYear)
	require.NoError(err)
	require.Equal("625000001", acc.BorrowInterest.String())
	require.Equal("312500000", acc.DepositInterest.String())
	require.Equal("10625000001", p.CumulativeBorrowInterest.String())
	require.Equal("10312500000", p.CumulativeDepositInterest.String())

	// a stale timestamp never rolls the pool back
	before := *p
	_, err = p.UpdateCumulativeInterest(p.LastInterestTs - 10)
	require.NoError(err)
	require.Equal(before, *p)
}

func TestIndicesNeverDecrease(t *testing.T) {
	require := require.New(t)
	p := newTestPool(t)
	fund(t, p, 10_000*usdc, 7_000*usdc)

	rng := rand.New(rand.NewSource(7))
	now := p.LastInterestTs
	for i := 0; i < 200; i++ {
		now += rng.Int63n(86_400) - 3_600
		prevDeposit, prevBorrow := p.CumulativeDepositInterest, p.CumulativeBorrowInterest
		_, err := p.UpdateCumulativeInterest(now)
		require.NoError(err)
		require.True(p.CumulativeDepositInterest.Gte(prevDeposit))
		require.True(p.CumulativeBorrowInterest.Gte(prevBorrow))

		u, err := p.Utilization()
		require.NoError(err)
		require.True(u.Lte(fixed.NewUint(fixed.SpotUtilizationPrecision)))
	}
}

func TestUpdateBalanceFlipsType(t *testing.T) {
	require := require.New(t)
	p := newTestPool(t)

	e := account.BalanceEntry{PoolIndex: p.Index}
	require.NoError(UpdateBalance(p, &e, fixed.NewUint(100*usdc), account.Deposit))
	require.Equal(account.Deposit, e.Type)

	// partial withdrawal stays a deposit
	require.NoError(UpdateBalance(p, &e, fixed.NewUint(40*usdc), account.Borrow))
	require.Equal(account.Deposit, e.Type)
	amt, err := EntryTokenAmount(&e, p)
	require.NoError(err)
	require.True(amt.Eq(fixed.NewUint(60*usdc)), "got %s", amt)

	// overdraw flips into a borrow for the remainder
	require.NoError(UpdateBalance(p, &e, fixed.NewUint(110*usdc), account.Borrow))
	require.Equal(account.Borrow, e.Type)
	amt, err = EntryTokenAmount(&e, p)
	require.NoError(err)
	require.True(amt.Eq(fixed.NewUint(50*usdc)), "got %s", amt)
	require.True(p.DepositBalance.IsZero())
	require.True(p.BorrowBalance.Eq(e.Balance))
}

func TestRegistryReturnsCopies(t *testing.T) {
	require := require.New(t)
	r := NewRegistry()
	require.NoError(r.Register(DefaultUSDC))
	require.Error(r.Register(DefaultUSDC))

	p, err := r.Pool(DefaultUSDC.Index)
	require.NoError(err)
	p.LiquidationFee = 42

	again, err := r.Pool(DefaultUSDC.Index)
	require.NoError(err)
	require.Equal(uint32(0), again.LiquidationFee)

	require.NoError(r.Put(*p))
	again, err = r.Pool(DefaultUSDC.Index)
	require.NoError(err)
	require.Equal(uint32(42), again.LiquidationFee)

	_, err = r.Pool(99)
	require.ErrorIs(err, ErrPoolNotFound)
}
