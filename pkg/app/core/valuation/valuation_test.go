package valuation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/pool"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

func TestTokenValue(t *testing.T) {
	tests := []struct {
		name     string
		amount   int64
		decimals uint8
		price    int64
		want     string
	}{
		{"zero short-circuits", 0, 9, -1, "0"},
		{"one SOL at $50", 1_000_000_000, 9, 50 * fixed.PricePrecision, "50000000"},
		{"borrow is negative", -2_000_000_000, 9, 50 * fixed.PricePrecision, "-100000000"},
		{"usdc at par", 5_000_000, 6, fixed.PricePrecision, "5000000"},
		{"asset dust rounds down", 1, 9, 1_500_000, "0"},
		{"borrow dust rounds away from zero", -1, 9, 1_500_000, "-1"},
		{"fractional borrow rounds away from zero", -3, 3, 1_000_001, "-3001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TokenValue(fixed.NewInt(tt.amount), tt.decimals, tt.price)
			require.NoError(t, err)
			require.Equal(t, tt.want, got.String())
		})
	}
}

func TestStrictTokenValueIsConservative(t *testing.T) {
	require := require.New(t)
	q := oracle.Quote{Price: 50 * fixed.PricePrecision, TWAP: 40 * fixed.PricePrecision}
	one := fixed.NewInt(1_000_000_000)

	asset, err := StrictTokenValue(one, 9, q)
	require.NoError(err)
	require.Equal("40000000", asset.String())

	liability, err := StrictTokenValue(one.Neg(), 9, q)
	require.NoError(err)
	require.Equal("-50000000", liability.String())

	spotOnly, err := StrictTokenValue(one, 9, oracle.Quote{Price: 50 * fixed.PricePrecision})
	require.NoError(err)
	require.Equal("50000000", spotOnly.String())

	_, err = StrictTokenValue(one, 9, oracle.Quote{Price: 50 * fixed.PricePrecision, TWAP: -1})
	require.ErrorIs(err, ErrInvalidTWAP)
}

func TestBaseAssetValue(t *testing.T) {
	v, err := BaseAssetValue(fixed.NewInt(-20*fixed.BasePrecision), 50*fixed.PricePrecision)
	require.NoError(t, err)
	require.Equal(t, "1000000000", v.String()) // $1000
}

func TestBalanceValue(t *testing.T) {
	require := require.New(t)
	p := pool.DefaultSOL
	e := account.BalanceEntry{PoolIndex: p.Index}
	require.NoError(pool.UpdateBalance(&p, &e, fixed.NewUint(3*fixed.BasePrecision), account.Borrow))

	amount, value, err := BalanceValue(&e, &p, oracle.Quote{Price: 10 * fixed.PricePrecision}, false)
	require.NoError(err)
	require.Equal("3000000000", amount.String())
	require.Equal("-30000000", value.String())
}
