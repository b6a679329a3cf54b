package fixed

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUintCheckedArithmetic(t *testing.T) {
	require := require.New(t)

	top := MaxUint128()
	_, err := top.Add(NewUint(1))
	require.ErrorIs(err, ErrArithmeticOverflow)

	_, err = NewUint(1).Sub(NewUint(2))
	require.ErrorIs(err, ErrArithmeticOverflow)

	_, err = top.Mul(NewUint(2))
	require.ErrorIs(err, ErrArithmeticOverflow)

	_, err = NewUint(1).Div(Uint{})
	require.ErrorIs(err, ErrDivisionByZero)

	v, err := NewUint(7).Mul(NewUint(6))
	require.NoError(err)
	require.Equal("42", v.String())
}

func TestDivRoundDirection(t *testing.T) {
	tests := []struct {
		name string
		a, b uint64
		mode Round
		want uint64
	}{
		{"exact down", 10, 5, RoundDown, 2},
		{"exact up", 10, 5, RoundUp, 2},
		{"truncate", 10, 3, RoundDown, 3},
		{"ceil", 10, 3, RoundUp, 4},
		{"zero numerator up", 0, 3, RoundUp, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewUint(tt.a).DivRound(NewUint(tt.b), tt.mode)
			require.NoError(t, err)
			require.True(t, got.Eq(NewUint(tt.want)), "got %s want %d", got, tt.want)
		})
	}
}

func TestMulDivUsesWideIntermediate(t *testing.T) {
	require := require.New(t)

	// max * 10 overflows 128 bits but max * 10 / 100 does not
	top := MaxUint128()
	got, err := top.MulDiv(NewUint(10), NewUint(100), RoundDown)
	require.NoError(err)
	want, err := top.Div(NewUint(10))
	require.NoError(err)
	require.True(got.Eq(want))

	_, err = top.MulDiv(NewUint(10), NewUint(1), RoundDown)
	require.ErrorIs(err, ErrArithmeticOverflow)
}

func TestIntSignHandling(t *testing.T) {
	require := require.New(t)

	a := NewInt(-7)
	b := NewInt(3)

	sum, err := a.Add(b)
	require.NoError(err)
	require.Equal("-4", sum.String())

	diff, err := b.Sub(a)
	require.NoError(err)
	require.Equal("10", diff.String())

	prod, err := a.Mul(b)
	require.NoError(err)
	require.Equal("-21", prod.String())

	q, err := a.Quo(b)
	require.NoError(err)
	require.Equal("-2", q.String())

	floor, err := a.QuoFloor(NewUint(3))
	require.NoError(err)
	require.Equal("-3", floor.String())

	zero, err := a.Add(NewInt(7))
	require.NoError(err)
	require.False(zero.IsNegative())
	require.Equal(0, zero.Sign())

	require.True(a.Lt(b))
	require.True(NewInt(-10).Lt(NewInt(-2)))

	_, err = a.Unsigned()
	require.ErrorIs(err, ErrNegativeValue)
}

func TestIntBounds(t *testing.T) {
	require := require.New(t)

	_, err := MaxUint128().Signed()
	require.ErrorIs(err, ErrArithmeticOverflow)

	v, err := NewInt(-1 << 63).Int64()
	require.NoError(err)
	require.Equal(int64(-1<<63), v)
}

func TestRescale(t *testing.T) {
	require := require.New(t)

	up, err := Rescale(NewUint(15), 6, 9, RoundDown)
	require.NoError(err)
	require.True(up.Eq(NewUint(15_000)))

	down, err := Rescale(NewUint(1_500_001), 9, 6, RoundDown)
	require.NoError(err)
	require.True(down.Eq(NewUint(1_500)))

	ceil, err := Rescale(NewUint(1_500_001), 9, 6, RoundUp)
	require.NoError(err)
	require.True(ceil.Eq(NewUint(1_501)))
}

func TestJSONRoundTrip(t *testing.T) {
	require := require.New(t)

	type record struct {
		U Uint `json:"u"`
		I Int  `json:"i"`
	}
	in := record{U: MaxUint128(), I: NewInt(-123456789)}
	data, err := json.Marshal(in)
	require.NoError(err)

	var out record
	require.NoError(json.Unmarshal(data, &out))
	require.True(out.U.Eq(in.U))
	require.True(out.I.Eq(in.I))
}

func TestSqrtAndMinMax(t *testing.T) {
	require := require.New(t)

	require.True(Sqrt(NewUint(99)).Eq(NewUint(9)))
	require.True(MinUint(NewUint(5), NewUint(2), NewUint(9)).Eq(NewUint(2)))
	require.True(MaxUint(NewUint(5), NewUint(2), NewUint(9)).Eq(NewUint(9)))
}
