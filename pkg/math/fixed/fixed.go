package fixed

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

var (
	ErrArithmeticOverflow = errors.New("fixed: arithmetic overflow")
	ErrDivisionByZero     = errors.New("fixed: division by zero")
	ErrNegativeValue      = errors.New("fixed: negative value where unsigned expected")
	ErrInvalidNumber      = errors.New("fixed: invalid number")
)

const (
	uintBits = 128
	intBits  = 127
)

// Round selects the direction of a lossy division.
type Round uint8

const (
	RoundDown Round = iota // truncate, used for amounts credited
	RoundUp                // ceil, used for amounts owed
)

func (r Round) String() string {
	switch r {
	case RoundDown:
		return "down"
	case RoundUp:
		return "up"
	default:
		return "unknown"
	}
}

// Uint is an unsigned fixed-point quantity bounded to 128 bits.
// The zero value is 0 and Uint values are safe to copy.
type Uint struct {
	v uint256.Int
}

// NewUint returns v as a Uint.
func NewUint(v uint64) Uint {
	var u Uint
	u.v.SetUint64(v)
	return u
}

// MaxUint128 is the largest representable Uint. Sizing helpers return it to
// mean "no bound".
func MaxUint128() Uint {
	var u Uint
	u.v[0] = ^uint64(0)
	u.v[1] = ^uint64(0)
	return u
}

// ParseUint parses a base-10 string.
func ParseUint(s string) (Uint, error) {
	var u Uint
	if err := u.v.SetFromDecimal(s); err != nil {
		return Uint{}, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return u.check(uintBits)
}

func (a Uint) check(bits int) (Uint, error) {
	if a.v.BitLen() > bits {
		return Uint{}, ErrArithmeticOverflow
	}
	return a, nil
}

func (a Uint) Add(b Uint) (Uint, error) {
	var z Uint
	if _, overflow := z.v.AddOverflow(&a.v, &b.v); overflow {
		return Uint{}, ErrArithmeticOverflow
	}
	return z.check(uintBits)
}

func (a Uint) Sub(b Uint) (Uint, error) {
	var z Uint
	if _, underflow := z.v.SubOverflow(&a.v, &b.v); underflow {
		return Uint{}, ErrArithmeticOverflow
	}
	return z, nil
}

func (a Uint) Mul(b Uint) (Uint, error) {
	var z Uint
	if _, overflow := z.v.MulOverflow(&a.v, &b.v); overflow {
		return Uint{}, ErrArithmeticOverflow
	}
	return z.check(uintBits)
}

// Div truncates.
func (a Uint) Div(b Uint) (Uint, error) {
	return a.DivRound(b, RoundDown)
}

// DivRound divides and rounds the quotient in the given direction.
func (a Uint) DivRound(b Uint, mode Round) (Uint, error) {
	if b.IsZero() {
		return Uint{}, ErrDivisionByZero
	}
	var q, r Uint
	q.v.Div(&a.v, &b.v)
	if mode == RoundUp {
		r.v.Mod(&a.v, &b.v)
		if !r.IsZero() {
			return q.Add(NewUint(1))
		}
	}
	return q, nil
}

// MulDiv computes a*b/d. The intermediate product may use the full 256 bits,
// only the quotient must fit.
func (a Uint) MulDiv(b, d Uint, mode Round) (Uint, error) {
	if d.IsZero() {
		return Uint{}, ErrDivisionByZero
	}
	var p Uint
	if _, overflow := p.v.MulOverflow(&a.v, &b.v); overflow {
		return Uint{}, ErrArithmeticOverflow
	}
	var q, r Uint
	q.v.Div(&p.v, &d.v)
	if mode == RoundUp {
		r.v.Mod(&p.v, &d.v)
		if !r.IsZero() {
			var err error
			if q, err = q.Add(NewUint(1)); err != nil {
				return Uint{}, err
			}
		}
	}
	return q.check(uintBits)
}

func (a Uint) Cmp(b Uint) int  { return a.v.Cmp(&b.v) }
func (a Uint) Lt(b Uint) bool  { return a.Cmp(b) < 0 }
func (a Uint) Gt(b Uint) bool  { return a.Cmp(b) > 0 }
func (a Uint) Gte(b Uint) bool { return a.Cmp(b) >= 0 }
func (a Uint) Lte(b Uint) bool { return a.Cmp(b) <= 0 }
func (a Uint) Eq(b Uint) bool  { return a.Cmp(b) == 0 }
func (a Uint) IsZero() bool    { return a.v.IsZero() }

// Uint64 narrows a to 64 bits.
func (a Uint) Uint64() (uint64, error) {
	if !a.v.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return a.v.Uint64(), nil
}

// Signed converts a to an Int.
func (a Uint) Signed() (Int, error) {
	if a.v.BitLen() > intBits {
		return Int{}, ErrArithmeticOverflow
	}
	return Int{mag: a}, nil
}

func (a Uint) String() string { return a.v.Dec() }

func (a Uint) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *Uint) UnmarshalJSON(data []byte) error {
	u, err := ParseUint(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*a = u
	return nil
}

// MinUint returns the smallest of the given values.
func MinUint(first Uint, rest ...Uint) Uint {
	m := first
	for _, v := range rest {
		if v.Lt(m) {
			m = v
		}
	}
	return m
}

// MaxUint returns the largest of the given values.
func MaxUint(first Uint, rest ...Uint) Uint {
	m := first
	for _, v := range rest {
		if v.Gt(m) {
			m = v
		}
	}
	return m
}

// Sqrt returns floor(sqrt(a)).
func Sqrt(a Uint) Uint {
	var z Uint
	z.v.Sqrt(&a.v)
	return z
}

// Pow10 returns 10^n.
func Pow10(n uint8) (Uint, error) {
	out := NewUint(1)
	ten := NewUint(10)
	for i := uint8(0); i < n; i++ {
		var err error
		if out, err = out.Mul(ten); err != nil {
			return Uint{}, err
		}
	}
	return out, nil
}

// Rescale converts amount from one decimal count to another, rounding in the
// given direction when precision is lost.
func Rescale(amount Uint, fromDecimals, toDecimals uint8, mode Round) (Uint, error) {
	switch {
	case toDecimals == fromDecimals:
		return amount, nil
	case toDecimals > fromDecimals:
		scale, err := Pow10(toDecimals - fromDecimals)
		if err != nil {
			return Uint{}, err
		}
		return amount.Mul(scale)
	default:
		scale, err := Pow10(fromDecimals - toDecimals)
		if err != nil {
			return Uint{}, err
		}
		return amount.DivRound(scale, mode)
	}
}
