package fixed

import (
	"strings"
)

// Int is a signed fixed-point quantity bounded to the signed 128-bit range.
// It is stored as sign and magnitude; zero is never negative.
type Int struct {
	neg bool
	mag Uint
}

// NewInt returns v as an Int.
func NewInt(v int64) Int {
	if v < 0 {
		// two's complement negation is exact for math.MinInt64 as uint64
		return Int{neg: true, mag: NewUint(uint64(-(v + 1)) + 1)}
	}
	return Int{mag: NewUint(uint64(v))}
}

// ParseInt parses a base-10 string with an optional leading '-'.
func ParseInt(s string) (Int, error) {
	neg := strings.HasPrefix(s, "-")
	mag, err := ParseUint(strings.TrimPrefix(s, "-"))
	if err != nil {
		return Int{}, err
	}
	return newSigned(neg, mag)
}

func newSigned(neg bool, mag Uint) (Int, error) {
	if mag.v.BitLen() > intBits {
		return Int{}, ErrArithmeticOverflow
	}
	if mag.IsZero() {
		neg = false
	}
	return Int{neg: neg, mag: mag}, nil
}

func (a Int) Add(b Int) (Int, error) {
	if a.neg == b.neg {
		mag, err := a.mag.Add(b.mag)
		if err != nil {
			return Int{}, err
		}
		return newSigned(a.neg, mag)
	}
	if a.mag.Gte(b.mag) {
		mag, _ := a.mag.Sub(b.mag)
		return newSigned(a.neg, mag)
	}
	mag, _ := b.mag.Sub(a.mag)
	return newSigned(b.neg, mag)
}

func (a Int) Sub(b Int) (Int, error) {
	return a.Add(b.Neg())
}

func (a Int) Mul(b Int) (Int, error) {
	mag, err := a.mag.Mul(b.mag)
	if err != nil {
		return Int{}, err
	}
	return newSigned(a.neg != b.neg, mag)
}

// MulUint multiplies by an unsigned factor.
func (a Int) MulUint(b Uint) (Int, error) {
	mag, err := a.mag.Mul(b)
	if err != nil {
		return Int{}, err
	}
	return newSigned(a.neg, mag)
}

// Quo divides truncating toward zero.
func (a Int) Quo(b Int) (Int, error) {
	mag, err := a.mag.Div(b.mag)
	if err != nil {
		return Int{}, err
	}
	return newSigned(a.neg != b.neg, mag)
}

// QuoUint divides by an unsigned divisor truncating toward zero.
func (a Int) QuoUint(b Uint) (Int, error) {
	mag, err := a.mag.Div(b)
	if err != nil {
		return Int{}, err
	}
	return newSigned(a.neg, mag)
}

// QuoFloor divides by an unsigned divisor rounding toward negative infinity,
// so a negative result (an amount owed) grows in magnitude.
func (a Int) QuoFloor(b Uint) (Int, error) {
	mode := RoundDown
	if a.neg {
		mode = RoundUp
	}
	mag, err := a.mag.DivRound(b, mode)
	if err != nil {
		return Int{}, err
	}
	return newSigned(a.neg, mag)
}

// MulDiv computes a*b/d with the magnitude rounded in the given direction.
func (a Int) MulDiv(b, d Uint, mode Round) (Int, error) {
	mag, err := a.mag.MulDiv(b, d, mode)
	if err != nil {
		return Int{}, err
	}
	return newSigned(a.neg, mag)
}

func (a Int) Neg() Int {
	if a.mag.IsZero() {
		return a
	}
	return Int{neg: !a.neg, mag: a.mag}
}

// Abs returns the magnitude.
func (a Int) Abs() Uint { return a.mag }

func (a Int) Sign() int {
	switch {
	case a.mag.IsZero():
		return 0
	case a.neg:
		return -1
	default:
		return 1
	}
}

func (a Int) IsZero() bool     { return a.mag.IsZero() }
func (a Int) IsNegative() bool { return a.neg }
func (a Int) IsPositive() bool { return !a.neg && !a.mag.IsZero() }

func (a Int) Cmp(b Int) int {
	switch {
	case a.neg && !b.neg:
		return -1
	case !a.neg && b.neg:
		return 1
	case a.neg:
		return b.mag.Cmp(a.mag)
	default:
		return a.mag.Cmp(b.mag)
	}
}

func (a Int) Lt(b Int) bool  { return a.Cmp(b) < 0 }
func (a Int) Gt(b Int) bool  { return a.Cmp(b) > 0 }
func (a Int) Gte(b Int) bool { return a.Cmp(b) >= 0 }
func (a Int) Eq(b Int) bool  { return a.Cmp(b) == 0 }

// Unsigned converts a non-negative Int to a Uint.
func (a Int) Unsigned() (Uint, error) {
	if a.neg {
		return Uint{}, ErrNegativeValue
	}
	return a.mag, nil
}

// Int64 narrows a to 64 bits.
func (a Int) Int64() (int64, error) {
	m, err := a.mag.Uint64()
	if err != nil {
		return 0, err
	}
	if a.neg {
		if m > 1<<63 {
			return 0, ErrArithmeticOverflow
		}
		return -int64(m-1) - 1, nil
	}
	if m > 1<<63-1 {
		return 0, ErrArithmeticOverflow
	}
	return int64(m), nil
}

func (a Int) String() string {
	if a.neg {
		return "-" + a.mag.String()
	}
	return a.mag.String()
}

func (a Int) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *Int) UnmarshalJSON(data []byte) error {
	v, err := ParseInt(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// MinInt returns the smaller of a and b.
func MinInt(a, b Int) Int {
	if a.Lt(b) {
		return a
	}
	return b
}

// MaxInt returns the larger of a and b.
func MaxInt(a, b Int) Int {
	if a.Gt(b) {
		return a
	}
	return b
}
