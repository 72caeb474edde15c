// Package fixed implements deterministic signed fixed-point arithmetic with
// Scale fractional digits. Every result is truncated toward zero and checked
// against the signed 256-bit range; nothing wraps or silently saturates.
package fixed

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Scale is the number of fractional decimal digits carried by every Fixed.
const Scale = 18

var (
	// ErrDomain is returned when an operand lies outside the function domain
	// (square root of a negative, division by zero).
	ErrDomain = errors.New("fixed: operand outside function domain")

	// ErrOverflow is returned when a result cannot be represented.
	ErrOverflow = errors.New("fixed: result outside representable range")
)

var (
	// ln((2^255 - 1) / 10^18) is just above 135.30.
	maxExpArg = decimal.RequireFromString("135.3")
	// e^-42 is below 10^-18 and truncates to zero.
	minExpArg = decimal.NewFromInt(-42)
)

// Fixed is an immutable fixed-point number. The zero value is 0.
type Fixed struct {
	d decimal.Decimal
}

var (
	Zero = Fixed{}
	One  = Fixed{d: decimal.NewFromInt(1)}
)

// FromInt converts an integer without loss.
func FromInt(i int64) Fixed {
	return Fixed{d: decimal.NewFromInt(i)}
}

// FromUint64 converts an unsigned integer without loss.
func FromUint64(u uint64) Fixed {
	return Fixed{d: decimal.NewFromBigInt(new(big.Int).SetUint64(u), 0)}
}

// FromDecimal truncates d to Scale digits and range-checks it.
func FromDecimal(d decimal.Decimal) (Fixed, error) {
	return checked(d)
}

// Parse reads a decimal string such as "1000" or "909.0909".
func Parse(s string) (Fixed, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("fixed: parse %q: %w", s, err)
	}
	return checked(d)
}

// MustParse is Parse for constants and tests. Panics on error.
func MustParse(s string) Fixed {
	f, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return f
}

func checked(d decimal.Decimal) (Fixed, error) {
	d = d.Truncate(Scale)
	scaled := d.Shift(Scale).BigInt()
	scaled.Abs(scaled)
	u, overflow := uint256.FromBig(scaled)
	if overflow || u.BitLen() > 255 {
		return Zero, fmt.Errorf("%s: %w", d.String(), ErrOverflow)
	}
	return Fixed{d: d}, nil
}

// Add returns a + b.
func (a Fixed) Add(b Fixed) (Fixed, error) {
	return checked(a.d.Add(b.d))
}

// Sub returns a - b.
func (a Fixed) Sub(b Fixed) (Fixed, error) {
	return checked(a.d.Sub(b.d))
}

// Mul returns a * b truncated to Scale digits.
func (a Fixed) Mul(b Fixed) (Fixed, error) {
	return checked(a.d.Mul(b.d))
}

// Div returns a / b truncated toward zero to Scale digits.
func (a Fixed) Div(b Fixed) (Fixed, error) {
	if b.IsZero() {
		return Zero, fmt.Errorf("%s / 0: %w", a, ErrDomain)
	}
	q, _ := a.d.QuoRem(b.d, Scale)
	return checked(q)
}

// Sqrt returns the square root of a, truncated to Scale digits.
func (a Fixed) Sqrt() (Fixed, error) {
	if a.d.Sign() < 0 {
		return Zero, fmt.Errorf("sqrt(%s): %w", a, ErrDomain)
	}
	// a*10^36 is an integer because a carries at most Scale digits.
	n := a.d.Shift(2 * Scale).BigInt()
	r := new(big.Int).Sqrt(n)
	return Fixed{d: decimal.NewFromBigInt(r, -Scale)}, nil
}

// Exp returns e^a.
func (a Fixed) Exp() (Fixed, error) {
	switch {
	case a.d.GreaterThan(maxExpArg):
		return Zero, fmt.Errorf("exp(%s): %w", a, ErrOverflow)
	case a.d.LessThan(minExpArg):
		return Zero, nil
	case a.d.Sign() < 0:
		pos, err := a.Neg().Exp()
		if err != nil {
			return Zero, err
		}
		return One.Div(pos)
	}
	r, err := a.d.ExpTaylor(Scale + 2)
	if err != nil {
		return Zero, fmt.Errorf("exp(%s): %w", a, err)
	}
	return checked(r)
}

func (a Fixed) Neg() Fixed { return Fixed{d: a.d.Neg()} }
func (a Fixed) Abs() Fixed { return Fixed{d: a.d.Abs()} }

func (a Fixed) Cmp(b Fixed) int { return a.d.Cmp(b.d) }
func (a Fixed) Equal(b Fixed) bool { return a.d.Equal(b.d) }
func (a Fixed) LessThan(b Fixed) bool { return a.d.LessThan(b.d) }
func (a Fixed) GreaterThan(b Fixed) bool { return a.d.GreaterThan(b.d) }

func (a Fixed) Sign() int { return a.d.Sign() }
func (a Fixed) IsZero() bool { return a.d.IsZero() }
func (a Fixed) IsPositive() bool { return a.d.IsPositive() }
func (a Fixed) IsNegative() bool { return a.d.IsNegative() }

// Min returns the smaller of a and b.
func Min(a, b Fixed) Fixed {
	if a.d.LessThan(b.d) {
		return a
	}
	return b
}

// Decimal exposes the underlying value.
func (a Fixed) Decimal() decimal.Decimal { return a.d }

// Float64 is lossy; use it for metrics and diagnostics only.
func (a Fixed) Float64() float64 { return a.d.InexactFloat64() }

func (a Fixed) String() string { return a.d.String() }

// MarshalText implements encoding.TextMarshaler.
func (a Fixed) MarshalText() ([]byte, error) {
	return []byte(a.d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Fixed) UnmarshalText(text []byte) error {
	f, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = f
	return nil
}

// MarshalJSON encodes the value as a quoted decimal string.
func (a Fixed) MarshalJSON() ([]byte, error) {
	return a.d.MarshalJSON()
}

// UnmarshalJSON accepts quoted or bare decimal numbers.
func (a *Fixed) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	f, err := checked(d)
	if err != nil {
		return err
	}
	*a = f
	return nil
}

// Value implements driver.Valuer.
func (a Fixed) Value() (driver.Value, error) {
	return a.d.String(), nil
}

// Scan implements sql.Scanner.
func (a *Fixed) Scan(value interface{}) error {
	var d decimal.Decimal
	if err := d.Scan(value); err != nil {
		return err
	}
	f, err := checked(d)
	if err != nil {
		return err
	}
	*a = f
	return nil
}
