// Package fixedpoint holds prices and amounts as integers scaled by 10^18.
//
// Every monetary and quantity field of the engine is an Int. Arithmetic never
// goes through binary floating point; decimal.Decimal is only used at the
// human-facing edge (parsing, formatting, wallet credits).
package fixedpoint

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits carried by an Int.
const Decimals = 18

var scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// Scale returns 10^18.
func Scale() *big.Int { return new(big.Int).Set(scale) }

// Int is an immutable fixed-point number. The zero value is 0.
type Int struct {
	v *big.Int
}

// Zero is the fixed-point zero.
var Zero = Int{}

// FromRaw wraps an already scaled integer.
func FromRaw(v *big.Int) Int {
	if v == nil {
		return Zero
	}
	return Int{v: new(big.Int).Set(v)}
}

// FromDecimal scales d by 10^18, truncating digits beyond the 18th.
func FromDecimal(d decimal.Decimal) Int {
	return Int{v: d.Shift(Decimals).BigInt()}
}

// FromInt64 returns n whole units.
func FromInt64(n int64) Int {
	return Int{v: new(big.Int).Mul(big.NewInt(n), scale)}
}

// Parse reads a human decimal string such as "100.25".
func Parse(s string) (Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("fixedpoint: parse %q: %w", s, err)
	}
	return FromDecimal(d), nil
}

// ParseRaw reads an already scaled base-10 integer.
func ParseRaw(s string) (Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Zero, fmt.Errorf("fixedpoint: invalid raw value %q", s)
	}
	return Int{v: v}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Int {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (a Int) big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// Raw returns a copy of the scaled integer.
func (a Int) Raw() *big.Int { return new(big.Int).Set(a.big()) }

// Key is the scaled integer in base 10, stable enough to key maps by price.
func (a Int) Key() string { return a.big().String() }

// Decimal unscales a into a decimal.Decimal.
func (a Int) Decimal() decimal.Decimal { return decimal.NewFromBigInt(a.big(), -Decimals) }

func (a Int) String() string { return a.Decimal().String() }

func (a Int) Add(b Int) Int { return Int{v: new(big.Int).Add(a.big(), b.big())} }
func (a Int) Sub(b Int) Int { return Int{v: new(big.Int).Sub(a.big(), b.big())} }
func (a Int) Neg() Int      { return Int{v: new(big.Int).Neg(a.big())} }

// Mul multiplies two fixed-point values and rescales the product.
func (a Int) Mul(b Int) Int {
	p := new(big.Int).Mul(a.big(), b.big())
	return Int{v: p.Quo(p, scale)}
}

// Div divides two fixed-point values keeping 18 decimals. It panics when b is zero,
// callers check first.
func (a Int) Div(b Int) Int {
	n := new(big.Int).Mul(a.big(), scale)
	return Int{v: n.Quo(n, b.big())}
}

// MulInt multiplies by a plain integer.
func (a Int) MulInt(n int64) Int { return Int{v: new(big.Int).Mul(a.big(), big.NewInt(n))} }

// DivInt divides by a plain integer, truncating toward zero.
func (a Int) DivInt(n int64) Int { return Int{v: new(big.Int).Quo(a.big(), big.NewInt(n))} }

func (a Int) Cmp(b Int) int    { return a.big().Cmp(b.big()) }
func (a Int) Sign() int        { return a.big().Sign() }
func (a Int) IsZero() bool     { return a.Sign() == 0 }
func (a Int) IsPositive() bool { return a.Sign() > 0 }
func (a Int) IsNegative() bool { return a.Sign() < 0 }

func (a Int) Equal(b Int) bool              { return a.Cmp(b) == 0 }
func (a Int) LessThan(b Int) bool           { return a.Cmp(b) < 0 }
func (a Int) LessThanOrEqual(b Int) bool    { return a.Cmp(b) <= 0 }
func (a Int) GreaterThan(b Int) bool        { return a.Cmp(b) > 0 }
func (a Int) GreaterThanOrEqual(b Int) bool { return a.Cmp(b) >= 0 }

func Min(a, b Int) Int {
	if a.LessThan(b) {
		return a
	}
	return b
}

func Max(a, b Int) Int {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// MarshalJSON writes the human decimal form as a JSON string.
func (a Int) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *Int) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("fixedpoint: %w", err)
	}
	*a = FromDecimal(d)
	return nil
}
