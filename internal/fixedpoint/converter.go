package fixedpoint

import (
	"github.com/shopspring/decimal"
)

const bpsDenominator = 10_000

// Converter is the numeric adapter the engine is wired with.
type Converter interface {
	ToFixedPoint(d decimal.Decimal) Int
	FromFixedPoint(v Int) decimal.Decimal
	MultiplyAndRescale(a, b Int) decimal.Decimal
	// ApplyTolerance clips v by the configured fee/precision buffer.
	ApplyTolerance(v Int) Int
	// RemoveTolerance reverses ApplyTolerance.
	RemoveTolerance(v Int) Int
}

// DecimalConverter implements Converter on top of shopspring/decimal.
type DecimalConverter struct {
	toleranceBps int64
}

var _ Converter = (*DecimalConverter)(nil)

// NewConverter builds a converter clipping toleranceBps basis points
// (0 disables the buffer, values are capped to [0, 9999]).
func NewConverter(toleranceBps int64) *DecimalConverter {
	if toleranceBps < 0 {
		toleranceBps = 0
	}
	if toleranceBps >= bpsDenominator {
		toleranceBps = bpsDenominator - 1
	}
	return &DecimalConverter{toleranceBps: toleranceBps}
}

func (c *DecimalConverter) ToFixedPoint(d decimal.Decimal) Int { return FromDecimal(d) }

func (c *DecimalConverter) FromFixedPoint(v Int) decimal.Decimal { return v.Decimal() }

func (c *DecimalConverter) MultiplyAndRescale(a, b Int) decimal.Decimal {
	return a.Mul(b).Decimal()
}

func (c *DecimalConverter) ApplyTolerance(v Int) Int {
	return v.MulInt(bpsDenominator - c.toleranceBps).DivInt(bpsDenominator)
}

func (c *DecimalConverter) RemoveTolerance(v Int) Int {
	return v.MulInt(bpsDenominator).DivInt(bpsDenominator - c.toleranceBps)
}
