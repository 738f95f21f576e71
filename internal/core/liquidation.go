package core

import (
	"errors"

	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
	"github.com/shopspring/decimal"
)

var ErrZeroEntryPrice = errors.New("entry price is zero")

var (
	PartialLiquidationThreshold = decimal.RequireFromString("-0.8")
	FullLiquidationThreshold    = decimal.RequireFromString("-1")
)

// partialLiquidationKeepPercent is the share of a position left after a partial liquidation.
const partialLiquidationKeepPercent = 20

type LiquidationAction int

const (
	NoLiquidation LiquidationAction = iota
	PartialLiquidation
	FullLiquidation
)

func (a LiquidationAction) String() string {
	switch a {
	case PartialLiquidation:
		return "partial"
	case FullLiquidation:
		return "full"
	default:
		return "none"
	}
}

// CalculateMargin returns the price move relative to the leveraged entry,
// priceDifference / (entryPrice / leverage), as a decimal ratio.
func CalculateMargin(p *domain.Position, current fixedpoint.Int) (decimal.Decimal, error) {
	if p.EntryPrice.IsZero() {
		return decimal.Zero, ErrZeroEntryPrice
	}
	leverage := int64(p.Leverage)
	if leverage < 1 {
		leverage = 1
	}
	withLeverage := p.EntryPrice.DivInt(leverage)
	if withLeverage.IsZero() {
		return decimal.Zero, ErrZeroEntryPrice
	}
	diff := current.Sub(p.EntryPrice)
	if p.Side == domain.Sell {
		diff = p.EntryPrice.Sub(current)
	}
	return diff.Div(withLeverage).Decimal(), nil
}

func EvaluateMargin(margin decimal.Decimal) LiquidationAction {
	switch {
	case margin.LessThanOrEqual(FullLiquidationThreshold):
		return FullLiquidation
	case margin.LessThanOrEqual(PartialLiquidationThreshold):
		return PartialLiquidation
	default:
		return NoLiquidation
	}
}

// Liquidated returns the position after applying action, and the amount that
// stays open.
func Liquidated(p *domain.Position, action LiquidationAction) (*domain.Position, fixedpoint.Int) {
	out := p.Clone()
	switch action {
	case PartialLiquidation:
		out.Amount = p.Amount.MulInt(partialLiquidationKeepPercent).DivInt(100)
		out.Status = domain.PositionPartiallyLiquidated
	case FullLiquidation:
		out.Amount = fixedpoint.Zero
		out.Status = domain.PositionLiquidated
	}
	return out, out.Amount
}
