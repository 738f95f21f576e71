package core

import (
	"time"

	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DeriveTicker computes a ticker from the current daily candle and yesterday's
// daily candle; either may be nil.
func DeriveTicker(symbol string, daily, yesterday *domain.Candle, now time.Time) domain.Ticker {
	t := domain.Ticker{Symbol: symbol, Percentage: decimal.Zero, Timestamp: now}
	if daily == nil {
		return t
	}
	t.Last = daily.Close
	t.Open = daily.Open
	t.High = daily.High
	t.Low = daily.Low
	t.Volume = daily.Volume
	t.Timestamp = daily.UpdatedAt
	if yesterday != nil && yesterday.Open.IsPositive() {
		t.Change = daily.Close.Sub(yesterday.Open)
		t.Percentage = t.Change.Decimal().Div(yesterday.Open.Decimal()).Mul(hundred)
	} else {
		t.Change = fixedpoint.Zero
	}
	return t
}
