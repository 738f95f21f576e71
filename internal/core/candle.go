package core

import (
	"time"

	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
)

// finalPrice is the last execution price of an order, or its own price when it
// has no fills.
func finalPrice(o *domain.Order) fixedpoint.Int {
	if n := len(o.Trades); n > 0 {
		return o.Trades[n-1].Price
	}
	return o.Price
}

// latestPerSymbol keeps only the most recently updated order of every symbol.
func latestPerSymbol(orders []*domain.Order) map[string]*domain.Order {
	latest := make(map[string]*domain.Order)
	for _, o := range orders {
		cur, ok := latest[o.Symbol]
		if !ok || o.UpdatedAt.After(cur.UpdatedAt) {
			latest[o.Symbol] = o
		}
	}
	return latest
}

// NextCandle applies one tick of price and volume at now to prev (nil when the
// symbol has no candle yet) and returns the candle to persist. prev is not modified.
func NextCandle(prev *domain.Candle, symbol string, interval domain.Interval, price, volume fixedpoint.Int, now time.Time) *domain.Candle {
	bucket := domain.NormalizeTimeToInterval(now, interval)
	if prev == nil || !prev.CreatedAt.Equal(bucket) {
		open := price
		if prev != nil {
			open = prev.Close
		}
		return &domain.Candle{
			Symbol:    symbol,
			Interval:  interval,
			Open:      open,
			High:      fixedpoint.Max(open, price),
			Low:       fixedpoint.Min(open, price),
			Close:     price,
			Volume:    volume,
			CreatedAt: bucket,
			UpdatedAt: now,
		}
	}
	c := prev.Clone()
	c.Close = price
	c.Volume = c.Volume.Add(volume)
	if price.GreaterThan(c.High) {
		c.High = price
	} else if price.LessThan(c.Low) {
		c.Low = price
	}
	c.UpdatedAt = now
	return c
}

// aggregateCandles produces one candle write per (symbol, interval) for the
// latest matched order of every symbol. cache is read-only here; the returned
// map holds the new last candles.
func aggregateCandles(matched []*domain.Order, cache map[domain.CandleKey]*domain.Candle, now time.Time) map[domain.CandleKey]*domain.Candle {
	out := make(map[domain.CandleKey]*domain.Candle)
	for symbol, o := range latestPerSymbol(matched) {
		price := finalPrice(o)
		for _, interval := range domain.Intervals {
			k := domain.CandleKey{Symbol: symbol, Interval: interval}
			out[k] = NextCandle(cache[k], symbol, interval, price, o.Amount, now)
		}
	}
	return out
}
