package core

import (
	"testing"
	"time"

	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTimeToInterval(t *testing.T) {
	at := time.Date(2024, 3, 6, 13, 47, 31, 0, time.UTC) // Wednesday
	tests := []struct {
		interval domain.Interval
		want     time.Time
	}{
		{domain.Interval1m, time.Date(2024, 3, 6, 13, 47, 0, 0, time.UTC)},
		{domain.Interval15m, time.Date(2024, 3, 6, 13, 45, 0, 0, time.UTC)},
		{domain.Interval4h, time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)},
		{domain.Interval1d, time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)},
		{domain.Interval1w, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(string(tt.interval), func(t *testing.T) {
			assert.Equal(t, tt.want, domain.NormalizeTimeToInterval(at, tt.interval))
		})
	}
}

func TestNextCandleFirstTick(t *testing.T) {
	c := NextCandle(nil, testSymbol, domain.Interval1m, fp("100"), fp("2"), t0.Add(30*time.Second))

	assert.Equal(t, t0, c.CreatedAt)
	assert.True(t, c.Open.Equal(fp("100")))
	assert.True(t, c.High.Equal(fp("100")))
	assert.True(t, c.Low.Equal(fp("100")))
	assert.True(t, c.Close.Equal(fp("100")))
	assert.True(t, c.Volume.Equal(fp("2")))
}

func TestNextCandleSameBucket(t *testing.T) {
	prev := NextCandle(nil, testSymbol, domain.Interval1m, fp("100"), fp("1"), t0)

	up := NextCandle(prev, testSymbol, domain.Interval1m, fp("105"), fp("2"), t0.Add(10*time.Second))
	assert.True(t, up.High.Equal(fp("105")))
	assert.True(t, up.Low.Equal(fp("100")))
	assert.True(t, up.Close.Equal(fp("105")))
	assert.True(t, up.Volume.Equal(fp("3")))
	assert.True(t, prev.Close.Equal(fp("100")), "prev is not modified")

	down := NextCandle(up, testSymbol, domain.Interval1m, fp("97"), fp("1"), t0.Add(20*time.Second))
	assert.True(t, down.High.Equal(fp("105")))
	assert.True(t, down.Low.Equal(fp("97")))
	assert.True(t, down.Open.Equal(fp("100")))
}

func TestNextCandleNewBucketOpensAtPreviousClose(t *testing.T) {
	prev := NextCandle(nil, testSymbol, domain.Interval1m, fp("100"), fp("1"), t0)

	c := NextCandle(prev, testSymbol, domain.Interval1m, fp("110"), fp("4"), t0.Add(time.Minute))

	assert.Equal(t, t0.Add(time.Minute), c.CreatedAt)
	assert.True(t, c.Open.Equal(fp("100")))
	assert.True(t, c.Low.Equal(fp("100")))
	assert.True(t, c.High.Equal(fp("110")))
	assert.True(t, c.Close.Equal(fp("110")))
	assert.True(t, c.Volume.Equal(fp("4")), "volume restarts")
}

func TestAggregateCandlesUsesLatestOrderPerSymbol(t *testing.T) {
	older := newOrder(domain.Buy, domain.Limit, "100", "1", 0)
	older.Trades = []domain.Fill{{Price: fp("99"), Amount: fp("1"), Timestamp: t0}}
	newer := newOrder(domain.Sell, domain.Limit, "98", "5", 0)
	newer.UpdatedAt = t0.Add(time.Second)
	newer.Trades = []domain.Fill{{Price: fp("98"), Amount: fp("5"), Timestamp: t0}}

	out := aggregateCandles([]*domain.Order{older, newer}, nil, t0.Add(time.Second))

	require.Len(t, out, len(domain.Intervals))
	for _, interval := range domain.Intervals {
		c := out[domain.CandleKey{Symbol: testSymbol, Interval: interval}]
		require.NotNil(t, c, interval)
		assert.True(t, c.Close.Equal(fp("98")))
		assert.True(t, c.Volume.Equal(fp("5")))
	}
}

func TestFinalPriceFallsBackToOrderPrice(t *testing.T) {
	o := newOrder(domain.Buy, domain.Limit, "100", "1", 0)
	assert.True(t, finalPrice(o).Equal(fp("100")))

	o.Trades = []domain.Fill{{Price: fp("95")}, {Price: fp("96")}}
	assert.True(t, finalPrice(o).Equal(fp("96")))
}
