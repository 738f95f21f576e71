package domain

import (
	"fmt"
	"time"

	"github.com/olyamironova/futures-engine/internal/fixedpoint"
)

type Interval string

const (
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
	Interval3d  Interval = "3d"
	Interval1w  Interval = "1w"
)

// Intervals lists every supported candle interval, shortest first.
var Intervals = []Interval{
	Interval1m, Interval3m, Interval5m, Interval15m, Interval30m,
	Interval1h, Interval2h, Interval4h, Interval6h, Interval12h,
	Interval1d, Interval3d, Interval1w,
}

var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval3m:  3 * time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval30m: 30 * time.Minute,
	Interval1h:  time.Hour,
	Interval2h:  2 * time.Hour,
	Interval4h:  4 * time.Hour,
	Interval6h:  6 * time.Hour,
	Interval12h: 12 * time.Hour,
	Interval1d:  24 * time.Hour,
	Interval3d:  72 * time.Hour,
	Interval1w:  7 * 24 * time.Hour,
}

func ParseInterval(s string) (Interval, error) {
	i := Interval(s)
	if _, ok := intervalDurations[i]; !ok {
		return "", fmt.Errorf("unsupported interval %q", s)
	}
	return i, nil
}

func (i Interval) Duration() time.Duration { return intervalDurations[i] }

// NormalizeTimeToInterval returns the UTC start of the bucket containing t.
// Weekly buckets start on Monday; every other interval is aligned to the Unix epoch.
func NormalizeTimeToInterval(t time.Time, i Interval) time.Time {
	t = t.UTC()
	if i == Interval1w {
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	}
	d := i.Duration()
	if d == 0 {
		return t
	}
	return t.Truncate(d)
}

// Candle is an OHLCV bar; CreatedAt is the bucket start.
type Candle struct {
	Symbol    string         `json:"symbol"`
	Interval  Interval       `json:"interval"`
	Open      fixedpoint.Int `json:"open"`
	High      fixedpoint.Int `json:"high"`
	Low       fixedpoint.Int `json:"low"`
	Close     fixedpoint.Int `json:"close"`
	Volume    fixedpoint.Int `json:"volume"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type CandleKey struct {
	Symbol   string
	Interval Interval
}

func (c *Candle) Key() CandleKey { return CandleKey{Symbol: c.Symbol, Interval: c.Interval} }

func (c *Candle) Clone() *Candle {
	cp := *c
	return &cp
}
