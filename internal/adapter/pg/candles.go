package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/olyamironova/futures-engine/internal/domain"
)

const candleColumns = `symbol, period, open, high, low, close, volume, created_at, updated_at`

const upsertCandleSQL = `
INSERT INTO candles(` + candleColumns + `)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (symbol, period, created_at) DO UPDATE SET
  open = EXCLUDED.open,
  high = EXCLUDED.high,
  low = EXCLUDED.low,
  close = EXCLUDED.close,
  volume = EXCLUDED.volume,
  updated_at = EXCLUDED.updated_at`

func candleArgs(c *domain.Candle) []any {
	return []any{
		c.Symbol, string(c.Interval),
		numeric(c.Open), numeric(c.High), numeric(c.Low), numeric(c.Close), numeric(c.Volume),
		c.CreatedAt, c.UpdatedAt,
	}
}

func (p *PgRepo) FindLatestPerSymbolInterval(ctx context.Context) ([]*domain.Candle, error) {
	return queryCandles(ctx, p.pool, `
SELECT DISTINCT ON (symbol, period) `+candleColumns+`
FROM candles
ORDER BY symbol, period, created_at DESC`)
}

func (p *PgRepo) FindYesterday(ctx context.Context, now time.Time) ([]*domain.Candle, error) {
	bucket := domain.NormalizeTimeToInterval(now, domain.Interval1d).AddDate(0, 0, -1)
	return queryCandles(ctx, p.pool, `
SELECT `+candleColumns+`
FROM candles
WHERE period = $1 AND created_at = $2`, string(domain.Interval1d), bucket)
}

// FindRange returns candles whose bucket starts in [from, to]; a zero to is unbounded.
func (p *PgRepo) FindRange(ctx context.Context, symbol string, interval domain.Interval, from, to time.Time) ([]*domain.Candle, error) {
	if to.IsZero() {
		return queryCandles(ctx, p.pool, `
SELECT `+candleColumns+`
FROM candles
WHERE symbol = $1 AND period = $2 AND created_at >= $3
ORDER BY created_at ASC`, symbol, string(interval), from)
	}
	return queryCandles(ctx, p.pool, `
SELECT `+candleColumns+`
FROM candles
WHERE symbol = $1 AND period = $2 AND created_at >= $3 AND created_at <= $4
ORDER BY created_at ASC`, symbol, string(interval), from, to)
}

func queryCandles(ctx context.Context, q querier, sql string, args ...any) ([]*domain.Candle, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: query candles: %w", err)
	}
	defer rows.Close()

	var res []*domain.Candle
	for rows.Next() {
		var (
			c      domain.Candle
			period string
		)
		if err := rows.Scan(&c.Symbol, &period,
			&fp{&c.Open}, &fp{&c.High}, &fp{&c.Low}, &fp{&c.Close}, &fp{&c.Volume},
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pg: scan candle: %w", err)
		}
		c.Interval = domain.Interval(period)
		c.CreatedAt = c.CreatedAt.UTC()
		res = append(res, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: iterate candles: %w", err)
	}
	return res, nil
}
