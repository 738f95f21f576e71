package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
	"github.com/olyamironova/futures-engine/internal/port"
)

const upsertLevelSQL = `
INSERT INTO order_book(symbol, side, price, amount, updated_at)
VALUES($1,$2,$3,$4,NOW())
ON CONFLICT (symbol, side, price) DO UPDATE SET amount = EXCLUDED.amount, updated_at = NOW()`

const deleteLevelSQL = `DELETE FROM order_book WHERE symbol = $1 AND side = $2 AND price = $3`

func (p *PgRepo) FetchAll(ctx context.Context) (map[string]*domain.OrderBook, error) {
	return queryBooks(ctx, p.pool, `SELECT symbol, side, price, amount FROM order_book WHERE amount > 0`)
}

func (p *PgRepo) FetchExisting(ctx context.Context, symbol string) (*domain.OrderBook, error) {
	books, err := queryBooks(ctx, p.pool, `
SELECT symbol, side, price, amount FROM order_book WHERE symbol = $1 AND amount > 0`, symbol)
	if err != nil {
		return nil, err
	}
	if b, ok := books[symbol]; ok {
		return b, nil
	}
	return domain.NewOrderBook(symbol), nil
}

func (p *PgRepo) FetchEntry(ctx context.Context, symbol string, side domain.Side, price fixedpoint.Int) (fixedpoint.Int, error) {
	var amount fixedpoint.Int
	err := p.pool.QueryRow(ctx, `
SELECT amount FROM order_book WHERE symbol = $1 AND side = $2 AND price = $3`,
		symbol, string(side), numeric(price)).Scan(&fp{&amount})
	if errors.Is(err, pgx.ErrNoRows) {
		return fixedpoint.Zero, nil
	}
	if err != nil {
		return fixedpoint.Zero, fmt.Errorf("pg: fetch book level: %w", err)
	}
	return amount, nil
}

func (p *PgRepo) UpsertOrDelete(ctx context.Context, symbol string, side domain.Side, price, amount fixedpoint.Int) error {
	sql, args := levelStatement(port.BookLevel{Symbol: symbol, Side: side, Price: price, Amount: amount})
	if _, err := p.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("pg: write book level: %w", err)
	}
	return nil
}

// levelStatement deletes the level when the amount is not positive.
func levelStatement(l port.BookLevel) (string, []any) {
	if !l.Amount.IsPositive() {
		return deleteLevelSQL, []any{l.Symbol, string(l.Side), numeric(l.Price)}
	}
	return upsertLevelSQL, []any{l.Symbol, string(l.Side), numeric(l.Price), numeric(l.Amount)}
}

func queryBooks(ctx context.Context, q querier, sql string, args ...any) (map[string]*domain.OrderBook, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: query order book: %w", err)
	}
	defer rows.Close()

	books := make(map[string]*domain.OrderBook)
	for rows.Next() {
		var (
			symbol, side  string
			price, amount fixedpoint.Int
		)
		if err := rows.Scan(&symbol, &side, &fp{&price}, &fp{&amount}); err != nil {
			return nil, fmt.Errorf("pg: scan book level: %w", err)
		}
		b, ok := books[symbol]
		if !ok {
			b = domain.NewOrderBook(symbol)
			books[symbol] = b
		}
		b.Side(domain.Side(side)).Set(price, amount)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: iterate order book: %w", err)
	}
	return books, nil
}
