package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/shopspring/decimal"
)

func (p *PgRepo) FindActive(ctx context.Context) ([]domain.MarketInfo, error) {
	rows, err := p.pool.Query(ctx, `SELECT symbol, base, quote, active FROM markets WHERE active ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("pg: query markets: %w", err)
	}
	defer rows.Close()
	var res []domain.MarketInfo
	for rows.Next() {
		var m domain.MarketInfo
		if err := rows.Scan(&m.Symbol, &m.Base, &m.Quote, &m.Active); err != nil {
			return nil, fmt.Errorf("pg: scan market: %w", err)
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: iterate markets: %w", err)
	}
	return res, nil
}

func (p *PgRepo) Get(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error) {
	w := domain.Wallet{UserID: userID, Currency: currency}
	err := p.pool.QueryRow(ctx, `
SELECT balance FROM wallets WHERE user_id = $1 AND currency = $2`, userID, currency).Scan(&dec{&w.Balance})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get wallet: %w", err)
	}
	return &w, nil
}

func (p *PgRepo) Credit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	return p.addBalance(ctx, userID, currency, amount)
}

func (p *PgRepo) Debit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	return p.addBalance(ctx, userID, currency, amount.Neg())
}

func (p *PgRepo) addBalance(ctx context.Context, userID uuid.UUID, currency string, delta decimal.Decimal) error {
	res, err := p.pool.Exec(ctx, `
UPDATE wallets SET balance = balance + $3, updated_at = NOW()
WHERE user_id = $1 AND currency = $2`, userID, currency, decimalNumeric(delta))
	if err != nil {
		return fmt.Errorf("pg: update wallet: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("pg: wallet %s/%s: %w", userID, currency, domain.ErrNotFound)
	}
	return nil
}
