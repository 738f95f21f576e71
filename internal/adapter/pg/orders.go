package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/port"
)

const orderColumns = `id, user_id, symbol, type, side, price, amount, leverage, stop_loss_price,
take_profit_price, filled, remaining, cost, fee, fee_currency, average, status, trades, created_at, updated_at`

const updateOrderSQL = `
UPDATE orders
SET filled = $4, remaining = $5, cost = $6, fee = $7, average = $8, status = $9, trades = $10, updated_at = $11
WHERE user_id = $1 AND created_at = $2 AND id = $3`

func (p *PgRepo) Insert(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return errors.New("pg: nil order")
	}
	trades, err := domain.EncodeFills(o.Trades)
	if err != nil {
		return fmt.Errorf("pg: encode fills: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO orders(`+orderColumns+`)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		o.ID, o.UserID, o.Symbol, string(o.Type), string(o.Side),
		numeric(o.Price), numeric(o.Amount), o.Leverage,
		optNumeric(o.StopLossPrice), optNumeric(o.TakeProfitPrice),
		numeric(o.Filled), numeric(o.Remaining), numeric(o.Cost), numeric(o.Fee),
		o.FeeCurrency, numeric(o.Average), string(o.Status), string(trades),
		o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pg: insert order %s: %w", o.ID, err)
	}
	return nil
}

func (p *PgRepo) BatchUpdate(ctx context.Context, updates []port.OrderUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return p.withTx(ctx, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, u := range updates {
			if err := queueOrderUpdate(b, u); err != nil {
				return err
			}
		}
		return sendBatch(ctx, tx, b)
	})
}

func queueOrderUpdate(b *pgx.Batch, u port.OrderUpdate) error {
	trades, err := domain.EncodeFills(u.Trades)
	if err != nil {
		return fmt.Errorf("pg: encode fills of %s: %w", u.ID, err)
	}
	b.Queue(updateOrderSQL,
		u.UserID, u.CreatedAt, u.ID,
		numeric(u.Filled), numeric(u.Remaining), numeric(u.Cost), numeric(u.Fee), numeric(u.Average),
		string(u.Status), string(trades), u.UpdatedAt,
	).Exec(expectOne("order", u.ID))
	return nil
}

func (p *PgRepo) Delete(ctx context.Context, userID, orderID uuid.UUID, createdAt time.Time) error {
	res, err := p.pool.Exec(ctx, `
DELETE FROM orders
WHERE user_id = $1 AND created_at = $2 AND id = $3 AND status = 'OPEN'`, userID, createdAt, orderID)
	if err != nil {
		return fmt.Errorf("pg: delete order %s: %w", orderID, err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("pg: order %s: %w", orderID, domain.ErrNotFound)
	}
	return nil
}

// FindAllOpen returns open orders ordered by created_at ASC (FIFO).
func (p *PgRepo) FindAllOpen(ctx context.Context) ([]*domain.Order, error) {
	return queryOrders(ctx, p.pool, `
SELECT `+orderColumns+`
FROM orders
WHERE status = 'OPEN'
ORDER BY created_at ASC, id ASC`)
}

func (p *PgRepo) FindByUser(ctx context.Context, userID uuid.UUID, symbol string, openOnly bool) ([]*domain.Order, error) {
	where := []string{"user_id = $1"}
	args := []any{userID}
	if symbol != "" {
		args = append(args, symbol)
		where = append(where, fmt.Sprintf("symbol = $%d", len(args)))
	}
	if openOnly {
		where = append(where, "status = 'OPEN'")
	}
	return queryOrders(ctx, p.pool, `
SELECT `+orderColumns+`
FROM orders
WHERE `+strings.Join(where, " AND ")+`
ORDER BY created_at ASC, id ASC`, args...)
}

func queryOrders(ctx context.Context, q querier, sql string, args ...any) ([]*domain.Order, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: query orders: %w", err)
	}
	defer rows.Close()

	var res []*domain.Order
	for rows.Next() {
		var (
			o                 domain.Order
			typ, side, status string
			trades            []byte
		)
		if err := rows.Scan(&o.ID, &o.UserID, &o.Symbol, &typ, &side,
			&fp{&o.Price}, &fp{&o.Amount}, &o.Leverage,
			&optFP{&o.StopLossPrice}, &optFP{&o.TakeProfitPrice},
			&fp{&o.Filled}, &fp{&o.Remaining}, &fp{&o.Cost}, &fp{&o.Fee},
			&o.FeeCurrency, &fp{&o.Average}, &status, &trades,
			&o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pg: scan order: %w", err)
		}
		o.Type = domain.OrderType(typ)
		o.Side = domain.Side(side)
		o.Status = domain.OrderStatus(status)
		o.Trades = domain.DecodeFills(trades)
		res = append(res, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: iterate orders: %w", err)
	}
	return res, nil
}
