package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/port"
)

const positionColumns = `id, user_id, symbol, side, entry_price, amount, leverage, unrealized_pnl,
stop_loss_price, take_profit_price, status, created_at, updated_at`

const insertPositionSQL = `
INSERT INTO positions(` + positionColumns + `)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

const updatePositionSQL = `
UPDATE positions
SET entry_price = $3, amount = $4, unrealized_pnl = $5, stop_loss_price = $6, take_profit_price = $7,
    status = COALESCE(NULLIF($8, ''), status), updated_at = $9
WHERE user_id = $1 AND id = $2`

// positionRepo is the PositionStore view of PgRepo; its finder names collide
// with the order finders.
type positionRepo struct{ p *PgRepo }

func (p *PgRepo) Positions() port.PositionStore { return positionRepo{p} }

func positionArgs(p *domain.Position) []any {
	return []any{
		p.ID, p.UserID, p.Symbol, string(p.Side),
		numeric(p.EntryPrice), numeric(p.Amount), p.Leverage, numeric(p.UnrealizedPnl),
		optNumeric(p.StopLossPrice), optNumeric(p.TakeProfitPrice),
		string(p.Status), p.CreatedAt, p.UpdatedAt,
	}
}

func positionUpdateArgs(u port.PositionUpdate) []any {
	return []any{
		u.UserID, u.ID,
		numeric(u.EntryPrice), numeric(u.Amount), numeric(u.UnrealizedPnl),
		optNumeric(u.StopLossPrice), optNumeric(u.TakeProfitPrice),
		string(u.Status), u.UpdatedAt,
	}
}

func (r positionRepo) FindOpen(ctx context.Context, userID uuid.UUID, symbol string, side domain.Side) (*domain.Position, error) {
	res, err := queryPositions(ctx, r.p.pool, `
SELECT `+positionColumns+`
FROM positions
WHERE user_id = $1 AND symbol = $2 AND side = $3 AND status = 'OPEN'
LIMIT 1`, userID, symbol, string(side))
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, domain.ErrNotFound
	}
	return res[0], nil
}

func (r positionRepo) FindAllOpen(ctx context.Context) ([]*domain.Position, error) {
	return queryPositions(ctx, r.p.pool, `
SELECT `+positionColumns+`
FROM positions
WHERE status = 'OPEN'
ORDER BY created_at ASC`)
}

func (r positionRepo) FindByUser(ctx context.Context, userID uuid.UUID, symbol string, status domain.PositionStatus) ([]*domain.Position, error) {
	where := []string{"user_id = $1"}
	args := []any{userID}
	if symbol != "" {
		args = append(args, symbol)
		where = append(where, fmt.Sprintf("symbol = $%d", len(args)))
	}
	if status != "" {
		args = append(args, string(status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	return queryPositions(ctx, r.p.pool, `
SELECT `+positionColumns+`
FROM positions
WHERE `+strings.Join(where, " AND ")+`
ORDER BY created_at ASC`, args...)
}

func (r positionRepo) Create(ctx context.Context, p *domain.Position) error {
	if p == nil {
		return errors.New("pg: nil position")
	}
	if _, err := r.p.pool.Exec(ctx, insertPositionSQL, positionArgs(p)...); err != nil {
		return fmt.Errorf("pg: insert position %s: %w", p.ID, err)
	}
	return nil
}

func (r positionRepo) Update(ctx context.Context, u port.PositionUpdate) error {
	res, err := r.p.pool.Exec(ctx, updatePositionSQL, positionUpdateArgs(u)...)
	if err != nil {
		return fmt.Errorf("pg: update position %s: %w", u.ID, err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("pg: position %s: %w", u.ID, domain.ErrNotFound)
	}
	return nil
}

func (r positionRepo) UpdateStatus(ctx context.Context, userID, id uuid.UUID, status domain.PositionStatus) error {
	res, err := r.p.pool.Exec(ctx, `
UPDATE positions SET status = $3, updated_at = NOW()
WHERE user_id = $1 AND id = $2`, userID, id, string(status))
	if err != nil {
		return fmt.Errorf("pg: update position status %s: %w", id, err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("pg: position %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func queryPositions(ctx context.Context, q querier, sql string, args ...any) ([]*domain.Position, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: query positions: %w", err)
	}
	defer rows.Close()

	var res []*domain.Position
	for rows.Next() {
		var (
			p            domain.Position
			side, status string
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.Symbol, &side,
			&fp{&p.EntryPrice}, &fp{&p.Amount}, &p.Leverage, &fp{&p.UnrealizedPnl},
			&optFP{&p.StopLossPrice}, &optFP{&p.TakeProfitPrice},
			&status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pg: scan position: %w", err)
		}
		p.Side = domain.Side(side)
		p.Status = domain.PositionStatus(status)
		res = append(res, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: iterate positions: %w", err)
	}
	return res, nil
}
