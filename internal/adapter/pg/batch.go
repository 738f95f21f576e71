package pg

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/port"
)

// ExecBatch writes every mutation of b in one transaction carrying one
// pgx.Batch. Order and position updates must each hit exactly one row.
func (p *PgRepo) ExecBatch(ctx context.Context, b *port.Batch) error {
	if b == nil || b.Len() == 0 {
		return nil
	}
	return p.withTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, u := range b.Orders {
			if err := queueOrderUpdate(batch, u); err != nil {
				return err
			}
		}
		for _, c := range b.Candles {
			batch.Queue(upsertCandleSQL, candleArgs(c)...)
		}
		for _, l := range b.BookLevels {
			sql, args := levelStatement(l)
			batch.Queue(sql, args...)
		}
		for _, pos := range b.NewPositions {
			batch.Queue(insertPositionSQL, positionArgs(pos)...)
		}
		for _, u := range b.Positions {
			batch.Queue(updatePositionSQL, positionUpdateArgs(u)...).Exec(expectOne("position", u.ID))
		}
		return sendBatch(ctx, tx, batch)
	})
}

func sendBatch(ctx context.Context, tx pgx.Tx, b *pgx.Batch) error {
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("pg: batch of %d statements: %w", b.Len(), err)
	}
	return nil
}

func expectOne(kind string, id uuid.UUID) func(pgconn.CommandTag) error {
	return func(ct pgconn.CommandTag) error {
		if ct.RowsAffected() != 1 {
			return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
		}
		return nil
	}
}
