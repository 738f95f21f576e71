package pg

import (
	"context"
	_ "embed"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
	"github.com/olyamironova/futures-engine/internal/port"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

var (
	_ port.OrderStore     = (*PgRepo)(nil)
	_ port.PositionStore  = positionRepo{}
	_ port.OrderBookStore = (*PgRepo)(nil)
	_ port.CandleStore    = (*PgRepo)(nil)
	_ port.MarketStore    = (*PgRepo)(nil)
	_ port.WalletService  = (*PgRepo)(nil)
	_ port.BatchWriter    = (*PgRepo)(nil)
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepo struct {
	pool *pgxpool.Pool
}

// call Close when finish to work with database.
func NewPgRepo(ctx context.Context, dsn string) (*PgRepo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &PgRepo{pool: pool}, nil
}

func (p *PgRepo) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (p *PgRepo) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pg: migrate: %w", err)
	}
	return nil
}

func (p *PgRepo) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pg: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pg: commit: %w", err)
	}
	committed = true
	return nil
}

func numeric(v fixedpoint.Int) pgtype.Numeric {
	return pgtype.Numeric{Int: v.Raw(), Exp: -fixedpoint.Decimals, Valid: true}
}

func optNumeric(v *fixedpoint.Int) pgtype.Numeric {
	if v == nil {
		return pgtype.Numeric{}
	}
	return numeric(*v)
}

func decimalNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

// fromNumeric rescales a NUMERIC to 18 decimals, truncating extra digits.
func fromNumeric(n pgtype.Numeric) (fixedpoint.Int, error) {
	if !n.Valid {
		return fixedpoint.Zero, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return fixedpoint.Zero, fmt.Errorf("pg: non-finite numeric")
	}
	v := new(big.Int)
	if n.Int != nil {
		v.Set(n.Int)
	}
	shift := int64(n.Exp) + fixedpoint.Decimals
	if shift == 0 {
		return fixedpoint.FromRaw(v), nil
	}
	abs := shift
	if abs < 0 {
		abs = -abs
	}
	pow := new(big.Int).Exp(big.NewInt(10), big.NewInt(abs), nil)
	if shift > 0 {
		v.Mul(v, pow)
	} else {
		v.Quo(v, pow)
	}
	return fixedpoint.FromRaw(v), nil
}

// fp scans a NUMERIC column into a fixedpoint.Int.
type fp struct{ dst *fixedpoint.Int }

func (f *fp) ScanNumeric(n pgtype.Numeric) error {
	v, err := fromNumeric(n)
	if err != nil {
		return err
	}
	*f.dst = v
	return nil
}

// optFP scans a nullable NUMERIC column; NULL leaves a nil pointer.
type optFP struct{ dst **fixedpoint.Int }

func (f *optFP) ScanNumeric(n pgtype.Numeric) error {
	if !n.Valid {
		*f.dst = nil
		return nil
	}
	v, err := fromNumeric(n)
	if err != nil {
		return err
	}
	*f.dst = &v
	return nil
}

// dec scans a NUMERIC column into a decimal.Decimal.
type dec struct{ dst *decimal.Decimal }

func (d *dec) ScanNumeric(n pgtype.Numeric) error {
	if !n.Valid || n.Int == nil {
		*d.dst = decimal.Zero
		return nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return fmt.Errorf("pg: non-finite numeric")
	}
	*d.dst = decimal.NewFromBigInt(n.Int, n.Exp)
	return nil
}
