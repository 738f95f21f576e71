package port

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
	"github.com/shopspring/decimal"
)

type OrderStore interface {
	Insert(ctx context.Context, o *domain.Order) error
	BatchUpdate(ctx context.Context, updates []OrderUpdate) error
	Delete(ctx context.Context, userID, orderID uuid.UUID, createdAt time.Time) error
	FindAllOpen(ctx context.Context) ([]*domain.Order, error)
	// FindByUser filters by symbol when it is non-empty and by status OPEN when openOnly.
	FindByUser(ctx context.Context, userID uuid.UUID, symbol string, openOnly bool) ([]*domain.Order, error)
}

type PositionStore interface {
	// FindOpen returns domain.ErrNotFound when the user has no open position.
	FindOpen(ctx context.Context, userID uuid.UUID, symbol string, side domain.Side) (*domain.Position, error)
	FindAllOpen(ctx context.Context) ([]*domain.Position, error)
	FindByUser(ctx context.Context, userID uuid.UUID, symbol string, status domain.PositionStatus) ([]*domain.Position, error)
	Create(ctx context.Context, p *domain.Position) error
	Update(ctx context.Context, u PositionUpdate) error
	UpdateStatus(ctx context.Context, userID, id uuid.UUID, status domain.PositionStatus) error
}

type OrderBookStore interface {
	FetchAll(ctx context.Context) (map[string]*domain.OrderBook, error)
	FetchExisting(ctx context.Context, symbol string) (*domain.OrderBook, error)
	FetchEntry(ctx context.Context, symbol string, side domain.Side, price fixedpoint.Int) (fixedpoint.Int, error)
	// UpsertOrDelete removes the level when amount <= 0.
	UpsertOrDelete(ctx context.Context, symbol string, side domain.Side, price, amount fixedpoint.Int) error
}

type CandleStore interface {
	FindLatestPerSymbolInterval(ctx context.Context) ([]*domain.Candle, error)
	// FindYesterday returns the daily candles whose bucket starts the day before now.
	FindYesterday(ctx context.Context, now time.Time) ([]*domain.Candle, error)
	FindRange(ctx context.Context, symbol string, interval domain.Interval, from, to time.Time) ([]*domain.Candle, error)
}

type MarketStore interface {
	FindActive(ctx context.Context) ([]domain.MarketInfo, error)
}

type WalletService interface {
	// Get returns domain.ErrNotFound when the user holds no wallet in currency.
	Get(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error)
	Credit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error
	Debit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error
}

// BatchWriter applies every mutation of a Batch atomically.
type BatchWriter interface {
	ExecBatch(ctx context.Context, b *Batch) error
}
