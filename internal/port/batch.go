package port

import (
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
)

// OrderUpdate is the mutable fill state of an order, keyed by (UserID, CreatedAt, ID).
type OrderUpdate struct {
	UserID    uuid.UUID
	CreatedAt time.Time
	ID        uuid.UUID
	Filled    fixedpoint.Int
	Remaining fixedpoint.Int
	Cost      fixedpoint.Int
	Fee       fixedpoint.Int
	Average   fixedpoint.Int
	Status    domain.OrderStatus
	Trades    []domain.Fill
	UpdatedAt time.Time
}

func OrderUpdateFrom(o *domain.Order) OrderUpdate {
	return OrderUpdate{
		UserID:    o.UserID,
		CreatedAt: o.CreatedAt,
		ID:        o.ID,
		Filled:    o.Filled,
		Remaining: o.Remaining,
		Cost:      o.Cost,
		Fee:       o.Fee,
		Average:   o.Average,
		Status:    o.Status,
		Trades:    o.Trades,
		UpdatedAt: o.UpdatedAt,
	}
}

// PositionUpdate rewrites the numeric state of a position. An empty Status
// leaves the stored status unchanged.
type PositionUpdate struct {
	UserID          uuid.UUID
	ID              uuid.UUID
	EntryPrice      fixedpoint.Int
	Amount          fixedpoint.Int
	UnrealizedPnl   fixedpoint.Int
	StopLossPrice   *fixedpoint.Int
	TakeProfitPrice *fixedpoint.Int
	Status          domain.PositionStatus
	UpdatedAt       time.Time
}

func PositionUpdateFrom(p *domain.Position) PositionUpdate {
	return PositionUpdate{
		UserID:          p.UserID,
		ID:              p.ID,
		EntryPrice:      p.EntryPrice,
		Amount:          p.Amount,
		UnrealizedPnl:   p.UnrealizedPnl,
		StopLossPrice:   p.StopLossPrice,
		TakeProfitPrice: p.TakeProfitPrice,
		UpdatedAt:       p.UpdatedAt,
	}
}

// BookLevel is an order-book write; Amount <= 0 deletes the level.
type BookLevel struct {
	Symbol string
	Side   domain.Side
	Price  fixedpoint.Int
	Amount fixedpoint.Int
}

// Batch collects the write instructions of one drain.
type Batch struct {
	Orders       []OrderUpdate
	Candles      []*domain.Candle
	BookLevels   []BookLevel
	NewPositions []*domain.Position
	Positions    []PositionUpdate
}

func (b *Batch) Len() int {
	return len(b.Orders) + len(b.Candles) + len(b.BookLevels) + len(b.NewPositions) + len(b.Positions)
}
