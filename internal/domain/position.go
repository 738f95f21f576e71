package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
)

type PositionStatus string

const (
	PositionOpen                PositionStatus = "OPEN"
	PositionClosed              PositionStatus = "CLOSED"
	PositionPartiallyLiquidated PositionStatus = "PARTIALLY_LIQUIDATED"
	PositionLiquidated          PositionStatus = "LIQUIDATED"
)

// Position is a leveraged exposure; at most one OPEN row exists per
// (UserID, Symbol, Side).
type Position struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"userId"`
	Symbol          string          `json:"symbol"`
	Side            Side            `json:"side"`
	EntryPrice      fixedpoint.Int  `json:"entryPrice"`
	Amount          fixedpoint.Int  `json:"amount"`
	Leverage        int             `json:"leverage"`
	UnrealizedPnl   fixedpoint.Int  `json:"unrealizedPnl"`
	StopLossPrice   *fixedpoint.Int `json:"stopLossPrice,omitempty"`
	TakeProfitPrice *fixedpoint.Int `json:"takeProfitPrice,omitempty"`
	Status          PositionStatus  `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (p *Position) Clone() *Position {
	c := *p
	return &c
}

// PositionKey identifies the open position a fill merges into.
type PositionKey struct {
	UserID uuid.UUID
	Symbol string
	Side   Side
}

func (p *Position) Key() PositionKey {
	return PositionKey{UserID: p.UserID, Symbol: p.Symbol, Side: p.Side}
}
