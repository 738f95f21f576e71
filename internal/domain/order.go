package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
)

type Side string
type OrderType string
type OrderStatus string

const (
	Buy    Side      = "BUY"
	Sell   Side      = "SELL"
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"

	OrderOpen                OrderStatus = "OPEN"
	OrderClosed              OrderStatus = "CLOSED"
	OrderPartiallyLiquidated OrderStatus = "PARTIALLY_LIQUIDATED"
	OrderLiquidated          OrderStatus = "LIQUIDATED"
)

func (s Side) Valid() bool { return s == Buy || s == Sell }

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (t OrderType) Valid() bool { return t == Limit || t == Market }

type Order struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"userId"`
	Symbol          string          `json:"symbol"`
	Type            OrderType       `json:"type"`
	Side            Side            `json:"side"`
	Price           fixedpoint.Int  `json:"price"`
	Amount          fixedpoint.Int  `json:"amount"`
	Leverage        int             `json:"leverage"`
	StopLossPrice   *fixedpoint.Int `json:"stopLossPrice,omitempty"`
	TakeProfitPrice *fixedpoint.Int `json:"takeProfitPrice,omitempty"`
	Filled          fixedpoint.Int  `json:"filled"`
	Remaining       fixedpoint.Int  `json:"remaining"`
	Cost            fixedpoint.Int  `json:"cost"`
	Fee             fixedpoint.Int  `json:"fee"`
	FeeCurrency     string          `json:"feeCurrency"`
	Average         fixedpoint.Int  `json:"average"`
	Status          OrderStatus     `json:"status"`
	Trades          []Fill          `json:"trades"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy; matching always runs on clones so a skipped
// batch leaves the queued originals untouched.
func (o *Order) Clone() *Order {
	c := *o
	if o.StopLossPrice != nil {
		v := *o.StopLossPrice
		c.StopLossPrice = &v
	}
	if o.TakeProfitPrice != nil {
		v := *o.TakeProfitPrice
		c.TakeProfitPrice = &v
	}
	c.Trades = append([]Fill(nil), o.Trades...)
	return &c
}

func (o *Order) IsOpen() bool { return o.Status == OrderOpen }

// Validate checks the shape the engine relies on: ids, dates, required
// fixed-point fields and the fill invariant of an open order.
func (o *Order) Validate() error {
	var problems []string
	if o.ID == uuid.Nil {
		problems = append(problems, "missing id")
	}
	if o.UserID == uuid.Nil {
		problems = append(problems, "missing user id")
	}
	if o.Symbol == "" {
		problems = append(problems, "missing symbol")
	}
	if !o.Side.Valid() {
		problems = append(problems, fmt.Sprintf("invalid side %q", o.Side))
	}
	if !o.Type.Valid() {
		problems = append(problems, fmt.Sprintf("invalid type %q", o.Type))
	}
	if !o.Amount.IsPositive() {
		problems = append(problems, "amount must be positive")
	}
	if o.Price.IsNegative() {
		problems = append(problems, "price must not be negative")
	}
	if o.Type == Limit && !o.Price.IsPositive() {
		problems = append(problems, "limit price must be positive")
	}
	if o.Leverage < 1 {
		problems = append(problems, "leverage must be >= 1")
	}
	if o.Filled.IsNegative() || o.Remaining.IsNegative() {
		problems = append(problems, "negative fill state")
	}
	if o.IsOpen() && !o.Filled.Add(o.Remaining).Equal(o.Amount) {
		problems = append(problems, "filled + remaining != amount")
	}
	if o.CreatedAt.IsZero() {
		problems = append(problems, "missing createdAt")
	}
	if o.UpdatedAt.IsZero() {
		problems = append(problems, "missing updatedAt")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: order %s: %s", ErrInvalidOrder, o.ID, strings.Join(problems, ", "))
	}
	return nil
}

// QuoteCurrency returns the settlement currency of a "BASE/QUOTE" symbol.
func QuoteCurrency(symbol string) string {
	if i := strings.LastIndex(symbol, "/"); i >= 0 {
		return symbol[i+1:]
	}
	return symbol
}
