package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
)

// CalculateUnrealizedPnl is the linear notional PnL of amount held at entry,
// marked at current. Leverage does not scale it.
func CalculateUnrealizedPnl(entry, amount, current fixedpoint.Int, side domain.Side) fixedpoint.Int {
	e, a, c := entry.Decimal(), amount.Decimal(), current.Decimal()
	diff := c.Sub(e)
	if side == domain.Sell {
		diff = e.Sub(c)
	}
	return fixedpoint.FromDecimal(diff.Mul(a))
}

// fillPrice is the price a fill contributes to the entry average: the order's
// own limit price, or the matched price for market orders.
func fillPrice(o *domain.Order, matched fixedpoint.Int) fixedpoint.Int {
	if o.Type == domain.Market || !o.Price.IsPositive() {
		return matched
	}
	return o.Price
}

// MergeFill folds a fill of order into existing (which may be nil) and returns
// the resulting position. existing is not modified.
func MergeFill(existing *domain.Position, o *domain.Order, amount, matched fixedpoint.Int, now time.Time) *domain.Position {
	price := fillPrice(o, matched)
	if existing == nil {
		return &domain.Position{
			ID:              uuid.New(),
			UserID:          o.UserID,
			Symbol:          o.Symbol,
			Side:            o.Side,
			EntryPrice:      price,
			Amount:          amount,
			Leverage:        o.Leverage,
			UnrealizedPnl:   CalculateUnrealizedPnl(price, amount, matched, o.Side),
			StopLossPrice:   o.StopLossPrice,
			TakeProfitPrice: o.TakeProfitPrice,
			Status:          domain.PositionOpen,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	}
	p := existing.Clone()
	newAmount := p.Amount.Add(amount)
	if newAmount.IsPositive() {
		notional := p.EntryPrice.Mul(p.Amount).Add(price.Mul(amount))
		p.EntryPrice = notional.Div(newAmount)
	}
	p.Amount = newAmount
	p.UnrealizedPnl = CalculateUnrealizedPnl(p.EntryPrice, p.Amount, matched, p.Side)
	if o.StopLossPrice != nil {
		p.StopLossPrice = o.StopLossPrice
	}
	if o.TakeProfitPrice != nil {
		p.TakeProfitPrice = o.TakeProfitPrice
	}
	p.UpdatedAt = now
	return p
}

// positionLedger accumulates the position writes of one drain so several fills
// for the same (user, symbol, side) merge into a single row.
type positionLedger struct {
	created map[domain.PositionKey]*domain.Position
	updated map[domain.PositionKey]*domain.Position
	order   []domain.PositionKey
}

func newPositionLedger() *positionLedger {
	return &positionLedger{
		created: make(map[domain.PositionKey]*domain.Position),
		updated: make(map[domain.PositionKey]*domain.Position),
	}
}

func (l *positionLedger) current(k domain.PositionKey) (*domain.Position, bool) {
	if p, ok := l.created[k]; ok {
		return p, true
	}
	p, ok := l.updated[k]
	return p, ok
}

func (l *positionLedger) put(p *domain.Position, isNew bool) {
	k := p.Key()
	if _, seen := l.current(k); !seen {
		l.order = append(l.order, k)
	}
	if _, ok := l.created[k]; ok || isNew {
		l.created[k] = p
		return
	}
	l.updated[k] = p
}

func (l *positionLedger) positions() []*domain.Position {
	out := make([]*domain.Position, 0, len(l.order))
	for _, k := range l.order {
		p, _ := l.current(k)
		out = append(out, p)
	}
	return out
}
