package port

import (
	"context"

	"github.com/olyamironova/futures-engine/internal/domain"
)

// Broadcaster is a one-way publisher; implementations log delivery failures
// and never report them back.
type Broadcaster interface {
	OrderBook(symbol string, book *domain.OrderBookSnapshot)
	Order(o *domain.Order)
	Trades(symbol string, trades []domain.TradeEvent)
	Ticker(symbol string, t domain.Ticker)
	Tickers(all []domain.Ticker)
	Candle(symbol string, interval domain.Interval, c *domain.Candle)
	Position(p *domain.Position)
}

type Notifier interface {
	Enqueue(ctx context.Context, n domain.Notification) error
}
