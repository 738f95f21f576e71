package in_memory

import (
	"context"
	"sync"

	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/port"
)

// Recorder is a Broadcaster and Notifier that keeps everything it receives.
type Recorder struct {
	mu            sync.Mutex
	books         []*domain.OrderBookSnapshot
	orders        []*domain.Order
	trades        []domain.TradeEvent
	tickers       []domain.Ticker
	candles       []*domain.Candle
	positions     []*domain.Position
	notifications []domain.Notification
	notifyErr     error
}

var (
	_ port.Broadcaster = (*Recorder)(nil)
	_ port.Notifier    = (*Recorder)(nil)
)

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) OrderBook(symbol string, book *domain.OrderBookSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books = append(r.books, copySnapshot(book))
}

func (r *Recorder) Order(o *domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, o.Clone())
}

func (r *Recorder) Trades(symbol string, trades []domain.TradeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, trades...)
}

func (r *Recorder) Ticker(symbol string, t domain.Ticker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickers = append(r.tickers, t)
}

func (r *Recorder) Tickers(all []domain.Ticker) {}

func (r *Recorder) Candle(symbol string, interval domain.Interval, c *domain.Candle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candles = append(r.candles, c.Clone())
}

func (r *Recorder) Position(p *domain.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = append(r.positions, p.Clone())
}

// FailNotifications makes Enqueue return err.
func (r *Recorder) FailNotifications(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifyErr = err
}

func (r *Recorder) Enqueue(ctx context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.notifyErr != nil {
		return r.notifyErr
	}
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *Recorder) Books() []*domain.OrderBookSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.OrderBookSnapshot(nil), r.books...)
}

func (r *Recorder) Orders() []*domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.Order(nil), r.orders...)
}

func (r *Recorder) TradeEvents() []domain.TradeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TradeEvent(nil), r.trades...)
}

func (r *Recorder) TickerUpdates() []domain.Ticker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Ticker(nil), r.tickers...)
}

func (r *Recorder) Candles() []*domain.Candle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.Candle(nil), r.candles...)
}

func (r *Recorder) Positions() []*domain.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.Position(nil), r.positions...)
}

func (r *Recorder) Notifications() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notification(nil), r.notifications...)
}
