package in_memory

import (
	"context"
	"sync"

	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/port"
)

type Cache struct {
	mu    sync.Mutex
	store map[string]*domain.OrderBookSnapshot
}

var _ port.Cache = (*Cache)(nil)

func NewCache() *Cache {
	return &Cache{store: make(map[string]*domain.OrderBookSnapshot)}
}

func (c *Cache) SetOrderBook(ctx context.Context, symbol string, ob *domain.OrderBookSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[symbol] = copySnapshot(ob)
	return nil
}

func (c *Cache) GetOrderBook(ctx context.Context, symbol string) (*domain.OrderBookSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ob, ok := c.store[symbol]
	if !ok {
		return nil, nil
	}
	return copySnapshot(ob), nil
}

func (c *Cache) Invalidate(ctx context.Context, symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, symbol)
	return nil
}

func copySnapshot(ob *domain.OrderBookSnapshot) *domain.OrderBookSnapshot {
	c := *ob
	c.Bids = append([]domain.PriceLevel(nil), ob.Bids...)
	c.Asks = append([]domain.PriceLevel(nil), ob.Asks...)
	return &c
}
