package port

import (
	"context"

	"github.com/olyamironova/futures-engine/internal/domain"
)

// Cache keeps the last derived order book per symbol. A miss returns (nil, nil).
type Cache interface {
	SetOrderBook(ctx context.Context, symbol string, ob *domain.OrderBookSnapshot) error
	GetOrderBook(ctx context.Context, symbol string) (*domain.OrderBookSnapshot, error)
	Invalidate(ctx context.Context, symbol string) error
}
