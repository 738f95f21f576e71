package core

import (
	"context"
	"time"

	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/port"
	"go.uber.org/zap"
)

func updateCache(ctx context.Context, cache port.Cache, log *zap.Logger, snap *domain.OrderBookSnapshot) {
	if cache == nil {
		return
	}
	if err := cache.SetOrderBook(ctx, snap.Symbol, snap); err != nil {
		log.Warn("order book cache write failed", zap.String("symbol", snap.Symbol), zap.Error(err))
		if err := cache.Invalidate(ctx, snap.Symbol); err != nil {
			log.Warn("order book cache invalidate failed", zap.String("symbol", snap.Symbol), zap.Error(err))
		}
	}
}

func getOrLoadSnapshot(ctx context.Context, store port.OrderBookStore, cache port.Cache, log *zap.Logger, symbol string, now time.Time) (*domain.OrderBookSnapshot, error) {
	if cache != nil {
		ob, err := cache.GetOrderBook(ctx, symbol)
		if err != nil {
			log.Warn("order book cache read failed", zap.String("symbol", symbol), zap.Error(err))
		} else if ob != nil {
			return ob, nil
		}
	}
	book, err := store.FetchExisting(ctx, symbol)
	if err != nil {
		return nil, err
	}
	snap := book.Snapshot(now)
	updateCache(ctx, cache, log, snap)
	return snap, nil
}
