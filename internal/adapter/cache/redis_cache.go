package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/port"
	"github.com/redis/go-redis/v9"
)

var _ port.Cache = (*RedisCache)(nil)

type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisCache(addr string, password string, db int, ttl time.Duration) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisCacheWithClient(rdb, ttl)
}

func NewRedisCacheWithClient(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func key(symbol string) string { return "ob:" + symbol }

func (c *RedisCache) SetOrderBook(ctx context.Context, symbol string, ob *domain.OrderBookSnapshot) error {
	b, err := json.Marshal(ob)
	if err != nil {
		return fmt.Errorf("cache: marshal order book: %w", err)
	}
	return c.client.Set(ctx, key(symbol), b, c.ttl).Err()
}

// GetOrderBook returns (nil, nil) on a miss.
func (c *RedisCache) GetOrderBook(ctx context.Context, symbol string) (*domain.OrderBookSnapshot, error) {
	b, err := c.client.Get(ctx, key(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ob domain.OrderBookSnapshot
	if err := json.Unmarshal(b, &ob); err != nil {
		return nil, fmt.Errorf("cache: unmarshal order book: %w", err)
	}
	return &ob, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, symbol string) error {
	return c.client.Del(ctx, key(symbol)).Err()
}
