package core

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/futures-engine/internal/adapter/in_memory"
	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type harness struct {
	repo     *in_memory.MemoryRepo
	recorder *in_memory.Recorder
	engine   *Engine
	orders   *OrderService
}

func newHarness(t *testing.T, setup ...func(*in_memory.MemoryRepo)) *harness {
	t.Helper()
	repo := in_memory.NewMemoryRepo()
	repo.AddMarket(domain.MarketInfo{Symbol: testSymbol, Base: "BTC", Quote: "USDT", Active: true})
	for _, fn := range setup {
		fn(repo)
	}
	rec := in_memory.NewRecorder()
	e, err := NewEngine(Deps{
		Orders:      repo,
		Positions:   repo.Positions(),
		Book:        repo,
		Candles:     repo,
		Markets:     repo,
		Batch:       repo,
		Converter:   fixedpoint.NewConverter(0),
		Wallets:     repo,
		Broadcaster: rec,
		Notifier:    rec,
		Cache:       in_memory.NewCache(),
		Logger:      zaptest.NewLogger(t),
		Now:         func() time.Time { return t0 },
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(t.Context()))
	t.Cleanup(e.Close)
	return &harness{repo: repo, recorder: rec, engine: e, orders: NewOrderService(e)}
}

func (h *harness) place(t *testing.T, user uuid.UUID, side domain.Side, typ domain.OrderType, price, amount string, leverage int) *domain.Order {
	t.Helper()
	o, err := h.orders.CreateOrder(t.Context(), CreateOrderRequest{
		UserID:   user,
		Symbol:   testSymbol,
		Type:     typ,
		Side:     side,
		Price:    fp(price),
		Amount:   fp(amount),
		Leverage: leverage,
	})
	require.NoError(t, err)
	return o
}

func (h *harness) stored(t *testing.T, id uuid.UUID) *domain.Order {
	t.Helper()
	o, ok := h.repo.Order(id)
	require.True(t, ok, "order %s not stored", id)
	return o
}

func TestNewEngineRequiresStores(t *testing.T) {
	_, err := NewEngine(Deps{})
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.Contains(t, err.Error(), "order store")
	assert.Contains(t, err.Error(), "numeric converter")
}

func TestEngineMatchPersistsAndBroadcasts(t *testing.T) {
	h := newHarness(t)
	buyer, seller := uuid.New(), uuid.New()

	buy := h.place(t, buyer, domain.Buy, domain.Limit, "100", "3", 1)
	assert.Equal(t, 1, h.engine.QueueLen(testSymbol))
	assert.Zero(t, h.repo.Batches())

	sell := h.place(t, seller, domain.Sell, domain.Limit, "100", "2", 1)

	assert.Equal(t, 1, h.repo.Batches())
	assert.Zero(t, h.engine.LockedOrders())
	assert.Equal(t, 1, h.engine.QueueLen(testSymbol), "partially filled buy stays queued")

	storedBuy := h.stored(t, buy.ID)
	assert.Equal(t, domain.OrderOpen, storedBuy.Status)
	assert.True(t, storedBuy.Filled.Equal(fp("2")))
	assert.True(t, storedBuy.Remaining.Equal(fp("1")))
	assert.Equal(t, domain.OrderClosed, h.stored(t, sell.ID).Status)

	book, err := h.engine.GetOrderBook(t.Context(), testSymbol)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	assert.True(t, book.Bids[0].Amount.Equal(fp("1")))
	assert.Empty(t, book.Asks)

	assert.Len(t, h.recorder.TradeEvents(), 2)
	assert.Len(t, h.recorder.Candles(), len(domain.Intervals))
	assert.NotEmpty(t, h.recorder.TickerUpdates())

	tk := h.engine.GetTicker(testSymbol)
	assert.True(t, tk.Last.Equal(fp("100")))

	candles, err := h.engine.GetCandles(t.Context(), testSymbol, domain.Interval1m, t0.Add(-time.Hour), time.Time{})
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.True(t, candles[0].Close.Equal(fp("100")))

	positions, err := h.engine.GetPositions(t.Context(), seller, testSymbol, domain.PositionOpen)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, domain.Sell, positions[0].Side)
	assert.True(t, positions[0].Amount.Equal(fp("2")))
}

func TestEngineBatchFailureKeepsQueue(t *testing.T) {
	h := newHarness(t)
	h.repo.FailBatches(assert.AnError)

	buy := h.place(t, uuid.New(), domain.Buy, domain.Limit, "100", "1", 1)
	sell := h.place(t, uuid.New(), domain.Sell, domain.Limit, "100", "1", 1)

	assert.Equal(t, 2, h.engine.QueueLen(testSymbol))
	assert.Zero(t, h.engine.LockedOrders(), "locks are released after a failed write")
	assert.Equal(t, domain.OrderOpen, h.stored(t, buy.ID).Status)
	assert.Empty(t, h.recorder.TradeEvents())

	h.repo.FailBatches(nil)
	h.engine.Drain(t.Context())

	assert.Zero(t, h.engine.QueueLen(testSymbol))
	assert.Equal(t, domain.OrderClosed, h.stored(t, buy.ID).Status)
	assert.Equal(t, domain.OrderClosed, h.stored(t, sell.ID).Status)
}

func TestEngineSkipsBatchWithLockedOrder(t *testing.T) {
	h := newHarness(t)
	buy := h.place(t, uuid.New(), domain.Buy, domain.Limit, "100", "1", 1)

	held := []uuid.UUID{buy.ID}
	require.True(t, h.engine.locks.TryLock(held))

	sell := h.place(t, uuid.New(), domain.Sell, domain.Limit, "100", "1", 1)
	assert.Zero(t, h.repo.Batches(), "whole batch skipped")
	assert.Equal(t, 2, h.engine.QueueLen(testSymbol))

	_, err := h.orders.CancelOrder(t.Context(), buy.UserID, buy.ID)
	assert.ErrorIs(t, err, ErrOrderLocked)

	h.engine.locks.Unlock(held)
	h.engine.Drain(t.Context())

	assert.Equal(t, 1, h.repo.Batches())
	assert.Equal(t, domain.OrderClosed, h.stored(t, sell.ID).Status)
}

func TestEngineCancelOrder(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	o := h.place(t, user, domain.Buy, domain.Limit, "100", "4", 1)

	cancelled, err := h.orders.CancelOrder(t.Context(), user, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderClosed, cancelled.Status)
	assert.Zero(t, h.engine.QueueLen(testSymbol))

	_, ok := h.repo.Order(o.ID)
	assert.False(t, ok)

	book, err := h.engine.GetOrderBook(t.Context(), testSymbol)
	require.NoError(t, err)
	assert.Empty(t, book.Bids)

	_, err = h.orders.CancelOrder(t.Context(), user, o.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	removed, err := h.engine.HandleOrderCancellation(t.Context(), uuid.New(), testSymbol)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestEngineRejectsInvalidOrders(t *testing.T) {
	h := newHarness(t)

	_, err := h.orders.CreateOrder(t.Context(), CreateOrderRequest{
		UserID: uuid.New(), Symbol: "ETH/USDT", Type: domain.Limit, Side: domain.Buy, Price: fp("1"), Amount: fp("1"),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	closed := newOrder(domain.Buy, domain.Limit, "100", "1", 0)
	closed.Status = domain.OrderClosed
	assert.ErrorIs(t, h.engine.AddToQueue(t.Context(), closed), domain.ErrInvalidOrder)

	noUser := newOrder(domain.Buy, domain.Limit, "100", "1", 0)
	noUser.UserID = uuid.Nil
	assert.ErrorIs(t, h.engine.AddToQueue(t.Context(), noUser), domain.ErrInvalidOrder)

	assert.Zero(t, h.engine.QueueLen(""))
}

func TestEngineAddToQueueIsIdempotent(t *testing.T) {
	h := newHarness(t)
	o := newOrder(domain.Buy, domain.Limit, "100", "1", 0)
	require.NoError(t, h.repo.Insert(t.Context(), o))

	require.NoError(t, h.engine.AddToQueue(t.Context(), o))
	require.NoError(t, h.engine.AddToQueue(t.Context(), o))

	assert.Equal(t, 1, h.engine.QueueLen(testSymbol))
}

func TestEngineStartSkipsMalformedOrders(t *testing.T) {
	good := newOrder(domain.Sell, domain.Limit, "100", "1", 0)
	bad := newOrder(domain.Sell, domain.Limit, "100", "1", 0)
	bad.UpdatedAt = time.Time{}
	inconsistent := newOrder(domain.Sell, domain.Limit, "100", "1", 0)
	inconsistent.Filled = fp("0.5")

	h := newHarness(t, func(r *in_memory.MemoryRepo) {
		for _, o := range []*domain.Order{good, bad, inconsistent} {
			require.NoError(t, r.Insert(context.Background(), o))
		}
	})

	assert.Equal(t, 1, h.engine.QueueLen(testSymbol))
	assert.Len(t, h.engine.Markets(), 1)
	assert.True(t, h.engine.HasMarket(testSymbol))
	assert.False(t, h.engine.HasMarket("ETH/USDT"))
}

func TestEngineStartLiquidatesUnderwaterPositions(t *testing.T) {
	pos := leveraged(domain.Buy, "100", "10", 10)
	h := newHarness(t, func(r *in_memory.MemoryRepo) {
		r.PutCandle(&domain.Candle{
			Symbol:    testSymbol,
			Interval:  domain.Interval1m,
			Open:      fp("95"),
			High:      fp("95"),
			Low:       fp("92"),
			Close:     fp("92"),
			Volume:    fp("1"),
			CreatedAt: t0,
			UpdatedAt: t0,
		})
		r.SetWallet(pos.UserID, "USDT", decimal.Zero)
		require.NoError(t, r.Positions().Create(context.Background(), pos))
	})
	h.engine.Close()

	positions, err := h.engine.GetPositions(t.Context(), pos.UserID, testSymbol, "")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, domain.PositionPartiallyLiquidated, positions[0].Status)
	assert.True(t, positions[0].Amount.Equal(fp("2")))

	w, err := h.repo.Get(t.Context(), pos.UserID, "USDT")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(200)), "remaining 2 at entry 100, got %s", w.Balance)

	notes := h.recorder.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, domain.EmailPartialLiquidationNotification, notes[0].EmailType)
	assert.Equal(t, pos.ID.String(), notes[0].EmailData["positionId"])
	assert.Equal(t, "2", notes[0].EmailData["remainingAmount"])
}

func TestEngineDrainLiquidatesTouchedUser(t *testing.T) {
	pos := leveraged(domain.Buy, "100", "5", 10)
	h := newHarness(t, func(r *in_memory.MemoryRepo) {
		require.NoError(t, r.Positions().Create(context.Background(), pos))
	})

	// the holder trades at 90 on the other side, which re-checks the long
	h.place(t, pos.UserID, domain.Sell, domain.Limit, "90", "1", 1)
	h.place(t, uuid.New(), domain.Buy, domain.Limit, "90", "1", 1)
	h.engine.Close()

	positions, err := h.engine.GetPositions(t.Context(), pos.UserID, testSymbol, domain.PositionLiquidated)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, pos.ID, positions[0].ID)
	assert.True(t, positions[0].Amount.IsZero())

	notes := h.recorder.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, domain.EmailLiquidationNotification, notes[0].EmailType)
}

func TestCheckLiquidationLeavesHealthyPosition(t *testing.T) {
	h := newHarness(t)
	pos := leveraged(domain.Buy, "100", "1", 10)

	got, action, err := h.engine.CheckLiquidation(t.Context(), pos, fp("92.1"))
	require.NoError(t, err)
	assert.Equal(t, NoLiquidation, action)
	assert.Same(t, pos, got)

	_, _, err = h.engine.CheckLiquidation(t.Context(), leveraged(domain.Buy, "0", "1", 10), fp("1"))
	assert.ErrorIs(t, err, ErrZeroEntryPrice)
}

func TestSendLiquidationWarning(t *testing.T) {
	h := newHarness(t)
	pos := leveraged(domain.Sell, "100", "1", 5)

	require.NoError(t, h.engine.SendLiquidationWarning(t.Context(), pos, decimal.RequireFromString("-0.7")))

	notes := h.recorder.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, domain.EmailLiquidationWarning, notes[0].EmailType)
	assert.Equal(t, "-0.7", notes[0].EmailData["margin"])
}

func TestClosePosition(t *testing.T) {
	long := leveraged(domain.Buy, "100", "2", 1)
	short := leveraged(domain.Sell, "100", "1", 1)
	h := newHarness(t, func(r *in_memory.MemoryRepo) {
		r.SetWallet(long.UserID, "USDT", decimal.NewFromInt(1000))
		r.SetWallet(short.UserID, "USDT", decimal.NewFromInt(1000))
		require.NoError(t, r.Positions().Create(context.Background(), long))
		require.NoError(t, r.Positions().Create(context.Background(), short))
	})
	// last price 110 from an unrelated trade
	h.place(t, uuid.New(), domain.Buy, domain.Limit, "110", "1", 1)
	h.place(t, uuid.New(), domain.Sell, domain.Limit, "110", "1", 1)

	closed, err := h.engine.ClosePosition(t.Context(), long.Key())
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosed, closed.Status)
	assert.True(t, closed.UnrealizedPnl.Equal(fp("20")))
	w, err := h.repo.Get(t.Context(), long.UserID, "USDT")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(1020)))

	_, err = h.engine.ClosePosition(t.Context(), short.Key())
	require.NoError(t, err)
	w, err = h.repo.Get(t.Context(), short.UserID, "USDT")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(990)))

	_, err = h.engine.ClosePosition(t.Context(), long.Key())
	assert.ErrorIs(t, err, ErrNoPosition)

	_, err = h.engine.ClosePosition(t.Context(), domain.PositionKey{UserID: uuid.New(), Symbol: testSymbol, Side: domain.Buy})
	assert.ErrorIs(t, err, ErrNoWallet)
}
