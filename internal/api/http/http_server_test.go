package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/olyamironova/futures-engine/internal/adapter/in_memory"
	"github.com/olyamironova/futures-engine/internal/api/dto"
	"github.com/olyamironova/futures-engine/internal/core"
	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
	"github.com/olyamironova/futures-engine/internal/middleware"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const symbol = "BTC/USDT"

type testAPI struct {
	repo   *in_memory.MemoryRepo
	engine *core.Engine
	router *gin.Engine
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := in_memory.NewMemoryRepo()
	repo.AddMarket(domain.MarketInfo{Symbol: symbol, Base: "BTC", Quote: "USDT", Active: true})
	conv := fixedpoint.NewConverter(0)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	engine, err := core.NewEngine(core.Deps{
		Orders:      repo,
		Positions:   repo.Positions(),
		Book:        repo,
		Candles:     repo,
		Markets:     repo,
		Batch:       repo,
		Converter:   conv,
		Wallets:     repo,
		Broadcaster: in_memory.NewRecorder(),
		Cache:       in_memory.NewCache(),
		Now:         func() time.Time { return now },
	})
	require.NoError(t, err)
	require.NoError(t, engine.Start(t.Context()))

	srv := NewHTTPServer(engine, core.NewOrderService(engine), conv, nil, nil, nil)
	return &testAPI{repo: repo, engine: engine, router: srv.Router()}
}

func (a *testAPI) do(t *testing.T, method, path string, user uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != uuid.Nil {
		req.Header.Set(middleware.UserHeader, user.String())
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func limitOrder(side string, price, amount string) dto.CreateOrderRequest {
	return dto.CreateOrderRequest{
		Symbol: symbol,
		Side:   side,
		Type:   "LIMIT",
		Price:  decimal.RequireFromString(price),
		Amount: decimal.RequireFromString(amount),
	}
}

func TestCreateOrderRestsInBook(t *testing.T) {
	api := newTestAPI(t)
	user := uuid.New()

	w := api.do(t, http.MethodPost, "/api/v1/orders", user, limitOrder("BUY", "100", "2"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[dto.CreateOrderResponse](t, w)
	assert.Equal(t, "OPEN", created.Order.Status)
	assert.Equal(t, "USDT", created.Order.FeeCurrency)
	assert.Equal(t, 1, created.Order.Leverage)

	w = api.do(t, http.MethodGet, "/api/v1/orderbook?symbol="+symbol, uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	book := decode[dto.GetOrderbookResponse](t, w)
	require.Len(t, book.Bids, 1)
	assert.True(t, book.Bids[0].Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, book.Bids[0].Amount.Equal(decimal.NewFromInt(2)))
	assert.Empty(t, book.Asks)

	w = api.do(t, http.MethodGet, "/api/v1/orders?open=true", user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	orders := decode[dto.GetOrdersResponse](t, w)
	require.Len(t, orders.Orders, 1)
	assert.Equal(t, created.Order.ID, orders.Orders[0].ID)
}

func TestCrossingOrdersMatch(t *testing.T) {
	api := newTestAPI(t)
	buyer, seller := uuid.New(), uuid.New()

	w := api.do(t, http.MethodPost, "/api/v1/orders", buyer, limitOrder("BUY", "101", "1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = api.do(t, http.MethodPost, "/api/v1/orders", seller, limitOrder("SELL", "100", "1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = api.do(t, http.MethodGet, "/api/v1/orders", buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	orders := decode[dto.GetOrdersResponse](t, w).Orders
	require.Len(t, orders, 1)
	assert.Equal(t, "CLOSED", orders[0].Status)
	assert.True(t, orders[0].Filled.Equal(decimal.NewFromInt(1)))
	assert.True(t, orders[0].Average.Equal(decimal.NewFromInt(100)), "sell price wins between limits")
	require.Len(t, orders[0].Trades, 1)

	w = api.do(t, http.MethodGet, "/api/v1/positions?status=OPEN", buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	positions := decode[dto.GetPositionsResponse](t, w).Positions
	require.Len(t, positions, 1)
	assert.Equal(t, "BUY", positions[0].Side)
	assert.True(t, positions[0].EntryPrice.Equal(decimal.NewFromInt(101)), "limit orders enter at their own price")
	assert.True(t, positions[0].UnrealizedPnl.Equal(decimal.NewFromInt(-1)))

	w = api.do(t, http.MethodGet, "/api/v1/orderbook?symbol="+symbol, uuid.Nil, nil)
	book := decode[dto.GetOrderbookResponse](t, w)
	assert.Empty(t, book.Bids)
	assert.Empty(t, book.Asks)

	w = api.do(t, http.MethodGet, "/api/v1/ticker?symbol="+symbol, uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	ticker := decode[dto.Ticker](t, w)
	assert.True(t, ticker.Last.Equal(decimal.NewFromInt(100)))
}

func TestCancelOrder(t *testing.T) {
	api := newTestAPI(t)
	user := uuid.New()

	w := api.do(t, http.MethodPost, "/api/v1/orders", user, limitOrder("SELL", "120", "3"))
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[dto.CreateOrderResponse](t, w).Order.ID

	w = api.do(t, http.MethodDelete, "/api/v1/orders/"+id, uuid.New(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "other users cannot cancel")

	w = api.do(t, http.MethodDelete, "/api/v1/orders/"+id, user, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[dto.CancelOrderResponse](t, w).Cancelled)
	assert.Zero(t, api.engine.QueueLen(symbol))

	w = api.do(t, http.MethodGet, "/api/v1/orderbook?symbol="+symbol, uuid.Nil, nil)
	assert.Empty(t, decode[dto.GetOrderbookResponse](t, w).Asks)

	w = api.do(t, http.MethodDelete, "/api/v1/orders/"+id, user, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(t, http.MethodDelete, "/api/v1/orders/not-a-uuid", user, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateOrderDeduplicatesClientOrderID(t *testing.T) {
	api := newTestAPI(t)
	user := uuid.New()
	req := limitOrder("BUY", "90", "1")
	req.ClientOrderID = "abc-1"

	w := api.do(t, http.MethodPost, "/api/v1/orders", user, req)
	require.Equal(t, http.StatusCreated, w.Code)
	first := decode[dto.CreateOrderResponse](t, w)

	w = api.do(t, http.MethodPost, "/api/v1/orders", user, req)
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[dto.CreateOrderResponse](t, w)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, "duplicate order", second.Message)
	assert.Equal(t, 1, api.engine.QueueLen(symbol))
}

func TestCreateOrderRejections(t *testing.T) {
	api := newTestAPI(t)
	user := uuid.New()

	tests := []struct {
		name string
		user uuid.UUID
		body any
		code int
	}{
		{"missing user", uuid.Nil, limitOrder("BUY", "1", "1"), http.StatusUnauthorized},
		{"bad side", user, limitOrder("HOLD", "1", "1"), http.StatusBadRequest},
		{"unknown market", user, dto.CreateOrderRequest{Symbol: "DOGE/USDT", Side: "BUY", Type: "LIMIT", Price: decimal.NewFromInt(1), Amount: decimal.NewFromInt(1)}, http.StatusBadRequest},
		{"limit without price", user, dto.CreateOrderRequest{Symbol: symbol, Side: "BUY", Type: "LIMIT", Amount: decimal.NewFromInt(1)}, http.StatusBadRequest},
		{"negative leverage", user, dto.CreateOrderRequest{Symbol: symbol, Side: "BUY", Type: "MARKET", Amount: decimal.NewFromInt(1), Leverage: -2}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, http.MethodPost, "/api/v1/orders", tt.user, tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
	assert.Zero(t, api.engine.QueueLen(""))
}

func TestClosePositionWithoutWallet(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(t, http.MethodPost, "/api/v1/positions/close", uuid.New(), dto.ClosePositionRequest{Symbol: symbol, Side: "BUY"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPublicEndpoints(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/v1/markets", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	markets := decode[dto.GetMarketsResponse](t, w).Markets
	require.Len(t, markets, 1)
	assert.Equal(t, "USDT", markets[0].Quote)

	w = api.do(t, http.MethodGet, "/api/v1/tickers", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[dto.GetTickersResponse](t, w).Tickers, 1)

	w = api.do(t, http.MethodGet, "/api/v1/ticker?symbol=ETH/USDT", uuid.Nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/candles?symbol="+symbol+"&interval=7m", uuid.Nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/candles?symbol="+symbol+"&interval=1m", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[dto.GetCandlesResponse](t, w).Candles)

	w = api.do(t, http.MethodGet, "/api/v1/orderbook", uuid.Nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/healthz", uuid.Nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(core.ErrOrderLocked))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(core.ErrNotConfigured))
	assert.Equal(t, http.StatusNotFound, statusFor(core.ErrNoPosition))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
