package http

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/olyamironova/futures-engine/internal/api/dto"
	"github.com/olyamironova/futures-engine/internal/core"
	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
	"github.com/olyamironova/futures-engine/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type HTTPServer struct {
	Eng    *core.Engine
	Orders *core.OrderService
	Conv   fixedpoint.Converter
	WS     http.Handler
	Limit  *middleware.RateLimiter
	Log    *zap.Logger

	submittedID sync.Map // client_order_id -> *domain.Order
}

func NewHTTPServer(eng *core.Engine, orders *core.OrderService, conv fixedpoint.Converter, ws http.Handler, limit *middleware.RateLimiter, log *zap.Logger) *HTTPServer {
	if log == nil {
		log = zap.NewNop()
	}
	if limit == nil {
		limit = middleware.NewRateLimiter(0)
	}
	return &HTTPServer{Eng: eng, Orders: orders, Conv: conv, WS: ws, Limit: limit, Log: log.Named("http")}
}

func (s *HTTPServer) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger(s.Log))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if s.WS != nil {
		r.GET("/ws", gin.WrapH(s.WS))
	}

	pub := r.Group("/api/v1")
	pub.GET("/markets", s.getMarkets)
	pub.GET("/orderbook", s.getOrderbook)
	pub.GET("/tickers", s.getTickers)
	pub.GET("/ticker", s.getTicker)
	pub.GET("/candles", s.getCandles)

	priv := r.Group("/api/v1", middleware.RequireUser(), s.Limit.Middleware())
	priv.POST("/orders", s.createOrder)
	priv.DELETE("/orders/:id", s.cancelOrder)
	priv.GET("/orders", s.getOrders)
	priv.GET("/positions", s.getPositions)
	priv.POST("/positions/close", s.closePosition)

	return r
}

func (s *HTTPServer) createOrder(c *gin.Context) {
	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	userID := middleware.UserID(c)

	// deduplication
	var dedupKey string
	if req.ClientOrderID != "" {
		dedupKey = userID.String() + "/" + req.ClientOrderID
		if prev, ok := s.submittedID.Load(dedupKey); ok {
			c.JSON(http.StatusOK, dto.CreateOrderResponse{Order: s.convertOrder(prev.(*domain.Order)), Message: "duplicate order"})
			return
		}
	}

	o, err := s.Orders.CreateOrder(c.Request.Context(), core.CreateOrderRequest{
		UserID:          userID,
		Symbol:          req.Symbol,
		Type:            domain.OrderType(req.Type),
		Side:            domain.Side(req.Side),
		Price:           s.Conv.ToFixedPoint(req.Price),
		Amount:          s.Conv.ToFixedPoint(req.Amount),
		Leverage:        req.Leverage,
		StopLossPrice:   s.optFixed(req.StopLossPrice),
		TakeProfitPrice: s.optFixed(req.TakeProfitPrice),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	if dedupKey != "" {
		s.submittedID.Store(dedupKey, o)
	}
	c.JSON(http.StatusCreated, dto.CreateOrderResponse{Order: s.convertOrder(o)})
}

func (s *HTTPServer) cancelOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid order id"})
		return
	}
	o, err := s.Orders.CancelOrder(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.CancelOrderResponse{OrderID: o.ID.String(), Cancelled: true})
}

func (s *HTTPServer) getOrders(c *gin.Context) {
	openOnly := c.Query("open") == "true"
	orders, err := s.Eng.GetOrders(c.Request.Context(), middleware.UserID(c), c.Query("symbol"), openOnly)
	if err != nil {
		s.fail(c, err)
		return
	}
	res := dto.GetOrdersResponse{Orders: make([]dto.Order, 0, len(orders))}
	for _, o := range orders {
		res.Orders = append(res.Orders, s.convertOrder(o))
	}
	c.JSON(http.StatusOK, res)
}

func (s *HTTPServer) getOrderbook(c *gin.Context) {
	var req dto.GetOrderbookRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	ob, err := s.Eng.GetOrderBook(c.Request.Context(), req.Symbol)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.GetOrderbookResponse{
		Symbol:    ob.Symbol,
		Bids:      s.convertLevels(ob.Bids),
		Asks:      s.convertLevels(ob.Asks),
		Timestamp: ob.Timestamp,
	})
}

func (s *HTTPServer) getTickers(c *gin.Context) {
	all := s.Eng.GetTickers()
	res := dto.GetTickersResponse{Tickers: make([]dto.Ticker, 0, len(all))}
	for _, t := range all {
		res.Tickers = append(res.Tickers, s.convertTicker(t))
	}
	c.JSON(http.StatusOK, res)
}

func (s *HTTPServer) getTicker(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "symbol is required"})
		return
	}
	if !s.Eng.HasMarket(symbol) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "unknown market"})
		return
	}
	c.JSON(http.StatusOK, s.convertTicker(s.Eng.GetTicker(symbol)))
}

func (s *HTTPServer) getCandles(c *gin.Context) {
	var req dto.GetCandlesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	interval, err := domain.ParseInterval(req.Interval)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	candles, err := s.Eng.GetCandles(c.Request.Context(), req.Symbol, interval, req.From, req.To)
	if err != nil {
		s.fail(c, err)
		return
	}
	res := dto.GetCandlesResponse{Candles: make([]dto.Candle, 0, len(candles))}
	for _, k := range candles {
		res.Candles = append(res.Candles, dto.Candle{
			Symbol:    k.Symbol,
			Interval:  string(k.Interval),
			Open:      s.Conv.FromFixedPoint(k.Open),
			High:      s.Conv.FromFixedPoint(k.High),
			Low:       s.Conv.FromFixedPoint(k.Low),
			Close:     s.Conv.FromFixedPoint(k.Close),
			Volume:    s.Conv.FromFixedPoint(k.Volume),
			Timestamp: k.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, res)
}

func (s *HTTPServer) getPositions(c *gin.Context) {
	status := domain.PositionStatus(c.Query("status"))
	positions, err := s.Eng.GetPositions(c.Request.Context(), middleware.UserID(c), c.Query("symbol"), status)
	if err != nil {
		s.fail(c, err)
		return
	}
	res := dto.GetPositionsResponse{Positions: make([]dto.Position, 0, len(positions))}
	for _, p := range positions {
		res.Positions = append(res.Positions, s.convertPosition(p))
	}
	c.JSON(http.StatusOK, res)
}

func (s *HTTPServer) closePosition(c *gin.Context) {
	var req dto.ClosePositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	p, err := s.Eng.ClosePosition(c.Request.Context(), domain.PositionKey{
		UserID: middleware.UserID(c),
		Symbol: req.Symbol,
		Side:   domain.Side(req.Side),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ClosePositionResponse{Position: s.convertPosition(p)})
}

func (s *HTTPServer) getMarkets(c *gin.Context) {
	markets := s.Eng.Markets()
	res := dto.GetMarketsResponse{Markets: make([]dto.Market, 0, len(markets))}
	for _, m := range markets {
		res.Markets = append(res.Markets, dto.Market{Symbol: m.Symbol, Base: m.Base, Quote: m.Quote})
	}
	c.JSON(http.StatusOK, res)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, core.ErrNoPosition), errors.Is(err, core.ErrNoWallet):
		return http.StatusNotFound
	case errors.Is(err, core.ErrOrderLocked):
		return http.StatusConflict
	case errors.Is(err, core.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) fail(c *gin.Context, err error) {
	code := statusFor(err)
	_ = c.Error(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.JSON(code, dto.ErrorResponse{Error: msg})
}
