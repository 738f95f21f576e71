package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
	"github.com/olyamironova/futures-engine/internal/metrics"
	"github.com/olyamironova/futures-engine/internal/port"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotConfigured = errors.New("engine: dependency not configured")
	ErrOrderLocked   = errors.New("engine: order is locked by a running batch")
	ErrNoWallet      = errors.New("engine: wallet not found")
	ErrNoPosition    = errors.New("engine: position not found")
)

// positionCheckConcurrency bounds concurrent per-user position refreshes after a drain.
const positionCheckConcurrency = 8

const notifyTimeout = 10 * time.Second

// Deps are the collaborators an Engine is constructed with. Broadcaster,
// Notifier, Wallets and Cache are optional.
type Deps struct {
	Orders      port.OrderStore
	Positions   port.PositionStore
	Book        port.OrderBookStore
	Candles     port.CandleStore
	Markets     port.MarketStore
	Batch       port.BatchWriter
	Converter   fixedpoint.Converter
	Wallets     port.WalletService
	Broadcaster port.Broadcaster
	Notifier    port.Notifier
	Cache       port.Cache
	Logger      *zap.Logger
	FeeRate     fixedpoint.Int
	Now         func() time.Time
}

// Engine owns the per-symbol order queue, the candle caches and the order lock
// set, and is the only writer of drain results.
type Engine struct {
	orders    port.OrderStore
	positions port.PositionStore
	book      port.OrderBookStore
	candles   port.CandleStore
	markets   port.MarketStore
	batch     port.BatchWriter
	conv      fixedpoint.Converter
	wallets   port.WalletService
	bc        port.Broadcaster
	notifier  port.Notifier
	cache     port.Cache
	log       *zap.Logger
	feeRate   fixedpoint.Int
	now       func() time.Time

	mu          sync.Mutex
	queue       map[string][]*domain.Order
	lastCandles map[domain.CandleKey]*domain.Candle
	yesterday   map[string]*domain.Candle
	marketList  []domain.MarketInfo

	drainMu sync.Mutex
	locks   *lockSet
	wg      sync.WaitGroup
}

func NewEngine(d Deps) (*Engine, error) {
	var missing []string
	if d.Orders == nil {
		missing = append(missing, "order store")
	}
	if d.Positions == nil {
		missing = append(missing, "position store")
	}
	if d.Book == nil {
		missing = append(missing, "order book store")
	}
	if d.Candles == nil {
		missing = append(missing, "candle store")
	}
	if d.Markets == nil {
		missing = append(missing, "market store")
	}
	if d.Batch == nil {
		missing = append(missing, "batch writer")
	}
	if d.Converter == nil {
		missing = append(missing, "numeric converter")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, strings.Join(missing, ", "))
	}

	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("engine")
	bc := d.Broadcaster
	if bc == nil {
		log.Warn("no broadcaster configured, updates will not be published")
		bc = nopBroadcaster{}
	}
	if d.Notifier == nil {
		log.Warn("no notifier configured, liquidation emails are disabled")
	}
	if d.Wallets == nil {
		log.Warn("no wallet service configured, refunds and position closing are disabled")
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		orders:      d.Orders,
		positions:   d.Positions,
		book:        d.Book,
		candles:     d.Candles,
		markets:     d.Markets,
		batch:       d.Batch,
		conv:        d.Converter,
		wallets:     d.Wallets,
		bc:          bc,
		notifier:    d.Notifier,
		cache:       d.Cache,
		log:         log,
		feeRate:     d.FeeRate,
		now:         now,
		queue:       make(map[string][]*domain.Order),
		lastCandles: make(map[domain.CandleKey]*domain.Candle),
		yesterday:   make(map[string]*domain.Candle),
		locks:       newLockSet(),
	}, nil
}

// Start loads markets, open orders, candles and open positions. Every phase runs
// even when an earlier one fails; the failures are returned joined.
func (e *Engine) Start(ctx context.Context) error {
	phases := []struct {
		name string
		run  func(context.Context) error
	}{
		{"markets", e.loadMarkets},
		{"orders", e.loadOrders},
		{"candles", e.loadCandles},
		{"yesterday candles", e.loadYesterday},
		{"positions", e.loadPositions},
	}
	var errs []error
	for _, p := range phases {
		if err := p.run(ctx); err != nil {
			e.log.Error("initialization phase failed", zap.String("phase", p.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("load %s: %w", p.name, err))
		}
	}
	e.log.Info("engine started",
		zap.Int("markets", len(e.Markets())),
		zap.Int("queued_orders", e.QueueLen("")),
	)
	return errors.Join(errs...)
}

// Close waits for in-flight notification enqueues.
func (e *Engine) Close() {
	e.wg.Wait()
}

func (e *Engine) loadMarkets(ctx context.Context) error {
	markets, err := e.markets.FindActive(ctx)
	if err != nil {
		return err
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].Symbol < markets[j].Symbol })
	e.mu.Lock()
	e.marketList = markets
	e.mu.Unlock()
	return nil
}

func (e *Engine) loadOrders(ctx context.Context) error {
	orders, err := e.orders.FindAllOpen(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range orders {
		if err := o.Validate(); err != nil {
			metrics.RejectedOrders.Inc()
			e.log.Warn("skipping malformed open order", zap.Error(err))
			continue
		}
		if !o.IsOpen() || !o.Remaining.IsPositive() || e.queuedLocked(o.Symbol, o.ID) != nil {
			continue
		}
		e.queue[o.Symbol] = append(e.queue[o.Symbol], o)
	}
	for symbol, q := range e.queue {
		metrics.QueuedOrders.WithLabelValues(symbol).Set(float64(len(q)))
	}
	return nil
}

func (e *Engine) loadCandles(ctx context.Context) error {
	candles, err := e.candles.FindLatestPerSymbolInterval(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range candles {
		e.lastCandles[c.Key()] = c
	}
	return nil
}

func (e *Engine) loadYesterday(ctx context.Context) error {
	candles, err := e.candles.FindYesterday(ctx, e.now())
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range candles {
		e.yesterday[c.Symbol] = c
	}
	return nil
}

func (e *Engine) loadPositions(ctx context.Context) error {
	positions, err := e.positions.FindAllOpen(ctx)
	if err != nil {
		return err
	}
	for _, p := range positions {
		price, ok := e.lastPrice(p.Symbol)
		if !ok {
			continue
		}
		e.refreshPosition(ctx, p, price)
	}
	return nil
}

// AddToQueue queues a validated open order, adds its remaining amount to the
// book level it rests at and drains the queue.
func (e *Engine) AddToQueue(ctx context.Context, o *domain.Order) error {
	if err := o.Validate(); err != nil {
		metrics.RejectedOrders.Inc()
		e.log.Warn("rejecting order", zap.Error(err))
		return err
	}
	if !o.IsOpen() || !o.Remaining.IsPositive() {
		metrics.RejectedOrders.Inc()
		e.log.Warn("rejecting order that is not open", zap.Stringer("order_id", o.ID))
		return fmt.Errorf("%w: order %s is not open", domain.ErrInvalidOrder, o.ID)
	}

	e.mu.Lock()
	if e.queuedLocked(o.Symbol, o.ID) != nil {
		e.mu.Unlock()
		e.log.Warn("order already queued", zap.Stringer("order_id", o.ID))
		return nil
	}
	e.queue[o.Symbol] = append(e.queue[o.Symbol], o.Clone())
	metrics.QueuedOrders.WithLabelValues(o.Symbol).Set(float64(len(e.queue[o.Symbol])))
	e.mu.Unlock()

	if o.Type == domain.Limit {
		if err := e.adjustBook(ctx, o.Symbol, o.Side, o.Price, o.Remaining); err != nil {
			e.log.Error("order book upsert failed", zap.String("symbol", o.Symbol), zap.Error(err))
		}
	}
	e.publishBook(ctx, o.Symbol)
	e.drain(ctx)
	return nil
}

// HandleOrderCancellation drops orderID from the queue, republishes the
// persisted book of symbol and drains so other orders see the changed book.
func (e *Engine) HandleOrderCancellation(ctx context.Context, orderID uuid.UUID, symbol string) (bool, error) {
	ids := []uuid.UUID{orderID}
	if !e.locks.TryLock(ids) {
		return false, ErrOrderLocked
	}
	removed := e.removeFromQueue(symbol, orderID) != nil
	e.locks.Unlock(ids)

	e.publishBook(ctx, symbol)
	e.drain(ctx)
	return removed, nil
}

// Drain runs one queue drain; errors are logged and the queue is left for the next drain.
func (e *Engine) Drain(ctx context.Context) {
	e.drain(ctx)
}

func (e *Engine) drain(ctx context.Context) {
	if err := e.processQueue(ctx); err != nil {
		e.log.Error("queue drain failed", zap.Error(err))
	}
}

func (e *Engine) processQueue(ctx context.Context) error {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	start := time.Now()
	defer func() { metrics.DrainDuration.Observe(time.Since(start).Seconds()) }()

	pending := e.pendingBySymbol()
	if len(pending) == 0 {
		return nil
	}
	books, err := e.book.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("engine: fetch order books: %w", err)
	}

	results := e.matchAll(ctx, pending, books)
	var matched []*domain.Order
	for _, r := range results {
		matched = append(matched, r.MatchedOrders...)
	}
	if len(matched) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(matched))
	for _, o := range matched {
		ids = append(ids, o.ID)
	}
	if !e.acquire(matched, ids) {
		metrics.LockContention.Inc()
		e.log.Warn("batch skipped, orders are locked or no longer queued", zap.Int("orders", len(ids)))
		return nil
	}
	defer e.locks.Unlock(ids)

	now := e.now()
	batch, candles, touched, err := e.buildBatch(ctx, results, matched, now)
	if err != nil {
		return err
	}
	if err := e.batch.ExecBatch(ctx, batch); err != nil {
		metrics.BatchFailures.Inc()
		return fmt.Errorf("engine: batch write of %d orders: %w", len(matched), err)
	}

	e.commit(results, candles)
	e.publish(ctx, results, books, candles, now)
	e.checkPositions(ctx, touched)
	return nil
}

// pendingBySymbol clones the queued orders; matching never touches the originals.
func (e *Engine) pendingBySymbol() map[string][]*domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string][]*domain.Order, len(e.queue))
	for symbol, q := range e.queue {
		if len(q) == 0 {
			continue
		}
		clones := make([]*domain.Order, len(q))
		for i, o := range q {
			clones[i] = o.Clone()
		}
		out[symbol] = clones
	}
	return out
}

// matchAll matches every symbol concurrently against the same book snapshot.
func (e *Engine) matchAll(ctx context.Context, pending map[string][]*domain.Order, books map[string]*domain.OrderBook) []*MatchResult {
	var (
		mu  sync.Mutex
		out = make([]*MatchResult, 0, len(pending))
	)
	g, _ := errgroup.WithContext(ctx)
	opts := MatchOptions{FeeRate: e.feeRate, Now: e.now}
	for symbol, orders := range pending {
		g.Go(func() error {
			res := MatchOrders(symbol, orders, books[symbol], opts)
			mu.Lock()
			out = append(out, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// acquire locks the batch only if every matched order is still queued, so a
// concurrent cancellation either wins entirely or fails with ErrOrderLocked.
func (e *Engine) acquire(matched []*domain.Order, ids []uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range matched {
		if e.queuedLocked(o.Symbol, o.ID) == nil {
			return false
		}
	}
	return e.locks.TryLock(ids)
}

func (e *Engine) buildBatch(ctx context.Context, results []*MatchResult, matched []*domain.Order, now time.Time) (*port.Batch, map[domain.CandleKey]*domain.Candle, []*domain.Position, error) {
	b := &port.Batch{}
	for _, o := range matched {
		b.Orders = append(b.Orders, port.OrderUpdateFrom(o))
	}

	candles := aggregateCandles(matched, e.candleSnapshot(), now)
	keys := make([]domain.CandleKey, 0, len(candles))
	for k := range candles {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Symbol != keys[j].Symbol {
			return keys[i].Symbol < keys[j].Symbol
		}
		return keys[i].Interval.Duration() < keys[j].Interval.Duration()
	})
	for _, k := range keys {
		b.Candles = append(b.Candles, candles[k])
	}

	for _, r := range results {
		for _, lvl := range r.BookUpdates.Bids {
			b.BookLevels = append(b.BookLevels, port.BookLevel{Symbol: r.Symbol, Side: domain.Buy, Price: lvl.Price, Amount: lvl.Amount})
		}
		for _, lvl := range r.BookUpdates.Asks {
			b.BookLevels = append(b.BookLevels, port.BookLevel{Symbol: r.Symbol, Side: domain.Sell, Price: lvl.Price, Amount: lvl.Amount})
		}
	}

	ledger := newPositionLedger()
	for _, r := range results {
		for _, m := range r.Matches {
			if m.SelfTrade {
				metrics.SelfTrades.Inc()
				e.log.Warn("self-trade matched",
					zap.String("symbol", r.Symbol),
					zap.Stringer("user_id", m.Buy.UserID),
					zap.Stringer("buy_order_id", m.Buy.ID),
					zap.Stringer("sell_order_id", m.Sell.ID),
				)
			}
			for _, o := range []*domain.Order{m.Buy, m.Sell} {
				if err := e.mergeFill(ctx, ledger, o, m.Amount, m.Price, now); err != nil {
					return nil, nil, nil, err
				}
			}
		}
	}
	for _, p := range ledger.positions() {
		if _, isNew := ledger.created[p.Key()]; isNew {
			b.NewPositions = append(b.NewPositions, p)
		} else {
			b.Positions = append(b.Positions, port.PositionUpdateFrom(p))
		}
	}
	return b, candles, ledger.positions(), nil
}

func (e *Engine) mergeFill(ctx context.Context, ledger *positionLedger, o *domain.Order, amount, price fixedpoint.Int, now time.Time) error {
	k := domain.PositionKey{UserID: o.UserID, Symbol: o.Symbol, Side: o.Side}
	cur, inLedger := ledger.current(k)
	if !inLedger {
		p, err := e.positions.FindOpen(ctx, o.UserID, o.Symbol, o.Side)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return fmt.Errorf("engine: find open position: %w", err)
		default:
			cur = p
		}
	}
	ledger.put(MergeFill(cur, o, amount, price, now), cur == nil)
	return nil
}

// commit applies a persisted drain to the in-memory state.
func (e *Engine) commit(results []*MatchResult, candles map[domain.CandleKey]*domain.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for k, c := range candles {
		if k.Interval == domain.Interval1d {
			if prev := e.lastCandles[k]; prev != nil && !prev.CreatedAt.Equal(c.CreatedAt) {
				e.yesterday[k.Symbol] = prev
			}
		}
		e.lastCandles[k] = c
	}

	for _, r := range results {
		if len(r.MatchedOrders) == 0 {
			continue
		}
		metrics.MatchedOrders.WithLabelValues(r.Symbol).Add(float64(len(r.MatchedOrders)))
		updated := make(map[uuid.UUID]*domain.Order, len(r.MatchedOrders))
		for _, o := range r.MatchedOrders {
			updated[o.ID] = o
		}
		q := e.queue[r.Symbol]
		kept := make([]*domain.Order, 0, len(q))
		for _, o := range q {
			if u, ok := updated[o.ID]; ok {
				o = u
			}
			if o.IsOpen() && o.Remaining.IsPositive() {
				kept = append(kept, o)
			}
		}
		e.queue[r.Symbol] = kept
		metrics.QueuedOrders.WithLabelValues(r.Symbol).Set(float64(len(kept)))
	}
}

func (e *Engine) publish(ctx context.Context, results []*MatchResult, books map[string]*domain.OrderBook, candles map[domain.CandleKey]*domain.Candle, now time.Time) {
	for _, r := range results {
		if len(r.MatchedOrders) == 0 {
			continue
		}
		book := domain.NewOrderBook(r.Symbol)
		if snap, ok := books[r.Symbol]; ok {
			book = snap.Clone()
		}
		book.Apply(r.BookUpdates)
		e.publishSnapshot(ctx, book.Snapshot(now))

		for _, o := range r.MatchedOrders {
			e.bc.Order(o)
		}
		e.bc.Trades(r.Symbol, r.Trades)
	}
	for k, c := range candles {
		e.bc.Candle(k.Symbol, k.Interval, c)
	}
	for _, r := range results {
		if len(r.MatchedOrders) > 0 {
			e.bc.Ticker(r.Symbol, e.GetTicker(r.Symbol))
		}
	}
	e.bc.Tickers(e.GetTickers())
}

// checkPositions re-reads the open positions of every touched (user, symbol),
// marks them to the latest price and applies liquidation.
func (e *Engine) checkPositions(ctx context.Context, touched []*domain.Position) {
	type userSymbol struct {
		user   uuid.UUID
		symbol string
	}
	seen := make(map[userSymbol]struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(positionCheckConcurrency)
	for _, p := range touched {
		k := userSymbol{user: p.UserID, symbol: p.Symbol}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		price, ok := e.lastPrice(p.Symbol)
		if !ok {
			continue
		}
		g.Go(func() error {
			open, err := e.positions.FindByUser(gctx, k.user, k.symbol, domain.PositionOpen)
			if err != nil {
				e.log.Error("position re-query failed", zap.Stringer("user_id", k.user), zap.String("symbol", k.symbol), zap.Error(err))
				return nil
			}
			for _, op := range open {
				e.refreshPosition(gctx, op, price)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// refreshPosition recomputes PnL at price, persists it, liquidates when the
// margin requires it and broadcasts the result.
func (e *Engine) refreshPosition(ctx context.Context, p *domain.Position, price fixedpoint.Int) {
	p.UnrealizedPnl = CalculateUnrealizedPnl(p.EntryPrice, p.Amount, price, p.Side)
	p.UpdatedAt = e.now()
	if err := e.positions.Update(ctx, port.PositionUpdateFrom(p)); err != nil {
		e.log.Error("position pnl update failed", zap.Stringer("position_id", p.ID), zap.Error(err))
	}
	updated, action, err := e.CheckLiquidation(ctx, p, price)
	if err != nil {
		e.log.Error("liquidation check failed", zap.Stringer("position_id", p.ID), zap.Error(err))
	}
	if action == NoLiquidation {
		e.bc.Position(updated)
	}
}

// CheckLiquidation evaluates the margin of p at price and applies a partial or
// full liquidation. It returns the position as it stands afterwards.
func (e *Engine) CheckLiquidation(ctx context.Context, p *domain.Position, price fixedpoint.Int) (*domain.Position, LiquidationAction, error) {
	margin, err := CalculateMargin(p, price)
	if err != nil {
		return p, NoLiquidation, err
	}
	action := EvaluateMargin(margin)
	if action == NoLiquidation {
		return p, NoLiquidation, nil
	}
	updated, err := e.liquidate(ctx, p, action, margin, price)
	if err != nil {
		return p, NoLiquidation, err
	}
	return updated, action, nil
}

func (e *Engine) liquidate(ctx context.Context, p *domain.Position, action LiquidationAction, margin decimal.Decimal, price fixedpoint.Int) (*domain.Position, error) {
	updated, remaining := Liquidated(p, action)
	updated.UnrealizedPnl = CalculateUnrealizedPnl(updated.EntryPrice, updated.Amount, price, updated.Side)
	updated.UpdatedAt = e.now()

	u := port.PositionUpdateFrom(updated)
	u.Status = updated.Status
	if err := e.positions.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("engine: liquidate position %s: %w", p.ID, err)
	}
	metrics.Liquidations.WithLabelValues(action.String()).Inc()
	e.log.Warn("position liquidated",
		zap.Stringer("position_id", p.ID),
		zap.Stringer("user_id", p.UserID),
		zap.String("symbol", p.Symbol),
		zap.String("kind", action.String()),
		zap.String("margin", margin.String()),
	)

	if remaining.IsPositive() {
		refund := e.conv.MultiplyAndRescale(e.conv.ApplyTolerance(remaining), updated.EntryPrice)
		e.credit(ctx, p.UserID, domain.QuoteCurrency(p.Symbol), refund)
	}
	e.bc.Position(updated)

	emailType := domain.EmailLiquidationNotification
	if action == PartialLiquidation {
		emailType = domain.EmailPartialLiquidationNotification
	}
	e.notifyAsync(domain.Notification{
		EmailType: emailType,
		EmailData: map[string]any{
			"userId":          p.UserID.String(),
			"positionId":      p.ID.String(),
			"symbol":          p.Symbol,
			"side":            string(p.Side),
			"entryPrice":      p.EntryPrice.String(),
			"markPrice":       price.String(),
			"margin":          margin.String(),
			"previousAmount":  p.Amount.String(),
			"remainingAmount": updated.Amount.String(),
		},
	})
	return updated, nil
}

// SendLiquidationWarning enqueues a margin warning for p. It is never sent
// automatically.
func (e *Engine) SendLiquidationWarning(ctx context.Context, p *domain.Position, margin decimal.Decimal) error {
	if e.notifier == nil {
		return fmt.Errorf("%w: notifier", ErrNotConfigured)
	}
	return e.notifier.Enqueue(ctx, domain.Notification{
		EmailType: domain.EmailLiquidationWarning,
		EmailData: map[string]any{
			"userId":     p.UserID.String(),
			"positionId": p.ID.String(),
			"symbol":     p.Symbol,
			"side":       string(p.Side),
			"margin":     margin.String(),
		},
	})
}

// ClosePosition realizes the PnL of the open position under key into the
// user's wallet and marks it CLOSED.
func (e *Engine) ClosePosition(ctx context.Context, key domain.PositionKey) (*domain.Position, error) {
	if e.wallets == nil {
		return nil, fmt.Errorf("%w: wallet service", ErrNotConfigured)
	}
	currency := domain.QuoteCurrency(key.Symbol)
	if _, err := e.wallets.Get(ctx, key.UserID, currency); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrNoWallet
		}
		return nil, fmt.Errorf("engine: get wallet: %w", err)
	}
	p, err := e.positions.FindOpen(ctx, key.UserID, key.Symbol, key.Side)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrNoPosition
		}
		return nil, fmt.Errorf("engine: find position: %w", err)
	}
	if price, ok := e.lastPrice(p.Symbol); ok {
		p.UnrealizedPnl = CalculateUnrealizedPnl(p.EntryPrice, p.Amount, price, p.Side)
	}

	pnl := e.conv.FromFixedPoint(p.UnrealizedPnl)
	switch {
	case pnl.IsPositive():
		err = e.wallets.Credit(ctx, p.UserID, currency, pnl)
	case pnl.IsNegative():
		err = e.wallets.Debit(ctx, p.UserID, currency, pnl.Neg())
	}
	if err != nil {
		return nil, fmt.Errorf("engine: realize pnl: %w", err)
	}
	if err := e.positions.UpdateStatus(ctx, p.UserID, p.ID, domain.PositionClosed); err != nil {
		return nil, fmt.Errorf("engine: close position: %w", err)
	}
	p.Status = domain.PositionClosed
	p.UpdatedAt = e.now()
	e.bc.Position(p)
	return p, nil
}

func (e *Engine) credit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) {
	if e.wallets == nil {
		e.log.Warn("refund skipped, no wallet service", zap.Stringer("user_id", userID), zap.String("amount", amount.String()))
		return
	}
	if err := e.wallets.Credit(ctx, userID, currency, amount); err != nil {
		e.log.Error("refund failed",
			zap.Stringer("user_id", userID),
			zap.String("currency", currency),
			zap.String("amount", amount.String()),
			zap.Error(err),
		)
	}
}

// notifyAsync hands n to the notifier without blocking the drain.
func (e *Engine) notifyAsync(n domain.Notification) {
	if e.notifier == nil {
		e.log.Warn("notification dropped, no notifier", zap.String("type", string(n.EmailType)))
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := e.notifier.Enqueue(ctx, n); err != nil {
			e.log.Error("notification enqueue failed", zap.String("type", string(n.EmailType)), zap.Error(err))
		}
	}()
}

// GetTicker derives the ticker of symbol from the cached daily candles.
func (e *Engine) GetTicker(symbol string) domain.Ticker {
	e.mu.Lock()
	daily := e.lastCandles[domain.CandleKey{Symbol: symbol, Interval: domain.Interval1d}]
	yesterday := e.yesterday[symbol]
	e.mu.Unlock()
	return DeriveTicker(symbol, daily, yesterday, e.now())
}

// GetTickers returns a ticker for every active market, or for every symbol
// with a daily candle when no market list is loaded.
func (e *Engine) GetTickers() []domain.Ticker {
	var symbols []string
	e.mu.Lock()
	for _, m := range e.marketList {
		symbols = append(symbols, m.Symbol)
	}
	if len(symbols) == 0 {
		for k := range e.lastCandles {
			if k.Interval == domain.Interval1d {
				symbols = append(symbols, k.Symbol)
			}
		}
		sort.Strings(symbols)
	}
	e.mu.Unlock()

	out := make([]domain.Ticker, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, e.GetTicker(s))
	}
	return out
}

// GetOrderBook reads the cached book of symbol, falling back to the store.
func (e *Engine) GetOrderBook(ctx context.Context, symbol string) (*domain.OrderBookSnapshot, error) {
	return getOrLoadSnapshot(ctx, e.book, e.cache, e.log, symbol, e.now())
}

func (e *Engine) GetCandles(ctx context.Context, symbol string, interval domain.Interval, from, to time.Time) ([]*domain.Candle, error) {
	candles, err := e.candles.FindRange(ctx, symbol, interval, from, to)
	if err != nil {
		return nil, fmt.Errorf("engine: find candles: %w", err)
	}
	return candles, nil
}

// GetPositions lists positions of a user; open ones are marked to the last price.
func (e *Engine) GetPositions(ctx context.Context, userID uuid.UUID, symbol string, status domain.PositionStatus) ([]*domain.Position, error) {
	positions, err := e.positions.FindByUser(ctx, userID, symbol, status)
	if err != nil {
		return nil, fmt.Errorf("engine: find positions: %w", err)
	}
	for _, p := range positions {
		if p.Status != domain.PositionOpen {
			continue
		}
		if price, ok := e.lastPrice(p.Symbol); ok {
			p.UnrealizedPnl = CalculateUnrealizedPnl(p.EntryPrice, p.Amount, price, p.Side)
		}
	}
	return positions, nil
}

func (e *Engine) GetOrders(ctx context.Context, userID uuid.UUID, symbol string, openOnly bool) ([]*domain.Order, error) {
	orders, err := e.orders.FindByUser(ctx, userID, symbol, openOnly)
	if err != nil {
		return nil, fmt.Errorf("engine: find orders: %w", err)
	}
	return orders, nil
}

func (e *Engine) Markets() []domain.MarketInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.MarketInfo(nil), e.marketList...)
}

// HasMarket reports whether symbol is tradable. Every symbol is accepted
// while no market list is loaded.
func (e *Engine) HasMarket(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.marketList) == 0 {
		return true
	}
	for _, m := range e.marketList {
		if m.Symbol == symbol {
			return true
		}
	}
	return false
}

// QueueLen is the number of queued orders of symbol, or of all symbols when symbol is empty.
func (e *Engine) QueueLen(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if symbol != "" {
		return len(e.queue[symbol])
	}
	n := 0
	for _, q := range e.queue {
		n += len(q)
	}
	return n
}

// LockedOrders is the number of orders held by a running batch.
func (e *Engine) LockedOrders() int { return e.locks.Len() }

func (e *Engine) lastPrice(symbol string) (fixedpoint.Int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.lastCandles[domain.CandleKey{Symbol: symbol, Interval: domain.Interval1m}]
	if c == nil {
		return fixedpoint.Zero, false
	}
	return c.Close, true
}

func (e *Engine) candleSnapshot() map[domain.CandleKey]*domain.Candle {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[domain.CandleKey]*domain.Candle, len(e.lastCandles))
	for k, c := range e.lastCandles {
		out[k] = c
	}
	return out
}

// queuedLocked finds a queued order; e.mu must be held.
func (e *Engine) queuedLocked(symbol string, id uuid.UUID) *domain.Order {
	for _, o := range e.queue[symbol] {
		if o.ID == id {
			return o
		}
	}
	return nil
}

func (e *Engine) removeFromQueue(symbol string, id uuid.UUID) *domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	q := e.queue[symbol]
	for i, o := range q {
		if o.ID != id {
			continue
		}
		kept := make([]*domain.Order, 0, len(q)-1)
		kept = append(kept, q[:i]...)
		kept = append(kept, q[i+1:]...)
		e.queue[symbol] = kept
		metrics.QueuedOrders.WithLabelValues(symbol).Set(float64(len(kept)))
		return o
	}
	return nil
}

func (e *Engine) requeue(o *domain.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queuedLocked(o.Symbol, o.ID) == nil {
		e.queue[o.Symbol] = append(e.queue[o.Symbol], o)
		metrics.QueuedOrders.WithLabelValues(o.Symbol).Set(float64(len(e.queue[o.Symbol])))
	}
}

// adjustBook adds delta to the persisted level of (symbol, side, price).
func (e *Engine) adjustBook(ctx context.Context, symbol string, side domain.Side, price, delta fixedpoint.Int) error {
	cur, err := e.book.FetchEntry(ctx, symbol, side, price)
	if err != nil {
		return fmt.Errorf("fetch level: %w", err)
	}
	if err := e.book.UpsertOrDelete(ctx, symbol, side, price, cur.Add(delta)); err != nil {
		return fmt.Errorf("upsert level: %w", err)
	}
	return nil
}

// publishBook re-reads the persisted book of symbol, caches and broadcasts it.
func (e *Engine) publishBook(ctx context.Context, symbol string) {
	book, err := e.book.FetchExisting(ctx, symbol)
	if err != nil {
		e.log.Error("order book fetch failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	e.publishSnapshot(ctx, book.Snapshot(e.now()))
}

func (e *Engine) publishSnapshot(ctx context.Context, snap *domain.OrderBookSnapshot) {
	updateCache(ctx, e.cache, e.log, snap)
	e.bc.OrderBook(snap.Symbol, snap)
}

type nopBroadcaster struct{}

func (nopBroadcaster) OrderBook(string, *domain.OrderBookSnapshot)    {}
func (nopBroadcaster) Order(*domain.Order)                            {}
func (nopBroadcaster) Trades(string, []domain.TradeEvent)             {}
func (nopBroadcaster) Ticker(string, domain.Ticker)                   {}
func (nopBroadcaster) Tickers([]domain.Ticker)                        {}
func (nopBroadcaster) Candle(string, domain.Interval, *domain.Candle) {}
func (nopBroadcaster) Position(*domain.Position)                      {}
