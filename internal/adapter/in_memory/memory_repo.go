package in_memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
	"github.com/olyamironova/futures-engine/internal/port"
	"github.com/shopspring/decimal"
)

type walletKey struct {
	user     uuid.UUID
	currency string
}

// MemoryRepo implements every store port in process. All reads return copies.
type MemoryRepo struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]*domain.Order
	positions map[uuid.UUID]*domain.Position
	books     map[string]*domain.OrderBook
	candles   map[domain.CandleKey][]*domain.Candle
	markets   []domain.MarketInfo
	wallets   map[walletKey]decimal.Decimal
	batchErr  error
	batches   int
}

var (
	_ port.OrderStore     = (*MemoryRepo)(nil)
	_ port.PositionStore  = positionStore{}
	_ port.OrderBookStore = (*MemoryRepo)(nil)
	_ port.CandleStore    = (*MemoryRepo)(nil)
	_ port.MarketStore    = (*MemoryRepo)(nil)
	_ port.WalletService  = (*MemoryRepo)(nil)
	_ port.BatchWriter    = (*MemoryRepo)(nil)
)

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		orders:    make(map[uuid.UUID]*domain.Order),
		positions: make(map[uuid.UUID]*domain.Position),
		books:     make(map[string]*domain.OrderBook),
		candles:   make(map[domain.CandleKey][]*domain.Candle),
		wallets:   make(map[walletKey]decimal.Decimal),
	}
}

// AddMarket registers an active market.
func (r *MemoryRepo) AddMarket(m domain.MarketInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets = append(r.markets, m)
}

// SetWallet creates or overwrites a wallet balance.
func (r *MemoryRepo) SetWallet(userID uuid.UUID, currency string, balance decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallets[walletKey{userID, currency}] = balance
}

// FailBatches makes every following ExecBatch fail with err; nil restores it.
func (r *MemoryRepo) FailBatches(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batchErr = err
}

// Batches is the number of batches applied.
func (r *MemoryRepo) Batches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches
}

// Order returns a stored order regardless of its status.
func (r *MemoryRepo) Order(id uuid.UUID) (*domain.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

func (r *MemoryRepo) Insert(ctx context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	r.orders[o.ID] = o.Clone()
	return nil
}

func (r *MemoryRepo) BatchUpdate(ctx context.Context, updates []port.OrderUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOrders(updates); err != nil {
		return err
	}
	r.applyOrders(updates)
	return nil
}

func (r *MemoryRepo) checkOrders(updates []port.OrderUpdate) error {
	for _, u := range updates {
		o, ok := r.orders[u.ID]
		if !ok || o.UserID != u.UserID {
			return fmt.Errorf("order %s: %w", u.ID, domain.ErrNotFound)
		}
	}
	return nil
}

func (r *MemoryRepo) applyOrders(updates []port.OrderUpdate) {
	for _, u := range updates {
		o := r.orders[u.ID]
		o.Filled = u.Filled
		o.Remaining = u.Remaining
		o.Cost = u.Cost
		o.Fee = u.Fee
		o.Average = u.Average
		o.Status = u.Status
		o.Trades = append([]domain.Fill(nil), u.Trades...)
		o.UpdatedAt = u.UpdatedAt
	}
}

func (r *MemoryRepo) Delete(ctx context.Context, userID, orderID uuid.UUID, createdAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok || o.UserID != userID || !o.CreatedAt.Equal(createdAt) {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	delete(r.orders, orderID)
	return nil
}

func (r *MemoryRepo) FindAllOpen(ctx context.Context) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.Order
	for _, o := range r.orders {
		if o.IsOpen() {
			res = append(res, o.Clone())
		}
	}
	sortOrders(res)
	return res, nil
}

func (r *MemoryRepo) FindByUser(ctx context.Context, userID uuid.UUID, symbol string, openOnly bool) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.Order
	for _, o := range r.orders {
		if o.UserID != userID || (symbol != "" && o.Symbol != symbol) || (openOnly && !o.IsOpen()) {
			continue
		}
		res = append(res, o.Clone())
	}
	sortOrders(res)
	return res, nil
}

func sortOrders(orders []*domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID.String() < orders[j].ID.String()
	})
}

// positionStore exposes the position methods under the PositionStore names,
// which collide with the order finders of MemoryRepo.
type positionStore struct{ r *MemoryRepo }

// Positions returns the PositionStore view of r.
func (r *MemoryRepo) Positions() port.PositionStore { return positionStore{r} }

func (s positionStore) FindOpen(ctx context.Context, userID uuid.UUID, symbol string, side domain.Side) (*domain.Position, error) {
	return s.r.FindOpen(ctx, userID, symbol, side)
}

func (s positionStore) FindAllOpen(ctx context.Context) ([]*domain.Position, error) {
	return s.r.FindAllOpenPositions(ctx)
}

func (s positionStore) FindByUser(ctx context.Context, userID uuid.UUID, symbol string, status domain.PositionStatus) ([]*domain.Position, error) {
	return s.r.FindPositionsByUser(ctx, userID, symbol, status)
}

func (s positionStore) Create(ctx context.Context, p *domain.Position) error {
	return s.r.CreatePosition(ctx, p)
}

func (s positionStore) Update(ctx context.Context, u port.PositionUpdate) error {
	return s.r.UpdatePosition(ctx, u)
}

func (s positionStore) UpdateStatus(ctx context.Context, userID, id uuid.UUID, status domain.PositionStatus) error {
	return s.r.UpdatePositionStatus(ctx, userID, id, status)
}

func (r *MemoryRepo) FindOpen(ctx context.Context, userID uuid.UUID, symbol string, side domain.Side) (*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.positions {
		if p.UserID == userID && p.Symbol == symbol && p.Side == side && p.Status == domain.PositionOpen {
			return p.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryRepo) FindAllOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	return r.findPositions(func(p *domain.Position) bool { return p.Status == domain.PositionOpen }), nil
}

func (r *MemoryRepo) FindPositionsByUser(ctx context.Context, userID uuid.UUID, symbol string, status domain.PositionStatus) ([]*domain.Position, error) {
	return r.findPositions(func(p *domain.Position) bool {
		return p.UserID == userID && (symbol == "" || p.Symbol == symbol) && (status == "" || p.Status == status)
	}), nil
}

func (r *MemoryRepo) findPositions(keep func(*domain.Position) bool) []*domain.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.Position
	for _, p := range r.positions {
		if keep(p) {
			res = append(res, p.Clone())
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res
}

func (r *MemoryRepo) CreatePosition(ctx context.Context, p *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createPosition(p)
}

func (r *MemoryRepo) createPosition(p *domain.Position) error {
	if p.Status == domain.PositionOpen {
		for _, cur := range r.positions {
			if cur.Status == domain.PositionOpen && cur.Key() == p.Key() {
				return fmt.Errorf("open position for %s/%s/%s already exists", p.UserID, p.Symbol, p.Side)
			}
		}
	}
	r.positions[p.ID] = p.Clone()
	return nil
}

func (r *MemoryRepo) UpdatePosition(ctx context.Context, u port.PositionUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkPosition(u.UserID, u.ID); err != nil {
		return err
	}
	r.applyPosition(u)
	return nil
}

func (r *MemoryRepo) checkPosition(userID, id uuid.UUID) error {
	p, ok := r.positions[id]
	if !ok || p.UserID != userID {
		return fmt.Errorf("position %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *MemoryRepo) applyPosition(u port.PositionUpdate) {
	p := r.positions[u.ID]
	p.EntryPrice = u.EntryPrice
	p.Amount = u.Amount
	p.UnrealizedPnl = u.UnrealizedPnl
	p.StopLossPrice = u.StopLossPrice
	p.TakeProfitPrice = u.TakeProfitPrice
	if u.Status != "" {
		p.Status = u.Status
	}
	p.UpdatedAt = u.UpdatedAt
}

func (r *MemoryRepo) UpdatePositionStatus(ctx context.Context, userID, id uuid.UUID, status domain.PositionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkPosition(userID, id); err != nil {
		return err
	}
	r.positions[id].Status = status
	return nil
}

func (r *MemoryRepo) FetchAll(ctx context.Context) (map[string]*domain.OrderBook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*domain.OrderBook, len(r.books))
	for symbol, b := range r.books {
		out[symbol] = b.Clone()
	}
	return out, nil
}

func (r *MemoryRepo) FetchExisting(ctx context.Context, symbol string) (*domain.OrderBook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.books[symbol]; ok {
		return b.Clone(), nil
	}
	return domain.NewOrderBook(symbol), nil
}

func (r *MemoryRepo) FetchEntry(ctx context.Context, symbol string, side domain.Side, price fixedpoint.Int) (fixedpoint.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[symbol]
	if !ok {
		return fixedpoint.Zero, nil
	}
	return b.Side(side).Amount(price), nil
}

func (r *MemoryRepo) UpsertOrDelete(ctx context.Context, symbol string, side domain.Side, price, amount fixedpoint.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setLevel(port.BookLevel{Symbol: symbol, Side: side, Price: price, Amount: amount})
	return nil
}

func (r *MemoryRepo) setLevel(l port.BookLevel) {
	b, ok := r.books[l.Symbol]
	if !ok {
		b = domain.NewOrderBook(l.Symbol)
		r.books[l.Symbol] = b
	}
	if l.Amount.IsPositive() {
		b.Side(l.Side).Set(l.Price, l.Amount)
		return
	}
	delete(b.Side(l.Side), l.Price.Key())
}

func (r *MemoryRepo) FindLatestPerSymbolInterval(ctx context.Context) ([]*domain.Candle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.Candle
	for _, history := range r.candles {
		if n := len(history); n > 0 {
			res = append(res, history[n-1].Clone())
		}
	}
	return res, nil
}

func (r *MemoryRepo) FindYesterday(ctx context.Context, now time.Time) ([]*domain.Candle, error) {
	bucket := domain.NormalizeTimeToInterval(now, domain.Interval1d).AddDate(0, 0, -1)
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.Candle
	for k, history := range r.candles {
		if k.Interval != domain.Interval1d {
			continue
		}
		for _, c := range history {
			if c.CreatedAt.Equal(bucket) {
				res = append(res, c.Clone())
			}
		}
	}
	return res, nil
}

// FindRange returns candles whose bucket starts in [from, to]; a zero to is unbounded.
func (r *MemoryRepo) FindRange(ctx context.Context, symbol string, interval domain.Interval, from, to time.Time) ([]*domain.Candle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.Candle
	for _, c := range r.candles[domain.CandleKey{Symbol: symbol, Interval: interval}] {
		if c.CreatedAt.Before(from) || (!to.IsZero() && c.CreatedAt.After(to)) {
			continue
		}
		res = append(res, c.Clone())
	}
	return res, nil
}

// PutCandle upserts a candle by its bucket start.
func (r *MemoryRepo) PutCandle(c *domain.Candle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putCandle(c)
}

func (r *MemoryRepo) putCandle(c *domain.Candle) {
	k := c.Key()
	history := r.candles[k]
	for i, cur := range history {
		if cur.CreatedAt.Equal(c.CreatedAt) {
			history[i] = c.Clone()
			return
		}
	}
	history = append(history, c.Clone())
	sort.Slice(history, func(i, j int) bool { return history[i].CreatedAt.Before(history[j].CreatedAt) })
	r.candles[k] = history
}

func (r *MemoryRepo) FindActive(ctx context.Context) ([]domain.MarketInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []domain.MarketInfo
	for _, m := range r.markets {
		if m.Active {
			res = append(res, m)
		}
	}
	return res, nil
}

func (r *MemoryRepo) Get(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.wallets[walletKey{userID, currency}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.Wallet{UserID: userID, Currency: currency, Balance: b}, nil
}

func (r *MemoryRepo) Credit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	return r.addBalance(userID, currency, amount)
}

func (r *MemoryRepo) Debit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	return r.addBalance(userID, currency, amount.Neg())
}

func (r *MemoryRepo) addBalance(userID uuid.UUID, currency string, delta decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := walletKey{userID, currency}
	b, ok := r.wallets[k]
	if !ok {
		return fmt.Errorf("wallet %s/%s: %w", userID, currency, domain.ErrNotFound)
	}
	r.wallets[k] = b.Add(delta)
	return nil
}

// ExecBatch validates the whole batch before applying any of it.
func (r *MemoryRepo) ExecBatch(ctx context.Context, b *port.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.batchErr != nil {
		return r.batchErr
	}
	if err := r.checkOrders(b.Orders); err != nil {
		return err
	}
	for _, u := range b.Positions {
		if err := r.checkPosition(u.UserID, u.ID); err != nil {
			return err
		}
	}
	for _, p := range b.NewPositions {
		if _, ok := r.positions[p.ID]; ok {
			return fmt.Errorf("position %s already exists", p.ID)
		}
	}

	r.applyOrders(b.Orders)
	for _, c := range b.Candles {
		r.putCandle(c)
	}
	for _, l := range b.BookLevels {
		r.setLevel(l)
	}
	for _, p := range b.NewPositions {
		r.positions[p.ID] = p.Clone()
	}
	for _, u := range b.Positions {
		r.applyPosition(u)
	}
	r.batches++
	return nil
}
