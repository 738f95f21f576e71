package core

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
)

// FillState tracks an order through a single matching scan.
type FillState int

const (
	Pending FillState = iota
	PartiallyFilled
	Filled
)

func (s FillState) String() string {
	switch s {
	case PartiallyFilled:
		return "partially-filled"
	case Filled:
		return "filled"
	default:
		return "pending"
	}
}

// Match is one buy/sell pairing produced by a scan.
type Match struct {
	Buy       *domain.Order
	Sell      *domain.Order
	Amount    fixedpoint.Int
	Price     fixedpoint.Int
	SelfTrade bool
	Timestamp time.Time
}

// MatchResult is the output of Match for one symbol.
type MatchResult struct {
	Symbol        string
	MatchedOrders []*domain.Order
	Matches       []Match
	BookUpdates   *domain.OrderBook
	Trades        []domain.TradeEvent
	States        map[uuid.UUID]FillState
}

type MatchOptions struct {
	FeeRate fixedpoint.Int
	Now     func() time.Time
}

// MatchOrders runs a price-time priority scan of pending orders of one symbol
// against a snapshot of its order book. Orders are mutated in place, callers
// pass clones. The snapshot is never modified.
func MatchOrders(symbol string, orders []*domain.Order, snapshot *domain.OrderBook, opts MatchOptions) *MatchResult {
	res := &MatchResult{
		Symbol:      symbol,
		BookUpdates: domain.NewOrderBook(symbol),
		States:      make(map[uuid.UUID]FillState),
	}
	if len(orders) == 0 {
		return res
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	book := domain.NewOrderBook(symbol)
	if snapshot != nil {
		book = snapshot.Clone()
	}

	var buys, sells []*domain.Order
	for _, o := range orders {
		if !o.IsOpen() || !o.Remaining.IsPositive() {
			continue
		}
		if o.Side == domain.Buy {
			if o.Type == domain.Limit && o.Price.IsZero() {
				continue
			}
			buys = append(buys, o)
		} else {
			sells = append(sells, o)
		}
	}
	sortBuy(buys)
	sortSell(sells)

	m := &matcher{res: res, book: book, opts: opts, now: now, touched: make(map[uuid.UUID]*domain.Order)}
	i, j := 0, 0
	for i < len(buys) && j < len(sells) {
		b, s := buys[i], sells[j]
		if res.States[b.ID] == Filled {
			i++
			continue
		}
		if res.States[s.ID] == Filled {
			j++
			continue
		}
		if !crosses(b, s) {
			// both limits and the buy is below the sell: this buy cannot fill
			i++
			continue
		}
		price := matchedPrice(b, s)
		if !price.IsPositive() {
			// no price between these two: give each a chance against the next priced order
			if k := m.counterparty(s, buys[i+1:]); k != nil {
				m.fill(k, s, matchedPrice(k, s))
				continue
			}
			if k := m.counterparty(b, sells[j+1:]); k != nil {
				m.fill(b, k, matchedPrice(b, k))
				continue
			}
			i++
			j++
			continue
		}
		m.fill(b, s, price)
		if res.States[b.ID] == Filled {
			i++
		}
		if res.States[s.ID] == Filled {
			j++
		}
	}

	for _, o := range orders {
		if t, ok := m.touched[o.ID]; ok {
			res.MatchedOrders = append(res.MatchedOrders, t)
		}
	}
	return res
}

type matcher struct {
	res     *MatchResult
	book    *domain.OrderBook
	opts    MatchOptions
	now     func() time.Time
	touched map[uuid.UUID]*domain.Order
}

// counterparty returns the first unfilled order of rest that crosses o at a
// positive price. rest is the opposite side in priority order.
func (m *matcher) counterparty(o *domain.Order, rest []*domain.Order) *domain.Order {
	for _, k := range rest {
		if m.res.States[k.ID] == Filled {
			continue
		}
		b, s := o, k
		if o.Side == domain.Sell {
			b, s = k, o
		}
		if crosses(b, s) && matchedPrice(b, s).IsPositive() {
			return k
		}
	}
	return nil
}

func (m *matcher) fill(b, s *domain.Order, price fixedpoint.Int) {
	amount := fixedpoint.Min(b.Remaining, s.Remaining)
	ts := m.now()

	m.res.Matches = append(m.res.Matches, Match{
		Buy:       b,
		Sell:      s,
		Amount:    amount,
		Price:     price,
		SelfTrade: b.UserID == s.UserID,
		Timestamp: ts,
	})
	for _, o := range []*domain.Order{b, s} {
		m.apply(o, amount, price, ts)
		m.reduceBook(o, amount)
		m.res.Trades = append(m.res.Trades, domain.TradeEvent{
			OrderID:   o.ID,
			UserID:    o.UserID,
			Symbol:    o.Symbol,
			Side:      o.Side,
			Amount:    amount,
			Price:     price,
			Timestamp: ts,
		})
		m.checkTriggers(o, price, ts)
		m.touched[o.ID] = o
	}
}

func (m *matcher) apply(o *domain.Order, amount, price fixedpoint.Int, ts time.Time) {
	cost := amount.Mul(price)
	o.Filled = o.Filled.Add(amount)
	o.Remaining = o.Remaining.Sub(amount)
	o.Cost = o.Cost.Add(cost)
	o.Fee = o.Fee.Add(cost.Mul(m.opts.FeeRate))
	if o.FeeCurrency == "" {
		o.FeeCurrency = domain.QuoteCurrency(o.Symbol)
	}
	if o.Filled.IsPositive() {
		o.Average = o.Cost.Div(o.Filled)
	}
	o.Trades = append(o.Trades, domain.Fill{
		ID:        uuid.New(),
		Amount:    amount,
		Price:     price,
		Cost:      cost,
		Side:      o.Side,
		Timestamp: ts,
	})
	domain.SortFills(o.Trades)
	o.UpdatedAt = ts
	if o.Remaining.IsZero() {
		o.Status = domain.OrderClosed
		m.res.States[o.ID] = Filled
	} else {
		m.res.States[o.ID] = PartiallyFilled
	}
}

// reduceBook subtracts amount from the level the order rests at. Market orders
// never rest in the book.
func (m *matcher) reduceBook(o *domain.Order, amount fixedpoint.Int) {
	if o.Type != domain.Limit {
		return
	}
	side := m.book.Side(o.Side)
	left := fixedpoint.Max(side.Amount(o.Price).Sub(amount), fixedpoint.Zero)
	side.Set(o.Price, left)
	m.res.BookUpdates.Side(o.Side).Set(o.Price, left)
}

func (m *matcher) checkTriggers(o *domain.Order, price fixedpoint.Int, ts time.Time) {
	kind, hit := triggered(o, price)
	if !hit {
		return
	}
	if o.Remaining.IsPositive() {
		m.reduceBook(o, o.Remaining)
	}
	o.Status = domain.OrderClosed
	o.Remaining = fixedpoint.Zero
	o.UpdatedAt = ts
	m.res.States[o.ID] = Filled
	m.res.Trades = append(m.res.Trades, domain.TradeEvent{
		OrderID:   o.ID,
		UserID:    o.UserID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Amount:    o.Filled,
		Price:     price,
		Synthetic: true,
		Trigger:   kind,
		Timestamp: ts,
	})
}

// triggered reports whether price hits the order's stop-loss or take-profit.
func triggered(o *domain.Order, price fixedpoint.Int) (domain.TriggerKind, bool) {
	sl, tp := o.StopLossPrice, o.TakeProfitPrice
	if o.Side == domain.Buy {
		if sl != nil && sl.IsPositive() && price.LessThanOrEqual(*sl) {
			return domain.TriggerStopLoss, true
		}
		if tp != nil && tp.IsPositive() && price.GreaterThanOrEqual(*tp) {
			return domain.TriggerTakeProfit, true
		}
		return "", false
	}
	if sl != nil && sl.IsPositive() && price.GreaterThanOrEqual(*sl) {
		return domain.TriggerStopLoss, true
	}
	if tp != nil && tp.IsPositive() && price.LessThanOrEqual(*tp) {
		return domain.TriggerTakeProfit, true
	}
	return "", false
}

func crosses(b, s *domain.Order) bool {
	if b.Type == domain.Market || s.Type == domain.Market {
		return true
	}
	return b.Price.GreaterThanOrEqual(s.Price)
}

// matchedPrice takes the limit side's price against a market order, and the
// sell order's price when both are limits.
func matchedPrice(b, s *domain.Order) fixedpoint.Int {
	if b.Type == domain.Market {
		return s.Price
	}
	if s.Type == domain.Market {
		return b.Price
	}
	return s.Price
}

// bids: market first, then price desc, FIFO on CreatedAt
func sortBuy(orders []*domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if (a.Type == domain.Market) != (b.Type == domain.Market) {
			return a.Type == domain.Market
		}
		if c := a.Price.Cmp(b.Price); c != 0 {
			return c > 0
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// asks: market first, then price asc, FIFO on CreatedAt
func sortSell(orders []*domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if (a.Type == domain.Market) != (b.Type == domain.Market) {
			return a.Type == domain.Market
		}
		if c := a.Price.Cmp(b.Price); c != 0 {
			return c < 0
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
