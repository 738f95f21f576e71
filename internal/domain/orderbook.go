package domain

import (
	"sort"
	"time"

	"github.com/olyamironova/futures-engine/internal/fixedpoint"
)

type PriceLevel struct {
	Price  fixedpoint.Int `json:"price"`
	Amount fixedpoint.Int `json:"amount"`
}

// BookSide maps a price (by fixedpoint Key) to its aggregated resting amount.
type BookSide map[string]PriceLevel

func (s BookSide) Amount(price fixedpoint.Int) fixedpoint.Int {
	return s[price.Key()].Amount
}

func (s BookSide) Set(price, amount fixedpoint.Int) {
	s[price.Key()] = PriceLevel{Price: price, Amount: amount}
}

func (s BookSide) Clone() BookSide {
	c := make(BookSide, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// OrderBook is the aggregated resting liquidity of one symbol.
type OrderBook struct {
	Symbol string
	Bids   BookSide
	Asks   BookSide
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{Symbol: symbol, Bids: BookSide{}, Asks: BookSide{}}
}

func (b *OrderBook) Side(side Side) BookSide {
	if side == Buy {
		return b.Bids
	}
	return b.Asks
}

func (b *OrderBook) Clone() *OrderBook {
	return &OrderBook{Symbol: b.Symbol, Bids: b.Bids.Clone(), Asks: b.Asks.Clone()}
}

// Apply folds level updates onto the book; non-positive amounts remove the level.
func (b *OrderBook) Apply(updates *OrderBook) {
	if updates == nil {
		return
	}
	for k, lvl := range updates.Bids {
		if lvl.Amount.IsPositive() {
			b.Bids[k] = lvl
		} else {
			delete(b.Bids, k)
		}
	}
	for k, lvl := range updates.Asks {
		if lvl.Amount.IsPositive() {
			b.Asks[k] = lvl
		} else {
			delete(b.Asks, k)
		}
	}
}

func (b *OrderBook) Empty() bool { return len(b.Bids) == 0 && len(b.Asks) == 0 }

// OrderBookSnapshot is the broadcast form: bids best first (descending),
// asks best first (ascending), empty levels dropped.
type OrderBookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

func (b *OrderBook) Snapshot(now time.Time) *OrderBookSnapshot {
	snap := &OrderBookSnapshot{
		Symbol:    b.Symbol,
		Bids:      levels(b.Bids),
		Asks:      levels(b.Asks),
		Timestamp: now,
	}
	sortLevels(snap)
	return snap
}

func levels(s BookSide) []PriceLevel {
	out := make([]PriceLevel, 0, len(s))
	for _, lvl := range s {
		if lvl.Amount.IsPositive() {
			out = append(out, lvl)
		}
	}
	return out
}

func sortLevels(snap *OrderBookSnapshot) {
	sort.Slice(snap.Bids, func(i, j int) bool {
		return snap.Bids[i].Price.GreaterThan(snap.Bids[j].Price)
	})
	sort.Slice(snap.Asks, func(i, j int) bool {
		return snap.Asks[i].Price.LessThan(snap.Asks[j].Price)
	})
}
