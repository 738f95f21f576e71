package domain

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
)

// Fill is one execution recorded on an order.
type Fill struct {
	ID        uuid.UUID      `json:"id"`
	Amount    fixedpoint.Int `json:"amount"`
	Price     fixedpoint.Int `json:"price"`
	Cost      fixedpoint.Int `json:"cost"`
	Side      Side           `json:"side"`
	Timestamp time.Time      `json:"timestamp"`
}

// SortFills orders fills ascending by timestamp.
func SortFills(fills []Fill) {
	sort.SliceStable(fills, func(i, j int) bool {
		return fills[i].Timestamp.Before(fills[j].Timestamp)
	})
}

// EncodeFills is the persistence-edge serialization of an order's fills.
func EncodeFills(fills []Fill) ([]byte, error) {
	if fills == nil {
		fills = []Fill{}
	}
	return json.Marshal(fills)
}

// DecodeFills never fails: malformed input yields an empty list.
func DecodeFills(b []byte) []Fill {
	if len(b) == 0 {
		return []Fill{}
	}
	var fills []Fill
	if err := json.Unmarshal(b, &fills); err != nil {
		return []Fill{}
	}
	SortFills(fills)
	return fills
}

// TradeEvent is what subscribers of a symbol's trade topic receive. Synthetic
// events announce a stop-loss or take-profit trigger, not a fill.
type TradeEvent struct {
	OrderID   uuid.UUID      `json:"orderId"`
	UserID    uuid.UUID      `json:"userId"`
	Symbol    string         `json:"symbol"`
	Side      Side           `json:"side"`
	Amount    fixedpoint.Int `json:"amount"`
	Price     fixedpoint.Int `json:"price"`
	Synthetic bool           `json:"synthetic"`
	Trigger   TriggerKind    `json:"trigger,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type TriggerKind string

const (
	TriggerStopLoss   TriggerKind = "STOP_LOSS"
	TriggerTakeProfit TriggerKind = "TAKE_PROFIT"
)
