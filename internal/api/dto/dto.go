package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	ClientOrderID   string           `json:"client_order_id,omitempty"` // for deduplicate
	Symbol          string           `json:"symbol" binding:"required"`
	Side            string           `json:"side" binding:"required,oneof=BUY SELL"`
	Type            string           `json:"type" binding:"required,oneof=LIMIT MARKET"`
	Price           decimal.Decimal  `json:"price"` // required for LIMIT
	Amount          decimal.Decimal  `json:"amount" binding:"required"`
	Leverage        int              `json:"leverage,omitempty"`
	StopLossPrice   *decimal.Decimal `json:"stop_loss_price,omitempty"`
	TakeProfitPrice *decimal.Decimal `json:"take_profit_price,omitempty"`
}

type CreateOrderResponse struct {
	Order   Order  `json:"order"`
	Message string `json:"message,omitempty"`
}

type CancelOrderResponse struct {
	OrderID   string `json:"order_id"`
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message,omitempty"`
}

type GetOrdersResponse struct {
	Orders []Order `json:"orders"`
}

type Order struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	Symbol          string           `json:"symbol"`
	Side            string           `json:"side"`
	Type            string           `json:"type"`
	Price           decimal.Decimal  `json:"price"`
	Amount          decimal.Decimal  `json:"amount"`
	Leverage        int              `json:"leverage"`
	StopLossPrice   *decimal.Decimal `json:"stop_loss_price,omitempty"`
	TakeProfitPrice *decimal.Decimal `json:"take_profit_price,omitempty"`
	Filled          decimal.Decimal  `json:"filled"`
	Remaining       decimal.Decimal  `json:"remaining"`
	Cost            decimal.Decimal  `json:"cost"`
	Fee             decimal.Decimal  `json:"fee"`
	FeeCurrency     string           `json:"fee_currency"`
	Average         decimal.Decimal  `json:"average"`
	Status          string           `json:"status"`
	Trades          []Fill           `json:"trades"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type Fill struct {
	ID        string          `json:"id"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Cost      decimal.Decimal `json:"cost"`
	Timestamp time.Time       `json:"timestamp"`
}

type GetOrderbookRequest struct {
	Symbol string `form:"symbol" binding:"required"`
}

type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

type GetOrderbookResponse struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

type Ticker struct {
	Symbol     string          `json:"symbol"`
	Last       decimal.Decimal `json:"last"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	BaseVolume decimal.Decimal `json:"base_volume"`
	Change     decimal.Decimal `json:"change"`
	Percentage decimal.Decimal `json:"percentage"`
	Timestamp  time.Time       `json:"timestamp"`
}

type GetTickersResponse struct {
	Tickers []Ticker `json:"tickers"`
}

type GetCandlesRequest struct {
	Symbol   string    `form:"symbol" binding:"required"`
	Interval string    `form:"interval" binding:"required"`
	From     time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To       time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

type Candle struct {
	Symbol    string          `json:"symbol"`
	Interval  string          `json:"interval"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

type GetCandlesResponse struct {
	Candles []Candle `json:"candles"`
}

type Position struct {
	ID              string           `json:"id"`
	Symbol          string           `json:"symbol"`
	Side            string           `json:"side"`
	EntryPrice      decimal.Decimal  `json:"entry_price"`
	Amount          decimal.Decimal  `json:"amount"`
	Leverage        int              `json:"leverage"`
	UnrealizedPnl   decimal.Decimal  `json:"unrealized_pnl"`
	StopLossPrice   *decimal.Decimal `json:"stop_loss_price,omitempty"`
	TakeProfitPrice *decimal.Decimal `json:"take_profit_price,omitempty"`
	Status          string           `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type GetPositionsResponse struct {
	Positions []Position `json:"positions"`
}

type ClosePositionRequest struct {
	Symbol string `json:"symbol" binding:"required"`
	Side   string `json:"side" binding:"required,oneof=BUY SELL"`
}

type ClosePositionResponse struct {
	Position Position `json:"position"`
}

type Market struct {
	Symbol string `json:"symbol"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
}

type GetMarketsResponse struct {
	Markets []Market `json:"markets"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
