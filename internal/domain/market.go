package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
	"github.com/shopspring/decimal"
)

// MarketInfo describes a tradable symbol.
type MarketInfo struct {
	Symbol string `json:"symbol"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
	Active bool   `json:"active"`
}

// Ticker is derived from the current daily candle and yesterday's daily candle.
type Ticker struct {
	Symbol     string          `json:"symbol"`
	Last       fixedpoint.Int  `json:"last"`
	Open       fixedpoint.Int  `json:"open"`
	High       fixedpoint.Int  `json:"high"`
	Low        fixedpoint.Int  `json:"low"`
	Volume     fixedpoint.Int  `json:"baseVolume"`
	Change     fixedpoint.Int  `json:"change"`
	Percentage decimal.Decimal `json:"percentage"`
	Timestamp  time.Time       `json:"timestamp"`
}

type Wallet struct {
	UserID   uuid.UUID       `json:"userId"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

type EmailType string

const (
	EmailLiquidationWarning             EmailType = "LiquidationWarning"
	EmailPartialLiquidationNotification EmailType = "PartialLiquidationNotification"
	EmailLiquidationNotification        EmailType = "LiquidationNotification"
)

type Notification struct {
	EmailType EmailType      `json:"emailType"`
	EmailData map[string]any `json:"emailData"`
}
