package core

import (
	"testing"

	"github.com/google/uuid"
	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leveraged(side domain.Side, entry, amount string, leverage int) *domain.Position {
	return &domain.Position{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		Symbol:     testSymbol,
		Side:       side,
		EntryPrice: fp(entry),
		Amount:     fp(amount),
		Leverage:   leverage,
		Status:     domain.PositionOpen,
		CreatedAt:  t0,
		UpdatedAt:  t0,
	}
}

func TestCalculateMargin(t *testing.T) {
	tests := []struct {
		name  string
		pos   *domain.Position
		price string
		want  string
	}{
		{"long down 8 at 10x", leveraged(domain.Buy, "100", "1", 10), "92", "-0.8"},
		{"long down 10 at 10x", leveraged(domain.Buy, "100", "1", 10), "90", "-1"},
		{"long up at 1x", leveraged(domain.Buy, "100", "1", 1), "150", "0.5"},
		{"short up 8 at 10x", leveraged(domain.Sell, "100", "1", 10), "108", "-0.8"},
		{"zero leverage treated as 1x", leveraged(domain.Buy, "100", "1", 0), "50", "-0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateMargin(tt.pos, fp(tt.price))
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestCalculateMarginZeroEntry(t *testing.T) {
	_, err := CalculateMargin(leveraged(domain.Buy, "0", "1", 10), fp("100"))
	assert.ErrorIs(t, err, ErrZeroEntryPrice)
}

func TestEvaluateMarginThresholds(t *testing.T) {
	tests := []struct {
		margin string
		want   LiquidationAction
	}{
		{"0.5", NoLiquidation},
		{"-0.79", NoLiquidation},
		{"-0.8", PartialLiquidation},
		{"-0.95", PartialLiquidation},
		{"-1", FullLiquidation},
		{"-3", FullLiquidation},
	}
	for _, tt := range tests {
		t.Run(tt.margin, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateMargin(decimal.RequireFromString(tt.margin)))
		})
	}
}

func TestLiquidated(t *testing.T) {
	p := leveraged(domain.Buy, "100", "10", 10)

	partial, left := Liquidated(p, PartialLiquidation)
	assert.Equal(t, domain.PositionPartiallyLiquidated, partial.Status)
	assert.True(t, left.Equal(fp("2")))
	assert.True(t, partial.Amount.Equal(fp("2")))

	full, left := Liquidated(p, FullLiquidation)
	assert.Equal(t, domain.PositionLiquidated, full.Status)
	assert.True(t, left.IsZero())

	assert.Equal(t, domain.PositionOpen, p.Status, "input is not modified")
	assert.True(t, p.Amount.Equal(fp("10")))
}
