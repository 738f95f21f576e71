package core

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateUnrealizedPnl(t *testing.T) {
	tests := []struct {
		name    string
		side    domain.Side
		entry   string
		amount  string
		current string
		want    string
	}{
		{"long in profit", domain.Buy, "100", "2", "110", "20"},
		{"long in loss", domain.Buy, "100", "2", "90", "-20"},
		{"short in profit", domain.Sell, "100", "3", "90", "30"},
		{"short in loss", domain.Sell, "100", "3", "101.5", "-4.5"},
		{"flat", domain.Buy, "100", "0", "150", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateUnrealizedPnl(fp(tt.entry), fp(tt.amount), fp(tt.current), tt.side)
			assert.True(t, got.Equal(fp(tt.want)), "got %s", got)
		})
	}
}

func TestMergeFillOpensPosition(t *testing.T) {
	o := newOrder(domain.Buy, domain.Limit, "101", "3", 0)
	o.Leverage = 5
	o.StopLossPrice = fpPtr("90")

	p := MergeFill(nil, o, fp("2"), fp("100"), t0)

	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, o.UserID, p.UserID)
	assert.Equal(t, domain.Buy, p.Side)
	assert.Equal(t, domain.PositionOpen, p.Status)
	assert.Equal(t, 5, p.Leverage)
	assert.True(t, p.EntryPrice.Equal(fp("101")), "limit fills enter at the order price")
	assert.True(t, p.Amount.Equal(fp("2")))
	assert.True(t, p.UnrealizedPnl.Equal(fp("-2")))
	require.NotNil(t, p.StopLossPrice)
	assert.True(t, p.StopLossPrice.Equal(fp("90")))
}

func TestMergeFillAveragesEntry(t *testing.T) {
	existing := &domain.Position{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		Symbol:     testSymbol,
		Side:       domain.Buy,
		EntryPrice: fp("100"),
		Amount:     fp("1"),
		Leverage:   2,
		Status:     domain.PositionOpen,
		CreatedAt:  t0,
		UpdatedAt:  t0,
	}
	o := newOrder(domain.Buy, domain.Market, "0", "3", time.Minute)
	o.UserID = existing.UserID
	o.TakeProfitPrice = fpPtr("300")

	p := MergeFill(existing, o, fp("3"), fp("200"), t0.Add(time.Minute))

	assert.Equal(t, existing.ID, p.ID)
	assert.True(t, p.EntryPrice.Equal(fp("175")), "(100*1 + 200*3) / 4, got %s", p.EntryPrice)
	assert.True(t, p.Amount.Equal(fp("4")))
	assert.True(t, p.UnrealizedPnl.Equal(fp("100")))
	assert.Equal(t, 2, p.Leverage, "leverage of the open position is kept")
	require.NotNil(t, p.TakeProfitPrice)
	assert.True(t, existing.Amount.Equal(fp("1")), "existing is not modified")
	assert.Equal(t, t0, existing.UpdatedAt)
}

func TestPositionLedgerMergesPerKey(t *testing.T) {
	user := uuid.New()
	first := newOrder(domain.Sell, domain.Limit, "100", "1", 0)
	first.UserID = user
	second := newOrder(domain.Sell, domain.Limit, "102", "1", time.Second)
	second.UserID = user
	other := newOrder(domain.Buy, domain.Limit, "102", "2", 0)

	l := newPositionLedger()
	p := MergeFill(nil, first, fp("1"), fp("100"), t0)
	l.put(p, true)
	cur, ok := l.current(p.Key())
	require.True(t, ok)
	l.put(MergeFill(cur, second, fp("1"), fp("102"), t0), false)
	l.put(MergeFill(nil, other, fp("2"), fp("102"), t0), true)

	positions := l.positions()
	require.Len(t, positions, 2)
	assert.Equal(t, user, positions[0].UserID)
	assert.True(t, positions[0].Amount.Equal(fp("2")))
	assert.True(t, positions[0].EntryPrice.Equal(fp("101")))
	assert.Contains(t, l.created, positions[0].Key(), "a position created in this drain stays an insert")
	assert.Empty(t, l.updated)
}
