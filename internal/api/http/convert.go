package http

import (
	"github.com/olyamironova/futures-engine/internal/api/dto"
	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
	"github.com/shopspring/decimal"
)

func (s *HTTPServer) optFixed(d *decimal.Decimal) *fixedpoint.Int {
	if d == nil {
		return nil
	}
	v := s.Conv.ToFixedPoint(*d)
	return &v
}

func (s *HTTPServer) optDecimal(v *fixedpoint.Int) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := s.Conv.FromFixedPoint(*v)
	return &d
}

func (s *HTTPServer) convertOrder(o *domain.Order) dto.Order {
	fills := make([]dto.Fill, len(o.Trades))
	for i, f := range o.Trades {
		fills[i] = dto.Fill{
			ID:        f.ID.String(),
			Side:      string(f.Side),
			Price:     s.Conv.FromFixedPoint(f.Price),
			Amount:    s.Conv.FromFixedPoint(f.Amount),
			Cost:      s.Conv.FromFixedPoint(f.Cost),
			Timestamp: f.Timestamp,
		}
	}
	return dto.Order{
		ID:              o.ID.String(),
		UserID:          o.UserID.String(),
		Symbol:          o.Symbol,
		Side:            string(o.Side),
		Type:            string(o.Type),
		Price:           s.Conv.FromFixedPoint(o.Price),
		Amount:          s.Conv.FromFixedPoint(o.Amount),
		Leverage:        o.Leverage,
		StopLossPrice:   s.optDecimal(o.StopLossPrice),
		TakeProfitPrice: s.optDecimal(o.TakeProfitPrice),
		Filled:          s.Conv.FromFixedPoint(o.Filled),
		Remaining:       s.Conv.FromFixedPoint(o.Remaining),
		Cost:            s.Conv.FromFixedPoint(o.Cost),
		Fee:             s.Conv.FromFixedPoint(o.Fee),
		FeeCurrency:     o.FeeCurrency,
		Average:         s.Conv.FromFixedPoint(o.Average),
		Status:          string(o.Status),
		Trades:          fills,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func (s *HTTPServer) convertLevels(levels []domain.PriceLevel) []dto.PriceLevel {
	res := make([]dto.PriceLevel, len(levels))
	for i, l := range levels {
		res[i] = dto.PriceLevel{Price: s.Conv.FromFixedPoint(l.Price), Amount: s.Conv.FromFixedPoint(l.Amount)}
	}
	return res
}

func (s *HTTPServer) convertTicker(t domain.Ticker) dto.Ticker {
	return dto.Ticker{
		Symbol:     t.Symbol,
		Last:       s.Conv.FromFixedPoint(t.Last),
		Open:       s.Conv.FromFixedPoint(t.Open),
		High:       s.Conv.FromFixedPoint(t.High),
		Low:        s.Conv.FromFixedPoint(t.Low),
		BaseVolume: s.Conv.FromFixedPoint(t.Volume),
		Change:     s.Conv.FromFixedPoint(t.Change),
		Percentage: t.Percentage,
		Timestamp:  t.Timestamp,
	}
}

func (s *HTTPServer) convertPosition(p *domain.Position) dto.Position {
	return dto.Position{
		ID:              p.ID.String(),
		Symbol:          p.Symbol,
		Side:            string(p.Side),
		EntryPrice:      s.Conv.FromFixedPoint(p.EntryPrice),
		Amount:          s.Conv.FromFixedPoint(p.Amount),
		Leverage:        p.Leverage,
		UnrealizedPnl:   s.Conv.FromFixedPoint(p.UnrealizedPnl),
		StopLossPrice:   s.optDecimal(p.StopLossPrice),
		TakeProfitPrice: s.optDecimal(p.TakeProfitPrice),
		Status:          string(p.Status),
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}
