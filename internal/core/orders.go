package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
	"go.uber.org/zap"
)

// CreateOrderRequest is a validated user intent to open an order.
type CreateOrderRequest struct {
	UserID          uuid.UUID
	Symbol          string
	Type            domain.OrderType
	Side            domain.Side
	Price           fixedpoint.Int
	Amount          fixedpoint.Int
	Leverage        int
	StopLossPrice   *fixedpoint.Int
	TakeProfitPrice *fixedpoint.Int
}

// OrderService persists user orders and hands them to the engine.
type OrderService struct {
	engine *Engine
	log    *zap.Logger
}

func NewOrderService(e *Engine) *OrderService {
	return &OrderService{engine: e, log: e.log.Named("orders")}
}

// CreateOrder stores a new OPEN order and queues it for matching. The
// returned order reflects the state at insert time.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	e := s.engine
	if !e.HasMarket(req.Symbol) {
		return nil, fmt.Errorf("%w: unknown market %q", domain.ErrInvalidOrder, req.Symbol)
	}
	leverage := req.Leverage
	if leverage == 0 {
		leverage = 1
	}
	now := e.now()
	o := &domain.Order{
		ID:              uuid.New(),
		UserID:          req.UserID,
		Symbol:          req.Symbol,
		Type:            req.Type,
		Side:            req.Side,
		Price:           req.Price,
		Amount:          req.Amount,
		Leverage:        leverage,
		StopLossPrice:   req.StopLossPrice,
		TakeProfitPrice: req.TakeProfitPrice,
		Remaining:       req.Amount,
		FeeCurrency:     domain.QuoteCurrency(req.Symbol),
		Status:          domain.OrderOpen,
		Trades:          []domain.Fill{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if err := e.orders.Insert(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.log.Info("order created",
		zap.Stringer("order_id", o.ID),
		zap.Stringer("user_id", o.UserID),
		zap.String("symbol", o.Symbol),
		zap.String("side", string(o.Side)),
		zap.String("type", string(o.Type)),
	)
	if err := e.AddToQueue(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// CancelOrder deletes an open order of userID. It fails with ErrOrderLocked
// while the order is part of a running batch.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID uuid.UUID) (*domain.Order, error) {
	o, err := s.findOpen(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.engine.cancel(ctx, o); err != nil {
		return nil, err
	}
	o.Status = domain.OrderClosed
	s.log.Info("order cancelled", zap.Stringer("order_id", o.ID), zap.Stringer("user_id", userID))
	return o, nil
}

func (s *OrderService) findOpen(ctx context.Context, userID, orderID uuid.UUID) (*domain.Order, error) {
	orders, err := s.engine.orders.FindByUser(ctx, userID, "", true)
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	for _, o := range orders {
		if o.ID == orderID {
			return o, nil
		}
	}
	return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
}

func (e *Engine) cancel(ctx context.Context, o *domain.Order) error {
	ids := []uuid.UUID{o.ID}
	if !e.locks.TryLock(ids) {
		return ErrOrderLocked
	}
	queued := e.removeFromQueue(o.Symbol, o.ID)
	remaining := o.Remaining
	if queued != nil {
		remaining = queued.Remaining
	}

	if err := e.orders.Delete(ctx, o.UserID, o.ID, o.CreatedAt); err != nil {
		if queued != nil {
			e.requeue(queued)
		}
		e.locks.Unlock(ids)
		return fmt.Errorf("engine: cancel order %s: %w", o.ID, err)
	}
	if o.Type == domain.Limit {
		if err := e.adjustBook(ctx, o.Symbol, o.Side, o.Price, remaining.Neg()); err != nil {
			e.log.Error("order book decrement failed", zap.Stringer("order_id", o.ID), zap.Error(err))
		}
	}
	e.locks.Unlock(ids)

	_, err := e.HandleOrderCancellation(ctx, o.ID, o.Symbol)
	return err
}
