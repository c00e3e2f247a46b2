package backtest

import (
	"context"
	"time"

	"tickforge/internal/repository"
)

// Strategy 由 broker 驱动：Setup 一次，每个时间步 Handler 一次，结束时 Cleanup。
type Strategy interface {
	Setup(ctx context.Context, broker Broker) error
	Handler(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

// Broker 是策略可见的查询与下单接口。
// PlaceOrder/CancelOrder/ClosePosition 按延迟生效，返回时只完成校验。
type Broker interface {
	Now() time.Time
	PlaceOrder(o *Order) (*Order, error)
	CancelOrder(o *Order) error
	ClosePosition(p *Position) error
	GetOrders(symbol string, statuses ...OrderStatus) []*Order
	GetPositions(symbol string, statuses ...PositionStatus) []*Position
	GetLastPrice(ctx context.Context, symbol string, intent repository.Intent) (float64, error)
	Balance() float64
	Equity() float64
	Repository() repository.Repository
}

// StrategyFunc 把普通函数适配为只有 Handler 的策略。
type StrategyFunc func(ctx context.Context, b Broker) error

func (f StrategyFunc) Bind() Strategy {
	return &funcStrategy{fn: f}
}

type funcStrategy struct {
	fn     StrategyFunc
	broker Broker
}

func (s *funcStrategy) Setup(ctx context.Context, b Broker) error {
	s.broker = b
	return nil
}

func (s *funcStrategy) Handler(ctx context.Context) error {
	return s.fn(ctx, s.broker)
}

func (s *funcStrategy) Cleanup(ctx context.Context) error { return nil }
