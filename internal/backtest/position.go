package backtest

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrPosition       = errors.New("position error")
	ErrPositionClosed = fmt.Errorf("%w: already closed", ErrPosition)
)

type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position 由订单成交产生，ExitPrice 只在 Close 时写入一次。
type Position struct {
	ID         int64
	OrderID    int64
	Symbol     string
	Side       Side
	Units      float64
	EntryPrice float64
	ExitPrice  float64
	SL         *float64
	TP         *float64
	Status     PositionStatus
	OpenedAt   time.Time
	ClosedAt   time.Time
}

func (p *Position) Close(now time.Time, price float64) error {
	if p.Status != PositionOpen {
		return fmt.Errorf("position %d: %w", p.ID, ErrPositionClosed)
	}
	p.Status = PositionClosed
	p.ExitPrice = price
	p.ClosedAt = now
	return nil
}

// Profit 已平仓时返回已实现盈亏，否则按 last 计算浮动盈亏。
func (p *Position) Profit(last float64) float64 {
	exit := last
	if p.Status == PositionClosed {
		exit = p.ExitPrice
	}
	diff := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(p.EntryPrice))
	if p.Side == Short {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromFloat(p.Units)).InexactFloat64()
}

func (p *Position) Duration(now time.Time) time.Duration {
	end := p.ClosedAt
	if p.Status == PositionOpen || end.IsZero() {
		end = now
	}
	return end.Sub(p.OpenedAt)
}

func (p *Position) String() string {
	return fmt.Sprintf("#%d %s %s %g@%g %s", p.ID, p.Symbol, p.Side, p.Units, p.EntryPrice, p.Status)
}
