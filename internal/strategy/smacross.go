package strategy

import (
	"context"
	"fmt"
	"math"
	"strings"

	"tickforge/internal/analysis/indicator"
	"tickforge/internal/backtest"
	"tickforge/internal/chart"
	"tickforge/internal/interval"
	"tickforge/internal/logger"
	"tickforge/internal/repository"
)

const SMACrossName = "smacross"

// SMACrossParams 配置均线交叉策略；止损止盈以 pip 计，0 表示不设。
type SMACrossParams struct {
	Symbol   string  `mapstructure:"symbol"`
	Interval string  `mapstructure:"interval"`
	Fast     int     `mapstructure:"fast"`
	Slow     int     `mapstructure:"slow"`
	Percent  float64 `mapstructure:"percent"`
	SLPips   float64 `mapstructure:"sl_pips"`
	TPPips   float64 `mapstructure:"tp_pips"`
}

// SMACross 在快线上穿慢线时做多、下穿时做空，反向信号先平掉已有仓位。
type SMACross struct {
	params SMACrossParams
	iv     interval.Interval

	broker backtest.Broker
	chart  *chart.Chart
	fast   *indicator.SMA
	slow   *indicator.SMA
	// 上一根 K 线上的相对位置：1 快线在上，-1 在下，0 未知
	state  int
}

func NewSMACross(params map[string]any) (backtest.Strategy, error) {
	p := SMACrossParams{Interval: "1h", Fast: 10, Slow: 30, Percent: 2}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if p.Fast <= 1 || p.Slow <= p.Fast {
		return nil, fmt.Errorf("need 1 < fast < slow, got fast=%d slow=%d", p.Fast, p.Slow)
	}
	if p.Percent <= 0 {
		return nil, fmt.Errorf("percent must be positive")
	}
	if p.SLPips < 0 || p.TPPips < 0 {
		return nil, fmt.Errorf("sl_pips/tp_pips must not be negative")
	}
	iv, err := interval.Parse(p.Interval)
	if err != nil {
		return nil, err
	}
	return &SMACross{params: p, iv: iv}, nil
}

func (s *SMACross) Setup(ctx context.Context, b backtest.Broker) error {
	c, err := chart.Candlestick(s.params.Symbol, s.iv)
	if err != nil {
		return err
	}
	s.fast = indicator.NewSMA(s.params.Fast)
	s.slow = indicator.NewSMA(s.params.Slow)
	if err := c.Attach(s.fast); err != nil {
		return err
	}
	if err := c.Attach(s.slow); err != nil {
		return err
	}
	s.broker = b
	s.chart = c
	return nil
}

func (s *SMACross) Handler(ctx context.Context) error {
	// 只读取到当前时刻为止的数据，多取一根用于判断交叉
	if err := s.chart.Read(ctx, s.broker.Repository(), chart.Last(s.params.Slow+1, s.broker.Now())); err != nil {
		return err
	}
	v := s.chart.View()
	if v.Len() < s.params.Slow {
		return nil
	}
	fast := v.Last(chart.ColumnField(s.fast, indicator.FieldValue))
	slow := v.Last(chart.ColumnField(s.slow, indicator.FieldValue))
	if math.IsNaN(fast) || math.IsNaN(slow) {
		return nil
	}
	state := -1
	if fast > slow {
		state = 1
	}
	prev := s.state
	s.state = state
	if prev == 0 || prev == state {
		return nil
	}
	side := backtest.Long
	if state < 0 {
		side = backtest.Short
	}
	return s.enter(ctx, side)
}

func (s *SMACross) enter(ctx context.Context, side backtest.Side) error {
	sym := s.params.Symbol
	for _, p := range s.broker.GetPositions(sym, backtest.PositionOpen) {
		if p.Side == side {
			return nil
		}
		if err := s.broker.ClosePosition(p); err != nil {
			return err
		}
	}
	intent := repository.IntentBuy
	if side == backtest.Short {
		intent = repository.IntentSell
	}
	price, err := s.broker.GetLastPrice(ctx, sym, intent)
	if err != nil {
		return err
	}
	pip := s.broker.Repository().GetPipSize(sym)
	dir := 1.0
	if side == backtest.Short {
		dir = -1
	}
	o := backtest.NewOrder(side, sym, backtest.PercentOfBalance(s.params.Percent))
	if s.params.SLPips > 0 {
		o.WithSL(price - dir*s.params.SLPips*pip)
	}
	if s.params.TPPips > 0 {
		o.WithTP(price + dir*s.params.TPPips*pip)
	}
	logger.With("symbol", sym, "tick", s.broker.Now()).Debugf("[smacross] %s signal at %g", side, price)
	_, err = s.broker.PlaceOrder(o)
	return err
}

func (s *SMACross) Cleanup(ctx context.Context) error {
	if s.chart != nil {
		for _, ind := range s.chart.Indicators() {
			s.chart.Detach(ind.Name())
		}
	}
	return nil
}
