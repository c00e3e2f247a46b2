package strategy

import (
	"context"
	"fmt"
	"strings"

	"tickforge/internal/backtest"
)

const ScriptName = "script"

// 脚本动作。
const (
	ActionPlace     = "place"
	ActionCloseAll  = "close_all"
	ActionCancelAll = "cancel_all"
)

// ScriptStep 在第 At 次 Handler 调用（从 0 开始）时执行一个动作。
// place 的仓位大小三选一：Units、Percent（余额百分比）、Risk（固定风险金额，需要 SL）。
type ScriptStep struct {
	At      int     `mapstructure:"at"`
	Action  string  `mapstructure:"action"`
	Symbol  string  `mapstructure:"symbol"`
	Side    string  `mapstructure:"side"`
	Units   float64 `mapstructure:"units"`
	Percent float64 `mapstructure:"percent"`
	Risk    float64 `mapstructure:"risk"`
	Limit   float64 `mapstructure:"limit"`
	Stop    float64 `mapstructure:"stop"`
	SL      float64 `mapstructure:"sl"`
	TP      float64 `mapstructure:"tp"`
}

type ScriptParams struct {
	Steps []ScriptStep `mapstructure:"steps"`
}

// Script 按 tick 序号执行预先写好的动作，结果完全可复现。
type Script struct {
	steps  map[int][]ScriptStep
	broker backtest.Broker
	tick   int
	// Placed 记录脚本下过的订单，按执行顺序。
	Placed []*backtest.Order
}

func NewScript(params map[string]any) (backtest.Strategy, error) {
	var p ScriptParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	s := &Script{steps: make(map[int][]ScriptStep)}
	for i, st := range p.Steps {
		st.Action = strings.ToLower(strings.TrimSpace(st.Action))
		st.Symbol = strings.ToUpper(strings.TrimSpace(st.Symbol))
		if err := st.validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		s.steps[st.At] = append(s.steps[st.At], st)
	}
	return s, nil
}

func (st ScriptStep) validate() error {
	if st.At < 0 {
		return fmt.Errorf("at must not be negative")
	}
	switch st.Action {
	case ActionPlace:
		if st.Symbol == "" {
			return fmt.Errorf("place needs a symbol")
		}
		if !backtest.Side(strings.ToLower(st.Side)).Valid() {
			return fmt.Errorf("invalid side %q", st.Side)
		}
		if _, err := st.sizing(); err != nil {
			return err
		}
	case ActionCloseAll, ActionCancelAll:
	default:
		return fmt.Errorf("unknown action %q", st.Action)
	}
	return nil
}

func (st ScriptStep) sizing() (backtest.Sizing, error) {
	set := 0
	var out backtest.Sizing
	if st.Units > 0 {
		set++
		out = backtest.Units(st.Units)
	}
	if st.Percent > 0 {
		set++
		out = backtest.PercentOfBalance(st.Percent)
	}
	if st.Risk > 0 {
		set++
		out = backtest.FixedRisk(st.Risk)
	}
	if set != 1 {
		return nil, fmt.Errorf("exactly one of units, percent, risk is required")
	}
	return out, nil
}

func (st ScriptStep) order() *backtest.Order {
	size, _ := st.sizing()
	o := backtest.NewOrder(backtest.Side(strings.ToLower(st.Side)), st.Symbol, size)
	if st.Limit > 0 {
		o.WithLimit(st.Limit)
	}
	if st.Stop > 0 {
		o.WithStop(st.Stop)
	}
	if st.SL > 0 {
		o.WithSL(st.SL)
	}
	if st.TP > 0 {
		o.WithTP(st.TP)
	}
	return o
}

func (s *Script) Setup(ctx context.Context, b backtest.Broker) error {
	s.broker = b
	s.tick = 0
	return nil
}

func (s *Script) Handler(ctx context.Context) error {
	defer func() { s.tick++ }()
	for _, st := range s.steps[s.tick] {
		if err := s.exec(st); err != nil {
			return fmt.Errorf("tick %d %s: %w", s.tick, st.Action, err)
		}
	}
	return nil
}

func (s *Script) exec(st ScriptStep) error {
	switch st.Action {
	case ActionPlace:
		o, err := s.broker.PlaceOrder(st.order())
		if err != nil {
			return err
		}
		s.Placed = append(s.Placed, o)
	case ActionCloseAll:
		for _, p := range s.broker.GetPositions(st.Symbol, backtest.PositionOpen) {
			if err := s.broker.ClosePosition(p); err != nil {
				return err
			}
		}
	case ActionCancelAll:
		for _, o := range s.broker.GetOrders(st.Symbol, backtest.OrderOpen) {
			if err := s.broker.CancelOrder(o); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Script) Cleanup(ctx context.Context) error { return nil }
