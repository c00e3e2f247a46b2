package report

import (
	"context"
	"time"

	"github.com/montanaflynn/stats"
)

const sampleSize = 5

// EquityPoint 是资金曲线上的一个点。
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// OrderRecord 是统计所需的订单摘要。
type OrderRecord struct {
	ID       int64     `json:"id"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Status   string    `json:"status"`
	PlacedAt time.Time `json:"placed_at"`
	ClosedAt time.Time `json:"closed_at,omitempty"`
}

// PositionRecord 是统计所需的仓位摘要，Profit 对未平仓位为浮动盈亏。
type PositionRecord struct {
	ID       int64     `json:"id"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Status   string    `json:"status"`
	OpenedAt time.Time `json:"opened_at"`
	ClosedAt time.Time `json:"closed_at,omitempty"`
	Profit   float64   `json:"profit"`
}

// Input 是 Build 的全部输入；Now 用于计算未结束订单/仓位的时长。
type Input struct {
	RunID       string
	Strategy    string
	InitialCash float64
	Timesteps   []time.Time
	Equity      []EquityPoint
	Orders      []OrderRecord
	Positions   []PositionRecord
	Now         time.Time
	// CreatedAt 是生成报告的墙钟时间，只用于展示与排序。
	CreatedAt time.Time
}

type Window struct {
	From  time.Time   `json:"from"`
	To    time.Time   `json:"to"`
	Steps int         `json:"steps"`
	Head  []time.Time `json:"head"`
	Tail  []time.Time `json:"tail"`
}

type EquitySummary struct {
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	MaxDrawdown float64 `json:"max_drawdown"`
}

// Stats 是一组数值的 min/max/avg，Count 为 0 时其余字段无意义。
type Stats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

// BacktestReport 是一次回测的汇总，时长单位为秒。
type BacktestReport struct {
	RunID            string           `json:"run_id"`
	Strategy         string           `json:"strategy"`
	CreatedAt        time.Time        `json:"created_at"`
	InitialCash      float64          `json:"initial_cash"`
	Window           Window           `json:"window"`
	Equity           EquitySummary    `json:"equity"`
	Curve            []EquityPoint    `json:"curve"`
	Orders           int              `json:"orders"`
	FilledOrders     int              `json:"filled_orders"`
	CancelledOrders  int              `json:"cancelled_orders"`
	OpenOrders       int              `json:"open_orders"`
	Positions        int              `json:"positions"`
	ClosedPositions  int              `json:"closed_positions"`
	OrderDuration    Stats            `json:"order_duration"`
	PositionDuration Stats            `json:"position_duration"`
	PositionProfit   Stats            `json:"position_profit"`
	WinRate          float64          `json:"win_rate"`
	OrderList        []OrderRecord    `json:"order_list"`
	PositionList     []PositionRecord `json:"position_list"`
}

// Sink 持久化报告。
type Sink interface {
	SaveReport(ctx context.Context, r *BacktestReport) error
}

// Build 是纯函数，不修改输入。
func Build(in Input) *BacktestReport {
	out := &BacktestReport{
		RunID:        in.RunID,
		Strategy:     in.Strategy,
		CreatedAt:    in.CreatedAt,
		InitialCash:  in.InitialCash,
		Window:       buildWindow(in.Timesteps),
		Equity:       summarizeEquity(in.Equity),
		Curve:        append([]EquityPoint(nil), in.Equity...),
		OrderList:    append([]OrderRecord(nil), in.Orders...),
		PositionList: append([]PositionRecord(nil), in.Positions...),
	}

	orderDur := make(stats.Float64Data, 0, len(in.Orders))
	for _, o := range in.Orders {
		out.Orders++
		switch o.Status {
		case "filled":
			out.FilledOrders++
		case "cancelled":
			out.CancelledOrders++
		default:
			out.OpenOrders++
		}
		end := o.ClosedAt
		if end.IsZero() {
			end = in.Now
		}
		orderDur = append(orderDur, end.Sub(o.PlacedAt).Seconds())
	}
	out.OrderDuration = describe(orderDur)

	posDur := make(stats.Float64Data, 0, len(in.Positions))
	profits := make(stats.Float64Data, 0, len(in.Positions))
	wins := 0
	for _, p := range in.Positions {
		out.Positions++
		end := p.ClosedAt
		if p.Status != "closed" || end.IsZero() {
			end = in.Now
		}
		posDur = append(posDur, end.Sub(p.OpenedAt).Seconds())
		profits = append(profits, p.Profit)
		if p.Status == "closed" {
			out.ClosedPositions++
			if p.Profit > 0 {
				wins++
			}
		}
	}
	out.PositionDuration = describe(posDur)
	out.PositionProfit = describe(profits)
	if out.ClosedPositions > 0 {
		out.WinRate = float64(wins) / float64(out.ClosedPositions)
	}
	return out
}

func buildWindow(steps []time.Time) Window {
	w := Window{Steps: len(steps)}
	if len(steps) == 0 {
		return w
	}
	w.From = steps[0]
	w.To = steps[len(steps)-1]
	n := sampleSize
	if n > len(steps) {
		n = len(steps)
	}
	w.Head = append([]time.Time(nil), steps[:n]...)
	w.Tail = append([]time.Time(nil), steps[len(steps)-n:]...)
	return w
}

func summarizeEquity(curve []EquityPoint) EquitySummary {
	if len(curve) == 0 {
		return EquitySummary{}
	}
	s := EquitySummary{
		Open:  curve[0].Equity,
		High:  curve[0].Equity,
		Low:   curve[0].Equity,
		Close: curve[len(curve)-1].Equity,
	}
	peak := curve[0].Equity
	for _, p := range curve {
		if p.Equity > s.High {
			s.High = p.Equity
		}
		if p.Equity < s.Low {
			s.Low = p.Equity
		}
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := 1 - p.Equity/peak; dd > s.MaxDrawdown {
				s.MaxDrawdown = dd
			}
		}
	}
	return s
}

// Drawdown 返回与资金曲线等长的回撤序列 1 - equity/running_max。
func Drawdown(curve []EquityPoint) []float64 {
	out := make([]float64, len(curve))
	peak := 0.0
	for i, p := range curve {
		if i == 0 || p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			out[i] = 1 - p.Equity/peak
		}
	}
	return out
}

func describe(data stats.Float64Data) Stats {
	if data.Len() == 0 {
		return Stats{}
	}
	minV, _ := stats.Min(data)
	maxV, _ := stats.Max(data)
	avg, _ := stats.Mean(data)
	return Stats{Count: data.Len(), Min: minV, Max: maxV, Avg: avg}
}
