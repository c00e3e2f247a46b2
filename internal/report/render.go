package report

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
)

const timeLayout = "2006-01-02 15:04"

// Render 把报告以文本表格写到 w。
func Render(w io.Writer, r *BacktestReport) {
	if r == nil {
		return
	}
	fmt.Fprintf(w, "Backtest %s (%s)\n", r.RunID, r.Strategy)

	summary := tablewriter.NewWriter(w)
	summary.SetHeader([]string{"Metric", "Value"})
	summary.SetAlignment(tablewriter.ALIGN_LEFT)
	summary.SetAutoWrapText(false)
	summary.AppendBulk([][]string{
		{"Window", fmt.Sprintf("%s -> %s (%d steps)", formatTime(r.Window.From), formatTime(r.Window.To), r.Window.Steps)},
		{"Head", formatTimes(r.Window.Head)},
		{"Tail", formatTimes(r.Window.Tail)},
		{"Initial cash", fmt.Sprintf("%.2f", r.InitialCash)},
		{"Equity O/H/L/C", fmt.Sprintf("%.2f / %.2f / %.2f / %.2f", r.Equity.Open, r.Equity.High, r.Equity.Low, r.Equity.Close)},
		{"Max drawdown", fmt.Sprintf("%.2f%%", r.Equity.MaxDrawdown*100)},
		{"Orders", fmt.Sprintf("%d (filled %d, cancelled %d, open %d)", r.Orders, r.FilledOrders, r.CancelledOrders, r.OpenOrders)},
		{"Positions", fmt.Sprintf("%d (closed %d)", r.Positions, r.ClosedPositions)},
		{"Win rate", fmt.Sprintf("%.2f%%", r.WinRate*100)},
	})
	summary.Render()

	stats := tablewriter.NewWriter(w)
	stats.SetHeader([]string{"Series", "Count", "Min", "Max", "Avg"})
	stats.SetAlignment(tablewriter.ALIGN_RIGHT)
	stats.Append(statsRow("Order duration", r.OrderDuration, true))
	stats.Append(statsRow("Position duration", r.PositionDuration, true))
	stats.Append(statsRow("Position profit", r.PositionProfit, false))
	stats.Render()
}

func statsRow(name string, s Stats, duration bool) []string {
	if s.Count == 0 {
		return []string{name, "0", "-", "-", "-"}
	}
	format := func(v float64) string {
		if duration {
			return (time.Duration(v * float64(time.Second))).Round(time.Second).String()
		}
		return fmt.Sprintf("%.4f", v)
	}
	return []string{name, fmt.Sprint(s.Count), format(s.Min), format(s.Max), format(s.Avg)}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

func formatTimes(ts []time.Time) string {
	out := ""
	for i, t := range ts {
		if i > 0 {
			out += ", "
		}
		out += t.UTC().Format("15:04")
	}
	return out
}
