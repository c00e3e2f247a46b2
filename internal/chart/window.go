package chart

import (
	"context"
	"fmt"
	"time"
)

// Window 是闭区间 [From, To]；From 晚于 To 时为退化窗口。
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Valid 判断窗口是否非退化。调用方必须先检查再使用。
func (w Window) Valid() bool {
	return !w.From.IsZero() && !w.To.IsZero() && !w.From.After(w.To)
}

// Intersect 取两个窗口的交集，结果可能退化。
func (w Window) Intersect(o Window) Window {
	out := w
	if o.From.After(out.From) {
		out.From = o.From
	}
	if o.To.Before(out.To) {
		out.To = o.To
	}
	return out
}

// Span 返回窗口长度，退化窗口为 0。
func (w Window) Span() time.Duration {
	if !w.Valid() {
		return 0
	}
	return w.To.Sub(w.From)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s]", w.From.UTC().Format(time.RFC3339), w.To.UTC().Format(time.RFC3339))
}

// WindowSource 报告已持久化数据的起止时间。
type WindowSource interface {
	TimeWindow(ctx context.Context, c *Chart) (Window, error)
}

// CommonTimeWindow 返回 [max(各自最早), min(各自最晚)]，不做有效性裁剪。
func CommonTimeWindow(ctx context.Context, src WindowSource, charts ...*Chart) (Window, error) {
	if len(charts) == 0 {
		return Window{}, fmt.Errorf("common time window needs at least one chart")
	}
	var out Window
	for i, c := range charts {
		w, err := src.TimeWindow(ctx, c)
		if err != nil {
			return Window{}, fmt.Errorf("time window of %s: %w", c.Key(), err)
		}
		if i == 0 {
			out = w
			continue
		}
		out = out.Intersect(w)
	}
	return out, nil
}
