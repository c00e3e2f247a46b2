package chart

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Group 把多个图表的数据在时间轴上外连接成一张表并独占持有。
// 窗口参数（From/To/Count）在读取时下发给每个成员。
type Group struct {
	charts []*Chart
	frame  *Frame

	From  time.Time
	To    time.Time
	Count int
}

// NewGroup 以给定顺序组建分组；同一图表不能重复加入。
func NewGroup(charts ...*Chart) (*Group, error) {
	seen := make(map[string]bool, len(charts))
	for _, c := range charts {
		if c == nil {
			return nil, fmt.Errorf("group member cannot be nil")
		}
		if seen[c.Key()] {
			return nil, fmt.Errorf("chart %s added to group twice", c.Key())
		}
		if c.group != nil {
			return nil, fmt.Errorf("%w: %s", ErrGrouped, c.Key())
		}
		seen[c.Key()] = true
	}
	return &Group{charts: append([]*Chart(nil), charts...), frame: NewFrame(nil)}, nil
}

func (g *Group) Charts() []*Chart {
	return append([]*Chart(nil), g.charts...)
}

// Chart 按键查找成员。
func (g *Group) Chart(key string) *Chart {
	for _, c := range g.charts {
		if c.Key() == key {
			return c
		}
	}
	return nil
}

// Frame 返回分组持有的合并表。
func (g *Group) Frame() *Frame {
	return g.frame
}

// Read 批量读取全部成员并外连接，之后成员只保留指向合并表的视图。
// 成员的读取并发进行，合并顺序与成员顺序一致。
func (g *Group) Read(ctx context.Context, repo Reader) error {
	ov := Overrides{}
	if !g.From.IsZero() {
		from := g.From
		ov.From = &from
	}
	if !g.To.IsZero() {
		to := g.To
		ov.To = &to
	}
	if g.Count > 0 {
		count := g.Count
		ov.Count = &count
	}

	frames := make([]*Frame, len(g.charts))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, c := range g.charts {
		i, c := i, c
		eg.Go(func() error {
			rows, err := repo.ReadChart(egCtx, c, ov)
			if err != nil {
				return fmt.Errorf("read %s: %w", c.Key(), err)
			}
			frames[i] = FrameFromRows(c.Key(), c.typ.ValueFields, rows)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	g.frame = OuterJoin(frames...)
	for _, c := range g.charts {
		c.frame = nil
		c.group = g
		c.From, c.To, c.Count = g.From, g.To, g.Count
	}
	for _, c := range g.charts {
		if err := c.Refresh(false); err != nil {
			return err
		}
	}
	return nil
}

// Release 解散分组，成员重新获得各自的私有数据副本。
func (g *Group) Release() {
	for _, c := range g.charts {
		if c.group != g {
			continue
		}
		rows := g.frame.Rows(c.Key(), c.typ.ValueFields)
		c.group = nil
		c.SetRows(rows)
	}
}
