package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tickforge/internal/chart"
	"tickforge/internal/repository"
)

// MemoryStore 是分片的内存仓库，写入语义与持久化仓库一致（按时间戳 upsert）。
type MemoryStore struct {
	*repository.InstrumentTable
	shards []seriesShard
}

type seriesShard struct {
	mu   sync.RWMutex
	data map[string][]chart.Row
}

const defaultShardCount = 32

func NewMemoryStore(instruments *repository.InstrumentTable) *MemoryStore {
	return newMemoryStore(defaultShardCount, instruments)
}

func newMemoryStore(shards int, instruments *repository.InstrumentTable) *MemoryStore {
	if shards <= 0 {
		shards = 1
	}
	if instruments == nil {
		instruments = repository.NewInstrumentTable(nil)
	}
	out := &MemoryStore{
		InstrumentTable: instruments,
		shards:          make([]seriesShard, shards),
	}
	for i := range out.shards {
		out.shards[i] = seriesShard{data: make(map[string][]chart.Row)}
	}
	return out
}

func (s *MemoryStore) shardFor(key string) *seriesShard {
	idx := hashKey(key) % uint32(len(s.shards))
	return &s.shards[idx]
}

// Put 直接写入记录（upsert），供测试和数据导入使用。
func (s *MemoryStore) Put(key string, rows []chart.Row) (inserted, updated int) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur := sh.data[key]
	for _, r := range rows {
		r.Timestamp = r.Timestamp.UTC()
		i := sort.Search(len(cur), func(i int) bool { return !cur[i].Timestamp.Before(r.Timestamp) })
		if i < len(cur) && cur[i].Timestamp.Equal(r.Timestamp) {
			cur[i] = r
			updated++
			continue
		}
		cur = append(cur, chart.Row{})
		copy(cur[i+1:], cur[i:])
		cur[i] = r
		inserted++
	}
	sh.data[key] = cur
	return inserted, updated
}

func (s *MemoryStore) ReadChart(ctx context.Context, c *chart.Chart, ov chart.Overrides) ([]chart.Row, error) {
	q := c.Query(ov)
	sh := s.shardFor(c.Key())
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur := sh.data[c.Key()]
	out := make([]chart.Row, 0)
	for _, r := range cur {
		if q.Contains(r.Timestamp) {
			out = append(out, copyRow(r))
		}
	}
	if q.Count > 0 && len(out) > q.Count {
		out = out[len(out)-q.Count:]
	}
	return out, nil
}

// WriteChart 把图表当前数据（限定在覆盖窗口内）upsert 进集合，schema 外字段被丢弃。
func (s *MemoryStore) WriteChart(ctx context.Context, c *chart.Chart, ov chart.Overrides) error {
	q := c.Query(ov)
	var rows []chart.Row
	for _, r := range c.Rows() {
		if !q.Contains(r.Timestamp) {
			continue
		}
		values := make(map[string]float64, len(c.Type().ValueFields))
		for _, f := range c.Type().ValueFields {
			if v, ok := r.Values[f]; ok {
				values[f] = v
			}
		}
		rows = append(rows, chart.Row{Timestamp: r.Timestamp, Values: values})
	}
	s.Put(c.Key(), rows)
	return nil
}

func (s *MemoryStore) GetLastPrice(ctx context.Context, symbol string, at *time.Time, intent repository.Intent) (float64, error) {
	keys, _ := s.ListCharts(ctx)
	c, ok := repository.ResolvePriceChart(keys, symbol)
	if !ok {
		return 0, fmt.Errorf("%s: %w", symbol, repository.ErrDataGap)
	}
	sh := s.shardFor(c.Key())
	sh.mu.RLock()
	cur := sh.data[c.Key()]
	idx := len(cur) - 1
	if at != nil {
		idx = sort.Search(len(cur), func(i int) bool { return cur[i].Timestamp.After(*at) }) - 1
	}
	var row chart.Row
	if idx >= 0 {
		row = cur[idx]
	}
	sh.mu.RUnlock()
	if idx < 0 {
		return 0, fmt.Errorf("%s at %v: %w", symbol, at, repository.ErrDataGap)
	}
	price, ok := repository.PriceFromRow(c, row, s.GetSpread(symbol), intent)
	if !ok {
		return 0, fmt.Errorf("%s at %v: %w", symbol, at, repository.ErrDataGap)
	}
	return price, nil
}

func (s *MemoryStore) ListCharts(ctx context.Context) ([]string, error) {
	var out []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, rows := range sh.data {
			if len(rows) > 0 {
				out = append(out, k)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) TimeWindow(ctx context.Context, c *chart.Chart) (chart.Window, error) {
	sh := s.shardFor(c.Key())
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur := sh.data[c.Key()]
	if len(cur) == 0 {
		return chart.Window{}, fmt.Errorf("%s: %w", c.Key(), repository.ErrDataGap)
	}
	return chart.Window{From: cur[0].Timestamp, To: cur[len(cur)-1].Timestamp}, nil
}

func (s *MemoryStore) Clean(ctx context.Context, c *chart.Chart) error {
	sh := s.shardFor(c.Key())
	sh.mu.Lock()
	delete(sh.data, c.Key())
	sh.mu.Unlock()
	return nil
}

func copyRow(r chart.Row) chart.Row {
	values := make(map[string]float64, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	return chart.Row{Timestamp: r.Timestamp, Values: values}
}

func hashKey(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
