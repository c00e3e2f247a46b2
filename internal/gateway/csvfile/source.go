package csvfile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tickforge/internal/chart"
	"tickforge/internal/interval"
	"tickforge/internal/logger"
	"tickforge/internal/repository"

	"github.com/gocarina/gocsv"
)

const (
	dateLayout = "2006.01.02"
	timeLayout = "15:04"
)

// candleDTO 对应 MetaTrader 历史导出的一行。
type candleDTO struct {
	Date   string  `csv:"Date"`
	Time   string  `csv:"Time"`
	Open   float64 `csv:"Open"`
	High   float64 `csv:"High"`
	Low    float64 `csv:"Low"`
	Close  float64 `csv:"Close"`
	Volume float64 `csv:"Volume"`
}

func (d candleDTO) toRow() (chart.Row, error) {
	ts, err := time.ParseInLocation(dateLayout+" "+timeLayout, strings.TrimSpace(d.Date)+" "+strings.TrimSpace(d.Time), time.UTC)
	if err != nil {
		return chart.Row{}, err
	}
	return chart.Row{Timestamp: ts, Values: map[string]float64{
		"open": d.Open, "high": d.High, "low": d.Low, "close": d.Close, "volume": d.Volume,
	}}, nil
}

func fromRow(r chart.Row) candleDTO {
	ts := r.Timestamp.UTC()
	return candleDTO{
		Date:   ts.Format(dateLayout),
		Time:   ts.Format(timeLayout),
		Open:   zeroNaN(r.Get("open")),
		High:   zeroNaN(r.Get("high")),
		Low:    zeroNaN(r.Get("low")),
		Close:  zeroNaN(r.Get("close")),
		Volume: zeroNaN(r.Get("volume")),
	}
}

func zeroNaN(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// Source 读写 <dir>/<SYMBOL>_<interval>.csv 形式的 K 线文件。
type Source struct {
	*repository.InstrumentTable
	dir string
	mu  sync.Mutex
}

func New(dir string, instruments map[string]repository.InstrumentInfo) (*Source, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("csv data dir is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("csv data dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("csv data dir %s is not a directory", dir)
	}
	return &Source{InstrumentTable: repository.NewInstrumentTable(instruments), dir: dir}, nil
}

func (s *Source) Name() string { return "csv" }

func (s *Source) path(c *chart.Chart) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.csv", c.Symbol(), c.Interval()))
}

func (s *Source) load(c *chart.Chart) ([]chart.Row, error) {
	f, err := os.Open(s.path(c))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var dtos []candleDTO
	if err := gocsv.UnmarshalFile(f, &dtos); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse %s: %w", f.Name(), err)
	}
	rows := make([]chart.Row, 0, len(dtos))
	for i, d := range dtos {
		r, err := d.toRow()
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", f.Name(), i+2, err)
		}
		rows = append(rows, r)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
	return rows, nil
}

func (s *Source) ReadChart(ctx context.Context, c *chart.Chart, ov chart.Overrides) ([]chart.Row, error) {
	if c.Type().Name != chart.CandlestickType {
		return nil, fmt.Errorf("csv %s: %w", c.Type().Name, repository.ErrUnsupported)
	}
	s.mu.Lock()
	rows, err := s.load(c)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	q := c.Query(ov)
	out := make([]chart.Row, 0, len(rows))
	for _, r := range rows {
		if q.Contains(r.Timestamp) {
			out = append(out, r)
		}
	}
	if q.Count > 0 && len(out) > q.Count {
		out = out[len(out)-q.Count:]
	}
	return out, nil
}

// WriteChart 把图表数据合并进已有文件，同一时间戳以新数据为准。
func (s *Source) WriteChart(ctx context.Context, c *chart.Chart, ov chart.Overrides) error {
	if c.Type().Name != chart.CandlestickType {
		return fmt.Errorf("csv %s: %w", c.Type().Name, repository.ErrUnsupported)
	}
	q := c.Query(ov)
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.load(c)
	if err != nil {
		return err
	}
	merged := make(map[int64]chart.Row, len(existing))
	for _, r := range existing {
		merged[r.Timestamp.UnixMilli()] = r
	}
	written := 0
	for _, r := range c.Rows() {
		if !q.Contains(r.Timestamp) {
			continue
		}
		merged[r.Timestamp.UnixMilli()] = r
		written++
	}
	keys := make([]int64, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	dtos := make([]candleDTO, 0, len(keys))
	for _, k := range keys {
		dtos = append(dtos, fromRow(merged[k]))
	}

	target := s.path(c)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return err
	}
	if err := gocsv.MarshalFile(&dtos, tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	logger.Debugf("[csv] %s wrote=%d total=%d", target, written, len(dtos))
	return nil
}

// keys 把目录中的文件名还原为图表键。
func (s *Source) keys() []string {
	matches, _ := filepath.Glob(filepath.Join(s.dir, "*_*.csv"))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), ".csv")
		idx := strings.LastIndex(name, "_")
		if idx <= 0 {
			continue
		}
		iv, err := interval.Parse(name[idx+1:])
		if err != nil {
			continue
		}
		c, err := chart.Candlestick(name[:idx], iv)
		if err != nil {
			continue
		}
		out = append(out, c.Key())
	}
	sort.Strings(out)
	return out
}

func (s *Source) GetLastPrice(ctx context.Context, sym string, at *time.Time, intent repository.Intent) (float64, error) {
	c, ok := repository.ResolvePriceChart(s.keys(), sym)
	if !ok {
		return 0, fmt.Errorf("%s: %w", sym, repository.ErrDataGap)
	}
	ov := chart.Overrides{}
	one := 1
	ov.Count = &one
	if at != nil {
		ov.To = at
	}
	rows, err := s.ReadChart(ctx, c, ov)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("%s at %v: %w", sym, at, repository.ErrDataGap)
	}
	price, ok := repository.PriceFromRow(c, rows[0], s.GetSpread(sym), intent)
	if !ok {
		return 0, fmt.Errorf("%s at %v: %w", sym, at, repository.ErrDataGap)
	}
	return price, nil
}
