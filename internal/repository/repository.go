package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tickforge/internal/chart"
)

var (
	// ErrDataGap 表示请求的时间点没有数据；调用方应视为空结果而不是故障。
	ErrDataGap = errors.New("no data available")
	// ErrRateLimited 表示数据源限流，可重试。
	ErrRateLimited = errors.New("rate limited")
	// ErrUnsupported 表示该仓库不支持此操作（例如只读数据源的写入）。
	ErrUnsupported = errors.New("operation not supported")
)

// RateLimitError 携带数据源建议的等待时长。
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	msg := fmt.Sprintf("%s rate limited", e.Provider)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Intent 表示取价意图：买入取 ask，卖出取 bid，无意图取 close。
type Intent int

const (
	IntentNone Intent = iota
	IntentBuy
	IntentSell
)

func (i Intent) String() string {
	switch i {
	case IntentBuy:
		return "buy"
	case IntentSell:
		return "sell"
	default:
		return "none"
	}
}

// Instruments 提供品种元数据。
type Instruments interface {
	GetSpread(symbol string) float64
	GetPipSize(symbol string) float64
	GetPointSize(symbol string) float64
}

// Repository 是图表数据的统一访问接口，数据库与外部数据源都实现它。
type Repository interface {
	chart.Reader
	chart.Writer
	// GetLastPrice 返回 at（nil 表示最新）及之前最后一个价格；无数据时返回 ErrDataGap。
	GetLastPrice(ctx context.Context, symbol string, at *time.Time, intent Intent) (float64, error)
	Instruments
}

// Catalog 是持久化仓库额外提供的目录能力。
type Catalog interface {
	chart.WindowSource
	ListCharts(ctx context.Context) ([]string, error)
	// Clean 删除整个集合，属于显式的破坏性操作。
	Clean(ctx context.Context, c *chart.Chart) error
}

// Store 同时具备读写与目录能力，回填目标必须满足它。
type Store interface {
	Repository
	Catalog
}

// GetCommonTimeWindow 返回多个图表已持久化数据的公共窗口，结果可能退化。
// 任一图表没有数据时得到零值窗口，调用方只需检查 Valid。
func GetCommonTimeWindow(ctx context.Context, cat chart.WindowSource, charts ...*chart.Chart) (chart.Window, error) {
	return chart.CommonTimeWindow(ctx, gapAsEmpty{cat}, charts...)
}

type gapAsEmpty struct {
	src chart.WindowSource
}

func (g gapAsEmpty) TimeWindow(ctx context.Context, c *chart.Chart) (chart.Window, error) {
	w, err := g.src.TimeWindow(ctx, c)
	if errors.Is(err, ErrDataGap) {
		return chart.Window{}, nil
	}
	return w, err
}

// ApplyIntent 按意图在 close 上加减半个点差。
func ApplyIntent(price, spread float64, intent Intent) float64 {
	switch intent {
	case IntentBuy:
		return price + spread/2
	case IntentSell:
		return price - spread/2
	default:
		return price
	}
}
