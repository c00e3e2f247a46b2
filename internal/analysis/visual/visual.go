package visual

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"tickforge/internal/chart"
	"tickforge/internal/report"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

type ImageResult struct {
	Bytes       []byte `json:"-"`
	Base64      string `json:"base64"`
	Filename    string `json:"filename"`
	Description string `json:"description"`
}

func (r *ImageResult) DataURI() string {
	if r == nil {
		return ""
	}
	if r.Base64 == "" && len(r.Bytes) > 0 {
		r.Base64 = base64.StdEncoding.EncodeToString(r.Bytes)
	}
	if r.Base64 == "" {
		return ""
	}
	return "data:image/png;base64," + r.Base64
}

// ReportInput 是报告图的输入；Price 可选，为 K 线图表时额外绘制价格与成交量。
type ReportInput struct {
	Context context.Context
	Report  *report.BacktestReport
	Price   *chart.Chart
}

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEquity        = "#3b82f6"
	colorDrawdown      = "#fb7185"
	colorVolume        = "#a78bfa"

	chartWidthPx    = 1600
	equityHeightPx  = 420
	ddHeightPx      = 220
	klineHeightPx   = 520
	volumeHeightPx  = 220
	minPageHeightPx = 520
)

// WriteHTML 把报告图渲染为独立 HTML 页面。
func WriteHTML(w io.Writer, input ReportInput) error {
	page, err := buildPage(input)
	if err != nil {
		return err
	}
	return page.Render(w)
}

// RenderPNG 通过 headless Chrome 把报告图截图为 PNG。
func RenderPNG(input ReportInput) (ImageResult, error) {
	if err := EnsureHeadlessAvailable(input.Context); err != nil {
		return ImageResult{}, err
	}
	var buf bytes.Buffer
	if err := WriteHTML(&buf, input); err != nil {
		return ImageResult{}, err
	}
	height := equityHeightPx + ddHeightPx
	if hasCandles(input.Price) {
		height += klineHeightPx + volumeHeightPx
	}
	if height < minPageHeightPx {
		height = minPageHeightPx
	}
	png, err := renderHTMLToPNG(input.Context, buf.Bytes(), chartWidthPx, height)
	if err != nil {
		return ImageResult{}, err
	}
	r := input.Report
	return ImageResult{
		Bytes:       png,
		Base64:      base64.StdEncoding.EncodeToString(png),
		Filename:    fmt.Sprintf("%s_report.png", strings.ToLower(r.RunID)),
		Description: describe(r),
	}, nil
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		targetCtx := ctx
		if targetCtx == nil {
			targetCtx = context.Background()
		}
		parent, cancel := chromedp.NewContext(targetCtx)
		if cancel != nil {
			defer cancel()
		}
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

func buildPage(input ReportInput) (*components.Page, error) {
	r := input.Report
	if r == nil {
		return nil, fmt.Errorf("report required for render")
	}
	if len(r.Curve) == 0 {
		return nil, fmt.Errorf("report %s has no equity curve", r.RunID)
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = fmt.Sprintf("Backtest %s", r.RunID)

	xAxis := make([]string, len(r.Curve))
	for i, p := range r.Curve {
		xAxis[i] = p.Time.UTC().Format("01-02 15:04")
	}
	page.AddCharts(buildEquityChart(r, xAxis), buildDrawdownChart(r, xAxis))
	if hasCandles(input.Price) {
		page.AddCharts(buildKline(input.Price), buildVolumeChart(input.Price))
	}
	return page, nil
}

func initOpts(height int) opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", height),
		BackgroundColor: colorBackground,
	}
}

func splitLine(opacity float32) *opts.SplitLine {
	return &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(opacity)}}
}

func buildEquityChart(r *report.BacktestReport, xAxis []string) *charts.Line {
	line := charts.NewLine()
	minV, maxV := r.Equity.Low, r.Equity.High
	padding := (maxV - minV) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxV)*0.01)
	}
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(equityHeightPx)),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("Equity %s", r.RunID),
			Subtitle:      describe(r),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			Min:       round(minV-padding, 2),
			Max:       round(maxV+padding, 2),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: splitLine(0.2),
		}),
	)
	data := make([]opts.LineData, len(r.Curve))
	for i, p := range r.Curve {
		data[i] = opts.LineData{Value: round(p.Equity, 2)}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Equity", data,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
	)
	return line
}

func buildDrawdownChart(r *report.BacktestReport, xAxis []string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(ddHeightPx)),
		charts.WithTitleOpts(opts.Title{
			Title:      fmt.Sprintf("Drawdown (max %.2f%%)", r.Equity.MaxDrawdown*100),
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary, Formatter: "{value}%"},
			SplitLine: splitLine(0.15),
		}),
	)
	dd := report.Drawdown(r.Curve)
	data := make([]opts.LineData, len(dd))
	for i, v := range dd {
		data[i] = opts.LineData{Value: round(-v*100, 4)}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Drawdown", data,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 1}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Color: colorDrawdown, Opacity: opts.Float(0.3)}),
	)
	return line
}

func hasCandles(c *chart.Chart) bool {
	return c != nil && c.Type().Name == chart.CandlestickType && c.Len() > 0
}

func candleXAxis(v chart.View) []string {
	x := make([]string, v.Len())
	for i := range x {
		x[i] = v.At(i).UTC().Format("01-02 15:04")
	}
	return x
}

func buildKline(c *chart.Chart) *charts.Kline {
	v := c.View()
	kline := charts.NewKLine()
	minPrice, maxPrice := priceBounds(v)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1e-4, math.Abs(maxPrice)*0.01)
	}
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(klineHeightPx)),
		charts.WithTitleOpts(opts.Title{
			Title:      c.String(),
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 5),
			Max:       round(maxPrice+padding, 5),
			SplitLine: splitLine(0.2),
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)
	data := make([]opts.KlineData, v.Len())
	for i := range data {
		data[i] = opts.KlineData{Value: [4]float64{v.Value("open", i), v.Value("close", i), v.Value("low", i), v.Value("high", i)}}
	}
	kline.SetXAxis(candleXAxis(v))
	kline.AddSeries("Price", data)
	return kline
}

func buildVolumeChart(c *chart.Chart) *charts.Bar {
	v := c.View()
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(volumeHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "Volume", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			SplitNumber: 6,
			AxisLabel:   &opts.AxisLabel{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: splitLine(0.15),
		}),
	)
	vols := make([]opts.BarData, v.Len())
	for i := range vols {
		color := colorBear
		if v.Value("close", i) >= v.Value("open", i) {
			color = colorBull
		}
		vol := v.Value("volume", i)
		if math.IsNaN(vol) {
			vols[i] = opts.BarData{Value: nil}
			continue
		}
		vols[i] = opts.BarData{
			Value:     vol,
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.6)},
		}
	}
	bar.SetXAxis(candleXAxis(v))
	bar.AddSeries("Volume", vols, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorVolume}))
	return bar
}

func describe(r *report.BacktestReport) string {
	return fmt.Sprintf("equity %.2f -> %.2f | max dd %.2f%% | win rate %.1f%% | orders %d",
		r.Equity.Open, r.Equity.Close, r.Equity.MaxDrawdown*100, r.WinRate*100, r.Orders)
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func priceBounds(v chart.View) (minVal, maxVal float64) {
	minVal, maxVal = math.Inf(1), math.Inf(-1)
	for i := 0; i < v.Len(); i++ {
		if lo := v.Value("low", i); !math.IsNaN(lo) && lo < minVal {
			minVal = lo
		}
		if hi := v.Value("high", i); !math.IsNaN(hi) && hi > maxVal {
			maxVal = hi
		}
	}
	if math.IsInf(minVal, 0) || math.IsInf(maxVal, 0) {
		return 0, 0
	}
	return minVal, maxVal
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
