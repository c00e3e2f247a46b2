package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tickforge/internal/analysis/visual"
	"tickforge/internal/backtest"
	"tickforge/internal/chart"
	"tickforge/internal/logger"
	"tickforge/internal/report"
	"tickforge/internal/repository"
	"tickforge/internal/runspec"
	"tickforge/internal/strategy"
)

// BacktestResult 是一次回测的报告与导出文件。
type BacktestResult struct {
	Report *report.BacktestReport
	Window chart.Window
	Files  []string
}

// RunBacktest 按回测定义在权威仓库上执行回测。
// 未显式给出窗口时使用各图表已持久化数据的公共窗口；窗口退化时报错。
func (a *App) RunBacktest(ctx context.Context, spec runspec.Spec) (*BacktestResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	window, err := a.resolveWindow(ctx, spec)
	if err != nil {
		return nil, err
	}
	strat, err := strategy.New(spec.Strategy.Name, spec.Strategy.Params)
	if err != nil {
		return nil, err
	}
	cash := spec.InitialCash
	if cash <= 0 {
		cash = a.cfg.Backtest.InitialCash
	}
	latency := spec.Latency
	if latency == 0 {
		latency = a.cfg.Backtest.Latency
	}
	var sinks []report.Sink
	if a.reports != nil {
		sinks = append(sinks, a.reports)
	}
	broker, err := backtest.NewSimulationBroker(backtest.Config{
		Strategy:    spec.Name,
		Repository:  a.charts,
		InitialCash: cash,
		Latency:     latency,
		From:        window.From,
		To:          window.To,
		Interval:    spec.Interval,
		Sinks:       sinks,
	})
	if err != nil {
		return nil, err
	}
	rep, err := broker.Run(ctx, strat)
	if rep == nil {
		return nil, err
	}
	if err != nil {
		logger.Warnf("[backtest] 报告保存失败 run=%s: %v", rep.RunID, err)
	}
	result := &BacktestResult{Report: rep, Window: window}
	if dir := a.cfg.Backtest.ReportDir; dir != "" {
		files, err := a.exportReport(ctx, dir, rep, spec, window)
		if err != nil {
			logger.Warnf("[backtest] 导出报告失败 run=%s: %v", rep.RunID, err)
		}
		result.Files = files
	}
	return result, nil
}

func (a *App) resolveWindow(ctx context.Context, spec runspec.Spec) (chart.Window, error) {
	if w, ok := spec.Window(); ok {
		return w, nil
	}
	if len(spec.Charts) == 0 {
		return chart.Window{}, fmt.Errorf("run spec needs from/to or at least one chart")
	}
	charts := make([]*chart.Chart, 0, len(spec.Charts))
	for _, key := range spec.Charts {
		c, err := chart.Parse(key)
		if err != nil {
			return chart.Window{}, err
		}
		charts = append(charts, c)
	}
	w, err := repository.GetCommonTimeWindow(ctx, a.charts, charts...)
	if err != nil {
		return chart.Window{}, err
	}
	if !w.Valid() {
		return chart.Window{}, fmt.Errorf("charts have no common time window %s", w)
	}
	return w, nil
}

// exportReport 写出文本表格、HTML 图表以及可选的 PNG。
func (a *App) exportReport(ctx context.Context, dir string, rep *report.BacktestReport, spec runspec.Spec, window chart.Window) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var files []string
	base := filepath.Join(dir, rep.RunID)

	txt, err := os.Create(base + ".txt")
	if err != nil {
		return files, err
	}
	report.Render(txt, rep)
	if err := txt.Close(); err != nil {
		return files, err
	}
	files = append(files, base+".txt")

	input := visual.ReportInput{Context: ctx, Report: rep, Price: a.priceChart(ctx, spec, window)}
	html, err := os.Create(base + ".html")
	if err != nil {
		return files, err
	}
	if err := visual.WriteHTML(html, input); err != nil {
		html.Close()
		return files, err
	}
	if err := html.Close(); err != nil {
		return files, err
	}
	files = append(files, base+".html")

	if a.cfg.Backtest.ExportPNG {
		pngCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		input.Context = pngCtx
		img, err := visual.RenderPNG(input)
		if err != nil {
			return files, err
		}
		if err := os.WriteFile(base+".png", img.Bytes, 0o644); err != nil {
			return files, err
		}
		files = append(files, base+".png")
	}
	return files, nil
}

// priceChart 读取第一个 K 线图表用于报告图，读取失败时返回 nil。
func (a *App) priceChart(ctx context.Context, spec runspec.Spec, window chart.Window) *chart.Chart {
	for _, key := range spec.Charts {
		c, err := chart.Parse(key)
		if err != nil || c.Type().Name != chart.CandlestickType {
			continue
		}
		if err := c.Read(ctx, a.charts, chart.Between(window.From, window.To)); err != nil {
			logger.Debugf("[backtest] 读取价格图表 %s 失败: %v", key, err)
			return nil
		}
		return c
	}
	return nil
}
