package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"tickforge/internal/backfill"
	"tickforge/internal/chart"
	"tickforge/internal/config"
	"tickforge/internal/logger"
	"tickforge/internal/repository"
	"tickforge/internal/store/chartstore"
	"tickforge/internal/store/gormstore"
	backtesthttp "tickforge/internal/transport/http/backtest"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：持有图表仓库、数据源、回填服务、报告存储与 HTTP 服务。
type App struct {
	cfg      *config.Config
	charts   repository.Store
	sources  map[string]repository.Repository
	backfill *backfill.Service
	reports  *gormstore.GormStore
	http     *backtesthttp.Server
	closers  []io.Closer
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return NewAppBuilder(cfg, opts...).Build(context.Background())
}

// Serve 启动 HTTP 服务与增量同步，阻塞直到 ctx 取消。
func (a *App) Serve(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	if a.backfill != nil {
		a.backfill.SetContext(ctx)
	}
	group, ctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			logger.Infof("[http] 监听 %s", a.http.Addr())
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	for _, sched := range a.syncSchedulers(ctx) {
		group.Go(func() error {
			sched.run()
			return nil
		})
	}
	return group.Wait()
}

// Backfill 同步执行一次回填。
func (a *App) Backfill(ctx context.Context, params backfill.Params) (backfill.Job, error) {
	if a.backfill == nil {
		return backfill.Job{}, fmt.Errorf("no data source enabled")
	}
	return a.backfill.Run(ctx, params)
}

// Sources 返回已初始化的数据源名称。
func (a *App) Sources() []string {
	if a.backfill == nil {
		return nil
	}
	return a.backfill.Sources()
}

// ChartInfo 是已持久化集合的概要。
type ChartInfo struct {
	Key    string
	Window chart.Window
	Rows   int64
}

type manifestSource interface {
	Manifest(ctx context.Context, c *chart.Chart) (chartstore.Manifest, error)
}

// Charts 列出已持久化集合及其时间窗口。
func (a *App) Charts(ctx context.Context) ([]ChartInfo, error) {
	keys, err := a.charts.ListCharts(ctx)
	if err != nil {
		return nil, err
	}
	manifests, _ := a.charts.(manifestSource)
	out := make([]ChartInfo, 0, len(keys))
	for _, key := range keys {
		c, err := chart.Parse(key)
		if err != nil {
			logger.Warnf("[app] 跳过无法解析的集合 %s: %v", key, err)
			continue
		}
		w, err := a.charts.TimeWindow(ctx, c)
		if errors.Is(err, repository.ErrDataGap) {
			continue
		}
		if err != nil {
			return nil, err
		}
		info := ChartInfo{Key: c.Key(), Window: w}
		if manifests != nil {
			if m, err := manifests.Manifest(ctx, c); err == nil {
				info.Rows = m.Rows
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// ChartStore 返回权威图表仓库。
func (a *App) ChartStore() repository.Store {
	return a.charts
}

// Close 释放数据库等资源，按打开的逆序关闭。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
