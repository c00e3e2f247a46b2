package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"tickforge/internal/backfill"
	"tickforge/internal/config"
	"tickforge/internal/gateway"
	"tickforge/internal/logger"
	"tickforge/internal/repository"
	"tickforge/internal/store/chartstore"
	"tickforge/internal/store/gormstore"
	backtesthttp "tickforge/internal/transport/http/backtest"
)

type AppBuilder struct {
	cfg *config.Config

	chartStoreFn  func(*config.Config) (repository.Store, error)
	sourcesFn     func(*config.Config) (map[string]repository.Repository, error)
	reportStoreFn func(*config.Config) (*gormstore.GormStore, error)
}

type AppBuilderOption func(*AppBuilder)

// WithChartStore 使用给定仓库替代 data_root 下的 sqlite 仓库。
func WithChartStore(store repository.Store) AppBuilderOption {
	return func(b *AppBuilder) {
		b.chartStoreFn = func(*config.Config) (repository.Store, error) { return store, nil }
	}
}

// WithSources 使用给定数据源替代配置中的数据源。
func WithSources(sources map[string]repository.Repository) AppBuilderOption {
	return func(b *AppBuilder) {
		b.sourcesFn = func(*config.Config) (map[string]repository.Repository, error) { return sources, nil }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		chartStoreFn:  buildChartStore,
		sourcesFn:     gateway.NewSourcesFromConfig,
		reportStoreFn: buildReportStore,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildChartStore(cfg *config.Config) (repository.Store, error) {
	return chartstore.NewStore(cfg.Store.DataRoot, repository.NewInstrumentTable(cfg.InstrumentInfos()))
}

func buildReportStore(cfg *config.Config) (*gormstore.GormStore, error) {
	if strings.TrimSpace(cfg.Store.ReportsDB) == "" {
		return nil, nil
	}
	return gormstore.NewGormStore(cfg.Store.ReportsDB)
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	app := &App{cfg: cfg}
	fail := func(err error) (*App, error) {
		_ = app.Close()
		return nil, err
	}

	charts, err := b.chartStoreFn(cfg)
	if err != nil {
		return fail(fmt.Errorf("init chart store: %w", err))
	}
	app.charts = charts
	if c, ok := charts.(io.Closer); ok {
		app.closers = append(app.closers, c)
	}

	reports, err := b.reportStoreFn(cfg)
	if err != nil {
		return fail(fmt.Errorf("init report store: %w", err))
	}
	if reports != nil {
		app.reports = reports
		app.closers = append(app.closers, reports)
	}

	sources, err := b.sourcesFn(cfg)
	if err != nil {
		return fail(err)
	}
	app.sources = sources
	if len(sources) > 0 {
		bfCfg := backfill.Config{
			Destination:      charts,
			Sources:          sources,
			DefaultSource:    cfg.Backfill.DefaultSource,
			Workers:          cfg.Backfill.Workers,
			Increment:        cfg.Backfill.Increment,
			MaxRetries:       cfg.Backfill.MaxRetries,
			Backoff:          cfg.Backfill.RetryBackoff,
			BreakerThreshold: cfg.Backfill.BreakerThreshold,
			BreakerCooldown:  cfg.Backfill.BreakerCooldown,
		}
		if reports != nil {
			bfCfg.Recorder = reports
		}
		svc, err := backfill.NewService(bfCfg)
		if err != nil {
			return fail(fmt.Errorf("init backfill service: %w", err))
		}
		svc.SetContext(ctx)
		app.backfill = svc
	} else {
		logger.Warnf("[app] 未启用任何数据源，回填不可用")
	}

	httpCfg := backtesthttp.Config{Addr: cfg.App.HTTPAddr, Store: charts}
	if app.backfill != nil {
		httpCfg.Backfill = app.backfill
	}
	if reports != nil {
		httpCfg.Reports = reports
	}
	server, err := backtesthttp.NewServer(httpCfg)
	if err != nil {
		return fail(fmt.Errorf("init http server: %w", err))
	}
	app.http = server

	app.Summary = buildSummary(cfg, sources)
	return app, nil
}

func buildSummary(cfg *config.Config, sources map[string]repository.Repository) *StartupSummary {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	s := &StartupSummary{
		Env:       cfg.App.Env,
		HTTPAddr:  cfg.App.HTTPAddr,
		DataRoot:  cfg.Store.DataRoot,
		ReportsDB: cfg.Store.ReportsDB,
		Sources:   names,
		Backfill: BackfillSummary{
			Workers:    cfg.Backfill.Workers,
			Increment:  cfg.Backfill.Increment.String(),
			MaxRetries: cfg.Backfill.MaxRetries,
			Backoff:    cfg.Backfill.RetryBackoff.String(),
		},
	}
	if cfg.Sync.Enabled {
		s.Sync = SyncSummary{
			Charts:   append([]string(nil), cfg.Sync.Charts...),
			Interval: cfg.Sync.Interval.String(),
			Offset:   cfg.Sync.Offset.String(),
			Source:   cfg.Sync.Source,
		}
	}
	return s
}
