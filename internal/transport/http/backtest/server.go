package backtesthttp

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"tickforge/internal/analysis/visual"
	"tickforge/internal/backfill"
	"tickforge/internal/interval"
	"tickforge/internal/logger"
	"tickforge/internal/report"
	"tickforge/internal/repository"
	"tickforge/internal/store/gormstore"

	"github.com/gin-gonic/gin"
)

// BackfillService 是回填服务在 HTTP 层需要的能力。
type BackfillService interface {
	Submit(params backfill.Params) (backfill.Job, error)
	JobSnapshot(id string) (backfill.Job, bool)
	JobsSnapshot() []backfill.Job
	Sources() []string
}

// ReportStore 提供报告与历史任务查询。
type ReportStore interface {
	ListReports(ctx context.Context, limit int) ([]gormstore.ReportSummary, error)
	GetReport(ctx context.Context, runID string) (*report.BacktestReport, error)
	GetJob(ctx context.Context, id string) (backfill.Job, error)
	ListJobs(ctx context.Context, limit int) ([]backfill.Job, error)
}

// Server 提供回填、图表数据与回测报告的 HTTP API。
type Server struct {
	addr    string
	svc     BackfillService
	store   repository.Store
	reports ReportStore
	router  *gin.Engine
}

// Config 描述 HTTP Server 的依赖；Backfill 与 Reports 可选。
type Config struct {
	Addr     string
	Backfill BackfillService
	Store    repository.Store
	Reports  ReportStore
}

// NewServer 构建 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("chart store 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		addr:    cfg.Addr,
		svc:     cfg.Backfill,
		store:   cfg.Store,
		reports: cfg.Reports,
		router:  router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := s.router.Group("/api")
	api.GET("/sources", s.handleSources)
	api.POST("/backfill", s.handleBackfill)
	api.GET("/backfill", s.handleJobs)
	api.GET("/backfill/:id", s.handleJob)
	api.GET("/charts", s.handleCharts)
	api.GET("/charts/:key/window", s.handleChartWindow)
	api.GET("/charts/:key/rows", s.handleChartRows)
	api.POST("/window", s.handleCommonWindow)
	api.GET("/reports", s.handleReports)
	api.GET("/reports/:id", s.handleReport)
	api.GET("/reports/:id/chart", s.handleReportChart)
}

// Handler 返回底层 http.Handler。
func (s *Server) Handler() http.Handler {
	return s.router
}

// requireBackfill 在未配置数据源时返回 503。
func (s *Server) requireBackfill(c *gin.Context) bool {
	if s.svc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "未启用任何数据源"})
		return false
	}
	return true
}

func (s *Server) handleSources(c *gin.Context) {
	if s.svc == nil {
		c.JSON(http.StatusOK, gin.H{"sources": []string{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": s.svc.Sources()})
}

type backfillRequest struct {
	Chart     string    `json:"chart" binding:"required"`
	Source    string    `json:"source"`
	From      time.Time `json:"from" binding:"required"`
	To        time.Time `json:"to" binding:"required"`
	Increment string    `json:"increment"`
	Clean     bool      `json:"clean"`
}

func (s *Server) handleBackfill(c *gin.Context) {
	if !s.requireBackfill(c) {
		return
	}
	var req backfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	params := backfill.Params{Chart: req.Chart, Source: req.Source, From: req.From, To: req.To, Clean: req.Clean}
	if req.Increment != "" {
		iv, err := interval.Parse(req.Increment)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		params.Increment = iv
	}
	job, err := s.svc.Submit(params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *Server) handleJob(c *gin.Context) {
	id := c.Param("id")
	if s.svc != nil {
		if job, ok := s.svc.JobSnapshot(id); ok {
			c.JSON(http.StatusOK, gin.H{"job": job})
			return
		}
	}
	// 进程重启后内存中已没有，查历史
	if s.reports != nil {
		if job, err := s.reports.GetJob(c.Request.Context(), id); err == nil {
			c.JSON(http.StatusOK, gin.H{"job": job})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
}

func (s *Server) handleJobs(c *gin.Context) {
	jobs := []backfill.Job{}
	if s.svc != nil {
		jobs = s.svc.JobsSnapshot()
	}
	resp := gin.H{"jobs": jobs}
	if s.reports != nil && c.Query("history") != "" {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		history, err := s.reports.ListJobs(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp["history"] = history
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleReports(c *gin.Context) {
	if s.reports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "报告存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := s.reports.ListReports(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": list})
}

func (s *Server) loadReport(c *gin.Context) (*report.BacktestReport, bool) {
	if s.reports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "报告存储未启用"})
		return nil, false
	}
	r, err := s.reports.GetReport(c.Request.Context(), c.Param("id"))
	if errors.Is(err, gormstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return r, true
}

func (s *Server) handleReport(c *gin.Context) {
	r, ok := s.loadReport(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": r})
}

func (s *Server) handleReportChart(c *gin.Context) {
	r, ok := s.loadReport(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := visual.WriteHTML(&buf, visual.ReportInput{Context: c.Request.Context(), Report: r}); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// requestLogger 记录接口调用耗时。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		logger.Debugf("[http] %s %s status=%d ip=%s dur=%s", method, fullPath, status, client, dur)
	}
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
