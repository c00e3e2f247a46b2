package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"tickforge/internal/app"
	tfcfg "tickforge/internal/config"
	"tickforge/internal/logger"

	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "tickforge",
		Short:         "行情数据回填与回测工具",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath(), "配置文件路径")
	root.AddCommand(newBackfillCmd(), newBacktestCmd(), newServeCmd(), newChartsCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("TICKFORGE_CONFIG"); p != "" {
		return p
	}
	return "configs/config.yaml"
}

// session 持有一次命令运行所需的配置、应用与需要关闭的日志文件。
type session struct {
	cfg   *tfcfg.Config
	app   *app.App
	files []*os.File
}

func (s *session) Close() {
	if s.app != nil {
		if err := s.app.Close(); err != nil {
			logger.Warnf("关闭应用失败: %v", err)
		}
	}
	for _, f := range s.files {
		_ = f.Close()
	}
}

// openSession 加载配置、初始化日志并构建应用。
func openSession(cfg *tfcfg.Config) (*session, error) {
	s := &session{cfg: cfg}
	if err := s.setupLogging(); err != nil {
		s.Close()
		return nil, err
	}
	logger.Infof("✓ 配置加载成功（环境=%s，配置=%s）", cfg.App.Env, cfgPath)
	a, err := app.NewApp(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.app = a
	return s, nil
}

func loadSession() (*session, error) {
	cfg, err := tfcfg.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return openSession(cfg)
}

func (s *session) setupLogging() error {
	logger.SetFormat(s.cfg.App.LogFormat)
	logFile, err := setupLogOutput(s.cfg.App.LogPath)
	if err != nil {
		return err
	}
	if logFile != nil {
		s.files = append(s.files, logFile)
	}
	journal, err := openAppend(s.cfg.App.JournalPath)
	if err != nil {
		return err
	}
	if journal != nil {
		logger.SetJournalWriter(journal)
		s.files = append(s.files, journal)
	}
	logger.SetLevel(s.cfg.App.LogLevel)
	return nil
}

func setupLogOutput(path string) (*os.File, error) {
	file, err := openAppend(path)
	if err != nil || file == nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

func openAppend(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
