package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tickforge/internal/backfill"
	tfcfg "tickforge/internal/config"
	"tickforge/internal/interval"
	"tickforge/internal/logger"
	"tickforge/internal/report"
	"tickforge/internal/runspec"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newBackfillCmd() *cobra.Command {
	var (
		params    backfill.Params
		from, to  string
		increment string
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "从数据源分段回填图表到本地仓库",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if params.From, err = parseTime(from); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if to == "" {
				params.To = time.Now().UTC()
			} else if params.To, err = parseTime(to); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			if increment != "" {
				if params.Increment, err = interval.Parse(increment); err != nil {
					return fmt.Errorf("--increment: %w", err)
				}
			}
			s, err := loadSession()
			if err != nil {
				return err
			}
			defer s.Close()

			job, err := s.app.Backfill(cmd.Context(), params)
			if job.ID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "job %s %s: %d/%d increments, %d rows\n",
					job.ID, job.Status, job.Completed, job.Total, job.Rows)
				for _, w := range job.Warnings {
					fmt.Fprintf(cmd.OutOrStdout(), "  ! %s\n", w)
				}
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&params.Chart, "chart", "", "图表键，例如 CandlestickChart.EURUSD.1m")
	f.StringVar(&params.Source, "source", "", "数据源名称，缺省使用 backfill.default_source")
	f.StringVar(&from, "from", "", "起始时间（RFC3339 或 2006-01-02）")
	f.StringVar(&to, "to", "", "结束时间，缺省为当前时间")
	f.StringVar(&increment, "increment", "", "分段跨度，例如 1mo、1w")
	f.BoolVar(&params.Clean, "clean", false, "回填前清空集合")
	_ = cmd.MarkFlagRequired("chart")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func newBacktestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backtest <runspec.yaml>",
		Short: "按回测定义运行一次回测并打印报告",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := runspec.Load(args[0])
			if err != nil {
				return err
			}
			s, err := loadSession()
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.app.RunBacktest(cmd.Context(), spec)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			report.Render(out, res.Report)
			for _, f := range res.Files {
				fmt.Fprintf(out, "→ %s\n", f)
			}
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务与增量同步",
		RunE: func(cmd *cobra.Command, args []string) error {
			watcher, err := tfcfg.Watch(cfgPath)
			if err != nil {
				return err
			}
			s, err := openSession(watcher.Current())
			if err != nil {
				return err
			}
			defer s.Close()
			// 仅日志级别与格式支持热更新，其余配置需重启生效。
			watcher.Subscribe(func(cfg *tfcfg.Config) {
				logger.SetLevel(cfg.App.LogLevel)
				logger.SetFormat(cfg.App.LogFormat)
				logger.Infof("配置已重新加载（log_level=%s）", cfg.App.LogLevel)
			})
			return s.app.Serve(cmd.Context())
		},
	}
}

func newChartsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "charts",
		Short: "列出本地已持久化的图表",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSession()
			if err != nil {
				return err
			}
			defer s.Close()

			infos, err := s.app.Charts(cmd.Context())
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Chart", "From", "To", "Rows"})
			table.SetAutoWrapText(false)
			for _, info := range infos {
				table.Append([]string{
					info.Key,
					info.Window.From.Format(time.RFC3339),
					info.Window.To.Format(time.RFC3339),
					strconv.FormatInt(info.Rows, 10),
				})
			}
			table.Render()
			if len(infos) == 0 {
				fmt.Fprintln(os.Stderr, "no charts persisted yet")
			}
			return nil
		},
	}
}

func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", v)
}
