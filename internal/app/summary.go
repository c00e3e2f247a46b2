package app

import (
	"fmt"
	"strings"
)

type StartupSummary struct {
	Env       string
	HTTPAddr  string
	DataRoot  string
	ReportsDB string
	Sources   []string
	Backfill  BackfillSummary
	Sync      SyncSummary
}

type BackfillSummary struct {
	Workers    int
	Increment  string
	MaxRetries int
	Backoff    string
}

type SyncSummary struct {
	Charts   []string
	Interval string
	Offset   string
	Source   string
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[存储 (STORAGE)]")
	fmt.Printf("  环境: %s\n", s.Env)
	fmt.Printf("  图表目录: %s\n", s.DataRoot)
	fmt.Printf("  报告数据库: %s\n", orDash(s.ReportsDB))
	fmt.Printf("  HTTP: %s\n", s.HTTPAddr)
	fmt.Println()

	fmt.Println("[数据源 (SOURCES)]")
	fmt.Printf("  已启用: %s\n", formatList(s.Sources))
	fmt.Printf("  回填并发: %d  切分: %s  重试: %d  退避: %s\n",
		s.Backfill.Workers, s.Backfill.Increment, s.Backfill.MaxRetries, s.Backfill.Backoff)
	fmt.Println()

	fmt.Println("[增量同步 (SYNC)]")
	if len(s.Sync.Charts) == 0 {
		fmt.Println("  (未启用)")
	} else {
		fmt.Printf("  周期: %s  偏移: %s  数据源: %s\n", s.Sync.Interval, s.Sync.Offset, orDash(s.Sync.Source))
		for _, c := range s.Sync.Charts {
			fmt.Printf("    - %s\n", c)
		}
	}
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}
