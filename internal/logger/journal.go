package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	journalMu  sync.Mutex
	journalLog *log.Logger
)

// SetJournalWriter 设置成交流水的输出目标，nil 表示关闭。
func SetJournalWriter(w io.Writer) {
	journalMu.Lock()
	defer journalMu.Unlock()
	if w == nil {
		journalLog = nil
		return
	}
	journalLog = log.New(w, "", 0)
}

type JournalField struct {
	Key   string
	Value string
}

// Journal 以单行形式记录一次订单/持仓状态变化：
// [JOURNAL][kind][run] key=value ...
func Journal(kind, run string, fields ...JournalField) {
	journalMu.Lock()
	l := journalLog
	journalMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[JOURNAL]")
	if kind != "" {
		b.WriteString("[")
		b.WriteString(kind)
		b.WriteString("]")
	}
	if run != "" {
		b.WriteString("[")
		b.WriteString(run)
		b.WriteString("]")
	}
	for _, f := range fields {
		k := strings.TrimSpace(f.Key)
		if k == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(f.Value)
	}
	l.Print(b.String())
}
