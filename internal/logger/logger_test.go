package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntryCarriesAttributes(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetFormat("json")
	t.Cleanup(func() {
		SetFormat("text")
		SetOutput(nil)
	})

	With("run_id", "r1").With("tick", 3).Warnf("[broker] skipped %s", "fill")

	out := buf.String()
	assert.Contains(t, out, `"run_id":"r1"`)
	assert.Contains(t, out, `"tick":3`)
	assert.Contains(t, out, `[broker] skipped fill`)
}

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel("warn")
	t.Cleanup(func() {
		SetLevel("info")
		SetOutput(nil)
	})

	Debugf("hidden")
	Infof("hidden")
	Errorf("visible")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}

func TestJournalLine(t *testing.T) {
	var buf bytes.Buffer
	SetJournalWriter(&buf)
	t.Cleanup(func() { SetJournalWriter(nil) })

	Journal("fill", "run-1", JournalField{Key: "order", Value: "1"}, JournalField{Key: " ", Value: "x"})

	line := strings.TrimSpace(buf.String())
	assert.Equal(t, "[JOURNAL][fill][run-1] order=1", line)
}
