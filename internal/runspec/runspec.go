package runspec

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"tickforge/internal/chart"
	"tickforge/internal/interval"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

// Spec 描述一次回测；From/To 省略时取 Charts 已持久化数据的公共窗口。
type Spec struct {
	Name        string            `yaml:"name" json:"name"`
	Charts      []string          `yaml:"charts" json:"charts"`
	From        *time.Time        `yaml:"from" json:"from,omitempty"`
	To          *time.Time        `yaml:"to" json:"to,omitempty"`
	Interval    interval.Interval `yaml:"interval" json:"interval"`
	InitialCash float64           `yaml:"initial_cash" json:"initial_cash"`
	Latency     time.Duration     `yaml:"latency" json:"latency"`
	Strategy    StrategySpec      `yaml:"strategy" json:"strategy"`
}

type StrategySpec struct {
	Name   string         `yaml:"name" json:"name"`
	Params map[string]any `yaml:"params" json:"params,omitempty"`
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		if err := compiler.AddResource("runspec.json", strings.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("runspec.json")
	})
	return schema, schemaErr
}

// Load 读取并校验 YAML 回测定义。
func Load(path string) (Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read run spec failed: %w", err)
	}
	return Parse(raw)
}

// Parse 先按 JSON schema 校验文档结构，再解码为 Spec 并检查语义。
func Parse(raw []byte) (Spec, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Spec{}, fmt.Errorf("parse run spec failed: %w", err)
	}
	if err := validateDoc(doc); err != nil {
		return Spec{}, err
	}
	var spec Spec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return Spec{}, fmt.Errorf("parse run spec failed: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func validateDoc(doc any) error {
	sch, err := compiled()
	if err != nil {
		return fmt.Errorf("compile run spec schema: %w", err)
	}
	// 经 JSON 往返得到 schema 校验器期望的值类型
	buf, err := json.Marshal(normalize(doc))
	if err != nil {
		return fmt.Errorf("run spec: %w", err)
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("run spec: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("invalid run spec: %w", err)
	}
	return nil
}

// normalize 把 yaml 解出的值转成可 JSON 编码的形式。
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = normalize(child)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[fmt.Sprint(k)] = normalize(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalize(child)
		}
		return out
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return val
	}
}

// Validate 检查 schema 无法表达的约束。
func (s *Spec) Validate() error {
	for i, key := range s.Charts {
		c, err := chart.Parse(key)
		if err != nil {
			return fmt.Errorf("charts[%d]: %w", i, err)
		}
		s.Charts[i] = c.Key()
	}
	if s.Interval.IsZero() {
		return fmt.Errorf("interval is required")
	}
	if (s.From == nil) != (s.To == nil) {
		return fmt.Errorf("from and to must be set together")
	}
	if s.From != nil {
		from, to := s.From.UTC(), s.To.UTC()
		if to.Before(from) {
			return fmt.Errorf("from %s is after to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
		}
		s.From, s.To = &from, &to
	}
	if s.Latency < 0 {
		return fmt.Errorf("latency must not be negative")
	}
	s.Strategy.Name = strings.TrimSpace(s.Strategy.Name)
	if s.Name == "" {
		s.Name = s.Strategy.Name
	}
	return nil
}

// Window 返回显式设置的回测窗口。
func (s Spec) Window() (chart.Window, bool) {
	if s.From == nil || s.To == nil {
		return chart.Window{}, false
	}
	return chart.Window{From: *s.From, To: *s.To}, true
}
