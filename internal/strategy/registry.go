package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"tickforge/internal/backtest"

	"github.com/mitchellh/mapstructure"
)

// Factory 根据参数构造一个全新的策略实例，每次回测调用一次。
type Factory func(params map[string]any) (backtest.Strategy, error)

// Registry 维护按名称注册的策略工厂。
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register 将工厂放入 registry，名称重复时覆盖。
func (r *Registry) Register(name string, f Factory) {
	name = normalizeName(name)
	if name == "" {
		panic("strategy 注册失败: 名称不能为空")
	}
	if f == nil {
		panic("strategy 注册失败: factory 不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New 按名称构造策略。
func (r *Registry) New(name string, params map[string]any) (backtest.Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[normalizeName(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	s, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", name, err)
	}
	return s, nil
}

// Names 返回全部已注册名称（排序后）。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var defaultRegistry = NewRegistry()

func init() {
	defaultRegistry.Register(SMACrossName, NewSMACross)
	defaultRegistry.Register(ScriptName, NewScript)
}

// Register 注册到默认 registry。
func Register(name string, f Factory) { defaultRegistry.Register(name, f) }

// New 从默认 registry 构造策略。
func New(name string, params map[string]any) (backtest.Strategy, error) {
	return defaultRegistry.New(name, params)
}

func Names() []string { return defaultRegistry.Names() }

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// decodeParams 把松散的参数表解码进结构体，允许 "10" 这类字符串数字。
func decodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}
