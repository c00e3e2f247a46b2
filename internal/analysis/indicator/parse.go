package indicator

import (
	"fmt"
	"strconv"
	"strings"

	"tickforge/internal/chart"
)

// Parse 解析紧凑写法 "name:arg1:arg2"，如 "sma:20"、"macd:12:26:9"、"bbands:20:2"。
// 省略参数时使用常见默认值。
func Parse(spec string) (chart.Indicator, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(spec)), ":")
	name, args := parts[0], parts[1:]
	ints := func(defaults ...int) ([]int, error) {
		if len(args) > len(defaults) {
			return nil, fmt.Errorf("indicator %q: too many arguments", spec)
		}
		out := append([]int(nil), defaults...)
		for i, a := range args {
			n, err := strconv.Atoi(a)
			if err != nil {
				return nil, fmt.Errorf("indicator %q: %w", spec, err)
			}
			out[i] = n
		}
		return out, nil
	}
	switch name {
	case "sma":
		p, err := ints(20)
		if err != nil {
			return nil, err
		}
		return NewSMA(p[0]), nil
	case "ema":
		p, err := ints(20)
		if err != nil {
			return nil, err
		}
		return NewEMA(p[0]), nil
	case "rsi":
		p, err := ints(14)
		if err != nil {
			return nil, err
		}
		return NewRSI(p[0]), nil
	case "atr":
		p, err := ints(14)
		if err != nil {
			return nil, err
		}
		return NewATR(p[0]), nil
	case "macd":
		p, err := ints(12, 26, 9)
		if err != nil {
			return nil, err
		}
		return NewMACD(p[0], p[1], p[2]), nil
	case "bbands":
		if len(args) > 2 {
			return nil, fmt.Errorf("indicator %q: too many arguments", spec)
		}
		period, dev := 20, 2.0
		var err error
		if len(args) > 0 {
			if period, err = strconv.Atoi(args[0]); err != nil {
				return nil, fmt.Errorf("indicator %q: %w", spec, err)
			}
		}
		if len(args) > 1 {
			if dev, err = strconv.ParseFloat(args[1], 64); err != nil {
				return nil, fmt.Errorf("indicator %q: %w", spec, err)
			}
		}
		return NewBBands(period, dev), nil
	}
	return nil, fmt.Errorf("unknown indicator %q", spec)
}
