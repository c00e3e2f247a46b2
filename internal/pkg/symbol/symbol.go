package symbol

import (
	"strings"
)

type Symbol struct {
	Base  string
	Quote string
}

// Internal 返回 "BASE/QUOTE" 形式。
func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Compact 返回无分隔符形式（EURUSD、ETHUSDT），即图表键与 Binance 使用的写法。
func (s Symbol) Compact() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

func (s Symbol) Valid() bool {
	return s.Base != "" && s.Quote != ""
}

var cryptoQuotes = []string{"USDT", "BUSD", "USDC", "TUSD", "FDUSD", "BTC", "ETH", "BNB"}

// Parse 识别 "ETH/USDT"、"ETHUSDT:USDT"、"ETHUSDT" 以及六位外汇写法 "EURUSD"。
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}

	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}

	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}

	for _, quote := range cryptoQuotes {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{
				Base:  s[:len(s)-len(quote)],
				Quote: quote,
			}
		}
	}

	if len(s) == 6 && isAlpha(s) {
		return Symbol{Base: s[:3], Quote: s[3:]}
	}

	return Symbol{}
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Normalize 返回无分隔符形式；无法识别时原样大写返回。
func Normalize(s string) string {
	if sym := Parse(s); sym.Valid() {
		return sym.Compact()
	}
	return strings.ToUpper(strings.TrimSpace(s))
}
