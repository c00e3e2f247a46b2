package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := map[string]string{
		"sma:5":         "sma(5)",
		" EMA ":         "ema(20)",
		"rsi":           "rsi(14)",
		"atr:7":         "atr(7)",
		"macd":          "macd(12,26,9)",
		"macd:5:10":     "macd(5,10,9)",
		"bbands:10:1.5": "bbands(10,1.5)",
	}
	for in, want := range cases {
		ind, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, ind.Name(), in)
	}

	for _, bad := range []string{"", "vwap", "sma:x", "sma:1:2", "bbands:1:2:3"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}
