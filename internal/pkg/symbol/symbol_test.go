package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	assert.Equal(t, Symbol{Base: "ETH", Quote: "USDT"}, Parse("eth/usdt"))
	assert.Equal(t, Symbol{Base: "ETH", Quote: "USDT"}, Parse("ETHUSDT:USDT"))
	assert.Equal(t, Symbol{Base: "BTC", Quote: "USDT"}, Parse("BTCUSDT"))
	assert.Equal(t, Symbol{Base: "EUR", Quote: "USD"}, Parse("eurusd"))
	assert.False(t, Parse("SPX500").Valid())
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "ETHUSDT", Normalize("eth/usdt"))
	assert.Equal(t, "EURUSD", Normalize("EUR/USD"))
	assert.Equal(t, "SPX500", Normalize("spx500"))
}
