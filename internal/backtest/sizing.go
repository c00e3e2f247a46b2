package backtest

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var ErrSizing = errors.New("cannot resolve order size")

// Sizing 在成交时根据账户余额和成交价计算下单数量。
type Sizing interface {
	Resolve(balance, price float64, sl *float64) (float64, error)
	String() string
}

// Units 固定数量。
type Units float64

func (u Units) Resolve(balance, price float64, sl *float64) (float64, error) {
	if u <= 0 || math.IsNaN(float64(u)) {
		return 0, fmt.Errorf("%w: units %g", ErrSizing, float64(u))
	}
	return float64(u), nil
}

func (u Units) String() string { return fmt.Sprintf("units(%g)", float64(u)) }

// PercentOfBalance 以余额的百分比（2 表示 2%）按成交价折算数量。
type PercentOfBalance float64

func (p PercentOfBalance) Resolve(balance, price float64, sl *float64) (float64, error) {
	if p <= 0 || p > 100 {
		return 0, fmt.Errorf("%w: percent %g", ErrSizing, float64(p))
	}
	if balance <= 0 || price <= 0 {
		return 0, fmt.Errorf("%w: balance %g price %g", ErrSizing, balance, price)
	}
	notional := decimal.NewFromFloat(balance).Mul(decimal.NewFromFloat(float64(p))).Div(decimal.NewFromInt(100))
	return notional.Div(decimal.NewFromFloat(price)).InexactFloat64(), nil
}

func (p PercentOfBalance) String() string { return fmt.Sprintf("percent(%g)", float64(p)) }

// FixedRisk 使止损触发时亏损恰为 Amount，需要订单带止损。
type FixedRisk float64

func (r FixedRisk) Resolve(balance, price float64, sl *float64) (float64, error) {
	if r <= 0 {
		return 0, fmt.Errorf("%w: risk %g", ErrSizing, float64(r))
	}
	if sl == nil {
		return 0, fmt.Errorf("%w: fixed risk requires a stop loss", ErrSizing)
	}
	dist := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(*sl)).Abs()
	if dist.IsZero() {
		return 0, fmt.Errorf("%w: stop loss equals price", ErrSizing)
	}
	return decimal.NewFromFloat(float64(r)).Div(dist).InexactFloat64(), nil
}

func (r FixedRisk) String() string { return fmt.Sprintf("risk(%g)", float64(r)) }
