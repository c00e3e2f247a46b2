package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2021, 5, 13, 12, 0, 0, 0, time.UTC)

func TestOrderLifecycle(t *testing.T) {
	o := NewOrder(Long, "eurusd", Units(20))
	assert.Equal(t, "EURUSD", o.Symbol)
	assert.Equal(t, OrderOpen, o.Status)
	assert.False(t, o.Placed())

	assert.ErrorIs(t, o.Fill(t0, 1.2, 20, 1), ErrOrderNotPlaced)

	require.NoError(t, o.Place(7, t0))
	assert.EqualValues(t, 7, o.ID)
	assert.ErrorIs(t, o.Place(8, t0), ErrOrderPlaced)
	assert.EqualValues(t, 7, o.ID, "second place must not change the id")

	require.NoError(t, o.Fill(t0.Add(time.Minute), 1.2, 20, 3))
	assert.Equal(t, OrderFilled, o.Status)
	assert.EqualValues(t, 3, o.PositionID)
	assert.Equal(t, time.Minute, o.Duration(t0.Add(time.Hour)))

	err := o.Fill(t0.Add(2*time.Minute), 1.3, 5, 4)
	assert.ErrorIs(t, err, ErrOrderNotOpen)
	assert.ErrorIs(t, err, ErrOrder)
	assert.Equal(t, 1.2, o.FillPrice)
	assert.ErrorIs(t, o.Cancel(t0), ErrOrderNotOpen)
	assert.Equal(t, OrderFilled, o.Status)
}

func TestOrderCancel(t *testing.T) {
	o := NewOrder(Short, "EURUSD", Units(1)).WithLimit(10)
	require.NoError(t, o.Place(1, t0))
	require.NoError(t, o.Cancel(t0.Add(time.Minute)))
	assert.Equal(t, OrderCancelled, o.Status)
	assert.Equal(t, t0.Add(time.Minute), o.ClosedAt())
	assert.ErrorIs(t, o.Fill(t0, 1, 1, 1), ErrOrderNotOpen)
}

func TestZeroValueOrderPlace(t *testing.T) {
	o := &Order{Side: Long, Symbol: "EURUSD", Size: Units(1)}
	require.NoError(t, o.Place(1, t0))
	assert.Equal(t, OrderOpen, o.Status)
	assert.EqualValues(t, 1, o.ID)
	assert.Equal(t, t0, o.CreatedAt)

	require.NoError(t, o.Fill(t0.Add(time.Minute), 1.2, 1, 1))
	assert.Equal(t, OrderFilled, o.Status)

	for _, st := range []OrderStatus{OrderFilled, OrderCancelled} {
		settled := &Order{Side: Long, Symbol: "EURUSD", Size: Units(1), Status: st}
		assert.ErrorIs(t, settled.Place(2, t0), ErrOrderNotOpen)
		assert.Zero(t, settled.ID)
		assert.Equal(t, st, settled.Status)
	}
}

func TestOrderValidate(t *testing.T) {
	assert.ErrorIs(t, NewOrder("up", "EURUSD", Units(1)).validate(), ErrOrderInvalid)
	assert.ErrorIs(t, NewOrder(Long, "", Units(1)).validate(), ErrOrderInvalid)
	assert.ErrorIs(t, NewOrder(Long, "EURUSD", nil).validate(), ErrOrderInvalid)
	assert.ErrorIs(t, NewOrder(Long, "EURUSD", Units(1)).WithLimit(-1).validate(), ErrOrderInvalid)
	assert.NoError(t, NewOrder(Long, "EURUSD", Units(1)).WithSL(1.1).WithTP(1.3).validate())

	literal := &Order{Side: Short, Symbol: " gbpusd", Size: Units(1)}
	require.NoError(t, literal.validate())
	assert.Equal(t, "GBPUSD", literal.Symbol)
	assert.ErrorIs(t, (&Order{Side: Long, Symbol: "EURUSD", Size: Units(1), Status: OrderFilled}).validate(), ErrOrderNotOpen)
}

func TestPositionLifecycle(t *testing.T) {
	p := &Position{ID: 1, Side: Long, Units: 10, EntryPrice: 1.2, Status: PositionOpen, OpenedAt: t0}
	assert.InDelta(t, 0.01, p.Profit(1.201), 1e-12)

	require.NoError(t, p.Close(t0.Add(5*time.Minute), 1.21))
	assert.Equal(t, PositionClosed, p.Status)
	assert.ErrorIs(t, p.Close(t0.Add(6*time.Minute), 1.5), ErrPositionClosed)
	assert.Equal(t, 1.21, p.ExitPrice, "exit price is set exactly once")
	assert.InDelta(t, 0.1, p.Profit(99), 1e-12, "closed positions ignore the mark price")
	assert.Equal(t, 5*time.Minute, p.Duration(t0.Add(time.Hour)))

	short := &Position{Side: Short, Units: 10, EntryPrice: 1.2, Status: PositionOpen, OpenedAt: t0}
	assert.InDelta(t, 0.01, short.Profit(1.199), 1e-12)
	assert.Equal(t, time.Hour, short.Duration(t0.Add(time.Hour)))
}

func TestSizing(t *testing.T) {
	u, err := Units(20).Resolve(1000, 1.2, nil)
	require.NoError(t, err)
	assert.Equal(t, 20.0, u)

	u, err = PercentOfBalance(2).Resolve(10000, 1.25, nil)
	require.NoError(t, err)
	assert.InDelta(t, 160, u, 1e-9)

	sl := 1.19
	u, err = FixedRisk(50).Resolve(10000, 1.2, &sl)
	require.NoError(t, err)
	assert.InDelta(t, 5000, u, 1e-6)

	_, err = FixedRisk(50).Resolve(10000, 1.2, nil)
	assert.ErrorIs(t, err, ErrSizing)
	_, err = PercentOfBalance(0).Resolve(10000, 1.2, nil)
	assert.ErrorIs(t, err, ErrSizing)
	_, err = PercentOfBalance(2).Resolve(0, 1.2, nil)
	assert.ErrorIs(t, err, ErrSizing)
	_, err = Units(-1).Resolve(1000, 1.2, nil)
	assert.ErrorIs(t, err, ErrSizing)
}
