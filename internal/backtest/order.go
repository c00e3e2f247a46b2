package backtest

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrOrder 是所有订单状态错误的根。
	ErrOrder          = errors.New("order error")
	ErrOrderPlaced    = fmt.Errorf("%w: already placed", ErrOrder)
	ErrOrderNotOpen   = fmt.Errorf("%w: not open", ErrOrder)
	ErrOrderNotPlaced = fmt.Errorf("%w: not placed", ErrOrder)
	ErrOrderInvalid   = fmt.Errorf("%w: invalid", ErrOrder)
)

// Side 表示方向。
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

func (s Side) Valid() bool {
	return s == Long || s == Short
}

// OrderStatus 表示订单状态。
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

// Order 是开仓意图。Limit 为空即市价单；Stop 非空时需先触发。
// Size 在成交时才解析为 Units。
type Order struct {
	ID     int64
	Side   Side
	Symbol string
	Size   Sizing
	Units  float64

	Limit *float64
	Stop  *float64
	SL    *float64
	TP    *float64

	Status      OrderStatus
	CreatedAt   time.Time
	PlacedAt    time.Time
	FilledAt    time.Time
	CancelledAt time.Time
	FillPrice   float64
	PositionID  int64
}

// NewOrder 创建一个尚未下单的市价单，可用 WithLimit 等补充条件。
func NewOrder(side Side, symbol string, size Sizing) *Order {
	return &Order{
		Side:   side,
		Symbol: normalizeSymbol(symbol),
		Size:   size,
		Status: OrderOpen,
	}
}

func (o *Order) WithLimit(price float64) *Order { o.Limit = &price; return o }
func (o *Order) WithStop(price float64) *Order  { o.Stop = &price; return o }
func (o *Order) WithSL(price float64) *Order    { o.SL = &price; return o }
func (o *Order) WithTP(price float64) *Order    { o.TP = &price; return o }

// IsMarket 表示没有限价。
func (o *Order) IsMarket() bool {
	return o.Limit == nil
}

func (o *Order) Placed() bool {
	return o.ID != 0
}

// validate 检查订单并规范化品种，供直接构造的订单使用。
func (o *Order) validate() error {
	if o == nil {
		return fmt.Errorf("%w: nil order", ErrOrderInvalid)
	}
	o.Symbol = normalizeSymbol(o.Symbol)
	if !o.Side.Valid() {
		return fmt.Errorf("%w: side %q", ErrOrderInvalid, o.Side)
	}
	if o.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrOrderInvalid)
	}
	if o.ID == 0 && o.Status != "" && o.Status != OrderOpen {
		return fmt.Errorf("order is %s: %w", o.Status, ErrOrderNotOpen)
	}
	if o.Size == nil {
		return fmt.Errorf("%w: missing size", ErrOrderInvalid)
	}
	for name, p := range map[string]*float64{"limit": o.Limit, "stop": o.Stop, "sl": o.SL, "tp": o.TP} {
		if p != nil && *p <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrOrderInvalid, name)
		}
	}
	return nil
}

// Place 分配 ID 并置为 open，只允许一次；零值状态视为新订单。
func (o *Order) Place(id int64, now time.Time) error {
	if o.ID != 0 {
		return fmt.Errorf("order %d: %w", o.ID, ErrOrderPlaced)
	}
	switch o.Status {
	case "", OrderOpen:
	default:
		return fmt.Errorf("order is %s: %w", o.Status, ErrOrderNotOpen)
	}
	o.Status = OrderOpen
	o.ID = id
	o.PlacedAt = now
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	return nil
}

// Fill 以 price 成交 units，并关联生成的仓位。
func (o *Order) Fill(now time.Time, price, units float64, positionID int64) error {
	if o.ID == 0 {
		return ErrOrderNotPlaced
	}
	if o.Status != OrderOpen {
		return fmt.Errorf("order %d is %s: %w", o.ID, o.Status, ErrOrderNotOpen)
	}
	o.Status = OrderFilled
	o.FilledAt = now
	o.FillPrice = price
	o.Units = units
	o.PositionID = positionID
	return nil
}

func (o *Order) Cancel(now time.Time) error {
	if o.ID == 0 {
		return ErrOrderNotPlaced
	}
	if o.Status != OrderOpen {
		return fmt.Errorf("order %d is %s: %w", o.ID, o.Status, ErrOrderNotOpen)
	}
	o.Status = OrderCancelled
	o.CancelledAt = now
	return nil
}

// ClosedAt 返回成交或撤单时间；仍挂单时为零值。
func (o *Order) ClosedAt() time.Time {
	switch o.Status {
	case OrderFilled:
		return o.FilledAt
	case OrderCancelled:
		return o.CancelledAt
	}
	return time.Time{}
}

// Duration 返回下单到成交/撤单的时长，挂单中则算到 now。
func (o *Order) Duration(now time.Time) time.Duration {
	if o.PlacedAt.IsZero() {
		return 0
	}
	end := o.ClosedAt()
	if end.IsZero() {
		end = now
	}
	return end.Sub(o.PlacedAt)
}

func (o *Order) String() string {
	kind := "market"
	if o.Limit != nil {
		kind = fmt.Sprintf("limit@%g", *o.Limit)
	}
	return fmt.Sprintf("#%d %s %s %s %s", o.ID, o.Symbol, o.Side, kind, o.Status)
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
