package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"tickforge/internal/interval"
	"tickforge/internal/logger"
	"tickforge/internal/report"
	"tickforge/internal/repository"
	"tickforge/internal/scheduler"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State 是 broker 的生命周期阶段。
type State string

const (
	StateConfigured State = "configured"
	StateRunning    State = "running"
	StateComplete   State = "complete"
)

var ErrBrokerState = errors.New("broker state does not allow this operation")

// Config 配置一次回测；Timesteps 为空时由 From/To/Interval 生成。
type Config struct {
	RunID       string
	Strategy    string
	Repository  repository.Repository
	InitialCash float64
	Latency     time.Duration
	Timesteps   []time.Time
	From        time.Time
	To          time.Time
	Interval    interval.Interval
	Sinks       []report.Sink
}

type quote struct {
	bid float64
	ask float64
}

// SimulationBroker 在单线程中逐个时间步推进模拟，结果只取决于时间步与仓库数据。
type SimulationBroker struct {
	runID        string
	strategyName string
	repo         repository.Repository
	initialCash  float64
	latency      time.Duration
	timesteps    []time.Time
	sinks        []report.Sink

	ctx       context.Context
	state     State
	now       time.Time
	sched     *scheduler.Scheduler
	orders    []*Order
	positions []*Position
	pending   map[*Order]bool
	quotes    map[string]quote
	equity    []report.EquityPoint
	nextOrder int64
	nextPos   int64
	result    *report.BacktestReport

	log *logger.Entry
}

func NewSimulationBroker(cfg Config) (*SimulationBroker, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if cfg.InitialCash <= 0 {
		return nil, fmt.Errorf("initial cash must be positive, got %g", cfg.InitialCash)
	}
	if cfg.Latency < 0 {
		return nil, fmt.Errorf("latency must not be negative")
	}
	steps := normalizeSteps(cfg.Timesteps)
	if len(steps) == 0 {
		steps = cfg.Interval.Steps(cfg.From, cfg.To)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("no timesteps: set timesteps or a valid from/to/interval")
	}
	runID := strings.TrimSpace(cfg.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}
	return &SimulationBroker{
		runID:        runID,
		strategyName: cfg.Strategy,
		repo:         cfg.Repository,
		initialCash:  cfg.InitialCash,
		latency:      cfg.Latency,
		timesteps:    steps,
		sinks:        cfg.Sinks,
		ctx:          context.Background(),
		state:        StateConfigured,
		now:          steps[0],
		sched:        scheduler.New(),
		pending:      make(map[*Order]bool),
		quotes:       make(map[string]quote),
		log:          logger.With("run", runID),
	}, nil
}

func normalizeSteps(in []time.Time) []time.Time {
	if len(in) == 0 {
		return nil
	}
	out := make([]time.Time, 0, len(in))
	for _, t := range in {
		out = append(out, t.UTC())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	uniq := out[:1]
	for _, t := range out[1:] {
		if !t.Equal(uniq[len(uniq)-1]) {
			uniq = append(uniq, t)
		}
	}
	return uniq
}

func (b *SimulationBroker) RunID() string { return b.runID }
func (b *SimulationBroker) State() State { return b.state }
func (b *SimulationBroker) Now() time.Time { return b.now }
func (b *SimulationBroker) Timesteps() []time.Time { return append([]time.Time(nil), b.timesteps...) }
func (b *SimulationBroker) Report() *report.BacktestReport { return b.result }

func (b *SimulationBroker) Repository() repository.Repository { return b.repo }

// Run 执行完整回测并返回报告；报告持久化失败时仍返回报告。
func (b *SimulationBroker) Run(ctx context.Context, strategy Strategy) (*report.BacktestReport, error) {
	if b.state != StateConfigured {
		return nil, fmt.Errorf("run in state %s: %w", b.state, ErrBrokerState)
	}
	if strategy == nil {
		return nil, fmt.Errorf("strategy is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	b.ctx = ctx
	b.state = StateRunning
	b.log.Infof("[backtest] 开始回测 %s -> %s 共 %d 步", b.timesteps[0].Format(time.RFC3339),
		b.timesteps[len(b.timesteps)-1].Format(time.RFC3339), len(b.timesteps))

	if err := strategy.Setup(ctx, b); err != nil {
		b.state = StateComplete
		return nil, fmt.Errorf("strategy setup: %w", err)
	}
	for _, ts := range b.timesteps {
		b.step(ctx, ts, strategy)
	}
	if err := strategy.Cleanup(ctx); err != nil {
		b.log.Warnf("[backtest] strategy cleanup: %v", err)
	}
	b.state = StateComplete

	b.result = b.buildReport()
	b.log.Infof("[backtest] 回测完成：订单=%d 持仓=%d 权益=%.2f", len(b.orders), len(b.positions), b.result.Equity.Close)
	var errs []error
	for _, sink := range b.sinks {
		if sink == nil {
			continue
		}
		if err := sink.SaveReport(ctx, b.result); err != nil {
			errs = append(errs, err)
		}
	}
	return b.result, errors.Join(errs...)
}

func (b *SimulationBroker) step(ctx context.Context, ts time.Time, strategy Strategy) {
	b.now = ts
	b.sched.RunAsOf(ts)
	b.processOrders(ctx)
	b.processPositions(ctx)
	b.callHandler(ctx, strategy)
	b.markToMarket(ctx)
	b.equity = append(b.equity, report.EquityPoint{Time: ts, Equity: b.Equity()})
}

// markToMarket 刷新所有未平仓品种的报价，缺口时沿用上一次报价。
func (b *SimulationBroker) markToMarket(ctx context.Context) {
	seen := make(map[string]bool)
	for _, p := range b.positions {
		if p.Status != PositionOpen || seen[p.Symbol] {
			continue
		}
		seen[p.Symbol] = true
		b.quote(ctx, p.Symbol)
	}
}

func (b *SimulationBroker) callHandler(ctx context.Context, strategy Strategy) {
	defer func() {
		if r := recover(); r != nil {
			b.log.With("tick", b.now).Errorf("[backtest] strategy handler panic: %v", r)
		}
	}()
	if err := strategy.Handler(ctx); err != nil {
		b.log.With("tick", b.now).Warnf("[backtest] strategy handler: %v", err)
	}
}

// quote 读取 now 时刻的 bid/ask，数据缺口时返回 false。
func (b *SimulationBroker) quote(ctx context.Context, symbol string) (quote, bool) {
	bid, err := b.repo.GetLastPrice(ctx, symbol, &b.now, repository.IntentSell)
	if err == nil {
		var ask float64
		ask, err = b.repo.GetLastPrice(ctx, symbol, &b.now, repository.IntentBuy)
		if err == nil {
			q := quote{bid: bid, ask: ask}
			b.quotes[symbol] = q
			return q, true
		}
	}
	if errors.Is(err, repository.ErrDataGap) {
		b.log.With("tick", b.now, "symbol", symbol).Debugf("[backtest] no price: %v", err)
	} else {
		b.log.With("tick", b.now, "symbol", symbol).Warnf("[backtest] price lookup failed: %v", err)
	}
	return quote{}, false
}

func cmp(a, b float64) int {
	return decimal.NewFromFloat(a).Cmp(decimal.NewFromFloat(b))
}

func entryPrice(side Side, q quote) float64 {
	if side == Long {
		return q.ask
	}
	return q.bid
}

func exitPrice(side Side, q quote) float64 {
	if side == Long {
		return q.bid
	}
	return q.ask
}

func stopTriggered(o *Order, q quote) bool {
	if o.Side == Long {
		return cmp(q.ask, *o.Stop) >= 0
	}
	return cmp(q.bid, *o.Stop) <= 0
}

func limitReached(o *Order, q quote) bool {
	if o.Side == Long {
		return cmp(q.ask, *o.Limit) <= 0
	}
	return cmp(q.bid, *o.Limit) >= 0
}

// exitHit 判断止损/止盈是否被触发，返回触发原因。
func exitHit(p *Position, q quote) (string, bool) {
	px := exitPrice(p.Side, q)
	if p.Side == Long {
		if p.SL != nil && cmp(px, *p.SL) <= 0 {
			return "sl", true
		}
		if p.TP != nil && cmp(px, *p.TP) >= 0 {
			return "tp", true
		}
		return "", false
	}
	if p.SL != nil && cmp(px, *p.SL) >= 0 {
		return "sl", true
	}
	if p.TP != nil && cmp(px, *p.TP) <= 0 {
		return "tp", true
	}
	return "", false
}

func (b *SimulationBroker) processOrders(ctx context.Context) {
	for _, o := range b.orders {
		if o.Status != OrderOpen {
			continue
		}
		q, ok := b.quote(ctx, o.Symbol)
		if !ok {
			continue
		}
		if o.Stop != nil {
			if !stopTriggered(o, q) {
				continue
			}
			b.log.With("tick", b.now, "order", o.ID).Debugf("[backtest] stop %g triggered", *o.Stop)
			o.Stop = nil
		}
		if !o.IsMarket() && !limitReached(o, q) {
			continue
		}
		b.fill(o, entryPrice(o.Side, q))
	}
}

func (b *SimulationBroker) fill(o *Order, price float64) {
	units, err := o.Size.Resolve(b.Balance(), price, o.SL)
	if err != nil {
		b.log.With("tick", b.now, "order", o.ID).Warnf("[backtest] %v, order cancelled", err)
		if cerr := o.Cancel(b.now); cerr == nil {
			b.journal("cancel", o.Symbol, journalID("order", o.ID), logger.JournalField{Key: "reason", Value: "sizing"})
		}
		return
	}
	pos := &Position{
		ID:         b.nextPos + 1,
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Units:      units,
		EntryPrice: price,
		SL:         copyPrice(o.SL),
		TP:         copyPrice(o.TP),
		Status:     PositionOpen,
		OpenedAt:   b.now,
	}
	if err := o.Fill(b.now, price, units, pos.ID); err != nil {
		b.log.With("tick", b.now, "order", o.ID).Warnf("[backtest] fill skipped: %v", err)
		return
	}
	b.nextPos++
	b.positions = append(b.positions, pos)
	b.journal("fill", o.Symbol, journalID("order", o.ID), journalID("position", pos.ID),
		logger.JournalField{Key: "side", Value: string(o.Side)},
		logger.JournalField{Key: "units", Value: formatFloat(units)},
		logger.JournalField{Key: "price", Value: formatFloat(price)},
	)
}

func (b *SimulationBroker) processPositions(ctx context.Context) {
	for _, p := range b.positions {
		if p.Status != PositionOpen || (p.SL == nil && p.TP == nil) {
			continue
		}
		q, ok := b.quote(ctx, p.Symbol)
		if !ok {
			continue
		}
		if reason, hit := exitHit(p, q); hit {
			b.closeAt(p, exitPrice(p.Side, q), reason)
		}
	}
}

func (b *SimulationBroker) closeAt(p *Position, price float64, reason string) {
	if err := p.Close(b.now, price); err != nil {
		b.log.With("tick", b.now, "position", p.ID).Warnf("[backtest] close skipped: %v", err)
		return
	}
	b.journal("close", p.Symbol, journalID("position", p.ID),
		logger.JournalField{Key: "reason", Value: reason},
		logger.JournalField{Key: "price", Value: formatFloat(price)},
		logger.JournalField{Key: "profit", Value: formatFloat(p.Profit(price))},
	)
}

func (b *SimulationBroker) schedule(action func()) {
	b.sched.Add(action, b.now.Add(b.latency))
}

// PlaceOrder 校验订单并在延迟后下单；ID 在生效时分配。
func (b *SimulationBroker) PlaceOrder(o *Order) (*Order, error) {
	if err := o.validate(); err != nil {
		b.log.With("tick", b.now).Warnf("[backtest] place rejected: %v", err)
		return o, err
	}
	if o.Placed() || b.pending[o] {
		b.log.With("tick", b.now, "order", o.ID).Warnf("[backtest] place skipped: %v", ErrOrderPlaced)
		return o, ErrOrderPlaced
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = b.now
	}
	b.pending[o] = true
	b.schedule(func() {
		delete(b.pending, o)
		if err := o.Place(b.nextOrder+1, b.now); err != nil {
			b.log.With("tick", b.now).Warnf("[backtest] place skipped: %v", err)
			return
		}
		b.nextOrder++
		b.orders = append(b.orders, o)
		fields := []logger.JournalField{
			journalID("order", o.ID),
			{Key: "side", Value: string(o.Side)},
			{Key: "size", Value: o.Size.String()},
		}
		if o.Limit != nil {
			fields = append(fields, logger.JournalField{Key: "limit", Value: formatFloat(*o.Limit)})
		}
		if o.Stop != nil {
			fields = append(fields, logger.JournalField{Key: "stop", Value: formatFloat(*o.Stop)})
		}
		b.journal("place", o.Symbol, fields...)
	})
	return o, nil
}

// CancelOrder 在延迟后撤单；届时订单已不是 open 状态则记录并跳过。
func (b *SimulationBroker) CancelOrder(o *Order) error {
	if o == nil {
		return fmt.Errorf("%w: nil order", ErrOrderInvalid)
	}
	if !o.Placed() && !b.pending[o] {
		b.log.With("tick", b.now).Warnf("[backtest] cancel skipped: %v", ErrOrderNotPlaced)
		return ErrOrderNotPlaced
	}
	if o.Status != OrderOpen {
		b.log.With("tick", b.now, "order", o.ID).Warnf("[backtest] cancel skipped: %v", ErrOrderNotOpen)
		return ErrOrderNotOpen
	}
	b.schedule(func() {
		if err := o.Cancel(b.now); err != nil {
			b.log.With("tick", b.now, "order", o.ID).Warnf("[backtest] cancel skipped: %v", err)
			return
		}
		b.journal("cancel", o.Symbol, journalID("order", o.ID))
	})
	return nil
}

// ClosePosition 在延迟后按当时价格平仓。
func (b *SimulationBroker) ClosePosition(p *Position) error {
	if p == nil {
		return fmt.Errorf("%w: nil position", ErrPosition)
	}
	if p.Status != PositionOpen {
		b.log.With("tick", b.now, "position", p.ID).Warnf("[backtest] close skipped: %v", ErrPositionClosed)
		return ErrPositionClosed
	}
	b.schedule(func() {
		q, ok := b.quote(b.ctx, p.Symbol)
		if !ok {
			if q, ok = b.quotes[p.Symbol]; !ok {
				b.log.With("tick", b.now, "position", p.ID).Warnf("[backtest] close skipped: no price for %s", p.Symbol)
				return
			}
		}
		b.closeAt(p, exitPrice(p.Side, q), "manual")
	})
	return nil
}

func (b *SimulationBroker) GetOrders(symbol string, statuses ...OrderStatus) []*Order {
	symbol = normalizeSymbol(symbol)
	var out []*Order
	for _, o := range b.orders {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, o.Status) {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (b *SimulationBroker) GetPositions(symbol string, statuses ...PositionStatus) []*Position {
	symbol = normalizeSymbol(symbol)
	var out []*Position
	for _, p := range b.positions {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, p.Status) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func containsStatus[T comparable](list []T, v T) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (b *SimulationBroker) GetLastPrice(ctx context.Context, symbol string, intent repository.Intent) (float64, error) {
	now := b.now
	return b.repo.GetLastPrice(ctx, symbol, &now, intent)
}

// Balance 是初始资金加已实现盈亏。
func (b *SimulationBroker) Balance() float64 {
	total := decimal.NewFromFloat(b.initialCash)
	for _, p := range b.positions {
		if p.Status == PositionClosed {
			total = total.Add(decimal.NewFromFloat(p.Profit(p.ExitPrice)))
		}
	}
	return total.InexactFloat64()
}

// Equity 是初始资金加全部仓位盈亏；未平仓位按最近一次已知报价估值。
func (b *SimulationBroker) Equity() float64 {
	total := decimal.NewFromFloat(b.initialCash)
	for _, p := range b.positions {
		total = total.Add(decimal.NewFromFloat(p.Profit(b.mark(p))))
	}
	return total.InexactFloat64()
}

func (b *SimulationBroker) mark(p *Position) float64 {
	if p.Status == PositionClosed {
		return p.ExitPrice
	}
	if q, ok := b.quotes[p.Symbol]; ok {
		return exitPrice(p.Side, q)
	}
	return p.EntryPrice
}

// Orders 返回已生效的订单（按 ID 升序）。
func (b *SimulationBroker) Orders() []*Order {
	return append([]*Order(nil), b.orders...)
}

func (b *SimulationBroker) Positions() []*Position {
	return append([]*Position(nil), b.positions...)
}

func (b *SimulationBroker) EquityCurve() []report.EquityPoint {
	return append([]report.EquityPoint(nil), b.equity...)
}

func (b *SimulationBroker) buildReport() *report.BacktestReport {
	in := report.Input{
		RunID:       b.runID,
		Strategy:    b.strategyName,
		InitialCash: b.initialCash,
		Timesteps:   b.timesteps,
		Equity:      b.equity,
		Now:         b.now,
		CreatedAt:   time.Now().UTC(),
	}
	for _, o := range b.orders {
		in.Orders = append(in.Orders, report.OrderRecord{
			ID: o.ID, Symbol: o.Symbol, Side: string(o.Side), Status: string(o.Status),
			PlacedAt: o.PlacedAt, ClosedAt: o.ClosedAt(),
		})
	}
	for _, p := range b.positions {
		in.Positions = append(in.Positions, report.PositionRecord{
			ID: p.ID, Symbol: p.Symbol, Side: string(p.Side), Status: string(p.Status),
			OpenedAt: p.OpenedAt, ClosedAt: p.ClosedAt, Profit: p.Profit(b.mark(p)),
		})
	}
	return report.Build(in)
}

func (b *SimulationBroker) journal(event, symbol string, fields ...logger.JournalField) {
	all := append([]logger.JournalField{
		{Key: "tick", Value: b.now.Format(time.RFC3339)},
		{Key: "symbol", Value: symbol},
	}, fields...)
	logger.Journal(event, b.runID, all...)
}

func journalID(key string, id int64) logger.JournalField {
	return logger.JournalField{Key: key, Value: strconv.FormatInt(id, 10)}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func copyPrice(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
