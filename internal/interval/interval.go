package interval

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unit 是周期单位的封闭枚举，换算关系全部由 unitTable 给出。
type Unit int

const (
	Millisecond Unit = iota + 1
	Second
	Minute
	Hour
	Day
	Week
	Month
	Quarter
	Year
)

type unitInfo struct {
	name   string
	suffix string
	freq   string
	delta  time.Duration
	months int // 日历单位（月/季/年）折算的月数，其余为 0
}

var unitTable = map[Unit]unitInfo{
	Millisecond: {name: "millisecond", suffix: "ms", freq: "ms", delta: time.Millisecond},
	Second:      {name: "second", suffix: "s", freq: "s", delta: time.Second},
	Minute:      {name: "minute", suffix: "m", freq: "min", delta: time.Minute},
	Hour:        {name: "hour", suffix: "h", freq: "h", delta: time.Hour},
	Day:         {name: "day", suffix: "d", freq: "D", delta: 24 * time.Hour},
	Week:        {name: "week", suffix: "w", freq: "W", delta: 7 * 24 * time.Hour},
	Month:       {name: "month", suffix: "mo", freq: "M", delta: 30 * 24 * time.Hour, months: 1},
	Quarter:     {name: "quarter", suffix: "q", freq: "Q", delta: 91 * 24 * time.Hour, months: 3},
	Year:        {name: "year", suffix: "y", freq: "Y", delta: 365 * 24 * time.Hour, months: 12},
}

var suffixIndex = func() map[string]Unit {
	out := make(map[string]Unit, len(unitTable))
	for u, info := range unitTable {
		out[info.suffix] = u
	}
	return out
}()

func (u Unit) String() string {
	if info, ok := unitTable[u]; ok {
		return info.name
	}
	return fmt.Sprintf("unit(%d)", int(u))
}

// Valid 判断单位是否在枚举内。
func (u Unit) Valid() bool {
	_, ok := unitTable[u]
	return ok
}

// Interval 是不可变的周期值（数量 + 单位）。
type Interval struct {
	Amount int
	Unit   Unit
}

func New(amount int, unit Unit) (Interval, error) {
	if amount <= 0 {
		return Interval{}, fmt.Errorf("interval amount must be > 0, got %d", amount)
	}
	if !unit.Valid() {
		return Interval{}, fmt.Errorf("unknown interval unit %d", int(unit))
	}
	return Interval{Amount: amount, Unit: unit}, nil
}

func Milliseconds(n int) Interval { return Interval{Amount: n, Unit: Millisecond} }
func Seconds(n int) Interval      { return Interval{Amount: n, Unit: Second} }
func Minutes(n int) Interval      { return Interval{Amount: n, Unit: Minute} }
func Hours(n int) Interval        { return Interval{Amount: n, Unit: Hour} }
func Days(n int) Interval         { return Interval{Amount: n, Unit: Day} }
func Weeks(n int) Interval        { return Interval{Amount: n, Unit: Week} }
func Months(n int) Interval       { return Interval{Amount: n, Unit: Month} }
func Quarters(n int) Interval     { return Interval{Amount: n, Unit: Quarter} }
func Years(n int) Interval        { return Interval{Amount: n, Unit: Year} }

// IsZero 表示未设置的周期。
func (iv Interval) IsZero() bool {
	return iv.Amount == 0 && iv.Unit == 0
}

// Calendar 表示按日历推进（月/季/年），此时 Delta 只是近似值。
func (iv Interval) Calendar() bool {
	return unitTable[iv.Unit].months > 0
}

// Delta 返回墙钟时长；月=30d、季=91d、年=365d 为近似值。
func (iv Interval) Delta() time.Duration {
	return time.Duration(iv.Amount) * unitTable[iv.Unit].delta
}

// Frequency 返回采样频率字符串，如 "1min"、"4h"、"1D"。
func (iv Interval) Frequency() string {
	return strconv.Itoa(iv.Amount) + unitTable[iv.Unit].freq
}

// String 返回紧凑写法（"1m"、"15m"、"1mo"），可被 Parse 无损还原。
func (iv Interval) String() string {
	if iv.IsZero() {
		return ""
	}
	return strconv.Itoa(iv.Amount) + unitTable[iv.Unit].suffix
}

// Parse 解析紧凑写法。
func Parse(input string) (Interval, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return Interval{}, fmt.Errorf("interval cannot be empty")
	}
	split := 0
	for split < len(s) && s[split] >= '0' && s[split] <= '9' {
		split++
	}
	if split == 0 || split == len(s) {
		return Interval{}, fmt.Errorf("invalid interval %q", input)
	}
	n, err := strconv.Atoi(s[:split])
	if err != nil {
		return Interval{}, fmt.Errorf("invalid interval %q: %w", input, err)
	}
	suffix := s[split:]
	unit, ok := suffixIndex[suffix]
	if !ok {
		unit, ok = suffixIndex[strings.ToLower(suffix)]
	}
	if !ok {
		return Interval{}, fmt.Errorf("invalid interval unit %q in %q", suffix, input)
	}
	return New(n, unit)
}

// MustParse 仅用于常量式初始化。
func MustParse(s string) Interval {
	iv, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return iv
}

func (iv Interval) MarshalText() ([]byte, error) {
	return []byte(iv.String()), nil
}

// UnmarshalText 接受空串，表示未设置。
func (iv *Interval) UnmarshalText(b []byte) error {
	if strings.TrimSpace(string(b)) == "" {
		*iv = Interval{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*iv = parsed
	return nil
}

// Add 将 t 推进 n 个周期，日历单位使用 AddDate。
func (iv Interval) Add(t time.Time, n int) time.Time {
	if months := unitTable[iv.Unit].months; months > 0 {
		return t.AddDate(0, months*iv.Amount*n, 0)
	}
	return t.Add(time.Duration(n) * iv.Delta())
}

func alignDown(ts, step int64) int64 {
	if step <= 0 {
		return ts
	}
	rem := ts % step
	if rem < 0 {
		rem += step
	}
	return ts - rem
}

// Truncate 将时间对齐到周期网格（UTC）。
// 日内单位按 Unix 纪元对齐；周对齐到周一；月/季/年对齐到自然月份起点。
func (iv Interval) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch iv.Unit {
	case Week:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		monday := day.AddDate(0, 0, -offset)
		if iv.Amount <= 1 {
			return monday
		}
		// 1970-01-05 是纪元后第一个周一
		anchor := time.Date(1970, 1, 5, 0, 0, 0, 0, time.UTC)
		weeks := int64(monday.Sub(anchor) / (7 * 24 * time.Hour))
		aligned := alignDown(weeks, int64(iv.Amount))
		return anchor.AddDate(0, 0, int(aligned)*7)
	case Month, Quarter, Year:
		step := int64(unitTable[iv.Unit].months * iv.Amount)
		idx := int64(t.Year())*12 + int64(t.Month()) - 1
		aligned := alignDown(idx, step)
		return time.Date(int(aligned/12), time.Month(aligned%12+1), 1, 0, 0, 0, 0, time.UTC)
	default:
		step := iv.Delta().Milliseconds()
		if step <= 0 {
			return t
		}
		ms := alignDown(t.UnixMilli(), step)
		return time.UnixMilli(ms).UTC()
	}
}

// Steps 返回 [from, to] 内落在周期网格上的全部时间点（升序）。
func (iv Interval) Steps(from, to time.Time) []time.Time {
	if iv.Amount <= 0 || !iv.Unit.Valid() || to.Before(from) {
		return nil
	}
	from, to = from.UTC(), to.UTC()
	cur := iv.Truncate(from)
	if cur.Before(from) {
		cur = iv.Add(cur, 1)
	}
	var out []time.Time
	for !cur.After(to) {
		out = append(out, cur)
		cur = iv.Add(cur, 1)
	}
	return out
}

// Span 是一个闭区间 [From, To]。
type Span struct {
	From time.Time
	To   time.Time
}

// Split 按 increment 的日历边界把 [from, to] 切成互不重叠的闭区间，
// 每段的 To 为下一边界前 1ms，最后一段止于 to。
func Split(from, to time.Time, increment Interval) []Span {
	from, to = from.UTC(), to.UTC()
	if to.Before(from) {
		return nil
	}
	if increment.Amount <= 0 || !increment.Unit.Valid() {
		return []Span{{From: from, To: to}}
	}
	var out []Span
	cur := from
	for !cur.After(to) {
		next := increment.Add(increment.Truncate(cur), 1)
		end := next.Add(-time.Millisecond)
		if end.After(to) {
			end = to
		}
		out = append(out, Span{From: cur, To: end})
		cur = next
	}
	return out
}
