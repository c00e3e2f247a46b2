package scheduler

import (
	"sort"
	"time"
)

// Action 是延迟执行的动作。
type Action func()

type entry struct {
	due    time.Time
	seq    uint64
	action Action
}

// Scheduler 按模拟时钟执行到期动作，不启动任何 goroutine，也不加锁；
// 只在单线程的回测循环中使用。
type Scheduler struct {
	entries []entry
	seq     uint64
}

func New() *Scheduler {
	return &Scheduler{}
}

// Add 登记一个在 due 时刻（或之后第一次 RunAsOf）执行的动作。
func (s *Scheduler) Add(action Action, due time.Time) {
	if action == nil {
		return
	}
	s.seq++
	s.entries = append(s.entries, entry{due: due, seq: s.seq, action: action})
}

// RunAsOf 按到期时间升序执行所有 due ≤ now 的动作，同一时刻按登记顺序执行，
// 返回执行数量。执行期间新登记的动作留到下一次调用。
func (s *Scheduler) RunAsOf(now time.Time) int {
	if len(s.entries) == 0 {
		return 0
	}
	var ready, rest []entry
	for _, e := range s.entries {
		if e.due.After(now) {
			rest = append(rest, e)
		} else {
			ready = append(ready, e)
		}
	}
	if len(ready) == 0 {
		return 0
	}
	s.entries = rest
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].due.Equal(ready[j].due) {
			return ready[i].seq < ready[j].seq
		}
		return ready[i].due.Before(ready[j].due)
	})
	for _, e := range ready {
		e.action()
	}
	return len(ready)
}

// Len 返回尚未执行的动作数。
func (s *Scheduler) Len() int {
	return len(s.entries)
}

// Pending 返回尚未执行动作的到期时间（升序）。
func (s *Scheduler) Pending() []time.Time {
	out := make([]time.Time, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.due
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
