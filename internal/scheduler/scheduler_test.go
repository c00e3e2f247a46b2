package scheduler

import (
	"context"
	"testing"
	"time"

	"tickforge/internal/interval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2021, 5, 13, 12, 0, 0, 0, time.UTC)

func TestRunAsOfOrdersByDueThenInsertion(t *testing.T) {
	s := New()
	var got []string
	s.Add(func() { got = append(got, "late") }, base.Add(2*time.Minute))
	s.Add(func() { got = append(got, "a") }, base.Add(time.Minute))
	s.Add(func() { got = append(got, "early") }, base)
	s.Add(func() { got = append(got, "b") }, base.Add(time.Minute))
	s.Add(func() { got = append(got, "future") }, base.Add(time.Hour))

	n := s.RunAsOf(base.Add(2 * time.Minute))
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"early", "a", "b", "late"}, got)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, []time.Time{base.Add(time.Hour)}, s.Pending())
}

func TestRunAsOfLeavesFutureUntouched(t *testing.T) {
	s := New()
	ran := false
	s.Add(func() { ran = true }, base.Add(time.Second))
	assert.Zero(t, s.RunAsOf(base))
	assert.False(t, ran)
	assert.Equal(t, 1, s.RunAsOf(base.Add(time.Second)))
	assert.True(t, ran)
	assert.Zero(t, s.Len())
}

func TestActionsAddedWhileRunningWaitForNextCall(t *testing.T) {
	s := New()
	count := 0
	s.Add(func() {
		count++
		s.Add(func() { count++ }, base)
	}, base)

	assert.Equal(t, 1, s.RunAsOf(base))
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, s.RunAsOf(base))
	assert.Equal(t, 2, count)
}

func TestNilActionIgnored(t *testing.T) {
	s := New()
	s.Add(nil, base)
	assert.Zero(t, s.Len())
}

func TestAlignedNextTimes(t *testing.T) {
	s := NewAlignedScheduler(context.Background(), "sync", interval.Minutes(15), 10*time.Second)

	closeAt, wakeAt, wait := s.nextTimes(base.Add(3 * time.Minute))
	assert.Equal(t, base.Add(15*time.Minute), closeAt)
	assert.Equal(t, base.Add(15*time.Minute+10*time.Second), wakeAt)
	assert.Equal(t, 12*time.Minute+10*time.Second, wait)

	_, wakeAt, _ = s.nextTimes(base.Add(5 * time.Second))
	assert.Equal(t, base.Add(10*time.Second), wakeAt, "still inside the offset window of the current close")

	monthly := NewAlignedScheduler(context.Background(), "sync", interval.Months(1), 0)
	closeAt, _, _ = monthly.nextTimes(time.Date(2021, 2, 10, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC), closeAt)
}

func TestAlignedStartStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewAlignedScheduler(ctx, "sync", interval.Hours(1), 0)
	s.RunImmediately = true
	runs := 0
	done := make(chan struct{})
	go func() {
		s.Start(func(context.Context) {
			runs++
			cancel()
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.Fail(t, "scheduler did not stop")
	}
	assert.Equal(t, 1, runs)
}
