package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := time.Date(2021, 5, 13, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("fake", 2, time.Minute)
	cb.now = func() time.Time { return now }

	boom := errors.New("boom")
	assert.ErrorIs(t, cb.Do(func() error { return boom }, nil), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Do(func() error { return boom }, nil), boom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	assert.ErrorIs(t, cb.Do(func() error { called = true; return nil }, nil), ErrOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	assert.NoError(t, cb.Do(func() error { return nil }, nil))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2021, 5, 13, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("fake", 1, time.Second)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	now = now.Add(2 * time.Second)
	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestIgnoredErrorsDoNotCount(t *testing.T) {
	cb := NewCircuitBreaker("fake", 1, time.Hour)
	soft := errors.New("soft")
	_ = cb.Do(func() error { return soft }, func(err error) bool { return !errors.Is(err, soft) })
	assert.Equal(t, StateClosed, cb.State())
}
