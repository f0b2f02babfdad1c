package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNow_ReturnsCurrentTime(t *testing.T) {
	before := time.Now()
	result := Now()
	after := time.Now()

	assert.False(t, result.Before(before) || result.After(after))
}

func TestMockClock_AdvanceAndSet(t *testing.T) {
	start := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	mock := NewMockClock(start)

	mock.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), mock.Now())
	assert.Equal(t, time.Hour, mock.Since(start))
	assert.Equal(t, -time.Hour, mock.Until(start))

	later := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.Set(later)
	assert.Equal(t, later, mock.Now())
}

func TestMockClock_AfterFunc(t *testing.T) {
	mock := NewMockClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))

	var fired []string
	mock.AfterFunc(2*time.Minute, func() { fired = append(fired, "b") })
	mock.AfterFunc(time.Minute, func() { fired = append(fired, "a") })
	stopped := mock.AfterFunc(time.Minute, func() { fired = append(fired, "never") })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())
	assert.Equal(t, 2, mock.PendingTimers())

	mock.Advance(30 * time.Second)
	assert.Empty(t, fired)

	mock.Advance(5 * time.Minute)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Zero(t, mock.PendingTimers())
}

func TestMockClock_TimerReset(t *testing.T) {
	mock := NewMockClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))

	fired := 0
	timer := mock.AfterFunc(time.Minute, func() { fired++ })
	mock.Advance(50 * time.Second)
	assert.True(t, timer.Reset(time.Minute))

	mock.Advance(50 * time.Second)
	assert.Zero(t, fired)
	mock.Advance(10 * time.Second)
	assert.Equal(t, 1, fired)
}

func TestRealClock_AfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}
