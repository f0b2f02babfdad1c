package network

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"grimm.is/netstate/internal/clock"
)

func TestMonitor_SettlesBursts(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(0, 0))
	m := NewMonitor(nil, "", time.Second, clk)

	var mu sync.Mutex
	var reports [][]string
	onChange := func(names []string) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, names)
	}

	m.note("eth0", onChange)
	clk.Advance(500 * time.Millisecond)
	m.note("eth1", onChange)
	m.note("eth0", onChange)
	clk.Advance(500 * time.Millisecond)
	assert.Empty(t, reports, "burst still active")

	clk.Advance(600 * time.Millisecond)
	assert.Equal(t, [][]string{{"eth0", "eth1"}}, reports)

	m.note("", onChange)
	clk.Advance(time.Second)
	assert.Len(t, reports, 2)
	assert.Empty(t, reports[1])
}

func TestMonitor_StopDropsPending(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(0, 0))
	m := NewMonitor(nil, "", time.Second, clk)

	called := false
	m.note("eth0", func([]string) { called = true })
	m.Stop()
	clk.Advance(2 * time.Second)
	assert.False(t, called)
	assert.Equal(t, 0, clk.PendingTimers())
}
