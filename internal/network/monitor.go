package network

import (
	"context"
	"sync"
	"time"

	"grimm.is/netstate/internal/clock"
	"grimm.is/netstate/internal/logging"
)

// DefaultSettle is how long the monitor waits for a burst of kernel
// notifications to end before reporting it.
const DefaultSettle = 2 * time.Second

// Monitor watches link, address and route notifications and reports each
// settled burst of them. The daemon uses it to notice drift between its
// periodic passes; changes it makes itself also trigger a report.
type Monitor struct {
	nl     Netlinker
	nsName string
	settle time.Duration
	clk    clock.Clock
	log    *logging.Logger

	mu      sync.Mutex
	timer   clock.Timer
	pending []string
	cancel  context.CancelFunc
}

// NewMonitor creates a monitor for the named namespace, or the current one
// when nsName is empty. nl resolves link indexes in that namespace.
func NewMonitor(nl Netlinker, nsName string, settle time.Duration, clk clock.Clock) *Monitor {
	if settle <= 0 {
		settle = DefaultSettle
	}
	if clk == nil {
		clk = &clock.RealClock{}
	}
	return &Monitor{nl: nl, nsName: nsName, settle: settle, clk: clk, log: logging.WithComponent("monitor")}
}

// Stop ends the subscriptions and drops any unreported change.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.pending = nil
}

// note records a change and restarts the settle timer.
func (m *Monitor) note(name string, onChange func([]string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name != "" {
		m.pending = append(m.pending, name)
	}
	if m.timer != nil {
		m.timer.Reset(m.settle)
		return
	}
	m.timer = m.clk.AfterFunc(m.settle, func() { m.flush(onChange) })
}

func (m *Monitor) flush(onChange func([]string)) {
	m.mu.Lock()
	names := dedupeNames(m.pending)
	m.pending = nil
	m.timer = nil
	m.mu.Unlock()
	m.log.Debug("kernel network change settled", "interfaces", names)
	onChange(names)
}

func dedupeNames(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, n := range in {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
