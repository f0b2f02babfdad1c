package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/afero"

	"grimm.is/netstate/internal/clock"
)

// FailureThreshold is the number of consecutive failed passes after which
// the reconcile check turns unhealthy.
const FailureThreshold = 3

// PassTracker remembers the outcome of recent reconcile passes.
type PassTracker struct {
	mu       sync.Mutex
	clock    clock.Clock
	interval time.Duration

	lastRun     time.Time
	lastSuccess time.Time
	lastErr     error
	failures    int
}

// NewPassTracker creates a tracker for a loop that runs every interval.
func NewPassTracker(interval time.Duration, clk clock.Clock) *PassTracker {
	if clk == nil {
		clk = clock.Real
	}
	return &PassTracker{clock: clk, interval: interval}
}

// Record stores the result of a pass that just finished.
func (p *PassTracker) Record(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastRun = p.clock.Now()
	p.lastErr = err
	if err != nil {
		p.failures++
		return
	}
	p.failures = 0
	p.lastSuccess = p.lastRun
}

// Check reports the reconcile loop's health. A loop that has not
// succeeded within three intervals is degraded.
func (p *PassTracker) Check(ctx context.Context) Check {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.lastRun.IsZero():
		return Check{Status: StatusDegraded, Message: "no reconcile pass yet"}
	case p.failures >= FailureThreshold:
		return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("%d consecutive failures: %v", p.failures, p.lastErr)}
	case p.failures > 0:
		return Check{Status: StatusDegraded, Message: fmt.Sprintf("last pass failed: %v", p.lastErr)}
	case p.interval > 0 && p.clock.Since(p.lastSuccess) > 3*p.interval:
		return Check{Status: StatusDegraded, Message: "last successful pass at " + p.lastSuccess.Format(time.RFC3339)}
	}
	return Check{Status: StatusHealthy, Message: "in sync"}
}

// CheckFile returns a check that fails when path cannot be read.
func CheckFile(fs afero.Fs, path string) CheckFunc {
	return func(ctx context.Context) Check {
		fi, err := fs.Stat(path)
		switch {
		case err != nil:
			return Check{Status: StatusUnhealthy, Message: err.Error()}
		case fi.IsDir():
			return Check{Status: StatusUnhealthy, Message: path + " is a directory"}
		}
		return Check{Status: StatusHealthy, Message: path}
	}
}
