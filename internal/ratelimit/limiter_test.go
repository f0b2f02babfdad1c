package ratelimit

import (
	"testing"
	"time"

	"grimm.is/netstate/internal/clock"
)

func newTestLimiter() (*Limiter, *clock.MockClock) {
	clk := clock.NewMockClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	return NewLimiter(clk), clk
}

func TestLimiter_Allow_Basic(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < 3; i++ {
		if !l.Allow("watch", 3, time.Minute) {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}
	if l.Allow("watch", 3, time.Minute) {
		t.Error("4th request should be denied (over limit)")
	}
}

func TestLimiter_Allow_DifferentKeys(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < 2; i++ {
		if !l.Allow("watch", 2, time.Minute) {
			t.Errorf("watch request %d should be allowed", i+1)
		}
	}
	if !l.Allow("signal", 2, time.Minute) {
		t.Error("signal should have its own budget")
	}
	if l.Allow("watch", 2, time.Minute) {
		t.Error("watch should be exhausted")
	}
}

func TestLimiter_Refill(t *testing.T) {
	l, clk := newTestLimiter()

	l.Allow("watch", 1, time.Minute)
	if l.Allow("watch", 1, time.Minute) {
		t.Fatal("second request should be denied")
	}
	clk.Advance(59 * time.Second)
	if l.Allow("watch", 1, time.Minute) {
		t.Error("window has not elapsed yet")
	}
	clk.Advance(time.Second)
	if !l.Allow("watch", 1, time.Minute) {
		t.Error("tokens should refill after the interval")
	}
}

func TestLimiter_AllowN(t *testing.T) {
	l, _ := newTestLimiter()

	if !l.AllowN("burst", 5, time.Minute, 3) {
		t.Error("3 of 5 should be allowed")
	}
	if l.AllowN("burst", 5, time.Minute, 3) {
		t.Error("3 more should exceed the limit")
	}
	if !l.AllowN("burst", 5, time.Minute, 2) {
		t.Error("remaining 2 should be allowed")
	}
}

func TestLimiter_Reset(t *testing.T) {
	l, _ := newTestLimiter()

	l.Allow("watch", 1, time.Minute)
	l.Reset("watch")
	if !l.Allow("watch", 1, time.Minute) {
		t.Error("Reset should restore the budget")
	}
}
