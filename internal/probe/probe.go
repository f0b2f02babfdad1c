// Package probe checks that addresses still answer ICMP echo after an
// apply, as a verification gate beyond comparing interface fields.
package probe

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/logging"
)

// DefaultTimeout bounds one target.
const DefaultTimeout = 3 * time.Second

// PingFunc sends one echo to ip and reports whether it was answered.
type PingFunc func(ctx context.Context, ip string, timeout time.Duration, privileged bool) error

// ICMP probes targets concurrently. It implements netstate.Prober.
type ICMP struct {
	Timeout    time.Duration
	Privileged bool

	ping PingFunc
	log  *logging.Logger
}

// New returns a prober. Unprivileged mode uses UDP ping sockets, which
// need net.ipv4.ping_group_range to include the caller.
func New(timeout time.Duration, privileged bool) *ICMP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ICMP{
		Timeout:    timeout,
		Privileged: privileged,
		ping:       Ping,
		log:        logging.WithComponent("probe"),
	}
}

// Probe returns a verification error naming every target that did not
// answer.
func (p *ICMP) Probe(ctx context.Context, targets []string) error {
	if len(targets) == 0 {
		return nil
	}
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		failed = make(map[string]error)
	)
	for _, target := range targets {
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()
			if err := p.ping(ctx, ip, p.Timeout, p.Privileged); err != nil {
				mu.Lock()
				failed[ip] = err
				mu.Unlock()
			}
		}(target)
	}
	wg.Wait()

	if len(failed) == 0 {
		p.log.Debug("probe targets reachable", "targets", len(targets))
		return nil
	}
	var down []string
	for _, ip := range targets {
		if err, ok := failed[ip]; ok {
			p.log.Warn("probe target unreachable", "target", ip, "error", err)
			down = append(down, ip)
		}
	}
	return errors.Attr(errors.Errorf(errors.KindVerification,
		"probe targets unreachable: %s", strings.Join(down, ", ")), "targets", down)
}

// Ping is the pro-bing implementation of PingFunc.
func Ping(ctx context.Context, ip string, timeout time.Duration, privileged bool) error {
	pinger, err := probing.NewPinger(ip)
	if err != nil {
		return fmt.Errorf("failed to create pinger: %w", err)
	}

	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		return err
	}
	if pinger.Statistics().PacketsRecv == 0 {
		return fmt.Errorf("packet loss")
	}
	return nil
}
