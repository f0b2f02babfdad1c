package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/netstate/internal/config"
	"grimm.is/netstate/internal/health"
	"grimm.is/netstate/internal/logging"
	"grimm.is/netstate/internal/metrics"
	"grimm.is/netstate/internal/model"
	"grimm.is/netstate/internal/netstate"
	"grimm.is/netstate/internal/network"
	"grimm.is/netstate/internal/ratelimit"
	"grimm.is/netstate/internal/state"
)

// reconciler is the part of netstate.Manager the daemon loop drives.
type reconciler interface {
	Apply(ctx context.Context, desired *model.NetworkState, opts netstate.ApplyOptions) (*netstate.ApplyResult, error)
	Show(ctx context.Context, opts netstate.RetrieveOptions) (*model.NetworkState, error)
}

// daemon re-applies the desired state file on a timer and on kernel
// change notifications.
type daemon struct {
	cfg     *config.Config
	mgr     reconciler
	history *state.HistoryBucket
	metrics *metrics.Registry
	log     *logging.Logger
	tracker *health.PassTracker

	// trigger requests an out-of-band pass; one pending request is enough.
	trigger chan struct{}
	limiter *ratelimit.Limiter
}

// maxTriggeredPasses bounds out-of-band passes per minute. Our own applies
// generate link events, so an unbounded trigger could loop.
const maxTriggeredPasses = 6

func newDaemon(cfg *config.Config, mgr reconciler, history *state.HistoryBucket, reg *metrics.Registry) *daemon {
	return &daemon{
		cfg:     cfg,
		mgr:     mgr,
		history: history,
		metrics: reg,
		log:     logging.WithComponent("daemon"),
		tracker: health.NewPassTracker(cfg.DaemonInterval(), nil),
		trigger: make(chan struct{}, 1),
		limiter: ratelimit.NewLimiter(nil),
	}
}

// kick schedules a pass unless one is already pending.
func (d *daemon) kick() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// pass runs one reconciliation of the desired state file.
func (d *daemon) pass(ctx context.Context) error {
	err := d.reconcile(ctx)
	d.tracker.Record(err)
	return err
}

func (d *daemon) reconcile(ctx context.Context) error {
	desired, err := readDesired(d.cfg.StateFile)
	if err != nil {
		d.log.Error("failed to read desired state", "file", d.cfg.StateFile, "error", err)
		return err
	}
	start := time.Now()
	res, err := d.mgr.Apply(ctx, desired, netstate.ApplyOptions{NoVerify: !*d.cfg.Verify.Enabled})
	recordHistory(d.history, start, res, err)
	if err != nil {
		d.log.Error("reconcile failed", "error", err)
		return err
	}
	if !res.Plan.IsEmpty() {
		d.log.Info("reconciled", "add", res.Plan.Add.Len(), "change", res.Plan.Change.Len(),
			"delete", res.Plan.Delete.Len(), "attempts", res.Attempts, "took", res.Duration)
	}
	d.observe(ctx)
	return nil
}

// observe publishes interface counts by type and state.
func (d *daemon) observe(ctx context.Context) {
	ns, err := d.mgr.Show(ctx, netstate.RetrieveOptions{})
	if err != nil {
		d.log.Warn("failed to read state for metrics", "error", err)
		return
	}
	counts := make(map[[2]string]int)
	for _, iface := range ns.Interfaces.List() {
		b := iface.Base()
		st := string(b.State)
		if st == "" {
			st = string(model.StateUp)
		}
		counts[[2]string{string(b.Type), st}]++
	}
	d.metrics.RecordInterfaces(counts)
}

// run loops until ctx ends. Failed passes are retried at the next tick.
func (d *daemon) run(ctx context.Context, tick <-chan time.Time) {
	d.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			d.pass(ctx)
		case <-d.trigger:
			d.triggered(ctx)
		}
	}
}

// triggered runs an out-of-band pass unless the trigger budget is spent,
// in which case the next tick catches up. It reports whether a pass ran.
func (d *daemon) triggered(ctx context.Context) bool {
	if !d.limiter.Allow("trigger", maxTriggeredPasses, time.Minute) {
		d.log.Debug("trigger budget spent, waiting for next tick")
		return false
	}
	d.log.Debug("re-checking desired state")
	d.pass(ctx)
	return true
}

// RunDaemon runs the reconcile daemon until SIGINT or SIGTERM. SIGHUP
// triggers an immediate pass.
func RunDaemon(ctx context.Context, configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	setupLogging(cfg, false)
	log := logging.WithComponent("daemon")

	rt, err := wire(cfg, wireOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if rt.local != nil {
		n, err := rt.local.RecoverExpired(ctx)
		if err != nil {
			log.Error("failed to recover expired checkpoints", "error", err)
		} else if n > 0 {
			log.Warn("rolled back expired checkpoints", "count", n)
		}
	}

	d := newDaemon(cfg, rt.mgr, rt.history, metrics.Get())

	if cfg.Daemon.MetricsListen != "-" {
		checker := health.NewChecker(nil)
		checker.Register("reconcile", d.tracker.Check)
		checker.Register("state_file", health.CheckFile(fs, cfg.StateFile))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		checker.Mount(mux)
		srv := &http.Server{Addr: cfg.Daemon.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info("serving metrics and health", "listen", cfg.Daemon.MetricsListen)
	}

	if *cfg.Daemon.Watch {
		mon := network.NewMonitor(rt.nl, cfg.Netns, cfg.Settle(), nil)
		if err := mon.Start(ctx, func(names []string) {
			log.Debug("link changes settled", "interfaces", names)
			d.kick()
		}); err != nil {
			log.Warn("kernel change notifications unavailable, polling only", "error", err)
		} else {
			defer mon.Stop()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					log.Info("Received SIGHUP, re-checking desired state")
					d.kick()
					continue
				}
				log.Info("Received signal, shutting down...", "signal", sig)
				cancel()
				return
			}
		}
	}()

	ticker := time.NewTicker(cfg.DaemonInterval())
	defer ticker.Stop()
	log.Info("daemon started", "state_file", cfg.StateFile, "interval", cfg.DaemonInterval(),
		"checkpoint", cfg.Checkpoint.Backend, "watch", *cfg.Daemon.Watch)
	d.run(ctx, ticker.C)
	log.Info("daemon stopped")
	return nil
}
