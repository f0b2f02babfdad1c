package netstate

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"grimm.is/netstate/internal/clock"
	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/logging"
	"grimm.is/netstate/internal/metrics"
	"grimm.is/netstate/internal/model"
	"grimm.is/netstate/internal/reconcile"
)

const (
	// DefaultVerifyRetries is the number of re-checks after the first
	// verification attempt.
	DefaultVerifyRetries = 5
	// SriovVerifyRetries replaces DefaultVerifyRetries when the plan
	// configures SR-IOV; VF creation takes a while to settle.
	SriovVerifyRetries = 30

	DefaultVerifyInterval    = time.Second
	DefaultCheckpointTimeout = 60 * time.Second
)

// Rollback reasons reported to metrics.
const (
	reasonApply   = "apply"
	reasonVerify  = "verify"
	reasonCommit  = "commit"
	reasonRequest = "request"
)

// Config wires a Manager. Source and Sink are required.
type Config struct {
	Source       StateSource
	Sink         StateSink
	Checkpointer Checkpointer
	Hostname     HostnameSetter
	Prober       Prober
	Sriov        reconcile.SriovChecker

	VerifyRetries     int
	VerifyInterval    time.Duration
	CheckpointTimeout time.Duration
	ProbeTargets      []string

	Clock   clock.Clock
	Metrics *metrics.Registry
	Logger  *logging.Logger
}

// ApplyOptions tunes one Apply call.
type ApplyOptions struct {
	NoVerify bool
	// NoCommit leaves the checkpoint live and returns its id.
	NoCommit bool
	// MemoryOnly keeps deletes of existing interfaces as state down.
	MemoryOnly bool
	// KernelOnly skips the checkpoint; a failure restores the pre-apply
	// snapshot through the sink instead.
	KernelOnly bool
	// Timeout overrides the checkpoint timeout.
	Timeout time.Duration
}

// ApplyResult describes a finished Apply.
type ApplyResult struct {
	Plan *reconcile.Plan
	// CheckpointID is set when NoCommit left a checkpoint live.
	CheckpointID string
	Attempts     int
	Duration     time.Duration
}

// Manager runs reconciliations. It holds no lock of its own: a concurrent
// Apply fails at checkpoint creation, which admits one live checkpoint per
// host.
type Manager struct {
	cfg Config
	log *logging.Logger
}

// NewManager validates cfg and fills defaults.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Source == nil || cfg.Sink == nil {
		return nil, errors.New(errors.KindInvalidArgument, "netstate manager needs a state source and a sink")
	}
	if cfg.VerifyRetries <= 0 {
		cfg.VerifyRetries = DefaultVerifyRetries
	}
	if cfg.VerifyInterval <= 0 {
		cfg.VerifyInterval = DefaultVerifyInterval
	}
	if cfg.CheckpointTimeout <= 0 {
		cfg.CheckpointTimeout = DefaultCheckpointTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Get()
	}
	log := cfg.Logger
	if log == nil {
		log = logging.WithComponent("netstate")
	}
	return &Manager{cfg: cfg, log: log}, nil
}

// Show returns the merged current state.
func (m *Manager) Show(ctx context.Context, opts RetrieveOptions) (*model.NetworkState, error) {
	ns, err := m.cfg.Source.Retrieve(ctx, opts)
	if err != nil {
		return nil, err
	}
	counts := make(map[[2]string]int)
	for _, iface := range ns.Interfaces.List() {
		b := iface.Base()
		counts[[2]string{string(b.Type), string(b.State)}]++
	}
	m.cfg.Metrics.RecordInterfaces(counts)
	return ns, nil
}

// GenerateDiff computes the plan for desired without applying it.
func (m *Manager) GenerateDiff(ctx context.Context, desired *model.NetworkState) (*reconcile.Plan, error) {
	plan, _, err := m.plan(ctx, desired, ApplyOptions{})
	return plan, err
}

func (m *Manager) plan(ctx context.Context, desired *model.NetworkState, opts ApplyOptions) (*reconcile.Plan, *model.NetworkState, error) {
	current, err := m.Show(ctx, RetrieveOptions{RunningConfigOnly: true})
	if err != nil {
		return nil, nil, err
	}
	desired, current = reconcile.FilterIgnored(desired, current)
	plan, err := reconcile.Build(desired, current, reconcile.Options{
		MemoryOnly: opts.MemoryOnly,
		Sriov:      m.cfg.Sriov,
	})
	if err != nil {
		return nil, nil, err
	}
	m.cfg.Metrics.RecordPlan(plan.Add.Len(), plan.Change.Len(), plan.Delete.Len())
	return plan, current, nil
}

// Apply moves the host to desired. Any failure after the checkpoint exists
// rolls back with the same checkpoint before the error is returned; that
// includes a failure to destroy the checkpoint on commit, since a checkpoint
// left behind would roll the host back on expiry anyway.
func (m *Manager) Apply(ctx context.Context, desired *model.NetworkState, opts ApplyOptions) (res *ApplyResult, err error) {
	start := m.cfg.Clock.Now()
	result := metrics.ResultFailure
	defer func() {
		m.cfg.Metrics.RecordApply(result, m.cfg.Clock.Since(start), m.cfg.Clock.Now())
	}()

	plan, current, err := m.plan(ctx, desired, opts)
	if err != nil {
		return nil, err
	}
	res = &ApplyResult{Plan: plan}
	if plan.IsEmpty() {
		m.log.Info("desired state already in place")
		result = metrics.ResultNoop
		res.Duration = m.cfg.Clock.Since(start)
		return res, nil
	}
	m.log.Debug("applying plan", "summary", plan.Summary())

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.cfg.CheckpointTimeout
	}

	var id string
	if !opts.KernelOnly && m.cfg.Checkpointer != nil {
		if id, err = m.cfg.Checkpointer.Create(ctx, timeout); err != nil {
			return nil, err
		}
		m.cfg.Metrics.Checkpoints.WithLabelValues("create").Inc()
		m.log.Info("checkpoint created", "id", id, "timeout", timeout)
	}

	undo := func(reason string, cause error) error {
		m.cfg.Metrics.Rollbacks.WithLabelValues(reason).Inc()
		if id != "" {
			m.log.Warn("rolling back checkpoint", "id", id, "error", cause)
			m.cfg.Metrics.Checkpoints.WithLabelValues("rollback").Inc()
			if rbErr := m.cfg.Checkpointer.Rollback(context.WithoutCancel(ctx), id); rbErr != nil {
				return errors.Attr(errors.Wrapf(cause, errors.GetKind(cause),
					"rollback of checkpoint %s also failed: %v", id, rbErr), "checkpoint", id)
			}
			return cause
		}
		if opts.KernelOnly {
			m.restore(context.WithoutCancel(ctx), current)
		}
		return cause
	}

	if err := m.cfg.Sink.Apply(ctx, plan, current); err != nil {
		return nil, undo(reasonApply, err)
	}
	if plan.Hostname != nil && m.cfg.Hostname != nil {
		if err := m.cfg.Hostname.SetRunningHostname(ctx, *plan.Hostname); err != nil {
			return nil, undo(reasonApply, errors.Wrap(err, errors.KindPluginFailure, "set hostname"))
		}
	}
	if id != "" {
		if err := m.cfg.Checkpointer.ExtendTimeout(ctx, id, timeout); err != nil {
			return nil, undo(reasonApply, err)
		}
	}

	if !opts.NoVerify {
		attempts, err := m.verify(ctx, plan)
		res.Attempts = attempts
		if err != nil {
			return nil, undo(reasonVerify, err)
		}
	}

	res.Duration = m.cfg.Clock.Since(start)
	if id != "" {
		if opts.NoCommit {
			res.CheckpointID = id
			result = metrics.ResultPending
			m.log.Info("apply pending commit", "checkpoint", id)
			return res, nil
		}
		if err := m.cfg.Checkpointer.Destroy(ctx, id); err != nil {
			return nil, undo(reasonCommit, errors.Attr(errors.Wrapf(err, errors.GetKind(err),
				"commit checkpoint %s", id), "checkpoint", id))
		}
		m.cfg.Metrics.Checkpoints.WithLabelValues("commit").Inc()
	}
	result = metrics.ResultSuccess
	m.log.Info("apply done", "add", plan.Add.Len(), "change", plan.Change.Len(),
		"delete", plan.Delete.Len(), "took", res.Duration)
	return res, nil
}

// verify re-reads the state until the plan is reflected or retries run
// out. Only verification mismatches are retried; a kernel rounding mismatch
// or a failing retrieve is reported at once.
func (m *Manager) verify(ctx context.Context, plan *reconcile.Plan) (int, error) {
	retries := m.cfg.VerifyRetries
	if plan.Sriov {
		retries = SriovVerifyRetries
	}
	attempts := 0
	op := func() error {
		attempts++
		m.cfg.Metrics.VerifyAttempts.Inc()
		current, err := m.cfg.Source.Retrieve(ctx, RetrieveOptions{RunningConfigOnly: true})
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := reconcile.Verify(plan, current); err != nil {
			if errors.GetKind(err) != errors.KindVerification {
				return backoff.Permanent(err)
			}
			return err
		}
		if m.cfg.Prober != nil && len(m.cfg.ProbeTargets) > 0 {
			if err := m.cfg.Prober.Probe(ctx, m.cfg.ProbeTargets); err != nil {
				return errors.Wrap(err, errors.KindVerification, "connectivity probe failed")
			}
		}
		return nil
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.cfg.VerifyInterval), uint64(retries)), ctx)
	err := backoff.RetryNotifyWithTimer(op, b, func(err error, next time.Duration) {
		m.log.Debug("verification pending", "attempt", attempts, "retry_in", next, "error", err)
	}, newClockTimer(m.cfg.Clock))
	return attempts, err
}

// clockTimer is a backoff.Timer driven by the manager's clock.
type clockTimer struct {
	clk   clock.Clock
	c     chan time.Time
	timer clock.Timer
}

func newClockTimer(clk clock.Clock) *clockTimer {
	return &clockTimer{clk: clk, c: make(chan time.Time, 1)}
}

func (t *clockTimer) Start(d time.Duration) {
	t.timer = t.clk.AfterFunc(d, func() {
		select {
		case t.c <- t.clk.Now():
		default:
		}
	})
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time { return t.c }

// restore best-effort reapplies the pre-apply snapshot when no checkpoint
// guards the apply.
func (m *Manager) restore(ctx context.Context, snapshot *model.NetworkState) {
	now, err := m.cfg.Source.Retrieve(ctx, RetrieveOptions{RunningConfigOnly: true})
	if err != nil {
		m.log.Error("restore: retrieve failed", "error", err)
		return
	}
	plan, err := reconcile.Build(reconcile.RestoreState(snapshot, now), now, reconcile.Options{})
	if err != nil {
		m.log.Error("restore: plan failed", "error", err)
		return
	}
	if err := m.cfg.Sink.Apply(ctx, plan, now); err != nil {
		m.log.Error("restore: apply failed", "error", err)
	}
}

// Commit destroys a checkpoint, keeping the applied state.
func (m *Manager) Commit(ctx context.Context, id string) error {
	if m.cfg.Checkpointer == nil {
		return errors.New(errors.KindNotSupported, "no checkpoint facility configured")
	}
	if err := m.cfg.Checkpointer.Destroy(ctx, id); err != nil {
		return err
	}
	m.cfg.Metrics.Checkpoints.WithLabelValues("commit").Inc()
	return nil
}

// Rollback restores the state saved by a checkpoint.
func (m *Manager) Rollback(ctx context.Context, id string) error {
	if m.cfg.Checkpointer == nil {
		return errors.New(errors.KindNotSupported, "no checkpoint facility configured")
	}
	if err := m.cfg.Checkpointer.Rollback(ctx, id); err != nil {
		return err
	}
	m.cfg.Metrics.Rollbacks.WithLabelValues(reasonRequest).Inc()
	m.cfg.Metrics.Checkpoints.WithLabelValues("rollback").Inc()
	return nil
}
