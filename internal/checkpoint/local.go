// Package checkpoint provides the facilities that guard an apply: Local
// keeps the pre-apply state in the SQLite store and restores it through the
// kernel sink; NM delegates to NetworkManager checkpoints over D-Bus.
package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/netstate/internal/clock"
	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/logging"
	"grimm.is/netstate/internal/model"
	"grimm.is/netstate/internal/netstate"
	"grimm.is/netstate/internal/reconcile"
	"grimm.is/netstate/internal/state"
)

// Local is a checkpoint facility that owns its snapshots. At most one
// checkpoint is live; an armed timer rolls it back when its deadline
// passes.
type Local struct {
	mu     sync.Mutex
	bucket *state.CheckpointBucket
	source netstate.StateSource
	sink   netstate.StateSink
	clock  clock.Clock
	timers map[string]clock.Timer
	log    *logging.Logger
}

// NewLocal returns a Local storing its records in store.
func NewLocal(store state.Store, source netstate.StateSource, sink netstate.StateSink, clk clock.Clock) (*Local, error) {
	bucket, err := state.NewCheckpointBucket(store)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real
	}
	return &Local{
		bucket: bucket,
		source: source,
		sink:   sink,
		clock:  clk,
		timers: make(map[string]clock.Timer),
		log:    logging.WithComponent("checkpoint"),
	}, nil
}

// Create captures the current state and arms the rollback timer.
func (l *Local) Create(ctx context.Context, timeout time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	live, err := l.bucket.List()
	if err != nil {
		return "", err
	}
	if len(live) > 0 {
		return "", errors.Attr(errors.New(errors.KindConflict,
			"another checkpoint is live"), "checkpoint", live[0].ID)
	}

	snapshot, err := l.source.Retrieve(ctx, netstate.RetrieveOptions{RunningConfigOnly: true})
	if err != nil {
		return "", err
	}
	doc, err := model.Encode(snapshot)
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "encode checkpoint snapshot")
	}

	now := l.clock.Now()
	rec := &state.CheckpointRecord{
		ID:        uuid.NewString(),
		CreatedAt: now,
		Deadline:  now.Add(timeout),
		Snapshot:  string(doc),
	}
	if err := l.bucket.Set(rec); err != nil {
		return "", err
	}
	l.arm(rec.ID, timeout)
	l.log.Debug("checkpoint created", "id", rec.ID, "deadline", rec.Deadline)
	return rec.ID, nil
}

// ExtendTimeout moves the deadline to timeout from now.
func (l *Local) ExtendTimeout(ctx context.Context, id string, timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.resolve(id)
	if err != nil {
		return err
	}
	rec.Deadline = l.clock.Now().Add(timeout)
	if err := l.bucket.Set(rec); err != nil {
		return err
	}
	l.arm(rec.ID, timeout)
	return nil
}

// Rollback restores the captured state and drops the checkpoint.
func (l *Local) Rollback(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.resolve(id)
	if err != nil {
		return err
	}
	return l.rollback(ctx, rec)
}

// Destroy drops the checkpoint, keeping the applied state.
func (l *Local) Destroy(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.resolve(id)
	if err != nil {
		return err
	}
	l.disarm(rec.ID)
	return l.bucket.Delete(rec.ID)
}

// RecoverExpired rolls back checkpoints whose deadline passed while no
// process was watching them, and re-arms the rest. It returns the number
// of rollbacks performed.
func (l *Local) RecoverExpired(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs, err := l.bucket.List()
	if err != nil {
		return 0, err
	}
	now := l.clock.Now()
	rolled := 0
	for _, rec := range recs {
		if !rec.Expired(now) {
			l.arm(rec.ID, rec.Deadline.Sub(now))
			continue
		}
		l.log.Warn("rolling back expired checkpoint", "id", rec.ID, "deadline", rec.Deadline)
		if err := l.rollback(ctx, rec); err != nil {
			return rolled, err
		}
		rolled++
	}
	return rolled, nil
}

// rollback must be called with l.mu held.
func (l *Local) rollback(ctx context.Context, rec *state.CheckpointRecord) error {
	l.disarm(rec.ID)

	snapshot, err := model.Decode([]byte(rec.Snapshot))
	if err != nil {
		return errors.Attr(errors.Wrap(err, errors.KindInternal, "corrupt checkpoint snapshot"), "checkpoint", rec.ID)
	}
	current, err := l.source.Retrieve(ctx, netstate.RetrieveOptions{RunningConfigOnly: true})
	if err != nil {
		return err
	}
	plan, err := reconcile.Build(reconcile.RestoreState(snapshot, current), current, reconcile.Options{})
	if err != nil {
		return errors.Attr(err, "checkpoint", rec.ID)
	}
	if !plan.IsEmpty() {
		if err := l.sink.Apply(ctx, plan, current); err != nil {
			return errors.Attr(errors.Wrap(err, errors.KindPluginFailure, "checkpoint rollback failed"), "checkpoint", rec.ID)
		}
	}
	l.log.Info("checkpoint rolled back", "id", rec.ID, "summary", plan.Summary())
	return l.bucket.Delete(rec.ID)
}

func (l *Local) resolve(id string) (*state.CheckpointRecord, error) {
	if id != "" {
		rec, err := l.bucket.Get(id)
		if errors.Is(err, state.ErrNotFound) {
			return nil, errors.Errorf(errors.KindNotFound, "checkpoint %s not found", id)
		}
		return rec, err
	}
	recs, err := l.bucket.List()
	if err != nil {
		return nil, err
	}
	switch len(recs) {
	case 0:
		return nil, errors.New(errors.KindNotFound, "no live checkpoint")
	case 1:
		return recs[0], nil
	default:
		return nil, errors.Errorf(errors.KindConflict, "%d live checkpoints, name one", len(recs))
	}
}

func (l *Local) arm(id string, after time.Duration) {
	if t, ok := l.timers[id]; ok {
		t.Reset(after)
		return
	}
	l.timers[id] = l.clock.AfterFunc(after, func() { l.expire(id) })
}

func (l *Local) disarm(id string) {
	if t, ok := l.timers[id]; ok {
		t.Stop()
		delete(l.timers, id)
	}
}

// expire runs on the timer goroutine.
func (l *Local) expire(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.timers, id)
	rec, err := l.bucket.Get(id)
	if err != nil {
		// Committed or rolled back in the meantime.
		return
	}
	if !rec.Expired(l.clock.Now()) {
		l.arm(id, rec.Deadline.Sub(l.clock.Now()))
		return
	}
	l.log.Warn("checkpoint deadline passed, rolling back", "id", id)
	if err := l.rollback(context.Background(), rec); err != nil {
		l.log.Error("automatic rollback failed", "id", id, "error", err)
	}
}
