package checkpoint

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/netstate/internal/clock"
	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/model"
	"grimm.is/netstate/internal/netstate"
	"grimm.is/netstate/internal/reconcile"
	"grimm.is/netstate/internal/state"
)

const (
	plainHost = `
interfaces:
- name: eth0
  type: ethernet
  state: up
`
	hostWithDummy = plainHost + `- name: dummy0
  type: dummy
  state: up
`
)

type fakeSource struct {
	mu sync.Mutex
	ns *model.NetworkState
}

func (f *fakeSource) set(t *testing.T, doc string) {
	ns, err := model.Decode([]byte(doc))
	require.NoError(t, err)
	f.mu.Lock()
	f.ns = ns
	f.mu.Unlock()
}

func (f *fakeSource) Retrieve(context.Context, netstate.RetrieveOptions) (*model.NetworkState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ns.Clone(), nil
}

type recordingSink struct {
	plans []*reconcile.Plan
	err   error
}

func (r *recordingSink) Apply(_ context.Context, plan *reconcile.Plan, _ *model.NetworkState) error {
	r.plans = append(r.plans, plan)
	return r.err
}

type localFixture struct {
	store  *state.SQLiteStore
	source *fakeSource
	sink   *recordingSink
	clock  *clock.MockClock
	local  *Local
}

var epoch = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func newLocalFixture(t *testing.T) *localFixture {
	t.Helper()
	store, err := state.NewSQLiteStore(state.DefaultOptions(t.TempDir() + "/state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &localFixture{
		store:  store,
		source: &fakeSource{},
		sink:   &recordingSink{},
		clock:  clock.NewMockClock(epoch),
	}
	f.source.set(t, plainHost)
	f.local, err = NewLocal(store, f.source, f.sink, f.clock)
	require.NoError(t, err)
	return f
}

func TestLocal_CreateIsExclusive(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()

	id, err := f.local.Create(ctx, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, f.clock.PendingTimers())

	_, err = f.local.Create(ctx, time.Minute)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConflict))
	assert.Equal(t, id, errors.GetAttributes(err)["checkpoint"])

	require.NoError(t, f.local.Destroy(ctx, id))
	assert.Equal(t, 0, f.clock.PendingTimers())
	assert.Empty(t, f.sink.plans)

	_, err = f.local.Create(ctx, time.Minute)
	assert.NoError(t, err)
}

func TestLocal_RollbackRestoresSnapshot(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()

	id, err := f.local.Create(ctx, time.Minute)
	require.NoError(t, err)
	f.source.set(t, hostWithDummy)

	require.NoError(t, f.local.Rollback(ctx, id))
	require.Len(t, f.sink.plans, 1)
	plan := f.sink.plans[0]
	require.NotNil(t, plan.Delete.GetKernel("dummy0"))
	assert.Equal(t, 0, plan.Add.Len())

	err = f.local.Destroy(ctx, id)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestLocal_RollbackFailureKeepsKind(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()

	id, err := f.local.Create(ctx, time.Minute)
	require.NoError(t, err)
	f.source.set(t, hostWithDummy)
	f.sink.err = errors.New(errors.KindUnknown, "netlink busy")

	err = f.local.Rollback(ctx, "")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindPluginFailure))
	assert.Equal(t, id, errors.GetAttributes(err)["checkpoint"])
}

func TestLocal_DeadlineRollsBack(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()

	_, err := f.local.Create(ctx, time.Minute)
	require.NoError(t, err)
	f.source.set(t, hostWithDummy)

	f.clock.Advance(59 * time.Second)
	assert.Empty(t, f.sink.plans)

	f.clock.Advance(time.Second)
	require.Len(t, f.sink.plans, 1)
	assert.NotNil(t, f.sink.plans[0].Delete.GetKernel("dummy0"))

	err = f.local.Destroy(ctx, "")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestLocal_ExtendTimeoutPostponesRollback(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()

	id, err := f.local.Create(ctx, time.Minute)
	require.NoError(t, err)
	f.source.set(t, hostWithDummy)

	f.clock.Advance(40 * time.Second)
	require.NoError(t, f.local.ExtendTimeout(ctx, id, time.Minute))
	f.clock.Advance(40 * time.Second)
	assert.Empty(t, f.sink.plans)

	f.clock.Advance(20 * time.Second)
	assert.Len(t, f.sink.plans, 1)
}

func TestLocal_RecoverExpiredAfterRestart(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()

	_, err := f.local.Create(ctx, time.Minute)
	require.NoError(t, err)
	f.source.set(t, hostWithDummy)

	// A new process on the same database, two minutes later.
	later := clock.NewMockClock(epoch.Add(2 * time.Minute))
	sink := &recordingSink{}
	restarted, err := NewLocal(f.store, f.source, sink, later)
	require.NoError(t, err)

	n, err := restarted.RecoverExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sink.plans, 1)
	assert.NotNil(t, sink.plans[0].Delete.GetKernel("dummy0"))
}

func TestLocal_RecoverRearmsLiveCheckpoint(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()

	_, err := f.local.Create(ctx, time.Minute)
	require.NoError(t, err)
	f.source.set(t, hostWithDummy)

	later := clock.NewMockClock(epoch.Add(30 * time.Second))
	sink := &recordingSink{}
	restarted, err := NewLocal(f.store, f.source, sink, later)
	require.NoError(t, err)

	n, err := restarted.RecoverExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, later.PendingTimers())

	later.Advance(30 * time.Second)
	assert.Len(t, sink.plans, 1)
}

func TestLocal_EmptyIDWithoutCheckpoint(t *testing.T) {
	f := newLocalFixture(t)
	err := f.local.Rollback(context.Background(), "")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
	err = f.local.ExtendTimeout(context.Background(), "nope", time.Second)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}
