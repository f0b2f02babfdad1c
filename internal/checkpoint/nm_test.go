package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/logging"
)

type busCall struct {
	method string
	args   []interface{}
}

type fakeBus struct {
	calls       []busCall
	replies     map[string]*dbus.Call
	checkpoints []dbus.ObjectPath
}

func (f *fakeBus) CallWithContext(_ context.Context, method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	f.calls = append(f.calls, busCall{method: method, args: args})
	if reply, ok := f.replies[method]; ok {
		return reply
	}
	return &dbus.Call{}
}

func (f *fakeBus) GetProperty(p string) (dbus.Variant, error) {
	if p != nmInterface+".Checkpoints" {
		return dbus.Variant{}, dbus.Error{Name: "org.freedesktop.DBus.Error.UnknownProperty"}
	}
	return dbus.MakeVariant(f.checkpoints), nil
}

func newFakeNM(bus *fakeBus) *NM {
	return &NM{obj: bus, log: logging.WithComponent("checkpoint")}
}

func TestNM_Create(t *testing.T) {
	bus := &fakeBus{replies: map[string]*dbus.Call{
		nmInterface + ".CheckpointCreate": {Body: []interface{}{dbus.ObjectPath("/org/freedesktop/NetworkManager/Checkpoint/3")}},
	}}
	id, err := newFakeNM(bus).Create(context.Background(), 1500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "/org/freedesktop/NetworkManager/Checkpoint/3", id)

	require.Len(t, bus.calls, 1)
	args := bus.calls[0].args
	assert.Equal(t, []dbus.ObjectPath{}, args[0])
	assert.Equal(t, uint32(2), args[1], "timeout rounds up to whole seconds")
	assert.Equal(t, uint32(0x07), args[2])
}

func TestNM_EmptyIDUsesLiveCheckpoint(t *testing.T) {
	live := dbus.ObjectPath("/org/freedesktop/NetworkManager/Checkpoint/9")
	bus := &fakeBus{checkpoints: []dbus.ObjectPath{live}}
	nm := newFakeNM(bus)

	require.NoError(t, nm.ExtendTimeout(context.Background(), "", time.Minute))
	require.NoError(t, nm.Destroy(context.Background(), ""))

	require.Len(t, bus.calls, 2)
	assert.Equal(t, nmInterface+".CheckpointAdjustRollbackTimeout", bus.calls[0].method)
	assert.Equal(t, []interface{}{live, uint32(60)}, bus.calls[0].args)
	assert.Equal(t, nmInterface+".CheckpointDestroy", bus.calls[1].method)
	assert.Equal(t, []interface{}{live}, bus.calls[1].args)
}

func TestNM_ResolveErrors(t *testing.T) {
	nm := newFakeNM(&fakeBus{})
	err := nm.Destroy(context.Background(), "")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	nm = newFakeNM(&fakeBus{checkpoints: []dbus.ObjectPath{"/a", "/b"}})
	err = nm.Destroy(context.Background(), "")
	assert.True(t, errors.IsKind(err, errors.KindConflict))

	err = nm.Destroy(context.Background(), "not a path")
	assert.True(t, errors.IsKind(err, errors.KindInvalidArgument))
}

func TestNM_RollbackReportsFailedDevices(t *testing.T) {
	path := "/org/freedesktop/NetworkManager/Checkpoint/1"
	bus := &fakeBus{replies: map[string]*dbus.Call{
		nmInterface + ".CheckpointRollback": {Body: []interface{}{map[string]uint32{
			"/org/freedesktop/NetworkManager/Devices/1": 0,
			"/org/freedesktop/NetworkManager/Devices/2": 1,
		}}},
	}}
	err := newFakeNM(bus).Rollback(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindPluginFailure))
	assert.Equal(t, []string{"/org/freedesktop/NetworkManager/Devices/2"}, errors.GetAttributes(err)["devices"])
}

func TestNM_CallErrorsAreKinded(t *testing.T) {
	bus := &fakeBus{replies: map[string]*dbus.Call{
		nmInterface + ".CheckpointDestroy": {Err: dbus.Error{Name: "org.freedesktop.NetworkManager.InvalidArguments"}},
		nmInterface + ".CheckpointCreate":  {Err: dbus.Error{Name: "org.freedesktop.NetworkManager.PermissionDenied"}},
	}}
	nm := newFakeNM(bus)

	err := nm.Destroy(context.Background(), "/org/freedesktop/NetworkManager/Checkpoint/1")
	assert.True(t, errors.IsKind(err, errors.KindInvalidArgument))
	assert.Equal(t, "CheckpointDestroy", errors.GetAttributes(err)["method"])

	_, err = nm.Create(context.Background(), time.Minute)
	assert.True(t, errors.IsKind(err, errors.KindPluginFailure))
}
