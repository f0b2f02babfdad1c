package hostname

import (
	"context"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/logging"
)

type recordingBus struct {
	methods []string
	args    [][]interface{}
	err     error
}

func (r *recordingBus) CallWithContext(_ context.Context, method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	r.methods = append(r.methods, method)
	r.args = append(r.args, args)
	return &dbus.Call{Err: r.err}
}

func TestSetRunningHostname(t *testing.T) {
	bus := &recordingBus{}
	h := &Hostnamed{obj: bus, log: logging.WithComponent("hostname")}

	require.NoError(t, h.SetRunningHostname(context.Background(), "edge-1"))
	assert.Equal(t, []string{"org.freedesktop.hostname1.SetHostname"}, bus.methods)
	assert.Equal(t, []interface{}{"edge-1", false}, bus.args[0])

	h.Static = true
	bus.methods = nil
	require.NoError(t, h.SetRunningHostname(context.Background(), "edge-1"))
	assert.Equal(t, []string{
		"org.freedesktop.hostname1.SetHostname",
		"org.freedesktop.hostname1.SetStaticHostname",
	}, bus.methods)
}

func TestSetRunningHostnameError(t *testing.T) {
	bus := &recordingBus{err: dbus.Error{Name: "org.freedesktop.DBus.Error.AccessDenied"}}
	h := &Hostnamed{obj: bus, Static: true, log: logging.WithComponent("hostname")}

	err := h.SetRunningHostname(context.Background(), "edge-1")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindPluginFailure))
	assert.Equal(t, "edge-1", errors.GetAttributes(err)["hostname"])
	assert.Len(t, bus.methods, 1, "static name is not attempted after a failure")
}
