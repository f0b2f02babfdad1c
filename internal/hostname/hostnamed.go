// Package hostname sets the running hostname through systemd-hostnamed.
package hostname

import (
	"context"

	"github.com/godbus/dbus/v5"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/logging"
)

const (
	hostnamedService   = "org.freedesktop.hostname1"
	hostnamedPath      = dbus.ObjectPath("/org/freedesktop/hostname1")
	hostnamedInterface = "org.freedesktop.hostname1"
)

type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Hostnamed changes the transient hostname. It implements
// netstate.HostnameSetter.
type Hostnamed struct {
	obj  caller
	conn *dbus.Conn
	// Static also writes the static hostname (/etc/hostname).
	Static bool
	log    *logging.Logger
}

// NewHostnamed connects to the system bus.
func NewHostnamed() (*Hostnamed, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindPluginFailure, "connect to system bus")
	}
	return &Hostnamed{
		obj:  conn.Object(hostnamedService, hostnamedPath),
		conn: conn,
		log:  logging.WithComponent("hostname"),
	}, nil
}

// Close releases the bus connection.
func (h *Hostnamed) Close() error {
	if h.conn == nil {
		return nil
	}
	return h.conn.Close()
}

// SetRunningHostname implements netstate.HostnameSetter.
func (h *Hostnamed) SetRunningHostname(ctx context.Context, name string) error {
	if err := h.call(ctx, "SetHostname", name); err != nil {
		return err
	}
	if h.Static {
		if err := h.call(ctx, "SetStaticHostname", name); err != nil {
			return err
		}
	}
	h.log.Info("hostname set", "name", name, "static", h.Static)
	return nil
}

func (h *Hostnamed) call(ctx context.Context, method, name string) error {
	// The trailing false disables interactive polkit authorization.
	call := h.obj.CallWithContext(ctx, hostnamedInterface+"."+method, 0, name, false)
	if call.Err != nil {
		return errors.Attr(errors.Wrapf(call.Err, errors.KindPluginFailure, "hostnamed %s", method), "hostname", name)
	}
	return nil
}
