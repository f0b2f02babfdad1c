package checkpoint

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/logging"
)

const (
	nmService   = "org.freedesktop.NetworkManager"
	nmPath      = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmInterface = "org.freedesktop.NetworkManager"
)

// NM checkpoint flags.
const (
	nmCheckpointDestroyAll           uint32 = 0x01
	nmCheckpointDeleteNewConnections uint32 = 0x02
	nmCheckpointDisconnectNewDevices uint32 = 0x04
)

// busObject is the part of dbus.BusObject used here.
type busObject interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
	GetProperty(p string) (dbus.Variant, error)
}

// NM drives NetworkManager checkpoints. NetworkManager enforces the
// deadline itself, so no timer runs in this process.
type NM struct {
	obj  busObject
	conn *dbus.Conn
	log  *logging.Logger
}

// NewNM connects to the system bus.
func NewNM() (*NM, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindPluginFailure, "connect to system bus")
	}
	return &NM{
		obj:  conn.Object(nmService, nmPath),
		conn: conn,
		log:  logging.WithComponent("checkpoint"),
	}, nil
}

// Close releases the bus connection.
func (n *NM) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}

// Create checkpoints all devices. New connections and devices created
// after the checkpoint are removed on rollback.
func (n *NM) Create(ctx context.Context, timeout time.Duration) (string, error) {
	var path dbus.ObjectPath
	flags := nmCheckpointDestroyAll | nmCheckpointDeleteNewConnections | nmCheckpointDisconnectNewDevices
	err := n.obj.CallWithContext(ctx, nmInterface+".CheckpointCreate", 0,
		[]dbus.ObjectPath{}, seconds(timeout), flags).Store(&path)
	if err != nil {
		return "", nmError(err, "CheckpointCreate")
	}
	n.log.Debug("networkmanager checkpoint created", "path", path)
	return string(path), nil
}

// ExtendTimeout restarts the rollback countdown at timeout.
func (n *NM) ExtendTimeout(ctx context.Context, id string, timeout time.Duration) error {
	path, err := n.resolve(id)
	if err != nil {
		return err
	}
	call := n.obj.CallWithContext(ctx, nmInterface+".CheckpointAdjustRollbackTimeout", 0, path, seconds(timeout))
	if call.Err != nil {
		return nmError(call.Err, "CheckpointAdjustRollbackTimeout")
	}
	return nil
}

// Rollback restores the devices captured by the checkpoint. A device that
// failed to roll back is reported in the error.
func (n *NM) Rollback(ctx context.Context, id string) error {
	path, err := n.resolve(id)
	if err != nil {
		return err
	}
	var results map[string]uint32
	if err := n.obj.CallWithContext(ctx, nmInterface+".CheckpointRollback", 0, path).Store(&results); err != nil {
		return nmError(err, "CheckpointRollback")
	}
	var failed []string
	for dev, res := range results {
		// 0 is NM_ROLLBACK_RESULT_OK.
		if res != 0 {
			failed = append(failed, dev)
		}
	}
	if len(failed) > 0 {
		return errors.Attr(errors.Errorf(errors.KindPluginFailure,
			"checkpoint rollback failed for %d device(s)", len(failed)), "devices", failed)
	}
	return nil
}

// Destroy removes the checkpoint, keeping the applied state.
func (n *NM) Destroy(ctx context.Context, id string) error {
	path, err := n.resolve(id)
	if err != nil {
		return err
	}
	call := n.obj.CallWithContext(ctx, nmInterface+".CheckpointDestroy", 0, path)
	if call.Err != nil {
		return nmError(call.Err, "CheckpointDestroy")
	}
	return nil
}

func (n *NM) resolve(id string) (dbus.ObjectPath, error) {
	if id != "" {
		path := dbus.ObjectPath(id)
		if !path.IsValid() {
			return "", errors.Errorf(errors.KindInvalidArgument, "invalid checkpoint path %q", id)
		}
		return path, nil
	}
	v, err := n.obj.GetProperty(nmInterface + ".Checkpoints")
	if err != nil {
		return "", nmError(err, "Checkpoints")
	}
	paths, ok := v.Value().([]dbus.ObjectPath)
	if !ok {
		return "", errors.Errorf(errors.KindPluginFailure, "unexpected Checkpoints property type %s", v.Signature())
	}
	switch len(paths) {
	case 0:
		return "", errors.New(errors.KindNotFound, "no live checkpoint")
	case 1:
		return paths[0], nil
	default:
		return "", errors.Errorf(errors.KindConflict, "%d live checkpoints, name one", len(paths))
	}
}

func seconds(d time.Duration) uint32 {
	s := d / time.Second
	if d%time.Second != 0 {
		s++
	}
	return uint32(s)
}

func nmError(err error, method string) error {
	kind := errors.KindPluginFailure
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) && dbusErr.Name == "org.freedesktop.NetworkManager.InvalidArguments" {
		kind = errors.KindInvalidArgument
	}
	return errors.Attr(errors.Wrapf(err, kind, "networkmanager %s", method), "method", method)
}
