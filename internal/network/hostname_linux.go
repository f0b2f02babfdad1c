//go:build linux
// +build linux

package network

import (
	"context"

	"golang.org/x/sys/unix"

	"grimm.is/netstate/internal/errors"
)

// UnixHostname sets the kernel hostname with sethostname(2). It implements
// netstate.HostnameSetter.
type UnixHostname struct{}

func (UnixHostname) SetRunningHostname(_ context.Context, name string) error {
	if err := unix.Sethostname([]byte(name)); err != nil {
		return errors.Attr(errors.Wrap(err, errors.KindPluginFailure, "sethostname"), "hostname", name)
	}
	return nil
}
