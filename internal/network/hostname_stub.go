//go:build !linux
// +build !linux

package network

import "context"

// UnixHostname is a stub implementation of netstate.HostnameSetter.
type UnixHostname struct{}

func (UnixHostname) SetRunningHostname(context.Context, string) error { return errNoNetlink }
