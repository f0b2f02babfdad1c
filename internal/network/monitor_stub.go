//go:build !linux
// +build !linux

package network

import "context"

// Start always fails off linux.
func (m *Monitor) Start(context.Context, func([]string)) error { return errNoNetlink }
