// Package testutil holds helpers shared by tests that touch the host.
package testutil

import (
	"os"
	"testing"

	"grimm.is/netstate/internal/brand"
)

// VMTestEnv is set in disposable VMs where tests may change the host's
// network configuration.
var VMTestEnv = brand.ConfigEnvPrefix + "_VM_TEST"

// RequireVM skips the test unless VMTestEnv is set.
func RequireVM(t *testing.T) {
	t.Helper()
	if os.Getenv(VMTestEnv) == "" {
		t.Skipf("Skipping test: requires %s environment", VMTestEnv)
	}
}

// RequireRoot skips the test when not running as root.
func RequireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("Skipping test: requires root")
	}
}
