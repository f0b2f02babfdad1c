package network

import (
	"fmt"
	"os/exec"
	"regexp"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/logging"
)

// DHCPLauncher starts and stops the IPv4 lease client of an interface.
type DHCPLauncher interface {
	Start(iface string) error
	Stop(iface string) error
}

// SystemDHCP wraps udhcpc (standard in Alpine) or dhclient (Debian/others).
// Both are told to background themselves so RunCommand returns.
type SystemDHCP struct {
	cmd      CommandExecutor
	lookPath func(string) (string, error)
	log      *logging.Logger
}

// NewSystemDHCP returns a launcher running clients through cmd.
func NewSystemDHCP(cmd CommandExecutor) *SystemDHCP {
	if cmd == nil {
		cmd = DefaultCommandExecutor
	}
	return &SystemDHCP{cmd: cmd, lookPath: exec.LookPath, log: logging.WithComponent("dhcp")}
}

// Start replaces any client already running for iface.
func (d *SystemDHCP) Start(iface string) error {
	_ = d.Stop(iface)
	var err error
	switch {
	case d.has("udhcpc"):
		_, err = d.cmd.RunCommand("udhcpc", "-i", iface, "-b")
	case d.has("dhclient"):
		_, err = d.cmd.RunCommand("dhclient", "-4", "-nw", iface)
	default:
		return errors.Attr(errors.New(errors.KindNotSupported,
			"no DHCP client found (tried udhcpc, dhclient)"), "interface", iface)
	}
	if err != nil {
		return pluginErr(err, iface, "start DHCP client on %s", iface)
	}
	d.log.Info("started IPv4 DHCP client", "interface", iface)
	return nil
}

// Stop kills the clients bound to iface. A missing process is not an
// error.
func (d *SystemDHCP) Stop(iface string) error {
	safe := regexp.QuoteMeta(iface)
	_, _ = d.cmd.RunCommand("pkill", "-f", fmt.Sprintf("udhcpc .* -i %s", safe))
	_, _ = d.cmd.RunCommand("pkill", "-f", fmt.Sprintf("dhclient .* %s", safe))
	return nil
}

func (d *SystemDHCP) has(name string) bool {
	_, err := d.lookPath(name)
	return err == nil
}
