// Package ovs is the Open vSwitch backend. It reads and writes bridges,
// ports, interfaces and the Open_vSwitch table through ovs-vsctl.
package ovs

import (
	"encoding/csv"
	"fmt"
	"os/exec"
	"strings"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/logging"
	"grimm.is/netstate/internal/network"
)

const (
	// DefaultVsctl is the ovs-vsctl binary looked up in PATH.
	DefaultVsctl = "ovs-vsctl"
	// DefaultTimeout bounds each ovs-vsctl invocation, in seconds.
	DefaultTimeout = 30
)

// Vsctl drives ovs-vsctl through a CommandExecutor, so a dry run can swap
// in network.DryRunExecutor.
type Vsctl struct {
	cmd      network.CommandExecutor
	bin      string
	timeout  int
	lookPath func(string) (string, error)
	log      *logging.Logger
}

// New returns a backend running bin (DefaultVsctl when empty) through cmd.
func New(cmd network.CommandExecutor, bin string) *Vsctl {
	if cmd == nil {
		cmd = network.DefaultCommandExecutor
	}
	if bin == "" {
		bin = DefaultVsctl
	}
	return &Vsctl{
		cmd:      cmd,
		bin:      bin,
		timeout:  DefaultTimeout,
		lookPath: exec.LookPath,
		log:      logging.WithComponent("ovs"),
	}
}

// Available reports whether the ovs-vsctl binary can be found.
func (v *Vsctl) Available() bool {
	_, err := v.lookPath(v.bin)
	return err == nil
}

func (v *Vsctl) exec(args ...string) (string, error) {
	args = append([]string{fmt.Sprintf("--timeout=%d", v.timeout)}, args...)
	out, err := v.cmd.RunCommand(v.bin, args...)
	if err != nil {
		return "", errors.Attr(errors.Wrapf(err, errors.KindPluginFailure,
			"failed to run '%s %s'", v.bin, strings.Join(args, " ")), "command", v.bin)
	}
	return strings.TrimSuffix(out, "\n"), nil
}

// list returns the given columns of every record of table.
func (v *Vsctl) list(table string, columns ...string) ([][]string, error) {
	out, err := v.exec("--no-heading", "--format=csv", "--data=bare",
		"--columns="+strings.Join(columns, ","), "list", table)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out) == "" {
		return nil, nil
	}
	r := csv.NewReader(strings.NewReader(out))
	r.FieldsPerRecord = len(columns)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindPluginFailure, "parse ovs-vsctl list %s", table)
	}
	return rows, nil
}

// transact runs commands as a single ovs-vsctl transaction.
func (v *Vsctl) transact(cmds [][]string) error {
	if len(cmds) == 0 {
		return nil
	}
	var args []string
	for _, c := range cmds {
		args = append(args, "--")
		args = append(args, c...)
	}
	_, err := v.exec(args...)
	return err
}

// parseMap decodes a bare map column ("a=1 b=2").
func parseMap(s string) map[string]string {
	out := make(map[string]string)
	for _, f := range strings.Fields(s) {
		k, val, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		out[k] = strings.Trim(val, `"`)
	}
	return out
}

// parseSet decodes a bare set column ("uuid1 uuid2").
func parseSet(s string) []string {
	return strings.Fields(s)
}
