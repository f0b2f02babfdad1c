//go:build linux
// +build linux

package network

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/safchain/ethtool"

	"grimm.is/netstate/internal/errors"
)

// LinkManager reads L1 details through ethtool. It implements
// LinkInfoReader.
type LinkManager struct {
	handle *ethtool.Ethtool
	sys    SystemController
}

// NewLinkManager opens an ethtool handle.
func NewLinkManager(sys SystemController) (*LinkManager, error) {
	h, err := ethtool.NewEthtool()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindPluginFailure, "open ethtool handle")
	}
	if sys == nil {
		sys = DefaultSystemController
	}
	return &LinkManager{handle: h, sys: sys}, nil
}

// Close closes the ethtool handle.
func (lm *LinkManager) Close() {
	lm.handle.Close()
}

// PermAddr returns the burned-in MAC address.
func (lm *LinkManager) PermAddr(name string) (string, error) {
	return lm.handle.PermAddr(name)
}

// GetLinkInfo returns link speed, duplex, and autoneg status. Virtual NICs
// and drivers without link settings fall back to sysfs.
func (lm *LinkManager) GetLinkInfo(name string) (*LinkInfo, error) {
	if isVirtualNIC(name) {
		return lm.linkInfoFromSysfs(name), nil
	}
	settings, err := lm.handle.GetLinkSettings(name)
	if err != nil {
		return lm.linkInfoFromSysfs(name), nil
	}

	duplex := "unknown"
	switch settings.Duplex {
	case ethtool.DUPLEX_FULL:
		duplex = "full"
	case ethtool.DUPLEX_HALF:
		duplex = "half"
	}
	return &LinkInfo{
		Speed:   settings.Speed,
		Duplex:  duplex,
		Autoneg: settings.Autoneg != 0,
	}, nil
}

func (lm *LinkManager) linkInfoFromSysfs(name string) *LinkInfo {
	info := &LinkInfo{Duplex: "unknown", Autoneg: true}
	if s, err := lm.sys.ReadSysctl(fmt.Sprintf("/sys/class/net/%s/speed", name)); err == nil {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil && v > 0 {
			info.Speed = uint32(v)
		}
	}
	if s, err := lm.sys.ReadSysctl(fmt.Sprintf("/sys/class/net/%s/duplex", name)); err == nil {
		if s == "full" || s == "half" {
			info.Duplex = s
		}
	}
	return info
}

var virtualDrivers = map[string]bool{
	"virtio_net": true, "veth": true, "tun": true, "tap": true,
	"bridge": true, "dummy": true, "xen_netfront": true, "vmxnet3": true,
}

// isVirtualNIC detects NICs whose drivers report no usable link settings.
func isVirtualNIC(name string) bool {
	target, err := filepath.EvalSymlinks(fmt.Sprintf("/sys/class/net/%s/device/driver", name))
	if err != nil {
		return true
	}
	return virtualDrivers[filepath.Base(target)]
}
