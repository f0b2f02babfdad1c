//go:build linux
// +build linux

package network

import (
	"fmt"
	"strconv"

	"github.com/k8snetworkplumbingwg/sriovnet"

	"grimm.is/netstate/internal/errors"
)

// SriovProbe checks physical functions for SR-IOV capability. It
// implements reconcile.SriovChecker.
type SriovProbe struct {
	sys SystemController
}

// NewSriovProbe returns a probe reading sysfs through sys.
func NewSriovProbe(sys SystemController) *SriovProbe {
	if sys == nil {
		sys = DefaultSystemController
	}
	return &SriovProbe{sys: sys}
}

// CheckSriov fails with InvalidArgument when name cannot provide totalVfs
// virtual functions.
func (p *SriovProbe) CheckSriov(name string, totalVfs uint32) error {
	if !sriovnet.IsSriovSupported(name) {
		return errors.Attr(errors.Errorf(errors.KindInvalidArgument,
			"interface %s does not support SR-IOV", name), "interface", name)
	}
	raw, err := p.sys.ReadSysctl(fmt.Sprintf("/sys/class/net/%s/device/sriov_totalvfs", name))
	if err != nil {
		return errors.Wrapf(err, errors.KindPluginFailure, "read sriov_totalvfs of %s", name)
	}
	max, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return errors.Wrapf(err, errors.KindPluginFailure, "parse sriov_totalvfs of %s", name)
	}
	if uint64(totalVfs) > max {
		err := errors.Errorf(errors.KindInvalidArgument,
			"interface %s supports at most %d VFs, %d requested", name, max, totalVfs)
		if pci, perr := sriovnet.GetPciFromNetDevice(name); perr == nil {
			err = errors.Attr(err, "pci", pci)
		}
		return errors.Attr(err, "interface", name)
	}
	return nil
}
