package model

import (
	"reflect"
	"sort"
)

// Ports returns the port names of a controller and whether the port list
// was specified at all. Non-controllers return (nil, false).
func Ports(iface Interface) ([]string, bool) {
	switch v := iface.(type) {
	case *BondInterface:
		if v.Bond == nil || v.Bond.Port == nil {
			return nil, false
		}
		return append([]string(nil), *v.Bond.Port...), true
	case *LinuxBridgeInterface:
		if v.Bridge == nil || v.Bridge.Port == nil {
			return nil, false
		}
		names := make([]string, 0, len(*v.Bridge.Port))
		for _, p := range *v.Bridge.Port {
			names = append(names, p.Name)
		}
		return names, true
	case *OvsBridgeInterface:
		if v.Bridge == nil || v.Bridge.Port == nil {
			return nil, false
		}
		names := make([]string, 0, len(*v.Bridge.Port))
		for _, p := range *v.Bridge.Port {
			names = append(names, p.Name)
		}
		return names, true
	case *VrfInterface:
		if v.Vrf == nil || v.Vrf.Port == nil {
			return nil, false
		}
		return append([]string(nil), *v.Vrf.Port...), true
	case *EthernetInterface, *VlanInterface, *VxlanInterface, *OvsInterface,
		*MacVlanInterface, *MacVtapInterface, *DummyInterface,
		*InfiniBandInterface, *UnknownInterface:
		return nil, false
	}
	return nil, false
}

// AddPort appends name to a controller's port list, creating the list when
// it was unspecified. It is a no-op for non-controllers.
func AddPort(iface Interface, name string) {
	ports, _ := Ports(iface)
	for _, p := range ports {
		if p == name {
			return
		}
	}
	switch v := iface.(type) {
	case *BondInterface:
		if v.Bond == nil {
			v.Bond = &BondConfig{}
		}
		list := append(ports, name)
		v.Bond.Port = &list
	case *LinuxBridgeInterface:
		if v.Bridge == nil {
			v.Bridge = &LinuxBridgeConfig{}
		}
		var list []LinuxBridgePortConfig
		if v.Bridge.Port != nil {
			list = *v.Bridge.Port
		}
		list = append(list, LinuxBridgePortConfig{Name: name})
		v.Bridge.Port = &list
	case *OvsBridgeInterface:
		if v.Bridge == nil {
			v.Bridge = &OvsBridgeConfig{}
		}
		var list []OvsBridgePortConfig
		if v.Bridge.Port != nil {
			list = *v.Bridge.Port
		}
		list = append(list, OvsBridgePortConfig{Name: name})
		v.Bridge.Port = &list
	case *VrfInterface:
		if v.Vrf == nil {
			v.Vrf = &VrfConfig{}
		}
		list := append(ports, name)
		v.Vrf.Port = &list
	}
}

// PortConfigs returns the per-port configuration blocks of a bridge, keyed
// by port name. Controllers without per-port config return nil.
func PortConfigs(iface Interface) map[string]interface{} {
	switch v := iface.(type) {
	case *LinuxBridgeInterface:
		if v.Bridge == nil || v.Bridge.Port == nil {
			return nil
		}
		out := make(map[string]interface{}, len(*v.Bridge.Port))
		for _, p := range *v.Bridge.Port {
			name := p.Name
			p.Name = ""
			out[name] = p
		}
		return out
	case *OvsBridgeInterface:
		if v.Bridge == nil || v.Bridge.Port == nil {
			return nil
		}
		out := make(map[string]interface{}, len(*v.Bridge.Port))
		for _, p := range *v.Bridge.Port {
			out[p.Name] = p.Vlan
		}
		return out
	}
	return nil
}

// ChangedPortConfigs returns, sorted, the ports present in both desired and
// current whose per-port configuration differs. Unset desired port config
// is not a change.
func ChangedPortConfigs(desired, current Interface) []string {
	d := PortConfigs(desired)
	c := PortConfigs(current)
	var changed []string
	for name, dcfg := range d {
		ccfg, ok := c[name]
		if !ok {
			continue
		}
		if isEmptyPortConfig(dcfg) {
			continue
		}
		if !Covers(dcfg, ccfg) {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}

func isEmptyPortConfig(cfg interface{}) bool {
	if cfg == nil {
		return true
	}
	v := reflect.ValueOf(cfg)
	if v.Kind() == reflect.Ptr {
		return v.IsNil()
	}
	return v.IsZero()
}

// Parent returns the interface a kind depends on to exist: the base device
// of VLAN, VXLAN, MAC-VLAN/VTAP and InfiniBand sub-interfaces, or the bridge
// of an OVS interface.
func Parent(iface Interface) string {
	switch v := iface.(type) {
	case *VlanInterface:
		if v.Vlan != nil {
			return v.Vlan.BaseIface
		}
	case *VxlanInterface:
		if v.Vxlan != nil {
			return v.Vxlan.BaseIface
		}
	case *MacVlanInterface:
		if v.MacVlan != nil {
			return v.MacVlan.BaseIface
		}
	case *MacVtapInterface:
		if v.MacVtap != nil {
			return v.MacVtap.BaseIface
		}
	case *InfiniBandInterface:
		if v.InfiniBand != nil && v.InfiniBand.BaseIface != nil {
			return *v.InfiniBand.BaseIface
		}
	case *OvsInterface:
		return v.ControllerName()
	case *EthernetInterface, *BondInterface, *LinuxBridgeInterface,
		*OvsBridgeInterface, *VrfInterface, *DummyInterface, *UnknownInterface:
	}
	return ""
}

// IsVirtual reports whether the interface can be created and deleted.
// Physical NICs and unrecognised kinds only go up or down.
func IsVirtual(iface Interface) bool {
	switch v := iface.(type) {
	case *EthernetInterface:
		return v.Veth != nil || v.Type == TypeVeth
	case *InfiniBandInterface:
		return Parent(v) != ""
	case *UnknownInterface:
		return false
	case *BondInterface, *LinuxBridgeInterface, *VlanInterface, *VxlanInterface,
		*OvsBridgeInterface, *OvsInterface, *VrfInterface, *MacVlanInterface,
		*MacVtapInterface, *DummyInterface:
		return true
	}
	return false
}

// NeedsController reports kinds that cannot exist without a controller.
func NeedsController(iface Interface) bool {
	_, ok := iface.(*OvsInterface)
	return ok
}

// SrIovTotalVfs returns the requested VF count, if any.
func SrIovTotalVfs(iface Interface) (uint32, bool) {
	eth, ok := iface.(*EthernetInterface)
	if !ok || eth.Ethernet == nil || eth.Ethernet.SrIov == nil || eth.Ethernet.SrIov.TotalVfs == nil {
		return 0, false
	}
	return *eth.Ethernet.SrIov.TotalVfs, true
}
