package model

import (
	"net"
	"strconv"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/validation"
)

const (
	MaxKernelNameLen = validation.MaxInterfaceNameLen
	MaxMTU           = 65535
	MaxVlanID        = 4094
	MaxVxlanID       = 1<<24 - 1
)

// Validate checks a desired up interface. current is the matching current
// interface or nil when the interface is new.
func Validate(iface Interface, current Interface) error {
	if err := validateBase(iface.Base()); err != nil {
		return err
	}
	name := iface.Base().Name
	isNew := current == nil
	switch v := iface.(type) {
	case *EthernetInterface:
		return validateEthernet(v, isNew)
	case *BondInterface:
		return validateBond(v, current)
	case *LinuxBridgeInterface:
		return validateLinuxBridge(v)
	case *VlanInterface:
		if isNew && (v.Vlan == nil || v.Vlan.BaseIface == "" || v.Vlan.ID == nil) {
			return errors.Errorf(errors.KindInvalidArgument,
				"vlan %s requires base-iface and id", name)
		}
		if v.Vlan != nil && v.Vlan.ID != nil && *v.Vlan.ID > MaxVlanID {
			return errors.Errorf(errors.KindInvalidArgument,
				"vlan %s id %d out of range 0-%d", name, *v.Vlan.ID, MaxVlanID)
		}
		if v.Vlan != nil && v.Vlan.Protocol != nil &&
			*v.Vlan.Protocol != "802.1q" && *v.Vlan.Protocol != "802.1ad" {
			return errors.Errorf(errors.KindInvalidArgument,
				"vlan %s protocol %q is not 802.1q or 802.1ad", name, *v.Vlan.Protocol)
		}
	case *VxlanInterface:
		if isNew && (v.Vxlan == nil || v.Vxlan.ID == nil) {
			return errors.Errorf(errors.KindInvalidArgument, "vxlan %s requires id", name)
		}
		if v.Vxlan != nil && v.Vxlan.ID != nil && *v.Vxlan.ID > MaxVxlanID {
			return errors.Errorf(errors.KindInvalidArgument,
				"vxlan %s id %d exceeds %d", name, *v.Vxlan.ID, MaxVxlanID)
		}
		if v.Vxlan != nil {
			for _, addr := range []*string{v.Vxlan.Local, v.Vxlan.Remote} {
				if addr != nil && net.ParseIP(*addr) == nil {
					return errors.Errorf(errors.KindInvalidArgument,
						"vxlan %s has invalid address %q", name, *addr)
				}
			}
		}
	case *OvsBridgeInterface:
		if v.Bridge != nil && v.Bridge.Options != nil && v.Bridge.Options.FailMode != nil {
			switch *v.Bridge.Options.FailMode {
			case "", "secure", "standalone":
			default:
				return errors.Errorf(errors.KindInvalidArgument,
					"ovs bridge %s fail-mode %q is not secure or standalone", name, *v.Bridge.Options.FailMode)
			}
		}
	case *OvsInterface:
		if v.Patch != nil && (v.Patch.Peer == "" || v.Patch.Peer == name) {
			return errors.Errorf(errors.KindInvalidArgument,
				"ovs patch interface %s requires a peer other than itself", name)
		}
	case *VrfInterface:
		if isNew && (v.Vrf == nil || v.Vrf.TableID == nil) {
			return errors.Errorf(errors.KindInvalidArgument, "vrf %s requires route-table-id", name)
		}
		if v.Vrf != nil && v.Vrf.TableID != nil && *v.Vrf.TableID == 0 {
			return errors.Errorf(errors.KindInvalidArgument, "vrf %s route-table-id cannot be 0", name)
		}
	case *MacVlanInterface:
		return validateMacVlan(name, "mac-vlan", v.MacVlan, isNew)
	case *MacVtapInterface:
		return validateMacVlan(name, "mac-vtap", v.MacVtap, isNew)
	case *InfiniBandInterface:
		return validateInfiniBand(v)
	case *DummyInterface, *UnknownInterface:
	default:
		return errors.Errorf(errors.KindBug, "unhandled interface kind %T", iface)
	}
	return nil
}

func validateBase(b *BaseInterface) error {
	if b.Name == "" {
		return errors.New(errors.KindInvalidArgument, "interface name is empty")
	}
	if !b.Type.IsUserspace() {
		if err := validation.ValidateInterfaceName(b.Name); err != nil {
			return err
		}
	}
	if b.MTU != nil && (*b.MTU == 0 || *b.MTU > MaxMTU) {
		return errors.Errorf(errors.KindInvalidArgument,
			"interface %s mtu %d out of range 1-%d", b.Name, *b.MTU, MaxMTU)
	}
	if b.MacAddress != nil {
		if _, err := net.ParseMAC(*b.MacAddress); err != nil {
			return errors.Wrapf(err, errors.KindInvalidArgument,
				"interface %s has invalid mac-address", b.Name)
		}
	}
	if err := validateIP(b.Name, b.IPv4, false); err != nil {
		return err
	}
	return validateIP(b.Name, b.IPv6, true)
}

func validateIP(name string, ip *InterfaceIP, v6 bool) error {
	if ip == nil {
		return nil
	}
	family := "ipv4"
	maxPrefix := uint8(32)
	if v6 {
		family = "ipv6"
		maxPrefix = 128
	}
	if !v6 && ip.Autoconf != nil {
		return errors.Errorf(errors.KindInvalidArgument,
			"interface %s: autoconf is only valid for ipv6", name)
	}
	if ip.Enabled != nil && !*ip.Enabled && (len(ip.Addresses) > 0 || ip.IsDynamic()) {
		return errors.Errorf(errors.KindInvalidArgument,
			"interface %s: %s is disabled but has addresses or dynamic config", name, family)
	}
	for _, addr := range ip.Addresses {
		parsed := net.ParseIP(addr.IP)
		if parsed == nil {
			return errors.Errorf(errors.KindInvalidArgument,
				"interface %s: invalid %s address %q", name, family, addr.IP)
		}
		if (parsed.To4() == nil) != v6 {
			return errors.Errorf(errors.KindInvalidArgument,
				"interface %s: address %s is not %s", name, addr.IP, family)
		}
		if addr.PrefixLength > maxPrefix {
			return errors.Errorf(errors.KindInvalidArgument,
				"interface %s: prefix length %d exceeds %d", name, addr.PrefixLength, maxPrefix)
		}
	}
	return nil
}

func validateEthernet(v *EthernetInterface, isNew bool) error {
	if isNew && v.Type == TypeVeth && v.Veth == nil {
		return errors.Errorf(errors.KindInvalidArgument, "veth %s requires a peer", v.Name)
	}
	if v.Veth != nil && (v.Veth.Peer == "" || v.Veth.Peer == v.Name) {
		return errors.Errorf(errors.KindInvalidArgument,
			"veth %s requires a peer other than itself", v.Name)
	}
	if v.Ethernet != nil && v.Ethernet.Duplex != nil {
		switch *v.Ethernet.Duplex {
		case "full", "half":
		default:
			return errors.Errorf(errors.KindInvalidArgument,
				"ethernet %s duplex %q is not full or half", v.Name, *v.Ethernet.Duplex)
		}
	}
	return nil
}

func validateBond(v *BondInterface, current Interface) error {
	cur, _ := current.(*BondInterface)
	mode := v.Mode()
	if mode == "" && cur != nil {
		mode = cur.Mode()
	}
	if mode == "" {
		return errors.Errorf(errors.KindInvalidArgument,
			"bond %s: mode is mandatory for a new bond", v.Name)
	}
	valid := false
	for _, m := range ValidBondModes {
		if m == mode {
			valid = true
		}
	}
	if !valid {
		return errors.Errorf(errors.KindInvalidArgument, "bond %s: unknown mode %q", v.Name, mode)
	}

	opt := func(get func(*BondOptions) *string) string {
		if v.Bond != nil && v.Bond.Options != nil {
			if s := get(v.Bond.Options); s != nil {
				return *s
			}
		}
		if cur != nil && cur.Bond != nil && cur.Bond.Options != nil {
			if s := get(cur.Bond.Options); s != nil {
				return *s
			}
		}
		return ""
	}
	failOverMac := opt(func(o *BondOptions) *string { return o.FailOverMac })
	if mode == BondModeActiveBackup && failOverMac == "active" && v.MacAddress != nil {
		return errors.Errorf(errors.KindInvalidArgument,
			"bond %s: mac-address cannot be set with fail_over_mac active in active-backup mode", v.Name)
	}
	if v.Bond != nil && v.Bond.Options != nil && v.Bond.Options.Primary != nil {
		switch mode {
		case BondModeActiveBackup, BondModeTLB, BondModeALB:
		default:
			return errors.Errorf(errors.KindInvalidArgument,
				"bond %s: primary is only valid in active-backup, balance-tlb and balance-alb modes", v.Name)
		}
	}
	return nil
}

func validateLinuxBridge(v *LinuxBridgeInterface) error {
	if v.Bridge == nil {
		return nil
	}
	if o := v.Bridge.Options; o != nil && o.Stp != nil {
		stp := o.Stp
		if stp.Priority != nil && *stp.Priority%4096 != 0 {
			return errors.Errorf(errors.KindInvalidArgument,
				"bridge %s: stp priority %d is not a multiple of 4096", v.Name, *stp.Priority)
		}
		if stp.ForwardDelay != nil && (*stp.ForwardDelay < 2 || *stp.ForwardDelay > 30) {
			return errors.Errorf(errors.KindInvalidArgument,
				"bridge %s: stp forward-delay %d out of range 2-30", v.Name, *stp.ForwardDelay)
		}
		if stp.HelloTime != nil && (*stp.HelloTime < 1 || *stp.HelloTime > 10) {
			return errors.Errorf(errors.KindInvalidArgument,
				"bridge %s: stp hello-time %d out of range 1-10", v.Name, *stp.HelloTime)
		}
		if stp.MaxAge != nil && (*stp.MaxAge < 6 || *stp.MaxAge > 40) {
			return errors.Errorf(errors.KindInvalidArgument,
				"bridge %s: stp max-age %d out of range 6-40", v.Name, *stp.MaxAge)
		}
	}
	if v.Bridge.Port != nil {
		for _, p := range *v.Bridge.Port {
			if p.Vlan == nil {
				continue
			}
			if p.Vlan.Tag != nil && (*p.Vlan.Tag == 0 || *p.Vlan.Tag > MaxVlanID) {
				return errors.Errorf(errors.KindInvalidArgument,
					"bridge %s: port %s vlan tag %d out of range 1-%d", v.Name, p.Name, *p.Vlan.Tag, MaxVlanID)
			}
			mode := p.Vlan.LinuxMode()
			if mode != BridgeVlanAccess && mode != BridgeVlanTrunk {
				return errors.Errorf(errors.KindInvalidArgument,
					"bridge %s: port %s vlan mode %q is not one of %s, %s", v.Name, p.Name, mode, BridgeVlanAccess, BridgeVlanTrunk)
			}
			if p.Vlan.Mode != nil && p.Vlan.Tag == nil {
				return errors.Errorf(errors.KindInvalidArgument,
					"bridge %s: port %s vlan %s mode needs a tag", v.Name, p.Name, mode)
			}
			if mode == BridgeVlanTrunk && *p.Vlan.Tag == 1 {
				return errors.Errorf(errors.KindInvalidArgument,
					"bridge %s: port %s vlan 1 is the native vlan of a trunk port", v.Name, p.Name)
			}
		}
	}
	return nil
}

func validateMacVlan(name, kind string, cfg *MacVlanConfig, isNew bool) error {
	if isNew && (cfg == nil || cfg.BaseIface == "") {
		return errors.Errorf(errors.KindInvalidArgument, "%s %s requires base-iface", kind, name)
	}
	if cfg != nil && cfg.Mode != nil {
		for _, m := range ValidMacVlanModes {
			if m == *cfg.Mode {
				return nil
			}
		}
		return errors.Errorf(errors.KindInvalidArgument, "%s %s: unknown mode %q", kind, name, *cfg.Mode)
	}
	return nil
}

func validateInfiniBand(v *InfiniBandInterface) error {
	cfg := v.InfiniBand
	if cfg == nil {
		return nil
	}
	if cfg.Mode != nil && *cfg.Mode != "datagram" && *cfg.Mode != "connected" {
		return errors.Errorf(errors.KindInvalidArgument,
			"infiniband %s: mode %q is not datagram or connected", v.Name, *cfg.Mode)
	}
	if cfg.BaseIface != nil && cfg.Pkey == nil {
		return errors.Errorf(errors.KindInvalidArgument,
			"infiniband %s: base-iface requires pkey", v.Name)
	}
	if cfg.Pkey != nil {
		if _, err := ParsePkey(*cfg.Pkey); err != nil {
			return errors.Wrapf(err, errors.KindInvalidArgument, "infiniband %s", v.Name)
		}
	}
	return nil
}

// ParsePkey accepts decimal or 0x-prefixed hex partition keys. 0 and
// 0x8000 are reserved.
func ParsePkey(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, errors.Errorf(errors.KindInvalidArgument, "invalid pkey %q", s)
	}
	if n == 0 || n == 0x8000 {
		return 0, errors.Errorf(errors.KindInvalidArgument, "pkey %q is reserved", s)
	}
	return uint16(n), nil
}
