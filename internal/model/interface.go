// Package model holds the network state entities netstate reconciles:
// interfaces, routes, route rules, DNS resolver config, hostname and the OVS
// global config, together with their YAML wire form.
package model

import (
	"strings"
)

// InterfaceType is the wire name of an interface kind.
type InterfaceType string

const (
	TypeEthernet     InterfaceType = "ethernet"
	TypeVeth         InterfaceType = "veth"
	TypeBond         InterfaceType = "bond"
	TypeLinuxBridge  InterfaceType = "linux-bridge"
	TypeVlan         InterfaceType = "vlan"
	TypeVxlan        InterfaceType = "vxlan"
	TypeOvsBridge    InterfaceType = "ovs-bridge"
	TypeOvsInterface InterfaceType = "ovs-interface"
	TypeVrf          InterfaceType = "vrf"
	TypeMacVlan      InterfaceType = "mac-vlan"
	TypeMacVtap      InterfaceType = "mac-vtap"
	TypeDummy        InterfaceType = "dummy"
	TypeInfiniBand   InterfaceType = "infiniband"
	TypeLoopback     InterfaceType = "loopback"
	TypeUnknown      InterfaceType = "unknown"
)

// IsUnknown reports whether the type was left unspecified.
func (t InterfaceType) IsUnknown() bool {
	return t == "" || t == TypeUnknown
}

// IsUserspace reports whether interfaces of this type live outside the
// kernel namespace and may share a name with a kernel device.
func (t InterfaceType) IsUserspace() bool {
	return t == TypeOvsBridge
}

// IsController reports whether the type can own ports.
func (t InterfaceType) IsController() bool {
	switch t {
	case TypeBond, TypeLinuxBridge, TypeOvsBridge, TypeVrf:
		return true
	}
	return false
}

// InterfaceState is the administrative state of an interface.
type InterfaceState string

const (
	StateUp      InterfaceState = "up"
	StateDown    InterfaceState = "down"
	StateAbsent  InterfaceState = "absent"
	StateIgnore  InterfaceState = "ignore"
	StateUnknown InterfaceState = "unknown"
)

// Interface is implemented by every interface kind. The concrete kinds are
// the *XxxInterface structs of this package; code dispatching on kind uses a
// type switch over all of them.
type Interface interface {
	Base() *BaseInterface
	isInterface()
}

// BaseInterface carries the fields shared by every interface kind.
type BaseInterface struct {
	Name                string         `yaml:"name"`
	Description         *string        `yaml:"description,omitempty"`
	Type                InterfaceType  `yaml:"type,omitempty"`
	State               InterfaceState `yaml:"state,omitempty"`
	MTU                 *uint64        `yaml:"mtu,omitempty"`
	MacAddress          *string        `yaml:"mac-address,omitempty"`
	PermanentMacAddress *string        `yaml:"permanent-mac-address,omitempty"`
	CopyMacFrom         *string        `yaml:"copy-mac-from,omitempty"`
	AcceptAllMac        *bool          `yaml:"accept-all-mac-addresses,omitempty"`
	Controller          *string        `yaml:"controller,omitempty"`
	IPv4                *InterfaceIP   `yaml:"ipv4,omitempty"`
	IPv6                *InterfaceIP   `yaml:"ipv6,omitempty"`

	ControllerType InterfaceType `yaml:"-"`
	UpPriority     uint32        `yaml:"-"`
}

func (b *BaseInterface) Base() *BaseInterface { return b }
func (b *BaseInterface) isInterface()         {}

// IsUp treats an unset state as up.
func (b *BaseInterface) IsUp() bool {
	return b.State == StateUp || b.State == ""
}

func (b *BaseInterface) IsDown() bool   { return b.State == StateDown }
func (b *BaseInterface) IsAbsent() bool { return b.State == StateAbsent }
func (b *BaseInterface) IsIgnore() bool { return b.State == StateIgnore }

// ControllerName returns the controller name, empty when detached or unset.
func (b *BaseInterface) ControllerName() string {
	if b.Controller == nil {
		return ""
	}
	return *b.Controller
}

// HasController reports whether a non-empty controller is set.
func (b *BaseInterface) HasController() bool {
	return b.ControllerName() != ""
}

// SetController sets the controller; an empty name means detach.
func (b *BaseInterface) SetController(name string, typ InterfaceType) {
	b.Controller = &name
	if name == "" {
		b.ControllerType = ""
		return
	}
	b.ControllerType = typ
}

// InterfaceIP is the ipv4 or ipv6 block of an interface.
type InterfaceIP struct {
	Enabled     *bool             `yaml:"enabled,omitempty"`
	DHCP        *bool             `yaml:"dhcp,omitempty"`
	Autoconf    *bool             `yaml:"autoconf,omitempty"`
	Addresses   []InterfaceIPAddr `yaml:"address,omitempty"`
	AutoDNS     *bool             `yaml:"auto-dns,omitempty"`
	AutoGateway *bool             `yaml:"auto-gateway,omitempty"`
	AutoRoutes  *bool             `yaml:"auto-routes,omitempty"`
	AutoTableID *uint32           `yaml:"auto-route-table-id,omitempty"`

	// Payloads projected by reconciliation for the backend. A nil pointer
	// leaves the backend's current setting untouched.
	DNS    *DnsClientState `yaml:"-"`
	Routes *[]Route        `yaml:"-"`
	Rules  *[]RouteRule    `yaml:"-"`
}

// InterfaceIPAddr is one static address.
type InterfaceIPAddr struct {
	IP            string `yaml:"ip"`
	PrefixLength  uint8  `yaml:"prefix-length"`
	ValidLeft     string `yaml:"valid-left,omitempty"`
	PreferredLeft string `yaml:"preferred-left,omitempty"`
}

// IsDynamic reports whether the address was handed out with a lease.
func (a InterfaceIPAddr) IsDynamic() bool {
	return a.ValidLeft != "" && a.ValidLeft != "forever"
}

// IsDynamic reports whether DHCP or autoconf is on.
func (ip *InterfaceIP) IsDynamic() bool {
	if ip == nil {
		return false
	}
	return boolValue(ip.DHCP) || boolValue(ip.Autoconf)
}

// IsEnabled returns the explicit enabled flag, or infers it from addresses
// and dynamic settings when unset.
func (ip *InterfaceIP) IsEnabled() bool {
	if ip == nil {
		return false
	}
	if ip.Enabled != nil {
		return *ip.Enabled
	}
	return len(ip.Addresses) > 0 || ip.IsDynamic()
}

// AcquiresDNS reports whether a dynamic method also pulls in nameservers.
func (ip *InterfaceIP) AcquiresDNS() bool {
	if !ip.IsDynamic() {
		return false
	}
	return ip.AutoDNS == nil || *ip.AutoDNS
}

// CanHoldDNS implements the DNS holder eligibility rule: IP enabled and
// either static or dynamic with DNS acquisition disabled.
func (ip *InterfaceIP) CanHoldDNS() bool {
	return ip.IsEnabled() && !ip.AcquiresDNS()
}

// NewInterface returns an empty interface of the kind matching typ.
func NewInterface(name string, typ InterfaceType) Interface {
	base := BaseInterface{Name: name, Type: typ}
	switch typ {
	case TypeEthernet, TypeVeth:
		return &EthernetInterface{BaseInterface: base}
	case TypeBond:
		return &BondInterface{BaseInterface: base}
	case TypeLinuxBridge:
		return &LinuxBridgeInterface{BaseInterface: base}
	case TypeVlan:
		return &VlanInterface{BaseInterface: base}
	case TypeVxlan:
		return &VxlanInterface{BaseInterface: base}
	case TypeOvsBridge:
		return &OvsBridgeInterface{BaseInterface: base}
	case TypeOvsInterface:
		return &OvsInterface{BaseInterface: base}
	case TypeVrf:
		return &VrfInterface{BaseInterface: base}
	case TypeMacVlan:
		return &MacVlanInterface{BaseInterface: base}
	case TypeMacVtap:
		return &MacVtapInterface{BaseInterface: base}
	case TypeDummy:
		return &DummyInterface{BaseInterface: base}
	case TypeInfiniBand:
		return &InfiniBandInterface{BaseInterface: base}
	default:
		return &UnknownInterface{BaseInterface: base}
	}
}

// NameTypeOnly returns a fresh interface of the same kind holding only the
// name and type.
func NameTypeOnly(iface Interface) Interface {
	return NewInterface(iface.Base().Name, iface.Base().Type)
}

// NormalizeMAC upper-cases a MAC address.
func NormalizeMAC(mac string) string {
	return strings.ToUpper(mac)
}

func boolValue(b *bool) bool {
	return b != nil && *b
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
