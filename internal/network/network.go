package network

import (
	"net"

	"github.com/vishvananda/netlink"
)

// Netlinker is an interface that abstracts netlink interactions.
// This allows for mocking netlink calls during unit testing.
type Netlinker interface {
	LinkByName(name string) (netlink.Link, error)
	LinkByIndex(index int) (netlink.Link, error)
	LinkList() ([]netlink.Link, error)
	LinkSetUp(link netlink.Link) error
	LinkSetDown(link netlink.Link) error
	LinkSetMTU(link netlink.Link, mtu int) error
	LinkSetMaster(link, master netlink.Link) error
	LinkSetNoMaster(link netlink.Link) error
	LinkSetHardwareAddr(link netlink.Link, hwaddr net.HardwareAddr) error
	LinkSetAlias(link netlink.Link, alias string) error
	LinkSetPromiscOn(link netlink.Link) error
	LinkSetPromiscOff(link netlink.Link) error
	LinkAdd(link netlink.Link) error
	LinkDel(link netlink.Link) error

	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
	AddrAdd(link netlink.Link, addr *netlink.Addr) error
	AddrDel(link netlink.Link, addr *netlink.Addr) error

	RouteListFiltered(family int, filter *netlink.Route, filterMask uint64) ([]netlink.Route, error)
	RouteAdd(route *netlink.Route) error
	RouteDel(route *netlink.Route) error

	RuleList(family int) ([]netlink.Rule, error)
	RuleAdd(rule *netlink.Rule) error
	RuleDel(rule *netlink.Rule) error

	BridgeVlanList() (map[int32][]BridgeVlan, error)
	BridgeVlanAdd(link netlink.Link, vid uint16, pvid, untagged bool) error
	BridgeVlanDel(link netlink.Link, vid uint16) error
}

// BridgeVlan is one VLAN membership of a bridge port.
type BridgeVlan struct {
	Vid      uint16
	PVID     bool
	Untagged bool
}

// SystemController is an interface that abstracts sysfs and procfs access.
// Paths without a leading slash use sysctl dotted notation.
type SystemController interface {
	ReadSysctl(path string) (string, error)
	WriteSysctl(path, value string) error
	IsNotExist(err error) bool
}

// CommandExecutor is an interface that abstracts executing shell commands.
type CommandExecutor interface {
	RunCommand(name string, arg ...string) (string, error)
}

// LinkInfo contains link speed and settings.
type LinkInfo struct {
	Speed   uint32 // Mb/s
	Duplex  string // "full", "half", "unknown"
	Autoneg bool
}

// LinkInfoReader reads hardware details a netlink dump does not carry.
type LinkInfoReader interface {
	PermAddr(name string) (string, error)
	GetLinkInfo(name string) (*LinkInfo, error)
}
