package network

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/vishvananda/netlink"

	"grimm.is/netstate/internal/validation"
)

// DryRunExecutor implements CommandExecutor but only logs commands.
type DryRunExecutor struct {
	mu       sync.Mutex
	Commands []string
}

// NewDryRunExecutor creates a new dry run executor.
func NewDryRunExecutor() *DryRunExecutor {
	return &DryRunExecutor{
		Commands: make([]string, 0),
	}
}

// RunCommand logs the command instead of executing it.
func (e *DryRunExecutor) RunCommand(name string, arg ...string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cmd := fmt.Sprintf("%s %s", name, strings.Join(arg, " "))
	e.Commands = append(e.Commands, cmd)
	return "", nil
}

// DryRunSystemController logs sysfs and sysctl writes. Reads go to Reader
// when set.
type DryRunSystemController struct {
	Reader SystemController

	mu     sync.Mutex
	Writes []string
}

func (s *DryRunSystemController) ReadSysctl(path string) (string, error) {
	if s.Reader != nil {
		return s.Reader.ReadSysctl(path)
	}
	return "0", nil
}

func (s *DryRunSystemController) WriteSysctl(path, value string) error {
	path = sysctlPath(path)
	if err := validation.ValidatePath(path, validation.SysctlDirs); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Writes = append(s.Writes, fmt.Sprintf("echo %s > %s", value, path))
	return nil
}

func (s *DryRunSystemController) IsNotExist(err error) bool {
	if s.Reader != nil {
		return s.Reader.IsNotExist(err)
	}
	return false
}

// DryRunNetlinker records link, address, route and rule changes as ip(8)
// commands. Lookups are answered by Reader when set, so a dry run plans
// against the live kernel; links added during the run resolve to
// placeholders.
type DryRunNetlinker struct {
	Reader Netlinker

	mu    sync.Mutex
	Ops   []string
	added map[string]netlink.Link
}

// NewDryRunNetlinker returns a recorder that reads through r, which may
// be nil.
func NewDryRunNetlinker(r Netlinker) *DryRunNetlinker {
	return &DryRunNetlinker{Reader: r, added: make(map[string]netlink.Link)}
}

func (n *DryRunNetlinker) log(format string, args ...any) {
	n.record("ip " + fmt.Sprintf(format, args...))
}

func (n *DryRunNetlinker) record(op string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Ops = append(n.Ops, op)
}

func (n *DryRunNetlinker) LinkByName(name string) (netlink.Link, error) {
	n.mu.Lock()
	link, ok := n.added[name]
	n.mu.Unlock()
	if ok {
		return link, nil
	}
	if n.Reader != nil {
		return n.Reader.LinkByName(name)
	}
	return &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: name}}, nil
}

func (n *DryRunNetlinker) LinkByIndex(index int) (netlink.Link, error) {
	if n.Reader != nil {
		return n.Reader.LinkByIndex(index)
	}
	return nil, netlink.LinkNotFoundError{}
}

func (n *DryRunNetlinker) LinkList() ([]netlink.Link, error) {
	if n.Reader != nil {
		return n.Reader.LinkList()
	}
	return nil, nil
}

func (n *DryRunNetlinker) LinkSetUp(link netlink.Link) error {
	n.log("link set %s up", link.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) LinkSetDown(link netlink.Link) error {
	n.log("link set %s down", link.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) LinkSetMTU(link netlink.Link, mtu int) error {
	n.log("link set %s mtu %d", link.Attrs().Name, mtu)
	return nil
}

func (n *DryRunNetlinker) LinkSetMaster(link, master netlink.Link) error {
	n.log("link set %s master %s", link.Attrs().Name, master.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) LinkSetNoMaster(link netlink.Link) error {
	n.log("link set %s nomaster", link.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) LinkSetHardwareAddr(link netlink.Link, hwaddr net.HardwareAddr) error {
	n.log("link set %s address %s", link.Attrs().Name, hwaddr)
	return nil
}

func (n *DryRunNetlinker) LinkSetAlias(link netlink.Link, alias string) error {
	n.log("link set %s alias %q", link.Attrs().Name, alias)
	return nil
}

func (n *DryRunNetlinker) LinkSetPromiscOn(link netlink.Link) error {
	n.log("link set %s promisc on", link.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) LinkSetPromiscOff(link netlink.Link) error {
	n.log("link set %s promisc off", link.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) LinkAdd(link netlink.Link) error {
	name := link.Attrs().Name
	n.log("link add %s type %s", name, link.Type())
	n.mu.Lock()
	n.added[name] = &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: name}}
	if veth, ok := link.(*netlink.Veth); ok && veth.PeerName != "" {
		n.added[veth.PeerName] = &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: veth.PeerName}}
	}
	n.mu.Unlock()
	return nil
}

func (n *DryRunNetlinker) LinkDel(link netlink.Link) error {
	n.log("link del %s", link.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	if n.Reader != nil && !n.isAdded(link) {
		return n.Reader.AddrList(link, family)
	}
	return nil, nil
}

func (n *DryRunNetlinker) isAdded(link netlink.Link) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.added[link.Attrs().Name]
	return ok
}

func (n *DryRunNetlinker) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	n.log("addr add %s dev %s", addr.IPNet, link.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) AddrDel(link netlink.Link, addr *netlink.Addr) error {
	n.log("addr del %s dev %s", addr.IPNet, link.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) RouteListFiltered(family int, filter *netlink.Route, mask uint64) ([]netlink.Route, error) {
	if n.Reader != nil {
		return n.Reader.RouteListFiltered(family, filter, mask)
	}
	return nil, nil
}

func (n *DryRunNetlinker) RouteAdd(route *netlink.Route) error {
	n.log("route add %s", route)
	return nil
}

func (n *DryRunNetlinker) RouteDel(route *netlink.Route) error {
	n.log("route del %s", route)
	return nil
}

func (n *DryRunNetlinker) RuleList(family int) ([]netlink.Rule, error) {
	if n.Reader != nil {
		return n.Reader.RuleList(family)
	}
	return nil, nil
}

func (n *DryRunNetlinker) RuleAdd(rule *netlink.Rule) error {
	n.log("rule add %s", rule)
	return nil
}

func (n *DryRunNetlinker) RuleDel(rule *netlink.Rule) error {
	n.log("rule del %s", rule)
	return nil
}

func (n *DryRunNetlinker) BridgeVlanList() (map[int32][]BridgeVlan, error) {
	if n.Reader != nil {
		return n.Reader.BridgeVlanList()
	}
	return nil, nil
}

func (n *DryRunNetlinker) BridgeVlanAdd(link netlink.Link, vid uint16, pvid, untagged bool) error {
	op := fmt.Sprintf("bridge vlan add dev %s vid %d", link.Attrs().Name, vid)
	if pvid {
		op += " pvid"
	}
	if untagged {
		op += " untagged"
	}
	n.record(op + " master")
	return nil
}

func (n *DryRunNetlinker) BridgeVlanDel(link netlink.Link, vid uint16) error {
	n.record(fmt.Sprintf("bridge vlan del dev %s vid %d master", link.Attrs().Name, vid))
	return nil
}
