package network

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/netstate/internal/model"
	"grimm.is/netstate/internal/netstate"
)

const (
	linkTypeOvs = "openvswitch"
	ovsDatapath = "ovs-system"
)

// Retrieve implements netstate.StateSource.
func (k *Kernel) Retrieve(ctx context.Context, opts netstate.RetrieveOptions) (*model.NetworkState, error) {
	links, err := k.nl.LinkList()
	if err != nil {
		return nil, pluginErr(err, "", "list links")
	}
	byIndex := make(map[int]netlink.Link, len(links))
	for _, l := range links {
		byIndex[l.Attrs().Index] = l
	}

	ns := model.NewNetworkState()
	for _, l := range links {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iface, err := k.linkToInterface(l, byIndex, opts)
		if err != nil {
			return nil, err
		}
		if iface != nil {
			ns.Interfaces.Push(iface)
		}
	}
	for _, l := range links {
		attrs := l.Attrs()
		master, ok := byIndex[attrs.MasterIndex]
		if attrs.MasterIndex == 0 || !ok {
			continue
		}
		if ctrl := ns.Interfaces.GetKernel(master.Attrs().Name); ctrl != nil {
			model.AddPort(ctrl, attrs.Name)
		}
	}
	indexes := make(map[string]int, len(links))
	for _, l := range links {
		indexes[l.Attrs().Name] = l.Attrs().Index
	}
	var vlans map[int32][]BridgeVlan
	for _, iface := range ns.Interfaces.List() {
		br, ok := iface.(*model.LinuxBridgeInterface)
		if !ok {
			continue
		}
		k.readBridgePorts(br)
		if n, ok := k.readSysUint(fmt.Sprintf("/sys/class/net/%s/bridge/vlan_filtering", br.Name)); !ok || n == 0 {
			continue
		}
		if vlans == nil {
			if vlans, err = k.nl.BridgeVlanList(); err != nil {
				return nil, pluginErr(err, br.Name, "list vlans of bridge %s", br.Name)
			}
		}
		readPortVlans(br, indexes, vlans)
	}

	if ns.Routes, err = k.readRoutes(byIndex, opts); err != nil {
		return nil, err
	}
	if ns.Rules, err = k.readRules(); err != nil {
		return nil, err
	}
	dns, err := readResolvConf(k.fs, k.resolvConf)
	if err != nil {
		return nil, err
	}
	ns.DNS = &model.DnsState{Running: dns}
	if staticDNS(ns.Interfaces, dns) {
		ns.DNS.Config = dns.Clone()
	}

	running, err := k.hostname()
	if err != nil {
		return nil, pluginErr(err, "", "read hostname")
	}
	ns.Hostname = &model.HostnameState{Running: &running}
	if static, err := readStaticHostname(k.fs, k.hostnameFile); err != nil {
		return nil, err
	} else if static != "" {
		ns.Hostname.Config = &static
	}

	k.log.Debug("kernel state retrieved", "interfaces", ns.Interfaces.Len(),
		"routes", len(ns.Routes.Running), "rules", len(ns.Rules.Config))
	return ns, nil
}

// staticDNS reports whether every nameserver family in dns has an
// interface able to hold it. Without one the servers came from a lease and
// are running state only.
func staticDNS(ifaces *model.Interfaces, dns *model.DnsClientState) bool {
	for _, srv := range dns.Servers() {
		host, _, _ := strings.Cut(srv, "%")
		ip := net.ParseIP(host)
		if ip == nil {
			continue
		}
		v6 := ip.To4() == nil
		held := false
		for _, iface := range ifaces.List() {
			fam := iface.Base().IPv4
			if v6 {
				fam = iface.Base().IPv6
			}
			if fam.CanHoldDNS() {
				held = true
				break
			}
		}
		if !held {
			return false
		}
	}
	return true
}

func linkName(byIndex map[int]netlink.Link, index int) string {
	if l, ok := byIndex[index]; ok && index != 0 {
		return l.Attrs().Name
	}
	return ""
}

// kindOf maps a netlink link to the model type it is reported as.
func kindOf(l netlink.Link) model.InterfaceType {
	switch link := l.(type) {
	case *netlink.Bond:
		return model.TypeBond
	case *netlink.Bridge:
		return model.TypeLinuxBridge
	case *netlink.Vlan:
		return model.TypeVlan
	case *netlink.Vxlan:
		return model.TypeVxlan
	case *netlink.Vrf:
		return model.TypeVrf
	case *netlink.Macvtap:
		return model.TypeMacVtap
	case *netlink.Macvlan:
		return model.TypeMacVlan
	case *netlink.Veth:
		return model.TypeVeth
	case *netlink.Dummy:
		return model.TypeDummy
	case *netlink.IPoIB:
		return model.TypeInfiniBand
	case *netlink.Device:
		if link.EncapType == "ether" || link.EncapType == "" {
			return model.TypeEthernet
		}
	}
	if l.Type() == linkTypeOvs {
		return model.TypeOvsInterface
	}
	return model.TypeUnknown
}

func (k *Kernel) linkToInterface(l netlink.Link, byIndex map[int]netlink.Link, opts netstate.RetrieveOptions) (model.Interface, error) {
	attrs := l.Attrs()
	if attrs.Name == ovsDatapath || attrs.EncapType == "loopback" {
		return nil, nil
	}
	iface := model.NewInterface(attrs.Name, kindOf(l))

	switch v := iface.(type) {
	case *model.BondInterface:
		mode := model.BondMode(l.(*netlink.Bond).Mode.String())
		v.Bond = &model.BondConfig{Mode: &mode, Options: k.readBondOptions(attrs.Name), Port: &[]string{}}
	case *model.LinuxBridgeInterface:
		v.Bridge = &model.LinuxBridgeConfig{Options: k.readBridgeOptions(attrs.Name), Port: &[]model.LinuxBridgePortConfig{}}
	case *model.VlanInterface:
		link := l.(*netlink.Vlan)
		proto := "802.1q"
		if link.VlanProtocol == netlink.VLAN_PROTOCOL_8021AD {
			proto = "802.1ad"
		}
		v.Vlan = &model.VlanConfig{
			BaseIface: linkName(byIndex, attrs.ParentIndex),
			ID:        model.Ptr(uint16(link.VlanId)),
			Protocol:  &proto,
		}
	case *model.VxlanInterface:
		link := l.(*netlink.Vxlan)
		cfg := &model.VxlanConfig{
			BaseIface: linkName(byIndex, link.VtepDevIndex),
			ID:        model.Ptr(uint32(link.VxlanId)),
			Learning:  model.Ptr(link.Learning),
		}
		if link.SrcAddr != nil {
			cfg.Local = model.Ptr(link.SrcAddr.String())
		}
		if link.Group != nil {
			cfg.Remote = model.Ptr(link.Group.String())
		}
		if link.Port > 0 {
			cfg.DstPort = model.Ptr(uint16(link.Port))
		}
		v.Vxlan = cfg
	case *model.VrfInterface:
		v.Vrf = &model.VrfConfig{TableID: model.Ptr(l.(*netlink.Vrf).Table), Port: &[]string{}}
	case *model.MacVtapInterface:
		v.MacVtap = macvlanConfig(&l.(*netlink.Macvtap).Macvlan, byIndex)
	case *model.MacVlanInterface:
		v.MacVlan = macvlanConfig(l.(*netlink.Macvlan), byIndex)
	case *model.InfiniBandInterface:
		link := l.(*netlink.IPoIB)
		mode := "datagram"
		if link.Mode == netlink.IPOIB_MODE_CONNECTED {
			mode = "connected"
		}
		v.InfiniBand = &model.InfiniBandConfig{Mode: &mode}
		if parent := linkName(byIndex, attrs.ParentIndex); parent != "" && attrs.ParentIndex != attrs.Index {
			v.InfiniBand.BaseIface = &parent
			v.InfiniBand.Pkey = model.Ptr(fmt.Sprintf("0x%04x", link.Pkey))
		}
	case *model.EthernetInterface:
		if v.Type == model.TypeVeth {
			if peer := linkName(byIndex, attrs.ParentIndex); peer != "" {
				v.Veth = &model.VethConfig{Peer: peer}
			}
		} else {
			v.Ethernet = k.readEthernet(attrs.Name)
		}
		k.readPermAddr(v, attrs)
	case *model.OvsInterface, *model.DummyInterface, *model.UnknownInterface:
	}

	b := iface.Base()
	b.State = model.StateDown
	if attrs.Flags&net.FlagUp != 0 {
		b.State = model.StateUp
	}
	if attrs.MTU > 0 {
		b.MTU = model.Ptr(uint64(attrs.MTU))
	}
	if len(attrs.HardwareAddr) > 0 {
		b.MacAddress = model.Ptr(model.NormalizeMAC(attrs.HardwareAddr.String()))
	}
	if attrs.Alias != "" {
		b.Description = model.Ptr(attrs.Alias)
	}
	b.AcceptAllMac = model.Ptr(attrs.Promisc != 0)
	if master, ok := byIndex[attrs.MasterIndex]; ok && attrs.MasterIndex != 0 && master.Type() != linkTypeOvs {
		b.SetController(master.Attrs().Name, kindOf(master))
	}

	var err error
	if b.IPv4, err = k.readIP(l, netlink.FAMILY_V4, opts); err != nil {
		return nil, err
	}
	if b.IPv6, err = k.readIP(l, netlink.FAMILY_V6, opts); err != nil {
		return nil, err
	}
	return iface, nil
}

var macvlanModes = map[netlink.MacvlanMode]string{
	netlink.MACVLAN_MODE_PRIVATE:  "private",
	netlink.MACVLAN_MODE_VEPA:     "vepa",
	netlink.MACVLAN_MODE_BRIDGE:   "bridge",
	netlink.MACVLAN_MODE_PASSTHRU: "passthru",
	netlink.MACVLAN_MODE_SOURCE:   "source",
}

func macvlanConfig(link *netlink.Macvlan, byIndex map[int]netlink.Link) *model.MacVlanConfig {
	cfg := &model.MacVlanConfig{
		BaseIface:   linkName(byIndex, link.ParentIndex),
		Promiscuous: model.Ptr(link.Promisc != 0),
	}
	if mode, ok := macvlanModes[link.Mode]; ok {
		cfg.Mode = &mode
	}
	return cfg
}

func (k *Kernel) readPermAddr(v *model.EthernetInterface, attrs *netlink.LinkAttrs) {
	if len(attrs.PermHWAddr) > 0 {
		v.PermanentMacAddress = model.Ptr(model.NormalizeMAC(attrs.PermHWAddr.String()))
		return
	}
	if k.info == nil || v.Type == model.TypeVeth {
		return
	}
	if perm, err := k.info.PermAddr(attrs.Name); err == nil && perm != "" && perm != "00:00:00:00:00:00" {
		v.PermanentMacAddress = model.Ptr(model.NormalizeMAC(perm))
	}
}

func (k *Kernel) readEthernet(name string) *model.EthernetConfig {
	cfg := &model.EthernetConfig{}
	if k.info != nil {
		if info, err := k.info.GetLinkInfo(name); err == nil {
			cfg.AutoNeg = model.Ptr(info.Autoneg)
			if info.Speed > 0 {
				cfg.Speed = model.Ptr(info.Speed)
			}
			if info.Duplex != "unknown" {
				cfg.Duplex = model.Ptr(info.Duplex)
			}
		}
	}
	if n, ok := k.readSysUint(fmt.Sprintf("/sys/class/net/%s/device/sriov_numvfs", name)); ok {
		cfg.SrIov = &model.SrIovConfig{TotalVfs: model.Ptr(uint32(n))}
	}
	if *cfg == (model.EthernetConfig{}) {
		return nil
	}
	return cfg
}

func (k *Kernel) readIP(l netlink.Link, family int, opts netstate.RetrieveOptions) (*model.InterfaceIP, error) {
	name := l.Attrs().Name
	addrs, err := k.nl.AddrList(l, family)
	if err != nil {
		return nil, pluginErr(err, name, "list addresses of %s", name)
	}
	ip := &model.InterfaceIP{}
	dynamic := false
	for _, a := range addrs {
		if a.IPNet == nil || a.IP.IsLinkLocalUnicast() {
			continue
		}
		isDynamic := a.Flags&unix.IFA_F_PERMANENT == 0
		if isDynamic {
			dynamic = true
			if opts.RunningConfigOnly {
				continue
			}
		}
		ones, _ := a.Mask.Size()
		entry := model.InterfaceIPAddr{IP: a.IP.String(), PrefixLength: uint8(ones)}
		if isDynamic {
			entry.ValidLeft = fmt.Sprintf("%dsec", a.ValidLft)
			entry.PreferredLeft = fmt.Sprintf("%dsec", a.PreferedLft)
		}
		ip.Addresses = append(ip.Addresses, entry)
	}

	enabled := len(ip.Addresses) > 0 || dynamic
	if family == netlink.FAMILY_V6 {
		if v, err := k.sys.ReadSysctl(fmt.Sprintf("/proc/sys/net/ipv6/conf/%s/disable_ipv6", name)); err == nil {
			enabled = v == "0"
		}
	}
	ip.Enabled = &enabled
	if !enabled {
		ip.Addresses = nil
		return ip, nil
	}
	if family == netlink.FAMILY_V4 {
		ip.DHCP = &dynamic
	} else {
		ip.Autoconf = &dynamic
	}
	return ip, nil
}

// readSysValue returns the first field of a sysfs attribute; bonding
// options read as "layer2 0".
func (k *Kernel) readSysValue(path string) (string, bool) {
	v, err := k.sys.ReadSysctl(path)
	if err != nil {
		return "", false
	}
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return "", true
	}
	return fields[0], true
}

func (k *Kernel) readSysUint(path string) (uint64, bool) {
	v, ok := k.readSysValue(path)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	return n, err == nil
}

func (k *Kernel) readBondOptions(name string) *model.BondOptions {
	path := func(opt string) string { return fmt.Sprintf("/sys/class/net/%s/bonding/%s", name, opt) }
	o := &model.BondOptions{}
	if n, ok := k.readSysUint(path("miimon")); ok {
		o.Miimon = model.Ptr(uint32(n))
	}
	if n, ok := k.readSysUint(path("updelay")); ok {
		o.UpDelay = model.Ptr(uint32(n))
	}
	if n, ok := k.readSysUint(path("downdelay")); ok {
		o.DownDelay = model.Ptr(uint32(n))
	}
	if v, ok := k.readSysValue(path("primary")); ok && v != "" {
		o.Primary = &v
	}
	if v, ok := k.readSysValue(path("fail_over_mac")); ok && v != "" {
		o.FailOverMac = &v
	}
	if v, ok := k.readSysValue(path("xmit_hash_policy")); ok && v != "" {
		o.XmitHashPolicy = &v
	}
	if v, ok := k.readSysValue(path("lacp_rate")); ok && v != "" {
		o.LacpRate = &v
	}
	if *o == (model.BondOptions{}) {
		return nil
	}
	return o
}

// Bridge STP timers and the ageing time are exposed in centiseconds.
func (k *Kernel) readBridgeOptions(name string) *model.LinuxBridgeOptions {
	path := func(opt string) string { return fmt.Sprintf("/sys/class/net/%s/bridge/%s", name, opt) }
	o := &model.LinuxBridgeOptions{}
	stp := &model.LinuxBridgeStpOptions{}
	if n, ok := k.readSysUint(path("stp_state")); ok {
		stp.Enabled = model.Ptr(n != 0)
	}
	if n, ok := k.readSysUint(path("forward_delay")); ok {
		stp.ForwardDelay = model.Ptr(uint8(n / 100))
	}
	if n, ok := k.readSysUint(path("hello_time")); ok {
		stp.HelloTime = model.Ptr(uint8(n / 100))
	}
	if n, ok := k.readSysUint(path("max_age")); ok {
		stp.MaxAge = model.Ptr(uint8(n / 100))
	}
	if n, ok := k.readSysUint(path("priority")); ok {
		stp.Priority = model.Ptr(uint16(n))
	}
	if *stp != (model.LinuxBridgeStpOptions{}) {
		o.Stp = stp
	}
	if n, ok := k.readSysUint(path("ageing_time")); ok {
		o.MacAgeingTime = model.Ptr(uint32(n / 100))
	}
	if n, ok := k.readSysUint(path("multicast_snooping")); ok {
		o.MulticastSnooping = model.Ptr(n != 0)
	}
	for _, f := range bridgeIntervals(o) {
		if n, ok := k.readSysUint(path(f.sysfs)); ok {
			*f.field = model.Ptr(n)
		}
	}
	if *o == (model.LinuxBridgeOptions{}) {
		return nil
	}
	return o
}

type bridgeInterval struct {
	sysfs string
	field **uint64
}

func bridgeIntervals(o *model.LinuxBridgeOptions) []bridgeInterval {
	return []bridgeInterval{
		{"multicast_last_member_interval", &o.MulticastLastMemberInterval},
		{"multicast_membership_interval", &o.MulticastMembershipInterval},
		{"multicast_querier_interval", &o.MulticastQuerierInterval},
		{"multicast_query_response_interval", &o.MulticastQueryResponseInterval},
		{"multicast_startup_query_interval", &o.MulticastStartupQueryInterval},
	}
}

// readPortVlans reports the VLAN memberships of a filtering bridge's
// ports as access or trunk configs.
func readPortVlans(br *model.LinuxBridgeInterface, indexes map[string]int, vlans map[int32][]BridgeVlan) {
	if br.Bridge == nil || br.Bridge.Port == nil {
		return
	}
	ports := *br.Bridge.Port
	for i := range ports {
		idx, ok := indexes[ports[i].Name]
		if !ok {
			continue
		}
		ports[i].Vlan = portVlanConfig(vlans[int32(idx)])
	}
}

func portVlanConfig(have []BridgeVlan) *model.BridgePortVlanConfig {
	if len(have) == 0 {
		return nil
	}
	if len(have) == 1 && have[0].PVID && have[0].Untagged {
		return &model.BridgePortVlanConfig{Mode: model.Ptr(model.BridgeVlanAccess), Tag: model.Ptr(have[0].Vid)}
	}
	cfg := &model.BridgePortVlanConfig{Mode: model.Ptr(model.BridgeVlanTrunk)}
	for _, v := range have {
		if !v.PVID && !v.Untagged {
			cfg.Tag = model.Ptr(v.Vid)
			break
		}
	}
	return cfg
}

func (k *Kernel) readBridgePorts(br *model.LinuxBridgeInterface) {
	if br.Bridge == nil || br.Bridge.Port == nil {
		return
	}
	ports := *br.Bridge.Port
	for i := range ports {
		path := func(opt string) string { return fmt.Sprintf("/sys/class/net/%s/brport/%s", ports[i].Name, opt) }
		if n, ok := k.readSysUint(path("hairpin_mode")); ok {
			ports[i].StpHairpinMode = model.Ptr(n != 0)
		}
		if n, ok := k.readSysUint(path("path_cost")); ok {
			ports[i].StpPathCost = model.Ptr(uint32(n))
		}
		if n, ok := k.readSysUint(path("priority")); ok {
			ports[i].StpPriority = model.Ptr(uint16(n))
		}
	}
}
