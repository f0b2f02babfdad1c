package network

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/model"
	"grimm.is/netstate/internal/reconcile"
)

// Apply implements netstate.StateSink. Interfaces are deleted, created
// parents first, then configured controllers first; routes, rules and
// resolv.conf follow. OVS bridges and OVS interfaces are left to the OVS
// backend.
func (k *Kernel) Apply(ctx context.Context, plan *reconcile.Plan, current *model.NetworkState) error {
	if plan == nil {
		return nil
	}
	if current == nil {
		current = model.NewNetworkState()
	}
	if err := k.applyDeletes(plan, current); err != nil {
		return err
	}
	if err := k.createLinks(ctx, plan.Add.List()); err != nil {
		return err
	}

	entries := append(plan.Add.List(), plan.Change.List()...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Base().UpPriority < entries[j].Base().UpPriority
	})
	for _, iface := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !kernelConfigured(iface) {
			continue
		}
		cur := current.Interfaces.GetKernel(iface.Base().Name)
		if err := k.configure(iface, cur); err != nil {
			return err
		}
	}
	for _, iface := range entries {
		if br, ok := iface.(*model.LinuxBridgeInterface); ok {
			if err := k.configureBridgePorts(br); err != nil {
				return err
			}
		}
	}

	if plan.RoutesChanged {
		if err := k.applyRoutes(plan.Routes, current.RouteConfig()); err != nil {
			return err
		}
	}
	if plan.RulesChanged {
		if err := k.applyRules(plan.Rules, current.RuleConfig()); err != nil {
			return err
		}
	}
	if plan.DNS != nil {
		if err := writeResolvConf(k.fs, k.resolvConf, plan.DNS); err != nil {
			return err
		}
		k.log.Info("resolver updated", "servers", plan.DNS.Servers(), "search", plan.DNS.Searches())
	}
	return nil
}

func ovsOwned(iface model.Interface) bool {
	switch iface.Base().Type {
	case model.TypeOvsBridge, model.TypeOvsInterface:
		return true
	}
	return false
}

// kernelConfigured reports whether the kernel backend configures iface
// once it exists. OVS internal ports are created by the OVS backend but
// addressed here like any other link.
func kernelConfigured(iface model.Interface) bool {
	switch v := iface.(type) {
	case *model.OvsBridgeInterface:
		return false
	case *model.OvsInterface:
		return v.Patch == nil && v.Dpdk == nil
	}
	return true
}

func (k *Kernel) applyDeletes(plan *reconcile.Plan, current *model.NetworkState) error {
	for _, iface := range plan.Delete.List() {
		if ovsOwned(iface) {
			continue
		}
		name := iface.Base().Name
		cur := current.Interfaces.GetKernel(name)
		if cur == nil || ovsOwned(cur) {
			continue
		}
		link, err := k.nl.LinkByName(name)
		if isLinkNotFound(err) {
			continue
		}
		if err != nil {
			return pluginErr(err, name, "look up %s", name)
		}
		if !model.IsVirtual(cur) {
			if err := k.nl.LinkSetDown(link); err != nil {
				return pluginErr(err, name, "set %s down", name)
			}
			k.log.Info("interface deactivated", "interface", name)
			continue
		}
		if err := k.nl.LinkDel(link); err != nil && !isLinkNotFound(err) {
			return pluginErr(err, name, "delete %s", name)
		}
		k.log.Info("interface deleted", "interface", name, "type", cur.Base().Type)
	}
	return nil
}

// createLinks adds the virtual interfaces of adds, each after the parent
// it is stacked on.
func (k *Kernel) createLinks(ctx context.Context, adds []model.Interface) error {
	pending := make(map[string]model.Interface)
	var order []string
	for _, iface := range adds {
		if ovsOwned(iface) {
			continue
		}
		name := iface.Base().Name
		pending[name] = iface
		order = append(order, name)
	}
	for len(pending) > 0 {
		progress := false
		for _, name := range order {
			iface, ok := pending[name]
			if !ok {
				continue
			}
			if _, waiting := pending[model.Parent(iface)]; waiting {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := k.createLink(iface); err != nil {
				return err
			}
			delete(pending, name)
			progress = true
		}
		if !progress {
			return errors.Errorf(errors.KindBug, "interfaces %v are stacked on each other", model.SortedNames(keys(pending)))
		}
	}
	return nil
}

func keys(m map[string]model.Interface) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

func (k *Kernel) createLink(iface model.Interface) error {
	name := iface.Base().Name
	if _, err := k.nl.LinkByName(name); err == nil {
		// Already there: a veth peer created with its partner, or a NIC.
		return nil
	} else if !isLinkNotFound(err) {
		return pluginErr(err, name, "look up %s", name)
	}
	if !model.IsVirtual(iface) {
		return errors.Attr(errors.Errorf(errors.KindInvalidArgument,
			"interface %s (%s) does not exist and cannot be created", name, iface.Base().Type), "interface", name)
	}
	link, err := k.linkFor(iface)
	if err != nil {
		return err
	}
	if err := k.nl.LinkAdd(link); err != nil {
		return pluginErr(err, name, "create %s", name)
	}
	k.log.Info("interface created", "interface", name, "type", iface.Base().Type)
	return nil
}

func (k *Kernel) parentIndex(iface model.Interface) (int, error) {
	parent := model.Parent(iface)
	if parent == "" {
		return 0, nil
	}
	link, err := k.nl.LinkByName(parent)
	if err != nil {
		return 0, pluginErr(err, iface.Base().Name, "parent %s of %s", parent, iface.Base().Name)
	}
	return link.Attrs().Index, nil
}

var macvlanModeValues = func() map[string]netlink.MacvlanMode {
	out := make(map[string]netlink.MacvlanMode, len(macvlanModes))
	for mode, name := range macvlanModes {
		out[name] = mode
	}
	return out
}()

// linkFor renders a virtual interface as the netlink link that creates it.
func (k *Kernel) linkFor(iface model.Interface) (netlink.Link, error) {
	attrs := netlink.LinkAttrs{Name: iface.Base().Name}
	parent, err := k.parentIndex(iface)
	if err != nil {
		return nil, err
	}

	switch v := iface.(type) {
	case *model.BondInterface:
		bond := netlink.NewLinkBond(attrs)
		if mode := v.Mode(); mode != "" {
			bond.Mode = netlink.StringToBondMode(string(mode))
		}
		return bond, nil
	case *model.LinuxBridgeInterface:
		return &netlink.Bridge{LinkAttrs: attrs}, nil
	case *model.VlanInterface:
		attrs.ParentIndex = parent
		link := &netlink.Vlan{LinkAttrs: attrs, VlanProtocol: netlink.VLAN_PROTOCOL_8021Q}
		if v.Vlan != nil && v.Vlan.ID != nil {
			link.VlanId = int(*v.Vlan.ID)
		}
		if v.Vlan != nil && v.Vlan.Protocol != nil && *v.Vlan.Protocol == "802.1ad" {
			link.VlanProtocol = netlink.VLAN_PROTOCOL_8021AD
		}
		return link, nil
	case *model.VxlanInterface:
		link := &netlink.Vxlan{LinkAttrs: attrs, VtepDevIndex: parent, Learning: true}
		if cfg := v.Vxlan; cfg != nil {
			if cfg.ID != nil {
				link.VxlanId = int(*cfg.ID)
			}
			if cfg.Learning != nil {
				link.Learning = *cfg.Learning
			}
			if cfg.Local != nil {
				link.SrcAddr = net.ParseIP(*cfg.Local)
			}
			if cfg.Remote != nil {
				link.Group = net.ParseIP(*cfg.Remote)
			}
			if cfg.DstPort != nil {
				link.Port = int(*cfg.DstPort)
			}
		}
		return link, nil
	case *model.VrfInterface:
		link := &netlink.Vrf{LinkAttrs: attrs}
		if v.Vrf != nil && v.Vrf.TableID != nil {
			link.Table = *v.Vrf.TableID
		}
		return link, nil
	case *model.MacVlanInterface:
		attrs.ParentIndex = parent
		return &netlink.Macvlan{LinkAttrs: attrs, Mode: macvlanMode(v.MacVlan)}, nil
	case *model.MacVtapInterface:
		attrs.ParentIndex = parent
		return &netlink.Macvtap{Macvlan: netlink.Macvlan{LinkAttrs: attrs, Mode: macvlanMode(v.MacVtap)}}, nil
	case *model.DummyInterface:
		return &netlink.Dummy{LinkAttrs: attrs}, nil
	case *model.EthernetInterface:
		peer := ""
		if v.Veth != nil {
			peer = v.Veth.Peer
		}
		if peer == "" {
			return nil, errors.Attr(errors.Errorf(errors.KindInvalidArgument,
				"veth %s needs a peer", attrs.Name), "interface", attrs.Name)
		}
		return &netlink.Veth{LinkAttrs: attrs, PeerName: peer}, nil
	case *model.InfiniBandInterface:
		attrs.ParentIndex = parent
		link := &netlink.IPoIB{LinkAttrs: attrs, Mode: netlink.IPOIB_MODE_DATAGRAM}
		if cfg := v.InfiniBand; cfg != nil {
			if cfg.Mode != nil && *cfg.Mode == "connected" {
				link.Mode = netlink.IPOIB_MODE_CONNECTED
			}
			if cfg.Pkey != nil {
				pkey, err := model.ParsePkey(*cfg.Pkey)
				if err != nil {
					return nil, err
				}
				link.Pkey = pkey
			}
		}
		return link, nil
	case *model.OvsBridgeInterface, *model.OvsInterface, *model.UnknownInterface:
	}
	return nil, errors.Errorf(errors.KindBug, "no netlink kind for %s (%s)", attrs.Name, iface.Base().Type)
}

func macvlanMode(cfg *model.MacVlanConfig) netlink.MacvlanMode {
	if cfg == nil || cfg.Mode == nil {
		return netlink.MACVLAN_MODE_DEFAULT
	}
	if mode, ok := macvlanModeValues[*cfg.Mode]; ok {
		return mode
	}
	return netlink.MACVLAN_MODE_DEFAULT
}

// needsRecreate reports changes the kernel cannot make to a live link.
func needsRecreate(desired, current model.Interface) bool {
	switch d := desired.(type) {
	case *model.VlanInterface:
		c, _ := current.(*model.VlanInterface)
		return c != nil && d.Vlan != nil && !model.Covers(d.Vlan, c.Vlan)
	case *model.VxlanInterface:
		c, _ := current.(*model.VxlanInterface)
		return c != nil && d.Vxlan != nil && !model.Covers(d.Vxlan, c.Vxlan)
	case *model.VrfInterface:
		c, _ := current.(*model.VrfInterface)
		return c != nil && d.Vrf != nil && d.Vrf.TableID != nil &&
			(c.Vrf == nil || c.Vrf.TableID == nil || *c.Vrf.TableID != *d.Vrf.TableID)
	case *model.MacVlanInterface:
		c, _ := current.(*model.MacVlanInterface)
		return c != nil && d.MacVlan != nil && !model.Covers(withoutPromisc(d.MacVlan), c.MacVlan)
	case *model.MacVtapInterface:
		c, _ := current.(*model.MacVtapInterface)
		return c != nil && d.MacVtap != nil && !model.Covers(withoutPromisc(d.MacVtap), c.MacVtap)
	case *model.InfiniBandInterface:
		c, _ := current.(*model.InfiniBandInterface)
		return c != nil && d.InfiniBand != nil && !model.Covers(d.InfiniBand, c.InfiniBand)
	}
	return false
}

func withoutPromisc(cfg *model.MacVlanConfig) *model.MacVlanConfig {
	out := *cfg
	out.Promiscuous = nil
	return &out
}

// configure brings one interface to its desired settings. cur is the
// snapshot entry, nil for interfaces created by this apply.
func (k *Kernel) configure(iface model.Interface, cur model.Interface) error {
	b := iface.Base()
	name := b.Name

	if cur != nil && needsRecreate(iface, cur) {
		if err := k.recreate(iface); err != nil {
			return err
		}
		cur = nil
	}

	link, err := k.nl.LinkByName(name)
	if err != nil {
		return pluginErr(err, name, "look up %s", name)
	}
	attrs := link.Attrs()

	if b.MTU != nil && uint64(attrs.MTU) != *b.MTU {
		if err := k.nl.LinkSetMTU(link, int(*b.MTU)); err != nil {
			return pluginErr(err, name, "set mtu of %s", name)
		}
	}
	if b.MacAddress != nil {
		mac, err := net.ParseMAC(*b.MacAddress)
		if err != nil {
			return errors.Attr(errors.Wrapf(err, errors.KindInvalidArgument, "mac address of %s", name), "interface", name)
		}
		if attrs.HardwareAddr.String() != mac.String() {
			if err := k.nl.LinkSetHardwareAddr(link, mac); err != nil {
				return pluginErr(err, name, "set mac address of %s", name)
			}
		}
	}
	if b.Description != nil && attrs.Alias != *b.Description {
		if err := k.nl.LinkSetAlias(link, *b.Description); err != nil {
			return pluginErr(err, name, "set alias of %s", name)
		}
	}
	if b.AcceptAllMac != nil {
		if err := k.setPromisc(link, *b.AcceptAllMac); err != nil {
			return err
		}
	}

	if err := k.configureKind(iface, cur, link); err != nil {
		return err
	}
	if err := k.setController(link, b); err != nil {
		return err
	}

	var curIPv4, curIPv6 *model.InterfaceIP
	if cur != nil {
		curIPv4, curIPv6 = cur.Base().IPv4, cur.Base().IPv6
	}
	if err := k.applyIP(link, netlink.FAMILY_V4, b.IPv4, curIPv4); err != nil {
		return err
	}
	if err := k.applyIP(link, netlink.FAMILY_V6, b.IPv6, curIPv6); err != nil {
		return err
	}

	switch {
	case b.IsDown():
		err = k.nl.LinkSetDown(link)
	case b.IsUp():
		err = k.nl.LinkSetUp(link)
	}
	if err != nil {
		return pluginErr(err, name, "set %s %s", name, b.State)
	}
	return nil
}

func (k *Kernel) recreate(iface model.Interface) error {
	name := iface.Base().Name
	link, err := k.nl.LinkByName(name)
	if err != nil {
		return pluginErr(err, name, "look up %s", name)
	}
	if err := k.nl.LinkDel(link); err != nil {
		return pluginErr(err, name, "delete %s", name)
	}
	nl, err := k.linkFor(iface)
	if err != nil {
		return err
	}
	if err := k.nl.LinkAdd(nl); err != nil {
		return pluginErr(err, name, "create %s", name)
	}
	k.log.Info("interface recreated", "interface", name, "type", iface.Base().Type)
	return nil
}

func (k *Kernel) setPromisc(link netlink.Link, on bool) error {
	if (link.Attrs().Promisc != 0) == on {
		return nil
	}
	name := link.Attrs().Name
	if on {
		return pluginErr(k.nl.LinkSetPromiscOn(link), name, "enable promiscuous mode on %s", name)
	}
	return pluginErr(k.nl.LinkSetPromiscOff(link), name, "disable promiscuous mode on %s", name)
}

func (k *Kernel) setController(link netlink.Link, b *model.BaseInterface) error {
	if b.Controller == nil || b.ControllerType == model.TypeOvsBridge {
		return nil
	}
	name := b.Name
	ctrl := b.ControllerName()
	if ctrl == "" {
		if link.Attrs().MasterIndex == 0 {
			return nil
		}
		if err := k.nl.LinkSetNoMaster(link); err != nil {
			return pluginErr(err, name, "detach %s", name)
		}
		k.log.Info("port detached", "interface", name)
		return nil
	}
	master, err := k.nl.LinkByName(ctrl)
	if err != nil {
		return pluginErr(err, name, "controller %s of %s", ctrl, name)
	}
	if link.Attrs().MasterIndex == master.Attrs().Index {
		return nil
	}
	if b.ControllerType == model.TypeBond {
		// The bonding driver only enslaves ports that are down.
		if err := k.nl.LinkSetDown(link); err != nil {
			return pluginErr(err, name, "set %s down", name)
		}
	}
	if err := k.nl.LinkSetMaster(link, master); err != nil {
		return pluginErr(err, name, "attach %s to %s", name, ctrl)
	}
	k.log.Info("port attached", "interface", name, "controller", ctrl)
	return nil
}

func (k *Kernel) writeSys(iface, path, value string) error {
	if err := k.sys.WriteSysctl(path, value); err != nil {
		return errors.Attr(pluginErr(err, iface, "write %s", path), "value", value)
	}
	return nil
}

func (k *Kernel) configureKind(iface model.Interface, cur model.Interface, link netlink.Link) error {
	name := iface.Base().Name
	switch v := iface.(type) {
	case *model.BondInterface:
		return k.configureBond(v, cur, link)
	case *model.LinuxBridgeInterface:
		return k.configureBridge(v)
	case *model.EthernetInterface:
		return k.configureEthernet(v, cur)
	case *model.MacVlanInterface:
		if v.MacVlan != nil && v.MacVlan.Promiscuous != nil {
			return k.setPromisc(link, *v.MacVlan.Promiscuous)
		}
	case *model.MacVtapInterface:
		if v.MacVtap != nil && v.MacVtap.Promiscuous != nil {
			return k.setPromisc(link, *v.MacVtap.Promiscuous)
		}
	case *model.VlanInterface, *model.VxlanInterface, *model.VrfInterface,
		*model.DummyInterface, *model.InfiniBandInterface, *model.UnknownInterface,
		*model.OvsBridgeInterface, *model.OvsInterface:
	default:
		return errors.Errorf(errors.KindBug, "unhandled interface kind %T for %s", iface, name)
	}
	return nil
}

func (k *Kernel) configureBond(v *model.BondInterface, cur model.Interface, link netlink.Link) error {
	if v.Bond == nil {
		return nil
	}
	name := v.Name
	path := func(opt string) string { return fmt.Sprintf("/sys/class/net/%s/bonding/%s", name, opt) }

	if mode := v.Mode(); mode != "" {
		if c, ok := cur.(*model.BondInterface); ok && c.Mode() != mode {
			if err := k.nl.LinkSetDown(link); err != nil {
				return pluginErr(err, name, "set %s down", name)
			}
			if err := k.writeSys(name, path("mode"), string(mode)); err != nil {
				return err
			}
		}
	}
	o := v.Bond.Options
	if o == nil {
		return nil
	}
	writes := []struct {
		opt string
		val *string
	}{
		{"miimon", uintString(o.Miimon)},
		{"updelay", uintString(o.UpDelay)},
		{"downdelay", uintString(o.DownDelay)},
		{"fail_over_mac", o.FailOverMac},
		{"xmit_hash_policy", o.XmitHashPolicy},
		{"lacp_rate", o.LacpRate},
		{"primary", o.Primary},
	}
	for _, w := range writes {
		if w.val == nil {
			continue
		}
		if err := k.writeSys(name, path(w.opt), *w.val); err != nil {
			return err
		}
	}
	return nil
}

func uintString[T uint8 | uint16 | uint32 | uint64](v *T) *string {
	if v == nil {
		return nil
	}
	s := strconv.FormatUint(uint64(*v), 10)
	return &s
}

func boolString(v *bool) *string {
	if v == nil {
		return nil
	}
	s := "0"
	if *v {
		s = "1"
	}
	return &s
}

// centis converts seconds to the centisecond unit of bridge sysfs timers.
func centis[T uint8 | uint32](v *T) *string {
	if v == nil {
		return nil
	}
	s := strconv.FormatUint(uint64(*v)*100, 10)
	return &s
}

func (k *Kernel) configureBridge(v *model.LinuxBridgeInterface) error {
	if v.Bridge == nil {
		return nil
	}
	name := v.Name
	if o := v.Bridge.Options; o != nil {
		path := func(opt string) string { return fmt.Sprintf("/sys/class/net/%s/bridge/%s", name, opt) }
		writes := []struct {
			opt string
			val *string
		}{
			{"ageing_time", centis(o.MacAgeingTime)},
			{"multicast_snooping", boolString(o.MulticastSnooping)},
		}
		if stp := o.Stp; stp != nil {
			writes = append(writes, []struct {
				opt string
				val *string
			}{
				{"stp_state", boolString(stp.Enabled)},
				{"forward_delay", centis(stp.ForwardDelay)},
				{"hello_time", centis(stp.HelloTime)},
				{"max_age", centis(stp.MaxAge)},
				{"priority", uintString(stp.Priority)},
			}...)
		}
		for _, f := range bridgeIntervals(o) {
			writes = append(writes, struct {
				opt string
				val *string
			}{f.sysfs, uintString(*f.field)})
		}
		for _, w := range writes {
			if w.val == nil {
				continue
			}
			if err := k.writeSys(name, path(w.opt), *w.val); err != nil {
				return err
			}
		}
	}

	if hasPortVlans(v) {
		return k.writeSys(name, fmt.Sprintf("/sys/class/net/%s/bridge/vlan_filtering", name), "1")
	}
	return nil
}

func hasPortVlans(v *model.LinuxBridgeInterface) bool {
	if v.Bridge == nil || v.Bridge.Port == nil {
		return false
	}
	for _, p := range *v.Bridge.Port {
		if p.Vlan != nil {
			return true
		}
	}
	return false
}

// configureBridgePorts writes the per-port settings of a bridge. The brport
// directory of a port only exists once it is attached, so this runs after
// every interface of the plan has been configured.
func (k *Kernel) configureBridgePorts(v *model.LinuxBridgeInterface) error {
	if v.Bridge == nil || v.Bridge.Port == nil {
		return nil
	}
	var vlans map[int32][]BridgeVlan
	if hasPortVlans(v) {
		var err error
		if vlans, err = k.nl.BridgeVlanList(); err != nil {
			return pluginErr(err, v.Name, "list vlans of bridge %s", v.Name)
		}
	}
	for _, p := range *v.Bridge.Port {
		path := func(opt string) string { return fmt.Sprintf("/sys/class/net/%s/brport/%s", p.Name, opt) }
		writes := []struct {
			opt string
			val *string
		}{
			{"hairpin_mode", boolString(p.StpHairpinMode)},
			{"path_cost", uintString(p.StpPathCost)},
			{"priority", uintString(p.StpPriority)},
		}
		for _, w := range writes {
			if w.val == nil {
				continue
			}
			if err := k.writeSys(p.Name, path(w.opt), *w.val); err != nil {
				return err
			}
		}
		if p.Vlan == nil {
			continue
		}
		link, err := k.nl.LinkByName(p.Name)
		if err != nil {
			return pluginErr(err, p.Name, "look up %s", p.Name)
		}
		if err := k.setPortVlans(link, p.Vlan, vlans[int32(link.Attrs().Index)]); err != nil {
			return err
		}
	}
	return nil
}

// portVlans returns the VLAN memberships a port config asks for.
func portVlans(cfg *model.BridgePortVlanConfig) []BridgeVlan {
	switch cfg.LinuxMode() {
	case model.BridgeVlanTrunk:
		out := []BridgeVlan{{Vid: 1, PVID: true, Untagged: true}}
		if cfg.Tag != nil && *cfg.Tag != 1 {
			out = append(out, BridgeVlan{Vid: *cfg.Tag})
		}
		return out
	default:
		if cfg.Tag == nil {
			return nil
		}
		return []BridgeVlan{{Vid: *cfg.Tag, PVID: true, Untagged: true}}
	}
}

// setPortVlans moves a port from its current VLAN memberships to the ones
// cfg asks for.
func (k *Kernel) setPortVlans(link netlink.Link, cfg *model.BridgePortVlanConfig, have []BridgeVlan) error {
	want := portVlans(cfg)
	if want == nil {
		return nil
	}
	name := link.Attrs().Name
	keep := make(map[BridgeVlan]bool, len(want))
	for _, w := range want {
		keep[w] = true
	}
	present := make(map[BridgeVlan]bool, len(have))
	for _, h := range have {
		present[h] = true
		if keep[h] {
			continue
		}
		if err := k.nl.BridgeVlanDel(link, h.Vid); err != nil {
			return pluginErr(err, name, "remove vlan %d from %s", h.Vid, name)
		}
	}
	for _, w := range want {
		if present[w] {
			continue
		}
		if err := k.nl.BridgeVlanAdd(link, w.Vid, w.PVID, w.Untagged); err != nil {
			return pluginErr(err, name, "add vlan %d to %s", w.Vid, name)
		}
	}
	k.log.Info("port vlans set", "interface", name, "mode", cfg.LinuxMode(), "vlans", len(want))
	return nil
}

func (k *Kernel) configureEthernet(v *model.EthernetInterface, cur model.Interface) error {
	if v.Ethernet == nil {
		return nil
	}
	name := v.Name
	var current *model.EthernetConfig
	if c, ok := cur.(*model.EthernetInterface); ok {
		current = c.Ethernet
	}
	settings := *v.Ethernet
	settings.SrIov = nil
	if settings != (model.EthernetConfig{}) && (current == nil || !model.Covers(&settings, withoutSrIov(current))) {
		return errors.Attr(errors.Errorf(errors.KindNotSupported,
			"ethernet %s: changing speed, duplex or auto-negotiation is not supported", name), "interface", name)
	}

	vfs, ok := model.SrIovTotalVfs(v)
	if !ok {
		return nil
	}
	if current != nil && current.SrIov != nil && current.SrIov.TotalVfs != nil && *current.SrIov.TotalVfs == vfs {
		return nil
	}
	path := fmt.Sprintf("/sys/class/net/%s/device/sriov_numvfs", name)
	// The driver refuses to move between two non-zero VF counts.
	if err := k.writeSys(name, path, "0"); err != nil {
		return err
	}
	if vfs == 0 {
		return nil
	}
	return k.writeSys(name, path, strconv.FormatUint(uint64(vfs), 10))
}

func withoutSrIov(cfg *model.EthernetConfig) *model.EthernetConfig {
	out := *cfg
	out.SrIov = nil
	return &out
}

func addrKey(a netlink.Addr) string {
	ones, _ := a.Mask.Size()
	return fmt.Sprintf("%s/%d", a.IP, ones)
}

// applyIP converges the static addresses of one family. Lease-derived
// addresses survive while the dynamic method stays on.
func (k *Kernel) applyIP(link netlink.Link, family int, want, have *model.InterfaceIP) error {
	if want == nil {
		return nil
	}
	name := link.Attrs().Name
	enabled := want.IsEnabled()
	v6 := family == netlink.FAMILY_V6
	if v6 {
		disable := "1"
		if enabled {
			disable = "0"
		}
		if err := k.writeSys(name, fmt.Sprintf("/proc/sys/net/ipv6/conf/%s/disable_ipv6", name), disable); err != nil {
			return err
		}
	}

	wanted := make(map[string]bool)
	if enabled {
		for _, a := range want.Addresses {
			wanted[fmt.Sprintf("%s/%d", model.CanonicalIP(a.IP), a.PrefixLength)] = true
		}
	}
	keepDynamic := enabled && want.IsDynamic()

	addrs, err := k.nl.AddrList(link, family)
	if err != nil {
		return pluginErr(err, name, "list addresses of %s", name)
	}
	present := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		if a.IPNet == nil || a.IP.IsLinkLocalUnicast() {
			continue
		}
		key := addrKey(a)
		present[key] = true
		if wanted[key] {
			continue
		}
		if a.Flags&unix.IFA_F_PERMANENT == 0 && keepDynamic {
			continue
		}
		addr := a
		if err := k.nl.AddrDel(link, &addr); err != nil {
			return errors.Attr(pluginErr(err, name, "remove %s from %s", key, name), "address", key)
		}
		k.log.Info("address removed", "interface", name, "address", key)
	}
	for _, a := range want.Addresses {
		key := fmt.Sprintf("%s/%d", model.CanonicalIP(a.IP), a.PrefixLength)
		if !enabled || present[key] {
			continue
		}
		addr, err := netlink.ParseAddr(key)
		if err != nil {
			return errors.Attr(errors.Wrapf(err, errors.KindInvalidArgument, "address %s", key), "interface", name)
		}
		if err := k.nl.AddrAdd(link, addr); err != nil {
			return errors.Attr(pluginErr(err, name, "add %s to %s", key, name), "address", key)
		}
		k.log.Info("address added", "interface", name, "address", key)
	}

	if v6 {
		if want.Autoconf != nil {
			val := *boolString(want.Autoconf)
			for _, opt := range []string{"accept_ra", "autoconf"} {
				if err := k.writeSys(name, fmt.Sprintf("/proc/sys/net/ipv6/conf/%s/%s", name, opt), val); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return k.toggleDHCP(name, want, have)
}

func (k *Kernel) toggleDHCP(name string, want, have *model.InterfaceIP) error {
	if k.dhcp == nil || want.DHCP == nil {
		return nil
	}
	running := have != nil && have.DHCP != nil && *have.DHCP
	switch {
	case *want.DHCP && want.IsEnabled() && !running:
		return k.dhcp.Start(name)
	case (!*want.DHCP || !want.IsEnabled()) && running:
		return k.dhcp.Stop(name)
	}
	return nil
}
