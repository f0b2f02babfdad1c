//go:build linux
// +build linux

package network

import (
	"net"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"grimm.is/netstate/internal/errors"
)

// RealNetlinker is a concrete implementation of Netlinker bound to one
// network namespace.
type RealNetlinker struct {
	h *netlink.Handle
}

// NewRealNetlinker opens a netlink handle in the named namespace, or in
// the current one when nsName is empty.
func NewRealNetlinker(nsName string) (*RealNetlinker, error) {
	if nsName == "" {
		h, err := netlink.NewHandle()
		if err != nil {
			return nil, errors.Wrap(err, errors.KindPluginFailure, "open netlink handle")
		}
		return &RealNetlinker{h: h}, nil
	}
	ns, err := netns.GetFromName(nsName)
	if err != nil {
		return nil, errors.Attr(errors.Wrapf(err, errors.KindInvalidArgument, "open namespace %s", nsName), "netns", nsName)
	}
	defer ns.Close()
	h, err := netlink.NewHandleAt(ns)
	if err != nil {
		return nil, errors.Attr(errors.Wrapf(err, errors.KindPluginFailure, "open netlink handle in %s", nsName), "netns", nsName)
	}
	return &RealNetlinker{h: h}, nil
}

// Close releases the netlink sockets.
func (r *RealNetlinker) Close() {
	r.h.Close()
}

func (r *RealNetlinker) LinkByName(name string) (netlink.Link, error) {
	return r.h.LinkByName(name)
}

func (r *RealNetlinker) LinkByIndex(index int) (netlink.Link, error) {
	return r.h.LinkByIndex(index)
}

func (r *RealNetlinker) LinkList() ([]netlink.Link, error) {
	return r.h.LinkList()
}

func (r *RealNetlinker) LinkSetUp(link netlink.Link) error {
	return r.h.LinkSetUp(link)
}

func (r *RealNetlinker) LinkSetDown(link netlink.Link) error {
	return r.h.LinkSetDown(link)
}

func (r *RealNetlinker) LinkSetMTU(link netlink.Link, mtu int) error {
	return r.h.LinkSetMTU(link, mtu)
}

func (r *RealNetlinker) LinkSetMaster(link, master netlink.Link) error {
	return r.h.LinkSetMaster(link, master)
}

func (r *RealNetlinker) LinkSetNoMaster(link netlink.Link) error {
	return r.h.LinkSetNoMaster(link)
}

func (r *RealNetlinker) LinkSetHardwareAddr(link netlink.Link, hwaddr net.HardwareAddr) error {
	return r.h.LinkSetHardwareAddr(link, hwaddr)
}

func (r *RealNetlinker) LinkSetAlias(link netlink.Link, alias string) error {
	return r.h.LinkSetAlias(link, alias)
}

func (r *RealNetlinker) LinkSetPromiscOn(link netlink.Link) error {
	return r.h.SetPromiscOn(link)
}

func (r *RealNetlinker) LinkSetPromiscOff(link netlink.Link) error {
	return r.h.SetPromiscOff(link)
}

func (r *RealNetlinker) LinkAdd(link netlink.Link) error {
	return r.h.LinkAdd(link)
}

func (r *RealNetlinker) LinkDel(link netlink.Link) error {
	return r.h.LinkDel(link)
}

func (r *RealNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return r.h.AddrList(link, family)
}

func (r *RealNetlinker) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	return r.h.AddrAdd(link, addr)
}

func (r *RealNetlinker) AddrDel(link netlink.Link, addr *netlink.Addr) error {
	return r.h.AddrDel(link, addr)
}

func (r *RealNetlinker) RouteListFiltered(family int, filter *netlink.Route, filterMask uint64) ([]netlink.Route, error) {
	return r.h.RouteListFiltered(family, filter, filterMask)
}

func (r *RealNetlinker) RouteAdd(route *netlink.Route) error {
	return r.h.RouteAdd(route)
}

func (r *RealNetlinker) RouteDel(route *netlink.Route) error {
	return r.h.RouteDel(route)
}

func (r *RealNetlinker) RuleList(family int) ([]netlink.Rule, error) {
	return r.h.RuleList(family)
}

func (r *RealNetlinker) RuleAdd(rule *netlink.Rule) error {
	return r.h.RuleAdd(rule)
}

func (r *RealNetlinker) RuleDel(rule *netlink.Rule) error {
	return r.h.RuleDel(rule)
}

func (r *RealNetlinker) BridgeVlanList() (map[int32][]BridgeVlan, error) {
	raw, err := r.h.BridgeVlanList()
	if err != nil {
		return nil, err
	}
	out := make(map[int32][]BridgeVlan, len(raw))
	for index, infos := range raw {
		for _, info := range infos {
			out[index] = append(out[index], BridgeVlan{Vid: info.Vid, PVID: info.PortVID(), Untagged: info.EngressUntag()})
		}
	}
	return out, nil
}

// BridgeVlanAdd adds a VLAN to a bridge port through its master.
func (r *RealNetlinker) BridgeVlanAdd(link netlink.Link, vid uint16, pvid, untagged bool) error {
	return r.h.BridgeVlanAdd(link, vid, pvid, untagged, false, true)
}

func (r *RealNetlinker) BridgeVlanDel(link netlink.Link, vid uint16) error {
	return r.h.BridgeVlanDel(link, vid, false, false, false, true)
}
