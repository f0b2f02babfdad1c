//go:build !linux
// +build !linux

package network

import (
	"net"

	"github.com/vishvananda/netlink"

	"grimm.is/netstate/internal/errors"
)

var errNoNetlink = errors.New(errors.KindNotSupported, "netlink is only available on linux")

// RealNetlinker is a stub implementation of Netlinker.
type RealNetlinker struct{}

// NewRealNetlinker always fails off linux.
func NewRealNetlinker(string) (*RealNetlinker, error) { return nil, errNoNetlink }

func (r *RealNetlinker) Close() {}

func (r *RealNetlinker) LinkByName(string) (netlink.Link, error)   { return nil, errNoNetlink }
func (r *RealNetlinker) LinkByIndex(int) (netlink.Link, error)     { return nil, errNoNetlink }
func (r *RealNetlinker) LinkList() ([]netlink.Link, error)         { return nil, errNoNetlink }
func (r *RealNetlinker) LinkSetUp(netlink.Link) error              { return errNoNetlink }
func (r *RealNetlinker) LinkSetDown(netlink.Link) error            { return errNoNetlink }
func (r *RealNetlinker) LinkSetMTU(netlink.Link, int) error        { return errNoNetlink }
func (r *RealNetlinker) LinkSetMaster(_, _ netlink.Link) error     { return errNoNetlink }
func (r *RealNetlinker) LinkSetNoMaster(netlink.Link) error        { return errNoNetlink }
func (r *RealNetlinker) LinkSetAlias(netlink.Link, string) error   { return errNoNetlink }
func (r *RealNetlinker) LinkSetPromiscOn(netlink.Link) error       { return errNoNetlink }
func (r *RealNetlinker) LinkSetPromiscOff(netlink.Link) error      { return errNoNetlink }
func (r *RealNetlinker) LinkAdd(netlink.Link) error                { return errNoNetlink }
func (r *RealNetlinker) LinkDel(netlink.Link) error                { return errNoNetlink }
func (r *RealNetlinker) RouteAdd(*netlink.Route) error             { return errNoNetlink }
func (r *RealNetlinker) RouteDel(*netlink.Route) error             { return errNoNetlink }
func (r *RealNetlinker) RuleList(int) ([]netlink.Rule, error)      { return nil, errNoNetlink }
func (r *RealNetlinker) RuleAdd(*netlink.Rule) error               { return errNoNetlink }
func (r *RealNetlinker) RuleDel(*netlink.Rule) error               { return errNoNetlink }
func (r *RealNetlinker) AddrAdd(netlink.Link, *netlink.Addr) error { return errNoNetlink }
func (r *RealNetlinker) AddrDel(netlink.Link, *netlink.Addr) error { return errNoNetlink }
func (r *RealNetlinker) BridgeVlanDel(netlink.Link, uint16) error  { return errNoNetlink }

func (r *RealNetlinker) LinkSetHardwareAddr(netlink.Link, net.HardwareAddr) error {
	return errNoNetlink
}

func (r *RealNetlinker) AddrList(netlink.Link, int) ([]netlink.Addr, error) {
	return nil, errNoNetlink
}

func (r *RealNetlinker) RouteListFiltered(int, *netlink.Route, uint64) ([]netlink.Route, error) {
	return nil, errNoNetlink
}

func (r *RealNetlinker) BridgeVlanList() (map[int32][]BridgeVlan, error) {
	return nil, errNoNetlink
}

func (r *RealNetlinker) BridgeVlanAdd(netlink.Link, uint16, bool, bool) error {
	return errNoNetlink
}
