package network

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/netstate/internal/model"
	"grimm.is/netstate/internal/netstate"
)

func TestNextHopFlag(t *testing.T) {
	tests := []struct {
		flags int
		want  string
	}{
		{0, ""},
		{unix.RTNH_F_ONLINK, "onlink"},
		{unix.RTNH_F_OFFLOAD, "offload"},
		{unix.RTNH_F_ONLINK | unix.RTNH_F_LINKDOWN, "linkdown"},
		{unix.RTNH_F_DEAD | unix.RTNH_F_LINKDOWN, "dead"},
		{unix.RTNH_F_PERVASIVE | unix.RTNH_F_OFFLOAD, "pervasive"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, nextHopFlag(tt.flags), "flags %#x", tt.flags)
	}
}

func TestExpandRoute_Multipath(t *testing.T) {
	byIndex := map[int]netlink.Link{
		2: &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "eth0", Index: 2}},
		3: &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "eth1", Index: 3}},
	}
	_, dst, _ := net.ParseCIDR("198.51.100.0/24")
	r := netlink.Route{
		Dst:      dst,
		Table:    unix.RT_TABLE_MAIN,
		Priority: 100,
		MultiPath: []*netlink.NexthopInfo{
			{LinkIndex: 2, Gw: net.ParseIP("192.0.2.1"), Hops: 0},
			{LinkIndex: 3, Gw: net.ParseIP("192.0.2.2"), Hops: 4, Flags: unix.RTNH_F_ONLINK},
			{LinkIndex: 3, Gw: net.ParseIP("192.0.2.3"), Flags: unix.RTNH_F_DEAD},
		},
	}

	got := expandRoute(r, byIndex)
	require.Len(t, got, 2)
	assert.Equal(t, "eth0", got[0].Iface())
	assert.Equal(t, uint16(1), *got[0].Weight)
	assert.Nil(t, got[0].NextHopFlag)
	assert.Equal(t, "192.0.2.2", *got[1].NextHopAddr)
	assert.Equal(t, uint16(5), *got[1].Weight)
	assert.Equal(t, "onlink", *got[1].NextHopFlag)
	assert.Equal(t, int64(100), *got[1].Metric)
}

func TestExpandRoute_DefaultDestination(t *testing.T) {
	got := expandRoute(netlink.Route{Family: netlink.FAMILY_V6, Table: unix.RT_TABLE_MAIN}, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "::/0", *got[0].Destination)

	got = expandRoute(netlink.Route{Family: netlink.FAMILY_V4, Table: unix.RT_TABLE_MAIN, Type: unix.RTN_BLACKHOLE}, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "0.0.0.0/0", *got[0].Destination)
	assert.Equal(t, "blackhole", *got[0].RouteType)
}

func TestGroupMultipath(t *testing.T) {
	dst := "198.51.100.0/24"
	routes := []model.Route{
		{Destination: &dst, NextHopIface: model.Ptr("eth0"), Weight: model.Ptr(uint16(1))},
		{Destination: model.Ptr("203.0.113.0/24"), NextHopIface: model.Ptr("eth0")},
		{Destination: &dst, NextHopIface: model.Ptr("eth1"), Weight: model.Ptr(uint16(2))},
	}
	groups := groupMultipath(routes)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 2)
	assert.Len(t, groups[1], 1)
}

func TestReadRoutes_ConfigOnlyStatic(t *testing.T) {
	nl := new(MockNetlinker)
	eth0 := &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "eth0", Index: 2}}
	_, static, _ := net.ParseCIDR("198.51.100.0/24")
	_, local, _ := net.ParseCIDR("192.0.2.10/32")
	nl.On("RouteListFiltered", netlink.FAMILY_ALL, mock.Anything, uint64(netlink.RT_FILTER_TABLE)).Return([]netlink.Route{
		{Dst: static, LinkIndex: 2, Gw: net.ParseIP("192.0.2.1"), Table: unix.RT_TABLE_MAIN, Protocol: unix.RTPROT_STATIC, Type: unix.RTN_UNICAST},
		{LinkIndex: 2, Gw: net.ParseIP("192.0.2.254"), Table: unix.RT_TABLE_MAIN, Protocol: unix.RTPROT_DHCP, Type: unix.RTN_UNICAST},
		{Dst: local, LinkIndex: 2, Table: unix.RT_TABLE_LOCAL, Protocol: unix.RTPROT_KERNEL, Type: unix.RTN_LOCAL},
	}, nil)

	k := NewKernelWithDeps(nl, newFakeSys())
	routes, err := k.readRoutes(map[int]netlink.Link{2: eth0}, netstate.RetrieveOptions{})
	require.NoError(t, err)
	assert.Len(t, routes.Running, 2)
	require.Len(t, routes.Config, 1)
	assert.Equal(t, "198.51.100.0/24", *routes.Config[0].Destination)

	routes, err = k.readRoutes(map[int]netlink.Link{2: eth0}, netstate.RetrieveOptions{RunningConfigOnly: true})
	require.NoError(t, err)
	assert.Len(t, routes.Running, 1)
}

func TestReadRules_SkipsDefaults(t *testing.T) {
	nl := new(MockNetlinker)
	custom := netlink.NewRule()
	custom.Priority = 1000
	custom.Table = 100
	custom.Family = netlink.FAMILY_V4
	_, custom.Src, _ = net.ParseCIDR("192.0.2.0/24")

	mainRule := netlink.NewRule()
	mainRule.Priority = 32766
	mainRule.Table = unix.RT_TABLE_MAIN

	nl.On("RuleList", netlink.FAMILY_ALL).Return([]netlink.Rule{*mainRule, *custom}, nil)

	k := NewKernelWithDeps(nl, newFakeSys())
	rules, err := k.readRules()
	require.NoError(t, err)
	require.Len(t, rules.Config, 1)
	r := rules.Config[0]
	assert.Equal(t, "192.0.2.0/24", *r.IPFrom)
	assert.Equal(t, int64(1000), *r.Priority)
	assert.Equal(t, uint32(100), *r.TableID)
	assert.Equal(t, model.FamilyIPv4, *r.Family)
}

func TestToNetlinkRule(t *testing.T) {
	r := model.RouteRule{
		IPFrom:   model.Ptr("192.0.2.7"),
		Priority: model.Ptr(int64(500)),
		TableID:  model.Ptr(uint32(200)),
		Fwmark:   model.Ptr(uint32(0x10)),
	}
	nr, err := toNetlinkRule(r)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.7/32", nr.Src.String())
	assert.Equal(t, 500, nr.Priority)
	assert.Equal(t, 200, nr.Table)
	assert.Equal(t, uint32(0x10), nr.Mark)

	r = model.RouteRule{Family: model.Ptr(model.FamilyIPv6), Action: model.Ptr("blackhole")}
	nr, err = toNetlinkRule(r)
	require.NoError(t, err)
	assert.Equal(t, netlink.FAMILY_V6, nr.Family)
	assert.Equal(t, uint8(unix.FR_ACT_BLACKHOLE), nr.Type)

	_, err = toNetlinkRule(model.RouteRule{IPTo: model.Ptr("not-an-ip")})
	assert.Error(t, err)
}

func TestApplyRoutes(t *testing.T) {
	nl := new(MockNetlinker)
	eth0 := &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "eth0", Index: 2}}
	nl.On("LinkByName", "eth0").Return(eth0, nil)

	stale := model.Route{Destination: model.Ptr("203.0.113.0/24"), NextHopIface: model.Ptr("eth0")}
	kept := model.Route{Destination: model.Ptr("198.51.100.0/24"), NextHopIface: model.Ptr("eth0")}
	added := model.Route{
		Destination:  model.Ptr("0.0.0.0/0"),
		NextHopIface: model.Ptr("eth0"),
		NextHopAddr:  model.Ptr("192.0.2.1"),
		Metric:       model.Ptr(int64(50)),
	}

	nl.On("RouteDel", mock.MatchedBy(func(r *netlink.Route) bool {
		return r.Dst.String() == "203.0.113.0/24" && r.LinkIndex == 2
	})).Return(unix.ESRCH).Once()
	nl.On("RouteAdd", mock.MatchedBy(func(r *netlink.Route) bool {
		return r.Dst.String() == "0.0.0.0/0" && r.Gw.String() == "192.0.2.1" &&
			r.Priority == 50 && r.Protocol == unix.RTPROT_STATIC && r.Table == unix.RT_TABLE_MAIN
	})).Return(unix.EEXIST).Once()

	k := NewKernelWithDeps(nl, newFakeSys())
	err := k.applyRoutes([]model.Route{kept, added}, []model.Route{kept, stale})
	require.NoError(t, err)
	nl.AssertExpectations(t)
}

func TestApplyRoutes_Multipath(t *testing.T) {
	nl := new(MockNetlinker)
	nl.On("LinkByName", "eth0").Return(&netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "eth0", Index: 2}}, nil)
	nl.On("LinkByName", "eth1").Return(&netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "eth1", Index: 3}}, nil)

	dst := model.Ptr("198.51.100.0/24")
	want := []model.Route{
		{Destination: dst, NextHopIface: model.Ptr("eth0"), NextHopAddr: model.Ptr("192.0.2.1"), Weight: model.Ptr(uint16(1))},
		{Destination: dst, NextHopIface: model.Ptr("eth1"), NextHopAddr: model.Ptr("192.0.2.2"), Weight: model.Ptr(uint16(3))},
	}
	var got *netlink.Route
	nl.On("RouteAdd", mock.Anything).Run(func(args mock.Arguments) {
		got = args.Get(0).(*netlink.Route)
	}).Return(nil).Once()

	k := NewKernelWithDeps(nl, newFakeSys())
	require.NoError(t, k.applyRoutes(want, nil))
	require.NotNil(t, got)
	require.Len(t, got.MultiPath, 2)
	assert.Equal(t, 0, got.MultiPath[0].Hops)
	assert.Equal(t, 3, got.MultiPath[1].LinkIndex)
	assert.Equal(t, 2, got.MultiPath[1].Hops)
}

func TestApplyRules_AddsAndRemoves(t *testing.T) {
	nl := new(MockNetlinker)
	keep := model.RouteRule{IPFrom: model.Ptr("192.0.2.0/24"), TableID: model.Ptr(uint32(100)), Priority: model.Ptr(int64(100))}
	drop := model.RouteRule{IPTo: model.Ptr("203.0.113.0/24"), TableID: model.Ptr(uint32(200)), Priority: model.Ptr(int64(200))}
	add := model.RouteRule{Fwmark: model.Ptr(uint32(1)), TableID: model.Ptr(uint32(300)), Priority: model.Ptr(int64(300))}

	nl.On("RuleDel", mock.MatchedBy(func(r *netlink.Rule) bool { return r.Table == 200 })).Return(unix.ENOENT).Once()
	nl.On("RuleAdd", mock.MatchedBy(func(r *netlink.Rule) bool { return r.Table == 300 && r.Mark == 1 })).Return(nil).Once()

	k := NewKernelWithDeps(nl, newFakeSys())
	require.NoError(t, k.applyRules([]model.RouteRule{keep, add}, []model.RouteRule{keep, drop}))
	nl.AssertExpectations(t)
}
