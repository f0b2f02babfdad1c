package network

import (
	"context"
	"net"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/model"
	"grimm.is/netstate/internal/netstate"
	"grimm.is/netstate/internal/reconcile"
)

// fakeSys is a map-backed SystemController.
type fakeSys struct {
	mu     sync.Mutex
	values map[string]string
	writes []string
}

func newFakeSys() *fakeSys {
	return &fakeSys{values: make(map[string]string)}
}

func (f *fakeSys) ReadSysctl(path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[sysctlPath(path)]
	if !ok {
		return "", os.ErrNotExist
	}
	return v, nil
}

func (f *fakeSys) WriteSysctl(path, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[sysctlPath(path)] = value
	f.writes = append(f.writes, sysctlPath(path)+"="+value)
	return nil
}

func (f *fakeSys) IsNotExist(err error) bool { return os.IsNotExist(err) }

type staticInfo struct{}

func (staticInfo) PermAddr(string) (string, error) { return "52:54:00:aa:bb:01", nil }
func (staticInfo) GetLinkInfo(string) (*LinkInfo, error) {
	return &LinkInfo{Speed: 1000, Duplex: "full", Autoneg: true}, nil
}

func mac(s string) net.HardwareAddr {
	hw, _ := net.ParseMAC(s)
	return hw
}

func addr(s string, flags int) netlink.Addr {
	a, _ := netlink.ParseAddr(s)
	a.Flags = flags
	return *a
}

func TestRetrieve(t *testing.T) {
	lo := &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "lo", Index: 1, EncapType: "loopback"}}
	eth0 := &netlink.Device{LinkAttrs: netlink.LinkAttrs{
		Name: "eth0", Index: 2, EncapType: "ether", MTU: 1500, MasterIndex: 3,
		HardwareAddr: mac("52:54:00:AA:BB:01"),
	}}
	bond0 := netlink.NewLinkBond(netlink.LinkAttrs{Name: "bond0", Index: 3, MTU: 1500, Flags: net.FlagUp})
	bond0.Mode = netlink.BOND_MODE_ACTIVE_BACKUP
	vlan := &netlink.Vlan{
		LinkAttrs: netlink.LinkAttrs{Name: "bond0.10", Index: 4, ParentIndex: 3, MTU: 1500, Flags: net.FlagUp, Alias: "uplink"},
		VlanId:    10,
	}

	nl := new(MockNetlinker)
	nl.On("LinkList").Return([]netlink.Link{lo, eth0, bond0, vlan}, nil)
	nl.On("AddrList", vlan, netlink.FAMILY_V4).Return([]netlink.Addr{
		addr("192.0.2.10/24", unix.IFA_F_PERMANENT),
		addr("198.51.100.7/24", 0),
	}, nil)
	nl.On("AddrList", mock.Anything, mock.Anything).Return([]netlink.Addr{}, nil)
	nl.On("RouteListFiltered", mock.Anything, mock.Anything, mock.Anything).Return([]netlink.Route{}, nil)
	nl.On("RuleList", mock.Anything).Return([]netlink.Rule{}, nil)

	sys := newFakeSys()
	sys.values["/sys/class/net/bond0/bonding/miimon"] = "100"
	sys.values["/sys/class/net/bond0/bonding/xmit_hash_policy"] = "layer2 0"
	sys.values["/proc/sys/net/ipv6/conf/bond0.10/disable_ipv6"] = "1"

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/resolv.conf", []byte("nameserver 192.0.2.53\nsearch example.com\n"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/etc/hostname", []byte("node-1\n"), 0644))

	k := NewKernelWithDeps(nl, sys,
		WithFs(fs),
		WithLinkInfo(staticInfo{}),
		WithHostnameFunc(func() (string, error) { return "node-1-transient", nil }),
	)

	t.Run("full", func(t *testing.T) {
		ns, err := k.Retrieve(context.Background(), netstate.RetrieveOptions{})
		require.NoError(t, err)

		assert.Equal(t, []string{"bond0", "bond0.10", "eth0"}, sortedNames(ns.Interfaces))

		eth := ns.Interfaces.GetKernel("eth0").(*model.EthernetInterface)
		assert.Equal(t, model.StateDown, eth.State)
		assert.Equal(t, "bond0", eth.ControllerName())
		assert.Equal(t, model.TypeBond, eth.ControllerType)
		assert.Equal(t, "52:54:00:AA:BB:01", *eth.MacAddress)
		require.NotNil(t, eth.Ethernet)
		assert.Equal(t, uint32(1000), *eth.Ethernet.Speed)
		assert.Equal(t, "52:54:00:AA:BB:01", *eth.PermanentMacAddress)

		bond := ns.Interfaces.GetKernel("bond0").(*model.BondInterface)
		assert.Equal(t, model.BondModeActiveBackup, bond.Mode())
		assert.Equal(t, uint32(100), *bond.Bond.Options.Miimon)
		assert.Equal(t, "layer2", *bond.Bond.Options.XmitHashPolicy)
		assert.Equal(t, []string{"eth0"}, *bond.Bond.Port)

		v := ns.Interfaces.GetKernel("bond0.10").(*model.VlanInterface)
		assert.Equal(t, "bond0", v.Vlan.BaseIface)
		assert.Equal(t, uint16(10), *v.Vlan.ID)
		assert.Equal(t, "uplink", *v.Description)
		require.Len(t, v.IPv4.Addresses, 2)
		assert.True(t, *v.IPv4.DHCP)
		assert.True(t, v.IPv4.Addresses[1].IsDynamic())
		assert.False(t, *v.IPv6.Enabled)

		assert.Equal(t, []string{"192.0.2.53"}, ns.DNS.Running.Servers())
		assert.Equal(t, []string{"example.com"}, ns.DNS.Running.Searches())
		assert.Nil(t, ns.DNS.Config, "only a lease can have supplied the servers")
		assert.Equal(t, "node-1-transient", *ns.Hostname.Running)
		assert.Equal(t, "node-1", *ns.Hostname.Config)
	})

	t.Run("running config only", func(t *testing.T) {
		ns, err := k.Retrieve(context.Background(), netstate.RetrieveOptions{RunningConfigOnly: true})
		require.NoError(t, err)
		v := ns.Interfaces.GetKernel("bond0.10")
		require.Len(t, v.Base().IPv4.Addresses, 1)
		assert.Equal(t, "192.0.2.10", v.Base().IPv4.Addresses[0].IP)
	})
}

func sortedNames(s *model.Interfaces) []string {
	names := s.Names()
	sort.Strings(names)
	return names
}

func TestRetrieve_DNSConfigNeedsStaticHolder(t *testing.T) {
	eth0 := &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "eth0", Index: 2, EncapType: "ether", Flags: net.FlagUp}}

	tests := []struct {
		name     string
		addrs    []netlink.Addr
		resolv   string
		configed bool
	}{
		{"static address", []netlink.Addr{addr("192.0.2.10/24", unix.IFA_F_PERMANENT)}, "nameserver 192.0.2.53\n", true},
		{"leased address", []netlink.Addr{addr("192.0.2.10/24", 0)}, "nameserver 192.0.2.53\n", false},
		{"ipv6 server without ipv6 holder", []netlink.Addr{addr("192.0.2.10/24", unix.IFA_F_PERMANENT)}, "nameserver 2001:db8::53\n", false},
		{"search only", []netlink.Addr{addr("192.0.2.10/24", 0)}, "search example.com\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nl := new(MockNetlinker)
			nl.On("LinkList").Return([]netlink.Link{eth0}, nil)
			nl.On("AddrList", eth0, netlink.FAMILY_V4).Return(tt.addrs, nil)
			nl.On("AddrList", mock.Anything, mock.Anything).Return([]netlink.Addr{}, nil)
			nl.On("RouteListFiltered", mock.Anything, mock.Anything, mock.Anything).Return([]netlink.Route{}, nil)
			nl.On("RuleList", mock.Anything).Return([]netlink.Rule{}, nil)

			sys := newFakeSys()
			sys.values["/proc/sys/net/ipv6/conf/eth0/disable_ipv6"] = "1"
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "/etc/resolv.conf", []byte(tt.resolv), 0644))

			k := NewKernelWithDeps(nl, sys,
				WithFs(fs),
				WithLinkInfo(staticInfo{}),
				WithHostnameFunc(func() (string, error) { return "node-1", nil }),
			)
			ns, err := k.Retrieve(context.Background(), netstate.RetrieveOptions{})
			require.NoError(t, err)
			require.NotNil(t, ns.DNS.Running)
			if tt.configed {
				assert.NotNil(t, ns.DNS.Config)
			} else {
				assert.Nil(t, ns.DNS.Config)
			}
		})
	}
}

func TestRetrieve_ListFailure(t *testing.T) {
	nl := new(MockNetlinker)
	nl.On("LinkList").Return([]netlink.Link(nil), unix.EPERM)

	k := NewKernelWithDeps(nl, newFakeSys(), WithFs(afero.NewMemMapFs()))
	_, err := k.Retrieve(context.Background(), netstate.RetrieveOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindPluginFailure))
}

func newPlan() *reconcile.Plan {
	return &reconcile.Plan{
		Add:    model.NewInterfaces(),
		Change: model.NewInterfaces(),
		Delete: model.NewInterfaces(),
	}
}

func TestApply_CreatesStackedInterfaces(t *testing.T) {
	eth0 := &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "eth0", Index: 2}}
	bond0 := &netlink.Bond{LinkAttrs: netlink.LinkAttrs{Name: "bond0", Index: 3}}
	vlan := &netlink.Vlan{LinkAttrs: netlink.LinkAttrs{Name: "bond0.10", Index: 4}}

	nl := new(MockNetlinker)
	notFound := netlink.LinkNotFoundError{}
	nl.On("LinkByName", "bond0.10").Return(nil, notFound).Once()
	nl.On("LinkByName", "bond0").Return(nil, notFound).Once()
	nl.On("LinkAdd", mock.MatchedBy(func(l netlink.Link) bool {
		b, ok := l.(*netlink.Bond)
		return ok && b.Name == "bond0" && b.Mode == netlink.BOND_MODE_802_3AD
	})).Return(nil).Once()
	nl.On("LinkByName", "bond0").Return(bond0, nil)
	nl.On("LinkAdd", mock.MatchedBy(func(l netlink.Link) bool {
		v, ok := l.(*netlink.Vlan)
		return ok && v.Name == "bond0.10" && v.VlanId == 10 && v.ParentIndex == 3
	})).Return(nil).Once()
	nl.On("LinkByName", "bond0.10").Return(vlan, nil)
	nl.On("LinkByName", "eth0").Return(eth0, nil)

	nl.On("LinkSetDown", eth0).Return(nil).Once()
	nl.On("LinkSetMaster", eth0, bond0).Return(nil).Once()
	nl.On("LinkSetUp", mock.Anything).Return(nil)
	nl.On("AddrList", mock.Anything, mock.Anything).Return([]netlink.Addr{}, nil)
	nl.On("AddrAdd", vlan, mock.MatchedBy(func(a *netlink.Addr) bool {
		return a.IPNet.String() == "192.0.2.10/24"
	})).Return(nil).Once()

	sys := newFakeSys()
	k := NewKernelWithDeps(nl, sys, WithFs(afero.NewMemMapFs()))

	bond := model.NewInterface("bond0", model.TypeBond).(*model.BondInterface)
	bond.State = model.StateUp
	bond.UpPriority = 0
	mode := model.BondModeLACP
	bond.Bond = &model.BondConfig{Mode: &mode, Options: &model.BondOptions{Miimon: model.Ptr(uint32(100))}, Port: &[]string{"eth0"}}

	v := model.NewInterface("bond0.10", model.TypeVlan).(*model.VlanInterface)
	v.State = model.StateUp
	v.UpPriority = 1
	v.Vlan = &model.VlanConfig{BaseIface: "bond0", ID: model.Ptr(uint16(10))}
	v.IPv4 = &model.InterfaceIP{Enabled: model.Ptr(true), Addresses: []model.InterfaceIPAddr{{IP: "192.0.2.10", PrefixLength: 24}}}

	port := model.NewInterface("eth0", model.TypeEthernet)
	port.Base().State = model.StateUp
	port.Base().UpPriority = 1
	port.Base().SetController("bond0", model.TypeBond)

	plan := newPlan()
	plan.Add.Push(v)
	plan.Add.Push(bond)
	plan.Change.Push(port)

	current := model.NewNetworkState()
	current.Interfaces.Push(model.NewInterface("eth0", model.TypeEthernet))

	require.NoError(t, k.Apply(context.Background(), plan, current))
	nl.AssertExpectations(t)
	assert.Contains(t, sys.writes, "/sys/class/net/bond0/bonding/miimon=100")
}

func TestApply_DeletesVirtualAndDeactivatesPhysical(t *testing.T) {
	dummy := &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Name: "dummy0", Index: 5}}
	eth1 := &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "eth1", Index: 6}}

	nl := new(MockNetlinker)
	nl.On("LinkByName", "dummy0").Return(dummy, nil)
	nl.On("LinkDel", dummy).Return(nil).Once()
	nl.On("LinkByName", "eth1").Return(eth1, nil)
	nl.On("LinkSetDown", eth1).Return(nil).Once()

	current := model.NewNetworkState()
	current.Interfaces.Push(model.NewInterface("dummy0", model.TypeDummy))
	current.Interfaces.Push(model.NewInterface("eth1", model.TypeEthernet))

	plan := newPlan()
	plan.Delete.Push(model.NewInterface("dummy0", model.TypeDummy))
	plan.Delete.Push(model.NewInterface("eth1", model.TypeEthernet))

	k := NewKernelWithDeps(nl, newFakeSys(), WithFs(afero.NewMemMapFs()))
	require.NoError(t, k.Apply(context.Background(), plan, current))
	nl.AssertExpectations(t)
}

func TestApply_MissingPhysicalInterface(t *testing.T) {
	nl := new(MockNetlinker)
	nl.On("LinkByName", "eth9").Return(nil, netlink.LinkNotFoundError{})

	plan := newPlan()
	plan.Add.Push(model.NewInterface("eth9", model.TypeEthernet))

	k := NewKernelWithDeps(nl, newFakeSys(), WithFs(afero.NewMemMapFs()))
	err := k.Apply(context.Background(), plan, nil)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidArgument))
}

func TestApply_AddressesAndResolver(t *testing.T) {
	eth0 := &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "eth0", Index: 2, MTU: 1500}}

	nl := new(MockNetlinker)
	nl.On("LinkByName", "eth0").Return(eth0, nil)
	nl.On("LinkSetMTU", eth0, 9000).Return(nil).Once()
	nl.On("AddrList", eth0, netlink.FAMILY_V4).Return([]netlink.Addr{
		addr("192.0.2.10/24", unix.IFA_F_PERMANENT),
		addr("192.0.2.99/24", unix.IFA_F_PERMANENT),
		addr("198.51.100.7/24", 0),
	}, nil)
	nl.On("AddrDel", eth0, mock.MatchedBy(func(a *netlink.Addr) bool {
		return a.IPNet.String() == "192.0.2.99/24"
	})).Return(nil).Once()
	nl.On("AddrAdd", eth0, mock.MatchedBy(func(a *netlink.Addr) bool {
		return a.IPNet.String() == "203.0.113.5/24"
	})).Return(nil).Once()
	nl.On("LinkSetUp", eth0).Return(nil).Once()

	dhcp := new(recordingDHCP)
	fs := afero.NewMemMapFs()
	k := NewKernelWithDeps(nl, newFakeSys(), WithFs(fs), WithDHCP(dhcp))

	eth := model.NewInterface("eth0", model.TypeEthernet)
	b := eth.Base()
	b.State = model.StateUp
	b.MTU = model.Ptr(uint64(9000))
	b.IPv4 = &model.InterfaceIP{
		Enabled: model.Ptr(true),
		DHCP:    model.Ptr(true),
		Addresses: []model.InterfaceIPAddr{
			{IP: "192.0.2.10", PrefixLength: 24},
			{IP: "203.0.113.5", PrefixLength: 24},
		},
	}

	plan := newPlan()
	plan.Change.Push(eth)
	plan.DNS = &model.DnsClientState{Server: &[]string{"192.0.2.53"}, Search: &[]string{"example.com"}}

	current := model.NewNetworkState()
	current.Interfaces.Push(model.NewInterface("eth0", model.TypeEthernet))

	require.NoError(t, k.Apply(context.Background(), plan, current))
	nl.AssertExpectations(t)
	assert.Equal(t, []string{"start eth0"}, dhcp.calls)

	data, err := afero.ReadFile(fs, DefaultResolvConf)
	require.NoError(t, err)
	assert.Contains(t, string(data), "nameserver 192.0.2.53\n")
	assert.Contains(t, string(data), "search example.com\n")
}

func TestApply_BridgePortSettingsAfterAttach(t *testing.T) {
	br0 := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: "br0", Index: 7}}
	eth0 := &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "eth0", Index: 2}}
	sys := newFakeSys()

	nl := new(MockNetlinker)
	nl.On("LinkByName", "br0").Return(br0, nil)
	nl.On("LinkByName", "eth0").Return(eth0, nil)
	nl.On("LinkSetUp", mock.Anything).Return(nil)
	var writesAtAttach []string
	nl.On("LinkSetMaster", eth0, br0).Return(nil).Once().Run(func(mock.Arguments) {
		sys.mu.Lock()
		defer sys.mu.Unlock()
		writesAtAttach = append([]string(nil), sys.writes...)
	})
	nl.On("BridgeVlanList").Return(map[int32][]BridgeVlan{
		2: {{Vid: 1, PVID: true, Untagged: true}},
	}, nil).Once()
	nl.On("BridgeVlanDel", eth0, uint16(1)).Return(nil).Once()
	nl.On("BridgeVlanAdd", eth0, uint16(10), true, true).Return(nil).Once()

	br := model.NewInterface("br0", model.TypeLinuxBridge).(*model.LinuxBridgeInterface)
	br.State = model.StateUp
	br.Bridge = &model.LinuxBridgeConfig{Port: &[]model.LinuxBridgePortConfig{{
		Name:        "eth0",
		StpPathCost: model.Ptr(uint32(100)),
		Vlan:        &model.BridgePortVlanConfig{Tag: model.Ptr(uint16(10))},
	}}}
	port := model.NewInterface("eth0", model.TypeEthernet)
	port.Base().State = model.StateUp
	port.Base().UpPriority = 1
	port.Base().SetController("br0", model.TypeLinuxBridge)

	plan := newPlan()
	plan.Change.Push(port)
	plan.Change.Push(br)

	current := model.NewNetworkState()
	current.Interfaces.Push(model.NewInterface("br0", model.TypeLinuxBridge))
	current.Interfaces.Push(model.NewInterface("eth0", model.TypeEthernet))

	k := NewKernelWithDeps(nl, sys, WithFs(afero.NewMemMapFs()))
	require.NoError(t, k.Apply(context.Background(), plan, current))
	nl.AssertExpectations(t)

	assert.Equal(t, []string{"/sys/class/net/br0/bridge/vlan_filtering=1"}, writesAtAttach,
		"port settings must wait for the port to be attached")
	assert.Equal(t, []string{
		"/sys/class/net/br0/bridge/vlan_filtering=1",
		"/sys/class/net/eth0/brport/path_cost=100",
	}, sys.writes)
}

func TestPortVlans(t *testing.T) {
	tests := []struct {
		name string
		cfg  *model.BridgePortVlanConfig
		want []BridgeVlan
	}{
		{"access", &model.BridgePortVlanConfig{Tag: model.Ptr(uint16(10))},
			[]BridgeVlan{{Vid: 10, PVID: true, Untagged: true}}},
		{"trunk", &model.BridgePortVlanConfig{Mode: model.Ptr(model.BridgeVlanTrunk), Tag: model.Ptr(uint16(20))},
			[]BridgeVlan{{Vid: 1, PVID: true, Untagged: true}, {Vid: 20}}},
		{"no tag", &model.BridgePortVlanConfig{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := portVlans(tt.cfg)
			assert.Equal(t, tt.want, got)
			if got != nil {
				back := portVlanConfig(got)
				assert.Equal(t, tt.cfg.LinuxMode(), back.LinuxMode())
				assert.Equal(t, *tt.cfg.Tag, *back.Tag)
			}
		})
	}
}

func TestApply_SrIovResetsBeforeResize(t *testing.T) {
	eth0 := &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "eth0", Index: 2}}
	nl := new(MockNetlinker)
	nl.On("LinkByName", "eth0").Return(eth0, nil)
	nl.On("LinkSetUp", eth0).Return(nil).Once()

	eth := model.NewInterface("eth0", model.TypeEthernet).(*model.EthernetInterface)
	eth.Ethernet = &model.EthernetConfig{SrIov: &model.SrIovConfig{TotalVfs: model.Ptr(uint32(4))}}

	cur := model.NewInterface("eth0", model.TypeEthernet).(*model.EthernetInterface)
	cur.Ethernet = &model.EthernetConfig{SrIov: &model.SrIovConfig{TotalVfs: model.Ptr(uint32(2))}}
	current := model.NewNetworkState()
	current.Interfaces.Push(cur)

	plan := newPlan()
	plan.Change.Push(eth)

	sys := newFakeSys()
	k := NewKernelWithDeps(nl, sys, WithFs(afero.NewMemMapFs()))
	require.NoError(t, k.Apply(context.Background(), plan, current))
	assert.Equal(t, []string{
		"/sys/class/net/eth0/device/sriov_numvfs=0",
		"/sys/class/net/eth0/device/sriov_numvfs=4",
	}, sys.writes)
}

func TestNeedsRecreate(t *testing.T) {
	mk := func(id uint16) *model.VlanInterface {
		v := model.NewInterface("eth0.10", model.TypeVlan).(*model.VlanInterface)
		v.Vlan = &model.VlanConfig{BaseIface: "eth0", ID: model.Ptr(id)}
		return v
	}
	assert.False(t, needsRecreate(mk(10), mk(10)))
	assert.True(t, needsRecreate(mk(20), mk(10)))

	mv := func(mode string, promisc bool) *model.MacVlanInterface {
		v := model.NewInterface("mv0", model.TypeMacVlan).(*model.MacVlanInterface)
		v.MacVlan = &model.MacVlanConfig{BaseIface: "eth0", Mode: model.Ptr(mode), Promiscuous: model.Ptr(promisc)}
		return v
	}
	assert.False(t, needsRecreate(mv("bridge", true), mv("bridge", false)))
	assert.True(t, needsRecreate(mv("vepa", true), mv("bridge", true)))
}

type recordingDHCP struct {
	calls []string
}

func (r *recordingDHCP) Start(iface string) error {
	r.calls = append(r.calls, "start "+iface)
	return nil
}

func (r *recordingDHCP) Stop(iface string) error {
	r.calls = append(r.calls, "stop "+iface)
	return nil
}
