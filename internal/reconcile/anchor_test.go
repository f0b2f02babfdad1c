package reconcile

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/model"
)

const twoStaticHosts = `
interfaces:
- name: eth0
  type: ethernet
  state: up
  ipv4:
    enabled: true
    address:
    - ip: 192.0.2.10
      prefix-length: 24
- name: eth1
  type: ethernet
  state: up
  ipv4:
    enabled: true
    address:
    - ip: 198.51.100.10
      prefix-length: 24
  ipv6:
    enabled: true
    address:
    - ip: 2001:db8::10
      prefix-length: 64
`

func TestBuild_RoutesAnchoredOnUntouchedInterface(t *testing.T) {
	current := decodeState(t, twoStaticHosts)
	desired := decodeState(t, `
routes:
  config:
  - destination: 203.0.113.0/24
    next-hop-interface: eth0
    next-hop-address: 192.0.2.1
`)
	plan, err := Build(desired, current, Options{})
	require.NoError(t, err)
	assert.True(t, plan.RoutesChanged)
	require.Len(t, plan.Routes, 1)

	eth0 := plan.Change.GetKernel("eth0")
	require.NotNil(t, eth0, "synthesised change entry")
	ip := eth0.Base().IPv4
	require.NotNil(t, ip)
	require.NotNil(t, ip.Routes)
	assert.Len(t, *ip.Routes, 1)
	// The current addresses travel with the synthesised entry.
	require.Len(t, ip.Addresses, 1)
	assert.Equal(t, "192.0.2.10", ip.Addresses[0].IP)
	assert.Nil(t, eth0.Base().IPv6)
	assert.Nil(t, plan.Change.GetKernel("eth1"))
}

func TestBuild_AbsentRouteRemoves(t *testing.T) {
	current := decodeState(t, twoStaticHosts+`
routes:
  config:
  - destination: 203.0.113.0/24
    next-hop-interface: eth0
    next-hop-address: 192.0.2.1
  - destination: 2001:db8:1::/64
    next-hop-interface: eth1
`)
	desired := decodeState(t, `
routes:
  config:
  - state: absent
    next-hop-interface: eth0
`)
	plan, err := Build(desired, current, Options{})
	require.NoError(t, err)
	assert.True(t, plan.RoutesChanged)
	require.Len(t, plan.Routes, 1)
	assert.Equal(t, "eth1", plan.Routes[0].Iface())

	eth0 := plan.Change.GetKernel("eth0")
	require.NotNil(t, eth0)
	require.NotNil(t, eth0.Base().IPv4.Routes)
	assert.Empty(t, *eth0.Base().IPv4.Routes)
	assert.Nil(t, plan.Change.GetKernel("eth1"))
}

func TestBuild_RouteValidation(t *testing.T) {
	current := decodeState(t, twoStaticHosts)
	cases := map[string]string{
		"missing interface": `
routes:
  config:
  - destination: 203.0.113.0/24
    next-hop-interface: eth9
`,
		"family disabled": `
routes:
  config:
  - destination: 2001:db8:2::/64
    next-hop-interface: eth0
`,
		"interface removed": `
interfaces:
- name: eth0
  type: ethernet
  state: absent
routes:
  config:
  - destination: 203.0.113.0/24
    next-hop-interface: eth0
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Build(decodeState(t, doc), current, Options{})
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindInvalidArgument), err.Error())
		})
	}
}

func TestBuild_RulesFollowTableOwner(t *testing.T) {
	current := decodeState(t, twoStaticHosts+`
routes:
  config:
  - destination: 0.0.0.0/0
    next-hop-interface: eth1
    next-hop-address: 198.51.100.1
    table-id: 100
`)
	desired := decodeState(t, `
route-rules:
  config:
  - ip-from: 10.0.0.0/8
    route-table: 100
  - ip-to: 192.0.2.0/24
    priority: 500
`)
	plan, err := Build(desired, current, Options{})
	require.NoError(t, err)
	assert.True(t, plan.RulesChanged)
	assert.False(t, plan.RoutesChanged)

	eth1 := plan.Change.GetKernel("eth1")
	require.NotNil(t, eth1)
	require.NotNil(t, eth1.Base().IPv4.Rules)
	require.Len(t, *eth1.Base().IPv4.Rules, 1)
	assert.Equal(t, uint32(100), (*eth1.Base().IPv4.Rules)[0].Table())
	assert.Nil(t, eth1.Base().IPv6, "no ipv6 rules were requested")

	// Main table rules land on the first interface with the family.
	eth0 := plan.Change.GetKernel("eth0")
	require.NotNil(t, eth0)
	require.Len(t, *eth0.Base().IPv4.Rules, 1)
	assert.Equal(t, model.RouteTableMain, (*eth0.Base().IPv4.Rules)[0].Table())
}

func TestBuild_RuleForVrfTable(t *testing.T) {
	current := decodeState(t, twoStaticHosts+`
- name: vrf1
  type: vrf
  state: up
  vrf:
    route-table-id: 200
`)
	desired := decodeState(t, `
route-rules:
  config:
  - ip-from: 10.1.0.0/16
    route-table: 200
`)
	plan, err := Build(desired, current, Options{})
	require.NoError(t, err)
	vrf := plan.Change.GetKernel("vrf1")
	require.NotNil(t, vrf)
	require.NotNil(t, vrf.Base().IPv4)
	require.Len(t, *vrf.Base().IPv4.Rules, 1)
}

func TestBuild_DNSSplitByFamily(t *testing.T) {
	current := decodeState(t, twoStaticHosts)
	desired := decodeState(t, `
dns-resolver:
  config:
    server: [192.0.2.53, 2001:db8::53]
    search: [example.com]
`)
	plan, err := Build(desired, current, Options{})
	require.NoError(t, err)
	require.NotNil(t, plan.DNS)
	if diff := cmp.Diff([]string{"192.0.2.53", "2001:db8::53"}, plan.DNS.Servers()); diff != "" {
		t.Errorf("servers (-want +got):\n%s", diff)
	}

	v4 := plan.Change.GetKernel("eth0").Base().IPv4.DNS
	require.NotNil(t, v4)
	assert.Equal(t, []string{"192.0.2.53"}, v4.Servers())
	assert.Equal(t, []string{"example.com"}, v4.Searches())

	v6 := plan.Change.GetKernel("eth1").Base().IPv6.DNS
	require.NotNil(t, v6)
	assert.Equal(t, []string{"2001:db8::53"}, v6.Servers())
	assert.Nil(t, v6.Search)
}

func TestBuild_DNSSearchFollowsFirstServerFamily(t *testing.T) {
	current := decodeState(t, twoStaticHosts)
	desired := decodeState(t, `
dns-resolver:
  config:
    server: [2001:db8::53, 192.0.2.53]
    search: [example.com]
`)
	plan, err := Build(desired, current, Options{})
	require.NoError(t, err)
	v6 := plan.Change.GetKernel("eth1").Base().IPv6.DNS
	require.NotNil(t, v6.Search)
	assert.Equal(t, []string{"example.com"}, *v6.Search)
	v4 := plan.Change.GetKernel("eth0").Base().IPv4.DNS
	assert.Nil(t, v4.Search)
}

func TestBuild_DNSRejectsInterleavedFamilies(t *testing.T) {
	current := decodeState(t, twoStaticHosts)
	for _, doc := range []string{
		"dns-resolver:\n  config:\n    server: [2001:db8::1, 192.0.2.1, 2001:db8::2]\n",
		"dns-resolver:\n  config:\n    server: [192.0.2.1, 2001:db8::1, 192.0.2.2]\n",
		"dns-resolver:\n  config:\n    server: [not-an-ip]\n",
		"dns-resolver:\n  config:\n    server: [192.0.2.1%eth0]\n",
		"dns-resolver:\n  config:\n    search: [\"bad..example.com\"]\n",
	} {
		_, err := Build(decodeState(t, doc), current, Options{})
		require.Error(t, err, doc)
		assert.True(t, errors.IsKind(err, errors.KindInvalidArgument), doc)
	}
	assert.NoError(t, ValidateDNS(&model.DnsClientState{
		Server: &[]string{"fe80::1%eth1", "2001:db8::1", "192.0.2.1"},
	}))
}

func TestBuild_DNSMovesWhenHolderGoesDynamic(t *testing.T) {
	current := decodeState(t, twoStaticHosts+`
dns-resolver:
  config:
    server: [192.0.2.53]
`)
	desired := decodeState(t, `
interfaces:
- name: eth0
  type: ethernet
  state: up
  ipv4:
    enabled: true
    dhcp: true
`)
	plan, err := Build(desired, current, Options{})
	require.NoError(t, err)

	eth1 := plan.Change.GetKernel("eth1")
	require.NotNil(t, eth1)
	assert.Equal(t, []string{"192.0.2.53"}, eth1.Base().IPv4.DNS.Servers())

	eth0 := plan.Change.GetKernel("eth0")
	require.NotNil(t, eth0.Base().IPv4.DNS)
	assert.True(t, eth0.Base().IPv4.DNS.IsPurge())
}

func TestBuild_DNSUnchangedIsNoop(t *testing.T) {
	doc := twoStaticHosts + `
dns-resolver:
  config:
    server: [192.0.2.53]
    search: [example.com]
`
	plan, err := Build(decodeState(t, doc), decodeState(t, doc), Options{})
	require.NoError(t, err)
	assert.Nil(t, plan.DNS)
	assert.True(t, plan.IsEmpty(), plan.Summary())
}

func TestBuild_DNSFromLeaseLeftAlone(t *testing.T) {
	current := decodeState(t, `
interfaces:
- name: eth0
  type: ethernet
  state: up
  ipv4:
    enabled: true
    dhcp: true
  ipv6:
    enabled: false
dns-resolver:
  config:
    server: [192.0.2.53]
`)
	desired := decodeState(t, `
interfaces:
- name: dummy0
  type: dummy
  state: up
`)
	plan, err := Build(desired, current, Options{})
	require.NoError(t, err)
	assert.Nil(t, plan.DNS)
	assert.Nil(t, plan.Change.GetKernel("eth0"))

	// Restating the leased config is not a request to re-anchor it either.
	desired.DNS = &model.DnsState{Config: current.DNSConfig().Clone()}
	plan, err = Build(desired, current, Options{})
	require.NoError(t, err)
	assert.Nil(t, plan.DNS)
}

func TestBuild_HostnameAndOvsDB(t *testing.T) {
	current := decodeState(t, `
hostname:
  running: old
ovs-db:
  external_ids:
    hostname: old
    stale: x
`)
	desired := decodeState(t, `
hostname:
  config: new
ovs-db:
  external_ids:
    hostname: old
    stale: null
`)
	plan, err := Build(desired, current, Options{})
	require.NoError(t, err)
	require.NotNil(t, plan.Hostname)
	assert.Equal(t, "new", *plan.Hostname)
	require.NotNil(t, plan.OvsDB)
	assert.Nil(t, plan.OvsDB.ExternalIDs["stale"])

	current.OvsDB.ExternalIDs = map[string]*string{"hostname": model.Ptr("old")}
	current.Hostname.Running = model.Ptr("new")
	plan, err = Build(desired, current, Options{})
	require.NoError(t, err)
	assert.True(t, plan.IsEmpty(), plan.Summary())
}
