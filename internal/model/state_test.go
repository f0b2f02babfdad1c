package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"grimm.is/netstate/internal/errors"
)

const sampleState = `
hostname:
  config: node1
dns-resolver:
  config:
    server:
    - 192.0.2.53
    search:
    - example.com
routes:
  config:
  - destination: 0.0.0.0/0
    next-hop-interface: bond0
    next-hop-address: 192.0.2.1
route-rules:
  config:
  - ip-from: 198.51.100.0/24
    route-table: 100
interfaces:
- name: bond0
  type: bond
  state: up
  mtu: 9000
  ipv4:
    enabled: true
    address:
    - ip: 192.0.2.10
      prefix-length: 24
  link-aggregation:
    mode: active-backup
    options:
      miimon: 100
    port:
    - eth1
    - eth2
- name: br-ex
  type: ovs-bridge
  bridge:
    port:
    - name: br-ex
- name: br-ex
  type: ovs-interface
  controller: br-ex
- name: old0
  type: dummy
  state: absent
  mtu: 1400
`

func TestDecodeState(t *testing.T) {
	ns, err := Decode([]byte(sampleState))
	require.NoError(t, err)

	assert.Equal(t, []string{"bond0", "br-ex", "br-ex", "old0"}, ns.Interfaces.Names())

	bond, ok := ns.Interfaces.GetKernel("bond0").(*BondInterface)
	require.True(t, ok)
	assert.Equal(t, BondModeActiveBackup, bond.Mode())
	ports, specified := Ports(bond)
	assert.True(t, specified)
	assert.Equal(t, []string{"eth1", "eth2"}, ports)
	assert.Equal(t, uint64(9000), *bond.MTU)

	assert.IsType(t, &OvsBridgeInterface{}, ns.Interfaces.GetUser("br-ex", TypeOvsBridge))
	assert.IsType(t, &OvsInterface{}, ns.Interfaces.GetKernel("br-ex"))
	assert.Len(t, ns.Interfaces.ByName("br-ex"), 2)

	old := ns.Interfaces.GetKernel("old0")
	require.NotNil(t, old)
	assert.True(t, old.Base().IsAbsent())
	assert.Nil(t, old.Base().MTU, "absent records keep only name, type and state")

	assert.Equal(t, "node1", *ns.Hostname.Config)
	assert.Equal(t, []string{"192.0.2.53"}, ns.DNSConfig().Servers())
	assert.Equal(t, uint32(100), ns.RuleConfig()[0].Table())
	assert.Equal(t, RouteTableMain, ns.RouteConfig()[0].Table())
}

func TestDecodeRejectsUnknownTopLevelKey(t *testing.T) {
	_, err := Decode([]byte("interfaces: []\nfirewall: {}\n"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidArgument))
}

func TestDecodeRejectsUnknownInterfaceField(t *testing.T) {
	_, err := Decode([]byte("interfaces:\n- name: eth0\n  type: ethernet\n  bogus: 1\n"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidArgument))
}

func TestDecodeRejectsDuplicateInterface(t *testing.T) {
	_, err := Decode([]byte("interfaces:\n- name: eth0\n  type: ethernet\n- name: eth0\n  type: ethernet\n"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidArgument))
}

func TestUnknownTypeKeepsExtraBlocks(t *testing.T) {
	ns, err := Decode([]byte("interfaces:\n- name: team0\n  type: team\n  team:\n    runner: lacp\n"))
	require.NoError(t, err)
	iface, ok := ns.Interfaces.GetKernel("team0").(*UnknownInterface)
	require.True(t, ok)
	assert.Contains(t, iface.Other, "team")
}

func TestRoundTripEmitsOnlyGivenFields(t *testing.T) {
	ns, err := Decode([]byte("interfaces:\n- name: eth0\n  type: ethernet\n  state: up\n"))
	require.NoError(t, err)

	out, err := yaml.Marshal(ns.Interfaces.GetKernel("eth0"))
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &fields))
	assert.Equal(t, map[string]interface{}{"name": "eth0", "type": "ethernet", "state": "up"}, fields)
}

func TestEncodeDecodeDocument(t *testing.T) {
	ns, err := Decode([]byte(sampleState))
	require.NoError(t, err)
	data, err := Encode(ns)
	require.NoError(t, err)

	again, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, ns.Interfaces.Names(), again.Interfaces.Names())
	assert.Empty(t, Diff(ns.Interfaces.GetKernel("bond0"), again.Interfaces.GetKernel("bond0")))
}

func TestCloneSharesNothing(t *testing.T) {
	ns, err := Decode([]byte(sampleState))
	require.NoError(t, err)
	clone := ns.Clone()

	bond := clone.Interfaces.GetKernel("bond0").(*BondInterface)
	*bond.MTU = 1500
	(*bond.Bond.Port)[0] = "eth9"

	orig := ns.Interfaces.GetKernel("bond0").(*BondInterface)
	assert.Equal(t, uint64(9000), *orig.MTU)
	assert.Equal(t, "eth1", (*orig.Bond.Port)[0])
}

func TestMergeOverlaysFields(t *testing.T) {
	kernel := NewNetworkState()
	eth := &EthernetInterface{BaseInterface: BaseInterface{Name: "eth1", Type: TypeEthernet, State: StateUp, MTU: Ptr(uint64(1500))}}
	kernel.Interfaces.Push(eth)

	ovs := NewNetworkState()
	ovs.Interfaces.Push(&UnknownInterface{BaseInterface: BaseInterface{Name: "eth1", Controller: Ptr("br-ex")}})
	ovs.Interfaces.Push(&OvsBridgeInterface{BaseInterface: BaseInterface{Name: "br-ex", Type: TypeOvsBridge, State: StateUp}})

	merged, err := Merge(kernel, ovs)
	require.NoError(t, err)

	got := merged.Interfaces.GetKernel("eth1")
	require.IsType(t, &EthernetInterface{}, got)
	assert.Equal(t, "br-ex", got.Base().ControllerName())
	assert.Equal(t, uint64(1500), *got.Base().MTU)
	assert.NotNil(t, merged.Interfaces.GetUser("br-ex", TypeOvsBridge))
}

func TestConvertType(t *testing.T) {
	ns, err := Decode([]byte("interfaces:\n- name: br0\n  bridge:\n    port:\n    - name: eth1\n"))
	require.NoError(t, err)
	unknown := ns.Interfaces.GetKernel("br0")
	require.IsType(t, &UnknownInterface{}, unknown)

	br, err := ConvertType(unknown, TypeLinuxBridge)
	require.NoError(t, err)
	ports, ok := Ports(br)
	assert.True(t, ok)
	assert.Equal(t, []string{"eth1"}, ports)

	_, err = ConvertType(unknown, TypeVlan)
	assert.True(t, errors.IsKind(err, errors.KindInvalidArgument))
}
