package ovs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nserrors "grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/model"
	"grimm.is/netstate/internal/reconcile"
)

func emptyPlan() *reconcile.Plan {
	return &reconcile.Plan{
		Add:    model.NewInterfaces(),
		Change: model.NewInterfaces(),
		Delete: model.NewInterfaces(),
	}
}

func ovsBridge(name string, ports ...model.OvsBridgePortConfig) *model.OvsBridgeInterface {
	br := model.NewInterface(name, model.TypeOvsBridge).(*model.OvsBridgeInterface)
	br.Bridge = &model.OvsBridgeConfig{Port: &ports}
	return br
}

func internalPort(name, bridge string) *model.OvsInterface {
	oi := model.NewInterface(name, model.TypeOvsInterface).(*model.OvsInterface)
	oi.SetController(bridge, model.TypeOvsBridge)
	return oi
}

func TestApply_NothingForOvs(t *testing.T) {
	exec := &scriptedExec{}
	plan := emptyPlan()
	plan.Add.Push(model.NewInterface("dummy0", model.TypeDummy))

	require.NoError(t, newTestVsctl(exec, true).Apply(context.Background(), plan, nil))
	assert.Empty(t, exec.calls)
}

func TestApply_NewBridge(t *testing.T) {
	exec := &scriptedExec{}
	br := ovsBridge("br0",
		model.OvsBridgePortConfig{Name: "eth1", Vlan: &model.BridgePortVlanConfig{Mode: model.Ptr("access"), Tag: model.Ptr(uint16(10))}},
		model.OvsBridgePortConfig{Name: "ovs0"},
		model.OvsBridgePortConfig{Name: "patch0"},
	)
	br.Bridge.Options = &model.OvsBridgeOptions{Stp: model.Ptr(true), FailMode: model.Ptr("secure")}
	patch := internalPort("patch0", "br0")
	patch.Patch = &model.OvsPatchConfig{Peer: "patch1"}

	plan := emptyPlan()
	plan.Add.Push(br)
	plan.Add.Push(internalPort("ovs0", "br0"))
	plan.Add.Push(patch)

	require.NoError(t, newTestVsctl(exec, true).Apply(context.Background(), plan, model.NewNetworkState()))
	require.Len(t, exec.calls, 1)
	assert.Equal(t, "ovs-vsctl --timeout=30"+
		" -- --may-exist add-br br0"+
		" -- set Bridge br0 stp_enable=true fail_mode=secure"+
		" -- --may-exist add-port br0 eth1"+
		" -- set Port eth1 vlan_mode=access tag=10"+
		" -- --may-exist add-port br0 ovs0"+
		" -- set Interface ovs0 type=internal"+
		" -- --may-exist add-port br0 patch0"+
		" -- set Interface patch0 type=patch options:peer=patch1",
		exec.calls[0])
}

func TestApply_ChangedBridgeRemovesStalePorts(t *testing.T) {
	exec := &scriptedExec{}
	current := model.NewNetworkState()
	current.Interfaces.Push(ovsBridge("br0",
		model.OvsBridgePortConfig{Name: "eth1"},
		model.OvsBridgePortConfig{Name: "eth2"},
	))

	plan := emptyPlan()
	plan.Change.Push(ovsBridge("br0", model.OvsBridgePortConfig{Name: "eth1"}))

	require.NoError(t, newTestVsctl(exec, true).Apply(context.Background(), plan, current))
	require.Len(t, exec.calls, 1)
	assert.Equal(t, "ovs-vsctl --timeout=30 -- --may-exist add-br br0 -- --if-exists del-port br0 eth2", exec.calls[0])
}

func TestApply_DeletesBridgeAndOrphanPorts(t *testing.T) {
	exec := &scriptedExec{}
	current := model.NewNetworkState()
	current.Interfaces.Push(ovsBridge("br0", model.OvsBridgePortConfig{Name: "ovs0"}))
	current.Interfaces.Push(internalPort("ovs0", "br0"))
	current.Interfaces.Push(internalPort("ovs1", "br1"))

	plan := emptyPlan()
	plan.Delete.Push(model.NewInterface("br0", model.TypeOvsBridge))
	plan.Delete.Push(model.NewInterface("ovs0", model.TypeOvsInterface))
	plan.Delete.Push(model.NewInterface("ovs1", model.TypeOvsInterface))

	require.NoError(t, newTestVsctl(exec, true).Apply(context.Background(), plan, current))
	assert.Equal(t, []string{"ovs-vsctl --timeout=30 -- --if-exists del-br br0 -- --if-exists del-port ovs1"}, exec.calls)
}

func TestApply_GlobalConfig(t *testing.T) {
	exec := &scriptedExec{}
	plan := emptyPlan()
	plan.OvsDB = &model.OvsDbGlobalConfig{
		ExternalIDs: map[string]*string{"system-id": model.Ptr("node1"), "stale": nil},
		OtherConfig: map[string]*string{"stats-update-interval": model.Ptr("5000")},
	}

	require.NoError(t, newTestVsctl(exec, true).Apply(context.Background(), plan, nil))
	assert.Equal(t, []string{"ovs-vsctl --timeout=30" +
		" -- --if-exists remove Open_vSwitch . external_ids stale" +
		` -- set Open_vSwitch . external_ids:system-id="node1"` +
		` -- set Open_vSwitch . other_config:stats-update-interval="5000"`}, exec.calls)
}

func TestApply_InvalidVlanMode(t *testing.T) {
	exec := &scriptedExec{}
	plan := emptyPlan()
	plan.Add.Push(ovsBridge("br0", model.OvsBridgePortConfig{
		Name: "eth1", Vlan: &model.BridgePortVlanConfig{Mode: model.Ptr("dot1q-tunnel")},
	}))

	err := newTestVsctl(exec, true).Apply(context.Background(), plan, nil)
	require.Error(t, err)
	assert.True(t, nserrors.IsKind(err, nserrors.KindInvalidArgument))
	assert.Empty(t, exec.calls)
}

func TestApply_TransactionFailure(t *testing.T) {
	exec := &scriptedExec{fail: "add-br"}
	plan := emptyPlan()
	plan.Add.Push(ovsBridge("br0"))

	err := newTestVsctl(exec, true).Apply(context.Background(), plan, nil)
	require.Error(t, err)
	assert.True(t, nserrors.IsKind(err, nserrors.KindPluginFailure))
}

func TestApply_InvalidPortName(t *testing.T) {
	exec := &scriptedExec{}
	plan := emptyPlan()
	plan.Add.Push(ovsBridge("br0", model.OvsBridgePortConfig{Name: "eth1;reboot"}))

	err := newTestVsctl(exec, true).Apply(context.Background(), plan, nil)
	require.Error(t, err)
	assert.True(t, nserrors.IsKind(err, nserrors.KindInvalidArgument))
	assert.Empty(t, exec.calls)
}
