package ovs

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/model"
	"grimm.is/netstate/internal/reconcile"
	"grimm.is/netstate/internal/validation"
)

// Apply implements netstate.StateSink. Each bridge is written in one
// ovs-vsctl transaction. System ports may be added before their kernel
// device exists; OVS attaches them once it appears.
func (v *Vsctl) Apply(ctx context.Context, plan *reconcile.Plan, current *model.NetworkState) error {
	if plan == nil || !touchesOvs(plan) {
		return nil
	}
	if current == nil {
		current = model.NewNetworkState()
	}

	deletedBridges := make(map[string]bool)
	for _, iface := range plan.Delete.List() {
		if iface.Base().Type == model.TypeOvsBridge {
			deletedBridges[iface.Base().Name] = true
		}
	}
	var cmds [][]string
	for _, name := range model.SortedNames(deletedBridges) {
		cmds = append(cmds, []string{"--if-exists", "del-br", name})
	}
	for _, iface := range plan.Delete.List() {
		if iface.Base().Type != model.TypeOvsInterface {
			continue
		}
		cur := current.Interfaces.GetKernel(iface.Base().Name)
		if cur != nil && deletedBridges[cur.Base().ControllerName()] {
			continue
		}
		cmds = append(cmds, []string{"--if-exists", "del-port", iface.Base().Name})
	}
	if err := v.transact(cmds); err != nil {
		return err
	}
	for _, name := range model.SortedNames(deletedBridges) {
		v.log.Info("bridge deleted", "bridge", name)
	}

	desired := model.NewInterfaces()
	for _, iface := range append(plan.Add.List(), plan.Change.List()...) {
		desired.Push(iface)
	}
	for _, iface := range desired.List() {
		if err := ctx.Err(); err != nil {
			return err
		}
		br, ok := iface.(*model.OvsBridgeInterface)
		if !ok {
			continue
		}
		var cur *model.OvsBridgeInterface
		if c, ok := current.Interfaces.GetUser(br.Name, model.TypeOvsBridge).(*model.OvsBridgeInterface); ok {
			cur = c
		}
		cmds, err := bridgeCommands(br, cur, desired, current.Interfaces)
		if err != nil {
			return err
		}
		if err := v.transact(cmds); err != nil {
			return err
		}
		v.log.Info("bridge configured", "bridge", br.Name, "commands", len(cmds))
	}

	// Interfaces changed on a bridge the plan does not touch.
	var ifaceCmds [][]string
	for _, iface := range plan.Change.List() {
		oi, ok := iface.(*model.OvsInterface)
		if !ok || desired.GetUser(oi.ControllerName(), model.TypeOvsBridge) != nil {
			continue
		}
		ifaceCmds = append(ifaceCmds, interfaceCommands(oi)...)
	}
	if err := v.transact(ifaceCmds); err != nil {
		return err
	}

	if plan.OvsDB != nil {
		if err := v.transact(globalCommands(plan.OvsDB)); err != nil {
			return err
		}
		v.log.Info("ovs global config updated",
			"external_ids", len(plan.OvsDB.ExternalIDs), "other_config", len(plan.OvsDB.OtherConfig))
	}
	return nil
}

func touchesOvs(plan *reconcile.Plan) bool {
	if plan.OvsDB != nil {
		return true
	}
	for _, set := range []*model.Interfaces{plan.Add, plan.Change, plan.Delete} {
		for _, iface := range set.List() {
			switch iface.Base().Type {
			case model.TypeOvsBridge, model.TypeOvsInterface:
				return true
			}
		}
	}
	return false
}

func bridgeCommands(br, cur *model.OvsBridgeInterface, desired, current *model.Interfaces) ([][]string, error) {
	name := br.Name
	if err := validation.ValidateInterfaceName(name); err != nil {
		return nil, errors.Attr(err, "interface", name)
	}
	if ports, ok := model.Ports(br); ok {
		for _, p := range ports {
			if err := validation.ValidateInterfaceName(p); err != nil {
				return nil, errors.Attr(err, "interface", name)
			}
		}
	}
	cmds := [][]string{{"--may-exist", "add-br", name}}

	if br.Bridge != nil && br.Bridge.Options != nil {
		o := br.Bridge.Options
		var set []string
		for _, f := range []struct {
			col string
			val *bool
		}{
			{"stp_enable", o.Stp},
			{"rstp_enable", o.Rstp},
			{"mcast_snooping_enable", o.McastSnooping},
		} {
			if f.val != nil {
				set = append(set, fmt.Sprintf("%s=%t", f.col, *f.val))
			}
		}
		if o.FailMode != nil && *o.FailMode != "" {
			set = append(set, "fail_mode="+*o.FailMode)
		}
		if len(set) > 0 {
			cmds = append(cmds, append([]string{"set", "Bridge", name}, set...))
		}
		if o.FailMode != nil && *o.FailMode == "" {
			cmds = append(cmds, []string{"clear", "Bridge", name, "fail_mode"})
		}
	}

	if br.Bridge == nil || br.Bridge.Port == nil {
		return cmds, nil
	}
	have := make(map[string]bool)
	if cur != nil {
		names, _ := model.Ports(cur)
		for _, p := range names {
			have[p] = true
		}
	}
	want := make(map[string]bool, len(*br.Bridge.Port))
	for _, p := range *br.Bridge.Port {
		want[p.Name] = true
		if !have[p.Name] {
			cmds = append(cmds, []string{"--may-exist", "add-port", name, p.Name})
		}
		iface := desired.GetKernel(p.Name)
		if iface == nil {
			iface = current.GetKernel(p.Name)
		}
		if oi, ok := iface.(*model.OvsInterface); ok {
			cmds = append(cmds, interfaceCommands(oi)...)
		}
		vlan, err := portVlanCommands(p)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, vlan...)
	}
	stale := make(map[string]bool)
	for p := range have {
		if !want[p] && p != name {
			stale[p] = true
		}
	}
	for _, p := range model.SortedNames(stale) {
		cmds = append(cmds, []string{"--if-exists", "del-port", name, p})
	}
	return cmds, nil
}

func interfaceCommands(oi *model.OvsInterface) [][]string {
	switch {
	case oi.Patch != nil:
		return [][]string{{"set", "Interface", oi.Name, "type=" + ifacePatch, "options:peer=" + oi.Patch.Peer}}
	case oi.Dpdk != nil:
		return [][]string{{"set", "Interface", oi.Name, "type=" + ifaceDpdk, "options:dpdk-devargs=" + oi.Dpdk.Devargs}}
	}
	return [][]string{{"set", "Interface", oi.Name, "type=" + ifaceInternal}}
}

func portVlanCommands(p model.OvsBridgePortConfig) ([][]string, error) {
	if p.Vlan == nil {
		return nil, nil
	}
	var set []string
	if p.Vlan.Mode != nil {
		switch *p.Vlan.Mode {
		case "access", "trunk", "native-tagged", "native-untagged":
		default:
			return nil, errors.Attr(errors.Errorf(errors.KindInvalidArgument,
				"unsupported OVS port vlan mode %q on %s", *p.Vlan.Mode, p.Name), "interface", p.Name)
		}
		set = append(set, "vlan_mode="+*p.Vlan.Mode)
	}
	if p.Vlan.Tag != nil {
		set = append(set, "tag="+strconv.FormatUint(uint64(*p.Vlan.Tag), 10))
	}
	if len(set) == 0 {
		return [][]string{{"clear", "Port", p.Name, "tag", "vlan_mode"}}, nil
	}
	return [][]string{append([]string{"set", "Port", p.Name}, set...)}, nil
}

func globalCommands(cfg *model.OvsDbGlobalConfig) [][]string {
	var cmds [][]string
	for _, col := range []struct {
		name string
		m    map[string]*string
	}{
		{"external_ids", cfg.ExternalIDs},
		{"other_config", cfg.OtherConfig},
	} {
		keys := make([]string, 0, len(col.m))
		for k := range col.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if val := col.m[k]; val == nil {
				cmds = append(cmds, []string{"--if-exists", "remove", "Open_vSwitch", ".", col.name, k})
			} else {
				cmds = append(cmds, []string{"set", "Open_vSwitch", ".", fmt.Sprintf("%s:%s=%q", col.name, k, *val)})
			}
		}
	}
	return cmds
}
