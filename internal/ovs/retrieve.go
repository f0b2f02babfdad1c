package ovs

import (
	"context"
	"strconv"

	"grimm.is/netstate/internal/model"
	"grimm.is/netstate/internal/netstate"
)

// OVS interface types as stored in the Interface table.
const (
	ifaceInternal = "internal"
	ifacePatch    = "patch"
	ifaceDpdk     = "dpdk"
	ifaceSystem   = "system"
)

type ovsIface struct {
	name    string
	typ     string
	options map[string]string
}

type ovsPort struct {
	name     string
	ifaces   []string
	tag      string
	vlanMode string
}

// Retrieve implements netstate.StateSource. Without ovs-vsctl it reports
// nothing.
func (v *Vsctl) Retrieve(ctx context.Context, _ netstate.RetrieveOptions) (*model.NetworkState, error) {
	ns := model.NewNetworkState()
	if !v.Available() {
		v.log.Debug("ovs-vsctl not found, skipping OVS state")
		return ns, nil
	}

	ifaces, err := v.interfaces()
	if err != nil {
		return nil, err
	}
	ports, err := v.ports()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := v.list("Bridge", "name", "ports", "stp_enable", "rstp_enable", "mcast_snooping_enable", "fail_mode")
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		br := bridgeFromRow(row)
		ns.Interfaces.Push(br)
		for _, uuid := range parseSet(row[1]) {
			p, ok := ports[uuid]
			if !ok {
				continue
			}
			if iface := portInterface(br.Name, p, ifaces); iface != nil {
				ns.Interfaces.Push(iface)
			}
			// The bridge's own internal port is implied.
			if p.name == br.Name {
				continue
			}
			cfg := model.OvsBridgePortConfig{Name: p.name, Vlan: portVlan(p)}
			list := append(*br.Bridge.Port, cfg)
			br.Bridge.Port = &list
		}
	}

	if ns.OvsDB, err = v.globalConfig(); err != nil {
		return nil, err
	}
	v.log.Debug("ovs state retrieved", "bridges", len(rows), "ports", len(ports))
	return ns, nil
}

func (v *Vsctl) interfaces() (map[string]ovsIface, error) {
	rows, err := v.list("Interface", "_uuid", "name", "type", "options")
	if err != nil {
		return nil, err
	}
	out := make(map[string]ovsIface, len(rows))
	for _, r := range rows {
		out[r[0]] = ovsIface{name: r[1], typ: r[2], options: parseMap(r[3])}
	}
	return out, nil
}

func (v *Vsctl) ports() (map[string]ovsPort, error) {
	rows, err := v.list("Port", "_uuid", "name", "interfaces", "tag", "vlan_mode")
	if err != nil {
		return nil, err
	}
	out := make(map[string]ovsPort, len(rows))
	for _, r := range rows {
		out[r[0]] = ovsPort{name: r[1], ifaces: parseSet(r[2]), tag: r[3], vlanMode: r[4]}
	}
	return out, nil
}

func (v *Vsctl) globalConfig() (*model.OvsDbGlobalConfig, error) {
	rows, err := v.list("Open_vSwitch", "external_ids", "other_config")
	if err != nil {
		return nil, err
	}
	cfg := &model.OvsDbGlobalConfig{ExternalIDs: map[string]*string{}, OtherConfig: map[string]*string{}}
	if len(rows) == 0 {
		return cfg, nil
	}
	for k, val := range parseMap(rows[0][0]) {
		cfg.ExternalIDs[k] = model.Ptr(val)
	}
	for k, val := range parseMap(rows[0][1]) {
		cfg.OtherConfig[k] = model.Ptr(val)
	}
	return cfg, nil
}

func bridgeFromRow(row []string) *model.OvsBridgeInterface {
	br := model.NewInterface(row[0], model.TypeOvsBridge).(*model.OvsBridgeInterface)
	br.State = model.StateUp
	opts := &model.OvsBridgeOptions{
		Stp:           model.Ptr(row[2] == "true"),
		Rstp:          model.Ptr(row[3] == "true"),
		McastSnooping: model.Ptr(row[4] == "true"),
	}
	if row[5] != "" {
		opts.FailMode = model.Ptr(row[5])
	}
	br.Bridge = &model.OvsBridgeConfig{Options: opts, Port: &[]model.OvsBridgePortConfig{}}
	return br
}

func portVlan(p ovsPort) *model.BridgePortVlanConfig {
	if p.tag == "" && p.vlanMode == "" {
		return nil
	}
	vlan := &model.BridgePortVlanConfig{}
	if p.vlanMode != "" {
		vlan.Mode = model.Ptr(p.vlanMode)
	} else {
		vlan.Mode = model.Ptr("access")
	}
	if n, err := strconv.ParseUint(p.tag, 10, 16); err == nil {
		vlan.Tag = model.Ptr(uint16(n))
	}
	return vlan
}

// portInterface returns the record a port contributes: an ovs-interface
// for OVS-owned ports, or a kind-less record carrying only the controller
// for system ports, which the kernel snapshot completes. OVS bonds, with
// several interfaces on one port, are not modelled.
func portInterface(bridge string, p ovsPort, ifaces map[string]ovsIface) model.Interface {
	if len(p.ifaces) != 1 {
		return nil
	}
	oi, ok := ifaces[p.ifaces[0]]
	if !ok {
		return nil
	}
	switch oi.typ {
	case ifaceInternal, ifacePatch, ifaceDpdk:
		iface := model.NewInterface(oi.name, model.TypeOvsInterface).(*model.OvsInterface)
		iface.State = model.StateUp
		iface.SetController(bridge, model.TypeOvsBridge)
		switch oi.typ {
		case ifacePatch:
			iface.Patch = &model.OvsPatchConfig{Peer: oi.options["peer"]}
		case ifaceDpdk:
			iface.Dpdk = &model.OvsDpdkConfig{Devargs: oi.options["dpdk-devargs"]}
		}
		return iface
	case "", ifaceSystem:
		iface := model.NewInterface(oi.name, model.TypeUnknown)
		iface.Base().SetController(bridge, model.TypeOvsBridge)
		return iface
	}
	return nil
}
