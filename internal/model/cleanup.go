package model

// PreEditCleanup normalises a desired interface before it is handed to a
// backend. current is the matching current interface or nil.
func PreEditCleanup(iface Interface, current Interface) {
	b := iface.Base()
	b.PermanentMacAddress = nil
	b.CopyMacFrom = nil
	if b.MacAddress != nil {
		mac := NormalizeMAC(*b.MacAddress)
		b.MacAddress = &mac
	}
	cleanupIP(b.IPv4)
	cleanupIP(b.IPv6)

	switch v := iface.(type) {
	case *EthernetInterface:
		switch {
		case v.Veth != nil:
			v.Type = TypeVeth
		case v.Type == TypeVeth:
			if cur, ok := current.(*EthernetInterface); ok && cur.Veth == nil && cur.Type != TypeVeth {
				v.Type = TypeEthernet
			}
		}
	case *BondInterface:
		if v.Bond != nil && v.Bond.Port != nil {
			*v.Bond.Port = dedupe(*v.Bond.Port)
		}
	case *VrfInterface:
		if v.Vrf != nil && v.Vrf.Port != nil {
			*v.Vrf.Port = dedupe(*v.Vrf.Port)
		}
	case *VlanInterface:
		if v.Vlan != nil && v.Vlan.Protocol != nil && *v.Vlan.Protocol == "" {
			v.Vlan.Protocol = nil
		}
	case *LinuxBridgeInterface, *VxlanInterface, *OvsBridgeInterface, *OvsInterface,
		*MacVlanInterface, *MacVtapInterface, *DummyInterface, *InfiniBandInterface,
		*UnknownInterface:
	}
}

// cleanupIP drops lease-derived addresses and auto-* options that only
// apply to dynamic configuration.
func cleanupIP(ip *InterfaceIP) {
	if ip == nil {
		return
	}
	if ip.Enabled != nil && !*ip.Enabled {
		*ip = InterfaceIP{Enabled: ip.Enabled, DNS: ip.DNS, Routes: ip.Routes, Rules: ip.Rules}
		return
	}
	static := ip.Addresses[:0:0]
	for _, a := range ip.Addresses {
		if a.IsDynamic() {
			continue
		}
		a.IP = CanonicalIP(a.IP)
		a.ValidLeft, a.PreferredLeft = "", ""
		static = append(static, a)
	}
	ip.Addresses = static
	if !ip.IsDynamic() {
		ip.AutoDNS, ip.AutoGateway, ip.AutoRoutes, ip.AutoTableID = nil, nil, nil, nil
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
