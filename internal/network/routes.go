package network

import (
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/model"
	"grimm.is/netstate/internal/netstate"
)

var routeTypeNames = map[int]string{
	unix.RTN_BLACKHOLE:   "blackhole",
	unix.RTN_UNREACHABLE: "unreachable",
	unix.RTN_PROHIBIT:    "prohibit",
}

var ruleActionNames = map[uint8]string{
	unix.FR_ACT_BLACKHOLE:   "blackhole",
	unix.FR_ACT_UNREACHABLE: "unreachable",
	unix.FR_ACT_PROHIBIT:    "prohibit",
}

// nextHopFlag decodes RTNH_F_* bits; the first match in order of
// precedence wins.
func nextHopFlag(flags int) string {
	switch {
	case flags&unix.RTNH_F_DEAD != 0:
		return "dead"
	case flags&unix.RTNH_F_LINKDOWN != 0:
		return "linkdown"
	case flags&unix.RTNH_F_ONLINK != 0:
		return "onlink"
	case flags&unix.RTNH_F_PERVASIVE != 0:
		return "pervasive"
	case flags&unix.RTNH_F_OFFLOAD != 0:
		return "offload"
	}
	return ""
}

func isConfigProtocol(p netlink.RouteProtocol) bool {
	return p == unix.RTPROT_BOOT || p == unix.RTPROT_STATIC
}

func isDynamicProtocol(p netlink.RouteProtocol) bool {
	return p == unix.RTPROT_DHCP || p == unix.RTPROT_RA
}

func (k *Kernel) readRoutes(byIndex map[int]netlink.Link, opts netstate.RetrieveOptions) (*model.Routes, error) {
	list, err := k.nl.RouteListFiltered(netlink.FAMILY_ALL, &netlink.Route{Table: unix.RT_TABLE_UNSPEC}, netlink.RT_FILTER_TABLE)
	if err != nil {
		return nil, pluginErr(err, "", "list routes")
	}
	routes := &model.Routes{}
	for _, r := range list {
		if r.Table == unix.RT_TABLE_LOCAL {
			continue
		}
		if r.Type != unix.RTN_UNICAST {
			if _, ok := routeTypeNames[r.Type]; !ok {
				continue
			}
		}
		if r.Dst != nil && (r.Dst.IP.IsLinkLocalUnicast() || r.Dst.IP.IsMulticast()) {
			continue
		}
		if isDynamicProtocol(r.Protocol) && opts.RunningConfigOnly {
			continue
		}
		entries := expandRoute(r, byIndex)
		routes.Running = append(routes.Running, entries...)
		if isConfigProtocol(r.Protocol) {
			for _, e := range entries {
				e.NextHopFlag = nil
				routes.Config = append(routes.Config, e)
			}
		}
	}
	return routes, nil
}

// expandRoute turns a kernel route into model routes, one per live next
// hop. Multipath hops carry their weight.
func expandRoute(r netlink.Route, byIndex map[int]netlink.Link) []model.Route {
	dst := "0.0.0.0/0"
	if r.Family == netlink.FAMILY_V6 {
		dst = "::/0"
	}
	if r.Dst != nil {
		dst = r.Dst.String()
	}
	base := model.Route{
		Destination: &dst,
		Metric:      model.Ptr(int64(r.Priority)),
		TableID:     model.Ptr(uint32(r.Table)),
	}
	if name, ok := routeTypeNames[r.Type]; ok {
		base.RouteType = &name
	}
	if r.Src != nil {
		base.Source = model.Ptr(r.Src.String())
	}

	if len(r.MultiPath) == 0 {
		if name := linkName(byIndex, r.LinkIndex); name != "" {
			base.NextHopIface = &name
		}
		if r.Gw != nil {
			base.NextHopAddr = model.Ptr(r.Gw.String())
		}
		return []model.Route{base}
	}

	var out []model.Route
	for _, hop := range r.MultiPath {
		flag := nextHopFlag(hop.Flags)
		if flag == "dead" {
			continue
		}
		e := base
		if name := linkName(byIndex, hop.LinkIndex); name != "" {
			e.NextHopIface = &name
		}
		if hop.Gw != nil {
			e.NextHopAddr = model.Ptr(hop.Gw.String())
		}
		e.Weight = model.Ptr(uint16(hop.Hops + 1))
		if flag != "" {
			e.NextHopFlag = &flag
		}
		out = append(out, e)
	}
	return out
}

func isDefaultRule(r netlink.Rule) bool {
	switch {
	case r.Priority == 0 && r.Table == unix.RT_TABLE_LOCAL:
		return true
	case r.Priority == 32766 && r.Table == unix.RT_TABLE_MAIN:
		return true
	case r.Priority == 32767 && r.Table == unix.RT_TABLE_DEFAULT:
		return true
	}
	return r.Protocol == unix.RTPROT_KERNEL
}

func (k *Kernel) readRules() (*model.RouteRules, error) {
	list, err := k.nl.RuleList(netlink.FAMILY_ALL)
	if err != nil {
		return nil, pluginErr(err, "", "list rules")
	}
	rules := &model.RouteRules{}
	for _, r := range list {
		if isDefaultRule(r) {
			continue
		}
		rules.Config = append(rules.Config, ruleToModel(r))
	}
	return rules, nil
}

func ruleToModel(r netlink.Rule) model.RouteRule {
	family := model.FamilyIPv4
	if r.Family == netlink.FAMILY_V6 {
		family = model.FamilyIPv6
	}
	out := model.RouteRule{Family: &family}
	if r.Src != nil {
		out.IPFrom = model.Ptr(r.Src.String())
	}
	if r.Dst != nil {
		out.IPTo = model.Ptr(r.Dst.String())
	}
	if r.Priority >= 0 {
		out.Priority = model.Ptr(int64(r.Priority))
	}
	if r.Table > 0 {
		out.TableID = model.Ptr(uint32(r.Table))
	}
	if r.Mark != 0 {
		out.Fwmark = model.Ptr(r.Mark)
	}
	if r.Mask != nil {
		out.Fwmask = model.Ptr(*r.Mask)
	}
	if r.IifName != "" {
		out.Iif = model.Ptr(r.IifName)
	}
	if name, ok := ruleActionNames[r.Type]; ok {
		out.Action = &name
	}
	if r.SuppressPrefixlen >= 0 {
		out.SuppressPrefixLength = model.Ptr(uint32(r.SuppressPrefixlen))
	}
	return out
}

// applyRoutes makes the configured routes equal to want. Routes sharing a
// destination, table and metric with a weight set are installed as one
// multipath route.
func (k *Kernel) applyRoutes(want, have []model.Route) error {
	wantKeys := make(map[string]bool, len(want))
	for _, r := range want {
		wantKeys[r.Key()] = true
	}
	haveKeys := make(map[string]bool, len(have))
	for _, r := range have {
		haveKeys[r.Key()] = true
	}

	var stale, missing []model.Route
	for _, r := range have {
		if !wantKeys[r.Key()] {
			stale = append(stale, r)
		}
	}
	for _, r := range want {
		if !haveKeys[r.Key()] {
			missing = append(missing, r)
		}
	}

	for _, r := range groupMultipath(stale) {
		nr, err := k.toNetlinkRoute(r)
		if err != nil {
			return err
		}
		if err := k.nl.RouteDel(nr); err != nil && !errors.Is(err, unix.ESRCH) {
			return errors.Attr(pluginErr(err, "", "delete route %s", r[0]), "route", r[0].String())
		}
		k.log.Info("route removed", "route", r[0].String(), "hops", len(r))
	}
	for _, r := range groupMultipath(missing) {
		nr, err := k.toNetlinkRoute(r)
		if err != nil {
			return err
		}
		if err := k.nl.RouteAdd(nr); err != nil && !errors.Is(err, unix.EEXIST) {
			return errors.Attr(pluginErr(err, "", "add route %s", r[0]), "route", r[0].String())
		}
		k.log.Info("route added", "route", r[0].String(), "hops", len(r))
	}
	return nil
}

func groupMultipath(routes []model.Route) [][]model.Route {
	var groups [][]model.Route
	index := make(map[string]int)
	for _, r := range routes {
		if r.Weight == nil {
			groups = append(groups, []model.Route{r})
			continue
		}
		key := model.Route{Destination: r.Destination, TableID: r.TableID, Metric: r.Metric}.Key()
		if i, ok := index[key]; ok {
			groups[i] = append(groups[i], r)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, []model.Route{r})
	}
	return groups
}

func (k *Kernel) toNetlinkRoute(hops []model.Route) (*netlink.Route, error) {
	first := hops[0]
	nr := &netlink.Route{
		Protocol: unix.RTPROT_STATIC,
		Table:    int(first.Table()),
		Type:     unix.RTN_UNICAST,
	}
	if first.Destination != nil {
		_, dst, err := net.ParseCIDR(*first.Destination)
		if err != nil {
			return nil, errors.Errorf(errors.KindInvalidArgument, "invalid route destination %q", *first.Destination)
		}
		nr.Dst = dst
	}
	if first.Metric != nil {
		nr.Priority = int(*first.Metric)
	}
	if first.Source != nil {
		nr.Src = net.ParseIP(*first.Source)
	}
	if first.RouteType != nil {
		for t, name := range routeTypeNames {
			if name == *first.RouteType {
				nr.Type = t
			}
		}
		return nr, nil
	}

	if len(hops) == 1 && first.Weight == nil {
		idx, gw, err := k.nextHop(first)
		if err != nil {
			return nil, err
		}
		nr.LinkIndex, nr.Gw = idx, gw
		return nr, nil
	}
	for _, h := range hops {
		idx, gw, err := k.nextHop(h)
		if err != nil {
			return nil, err
		}
		hop := &netlink.NexthopInfo{LinkIndex: idx, Gw: gw}
		if h.Weight != nil && *h.Weight > 0 {
			hop.Hops = int(*h.Weight) - 1
		}
		nr.MultiPath = append(nr.MultiPath, hop)
	}
	return nr, nil
}

func (k *Kernel) nextHop(r model.Route) (int, net.IP, error) {
	var gw net.IP
	if r.NextHopAddr != nil {
		if gw = net.ParseIP(*r.NextHopAddr); gw == nil {
			return 0, nil, errors.Errorf(errors.KindInvalidArgument, "invalid next hop address %q", *r.NextHopAddr)
		}
	}
	if r.Iface() == "" {
		return 0, gw, nil
	}
	link, err := k.nl.LinkByName(r.Iface())
	if err != nil {
		return 0, nil, pluginErr(err, r.Iface(), "route next hop %s", r.Iface())
	}
	return link.Attrs().Index, gw, nil
}

// applyRules makes the configured rules equal to want.
func (k *Kernel) applyRules(want, have []model.RouteRule) error {
	wantKeys := make(map[string]bool, len(want))
	for _, r := range want {
		wantKeys[r.Key()] = true
	}
	haveKeys := make(map[string]bool, len(have))
	for _, r := range have {
		haveKeys[r.Key()] = true
	}
	for _, r := range have {
		if wantKeys[r.Key()] {
			continue
		}
		nr, err := toNetlinkRule(r)
		if err != nil {
			return err
		}
		if err := k.nl.RuleDel(nr); err != nil && !errors.Is(err, unix.ENOENT) {
			return errors.Attr(pluginErr(err, "", "delete rule"), "rule", r.Key())
		}
		k.log.Info("rule removed", "rule", r.Key())
	}
	for _, r := range want {
		if haveKeys[r.Key()] {
			continue
		}
		nr, err := toNetlinkRule(r)
		if err != nil {
			return err
		}
		if err := k.nl.RuleAdd(nr); err != nil && !errors.Is(err, unix.EEXIST) {
			return errors.Attr(pluginErr(err, "", "add rule"), "rule", r.Key())
		}
		k.log.Info("rule added", "rule", r.Key())
	}
	return nil
}

func toNetlinkRule(r model.RouteRule) (*netlink.Rule, error) {
	nr := netlink.NewRule()
	nr.Family = netlink.FAMILY_V4
	if r.FamilyName() == model.FamilyIPv6 {
		nr.Family = netlink.FAMILY_V6
	}
	parse := func(s *string) (*net.IPNet, error) {
		if s == nil {
			return nil, nil
		}
		_, n, err := net.ParseCIDR(*s)
		if err != nil {
			ip := net.ParseIP(*s)
			if ip == nil {
				return nil, errors.Errorf(errors.KindInvalidArgument, "invalid rule selector %q", *s)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			n = &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
		}
		return n, nil
	}
	var err error
	if nr.Src, err = parse(r.IPFrom); err != nil {
		return nil, err
	}
	if nr.Dst, err = parse(r.IPTo); err != nil {
		return nil, err
	}
	if r.Priority != nil {
		nr.Priority = int(*r.Priority)
	}
	if r.Fwmark != nil {
		nr.Mark = *r.Fwmark
	}
	if r.Fwmask != nil {
		nr.Mask = model.Ptr(*r.Fwmask)
	}
	if r.Iif != nil {
		nr.IifName = *r.Iif
	}
	if r.SuppressPrefixLength != nil {
		nr.SuppressPrefixlen = int(*r.SuppressPrefixLength)
	}
	if r.Action != nil {
		for t, name := range ruleActionNames {
			if name == *r.Action {
				nr.Type = t
			}
		}
		return nr, nil
	}
	nr.Table = int(r.Table())
	return nr, nil
}
