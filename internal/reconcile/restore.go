package reconcile

import (
	"grimm.is/netstate/internal/model"
)

// RestoreState turns a snapshot taken before an apply into a desired state
// that undoes everything applied since: virtual interfaces created after the
// snapshot are marked absent, physical ones that appeared are taken down,
// and routes, rules, DNS and hostname return to their snapshot values.
func RestoreState(snapshot, current *model.NetworkState) *model.NetworkState {
	out := snapshot.Clone()
	if current == nil {
		return out
	}

	for _, cur := range current.Interfaces.List() {
		if out.Interfaces.Lookup(cur) != nil {
			continue
		}
		entry := model.NameTypeOnly(cur)
		if model.IsVirtual(cur) {
			entry.Base().State = model.StateAbsent
		} else {
			entry.Base().State = model.StateDown
		}
		out.Interfaces.Push(entry)
	}

	snapRoutes := routeKeys(snapshot.RouteConfig())
	routes := append([]model.Route(nil), snapshot.RouteConfig()...)
	for _, r := range current.RouteConfig() {
		if !snapRoutes[r.Key()] {
			gone := r
			gone.State = model.RouteStateAbsent
			routes = append(routes, gone)
		}
	}
	if len(routes) > 0 {
		out.Routes = &model.Routes{Config: routes}
	}

	snapRules := make(map[string]bool)
	for _, r := range snapshot.RuleConfig() {
		snapRules[r.Key()] = true
	}
	rules := append([]model.RouteRule(nil), snapshot.RuleConfig()...)
	for _, r := range current.RuleConfig() {
		if !snapRules[r.Key()] {
			gone := r
			gone.State = model.RouteStateAbsent
			rules = append(rules, gone)
		}
	}
	if len(rules) > 0 {
		out.Rules = &model.RouteRules{Config: rules}
	}

	cfg := snapshot.DNSConfig()
	if cfg == nil && current.DNSConfig() != nil {
		cfg = &model.DnsClientState{}
	}
	if cfg != nil {
		out.DNS = &model.DnsState{Config: cfg}
	}

	if snapshot.Hostname != nil && snapshot.Hostname.Running != nil {
		out.Hostname = &model.HostnameState{Running: snapshot.Hostname.Running}
	}
	return out
}
