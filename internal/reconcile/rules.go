package reconcile

import (
	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/model"
)

// mergeRules applies desired rule config onto current the same way routes
// are merged.
func mergeRules(current, desired []model.RouteRule) []model.RouteRule {
	var out []model.RouteRule
	for _, r := range current {
		if r.IsAbsent() {
			continue
		}
		removed := false
		for _, d := range desired {
			if d.IsAbsent() && d.Matches(r) {
				removed = true
				break
			}
		}
		if !removed {
			out = append(out, r)
		}
	}
	seen := make(map[string]bool, len(out))
	for _, r := range out {
		seen[r.Key()] = true
	}
	for _, r := range desired {
		if r.IsAbsent() || seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true
		out = append(out, r)
	}
	return out
}

// tableOwner finds the interface that owns a routing table for one family:
// the first interface with routes in that table, then a VRF bound to it,
// then an interface whose dynamic config installs routes there. Rules for
// the main table, or a table nobody owns yet, go to the first interface
// with that family enabled.
func tableOwner(a *anchor, routes []model.Route, table uint32, v6 bool) (string, error) {
	if table != model.RouteTableMain {
		byIface := routesByIface(routes)
		for _, name := range sortedKeys(byIface) {
			for _, r := range byIface[name] {
				if r.Table() == table && r.IsIPv6() == v6 && a.exists(name) {
					return name, nil
				}
			}
		}
		for _, name := range a.names() {
			if vrf, ok := finalIface(a, name).(*model.VrfInterface); ok &&
				vrf.Vrf != nil && vrf.Vrf.TableID != nil && *vrf.Vrf.TableID == table {
				return name, nil
			}
		}
		for _, name := range a.names() {
			if ip := a.ip(name, v6); ip != nil && ip.AutoTableID != nil && *ip.AutoTableID == table {
				return name, nil
			}
		}
	}
	for _, name := range a.names() {
		if a.ip(name, v6).IsEnabled() {
			return name, nil
		}
	}
	return "", errors.Errorf(errors.KindInvalidArgument,
		"no interface with %s enabled can hold rules for table %d", familyName(v6), table)
}

func finalIface(a *anchor, name string) model.Interface {
	if e := a.plan.Entry(name); e != nil {
		if _, unknown := e.(*model.UnknownInterface); !unknown {
			return e
		}
	}
	return a.current.GetKernel(name)
}

// reanchorRules projects the merged rule set onto owning interfaces. Each
// owner whose rule set changes, and each add or change entry owning rules,
// carries its complete per-family list.
func reanchorRules(a *anchor, routes []model.Route, desired, current []model.RouteRule) error {
	merged := mergeRules(current, desired)

	assign := func(rules []model.RouteRule) (map[string][]model.RouteRule, error) {
		out := make(map[string][]model.RouteRule)
		for _, r := range rules {
			v6 := r.FamilyName() == model.FamilyIPv6
			owner, err := tableOwner(a, routes, r.Table(), v6)
			if err != nil {
				return nil, err
			}
			out[owner] = append(out[owner], r)
		}
		return out, nil
	}
	after, err := assign(merged)
	if err != nil {
		return err
	}
	before := make(map[string][]model.RouteRule)
	for _, r := range current {
		v6 := r.FamilyName() == model.FamilyIPv6
		if owner, err := tableOwner(a, routes, r.Table(), v6); err == nil {
			before[owner] = append(before[owner], r)
		}
	}

	ruleKeys := func(rules []model.RouteRule) map[string]bool {
		out := make(map[string]bool, len(rules))
		for _, r := range rules {
			out[r.Key()] = true
		}
		return out
	}

	touched := make(map[string]bool)
	for name, rules := range after {
		if !sameKeys(ruleKeys(rules), ruleKeys(before[name])) || a.plan.Entry(name) != nil {
			touched[name] = true
		}
	}
	for name := range before {
		if _, ok := after[name]; !ok && a.exists(name) {
			touched[name] = true
		}
	}

	for _, name := range sortedKeys(touched) {
		e, err := a.entry(name)
		if err != nil {
			return err
		}
		for _, v6 := range []bool{false, true} {
			var list []model.RouteRule
			had := false
			for _, r := range after[name] {
				if (r.FamilyName() == model.FamilyIPv6) == v6 {
					list = append(list, r)
				}
			}
			for _, r := range before[name] {
				if (r.FamilyName() == model.FamilyIPv6) == v6 {
					had = true
				}
			}
			if len(list) == 0 && !had {
				continue
			}
			ip := a.carrier(e, v6)
			ip.Rules = &list
		}
	}

	a.plan.Rules = merged
	a.plan.RulesChanged = !sameKeys(ruleKeys(merged), ruleKeys(current))
	return nil
}
