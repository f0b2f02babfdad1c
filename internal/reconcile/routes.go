package reconcile

import (
	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/model"
)

// mergeRoutes applies desired route config onto current: absent entries
// remove every route they match, the rest are added once.
func mergeRoutes(current, desired []model.Route) []model.Route {
	var out []model.Route
	for _, r := range current {
		if !r.IsAbsent() && !matchesAbsentRoute(desired, r) {
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

func matchesAbsentRoute(desired []model.Route, r model.Route) bool {
	for _, d := range desired {
		if d.IsAbsent() && d.Matches(r) {
			return true
		}
	}
	return false
}

func routesByIface(routes []model.Route) map[string][]model.Route {
	out := make(map[string][]model.Route)
	for _, r := range routes {
		if name := r.Iface(); name != "" {
			out[name] = append(out[name], r)
		}
	}
	return out
}

func routeKeys(routes []model.Route) map[string]bool {
	out := make(map[string]bool, len(routes))
	for _, r := range routes {
		out[r.Key()] = true
	}
	return out
}

func sameKeys(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// reanchorRoutes projects the merged route set onto the interfaces that
// carry it. Every next-hop interface whose routes change, and every add or
// change entry that owns routes, receives its complete per-family list.
func reanchorRoutes(a *anchor, desired, current []model.Route) error {
	merged := mergeRoutes(current, desired)

	for _, r := range desired {
		if r.IsAbsent() {
			continue
		}
		name := r.Iface()
		if name == "" {
			continue
		}
		if a.plan.IsDeleted(name) {
			return errors.Errorf(errors.KindInvalidArgument,
				"route %s uses interface %s which is being removed", r, name)
		}
		if !a.exists(name) {
			return errors.Errorf(errors.KindInvalidArgument,
				"route %s uses interface %s which does not exist", r, name)
		}
		if !a.ip(name, r.IsIPv6()).IsEnabled() {
			return errors.Errorf(errors.KindInvalidArgument,
				"route %s uses interface %s which has no %s configuration", r, name, familyName(r.IsIPv6()))
		}
	}

	before := routesByIface(current)
	after := routesByIface(merged)
	touched := make(map[string]bool)
	for name, routes := range after {
		if !sameKeys(routeKeys(routes), routeKeys(before[name])) {
			touched[name] = true
		}
		if a.plan.Entry(name) != nil {
			touched[name] = true
		}
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			touched[name] = true
		}
	}

	changed := false
	for _, name := range sortedKeys(touched) {
		if !a.exists(name) {
			if len(after[name]) > 0 {
				return errors.Errorf(errors.KindInvalidArgument,
					"routes reference interface %s which will not exist", name)
			}
			continue
		}
		if !sameKeys(routeKeys(after[name]), routeKeys(before[name])) {
			changed = true
		}
		e, err := a.entry(name)
		if err != nil {
			return err
		}
		var v4, v6 []model.Route
		for _, r := range after[name] {
			if r.IsIPv6() {
				v6 = append(v6, r)
			} else {
				v4 = append(v4, r)
			}
		}
		for _, fam := range []struct {
			v6     bool
			routes []model.Route
		}{{false, v4}, {true, v6}} {
			if len(fam.routes) == 0 && !hadFamily(before[name], fam.v6) {
				continue
			}
			ip := a.carrier(e, fam.v6)
			list := append([]model.Route{}, fam.routes...)
			ip.Routes = &list
		}
	}

	a.plan.Routes = merged
	a.plan.RoutesChanged = changed || !sameKeys(routeKeys(merged), routeKeys(current))
	return nil
}

func hadFamily(routes []model.Route, v6 bool) bool {
	for _, r := range routes {
		if r.IsIPv6() == v6 {
			return true
		}
	}
	return false
}

func familyName(v6 bool) string {
	if v6 {
		return model.FamilyIPv6
	}
	return model.FamilyIPv4
}
