package reconcile

import (
	"sort"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/model"
)

// anchor answers questions about the interface set as it will look once the
// plan is applied, and hands out plan entries to carry projected payloads.
type anchor struct {
	plan    *Plan
	desired *model.Interfaces
	current *model.Interfaces
}

func newAnchor(plan *Plan, desired, current *model.Interfaces) *anchor {
	return &anchor{plan: plan, desired: desired, current: current}
}

// exists reports whether a kernel interface is present after the plan.
func (a *anchor) exists(name string) bool {
	if a.plan.Entry(name) != nil {
		return true
	}
	return a.current.GetKernel(name) != nil && !a.plan.IsDeleted(name)
}

// ip returns the IP block name will have after the plan for one family.
func (a *anchor) ip(name string, v6 bool) *model.InterfaceIP {
	if a.plan.IsDeleted(name) {
		return nil
	}
	if e := a.plan.Entry(name); e != nil {
		if ip := family(e, v6); ip != nil {
			return ip
		}
		if a.plan.Add.GetKernel(name) != nil {
			return nil
		}
	}
	if cur := a.current.GetKernel(name); cur != nil {
		return family(cur, v6)
	}
	return nil
}

// names returns, sorted, every kernel interface present after the plan.
func (a *anchor) names() []string {
	set := make(map[string]bool)
	for _, s := range []*model.Interfaces{a.plan.Add, a.plan.Change, a.current} {
		for _, iface := range s.List() {
			b := iface.Base()
			if b.Type.IsUserspace() || a.plan.IsDeleted(b.Name) {
				continue
			}
			set[b.Name] = true
		}
	}
	return model.SortedNames(set)
}

// desiredNames returns the up kernel interfaces of desired in order.
func (a *anchor) desiredNames() []string {
	var out []string
	for _, iface := range a.desired.List() {
		b := iface.Base()
		if b.IsUp() && !b.Type.IsUserspace() && a.exists(b.Name) {
			out = append(out, b.Name)
		}
	}
	return out
}

// entry returns the plan entry for name, synthesising a change entry for an
// interface the interface diff left untouched. The synthesised entry copies
// the current IP configuration forward so reapplying it changes nothing
// else.
func (a *anchor) entry(name string) (model.Interface, error) {
	if e := a.plan.Entry(name); e != nil {
		return e, nil
	}
	cur := a.current.GetKernel(name)
	if cur == nil || a.plan.IsDeleted(name) {
		return nil, errors.Errorf(errors.KindBug, "interface %s vanished while re-anchoring", name)
	}
	e := model.NameTypeOnly(cur)
	base := e.Base()
	base.State = cur.Base().State
	if base.State == "" || base.State == model.StateUnknown {
		base.State = model.StateUp
	}
	a.plan.Change.Push(e)
	return e, nil
}

// carrier returns the IP block of an entry that will hold a payload,
// copying the current configuration forward when the entry has none.
func (a *anchor) carrier(e model.Interface, v6 bool) *model.InterfaceIP {
	base := e.Base()
	slot := &base.IPv4
	if v6 {
		slot = &base.IPv6
	}
	if *slot != nil {
		return *slot
	}
	ip := &model.InterfaceIP{}
	if cur := a.current.GetKernel(base.Name); cur != nil && a.plan.Add.GetKernel(base.Name) == nil {
		if src := family(cur, v6); src != nil {
			ip.Enabled = src.Enabled
			ip.DHCP = src.DHCP
			ip.Autoconf = src.Autoconf
			for _, addr := range src.Addresses {
				if !addr.IsDynamic() {
					addr.ValidLeft, addr.PreferredLeft = "", ""
					ip.Addresses = append(ip.Addresses, addr)
				}
			}
			ip.AutoDNS = src.AutoDNS
			ip.AutoGateway = src.AutoGateway
			ip.AutoRoutes = src.AutoRoutes
			ip.AutoTableID = src.AutoTableID
		}
	}
	*slot = ip
	return ip
}

func family(iface model.Interface, v6 bool) *model.InterfaceIP {
	if v6 {
		return iface.Base().IPv6
	}
	return iface.Base().IPv4
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
