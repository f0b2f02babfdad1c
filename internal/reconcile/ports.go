package reconcile

import (
	"sort"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/model"
)

// MaxUpPriorityPasses bounds priority resolution. A chain that needs more
// passes must list controllers before their ports.
const MaxUpPriorityPasses = 4

// assignment is a pending controller change for one port. An empty
// controller means detach.
type assignment struct {
	controller string
	typ        model.InterfaceType
	attach     bool
}

// portResolver turns controller port lists and port controller fields into
// per-port controller assignments on the desired set.
type portResolver struct {
	desired *model.Interfaces
	current *model.Interfaces
	pending map[string]assignment
	order   []string
}

func newPortResolver(desired, current *model.Interfaces) *portResolver {
	return &portResolver{
		desired: desired,
		current: current,
		pending: make(map[string]assignment),
	}
}

// findController returns the controller-capable interface called name.
func findController(set *model.Interfaces, name string) model.Interface {
	for _, iface := range set.ByName(name) {
		if iface.Base().Type.IsController() {
			return iface
		}
	}
	return nil
}

// schedule records a pending assignment. An attach replaces a detach; a
// second attach to a different controller is an overbooked port.
func (r *portResolver) schedule(port string, a assignment) error {
	prev, ok := r.pending[port]
	if !ok {
		r.order = append(r.order, port)
		r.pending[port] = a
		return nil
	}
	switch {
	case a.attach && prev.attach && prev.controller != a.controller:
		return overbooked(port, prev.controller, a.controller)
	case a.attach:
		r.pending[port] = a
	}
	return nil
}

func overbooked(port, a, b string) error {
	names := []string{a, b}
	sort.Strings(names)
	return errors.Attr(errors.Errorf(errors.KindInvalidArgument,
		"port %s is assigned to both controller %s and %s", port, names[0], names[1]), "port", port)
}

// resolve runs the membership diff, applies the pending assignments to the
// desired set and synthesises entries for ports desired did not mention.
func (r *portResolver) resolve() error {
	for _, iface := range r.desired.List() {
		base := iface.Base()
		if !base.Type.IsController() {
			continue
		}
		cur := r.current.Lookup(iface)
		var curPorts []string
		if cur != nil {
			curPorts, _ = model.Ports(cur)
		}

		if base.IsAbsent() {
			for _, p := range curPorts {
				if err := r.schedule(p, assignment{}); err != nil {
					return err
				}
			}
			continue
		}
		if base.IsIgnore() {
			continue
		}

		ports, specified := model.Ports(iface)
		if !specified {
			continue
		}
		want := make(map[string]bool, len(ports))
		for _, p := range ports {
			want[p] = true
			if err := r.schedule(p, assignment{controller: base.Name, typ: base.Type, attach: true}); err != nil {
				return err
			}
		}
		for _, p := range curPorts {
			if !want[p] {
				if err := r.schedule(p, assignment{}); err != nil {
					return err
				}
			}
		}
		if cur != nil {
			for _, p := range model.ChangedPortConfigs(iface, cur) {
				if err := r.schedule(p, assignment{controller: base.Name, typ: base.Type, attach: true}); err != nil {
					return err
				}
			}
		}
	}

	if err := r.claimByPortField(); err != nil {
		return err
	}
	return r.apply()
}

// claimByPortField attaches ports that name their controller themselves.
func (r *portResolver) claimByPortField() error {
	for _, iface := range r.desired.List() {
		base := iface.Base()
		if !base.IsUp() || base.Controller == nil {
			continue
		}
		name := base.ControllerName()
		prev, scheduled := r.pending[base.Name]
		if name == "" {
			if scheduled && prev.attach {
				return errors.Errorf(errors.KindInvalidArgument,
					"interface %s is detached but listed as a port of %s", base.Name, prev.controller)
			}
			continue
		}
		ctrl := findController(r.desired, name)
		if ctrl != nil {
			if ctrl.Base().IsAbsent() {
				return errors.Errorf(errors.KindInvalidArgument,
					"interface %s names controller %s which is marked absent", base.Name, name)
			}
			if ports, specified := model.Ports(ctrl); specified && !contains(ports, base.Name) {
				return errors.Errorf(errors.KindInvalidArgument,
					"interface %s names controller %s whose port list does not include it", base.Name, name)
			}
		} else {
			ctrl = findController(r.current, name)
		}
		if ctrl == nil {
			return errors.Errorf(errors.KindInvalidArgument,
				"interface %s names controller %s which does not exist", base.Name, name)
		}
		if err := r.schedule(base.Name, assignment{controller: name, typ: ctrl.Base().Type, attach: true}); err != nil {
			return err
		}
	}
	return nil
}

func (r *portResolver) apply() error {
	for _, port := range r.order {
		a := r.pending[port]
		if iface := r.desired.GetKernel(port); iface != nil {
			base := iface.Base()
			if base.IsAbsent() {
				if a.attach {
					return errors.Errorf(errors.KindInvalidArgument,
						"port %s of %s is marked absent", port, a.controller)
				}
				continue
			}
			if base.IsIgnore() {
				base.State = model.StateUp
			}
			base.SetController(a.controller, a.typ)
			continue
		}

		cur := r.current.GetKernel(port)
		if cur == nil {
			if !a.attach {
				continue
			}
			return errors.Errorf(errors.KindInvalidArgument,
				"port %s of %s not found in desired or current state", port, a.controller)
		}
		// Ports not mentioned in desired get a bare entry; for ignored
		// ports this is also how they leave the ignore state.
		entry := model.NameTypeOnly(cur)
		entry.Base().State = model.StateUp
		entry.Base().SetController(a.controller, a.typ)
		r.desired.Push(entry)
	}
	return nil
}

// inheritControllers keeps the current controller of interfaces that do not
// mention one, unless that controller is desired with an explicit port list.
func inheritControllers(desired, current *model.Interfaces) {
	for _, iface := range desired.List() {
		base := iface.Base()
		if !base.IsUp() || base.Controller != nil {
			continue
		}
		cur := current.GetKernel(base.Name)
		if cur == nil || !cur.Base().HasController() {
			continue
		}
		name := cur.Base().ControllerName()
		if ctrl := findController(desired, name); ctrl != nil {
			if _, specified := model.Ports(ctrl); specified || ctrl.Base().IsAbsent() {
				continue
			}
		}
		base.SetController(name, cur.Base().ControllerType)
	}
}

func ifaceID(iface model.Interface) string {
	b := iface.Base()
	if b.Type.IsUserspace() {
		return b.Name + "/" + string(b.Type)
	}
	return b.Name
}

// assignPriorities gives every up port controller.UpPriority+1. Roots, and
// ports whose controller has no controller of its own, stay at 0. Passes
// follow insertion order so a controller listed before its ports resolves in
// a single pass.
func assignPriorities(desired *model.Interfaces) error {
	resolved := make(map[string]bool)
	for pass := 0; pass < MaxUpPriorityPasses; pass++ {
		remaining, progress := 0, false
		for _, iface := range desired.List() {
			id := ifaceID(iface)
			if resolved[id] {
				continue
			}
			base := iface.Base()
			if !base.IsUp() || !base.HasController() {
				base.UpPriority = 0
				resolved[id] = true
				progress = true
				continue
			}
			ctrl := findController(desired, base.ControllerName())
			if ctrl == nil || !ctrl.Base().IsUp() || !ctrl.Base().HasController() {
				base.UpPriority = 0
				resolved[id] = true
				progress = true
				continue
			}
			if !resolved[ifaceID(ctrl)] {
				remaining++
				continue
			}
			base.UpPriority = ctrl.Base().UpPriority + 1
			resolved[id] = true
			progress = true
		}
		if remaining == 0 {
			return nil
		}
		if !progress {
			return errors.Errorf(errors.KindInvalidArgument,
				"controller chain does not resolve: %d interfaces wait on each other", remaining)
		}
	}
	for _, iface := range desired.List() {
		if !resolved[ifaceID(iface)] {
			return errors.Errorf(errors.KindInvalidArgument,
				"interface %s is nested deeper than %d levels; list controllers before their ports",
				iface.Base().Name, MaxUpPriorityPasses)
		}
	}
	return nil
}

// checkOverbooking verifies that no port is listed by two controllers,
// looking at desired port lists and at the current lists of controllers
// desired does not mention.
func checkOverbooking(desired, current *model.Interfaces) error {
	owner := make(map[string]string)
	claim := func(port, ctrl string) error {
		if prev, ok := owner[port]; ok && prev != ctrl {
			return overbooked(port, prev, ctrl)
		}
		owner[port] = ctrl
		return nil
	}
	for _, iface := range desired.List() {
		base := iface.Base()
		if !base.IsUp() {
			continue
		}
		ports, _ := model.Ports(iface)
		for _, p := range ports {
			if err := claim(p, base.Name); err != nil {
				return err
			}
		}
	}
	for _, iface := range current.List() {
		if desired.Lookup(iface) != nil {
			continue
		}
		ports, _ := model.Ports(iface)
		for _, p := range ports {
			if err := claim(p, iface.Base().Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkInfiniBandPorts allows InfiniBand ports only in active-backup bonds.
func checkInfiniBandPorts(desired, current *model.Interfaces) error {
	for _, iface := range desired.List() {
		ib, ok := iface.(*model.InfiniBandInterface)
		if !ok || !ib.IsUp() || !ib.HasController() {
			continue
		}
		name := ib.ControllerName()
		ctrl := findController(desired, name)
		curCtrl := findController(current, name)
		if ctrl == nil {
			ctrl = curCtrl
		}
		bond, ok := ctrl.(*model.BondInterface)
		if !ok {
			return errors.Errorf(errors.KindInvalidArgument,
				"infiniband %s can only be a port of an active-backup bond, not %s", ib.Name, name)
		}
		mode := bond.Mode()
		if mode == "" {
			if cb, ok := curCtrl.(*model.BondInterface); ok {
				mode = cb.Mode()
			}
		}
		if mode != model.BondModeActiveBackup {
			return errors.Errorf(errors.KindInvalidArgument,
				"infiniband %s can only be a port of an active-backup bond; %s is %q", ib.Name, name, mode)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
