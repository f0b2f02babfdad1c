package reconcile

import (
	"reflect"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/logging"
	"grimm.is/netstate/internal/model"
)

// GenStateForApply computes the add, change and delete sets that move
// current to desired. The inputs are not modified; the returned plan shares
// no values with them. Every failure is detected before anything is handed
// to a backend.
func GenStateForApply(desired, current *model.Interfaces, opts Options) (*Plan, error) {
	desired = desired.Clone()
	current = current.Clone()
	log := logging.WithComponent("reconcile")

	if err := resolveCopyMac(desired, current); err != nil {
		return nil, err
	}
	if err := newPortResolver(desired, current).resolve(); err != nil {
		return nil, err
	}
	inheritControllers(desired, current)
	if err := assignPriorities(desired); err != nil {
		return nil, err
	}
	if err := checkOverbooking(desired, current); err != nil {
		return nil, err
	}
	if err := checkInfiniBandPorts(desired, current); err != nil {
		return nil, err
	}

	plan := newPlan()
	sriov, err := checkSriov(desired, opts.Sriov)
	if err != nil {
		return nil, err
	}
	plan.Sriov = sriov

	if err := classify(plan, desired, current); err != nil {
		return nil, err
	}
	if err := cascadeAbsent(plan, desired, current); err != nil {
		return nil, err
	}
	if err := injectVethPeers(plan, current); err != nil {
		return nil, err
	}
	if err := checkOvsControllers(plan, current); err != nil {
		return nil, err
	}
	if opts.MemoryOnly {
		downgradeDeletes(plan, current)
	}

	log.Debug("interface plan computed",
		"add", plan.Add.Len(), "change", plan.Change.Len(), "delete", plan.Delete.Len())
	return plan, nil
}

// resolveCopyMac replaces copy-mac-from with the permanent MAC of the
// source, or its live MAC when it has none.
func resolveCopyMac(desired, current *model.Interfaces) error {
	for _, iface := range desired.List() {
		base := iface.Base()
		if base.CopyMacFrom == nil {
			continue
		}
		src := current.GetKernel(*base.CopyMacFrom)
		if src == nil {
			return errors.Errorf(errors.KindInvalidArgument,
				"interface %s copies its mac from %s which does not exist", base.Name, *base.CopyMacFrom)
		}
		mac := src.Base().PermanentMacAddress
		if mac == nil || *mac == "" {
			mac = src.Base().MacAddress
		}
		if mac == nil || *mac == "" {
			return errors.Errorf(errors.KindInvalidArgument,
				"interface %s copies its mac from %s which has no mac address", base.Name, *base.CopyMacFrom)
		}
		normalized := model.NormalizeMAC(*mac)
		base.MacAddress = &normalized
		base.CopyMacFrom = nil
	}
	return nil
}

func checkSriov(desired *model.Interfaces, checker SriovChecker) (bool, error) {
	found := false
	for _, iface := range desired.List() {
		if !iface.Base().IsUp() {
			continue
		}
		vfs, ok := model.SrIovTotalVfs(iface)
		if !ok {
			continue
		}
		found = true
		if checker == nil {
			continue
		}
		if err := checker.CheckSriov(iface.Base().Name, vfs); err != nil {
			if errors.GetKind(err) == errors.KindUnknown {
				return false, errors.Wrapf(err, errors.KindInvalidArgument,
					"interface %s cannot provide %d virtual functions", iface.Base().Name, vfs)
			}
			return false, err
		}
	}
	return found, nil
}

// lookupCurrent finds the current counterpart of a desired interface. An
// unknown desired type matches whatever current holds under that name.
func lookupCurrent(current *model.Interfaces, iface model.Interface) model.Interface {
	b := iface.Base()
	if b.Type.IsUserspace() {
		return current.GetUser(b.Name, b.Type)
	}
	if b.Type.IsUnknown() {
		return current.Get(b.Name, b.Type)
	}
	return current.GetKernel(b.Name)
}

func sameKind(a, b model.Interface) bool {
	return reflect.TypeOf(a) == reflect.TypeOf(b)
}

func absentEntry(iface model.Interface) model.Interface {
	out := model.NameTypeOnly(iface)
	out.Base().State = model.StateAbsent
	return out
}

func classify(plan *Plan, desired, current *model.Interfaces) error {
	for _, iface := range desired.List() {
		base := iface.Base()
		if base.IsUp() || base.IsDown() {
			if err := model.Validate(iface, lookupCurrent(current, iface)); err != nil {
				return err
			}
		}
	}

	for _, iface := range desired.List() {
		base := iface.Base()
		switch {
		case base.IsAbsent():
			matched := false
			for _, cur := range current.ByName(base.Name) {
				if base.Type.IsUnknown() || cur.Base().Type == base.Type ||
					(sameKind(cur, iface) && !cur.Base().Type.IsUserspace()) {
					plan.Delete.Push(absentEntry(cur))
					matched = true
				}
			}
			if !matched {
				plan.Delete.Push(absentEntry(iface))
			}

		case base.IsUp() || base.IsDown():
			cur := lookupCurrent(current, iface)
			if cur == nil {
				model.PreEditCleanup(iface, nil)
				plan.Add.Push(iface)
				continue
			}
			if base.Type.IsUnknown() {
				converted, err := model.ConvertType(iface, cur.Base().Type)
				if err != nil {
					return err
				}
				iface = converted
				base = iface.Base()
			}
			if !sameKind(iface, cur) {
				if !model.IsVirtual(cur) {
					return errors.Errorf(errors.KindInvalidArgument,
						"interface %s is a %s and cannot become a %s", base.Name, cur.Base().Type, base.Type)
				}
				// Replace the device: drop the old kind, create the new.
				model.PreEditCleanup(iface, nil)
				plan.Delete.Push(absentEntry(cur))
				plan.Add.Push(iface)
				continue
			}
			model.PreEditCleanup(iface, cur)
			if model.Covers(iface, cur) {
				continue
			}
			plan.Change.Push(iface)

		case base.IsIgnore():
		default:
			return errors.Errorf(errors.KindInvalidArgument,
				"interface %s: state %q cannot be requested", base.Name, base.State)
		}
	}
	return nil
}

// parentDeleted reports whether the device iface depends on is in the
// delete set.
func parentDeleted(plan *Plan, iface model.Interface) bool {
	parent := model.Parent(iface)
	if parent == "" {
		return false
	}
	if model.NeedsController(iface) {
		return plan.Delete.GetUser(parent, model.TypeOvsBridge) != nil &&
			plan.Add.GetUser(parent, model.TypeOvsBridge) == nil
	}
	return plan.IsDeleted(parent)
}

// cascadeAbsent deletes current interfaces whose parent is being deleted,
// repeating until no new dependents appear.
func cascadeAbsent(plan *Plan, desired, current *model.Interfaces) error {
	for changed := true; changed; {
		changed = false
		for _, cur := range current.List() {
			if plan.Delete.Lookup(cur) != nil || !parentDeleted(plan, cur) {
				continue
			}
			if want := desired.Lookup(cur); want != nil && want.Base().IsUp() {
				return errors.Errorf(errors.KindInvalidArgument,
					"interface %s depends on %s which is being removed", cur.Base().Name, model.Parent(cur))
			}
			plan.Change.Remove(cur)
			plan.Add.Remove(cur)
			plan.Delete.Push(absentEntry(cur))
			changed = true
		}
	}
	return nil
}

// injectVethPeers makes sure both ends of every veth in the plan are
// present.
func injectVethPeers(plan *Plan, current *model.Interfaces) error {
	for _, set := range []*model.Interfaces{plan.Add, plan.Change} {
		for _, iface := range set.List() {
			eth, ok := iface.(*model.EthernetInterface)
			if !ok || eth.Veth == nil || !eth.IsUp() {
				continue
			}
			peer := eth.Veth.Peer
			if plan.Entry(peer) != nil {
				continue
			}
			if plan.IsDeleted(peer) {
				return errors.Errorf(errors.KindInvalidArgument,
					"veth %s is kept but its peer %s is being removed", eth.Name, peer)
			}
			entry := &model.EthernetInterface{BaseInterface: model.BaseInterface{
				Name: peer, Type: model.TypeVeth, State: model.StateUp,
			}}
			if cur := current.GetKernel(peer); cur != nil {
				if cur.Base().IsUp() {
					continue
				}
				plan.Change.Push(entry)
				continue
			}
			entry.Veth = &model.VethConfig{Peer: eth.Name}
			plan.Add.Push(entry)
		}
	}
	return nil
}

// checkOvsControllers requires every new OVS interface to name a bridge
// that exists after the plan is applied.
func checkOvsControllers(plan *Plan, current *model.Interfaces) error {
	for _, iface := range plan.Add.List() {
		if !model.NeedsController(iface) {
			continue
		}
		name := iface.Base().ControllerName()
		if name == "" {
			return errors.Errorf(errors.KindInvalidArgument,
				"ovs interface %s has no controller", iface.Base().Name)
		}
		if plan.Add.GetUser(name, model.TypeOvsBridge) != nil || plan.Change.GetUser(name, model.TypeOvsBridge) != nil {
			continue
		}
		if current.GetUser(name, model.TypeOvsBridge) != nil && plan.Delete.GetUser(name, model.TypeOvsBridge) == nil {
			continue
		}
		return errors.Errorf(errors.KindInvalidArgument,
			"ovs interface %s names bridge %s which does not exist", iface.Base().Name, name)
	}
	return nil
}

// downgradeDeletes turns deletes of existing interfaces into state down and
// drops the purge-only ones.
func downgradeDeletes(plan *Plan, current *model.Interfaces) {
	for _, del := range plan.Delete.List() {
		plan.Delete.Remove(del)
		if plan.Add.Lookup(del) != nil {
			continue
		}
		cur := current.Lookup(del)
		if cur == nil {
			continue
		}
		down := model.NameTypeOnly(cur)
		down.Base().State = model.StateDown
		plan.Change.Push(down)
	}
}
