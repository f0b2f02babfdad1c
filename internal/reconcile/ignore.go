package reconcile

import (
	"grimm.is/netstate/internal/model"
)

// FilterIgnored removes ignored interfaces from both snapshots. A current
// interface in ignore state stays out of the pipeline unless desired claims
// it, either by naming it or by listing it as a port of an up controller.
// Desired entries in ignore state are dropped together with their current
// counterparts. The returned snapshots are copies.
func FilterIgnored(desired, current *model.NetworkState) (*model.NetworkState, *model.NetworkState) {
	desired = desired.Clone()
	current = current.Clone()

	claimed := make(map[string]bool)
	for _, iface := range desired.Interfaces.List() {
		base := iface.Base()
		if base.IsIgnore() {
			continue
		}
		claimed[base.Name] = true
		if base.IsUp() {
			ports, _ := model.Ports(iface)
			for _, p := range ports {
				claimed[p] = true
			}
		}
	}

	for _, cur := range current.Interfaces.List() {
		base := cur.Base()
		if !base.IsIgnore() || claimed[base.Name] {
			continue
		}
		current.Interfaces.Remove(cur)
		if d := desired.Interfaces.Lookup(cur); d != nil {
			desired.Interfaces.Remove(d)
		}
	}

	for _, d := range desired.Interfaces.List() {
		if !d.Base().IsIgnore() {
			continue
		}
		desired.Interfaces.Remove(d)
		if cur := current.Interfaces.Lookup(d); cur != nil {
			current.Interfaces.Remove(cur)
		}
	}
	return desired, current
}
