package reconcile

import (
	"grimm.is/netstate/internal/logging"
	"grimm.is/netstate/internal/model"
)

// Build computes the full plan moving current to desired: the interface
// sets, then routes, route rules and DNS re-anchored onto the interfaces
// that will carry them, then hostname and OVS global config.
func Build(desired, current *model.NetworkState, opts Options) (*Plan, error) {
	if desired == nil {
		desired = model.NewNetworkState()
	}
	if current == nil {
		current = model.NewNetworkState()
	}
	if err := ValidateDNS(desired.DNSConfig()); err != nil {
		return nil, err
	}

	plan, err := GenStateForApply(desired.Interfaces, current.Interfaces, opts)
	if err != nil {
		return nil, err
	}

	a := newAnchor(plan, desired.Interfaces, current.Interfaces)
	if err := reanchorRoutes(a, desired.RouteConfig(), current.RouteConfig()); err != nil {
		return nil, err
	}
	if err := reanchorRules(a, plan.Routes, desired.RuleConfig(), current.RuleConfig()); err != nil {
		return nil, err
	}
	if err := reanchorDNS(a, desired.DNSConfig(), current.DNSConfig()); err != nil {
		return nil, err
	}
	if !plan.RoutesChanged {
		plan.Routes = nil
	}
	if !plan.RulesChanged {
		plan.Rules = nil
	}

	if name := wantedHostname(desired.Hostname); name != "" {
		running := ""
		if current.Hostname != nil && current.Hostname.Running != nil {
			running = *current.Hostname.Running
		}
		if name != running {
			plan.Hostname = &name
		}
	}

	if desired.OvsDB != nil && !ovsDBCovered(desired.OvsDB, current.OvsDB) {
		plan.OvsDB = desired.Clone().OvsDB
	}

	logging.WithComponent("reconcile").Debug("plan built", "summary", plan.Summary())
	return plan, nil
}

// wantedHostname prefers the running name and falls back to the configured
// one.
func wantedHostname(h *model.HostnameState) string {
	if h == nil {
		return ""
	}
	if h.Running != nil && *h.Running != "" {
		return *h.Running
	}
	if h.Config != nil {
		return *h.Config
	}
	return ""
}

// ovsDBCovered reports whether current already holds every key desired sets
// and none of the keys it removes.
func ovsDBCovered(desired, current *model.OvsDbGlobalConfig) bool {
	if current == nil {
		current = &model.OvsDbGlobalConfig{}
	}
	covered := func(want, have map[string]*string) bool {
		for k, v := range want {
			got, ok := have[k]
			if v == nil {
				if ok && got != nil {
					return false
				}
				continue
			}
			if !ok || got == nil || *got != *v {
				return false
			}
		}
		return true
	}
	return covered(desired.ExternalIDs, current.ExternalIDs) &&
		covered(desired.OtherConfig, current.OtherConfig)
}
