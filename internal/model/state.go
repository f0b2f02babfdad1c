package model

import (
	"sort"

	"gopkg.in/yaml.v2"

	"grimm.is/netstate/internal/errors"
)

// DnsState holds the running and configured resolver settings.
type DnsState struct {
	Running *DnsClientState `yaml:"running,omitempty"`
	Config  *DnsClientState `yaml:"config,omitempty"`
}

// DnsClientState is a resolver configuration. A config with neither server
// nor search set asks for all DNS configuration to be removed.
type DnsClientState struct {
	Server  *[]string `yaml:"server,omitempty"`
	Search  *[]string `yaml:"search,omitempty"`
	Options *[]string `yaml:"options,omitempty"`
}

// Servers returns the server list or nil.
func (d *DnsClientState) Servers() []string {
	if d == nil || d.Server == nil {
		return nil
	}
	return *d.Server
}

// Searches returns the search list or nil.
func (d *DnsClientState) Searches() []string {
	if d == nil || d.Search == nil {
		return nil
	}
	return *d.Search
}

// OptionList returns the options list or nil.
func (d *DnsClientState) OptionList() []string {
	if d == nil || d.Options == nil {
		return nil
	}
	return *d.Options
}

// IsPurge reports whether the config removes all DNS settings.
func (d *DnsClientState) IsPurge() bool {
	return len(d.Servers()) == 0 && len(d.Searches()) == 0 && len(d.OptionList()) == 0
}

// HostnameState holds the running (transient) and configured hostname.
type HostnameState struct {
	Running *string `yaml:"running,omitempty"`
	Config  *string `yaml:"config,omitempty"`
}

// OvsDbGlobalConfig is the Open_vSwitch table configuration. A nil value
// removes the key.
type OvsDbGlobalConfig struct {
	ExternalIDs map[string]*string `yaml:"external_ids,omitempty"`
	OtherConfig map[string]*string `yaml:"other_config,omitempty"`
}

// NetworkState is the top level document.
type NetworkState struct {
	Interfaces *Interfaces        `yaml:"interfaces,omitempty"`
	Routes     *Routes            `yaml:"routes,omitempty"`
	Rules      *RouteRules        `yaml:"route-rules,omitempty"`
	DNS        *DnsState          `yaml:"dns-resolver,omitempty"`
	OvsDB      *OvsDbGlobalConfig `yaml:"ovs-db,omitempty"`
	Hostname   *HostnameState     `yaml:"hostname,omitempty"`
}

// NewNetworkState returns an empty document with an interface collection.
func NewNetworkState() *NetworkState {
	return &NetworkState{Interfaces: NewInterfaces()}
}

// Decode parses a YAML document. Unknown top level keys are rejected.
func Decode(data []byte) (*NetworkState, error) {
	ns := NewNetworkState()
	if err := yaml.UnmarshalStrict(data, ns); err != nil {
		if errors.GetKind(err) != errors.KindUnknown {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.KindInvalidArgument, "invalid network state")
	}
	if ns.Interfaces == nil {
		ns.Interfaces = NewInterfaces()
	}
	return ns, nil
}

// Encode renders the document as YAML.
func Encode(ns *NetworkState) ([]byte, error) {
	return yaml.Marshal(ns)
}

// Clone deep copies the document.
func (ns *NetworkState) Clone() *NetworkState {
	if ns == nil {
		return NewNetworkState()
	}
	out := &NetworkState{Interfaces: ns.Interfaces.Clone()}
	if ns.Routes != nil {
		out.Routes = &Routes{
			Running: append([]Route(nil), ns.Routes.Running...),
			Config:  append([]Route(nil), ns.Routes.Config...),
		}
	}
	if ns.Rules != nil {
		out.Rules = &RouteRules{Config: append([]RouteRule(nil), ns.Rules.Config...)}
	}
	if ns.DNS != nil {
		out.DNS = &DnsState{Running: ns.DNS.Running.Clone(), Config: ns.DNS.Config.Clone()}
	}
	if ns.OvsDB != nil {
		out.OvsDB = &OvsDbGlobalConfig{
			ExternalIDs: cloneStrMap(ns.OvsDB.ExternalIDs),
			OtherConfig: cloneStrMap(ns.OvsDB.OtherConfig),
		}
	}
	if ns.Hostname != nil {
		h := *ns.Hostname
		out.Hostname = &h
	}
	return out
}

// Clone deep copies the resolver settings; nil stays nil.
func (d *DnsClientState) Clone() *DnsClientState {
	if d == nil {
		return nil
	}
	out := &DnsClientState{}
	if d.Server != nil {
		s := append([]string{}, *d.Server...)
		out.Server = &s
	}
	if d.Search != nil {
		s := append([]string{}, *d.Search...)
		out.Search = &s
	}
	if d.Options != nil {
		s := append([]string{}, *d.Options...)
		out.Options = &s
	}
	return out
}

func cloneStrMap(m map[string]*string) map[string]*string {
	if m == nil {
		return nil
	}
	out := make(map[string]*string, len(m))
	for k, v := range m {
		if v == nil {
			out[k] = nil
			continue
		}
		s := *v
		out[k] = &s
	}
	return out
}

// RouteConfig returns the configured routes or nil.
func (ns *NetworkState) RouteConfig() []Route {
	if ns == nil || ns.Routes == nil {
		return nil
	}
	return ns.Routes.Config
}

// RuleConfig returns the configured rules or nil.
func (ns *NetworkState) RuleConfig() []RouteRule {
	if ns == nil || ns.Rules == nil {
		return nil
	}
	return ns.Rules.Config
}

// DNSConfig returns the configured resolver settings or nil.
func (ns *NetworkState) DNSConfig() *DnsClientState {
	if ns == nil || ns.DNS == nil {
		return nil
	}
	return ns.DNS.Config
}

// Merge overlays another snapshot of the same host onto ns: interfaces are
// merged field by field, routes and rules are unioned, and scalar sections
// set in overlay replace those of ns.
func Merge(ns, overlay *NetworkState) (*NetworkState, error) {
	out := ns.Clone()
	if overlay == nil {
		return out, nil
	}
	for _, iface := range overlay.Interfaces.List() {
		existing := out.Interfaces.Lookup(iface)
		if existing == nil {
			out.Interfaces.Push(CloneInterface(iface))
			continue
		}
		merged, err := MergeInterface(existing, iface)
		if err != nil {
			return nil, err
		}
		out.Interfaces.Push(merged)
	}
	if overlay.Routes != nil {
		if out.Routes == nil {
			out.Routes = &Routes{}
		}
		out.Routes.Running = unionRoutes(out.Routes.Running, overlay.Routes.Running)
		out.Routes.Config = unionRoutes(out.Routes.Config, overlay.Routes.Config)
	}
	if overlay.Rules != nil {
		if out.Rules == nil {
			out.Rules = &RouteRules{}
		}
		out.Rules.Config = unionRules(out.Rules.Config, overlay.Rules.Config)
	}
	if overlay.DNS != nil {
		out.DNS = &DnsState{Running: overlay.DNS.Running.Clone(), Config: overlay.DNS.Config.Clone()}
	}
	if overlay.OvsDB != nil {
		out.OvsDB = &OvsDbGlobalConfig{
			ExternalIDs: cloneStrMap(overlay.OvsDB.ExternalIDs),
			OtherConfig: cloneStrMap(overlay.OvsDB.OtherConfig),
		}
	}
	if overlay.Hostname != nil {
		h := *overlay.Hostname
		out.Hostname = &h
	}
	return out, nil
}

func unionRoutes(a, b []Route) []Route {
	seen := make(map[string]bool, len(a))
	out := append([]Route(nil), a...)
	for _, r := range a {
		seen[r.Key()] = true
	}
	for _, r := range b {
		if !seen[r.Key()] {
			seen[r.Key()] = true
			out = append(out, r)
		}
	}
	return out
}

func unionRules(a, b []RouteRule) []RouteRule {
	seen := make(map[string]bool, len(a))
	out := append([]RouteRule(nil), a...)
	for _, r := range a {
		seen[r.Key()] = true
	}
	for _, r := range b {
		if !seen[r.Key()] {
			seen[r.Key()] = true
			out = append(out, r)
		}
	}
	return out
}

// SortedNames returns the keys of a string set in order.
func SortedNames(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
