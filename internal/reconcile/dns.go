package reconcile

import (
	"net"
	"strings"

	"github.com/miekg/dns"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/model"
)

// ValidateDNS checks a resolver config: server addresses must parse (IPv6
// link-local servers may carry a %iface scope), search domains must be
// valid names, and the servers may switch address family at most once.
// Orders such as 4-6-4 or 6-4-6 cannot be split across per-family holders
// without reordering.
func ValidateDNS(cfg *model.DnsClientState) error {
	if cfg == nil {
		return nil
	}
	runs := 0
	var last string
	for _, srv := range cfg.Servers() {
		v6, err := serverFamily(srv)
		if err != nil {
			return err
		}
		fam := familyName(v6)
		if fam != last {
			runs++
			last = fam
		}
	}
	if runs > 2 {
		return errors.Errorf(errors.KindInvalidArgument,
			"dns servers %v alternate between ipv4 and ipv6 more than once; group them by family",
			cfg.Servers())
	}
	for _, s := range cfg.Searches() {
		if _, ok := dns.IsDomainName(s); !ok || s == "" {
			return errors.Errorf(errors.KindInvalidArgument, "invalid dns search domain %q", s)
		}
	}
	return nil
}

// serverFamily parses a nameserver, returning whether it is IPv6.
func serverFamily(srv string) (bool, error) {
	addr, scope, scoped := strings.Cut(srv, "%")
	ip := net.ParseIP(addr)
	if ip == nil {
		return false, errors.Errorf(errors.KindInvalidArgument, "invalid dns server %q", srv)
	}
	v6 := ip.To4() == nil
	if scoped && (!v6 || !ip.IsLinkLocalUnicast() || scope == "") {
		return false, errors.Errorf(errors.KindInvalidArgument,
			"dns server %q: an interface scope is only valid on ipv6 link-local addresses", srv)
	}
	return v6, nil
}

// preferredV6 reports the family carrying the search list: that of the
// first server, IPv4 when there are none.
func preferredV6(cfg *model.DnsClientState) bool {
	servers := cfg.Servers()
	if len(servers) == 0 {
		return false
	}
	v6, _ := serverFamily(servers[0])
	return v6
}

// dnsHolders picks, per family, the interface carrying DNS in the current
// state: the first eligible interface by name.
func dnsHolders(current *model.Interfaces) map[bool]string {
	out := make(map[bool]string)
	for _, name := range sortedNames(current) {
		cur := current.GetKernel(name)
		for _, v6 := range []bool{false, true} {
			if _, ok := out[v6]; ok {
				continue
			}
			if family(cur, v6).CanHoldDNS() {
				out[v6] = name
			}
		}
	}
	return out
}

func sortedNames(set *model.Interfaces) []string {
	names := make(map[string]bool)
	for _, iface := range set.List() {
		if !iface.Base().Type.IsUserspace() {
			names[iface.Base().Name] = true
		}
	}
	return model.SortedNames(names)
}

// selectHolder picks the interface for one family: an eligible interface
// named in desired first, then an eligible current interface, then the
// current holder when it survives.
func selectHolder(a *anchor, v6 bool, previous string) (string, error) {
	for _, name := range a.desiredNames() {
		if a.ip(name, v6).CanHoldDNS() {
			return name, nil
		}
	}
	for _, name := range a.names() {
		if a.ip(name, v6).CanHoldDNS() {
			return name, nil
		}
	}
	if previous != "" && a.exists(previous) && a.ip(previous, v6).IsEnabled() {
		return previous, nil
	}
	return "", errors.Errorf(errors.KindInvalidArgument,
		"no interface can hold %s dns: it needs static %s config or auto-dns disabled",
		familyName(v6), familyName(v6))
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameDNS(a, b *model.DnsClientState) bool {
	canon := func(in []string) []string {
		out := make([]string, len(in))
		for i, s := range in {
			addr, scope, ok := strings.Cut(s, "%")
			out[i] = model.CanonicalIP(addr)
			if ok {
				out[i] += "%" + scope
			}
		}
		return out
	}
	return sameStrings(canon(a.Servers()), canon(b.Servers())) &&
		sameStrings(a.Searches(), b.Searches()) &&
		sameStrings(a.OptionList(), b.OptionList())
}

// reanchorDNS projects the resolver config onto one interface per family.
// With no desired config, or one equal to the current config, the current
// config is re-anchored only when its holder stops qualifying.
func reanchorDNS(a *anchor, desired, current *model.DnsClientState) error {
	if err := ValidateDNS(desired); err != nil {
		return err
	}
	holders := dnsHolders(a.current)

	cfg := desired
	if cfg == nil {
		if current == nil || current.IsPurge() {
			return nil
		}
		if !holderLost(a, holders, current) {
			return nil
		}
		cfg = current
	} else if sameDNS(cfg, current) && !holderLost(a, holders, cfg) {
		return nil
	}

	chosen := make(map[bool]string)
	if !cfg.IsPurge() {
		pref := preferredV6(cfg)
		for _, v6 := range neededFamilies(cfg) {
			name, err := selectHolder(a, v6, holders[v6])
			if err != nil {
				if len(cfg.Servers()) == 0 && v6 == pref {
					// A search-only config may land on the other family.
					if name, err = selectHolder(a, !v6, holders[!v6]); err == nil {
						chosen[!v6] = name
						continue
					}
				}
				return err
			}
			chosen[v6] = name
		}

		searchOn := pref
		if _, ok := chosen[searchOn]; !ok {
			searchOn = !pref
		}
		for _, v6 := range []bool{false, true} {
			name, ok := chosen[v6]
			if !ok {
				continue
			}
			e, err := a.entry(name)
			if err != nil {
				return err
			}
			payload := &model.DnsClientState{}
			var servers []string
			for _, srv := range cfg.Servers() {
				if isV6, _ := serverFamily(srv); isV6 == v6 {
					servers = append(servers, srv)
				}
			}
			payload.Server = &servers
			if v6 == searchOn {
				search := append([]string{}, cfg.Searches()...)
				payload.Search = &search
				if opts := cfg.OptionList(); len(opts) > 0 {
					o := append([]string{}, opts...)
					payload.Options = &o
				}
			}
			a.carrier(e, v6).DNS = payload
		}
	}

	held := make(map[bool]bool)
	if current != nil {
		for _, v6 := range neededFamilies(current) {
			held[v6] = true
		}
	}
	for _, v6 := range []bool{false, true} {
		prev, ok := holders[v6]
		if !ok || !a.exists(prev) {
			continue
		}
		next, moving := chosen[v6]
		if moving && next == prev || !moving && !held[v6] && !cfg.IsPurge() {
			continue
		}
		e, err := a.entry(prev)
		if err != nil {
			return err
		}
		a.carrier(e, v6).DNS = &model.DnsClientState{}
	}

	out := &model.DnsClientState{}
	if s := cfg.Servers(); s != nil {
		servers := append([]string{}, s...)
		out.Server = &servers
	}
	if s := cfg.Searches(); s != nil {
		search := append([]string{}, s...)
		out.Search = &search
	}
	if o := cfg.OptionList(); o != nil {
		opts := append([]string{}, o...)
		out.Options = &opts
	}
	a.plan.DNS = out
	return nil
}

// holderLost reports whether a family of cfg had a holder that no longer
// qualifies once the plan is applied. A family with no current holder was
// filled in dynamically (a DHCP lease writing resolv.conf) and is left alone.
func holderLost(a *anchor, holders map[bool]string, cfg *model.DnsClientState) bool {
	for _, v6 := range neededFamilies(cfg) {
		if prev, ok := holders[v6]; ok && !a.ip(prev, v6).CanHoldDNS() {
			return true
		}
	}
	return false
}

// neededFamilies lists the families that must hold part of cfg. A config
// without servers still needs a holder for its search list.
func neededFamilies(cfg *model.DnsClientState) []bool {
	var v4, v6 bool
	for _, srv := range cfg.Servers() {
		if isV6, err := serverFamily(srv); err == nil {
			if isV6 {
				v6 = true
			} else {
				v4 = true
			}
		}
	}
	if !v4 && !v6 && (len(cfg.Searches()) > 0 || len(cfg.OptionList()) > 0) {
		return []bool{preferredV6(cfg)}
	}
	var out []bool
	if v4 {
		out = append(out, false)
	}
	if v6 {
		out = append(out, true)
	}
	return out
}
