package reconcile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"gopkg.in/yaml.v2"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/model"
)

// Verify compares a fresh snapshot against the plan that was applied.
// Only fields the plan sets are compared; addresses of dynamically
// configured families are skipped. A result whose only differences are
// bridge multicast timers off by one is a KindKernelIntegerRounded error,
// every other difference is KindVerification with a unified diff attached.
func Verify(plan *Plan, current *model.NetworkState) error {
	var (
		ifaceMismatches []string
		rounded         []string
		other           []string
		wantDoc         []model.Interface
		gotDoc          []model.Interface
	)
	if current == nil {
		current = model.NewNetworkState()
	}

	for _, set := range []*model.Interfaces{plan.Add, plan.Change} {
		for _, entry := range set.List() {
			want := verifiable(entry)
			got := current.Interfaces.Lookup(want)
			if got == nil {
				other = append(other, fmt.Sprintf("interface %s: missing", want.Base().Name))
				wantDoc = append(wantDoc, want)
				continue
			}
			mm := model.CompareInterfaces(want, got)
			if len(mm) == 0 {
				continue
			}
			wantDoc = append(wantDoc, want)
			gotDoc = append(gotDoc, got)
			for _, m := range mm {
				line := fmt.Sprintf("interface %s: %s", want.Base().Name, m)
				if isRounded(m) {
					rounded = append(rounded, line)
				} else {
					ifaceMismatches = append(ifaceMismatches, line)
				}
			}
		}
	}

	for _, del := range plan.Delete.List() {
		got := current.Interfaces.Lookup(del)
		if got == nil {
			continue
		}
		if model.IsVirtual(got) {
			other = append(other, fmt.Sprintf("interface %s: still present", del.Base().Name))
		} else if got.Base().IsUp() {
			other = append(other, fmt.Sprintf("interface %s: still up", del.Base().Name))
		}
	}

	if plan.RoutesChanged {
		for _, r := range plan.Routes {
			if !anyRoute(current.RouteConfig(), r) {
				other = append(other, fmt.Sprintf("route %s: missing", r))
			}
		}
	}
	if plan.RulesChanged {
		for _, r := range plan.Rules {
			found := false
			for _, c := range current.RuleConfig() {
				if r.Matches(c) {
					found = true
					break
				}
			}
			if !found {
				other = append(other, fmt.Sprintf("route rule %s: missing", r))
			}
		}
	}
	if plan.DNS != nil && !sameDNS(plan.DNS, current.DNSConfig()) {
		other = append(other, fmt.Sprintf("dns: desired servers %v search %v, current servers %v search %v",
			plan.DNS.Servers(), plan.DNS.Searches(),
			current.DNSConfig().Servers(), current.DNSConfig().Searches()))
	}
	if plan.Hostname != nil {
		running := ""
		if current.Hostname != nil && current.Hostname.Running != nil {
			running = *current.Hostname.Running
		}
		if running != *plan.Hostname {
			other = append(other, fmt.Sprintf("hostname: desired %q, current %q", *plan.Hostname, running))
		}
	}

	if len(ifaceMismatches) == 0 && len(other) == 0 {
		if len(rounded) == 0 {
			return nil
		}
		return errors.Attr(errors.Errorf(errors.KindKernelIntegerRounded,
			"kernel rounded bridge timers: %s", strings.Join(rounded, "; ")), "mismatches", rounded)
	}

	all := append(append(ifaceMismatches, rounded...), other...)
	err := errors.Errorf(errors.KindVerification,
		"verification failed: %s", strings.Join(all, "; "))
	if diff := UnifiedDiff(wantDoc, gotDoc, "desired", "current"); diff != "" {
		err = errors.Attr(err, "diff", diff)
	}
	return err
}

// verifiable strips what cannot be read back from a plan entry.
func verifiable(entry model.Interface) model.Interface {
	out := model.CloneInterface(entry)
	base := out.Base()
	for _, ip := range []*model.InterfaceIP{base.IPv4, base.IPv6} {
		if ip != nil && ip.IsDynamic() {
			ip.Addresses = nil
		}
	}
	if base.ControllerType == model.TypeBond {
		// Bond ports report the bond's MAC.
		base.MacAddress = nil
	}
	if base.IsDown() {
		return &model.UnknownInterface{BaseInterface: model.BaseInterface{
			Name: base.Name, Type: base.Type, State: base.State,
		}}
	}
	return out
}

func anyRoute(routes []model.Route, want model.Route) bool {
	for _, r := range routes {
		if want.Matches(r) {
			return true
		}
	}
	return false
}

// isRounded reports a bridge timer that differs by exactly one.
func isRounded(m model.Mismatch) bool {
	field := m.Path
	if i := strings.LastIndex(field, "."); i >= 0 {
		field = field[i+1:]
	}
	known := false
	for _, f := range model.BridgeRoundedFields {
		if f == field {
			known = true
		}
	}
	if !known {
		return false
	}
	d, err1 := strconv.ParseInt(fmt.Sprint(m.Desired), 10, 64)
	c, err2 := strconv.ParseInt(fmt.Sprint(m.Current), 10, 64)
	if err1 != nil || err2 != nil {
		return false
	}
	return d-c == 1 || c-d == 1
}

// UnifiedDiff renders two values as YAML and diffs them.
func UnifiedDiff(a, b interface{}, from, to string) string {
	left, err := yaml.Marshal(a)
	if err != nil {
		return ""
	}
	right, err := yaml.Marshal(b)
	if err != nil {
		return ""
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(left)),
		B:        difflib.SplitLines(string(right)),
		FromFile: from,
		ToFile:   to,
		Context:  3,
	}
	text, _ := difflib.GetUnifiedDiffString(diff)
	return text
}
