// Package reconcile computes what has to change to move a host from its
// current network state to a desired one. It resolves controller/port
// topology, classifies interfaces into add, change and delete sets,
// re-anchors routes, route rules and DNS onto the interfaces that will carry
// them, and verifies an applied plan against a fresh snapshot.
//
// Nothing in this package touches the system; backends consume the Plan.
package reconcile

import (
	"fmt"
	"strings"

	"grimm.is/netstate/internal/model"
)

// SriovChecker validates that a device can provide the requested number of
// virtual functions.
type SriovChecker interface {
	CheckSriov(name string, totalVfs uint32) error
}

// Options tunes plan generation.
type Options struct {
	// MemoryOnly turns deletes of existing interfaces into state down and
	// drops purge-only deletes.
	MemoryOnly bool
	// Sriov is consulted when an ethernet interface requests VFs. A nil
	// checker skips the capability check.
	Sriov SriovChecker
}

// Plan is the outcome of reconciliation. The three interface sets are
// disjoint by identity and share nothing with the inputs they were computed
// from.
type Plan struct {
	Add    *model.Interfaces `yaml:"add,omitempty"`
	Change *model.Interfaces `yaml:"change,omitempty"`
	Delete *model.Interfaces `yaml:"delete,omitempty"`

	// Routes and Rules are the complete configured sets after the plan is
	// applied; nil when untouched.
	Routes []model.Route     `yaml:"routes,omitempty"`
	Rules  []model.RouteRule `yaml:"route-rules,omitempty"`
	// RoutesChanged and RulesChanged record whether Routes and Rules differ
	// from the current configuration.
	RoutesChanged bool `yaml:"-"`
	RulesChanged  bool `yaml:"-"`

	DNS      *model.DnsClientState    `yaml:"dns-resolver,omitempty"`
	Hostname *string                  `yaml:"hostname,omitempty"`
	OvsDB    *model.OvsDbGlobalConfig `yaml:"ovs-db,omitempty"`

	// Sriov is set when the plan configures SR-IOV; verification then
	// allows more time to settle.
	Sriov bool `yaml:"-"`
}

func newPlan() *Plan {
	return &Plan{
		Add:    model.NewInterfaces(),
		Change: model.NewInterfaces(),
		Delete: model.NewInterfaces(),
	}
}

// IsEmpty reports whether applying the plan would do nothing.
func (p *Plan) IsEmpty() bool {
	if p == nil {
		return true
	}
	return p.Add.Len() == 0 && p.Change.Len() == 0 && p.Delete.Len() == 0 &&
		!p.RoutesChanged && !p.RulesChanged &&
		p.DNS == nil && p.Hostname == nil && p.OvsDB == nil
}

// Entry returns the add or change entry for a kernel interface name.
func (p *Plan) Entry(name string) model.Interface {
	if iface := p.Add.GetKernel(name); iface != nil {
		return iface
	}
	return p.Change.GetKernel(name)
}

// IsDeleted reports whether the plan removes the kernel interface name
// without re-creating it.
func (p *Plan) IsDeleted(name string) bool {
	return p.Delete.GetKernel(name) != nil && p.Add.GetKernel(name) == nil
}

// Summary renders a one-line-per-operation description.
func (p *Plan) Summary() string {
	if p.IsEmpty() {
		return "no changes"
	}
	var b strings.Builder
	write := func(op string, set *model.Interfaces) {
		for _, iface := range set.List() {
			base := iface.Base()
			fmt.Fprintf(&b, "%s %s (%s)", op, base.Name, base.Type)
			if base.IsDown() {
				b.WriteString(" down")
			}
			b.WriteByte('\n')
		}
	}
	write("delete", p.Delete)
	write("add", p.Add)
	write("change", p.Change)
	if p.RoutesChanged {
		fmt.Fprintf(&b, "routes: %d configured\n", len(p.Routes))
	}
	if p.RulesChanged {
		fmt.Fprintf(&b, "route-rules: %d configured\n", len(p.Rules))
	}
	if p.DNS != nil {
		fmt.Fprintf(&b, "dns: servers %v search %v\n", p.DNS.Servers(), p.DNS.Searches())
	}
	if p.Hostname != nil {
		fmt.Fprintf(&b, "hostname: %s\n", *p.Hostname)
	}
	if p.OvsDB != nil {
		b.WriteString("ovs-db: global config\n")
	}
	return b.String()
}
