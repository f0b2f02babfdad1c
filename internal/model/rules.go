package model

import (
	"fmt"
	"strings"
)

const (
	FamilyIPv4 = "ipv4"
	FamilyIPv6 = "ipv6"
)

// RouteRules holds configured policy routing rules.
type RouteRules struct {
	Config []RouteRule `yaml:"config,omitempty"`
}

// RouteRule is one policy rule. With state absent it is a wildcard.
type RouteRule struct {
	State                string  `yaml:"state,omitempty"`
	Family               *string `yaml:"family,omitempty"`
	IPFrom               *string `yaml:"ip-from,omitempty"`
	IPTo                 *string `yaml:"ip-to,omitempty"`
	Priority             *int64  `yaml:"priority,omitempty"`
	TableID              *uint32 `yaml:"route-table,omitempty"`
	Fwmark               *uint32 `yaml:"fwmark,omitempty"`
	Fwmask               *uint32 `yaml:"fwmask,omitempty"`
	Iif                  *string `yaml:"iif,omitempty"`
	Action               *string `yaml:"action,omitempty"`
	SuppressPrefixLength *uint32 `yaml:"suppress-prefix-length,omitempty"`
}

func (r RouteRule) IsAbsent() bool { return r.State == RouteStateAbsent }

// Table returns the target table, main when unset.
func (r RouteRule) Table() uint32 {
	if r.TableID == nil || *r.TableID == 0 {
		return RouteTableMain
	}
	return *r.TableID
}

// FamilyName returns the explicit family or derives it from the selectors.
func (r RouteRule) FamilyName() string {
	if r.Family != nil {
		return *r.Family
	}
	for _, s := range []*string{r.IPFrom, r.IPTo} {
		if s != nil && strings.Contains(*s, ":") {
			return FamilyIPv6
		}
	}
	return FamilyIPv4
}

// Matches reports whether r, as a wildcard, matches other.
func (r RouteRule) Matches(other RouteRule) bool {
	if r.Family != nil && r.FamilyName() != other.FamilyName() {
		return false
	}
	if r.IPFrom != nil && (other.IPFrom == nil || CanonicalPrefix(*r.IPFrom) != CanonicalPrefix(*other.IPFrom)) {
		return false
	}
	if r.IPTo != nil && (other.IPTo == nil || CanonicalPrefix(*r.IPTo) != CanonicalPrefix(*other.IPTo)) {
		return false
	}
	if r.Priority != nil && (other.Priority == nil || *r.Priority != *other.Priority) {
		return false
	}
	if r.TableID != nil && r.Table() != other.Table() {
		return false
	}
	if r.Fwmark != nil && (other.Fwmark == nil || *r.Fwmark != *other.Fwmark) {
		return false
	}
	if r.Fwmask != nil && (other.Fwmask == nil || *r.Fwmask != *other.Fwmask) {
		return false
	}
	if r.Iif != nil && (other.Iif == nil || *r.Iif != *other.Iif) {
		return false
	}
	if r.Action != nil && (other.Action == nil || *r.Action != *other.Action) {
		return false
	}
	return true
}

// Key identifies a rule for de-duplication.
func (r RouteRule) Key() string {
	s := func(p *string) string {
		if p == nil {
			return ""
		}
		return CanonicalPrefix(*p)
	}
	n := func(p *uint32) string {
		if p == nil {
			return ""
		}
		return fmt.Sprint(*p)
	}
	prio := ""
	if r.Priority != nil {
		prio = fmt.Sprint(*r.Priority)
	}
	action := ""
	if r.Action != nil {
		action = *r.Action
	}
	iif := ""
	if r.Iif != nil {
		iif = *r.Iif
	}
	return strings.Join([]string{r.FamilyName(), s(r.IPFrom), s(r.IPTo), prio,
		fmt.Sprint(r.Table()), n(r.Fwmark), n(r.Fwmask), iif, action}, "|")
}

func (r RouteRule) String() string {
	return fmt.Sprintf("rule %s table %d", r.Key(), r.Table())
}
