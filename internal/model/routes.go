package model

import (
	"fmt"
	"net"
	"strings"
)

const (
	// RouteTableMain is the kernel main table; an unset table means main.
	RouteTableMain   uint32 = 254
	RouteStateAbsent        = "absent"
)

// Routes holds the running routes and the configured ones.
type Routes struct {
	Running []Route `yaml:"running,omitempty"`
	Config  []Route `yaml:"config,omitempty"`
}

// Route is one route entry. With state absent it is a wildcard matching
// every route that agrees on the fields it sets.
type Route struct {
	State        string  `yaml:"state,omitempty"`
	Destination  *string `yaml:"destination,omitempty"`
	NextHopIface *string `yaml:"next-hop-interface,omitempty"`
	NextHopAddr  *string `yaml:"next-hop-address,omitempty"`
	Metric       *int64  `yaml:"metric,omitempty"`
	TableID      *uint32 `yaml:"table-id,omitempty"`
	Weight       *uint16 `yaml:"weight,omitempty"`
	RouteType    *string `yaml:"route-type,omitempty"`
	Source       *string `yaml:"source,omitempty"`
	// NextHopFlag is reported for running multipath hops only.
	NextHopFlag *string `yaml:"next-hop-flag,omitempty"`
}

func (r Route) IsAbsent() bool { return r.State == RouteStateAbsent }

// Table returns the table id, main when unset.
func (r Route) Table() uint32 {
	if r.TableID == nil || *r.TableID == 0 {
		return RouteTableMain
	}
	return *r.TableID
}

// Iface returns the next hop interface name or "".
func (r Route) Iface() string {
	if r.NextHopIface == nil {
		return ""
	}
	return *r.NextHopIface
}

// IsIPv6 reports the family from destination, then next hop.
func (r Route) IsIPv6() bool {
	if r.Destination != nil {
		return strings.Contains(*r.Destination, ":")
	}
	if r.NextHopAddr != nil {
		return strings.Contains(*r.NextHopAddr, ":")
	}
	return false
}

// Matches reports whether r, as a wildcard, matches other.
func (r Route) Matches(other Route) bool {
	if r.Destination != nil && (other.Destination == nil || CanonicalPrefix(*r.Destination) != CanonicalPrefix(*other.Destination)) {
		return false
	}
	if r.NextHopIface != nil && other.Iface() != *r.NextHopIface {
		return false
	}
	if r.NextHopAddr != nil && (other.NextHopAddr == nil || CanonicalIP(*r.NextHopAddr) != CanonicalIP(*other.NextHopAddr)) {
		return false
	}
	if r.TableID != nil && r.Table() != other.Table() {
		return false
	}
	if r.Metric != nil && (other.Metric == nil || *r.Metric != *other.Metric) {
		return false
	}
	if r.RouteType != nil && (other.RouteType == nil || *r.RouteType != *other.RouteType) {
		return false
	}
	if r.Weight != nil && (other.Weight == nil || *r.Weight != *other.Weight) {
		return false
	}
	return true
}

// Key identifies a route for de-duplication.
func (r Route) Key() string {
	var b strings.Builder
	if r.Destination != nil {
		b.WriteString(CanonicalPrefix(*r.Destination))
	}
	b.WriteString("|" + r.Iface() + "|")
	if r.NextHopAddr != nil {
		b.WriteString(CanonicalIP(*r.NextHopAddr))
	}
	fmt.Fprintf(&b, "|%d|", r.Table())
	if r.Metric != nil {
		fmt.Fprintf(&b, "%d", *r.Metric)
	}
	if r.RouteType != nil {
		b.WriteString("|" + *r.RouteType)
	}
	if r.Weight != nil {
		fmt.Fprintf(&b, "|w%d", *r.Weight)
	}
	return b.String()
}

func (r Route) String() string {
	parts := []string{}
	if r.Destination != nil {
		parts = append(parts, *r.Destination)
	}
	if r.NextHopAddr != nil {
		parts = append(parts, "via "+*r.NextHopAddr)
	}
	if r.NextHopIface != nil {
		parts = append(parts, "dev "+*r.NextHopIface)
	}
	parts = append(parts, fmt.Sprintf("table %d", r.Table()))
	if r.Metric != nil {
		parts = append(parts, fmt.Sprintf("metric %d", *r.Metric))
	}
	if r.IsAbsent() {
		parts = append(parts, "(absent)")
	}
	return strings.Join(parts, " ")
}

// CanonicalPrefix normalises a CIDR string, leaving unparsable input as is.
func CanonicalPrefix(s string) string {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		return s
	}
	return n.String()
}

// CanonicalIP normalises an IP string, leaving unparsable input as is.
func CanonicalIP(s string) string {
	ip := net.ParseIP(s)
	if ip == nil {
		return s
	}
	return ip.String()
}
