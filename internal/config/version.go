package config

import (
	"fmt"
	"strconv"
	"strings"
)

// CurrentSchemaVersion is the schema version written by this release.
const CurrentSchemaVersion = "1.0"

// SchemaVersion represents a config schema version.
type SchemaVersion struct {
	Major int
	Minor int
}

// ParseVersion parses a version string like "1.0". An empty string is 1.0.
func ParseVersion(s string) (SchemaVersion, error) {
	if s == "" {
		return SchemaVersion{Major: 1, Minor: 0}, nil
	}

	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		return SchemaVersion{}, fmt.Errorf("invalid version format: %s (expected X.Y)", s)
	}
	maj, err := strconv.Atoi(major)
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("invalid major version: %s", major)
	}
	mnr, err := strconv.Atoi(minor)
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("invalid minor version: %s", minor)
	}
	return SchemaVersion{Major: maj, Minor: mnr}, nil
}

// String returns the version as "X.Y"
func (v SchemaVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compare returns -1 if v < other, 0 if equal, 1 if v > other
func (v SchemaVersion) Compare(other SchemaVersion) int {
	switch {
	case v.Major != other.Major:
		return cmpInt(v.Major, other.Major)
	default:
		return cmpInt(v.Minor, other.Minor)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// SupportedVersions lists the schema versions this release can read.
var SupportedVersions = []SchemaVersion{
	{Major: 1, Minor: 0},
}

// IsSupportedVersion reports whether a reader exists for v's major version.
func IsSupportedVersion(v SchemaVersion) bool {
	for _, supported := range SupportedVersions {
		if v.Major == supported.Major {
			return true
		}
	}
	return false
}
