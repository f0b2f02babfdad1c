// Package validation checks untrusted names and paths before they reach
// netlink, sysfs or ovs-vsctl.
package validation

import (
	"net"
	"path/filepath"
	"regexp"
	"strings"

	"grimm.is/netstate/internal/errors"
)

// MaxInterfaceNameLen is IFNAMSIZ minus the trailing NUL.
const MaxInterfaceNameLen = 15

var (
	// Valid interface name: alphanumeric, dash, underscore, dot (for VLANs), max 15 chars
	interfaceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,15}$`)

	// Characters that should never appear in a name handed to a command
	dangerousChars = []string{";", "|", "&", "$", "`", "(", ")", "<", ">", "\\", "\"", "'", "\n", "\r"}
)

// SysctlDirs are the trees kernel settings are written under.
var SysctlDirs = []string{"/proc/sys", "/sys/class/net", "/sys/devices"}

// ValidateInterfaceName validates a kernel network interface name.
func ValidateInterfaceName(name string) error {
	if name == "" {
		return errors.New(errors.KindInvalidArgument, "interface name cannot be empty")
	}
	if len(name) > MaxInterfaceNameLen {
		return errors.Errorf(errors.KindInvalidArgument,
			"interface name %q exceeds %d characters", name, MaxInterfaceNameLen)
	}
	if name == "." || name == ".." {
		return errors.Errorf(errors.KindInvalidArgument, "invalid interface name %q", name)
	}
	for _, char := range dangerousChars {
		if strings.Contains(name, char) {
			return errors.Errorf(errors.KindInvalidArgument,
				"interface name %q contains dangerous character %q", name, char)
		}
	}
	if !interfaceNameRegex.MatchString(name) {
		return errors.Errorf(errors.KindInvalidArgument,
			"interface name %q contains invalid characters (allowed: alphanumeric and -_.)", name)
	}
	return nil
}

// ValidatePath checks that path lies under one of allowedDirs.
func ValidatePath(path string, allowedDirs []string) error {
	if path == "" {
		return errors.New(errors.KindInvalidArgument, "path cannot be empty")
	}
	if strings.Contains(path, "\x00") {
		return errors.New(errors.KindInvalidArgument, "null byte in path")
	}
	// Reject traversal before cleaning hides it.
	for _, elem := range strings.Split(path, "/") {
		if elem == ".." {
			return errors.Errorf(errors.KindInvalidArgument, "path traversal not allowed: %s", path)
		}
	}

	cleanPath := filepath.Clean(path)
	for _, dir := range allowedDirs {
		dir = filepath.Clean(dir)
		if cleanPath == dir || strings.HasPrefix(cleanPath, dir+"/") {
			return nil
		}
	}
	return errors.Errorf(errors.KindInvalidArgument, "path not in allowed directories: %s", cleanPath)
}

// ValidateIP validates a bare IP address.
func ValidateIP(s string) error {
	if s == "" {
		return errors.New(errors.KindInvalidArgument, "IP address cannot be empty")
	}
	if net.ParseIP(s) == nil {
		return errors.Errorf(errors.KindInvalidArgument, "%q is not an IP address", s)
	}
	return nil
}

// ValidateIPOrCIDR validates an IP address or CIDR range
func ValidateIPOrCIDR(s string) error {
	if strings.Contains(s, "/") {
		if _, _, err := net.ParseCIDR(s); err != nil {
			return errors.Wrapf(err, errors.KindInvalidArgument, "invalid CIDR %q", s)
		}
		return nil
	}
	return ValidateIP(s)
}
