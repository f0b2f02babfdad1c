// Package brand holds the product identity and the default filesystem
// locations derived from it.
package brand

import (
	"os"
	"path/filepath"
)

// Product identity.
const (
	Name            = "netstate"
	BinaryName      = "netstate"
	Description     = "declarative network state reconciler"
	ConfigEnvPrefix = "NETSTATE"
	ConfigFileName  = "netstate.hcl"

	DefaultConfigDir = "/etc/netstate"
	DefaultStateDir  = "/var/lib/netstate"
	DefaultRunDir    = "/run/netstate"
)

// Set at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// UserAgent returns Name/version.
func UserAgent(version string) string {
	if version == "" {
		version = "dev"
	}
	return Name + "/" + version
}

// GetConfigDir returns the config directory.
// Priority: NETSTATE_CONFIG_DIR > NETSTATE_PREFIX/config > DefaultConfigDir
func GetConfigDir() string {
	return dirFromEnv("_CONFIG_DIR", "config", DefaultConfigDir)
}

// GetStateDir returns the directory holding the checkpoint database.
// Priority: NETSTATE_STATE_DIR > NETSTATE_PREFIX/state > DefaultStateDir
func GetStateDir() string {
	return dirFromEnv("_STATE_DIR", "state", DefaultStateDir)
}

// GetRunDir returns the runtime directory.
// Priority: NETSTATE_RUN_DIR > NETSTATE_PREFIX/run > DefaultRunDir
func GetRunDir() string {
	return dirFromEnv("_RUN_DIR", "run", DefaultRunDir)
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(GetConfigDir(), ConfigFileName)
}

func dirFromEnv(suffix, sub, def string) string {
	if dir := os.Getenv(ConfigEnvPrefix + suffix); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, sub)
	}
	return def
}
