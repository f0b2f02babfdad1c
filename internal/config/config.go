package config

import (
	"path/filepath"
	"time"

	"grimm.is/netstate/internal/brand"
)

// Checkpoint backends.
const (
	CheckpointLocal          = "local"
	CheckpointNetworkManager = "networkmanager"
	CheckpointNone           = "none"
)

// Hostname backends.
const (
	HostnameSyscall   = "syscall"
	HostnameHostnamed = "hostnamed"
)

// Default file locations.
var (
	DefaultStateFile = filepath.Join(brand.DefaultConfigDir, "desired.yml")
	DefaultDBPath    = filepath.Join(brand.DefaultStateDir, "state.db")
)

// DefaultMetrics is the metrics listen address.
const DefaultMetrics = ":9469"

// Config is the daemon and CLI configuration.
type Config struct {
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty"`

	// StateFile is the desired NetworkState document the daemon enforces.
	StateFile string `hcl:"state_file,optional" json:"state_file,omitempty"`
	// Netns names the network namespace to manage; empty is the current one.
	Netns    string `hcl:"netns,optional" json:"netns,omitempty"`
	LogLevel string `hcl:"log_level,optional" json:"log_level,omitempty"`
	LogJSON  bool   `hcl:"log_json,optional" json:"log_json,omitempty"`

	ResolvConf string `hcl:"resolv_conf,optional" json:"resolv_conf,omitempty"`

	Checkpoint *CheckpointConfig `hcl:"checkpoint,block" json:"checkpoint,omitempty"`
	Verify     *VerifyConfig     `hcl:"verify,block" json:"verify,omitempty"`
	Daemon     *DaemonConfig     `hcl:"daemon,block" json:"daemon,omitempty"`
	OVS        *OVSConfig        `hcl:"ovs,block" json:"ovs,omitempty"`
	Hostname   *HostnameConfig   `hcl:"hostname,block" json:"hostname,omitempty"`
}

// CheckpointConfig selects how applies are guarded.
type CheckpointConfig struct {
	Backend string `hcl:"backend,optional" json:"backend,omitempty"`
	Timeout string `hcl:"timeout,optional" json:"timeout,omitempty"`
	DBPath  string `hcl:"db_path,optional" json:"db_path,omitempty"`
}

// VerifyConfig tunes post-apply verification.
type VerifyConfig struct {
	Enabled      *bool    `hcl:"enabled,optional" json:"enabled,omitempty"`
	Retries      int      `hcl:"retries,optional" json:"retries,omitempty"`
	Interval     string   `hcl:"interval,optional" json:"interval,omitempty"`
	ProbeTargets []string `hcl:"probe_targets,optional" json:"probe_targets,omitempty"`
	ProbeTimeout string   `hcl:"probe_timeout,optional" json:"probe_timeout,omitempty"`
}

// DaemonConfig controls the reconcile loop.
type DaemonConfig struct {
	Interval      string `hcl:"interval,optional" json:"interval,omitempty"`
	MetricsListen string `hcl:"metrics_listen,optional" json:"metrics_listen,omitempty"`
	// Watch re-checks on kernel link/address/route notifications in
	// addition to the interval.
	Watch  *bool  `hcl:"watch,optional" json:"watch,omitempty"`
	Settle string `hcl:"settle,optional" json:"settle,omitempty"`
}

// OVSConfig enables the Open vSwitch backend.
type OVSConfig struct {
	Enabled *bool  `hcl:"enabled,optional" json:"enabled,omitempty"`
	Vsctl   string `hcl:"vsctl,optional" json:"vsctl,omitempty"`
}

// HostnameConfig selects how the running hostname is set.
type HostnameConfig struct {
	Backend string `hcl:"backend,optional" json:"backend,omitempty"`
}

// Default returns a configuration with every field set.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func boolPtr(b bool) *bool { return &b }

// applyDefaults fills every unset field. Decoding replaces whole blocks,
// so defaults are applied after decoding rather than before.
func (c *Config) applyDefaults() {
	if c.SchemaVersion == "" {
		c.SchemaVersion = CurrentSchemaVersion
	}
	if c.StateFile == "" {
		c.StateFile = DefaultStateFile
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ResolvConf == "" {
		c.ResolvConf = "/etc/resolv.conf"
	}

	if c.Checkpoint == nil {
		c.Checkpoint = &CheckpointConfig{}
	}
	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = CheckpointLocal
	}
	if c.Checkpoint.Timeout == "" {
		c.Checkpoint.Timeout = "60s"
	}
	if c.Checkpoint.DBPath == "" {
		c.Checkpoint.DBPath = DefaultDBPath
	}

	if c.Verify == nil {
		c.Verify = &VerifyConfig{}
	}
	if c.Verify.Enabled == nil {
		c.Verify.Enabled = boolPtr(true)
	}
	if c.Verify.Retries == 0 {
		c.Verify.Retries = 5
	}
	if c.Verify.Interval == "" {
		c.Verify.Interval = "1s"
	}
	if c.Verify.ProbeTimeout == "" {
		c.Verify.ProbeTimeout = "3s"
	}

	if c.Daemon == nil {
		c.Daemon = &DaemonConfig{}
	}
	if c.Daemon.Interval == "" {
		c.Daemon.Interval = "5m"
	}
	if c.Daemon.MetricsListen == "" {
		c.Daemon.MetricsListen = DefaultMetrics
	}
	if c.Daemon.Watch == nil {
		c.Daemon.Watch = boolPtr(true)
	}
	if c.Daemon.Settle == "" {
		c.Daemon.Settle = "2s"
	}

	if c.OVS == nil {
		c.OVS = &OVSConfig{}
	}
	if c.OVS.Enabled == nil {
		c.OVS.Enabled = boolPtr(true)
	}
	if c.OVS.Vsctl == "" {
		c.OVS.Vsctl = "ovs-vsctl"
	}

	if c.Hostname == nil {
		c.Hostname = &HostnameConfig{}
	}
	if c.Hostname.Backend == "" {
		c.Hostname.Backend = HostnameSyscall
	}
}

// CheckpointTimeout returns the parsed checkpoint timeout.
func (c *Config) CheckpointTimeout() time.Duration {
	return duration(c.Checkpoint.Timeout)
}

// VerifyInterval returns the parsed interval between verification attempts.
func (c *Config) VerifyInterval() time.Duration {
	return duration(c.Verify.Interval)
}

// ProbeTimeout returns the parsed per-target probe timeout.
func (c *Config) ProbeTimeout() time.Duration {
	return duration(c.Verify.ProbeTimeout)
}

// DaemonInterval returns the parsed reconcile interval.
func (c *Config) DaemonInterval() time.Duration {
	return duration(c.Daemon.Interval)
}

// Settle returns the parsed quiet period after kernel notifications.
func (c *Config) Settle() time.Duration {
	return duration(c.Daemon.Settle)
}

// duration parses a duration Validate already accepted; anything else
// reads as zero so callers fall back to their own defaults.
func duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
