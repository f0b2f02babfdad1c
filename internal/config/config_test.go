package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/netstate/internal/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, CurrentSchemaVersion, cfg.SchemaVersion)
	assert.Equal(t, DefaultStateFile, cfg.StateFile)
	assert.Equal(t, CheckpointLocal, cfg.Checkpoint.Backend)
	assert.Equal(t, 60*time.Second, cfg.CheckpointTimeout())
	assert.Equal(t, time.Second, cfg.VerifyInterval())
	assert.Equal(t, 5*time.Minute, cfg.DaemonInterval())
	assert.Equal(t, 2*time.Second, cfg.Settle())
	assert.True(t, *cfg.Verify.Enabled)
	assert.True(t, *cfg.OVS.Enabled)
	assert.Equal(t, HostnameSyscall, cfg.Hostname.Backend)
	assert.Empty(t, cfg.Validate())
}

func TestLoadHCL(t *testing.T) {
	t.Setenv("NETSTATE_TEST_NS", "blue")

	src := `
schema_version = "1.0"
state_file = "/srv/desired.yml"
netns      = env.NETSTATE_TEST_NS
log_level  = "debug"

checkpoint {
  backend = "networkmanager"
  timeout = "90s"
}

verify {
  retries       = 30
  probe_targets = ["192.0.2.1", "2001:db8::1"]
}

daemon {
  watch = false
}

ovs {
  enabled = false
}
`
	cfg, err := LoadHCL([]byte(src), "test.hcl")
	require.NoError(t, err)

	assert.Equal(t, "/srv/desired.yml", cfg.StateFile)
	assert.Equal(t, "blue", cfg.Netns)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, CheckpointNetworkManager, cfg.Checkpoint.Backend)
	assert.Equal(t, 90*time.Second, cfg.CheckpointTimeout())
	assert.Equal(t, DefaultDBPath, cfg.Checkpoint.DBPath, "unset block fields take defaults")
	assert.Equal(t, 30, cfg.Verify.Retries)
	assert.Equal(t, time.Second, cfg.VerifyInterval())
	assert.Equal(t, []string{"192.0.2.1", "2001:db8::1"}, cfg.Verify.ProbeTargets)
	assert.False(t, *cfg.Daemon.Watch)
	assert.Equal(t, DefaultMetrics, cfg.Daemon.MetricsListen)
	assert.False(t, *cfg.OVS.Enabled)
	assert.Equal(t, "ovs-vsctl", cfg.OVS.Vsctl)
}

func TestLoadHCL_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"syntax", `checkpoint {`, "parse error"},
		{"unknown attribute", `colour = "red"`, "decode error"},
		{"version", `schema_version = "2.0"`, "unsupported config schema version"},
		{"backend", `checkpoint { backend = "etcd" }`, "checkpoint.backend"},
		{"duration", `daemon { interval = "soon" }`, "daemon.interval"},
		{"negative duration", `verify { interval = "-1s" }`, "must be positive"},
		{"probe target", `verify { probe_targets = ["gateway"] }`, "verify.probe_targets[0]"},
		{"log level", `log_level = "loud"`, "log_level"},
		{"hostname backend", `hostname { backend = "dhcp" }`, "hostname.backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadHCL([]byte(tt.src), "test.hcl")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, errors.IsKind(err, errors.KindInvalidArgument))
		})
	}
}

func TestLoadFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netstate.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"state_file": "/srv/s.yml", "daemon": {"interval": "30s"}}`), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/s.yml", cfg.StateFile)
	assert.Equal(t, 30*time.Second, cfg.DaemonInterval())
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.hcl"))
	require.Error(t, err)
}

func TestSaveFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "netstate.hcl")
	cfg := Default()
	cfg.Netns = "red"
	cfg.Verify.ProbeTargets = []string{"192.0.2.1"}

	require.NoError(t, SaveFile(cfg, path))
	require.NoError(t, SaveFile(cfg, path))
	_, err := os.Stat(path + ".bak")
	require.NoError(t, err)

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("")
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion{Major: 1}, v)

	v, err = ParseVersion("1.2")
	require.NoError(t, err)
	assert.Equal(t, "1.2", v.String())
	assert.Equal(t, 1, v.Compare(SchemaVersion{Major: 1, Minor: 0}))
	assert.Equal(t, -1, v.Compare(SchemaVersion{Major: 2}))
	assert.Equal(t, 0, v.Compare(v))

	_, err = ParseVersion("1")
	assert.Error(t, err)
	_, err = ParseVersion("x.0")
	assert.Error(t, err)
}
