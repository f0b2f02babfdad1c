package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/netstate/internal/config"
	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/metrics"
	"grimm.is/netstate/internal/model"
	"grimm.is/netstate/internal/netstate"
)

func writeConfig(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netstate.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	path := writeConfig(t, `
state_file = "/srv/desired.yml"

checkpoint {
  backend = "none"
}
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/desired.yml", cfg.StateFile)
	assert.Equal(t, config.CheckpointNone, cfg.Checkpoint.Backend)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.hcl"))
	require.Error(t, err)
}

func TestReadDesired(t *testing.T) {
	mem := useMemFs(t)
	require.NoError(t, afero.WriteFile(mem, "/desired.yml", []byte(desiredDoc), 0o644))
	require.NoError(t, afero.WriteFile(mem, "/broken.yml", []byte("interfaces: [\n"), 0o644))

	ns, err := readDesired("/desired.yml")
	require.NoError(t, err)
	assert.Equal(t, []string{"dummy0"}, ns.Interfaces.Names())

	_, err = readDesired("/missing.yml")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidArgument))

	_, err = readDesired("/broken.yml")
	require.Error(t, err)
}

func TestRecordHistory(t *testing.T) {
	pending := emptyPlan()
	pending.Change.Push(model.NewInterface("eth0", model.TypeEthernet))
	done := emptyPlan()
	done.Add.Push(model.NewInterface("br0", model.TypeLinuxBridge))

	tests := []struct {
		name       string
		res        *netstate.ApplyResult
		err        error
		result     string
		checkpoint string
	}{
		{"noop", &netstate.ApplyResult{Plan: emptyPlan()}, nil, metrics.ResultNoop, ""},
		{"success", &netstate.ApplyResult{Plan: done}, nil, metrics.ResultSuccess, ""},
		{"pending", &netstate.ApplyResult{Plan: pending, CheckpointID: "cp-1"}, nil, metrics.ResultPending, "cp-1"},
		{"failure", nil, errors.New(errors.KindPluginFailure, "boom"), metrics.ResultFailure, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHistory(t)
			recordHistory(h, time.Now(), tt.res, tt.err)

			recs, err := h.List()
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, tt.result, recs[0].Result)
			assert.Equal(t, tt.checkpoint, recs[0].Checkpoint)
			if tt.err != nil {
				assert.Equal(t, "boom", recs[0].Error)
			}
		})
	}

	// No store means nothing to record.
	recordHistory(nil, time.Now(), &netstate.ApplyResult{Plan: emptyPlan()}, nil)
}

func TestPlanDiff(t *testing.T) {
	cur := model.NewInterface("eth0", model.TypeEthernet)
	cur.Base().MTU = model.Ptr(uint64(1500))
	gone := model.NewInterface("dummy9", model.TypeDummy)
	current := model.NewInterfaces(cur, gone, model.NewInterface("lo", model.TypeLoopback))

	want := model.NewInterface("eth0", model.TypeEthernet)
	want.Base().MTU = model.Ptr(uint64(9000))
	plan := emptyPlan()
	plan.Change.Push(want)
	plan.Delete.Push(model.NewInterface("dummy9", model.TypeDummy))

	diff := planDiff(plan, current)
	assert.Contains(t, diff, "-  mtu: 1500")
	assert.Contains(t, diff, "+  mtu: 9000")
	assert.Contains(t, diff, "dummy9")
	assert.NotContains(t, diff, "name: lo", "untouched interfaces are left out")
}

func TestRunCheck(t *testing.T) {
	mem := useMemFs(t)
	path := writeConfig(t, `
state_file = "/srv/desired.yml"
`)

	// A missing desired state is reported but not an error.
	require.NoError(t, RunCheck(path, false))

	require.NoError(t, afero.WriteFile(mem, "/srv/desired.yml", []byte(desiredDoc), 0o644))
	require.NoError(t, RunCheck(path, true))

	require.NoError(t, afero.WriteFile(mem, "/srv/desired.yml", []byte("interfaces: []\nfirewall: {}\n"), 0o644))
	err := RunCheck(path, false)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidArgument))
}

func TestRunCheck_InvalidConfig(t *testing.T) {
	path := writeConfig(t, `
checkpoint {
  backend = "zfs"
}
`)
	err := RunCheck(path, false)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidArgument))
}

func TestWithCheckpointer_Disabled(t *testing.T) {
	path := writeConfig(t, `
checkpoint {
  backend = "none"
}
`)
	err := withCheckpointer(path, func(*wiring) error {
		t.Fatal("callback must not run without a checkpoint backend")
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotSupported))
}
