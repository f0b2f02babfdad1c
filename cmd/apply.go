package cmd

import (
	"context"
	"time"

	"grimm.is/netstate/internal/logging"
	"grimm.is/netstate/internal/metrics"
	"grimm.is/netstate/internal/netstate"
	"grimm.is/netstate/internal/state"
)

// ApplyFlags are the options of the apply subcommand.
type ApplyFlags struct {
	NoVerify   bool
	NoCommit   bool
	MemoryOnly bool
	KernelOnly bool
	DryRun     bool
	Timeout    time.Duration
}

// RunApply moves the host to the state in stateFile.
func RunApply(ctx context.Context, configFile, stateFile string, flags ApplyFlags) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	setupLogging(cfg, false)
	if stateFile == "" {
		stateFile = cfg.StateFile
	}
	desired, err := readDesired(stateFile)
	if err != nil {
		return err
	}

	rt, err := wire(cfg, wireOptions{DryRun: flags.DryRun})
	if err != nil {
		return err
	}
	defer rt.Close()

	opts := netstate.ApplyOptions{
		NoVerify:   flags.NoVerify || flags.DryRun || !*cfg.Verify.Enabled,
		NoCommit:   flags.NoCommit,
		MemoryOnly: flags.MemoryOnly,
		KernelOnly: flags.KernelOnly,
		Timeout:    flags.Timeout,
	}
	start := time.Now()
	res, err := rt.mgr.Apply(ctx, desired, opts)
	recordHistory(rt.history, start, res, err)
	if err != nil {
		return err
	}

	if rt.dry != nil {
		rt.dry.print()
		return nil
	}
	if res.Plan.IsEmpty() {
		Printer.Println("Desired state already in place.")
		return nil
	}
	Printer.Print(res.Plan.Summary())
	if res.CheckpointID != "" {
		Printer.Printf("Checkpoint %s is pending; run 'commit' or 'rollback' before it expires.\n", res.CheckpointID)
	}
	return nil
}

// recordHistory appends the outcome of an apply to h, when there is one.
func recordHistory(h *state.HistoryBucket, start time.Time, res *netstate.ApplyResult, applyErr error) {
	if h == nil {
		return
	}
	rec := &state.HistoryRecord{Started: start, Duration: time.Since(start)}
	switch {
	case applyErr != nil:
		rec.Result = metrics.ResultFailure
		rec.Error = applyErr.Error()
	case res.Plan.IsEmpty():
		rec.Result = metrics.ResultNoop
	case res.CheckpointID != "":
		rec.Result = metrics.ResultPending
		rec.Checkpoint = res.CheckpointID
	default:
		rec.Result = metrics.ResultSuccess
	}
	if res != nil && res.Plan != nil {
		rec.Summary = res.Plan.Summary()
	}
	if err := h.Append(rec); err != nil {
		logging.Warn("failed to record history", "error", err)
	}
}
