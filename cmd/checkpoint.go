package cmd

import (
	"context"
	"os"
	"text/tabwriter"
	"time"

	"grimm.is/netstate/internal/config"
	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/state"
)

// RunCommit keeps the state applied under a pending checkpoint. An empty
// id selects the single live checkpoint.
func RunCommit(ctx context.Context, configFile, id string) error {
	return withCheckpointer(configFile, func(rt *wiring) error {
		if err := rt.mgr.Commit(ctx, id); err != nil {
			return err
		}
		Printer.Println("Checkpoint committed.")
		return nil
	})
}

// RunRollback restores the state saved by a pending checkpoint.
func RunRollback(ctx context.Context, configFile, id string) error {
	return withCheckpointer(configFile, func(rt *wiring) error {
		if err := rt.mgr.Rollback(ctx, id); err != nil {
			return err
		}
		Printer.Println("Checkpoint rolled back.")
		return nil
	})
}

func withCheckpointer(configFile string, f func(*wiring) error) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	setupLogging(cfg, false)
	if cfg.Checkpoint.Backend == config.CheckpointNone {
		return errors.New(errors.KindNotSupported, "checkpoints are disabled (checkpoint.backend = \"none\")")
	}
	rt, err := wire(cfg, wireOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()
	return f(rt)
}

// RunHistory lists the most recent applies, newest last.
func RunHistory(configFile string, limit int) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	store, err := state.NewSQLiteStore(state.DefaultOptions(cfg.Checkpoint.DBPath))
	if err != nil {
		return err
	}
	defer store.Close()
	h, err := state.NewHistoryBucket(store, state.DefaultHistoryDepth)
	if err != nil {
		return err
	}
	recs, err := h.List()
	if err != nil {
		return err
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	printHistory(recs)
	return nil
}

func printHistory(recs []*state.HistoryRecord) {
	if len(recs) == 0 {
		Printer.Println("No applies recorded.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	Printer.Fprintf(w, "SEQ\tSTARTED\tDURATION\tRESULT\tCHECKPOINT\tERROR\n")
	for _, r := range recs {
		Printer.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Sequence, r.Started.Format(time.RFC3339), r.Duration.Round(time.Millisecond),
			r.Result, r.Checkpoint, r.Error)
	}
	w.Flush()
}
