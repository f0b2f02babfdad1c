package cmd

import (
	"context"
	"io"
	"os"

	"grimm.is/netstate/internal/model"
	"grimm.is/netstate/internal/netstate"
)

// RunShow prints the merged current state as a NetworkState document.
func RunShow(ctx context.Context, configFile string, runningConfigOnly bool) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	setupLogging(cfg, false)

	rt, err := wire(cfg, wireOptions{NoStore: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	ns, err := rt.mgr.Show(ctx, netstate.RetrieveOptions{RunningConfigOnly: runningConfigOnly})
	if err != nil {
		return err
	}
	return writeState(os.Stdout, ns)
}

func writeState(w io.Writer, ns *model.NetworkState) error {
	out, err := model.Encode(ns)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
