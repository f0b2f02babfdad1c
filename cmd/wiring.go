package cmd

import (
	"os"
	"path/filepath"

	"grimm.is/netstate/internal/checkpoint"
	"grimm.is/netstate/internal/clock"
	"grimm.is/netstate/internal/config"
	"grimm.is/netstate/internal/hostname"
	"grimm.is/netstate/internal/logging"
	"grimm.is/netstate/internal/metrics"
	"grimm.is/netstate/internal/netstate"
	"grimm.is/netstate/internal/network"
	"grimm.is/netstate/internal/ovs"
	"grimm.is/netstate/internal/probe"
	"grimm.is/netstate/internal/state"
)

// dryRun collects what an apply would have done instead of doing it.
type dryRun struct {
	nl   *network.DryRunNetlinker
	sys  *network.DryRunSystemController
	exec *network.DryRunExecutor
}

// print writes the recorded operations in execution order per layer.
func (d *dryRun) print() {
	for _, c := range d.exec.Commands {
		Printer.Println(c)
	}
	for _, op := range d.nl.Ops {
		Printer.Println(op)
	}
	for _, w := range d.sys.Writes {
		Printer.Println(w)
	}
}

// wiring holds a wired Manager and everything that needs closing.
type wiring struct {
	mgr     *netstate.Manager
	nl      network.Netlinker
	local   *checkpoint.Local
	history *state.HistoryBucket
	dry     *dryRun

	closers []func()
}

func (r *wiring) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// wireOptions tunes wire.
type wireOptions struct {
	// DryRun records writes instead of performing them and skips the
	// checkpoint store.
	DryRun bool
	// NoStore skips opening the state database (read-only commands).
	NoStore bool
}

// wire builds the backends named by cfg and a Manager over them.
func wire(cfg *config.Config, opts wireOptions) (_ *wiring, err error) {
	rt := &wiring{}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()
	log := logging.WithComponent("cmd")

	realNL, err := network.NewRealNetlinker(cfg.Netns)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, realNL.Close)

	var (
		nl   network.Netlinker        = realNL
		sys  network.SystemController = network.DefaultSystemController
		exec network.CommandExecutor  = network.DefaultCommandExecutor
	)
	if opts.DryRun {
		rt.dry = &dryRun{
			nl:   network.NewDryRunNetlinker(realNL),
			sys:  &network.DryRunSystemController{Reader: sys},
			exec: network.NewDryRunExecutor(),
		}
		nl, sys, exec = rt.dry.nl, rt.dry.sys, rt.dry.exec
	}
	rt.nl = nl

	kopts := []network.Option{
		network.WithResolvConf(cfg.ResolvConf),
		network.WithDHCP(network.NewSystemDHCP(exec)),
	}
	if lm, err := network.NewLinkManager(sys); err == nil {
		rt.closers = append(rt.closers, lm.Close)
		kopts = append(kopts, network.WithLinkInfo(lm))
	} else {
		log.Debug("ethtool unavailable, link settings not reported", "error", err)
	}
	kernel := network.NewKernelWithDeps(nl, sys, kopts...)

	source := netstate.MultiSource{kernel}
	sink := netstate.MultiSink{}
	if *cfg.OVS.Enabled {
		// Reads always hit the real database; writes follow the dry run.
		reader := ovs.New(network.DefaultCommandExecutor, cfg.OVS.Vsctl)
		source = append(source, reader)
		writer := reader
		if opts.DryRun {
			writer = ovs.New(exec, cfg.OVS.Vsctl)
		}
		sink = append(sink, writer)
	}
	sink = append(sink, kernel)

	mcfg := netstate.Config{
		Source:            source,
		Sink:              sink,
		Sriov:             network.NewSriovProbe(sys),
		VerifyRetries:     cfg.Verify.Retries,
		VerifyInterval:    cfg.VerifyInterval(),
		CheckpointTimeout: cfg.CheckpointTimeout(),
		ProbeTargets:      cfg.Verify.ProbeTargets,
		Clock:             clock.Real,
		Metrics:           metrics.Get(),
	}
	if len(cfg.Verify.ProbeTargets) > 0 {
		mcfg.Prober = probe.New(cfg.ProbeTimeout(), os.Geteuid() == 0)
	}

	switch cfg.Hostname.Backend {
	case config.HostnameHostnamed:
		if !opts.DryRun {
			h, err := hostname.NewHostnamed()
			if err != nil {
				return nil, err
			}
			rt.closers = append(rt.closers, func() { h.Close() })
			mcfg.Hostname = h
		}
	default:
		if !opts.DryRun {
			mcfg.Hostname = network.UnixHostname{}
		}
	}

	if !opts.DryRun && !opts.NoStore {
		if err := os.MkdirAll(filepath.Dir(cfg.Checkpoint.DBPath), 0o700); err != nil {
			return nil, err
		}
		store, err := state.NewSQLiteStore(state.DefaultOptions(cfg.Checkpoint.DBPath))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { store.Close() })
		if rt.history, err = state.NewHistoryBucket(store, state.DefaultHistoryDepth); err != nil {
			return nil, err
		}

		switch cfg.Checkpoint.Backend {
		case config.CheckpointLocal:
			rt.local, err = checkpoint.NewLocal(store, source, sink, clock.Real)
			if err != nil {
				return nil, err
			}
			mcfg.Checkpointer = rt.local
		case config.CheckpointNetworkManager:
			nm, err := checkpoint.NewNM()
			if err != nil {
				return nil, err
			}
			rt.closers = append(rt.closers, func() { nm.Close() })
			mcfg.Checkpointer = nm
		}
	}

	if rt.mgr, err = netstate.NewManager(mcfg); err != nil {
		return nil, err
	}
	return rt, nil
}
