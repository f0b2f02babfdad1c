package netstate

import (
	"context"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/model"
	"grimm.is/netstate/internal/reconcile"
)

// MultiSource merges the snapshots of several sources. Later sources win
// on overlapping fields, so the kernel source goes first.
type MultiSource []StateSource

// Retrieve implements StateSource.
func (m MultiSource) Retrieve(ctx context.Context, opts RetrieveOptions) (*model.NetworkState, error) {
	out := model.NewNetworkState()
	for _, src := range m {
		ns, err := src.Retrieve(ctx, opts)
		if err != nil {
			return nil, err
		}
		if out, err = model.Merge(out, ns); err != nil {
			return nil, errors.Wrap(err, errors.KindPluginFailure, "merge retrieved state")
		}
	}
	return out, nil
}

// MultiSink hands the plan to each sink in order and stops at the first
// failure.
type MultiSink []StateSink

// Apply implements StateSink.
func (m MultiSink) Apply(ctx context.Context, plan *reconcile.Plan, current *model.NetworkState) error {
	for _, sink := range m {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sink.Apply(ctx, plan, current); err != nil {
			return err
		}
	}
	return nil
}
