// Package netstate drives a reconciliation end to end: it retrieves the
// live state, computes a plan, guards the apply with a checkpoint, verifies
// the outcome with retries and commits or rolls back.
package netstate

import (
	"context"
	"time"

	"grimm.is/netstate/internal/model"
	"grimm.is/netstate/internal/reconcile"
)

// RetrieveOptions tunes state retrieval.
type RetrieveOptions struct {
	// RunningConfigOnly drops DHCP/autoconf derived addresses and routes.
	RunningConfigOnly bool
}

// StateSource returns a live snapshot.
type StateSource interface {
	Retrieve(ctx context.Context, opts RetrieveOptions) (*model.NetworkState, error)
}

// StateSink applies a plan. current is the snapshot the plan was computed
// against.
type StateSink interface {
	Apply(ctx context.Context, plan *reconcile.Plan, current *model.NetworkState) error
}

// Checkpointer guards an apply. An empty id passed to Rollback or Destroy
// selects the single live checkpoint.
type Checkpointer interface {
	Create(ctx context.Context, timeout time.Duration) (string, error)
	ExtendTimeout(ctx context.Context, id string, timeout time.Duration) error
	Rollback(ctx context.Context, id string) error
	Destroy(ctx context.Context, id string) error
}

// HostnameSetter changes the running hostname.
type HostnameSetter interface {
	SetRunningHostname(ctx context.Context, name string) error
}

// Prober checks reachability after the applied state verified.
type Prober interface {
	Probe(ctx context.Context, targets []string) error
}
