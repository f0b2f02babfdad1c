package cmd

import (
	"context"
	stderrors "errors"

	"grimm.is/netstate/internal/model"
	"grimm.is/netstate/internal/netstate"
	"grimm.is/netstate/internal/reconcile"
)

// ErrDiffers is returned by RunDiff when the host does not match.
var ErrDiffers = stderrors.New("current state differs from desired state")

// RunDiff prints the plan that applying stateFile would run and a unified
// diff of the affected interface records.
func RunDiff(ctx context.Context, configFile, stateFile string) error {
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

	rt, err := wire(cfg, wireOptions{NoStore: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	plan, err := rt.mgr.GenerateDiff(ctx, desired)
	if err != nil {
		return err
	}
	if plan.IsEmpty() {
		Printer.Println("No changes detected.")
		return nil
	}
	current, err := rt.mgr.Show(ctx, netstate.RetrieveOptions{RunningConfigOnly: true})
	if err != nil {
		return err
	}

	Printer.Println("Plan:")
	Printer.Print(plan.Summary())
	Printer.Println()
	Printer.Print(planDiff(plan, current.Interfaces))
	return ErrDiffers
}

// planDiff diffs the current records of every interface the plan touches
// against what the plan writes.
func planDiff(plan *reconcile.Plan, current *model.Interfaces) string {
	before := model.NewInterfaces()
	after := model.NewInterfaces()
	for _, iface := range append(plan.Add.List(), plan.Change.List()...) {
		after.Push(iface)
		if cur := current.Lookup(iface); cur != nil {
			before.Push(cur)
		}
	}
	for _, iface := range plan.Delete.List() {
		if cur := current.Lookup(iface); cur != nil {
			before.Push(cur)
		}
	}
	return reconcile.UnifiedDiff(before, after, "current", "desired")
}
