package coordinator

import (
	"context"
	"errors"

	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/obs/errs"
	"github.com/benchctl/benchctl/internal/runstore"
	"github.com/benchctl/benchctl/internal/store"
)

// transition moves the Run's Status to to, rejecting any edge that is not
// legal per model.CanTransition (spec §4.7's state machine; spec §8 item 4:
// no row is ever written with a disallowed transition), and persists the
// change with an optimistic-concurrency retry loop against
// store.ErrVersionConflict.
func transition(ctx context.Context, rs runstore.RunStore, runID string, to model.RunStatus, mutate func(*model.Run)) (*model.Run, error) {
	for {
		run, err := rs.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run == nil {
			return nil, errs.InternalInvariantError("transition: run " + runID + " not found")
		}
		if !model.CanTransition(run.Status, to) {
			return nil, errs.InternalInvariantError("illegal transition " + string(run.Status) + " -> " + string(to))
		}
		run.Status = to
		if mutate != nil {
			mutate(run)
		}
		err = rs.UpdateRun(ctx, run)
		if err == nil {
			return run, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		// stale version: another writer advanced the row; reload and retry.
	}
}
