// Package runstore is the coordinator-facing view of the control plane: Run
// CRUD, control-event issuance, and the heartbeat/metric/step reads the
// coordinator needs to drive the state machine and FIND_MAX controller. It
// is the complement of internal/bus (the worker-facing view) — both are
// satisfied structurally by any store.Store.
package runstore

import (
	"context"

	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/store"
)

// RunStore is the coordinator's persistence surface.
type RunStore interface {
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	UpdateRun(ctx context.Context, run *model.Run) error
	ListRuns(ctx context.Context) ([]*model.Run, error)

	IssueControlEvent(ctx context.Context, ev *model.ControlEvent) error

	ListHeartbeats(ctx context.Context, runID string) ([]*model.WorkerHeartbeat, error)
	GetHeartbeat(ctx context.Context, runID, workerID string) (*model.WorkerHeartbeat, error)

	CountQueryExecutions(ctx context.Context, runID string) (int64, error)
	ListMetricSnapshots(ctx context.Context, runID string, fromSeconds, toSeconds int64) ([]*model.MetricSnapshot, error)

	AppendStepRecord(ctx context.Context, step *model.StepRecord) error
	ListStepRecords(ctx context.Context, runID string) ([]*model.StepRecord, error)
}

type storeBacked struct {
	s store.Store
}

// New wraps a store.Store as a RunStore for the coordinator.
func New(s store.Store) RunStore {
	return &storeBacked{s: s}
}

func (r *storeBacked) CreateRun(ctx context.Context, run *model.Run) error { return r.s.CreateRun(ctx, run) }
func (r *storeBacked) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	return r.s.GetRun(ctx, runID)
}
func (r *storeBacked) UpdateRun(ctx context.Context, run *model.Run) error { return r.s.UpdateRun(ctx, run) }
func (r *storeBacked) ListRuns(ctx context.Context) ([]*model.Run, error)  { return r.s.ListRuns(ctx) }

func (r *storeBacked) IssueControlEvent(ctx context.Context, ev *model.ControlEvent) error {
	return r.s.AppendControlEvent(ctx, ev)
}

func (r *storeBacked) ListHeartbeats(ctx context.Context, runID string) ([]*model.WorkerHeartbeat, error) {
	return r.s.ListHeartbeats(ctx, runID)
}
func (r *storeBacked) GetHeartbeat(ctx context.Context, runID, workerID string) (*model.WorkerHeartbeat, error) {
	return r.s.GetHeartbeat(ctx, runID, workerID)
}

func (r *storeBacked) CountQueryExecutions(ctx context.Context, runID string) (int64, error) {
	return r.s.CountQueryExecutions(ctx, runID)
}
func (r *storeBacked) ListMetricSnapshots(ctx context.Context, runID string, fromSeconds, toSeconds int64) ([]*model.MetricSnapshot, error) {
	return r.s.ListMetricSnapshots(ctx, runID, fromSeconds, toSeconds)
}

func (r *storeBacked) AppendStepRecord(ctx context.Context, step *model.StepRecord) error {
	return r.s.AppendStepRecord(ctx, step)
}
func (r *storeBacked) ListStepRecords(ctx context.Context, runID string) ([]*model.StepRecord, error) {
	return r.s.ListStepRecords(ctx, runID)
}

var _ RunStore = (*storeBacked)(nil)
