// Package store defines the persisted state layout of spec §6: tables
// RUN, CONTROL_EVENT, HEARTBEAT, QUERY_EXECUTION, METRIC_SNAPSHOT,
// STEP_HISTORY. The control plane treats the store as append-only except
// for HEARTBEAT upsert-by-key and RUN row mutation by the coordinator
// (spec §6, §5 "Shared-resource policy").
//
// Store is the single persistence seam two narrower, role-scoped views sit
// on top of: internal/runstore (coordinator-only Run CRUD) and
// internal/bus (the worker-facing heartbeat/control-event/metrics bus,
// C4). Both views are satisfied structurally by any concrete Store
// implementation; they exist to keep a worker from ever importing Run
// mutation methods it has no business calling.
package store

import (
	"context"

	"github.com/benchctl/benchctl/internal/model"
)

// Store is the full persistence contract backing the control plane.
type Store interface {
	// CreateRun inserts a new Run row in PREPARED status.
	CreateRun(ctx context.Context, run *model.Run) error
	// GetRun fetches a Run by id.
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	// UpdateRun performs an optimistic-concurrency update: it fails with
	// ErrVersionConflict if run.Version no longer matches the stored row,
	// and otherwise persists run and increments the stored version.
	UpdateRun(ctx context.Context, run *model.Run) error
	// ListRuns returns all known runs, most recent first.
	ListRuns(ctx context.Context) ([]*model.Run, error)

	// AppendControlEvent assigns the next sequence_id for ev.RunID and
	// persists ev. Sequence IDs are strictly monotonic per run (spec §8
	// item 1).
	AppendControlEvent(ctx context.Context, ev *model.ControlEvent) error
	// ListControlEventsSince returns events for runID with sequence_id >
	// afterSeq, in ascending sequence_id order.
	ListControlEventsSince(ctx context.Context, runID string, afterSeq int64) ([]*model.ControlEvent, error)

	// UpsertHeartbeat replaces the latest heartbeat for (RunID, WorkerID).
	UpsertHeartbeat(ctx context.Context, hb *model.WorkerHeartbeat) error
	// GetHeartbeat fetches the latest heartbeat for (runID, workerID).
	GetHeartbeat(ctx context.Context, runID, workerID string) (*model.WorkerHeartbeat, error)
	// ListHeartbeats returns the latest heartbeat of every worker known to runID.
	ListHeartbeats(ctx context.Context, runID string) ([]*model.WorkerHeartbeat, error)

	// AppendQueryExecutions persists a batch of QueryExecution rows.
	AppendQueryExecutions(ctx context.Context, rows []*model.QueryExecution) error
	// CountQueryExecutions returns the number of persisted QueryExecution
	// rows for runID (spec §8 item 3).
	CountQueryExecutions(ctx context.Context, runID string) (int64, error)

	// AppendMetricSnapshot persists one per-worker, per-second snapshot.
	AppendMetricSnapshot(ctx context.Context, snap *model.MetricSnapshot) error
	// ListMetricSnapshots returns every worker's snapshots for runID with
	// ElapsedSeconds in [fromSeconds, toSeconds).
	ListMetricSnapshots(ctx context.Context, runID string, fromSeconds, toSeconds int64) ([]*model.MetricSnapshot, error)

	// AppendStepRecord persists a FIND_MAX StepRecord.
	AppendStepRecord(ctx context.Context, step *model.StepRecord) error
	// ListStepRecords returns all StepRecords for runID, in step_number order.
	ListStepRecords(ctx context.Context, runID string) ([]*model.StepRecord, error)

	// Close releases any resources (database handles, HTTP clients) held
	// by the store.
	Close() error
}

// ErrVersionConflict is returned by UpdateRun when the caller's Run.Version
// is stale, signaling a concurrent writer (should never happen given the
// coordinator is the sole writer, but guards against an
// InternalInvariantError-class bug such as two coordinators racing after a
// botched failover).
var ErrVersionConflict = versionConflictError{}

type versionConflictError struct{}

func (versionConflictError) Error() string { return "store: run version conflict" }
