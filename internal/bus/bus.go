// Package bus is the worker-facing view of the control plane (C4, spec
// §4.4): workers upsert heartbeats and metric snapshots and poll for
// control events; they never touch Run rows directly. Bus is satisfied
// structurally by any store.Store, so a single-machine run can pass its
// in-process store straight through (see Local) while a distributed run
// talks to internal/bus/httpapi over internal/bus/httpclient.
package bus

import (
	"context"

	"github.com/benchctl/benchctl/internal/model"
)

// Bus is the narrow surface a worker needs: heartbeat upsert, control-event
// poll, and append-only metrics/query-execution reporting. It excludes
// every Run-mutating method of store.Store.
type Bus interface {
	Heartbeat(ctx context.Context, hb *model.WorkerHeartbeat) error
	PollEvents(ctx context.Context, runID string, afterSeq int64) ([]*model.ControlEvent, error)
	ReportQueryExecutions(ctx context.Context, execs []*model.QueryExecution) error
	ReportMetricSnapshot(ctx context.Context, snap *model.MetricSnapshot) error
}

// storeBacked adapts any store.Store to Bus. This is the structural-typing
// seam: storeSubset only needs the four store methods below, so any
// concrete store.Store (memstore or sqlstore) already satisfies the
// underlying interface, but we keep a named wrapper so worker code imports
// bus.Bus and never sees CreateRun/UpdateRun in its autocomplete.
type storeBacked struct {
	s storeSubset
}

// storeSubset is the part of store.Store Bus needs; any store.Store
// satisfies it automatically.
type storeSubset interface {
	UpsertHeartbeat(ctx context.Context, hb *model.WorkerHeartbeat) error
	ListControlEventsSince(ctx context.Context, runID string, afterSeq int64) ([]*model.ControlEvent, error)
	AppendQueryExecutions(ctx context.Context, rows []*model.QueryExecution) error
	AppendMetricSnapshot(ctx context.Context, snap *model.MetricSnapshot) error
}

// Local wraps a store.Store (or anything exposing the same subset) as a
// Bus for single-machine runs, where the worker and coordinator share one
// process and skip the HTTP transport entirely.
func Local(s storeSubset) Bus {
	return &storeBacked{s: s}
}

func (b *storeBacked) Heartbeat(ctx context.Context, hb *model.WorkerHeartbeat) error {
	return b.s.UpsertHeartbeat(ctx, hb)
}

func (b *storeBacked) PollEvents(ctx context.Context, runID string, afterSeq int64) ([]*model.ControlEvent, error) {
	return b.s.ListControlEventsSince(ctx, runID, afterSeq)
}

func (b *storeBacked) ReportQueryExecutions(ctx context.Context, execs []*model.QueryExecution) error {
	if len(execs) == 0 {
		return nil
	}
	return b.s.AppendQueryExecutions(ctx, execs)
}

func (b *storeBacked) ReportMetricSnapshot(ctx context.Context, snap *model.MetricSnapshot) error {
	return b.s.AppendMetricSnapshot(ctx, snap)
}
