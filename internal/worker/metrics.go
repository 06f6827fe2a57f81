package worker

import (
	"context"

	"github.com/benchctl/benchctl/internal/model"
	logpkg "github.com/benchctl/benchctl/internal/obs/log"
)

// emitMetrics computes and publishes one MetricSnapshot from the last
// interval's completed operations (spec §4.3 step 6), then checks the
// worker's sustained error rate against its configured threshold.
func (w *Worker) emitMetrics(ctx context.Context, elapsedSeconds int64) {
	res := w.window.snapshotAndReset(1.0)

	snap := &model.MetricSnapshot{
		RunID:             w.cfg.RunID,
		WorkerID:          w.cfg.WorkerID,
		ElapsedSeconds:    elapsedSeconds,
		Phase:             w.currentPhase(),
		ActiveConnections: int(w.active.Load()),
		TargetConnections: int(w.target.Load()),
		QPS:               res.QPS,
		P50Ms:             res.P50,
		P95Ms:             res.P95,
		P99Ms:             res.P99,
		OpCountsByKind:    res.OpCounts,
		ErrorCount:        res.Errors,
	}

	if err := w.cfg.Bus.ReportMetricSnapshot(ctx, snap); err != nil {
		logpkg.Warn(ctx, w.log, "metric snapshot report failed", "error", err)
	}

	if w.cfg.Metrics != nil {
		w.cfg.Metrics.TargetConnections.WithLabelValues(w.cfg.RunID, w.cfg.WorkerID).Set(float64(snap.TargetConnections))
	}

	w.checkErrorRate(res)
}

// checkErrorRate transitions the worker to DRAINING with last_error
// populated when the interval's error rate sustains above the configured
// threshold (spec §4.3 "Failure semantics"); the coordinator decides
// whether to abort the run based on this status.
func (w *Worker) checkErrorRate(res windowResult) {
	if w.cfg.ErrorRateThreshold <= 0 || res.Total == 0 || w.draining.Load() {
		return
	}
	rate := float64(res.Errors) / float64(res.Total)
	if rate > w.cfg.ErrorRateThreshold {
		w.setStatus(model.WorkerDraining)
		w.lastError.Store("sustained error rate exceeded threshold")
	}
}

// flushQueryExecutions reports buffered QueryExecution rows to the bus, at
// most once per second (spec §4.3 step 6: "batched, at most once per
// second or per N ops").
func (w *Worker) flushQueryExecutions(ctx context.Context) {
	w.pendingMu.Lock()
	batch := w.pending
	w.pending = nil
	w.pendingMu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := w.cfg.Bus.ReportQueryExecutions(ctx, batch); err != nil {
		logpkg.Warn(ctx, w.log, "query execution report failed", "error", err)
	}
}
