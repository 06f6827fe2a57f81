package worker

import (
	"context"
	"time"

	"github.com/benchctl/benchctl/internal/adapter"
	"github.com/benchctl/benchctl/internal/model"
)

// executor is one in-flight unit of work inside a worker, corresponding to
// one connection (spec GLOSSARY). It runs operations in a loop until its
// drain channel is closed or ctx is cancelled.
type executor struct {
	id      int
	drainCh chan struct{}
}

// runExecutor opens a connection and executes operations until drained,
// the worker context is cancelled, or a transport-fatal error kills the
// connection. New operations never start once drainCh is closed (spec
// §4.3 step 3: "New operations must not start on a draining executor").
func (w *Worker) runExecutor(ctx context.Context, ex *executor) {
	defer w.execWG.Done()
	defer func() {
		w.execMu.Lock()
		delete(w.executors, ex.id)
		w.execMu.Unlock()
		w.active.Add(-1)
	}()

	conn, err := w.cfg.Adapter.Open(ctx, w.cfg.Params)
	if err != nil {
		w.errorCount.Add(1)
		w.lastError.Store(err.Error())
		logWarnOpenFailed(ctx, w, err)
		return
	}
	defer w.cfg.Adapter.Close(conn)
	w.active.Add(1)

	for {
		select {
		case <-ex.drainCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if conn.Dead() {
			return
		}

		w.runOnce(ctx, conn)
	}
}

func (w *Worker) runOnce(ctx context.Context, conn adapter.Connection) {
	kind := w.mix.Next()
	opSpec, ok := w.ops[kind]
	if !ok {
		return
	}

	pool := w.cfg.Pools[kind]
	var binds []any
	if pool != nil {
		binds = pool.Next()
	}

	// Tag by the phase observed when the operation starts; in-flight
	// operations complete under their starting phase (spec §4.3 step 2).
	startPhase := w.currentPhase()
	startTime := time.Now()

	result := w.cfg.Adapter.Execute(ctx, conn, adapter.Operation{
		Kind:        kind,
		SQLTemplate: opSpec.SQLTemplate,
		Binds:       binds,
		ExpectsRows: opSpec.ExpectsRows,
	})

	w.queriesProcessed.Add(1)
	w.window.record(result.ElapsedMs, result.Success, kind)

	if w.cfg.Metrics != nil {
		w.cfg.Metrics.OperationLatencyMs.WithLabelValues(w.cfg.RunID, string(kind)).Observe(result.ElapsedMs)
		if !result.Success {
			w.cfg.Metrics.OperationErrors.WithLabelValues(w.cfg.RunID, string(result.ErrorClass)).Inc()
		}
	}

	qe := &model.QueryExecution{
		RunID:        w.cfg.RunID,
		WorkerID:     w.cfg.WorkerID,
		QueryKind:    kind,
		StartTime:    startTime,
		ElapsedMs:    result.ElapsedMs,
		Success:      result.Success,
		Warmup:       startPhase == model.PhaseWarmup,
		RowsReturned: result.RowsReturned,
		ErrorClass:   result.ErrorClass,
	}

	if !result.Success {
		w.errorCount.Add(1)
		if result.Err != nil {
			w.lastError.Store(result.Err.Error())
		}
	}

	w.pendingMu.Lock()
	w.pending = append(w.pending, qe)
	w.pendingMu.Unlock()
}

func logWarnOpenFailed(ctx context.Context, w *Worker, err error) {
	w.log.WarnContext(ctx, "executor failed to open connection", "error", err)
}
