// Package worker implements the Worker (C3, spec §4.3): a long-lived
// process maintaining a pool of concurrent executors against exactly one
// target, driving the configured workload mix, and obeying control events
// polled from the bus.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benchctl/benchctl/internal/adapter"
	"github.com/benchctl/benchctl/internal/bus"
	"github.com/benchctl/benchctl/internal/model"
	logpkg "github.com/benchctl/benchctl/internal/obs/log"
	"github.com/benchctl/benchctl/internal/obs/metrics"
	"github.com/benchctl/benchctl/internal/scenario"
	"github.com/benchctl/benchctl/internal/valuepool"
)

// Config configures a Worker.
type Config struct {
	RunID    string
	WorkerID string

	Bus     bus.Bus
	Adapter adapter.Adapter
	Params  adapter.ConnParams

	Scenario *scenario.Scenario
	Pools    map[model.QueryKind]valuepool.Pool

	HeartbeatInterval time.Duration // default 1s (spec §4.4)
	PollInterval      time.Duration // default 500ms (spec §4.4)
	StopGrace         time.Duration // default 30s (spec §5)
	AbortGrace        time.Duration // default 5s (spec §5)

	// ErrorRateThreshold triggers status=DRAINING with last_error populated
	// when the worker's recent error rate exceeds it (spec §4.3 "Failure
	// semantics"). 0 disables the check.
	ErrorRateThreshold float64

	Seed int64

	// Metrics, when non-nil, receives per-operation latency/error
	// observations and this worker's target_connections gauge
	// (SPEC_FULL §12). Nil disables this purely-additive observability.
	Metrics *metrics.Registry

	Logger *slog.Logger
}

// Worker drives operations against one target and reports its state over
// the bus (spec §4.3).
type Worker struct {
	cfg Config
	log *slog.Logger

	ops map[model.QueryKind]scenario.Operation
	mix mixSampler

	target   atomic.Int32
	phase    atomic.Value // model.Phase
	lastSeq  atomic.Int64
	draining atomic.Bool
	aborted  atomic.Bool

	execMu    sync.Mutex
	executors map[int]*executor
	nextExecID int
	execWG    sync.WaitGroup

	active atomic.Int32

	window *window

	queriesProcessed atomic.Int64
	errorCount       atomic.Int64
	lastError        atomic.Value // string

	pendingMu sync.Mutex
	pending   []*model.QueryExecution

	heartbeatCount atomic.Int64
	statusMu       sync.Mutex
	status         model.WorkerStatus
}

// New constructs a Worker from cfg, applying spec-default timings for any
// zero-valued durations.
func New(cfg Config) *Worker {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.StopGrace == 0 {
		cfg.StopGrace = 30 * time.Second
	}
	if cfg.AbortGrace == 0 {
		cfg.AbortGrace = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ops := cfg.Scenario.Operations

	var mix mixSampler
	mix = newBernoulliMix(cfg.Scenario.Mix, cfg.Seed)

	w := &Worker{
		cfg:       cfg,
		log:       cfg.Logger,
		ops:       ops,
		mix:       mix,
		executors: map[int]*executor{},
		window:    newWindow(),
		status:    model.WorkerStarting,
	}
	w.phase.Store(model.PhaseWarmup)
	w.lastError.Store("")

	if cfg.Scenario.LoadMode == model.LoadModeFixedConcurrency {
		w.target.Store(int32(cfg.Scenario.TargetConcurrency))
	}
	return w
}

// Run executes the worker's full lifecycle: registration, control-event
// polling, executor management, metrics emission, and graceful shutdown on
// STOP/ABORT. It returns nil once the worker has reached a terminal status;
// if ctx is cancelled first, it aborts the executors and returns ctx.Err()
// without setting a terminal status.
func (w *Worker) Run(ctx context.Context) error {
	ctx = logpkg.WithRunID(logpkg.WithWorkerID(ctx, w.cfg.WorkerID), w.cfg.RunID)

	if err := w.register(ctx); err != nil {
		return err
	}

	execCtx, cancelExec := context.WithCancel(ctx)
	defer cancelExec()

	w.reconcileExecutors(execCtx)

	heartbeatTicker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer heartbeatTicker.Stop()
	pollTicker := time.NewTicker(w.cfg.PollInterval)
	defer pollTicker.Stop()
	metricsTicker := time.NewTicker(time.Second)
	defer metricsTicker.Stop()

	var elapsedSeconds int64
	var drainDeadline time.Time

	checkDrained := func() bool {
		if !w.draining.Load() {
			return false
		}
		if w.active.Load() == 0 {
			w.finish(ctx, model.WorkerCompleted)
			return true
		}
		// stop_grace bounds how long STOP waits for in-flight operations
		// (spec §5); ABORT already bounds itself via abort_grace in abort().
		if !w.aborted.Load() && !drainDeadline.IsZero() && time.Now().After(drainDeadline) {
			w.abort(execCtx, cancelExec)
			w.finish(ctx, model.WorkerCompleted)
			return true
		}
		return false
	}

	for {
		select {
		case <-ctx.Done():
			w.abort(execCtx, cancelExec)
			return ctx.Err()

		case <-heartbeatTicker.C:
			if err := w.sendHeartbeat(ctx); err != nil {
				logpkg.Warn(ctx, w.log, "heartbeat send failed", "error", err)
			}

		case <-pollTicker.C:
			switch w.pollEvents(ctx, execCtx) {
			case stopOutcomeAbort:
				w.abort(execCtx, cancelExec)
				w.finish(ctx, model.WorkerCompleted)
				return nil
			case stopOutcomeStop:
				if drainDeadline.IsZero() {
					drainDeadline = time.Now().Add(w.cfg.StopGrace)
				}
			}
			if checkDrained() {
				return nil
			}

		case <-metricsTicker.C:
			elapsedSeconds++
			w.emitMetrics(ctx, elapsedSeconds)
			w.flushQueryExecutions(ctx)
			if checkDrained() {
				return nil
			}
		}
	}
}

func (w *Worker) register(ctx context.Context) error {
	w.setStatus(model.WorkerStarting)
	return w.sendHeartbeat(ctx)
}

func (w *Worker) finish(ctx context.Context, status model.WorkerStatus) {
	w.setStatus(status)
	w.flushQueryExecutions(ctx)
	if err := w.sendHeartbeat(ctx); err != nil {
		logpkg.Warn(ctx, w.log, "final heartbeat send failed", "error", err)
	}
}

func (w *Worker) setStatus(s model.WorkerStatus) {
	w.statusMu.Lock()
	w.status = s
	w.statusMu.Unlock()
}

func (w *Worker) currentStatus() model.WorkerStatus {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	return w.status
}

func (w *Worker) currentPhase() model.Phase {
	return w.phase.Load().(model.Phase)
}

func (w *Worker) sendHeartbeat(ctx context.Context) error {
	n := w.heartbeatCount.Add(1)
	hb := &model.WorkerHeartbeat{
		RunID:             w.cfg.RunID,
		WorkerID:          w.cfg.WorkerID,
		Status:            w.currentStatus(),
		Phase:             w.currentPhase(),
		LastHeartbeat:     time.Now(),
		HeartbeatCount:    n,
		ActiveConnections: int(w.active.Load()),
		TargetConnections: int(w.target.Load()),
		QueriesProcessed:  w.queriesProcessed.Load(),
		ErrorCount:        w.errorCount.Load(),
		LastError:         w.lastError.Load().(string),
	}

	deadline := w.cfg.HeartbeatInterval * 5 / 2 // liveness_timeout/2 heuristic at the worker's own cadence
	hctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	err := w.cfg.Bus.Heartbeat(hctx, hb)
	if elapsed := time.Since(start); elapsed > deadline {
		// spec §5: blocked longer than liveness_timeout/2 logs a warning but
		// is not itself fatal.
		logpkg.Warn(ctx, w.log, "heartbeat upsert slow", "elapsed", elapsed)
	}
	return err
}
