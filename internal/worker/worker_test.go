package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchctl/benchctl/internal/adapter"
	"github.com/benchctl/benchctl/internal/bus"
	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/scenario"
	"github.com/benchctl/benchctl/internal/store/memstore"
	"github.com/benchctl/benchctl/internal/valuepool"
)

func fixedMixScenario() *scenario.Scenario {
	return &scenario.Scenario{
		LoadMode:          model.LoadModeFixedConcurrency,
		TargetConcurrency: 4,
		Mix: map[model.QueryKind]float64{
			model.KindPointLookup: 70,
			model.KindInsert:      30,
		},
		Operations: map[model.QueryKind]scenario.Operation{
			model.KindPointLookup: {SQLTemplate: "select 1", ExpectsRows: true},
			model.KindInsert:      {SQLTemplate: "insert ..."},
		},
	}
}

func newTestWorker(t *testing.T, st *memstore.Store, mock *adapter.Mock, sc *scenario.Scenario) *Worker {
	t.Helper()
	cfg := Config{
		RunID:             "run-1",
		WorkerID:          "worker-1",
		Bus:               bus.Local(st),
		Adapter:           mock,
		Scenario:          sc,
		Pools:             map[model.QueryKind]valuepool.Pool{},
		HeartbeatInterval: 20 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		StopGrace:         200 * time.Millisecond,
		AbortGrace:        50 * time.Millisecond,
		Seed:              1,
	}
	return New(cfg)
}

// scenario S1/S2: fixed concurrency runs until STOP, registers heartbeats
// and reports metric snapshots.
func TestWorker_RunsUntilStopAndReportsMetrics(t *testing.T) {
	st := memstore.New()
	mock := &adapter.Mock{ElapsedMs: 1}
	w := newTestWorker(t, st, mock, fixedMixScenario())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return w.active.Load() == 4
	}, time.Second, 5*time.Millisecond, "expected 4 active executors")

	require.Eventually(t, func() bool {
		snaps, err := st.ListMetricSnapshots(context.Background(), "run-1", 0, 100)
		return err == nil && len(snaps) > 0
	}, time.Second, 10*time.Millisecond, "expected at least one metric snapshot")

	require.NoError(t, st.AppendControlEvent(context.Background(), &model.ControlEvent{
		RunID:     "run-1",
		EventType: model.EventStop,
	}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after STOP event")
	}

	assert.Equal(t, model.WorkerCompleted, w.currentStatus())
	assert.Equal(t, int32(0), w.active.Load())

	hb, err := st.GetHeartbeat(context.Background(), "run-1", "worker-1")
	require.NoError(t, err)
	require.NotNil(t, hb)
	assert.Equal(t, model.WorkerCompleted, hb.Status)
}

// Raising target_concurrency mid-run opens new executors; lowering it
// drains the excess without killing in-flight ones immediately.
func TestWorker_ReconcilesExecutorsOnTargetChange(t *testing.T) {
	st := memstore.New()
	mock := &adapter.Mock{ElapsedMs: 1}
	w := newTestWorker(t, st, mock, fixedMixScenario())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return w.active.Load() == 4 }, time.Second, 5*time.Millisecond)

	require.NoError(t, st.AppendControlEvent(context.Background(), &model.ControlEvent{
		RunID:     "run-1",
		EventType: model.EventSetTargetConcurrency,
		EventData: mustJSON(t, model.SetTargetConcurrencyData{TargetConnections: 8}),
	}))
	require.Eventually(t, func() bool { return w.active.Load() == 8 }, time.Second, 5*time.Millisecond)

	require.NoError(t, st.AppendControlEvent(context.Background(), &model.ControlEvent{
		RunID:     "run-1",
		EventType: model.EventSetTargetConcurrency,
		EventData: mustJSON(t, model.SetTargetConcurrencyData{TargetConnections: 2}),
	}))
	require.Eventually(t, func() bool { return w.active.Load() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, st.AppendControlEvent(context.Background(), &model.ControlEvent{RunID: "run-1", EventType: model.EventStop}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

// ABORT must force a shutdown within abort_grace even with operations
// that never return on their own (adapter blocks until ctx cancellation).
func TestWorker_AbortForcesShutdownWithinGrace(t *testing.T) {
	st := memstore.New()
	mock := &adapter.Mock{ElapsedMs: 10_000} // far longer than abort_grace
	sc := fixedMixScenario()
	sc.TargetConcurrency = 2
	w := newTestWorker(t, st, mock, sc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return w.active.Load() == 2 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, st.AppendControlEvent(context.Background(), &model.ControlEvent{RunID: "run-1", EventType: model.EventAbort}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not abort")
	}
	elapsed := time.Since(start)
	assert.Less(t, elapsed, time.Second, "abort should cut in-flight operations short within abort_grace")
}

// Operations in flight when SET_PHASE arrives are tagged by the phase
// observed at their start, not the phase at completion.
func TestWorker_PhaseTaggedAtOperationStart(t *testing.T) {
	st := memstore.New()
	// Each operation takes 100ms, so the first one is still in flight when
	// SET_PHASE is applied.
	mock := &adapter.Mock{ElapsedMs: 100}
	sc := fixedMixScenario()
	sc.TargetConcurrency = 1
	w := newTestWorker(t, st, mock, sc)
	cb := &captureBus{Bus: w.cfg.Bus}
	w.cfg.Bus = cb

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return w.active.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, st.AppendControlEvent(context.Background(), &model.ControlEvent{
		RunID:     "run-1",
		EventType: model.EventSetPhase,
		EventData: mustJSON(t, model.SetPhaseData{Phase: model.PhaseMeasurement}),
	}))

	require.Eventually(t, func() bool {
		return w.currentPhase() == model.PhaseMeasurement
	}, time.Second, 5*time.Millisecond)

	// Once the first operation completes, the next one starts under
	// MEASUREMENT.
	require.Eventually(t, func() bool { return w.queriesProcessed.Load() >= 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, st.AppendControlEvent(context.Background(), &model.ControlEvent{RunID: "run-1", EventType: model.EventStop}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	execs := cb.reported()
	n, err := st.CountQueryExecutions(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotEmpty(t, execs)
	assert.Equal(t, int64(len(execs)), n)
	assert.True(t, execs[0].Warmup, "first operation started under WARMUP and finished under MEASUREMENT")
	assert.False(t, execs[len(execs)-1].Warmup, "last operation started under MEASUREMENT")
}

// A sustained error rate above the configured threshold moves the worker
// to DRAINING and populates last_error, leaving the coordinator to decide
// whether to abort the run.
func TestWorker_ErrorRateThresholdTriggersDraining(t *testing.T) {
	st := memstore.New()
	mock := &adapter.Mock{ElapsedMs: 1, FailureRate: 1.0}
	sc := fixedMixScenario()
	sc.TargetConcurrency = 2
	cfg := Config{
		RunID:              "run-1",
		WorkerID:           "worker-1",
		Bus:                bus.Local(st),
		Adapter:            mock,
		Scenario:           sc,
		Pools:              map[model.QueryKind]valuepool.Pool{},
		HeartbeatInterval:  20 * time.Millisecond,
		PollInterval:       10 * time.Millisecond,
		StopGrace:          200 * time.Millisecond,
		AbortGrace:         50 * time.Millisecond,
		ErrorRateThreshold: 0.5,
		Seed:               1,
	}
	w := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return w.currentStatus() == model.WorkerDraining
	}, 2*time.Second, 10*time.Millisecond, "expected worker to self-drain on sustained error rate")

	cancel()
	<-done
}

// captureBus records every QueryExecution batch reported through it before
// forwarding the batch to the wrapped Bus.
type captureBus struct {
	bus.Bus
	mu    sync.Mutex
	execs []*model.QueryExecution
}

func (b *captureBus) ReportQueryExecutions(ctx context.Context, execs []*model.QueryExecution) error {
	b.mu.Lock()
	b.execs = append(b.execs, execs...)
	b.mu.Unlock()
	return b.Bus.ReportQueryExecutions(ctx, execs)
}

func (b *captureBus) reported() []*model.QueryExecution {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*model.QueryExecution(nil), b.execs...)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
