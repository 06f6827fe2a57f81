package coordinator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchctl/benchctl/internal/bus"
	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/runstore"
	"github.com/benchctl/benchctl/internal/store/memstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedScenarioYAML() []byte {
	return []byte(`
template_id: t1
target:
  adapter: mock
  dsn: ""
table: bench
duration_seconds: 600
warmup_seconds: 0
cooldown_seconds: 0
load_mode: FIXED_CONCURRENCY
target_concurrency: 4
expected_workers: 1
mix:
  POINT_LOOKUP: 100
operations:
  POINT_LOOKUP:
    sql_template: "SELECT 1"
    bind_source: none
    expects_rows: true
`)
}

func testConfig() Config {
	return Config{
		RegistrationGrace: 200 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		LivenessTimeout:   100 * time.Millisecond,
		MaxDeadFraction:   0.5,
	}
}

func heartbeat(runID, workerID string, status model.WorkerStatus, age time.Duration) *model.WorkerHeartbeat {
	return &model.WorkerHeartbeat{
		RunID:         runID,
		WorkerID:      workerID,
		Status:        status,
		Phase:         model.PhaseMeasurement,
		LastHeartbeat: time.Now().Add(-age),
	}
}

func TestCoordinator_AdmitValidatesAndPersistsPrepared(t *testing.T) {
	st := memstore.New()
	c := New(runstore.New(st), bus.Local(st), st, testConfig(), testLogger())

	run, err := c.Admit(context.Background(), fixedScenarioYAML(), "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPrepared, run.Status)
	assert.Equal(t, 1, run.TotalWorkersExpected)
}

func TestCoordinator_AdmitRejectsBadScenario(t *testing.T) {
	st := memstore.New()
	c := New(runstore.New(st), bus.Local(st), st, testConfig(), testLogger())

	_, err := c.Admit(context.Background(), []byte("template_id: t1\n"), "")
	assert.Error(t, err)
}

func TestCoordinator_StopDrainsRunToCompleted(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	c := New(runstore.New(st), bus.Local(st), st, testConfig(), testLogger())

	run, err := c.Admit(ctx, fixedScenarioYAML(), "")
	require.NoError(t, err)
	require.NoError(t, st.UpsertHeartbeat(ctx, heartbeat(run.RunID, "w1", model.WorkerRunning, 0)))

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- c.Run(ctx, run.RunID) }()

	// Give the loop time to pass registration and reach RUNNING before stopping.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Stop(ctx, run.RunID, false))

	select {
	case err := <-runErrCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop in time")
	}

	final, err := st.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, final.Status)
	assert.Equal(t, "STOP_REQUESTED", final.ReasonCode)
	assert.NotNil(t, final.EndTime)
}

func TestCoordinator_AbortCancelsRun(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	c := New(runstore.New(st), bus.Local(st), st, testConfig(), testLogger())

	run, err := c.Admit(ctx, fixedScenarioYAML(), "")
	require.NoError(t, err)
	require.NoError(t, st.UpsertHeartbeat(ctx, heartbeat(run.RunID, "w1", model.WorkerRunning, 0)))

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- c.Run(ctx, run.RunID) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Stop(ctx, run.RunID, true))

	select {
	case err := <-runErrCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not abort in time")
	}

	final, err := st.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, final.Status)
	assert.Equal(t, "ABORT_REQUESTED", final.ReasonCode)
}

func TestCoordinator_MaxDeadFractionAborts(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	cfg := testConfig()
	cfg.LivenessTimeout = 30 * time.Millisecond
	cfg.MaxDeadFraction = 0.4
	c := New(runstore.New(st), bus.Local(st), st, cfg, testLogger())

	scenarioYAML := []byte(`
template_id: t1
target:
  adapter: mock
  dsn: ""
table: bench
duration_seconds: 600
warmup_seconds: 0
cooldown_seconds: 0
load_mode: FIXED_CONCURRENCY
target_concurrency: 4
expected_workers: 2
mix:
  POINT_LOOKUP: 100
operations:
  POINT_LOOKUP:
    sql_template: "SELECT 1"
    bind_source: none
    expects_rows: true
`)
	run, err := c.Admit(ctx, scenarioYAML, "")
	require.NoError(t, err)
	// Two workers register, but w2 immediately goes stale -- 1/2 = 50% > 40%.
	require.NoError(t, st.UpsertHeartbeat(ctx, heartbeat(run.RunID, "w1", model.WorkerRunning, 0)))
	require.NoError(t, st.UpsertHeartbeat(ctx, heartbeat(run.RunID, "w2", model.WorkerRunning, time.Hour)))

	err = c.Run(ctx, run.RunID)
	require.NoError(t, err)

	final, err := st.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, final.Status)
	assert.Equal(t, "MAX_DEAD_FRACTION_EXCEEDED", final.ReasonCode)
}

func TestCoordinator_RegistrationTimeoutFailsRun(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	cfg := testConfig()
	cfg.RegistrationGrace = 30 * time.Millisecond
	c := New(runstore.New(st), bus.Local(st), st, cfg, testLogger())

	run, err := c.Admit(ctx, fixedScenarioYAML(), "")
	require.NoError(t, err)
	// No worker ever registers.

	err = c.Run(ctx, run.RunID)
	require.NoError(t, err)

	final, err := st.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, final.Status)
	assert.Equal(t, "REGISTRATION_TIMEOUT", final.ReasonCode)
}

func TestCoordinator_RecoverFailsNonTerminalRunsFromPriorProcess(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	c := New(runstore.New(st), bus.Local(st), st, testConfig(), testLogger())

	run, err := c.Admit(ctx, fixedScenarioYAML(), "")
	require.NoError(t, err)
	// Simulate a crash mid-run: the row is stuck in RUNNING with no live session.
	run.Status = model.StatusRunning
	require.NoError(t, st.UpdateRun(ctx, run))

	require.NoError(t, c.Recover(ctx))

	final, err := st.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, final.Status)
	assert.Equal(t, "COORDINATOR_RESTART", final.ReasonCode)
}
