package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "bench.db")
	s, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestRun(id string) *model.Run {
	return &model.Run{
		RunID:                id,
		Scenario:             []byte(`{"name":"s1"}`),
		Status:               model.StatusPrepared,
		Phase:                model.PhaseWarmup,
		StartTime:            time.Now().UTC().Truncate(time.Millisecond),
		TotalWorkersExpected: 3,
	}
}

func TestStore_CreateAndGetRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := newTestRun("run-1")
	require.NoError(t, s.CreateRun(ctx, run))
	require.Equal(t, int64(1), run.Version)

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, run.RunID, got.RunID)
	require.Equal(t, run.Status, got.Status)
	require.Equal(t, run.TotalWorkersExpected, got.TotalWorkersExpected)
	require.Equal(t, run.Scenario, got.Scenario)
}

func TestStore_GetRun_Missing(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetRun(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStore_UpdateRun_OptimisticConcurrency(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := newTestRun("run-2")
	require.NoError(t, s.CreateRun(ctx, run))

	run.Status = model.StatusRunning
	run.FindMax = &model.FindMaxState{CurrentStep: 1, CurrentTarget: 10}
	require.NoError(t, s.UpdateRun(ctx, run))
	require.Equal(t, int64(2), run.Version)

	stale := newTestRun("run-2")
	stale.Version = 1
	stale.Status = model.StatusFailed
	err := s.UpdateRun(ctx, stale)
	require.ErrorIs(t, err, store.ErrVersionConflict)

	got, err := s.GetRun(ctx, "run-2")
	require.NoError(t, err)
	require.Equal(t, model.StatusRunning, got.Status)
	require.NotNil(t, got.FindMax)
	require.Equal(t, 10, got.FindMax.CurrentTarget)
}

func TestStore_ListRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, newTestRun("run-a")))
	require.NoError(t, s.CreateRun(ctx, newTestRun("run-b")))

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
}

func TestStore_ControlEvents_SequenceIDsMonotonic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	run := newTestRun("run-3")
	require.NoError(t, s.CreateRun(ctx, run))

	ev1 := &model.ControlEvent{EventID: "e1", RunID: run.RunID, EventType: model.EventSetPhase, EventData: []byte(`{"phase":"MEASUREMENT"}`)}
	ev2 := &model.ControlEvent{EventID: "e2", RunID: run.RunID, EventType: model.EventStop}

	require.NoError(t, s.AppendControlEvent(ctx, ev1))
	require.NoError(t, s.AppendControlEvent(ctx, ev2))
	require.Equal(t, int64(1), ev1.SequenceID)
	require.Equal(t, int64(2), ev2.SequenceID)

	events, err := s.ListControlEventsSince(ctx, run.RunID, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "e1", events[0].EventID)

	since1, err := s.ListControlEventsSince(ctx, run.RunID, 1)
	require.NoError(t, err)
	require.Len(t, since1, 1)
	require.Equal(t, "e2", since1[0].EventID)
}

func TestStore_HeartbeatUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	run := newTestRun("run-4")
	require.NoError(t, s.CreateRun(ctx, run))

	hb := &model.WorkerHeartbeat{
		RunID: run.RunID, WorkerID: "w1",
		Status: model.WorkerRunning, Phase: model.PhaseWarmup,
		LastHeartbeat: time.Now().UTC().Truncate(time.Millisecond),
		Resource:      &model.ResourceReading{CPUPercent: 12.5},
	}
	require.NoError(t, s.UpsertHeartbeat(ctx, hb))

	hb.Status = model.WorkerDraining
	hb.ActiveConnections = 4
	require.NoError(t, s.UpsertHeartbeat(ctx, hb))

	got, err := s.GetHeartbeat(ctx, run.RunID, "w1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, model.WorkerDraining, got.Status)
	require.Equal(t, 4, got.ActiveConnections)
	require.NotNil(t, got.Resource)
	require.InDelta(t, 12.5, got.Resource.CPUPercent, 0.001)

	all, err := s.ListHeartbeats(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestStore_QueryExecutionsAppendAndCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	run := newTestRun("run-5")
	require.NoError(t, s.CreateRun(ctx, run))

	rows := int64(3)
	execs := []*model.QueryExecution{
		{RunID: run.RunID, WorkerID: "w1", QueryKind: model.KindPointLookup, StartTime: time.Now(), ElapsedMs: 1.2, Success: true, RowsReturned: &rows},
		{RunID: run.RunID, WorkerID: "w1", QueryKind: model.KindInsert, StartTime: time.Now(), ElapsedMs: 2.5, Success: false, ErrorClass: model.ErrorClassTransport},
	}
	require.NoError(t, s.AppendQueryExecutions(ctx, execs))

	n, err := s.CountQueryExecutions(ctx, run.RunID)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestStore_MetricSnapshotsWindowed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	run := newTestRun("run-6")
	require.NoError(t, s.CreateRun(ctx, run))

	for i := int64(0); i < 5; i++ {
		snap := &model.MetricSnapshot{
			RunID: run.RunID, WorkerID: "w1", ElapsedSeconds: i, Phase: model.PhaseMeasurement,
			QPS: 100, OpCountsByKind: map[model.QueryKind]int64{model.KindPointLookup: 100},
		}
		require.NoError(t, s.AppendMetricSnapshot(ctx, snap))
	}

	got, err := s.ListMetricSnapshots(ctx, run.RunID, 1, 4)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, int64(100), got[0].OpCountsByKind[model.KindPointLookup])
}

func TestStore_StepRecordsOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	run := newTestRun("run-7")
	require.NoError(t, s.CreateRun(ctx, run))

	require.NoError(t, s.AppendStepRecord(ctx, &model.StepRecord{RunID: run.RunID, StepNumber: 2, Outcome: model.OutcomeStable}))
	require.NoError(t, s.AppendStepRecord(ctx, &model.StepRecord{RunID: run.RunID, StepNumber: 1, Outcome: model.OutcomeStable, QueueDetected: true}))

	steps, err := s.ListStepRecords(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, 1, steps[0].StepNumber)
	require.True(t, steps[0].QueueDetected)
}
