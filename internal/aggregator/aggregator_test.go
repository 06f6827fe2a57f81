package aggregator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/store/memstore"
)

func snap(runID, workerID string, sec int64, phase model.Phase, qps, p95 float64, target int, errCount int64) *model.MetricSnapshot {
	return &model.MetricSnapshot{
		RunID:             runID,
		WorkerID:          workerID,
		ElapsedSeconds:    sec,
		Phase:             phase,
		ActiveConnections: target,
		TargetConnections: target,
		QPS:               qps,
		P50Ms:             p95 / 2,
		P95Ms:             p95,
		P99Ms:             p95 * 1.1,
		OpCountsByKind:    map[model.QueryKind]int64{model.KindPointLookup: int64(qps)},
		ErrorCount:        errCount,
	}
}

func TestBuckets_MergesWorkersPerSecond(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	require.NoError(t, st.AppendMetricSnapshot(ctx, snap("r1", "w1", 0, model.PhaseMeasurement, 50, 10, 4, 0)))
	require.NoError(t, st.AppendMetricSnapshot(ctx, snap("r1", "w2", 0, model.PhaseMeasurement, 40, 12, 4, 1)))

	buckets, err := Buckets(ctx, st, "r1", 0, 1)
	require.NoError(t, err)
	require.Len(t, buckets, 1)

	b := buckets[0]
	assert.True(t, b.Available)
	assert.Equal(t, 90.0, b.QPS)
	assert.Equal(t, 12.0, b.P95Ms, "p95 is the slowest worker's value")
	assert.Equal(t, int64(1), b.ErrorCount)
	assert.Equal(t, 8, b.TargetConnections)
}

func TestBuckets_EmptySecondIsUnavailable(t *testing.T) {
	st := memstore.New()
	buckets, err := Buckets(context.Background(), st, "r1", 0, 5)
	require.NoError(t, err)
	assert.Empty(t, buckets, "no snapshots means no bucket rows at all")
}

func TestDetectQueue_TargetGrowthWithStalledQPS(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	require.NoError(t, st.AppendMetricSnapshot(ctx, snap("r1", "w1", 0, model.PhaseMeasurement, 100, 10, 4, 0)))
	require.NoError(t, st.AppendMetricSnapshot(ctx, snap("r1", "w1", 1, model.PhaseMeasurement, 101, 10, 8, 0)))

	buckets, err := Buckets(ctx, st, "r1", 0, 2)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.False(t, buckets[0].QueueDetected)
	assert.True(t, buckets[1].QueueDetected, "target doubled while QPS barely moved")
}

func TestDetectQueue_QueueDepthHintWins(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	s := snap("r1", "w1", 0, model.PhaseMeasurement, 100, 10, 4, 0)
	depth := int64(3)
	s.QueueDepthHint = &depth
	require.NoError(t, st.AppendMetricSnapshot(ctx, s))

	buckets, err := Buckets(ctx, st, "r1", 0, 1)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.True(t, buckets[0].QueueDetected)
}

func TestWindow_RestrictsToPhaseAndComputesErrorRate(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	require.NoError(t, st.AppendMetricSnapshot(ctx, snap("r1", "w1", 0, model.PhaseWarmup, 100, 10, 4, 0)))
	require.NoError(t, st.AppendMetricSnapshot(ctx, snap("r1", "w1", 1, model.PhaseMeasurement, 50, 10, 4, 5)))
	require.NoError(t, st.AppendMetricSnapshot(ctx, snap("r1", "w1", 2, model.PhaseMeasurement, 50, 10, 4, 0)))

	wm, err := Window(ctx, st, "r1", model.PhaseMeasurement, 0, 3)
	require.NoError(t, err)
	require.True(t, wm.Available)
	assert.Equal(t, 50.0, wm.QPS)
	assert.InDelta(t, 5.0/100.0, wm.ErrorRate, 1e-9)
}

func TestWindow_EmptyReturnsUnavailable(t *testing.T) {
	st := memstore.New()
	wm, err := Window(context.Background(), st, "r1", model.PhaseMeasurement, 0, 10)
	require.NoError(t, err)
	assert.False(t, wm.Available)
}

func TestRunClose_SplitsReadsAndWrites(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	s := snap("r1", "w1", 0, model.PhaseMeasurement, 10, 10, 4, 0)
	s.OpCountsByKind = map[model.QueryKind]int64{
		model.KindPointLookup: 6,
		model.KindInsert:      4,
	}
	require.NoError(t, st.AppendMetricSnapshot(ctx, s))

	summary, err := RunClose(ctx, st, "r1", 1)
	require.NoError(t, err)
	require.Len(t, summary.Phases, 1)
	ps := summary.Phases[0]
	assert.Equal(t, int64(6), ps.ReadOps)
	assert.Equal(t, int64(4), ps.WriteOps)
	assert.True(t, summary.SlowestWorkerApproximation)
}
