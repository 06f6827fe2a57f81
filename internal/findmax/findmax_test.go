package findmax

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchctl/benchctl/internal/aggregator"
	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/scenario"
)

// noSleepClock skips real waits so the step procedure runs instantly in tests.
type noSleepClock struct{}

func (noSleepClock) Sleep(ctx context.Context, d time.Duration) error { return nil }

// curveSource models scenario S4 ("QPS(c)=min(c*50, 800)"): each call to
// ListMetricSnapshots returns one synthetic worker snapshot computed from
// whatever concurrency the controller most recently requested.
type curveSource struct {
	current  func() int
	p95 func(c int) float64
	errRate  func(c int) float64
}

func (s *curveSource) ListMetricSnapshots(ctx context.Context, runID string, from, to int64) ([]*model.MetricSnapshot, error) {
	c := s.current()
	qps := math.Min(float64(c)*50, 800)
	p95 := 20.0
	if s.p95 != nil {
		p95 = s.p95(c)
	}
	var errs int64
	total := int64(qps)
	if s.errRate != nil {
		errs = int64(s.errRate(c) * float64(total))
	}
	return []*model.MetricSnapshot{{
		RunID:             runID,
		WorkerID:          "w1",
		ElapsedSeconds:    from,
		Phase:             model.PhaseMeasurement,
		QPS:               qps,
		P50Ms:             p95 / 2,
		P95Ms:             p95,
		P99Ms:             p95 * 1.1,
		ActiveConnections: c,
		TargetConnections: c,
		OpCountsByKind:    map[model.QueryKind]int64{model.KindPointLookup: total},
		ErrorCount:        errs,
	}}, nil
}

type recordingRecorder struct {
	steps []*model.StepRecord
}

func (r *recordingRecorder) AppendStepRecord(ctx context.Context, step *model.StepRecord) error {
	r.steps = append(r.steps, step)
	return nil
}

func baseConfig() scenario.FindMax {
	five := 5
	return scenario.FindMax{
		Start:        5,
		Max:          20,
		Increment:    scenario.Increment{Linear: &five},
		TStepSeconds: 1,
		TWarmSeconds: 0,
		Thresholds: scenario.Thresholds{
			QPSDropPct:      0.5,
			P95InflationPct: 0.5,
			ErrorRatePct:    0.1,
		},
	}
}

func TestController_CapReachedWhenEveryStepStable(t *testing.T) {
	var target int
	src := &curveSource{current: func() int { return target }}
	rec := &recordingRecorder{}

	c := &Controller{
		RunID:    "r1",
		Config:   baseConfig(),
		Source:   src,
		Recorder: rec,
		SetTarget: func(ctx context.Context, t int) error {
			target = t
			return nil
		},
		Clock: noSleepClock{},
	}

	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "CAP_REACHED", report.DegradationReason)
	assert.Nil(t, report.DegradationPoint)
	assert.Equal(t, 20, report.BestStableConcurrency)
	assert.Equal(t, 800.0, report.BestStableQPS)
	assert.Len(t, report.Steps, 4) // 5, 10, 15, 20
	for _, s := range rec.steps {
		assert.Equal(t, model.OutcomeStable, s.Outcome)
	}
}

func TestController_DegradesOnP95Inflation(t *testing.T) {
	var target int
	src := &curveSource{
		current: func() int { return target },
		p95: func(c int) float64 {
			if c >= 15 {
				return 60 // 3x the c=5 baseline of 20ms
			}
			return 20
		},
	}
	rec := &recordingRecorder{}

	c := &Controller{
		RunID:    "r1",
		Config:   baseConfig(),
		Source:   src,
		Recorder: rec,
		SetTarget: func(ctx context.Context, t int) error {
			target = t
			return nil
		},
		Clock: noSleepClock{},
	}

	report, err := c.Run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, report.DegradationPoint)
	assert.Equal(t, 15, *report.DegradationPoint)
	assert.Equal(t, "DEGRADED_P95", report.DegradationReason)
	assert.Equal(t, 10, report.BestStableConcurrency, "10 is the last stable step before degradation")
	assert.Equal(t, 500.0, report.BestStableQPS)
}

func TestController_ErrorThresholdTakesPriorityOverDegradation(t *testing.T) {
	var target int
	src := &curveSource{
		current: func() int { return target },
		p95: func(c int) float64 {
			if c >= 10 {
				return 60
			}
			return 20
		},
		errRate: func(c int) float64 {
			if c >= 10 {
				return 0.2 // above the 0.1 threshold
			}
			return 0
		},
	}
	rec := &recordingRecorder{}

	c := &Controller{
		RunID:    "r1",
		Config:   baseConfig(),
		Source:   src,
		Recorder: rec,
		SetTarget: func(ctx context.Context, t int) error {
			target = t
			return nil
		},
		Clock: noSleepClock{},
	}

	report, err := c.Run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, report.DegradationPoint)
	assert.Equal(t, 10, *report.DegradationPoint)
	assert.Equal(t, "ERROR_RATE_EXCEEDED", report.DegradationReason)
	assert.Equal(t, model.OutcomeErrorThreshold, rec.steps[len(rec.steps)-1].Outcome)
}

func TestClassify_PrecedenceOrder(t *testing.T) {
	th := scenario.Thresholds{QPSDropPct: 0.5, P95InflationPct: 0.5, ErrorRatePct: 0.1}

	outcome, reason := classify(aggregator.WindowMetrics{}, th, 0, 0, false)
	assert.Equal(t, model.OutcomeDegraded, outcome)
	assert.Equal(t, "NO_DATA", reason)

	outcome, reason = classify(aggregator.WindowMetrics{Available: true, ErrorRate: 0.2}, th, 100, 0, false)
	assert.Equal(t, model.OutcomeErrorThreshold, outcome)
	assert.Equal(t, "ERROR_RATE_EXCEEDED", reason)

	outcome, reason = classify(aggregator.WindowMetrics{Available: true, QPS: 40}, th, 100, 0, false)
	assert.Equal(t, model.OutcomeDegraded, outcome)
	assert.Equal(t, "DEGRADED_QPS", reason)

	outcome, reason = classify(aggregator.WindowMetrics{Available: true, QPS: 100, P95Ms: 50}, th, 100, 20, true)
	assert.Equal(t, model.OutcomeDegraded, outcome)
	assert.Equal(t, "DEGRADED_P95", reason)

	outcome, reason = classify(aggregator.WindowMetrics{Available: true, QPS: 100, P95Ms: 20, QueueDetected: true}, th, 100, 20, true)
	assert.Equal(t, model.OutcomeDegraded, outcome)
	assert.Equal(t, "DEGRADED_QUEUEING", reason)

	outcome, reason = classify(aggregator.WindowMetrics{Available: true, QPS: 100, P95Ms: 20}, th, 100, 20, true)
	assert.Equal(t, model.OutcomeStable, outcome)
	assert.Equal(t, "", reason)
}

func TestNextTarget_LinearAndGeometric(t *testing.T) {
	five := 5
	assert.Equal(t, 15, nextTarget(10, scenario.Increment{Linear: &five}))

	mult := 2.0
	assert.Equal(t, 20, nextTarget(10, scenario.Increment{Geometric: &mult}))
}
