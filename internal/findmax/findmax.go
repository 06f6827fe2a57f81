// Package findmax implements the FIND_MAX Controller (C6, spec §4.6): a
// step-based search for the highest stable concurrency, driven by the Run
// Coordinator (C7) and fed measurement windows by the Metrics Aggregator
// (C5).
package findmax

import (
	"context"
	"math"
	"time"

	"github.com/benchctl/benchctl/internal/aggregator"
	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/scenario"
)

// StepRecorder persists a StepRecord at the close of each step (spec §4.6
// "All step records persisted via C5"). runstore.RunStore satisfies this
// structurally.
type StepRecorder interface {
	AppendStepRecord(ctx context.Context, step *model.StepRecord) error
}

// TargetSetter issues the SET_TARGET_CONCURRENCY control event for the
// next step's target_workers (spec §4.6 step 1). runstore.RunStore
// satisfies this structurally via IssueControlEvent plus a small adapter
// in the coordinator package; Controller takes the narrower function type
// directly so it has no dependency on model.ControlEvent wiring.
type TargetSetter func(ctx context.Context, targetWorkers int) error

// Clock abstracts time so tests can drive steps without real sleeps.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock sleeps for real, respecting ctx cancellation.
type RealClock struct{}

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Controller runs the step procedure of spec §4.6 over one run.
type Controller struct {
	RunID    string
	Config   scenario.FindMax
	Source   aggregator.Source
	Recorder StepRecorder
	SetTarget TargetSetter
	Clock    Clock
}

// Report is the FIND_MAX summary of spec §4.6's "Report" paragraph.
type Report struct {
	BestStableConcurrency int
	BestStableQPS         float64
	DegradationPoint      *int // nil if CAP_REACHED
	StepsToDegradation    int
	DegradationReason     string
	Steps                 []*model.StepRecord
}

// Run executes the step procedure until a stop condition is reached
// (DEGRADED, ERROR_THRESHOLD, or CAP_REACHED), persisting one StepRecord
// per step and returning the final report.
func (c *Controller) Run(ctx context.Context) (Report, error) {
	if c.Clock == nil {
		c.Clock = RealClock{}
	}

	target := c.Config.Start
	var bestQPS float64
	var bestConcurrency int
	var baselineP95 float64
	haveBaseline := false
	stepNum := 0

	var report Report

	for {
		if err := c.SetTarget(ctx, target); err != nil {
			return report, err
		}

		if c.Config.TWarmSeconds > 0 {
			if err := c.Clock.Sleep(ctx, time.Duration(c.Config.TWarmSeconds)*time.Second); err != nil {
				return report, err
			}
		}
		stepStart := time.Now()
		if err := c.Clock.Sleep(ctx, time.Duration(c.Config.TStepSeconds)*time.Second); err != nil {
			return report, err
		}
		_ = stepStart

		wm, err := aggregator.Window(ctx, c.Source, c.RunID, model.PhaseMeasurement, 0, int64(c.Config.TStepSeconds))
		if err != nil {
			return report, err
		}

		step := &model.StepRecord{
			RunID:         c.RunID,
			StepNumber:    stepNum,
			TargetWorkers: target,
		}
		if wm.Available {
			step.QPS = wm.QPS
			step.P50Ms = wm.P50Ms
			step.P95Ms = wm.P95Ms
			step.P99Ms = wm.P99Ms
			step.ErrorRate = wm.ErrorRate
			step.QueueDetected = wm.QueueDetected
		}

		outcome, reason := classify(wm, c.Config.Thresholds, bestQPS, baselineP95, haveBaseline)
		step.Outcome = outcome
		step.StopReason = reason

		if err := c.Recorder.AppendStepRecord(ctx, step); err != nil {
			return report, err
		}
		report.Steps = append(report.Steps, step)

		if outcome == model.OutcomeStable {
			if !haveBaseline {
				baselineP95 = wm.P95Ms
				haveBaseline = true
			}
			if wm.QPS > bestQPS {
				bestQPS = wm.QPS
				bestConcurrency = target
			}
		}

		if outcome == model.OutcomeErrorThreshold || outcome == model.OutcomeDegraded {
			report.BestStableConcurrency = bestConcurrency
			report.BestStableQPS = bestQPS
			point := target
			report.DegradationPoint = &point
			report.StepsToDegradation = stepNum
			report.DegradationReason = reason
			return report, nil
		}

		next := nextTarget(target, c.Config.Increment)
		if next > c.Config.Max {
			// spec §4.6 step 5 / §8 item 11: CAP_REACHED with no DEGRADED
			// step means best_stable_concurrency is the last stepped target,
			// which is the cap itself when the increment lands on it.
			report.BestStableConcurrency = target
			report.BestStableQPS = bestQPS
			report.DegradationPoint = nil
			report.StepsToDegradation = stepNum
			report.DegradationReason = "CAP_REACHED"
			return report, nil
		}

		target = next
		stepNum++
	}
}

// classify implements spec §4.6 step 4's classification rules, in the
// stated precedence order.
func classify(wm aggregator.WindowMetrics, th scenario.Thresholds, bestQPS, baselineP95 float64, haveBaseline bool) (model.StepOutcome, string) {
	if !wm.Available {
		return model.OutcomeDegraded, "NO_DATA"
	}
	if wm.ErrorRate > th.ErrorRatePct {
		return model.OutcomeErrorThreshold, "ERROR_RATE_EXCEEDED"
	}
	if bestQPS > 0 && wm.QPS < bestQPS*(1-th.QPSDropPct) {
		return model.OutcomeDegraded, "DEGRADED_QPS"
	}
	if haveBaseline && wm.P95Ms > baselineP95*(1+th.P95InflationPct) {
		return model.OutcomeDegraded, "DEGRADED_P95"
	}
	if wm.QueueDetected {
		return model.OutcomeDegraded, "DEGRADED_QUEUEING"
	}
	return model.OutcomeStable, ""
}

// nextTarget applies the configured increment policy (spec §6's
// find_max.increment union).
func nextTarget(current int, inc scenario.Increment) int {
	if inc.Linear != nil {
		return current + *inc.Linear
	}
	if inc.Geometric != nil {
		return int(math.Round(float64(current) * *inc.Geometric))
	}
	return current
}
