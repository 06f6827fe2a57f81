package coordinator

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/benchctl/benchctl/internal/aggregator"
	"github.com/benchctl/benchctl/internal/findmax"
	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/scenario"
)

// eventIssuer is the narrow control-event-issuing surface the load-mode
// drivers need. Coordinator.issueEvent additionally mirrors
// next_sequence_id onto the Run row for crash recovery (spec §8 item 8).
type eventIssuer func(ctx context.Context, ev *model.ControlEvent) error

func setTargetConcurrency(ctx context.Context, issue eventIssuer, runID string, target int) error {
	data, err := json.Marshal(model.SetTargetConcurrencyData{TargetConnections: target})
	if err != nil {
		return err
	}
	return issue(ctx, &model.ControlEvent{
		EventID:   model.NewEventID(),
		RunID:     runID,
		EventType: model.EventSetTargetConcurrency,
		EventData: data,
	})
}

// runFixed holds target_workers constant for the run (spec §4.7
// "FIXED_CONCURRENCY: set target_workers once at RUNNING and never adjust it").
func runFixed(ctx context.Context, issue eventIssuer, runID string, concurrency int) error {
	return setTargetConcurrency(ctx, issue, runID, concurrency)
}

// runTargetQPS drives a bounded proportional controller toward targetQPS:
// each interval it measures the last window's QPS, computes a
// proportional correction to target_workers clamped to +/- maxStep, and
// ignores corrections smaller than a 5% hysteresis band so it doesn't
// chase noise (spec §4.7 "TARGET_QPS: proportional controller, bounded
// step, hysteresis").
func runTargetQPS(ctx context.Context, issue eventIssuer, src aggregator.Source, runID string, targetQPS float64, interval time.Duration, maxStep int, startConcurrency int) error {
	current := startConcurrency
	if current < 1 {
		current = 1
	}
	if err := setTargetConcurrency(ctx, issue, runID, current); err != nil {
		return err
	}

	intervalSeconds := int64(interval / time.Second)
	if intervalSeconds < 1 {
		intervalSeconds = 1
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var windowStart int64

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			windowEnd := windowStart + intervalSeconds
			wm, err := aggregator.Window(ctx, src, runID, model.PhaseMeasurement, windowStart, windowEnd)
			windowStart = windowEnd
			if err != nil {
				return err
			}
			if !wm.Available || wm.QPS <= 0 {
				continue
			}

			errRatio := (targetQPS - wm.QPS) / targetQPS
			if math.Abs(errRatio) < 0.05 {
				continue // inside the hysteresis band
			}

			step := int(math.Round(errRatio * float64(current)))
			if step > maxStep {
				step = maxStep
			}
			if step < -maxStep {
				step = -maxStep
			}
			next := current + step
			if next < 1 {
				next = 1
			}
			if next == current {
				continue
			}
			current = next
			if err := setTargetConcurrency(ctx, issue, runID, current); err != nil {
				return err
			}
		}
	}
}

// runFindMax delegates to the FIND_MAX controller (C6, internal/findmax)
// and returns its terminal report for the caller to mirror onto the Run
// row's find_max state (spec §4.7 "FIND_MAX_CONCURRENCY: delegate to C6").
func runFindMax(ctx context.Context, issue eventIssuer, recorder findmax.StepRecorder, src aggregator.Source, runID string, cfg scenario.FindMax) (findmax.Report, error) {
	ctrl := &findmax.Controller{
		RunID:    runID,
		Config:   cfg,
		Source:   src,
		Recorder: recorder,
		SetTarget: func(ctx context.Context, target int) error {
			return setTargetConcurrency(ctx, issue, runID, target)
		},
	}
	return ctrl.Run(ctx)
}
