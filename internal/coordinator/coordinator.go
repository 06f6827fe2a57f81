// Package coordinator implements the Run Coordinator (C7, spec §4.7): the
// Run.status state machine, phase advancement, liveness monitoring and
// max_dead_fraction abort, the three load-mode drivers, and termination
// via the Metrics Aggregator (C5).
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/benchctl/benchctl/internal/aggregator"
	"github.com/benchctl/benchctl/internal/bus"
	"github.com/benchctl/benchctl/internal/model"
	obslog "github.com/benchctl/benchctl/internal/obs/log"
	"github.com/benchctl/benchctl/internal/obs/metrics"
	"github.com/benchctl/benchctl/internal/runstore"
	"github.com/benchctl/benchctl/internal/scenario"
	"github.com/benchctl/benchctl/internal/store"
)

// Config holds the coordinator's lifecycle timing (spec §5's grace
// periods and cadences).
type Config struct {
	RegistrationGrace time.Duration
	PollInterval      time.Duration
	LivenessTimeout   time.Duration
	MaxDeadFraction   float64

	TargetQPSInterval time.Duration
	TargetQPSMaxStep  int

	// Metrics, when non-nil, is updated once per poll tick with the
	// run's live workers-active count and most recent second's QPS
	// (SPEC_FULL §12). Nil disables this purely-additive observability.
	Metrics *metrics.Registry
}

// Coordinator drives the Run state machine for every run it admits.
type Coordinator struct {
	Store  runstore.RunStore
	Bus    bus.Bus
	Source aggregator.Source
	Cfg    Config
	Logger *slog.Logger
}

// New constructs a Coordinator. rs and b are typically backed by the same
// store.Store (see internal/bus.Local, internal/runstore.New) for a
// single-machine run, or by the HTTP bus client/server for a distributed one.
func New(rs runstore.RunStore, b bus.Bus, src aggregator.Source, cfg Config, logger *slog.Logger) *Coordinator {
	return &Coordinator{Store: rs, Bus: b, Source: src, Cfg: cfg, Logger: logger}
}

// Admit validates scenarioBytes and persists a new Run in PREPARED status
// (spec §4.7 admission via scenario.Validate). runID overrides the
// generated ID when non-empty, honoring the CLI's `run --run-id` flag
// (spec §6).
func (c *Coordinator) Admit(ctx context.Context, scenarioBytes []byte, runID string) (*model.Run, error) {
	sc, err := scenario.Parse(scenarioBytes)
	if err != nil {
		return nil, err
	}
	if err := scenario.Validate(sc); err != nil {
		return nil, err
	}
	if runID == "" {
		runID = model.NewRunID()
	}
	run := &model.Run{
		RunID:                runID,
		Scenario:             scenarioBytes,
		Status:               model.StatusPrepared,
		Phase:                model.PhaseWarmup,
		StartTime:            time.Now(),
		TotalWorkersExpected: scenario.ExpectedWorkersOrDefault(sc),
	}
	if err := c.Store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Stop issues the STOP (abort=false) or ABORT (abort=true) control event
// that a running Run's loop polls for (spec §4.7: "STOP drains in place
// honoring stop_grace; ABORT force-cancels within abort_grace").
func (c *Coordinator) Stop(ctx context.Context, runID string, abort bool) error {
	evType := model.EventStop
	if abort {
		evType = model.EventAbort
	}
	return c.issueEvent(ctx, &model.ControlEvent{
		EventID:   model.NewEventID(),
		RunID:     runID,
		EventType: evType,
	})
}

// issueEvent appends ev and mirrors the sequence it was assigned onto the
// Run row's next_sequence_id, so a coordinator restart can log how far
// event issuance had progressed (Recover does not replay events).
func (c *Coordinator) issueEvent(ctx context.Context, ev *model.ControlEvent) error {
	if err := c.Store.IssueControlEvent(ctx, ev); err != nil {
		return err
	}
	run, err := c.Store.GetRun(ctx, ev.RunID)
	if err != nil || run == nil {
		return err
	}
	if ev.SequenceID+1 > run.NextSequenceID {
		run.NextSequenceID = ev.SequenceID + 1
		_ = c.Store.UpdateRun(ctx, run) // best-effort: a lost race just means a later issueEvent call catches it up
	}
	return nil
}

// fail marks the run FAILED with reasonCode/message (spec §4.7's
// PREPARED/RUNNING -> FAILED edges) and returns nil: the Run.Status row is
// the authoritative record of the failure, not a Go error. It returns a
// non-nil error only if persisting that status itself failed.
func (c *Coordinator) fail(ctx context.Context, runID, reasonCode, message string) error {
	_, err := transition(ctx, c.Store, runID, model.StatusFailed, func(r *model.Run) {
		now := time.Now()
		r.EndTime = &now
		r.ReasonCode = reasonCode
		r.ReasonMessage = message
	})
	return err
}

// awaitRegistration blocks until total_workers_expected workers have sent
// a heartbeat or registration_grace elapses (spec §4.7 "admission waits
// for worker registration").
func (c *Coordinator) awaitRegistration(ctx context.Context, runID string, expected int) (bool, error) {
	if expected <= 0 {
		expected = 1
	}
	deadline := time.Now().Add(c.Cfg.RegistrationGrace)
	ticker := time.NewTicker(c.Cfg.PollInterval)
	defer ticker.Stop()

	for {
		hbs, err := c.Store.ListHeartbeats(ctx, runID)
		if err != nil {
			return false, err
		}
		if len(hbs) >= expected {
			if run, err := c.Store.GetRun(ctx, runID); err != nil {
				return false, err
			} else if run != nil {
				run.WorkersRegistered = len(hbs)
				if err := c.Store.UpdateRun(ctx, run); err != nil && !errors.Is(err, store.ErrVersionConflict) {
					return false, err
				}
			}
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// advancePhase issues SET_PHASE and stamps warmup_end_time when entering
// MEASUREMENT (spec §4.7 "phase advancement").
func (c *Coordinator) advancePhase(ctx context.Context, runID string, phase model.Phase, warmupEnd time.Time) error {
	data, err := json.Marshal(model.SetPhaseData{Phase: phase})
	if err != nil {
		return err
	}
	if err := c.issueEvent(ctx, &model.ControlEvent{
		EventID:   model.NewEventID(),
		RunID:     runID,
		EventType: model.EventSetPhase,
		EventData: data,
	}); err != nil {
		return err
	}
	_, err = transition(ctx, c.Store, runID, model.StatusRunning, func(r *model.Run) {
		r.Phase = phase
		if phase == model.PhaseMeasurement {
			we := warmupEnd
			r.WarmupEndTime = &we
		}
	})
	return err
}

func (c *Coordinator) runLoadMode(ctx context.Context, runID string, sc *scenario.Scenario) error {
	switch sc.LoadMode {
	case model.LoadModeFixedConcurrency:
		return runFixed(ctx, c.issueEvent, runID, sc.TargetConcurrency)

	case model.LoadModeTargetQPS:
		interval := c.Cfg.TargetQPSInterval
		if interval <= 0 {
			interval = 5 * time.Second
		}
		maxStep := c.Cfg.TargetQPSMaxStep
		if maxStep <= 0 {
			maxStep = 4
		}
		return runTargetQPS(ctx, c.issueEvent, c.Source, runID, sc.TargetQPS, interval, maxStep, 1)

	case model.LoadModeFindMaxConcurrency:
		report, err := runFindMax(ctx, c.issueEvent, c.Store, c.Source, runID, *sc.FindMax)
		if err != nil {
			return err
		}
		_, err = transition(ctx, c.Store, runID, model.StatusRunning, func(r *model.Run) {
			r.FindMax = &model.FindMaxState{
				CurrentStep:           len(report.Steps),
				CurrentTarget:         sc.FindMax.Start,
				BestStableConcurrency: report.BestStableConcurrency,
				BestStableQPS:         report.BestStableQPS,
				Done:                  true,
				StopReason:            report.DegradationReason,
			}
		})
		return err

	default:
		return nil
	}
}

// Run drives runID from PREPARED through to a terminal status, blocking
// until it gets there. It is safe to call once per run.
func (c *Coordinator) Run(ctx context.Context, runID string) error {
	run, err := c.Store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return errors.New("coordinator: run " + runID + " not found")
	}
	sc, err := scenario.Parse(run.Scenario)
	if err != nil {
		return c.fail(ctx, runID, "BAD_SCENARIO", err.Error())
	}

	ctx = obslog.WithRunID(ctx, runID)

	ok, err := c.awaitRegistration(ctx, runID, run.TotalWorkersExpected)
	if err != nil {
		return err
	}
	if !ok {
		return c.fail(ctx, runID, "REGISTRATION_TIMEOUT", "not all workers registered within registration_grace")
	}

	if _, err := transition(ctx, c.Store, runID, model.StatusRunning, nil); err != nil {
		return err
	}
	obslog.Info(ctx, c.Logger, "run transitioned to RUNNING")

	loadCtx, cancelLoad := context.WithCancel(ctx)
	loadErrCh := make(chan error, 1)
	go func() { loadErrCh <- c.runLoadMode(loadCtx, runID, sc) }()

	start := run.StartTime
	warmupEnd := start.Add(time.Duration(sc.WarmupSeconds) * time.Second)
	measurementEnd := warmupEnd.Add(time.Duration(sc.DurationSeconds) * time.Second)
	cooldownEnd := measurementEnd.Add(time.Duration(sc.CooldownSeconds) * time.Second)

	currentPhase := model.PhaseWarmup
	reason := "DURATION_ELAPSED"
	var lastSeq int64

	pollTicker := time.NewTicker(c.Cfg.PollInterval)
	defer pollTicker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			reason = "CONTEXT_CANCELLED"
			break loop

		case <-loadErrCh:
			loadErrCh = nil // load-mode driver finished; keep the phase clock running

		case <-pollTicker.C:
			events, err := c.Bus.PollEvents(ctx, runID, lastSeq)
			if err != nil {
				return err
			}
			stopRequested, abortRequested := false, false
			for _, ev := range events {
				lastSeq = ev.SequenceID
				switch ev.EventType {
				case model.EventStop:
					stopRequested = true
				case model.EventAbort:
					abortRequested = true
				}
			}
			if abortRequested {
				reason = "ABORT_REQUESTED"
				break loop
			}
			if stopRequested {
				reason = "STOP_REQUESTED"
				break loop
			}

			dead, deadAbort, err := livenessCheck(ctx, c.Store, runID, run.TotalWorkersExpected, c.Cfg.LivenessTimeout, c.Cfg.MaxDeadFraction, time.Now())
			if err != nil {
				return err
			}
			if deadAbort {
				obslog.Warn(ctx, c.Logger, "max_dead_fraction exceeded, aborting run", "dead_workers", dead)
				reason = "MAX_DEAD_FRACTION_EXCEEDED"
				break loop
			}

			c.publishLiveMetrics(ctx, runID, run.TotalWorkersExpected-dead, start)

			now := time.Now()
			switch currentPhase {
			case model.PhaseWarmup:
				if !now.Before(warmupEnd) {
					if err := c.advancePhase(ctx, runID, model.PhaseMeasurement, warmupEnd); err != nil {
						return err
					}
					currentPhase = model.PhaseMeasurement
				}
			case model.PhaseMeasurement:
				if !now.Before(measurementEnd) {
					if err := c.advancePhase(ctx, runID, model.PhaseCooldown, warmupEnd); err != nil {
						return err
					}
					currentPhase = model.PhaseCooldown
				}
			case model.PhaseCooldown:
				if !now.Before(cooldownEnd) {
					break loop
				}
			}
		}
	}
	cancelLoad()

	return c.finalize(context.WithoutCancel(ctx), runID, start, reason)
}

// publishLiveMetrics updates the optional Prometheus registry from the
// most recently closed second's aggregated Bucket, skipping entirely when
// Metrics is nil (the default for tests and for any caller that does not
// wire a registry).
func (c *Coordinator) publishLiveMetrics(ctx context.Context, runID string, workersActive int, start time.Time) {
	if c.Cfg.Metrics == nil {
		return
	}
	c.Cfg.Metrics.WorkersActive.WithLabelValues(runID).Set(float64(workersActive))

	elapsed := int64(time.Since(start).Seconds())
	if elapsed <= 0 {
		return
	}
	buckets, err := aggregator.Buckets(ctx, c.Source, runID, elapsed-1, elapsed)
	if err != nil || len(buckets) == 0 || !buckets[0].Available {
		return
	}
	c.Cfg.Metrics.CurrentQPS.WithLabelValues(runID).Set(buckets[0].QPS)
}

// finalize transitions the Run to STOPPING then to its terminal status,
// computing the close-of-run aggregate via C5 (spec §4.7 "termination:
// STOP/ABORT both converge here; compute final aggregates via C5").
func (c *Coordinator) finalize(ctx context.Context, runID string, start time.Time, reason string) error {
	status := model.StatusCompleted
	switch reason {
	case "ABORT_REQUESTED", "MAX_DEAD_FRACTION_EXCEEDED":
		status = model.StatusCancelled
	case "CONTEXT_CANCELLED":
		status = model.StatusFailed
	}

	if _, err := transition(ctx, c.Store, runID, model.StatusStopping, nil); err != nil {
		return err
	}

	toSeconds := int64(time.Since(start)/time.Second) + 1
	summary, sumErr := aggregator.RunClose(ctx, c.Source, runID, toSeconds)

	_, err := transition(ctx, c.Store, runID, status, func(r *model.Run) {
		now := time.Now()
		r.EndTime = &now
		r.ReasonCode = reason
		if sumErr == nil {
			for _, ps := range summary.Phases {
				if ps.Phase == model.PhaseMeasurement {
					r.TotalOps = ps.TotalOps
					r.CurrentQPS = ps.QPS
					r.ErrorCount = int64(ps.ErrorRate * float64(ps.TotalOps))
				}
			}
		}
	})
	return err
}

// Recover scans for runs a coordinator crash left in a non-terminal
// status. A restarted coordinator has no in-process record of that run's
// phase clock or liveness state, so rather than guess it logs the
// recovered next_sequence_id (spec §8 item 8's crash-recovery replay) and
// fails the run cleanly instead of leaving it stuck forever.
func (c *Coordinator) Recover(ctx context.Context) error {
	runs, err := c.Store.ListRuns(ctx)
	if err != nil {
		return err
	}
	for _, r := range runs {
		if r.Status.Terminal() {
			continue
		}
		obslog.Info(ctx, c.Logger, "recovering run left non-terminal by a coordinator restart",
			"run_id", r.RunID, "next_sequence_id", r.NextSequenceID, "status", r.Status)
		if err := c.fail(ctx, r.RunID, "COORDINATOR_RESTART", "coordinator restarted mid-run; run state cannot be safely resumed"); err != nil {
			return err
		}
	}
	return nil
}
