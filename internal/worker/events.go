package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/benchctl/benchctl/internal/model"
	logpkg "github.com/benchctl/benchctl/internal/obs/log"
)

type stopOutcome int

const (
	stopOutcomeNone stopOutcome = iota
	stopOutcomeStop
	stopOutcomeAbort
)

// pollEvents fetches and applies control events since the worker's last
// processed sequence_id, in order (spec §5 "Control events on a single run
// are totally ordered by sequence_id; workers MUST process them in that
// order"). Applying the same event twice is a no-op by construction: each
// handler is idempotent in the state it sets (spec §4.4). ctx is used for
// the bus call; execCtx is the cancellable context newly spawned executors
// run under, so a later abort() reaches executors opened after startup.
func (w *Worker) pollEvents(ctx, execCtx context.Context) stopOutcome {
	events, err := w.cfg.Bus.PollEvents(ctx, w.cfg.RunID, w.lastSeq.Load())
	if err != nil {
		logpkg.Warn(ctx, w.log, "control event poll failed", "error", err)
		return stopOutcomeNone
	}

	outcome := stopOutcomeNone
	for _, ev := range events {
		if ev.SequenceID <= w.lastSeq.Load() {
			continue
		}
		switch ev.EventType {
		case model.EventSetPhase:
			var data model.SetPhaseData
			if err := json.Unmarshal(ev.EventData, &data); err == nil {
				w.phase.Store(data.Phase)
			}
		case model.EventSetTargetConcurrency:
			var data model.SetTargetConcurrencyData
			if err := json.Unmarshal(ev.EventData, &data); err == nil {
				if data.WorkerID == "" || data.WorkerID == w.cfg.WorkerID {
					w.target.Store(int32(data.TargetConnections))
				}
			}
		case model.EventPause:
			w.target.Store(0)
		case model.EventResume:
			// Resume restores the most recently commanded target; since we
			// overwrite target on PAUSE, a RESUME following a PAUSE with no
			// intervening SET_TARGET_CONCURRENCY has no prior value to
			// restore to other than what the coordinator resends, matching
			// the bus's at-least-once model (the coordinator is expected
			// to re-issue SET_TARGET_CONCURRENCY after RESUME).
		case model.EventStop:
			outcome = stopOutcomeStop
		case model.EventAbort:
			outcome = stopOutcomeAbort
		}
		w.lastSeq.Store(ev.SequenceID)
	}

	if outcome == stopOutcomeStop {
		w.draining.Store(true)
		w.setStatus(model.WorkerDraining)
		w.target.Store(0)
	}
	if outcome == stopOutcomeAbort {
		w.aborted.Store(true)
		w.draining.Store(true)
		w.setStatus(model.WorkerDraining)
	}

	w.reconcileExecutors(execCtx)
	return outcome
}

// reconcileExecutors brings the live executor count to match w.target.
// Raising the target opens new connections immediately (spec §4.3 step 3:
// "new connections join the pool and begin executing immediately").
// Lowering it marks the excess executors draining; each finishes its
// current operation, then releases its connection.
func (w *Worker) reconcileExecutors(ctx context.Context) {
	w.execMu.Lock()
	defer w.execMu.Unlock()

	target := int(w.target.Load())
	current := len(w.executors)

	if target > current {
		for i := 0; i < target-current; i++ {
			id := w.nextExecID
			w.nextExecID++
			ex := &executor{id: id, drainCh: make(chan struct{})}
			w.executors[id] = ex
			w.execWG.Add(1)
			go w.runExecutor(ctx, ex)
		}
		return
	}

	if target < current {
		toDrain := current - target
		for id, ex := range w.executors {
			if toDrain == 0 {
				break
			}
			select {
			case <-ex.drainCh:
				// already draining
			default:
				close(ex.drainCh)
			}
			toDrain--
			_ = id
		}
	}
}

// abort stops new operations on every executor, waits up to abort_grace for
// in-flight operations to return, then cancels the executor context so any
// adapter operation still running is cancelled and its connection closed
// (spec §4.3 step 7). In-flight operations are not cancelled before
// abort_grace elapses.
func (w *Worker) abort(ctx context.Context, cancelExec context.CancelFunc) {
	w.aborted.Store(true)
	w.draining.Store(true)
	w.setStatus(model.WorkerDraining)
	w.target.Store(0)

	w.execMu.Lock()
	for _, ex := range w.executors {
		select {
		case <-ex.drainCh:
		default:
			close(ex.drainCh)
		}
	}
	w.execMu.Unlock()

	done := make(chan struct{})
	go func() {
		w.execWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.cfg.AbortGrace):
		cancelExec()
		<-done
	}
}
