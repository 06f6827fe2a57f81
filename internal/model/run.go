package model

import "time"

// RunStatus is the terminal/non-terminal state of a Run, per spec §3/§4.7.
type RunStatus string

const (
	StatusPrepared  RunStatus = "PREPARED"
	StatusRunning   RunStatus = "RUNNING"
	StatusStopping  RunStatus = "STOPPING"
	StatusCompleted RunStatus = "COMPLETED"
	StatusFailed    RunStatus = "FAILED"
	StatusCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether the status is one a Run never leaves.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Phase is the position within RUNNING, ordered WARMUP -> MEASUREMENT -> COOLDOWN.
type Phase string

const (
	PhaseWarmup      Phase = "WARMUP"
	PhaseMeasurement Phase = "MEASUREMENT"
	PhaseCooldown    Phase = "COOLDOWN"
)

// phaseOrder gives the monotonic ordinal of a phase so transitions can be
// checked for monotonicity (spec §3 invariant: phase is monotonic within a run).
var phaseOrder = map[Phase]int{
	PhaseWarmup:      0,
	PhaseMeasurement: 1,
	PhaseCooldown:    2,
}

// CanAdvance reports whether moving from `from` to `to` respects monotonic
// phase ordering.
func CanAdvance(from, to Phase) bool {
	return phaseOrder[to] >= phaseOrder[from]
}

// LoadMode selects how the worker's target_connections is driven (spec §4.3/§6).
type LoadMode string

const (
	LoadModeFixedConcurrency  LoadMode = "FIXED_CONCURRENCY"
	LoadModeTargetQPS         LoadMode = "TARGET_QPS"
	LoadModeFindMaxConcurrency LoadMode = "FIND_MAX_CONCURRENCY"
)

// FindMaxState captures the live state of a FIND_MAX run, mirrored onto
// the Run row (spec §3). A restarted coordinator does not resume from it.
type FindMaxState struct {
	CurrentStep       int     `json:"current_step"`
	CurrentTarget     int     `json:"current_target"`
	BestStableConcurrency int `json:"best_stable_concurrency"`
	BestStableQPS     float64 `json:"best_stable_qps"`
	BaselineP95Ms     float64 `json:"baseline_p95_ms"`
	Done              bool    `json:"done"`
	StopReason        string  `json:"stop_reason,omitempty"`
}

// Run is the parent record of a benchmark execution (spec §3).
type Run struct {
	RunID    string    `json:"run_id"`
	Scenario []byte    `json:"scenario"` // immutable snapshot, stored verbatim (YAML or JSON bytes)

	Status RunStatus `json:"status"`
	Phase  Phase     `json:"phase"`

	StartTime     time.Time  `json:"start_time"`
	WarmupEndTime *time.Time `json:"warmup_end_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`

	TotalWorkersExpected int `json:"total_workers_expected"`
	WorkersRegistered    int `json:"workers_registered"`
	WorkersActive        int `json:"workers_active"`
	WorkersCompleted     int `json:"workers_completed"`

	TotalOps    int64   `json:"total_ops"`
	ErrorCount  int64   `json:"error_count"`
	CurrentQPS  float64 `json:"current_qps"`

	FindMax *FindMaxState `json:"find_max,omitempty"`

	NextSequenceID int64 `json:"next_sequence_id"`

	ReasonCode    string `json:"reason_code,omitempty"`
	ReasonMessage string `json:"reason_message,omitempty"`

	// Version is an optimistic-concurrency token: the coordinator is the
	// sole writer, but the store uses it to detect a stale read-modify-write.
	Version int64 `json:"version"`
}

// runTransitions enumerates the legal edges of the status state machine
// (spec §4.7). The coordinator is the only writer and must consult this
// before mutating Status.
var runTransitions = map[RunStatus][]RunStatus{
	StatusPrepared:  {StatusRunning, StatusFailed},
	StatusRunning:   {StatusStopping, StatusFailed, StatusCancelled},
	StatusStopping:  {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// CanTransition reports whether moving the Run from `from` to `to` is a
// legal edge of the state machine in spec §4.7.
func CanTransition(from, to RunStatus) bool {
	if from == to {
		return true
	}
	for _, next := range runTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
