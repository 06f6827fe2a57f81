package model

// StepOutcome classifies a FIND_MAX step (spec §3/§4.6).
type StepOutcome string

const (
	OutcomeStable        StepOutcome = "STABLE"
	OutcomeDegraded      StepOutcome = "DEGRADED"
	OutcomeErrorThreshold StepOutcome = "ERROR_THRESHOLD"
)

// StepRecord is written by the FIND_MAX controller at the close of each
// step (spec §3/§4.6). Persisted via the metrics aggregator (C5).
type StepRecord struct {
	RunID       string `json:"run_id"`
	StepNumber  int    `json:"step_number"`
	TargetWorkers int  `json:"target_workers"`

	QPS   float64 `json:"qps"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`

	ErrorRate     float64 `json:"error_rate"`
	QueueDetected bool    `json:"queue_detected"`

	Outcome    StepOutcome `json:"outcome"`
	StopReason string      `json:"stop_reason,omitempty"`
}
