package model

// MetricSnapshot is a per-worker, per-second aggregate published by a
// worker (spec §3, §4.3 step 6). Snapshots are ordered per worker by
// ElapsedSeconds; cross-worker alignment is by bucket number, not
// timestamp (spec §5).
type MetricSnapshot struct {
	RunID    string `json:"run_id"`
	WorkerID string `json:"worker_id"`

	ElapsedSeconds int64 `json:"elapsed_seconds"`
	Phase          Phase `json:"phase"`

	ActiveConnections int `json:"active_connections"`
	TargetConnections int `json:"target_connections"`

	QPS float64 `json:"qps"`

	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`

	OpCountsByKind map[QueryKind]int64 `json:"op_counts_by_kind"`
	ErrorCount     int64               `json:"error_count"`

	// QueueDepthHint is the target-side reported queue depth, when the
	// adapter can supply it (spec §4.5 "Detect queueing").
	QueueDepthHint *int64 `json:"queue_depth_hint,omitempty"`
}
