package model

import "time"

// WorkerStatus is the worker-reported liveness state (spec §3/§4.3).
type WorkerStatus string

const (
	WorkerStarting WorkerStatus = "STARTING"
	WorkerWaiting  WorkerStatus = "WAITING"
	WorkerRunning  WorkerStatus = "RUNNING"
	WorkerDraining WorkerStatus = "DRAINING"
	WorkerCompleted WorkerStatus = "COMPLETED"
	WorkerDead     WorkerStatus = "DEAD"
)

// ResourceReading is an optional host-resource sample a worker may attach
// to its heartbeat (spec §3: "optional resource readings").
type ResourceReading struct {
	CPUPercent    float64 `json:"cpu_percent,omitempty"`
	MemoryRSSByte int64   `json:"memory_rss_bytes,omitempty"`
}

// WorkerHeartbeat is the single-writer, upsert-by-key liveness+metrics
// record a worker owns exclusively (spec §3, §4.4).
type WorkerHeartbeat struct {
	RunID    string       `json:"run_id"`
	WorkerID string       `json:"worker_id"`

	Status WorkerStatus `json:"status"`
	Phase  Phase        `json:"phase"`

	LastHeartbeat  time.Time `json:"last_heartbeat"`
	HeartbeatCount int64     `json:"heartbeat_count"`

	ActiveConnections int `json:"active_connections"`
	TargetConnections int `json:"target_connections"`

	QueriesProcessed int64  `json:"queries_processed"`
	ErrorCount       int64  `json:"error_count"`
	LastError        string `json:"last_error,omitempty"`

	Resource *ResourceReading `json:"resource,omitempty"`
}

// Key returns the (run_id, worker_id) identity tuple heartbeats are keyed by.
func (h WorkerHeartbeat) Key() (runID, workerID string) {
	return h.RunID, h.WorkerID
}
