package model

import "time"

// QueryKind enumerates the operation kinds a scenario mix may draw from
// (spec §3/§6).
type QueryKind string

const (
	KindPointLookup QueryKind = "POINT_LOOKUP"
	KindRangeScan   QueryKind = "RANGE_SCAN"
	KindInsert      QueryKind = "INSERT"
	KindUpdate      QueryKind = "UPDATE"
	KindDelete      QueryKind = "DELETE"
	KindCustom      QueryKind = "CUSTOM"
)

// ErrorClass classifies a failed operation for the error taxonomy (spec §7).
type ErrorClass string

const (
	ErrorClassNone      ErrorClass = ""
	ErrorClassTransport ErrorClass = "TRANSPORT"
	ErrorClassQuery     ErrorClass = "QUERY"
	ErrorClassCancelled ErrorClass = "CANCELLED"
)

// QueryExecution is an append-only per-operation record (spec §3).
type QueryExecution struct {
	RunID    string `json:"run_id"`
	WorkerID string `json:"worker_id"`

	QueryKind QueryKind `json:"query_kind"`

	StartTime time.Time `json:"start_time"`
	ElapsedMs float64   `json:"elapsed_ms"`
	Success   bool      `json:"success"`

	// Warmup is true iff the phase observed at StartTime was WARMUP
	// (spec §4.3 step 2, §8 item 2; the fixed rule per SPEC_FULL §13).
	Warmup bool `json:"warmup"`

	RowsReturned *int64      `json:"rows_returned,omitempty"`
	ErrorClass   ErrorClass `json:"error_class,omitempty"`
}
