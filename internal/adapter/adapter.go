// Package adapter defines the Target Adapter capability set (spec §4.1,
// C1): open/execute/close plus optional cancel/server_timings. Workers
// depend only on this contract, never on target-specific features (spec
// §9 "Polymorphism over target databases").
package adapter

import (
	"context"
	"time"

	"github.com/benchctl/benchctl/internal/model"
)

// Operation is a single parameterized unit of work (spec §4.1).
type Operation struct {
	Kind        model.QueryKind
	SQLTemplate string
	Binds       []any
	ExpectsRows bool
}

// OpResult is what Execute returns for every attempt, success or failure.
// Execute must never raise on query failure; user-facing errors are
// encoded here (spec §4.1).
type OpResult struct {
	ElapsedMs    float64
	Success      bool
	RowsReturned *int64
	ErrorClass   model.ErrorClass
	Err          error // diagnostic detail only; never used for control flow
}

// Connection is an opaque handle to one open connection to the target.
type Connection interface {
	// Dead reports whether a transport-fatal condition has been observed
	// on this connection (spec §4.1: "the connection is marked dead").
	Dead() bool
}

// Adapter is the capability set every target integration implements.
// Implementations MUST be interchangeable.
type Adapter interface {
	// Open acquires a connection to the configured target. Errors are
	// always one of errs.AdapterConfigError/AdapterConnectError/AdapterAuthError.
	Open(ctx context.Context, params ConnParams) (Connection, error)

	// Execute runs a single parameterized operation and never returns an
	// error for a query-level failure; failures are encoded in OpResult.
	Execute(ctx context.Context, conn Connection, op Operation) OpResult

	// Close is a best-effort, idempotent release of conn.
	Close(conn Connection)

	// Cancellable reports whether Cancel is meaningfully implemented.
	Cancellable() bool

	// Cancel attempts to cancel an in-flight operation on conn (best effort).
	// Callers must not invoke this unless Cancellable() is true.
	Cancel(ctx context.Context, conn Connection) error

	// ServerTimingsSupported reports whether Execute populates backend-side
	// timings rather than falling back to application-side elapsed time.
	ServerTimingsSupported() bool
}

// ConnParams is the adapter-selector + connection parameters from a
// scenario's `target` field (spec §6).
type ConnParams struct {
	DSN    string
	Params map[string]string
}

// now is overridable in tests that need deterministic elapsed times.
var now = time.Now

// elapsedSince returns the milliseconds elapsed since start using the
// package's clock source.
func elapsedSince(start time.Time) float64 {
	return float64(now().Sub(start).Microseconds()) / 1000.0
}
