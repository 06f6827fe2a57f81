package adapter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benchctl/benchctl/internal/model"
)

// MockConn is the Connection implementation for Mock.
type MockConn struct {
	dead atomic.Bool
}

func (c *MockConn) Dead() bool { return c.dead.Load() }

// Mock is a deterministic in-process Adapter used by tests and by the
// FIND_MAX controller's own test suite to model a system with a known
// scaling curve (spec §8 scenario S4: "QPS(c)=min(c·50, 800)"). It never
// touches a network or a real database.
type Mock struct {
	// ElapsedMs is the fixed per-operation latency when QPSCurve is nil
	// (models scenario S1/S2: "Adapter returns elapsed_ms=10 deterministically").
	ElapsedMs float64

	// activeConnections, when set by the caller via SetActiveConnections,
	// is consulted by QPSCurve to model concurrency-dependent latency (S4's
	// "linear scaling up to 16 then flat" system). The worker package does
	// not call SetActiveConnections.
	activeConnections atomic.Int64

	// QPSCurve maps a concurrency level to an achievable aggregate QPS.
	// When non-nil, Execute derives a per-operation latency of
	// concurrency / qps(concurrency) seconds, so a worker driving
	// `concurrency` in-flight operations converges to that aggregate rate.
	QPSCurve func(concurrency int) float64

	// FailureRate is the fraction of operations (0..1) that return a
	// QUERY-class failure instead of succeeding.
	FailureRate float64

	opCounter atomic.Int64
}

func (m *Mock) SetActiveConnections(n int) { m.activeConnections.Store(int64(n)) }

func (m *Mock) Open(ctx context.Context, params ConnParams) (Connection, error) {
	return &MockConn{}, nil
}

func (m *Mock) Execute(ctx context.Context, conn Connection, op Operation) OpResult {
	n := m.opCounter.Add(1)

	delay := time.Duration(m.ElapsedMs * float64(time.Millisecond))
	if m.QPSCurve != nil {
		concurrency := int(m.activeConnections.Load())
		if concurrency < 1 {
			concurrency = 1
		}
		qps := m.QPSCurve(concurrency)
		if qps <= 0 {
			qps = 1
		}
		delay = time.Duration(float64(concurrency) / qps * float64(time.Second))
	}

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return OpResult{Success: false, ErrorClass: model.ErrorClassCancelled, Err: ctx.Err()}
	}

	if m.FailureRate > 0 && float64(n%1000)/1000.0 < m.FailureRate {
		return OpResult{ElapsedMs: delay.Seconds() * 1000, Success: false, ErrorClass: model.ErrorClassQuery}
	}
	var rows int64 = 1
	return OpResult{ElapsedMs: delay.Seconds() * 1000, Success: true, RowsReturned: &rows}
}

func (m *Mock) Close(conn Connection) {}

func (m *Mock) Cancellable() bool { return true }

func (m *Mock) Cancel(ctx context.Context, conn Connection) error { return nil }

func (m *Mock) ServerTimingsSupported() bool { return false }
