package worker

import (
	"sync"

	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/percentile"
)

// window accumulates completed-operation samples for the current
// measurement interval so the worker can compute and publish one
// MetricSnapshot per second (spec §4.3 step 6).
type window struct {
	mu        sync.Mutex
	latencies []float64
	opCounts  map[model.QueryKind]int64
	errors    int64
	total     int64
}

func newWindow() *window {
	return &window{opCounts: map[model.QueryKind]int64{}}
}

func (w *window) record(elapsedMs float64, success bool, kind model.QueryKind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.latencies = append(w.latencies, elapsedMs)
	w.opCounts[kind]++
	w.total++
	if !success {
		w.errors++
	}
}

// windowResult holds the percentiles/counts snapshotAndReset computes for
// one interval before it resets the window for the next one.
type windowResult struct {
	QPS      float64
	P50, P95, P99 float64
	OpCounts map[model.QueryKind]int64
	Errors   int64
	Total    int64
}

func (w *window) snapshotAndReset(intervalSeconds float64) windowResult {
	w.mu.Lock()
	latencies := w.latencies
	opCounts := w.opCounts
	errors := w.errors
	total := w.total
	w.latencies = nil
	w.opCounts = map[model.QueryKind]int64{}
	w.errors = 0
	w.total = 0
	w.mu.Unlock()

	if total == 0 {
		return windowResult{OpCounts: map[model.QueryKind]int64{}}
	}

	qps := float64(total) / intervalSeconds
	return windowResult{
		QPS:      qps,
		P50:      percentile.Compute(latencies, 50),
		P95:      percentile.Compute(latencies, 95),
		P99:      percentile.Compute(latencies, 99),
		OpCounts: opCounts,
		Errors:   errors,
		Total:    total,
	}
}
