// Package aggregator implements the Metrics Aggregator (C5, spec §4.5):
// it merges per-worker MetricSnapshots into per-run, per-second buckets,
// serves the windowed queries the FIND_MAX controller (C6) needs, and
// computes the per-phase/per-kind summaries written at run close.
//
// Percentiles are never recombined from raw samples across workers — the
// store only persists query_executions in bulk, not by worker-second — so
// every percentile here is the slowest-worker p-value for that second
// (spec §4.5, labeled slowest_worker_approximation per SPEC_FULL §13's
// resolution of the cross-worker percentile Open Question), further
// combined via internal/percentile when a caller asks for more than one
// second at a time.
package aggregator

import (
	"context"
	"sort"

	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/percentile"
)

// Source is the narrow read surface the aggregator needs; any store.Store
// or runstore.RunStore satisfies it structurally.
type Source interface {
	ListMetricSnapshots(ctx context.Context, runID string, fromSeconds, toSeconds int64) ([]*model.MetricSnapshot, error)
}

// Bucket is the per-run, per-second aggregate of every worker's snapshot
// for that second (spec §4.5 "Merge per-worker MetricSnapshots into
// per-run, per-second series").
type Bucket struct {
	ElapsedSeconds int64
	Phase          model.Phase

	Available bool // true for every bucket Buckets returns; a second with no reporting worker is omitted rather than returned with Available=false

	QPS   float64
	P50Ms float64 // slowest_worker_approximation
	P95Ms float64 // slowest_worker_approximation
	P99Ms float64 // slowest_worker_approximation

	ActiveConnections int
	TargetConnections int

	OpCountsByKind map[model.QueryKind]int64
	ErrorCount     int64
	TotalOps       int64

	QueueDetected bool
}

// Buckets returns one Bucket per ElapsedSeconds value in [fromSeconds,
// toSeconds) that has at least one snapshot, in ascending order, merging
// every worker's snapshot for that second and detecting queueing against
// the preceding bucket (spec §4.5 "Detect queueing"). Seconds with no
// snapshot are omitted rather than returned as unavailable buckets.
func Buckets(ctx context.Context, src Source, runID string, fromSeconds, toSeconds int64) ([]Bucket, error) {
	snaps, err := src.ListMetricSnapshots(ctx, runID, fromSeconds, toSeconds)
	if err != nil {
		return nil, err
	}

	bySecond := map[int64][]*model.MetricSnapshot{}
	for _, s := range snaps {
		bySecond[s.ElapsedSeconds] = append(bySecond[s.ElapsedSeconds], s)
	}

	seconds := make([]int64, 0, len(bySecond))
	for sec := range bySecond {
		seconds = append(seconds, sec)
	}
	sort.Slice(seconds, func(i, j int) bool { return seconds[i] < seconds[j] })

	out := make([]Bucket, 0, len(seconds))
	var prev *Bucket
	for _, sec := range seconds {
		b := mergeSecond(sec, bySecond[sec])
		b.QueueDetected = detectQueue(prev, &b)
		out = append(out, b)
		prevCopy := b
		prev = &prevCopy
	}
	return out, nil
}

func mergeSecond(sec int64, snaps []*model.MetricSnapshot) Bucket {
	b := Bucket{
		ElapsedSeconds: sec,
		OpCountsByKind: map[model.QueryKind]int64{},
	}
	if len(snaps) == 0 {
		return b
	}
	b.Available = true
	b.Phase = snaps[0].Phase

	for _, s := range snaps {
		b.QPS += s.QPS
		b.ActiveConnections += s.ActiveConnections
		b.TargetConnections += s.TargetConnections
		b.ErrorCount += s.ErrorCount
		for k, n := range s.OpCountsByKind {
			b.OpCountsByKind[k] += n
			b.TotalOps += n
		}
		if s.P50Ms > b.P50Ms {
			b.P50Ms = s.P50Ms
		}
		if s.P95Ms > b.P95Ms {
			b.P95Ms = s.P95Ms
		}
		if s.P99Ms > b.P99Ms {
			b.P99Ms = s.P99Ms
		}
		if s.QueueDepthHint != nil && *s.QueueDepthHint > 0 {
			b.QueueDetected = true
		}
	}
	return b
}

// detectQueue implements spec §4.5's second clause: "QPS stalled (< 5%
// change) while target_connections grew by >= 25%". The QueueDepthHint
// clause is already folded into b.QueueDetected by mergeSecond.
func detectQueue(prev, cur *Bucket) bool {
	if cur.QueueDetected {
		return true
	}
	if prev == nil || !prev.Available || !cur.Available {
		return cur.QueueDetected
	}
	if prev.TargetConnections <= 0 {
		return cur.QueueDetected
	}
	targetGrowth := float64(cur.TargetConnections-prev.TargetConnections) / float64(prev.TargetConnections)
	if targetGrowth < 0.25 {
		return cur.QueueDetected
	}
	if prev.QPS <= 0 {
		return cur.QueueDetected
	}
	qpsChange := (cur.QPS - prev.QPS) / prev.QPS
	if qpsChange < 0 {
		qpsChange = -qpsChange
	}
	return qpsChange < 0.05
}

// WindowMetrics is the aggregated view over several consecutive buckets
// C6 asks for (spec §4.5 "windowed queries for C6").
type WindowMetrics struct {
	Available bool

	QPS       float64
	P50Ms     float64
	P95Ms     float64
	P99Ms     float64
	ErrorRate float64

	TotalOps int64

	// QueueDetected is true when more than half of the window's buckets
	// were queued (spec §4.6 step 4: "queue_detected_k is true for more
	// than half the step").
	QueueDetected bool
}

// Window aggregates metrics over [fromSeconds, toSeconds), restricted to
// phase and excluding the in-progress second (callers pass a toSeconds
// that is already exclusive of the current, not-yet-complete second).
func Window(ctx context.Context, src Source, runID string, phase model.Phase, fromSeconds, toSeconds int64) (WindowMetrics, error) {
	buckets, err := Buckets(ctx, src, runID, fromSeconds, toSeconds)
	if err != nil {
		return WindowMetrics{}, err
	}

	var filtered []Bucket
	for _, b := range buckets {
		if b.Available && (phase == "" || b.Phase == phase) {
			filtered = append(filtered, b)
		}
	}
	if len(filtered) == 0 {
		return WindowMetrics{}, nil
	}

	var wm WindowMetrics
	wm.Available = true

	p50s := make([]float64, 0, len(filtered))
	p95s := make([]float64, 0, len(filtered))
	p99s := make([]float64, 0, len(filtered))
	var errors int64
	queued := 0

	for _, b := range filtered {
		wm.QPS += b.QPS
		wm.TotalOps += b.TotalOps
		errors += b.ErrorCount
		p50s = append(p50s, b.P50Ms)
		p95s = append(p95s, b.P95Ms)
		p99s = append(p99s, b.P99Ms)
		if b.QueueDetected {
			queued++
		}
	}
	wm.QPS /= float64(len(filtered))
	wm.P50Ms = percentile.Compute(p50s, 50)
	wm.P95Ms = percentile.Compute(p95s, 95)
	wm.P99Ms = percentile.Compute(p99s, 99)
	if wm.TotalOps > 0 {
		wm.ErrorRate = float64(errors) / float64(wm.TotalOps)
	}
	wm.QueueDetected = queued*2 > len(filtered)

	return wm, nil
}

// ReadKinds classifies a QueryKind as a read for the read/write split in
// the run-close summary (spec §4.5 "read/write split").
func ReadKinds(k model.QueryKind) bool {
	switch k {
	case model.KindPointLookup, model.KindRangeScan:
		return true
	default:
		return false
	}
}
