package aggregator

import (
	"context"

	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/percentile"
)

// PhaseSummary is one phase's entry in the run-close report (spec §4.5
// "Compute per-phase and per-kind summaries at run close").
type PhaseSummary struct {
	Phase model.Phase

	DurationSeconds int64
	TotalOps        int64
	QPS             float64

	P50Ms float64
	P90Ms float64
	P95Ms float64
	P99Ms float64

	ReadOps  int64
	WriteOps int64

	ErrorRate float64

	OpCountsByKind map[model.QueryKind]int64
}

// RunSummary is the full final-aggregate report written when a Run
// reaches a terminal status (spec §4.5, §4.7 "Compute final aggregates
// via C5").
type RunSummary struct {
	Phases []PhaseSummary

	// SlowestWorkerApproximation flags that every percentile above is
	// derived from per-worker-per-second p-values, not recombined from
	// raw samples (SPEC_FULL §12 supplement to spec §9's Open Question).
	SlowestWorkerApproximation bool
}

// RunClose computes the final per-phase/per-kind summary for runID,
// scanning every persisted second from 0 through toSecondsExclusive.
func RunClose(ctx context.Context, src Source, runID string, toSecondsExclusive int64) (RunSummary, error) {
	buckets, err := Buckets(ctx, src, runID, 0, toSecondsExclusive)
	if err != nil {
		return RunSummary{}, err
	}

	byPhase := map[model.Phase][]Bucket{}
	order := []model.Phase{}
	for _, b := range buckets {
		if !b.Available {
			continue
		}
		if _, ok := byPhase[b.Phase]; !ok {
			order = append(order, b.Phase)
		}
		byPhase[b.Phase] = append(byPhase[b.Phase], b)
	}

	summary := RunSummary{SlowestWorkerApproximation: true}
	for _, phase := range order {
		summary.Phases = append(summary.Phases, summarizePhase(phase, byPhase[phase]))
	}
	return summary, nil
}

func summarizePhase(phase model.Phase, buckets []Bucket) PhaseSummary {
	ps := PhaseSummary{
		Phase:           phase,
		DurationSeconds: int64(len(buckets)),
		OpCountsByKind:  map[model.QueryKind]int64{},
	}

	p50s := make([]float64, 0, len(buckets))
	p90s := make([]float64, 0, len(buckets))
	p95s := make([]float64, 0, len(buckets))
	p99s := make([]float64, 0, len(buckets))
	var errors int64
	var qpsSum float64

	for _, b := range buckets {
		ps.TotalOps += b.TotalOps
		errors += b.ErrorCount
		qpsSum += b.QPS
		p50s = append(p50s, b.P50Ms)
		p90s = append(p90s, b.P95Ms) // no native p90 snapshot field; approximate with p95 series
		p95s = append(p95s, b.P95Ms)
		p99s = append(p99s, b.P99Ms)
		for k, n := range b.OpCountsByKind {
			ps.OpCountsByKind[k] += n
			if ReadKinds(k) {
				ps.ReadOps += n
			} else {
				ps.WriteOps += n
			}
		}
	}

	if ps.DurationSeconds > 0 {
		ps.QPS = qpsSum / float64(ps.DurationSeconds)
	}
	if ps.TotalOps > 0 {
		ps.ErrorRate = float64(errors) / float64(ps.TotalOps)
	}

	ps.P50Ms = percentile.Compute(p50s, 50)
	ps.P90Ms = percentile.Compute(p90s, 90)
	ps.P95Ms = percentile.Compute(p95s, 95)
	ps.P99Ms = percentile.Compute(p99s, 99)

	return ps
}
