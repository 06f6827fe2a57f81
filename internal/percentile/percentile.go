// Package percentile implements the numeric semantics of spec §4.5:
// percentiles via sorted sample when the sample is small, and a
// fixed-bucket histogram approximation once a window holds more than 100k
// samples. The histogram's error is bounded in absolute terms only (see
// Bucketed); its relative error is not bounded.
package percentile

import "sort"

// SortedSampleLimit is the sample-count threshold past which Compute
// switches from an exact sorted-sample percentile to the bucketed
// approximation (spec §4.5).
const SortedSampleLimit = 100_000

// Compute returns the p-th percentile (0 < p <= 100) of samples in
// milliseconds. samples is not mutated. Returns 0 for an empty slice;
// callers must check length themselves to distinguish "no data" from a
// genuine zero latency (spec §4.5: "empty window returns available=false
// rather than zeros").
func Compute(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	if len(samples) <= SortedSampleLimit {
		return sortedPercentile(samples, p)
	}
	return Histogram(samples).Percentile(p)
}

func sortedPercentile(samples []float64, p float64) float64 {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	idx := int(p/100*float64(len(sorted)-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Bucketed is a histogram approximation with bucketCount equal-width
// (linear) buckets spanning [min, max]. Percentile returns a bucket
// midpoint, so its error is at most half a bucket width, (max-min)/256.
// The relative error is not bounded: it grows for values near min when the
// range is wide.
type Bucketed struct {
	min, max float64
	counts   []int64
	total    int64
	width    float64
}

const bucketCount = 128

// Histogram builds a Bucketed approximation over samples. Used by Compute
// once a window exceeds SortedSampleLimit, so memory stays O(bucketCount)
// instead of O(len(samples)).
func Histogram(samples []float64) *Bucketed {
	h := &Bucketed{counts: make([]int64, bucketCount)}
	if len(samples) == 0 {
		return h
	}
	h.min, h.max = samples[0], samples[0]
	for _, s := range samples {
		if s < h.min {
			h.min = s
		}
		if s > h.max {
			h.max = s
		}
	}
	span := h.max - h.min
	if span <= 0 {
		span = 1
	}
	h.width = span / float64(bucketCount)
	for _, s := range samples {
		b := int((s - h.min) / h.width)
		if b >= bucketCount {
			b = bucketCount - 1
		}
		if b < 0 {
			b = 0
		}
		h.counts[b]++
		h.total++
	}
	return h
}

// Percentile returns the approximate p-th percentile from the histogram,
// taking the midpoint of the bucket containing the target rank.
func (h *Bucketed) Percentile(p float64) float64 {
	if h.total == 0 {
		return 0
	}
	target := int64(p / 100 * float64(h.total-1))
	var cum int64
	for i, c := range h.counts {
		cum += c
		if cum > target {
			return h.min + (float64(i)+0.5)*h.width
		}
	}
	return h.max
}
