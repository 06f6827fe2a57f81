package worker

import (
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/benchctl/benchctl/internal/model"
)

// mixSampler draws an operation kind for each new operation according to
// the scenario's configured percentage distribution (spec §4.3 step 4).
// New always uses independent Bernoulli draws per operation (bernoulliMix).
// newQuotaMix builds a permuted exact-count schedule, but no scenario
// setting selects it and New never constructs one.
type mixSampler interface {
	Next() model.QueryKind
}

// bernoulliMix draws independently per call: cumulative-weight binary
// search over a fixed random draw, matching spec's "independent per
// operation (Bernoulli trials)".
type bernoulliMix struct {
	kinds    []model.QueryKind
	cumPct   []float64 // cumulative, sums to 100 at the last entry
	rngPool  sync.Pool
}

// newBernoulliMix builds a sampler over mix (kind -> percent), skipping
// zero-weight kinds entirely ("kinds with 0% weight never run").
func newBernoulliMix(mix map[model.QueryKind]float64, seed int64) *bernoulliMix {
	kinds := make([]model.QueryKind, 0, len(mix))
	for k, pct := range mix {
		if pct > 0 {
			kinds = append(kinds, k)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	cum := make([]float64, len(kinds))
	var running float64
	for i, k := range kinds {
		running += mix[k]
		cum[i] = running
	}

	var counter atomic.Int64
	return &bernoulliMix{
		kinds:  kinds,
		cumPct: cum,
		rngPool: sync.Pool{
			New: func() any {
				n := counter.Add(1)
				return rand.New(rand.NewSource(seed + n))
			},
		},
	}
}

func (m *bernoulliMix) Next() model.QueryKind {
	if len(m.kinds) == 0 {
		return ""
	}
	r := m.rngPool.Get().(*rand.Rand)
	draw := r.Float64() * 100
	m.rngPool.Put(r)

	i := sort.SearchFloat64s(m.cumPct, draw)
	if i >= len(m.kinds) {
		i = len(m.kinds) - 1
	}
	return m.kinds[i]
}

// quotaMix draws from a pre-permuted schedule of exact kind counts sized to
// an expected total operation count (spec §4.3 step 4). The Scenario type
// has no field that requests it; see mixSampler.
type quotaMix struct {
	schedule []model.QueryKind
	cursor   atomic.Uint64
}

// newQuotaMix builds a schedule of length total distributed across mix's
// kinds in proportion to their percentage, then shuffles it once.
func newQuotaMix(mix map[model.QueryKind]float64, total int, seed int64) *quotaMix {
	kinds := make([]model.QueryKind, 0, len(mix))
	for k, pct := range mix {
		if pct > 0 {
			kinds = append(kinds, k)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	schedule := make([]model.QueryKind, 0, total)
	assigned := 0
	for i, k := range kinds {
		var count int
		if i == len(kinds)-1 {
			count = total - assigned
		} else {
			count = int(mix[k] / 100 * float64(total))
			assigned += count
		}
		for j := 0; j < count; j++ {
			schedule = append(schedule, k)
		}
	}

	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(schedule), func(i, j int) { schedule[i], schedule[j] = schedule[j], schedule[i] })

	return &quotaMix{schedule: schedule}
}

func (m *quotaMix) Next() model.QueryKind {
	if len(m.schedule) == 0 {
		return ""
	}
	i := m.cursor.Add(1) - 1
	return m.schedule[i%uint64(len(m.schedule))]
}
