// Package valuepool implements the Value Pool (spec §4.2, C2): a lazy
// sequence of candidate bind sets, materialized once per run and shared
// read-only across workers. Concurrent Next calls are lock-free on the
// common path (spec: "must not block in the common path").
package valuepool

import (
	"math/rand"
	"sync/atomic"
)

// Pool supplies bind values for parameterized operations.
type Pool interface {
	// Next returns the next bind tuple. Safe for concurrent use.
	Next() []any

	// Size returns the number of distinct values, or -1 for unbounded /
	// computed pools (spec §4.2).
	Size() int
}

// Deterministic iterates a fixed slice of bind tuples in insertion order
// using a lock-free atomic cursor, wrapping around once exhausted so a
// long-running measurement phase never runs dry.
type Deterministic struct {
	values []([]any)
	cursor atomic.Uint64
}

// NewDeterministic builds a Deterministic pool over values. values must be
// non-empty.
func NewDeterministic(values [][]any) *Deterministic {
	return &Deterministic{values: values}
}

func (p *Deterministic) Next() []any {
	if len(p.values) == 0 {
		return nil
	}
	i := p.cursor.Add(1) - 1
	return p.values[i%uint64(len(p.values))]
}

func (p *Deterministic) Size() int { return len(p.values) }

// Sampled draws uniformly with replacement from a fixed slice of candidate
// bind tuples, for randomized mixes (spec §4.2).
type Sampled struct {
	values [][]any
	rngFor func() *rand.Rand
}

// NewSampled builds a Sampled pool. Each call to Next uses a per-call
// rand.Rand seeded from the call counter so concurrent draws never contend
// on a shared lock (math/rand.Rand itself is not goroutine-safe).
func NewSampled(values [][]any, seed int64) *Sampled {
	var counter atomic.Uint64
	return &Sampled{
		values: values,
		rngFor: func() *rand.Rand {
			// splitmix64 mix of seed and call counter: a fresh, independent
			// source per call with no shared mutable state between goroutines.
			n := counter.Add(1)
			z := uint64(seed) + n*0x9E3779B97F4A7C15
			z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
			z = (z ^ (z >> 27)) * 0x94D049BB133111EB
			z = z ^ (z >> 31)
			return rand.New(rand.NewSource(int64(z)))
		},
	}
}

func (p *Sampled) Next() []any {
	if len(p.values) == 0 {
		return nil
	}
	r := p.rngFor()
	return p.values[r.Intn(len(p.values))]
}

func (p *Sampled) Size() int { return -1 }

// Computed wraps a generator function for pools whose values are derived
// rather than enumerated (e.g. monotonically increasing synthetic keys for
// INSERT operations). Size is always -1.
type Computed struct {
	gen func(n uint64) []any
	n   atomic.Uint64
}

// NewComputed builds a Computed pool from a generator invoked with a
// monotonically increasing, per-call index starting at 0.
func NewComputed(gen func(n uint64) []any) *Computed {
	return &Computed{gen: gen}
}

func (p *Computed) Next() []any {
	n := p.n.Add(1) - 1
	return p.gen(n)
}

func (p *Computed) Size() int { return -1 }
