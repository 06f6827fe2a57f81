package valuepool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeterministic_InsertionOrderAndWraparound(t *testing.T) {
	p := NewDeterministic([][]any{{1}, {2}, {3}})
	require.Equal(t, []any{1}, p.Next())
	require.Equal(t, []any{2}, p.Next())
	require.Equal(t, []any{3}, p.Next())
	require.Equal(t, []any{1}, p.Next()) // wraps
	require.Equal(t, 3, p.Size())
}

func TestDeterministic_ConcurrentNextNeverPanics(t *testing.T) {
	p := NewDeterministic([][]any{{1}, {2}, {3}, {4}, {5}})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v := p.Next()
				require.Len(t, v, 1)
			}
		}()
	}
	wg.Wait()
}

func TestSampled_DrawsFromValues(t *testing.T) {
	p := NewSampled([][]any{{1}, {2}, {3}}, 42)
	seen := map[any]bool{}
	for i := 0; i < 100; i++ {
		v := p.Next()
		require.Len(t, v, 1)
		seen[v[0]] = true
	}
	require.Equal(t, -1, p.Size())
	require.NotEmpty(t, seen)
}

func TestComputed_MonotonicIndex(t *testing.T) {
	p := NewComputed(func(n uint64) []any { return []any{n} })
	require.Equal(t, []any{uint64(0)}, p.Next())
	require.Equal(t, []any{uint64(1)}, p.Next())
	require.Equal(t, -1, p.Size())
}
