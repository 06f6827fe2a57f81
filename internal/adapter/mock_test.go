package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/benchctl/benchctl/internal/model"
)

func TestMock_DeterministicElapsed(t *testing.T) {
	m := &Mock{ElapsedMs: 10}
	conn, err := m.Open(context.Background(), ConnParams{})
	require.NoError(t, err)

	res := m.Execute(context.Background(), conn, Operation{})
	require.True(t, res.Success)
	require.InDelta(t, 10, res.ElapsedMs, 5)
}

func TestMock_FailureRate(t *testing.T) {
	m := &Mock{ElapsedMs: 1, FailureRate: 1.0}
	conn, err := m.Open(context.Background(), ConnParams{})
	require.NoError(t, err)

	res := m.Execute(context.Background(), conn, Operation{})
	require.False(t, res.Success)
}

func TestMock_CancellationReportsCancelledClass(t *testing.T) {
	m := &Mock{ElapsedMs: 1000}
	conn, err := m.Open(context.Background(), ConnParams{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := m.Execute(ctx, conn, Operation{})
	require.False(t, res.Success)
	require.Equal(t, model.ErrorClassCancelled, res.ErrorClass)
}

func TestRegistry_UnknownAdapterIsConfigError(t *testing.T) {
	_, err := New("does-not-exist")
	require.Error(t, err)
}

func TestRegistry_SqliteMysqlPostgresRegistered(t *testing.T) {
	for _, name := range []string{"sqlite", "mysql", "postgres"} {
		a, err := New(name)
		require.NoError(t, err)
		require.NotNil(t, a)
	}
}
