package httpapi_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/benchctl/benchctl/internal/bus"
	"github.com/benchctl/benchctl/internal/bus/httpapi"
	"github.com/benchctl/benchctl/internal/bus/httpclient"
	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/store/memstore"
)

func TestServer_HeartbeatAndPollRoundTrip(t *testing.T) {
	st := memstore.New()
	srv := httpapi.NewServer(bus.Local(st), nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	client := httpclient.New(ts.URL)

	run := &model.Run{RunID: "run-1", Status: model.StatusRunning, Phase: model.PhaseWarmup, StartTime: time.Now()}
	require.NoError(t, st.CreateRun(t.Context(), run))

	hb := &model.WorkerHeartbeat{RunID: "run-1", WorkerID: "w1", Status: model.WorkerRunning, Phase: model.PhaseWarmup, LastHeartbeat: time.Now()}
	require.NoError(t, client.Heartbeat(t.Context(), hb))

	got, err := st.GetHeartbeat(t.Context(), "run-1", "w1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, model.WorkerRunning, got.Status)

	ev := &model.ControlEvent{EventID: "e1", RunID: "run-1", EventType: model.EventSetPhase, EventData: []byte(`{"phase":"MEASUREMENT"}`)}
	require.NoError(t, st.AppendControlEvent(t.Context(), ev))

	events, err := client.PollEvents(t.Context(), "run-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "e1", events[0].EventID)
}

func TestServer_ReportMetricSnapshotAndQueryExecutions(t *testing.T) {
	st := memstore.New()
	srv := httpapi.NewServer(bus.Local(st), nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	client := httpclient.New(ts.URL)

	run := &model.Run{RunID: "run-2", Status: model.StatusRunning, Phase: model.PhaseMeasurement, StartTime: time.Now()}
	require.NoError(t, st.CreateRun(t.Context(), run))

	snap := &model.MetricSnapshot{RunID: "run-2", WorkerID: "w1", ElapsedSeconds: 1, Phase: model.PhaseMeasurement, QPS: 42}
	require.NoError(t, client.ReportMetricSnapshot(t.Context(), snap))

	snaps, err := st.ListMetricSnapshots(t.Context(), "run-2", 0, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.InDelta(t, 42, snaps[0].QPS, 0.001)

	execs := []*model.QueryExecution{{RunID: "run-2", WorkerID: "w1", QueryKind: model.KindPointLookup, StartTime: time.Now(), Success: true}}
	require.NoError(t, client.ReportQueryExecutions(t.Context(), execs))

	n, err := st.CountQueryExecutions(t.Context(), "run-2")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestClient_PollEvents_UnknownRunReturnsEmpty(t *testing.T) {
	st := memstore.New()
	srv := httpapi.NewServer(bus.Local(st), nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	client := httpclient.New(ts.URL)
	events, err := client.PollEvents(t.Context(), "does-not-exist", 0)
	require.NoError(t, err)
	require.Empty(t, events)
}
