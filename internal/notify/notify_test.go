package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchctl/benchctl/internal/model"
)

func TestNotifier_PostsSummaryOnTerminalRun(t *testing.T) {
	received := make(chan Summary, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var s Summary
		require.NoError(t, json.NewDecoder(r.Body).Decode(&s))
		received <- s
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	run := &model.Run{
		RunID:      "run-1",
		Status:     model.StatusCompleted,
		ReasonCode: "DURATION_ELAPSED",
		TotalOps:   1000,
		ErrorCount: 2,
		CurrentQPS: 123.5,
	}

	n := New(nil)
	n.Notify(context.Background(), srv.URL, SummaryFromRun(run))

	select {
	case s := <-received:
		assert.Equal(t, "run-1", s.RunID)
		assert.Equal(t, "COMPLETED", s.Status)
		assert.Equal(t, "DURATION_ELAPSED", s.ReasonCode)
		assert.Equal(t, int64(1000), s.TotalOps)
	default:
		t.Fatal("webhook was not called")
	}
}

func TestNotifier_EmptyURLIsNoop(t *testing.T) {
	n := New(nil)
	// Must not panic or block on an empty webhook URL.
	n.Notify(context.Background(), "", Summary{RunID: "run-1"})
}

func TestNotifier_DeliveryFailureIsSwallowed(t *testing.T) {
	n := New(nil)
	// No server listening on this port; Notify must not return an error
	// (it has none to return) or panic.
	n.Notify(context.Background(), "http://127.0.0.1:1/webhook", Summary{RunID: "run-1"})
}
