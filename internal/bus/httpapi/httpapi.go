// Package httpapi exposes internal/bus.Bus over HTTP+JSON using
// github.com/go-chi/chi/v5, mirroring the route-group/middleware shape
// dagu's own internal/agent API server uses. Workers on remote hosts poll
// this server; httpclient is the resty-based client counterpart.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/benchctl/benchctl/internal/bus"
	"github.com/benchctl/benchctl/internal/model"
)

// Server adapts a bus.Bus to an HTTP handler.
type Server struct {
	bus    bus.Bus
	logger *slog.Logger
}

// NewServer constructs a Server delegating to b.
func NewServer(b bus.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{bus: b, logger: logger}
}

// Router builds the chi.Router exposing the bus endpoints under
// /api/v1/runs/{runID}/...
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api/v1/runs/{runID}", func(r chi.Router) {
		r.Put("/heartbeat", s.handleHeartbeat)
		r.Get("/events", s.handlePollEvents)
		r.Post("/query-executions", s.handleReportQueryExecutions)
		r.Post("/metrics", s.handleReportMetricSnapshot)
	})
	return r
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	var hb model.WorkerHeartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	hb.RunID = runID

	if err := s.bus.Heartbeat(r.Context(), &hb); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePollEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	after, err := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	if err != nil {
		after = 0
	}

	events, err := s.bus.PollEvents(r.Context(), runID, after)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleReportQueryExecutions(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	var execs []*model.QueryExecution
	if err := json.NewDecoder(r.Body).Decode(&execs); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	for _, e := range execs {
		e.RunID = runID
	}

	if err := s.bus.ReportQueryExecutions(r.Context(), execs); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReportMetricSnapshot(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	var snap model.MetricSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	snap.RunID = runID

	if err := s.bus.ReportMetricSnapshot(r.Context(), &snap); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
