// Package memstore is an in-process Store implementation for
// single-machine runs and tests, where workers and the coordinator share
// one process and do not need the HTTP-transported bus (internal/bus/httpapi).
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/store"
)

type heartbeatKey struct{ runID, workerID string }

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	runs map[string]*model.Run

	nextSeq  map[string]int64
	events   map[string][]*model.ControlEvent

	heartbeats map[heartbeatKey]*model.WorkerHeartbeat

	queryExecs map[string][]*model.QueryExecution

	snapshots map[string][]*model.MetricSnapshot

	steps map[string][]*model.StepRecord
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		runs:       map[string]*model.Run{},
		nextSeq:    map[string]int64{},
		events:     map[string][]*model.ControlEvent{},
		heartbeats: map[heartbeatKey]*model.WorkerHeartbeat{},
		queryExecs: map[string][]*model.QueryExecution{},
		snapshots:  map[string][]*model.MetricSnapshot{},
		steps:      map[string][]*model.StepRecord{},
	}
}

func (s *Store) CreateRun(ctx context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	cp.Version = 1
	s.runs[run.RunID] = &cp
	run.Version = 1
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *Store) UpdateRun(ctx context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.RunID]
	if !ok || existing.Version != run.Version {
		return store.ErrVersionConflict
	}
	cp := *run
	cp.Version = run.Version + 1
	s.runs[run.RunID] = &cp
	run.Version = cp.Version
	return nil
}

func (s *Store) ListRuns(ctx context.Context) ([]*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Run, 0, len(s.runs))
	for _, r := range s.runs {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (s *Store) AppendControlEvent(ctx context.Context, ev *model.ControlEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq[ev.RunID]++
	ev.SequenceID = s.nextSeq[ev.RunID]
	cp := *ev
	s.events[ev.RunID] = append(s.events[ev.RunID], &cp)
	return nil
}

func (s *Store) ListControlEventsSince(ctx context.Context, runID string, afterSeq int64) ([]*model.ControlEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ControlEvent
	for _, ev := range s.events[runID] {
		if ev.SequenceID > afterSeq {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) UpsertHeartbeat(ctx context.Context, hb *model.WorkerHeartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *hb
	s.heartbeats[heartbeatKey{hb.RunID, hb.WorkerID}] = &cp
	return nil
}

func (s *Store) GetHeartbeat(ctx context.Context, runID, workerID string) (*model.WorkerHeartbeat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hb, ok := s.heartbeats[heartbeatKey{runID, workerID}]
	if !ok {
		return nil, nil
	}
	cp := *hb
	return &cp, nil
}

func (s *Store) ListHeartbeats(ctx context.Context, runID string) ([]*model.WorkerHeartbeat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.WorkerHeartbeat
	for k, hb := range s.heartbeats {
		if k.runID == runID {
			cp := *hb
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) AppendQueryExecutions(ctx context.Context, rows []*model.QueryExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		cp := *r
		s.queryExecs[r.RunID] = append(s.queryExecs[r.RunID], &cp)
	}
	return nil
}

func (s *Store) CountQueryExecutions(ctx context.Context, runID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.queryExecs[runID])), nil
}

func (s *Store) AppendMetricSnapshot(ctx context.Context, snap *model.MetricSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	s.snapshots[snap.RunID] = append(s.snapshots[snap.RunID], &cp)
	return nil
}

func (s *Store) ListMetricSnapshots(ctx context.Context, runID string, fromSeconds, toSeconds int64) ([]*model.MetricSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.MetricSnapshot
	for _, snap := range s.snapshots[runID] {
		if snap.ElapsedSeconds >= fromSeconds && snap.ElapsedSeconds < toSeconds {
			cp := *snap
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) AppendStepRecord(ctx context.Context, step *model.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *step
	s.steps[step.RunID] = append(s.steps[step.RunID], &cp)
	return nil
}

func (s *Store) ListStepRecords(ctx context.Context, runID string) ([]*model.StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]*model.StepRecord(nil), s.steps[runID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)
