// Package sqlstore is the durable, modernc.org/sqlite-backed implementation
// of store.Store: the default backing store for single-machine runs, and
// the persistence layer the HTTP bus (internal/bus/httpapi) sits in front
// of for distributed runs. Schema migrations are applied with
// github.com/pressly/goose/v3, the way tonimelisma-onedrive-go migrates
// its own local cache database.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/store"
	"github.com/benchctl/benchctl/internal/store/sqlstore/migrations"
)

// Store is a database/sql + modernc.org/sqlite implementation of store.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at dsn and applies
// any pending goose migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// Control-plane writes are small and infrequent relative to the
	// benchmark traffic they describe; serialize them to sidestep
	// SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, err
	}
	if err := goose.Up(db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CreateRun(ctx context.Context, run *model.Run) error {
	findMaxJSON, err := marshalOptional(run.FindMax)
	if err != nil {
		return err
	}
	run.Version = 1
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, scenario, status, phase, start_time, warmup_end_time, end_time,
			total_workers_expected, workers_registered, workers_active, workers_completed,
			total_ops, error_count, current_qps, find_max, next_sequence_id,
			reason_code, reason_message, version)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		run.RunID, run.Scenario, run.Status, run.Phase, timeToStr(run.StartTime), timePtrToStr(run.WarmupEndTime), timePtrToStr(run.EndTime),
		run.TotalWorkersExpected, run.WorkersRegistered, run.WorkersActive, run.WorkersCompleted,
		run.TotalOps, run.ErrorCount, run.CurrentQPS, findMaxJSON, run.NextSequenceID,
		run.ReasonCode, run.ReasonMessage, run.Version,
	)
	return err
}

func (s *Store) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, scenario, status, phase, start_time, warmup_end_time, end_time,
			total_workers_expected, workers_registered, workers_active, workers_completed,
			total_ops, error_count, current_qps, find_max, next_sequence_id,
			reason_code, reason_message, version
		FROM runs WHERE run_id = ?`, runID)
	return scanRun(row)
}

func (s *Store) UpdateRun(ctx context.Context, run *model.Run) error {
	findMaxJSON, err := marshalOptional(run.FindMax)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status=?, phase=?, warmup_end_time=?, end_time=?,
			workers_registered=?, workers_active=?, workers_completed=?,
			total_ops=?, error_count=?, current_qps=?, find_max=?, next_sequence_id=?,
			reason_code=?, reason_message=?, version=?
		WHERE run_id=? AND version=?`,
		run.Status, run.Phase, timePtrToStr(run.WarmupEndTime), timePtrToStr(run.EndTime),
		run.WorkersRegistered, run.WorkersActive, run.WorkersCompleted,
		run.TotalOps, run.ErrorCount, run.CurrentQPS, findMaxJSON, run.NextSequenceID,
		run.ReasonCode, run.ReasonMessage, run.Version+1,
		run.RunID, run.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrVersionConflict
	}
	run.Version++
	return nil
}

func (s *Store) ListRuns(ctx context.Context) ([]*model.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, scenario, status, phase, start_time, warmup_end_time, end_time,
			total_workers_expected, workers_registered, workers_active, workers_completed,
			total_ops, error_count, current_qps, find_max, next_sequence_id,
			reason_code, reason_message, version
		FROM runs ORDER BY start_time DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *Store) AppendControlEvent(ctx context.Context, ev *model.ControlEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT next_sequence_id FROM runs WHERE run_id = ?`, ev.RunID).Scan(&next); err != nil {
		return fmt.Errorf("read next_sequence_id: %w", err)
	}
	next++

	if _, err := tx.ExecContext(ctx, `UPDATE runs SET next_sequence_id = ? WHERE run_id = ?`, next, ev.RunID); err != nil {
		return err
	}

	ev.SequenceID = next
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO control_events (event_id, run_id, event_type, event_data, sequence_id)
		VALUES (?,?,?,?,?)`, ev.EventID, ev.RunID, ev.EventType, ev.EventData, ev.SequenceID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) ListControlEventsSince(ctx context.Context, runID string, afterSeq int64) ([]*model.ControlEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, run_id, event_type, event_data, sequence_id
		FROM control_events WHERE run_id = ? AND sequence_id > ?
		ORDER BY sequence_id ASC`, runID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.ControlEvent
	for rows.Next() {
		var ev model.ControlEvent
		if err := rows.Scan(&ev.EventID, &ev.RunID, &ev.EventType, &ev.EventData, &ev.SequenceID); err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *Store) UpsertHeartbeat(ctx context.Context, hb *model.WorkerHeartbeat) error {
	resourceJSON, err := marshalOptional(hb.Resource)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO heartbeats (run_id, worker_id, status, phase, last_heartbeat, heartbeat_count,
			active_connections, target_connections, queries_processed, error_count, last_error, resource)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(run_id, worker_id) DO UPDATE SET
			status=excluded.status, phase=excluded.phase, last_heartbeat=excluded.last_heartbeat,
			heartbeat_count=excluded.heartbeat_count, active_connections=excluded.active_connections,
			target_connections=excluded.target_connections, queries_processed=excluded.queries_processed,
			error_count=excluded.error_count, last_error=excluded.last_error, resource=excluded.resource`,
		hb.RunID, hb.WorkerID, hb.Status, hb.Phase, timeToStr(hb.LastHeartbeat), hb.HeartbeatCount,
		hb.ActiveConnections, hb.TargetConnections, hb.QueriesProcessed, hb.ErrorCount, hb.LastError, resourceJSON,
	)
	return err
}

func (s *Store) GetHeartbeat(ctx context.Context, runID, workerID string) (*model.WorkerHeartbeat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, worker_id, status, phase, last_heartbeat, heartbeat_count,
			active_connections, target_connections, queries_processed, error_count, last_error, resource
		FROM heartbeats WHERE run_id = ? AND worker_id = ?`, runID, workerID)
	return scanHeartbeat(row)
}

func (s *Store) ListHeartbeats(ctx context.Context, runID string) ([]*model.WorkerHeartbeat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, worker_id, status, phase, last_heartbeat, heartbeat_count,
			active_connections, target_connections, queries_processed, error_count, last_error, resource
		FROM heartbeats WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.WorkerHeartbeat
	for rows.Next() {
		hb, err := scanHeartbeat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, hb)
	}
	return out, rows.Err()
}

func (s *Store) AppendQueryExecutions(ctx context.Context, execs []*model.QueryExecution) error {
	if len(execs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO query_executions (run_id, worker_id, query_kind, start_time, elapsed_ms, success, warmup, rows_returned, error_class)
		VALUES (?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range execs {
		if _, err := stmt.ExecContext(ctx, e.RunID, e.WorkerID, e.QueryKind, timeToStr(e.StartTime), e.ElapsedMs,
			boolToInt(e.Success), boolToInt(e.Warmup), e.RowsReturned, e.ErrorClass); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) CountQueryExecutions(ctx context.Context, runID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_executions WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

func (s *Store) AppendMetricSnapshot(ctx context.Context, snap *model.MetricSnapshot) error {
	opCountsJSON, err := json.Marshal(snap.OpCountsByKind)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO metric_snapshots (run_id, worker_id, elapsed_seconds, phase, active_connections,
			target_connections, qps, p50_ms, p95_ms, p99_ms, op_counts, error_count, queue_depth_hint)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		snap.RunID, snap.WorkerID, snap.ElapsedSeconds, snap.Phase, snap.ActiveConnections,
		snap.TargetConnections, snap.QPS, snap.P50Ms, snap.P95Ms, snap.P99Ms, string(opCountsJSON), snap.ErrorCount, snap.QueueDepthHint,
	)
	return err
}

func (s *Store) ListMetricSnapshots(ctx context.Context, runID string, fromSeconds, toSeconds int64) ([]*model.MetricSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, worker_id, elapsed_seconds, phase, active_connections, target_connections,
			qps, p50_ms, p95_ms, p99_ms, op_counts, error_count, queue_depth_hint
		FROM metric_snapshots WHERE run_id = ? AND elapsed_seconds >= ? AND elapsed_seconds < ?`, runID, fromSeconds, toSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.MetricSnapshot
	for rows.Next() {
		var snap model.MetricSnapshot
		var opCountsJSON string
		if err := rows.Scan(&snap.RunID, &snap.WorkerID, &snap.ElapsedSeconds, &snap.Phase, &snap.ActiveConnections,
			&snap.TargetConnections, &snap.QPS, &snap.P50Ms, &snap.P95Ms, &snap.P99Ms, &opCountsJSON, &snap.ErrorCount, &snap.QueueDepthHint); err != nil {
			return nil, err
		}
		if opCountsJSON != "" {
			if err := json.Unmarshal([]byte(opCountsJSON), &snap.OpCountsByKind); err != nil {
				return nil, err
			}
		}
		out = append(out, &snap)
	}
	return out, rows.Err()
}

func (s *Store) AppendStepRecord(ctx context.Context, step *model.StepRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO step_history (run_id, step_number, target_workers, qps, p50_ms, p95_ms, p99_ms,
			error_rate, queue_detected, outcome, stop_reason)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		step.RunID, step.StepNumber, step.TargetWorkers, step.QPS, step.P50Ms, step.P95Ms, step.P99Ms,
		step.ErrorRate, boolToInt(step.QueueDetected), step.Outcome, step.StopReason,
	)
	return err
}

func (s *Store) ListStepRecords(ctx context.Context, runID string) ([]*model.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, step_number, target_workers, qps, p50_ms, p95_ms, p99_ms, error_rate, queue_detected, outcome, stop_reason
		FROM step_history WHERE run_id = ? ORDER BY step_number ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.StepRecord
	for rows.Next() {
		var step model.StepRecord
		var queueDetected int
		if err := rows.Scan(&step.RunID, &step.StepNumber, &step.TargetWorkers, &step.QPS, &step.P50Ms, &step.P95Ms, &step.P99Ms,
			&step.ErrorRate, &queueDetected, &step.Outcome, &step.StopReason); err != nil {
			return nil, err
		}
		step.QueueDetected = queueDetected != 0
		out = append(out, &step)
	}
	return out, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var run model.Run
	var startTime string
	var warmupEnd, endTime sql.NullString
	var findMaxJSON sql.NullString

	err := row.Scan(&run.RunID, &run.Scenario, &run.Status, &run.Phase, &startTime, &warmupEnd, &endTime,
		&run.TotalWorkersExpected, &run.WorkersRegistered, &run.WorkersActive, &run.WorkersCompleted,
		&run.TotalOps, &run.ErrorCount, &run.CurrentQPS, &findMaxJSON, &run.NextSequenceID,
		&run.ReasonCode, &run.ReasonMessage, &run.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	run.StartTime = strToTime(startTime)
	run.WarmupEndTime = strPtrToTimePtr(warmupEnd)
	run.EndTime = strPtrToTimePtr(endTime)
	if findMaxJSON.Valid && findMaxJSON.String != "" {
		var fm model.FindMaxState
		if err := json.Unmarshal([]byte(findMaxJSON.String), &fm); err != nil {
			return nil, err
		}
		run.FindMax = &fm
	}
	return &run, nil
}

func scanHeartbeat(row scanner) (*model.WorkerHeartbeat, error) {
	var hb model.WorkerHeartbeat
	var lastHeartbeat string
	var lastError, resourceJSON sql.NullString

	err := row.Scan(&hb.RunID, &hb.WorkerID, &hb.Status, &hb.Phase, &lastHeartbeat, &hb.HeartbeatCount,
		&hb.ActiveConnections, &hb.TargetConnections, &hb.QueriesProcessed, &hb.ErrorCount, &lastError, &resourceJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	hb.LastHeartbeat = strToTime(lastHeartbeat)
	hb.LastError = lastError.String
	if resourceJSON.Valid && resourceJSON.String != "" {
		var r model.ResourceReading
		if err := json.Unmarshal([]byte(resourceJSON.String), &r); err != nil {
			return nil, err
		}
		hb.Resource = &r
	}
	return &hb, nil
}

func marshalOptional(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const timeLayout = time.RFC3339Nano

func timeToStr(t time.Time) string { return t.UTC().Format(timeLayout) }

func timePtrToStr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeToStr(*t)
}

func strToTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func strPtrToTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := strToTime(s.String)
	return &t
}

var _ store.Store = (*Store)(nil)
