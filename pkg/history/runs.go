package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Run kinds.
const (
	KindList      = "list"
	KindReconcile = "reconcile"
	KindSync      = "sync"
)

// Run statuses.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusPartial = "partial"
	RunStatusFailed  = "failed"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("sync run not found")

// Run is one recorded sync pass.
type Run struct {
	RunID       string     `json:"run_id"`
	Kind        string     `json:"kind"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Status      string     `json:"status"`
	Listed      int        `json:"listed"`
	Cached      int        `json:"cached"`
	Candidates  int        `json:"candidates"`
	Corrections int        `json:"corrections"`
	FetchErrors int        `json:"fetch_errors"`
	Error       string     `json:"error,omitempty"`
}

// RunCounts are the totals recorded when a run finishes.
type RunCounts struct {
	Listed      int
	Cached      int
	Candidates  int
	Corrections int
	FetchErrors int
}

// Change is a recorded status transition.
type Change struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id,omitempty"`
	Experiment string    `json:"experiment"`
	OldStatus  string    `json:"old_status"`
	NewStatus  string    `json:"new_status"`
	Source     string    `json:"source"`
	ChangedAt  time.Time `json:"changed_at"`
}

// ChangeQuery filters ListChanges. Zero values do not filter.
type ChangeQuery struct {
	Experiment string
	Since      time.Time
	Limit      int
}

// BeginRun records the start of a run of the given kind.
func (s *Store) BeginRun(ctx context.Context, kind string) (Run, error) {
	if strings.TrimSpace(kind) == "" {
		return Run{}, errors.New("run kind is required")
	}
	run := Run{
		RunID:     uuid.NewString(),
		Kind:      kind,
		StartedAt: s.now().UTC(),
		Status:    RunStatusRunning,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (run_id, kind, started_at, status) VALUES (?, ?, ?, ?)`,
		run.RunID, run.Kind, run.StartedAt.Format(timeFormat), run.Status,
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert sync run: %w", err)
	}
	return run, nil
}

// FinishRun closes a run. A non-nil runErr marks it failed; fetch errors
// without runErr mark it partial.
func (s *Store) FinishRun(ctx context.Context, runID string, counts RunCounts, runErr error) error {
	st := RunStatusSuccess
	var msg sql.NullString
	switch {
	case runErr != nil:
		st = RunStatusFailed
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	case counts.FetchErrors > 0:
		st = RunStatusPartial
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET
			ended_at=?, status=?, listed=?, cached=?, candidates=?, corrections=?, fetch_errors=?, error_message=?
		WHERE run_id=?
	`, s.stamp(), st, counts.Listed, counts.Cached, counts.Candidates, counts.Corrections, counts.FetchErrors, msg, runID)
	if err != nil {
		return fmt.Errorf("update sync run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, kind, started_at, ended_at, status, listed, cached, candidates, corrections, fetch_errors, error_message
		FROM sync_runs WHERE run_id=?
	`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// ListRuns returns the most recent runs first. A non-positive limit
// returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	q := `
		SELECT run_id, kind, started_at, ended_at, status, listed, cached, candidates, corrections, fetch_errors, error_message
		FROM sync_runs ORDER BY started_at DESC, run_id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sync runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run       Run
		startedAt string
		endedAt   sql.NullString
		errMsg    sql.NullString
	)
	if err := sc.Scan(&run.RunID, &run.Kind, &startedAt, &endedAt, &run.Status,
		&run.Listed, &run.Cached, &run.Candidates, &run.Corrections, &run.FetchErrors, &errMsg); err != nil {
		return Run{}, err
	}

	t, err := parseTimestamp(startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	run.StartedAt = t
	if endedAt.Valid {
		e, err := parseTimestamp(endedAt.String)
		if err != nil {
			return Run{}, fmt.Errorf("parse ended_at: %w", err)
		}
		run.EndedAt = &e
	}
	run.Error = errMsg.String
	return run, nil
}

// RecordChange appends a status change. runID may be empty for changes seen
// outside a recorded run.
func (s *Store) RecordChange(ctx context.Context, runID string, c Change) error {
	if c.ChangedAt.IsZero() {
		c.ChangedAt = s.now()
	}
	var run sql.NullString
	if runID != "" {
		run = sql.NullString{String: runID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO status_changes (run_id, experiment, old_status, new_status, source, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run, c.Experiment, c.OldStatus, c.NewStatus, c.Source, c.ChangedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("insert status change: %w", err)
	}
	return nil
}

// ListChanges returns recorded changes, newest first.
func (s *Store) ListChanges(ctx context.Context, q ChangeQuery) ([]Change, error) {
	query := `SELECT change_id, run_id, experiment, old_status, new_status, source, changed_at FROM status_changes`
	var where []string
	var args []any
	if q.Experiment != "" {
		where = append(where, "experiment = ?")
		args = append(args, q.Experiment)
	}
	if !q.Since.IsZero() {
		where = append(where, "changed_at >= ?")
		args = append(args, q.Since.UTC().Format(timeFormat))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY changed_at DESC, change_id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query status changes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Change
	for rows.Next() {
		var (
			c         Change
			run       sql.NullString
			changedAt string
		)
		if err := rows.Scan(&c.ID, &run, &c.Experiment, &c.OldStatus, &c.NewStatus, &c.Source, &changedAt); err != nil {
			return nil, err
		}
		c.RunID = run.String
		t, err := parseTimestamp(changedAt)
		if err != nil {
			return nil, fmt.Errorf("parse changed_at: %w", err)
		}
		c.ChangedAt = t
		out = append(out, c)
	}
	return out, rows.Err()
}
