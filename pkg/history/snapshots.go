package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Snapshot is the last recorded state of one experiment.
type Snapshot struct {
	Experiment  string    `json:"experiment"`
	Status      string    `json:"status"`
	StatusStr   string    `json:"status_str,omitempty"`
	JobCount    int       `json:"job_count"`
	Cluster     string    `json:"cluster,omitempty"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	SeenCount   int       `json:"seen_count"`
}

// SnapshotParams describes one observation of an experiment.
type SnapshotParams struct {
	Experiment string
	Status     string
	StatusStr  string
	JobCount   int
	Cluster    string
}

// ObserveExperiment records an observation, keeping the first-seen time and
// counting repeat sightings.
func (s *Store) ObserveExperiment(ctx context.Context, p SnapshotParams) error {
	if p.Experiment == "" {
		return errors.New("experiment is required")
	}
	now := s.stamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO experiment_snapshots (experiment, status, status_str, job_count, cluster, first_seen_at, last_seen_at, seen_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(experiment) DO UPDATE SET
			status=excluded.status,
			status_str=excluded.status_str,
			job_count=excluded.job_count,
			cluster=excluded.cluster,
			last_seen_at=excluded.last_seen_at,
			seen_count=experiment_snapshots.seen_count + 1
	`, p.Experiment, p.Status, p.StatusStr, p.JobCount, p.Cluster, now, now)
	if err != nil {
		return fmt.Errorf("upsert experiment snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the snapshot of experiment, or false when it was
// never observed.
func (s *Store) GetSnapshot(ctx context.Context, experiment string) (Snapshot, bool, error) {
	var (
		snap        Snapshot
		statusStr   sql.NullString
		cluster     sql.NullString
		first, last string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT experiment, status, status_str, job_count, cluster, first_seen_at, last_seen_at, seen_count
		FROM experiment_snapshots WHERE experiment=?
	`, experiment).Scan(&snap.Experiment, &snap.Status, &statusStr, &snap.JobCount, &cluster, &first, &last, &snap.SeenCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("query experiment snapshot: %w", err)
	}
	snap.StatusStr = statusStr.String
	snap.Cluster = cluster.String
	if snap.FirstSeenAt, err = parseTimestamp(first); err != nil {
		return Snapshot{}, false, fmt.Errorf("parse first_seen_at: %w", err)
	}
	if snap.LastSeenAt, err = parseTimestamp(last); err != nil {
		return Snapshot{}, false, fmt.Errorf("parse last_seen_at: %w", err)
	}
	return snap, true, nil
}

// Stats summarizes the history database.
type Stats struct {
	Runs        int            `json:"runs"`
	Changes     int            `json:"changes"`
	Experiments int            `json:"experiments"`
	ByStatus    map[string]int `json:"by_status"`
}

// Stats counts runs, changes and observed experiments.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByStatus: make(map[string]int)}
	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM sync_runs`, &st.Runs},
		{`SELECT COUNT(*) FROM status_changes`, &st.Changes},
		{`SELECT COUNT(*) FROM experiment_snapshots`, &st.Experiments},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return Stats{}, fmt.Errorf("count history rows: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM experiment_snapshots GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("group snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, err
		}
		st.ByStatus[status] = n
	}
	return st, rows.Err()
}
