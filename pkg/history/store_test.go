package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobwatch/pkg/amlt"
	"github.com/3leaps/jobwatch/pkg/reconcile"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "history", "jobwatch.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// clock returns a now func advancing one second per call from base.
func clock(base time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestBuildDSN(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{name: "empty", cfg: Config{}, wantErr: true},
		{name: "memory", cfg: Config{Path: ":memory:"}, want: ":memory:"},
		{name: "plain path", cfg: Config{Path: filepath.Join(dir, "a", "h.db")}, want: "file:" + filepath.Join(dir, "a", "h.db")},
		{name: "file dsn", cfg: Config{Path: "file:" + filepath.Join(dir, "b.db")}, want: "file:" + filepath.Join(dir, "b.db")},
		{name: "url without token", cfg: Config{URL: "libsql://db.turso.io"}, want: "libsql://db.turso.io"},
		{name: "url with token", cfg: Config{URL: "libsql://db.turso.io", AuthToken: "tok"}, want: "libsql://db.turso.io?authToken=tok"},
		{name: "url keeps token", cfg: Config{URL: "libsql://db.turso.io?authToken=x", AuthToken: "tok"}, want: "libsql://db.turso.io?authToken=x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.DirExists(t, filepath.Join(dir, "a"))
}

func TestOpenMigrates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	v, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)

	require.NoError(t, Migrate(ctx, s.db), "migrate is idempotent")
	require.NoError(t, s.Ping(ctx))
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	s.now = clock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	first, err := s.BeginRun(ctx, KindSync)
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, first.Status)
	require.NoError(t, s.FinishRun(ctx, first.RunID, RunCounts{Listed: 5, Candidates: 2, Corrections: 1}, nil))

	second, err := s.BeginRun(ctx, KindReconcile)
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, second.RunID, RunCounts{Candidates: 3, FetchErrors: 1}, nil))

	third, err := s.BeginRun(ctx, KindList)
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, third.RunID, RunCounts{}, errors.New("amlt missing")))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, third.RunID, runs[0].RunID, "newest first")
	assert.Equal(t, RunStatusFailed, runs[0].Status)
	assert.Equal(t, "amlt missing", runs[0].Error)
	assert.Equal(t, RunStatusPartial, runs[1].Status)
	assert.Equal(t, RunStatusSuccess, runs[2].Status)
	assert.Equal(t, 5, runs[2].Listed)
	require.NotNil(t, runs[2].EndedAt)
	assert.True(t, runs[2].EndedAt.After(runs[2].StartedAt))

	limited, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	got, err := s.GetRun(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Corrections)

	_, err = s.GetRun(ctx, "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, s.FinishRun(ctx, "nope", RunCounts{}, nil), ErrRunNotFound)

	_, err = s.BeginRun(ctx, " ")
	assert.Error(t, err)
}

func TestChanges(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordChange(ctx, "", Change{Experiment: "a", OldStatus: "running", NewStatus: "fail", Source: "reconcile", ChangedAt: base}))
	require.NoError(t, s.RecordChange(ctx, "run-1", Change{Experiment: "b", OldStatus: "queued", NewStatus: "running", Source: "list", ChangedAt: base.Add(time.Hour)}))
	require.NoError(t, s.RecordChange(ctx, "run-2", Change{Experiment: "a", OldStatus: "fail", NewStatus: "pass", Source: "reconcile", ChangedAt: base.Add(2 * time.Hour)}))

	all, err := s.ListChanges(ctx, ChangeQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "pass", all[0].NewStatus)
	assert.Equal(t, "run-2", all[0].RunID)
	assert.Equal(t, "", all[2].RunID)
	assert.True(t, all[2].ChangedAt.Equal(base))

	forA, err := s.ListChanges(ctx, ChangeQuery{Experiment: "a"})
	require.NoError(t, err)
	assert.Len(t, forA, 2)

	recent, err := s.ListChanges(ctx, ChangeQuery{Since: base.Add(30 * time.Minute), Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "a", recent[0].Experiment)
}

func TestObserveExperiment(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	s.now = clock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, s.ObserveExperiment(ctx, SnapshotParams{Experiment: "exp", Status: "running", StatusStr: "Running (2)", JobCount: 2}))
	require.NoError(t, s.ObserveExperiment(ctx, SnapshotParams{Experiment: "exp", Status: "pass", StatusStr: "Pass (2)", JobCount: 2, Cluster: "c1"}))
	assert.Error(t, s.ObserveExperiment(ctx, SnapshotParams{}))

	snap, ok, err := s.GetSnapshot(ctx, "exp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pass", snap.Status)
	assert.Equal(t, "c1", snap.Cluster)
	assert.Equal(t, 2, snap.SeenCount)
	assert.True(t, snap.LastSeenAt.After(snap.FirstSeenAt))

	_, ok, err = s.GetSnapshot(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordPass(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	live := amlt.NewExperimentSummary("live", "Running (1)")
	old := amlt.NewExperimentSummary("old", "Pass (1)")
	snap := &reconcile.Snapshot{
		Listed: 1,
		Cached: 1,
		Items: []reconcile.Item{
			{ExperimentSummary: live},
			{ExperimentSummary: old, FromCache: true},
		},
	}
	res := &reconcile.Result{Candidates: 1, FetchErrors: 0, Corrections: []reconcile.StatusChange{{ID: "live"}}}
	changes := []reconcile.StatusChange{{
		ID: "live", OldStatus: "running", NewStatus: "fail", Source: reconcile.SourceReconcile, At: time.Now(),
	}}

	runID, err := s.RecordPass(ctx, Pass{Snapshot: snap, Result: res, Changes: changes})
	require.NoError(t, err)

	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, KindSync, run.Kind)
	assert.Equal(t, RunStatusSuccess, run.Status)
	assert.Equal(t, 1, run.Listed)
	assert.Equal(t, 1, run.Cached)
	assert.Equal(t, 1, run.Corrections)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Runs)
	assert.Equal(t, 1, stats.Changes)
	assert.Equal(t, 1, stats.Experiments, "cache-only items are not observed")
	assert.Equal(t, map[string]int{"running": 1}, stats.ByStatus)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{name: "stored layout", input: "2026-03-01T02:00:00.000000000Z", want: want},
		{name: "RFC3339", input: "2026-03-01T02:00:00Z", want: want},
		{name: "RFC3339Nano", input: "2026-03-01T02:00:00.5Z", want: want.Add(500 * time.Millisecond)},
		{name: "offset converts to UTC", input: "2026-03-01T04:00:00+02:00", want: want},
		{name: "sqlite datetime", input: "2026-03-01 02:00:00", want: want},
		{name: "surrounding space", input: " 2026-03-01T02:00:00Z ", want: want},
		{name: "garbage", input: "yesterday", wantErr: true},
		{name: "partial", input: "2026-03", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTimestamp(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobwatch.db")

	s, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	s.now = clock(time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC))
	run, err := s.BeginRun(ctx, KindSync)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, Config{Path: path})
	require.NoError(t, err, "reopening a WAL database")
	t.Cleanup(func() { _ = reopened.Close() })

	runs, err := reopened.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.RunID, runs[0].RunID)
	assert.Equal(t, time.Date(2026, 3, 1, 2, 0, 1, 0, time.UTC), runs[0].StartedAt)
}
