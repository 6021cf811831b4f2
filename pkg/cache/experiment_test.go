package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobwatch/pkg/amlt"
	"github.com/3leaps/jobwatch/pkg/status"
)

func newTestExperimentCache(t *testing.T) (*ExperimentCache, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), ExperimentFile)
	return NewExperimentCache(path, nil), path
}

func TestUpsertIfTerminal(t *testing.T) {
	c, path := newTestExperimentCache(t)

	changed, err := c.UpsertIfTerminal(amlt.NewExperimentSummary("exp-run", "Running (2)"))
	require.NoError(t, err)
	assert.False(t, changed, "non-terminal summaries are not cached")
	_, ok := c.Get("exp-run")
	assert.False(t, ok)
	assert.NoFileExists(t, path)

	done := amlt.NewExperimentSummary("exp-done", "Failed (3)")
	done.Cluster = "cluster-a"
	changed, err = c.UpsertIfTerminal(done)
	require.NoError(t, err)
	assert.True(t, changed)

	got, ok := c.Get("exp-done")
	require.True(t, ok)
	assert.Equal(t, status.Fail, got.Status, "status is stored normalized")
	assert.Equal(t, "Failed (3)", got.StatusStr)
	assert.Equal(t, 3, got.JobCount)
	assert.Equal(t, "cluster-a", got.Cluster)
	assert.NotEmpty(t, got.CachedAt)
	assert.FileExists(t, path)
}

func TestUpsertIfTerminalKeepsDifferentTerminalStatus(t *testing.T) {
	c, _ := newTestExperimentCache(t)

	changed, err := c.ForceWrite(ForceWriteParams{ID: "exp", Status: "pass", JobCount: 2})
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = c.UpsertIfTerminal(amlt.NewExperimentSummary("exp", "Fail (1), Pass (1)"))
	require.NoError(t, err)
	assert.False(t, changed, "only ForceWrite changes a terminal status")

	got, ok := c.Get("exp")
	require.True(t, ok)
	assert.Equal(t, status.Pass, got.Status)
	assert.Equal(t, "Pass (2)", got.StatusStr)
}

func TestUpsertIfTerminalRefreshesSameStatus(t *testing.T) {
	c, _ := newTestExperimentCache(t)

	_, err := c.UpsertIfTerminal(amlt.NewExperimentSummary("exp", "Pass (1)"))
	require.NoError(t, err)

	later := amlt.NewExperimentSummary("exp", "Pass (2)")
	later.Cluster = "cluster-b"
	changed, err := c.UpsertIfTerminal(later)
	require.NoError(t, err)
	assert.True(t, changed)

	got, _ := c.Get("exp")
	assert.Equal(t, "Pass (2)", got.StatusStr)
	assert.Equal(t, "cluster-b", got.Cluster)
}

func TestForceWrite(t *testing.T) {
	c, _ := newTestExperimentCache(t)

	changed, err := c.ForceWrite(ForceWriteParams{ID: "exp", Status: "running", JobCount: 2})
	require.NoError(t, err)
	assert.False(t, changed, "force write ignores non-terminal statuses")
	assert.Equal(t, 0, c.Len())

	changed, err = c.ForceWrite(ForceWriteParams{
		ID:       "exp",
		Status:   "failed",
		Cluster:  "c1",
		JobCount: 4,
		Counts:   status.Counts{Pass: 3, Fail: 1},
	})
	require.NoError(t, err)
	assert.True(t, changed)

	got, ok := c.Get("exp")
	require.True(t, ok)
	assert.Equal(t, status.Fail, got.Status)
	assert.Equal(t, "Fail (4)", got.StatusStr)
	assert.Equal(t, status.Counts{Pass: 3, Fail: 1}, got.Counts)

	changed, err = c.ForceWrite(ForceWriteParams{ID: "exp", Status: "pass", JobCount: 4})
	require.NoError(t, err)
	assert.True(t, changed)
	got, _ = c.Get("exp")
	assert.Equal(t, status.Pass, got.Status)
}

func TestExperimentCacheRoundTrip(t *testing.T) {
	c, path := newTestExperimentCache(t)

	_, err := c.UpsertIfTerminal(amlt.NewExperimentSummary("b", "Pass (2)"))
	require.NoError(t, err)
	_, err = c.UpsertIfTerminal(amlt.NewExperimentSummary("a", "Killed (1)"))
	require.NoError(t, err)

	reopened := NewExperimentCache(path, nil)
	assert.Equal(t, []string{"a", "b"}, reopened.IDs())
	assert.Equal(t, c.GetAll(), reopened.GetAll())

	require.NoError(t, reopened.Remove("a"))
	assert.Equal(t, []string{"b"}, NewExperimentCache(path, nil).IDs())
}

func TestExperimentCacheGetByStatusAndStats(t *testing.T) {
	c, _ := newTestExperimentCache(t)
	for id, raw := range map[string]string{
		"p1": "Pass (1)",
		"p2": "Pass (5)",
		"f1": "Failed (1)",
		"k1": "Killed (2)",
	} {
		_, err := c.UpsertIfTerminal(amlt.NewExperimentSummary(id, raw))
		require.NoError(t, err)
	}

	passed := c.GetByStatus("pass")
	require.Len(t, passed, 2)
	assert.Equal(t, "p1", passed[0].ID)
	assert.Len(t, c.GetByStatus("failed"), 1)

	stats := c.Stats()
	assert.Equal(t, 4, stats["total"])
	assert.Equal(t, 2, stats["pass"])
	assert.Equal(t, 1, stats["fail"])
	assert.Equal(t, 1, stats["killed"])
	assert.Equal(t, 0, stats["cancelled"])
	assert.NotContains(t, stats, "failed", "stored statuses are normalized")
}

func TestExperimentCacheClear(t *testing.T) {
	c, path := newTestExperimentCache(t)
	_, err := c.UpsertIfTerminal(amlt.NewExperimentSummary("x", "Pass (1)"))
	require.NoError(t, err)

	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Len())
	assert.NoFileExists(t, path)
	assert.NoError(t, c.Clear(), "clearing twice is fine")
}

func TestExperimentCacheCorruptFileStartsEmpty(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{not json"},
		{"wrong shape", `["a", "b"]`},
		{"empty", "   \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ExperimentFile)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			c := NewExperimentCache(path, nil)
			assert.Equal(t, 0, c.Len())

			// The cache keeps working and rewrites the file.
			_, err := c.UpsertIfTerminal(amlt.NewExperimentSummary("ok", "Pass (1)"))
			require.NoError(t, err)
			assert.Equal(t, 1, NewExperimentCache(path, nil).Len())
		})
	}
}

func TestExperimentCacheRejectsNonTerminalEntriesOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ExperimentFile)
	doc := map[string]any{
		"exp": map[string]any{"name": "exp", "status": "running"},
	}
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0644))

	c := NewExperimentCache(path, nil)
	assert.Equal(t, 0, c.Len())
}

func TestExperimentCachePersistFailureIsReported(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("directory permissions differ on windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	dir := t.TempDir()
	ro := filepath.Join(dir, "ro")
	require.NoError(t, os.Mkdir(ro, 0555))
	t.Cleanup(func() { _ = os.Chmod(ro, 0755) })

	c := NewExperimentCache(filepath.Join(ro, ExperimentFile), nil)
	_, err := c.UpsertIfTerminal(amlt.NewExperimentSummary("x", "Pass (1)"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersist)

	_, ok := c.Get("x")
	assert.True(t, ok, "in-memory state keeps the mutation")
}

func TestExperimentCacheConcurrentWriters(t *testing.T) {
	c, path := newTestExperimentCache(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			_, _ = c.UpsertIfTerminal(amlt.NewExperimentSummary(id, "Pass (1)"))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, c.Len())
	assert.Equal(t, 20, NewExperimentCache(path, nil).Len())
}

func TestExperimentCacheInMemory(t *testing.T) {
	c := NewExperimentCache("", nil)
	changed, err := c.UpsertIfTerminal(amlt.NewExperimentSummary("x", "Pass (1)"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "", c.Path())
}

func TestCachedExperimentSummary(t *testing.T) {
	ce := CachedExperiment{ID: "x", Status: "pass", StatusStr: "Pass (2)", JobCount: 2, Modified: "1d ago"}
	s := ce.Summary()
	assert.Equal(t, "x", s.ID)
	assert.True(t, s.IsTerminal())
	assert.Equal(t, 24*60, s.AgeMinutes())
}
