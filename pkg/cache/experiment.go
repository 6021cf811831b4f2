package cache

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/jobwatch/pkg/amlt"
	"github.com/3leaps/jobwatch/pkg/status"
)

// CachedExperiment is the persisted projection of an experiment that reached
// a terminal state. Status is always terminal.
type CachedExperiment struct {
	ID        string        `json:"name"`
	Status    string        `json:"status"`
	StatusStr string        `json:"status_str"`
	JobCount  int           `json:"job_count"`
	Cluster   string        `json:"cluster"`
	Flags     string        `json:"flags"`
	Modified  string        `json:"modified"`
	JobURL    string        `json:"job_url"`
	Counts    status.Counts `json:"counts"`
	CachedAt  string        `json:"cached_at"`
}

// Summary converts the cached entry back into the list record shape.
func (c CachedExperiment) Summary() amlt.ExperimentSummary {
	return amlt.ExperimentSummary{
		ID:        c.ID,
		RawStatus: c.StatusStr,
		Status:    c.Status,
		Counts:    c.Counts,
		JobCount:  c.JobCount,
		Modified:  c.Modified,
		Cluster:   c.Cluster,
		Flags:     c.Flags,
		JobURL:    c.JobURL,
	}
}

// ForceWriteParams describes a correction discovered from detail evidence.
type ForceWriteParams struct {
	ID       string
	Status   string
	Cluster  string
	JobCount int
	Counts   status.Counts
}

// ExperimentCache is the terminal-state cache keyed by experiment ID.
type ExperimentCache struct {
	mu      sync.Mutex
	entries map[string]CachedExperiment
	store   *fileStore[CachedExperiment]
	now     func() time.Time
}

// NewExperimentCache loads the cache persisted at path. An empty path keeps
// the cache in memory only.
func NewExperimentCache(path string, logger *zap.Logger) *ExperimentCache {
	store := newFileStore[CachedExperiment](path, experimentSchema, logger)
	entries := store.load()
	for id, e := range entries {
		if !status.IsTerminal(e.Status) || id == "" {
			delete(entries, id)
		}
	}
	return &ExperimentCache{
		entries: entries,
		store:   store,
		now:     time.Now,
	}
}

// Path returns the backing file path.
func (c *ExperimentCache) Path() string {
	return c.store.path
}

// Get returns the cached entry for id.
func (c *ExperimentCache) Get(id string) (CachedExperiment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return e, ok
}

// GetAll returns every entry ordered by ID.
func (c *ExperimentCache) GetAll() []CachedExperiment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CachedExperiment, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetByStatus returns the entries whose status normalizes to the same value
// as s, ordered by ID.
func (c *ExperimentCache) GetByStatus(s string) []CachedExperiment {
	want := status.Normalize(s)
	var out []CachedExperiment
	for _, e := range c.GetAll() {
		if status.Normalize(e.Status) == want {
			out = append(out, e)
		}
	}
	return out
}

// IDs returns the cached experiment IDs in sorted order.
func (c *ExperimentCache) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of cached entries.
func (c *ExperimentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// UpsertIfTerminal caches e when its status is terminal. An entry already
// holding a different terminal status is left alone; only ForceWrite
// changes a terminal status. It reports whether the cache changed.
func (c *ExperimentCache) UpsertIfTerminal(e amlt.ExperimentSummary) (bool, error) {
	st := status.Normalize(e.Status)
	if !status.IsTerminal(st) || strings.TrimSpace(e.ID) == "" {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.entries[e.ID]; ok && prev.Status != st && status.IsTerminal(prev.Status) {
		return false, nil
	}
	c.entries[e.ID] = CachedExperiment{
		ID:        e.ID,
		Status:    st,
		StatusStr: e.RawStatus,
		JobCount:  e.JobCount,
		Cluster:   e.Cluster,
		Flags:     e.Flags,
		Modified:  e.Modified,
		JobURL:    e.JobURL,
		Counts:    e.Counts,
		CachedAt:  c.stamp(),
	}
	return true, c.persistLocked()
}

// ForceWrite records a terminal status discovered from detail evidence,
// overwriting whatever is cached for p.ID. Non-terminal statuses are
// ignored. It reports whether the cache changed.
func (c *ExperimentCache) ForceWrite(p ForceWriteParams) (bool, error) {
	st := status.Normalize(p.Status)
	if !status.IsTerminal(st) || strings.TrimSpace(p.ID) == "" {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[p.ID] = CachedExperiment{
		ID:        p.ID,
		Status:    st,
		StatusStr: fmt.Sprintf("%s (%d)", capitalize(st), p.JobCount),
		JobCount:  p.JobCount,
		Cluster:   p.Cluster,
		Counts:    p.Counts,
		CachedAt:  c.stamp(),
	}
	return true, c.persistLocked()
}

// Remove deletes id from the cache.
func (c *ExperimentCache) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; !ok {
		return nil
	}
	delete(c.entries, id)
	return c.persistLocked()
}

// Clear drops every entry and deletes the backing file.
func (c *ExperimentCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]CachedExperiment)
	return c.store.remove()
}

// Stats returns the total entry count under "total" plus one count per
// terminal state.
func (c *ExperimentCache) Stats() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := map[string]int{"total": len(c.entries)}
	for _, s := range status.TerminalStates() {
		stats[status.Normalize(s)] = 0
	}
	for _, e := range c.entries {
		stats[e.Status]++
	}
	return stats
}

func (c *ExperimentCache) persistLocked() error {
	return c.store.save(c.entries)
}

func (c *ExperimentCache) stamp() string {
	return c.now().UTC().Format(time.RFC3339)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
