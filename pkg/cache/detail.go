package cache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/jobwatch/pkg/amlt"
	"github.com/3leaps/jobwatch/pkg/status"
)

// CachedJob is the persisted projection of a job. Status holds only the
// first word of the raw status.
type CachedJob struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Duration  string `json:"duration"`
	Size      string `json:"size"`
	Submitted string `json:"submitted"`
	Flags     string `json:"flags"`
	PortalURL string `json:"portal_url"`
}

// Record converts the cached job back into a JobRecord.
func (j CachedJob) Record() amlt.JobRecord {
	return amlt.JobRecord{
		Index:     j.Index,
		Name:      j.Name,
		Status:    j.Status,
		Duration:  j.Duration,
		Size:      j.Size,
		Submitted: j.Submitted,
		Flags:     j.Flags,
		PortalURL: j.PortalURL,
	}
}

// CachedExperimentDetail is the persisted detail of a terminal experiment.
type CachedExperimentDetail struct {
	ID       string        `json:"name"`
	Cluster  string        `json:"cluster"`
	JobCount int           `json:"n_jobs"`
	Counts   status.Counts `json:"counts"`
	Jobs     []CachedJob   `json:"jobs"`
	CachedAt string        `json:"cached_at"`
}

// DetailCache caches job lists of experiments that can no longer change.
type DetailCache struct {
	mu      sync.Mutex
	entries map[string]CachedExperimentDetail
	store   *fileStore[CachedExperimentDetail]
	now     func() time.Time
}

// NewDetailCache loads the cache persisted at path. An empty path keeps the
// cache in memory only.
func NewDetailCache(path string, logger *zap.Logger) *DetailCache {
	store := newFileStore[CachedExperimentDetail](path, detailSchema, logger)
	return &DetailCache{
		entries: store.load(),
		store:   store,
		now:     time.Now,
	}
}

// Path returns the backing file path.
func (c *DetailCache) Path() string {
	return c.store.path
}

// Cacheable reports whether jobs describe an experiment that can no longer
// change. When the driver job is listed its status decides; otherwise no job
// may be running or queued.
func Cacheable(jobs []amlt.JobRecord) bool {
	if len(jobs) == 0 {
		return false
	}
	for _, j := range jobs {
		if j.IsDriver() {
			return status.IsTerminal(j.Status)
		}
	}
	for _, j := range jobs {
		if status.IsActive(j.Status) {
			return false
		}
	}
	return true
}

// Add caches the jobs of experiment id when Cacheable(jobs) holds. detail
// supplies the cluster and may be nil. It reports whether the cache changed.
func (c *DetailCache) Add(id string, detail *amlt.ExperimentDetail, jobs []amlt.JobRecord) (bool, error) {
	if strings.TrimSpace(id) == "" || !Cacheable(jobs) {
		return false, nil
	}

	cached := CachedExperimentDetail{
		ID:       id,
		JobCount: len(jobs),
		Jobs:     make([]CachedJob, 0, len(jobs)),
	}
	if detail != nil {
		cached.Cluster = detail.Cluster
	}
	statuses := make([]string, 0, len(jobs))
	for _, j := range jobs {
		cached.Jobs = append(cached.Jobs, CachedJob{
			Index:     j.Index,
			Name:      j.Name,
			Status:    firstWord(j.Status),
			Duration:  j.Duration,
			Size:      j.Size,
			Submitted: j.Submitted,
			Flags:     j.Flags,
			PortalURL: j.PortalURL,
		})
		statuses = append(statuses, j.Status)
	}
	cached.Counts = status.FromStatuses(statuses)
	cached.Counts.Running = 0
	cached.Counts.Queued = 0

	c.mu.Lock()
	defer c.mu.Unlock()
	cached.CachedAt = c.now().UTC().Format(time.RFC3339)
	c.entries[id] = cached
	return true, c.store.save(c.entries)
}

// Get returns the cached detail for id.
func (c *DetailCache) Get(id string) (CachedExperimentDetail, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.entries[id]
	return d, ok
}

// Has reports whether id is cached.
func (c *DetailCache) Has(id string) bool {
	_, ok := c.Get(id)
	return ok
}

// IDs returns the cached experiment IDs in sorted order.
func (c *DetailCache) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Remove deletes id from the cache.
func (c *DetailCache) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; !ok {
		return nil
	}
	delete(c.entries, id)
	return c.store.save(c.entries)
}

// Clear drops every entry and deletes the backing file.
func (c *DetailCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]CachedExperimentDetail)
	return c.store.remove()
}

// Stats returns the number of cached details and the jobs they hold.
func (c *DetailCache) Stats() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	jobs := 0
	for _, d := range c.entries {
		jobs += len(d.Jobs)
	}
	return map[string]int{"total": len(c.entries), "jobs": jobs}
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
