package cache

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/3leaps/jobwatch/pkg/amlt"
	"github.com/3leaps/jobwatch/pkg/status"
)

// Detail is a read-only view of an experiment's jobs that came either from a
// fresh amlt query or from the detail cache.
type Detail interface {
	ID() string
	Cluster() string
	JobCount() int
	Jobs() []amlt.JobRecord
	Counts() status.Counts
	// FromCache reports whether the view was served from the cache.
	FromCache() bool

	sealed()
}

// FreshDetail wraps a detail parsed from amlt.
type FreshDetail struct {
	d *amlt.ExperimentDetail
}

// NewFreshDetail wraps d, which must not be nil.
func NewFreshDetail(d *amlt.ExperimentDetail) FreshDetail {
	return FreshDetail{d: d}
}

func (f FreshDetail) ID() string {
	return f.d.ID
}

func (f FreshDetail) Cluster() string {
	return f.d.Cluster
}

func (f FreshDetail) JobCount() int {
	return f.d.JobCount
}

func (f FreshDetail) Jobs() []amlt.JobRecord {
	return append([]amlt.JobRecord(nil), f.d.Jobs...)
}

func (f FreshDetail) Counts() status.Counts {
	return f.d.Counts
}

func (f FreshDetail) FromCache() bool {
	return false
}

func (f FreshDetail) Raw() *amlt.ExperimentDetail {
	return f.d
}

func (FreshDetail) sealed() {}

// CachedDetail wraps a detail served from the DetailCache.
type CachedDetail struct {
	c CachedExperimentDetail
}

// NewCachedDetail wraps c.
func NewCachedDetail(c CachedExperimentDetail) CachedDetail {
	return CachedDetail{c: c}
}

func (c CachedDetail) ID() string {
	return c.c.ID
}

func (c CachedDetail) Cluster() string {
	return c.c.Cluster
}

func (c CachedDetail) JobCount() int {
	return c.c.JobCount
}

func (c CachedDetail) Counts() status.Counts {
	return c.c.Counts
}

func (c CachedDetail) FromCache() bool {
	return true
}

func (c CachedDetail) CachedAt() string {
	return c.c.CachedAt
}

func (CachedDetail) sealed() {}

func (c CachedDetail) Jobs() []amlt.JobRecord {
	out := make([]amlt.JobRecord, len(c.c.Jobs))
	for i, j := range c.c.Jobs {
		out[i] = j.Record()
	}
	return out
}

// ResolveStatus derives one canonical status from detail evidence.
//
// With several jobs the driver job decides when present, otherwise the
// aggregate counts do. A single job decides alone. When the evidence is
// empty fallback is returned.
func ResolveStatus(d Detail, fallback string) string {
	if d == nil {
		return fallback
	}
	jobs := d.Jobs()
	switch {
	case len(jobs) > 1:
		for _, j := range jobs {
			if j.IsDriver() {
				return status.Normalize(j.Status)
			}
		}
		if p := aggregate(d, jobs).Primary(); p != status.Unknown {
			return p
		}
		return fallback
	case len(jobs) == 1:
		if s := status.Normalize(jobs[0].Status); s != "" {
			return s
		}
	}
	return fallback
}

func aggregate(d Detail, jobs []amlt.JobRecord) status.Counts {
	if c := d.Counts(); !c.IsZero() {
		return c
	}
	var c status.Counts
	for _, j := range jobs {
		c.Add(j.Status)
	}
	return c
}

// DetailFetcher fetches fresh experiment details.
type DetailFetcher interface {
	Detail(ctx context.Context, id string) (*amlt.ExperimentDetail, error)
}

// Set bundles the caches that share one directory.
type Set struct {
	Experiments *ExperimentCache
	Details     *DetailCache
	Config      *ConfigCache
	Tags        *TagCache
}

// OpenSet loads every cache from dir.
func OpenSet(dir string, logger *zap.Logger) *Set {
	path := func(name string) string {
		if dir == "" {
			return ""
		}
		return filepath.Join(dir, name)
	}
	return &Set{
		Experiments: NewExperimentCache(path(ExperimentFile), logger),
		Details:     NewDetailCache(path(DetailFile), logger),
		Config:      NewConfigCache(path(ConfigFile), logger),
		Tags:        NewTagCache(path(TagFile), logger),
	}
}

// Lookup returns the detail of id, served from the detail cache when
// possible. A fresh detail that turns out terminal is written through to
// the detail cache, and to the experiment cache unless it already holds the
// same status. Persist failures are returned alongside the detail.
func (s *Set) Lookup(ctx context.Context, id string, f DetailFetcher, refresh bool) (Detail, error) {
	if !refresh {
		if c, ok := s.Details.Get(id); ok {
			return NewCachedDetail(c), nil
		}
	}

	d, err := f.Detail(ctx, id)
	if err != nil {
		return nil, err
	}
	fresh := NewFreshDetail(d)

	_, firstErr := s.Details.Add(id, d, d.Jobs)
	resolved := ResolveStatus(fresh, "")
	if cur, ok := s.Experiments.Get(id); ok && cur.Status == status.Normalize(resolved) {
		return fresh, firstErr
	}
	if status.IsTerminal(resolved) {
		_, err := s.Experiments.ForceWrite(ForceWriteParams{
			ID:       id,
			Status:   resolved,
			Cluster:  d.Cluster,
			JobCount: d.JobCount,
			Counts:   d.Counts,
		})
		if firstErr == nil {
			firstErr = err
		}
	}
	return fresh, firstErr
}
