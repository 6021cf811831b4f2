package cache

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// KeyOutputDir is the ConfigCache key holding amlt's default output
// directory.
const KeyOutputDir = "output_dir"

// scalarMap is a persisted string-to-string map.
type scalarMap struct {
	mu     sync.Mutex
	values map[string]string
	store  *fileStore[string]
}

func newScalarMap(path string, logger *zap.Logger) *scalarMap {
	store := newFileStore[string](path, scalarSchema, logger)
	return &scalarMap{values: store.load(), store: store}
}

func (m *scalarMap) get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *scalarMap) set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return m.store.save(m.values)
}

func (m *scalarMap) remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; !ok {
		return nil
	}
	delete(m.values, key)
	return m.store.save(m.values)
}

func (m *scalarMap) all() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

func (m *scalarMap) clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]string)
	return m.store.remove()
}

// OutputDirResolver asks amlt for the project's default output directory.
type OutputDirResolver interface {
	OutputDir(ctx context.Context) (string, error)
}

// ConfigCache holds scalar values discovered from amlt, such as its output
// directory.
type ConfigCache struct {
	m      *scalarMap
	logger *zap.Logger
}

// NewConfigCache loads the cache persisted at path.
func NewConfigCache(path string, logger *zap.Logger) *ConfigCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigCache{m: newScalarMap(path, logger), logger: logger}
}

// Get returns the value stored under key.
func (c *ConfigCache) Get(key string) (string, bool) {
	return c.m.get(key)
}

// Set stores value under key.
func (c *ConfigCache) Set(key, value string) error {
	return c.m.set(key, value)
}

// All returns a copy of every stored value.
func (c *ConfigCache) All() map[string]string {
	return c.m.all()
}

// Clear drops every value and deletes the backing file.
func (c *ConfigCache) Clear() error {
	return c.m.clear()
}

// OutputDir returns the cached output directory, asking r and caching the
// answer when none is stored. If r cannot answer, ~/amlt is returned
// without being cached.
func (c *ConfigCache) OutputDir(ctx context.Context, r OutputDirResolver) string {
	if v, ok := c.Get(KeyOutputDir); ok && v != "" {
		return v
	}
	if r != nil {
		dir, err := r.OutputDir(ctx)
		if err == nil && dir != "" {
			if err := c.Set(KeyOutputDir, dir); err != nil {
				c.logger.Warn("cache output dir", zap.Error(err))
			}
			return dir
		}
		c.logger.Debug("output dir lookup failed, using fallback", zap.Error(err))
	}
	return DefaultOutputDir()
}

// DefaultOutputDir is the fallback used when amlt does not report one.
func DefaultOutputDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "amlt"
	}
	return filepath.Join(home, "amlt")
}

// TagCache stores a free-form user label per experiment ID.
type TagCache struct {
	m *scalarMap
}

// NewTagCache loads the cache persisted at path.
func NewTagCache(path string, logger *zap.Logger) *TagCache {
	return &TagCache{m: newScalarMap(path, logger)}
}

// Get returns the tag of id, or "" when none is set.
func (c *TagCache) Get(id string) string {
	v, _ := c.m.get(id)
	return v
}

// Set tags id. An empty tag removes it.
func (c *TagCache) Set(id, tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return c.m.remove(id)
	}
	return c.m.set(id, tag)
}

// Tagged returns the IDs carrying tag, sorted.
func (c *TagCache) Tagged(tag string) []string {
	var ids []string
	for id, v := range c.m.all() {
		if v == tag {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// All returns a copy of every tag keyed by experiment ID.
func (c *TagCache) All() map[string]string {
	return c.m.all()
}
