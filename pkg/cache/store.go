// Package cache keeps the local view of experiments whose state can no
// longer change, so that they are not fetched from amlt again.
//
// Every cache is a map persisted as one JSON document. The whole map is
// rewritten after each mutation (temp file + rename) and loaded best-effort:
// a missing, unreadable or invalid file yields an empty cache. Each cache
// serializes its operations with a mutex and never holds it across calls to
// amlt.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Default file names inside the cache directory.
const (
	ExperimentFile = "experiment_cache.json"
	DetailFile     = "detail_cache.json"
	ConfigFile     = "config_cache.json"
	TagFile        = "tag_cache.json"
)

// ErrPersist indicates a cache mutation was applied in memory but could not
// be written to disk.
var ErrPersist = errors.New("cache persist failed")

// fileStore reads and writes a map[string]T as a single JSON document.
type fileStore[T any] struct {
	path   string
	schema *schemaCheck
	logger *zap.Logger
}

func newFileStore[T any](path string, schema *schemaCheck, logger *zap.Logger) *fileStore[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &fileStore[T]{path: strings.TrimSpace(path), schema: schema, logger: logger}
}

// load returns the persisted map. It never fails: problems are logged and
// produce an empty map.
func (s *fileStore[T]) load() map[string]T {
	out := make(map[string]T)
	if s.path == "" {
		return out
	}

	b, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("cache file unreadable, starting empty", zap.String("path", s.path), zap.Error(err))
		}
		return out
	}
	if strings.TrimSpace(string(b)) == "" {
		return out
	}

	if err := s.schema.validate(b); err != nil {
		s.logger.Warn("cache file failed validation, starting empty", zap.String("path", s.path), zap.Error(err))
		return out
	}

	if err := json.Unmarshal(b, &out); err != nil {
		s.logger.Warn("cache file corrupt, starting empty", zap.String("path", s.path), zap.Error(err))
		return make(map[string]T)
	}
	return out
}

// save atomically replaces the file with the serialized map.
func (s *fileStore[T]) save(m map[string]T) error {
	if s.path == "" {
		return nil
	}

	dir := filepath.Dir(s.path)
	// #nosec G301 -- cache directory uses 0755 like other app data dirs
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create cache dir: %w", ErrPersist, err)
	}

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %w", ErrPersist, err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrPersist, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write temp file: %w", ErrPersist, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %w", ErrPersist, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: rename cache file: %w", ErrPersist, err)
	}
	return nil
}

// remove deletes the backing file. A missing file is not an error.
func (s *fileStore[T]) remove() error {
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove cache file: %w", ErrPersist, err)
	}
	return nil
}
