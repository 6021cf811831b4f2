package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	dir   string
	err   error
	calls int
}

func (s *stubResolver) OutputDir(context.Context) (string, error) {
	s.calls++
	return s.dir, s.err
}

func TestConfigCacheOutputDir(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves and caches", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ConfigFile)
		c := NewConfigCache(path, nil)
		r := &stubResolver{dir: "/data/amlt-out"}

		assert.Equal(t, "/data/amlt-out", c.OutputDir(ctx, r))
		assert.Equal(t, "/data/amlt-out", c.OutputDir(ctx, r))
		assert.Equal(t, 1, r.calls)

		reopened := NewConfigCache(path, nil)
		v, ok := reopened.Get(KeyOutputDir)
		require.True(t, ok)
		assert.Equal(t, "/data/amlt-out", v)
	})

	t.Run("falls back without caching", func(t *testing.T) {
		c := NewConfigCache(filepath.Join(t.TempDir(), ConfigFile), nil)
		r := &stubResolver{err: errors.New("amlt missing")}

		assert.Equal(t, DefaultOutputDir(), c.OutputDir(ctx, r))
		_, ok := c.Get(KeyOutputDir)
		assert.False(t, ok)

		assert.Equal(t, DefaultOutputDir(), c.OutputDir(ctx, nil))
	})

	t.Run("empty answer falls back", func(t *testing.T) {
		c := NewConfigCache("", nil)
		assert.Equal(t, DefaultOutputDir(), c.OutputDir(ctx, &stubResolver{}))
	})
}

func TestConfigCacheSetAllClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFile)
	c := NewConfigCache(path, nil)

	require.NoError(t, c.Set("a", "1"))
	require.NoError(t, c.Set("b", "2"))
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, NewConfigCache(path, nil).All())

	require.NoError(t, c.Clear())
	assert.Empty(t, c.All())
	assert.NoFileExists(t, path)
}

func TestTagCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), TagFile)
	c := NewTagCache(path, nil)

	require.NoError(t, c.Set("exp-1", "baseline"))
	require.NoError(t, c.Set("exp-2", "  baseline "))
	require.NoError(t, c.Set("exp-3", "ablation"))

	assert.Equal(t, "baseline", c.Get("exp-2"))
	assert.Equal(t, "", c.Get("missing"))
	assert.Equal(t, []string{"exp-1", "exp-2"}, c.Tagged("baseline"))

	require.NoError(t, c.Set("exp-1", ""))
	assert.Equal(t, "", c.Get("exp-1"))

	reopened := NewTagCache(path, nil)
	assert.Equal(t, map[string]string{"exp-2": "baseline", "exp-3": "ablation"}, reopened.All())
}
