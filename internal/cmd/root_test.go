package cmd

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobwatch/pkg/amlt"
)

func TestSetVersionInfo(t *testing.T) {
	// Save original values
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		versionInfo.Version = origVersion
		versionInfo.Commit = origCommit
		versionInfo.BuildDate = origBuildDate
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2024-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestGetAppIdentity(t *testing.T) {
	t.Run("returns nil before init", func(t *testing.T) {
		// Save and restore
		orig := appIdentity
		appIdentity = nil
		defer func() { appIdentity = orig }()

		result := GetAppIdentity()
		assert.Nil(t, result)
	})

	t.Run("returns identity after set", func(t *testing.T) {
		// If appIdentity is already set from other tests, verify it returns
		if appIdentity != nil {
			result := GetAppIdentity()
			assert.NotNil(t, result)
			assert.Equal(t, appIdentity, result)
		}
	})
}

func TestFlagOverrides(t *testing.T) {
	orig := []string{rootLogLevel, rootLogFormat, rootCacheDir, rootAmltBin}
	origVerbose := rootVerbose
	defer func() {
		rootLogLevel, rootLogFormat, rootCacheDir, rootAmltBin = orig[0], orig[1], orig[2], orig[3]
		rootVerbose = origVerbose
	}()

	tests := []struct {
		name    string
		level   string
		format  string
		dir     string
		bin     string
		verbose bool
		want    map[string]any
	}{
		{
			name: "nothing set",
			want: map[string]any{},
		},
		{
			name:   "logging and paths",
			level:  "warn",
			format: "json",
			dir:    "/tmp/jw",
			bin:    "/opt/amlt",
			want: map[string]any{
				"logging": map[string]any{"level": "warn", "format": "json"},
				"cache":   map[string]any{"dir": "/tmp/jw"},
				"amlt":    map[string]any{"bin": "/opt/amlt"},
			},
		},
		{
			name:    "verbose wins over level",
			level:   "error",
			verbose: true,
			want: map[string]any{
				"logging": map[string]any{"level": "debug"},
			},
		},
		{
			name: "blank values ignored",
			dir:  "   ",
			want: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rootLogLevel, rootLogFormat, rootCacheDir, rootAmltBin = tt.level, tt.format, tt.dir, tt.bin
			rootVerbose = tt.verbose
			assert.Equal(t, tt.want, flagOverrides())
		})
	}
}

func TestExitError(t *testing.T) {
	t.Run("wraps cause", func(t *testing.T) {
		cause := errors.New("boom")
		err := exitError(exitFileWrite, "Failed to write", cause)
		require.Error(t, err)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, fmt.Sprintf("Failed to write: boom (exit code %d)", exitFileWrite), err.Error())
		assert.Equal(t, exitFileWrite, exitCodeOf(err))
	})

	t.Run("nil cause uses message", func(t *testing.T) {
		err := exitError(exitInvalidArgument, "Bad input", nil)
		assert.Contains(t, err.Error(), "bad input")
		assert.Equal(t, exitInvalidArgument, exitCodeOf(err))
	})
}

func TestExitCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"coded", exitError(exitFileNotFound, "missing", nil), exitFileNotFound},
		{"wrapped coded", fmt.Errorf("outer: %w", exitError(exitExternalService, "down", nil)), exitExternalService},
		{"cancelled", context.Canceled, exitSignalInt},
		{"fetch", &amlt.FetchError{Op: "status", Err: errors.New("exit 1")}, exitExternalService},
		{"not found", fmt.Errorf("%w: x", amlt.ErrNotFound), exitFileNotFound},
		{"plain", errors.New("plain"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeOf(tt.err))
		})
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"list", "status", "watch", "reconcile", "cancel", "cache", "tag", "sync", "history", "serve", "version", "doctor"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}
