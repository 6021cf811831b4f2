// Package config loads jobwatch settings from defaults, config files,
// JOBWATCH_* environment variables and runtime overrides, in increasing
// order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Identity names the application for config paths and env vars.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the identity of the jobwatch binary.
var DefaultIdentity = Identity{
	BinaryName: "jobwatch",
	EnvPrefix:  "JOBWATCH",
	ConfigName: "jobwatch",
}

// Config is the full application configuration.
type Config struct {
	Amlt    AmltConfig    `mapstructure:"amlt"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Poll    PollConfig    `mapstructure:"poll"`
	History HistoryConfig `mapstructure:"history"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Health  HealthConfig  `mapstructure:"health"`
	Debug   DebugConfig   `mapstructure:"debug"`
}

type AmltConfig struct {
	Bin     string        `mapstructure:"bin"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CacheConfig locates the cache files. An empty Dir means the app data
// directory.
type CacheConfig struct {
	Dir string `mapstructure:"dir"`
}

// PollConfig drives the list refresh and the reconciliation loop.
type PollConfig struct {
	ListInterval      time.Duration `mapstructure:"list_interval"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	BatchSize         int           `mapstructure:"batch_size"`
	RequestDelay      time.Duration `mapstructure:"request_delay"`
	Concurrency       int           `mapstructure:"concurrency"`
	ListLimit         int           `mapstructure:"list_limit"`
}

// HistoryConfig locates the history database. URL takes precedence over
// Path; an empty Path means history.db in the app data directory.
type HistoryConfig struct {
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.Amlt.Bin) == "" {
		add("amlt.bin must not be empty")
	}
	if c.Amlt.Timeout <= 0 {
		add("amlt.timeout must be positive, got %s", c.Amlt.Timeout)
	}
	if c.Poll.ListInterval <= 0 {
		add("poll.list_interval must be positive, got %s", c.Poll.ListInterval)
	}
	if c.Poll.ReconcileInterval <= 0 {
		add("poll.reconcile_interval must be positive, got %s", c.Poll.ReconcileInterval)
	}
	if c.Poll.BatchSize <= 0 {
		add("poll.batch_size must be positive, got %d", c.Poll.BatchSize)
	}
	if c.Poll.RequestDelay < 0 {
		add("poll.request_delay must not be negative, got %s", c.Poll.RequestDelay)
	}
	if c.Poll.Concurrency < 1 {
		add("poll.concurrency must be at least 1, got %d", c.Poll.Concurrency)
	}
	if c.Poll.ListLimit <= 0 {
		add("poll.list_limit must be positive, got %d", c.Poll.ListLimit)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port out of range: %d", c.Server.Port)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level %q is not a valid level", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		add("logging.format must be console or json, got %q", c.Logging.Format)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
