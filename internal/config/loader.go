package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

var (
	configMu    sync.RWMutex
	appIdentity *Identity
	appConfig   *Config
	configFile  string
)

// projectConfigName is looked up in the project root.
const projectConfigName = ".jobwatch.yaml"

// envSpec maps an environment variable to a config key.
type envSpec struct {
	Name string
	Path string
}

// SetConfigFile makes Load read path in addition to the discovered config
// files. An empty path clears it.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// AppIdentity returns the identity used by Load.
func AppIdentity() *Identity {
	configMu.RLock()
	defer configMu.RUnlock()
	return appIdentity
}

// GetConfig returns the config produced by the last Load, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Load builds the configuration. Each override map is applied on top of
// everything else, later maps winning.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}
	explicit := configFile
	configMu.Unlock()

	v := viper.New()
	setDefaults(v)

	files := getUserConfigPaths()
	if root, err := findProjectRoot(); err == nil {
		files = append(files, filepath.Join(root, projectConfigName))
	}
	for _, path := range files {
		if err := mergeFile(v, path, false); err != nil {
			return nil, err
		}
	}
	if explicit != "" {
		if err := mergeFile(v, explicit, true); err != nil {
			return nil, err
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, value := range flatten("", o) {
			v.Set(key, value)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("amlt.bin", "amlt")
	v.SetDefault("amlt.timeout", 60*time.Second)

	v.SetDefault("cache.dir", "")

	v.SetDefault("poll.list_interval", 5*time.Minute)
	v.SetDefault("poll.reconcile_interval", 5*time.Minute)
	v.SetDefault("poll.batch_size", 10)
	v.SetDefault("poll.request_delay", 500*time.Millisecond)
	v.SetDefault("poll.concurrency", 1)
	v.SetDefault("poll.list_limit", 100)

	v.SetDefault("history.path", "")
	v.SetDefault("history.url", "")
	v.SetDefault("history.auth_token", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("health.enabled", true)
	v.SetDefault("debug.enabled", false)
}

// mergeFile merges a YAML config file. Missing files are skipped unless
// required.
func mergeFile(v *viper.Viper, path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("config file %s: %w", path, err)
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	return nil
}

// flatten turns nested override maps into dotted keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

func getUserConfigPaths() []string {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []string{}
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return []string{}
	}
	return []string{
		filepath.Join(dir, id.ConfigName, "config.yaml"),
	}
}

func getEnvSpecs() []envSpec {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []envSpec{}
	}

	mapping := []struct{ suffix, path string }{
		{"AMLT_BIN", "amlt.bin"},
		{"AMLT_TIMEOUT", "amlt.timeout"},
		{"CACHE_DIR", "cache.dir"},
		{"LIST_INTERVAL", "poll.list_interval"},
		{"RECONCILE_INTERVAL", "poll.reconcile_interval"},
		{"BATCH_SIZE", "poll.batch_size"},
		{"REQUEST_DELAY", "poll.request_delay"},
		{"CONCURRENCY", "poll.concurrency"},
		{"LIST_LIMIT", "poll.list_limit"},
		{"HISTORY_PATH", "history.path"},
		{"HISTORY_URL", "history.url"},
		{"HISTORY_AUTH_TOKEN", "history.auth_token"},
		{"HOST", "server.host"},
		{"PORT", "server.port"},
		{"READ_TIMEOUT", "server.read_timeout"},
		{"WRITE_TIMEOUT", "server.write_timeout"},
		{"IDLE_TIMEOUT", "server.idle_timeout"},
		{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
		{"LOG_LEVEL", "logging.level"},
		{"LOG_FORMAT", "logging.format"},
		{"HEALTH_ENABLED", "health.enabled"},
		{"DEBUG", "debug.enabled"},
	}

	specs := make([]envSpec, 0, len(mapping))
	for _, m := range mapping {
		specs = append(specs, envSpec{Name: id.EnvPrefix + "_" + m.suffix, Path: m.path})
	}
	return specs
}

// boundaryEnvVars hint where a CI checkout ends.
var boundaryEnvVars = []string{"FULMEN_WORKSPACE_ROOT", "GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"}

// rootMarkers identify a project root.
var rootMarkers = []string{projectConfigName, "go.mod", ".git"}

// findProjectRoot walks up from the working directory to the nearest
// directory holding a root marker. The walk stops at $HOME, or in CI at
// the workspace boundary when one is set and contains the working
// directory. When nothing is found the working directory is returned.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	boundary := ""
	if home, err := os.UserHomeDir(); err == nil && within(cwd, home) {
		boundary = home
	}
	if isCI() {
		if b := ciBoundary(cwd); b != "" {
			boundary = b
		}
	}

	dir := cwd
	for {
		for _, marker := range rootMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		if dir == boundary {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return cwd, nil
}

func isCI() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}

// ciBoundary returns the first usable workspace boundary from the
// environment: absolute, existing and containing cwd.
func ciBoundary(cwd string) string {
	for _, name := range boundaryEnvVars {
		b := os.Getenv(name)
		if b == "" || !filepath.IsAbs(b) {
			continue
		}
		if info, err := os.Stat(b); err != nil || !info.IsDir() {
			continue
		}
		b = filepath.Clean(b)
		if within(cwd, b) {
			return b
		}
	}
	return ""
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
