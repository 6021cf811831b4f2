// Package cmd implements the jobwatch command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobwatch/internal/config"
	apperrors "github.com/3leaps/jobwatch/internal/errors"
	"github.com/3leaps/jobwatch/internal/observability"
	"github.com/3leaps/jobwatch/internal/server/handlers"
)

// Exit codes used by commands.
var (
	exitInvalidArgument = int(foundry.ExitInvalidArgument)
	exitExternalService = int(foundry.ExitExternalServiceUnavailable)
	exitFileWrite       = int(foundry.ExitFileWriteError)
	exitFileNotFound    = int(foundry.ExitFileNotFound)
	exitSignalInt       = int(foundry.ExitSignalInt)
)

// VersionInfo is the build metadata injected by main.
type VersionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
}

var (
	versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}
	appIdentity *config.Identity
	appConfig   *config.Config
)

var (
	rootConfigFile string
	rootLogLevel   string
	rootLogFormat  string
	rootCacheDir   string
	rootAmltBin    string
	rootVerbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "jobwatch",
	Short: "Monitor amlt experiments",
	Long: `jobwatch monitors amlt experiments.

It lists recent experiments, caches terminal results so they stay visible
after they fall out of amlt's recent list, and reconciles experiments that
the list still reports as running against their per-job detail.

Examples:
  jobwatch list
  jobwatch status my-experiment
  jobwatch watch --jsonl
  jobwatch serve --port 8080`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootConfigFile, "config", "", "Config file (YAML)")
	pf.StringVar(&rootLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&rootLogFormat, "log-format", "", "Log format: console or json")
	pf.StringVar(&rootCacheDir, "cache-dir", "", "Directory holding the cache files")
	pf.StringVar(&rootAmltBin, "amlt-bin", "", "Path to the amlt executable")
	pf.BoolVarP(&rootVerbose, "verbose", "v", false, "Shorthand for --log-level debug")
}

// SetVersionInfo records build metadata.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity loaded by the config layer, or nil
// before any command ran.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	observability.Sync()
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
	return exitCodeOf(err)
}

func initConfig(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	config.SetConfigFile(rootConfigFile)
	cfg, err := config.Load(ctx, flagOverrides())
	if err != nil {
		return exitError(exitInvalidArgument, "Failed to load configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return exitError(exitInvalidArgument, "Invalid configuration", err)
	}
	appConfig = cfg
	appIdentity = config.AppIdentity()

	name := "jobwatch"
	if appIdentity != nil && appIdentity.BinaryName != "" {
		name = appIdentity.BinaryName
	}
	if err := observability.ConfigureCLILogger(name, cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return exitError(exitInvalidArgument, "Invalid logging configuration", err)
	}
	observability.CLILogger.Debug("Configuration loaded",
		zap.String("amlt_bin", cfg.Amlt.Bin),
		zap.String("cache_dir", cfg.Cache.Dir),
		zap.Duration("reconcile_interval", cfg.Poll.ReconcileInterval))
	return nil
}

// flagOverrides turns explicitly set root flags into config overrides.
func flagOverrides() map[string]any {
	o := map[string]any{}
	set := func(section, key, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		m, _ := o[section].(map[string]any)
		if m == nil {
			m = map[string]any{}
			o[section] = m
		}
		m[key] = value
	}
	level := rootLogLevel
	if rootVerbose {
		level = "debug"
	}
	set("logging", "level", level)
	set("logging", "format", rootLogFormat)
	set("cache", "dir", rootCacheDir)
	set("amlt", "bin", rootAmltBin)
	return o
}

// currentConfig returns the loaded config, loading defaults when a command
// runs without the root pre-run (tests).
func currentConfig() *config.Config {
	if appConfig != nil {
		return appConfig
	}
	if cfg := config.GetConfig(); cfg != nil {
		return cfg
	}
	cfg, err := config.Load(context.Background())
	if err != nil {
		return &config.Config{}
	}
	return cfg
}

// codedError carries a process exit code.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	if err == nil {
		err = errors.New(strings.ToLower(message))
	}
	return &codedError{code: code, err: fmt.Errorf("%s: %w (exit code %d)", message, err, code)}
}

func exitCodeOf(err error) int {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	if errors.Is(err, context.Canceled) {
		return exitSignalInt
	}
	return apperrors.ExitCode(err)
}
