package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobwatch/internal/config"
	"github.com/3leaps/jobwatch/internal/observability"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the environment jobwatch depends on and suggest
fixes for common issues.

Examples:
  jobwatch doctor            # Local checks
  jobwatch doctor --online   # Also ask amlt for the current project`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().Bool("online", false, "Run checks that invoke amlt")
}

// doctorCheck is one diagnostic. A failing required check fails the command.
type doctorCheck struct {
	name     string
	required bool
	run      func(ctx context.Context) (string, error)
}

func checkGoVersion(v string) (string, error) {
	if v >= "go1.23" || strings.HasPrefix(v, "devel") {
		return v, nil
	}
	return v, fmt.Errorf("%s is older than go1.23", v)
}

func checkFulmen() (string, error) {
	v := crucible.GetVersion()
	if v.Crucible == "" || v.Gofulmen == "" {
		return "", errors.New("cannot read crucible/gofulmen versions")
	}
	return fmt.Sprintf("crucible v%s, gofulmen v%s", v.Crucible, v.Gofulmen), nil
}

func checkAmltBinary(bin string) (string, error) {
	if strings.TrimSpace(bin) == "" {
		return "", errors.New("amlt.bin is empty")
	}
	path, err := lookPath(bin)
	if err != nil {
		return "", fmt.Errorf("%s not found on PATH; install amlt or set amlt.bin / JOBWATCH_AMLT_BIN", bin)
	}
	return path, nil
}

// checkWritableDir verifies dir exists or can be created, and accepts files.
func checkWritableDir(dir string) (string, error) {
	if dir == "" {
		return "", errors.New("directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dir, err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return dir, fmt.Errorf("%s is not writable: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return dir, nil
}

func doctorChecks(cfg *config.Config, online bool) []doctorCheck {
	checks := []doctorCheck{
		{name: "Go version", run: func(context.Context) (string, error) {
			return checkGoVersion(runtime.Version())
		}},
		{name: "Fulmen libraries", required: true, run: func(context.Context) (string, error) {
			return checkFulmen()
		}},
		{name: "config directory", run: func(context.Context) (string, error) {
			dir, err := os.UserConfigDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(dir, config.DefaultIdentity.ConfigName), nil
		}},
		{name: "cache directory", required: true, run: func(context.Context) (string, error) {
			dir, err := cacheDir(cfg)
			if err != nil {
				return "", err
			}
			return checkWritableDir(dir)
		}},
		{name: "history database", run: func(ctx context.Context) (string, error) {
			store, err := openHistory(ctx, cfg)
			if err != nil {
				return "", err
			}
			defer func() { _ = store.Close() }()
			v, err := store.Version(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("schema v%d", v), store.Ping(ctx)
		}},
		{name: "amlt executable", required: true, run: func(context.Context) (string, error) {
			return checkAmltBinary(cfg.Amlt.Bin)
		}},
		{name: "environment", run: func(context.Context) (string, error) {
			return runtime.GOOS + "/" + runtime.GOARCH, nil
		}},
	}
	if online {
		checks = append(checks, doctorCheck{name: "amlt project", required: true, run: func(ctx context.Context) (string, error) {
			s, err := newSession()
			if err != nil {
				return "", err
			}
			return s.client.OutputDir(ctx)
		}})
	}
	return checks
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	online, _ := cmd.Flags().GetBool("online")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	log := observability.CLILogger
	log.Info("=== " + bannerName + " ===")
	log.Info("")
	log.Info("Running diagnostic checks...")
	log.Info("")

	checks := doctorChecks(currentConfig(), online)
	var failed []string
	warnings := 0
	for i, c := range checks {
		detail, err := c.run(ctx)
		prefix := fmt.Sprintf("[%d/%d] Checking %s...", i+1, len(checks), c.name)
		switch {
		case err == nil:
			log.Info(fmt.Sprintf("%s ✅ %s", prefix, detail), zap.String("check", c.name))
		case c.required:
			log.Error(fmt.Sprintf("%s ❌ %v", prefix, err), zap.String("check", c.name))
			failed = append(failed, c.name)
		default:
			log.Warn(fmt.Sprintf("%s ⚠️  %v", prefix, err), zap.String("check", c.name))
			warnings++
		}
	}

	log.Info("")
	switch {
	case len(failed) > 0:
		log.Error("❌ Some required checks failed. Review the output above for details.")
	case warnings > 0:
		log.Warn("⚠️  Some checks reported warnings. Review the output above for details.")
	default:
		log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	}
	log.Info("")
	log.Info("=== End Diagnostics ===")

	if len(failed) > 0 {
		return exitError(exitExternalService, "Diagnostics failed", fmt.Errorf("failed checks: %s", strings.Join(failed, ", ")))
	}
	return nil
}
