package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3leaps/jobwatch/internal/config"
	"github.com/3leaps/jobwatch/pkg/amlt"
	"github.com/3leaps/jobwatch/pkg/amlt/amlttest"
)

// fakeSource serves canned amlt output.
type fakeSource struct {
	mu        sync.Mutex
	list      string
	details   map[string]string
	project   string
	cancel    amlt.CancelResult
	fetched   []string
	cancelled []string
}

func (f *fakeSource) ListRecent(context.Context, int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list, nil
}

func (f *fakeSource) StatusDetail(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, id)
	out, ok := f.details[id]
	if !ok {
		return "", errors.New("exit status 1")
	}
	return out, nil
}

func (f *fakeSource) Cancel(_ context.Context, id string, job *int) amlt.CancelResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := id
	if job != nil {
		target = fmt.Sprintf("%s:%d", id, *job)
	}
	f.cancelled = append(f.cancelled, target)
	return f.cancel
}

func (f *fakeSource) Project(context.Context) (string, error) {
	if f.project == "" {
		return "", errors.New("no project")
	}
	return f.project, nil
}

func (f *fakeSource) fetches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

// cliEnv points the CLI at temp dirs and a source.
type cliEnv struct {
	dir string
}

func newCLIEnv(t *testing.T, src amlt.Source) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("JOBWATCH_CACHE_DIR", filepath.Join(dir, "cache"))
	t.Setenv("JOBWATCH_HISTORY_PATH", filepath.Join(dir, "history.db"))
	t.Setenv("JOBWATCH_REQUEST_DELAY", "0s")
	t.Setenv("JOBWATCH_LOG_LEVEL", "error")

	origSource, origConfig := newSource, appConfig
	newSource = func(*config.Config, *zap.Logger) amlt.Source { return src }
	t.Cleanup(func() {
		newSource = origSource
		appConfig = origConfig
		config.SetConfigFile("")
	})
	return &cliEnv{dir: dir}
}

// run executes the root command with args and returns stdout.
func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		resetFlags(rootCmd)
	}()
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, "", args...)
	require.NoError(t, err, "jobwatch %s", strings.Join(args, " "))
	return out
}

// resetFlags restores every flag in the tree to its default, since cobra
// keeps flag values between executions.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// demoSource lists one experiment per group. "stale" is listed as running
// although its driver job failed.
func demoSource() *fakeSource {
	return &fakeSource{
		list: amlttest.ListOutput(
			amlttest.ListRow{Name: "stale", Modified: "5m ago", Status: "Running (2)", Cluster: "cluster-a"},
			amlttest.ListRow{Name: "sweep-1", Modified: "10m ago", Status: "Running (1)", Cluster: "cluster-b"},
			amlttest.ListRow{Name: "queued-1", Modified: "1m ago", Status: "Queued (1)"},
			amlttest.ListRow{Name: "done-1", Modified: "2h ago", Status: "Pass (3)"},
			amlttest.ListRow{Name: "broken-1", Modified: "3d ago", Status: "Failed (1)"},
		),
		details: map[string]string{
			"stale": amlttest.StatusOutput("stale", "cluster-a",
				amlttest.JobRow{Index: 0, Name: "driver", Status: "failed"},
				amlttest.JobRow{Index: 1, Name: "worker", Status: "running"},
			),
			"sweep-1": amlttest.StatusOutput("sweep-1", "cluster-b",
				amlttest.JobRow{Index: 0, Name: "driver", Status: "running"},
			),
			"done-1": amlttest.StatusOutput("done-1", "cluster-a",
				amlttest.JobRow{Index: 0, Name: "driver", Status: "pass"},
				amlttest.JobRow{Index: 1, Name: "worker", Status: "pass"},
				amlttest.JobRow{Index: 2, Name: "worker", Status: "pass"},
			),
		},
		cancel: amlt.CancelResult{OK: true, Stdout: "cancelled"},
	}
}
