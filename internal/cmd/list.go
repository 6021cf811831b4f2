package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobwatch/internal/observability"
	"github.com/3leaps/jobwatch/pkg/match"
	"github.com/3leaps/jobwatch/pkg/output"
	"github.com/3leaps/jobwatch/pkg/reconcile"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent experiments grouped by status",
	Long: `List the most recent experiments grouped by status.

Terminal experiments that have fallen out of amlt's recent list are merged
in from the cache. Experiments the cache has corrected to a terminal status
are shown under that status.

Examples:
  jobwatch list
  jobwatch list --status running,queued
  jobwatch list --match 'sweep-*' --exclude '*-debug' --max-age 1d
  jobwatch list --reconcile --jsonl`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	f := listCmd.Flags()
	f.Int("limit", 0, "Number of recent experiments to request (default from poll.list_limit)")
	f.StringSlice("status", nil, "Only show these statuses (running, queued, pass, fail, killed)")
	f.StringSlice("match", nil, "Include experiment names matching these globs")
	f.StringSlice("exclude", nil, "Exclude experiment names matching these globs")
	f.Bool("ignore-case", false, "Match names case-insensitively")
	f.String("max-age", "", "Only show experiments modified within this age (e.g. 90m, 2h, 3d)")
	f.String("cluster", "", "Only show experiments whose cluster matches this regex")
	f.StringSlice("tag", nil, "Only show experiments with these tags")
	f.Bool("cached-only", false, "Show only experiments held in the terminal cache")
	f.Bool("reconcile", false, "Run one reconciliation cycle before listing")
	f.Bool("json", false, "Output as JSON")
	f.Bool("jsonl", false, "Output as JSONL records")
}

func selectorFromFlags(cmd *cobra.Command) (*match.Selector, error) {
	f := cmd.Flags()
	includes, _ := f.GetStringSlice("match")
	excludes, _ := f.GetStringSlice("exclude")
	ignoreCase, _ := f.GetBool("ignore-case")
	statuses, _ := f.GetStringSlice("status")
	maxAge, _ := f.GetString("max-age")
	cluster, _ := f.GetString("cluster")
	tags, _ := f.GetStringSlice("tag")

	sel, err := match.NewSelector(includes, excludes, ignoreCase, &match.FilterConfig{
		Statuses:     statuses,
		MaxAge:       maxAge,
		ClusterRegex: cluster,
		Tags:         tags,
	})
	if err != nil {
		return nil, exitError(exitInvalidArgument, "Invalid filter", err)
	}
	return sel, nil
}

func runList(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	limit, _ := f.GetInt("limit")
	cachedOnly, _ := f.GetBool("cached-only")
	doReconcile, _ := f.GetBool("reconcile")
	jsonOut, _ := f.GetBool("json")
	jsonlOut, _ := f.GetBool("jsonl")
	if jsonOut && jsonlOut {
		return exitError(exitInvalidArgument, "Invalid flags", fmt.Errorf("--json and --jsonl are mutually exclusive"))
	}

	sel, err := selectorFromFlags(cmd)
	if err != nil {
		return err
	}

	s, err := newSession()
	if err != nil {
		return exitError(exitFileNotFound, "Cannot locate cache directory", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	var (
		items   []reconcile.Item
		corrs   int
		listed  int
		cached  int
	)
	if cachedOnly {
		items = cachedItems(s)
	} else {
		mon := s.monitor(limit)
		snap, err := mon.Refresh(ctx)
		if err != nil {
			return exitError(exitFileWrite, "Failed to update cache", err)
		}
		if doReconcile {
			res, err := s.loop(nil).RunOnce(ctx)
			if err != nil {
				return exitError(exitFileWrite, "Reconciliation failed", err)
			}
			corrs = len(res.Corrections)
			if corrs > 0 {
				if snap, err = mon.Refresh(ctx); err != nil {
					return exitError(exitFileWrite, "Failed to update cache", err)
				}
			}
		}
		items = snap.Items
		listed = snap.Listed
		cached = snap.Cached
	}

	selected := make([]reconcile.Item, 0, len(items))
	for _, it := range items {
		if sel.Selects(match.SubjectOf(it.ExperimentSummary, s.caches.Tags.Get(it.ID))) {
			selected = append(selected, it)
		}
	}
	observability.CLILogger.Debug("Listed experiments",
		zap.Int("listed", listed),
		zap.Int("cached", cached),
		zap.Int("selected", len(selected)),
		zap.String("selector", sel.String()))

	out := cmd.OutOrStdout()
	switch {
	case jsonlOut:
		return writeListJSONL(ctx, out, s, selected, corrs, time.Since(start))
	case jsonOut:
		records := make([]*output.ExperimentRecord, 0, len(selected))
		for _, it := range selected {
			records = append(records, output.NewExperimentRecord(it, s.caches.Tags.Get(it.ID)))
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(selected) == 0 {
		_, _ = fmt.Fprintln(out, "No experiments found")
		return nil
	}
	renderSnapshot(out, selected, s.caches.Tags.Get)
	if corrs > 0 {
		_, _ = fmt.Fprintf(out, "\n%d status correction(s) applied\n", corrs)
	}
	return nil
}

// cachedItems turns the terminal cache into snapshot items.
func cachedItems(s *session) []reconcile.Item {
	all := s.caches.Experiments.GetAll()
	items := make([]reconcile.Item, 0, len(all))
	for _, c := range all {
		items = append(items, reconcile.Item{ExperimentSummary: c.Summary(), FromCache: true})
	}
	return items
}

func writeListJSONL(ctx context.Context, w io.Writer, s *session, items []reconcile.Item, corrections int, elapsed time.Duration) error {
	jw := output.NewJSONLWriter(w, uuid.NewString())
	defer func() { _ = jw.Close() }()

	sum := &output.SummaryRecord{Groups: map[string]int{}, Corrections: corrections}
	for _, it := range items {
		if err := jw.WriteExperiment(ctx, output.NewExperimentRecord(it, s.caches.Tags.Get(it.ID))); err != nil {
			return err
		}
		sum.Experiments++
		sum.Groups[reconcile.GroupOf(it.Status)]++
		if it.FromCache {
			sum.FromCache++
		}
	}
	sum.Duration = elapsed
	sum.DurationHuman = elapsed.Round(time.Millisecond).String()
	return jw.WriteSummary(ctx, sum)
}
