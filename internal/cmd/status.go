package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/jobwatch/internal/observability"
	"github.com/3leaps/jobwatch/pkg/amlt"
	"github.com/3leaps/jobwatch/pkg/cache"
	"github.com/3leaps/jobwatch/pkg/output"
	"github.com/3leaps/jobwatch/pkg/status"
)

var statusCmd = &cobra.Command{
	Use:   "status <experiment>",
	Short: "Show the per-job status of an experiment",
	Long: `Show the per-job status of an experiment.

Details of experiments whose jobs have all finished are served from the
detail cache. Use --refresh to ask amlt again.

Examples:
  jobwatch status my-experiment
  jobwatch status my-experiment --refresh --yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().Bool("refresh", false, "Bypass the detail cache")
	statusCmd.Flags().Bool("json", false, "Output as JSON")
	statusCmd.Flags().Bool("yaml", false, "Output as YAML")
}

// statusView is the structured form of `status`.
type statusView struct {
	ID        string              `json:"id" yaml:"id"`
	Status    string              `json:"status" yaml:"status"`
	Cluster   string              `json:"cluster,omitempty" yaml:"cluster,omitempty"`
	JobCount  int                 `json:"job_count" yaml:"job_count"`
	Counts    status.Counts       `json:"counts" yaml:"counts"`
	FromCache bool                `json:"from_cache" yaml:"from_cache"`
	CachedAt  string              `json:"cached_at,omitempty" yaml:"cached_at,omitempty"`
	Tag       string              `json:"tag,omitempty" yaml:"tag,omitempty"`
	Jobs      []*output.JobRecord `json:"jobs" yaml:"jobs"`
}

func newStatusView(id string, d cache.Detail, fallback, tag string) statusView {
	v := statusView{
		ID:        id,
		Status:    cache.ResolveStatus(d, fallback),
		Cluster:   d.Cluster(),
		JobCount:  d.JobCount(),
		Counts:    d.Counts(),
		FromCache: d.FromCache(),
		Tag:       tag,
		Jobs:      []*output.JobRecord{},
	}
	if c, ok := d.(cache.CachedDetail); ok {
		v.CachedAt = c.CachedAt()
	}
	for _, j := range d.Jobs() {
		v.Jobs = append(v.Jobs, output.NewJobRecord(id, j, d.FromCache()))
	}
	return v
}

func runStatus(cmd *cobra.Command, args []string) error {
	id := args[0]
	refresh, _ := cmd.Flags().GetBool("refresh")
	jsonOut, _ := cmd.Flags().GetBool("json")
	yamlOut, _ := cmd.Flags().GetBool("yaml")
	if jsonOut && yamlOut {
		return exitError(exitInvalidArgument, "Invalid flags", errors.New("--json and --yaml are mutually exclusive"))
	}

	s, err := newSession()
	if err != nil {
		return exitError(exitFileNotFound, "Cannot locate cache directory", err)
	}

	d, err := s.caches.Lookup(cmd.Context(), id, s.client, refresh)
	if err != nil {
		switch {
		case d != nil:
			observability.CLILogger.Warn("Cache write-through failed", zap.String("experiment", id), zap.Error(err))
		case errors.Is(err, amlt.ErrNotFound):
			return exitError(exitFileNotFound, "Experiment not found", err)
		default:
			return exitError(exitExternalService, "Failed to fetch experiment status", err)
		}
	}

	fallback := ""
	if e, ok := s.caches.Experiments.Get(id); ok {
		fallback = e.Status
	}
	view := newStatusView(id, d, fallback, s.caches.Tags.Get(id))

	out := cmd.OutOrStdout()
	switch {
	case jsonOut:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	case yamlOut:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		return enc.Encode(view)
	}
	renderStatus(out, view)
	return nil
}

func renderStatus(w io.Writer, v statusView) {
	d := status.DisplayFor(v.Status)
	_, _ = fmt.Fprintf(w, "%s %s  %s\n", d.Icon, v.ID, d.Label)
	if v.Cluster != "" {
		_, _ = fmt.Fprintf(w, "Cluster:  %s\n", v.Cluster)
	}
	_, _ = fmt.Fprintf(w, "Jobs:     %d\n", v.JobCount)
	if v.Tag != "" {
		_, _ = fmt.Fprintf(w, "Tag:      %s\n", v.Tag)
	}
	if v.FromCache {
		_, _ = fmt.Fprintf(w, "Cached:   %s\n", v.CachedAt)
	}
	if len(v.Jobs) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)

	t := newTable("#", "JOB", "STATUS", "DURATION", "SUBMITTED").limit(1, 40)
	for _, j := range v.Jobs {
		t.add(fmt.Sprintf(":%d", j.Index), j.Name, statusCell(status.Normalize(j.Status), j.Status), j.Duration, j.Submitted)
	}
	t.render(w, "")
}
