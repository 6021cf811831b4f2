package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/jobwatch/pkg/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the local caches",
	Long: `Inspect and manage the caches kept under the cache directory:

  experiment_cache.json  experiments that reached a terminal status
  detail_cache.json      job lists of experiments whose jobs all finished
  config_cache.json      values learned from amlt (output directory)
  tag_cache.json         user tags`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache counts per status",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <experiment>",
	Short: "Show what the caches hold for an experiment",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheShow,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cached entries",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

var cacheRemoveCmd = &cobra.Command{
	Use:   "remove <experiment>...",
	Short: "Remove experiments from the caches",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCacheRemove,
}

var cacheOutputDirCmd = &cobra.Command{
	Use:   "output-dir",
	Short: "Show the amlt output directory, asking amlt once and caching it",
	Args:  cobra.NoArgs,
	RunE:  runCacheOutputDir,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheShowCmd, cacheClearCmd, cacheRemoveCmd, cacheOutputDirCmd)

	cacheStatsCmd.Flags().Bool("json", false, "Output as JSON")
	cacheShowCmd.Flags().Bool("json", false, "Output as JSON")
	cacheShowCmd.Flags().Bool("yaml", false, "Output as YAML")
	cacheClearCmd.Flags().Bool("experiments", false, "Clear only the experiment cache")
	cacheClearCmd.Flags().Bool("details", false, "Clear only the detail cache")
	cacheClearCmd.Flags().Bool("config", false, "Clear only the config cache")
	cacheOutputDirCmd.Flags().Bool("refresh", false, "Ask amlt again instead of using the cached value")
}

// cacheStats is the structured form of `cache stats`.
type cacheStats struct {
	Dir         string         `json:"dir"`
	Experiments map[string]int `json:"experiments"`
	Details     map[string]int `json:"details"`
	Tagged      int            `json:"tagged"`
}

func runCacheStats(cmd *cobra.Command, _ []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	s, err := newSession()
	if err != nil {
		return exitError(exitFileNotFound, "Cannot locate cache directory", err)
	}
	dir, _ := cacheDir(s.cfg)
	stats := cacheStats{
		Dir:         dir,
		Experiments: s.caches.Experiments.Stats(),
		Details:     s.caches.Details.Stats(),
		Tagged:      len(s.caches.Tags.All()),
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	renderCacheStats(out, stats)
	return nil
}

func renderCacheStats(w io.Writer, st cacheStats) {
	_, _ = fmt.Fprintf(w, "Cache directory: %s\n\n", st.Dir)
	_, _ = fmt.Fprintf(w, "Experiments: %d\n", st.Experiments["total"])

	keys := make([]string, 0, len(st.Experiments))
	for k := range st.Experiments {
		if k != "total" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	t := newTable("STATUS", "COUNT")
	for _, k := range keys {
		t.add(statusCell(k, k), fmt.Sprint(st.Experiments[k]))
	}
	t.render(w, "  ")

	_, _ = fmt.Fprintf(w, "Details:     %d (%d jobs)\n", st.Details["total"], st.Details["jobs"])
	_, _ = fmt.Fprintf(w, "Tagged:      %d\n", st.Tagged)
}

// cacheEntry is the structured form of `cache show`.
type cacheEntry struct {
	ID         string                        `json:"id" yaml:"id"`
	Experiment *cache.CachedExperiment       `json:"experiment,omitempty" yaml:"experiment,omitempty"`
	Detail     *cache.CachedExperimentDetail `json:"detail,omitempty" yaml:"detail,omitempty"`
	Tag        string                        `json:"tag,omitempty" yaml:"tag,omitempty"`
}

func runCacheShow(cmd *cobra.Command, args []string) error {
	id := args[0]
	jsonOut, _ := cmd.Flags().GetBool("json")
	yamlOut, _ := cmd.Flags().GetBool("yaml")
	if jsonOut && yamlOut {
		return exitError(exitInvalidArgument, "Invalid flags", errors.New("--json and --yaml are mutually exclusive"))
	}

	s, err := newSession()
	if err != nil {
		return exitError(exitFileNotFound, "Cannot locate cache directory", err)
	}
	entry := cacheEntry{ID: id, Tag: s.caches.Tags.Get(id)}
	if e, ok := s.caches.Experiments.Get(id); ok {
		entry.Experiment = &e
	}
	if d, ok := s.caches.Details.Get(id); ok {
		entry.Detail = &d
	}
	if entry.Experiment == nil && entry.Detail == nil && entry.Tag == "" {
		return exitError(exitFileNotFound, "Not cached", fmt.Errorf("no cache entry for %s", id))
	}

	out := cmd.OutOrStdout()
	switch {
	case jsonOut:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entry)
	case yamlOut:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		return enc.Encode(entry)
	}

	_, _ = fmt.Fprintln(out, id)
	if e := entry.Experiment; e != nil {
		_, _ = fmt.Fprintf(out, "  experiment: %s  %s  %d job(s)  cached %s\n", statusCell(e.Status, e.StatusStr), e.Cluster, e.JobCount, e.CachedAt)
	}
	if d := entry.Detail; d != nil {
		_, _ = fmt.Fprintf(out, "  detail:     %d job(s)  cached %s\n", len(d.Jobs), d.CachedAt)
	}
	if entry.Tag != "" {
		_, _ = fmt.Fprintf(out, "  tag:        %s\n", entry.Tag)
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	onlyExp, _ := f.GetBool("experiments")
	onlyDet, _ := f.GetBool("details")
	onlyCfg, _ := f.GetBool("config")
	all := !onlyExp && !onlyDet && !onlyCfg

	s, err := newSession()
	if err != nil {
		return exitError(exitFileNotFound, "Cannot locate cache directory", err)
	}

	type target struct {
		name  string
		on    bool
		clear func() error
	}
	targets := []target{
		{"experiment", all || onlyExp, s.caches.Experiments.Clear},
		{"detail", all || onlyDet, s.caches.Details.Clear},
		{"config", all || onlyCfg, s.caches.Config.Clear},
	}
	out := cmd.OutOrStdout()
	for _, t := range targets {
		if !t.on {
			continue
		}
		if err := t.clear(); err != nil {
			return exitError(exitFileWrite, fmt.Sprintf("Failed to clear %s cache", t.name), err)
		}
		_, _ = fmt.Fprintf(out, "Cleared %s cache\n", t.name)
	}
	return nil
}

func runCacheRemove(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return exitError(exitFileNotFound, "Cannot locate cache directory", err)
	}
	out := cmd.OutOrStdout()
	for _, id := range args {
		if err := s.caches.Experiments.Remove(id); err != nil {
			return exitError(exitFileWrite, "Failed to update experiment cache", err)
		}
		if err := s.caches.Details.Remove(id); err != nil {
			return exitError(exitFileWrite, "Failed to update detail cache", err)
		}
		_, _ = fmt.Fprintf(out, "Removed %s\n", id)
	}
	return nil
}

func runCacheOutputDir(cmd *cobra.Command, _ []string) error {
	refresh, _ := cmd.Flags().GetBool("refresh")
	s, err := newSession()
	if err != nil {
		return exitError(exitFileNotFound, "Cannot locate cache directory", err)
	}
	if refresh {
		if err := s.caches.Config.Set(cache.KeyOutputDir, ""); err != nil {
			return exitError(exitFileWrite, "Failed to update config cache", err)
		}
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), s.caches.Config.OutputDir(cmd.Context(), s.client))
	return nil
}
