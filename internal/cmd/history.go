package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/jobwatch/pkg/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query the history database written by sync",
}

var historyRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent sync runs",
	Args:  cobra.NoArgs,
	RunE:  runHistoryRuns,
}

var historyChangesCmd = &cobra.Command{
	Use:   "changes [experiment]",
	Short: "List recorded status changes",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistoryChanges,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <experiment>",
	Short: "Show the last recorded snapshot of an experiment",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the history database",
	Args:  cobra.NoArgs,
	RunE:  runHistoryStats,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyRunsCmd, historyChangesCmd, historyShowCmd, historyStatsCmd)

	historyRunsCmd.Flags().Int("limit", 20, "Maximum runs to show")
	historyRunsCmd.Flags().Bool("json", false, "Output as JSON")
	historyChangesCmd.Flags().Int("limit", 50, "Maximum changes to show")
	historyChangesCmd.Flags().Duration("since", 0, "Only changes newer than this (e.g. 24h)")
	historyChangesCmd.Flags().Bool("json", false, "Output as JSON")
	historyShowCmd.Flags().Bool("json", false, "Output as JSON")
	historyStatsCmd.Flags().Bool("json", false, "Output as JSON")
}

func writeJSONTo(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatStamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func runHistoryRuns(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOut, _ := cmd.Flags().GetBool("json")

	store, err := openHistory(cmd.Context(), currentConfig())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return exitError(exitFileNotFound, "Failed to read sync runs", err)
	}
	out := cmd.OutOrStdout()
	if jsonOut {
		return writeJSONTo(out, runs)
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(out, "No sync runs recorded")
		return nil
	}
	t := newTable("RUN ID", "KIND", "STARTED", "STATUS", "LISTED", "CORRECTIONS", "ERRORS", "MESSAGE").limit(7, 60)
	for _, r := range runs {
		t.add(r.RunID, r.Kind, formatStamp(r.StartedAt), r.Status,
			fmt.Sprint(r.Listed), fmt.Sprint(r.Corrections), fmt.Sprint(r.FetchErrors), r.Error)
	}
	t.render(out, "")
	return nil
}

func runHistoryChanges(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	since, _ := cmd.Flags().GetDuration("since")
	jsonOut, _ := cmd.Flags().GetBool("json")
	if since < 0 {
		return exitError(exitInvalidArgument, "Invalid --since", errors.New("duration must not be negative"))
	}

	q := history.ChangeQuery{Limit: limit}
	if len(args) == 1 {
		q.Experiment = args[0]
	}
	if since > 0 {
		q.Since = time.Now().Add(-since)
	}

	store, err := openHistory(cmd.Context(), currentConfig())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	changes, err := store.ListChanges(cmd.Context(), q)
	if err != nil {
		return exitError(exitFileNotFound, "Failed to read status changes", err)
	}
	out := cmd.OutOrStdout()
	if jsonOut {
		return writeJSONTo(out, changes)
	}
	if len(changes) == 0 {
		_, _ = fmt.Fprintln(out, "No status changes recorded")
		return nil
	}
	t := newTable("WHEN", "EXPERIMENT", "FROM", "TO", "SOURCE")
	for _, c := range changes {
		t.add(formatStamp(c.ChangedAt), c.Experiment, statusCell(c.OldStatus, c.OldStatus), statusCell(c.NewStatus, c.NewStatus), c.Source)
	}
	t.render(out, "")
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	store, err := openHistory(cmd.Context(), currentConfig())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	snap, ok, err := store.GetSnapshot(cmd.Context(), args[0])
	if err != nil {
		return exitError(exitFileNotFound, "Failed to read snapshot", err)
	}
	if !ok {
		return exitError(exitFileNotFound, "Not recorded", fmt.Errorf("no snapshot for %s", args[0]))
	}
	out := cmd.OutOrStdout()
	if jsonOut {
		return writeJSONTo(out, snap)
	}
	_, _ = fmt.Fprintf(out, "%s  %s\n", snap.Experiment, statusCell(snap.Status, snap.StatusStr))
	_, _ = fmt.Fprintf(out, "Cluster:     %s\n", snap.Cluster)
	_, _ = fmt.Fprintf(out, "Jobs:        %d\n", snap.JobCount)
	_, _ = fmt.Fprintf(out, "First seen:  %s\n", formatStamp(snap.FirstSeenAt))
	_, _ = fmt.Fprintf(out, "Last seen:   %s (%d sightings)\n", formatStamp(snap.LastSeenAt), snap.SeenCount)
	return nil
}

func runHistoryStats(cmd *cobra.Command, _ []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	store, err := openHistory(cmd.Context(), currentConfig())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	st, err := store.Stats(cmd.Context())
	if err != nil {
		return exitError(exitFileNotFound, "Failed to read history stats", err)
	}
	out := cmd.OutOrStdout()
	if jsonOut {
		return writeJSONTo(out, st)
	}
	_, _ = fmt.Fprintf(out, "Runs:         %d\nChanges:      %d\nExperiments:  %d\n", st.Runs, st.Changes, st.Experiments)
	return nil
}
