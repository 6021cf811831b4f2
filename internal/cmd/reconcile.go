package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/jobwatch/pkg/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one status correction cycle",
	Long: `List recent experiments, then fetch the per-job detail of those the list
reports as running or queued and correct the ones whose jobs have finished.

Corrections are written to the terminal cache so later listings show them.

Examples:
  jobwatch reconcile
  jobwatch reconcile --batch-size 25 --concurrency 4 --json`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	f := reconcileCmd.Flags()
	f.Int("limit", 0, "Number of recent experiments to request (default from poll.list_limit)")
	f.Int("batch-size", 0, "Experiments examined per cycle (default from poll.batch_size)")
	f.Int("concurrency", 0, "Detail fetches in flight (default from poll.concurrency)")
	f.Duration("request-delay", -1, "Minimum spacing between detail fetches (default from poll.request_delay)")
	f.Bool("json", false, "Output the cycle result as JSON")
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	limit, _ := f.GetInt("limit")
	batch, _ := f.GetInt("batch-size")
	conc, _ := f.GetInt("concurrency")
	jsonOut, _ := f.GetBool("json")

	s, err := newSession()
	if err != nil {
		return exitError(exitFileNotFound, "Cannot locate cache directory", err)
	}

	loop := s.loop(func(c *reconcile.Config) {
		if batch > 0 {
			c.BatchSize = batch
		}
		if conc > 0 {
			c.Concurrency = conc
		}
		if f.Changed("request-delay") {
			c.RequestDelay, _ = f.GetDuration("request-delay")
		}
	})

	if _, err := s.monitor(limit).Refresh(cmd.Context()); err != nil {
		return exitError(exitFileWrite, "Failed to update cache", err)
	}
	res, err := loop.RunOnce(cmd.Context())
	if err != nil {
		return exitError(exitFileWrite, "Reconciliation failed", err)
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	_, _ = fmt.Fprintf(out, "Cycle %s: %d candidate(s), %d fetched, %d fetch error(s), %d correction(s) in %s\n",
		res.CycleID, res.Candidates, res.Fetched, res.FetchErrors, len(res.Corrections), res.Duration.Round(time.Millisecond))
	if len(res.Corrections) == 0 {
		return nil
	}
	t := newTable("EXPERIMENT", "FROM", "TO")
	for _, c := range res.Corrections {
		t.add(c.ID, statusCell(c.OldStatus, ""), statusCell(c.NewStatus, ""))
	}
	_, _ = fmt.Fprintln(out)
	t.render(out, "  ")
	return nil
}
