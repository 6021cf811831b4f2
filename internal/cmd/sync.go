package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobwatch/internal/observability"
	"github.com/3leaps/jobwatch/pkg/cache"
	"github.com/3leaps/jobwatch/pkg/history"
	"github.com/3leaps/jobwatch/pkg/reconcile"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Record a monitoring pass in the history database",
	Long: `Refresh the experiment list, run one reconciliation cycle and record the
result in the history database: the run, every status change seen and a
snapshot of each listed experiment.

With --loop the pass repeats every --interval until interrupted, which makes
sync suitable for unattended reporting.

Examples:
  jobwatch sync
  jobwatch sync --loop --interval 10m`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	f := syncCmd.Flags()
	f.Int("limit", 0, "Number of recent experiments to request (default from poll.list_limit)")
	f.Bool("loop", false, "Repeat until interrupted")
	f.Duration("interval", 0, "Pause between passes with --loop (default from poll.list_interval)")
}

// drainFeed returns the events currently buffered in feed.
func drainFeed(feed *reconcile.Feed) []reconcile.StatusChange {
	var out []reconcile.StatusChange
	for {
		select {
		case ev := <-feed.C():
			out = append(out, ev)
		default:
			return out
		}
	}
}

// syncPass runs one refresh plus reconciliation and records it.
func syncPass(ctx context.Context, s *session, mon *reconcile.Monitor, loop *reconcile.Loop, store *history.Store) (string, history.Pass, error) {
	pass := history.Pass{Kind: history.KindSync}

	snap, err := mon.Refresh(ctx)
	pass.Snapshot = &snap
	if err != nil {
		pass.Err = err
	}
	res, err := loop.RunOnce(ctx)
	pass.Result = &res
	if err != nil {
		pass.Err = errors.Join(pass.Err, err)
	}
	pass.Changes = drainFeed(s.feed)

	recordCtx := ctx
	if ctx.Err() != nil {
		recordCtx = context.WithoutCancel(ctx)
	}
	runID, err := store.RecordPass(recordCtx, pass)
	return runID, pass, err
}

func printPass(w io.Writer, runID string, p history.Pass) {
	corrections := 0
	if p.Result != nil {
		corrections = len(p.Result.Corrections)
	}
	_, _ = fmt.Fprintf(w, "Run %s: %d listed, %d cached, %d correction(s), %d change(s)\n",
		runID, p.Snapshot.Listed, p.Snapshot.Cached, corrections, len(p.Changes))
}

func runSync(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	limit, _ := f.GetInt("limit")
	loopMode, _ := f.GetBool("loop")
	interval, _ := f.GetDuration("interval")

	s, err := newSession()
	if err != nil {
		return exitError(exitFileNotFound, "Cannot locate cache directory", err)
	}
	if interval <= 0 {
		interval = s.cfg.Poll.ListInterval
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	store, err := openHistory(ctx, s.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	mon := s.monitor(limit)
	loop := s.loop(nil)
	out := cmd.OutOrStdout()

	for {
		runID, pass, err := syncPass(ctx, s, mon, loop, store)
		if err != nil {
			if !loopMode {
				return exitError(exitFileWrite, "Failed to record sync run", err)
			}
			observability.CLILogger.Warn("Failed to record sync run", zap.String("run_id", runID), zap.Error(err))
		} else {
			printPass(out, runID, pass)
		}
		if pass.Err != nil {
			observability.CLILogger.Warn("Sync pass was partial", zap.String("run_id", runID), zap.Error(pass.Err))
		}
		if !loopMode {
			if errors.Is(pass.Err, cache.ErrPersist) {
				return exitError(exitFileWrite, "Failed to persist cache", pass.Err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}
