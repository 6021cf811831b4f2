package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/jobwatch/internal/observability"
	"github.com/3leaps/jobwatch/pkg/output"
	"github.com/3leaps/jobwatch/pkg/reconcile"
	"github.com/3leaps/jobwatch/pkg/status"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow status changes as they happen",
	Long: `Refresh the experiment list and run reconciliation in the background,
printing each status change as it is observed.

The list refresh and reconciliation run on independent intervals. Press
Ctrl-C to stop.

Examples:
  jobwatch watch
  jobwatch watch --interval 1m --reconcile-interval 5m
  jobwatch watch --jsonl | jq .`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	f := watchCmd.Flags()
	f.Int("limit", 0, "Number of recent experiments to request (default from poll.list_limit)")
	f.Duration("interval", 0, "List refresh interval (default from poll.list_interval)")
	f.Duration("reconcile-interval", 0, "Reconciliation interval (default from poll.reconcile_interval)")
	f.Bool("jsonl", false, "Emit status changes as JSONL records")
}

// changePrinter writes status changes as text lines or JSONL records.
type changePrinter struct {
	mu    sync.Mutex
	out   io.Writer
	jsonl *output.JSONLWriter
}

func newChangePrinter(out io.Writer, jsonl bool) *changePrinter {
	p := &changePrinter{out: out}
	if jsonl {
		p.jsonl = output.NewJSONLWriter(out, uuid.NewString())
	}
	return p
}

func (p *changePrinter) change(ctx context.Context, ev reconcile.StatusChange) error {
	if p.jsonl != nil {
		return p.jsonl.WriteStatusChange(ctx, output.NewStatusChangeRecord(ev))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	from, to := status.DisplayFor(ev.OldStatus), status.DisplayFor(ev.NewStatus)
	_, err := fmt.Fprintf(p.out, "%s  %s  %s %s -> %s %s  (%s)\n",
		ev.At.Local().Format("15:04:05"), ev.ID, from.Icon, ev.OldStatus, to.Icon, ev.NewStatus, ev.Source)
	return err
}

func (p *changePrinter) refreshed(snap reconcile.Snapshot) {
	if p.jsonl != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	active := len(snap.Group(reconcile.GroupRunning)) + len(snap.Group(reconcile.GroupQueued))
	_, _ = fmt.Fprintf(p.out, "%s  refreshed: %d listed, %d cached, %d active\n",
		snap.At.Local().Format("15:04:05"), snap.Listed, snap.Cached, active)
}

func (p *changePrinter) close() {
	if p.jsonl != nil {
		_ = p.jsonl.Close()
	}
}

// drainChanges forwards feed events to handle until ctx is done.
func drainChanges(ctx context.Context, events <-chan reconcile.StatusChange, handle func(reconcile.StatusChange) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if err := handle(ev); err != nil {
				return err
			}
		}
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	limit, _ := f.GetInt("limit")
	interval, _ := f.GetDuration("interval")
	reconcileInterval, _ := f.GetDuration("reconcile-interval")
	jsonl, _ := f.GetBool("jsonl")

	s, err := newSession()
	if err != nil {
		return exitError(exitFileNotFound, "Cannot locate cache directory", err)
	}
	if interval <= 0 {
		interval = s.cfg.Poll.ListInterval
	}

	mon := s.monitor(limit)
	loop := s.loop(func(c *reconcile.Config) {
		if reconcileInterval > 0 {
			c.Interval = reconcileInterval
		}
	})

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	printer := newChangePrinter(cmd.OutOrStdout(), jsonl)
	defer printer.close()

	observability.CLILogger.Info("Watching experiments",
		zap.Duration("list_interval", interval),
		zap.Duration("reconcile_interval", loop.Config().Interval))

	var first sync.Once
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mon.Run(gctx, interval, func(snap reconcile.Snapshot) {
			printer.refreshed(snap)
			first.Do(loop.Trigger)
		})
	})
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		return drainChanges(gctx, s.feed.C(), func(ev reconcile.StatusChange) error {
			return printer.change(gctx, ev)
		})
	})

	err = g.Wait()
	if dropped := s.feed.Dropped(); dropped > 0 {
		observability.CLILogger.Warn("Status changes were dropped", zap.Int64("dropped", dropped))
	}
	if err != nil {
		return err
	}
	observability.CLILogger.Info("Watch stopped")
	return nil
}
