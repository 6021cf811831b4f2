package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/jobwatch/internal/config"
	"github.com/3leaps/jobwatch/internal/observability"
	"github.com/3leaps/jobwatch/internal/server"
	"github.com/3leaps/jobwatch/internal/server/handlers"
	"github.com/3leaps/jobwatch/pkg/history"
	"github.com/3leaps/jobwatch/pkg/reconcile"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve experiment state over HTTP",
	Long: `Run the list refresh and reconciliation loops and expose their state
over HTTP.

Routes:
  GET  /health, /health/live, /health/ready, /health/startup
  GET  /version
  GET  /v1/experiments[?match=&exclude=&status=&max_age=&cluster=&tag=&refresh=]
  GET  /v1/experiments/{id}[?refresh=true]
  GET  /v1/stats
  GET  /v1/events[?limit=]
  POST /v1/reconcile[?wait=true]
  GET  /v1/history/runs, /v1/history/changes (with --history)

Examples:
  jobwatch serve
  jobwatch serve --host 0.0.0.0 --port 9090 --history`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.String("host", "", "Listen host (default from server.host)")
	f.Int("port", 0, "Listen port (default from server.port)")
	f.Bool("history", false, "Open the history database and record status changes")
}

// identityHealthChecker reports whether the application identity is complete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("identity: missing binary name")
	case c.envPrefix == "":
		return errors.New("identity: missing env prefix")
	case c.configName == "":
		return errors.New("identity: missing config name")
	}
	return nil
}

func newIdentityHealthChecker(id *config.Identity) identityHealthChecker {
	if id == nil {
		id = &config.DefaultIdentity
	}
	return identityHealthChecker{binaryName: id.BinaryName, envPrefix: id.EnvPrefix, configName: id.ConfigName}
}

// cacheDirHealthChecker reports whether the cache directory is usable.
type cacheDirHealthChecker struct {
	dir string
}

func (c cacheDirHealthChecker) CheckHealth(context.Context) error {
	if c.dir == "" {
		return errors.New("cache: directory not configured")
	}
	info, err := os.Stat(c.dir)
	if errors.Is(err, os.ErrNotExist) {
		// Created on first write.
		return nil
	}
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("cache: %s is not a directory", c.dir)
	}
	return nil
}

// amltHealthChecker reports whether the amlt executable can be found.
type amltHealthChecker struct {
	bin string
}

var lookPath = exec.LookPath

func (c amltHealthChecker) CheckHealth(context.Context) error {
	if _, err := lookPath(c.bin); err != nil {
		return fmt.Errorf("amlt: %w", err)
	}
	return nil
}

// historyHealthChecker pings the history database.
type historyHealthChecker struct {
	store *history.Store
}

func (c historyHealthChecker) CheckHealth(ctx context.Context) error {
	if c.store == nil {
		return errors.New("history: not open")
	}
	return c.store.Ping(ctx)
}

// forwardEvents copies feed events into the API event log, and records
// them under runID when a history store is open.
func forwardEvents(ctx context.Context, feed *reconcile.Feed, log *handlers.EventLog, store *history.Store, runID string, logger *zap.Logger) error {
	return drainChanges(ctx, feed.C(), func(ev reconcile.StatusChange) error {
		log.Add(ev)
		logger.Info("Status changed",
			zap.String("experiment", ev.ID),
			zap.String("from", ev.OldStatus),
			zap.String("to", ev.NewStatus),
			zap.String("source", ev.Source))
		if store == nil {
			return nil
		}
		err := store.RecordChange(ctx, runID, history.Change{
			Experiment: ev.ID,
			OldStatus:  ev.OldStatus,
			NewStatus:  ev.NewStatus,
			Source:     ev.Source,
			ChangedAt:  ev.At,
		})
		if err != nil {
			logger.Warn("Failed to record status change", zap.String("experiment", ev.ID), zap.Error(err))
		}
		return nil
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	withHistory, _ := f.GetBool("history")

	s, err := newSession()
	if err != nil {
		return exitError(exitFileNotFound, "Cannot locate cache directory", err)
	}
	host, port := s.cfg.Server.Host, s.cfg.Server.Port
	if f.Changed("host") {
		host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		port, _ = f.GetInt("port")
	}
	if port < 0 || port > 65535 {
		return exitError(exitInvalidArgument, "Invalid port", fmt.Errorf("port %d out of range", port))
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	var (
		store *history.Store
		runID string
	)
	if withHistory {
		if store, err = openHistory(ctx, s.cfg); err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		run, err := store.BeginRun(ctx, history.KindList)
		if err != nil {
			return exitError(exitFileWrite, "Failed to record server run", err)
		}
		runID = run.RunID
	}

	logger := s.logger.Named("server")
	handlers.InitHealthManager(versionInfo.Version)
	if s.cfg.Health.Enabled {
		hm := handlers.GetHealthManager()
		dir, _ := cacheDir(s.cfg)
		hm.RegisterChecker("identity", newIdentityHealthChecker(GetAppIdentity()))
		hm.RegisterChecker("cache", cacheDirHealthChecker{dir: dir})
		hm.RegisterChecker("amlt", amltHealthChecker{bin: s.cfg.Amlt.Bin})
		if store != nil {
			hm.RegisterChecker("history", historyHealthChecker{store: store})
		}
	}

	mon := s.monitor(0)
	loop := s.loop(nil)
	events := handlers.NewEventLog(handlers.DefaultEventLogSize)
	api := &handlers.API{
		Caches:  s.caches,
		Monitor: mon,
		Loop:    loop,
		Fetcher: s.client,
		Events:  events,
		History: store,
		Logger:  logger,
	}
	srv := server.New(host, port,
		server.WithAPI(api),
		server.WithTimeouts(s.cfg.Server.ReadTimeout, s.cfg.Server.WriteTimeout, s.cfg.Server.IdleTimeout),
		server.WithLogger(logger))

	observability.CLILogger.Info("Starting server",
		zap.String("addr", srv.Addr()),
		zap.Bool("history", store != nil),
		zap.Bool("health_checks", s.cfg.Health.Enabled))

	var first bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx, s.cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		return mon.Run(gctx, s.cfg.Poll.ListInterval, func(reconcile.Snapshot) {
			if !first {
				first = true
				loop.Trigger()
			}
		})
	})
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		return forwardEvents(gctx, s.feed, events, store, runID, logger)
	})

	err = g.Wait()
	if store != nil {
		snap := mon.Snapshot()
		counts := history.RunCounts{Listed: snap.Listed, Cached: snap.Cached}
		if ferr := store.FinishRun(context.WithoutCancel(ctx), runID, counts, err); ferr != nil {
			logger.Warn("Failed to close server run", zap.String("run_id", runID), zap.Error(ferr))
		}
	}
	if err != nil {
		return exitError(exitExternalService, "Server failed", err)
	}
	return nil
}
