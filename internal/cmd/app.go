package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"go.uber.org/zap"

	"github.com/3leaps/jobwatch/internal/config"
	"github.com/3leaps/jobwatch/internal/observability"
	"github.com/3leaps/jobwatch/pkg/amlt"
	"github.com/3leaps/jobwatch/pkg/cache"
	"github.com/3leaps/jobwatch/pkg/history"
	"github.com/3leaps/jobwatch/pkg/reconcile"
)

// session is the set of collaborators shared by the monitoring commands.
type session struct {
	cfg     *config.Config
	logger  *zap.Logger
	client  *amlt.Client
	caches  *cache.Set
	tracker *reconcile.Tracker
	feed    *reconcile.Feed
}

// newSource builds the amlt source. Tests replace it.
var newSource = func(cfg *config.Config, logger *zap.Logger) amlt.Source {
	return amlt.NewCLISource(cfg.Amlt.Bin, cfg.Amlt.Timeout, logger)
}

func newSession() (*session, error) {
	cfg := currentConfig()
	logger := observability.CLILogger

	dir, err := cacheDir(cfg)
	if err != nil {
		return nil, err
	}
	return &session{
		cfg:     cfg,
		logger:  logger,
		client:  amlt.NewClient(newSource(cfg, logger), logger),
		caches:  cache.OpenSet(dir, logger),
		tracker: reconcile.NewTracker(),
		feed:    reconcile.NewFeed(reconcile.DefaultFeedSize),
	}, nil
}

func (s *session) monitor(limit int) *reconcile.Monitor {
	if limit <= 0 {
		limit = s.cfg.Poll.ListLimit
	}
	return reconcile.NewMonitor(s.client, s.caches, s.tracker, s.feed, limit, s.logger)
}

func (s *session) loop(override func(*reconcile.Config)) *reconcile.Loop {
	lc := reconcile.Config{
		Interval:     s.cfg.Poll.ReconcileInterval,
		BatchSize:    s.cfg.Poll.BatchSize,
		RequestDelay: s.cfg.Poll.RequestDelay,
		Concurrency:  s.cfg.Poll.Concurrency,
	}
	if override != nil {
		override(&lc)
	}
	return reconcile.New(s.client, s.caches, s.tracker, s.feed, lc, s.logger)
}

// appDataDir is the per-user data directory for jobwatch.
func appDataDir() (string, error) {
	identity := GetAppIdentity()
	name := config.DefaultIdentity.ConfigName
	if identity != nil && strings.TrimSpace(identity.ConfigName) != "" {
		name = identity.ConfigName
	}
	dir := gfconfig.GetAppDataDir(name)
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("app data directory is not available")
	}
	return dir, nil
}

func cacheDir(cfg *config.Config) (string, error) {
	if cfg.Cache.Dir != "" {
		return cfg.Cache.Dir, nil
	}
	dir, err := appDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cache"), nil
}

func historyConfig(cfg *config.Config) (history.Config, error) {
	if cfg.History.URL != "" {
		return history.Config{URL: cfg.History.URL, AuthToken: cfg.History.AuthToken}, nil
	}
	if cfg.History.Path != "" {
		return history.Config{Path: cfg.History.Path}, nil
	}
	dir, err := appDataDir()
	if err != nil {
		return history.Config{}, err
	}
	return history.Config{Path: filepath.Join(dir, "history.db")}, nil
}

func openHistory(ctx context.Context, cfg *config.Config) (*history.Store, error) {
	hc, err := historyConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := history.Open(ctx, hc)
	if err != nil {
		return nil, exitError(exitFileWrite, "Failed to open history database", err)
	}
	return store, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
