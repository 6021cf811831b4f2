// Package reconcile keeps the cached terminal status of experiments
// consistent with amlt.
//
// The list view of amlt reports one compound status per experiment, which
// can lag behind the jobs themselves: a driver job may have failed while
// workers are still shown running. The Loop periodically fetches job details
// for the experiments the last list snapshot shows as active, resolves their
// status from job evidence and writes corrections into the caches. The
// Monitor drives list refreshes and feeds the Tracker the Loop reads from.
//
// Both publish StatusChange events onto a shared, bounded Feed.
package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/3leaps/jobwatch/pkg/amlt"
	"github.com/3leaps/jobwatch/pkg/cache"
	"github.com/3leaps/jobwatch/pkg/status"
)

// ErrBusy is returned by RunOnce while another cycle is in progress.
var ErrBusy = errors.New("reconciliation already running")

// Fetcher fetches fresh experiment details. *amlt.Client implements it.
type Fetcher interface {
	Detail(ctx context.Context, id string) (*amlt.ExperimentDetail, error)
}

// Config configures the reconciliation loop.
type Config struct {
	// Interval between scheduled cycles.
	// Default: 5m
	Interval time.Duration

	// BatchSize caps the experiments examined per cycle.
	// Default: 10
	BatchSize int

	// RequestDelay is the minimum spacing between detail fetches. Zero or
	// negative disables spacing.
	// Default: 500ms
	RequestDelay time.Duration

	// Concurrency is the number of detail fetches in flight. Corrections are
	// still committed serially in discovery order.
	// Default: 1
	Concurrency int
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Minute,
		BatchSize:    10,
		RequestDelay: 500 * time.Millisecond,
		Concurrency:  1,
	}
}

// Result summarizes one cycle.
type Result struct {
	CycleID     string         `json:"cycle_id"`
	Candidates  int            `json:"candidates"`
	Fetched     int            `json:"fetched"`
	FetchErrors int            `json:"fetch_errors"`
	Corrections []StatusChange `json:"corrections"`
	Duration    time.Duration  `json:"duration"`
}

type correction struct {
	change StatusChange
	detail *amlt.ExperimentDetail
}

// Loop re-derives canonical status for active experiments.
//
// Only one cycle runs at a time; RunOnce called during a cycle returns
// ErrBusy instead of waiting.
type Loop struct {
	cfg     Config
	fetcher Fetcher
	caches  *cache.Set
	tracker *Tracker
	feed    *Feed
	logger  *zap.Logger
	limiter *rate.Limiter

	running atomic.Bool
	trigger chan struct{}
	now     func() time.Time
}

// New creates a loop. The caches, tracker and feed are shared with the rest
// of the process; the loop mutates caches only through their write methods.
// A nil feed gets a private one of DefaultFeedSize.
func New(f Fetcher, caches *cache.Set, tracker *Tracker, feed *Feed, cfg Config, logger *zap.Logger) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if feed == nil {
		feed = NewFeed(DefaultFeedSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Loop{
		cfg:     cfg,
		fetcher: f,
		caches:  caches,
		tracker: tracker,
		feed:    feed,
		logger:  logger,
		trigger: make(chan struct{}, 1),
		now:     time.Now,
	}
	if cfg.RequestDelay > 0 {
		l.limiter = rate.NewLimiter(rate.Every(cfg.RequestDelay), 1)
	}
	return l
}

// Config returns the effective configuration.
func (l *Loop) Config() Config {
	return l.cfg
}

// Events returns the stream of corrections.
func (l *Loop) Events() <-chan StatusChange {
	return l.feed.C()
}

// Dropped returns the number of events discarded because nobody drained
// Events fast enough.
func (l *Loop) Dropped() int64 {
	return l.feed.Dropped()
}

// Trigger requests a cycle as soon as Run is idle. Requests made while one
// is pending are coalesced.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Run executes cycles every Interval and on Trigger until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-l.trigger:
		}

		res, err := l.RunOnce(ctx)
		switch {
		case err == nil:
			if len(res.Corrections) > 0 {
				l.logger.Info("reconciliation applied corrections",
					zap.String("cycle_id", res.CycleID),
					zap.Int("corrections", len(res.Corrections)))
			}
		case errors.Is(err, ErrBusy):
		case ctx.Err() != nil:
			return nil
		default:
			l.logger.Warn("reconciliation cycle failed", zap.String("cycle_id", res.CycleID), zap.Error(err))
		}
	}
}

// RunOnce performs one cycle: fetch details for up to BatchSize active
// experiments, then commit the corrections in discovery order.
//
// Fetch failures skip the experiment. Cache persist failures do not stop
// the commit phase; the first one is returned. When ctx is cancelled the
// corrections found so far are committed and ctx.Err() is returned.
func (l *Loop) RunOnce(ctx context.Context) (Result, error) {
	if !l.running.CompareAndSwap(false, true) {
		return Result{}, ErrBusy
	}
	defer l.running.Store(false)

	start := l.now()
	res := Result{CycleID: uuid.NewString()}
	logger := l.logger.With(zap.String("cycle_id", res.CycleID))

	candidates := l.tracker.Eligible(l.cfg.BatchSize)
	res.Candidates = len(candidates)
	if len(candidates) == 0 {
		res.Duration = l.now().Sub(start)
		return res, nil
	}
	logger.Debug("reconciliation cycle started", zap.Int("candidates", len(candidates)))

	var details []*amlt.ExperimentDetail
	var ctxErr error
	if l.cfg.Concurrency > 1 {
		details, ctxErr = l.fetchConcurrent(ctx, candidates)
	} else {
		details, ctxErr = l.fetchSequential(ctx, candidates)
	}

	var pending []correction
	for i, c := range candidates {
		d := details[i]
		if d == nil {
			continue
		}
		res.Fetched++
		if corr, ok := l.evaluate(c, d); ok {
			pending = append(pending, corr)
		}
	}
	res.FetchErrors = res.Candidates - res.Fetched

	commitErr := l.commit(pending, &res, logger)
	res.Duration = l.now().Sub(start)

	if ctxErr != nil {
		return res, ctxErr
	}
	return res, commitErr
}

func (l *Loop) fetchSequential(ctx context.Context, candidates []Candidate) ([]*amlt.ExperimentDetail, error) {
	out := make([]*amlt.ExperimentDetail, len(candidates))
	for i, c := range candidates {
		d, err := l.fetch(ctx, c.ID)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			continue
		}
		out[i] = d
	}
	return out, nil
}

func (l *Loop) fetchConcurrent(ctx context.Context, candidates []Candidate) ([]*amlt.ExperimentDetail, error) {
	out := make([]*amlt.ExperimentDetail, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)

	for i, c := range candidates {
		g.Go(func() error {
			d, err := l.fetch(gctx, c.ID)
			if err != nil {
				return nil
			}
			out[i] = d
			return nil
		})
	}
	_ = g.Wait()
	return out, ctx.Err()
}

// fetch waits for the limiter and fetches one detail. Errors are logged at
// debug level; the caller only needs to know the item is skipped.
func (l *Loop) fetch(ctx context.Context, id string) (*amlt.ExperimentDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	d, err := l.fetcher.Detail(ctx, id)
	if err != nil {
		l.logger.Debug("detail fetch skipped", zap.String("experiment", id), zap.Error(err))
		return nil, err
	}
	return d, nil
}

func (l *Loop) evaluate(c Candidate, d *amlt.ExperimentDetail) (correction, bool) {
	resolved := status.Normalize(cache.ResolveStatus(cache.NewFreshDetail(d), ""))
	if !status.IsTerminal(resolved) || resolved == status.Normalize(c.Status) {
		return correction{}, false
	}
	return correction{
		change: StatusChange{
			ID:        c.ID,
			OldStatus: c.Status,
			NewStatus: resolved,
			Source:    SourceReconcile,
		},
		detail: d,
	}, true
}

func (l *Loop) commit(pending []correction, res *Result, logger *zap.Logger) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, p := range pending {
		d := p.detail
		jobCount := d.JobCount
		if jobCount == 0 {
			jobCount = len(d.Jobs)
		}

		_, err := l.caches.Experiments.ForceWrite(cache.ForceWriteParams{
			ID:       p.change.ID,
			Status:   p.change.NewStatus,
			Cluster:  d.Cluster,
			JobCount: jobCount,
			Counts:   d.Counts,
		})
		keep(err)
		_, err = l.caches.Details.Add(p.change.ID, d, d.Jobs)
		keep(err)

		l.tracker.Confirm(p.change.ID, p.change.NewStatus)

		ev := p.change
		ev.At = l.now()
		l.feed.Publish(ev)
		res.Corrections = append(res.Corrections, ev)

		logger.Info("status corrected",
			zap.String("experiment", ev.ID),
			zap.String("old", ev.OldStatus),
			zap.String("new", ev.NewStatus))
	}
	return firstErr
}
