package history

import (
	"context"
	"errors"

	"github.com/3leaps/jobwatch/pkg/reconcile"
)

// Pass is the outcome of one monitor refresh plus reconciliation cycle.
type Pass struct {
	Kind     string
	Snapshot *reconcile.Snapshot
	Result   *reconcile.Result
	// Changes are the events drained from the feed during the pass.
	Changes []reconcile.StatusChange
	Err     error
}

// RecordPass stores p as one run: its counts, its changes and a snapshot
// row per listed experiment. It returns the run ID.
func (s *Store) RecordPass(ctx context.Context, p Pass) (string, error) {
	kind := p.Kind
	if kind == "" {
		kind = KindSync
	}
	run, err := s.BeginRun(ctx, kind)
	if err != nil {
		return "", err
	}

	var errs []error
	var counts RunCounts
	if snap := p.Snapshot; snap != nil {
		counts.Listed = snap.Listed
		counts.Cached = snap.Cached
		for _, it := range snap.Items {
			if it.FromCache {
				continue
			}
			errs = append(errs, s.ObserveExperiment(ctx, SnapshotParams{
				Experiment: it.ID,
				Status:     it.Status,
				StatusStr:  it.RawStatus,
				JobCount:   it.JobCount,
				Cluster:    it.Cluster,
			}))
		}
	}
	if res := p.Result; res != nil {
		counts.Candidates = res.Candidates
		counts.Corrections = len(res.Corrections)
		counts.FetchErrors = res.FetchErrors
	}
	for _, c := range p.Changes {
		errs = append(errs, s.RecordChange(ctx, run.RunID, Change{
			Experiment: c.ID,
			OldStatus:  c.OldStatus,
			NewStatus:  c.NewStatus,
			Source:     c.Source,
			ChangedAt:  c.At,
		}))
	}

	errs = append(errs, s.FinishRun(ctx, run.RunID, counts, p.Err))
	return run.RunID, errors.Join(errs...)
}
