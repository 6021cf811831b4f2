package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/jobwatch/pkg/amlt"
	"github.com/3leaps/jobwatch/pkg/cache"
	"github.com/3leaps/jobwatch/pkg/status"
)

// Display groups, in presentation order.
const (
	GroupRunning = status.Running
	GroupQueued  = status.Queued
	GroupPass    = status.Pass
	GroupFail    = status.Fail
	GroupKilled  = status.Killed
	GroupOther   = "other"
)

// Groups lists the display groups in presentation order.
var Groups = []string{GroupRunning, GroupQueued, GroupPass, GroupFail, GroupKilled, GroupOther}

// DefaultListLimit is how many recent experiments a refresh asks for.
const DefaultListLimit = 100

// Lister lists recent experiments. *amlt.Client implements it.
type Lister interface {
	List(ctx context.Context, n int) []amlt.ExperimentSummary
}

// Item is one experiment in a snapshot.
type Item struct {
	amlt.ExperimentSummary

	// FromCache is set for terminal experiments that only the cache still
	// knows about.
	FromCache bool `json:"from_cache"`

	// Corrected is set when the cache holds a terminal status that the list
	// still reports as active.
	Corrected bool `json:"corrected,omitempty"`
}

// Snapshot is the grouped result of one refresh.
type Snapshot struct {
	At     time.Time         `json:"at"`
	Items  []Item            `json:"items"`
	Groups map[string][]Item `json:"groups"`
	Listed int               `json:"listed"`
	Cached int               `json:"cached"`
}

// Group returns the items of group g.
func (s Snapshot) Group(g string) []Item {
	return s.Groups[g]
}

// GroupOf maps a status to its display group.
func GroupOf(st string) string {
	switch n := status.Normalize(st); n {
	case status.Running, status.Queued, status.Pass, status.Fail, status.Killed:
		return n
	case status.Cancelled:
		return GroupKilled
	default:
		return GroupOther
	}
}

// Monitor refreshes the experiment list, keeps the terminal cache and the
// tracker current and reports status changes seen between refreshes.
type Monitor struct {
	lister  Lister
	caches  *cache.Set
	tracker *Tracker
	feed    *Feed
	limit   int
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	previous map[string]string
	last     Snapshot
}

// NewMonitor creates a monitor. A non-positive limit uses DefaultListLimit.
func NewMonitor(l Lister, caches *cache.Set, tracker *Tracker, feed *Feed, limit int, logger *zap.Logger) *Monitor {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if feed == nil {
		feed = NewFeed(DefaultFeedSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		lister:   l,
		caches:   caches,
		tracker:  tracker,
		feed:     feed,
		limit:    limit,
		logger:   logger,
		now:      time.Now,
		previous: make(map[string]string),
	}
}

// Events returns the stream of observed status changes.
func (m *Monitor) Events() <-chan StatusChange {
	return m.feed.C()
}

// Refresh lists recent experiments and rebuilds the snapshot. A failed list
// yields a snapshot of cached experiments only. The returned error is the
// first cache persist failure, if any; the snapshot is valid regardless.
func (m *Monitor) Refresh(ctx context.Context) (Snapshot, error) {
	listed := m.lister.List(ctx, m.limit)
	at := m.now()

	var firstErr error
	items := make([]Item, 0, len(listed))
	seen := make(map[string]bool, len(listed))
	observed := make([]amlt.ExperimentSummary, 0, len(listed))

	for _, s := range listed {
		if s.ID == "" || seen[s.ID] {
			continue
		}
		seen[s.ID] = true

		item := Item{ExperimentSummary: s}
		item.Status = status.Normalize(s.Status)
		if s.IsTerminal() {
			if _, err := m.caches.Experiments.UpsertIfTerminal(s); err != nil && firstErr == nil {
				firstErr = err
			}
		} else if cached, ok := m.caches.Experiments.Get(s.ID); ok && status.IsActive(item.Status) {
			item.Status = cached.Status
			item.Corrected = true
		}
		items = append(items, item)
		observed = append(observed, item.ExperimentSummary)
	}

	cachedOnly := 0
	for _, c := range m.caches.Experiments.GetAll() {
		if seen[c.ID] {
			continue
		}
		items = append(items, Item{ExperimentSummary: c.Summary(), FromCache: true})
		cachedOnly++
	}

	m.tracker.Observe(observed)

	snap := Snapshot{
		At:     at,
		Items:  sortByRecency(items),
		Groups: group(items),
		Listed: len(observed),
		Cached: cachedOnly,
	}

	m.mu.Lock()
	changes := m.diffLocked(items[:len(observed)], at)
	m.last = snap
	m.mu.Unlock()

	for _, ev := range changes {
		m.feed.Publish(ev)
	}
	return snap, firstErr
}

// diffLocked compares listed items with the previous refresh. Corrections
// taken from the cache were already reported by the Loop.
func (m *Monitor) diffLocked(listed []Item, at time.Time) []StatusChange {
	var changes []StatusChange
	next := make(map[string]string, len(listed))
	for _, s := range listed {
		next[s.ID] = s.Status
		if prev, ok := m.previous[s.ID]; ok && prev != s.Status && !s.Corrected {
			changes = append(changes, StatusChange{
				ID:        s.ID,
				OldStatus: prev,
				NewStatus: s.Status,
				At:        at,
				Source:    SourceList,
			})
		}
	}
	m.previous = next
	return changes
}

// Snapshot returns the result of the last Refresh.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Run refreshes every interval until ctx is done. onRefresh, when non-nil,
// is called after each refresh.
func (m *Monitor) Run(ctx context.Context, interval time.Duration, onRefresh func(Snapshot)) error {
	refresh := func() {
		snap, err := m.Refresh(ctx)
		if err != nil {
			m.logger.Warn("cache update failed during refresh", zap.Error(err))
		}
		if onRefresh != nil {
			onRefresh(snap)
		}
	}

	if interval <= 0 {
		interval = time.Minute
	}
	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			refresh()
		}
	}
}

func sortByRecency(items []Item) []Item {
	out := append([]Item(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := out[i].AgeMinutes(), out[j].AgeMinutes()
		if ai != aj {
			return ai < aj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func group(items []Item) map[string][]Item {
	out := make(map[string][]Item, len(Groups))
	for _, it := range items {
		g := GroupOf(it.Status)
		out[g] = append(out[g], it)
	}
	for g, list := range out {
		out[g] = sortByRecency(list)
	}
	return out
}
