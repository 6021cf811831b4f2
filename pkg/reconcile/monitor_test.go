package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobwatch/pkg/amlt"
	"github.com/3leaps/jobwatch/pkg/cache"
	"github.com/3leaps/jobwatch/pkg/status"
)

type fakeLister struct {
	mu     sync.Mutex
	rows   []amlt.ExperimentSummary
	limits []int
}

func (f *fakeLister) List(_ context.Context, n int) []amlt.ExperimentSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, n)
	return append([]amlt.ExperimentSummary(nil), f.rows...)
}

func (f *fakeLister) set(rows []amlt.ExperimentSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = rows
}

func aged(s amlt.ExperimentSummary, modified string) amlt.ExperimentSummary {
	s.Modified = modified
	return s
}

func newTestMonitor(t *testing.T, l Lister) (*Monitor, *cache.Set, *Tracker) {
	t.Helper()
	set := cache.OpenSet(t.TempDir(), nil)
	tracker := NewTracker()
	return NewMonitor(l, set, tracker, NewFeed(16), 0, nil), set, tracker
}

func TestMonitorRefreshGroupsAndCaches(t *testing.T) {
	l := &fakeLister{rows: []amlt.ExperimentSummary{
		aged(amlt.NewExperimentSummary("run-old", "Running (2)"), "2h ago"),
		aged(amlt.NewExperimentSummary("run-new", "Running (1)"), "5m ago"),
		aged(amlt.NewExperimentSummary("prep", "Prep (1)"), "1m ago"),
		aged(amlt.NewExperimentSummary("passed", "Pass (3)"), "1d ago"),
		aged(amlt.NewExperimentSummary("failed", "Failed (1)"), "3h ago"),
		aged(amlt.NewExperimentSummary("cancelled", "Cancelled (1)"), "1w ago"),
	}}
	m, set, tracker := newTestMonitor(t, l)

	snap, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{DefaultListLimit}, l.limits)
	assert.Equal(t, 6, snap.Listed)
	assert.Equal(t, 0, snap.Cached)

	ids := func(items []Item) []string {
		var out []string
		for _, it := range items {
			out = append(out, it.ID)
		}
		return out
	}
	assert.Equal(t, []string{"run-new", "run-old"}, ids(snap.Group(GroupRunning)))
	assert.Equal(t, []string{"prep"}, ids(snap.Group(GroupQueued)))
	assert.Equal(t, []string{"passed"}, ids(snap.Group(GroupPass)))
	assert.Equal(t, []string{"failed"}, ids(snap.Group(GroupFail)))
	assert.Equal(t, []string{"cancelled"}, ids(snap.Group(GroupKilled)))
	assert.Equal(t, "prep", snap.Items[0].ID, "items are ordered most recent first")

	assert.ElementsMatch(t, []string{"cancelled", "failed", "passed"}, set.Experiments.IDs())
	assert.Len(t, tracker.Eligible(0), 3)
	assert.Equal(t, snap, m.Snapshot())
}

func TestMonitorMergesCachedExperiments(t *testing.T) {
	l := &fakeLister{rows: summaries("live", "Running (1)")}
	m, set, _ := newTestMonitor(t, l)

	old := amlt.NewExperimentSummary("archived", "Pass (4)")
	old.Modified = "2w ago"
	_, err := set.Experiments.UpsertIfTerminal(old)
	require.NoError(t, err)

	snap, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Listed)
	assert.Equal(t, 1, snap.Cached)

	pass := snap.Group(GroupPass)
	require.Len(t, pass, 1)
	assert.Equal(t, "archived", pass[0].ID)
	assert.True(t, pass[0].FromCache)
	assert.Equal(t, "Pass (4)", pass[0].RawStatus)
}

func TestMonitorShowsCachedCorrection(t *testing.T) {
	l := &fakeLister{rows: summaries("exp", "Running (2)")}
	m, set, tracker := newTestMonitor(t, l)

	_, err := set.Experiments.ForceWrite(cache.ForceWriteParams{ID: "exp", Status: "fail", JobCount: 2})
	require.NoError(t, err)

	snap, err := m.Refresh(context.Background())
	require.NoError(t, err)
	fail := snap.Group(GroupFail)
	require.Len(t, fail, 1)
	assert.True(t, fail[0].Corrected)
	assert.False(t, fail[0].FromCache)
	assert.Empty(t, tracker.Eligible(0))
}

func TestMonitorRefreshKeepsForcedTerminalStatus(t *testing.T) {
	l := &fakeLister{rows: summaries("exp", "Fail (1), Pass (1)")}
	m, set, _ := newTestMonitor(t, l)

	_, err := set.Experiments.ForceWrite(cache.ForceWriteParams{ID: "exp", Status: "pass", JobCount: 2})
	require.NoError(t, err)

	_, err = m.Refresh(context.Background())
	require.NoError(t, err)

	e, ok := set.Experiments.Get("exp")
	require.True(t, ok)
	assert.Equal(t, status.Pass, e.Status, "list refresh must not clobber a forced correction")
}

func TestMonitorEmitsChangesBetweenRefreshes(t *testing.T) {
	l := &fakeLister{rows: summaries("a", "Queued (1)", "b", "Running (1)")}
	m, _, _ := newTestMonitor(t, l)

	_, err := m.Refresh(context.Background())
	require.NoError(t, err)
	select {
	case ev := <-m.Events():
		t.Fatalf("first refresh should not emit, got %+v", ev)
	default:
	}

	l.set(summaries("a", "Running (1)", "b", "Running (1)", "c", "Queued (1)"))
	_, err = m.Refresh(context.Background())
	require.NoError(t, err)

	select {
	case ev := <-m.Events():
		assert.Equal(t, "a", ev.ID)
		assert.Equal(t, status.Queued, ev.OldStatus)
		assert.Equal(t, status.Running, ev.NewStatus)
		assert.Equal(t, SourceList, ev.Source)
	default:
		t.Fatal("expected a status change")
	}
	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestMonitorWithLoopReportsCorrectionOnce(t *testing.T) {
	l := &fakeLister{rows: summaries("exp", "Running (2)")}
	f := &fakeFetcher{details: map[string]*amlt.ExperimentDetail{"exp": detail("exp", "fail", "running")}}

	set := cache.OpenSet(t.TempDir(), nil)
	tracker := NewTracker()
	feed := NewFeed(16)
	m := NewMonitor(l, set, tracker, feed, 20, nil)
	loop := New(f, set, tracker, feed, testConfig(), nil)

	_, err := m.Refresh(context.Background())
	require.NoError(t, err)
	_, err = loop.RunOnce(context.Background())
	require.NoError(t, err)
	_, err = m.Refresh(context.Background())
	require.NoError(t, err)

	var events []StatusChange
	for len(feed.C()) > 0 {
		events = append(events, <-feed.C())
	}
	require.Len(t, events, 1)
	assert.Equal(t, SourceReconcile, events[0].Source)
	assert.Equal(t, []int{20, 20}, l.limits)
}

func TestMonitorEmptyList(t *testing.T) {
	m, _, tracker := newTestMonitor(t, &fakeLister{})
	snap, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Items)
	assert.Equal(t, 0, tracker.Len())
}

func TestMonitorRun(t *testing.T) {
	l := &fakeLister{rows: summaries("a", "Running (1)")}
	m, _, _ := newTestMonitor(t, l)

	ctx, cancel := context.WithCancel(context.Background())
	refreshed := make(chan Snapshot, 4)
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx, 10*time.Millisecond, func(s Snapshot) {
			select {
			case refreshed <- s:
			default:
			}
		})
	}()

	for i := 0; i < 2; i++ {
		select {
		case s := <-refreshed:
			assert.Equal(t, 1, s.Listed)
		case <-time.After(2 * time.Second):
			t.Fatal("monitor did not refresh")
		}
	}
	cancel()
	assert.NoError(t, <-done)
}

func TestGroupOf(t *testing.T) {
	tests := map[string]string{
		"Running":   GroupRunning,
		"prep":      GroupQueued,
		"failed":    GroupFail,
		"cancelled": GroupKilled,
		"pass":      GroupPass,
		"":          GroupOther,
		"weird":     GroupOther,
	}
	for in, want := range tests {
		assert.Equal(t, want, GroupOf(in), in)
	}
}
