package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerObserve(t *testing.T) {
	tr := NewTracker()
	tr.Observe(summaries(
		"run", "Running (1) Pass (3)",
		"prep", "Prep (1)",
		"done", "Failed (2)",
		"odd", "Mystery",
		"run", "Pass (1)",
	))

	assert.Equal(t, 4, tr.Len(), "duplicates keep their first occurrence")

	tests := []struct {
		id     string
		status string
		state  State
	}{
		{"run", "running", StateActive},
		{"prep", "queued", StateActive},
		{"done", "fail", StateTerminalConfirmed},
		{"odd", "mystery", StateUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			st, state, ok := tr.Lookup(tt.id)
			require.True(t, ok)
			assert.Equal(t, tt.status, st)
			assert.Equal(t, tt.state, state)
		})
	}
}

func TestTrackerConfirmedSurvivesStaleSnapshot(t *testing.T) {
	tr := NewTracker()
	tr.Observe(summaries("exp", "Running (2)"))
	tr.Confirm("exp", "failed")

	tr.Observe(summaries("exp", "Running (2)"))
	st, state, ok := tr.Lookup("exp")
	require.True(t, ok)
	assert.Equal(t, "fail", st)
	assert.Equal(t, StateTerminalConfirmed, state)
	assert.Empty(t, tr.Eligible(0))

	tr.Observe(summaries("other", "Queued (1)"))
	_, _, ok = tr.Lookup("exp")
	assert.False(t, ok, "experiments leaving the snapshot are forgotten")

	tr.Confirm("ghost", "pass")
	_, _, ok = tr.Lookup("ghost")
	assert.False(t, ok)
}

func TestTrackerEligibleLimit(t *testing.T) {
	tr := NewTracker()
	tr.Observe(summaries("a", "Running (1)", "b", "Pass (1)", "c", "Queued (1)", "d", "Running (1)"))

	assert.Equal(t, []Candidate{{ID: "a", Status: "running"}, {ID: "c", Status: "queued"}}, tr.Eligible(2))
	assert.Len(t, tr.Eligible(0), 3)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unknown", StateUnknown.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "terminal_confirmed", StateTerminalConfirmed.String())
}

func TestFeedDropsOldest(t *testing.T) {
	f := NewFeed(2)
	for i, id := range []string{"a", "b", "c"} {
		f.Publish(StatusChange{ID: id, At: time.Unix(int64(i), 0)})
	}

	assert.Equal(t, int64(1), f.Dropped())
	assert.Equal(t, "b", (<-f.C()).ID)
	assert.Equal(t, "c", (<-f.C()).ID)

	f.Publish(StatusChange{ID: "d"})
	assert.Equal(t, "d", (<-f.C()).ID)
	assert.Equal(t, int64(1), f.Dropped())
}

func TestNewFeedDefaultSize(t *testing.T) {
	f := NewFeed(0)
	assert.Equal(t, DefaultFeedSize, cap(f.ch))
}
