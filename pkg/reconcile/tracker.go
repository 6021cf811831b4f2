package reconcile

import (
	"sync"

	"github.com/3leaps/jobwatch/pkg/amlt"
	"github.com/3leaps/jobwatch/pkg/status"
)

// State is the reconciliation state of one tracked experiment.
type State int

const (
	StateUnknown State = iota
	StateActive
	StateTerminalConfirmed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateTerminalConfirmed:
		return "terminal_confirmed"
	default:
		return "unknown"
	}
}

// Candidate is an experiment eligible for a correction pass.
type Candidate struct {
	ID string
	// Status is the canonical status currently displayed for ID.
	Status string
}

type tracked struct {
	status string
	state  State
}

// Tracker holds the latest list snapshot and the reconciliation state of
// every experiment in it. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	order   []string
	entries map[string]tracked
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]tracked)}
}

// Observe replaces the snapshot with summaries, keeping their order.
// Experiments absent from summaries are forgotten. A confirmed terminal
// status survives later snapshots that still report the experiment active.
func (t *Tracker) Observe(summaries []amlt.ExperimentSummary) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[string]tracked, len(summaries))
	order := make([]string, 0, len(summaries))
	for _, s := range summaries {
		if s.ID == "" {
			continue
		}
		if _, dup := next[s.ID]; dup {
			continue
		}
		st := status.Normalize(s.Status)
		entry := tracked{status: st, state: classify(st)}
		if prev, ok := t.entries[s.ID]; ok && prev.state == StateTerminalConfirmed && entry.state != StateTerminalConfirmed {
			entry = prev
		}
		next[s.ID] = entry
		order = append(order, s.ID)
	}
	t.entries = next
	t.order = order
}

func classify(st string) State {
	switch {
	case status.IsActive(st):
		return StateActive
	case status.IsTerminal(st):
		return StateTerminalConfirmed
	default:
		return StateUnknown
	}
}

// Eligible returns up to limit active experiments in snapshot order. A
// non-positive limit returns all of them.
func (t *Tracker) Eligible(limit int) []Candidate {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Candidate
	for _, id := range t.order {
		e := t.entries[id]
		if e.state != StateActive {
			continue
		}
		out = append(out, Candidate{ID: id, Status: e.status})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Confirm records a terminal status for id. Unknown IDs are ignored.
func (t *Tracker) Confirm(id, st string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; !ok {
		return
	}
	t.entries[id] = tracked{status: status.Normalize(st), state: StateTerminalConfirmed}
}

// Lookup returns the displayed status and state of id.
func (t *Tracker) Lookup(id string) (string, State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	return e.status, e.state, ok
}

// Len returns the number of tracked experiments.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}
