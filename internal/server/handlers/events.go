package handlers

import (
	"sync"

	"github.com/3leaps/jobwatch/pkg/reconcile"
)

// DefaultEventLogSize is the number of status changes kept by EventLog.
const DefaultEventLogSize = 256

// EventLog keeps the most recent status changes for GET /v1/events.
type EventLog struct {
	mu     sync.RWMutex
	events []reconcile.StatusChange
	size   int
}

func NewEventLog(size int) *EventLog {
	if size <= 0 {
		size = DefaultEventLogSize
	}
	return &EventLog{size: size}
}

// Add appends ev, evicting the oldest entry when full.
func (l *EventLog) Add(ev reconcile.StatusChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == l.size {
		copy(l.events, l.events[1:])
		l.events = l.events[:l.size-1]
	}
	l.events = append(l.events, ev)
}

// Recent returns up to limit events, newest first. A limit ≤ 0 returns all.
func (l *EventLog) Recent(limit int) []reconcile.StatusChange {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]reconcile.StatusChange, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.events[i])
	}
	return out
}
