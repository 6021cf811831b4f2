package reconcile

import (
	"sync/atomic"
	"time"
)

// StatusChange reports that the canonical status of an experiment moved.
type StatusChange struct {
	ID        string    `json:"id"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	At        time.Time `json:"at"`

	// Source is "reconcile" for corrections derived from job details and
	// "list" for changes observed between list refreshes.
	Source string `json:"source"`
}

// Event sources.
const (
	SourceReconcile = "reconcile"
	SourceList      = "list"
)

// DefaultFeedSize is the event buffer used when none is configured.
const DefaultFeedSize = 64

// Feed is a bounded StatusChange stream. Publishing never blocks: when the
// buffer is full the oldest undelivered event is discarded and counted.
type Feed struct {
	ch      chan StatusChange
	dropped atomic.Int64
}

// NewFeed creates a feed buffering up to size events.
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = DefaultFeedSize
	}
	return &Feed{ch: make(chan StatusChange, size)}
}

// C returns the receive side of the feed.
func (f *Feed) C() <-chan StatusChange {
	return f.ch
}

// Dropped returns how many events were discarded to make room.
func (f *Feed) Dropped() int64 {
	return f.dropped.Load()
}

// Publish enqueues ev, evicting the oldest buffered event if needed.
func (f *Feed) Publish(ev StatusChange) {
	for {
		select {
		case f.ch <- ev:
			return
		default:
		}
		select {
		case <-f.ch:
			f.dropped.Add(1)
		default:
		}
	}
}
