package tracker

import (
	"time"

	"github.com/stratahq/strata/types"
)

// eventRing is an append-only ring buffer of access events capped at a
// fixed size. The oldest entries are dropped first.
type eventRing struct {
	events []types.AccessEvent
	head   int
	size   int
}

func newEventRing(capacity int) *eventRing {
	if capacity <= 0 {
		capacity = 1000
	}
	return &eventRing{events: make([]types.AccessEvent, capacity)}
}

func (r *eventRing) append(ev types.AccessEvent) {
	r.events[r.head] = ev
	r.head = (r.head + 1) % len(r.events)
	if r.size < len(r.events) {
		r.size++
	}
}

// snapshot returns events in chronological order.
func (r *eventRing) snapshot() []types.AccessEvent {
	out := make([]types.AccessEvent, 0, r.size)
	start := r.head - r.size
	if start < 0 {
		start += len(r.events)
	}
	for i := 0; i < r.size; i++ {
		out = append(out, r.events[(start+i)%len(r.events)])
	}
	return out
}

// countsSince returns per-path event counts within the trailing window
// ending at now.
func (r *eventRing) countsSince(cutoff time.Time) map[string]int {
	counts := make(map[string]int)
	start := r.head - r.size
	if start < 0 {
		start += len(r.events)
	}
	for i := 0; i < r.size; i++ {
		ev := &r.events[(start+i)%len(r.events)]
		if !ev.Timestamp.Before(cutoff) {
			counts[ev.Path]++
		}
	}
	return counts
}

func (r *eventRing) load(events []types.AccessEvent) {
	for _, ev := range events {
		r.append(ev)
	}
}
