package sync

import (
	"sync"
	"time"
)

// Event is one diagnostics entry: something the orchestrator did or hit
// during a sync cycle, kept for operators to inspect without log access.
type Event struct {
	At      time.Time `json:"at"`
	Stage   string    `json:"stage"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// ring is a bounded diagnostics buffer. Once full, the oldest event is
// dropped for each new one, so memory stays constant however long the
// process runs.
type ring struct {
	mu     sync.Mutex
	events []Event
	next   int
	full   bool
}

func newRing(capacity int) *ring {
	return &ring{events: make([]Event, capacity)}
}

func (r *ring) append(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[r.next] = ev
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
}

// snapshot returns the buffered events oldest-first.
func (r *ring) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]Event, r.next)
		copy(out, r.events[:r.next])
		return out
	}
	out := make([]Event, 0, len(r.events))
	out = append(out, r.events[r.next:]...)
	out = append(out, r.events[:r.next]...)
	return out
}
