package bus

import (
	"sync"
	"time"

	"github.com/kohlerlabs/agentcore/pkg/models"
)

const debugRingCapacity = 100

// debugEntry is one recorded delivery, kept purely for operator inspection.
// It is not a query surface and Memory does not read from it; Memory
// ingests via its own Bus subscription like any other handler.
type debugEntry struct {
	Task Task
	At   time.Time
}

// Task is a thin recording alias so callers of DebugRing don't need to
// import pkg/models separately for this one field.
type Task = models.Task

// debugRing is a bounded FIFO ring buffer of recent publications, for
// debugging only.
type debugRing struct {
	mu      sync.Mutex
	entries []debugEntry
	next    int
	full    bool
}

func newDebugRing() *debugRing {
	return &debugRing{entries: make([]debugEntry, debugRingCapacity)}
}

func (r *debugRing) record(t models.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = debugEntry{Task: t, At: time.Now()}
	r.next = (r.next + 1) % debugRingCapacity
	if r.next == 0 {
		r.full = true
	}
}

// Snapshot returns the recorded entries in chronological order (oldest
// first).
func (r *debugRing) Snapshot() []debugEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]debugEntry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]debugEntry, debugRingCapacity)
	copy(out, r.entries[r.next:])
	copy(out[debugRingCapacity-r.next:], r.entries[:r.next])
	return out
}
