// Package vectorclock implements sparse per-queue clocks for tracking
// happens-before relations between submitted batches.
//
// Each batch carries a clock recording, for every queue, the highest
// sequence number it is causally ordered after (through same-queue
// submission order, semaphore waits, or host signals). Because sequence
// numbers on one queue are totally ordered, a single number per queue is
// enough to answer "does this batch know about tag t?".
//
// Key operations:
//   - Join: point-wise maximum, used when a batch imports an ancestor
//   - Covers: O(1) happens-before check for a single tag
//   - LessOrEqual: partial order between two clocks
//
// Unlike a thread-indexed fixed array, the number of queues a device
// exposes is small and sparse, so the clock is a map.
package vectorclock

import (
	"sort"
	"strconv"
	"strings"

	"github.com/kolkov/syncval/internal/syncval/tag"
)

// VectorClock maps a queue to the highest sequence number known on it.
//
// The zero value is an empty clock ready to use; a nil *VectorClock behaves
// as an empty clock for all read-only methods.
type VectorClock struct {
	c map[tag.QueueID]uint64
}

// New creates an empty vector clock.
func New() *VectorClock {
	return &VectorClock{c: make(map[tag.QueueID]uint64)}
}

// Of creates a clock that knows exactly the given tags.
func Of(tags ...tag.Tag) *VectorClock {
	vc := New()
	for _, t := range tags {
		vc.Advance(t)
	}
	return vc
}

// Clone creates a deep copy of the vector clock.
//
// Clocks attached to a frozen AccessContext are shared between contexts, so
// any mutation must happen on a clone.
func (vc *VectorClock) Clone() *VectorClock {
	clone := &VectorClock{c: make(map[tag.QueueID]uint64, vc.Len())}
	if vc == nil {
		return clone
	}
	for q, s := range vc.c {
		clone.c[q] = s
	}
	return clone
}

// Join performs point-wise maximum: vc = vc ⊔ other.
//
// Used when a batch imports an ancestor: the batch now knows everything the
// ancestor knew. Returns true if vc changed.
func (vc *VectorClock) Join(other *VectorClock) bool {
	if other == nil {
		return false
	}
	if vc.c == nil {
		vc.c = make(map[tag.QueueID]uint64, len(other.c))
	}
	changed := false
	for q, s := range other.c {
		if s > vc.c[q] {
			vc.c[q] = s
			changed = true
		}
	}
	return changed
}

// Advance records that tag t is known. Returns true if vc changed.
func (vc *VectorClock) Advance(t tag.Tag) bool {
	if t.IsNone() {
		return false
	}
	if vc.c == nil {
		vc.c = make(map[tag.QueueID]uint64)
	}
	q, s := t.Decode()
	if s > vc.c[q] {
		vc.c[q] = s
		return true
	}
	return false
}

// Covers reports whether tag t happened-before (or is) the point vc
// describes. The zero tag is always covered.
func (vc *VectorClock) Covers(t tag.Tag) bool {
	if t.IsNone() {
		return true
	}
	q, s := t.Decode()
	return s <= vc.Get(q)
}

// LessOrEqual checks partial order: vc ⊑ other.
//
// Returns true if vc[q] <= other[q] for all queues q.
func (vc *VectorClock) LessOrEqual(other *VectorClock) bool {
	if vc == nil {
		return true
	}
	for q, s := range vc.c {
		if s > other.Get(q) {
			return false
		}
	}
	return true
}

// Get returns the sequence known for queue q (0 if none).
func (vc *VectorClock) Get(q tag.QueueID) uint64 {
	if vc == nil {
		return 0
	}
	return vc.c[q]
}

// Len returns the number of queues with a non-zero entry.
func (vc *VectorClock) Len() int {
	if vc == nil {
		return 0
	}
	return len(vc.c)
}

// Queues returns the queues present in the clock in ascending order.
func (vc *VectorClock) Queues() []tag.QueueID {
	if vc == nil {
		return nil
	}
	qs := make([]tag.QueueID, 0, len(vc.c))
	for q := range vc.c {
		qs = append(qs, q)
	}
	sort.Slice(qs, func(i, j int) bool { return qs[i] < qs[j] })
	return qs
}

// String returns a debug representation: "{q0:s0, q1:s1}" in queue order.
func (vc *VectorClock) String() string {
	qs := vc.Queues()
	if len(qs) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(qs))
	for _, q := range qs {
		name := strconv.FormatUint(uint64(q), 10)
		if q == tag.HostQueue {
			name = "host"
		}
		parts = append(parts, name+":"+strconv.FormatUint(vc.c[q], 10))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
