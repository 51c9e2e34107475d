package timeline

import (
	"errors"
	"fmt"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"

	"github.com/kolkov/syncval/internal/syncval/stage"
	"github.com/kolkov/syncval/internal/syncval/tag"
)

var (
	// ErrNonMonotonicSignal is returned when a timeline signal does not
	// exceed the semaphore's current value.
	ErrNonMonotonicSignal = errors.New("timeline: signal value not greater than current value")

	// ErrBinaryWaitValue is returned when a wait or signal on a binary
	// semaphore names a counter value.
	ErrBinaryWaitValue = errors.New("timeline: counter value given for binary semaphore")

	// ErrSemaphoreKindMismatch is returned for timeline-only operations on a
	// binary semaphore.
	ErrSemaphoreKindMismatch = errors.New("timeline: operation requires a timeline semaphore")
)

// Kind is the semaphore type.
type Kind uint8

const (
	// Binary semaphores carry no counter; signals and waits pair up.
	Binary Kind = iota
	// Timeline semaphores carry a monotonically increasing counter.
	Timeline
)

// String returns "binary" or "timeline".
func (k Kind) String() string {
	switch k {
	case Binary:
		return "binary"
	case Timeline:
		return "timeline"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ParseKind parses "binary" or "timeline".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "binary", "":
		return Binary, nil
	case "timeline":
		return Timeline, nil
	}
	return 0, fmt.Errorf("timeline: unknown semaphore kind %q", s)
}

// SemaphoreID is an opaque semaphore handle.
type SemaphoreID uint64

// Signal is one applied signal.
type Signal struct {
	// Value is the counter value applied by the signal.
	Value uint64

	// Batch is the signaling batch, or tag.None for a host signal.
	Batch tag.Tag

	// Scope is the signal's first synchronization scope.
	Scope stage.Mask
}

// FromHost reports whether the host applied the signal.
func (s *Signal) FromHost() bool {
	return s.Batch.IsNone()
}

// Waiter is a batch blocked on a value nobody has signaled yet.
type Waiter struct {
	Batch  tag.Tag
	Value  uint64
	Stages stage.Mask
}

// Resolution pairs a pending waiter with the signal that resolved it.
type Resolution struct {
	Waiter Waiter
	Signal *Signal
}

// Semaphore is the registry record of one semaphore.
//
// Invariant: for timeline semaphores Current() never decreases and every
// pending waiter's value exceeds Current().
type Semaphore struct {
	ID   SemaphoreID
	Kind Kind

	// External semaphores were imported from a handle; their signaling
	// history outside the engine is unknown.
	External bool

	signals *treemap.Map // uint64 -> *Signal
	pending *treemap.Map // uint64 -> []Waiter
	waiters int

	current uint64 // highest value applied
	synced  uint64 // highest value the host knows complete

	binarySignals uint64
	binaryWaits   uint64
}

func newSemaphore(id SemaphoreID, kind Kind, initial uint64) *Semaphore {
	return &Semaphore{
		ID:      id,
		Kind:    kind,
		signals: treemap.NewWith(utils.UInt64Comparator),
		pending: treemap.NewWith(utils.UInt64Comparator),
		current: initial,
		synced:  initial,
	}
}

// Current returns the highest value signaled so far, including the
// initial value.
func (s *Semaphore) Current() uint64 {
	return s.current
}

// Synced returns the highest value the host knows to be complete.
func (s *Semaphore) Synced() uint64 {
	return s.synced
}

// Signals returns the number of retained signal records.
func (s *Semaphore) Signals() int {
	return s.signals.Size()
}

// Pending returns the number of pending waiters.
func (s *Semaphore) Pending() int {
	return s.waiters
}

// CheckSignal validates a signal of value v without applying it.
func (s *Semaphore) CheckSignal(v uint64) error {
	if s.Kind == Binary {
		if v != 0 {
			return fmt.Errorf("%w: semaphore %d value %d", ErrBinaryWaitValue, s.ID, v)
		}
		return nil
	}
	if v <= s.current {
		return fmt.Errorf("%w: semaphore %d value %d, current %d", ErrNonMonotonicSignal, s.ID, v, s.current)
	}
	return nil
}

// CheckWait validates a wait for value v.
func (s *Semaphore) CheckWait(v uint64) error {
	if s.Kind == Binary && v != 0 {
		return fmt.Errorf("%w: semaphore %d value %d", ErrBinaryWaitValue, s.ID, v)
	}
	return nil
}

// Apply records a signal of value v by batch (tag.None for the host) and
// returns the new record and the pending waiters it resolves, in value
// order. For binary semaphores v is ignored and the next implicit value is
// used; a binary signal that resolves a waiter is consumed.
//
// The caller must have validated v with CheckSignal.
func (s *Semaphore) Apply(v uint64, batch tag.Tag, scope stage.Mask) (*Signal, []Resolution) {
	if s.Kind == Binary {
		s.binarySignals++
		v = s.binarySignals
	}
	sig := &Signal{Value: v, Batch: batch, Scope: scope}
	s.signals.Put(v, sig)
	s.current = max(s.current, v)

	out := s.resolveUpTo(v, sig)
	if s.Kind == Binary && len(out) > 0 {
		s.signals.Remove(v)
	}
	return sig, out
}

// resolveUpTo removes every pending waiter with value <= v and pairs it
// with sig.
func (s *Semaphore) resolveUpTo(v uint64, sig *Signal) []Resolution {
	var out []Resolution
	for {
		k, val := s.pending.Min()
		if k == nil || k.(uint64) > v {
			return out
		}
		ws := val.([]Waiter)
		for _, w := range ws {
			out = append(out, Resolution{Waiter: w, Signal: sig})
		}
		s.waiters -= len(ws)
		s.pending.Remove(k)
	}
}

// Find returns the signal a wait for value v would bind to, without
// binding it. sig is nil when the value needs no ancestor; ok is false when
// no signal reached v yet.
func (s *Semaphore) Find(v uint64) (sig *Signal, ok bool) {
	if v <= s.synced {
		return nil, true
	}
	k, val := s.signals.Ceiling(v)
	if k == nil {
		return nil, v <= s.current
	}
	sig = val.(*Signal)
	if sig.FromHost() {
		return nil, true
	}
	return sig, true
}

// Bind resolves a wait for value v (ignored for binary semaphores).
//
// It returns the bound value and, when a device batch applied it, the
// signal record. A nil signal with ok set means the value needs no
// ancestor: the host applied it or already knows it complete. When no
// signal reached the value yet ok is false and the caller registers the
// wait with AddWaiter using the returned value.
func (s *Semaphore) Bind(v uint64) (value uint64, sig *Signal, ok bool) {
	if s.Kind == Binary {
		s.binaryWaits++
		v = s.binaryWaits
	}
	sig, ok = s.Find(v)
	if s.Kind == Binary && ok {
		s.signals.Remove(v)
	}
	return v, sig, ok
}

// AddWaiter registers a pending waiter.
func (s *Semaphore) AddWaiter(w Waiter) {
	var ws []Waiter
	if val, found := s.pending.Get(w.Value); found {
		ws = val.([]Waiter)
	}
	s.pending.Put(w.Value, append(ws, w))
	s.waiters++
}

// Waiters returns the pending waiters in value order.
func (s *Semaphore) Waiters() []Waiter {
	out := make([]Waiter, 0, s.waiters)
	it := s.pending.Iterator()
	for it.Next() {
		out = append(out, it.Value().([]Waiter)...)
	}
	return out
}

// Latest returns the retained signal with the highest value, or nil.
func (s *Semaphore) Latest() *Signal {
	if _, val := s.signals.Max(); val != nil {
		return val.(*Signal)
	}
	return nil
}

// EachSignal calls fn with every retained signal in ascending value order
// until fn returns false.
func (s *Semaphore) EachSignal(fn func(sig *Signal) bool) {
	it := s.signals.Iterator()
	for it.Next() {
		if !fn(it.Value().(*Signal)) {
			return
		}
	}
}

// Sync raises the synced value to the highest signal that is host-applied
// or whose batch done reports complete. It reports whether it changed.
func (s *Semaphore) Sync(done func(t tag.Tag) bool) bool {
	old := s.synced
	s.EachSignal(func(sig *Signal) bool {
		if sig.Value > s.synced && (sig.FromHost() || done(sig.Batch)) {
			s.synced = sig.Value
		}
		return true
	})
	return s.synced != old
}

// Observe applies a counter value reported by the driver: every signal up
// to v has completed. It returns the signals that became known complete
// and the pending waiters resolved without an ancestor.
func (s *Semaphore) Observe(v uint64) ([]*Signal, []Resolution, error) {
	if s.Kind != Timeline {
		return nil, nil, fmt.Errorf("%w: semaphore %d is %s", ErrSemaphoreKindMismatch, s.ID, s.Kind)
	}
	var done []*Signal
	s.EachSignal(func(sig *Signal) bool {
		if sig.Value > v {
			return false
		}
		if sig.Value > s.synced && !sig.FromHost() {
			done = append(done, sig)
		}
		return true
	})
	s.current = max(s.current, v)
	s.synced = max(s.synced, v)
	return done, s.resolveUpTo(v, nil), nil
}

// Prune drops signal records the host knows complete, keeping the latest
// one. It returns the number dropped.
func (s *Semaphore) Prune() int {
	latest, _ := s.signals.Max()
	var drop []uint64
	it := s.signals.Iterator()
	for it.Next() {
		k := it.Key().(uint64)
		if k > s.synced {
			break
		}
		if k != latest {
			drop = append(drop, k)
		}
	}
	for _, k := range drop {
		s.signals.Remove(k)
	}
	return len(drop)
}
