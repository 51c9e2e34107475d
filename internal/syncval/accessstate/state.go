// Package accessstate implements the per-range access history used for
// hazard detection.
//
// A State holds the last write to a range and the reads performed since
// that write. Every record carries the set of destination stages it has been
// synchronized with by barriers or semaphore waits. A later access at a
// stage outside that set is a hazard.
//
// State values are shared between ranges and between frozen access contexts,
// so they are copy-on-write: callers Clone before mutating a State they did
// not create.
package accessstate

import (
	"github.com/kolkov/syncval/internal/syncval/hazard"
	"github.com/kolkov/syncval/internal/syncval/stage"
	"github.com/kolkov/syncval/internal/syncval/tag"
	"github.com/kolkov/syncval/internal/syncval/vectorclock"
)

// Record is one access in a range's history.
type Record struct {
	// Tag is the batch that performed the access.
	Tag tag.Tag

	// Access is the stage and access kind.
	Access stage.Access

	// Command is the index of the access in its batch's log (-1 if unknown).
	Command int

	// Label is the caller-supplied command label.
	Label string

	// Barriers is the set of destination stages this access has been made
	// available and visible to. Accesses at these stages are ordered after
	// this record.
	Barriers stage.Mask
}

// Ref returns the record as a hazard side.
func (r Record) Ref() hazard.Access {
	return hazard.Access{Tag: r.Tag, Access: r.Access, Command: r.Command, Label: r.Label}
}

// orderedBefore reports whether an access at stage s is ordered after r.
func (r *Record) orderedBefore(s stage.Mask) bool {
	return r.Barriers.Has(s)
}

// applyBarrier extends r's barriers if r is in the barrier's first scope,
// either directly or through an earlier barrier it was chained with.
func (r *Record) applyBarrier(src, dst stage.Mask) {
	if src.Has(r.Access.Stage) || r.Barriers.Intersects(src) {
		r.Barriers |= dst
	}
}

func sameAccess(a, b *Record) bool {
	return a.Tag == b.Tag && a.Access == b.Access
}

// State is the access history of one range.
//
// The zero value is an untouched range.
type State struct {
	write *Record
	reads []Record
}

// New returns an empty state.
func New() *State {
	return &State{}
}

// Clone returns a deep copy. A nil state clones to an empty one.
func (s *State) Clone() *State {
	out := &State{}
	if s == nil {
		return out
	}
	if s.write != nil {
		w := *s.write
		out.write = &w
	}
	if len(s.reads) > 0 {
		out.reads = make([]Record, len(s.reads))
		copy(out.reads, s.reads)
	}
	return out
}

// Empty reports whether the range has no recorded accesses.
func (s *State) Empty() bool {
	return s == nil || (s.write == nil && len(s.reads) == 0)
}

// LastWrite returns the last write, if any.
func (s *State) LastWrite() (Record, bool) {
	if s == nil || s.write == nil {
		return Record{}, false
	}
	return *s.write, true
}

// Reads returns a copy of the reads since the last write.
func (s *State) Reads() []Record {
	if s == nil {
		return nil
	}
	out := make([]Record, len(s.reads))
	copy(out, s.reads)
	return out
}

func (s *State) findRead(r *Record) int {
	for i := range s.reads {
		if sameAccess(&s.reads[i], r) {
			return i
		}
	}
	return -1
}

// DetectHazard classifies a new access against the history.
//
// A new read conflicts with a write it is not synchronized with. A new write
// conflicts with any unsynchronized read; when there are no reads it
// conflicts with an unsynchronized write. Reads never conflict with reads.
// When several reads conflict the one with the lowest tag is returned.
func (s *State) DetectHazard(sa stage.Access) (hazard.Kind, Record) {
	if s == nil {
		return hazard.None, Record{}
	}
	if !sa.IsWrite() {
		if s.write != nil && !s.write.orderedBefore(sa.Stage) {
			return hazard.WriteAfterRead, *s.write
		}
		return hazard.None, Record{}
	}

	if len(s.reads) > 0 {
		var prior *Record
		for i := range s.reads {
			r := &s.reads[i]
			if r.orderedBefore(sa.Stage) {
				continue
			}
			if prior == nil || r.Tag.Less(prior.Tag) {
				prior = r
			}
		}
		if prior != nil {
			return hazard.ReadAfterWrite, *prior
		}
		return hazard.None, Record{}
	}
	if s.write != nil && !s.write.orderedBefore(sa.Stage) {
		return hazard.WriteAfterWrite, *s.write
	}
	return hazard.None, Record{}
}

// RecordAccess records sa performed by batch t at an unknown command.
func (s *State) RecordAccess(sa stage.Access, t tag.Tag) {
	s.Record(Record{Tag: t, Access: sa, Command: -1})
}

// Record appends rec to the history. A write replaces the history; a read
// replaces an earlier read at the same stage, since any barrier that orders
// the new read also orders the old one. Incoming barriers are ignored: a
// fresh access is synchronized with nothing yet.
func (s *State) Record(rec Record) {
	rec.Barriers = stage.None
	if rec.Access.IsWrite() {
		s.write = &rec
		s.reads = nil
		return
	}
	for i := range s.reads {
		if s.reads[i].Access.Stage == rec.Access.Stage {
			s.reads[i] = rec
			return
		}
	}
	s.reads = append(s.reads, rec)
}

// ApplyBarrier synchronizes every access in the barrier's source scope
// (after logical expansion, including chained barriers) with its
// destination scope.
func (s *State) ApplyBarrier(b stage.Barrier) {
	src, dst := b.SrcScope(), b.DstScope()
	if src == stage.None || dst == stage.None {
		return
	}
	if s.write != nil {
		s.write.applyBarrier(src, dst)
	}
	for i := range s.reads {
		s.reads[i].applyBarrier(src, dst)
	}
}

// WithoutSynced returns a copy of s with every access known complete by the
// host removed, or nil if nothing remains. A nil hs removes nothing.
func (s *State) WithoutSynced(hs *vectorclock.VectorClock) *State {
	if s.Empty() {
		return nil
	}
	if hs.Len() == 0 {
		return s.Clone()
	}
	out := &State{}
	if s.write != nil && !hs.Covers(s.write.Tag) {
		w := *s.write
		out.write = &w
	}
	for _, r := range s.reads {
		if !hs.Covers(r.Tag) {
			out.reads = append(out.reads, r)
		}
	}
	if out.Empty() {
		return nil
	}
	return out
}

// Equal reports whether two states hold the same records.
func (s *State) Equal(o *State) bool {
	if s.Empty() || o.Empty() {
		return s.Empty() == o.Empty()
	}
	if (s.write == nil) != (o.write == nil) {
		return false
	}
	if s.write != nil && *s.write != *o.write {
		return false
	}
	if len(s.reads) != len(o.reads) {
		return false
	}
	for i := range s.reads {
		if s.reads[i] != o.reads[i] {
			return false
		}
	}
	return true
}
