package accessstate

import (
	"github.com/kolkov/syncval/internal/syncval/hazard"
	"github.com/kolkov/syncval/internal/syncval/vectorclock"
)

// ConflictFunc receives a conflict between two histories being merged.
// prior and current are ordered deterministically: for two writes the lower
// tag is prior; for a read and a write the read is prior.
type ConflictFunc func(kind hazard.Kind, prior, current Record)

// Side is one input of a merge: a history together with the causal
// knowledge of the context it came from.
type Side struct {
	State *State
	Knows *vectorclock.VectorClock
}

// Merge combines the histories of the same range seen through two
// independently imported ancestors.
//
// The same record reached through both paths is kept once with the union of
// its barriers. A record the other side knows about but no longer holds was
// superseded there and is dropped. Writes unknown to each other are
// unordered: the conflict is reported and the write with the higher tag
// wins. Reads unknown to the side holding the winning write are reported as
// conflicts with that write and kept.
func Merge(a, b Side, conflict ConflictFunc) *State {
	if a.State.Empty() {
		return b.State.Clone()
	}
	if b.State.Empty() {
		return a.State.Clone()
	}
	if conflict == nil {
		conflict = func(hazard.Kind, Record, Record) {}
	}

	const (
		sideNone = iota
		sideA
		sideB
		sideBoth
	)

	out := &State{}
	winner := sideNone
	wa, wb := a.State.write, b.State.write
	switch {
	case wa == nil && wb == nil:
	case wb == nil:
		winner = sideA
	case wa == nil:
		winner = sideB
	case wa.Tag == wb.Tag && wa.Access == wb.Access:
		winner = sideBoth
	case a.Knows.Covers(wb.Tag):
		winner = sideA
	case b.Knows.Covers(wa.Tag):
		winner = sideB
	default:
		if wb.Tag.Less(wa.Tag) {
			conflict(hazard.WriteAfterWrite, *wb, *wa)
			winner = sideA
		} else {
			conflict(hazard.WriteAfterWrite, *wa, *wb)
			winner = sideB
		}
	}

	switch winner {
	case sideA:
		w := *wa
		out.write = &w
	case sideB:
		w := *wb
		out.write = &w
	case sideBoth:
		w := *wa
		w.Barriers |= wb.Barriers
		out.write = &w
	}

	mergeReads := func(from, other Side, otherSide int) {
		for i := range from.State.reads {
			r := from.State.reads[i]
			if j := out.findRead(&r); j >= 0 {
				out.reads[j].Barriers |= r.Barriers
				continue
			}
			if other.Knows.Covers(r.Tag) && !other.State.hasRead(&r) {
				continue
			}
			if winner == otherSide && !other.State.hasRead(&r) && !from.Knows.Covers(out.write.Tag) {
				conflict(hazard.ReadAfterWrite, r, *out.write)
			}
			out.reads = append(out.reads, r)
		}
	}
	mergeReads(a, b, sideB)
	mergeReads(b, a, sideA)
	return out
}

func (s *State) hasRead(r *Record) bool {
	return s.findRead(r) >= 0
}
