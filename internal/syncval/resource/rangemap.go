package resource

import (
	"sort"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
)

// span is one stored interval. The tree key is the interval start.
type span[V any] struct {
	end uint64
	val V
}

// RangeMap maps disjoint ranges to values. Each resource has its own ordered
// tree keyed by interval start; intervals never overlap.
//
// Splitting an interval stores the same value in both halves. Values that
// are pointers must therefore be treated as immutable by callers: update
// callbacks return a fresh value instead of mutating the old one.
//
// Thread Safety: not safe for concurrent mutation. Concurrent readers are
// fine once the map is no longer written.
type RangeMap[V any] struct {
	trees map[ID]*treemap.Map
	spans int
}

// NewRangeMap creates an empty map.
func NewRangeMap[V any]() *RangeMap[V] {
	return &RangeMap[V]{trees: make(map[ID]*treemap.Map)}
}

// Len returns the number of stored intervals.
func (m *RangeMap[V]) Len() int {
	if m == nil {
		return 0
	}
	return m.spans
}

func (m *RangeMap[V]) tree(id ID, create bool) *treemap.Map {
	t, ok := m.trees[id]
	if !ok && create {
		t = treemap.NewWith(utils.UInt64Comparator)
		m.trees[id] = t
	}
	return t
}

// first returns the key of the first interval ending after begin.
func first[V any](t *treemap.Map, begin uint64) (uint64, *span[V], bool) {
	if k, v := t.Floor(begin); k != nil {
		if s := v.(*span[V]); s.end > begin {
			return k.(uint64), s, true
		}
	}
	k, v := t.Ceiling(begin)
	if k == nil {
		return 0, nil, false
	}
	return k.(uint64), v.(*span[V]), true
}

// next returns the interval following the one starting at key.
func next[V any](t *treemap.Map, key uint64) (uint64, *span[V], bool) {
	k, v := t.Ceiling(key + 1)
	if k == nil {
		return 0, nil, false
	}
	return k.(uint64), v.(*span[V]), true
}

// visit calls fn for every stored interval overlapping r, in ascending order.
// fn receives the unclipped interval bounds.
func (m *RangeMap[V]) visit(r Range, fn func(begin uint64, s *span[V]) bool) {
	if m == nil || r.Empty() {
		return
	}
	t := m.tree(r.Resource, false)
	if t == nil {
		return
	}
	k, s, ok := first[V](t, r.Begin)
	for ok && k < r.End {
		if !fn(k, s) {
			return
		}
		k, s, ok = next[V](t, k)
	}
}

// Overlapping calls fn with every stored interval overlapping r, clipped to
// r, in ascending order. Iteration stops when fn returns false.
func (m *RangeMap[V]) Overlapping(r Range, fn func(sub Range, v V) bool) {
	m.visit(r, func(begin uint64, s *span[V]) bool {
		sub := Range{Resource: r.Resource, Begin: max(begin, r.Begin), End: min(s.end, r.End)}
		return fn(sub, s.val)
	})
}

// Walk partitions r into stored pieces and gaps and calls fn for each in
// ascending order. For gaps ok is false and v is the zero value.
func (m *RangeMap[V]) Walk(r Range, fn func(sub Range, v V, ok bool)) {
	if r.Empty() {
		return
	}
	cursor := r.Begin
	var zero V
	m.Overlapping(r, func(sub Range, v V) bool {
		if sub.Begin > cursor {
			fn(Range{Resource: r.Resource, Begin: cursor, End: sub.Begin}, zero, false)
		}
		fn(sub, v, true)
		cursor = sub.End
		return true
	})
	if cursor < r.End {
		fn(Range{Resource: r.Resource, Begin: cursor, End: r.End}, zero, false)
	}
}

// Gaps returns the sub-ranges of r with no stored value.
func (m *RangeMap[V]) Gaps(r Range) []Range {
	var out []Range
	m.Walk(r, func(sub Range, _ V, ok bool) {
		if !ok {
			out = append(out, sub)
		}
	})
	return out
}

// split makes at an interval boundary in t if an interval straddles it.
func (m *RangeMap[V]) split(t *treemap.Map, at uint64) {
	k, v := t.Floor(at)
	if k == nil {
		return
	}
	begin, s := k.(uint64), v.(*span[V])
	if begin == at || s.end <= at {
		return
	}
	t.Put(at, &span[V]{end: s.end, val: s.val})
	s.end = at
	m.spans++
}

// Update replaces every piece of r with fn's result. Stored pieces are
// passed with ok=true, gaps with ok=false; gaps are filled.
func (m *RangeMap[V]) Update(r Range, fn func(v V, ok bool) V) {
	if r.Empty() {
		return
	}
	t := m.tree(r.Resource, true)
	m.split(t, r.Begin)
	m.split(t, r.End)

	type piece struct {
		begin, end uint64
		val        V
		ok         bool
	}
	var pieces []piece
	m.Walk(r, func(sub Range, v V, ok bool) {
		pieces = append(pieces, piece{sub.Begin, sub.End, v, ok})
	})
	for _, p := range pieces {
		if !p.ok {
			m.spans++
		}
		t.Put(p.begin, &span[V]{end: p.end, val: fn(p.val, p.ok)})
	}
}

// Set stores v over all of r, replacing anything stored there.
func (m *RangeMap[V]) Set(r Range, v V) {
	if r.Empty() {
		return
	}
	m.Delete(r)
	m.tree(r.Resource, true).Put(r.Begin, &span[V]{end: r.End, val: v})
	m.spans++
}

// Delete removes every stored piece inside r, splitting intervals that
// straddle its bounds.
func (m *RangeMap[V]) Delete(r Range) {
	if r.Empty() {
		return
	}
	t := m.tree(r.Resource, false)
	if t == nil {
		return
	}
	m.split(t, r.Begin)
	m.split(t, r.End)
	var keys []uint64
	m.visit(r, func(begin uint64, _ *span[V]) bool {
		keys = append(keys, begin)
		return true
	})
	for _, k := range keys {
		t.Remove(k)
		m.spans--
	}
	if t.Empty() {
		delete(m.trees, r.Resource)
	}
}

// Resources returns the resources with stored intervals in ascending order.
func (m *RangeMap[V]) Resources() []ID {
	if m == nil {
		return nil
	}
	ids := make([]ID, 0, len(m.trees))
	for id := range m.trees {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Each calls fn for every stored interval, ordered by resource then start.
func (m *RangeMap[V]) Each(fn func(r Range, v V)) {
	for _, id := range m.Resources() {
		it := m.trees[id].Iterator()
		for it.Next() {
			s := it.Value().(*span[V])
			fn(Range{Resource: id, Begin: it.Key().(uint64), End: s.end}, s.val)
		}
	}
}

// Replace substitutes every stored value with fn's result.
func (m *RangeMap[V]) Replace(fn func(r Range, v V) V) {
	for _, id := range m.Resources() {
		it := m.trees[id].Iterator()
		for it.Next() {
			s := it.Value().(*span[V])
			s.val = fn(Range{Resource: id, Begin: it.Key().(uint64), End: s.end}, s.val)
		}
	}
}
