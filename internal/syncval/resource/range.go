// Package resource defines the address ranges over which access history is
// tracked and an interval map keyed by those ranges.
//
// Every resource (buffer or image) owns a private linear address space.
// Buffers use byte offsets; images are flattened so that each
// (aspect, mip level, array layer) subresource occupies one unit.
package resource

import (
	"errors"
	"fmt"
)

// ID is an opaque resource handle supplied by the caller.
type ID uint64

// ErrEmptyRange is returned when a range has zero size.
var ErrEmptyRange = errors.New("resource: empty range")

// Range is a half-open interval [Begin, End) in one resource's address space.
type Range struct {
	Resource ID
	Begin    uint64
	End      uint64
}

// Buffer returns the range covering size bytes of buffer id starting at offset.
func Buffer(id ID, offset, size uint64) Range {
	return Range{Resource: id, Begin: offset, End: offset + size}
}

// Size returns the number of units covered.
func (r Range) Size() uint64 {
	if r.End <= r.Begin {
		return 0
	}
	return r.End - r.Begin
}

// Empty reports whether the range covers nothing.
func (r Range) Empty() bool {
	return r.End <= r.Begin
}

// Validate returns ErrEmptyRange for empty ranges.
func (r Range) Validate() error {
	if r.Empty() {
		return fmt.Errorf("%w: %s", ErrEmptyRange, r)
	}
	return nil
}

// Overlaps reports whether r and o share at least one unit of the same
// resource.
func (r Range) Overlaps(o Range) bool {
	return r.Resource == o.Resource && r.Begin < o.End && o.Begin < r.End
}

// Contains reports whether o lies entirely within r.
func (r Range) Contains(o Range) bool {
	return r.Resource == o.Resource && r.Begin <= o.Begin && o.End <= r.End
}

// Intersect returns the overlap of r and o. The result is empty if they do
// not overlap.
func (r Range) Intersect(o Range) Range {
	if !r.Overlaps(o) {
		return Range{Resource: r.Resource}
	}
	return Range{Resource: r.Resource, Begin: max(r.Begin, o.Begin), End: min(r.End, o.End)}
}

// String renders "res#id[begin,end)".
func (r Range) String() string {
	return fmt.Sprintf("res#%d[%d,%d)", r.Resource, r.Begin, r.End)
}
