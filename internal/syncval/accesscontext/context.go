// Package accesscontext implements AccessContext: the persistent, shareable
// record of every resource access known to have happened up to a point.
//
// A Context holds the accesses recorded by its owning batch plus links to
// ancestor contexts imported through semaphore waits or submission order.
// Importing never copies: lookups walk the ancestor links, apply each link's
// barrier and the owner's pipeline barriers to what they find, and merge the
// results when several ancestors cover the same range.
//
// Contexts are built with a Builder and are immutable once frozen, so any
// number of goroutines may look them up concurrently. The only change a
// frozen Context ever sees is Trim, which drops links to ancestors the host
// has proven complete; such ancestors contribute nothing to lookups.
//
// Host-synchronized accesses are invisible: every lookup takes a snapshot of
// the host's knowledge and filters out accesses it covers.
package accesscontext

import (
	"sync/atomic"

	"github.com/kolkov/syncval/internal/syncval/accessstate"
	"github.com/kolkov/syncval/internal/syncval/hazard"
	"github.com/kolkov/syncval/internal/syncval/resource"
	"github.com/kolkov/syncval/internal/syncval/stage"
	"github.com/kolkov/syncval/internal/syncval/tag"
	"github.com/kolkov/syncval/internal/syncval/vectorclock"
)

// Link imports an ancestor context. Barrier is applied to every access
// found through the link; a zero Barrier orders execution only.
type Link struct {
	Context *Context
	Barrier stage.Barrier
}

// Piece is the resolved history of one sub-range.
type Piece struct {
	Range resource.Range
	State *accessstate.State
}

// Finding is a hazard between a new access and a piece of history.
type Finding struct {
	Kind  hazard.Kind
	Range resource.Range
	Prior accessstate.Record
}

// ConflictFunc receives conflicts between independently imported ancestors,
// found while merging their histories during a lookup.
type ConflictFunc func(kind hazard.Kind, r resource.Range, prior, current accessstate.Record)

// Context is an immutable access context.
type Context struct {
	owner    tag.Tag
	vc       *vectorclock.VectorClock
	own      *resource.RangeMap[*accessstate.State]
	barriers []stage.Barrier
	links    atomic.Pointer[[]Link]
}

func newContext(owner tag.Tag, vc *vectorclock.VectorClock, links []Link) *Context {
	c := &Context{
		owner: owner,
		vc:    vc,
		own:   resource.NewRangeMap[*accessstate.State](),
	}
	c.links.Store(&links)
	return c
}

// Owner returns the tag of the batch that built the context.
func (c *Context) Owner() tag.Tag {
	return c.owner
}

// VC returns the causal knowledge of the context: every access reachable
// through it has a tag the clock covers. The clock must not be modified.
func (c *Context) VC() *vectorclock.VectorClock {
	return c.vc
}

// Links returns the current ancestor links. The slice must not be modified.
func (c *Context) Links() []Link {
	if p := c.links.Load(); p != nil {
		return *p
	}
	return nil
}

// OwnRanges returns the number of ranges recorded directly in the context.
func (c *Context) OwnRanges() int {
	return c.own.Len()
}

// Resolve returns the history of every accessed sub-range of r, with host
// synchronized accesses removed. Sub-ranges nobody accessed are omitted.
// The returned states are private copies.
func (c *Context) Resolve(r resource.Range, hs *vectorclock.VectorClock, conflict ConflictFunc) []Piece {
	return c.resolve(r, hs, conflict)
}

// DetectHazard checks a new access to r against the context's history.
func (c *Context) DetectHazard(r resource.Range, sa stage.Access, hs *vectorclock.VectorClock, conflict ConflictFunc) []Finding {
	return detect(c.resolve(r, hs, conflict), sa)
}

func detect(pieces []Piece, sa stage.Access) []Finding {
	var out []Finding
	for _, p := range pieces {
		if kind, prior := p.State.DetectHazard(sa); kind != hazard.None {
			out = append(out, Finding{Kind: kind, Range: p.Range, Prior: prior})
		}
	}
	return out
}

func (c *Context) resolve(r resource.Range, hs *vectorclock.VectorClock, conflict ConflictFunc) []Piece {
	var out []Piece
	c.own.Walk(r, func(sub resource.Range, st *accessstate.State, ok bool) {
		if ok {
			if f := st.WithoutSynced(hs); f != nil {
				out = append(out, Piece{Range: sub, State: f})
			}
			return
		}
		out = append(out, c.inherited(sub, hs, conflict)...)
	})
	return out
}

// live returns the links whose ancestors are not entirely host-synchronized.
func (c *Context) live(hs *vectorclock.VectorClock) []Link {
	links := c.Links()
	if hs.Len() == 0 {
		return links
	}
	out := make([]Link, 0, len(links))
	for _, l := range links {
		if !l.Context.vc.LessOrEqual(hs) {
			out = append(out, l)
		}
	}
	return out
}

func (l Link) resolve(r resource.Range, hs *vectorclock.VectorClock, conflict ConflictFunc) []Piece {
	pieces := l.Context.resolve(r, hs, conflict)
	if !l.Barrier.IsZero() {
		for _, p := range pieces {
			p.State.ApplyBarrier(l.Barrier)
		}
	}
	return pieces
}

// inherited resolves r through the ancestor links and applies the owner's
// pipeline barriers.
func (c *Context) inherited(r resource.Range, hs *vectorclock.VectorClock, conflict ConflictFunc) []Piece {
	links := c.live(hs)
	var pieces []Piece
	switch len(links) {
	case 0:
		return nil
	case 1:
		pieces = links[0].resolve(r, hs, conflict)
	default:
		acc := resource.NewRangeMap[accessstate.Side]()
		for _, l := range links {
			for _, p := range l.resolve(r, hs, conflict) {
				side := accessstate.Side{State: p.State, Knows: l.Context.vc}
				onConflict := func(kind hazard.Kind, prior, current accessstate.Record) {
					if conflict != nil {
						conflict(kind, p.Range, prior, current)
					}
				}
				acc.Update(p.Range, func(old accessstate.Side, ok bool) accessstate.Side {
					if !ok {
						return side
					}
					knows := old.Knows.Clone()
					knows.Join(side.Knows)
					return accessstate.Side{State: accessstate.Merge(old, side, onConflict), Knows: knows}
				})
			}
		}
		// Split intervals share a state; every piece gets its own copy.
		acc.Each(func(sub resource.Range, s accessstate.Side) {
			pieces = append(pieces, Piece{Range: sub, State: s.State.Clone()})
		})
	}
	for _, p := range pieces {
		for _, b := range c.barriers {
			p.State.ApplyBarrier(b)
		}
	}
	return pieces
}

// Trim drops links to ancestors the host has proven complete, in c and in
// every context reachable from it. It returns the number of links dropped.
// Lookups give the same answers before and after trimming.
func (c *Context) Trim(hs *vectorclock.VectorClock) int {
	if hs.Len() == 0 {
		return 0
	}
	dropped := 0
	seen := make(map[*Context]bool)
	var walk func(x *Context)
	walk = func(x *Context) {
		if seen[x] {
			return
		}
		seen[x] = true
		links := x.Links()
		kept := make([]Link, 0, len(links))
		for _, l := range links {
			if l.Context.vc.LessOrEqual(hs) {
				dropped++
				continue
			}
			kept = append(kept, l)
			walk(l.Context)
		}
		if len(kept) != len(links) {
			x.links.Store(&kept)
		}
	}
	walk(c)
	return dropped
}

// Depth returns the length of the longest ancestor chain below c. Used in
// tests and stats to confirm trimming bounds the graph.
func (c *Context) Depth() int {
	memo := make(map[*Context]int)
	var depth func(x *Context) int
	depth = func(x *Context) int {
		if d, ok := memo[x]; ok {
			return d
		}
		memo[x] = 0
		d := 0
		for _, l := range x.Links() {
			d = max(d, depth(l.Context)+1)
		}
		memo[x] = d
		return d
	}
	return depth(c)
}
