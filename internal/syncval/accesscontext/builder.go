package accesscontext

import (
	"github.com/kolkov/syncval/internal/syncval/accessstate"
	"github.com/kolkov/syncval/internal/syncval/resource"
	"github.com/kolkov/syncval/internal/syncval/stage"
	"github.com/kolkov/syncval/internal/syncval/tag"
	"github.com/kolkov/syncval/internal/syncval/vectorclock"
)

// Builder constructs a Context for one batch. It is not safe for concurrent
// use and must not be used after Freeze.
//
// Example:
//
//	b := accesscontext.NewBuilder(t, []accesscontext.Link{{Context: prev}}, hs)
//	for _, f := range b.DetectHazard(r, sa) { ... }
//	b.RecordAccess(r, accessstate.Record{Access: sa})
//	ctx := b.Freeze()
type Builder struct {
	ctx      *Context
	hs       *vectorclock.VectorClock
	conflict ConflictFunc
	frozen   bool
}

// NewBuilder starts a context owned by batch t importing links. hs is the
// host's knowledge at build time; accesses it covers are ignored.
func NewBuilder(t tag.Tag, links []Link, hs *vectorclock.VectorClock) *Builder {
	vc := vectorclock.New()
	kept := make([]Link, 0, len(links))
	for _, l := range links {
		if l.Context == nil {
			continue
		}
		vc.Join(l.Context.vc)
		kept = append(kept, l)
	}
	vc.Advance(t)
	return &Builder{ctx: newContext(t, vc, kept), hs: hs}
}

// OnConflict sets the callback for conflicts between imported ancestors.
func (b *Builder) OnConflict(fn ConflictFunc) {
	b.conflict = fn
}

// Owner returns the tag of the batch being built.
func (b *Builder) Owner() tag.Tag {
	return b.ctx.owner
}

// VC returns the clock of the context being built.
func (b *Builder) VC() *vectorclock.VectorClock {
	return b.ctx.vc
}

func (b *Builder) check() {
	if b.frozen {
		panic("accesscontext: builder used after Freeze")
	}
}

// DetectHazard checks a new access to r against everything recorded so far
// and everything imported.
func (b *Builder) DetectHazard(r resource.Range, sa stage.Access) []Finding {
	b.check()
	return detect(b.ctx.resolve(r, b.hs, b.conflict), sa)
}

// RecordAccess records an access to r by the owning batch. rec.Tag is set
// to the owner; rec.Access, Command and Label are kept.
func (b *Builder) RecordAccess(r resource.Range, rec accessstate.Record) {
	b.check()
	if r.Empty() {
		return
	}
	rec.Tag = b.ctx.owner
	if !rec.Access.IsWrite() {
		b.materialize(r)
	}
	b.ctx.own.Update(r, func(st *accessstate.State, _ bool) *accessstate.State {
		n := st.Clone()
		n.Record(rec)
		return n
	})
}

// materialize copies the inherited history of every gap in r into the
// owner's own map so it can be extended.
func (b *Builder) materialize(r resource.Range) {
	for _, g := range b.ctx.own.Gaps(r) {
		for _, p := range b.ctx.inherited(g, b.hs, nil) {
			b.ctx.own.Set(p.Range, p.State)
		}
	}
}

// ApplyBarrier applies a pipeline barrier to everything recorded so far and
// to everything imported.
func (b *Builder) ApplyBarrier(bar stage.Barrier) {
	b.check()
	if bar.IsZero() {
		return
	}
	b.ctx.own.Replace(func(_ resource.Range, st *accessstate.State) *accessstate.State {
		n := st.Clone()
		n.ApplyBarrier(bar)
		return n
	})
	b.ctx.barriers = append(b.ctx.barriers, bar)
}

// Freeze finishes construction and returns the immutable context.
func (b *Builder) Freeze() *Context {
	b.check()
	b.frozen = true
	return b.ctx
}
