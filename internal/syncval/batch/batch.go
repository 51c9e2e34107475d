// Package batch implements QueueBatchContext: one submission's unit of
// work and the access context it produces.
//
// A batch replays the access logs of its command buffers against the
// contexts it imports. Imports come from the previous batch on the same
// queue and from the signals its waits bind to. When a wait binds later
// (wait-before-signal), or an imported batch learns more, the batch is
// rebuilt against its updated imports. The rebuilt context equals the one
// the batch would have had if every import had been known at submission.
//
// Hazards between two accesses of the batch itself do not depend on any
// import and are reported when the batch is first built. Findings that
// involve another batch are held until the engine settles the batch, once
// nothing it depends on can change any more, so they are reported against
// final contexts only, whatever the order in which waits and signals
// arrived.
//
// A batch may import the same ancestor through several edges, for example
// through submission order and through a semaphore wait, each with its own
// barrier. Every edge is kept; lookups union their barriers.
//
// Batches reference each other by tag through an arena owned by the
// engine, never by pointer, so cyclic resolution chains form no ownership
// cycles.
package batch

import (
	"github.com/kolkov/syncval/internal/syncval/accesscontext"
	"github.com/kolkov/syncval/internal/syncval/accessstate"
	"github.com/kolkov/syncval/internal/syncval/cmdlog"
	"github.com/kolkov/syncval/internal/syncval/hazard"
	"github.com/kolkov/syncval/internal/syncval/resource"
	"github.com/kolkov/syncval/internal/syncval/stage"
	"github.com/kolkov/syncval/internal/syncval/tag"
	"github.com/kolkov/syncval/internal/syncval/vectorclock"
)

// Finding is a hazard found while replaying or merging ancestors.
type Finding struct {
	Kind    hazard.Kind
	Range   resource.Range
	Prior   accessstate.Record
	Current accessstate.Record
}

// Internal reports whether both accesses belong to the same batch.
func (f Finding) Internal() bool {
	return f.Prior.Tag == f.Current.Tag
}

// Emit receives findings.
type Emit func(f Finding)

// Import is an ancestor link together with the batch it comes from.
type Import struct {
	From tag.Tag
	Link accesscontext.Link

	// Knows is the knowledge From's context was built with.
	Knows Knowledge
}

// ImportKey identifies one import edge.
type ImportKey struct {
	From    tag.Tag
	To      tag.Tag
	Barrier stage.Barrier
}

// Knowledge is the set of import edges a context was built from, directly
// or through its ancestors. It only grows while the batches it names are
// live, which bounds the number of rebuilds even when batches import each
// other in a cycle. A Knowledge is never modified once published.
type Knowledge map[ImportKey]struct{}

// Edge is a dependency on another batch: the target imports this batch's
// context through Barrier.
type Edge struct {
	Target  tag.Tag
	Barrier stage.Barrier
}

// Batch is one submitted batch.
//
// Thread Safety: a Batch is guarded by the engine lock, except that the
// replay of a building batch runs on the submitting goroutine without it.
type Batch struct {
	Tag  tag.Tag
	Logs []*cmdlog.Log

	// PendingWaits counts waits not bound to a signal yet.
	PendingWaits int

	// External is set when a wait named an externally imported semaphore.
	External bool

	ctx        *accesscontext.Context
	deps       []tag.Tag
	imports    []Import
	dependents []Edge
	building   bool
	late       []Import
	held       []Finding
	settled    bool
	knows      Knowledge
}

// New creates a batch replaying logs. The batch is building until Finish.
func New(t tag.Tag, logs []*cmdlog.Log) *Batch {
	return &Batch{Tag: t, Logs: logs, building: true}
}

// Context returns the current access context, or nil while building.
func (b *Batch) Context() *accesscontext.Context {
	return b.ctx
}

// VC returns the batch's causal knowledge. While building it only knows
// itself.
func (b *Batch) VC() *vectorclock.VectorClock {
	if b.ctx == nil {
		return vectorclock.Of(b.Tag)
	}
	return b.ctx.VC()
}

// Building reports whether the initial replay is still running.
func (b *Batch) Building() bool {
	return b.building
}

// Finish installs the context built by the initial replay, holds its
// findings that involve other batches and returns the imports that arrived
// while it was running. Internal findings are the caller's to report.
func (b *Batch) Finish(ctx *accesscontext.Context, findings []Finding) []Import {
	b.ctx = ctx
	b.held = crossBatch(findings)
	b.learn(nil)
	b.building = false
	late := b.late
	b.late = nil
	return late
}

// Defer queues an import that arrived while the batch was building.
func (b *Batch) Defer(im Import) {
	b.late = append(b.late, im)
}

// AddDep records that the batch cannot complete before batch t.
func (b *Batch) AddDep(t tag.Tag) {
	for _, x := range b.deps {
		if x == t {
			return
		}
	}
	b.deps = append(b.deps, t)
}

// Deps returns the batches this batch waits for. The slice must not be
// modified.
func (b *Batch) Deps() []tag.Tag {
	return b.deps
}

// AddImport records im, replacing an earlier import of the same edge (same
// batch and barrier), and adds im.From to the dependencies. Imports without
// a context only record the dependency.
func (b *Batch) AddImport(im Import) {
	b.AddDep(im.From)
	if im.Link.Context == nil {
		return
	}
	for i := range b.imports {
		if b.imports[i].From == im.From && b.imports[i].Link.Barrier == im.Link.Barrier {
			b.imports[i] = im
			return
		}
	}
	b.imports = append(b.imports, im)
}

// Knowledge returns the edges the current context was built from. The map
// must not be modified.
func (b *Batch) Knowledge() Knowledge {
	return b.knows
}

func (b *Batch) key(im Import) ImportKey {
	return ImportKey{From: im.From, To: b.Tag, Barrier: im.Link.Barrier}
}

// learn recomputes the knowledge from the current imports, leaving out
// edges from batches hs covers.
func (b *Batch) learn(hs *vectorclock.VectorClock) {
	k := make(Knowledge)
	for _, im := range b.imports {
		if !hs.Covers(im.From) {
			k[b.key(im)] = struct{}{}
		}
		for e := range im.Knows {
			if !hs.Covers(e.From) {
				k[e] = struct{}{}
			}
		}
	}
	b.knows = k
}

// knowsAll reports whether the current context already reflects im: its
// clock, its edge and every edge its source was built from.
func (b *Batch) knowsAll(im Import, hs *vectorclock.VectorClock) bool {
	if !im.Link.Context.VC().LessOrEqual(b.ctx.VC()) {
		return false
	}
	if _, ok := b.knows[b.key(im)]; !ok && !hs.Covers(im.From) {
		return false
	}
	for e := range im.Knows {
		if _, ok := b.knows[e]; !ok && !hs.Covers(e.From) {
			return false
		}
	}
	return true
}

func crossBatch(fs []Finding) []Finding {
	var out []Finding
	for _, f := range fs {
		if !f.Internal() {
			out = append(out, f)
		}
	}
	return out
}

// Imports returns the current imports. The slice must not be modified.
func (b *Batch) Imports() []Import {
	return b.imports
}

// Links returns the ancestor links of the current imports.
func (b *Batch) Links() []accesscontext.Link {
	out := make([]accesscontext.Link, len(b.imports))
	for i, im := range b.imports {
		out[i] = im.Link
	}
	return out
}

// TrimImports drops imports the host knows complete and trims the batch's
// context. It returns the number of links dropped.
func (b *Batch) TrimImports(hs *vectorclock.VectorClock) int {
	kept := b.imports[:0]
	for _, im := range b.imports {
		if !im.Link.Context.VC().LessOrEqual(hs) {
			kept = append(kept, im)
		}
	}
	n := len(b.imports) - len(kept)
	clear(b.imports[len(kept):])
	b.imports = kept
	if b.ctx != nil {
		n += b.ctx.Trim(hs)
	}
	if len(b.knows) > 0 {
		k := make(Knowledge, len(b.knows))
		for e := range b.knows {
			if !hs.Covers(e.From) {
				k[e] = struct{}{}
			}
		}
		b.knows = k
	}
	return n
}

// AddDependent records that target imports this batch through bar.
func (b *Batch) AddDependent(target tag.Tag, bar stage.Barrier) {
	b.dependents = append(b.dependents, Edge{Target: target, Barrier: bar})
}

// Dependents returns the dependency edges. The slice must not be modified.
func (b *Batch) Dependents() []Edge {
	return b.dependents
}

// DropDependents removes edges whose target gone reports true.
func (b *Batch) DropDependents(gone func(t tag.Tag) bool) {
	kept := b.dependents[:0]
	for _, e := range b.dependents {
		if !gone(e.Target) {
			kept = append(kept, e)
		}
	}
	clear(b.dependents[len(kept):])
	b.dependents = kept
}

// Accesses returns the number of access entries the batch replays.
func (b *Batch) Accesses() int {
	n := 0
	for _, l := range b.Logs {
		n += l.Accesses()
	}
	return n
}

// Build replays logs on a fresh builder for batch t importing links and
// returns the frozen context. hs is the host's knowledge; accesses it
// covers are ignored. Every hazard found goes to emit.
func Build(t tag.Tag, links []accesscontext.Link, hs *vectorclock.VectorClock, logs []*cmdlog.Log, emit Emit) *accesscontext.Context {
	b := accesscontext.NewBuilder(t, links, hs)
	Replay(b, logs, emit)
	return b.Freeze()
}

// Replay runs logs against b. Barriers apply to everything recorded or
// imported so far; each access is checked before it is recorded. Conflicts
// between imported ancestors are reported through emit as well.
func Replay(b *accesscontext.Builder, logs []*cmdlog.Log, emit Emit) {
	b.OnConflict(func(kind hazard.Kind, r resource.Range, prior, current accessstate.Record) {
		emit(Finding{Kind: kind, Range: r, Prior: prior, Current: current})
	})
	cmd := 0
	for _, l := range logs {
		for _, e := range l.Entries() {
			switch e.Kind {
			case cmdlog.EntryBarrier:
				b.ApplyBarrier(e.Barrier)
			case cmdlog.EntryAccess:
				cur := accessstate.Record{Tag: b.Owner(), Access: e.Access, Command: cmd, Label: e.Label}
				for _, f := range b.DetectHazard(e.Range, e.Access) {
					emit(Finding{Kind: f.Kind, Range: f.Range, Prior: f.Prior, Current: cur})
				}
				b.RecordAccess(e.Range, cur)
			}
			cmd++
		}
	}
}

// Revalidate adds im to the batch's imports and rebuilds its context.
//
// Before the batch settles, the cross-batch findings of the rebuild replace
// the held ones and nothing is emitted. A settled batch reports to emit
// only hazards involving an access it did not know before. Internal
// findings were reported by the first build and are never repeated.
//
// It returns false without rebuilding when the batch already knows
// everything im carries: its ancestors and every edge they were built from.
func (b *Batch) Revalidate(im Import, hs *vectorclock.VectorClock, emit Emit) bool {
	if im.Link.Context == nil {
		return false
	}
	known := b.ctx.VC()
	fresh := !b.knowsAll(im, hs)
	b.AddImport(im)
	if !fresh {
		return false
	}
	if !b.settled {
		var held []Finding
		b.ctx = Build(b.Tag, b.Links(), hs, b.Logs, func(f Finding) {
			if !f.Internal() {
				held = append(held, f)
			}
		})
		b.held = held
		b.learn(hs)
		return true
	}
	b.ctx = Build(b.Tag, b.Links(), hs, b.Logs, func(f Finding) {
		if f.Internal() || known.Covers(f.Prior.Tag) && known.Covers(f.Current.Tag) {
			return
		}
		emit(f)
	})
	b.learn(hs)
	return true
}

// Settle marks the batch final and returns the findings held since its
// latest build. Later calls return nothing.
func (b *Batch) Settle() []Finding {
	held := b.held
	b.held = nil
	b.settled = true
	return held
}

// Settled reports whether Settle was called.
func (b *Batch) Settled() bool {
	return b.settled
}
