package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kolkov/syncval/internal/syncval/accesscontext"
	"github.com/kolkov/syncval/internal/syncval/batch"
	"github.com/kolkov/syncval/internal/syncval/cmdlog"
	"github.com/kolkov/syncval/internal/syncval/hazard"
	"github.com/kolkov/syncval/internal/syncval/queue"
	"github.com/kolkov/syncval/internal/syncval/stage"
	"github.com/kolkov/syncval/internal/syncval/tag"
	"github.com/kolkov/syncval/internal/syncval/timeline"
	"github.com/kolkov/syncval/internal/syncval/vectorclock"
)

// WaitOp is a semaphore wait of a submission.
type WaitOp struct {
	Semaphore timeline.SemaphoreID

	// Value is the counter value for timeline semaphores; it must be zero
	// for binary ones.
	Value uint64

	// Stages is the wait's second synchronization scope. Only accesses at
	// these stages (and logically later ones) are ordered after the
	// signal's memory.
	Stages stage.Mask
}

// SignalOp is a semaphore signal of a submission.
type SignalOp struct {
	Semaphore timeline.SemaphoreID

	// Value is the counter value for timeline semaphores; it must be zero
	// for binary ones.
	Value uint64

	// Stages is the signal's first synchronization scope. Zero means
	// ALL_COMMANDS.
	Stages stage.Mask
}

// Submission is one batch handed to a queue.
type Submission struct {
	Queue          tag.QueueID
	CommandBuffers []*cmdlog.Log
	Waits          []WaitOp
	Signals        []SignalOp

	// Fence, if non-zero, is signaled when the batch completes.
	Fence timeline.FenceID
}

// step carries a new ancestor to a batch during propagation.
type step struct {
	target tag.Tag
	im     batch.Import
}

// Submit models a queue submission and returns the tag of its batch.
//
// The submission is validated first; an invalid one returns an error and
// changes nothing. Otherwise its waits are resolved, its command buffers
// replayed and its signals published, which may resolve waits deferred by
// earlier submissions. Hazards between two accesses of the batch are
// reported before Submit returns. Hazards against earlier batches are
// reported once every batch it depends on is resolved: before Submit
// returns if that is already the case, otherwise by the call that
// resolves the last of them.
//
// Submissions to different queues may run concurrently.
func (e *Engine) Submit(ctx context.Context, sub Submission) (tag.Tag, error) {
	ctx, span := e.startSpan(ctx, "Submit",
		attribute.Int("syncval.queue", int(sub.Queue)),
		attribute.Int("syncval.command_buffers", len(sub.CommandBuffers)),
		attribute.Int("syncval.waits", len(sub.Waits)),
		attribute.Int("syncval.signals", len(sub.Signals)))
	defer span.End()

	q, err := e.queue(sub.Queue)
	if err != nil {
		recordError(span, err)
		return tag.None, err
	}
	q.Lock()
	defer q.Unlock()

	e.mu.Lock()
	b, links, hs, err := e.admit(q, sub)
	e.mu.Unlock()
	if err != nil {
		recordError(span, err)
		e.logger.WarnContext(ctx, "submission rejected", slog.String("queue", q.Name), slog.Any("error", err))
		return tag.None, err
	}
	span.SetAttributes(attribute.String("syncval.batch", b.Tag.String()))

	var held, internal []batch.Finding
	built := batch.Build(b.Tag, links, hs, b.Logs, func(f batch.Finding) {
		if f.Internal() {
			internal = append(internal, f)
			return
		}
		held = append(held, f)
	})

	var found []hazard.Hazard
	e.mu.Lock()
	emit := e.collect(b, false, &found)
	for _, f := range internal {
		emit(f)
	}
	var work []step
	for _, im := range b.Finish(built, held) {
		work = append(work, step{target: b.Tag, im: im})
	}
	work = append(work, e.dependentSteps(b)...)
	e.propagate(ctx, work, &found)
	e.unsettled[b.Tag] = struct{}{}
	e.settle(b.Tag, &found)
	e.metrics.submissions.Inc()
	e.updateGauges()
	e.broadcast()
	e.mu.Unlock()

	e.logger.DebugContext(ctx, "batch submitted",
		slog.String("batch", b.Tag.String()),
		slog.Int("accesses", b.Accesses()),
		slog.Int("hazards", len(found)))
	e.report(ctx, found)
	return b.Tag, nil
}

// validate checks a submission without changing anything. Callers hold
// e.mu.
func (e *Engine) validate(q *queue.State, sub Submission) error {
	for _, cb := range sub.CommandBuffers {
		for _, en := range cb.Entries() {
			if en.Kind != cmdlog.EntryAccess {
				continue
			}
			if err := q.Supports(en.Access.Stage); err != nil {
				return fmt.Errorf("%s: %w", cb.Name(), err)
			}
		}
	}
	for _, w := range sub.Waits {
		sem, err := e.registry.Semaphore(w.Semaphore)
		if err != nil {
			return err
		}
		if err := sem.CheckWait(w.Value); err != nil {
			return err
		}
	}
	next := make(map[timeline.SemaphoreID]uint64)
	for _, s := range sub.Signals {
		sem, err := e.registry.Semaphore(s.Semaphore)
		if err != nil {
			return err
		}
		if err := sem.CheckSignal(s.Value); err != nil {
			return err
		}
		if last, ok := next[s.Semaphore]; ok && sem.Kind == timeline.Timeline && s.Value <= last {
			return fmt.Errorf("%w: semaphore %d signaled %d after %d in one submission",
				ErrNonMonotonicSignal, s.Semaphore, s.Value, last)
		}
		next[s.Semaphore] = s.Value
	}
	if sub.Fence != 0 {
		f, err := e.registry.Fence(sub.Fence)
		if err != nil {
			return err
		}
		if f.Signaled || !f.Batch.IsNone() {
			return fmt.Errorf("%w: fence %d", ErrFenceInUse, f.ID)
		}
	}
	return nil
}

// admit validates sub, allocates its batch, resolves its waits and
// publishes its signals. It returns the batch with the links and host
// clock snapshot to build against. Callers hold e.mu and the queue lock.
func (e *Engine) admit(q *queue.State, sub Submission) (*batch.Batch, []accesscontext.Link, *vectorclock.VectorClock, error) {
	if err := e.validate(q, sub); err != nil {
		return nil, nil, nil, err
	}

	prev := q.Last()
	b := batch.New(q.Next(), sub.CommandBuffers)
	e.batches[b.Tag] = b
	if !prev.IsNone() {
		if im, ok := e.link(prev, b, stage.Barrier{}); ok {
			b.AddImport(im)
		}
	}

	for _, w := range sub.Waits {
		sem, _ := e.registry.Semaphore(w.Semaphore)
		e.bindWait(sem, b, w)
	}

	for _, s := range sub.Signals {
		sem, _ := e.registry.Semaphore(s.Semaphore)
		scope := s.Stages
		if scope == stage.None {
			scope = stage.AllCommands
		}
		// b has no context yet; its waiters are reached through the
		// dependency edges once it finishes building.
		_, resolved := sem.Apply(s.Value, b.Tag, scope)
		for _, r := range resolved {
			e.resolveWaiter(r)
		}
	}

	if sub.Fence != 0 {
		f, _ := e.registry.Fence(sub.Fence)
		_ = f.Attach(b.Tag)
	}
	return b, b.Links(), e.hs.Clone(), nil
}

// link records that to imports from through bar and returns the import.
// ok is false when from was released or has no context yet; in the latter
// case from passes its context on when it finishes. Callers hold e.mu.
func (e *Engine) link(from tag.Tag, to *batch.Batch, bar stage.Barrier) (im batch.Import, ok bool) {
	src, found := e.batches[from]
	if !found {
		return batch.Import{}, false
	}
	src.AddDependent(to.Tag, bar)
	to.AddDep(from)
	im = batch.Import{From: from, Link: accesscontext.Link{Context: src.Context(), Barrier: bar}, Knows: src.Knowledge()}
	return im, im.Link.Context != nil
}

// bindWait resolves one wait of the batch b being admitted. Callers hold
// e.mu.
func (e *Engine) bindWait(sem *timeline.Semaphore, b *batch.Batch, w WaitOp) {
	if sem.External {
		b.External = true
	}
	value, sig, ok := sem.Bind(w.Value)
	switch {
	case !ok && sem.External:
		e.logger.Debug("external wait assumed satisfied",
			slog.String("batch", b.Tag.String()), slog.Uint64("semaphore", uint64(sem.ID)))
	case !ok:
		sem.AddWaiter(timeline.Waiter{Batch: b.Tag, Value: value, Stages: w.Stages})
		b.PendingWaits++
		e.metrics.deferred.Inc()
		e.logger.Debug("wait deferred",
			slog.String("batch", b.Tag.String()),
			slog.Uint64("semaphore", uint64(sem.ID)),
			slog.Uint64("value", value))
	case sig != nil:
		if im, linked := e.link(sig.Batch, b, stage.Barrier{Src: sig.Scope, Dst: w.Stages}); linked {
			b.AddImport(im)
		}
	}
}

// resolveWaiter binds a deferred wait to the signal that resolved it and
// returns the propagation step it needs, if any. Callers hold e.mu.
func (e *Engine) resolveWaiter(r timeline.Resolution) (step, bool) {
	w, ok := e.batches[r.Waiter.Batch]
	if !ok {
		return step{}, false
	}
	w.PendingWaits--
	e.logger.Debug("deferred wait resolved",
		slog.String("batch", w.Tag.String()),
		slog.Uint64("value", r.Waiter.Value))
	if r.Signal == nil || r.Signal.FromHost() {
		return step{}, false
	}
	im, linked := e.link(r.Signal.Batch, w, stage.Barrier{Src: r.Signal.Scope, Dst: r.Waiter.Stages})
	if !linked {
		return step{}, false
	}
	return step{target: w.Tag, im: im}, true
}

// dependentSteps returns one step per batch importing b. Callers hold e.mu.
func (e *Engine) dependentSteps(b *batch.Batch) []step {
	deps := b.Dependents()
	out := make([]step, 0, len(deps))
	for _, d := range deps {
		out = append(out, step{
			target: d.Target,
			im: batch.Import{
				From:  b.Tag,
				Link:  accesscontext.Link{Context: b.Context(), Barrier: d.Barrier},
				Knows: b.Knowledge(),
			},
		})
	}
	return out
}

// propagate delivers new ancestors and re-validates their targets until
// nothing changes. Each target that learns something passes its new
// context on to its own dependents; a batch that already knows an ancestor
// stops the chain, so cycles terminate.
//
// A pass that reaches the step limit parks the rest of its work, and the
// next pass starts with it. Callers hold e.mu.
func (e *Engine) propagate(ctx context.Context, work []step, found *[]hazard.Hazard) {
	if len(e.backlog) > 0 {
		work = append(e.backlog, work...)
		e.backlog = nil
	}
	if len(work) == 0 {
		return
	}
	_, span := e.startSpan(ctx, "propagate", attribute.Int("syncval.steps", len(work)))
	defer span.End()

	n := 0
	for len(work) > 0 {
		s := work[0]
		work = work[1:]
		b, ok := e.batches[s.target]
		if !ok {
			continue
		}
		if b.Building() {
			b.Defer(s.im)
			continue
		}
		if n++; n > e.cfg.MaxPropagationSteps {
			e.backlog = append([]step{s}, work...)
			e.logger.WarnContext(ctx, "propagation step limit reached",
				slog.Int("limit", e.cfg.MaxPropagationSteps),
				slog.Int("parked", len(e.backlog)))
			span.SetAttributes(attribute.Int("syncval.parked", len(e.backlog)))
			return
		}
		if !b.Revalidate(s.im, e.hs, e.collect(b, true, found)) {
			continue
		}
		e.metrics.revalidations.Inc()
		work = append(work, e.dependentSteps(b)...)
	}
	span.SetAttributes(attribute.Int("syncval.revalidated", n))
}
