package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kolkov/syncval/internal/syncval/hazard"
	"github.com/kolkov/syncval/internal/syncval/stage"
	"github.com/kolkov/syncval/internal/syncval/tag"
	"github.com/kolkov/syncval/internal/syncval/timeline"
	"github.com/kolkov/syncval/internal/syncval/vectorclock"
)

// SemaphoreWait is one entry of a host semaphore wait.
type SemaphoreWait struct {
	Semaphore timeline.SemaphoreID
	Value     uint64
}

// SignalSemaphore models a host-side signal of a timeline semaphore. It
// resolves waits deferred on values up to v; they gain no ancestor, since
// the host signal carries no device accesses.
func (e *Engine) SignalSemaphore(ctx context.Context, id timeline.SemaphoreID, v uint64) error {
	ctx, span := e.startSpan(ctx, "SignalSemaphore",
		attribute.Int64("syncval.semaphore", int64(id)), attribute.Int64("syncval.value", int64(v)))
	defer span.End()

	e.mu.Lock()
	sem, err := e.registry.Semaphore(id)
	if err == nil && sem.Kind != timeline.Timeline {
		err = fmt.Errorf("%w: host signal of binary semaphore %d", ErrSemaphoreKindMismatch, id)
	}
	if err == nil {
		err = sem.CheckSignal(v)
	}
	if err != nil {
		e.mu.Unlock()
		recordError(span, err)
		e.logger.WarnContext(ctx, "host signal rejected", slog.Any("error", err))
		return err
	}
	_, resolved := sem.Apply(v, tag.None, stage.None)
	for _, r := range resolved {
		e.resolveWaiter(r)
	}
	var found []hazard.Hazard
	e.drain(ctx, &found)
	e.settle(tag.None, &found)
	e.updateGauges()
	e.broadcast()
	e.mu.Unlock()

	e.report(ctx, found)
	return nil
}

// WaitSemaphores models a host wait on timeline semaphores. With waitAll
// it returns once every value is reached, otherwise once any is. The
// batches whose signals satisfied the wait, and everything before them,
// become host-synchronized.
//
// A wait that can never be satisfied blocks until ctx ends and then
// returns ErrHostWaitTimeout.
func (e *Engine) WaitSemaphores(ctx context.Context, waits []SemaphoreWait, waitAll bool) error {
	ctx, span := e.startSpan(ctx, "WaitSemaphores",
		attribute.Int("syncval.waits", len(waits)), attribute.Bool("syncval.wait_all", waitAll))
	defer span.End()

	err := e.block(ctx, func() (bool, error) {
		known := vectorclock.New()
		satisfied := 0
		for _, w := range waits {
			sem, err := e.registry.Semaphore(w.Semaphore)
			if err != nil {
				return false, err
			}
			if sem.Kind != timeline.Timeline {
				return false, fmt.Errorf("%w: host wait on binary semaphore %d", ErrSemaphoreKindMismatch, w.Semaphore)
			}
			vc, ok := e.signalComplete(sem, w.Value)
			if !ok {
				continue
			}
			satisfied++
			known.Join(vc)
			if !waitAll {
				break
			}
		}
		if satisfied == 0 || (waitAll && satisfied < len(waits)) {
			return false, nil
		}
		e.syncTo(ctx, "wait_semaphores", known)
		return true, nil
	})
	recordError(span, err)
	return err
}

// signalComplete reports whether value v of sem is reached by a signal
// that can complete, and returns the clock of the signaling batch.
// Callers hold e.mu.
func (e *Engine) signalComplete(sem *timeline.Semaphore, v uint64) (*vectorclock.VectorClock, bool) {
	sig, ok := sem.Find(v)
	if !ok {
		return nil, false
	}
	if sig == nil {
		return nil, true
	}
	b, live := e.batches[sig.Batch]
	if !live {
		return nil, true
	}
	if !e.ready(sig.Batch) {
		return nil, false
	}
	return b.VC(), true
}

// SemaphoreCounterValue returns the modeled counter of a timeline
// semaphore: the highest value applied by the host or by a batch that can
// complete. Observing the value host-synchronizes the batches behind it.
func (e *Engine) SemaphoreCounterValue(id timeline.SemaphoreID) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sem, err := e.registry.Semaphore(id)
	if err != nil {
		return 0, err
	}
	if sem.Kind != timeline.Timeline {
		return 0, fmt.Errorf("%w: semaphore %d", ErrSemaphoreKindMismatch, id)
	}
	value := sem.Synced()
	known := vectorclock.New()
	sem.EachSignal(func(sig *timeline.Signal) bool {
		if sig.Value <= value {
			return true
		}
		if sig.FromHost() {
			value = sig.Value
			return true
		}
		if b, live := e.batches[sig.Batch]; !live || e.ready(sig.Batch) {
			value = sig.Value
			if live {
				known.Join(b.VC())
			}
		}
		return true
	})
	e.syncTo(context.Background(), "counter_value", known)
	return value, nil
}

// ObserveSemaphoreCounter applies a counter value reported by the driver:
// every signal up to v has completed, and waits deferred on values up to v
// are satisfied without an ancestor.
func (e *Engine) ObserveSemaphoreCounter(id timeline.SemaphoreID, v uint64) error {
	e.mu.Lock()
	sem, err := e.registry.Semaphore(id)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	done, resolved, err := sem.Observe(v)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	for _, r := range resolved {
		e.resolveWaiter(r)
	}
	ctx := context.Background()
	var found []hazard.Hazard
	e.drain(ctx, &found)
	e.settle(tag.None, &found)
	known := vectorclock.New()
	for _, sig := range done {
		if b, live := e.batches[sig.Batch]; live {
			known.Join(b.VC())
		}
	}
	e.syncTo(ctx, "observe_counter", known)
	e.broadcast()
	e.mu.Unlock()

	e.report(ctx, found)
	return nil
}

// WaitForFences models a host fence wait. With waitAll it returns once
// every fence is signaled, otherwise once any is. A fence that was never
// submitted blocks until ctx ends.
func (e *Engine) WaitForFences(ctx context.Context, fences []timeline.FenceID, waitAll bool) error {
	ctx, span := e.startSpan(ctx, "WaitForFences",
		attribute.Int("syncval.fences", len(fences)), attribute.Bool("syncval.wait_all", waitAll))
	defer span.End()

	err := e.block(ctx, func() (bool, error) {
		known := vectorclock.New()
		satisfied := 0
		for _, id := range fences {
			vc, ok, err := e.fenceComplete(id)
			if err != nil {
				return false, err
			}
			if !ok {
				continue
			}
			satisfied++
			known.Join(vc)
			if !waitAll {
				break
			}
		}
		if satisfied == 0 || (waitAll && satisfied < len(fences)) {
			return false, nil
		}
		e.syncTo(ctx, "wait_fences", known)
		return true, nil
	})
	recordError(span, err)
	return err
}

// fenceComplete reports whether a fence is signaled or its batch can
// complete. Callers hold e.mu.
func (e *Engine) fenceComplete(id timeline.FenceID) (*vectorclock.VectorClock, bool, error) {
	f, err := e.registry.Fence(id)
	if err != nil {
		return nil, false, err
	}
	switch {
	case f.Signaled:
		return nil, true, nil
	case !f.Submitted():
		return nil, false, nil
	}
	b, live := e.batches[f.Batch]
	if !live {
		return nil, true, nil
	}
	if !e.ready(f.Batch) {
		return nil, false, nil
	}
	return b.VC(), true, nil
}

// FenceStatus reports whether a fence is signaled without blocking. A
// fence observed signaled host-synchronizes its batch.
func (e *Engine) FenceStatus(id timeline.FenceID) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	vc, ok, err := e.fenceComplete(id)
	if err != nil || !ok {
		return false, err
	}
	e.syncTo(context.Background(), "fence_status", vc)
	return true, nil
}

// ResetFences returns fences to the unsignaled state. Fences still waiting
// for a submission cannot be reset.
func (e *Engine) ResetFences(fences []timeline.FenceID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var fs []*timeline.Fence
	for _, id := range fences {
		f, err := e.registry.Fence(id)
		if err != nil {
			return err
		}
		if f.Submitted() {
			return fmt.Errorf("%w: fence %d has a pending submission", ErrFenceInUse, id)
		}
		fs = append(fs, f)
	}
	for _, f := range fs {
		f.Reset()
	}
	return nil
}

// DeviceWaitIdle waits until every submitted batch can complete and then
// host-synchronizes all of them.
func (e *Engine) DeviceWaitIdle(ctx context.Context) error {
	ctx, span := e.startSpan(ctx, "DeviceWaitIdle")
	defer span.End()

	err := e.block(ctx, func() (bool, error) {
		known := vectorclock.New()
		for t, b := range e.batches {
			if !e.ready(t) {
				return false, nil
			}
			known.Join(b.VC())
		}
		e.syncTo(ctx, "device_idle", known)
		return true, nil
	})
	recordError(span, err)
	return err
}

// QueueWaitIdle waits until the last batch submitted to q can complete and
// then host-synchronizes it.
func (e *Engine) QueueWaitIdle(ctx context.Context, id tag.QueueID) error {
	ctx, span := e.startSpan(ctx, "QueueWaitIdle", attribute.Int("syncval.queue", int(id)))
	defer span.End()

	q, err := e.queue(id)
	if err != nil {
		recordError(span, err)
		return err
	}
	// Holding the queue lock excludes a submission that has allocated its
	// tag but not finished building.
	q.Lock()
	last := q.Last()
	q.Unlock()

	err = e.block(ctx, func() (bool, error) {
		b, live := e.batches[last]
		if !live {
			return true, nil
		}
		if !e.ready(last) {
			return false, nil
		}
		e.syncTo(ctx, "queue_idle", b.VC())
		return true, nil
	})
	recordError(span, err)
	return err
}

// syncTo adds vc to the host's knowledge, completes fences and semaphore
// values it covers and releases everything no longer needed. Callers hold
// e.mu.
func (e *Engine) syncTo(ctx context.Context, op string, vc *vectorclock.VectorClock) {
	e.metrics.hostSyncs.WithLabelValues(op).Inc()
	if !e.hs.Join(vc) {
		return
	}
	covered := func(t tag.Tag) bool { return e.hs.Covers(t) }
	fences := e.registry.Sync(covered)
	batches, signals, links := e.prune()
	e.updateGauges()
	e.logger.InfoContext(ctx, "host synchronized",
		slog.String("op", op),
		slog.String("host_clock", e.hs.String()),
		slog.Int("fences_signaled", fences),
		slog.Int("batches_released", batches),
		slog.Int("signals_released", signals),
		slog.Int("links_trimmed", links),
		slog.Int("live_batches", len(e.batches)))
}

// prune releases host-synchronized batches nothing references and drops
// signal records and ancestor links the host has proven complete. Callers
// hold e.mu.
func (e *Engine) prune() (batches, signals, links int) {
	retained := e.registry.Retained(e.cfg.RetainLatestSignal)
	for t, b := range e.batches {
		if b.Building() || b.PendingWaits > 0 || retained[t] || !e.hs.Covers(t) {
			continue
		}
		if _, held := e.unsettled[t]; held {
			continue
		}
		delete(e.batches, t)
		batches++
	}
	gone := func(t tag.Tag) bool {
		_, live := e.batches[t]
		return !live
	}
	for _, b := range e.batches {
		b.DropDependents(gone)
		if !b.Building() {
			links += b.TrimImports(e.hs)
		}
	}
	signals = e.registry.Prune()
	e.pruned += uint64(batches)
	e.metrics.pruned.Add(float64(batches))
	return batches, signals, links
}

// Reporter exposes hazard counters.
func (e *Engine) Reporter() *hazard.Reporter {
	return e.reporter
}
