package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/kolkov/syncval/internal/syncval/batch"
	"github.com/kolkov/syncval/internal/syncval/config"
	"github.com/kolkov/syncval/internal/syncval/hazard"
	"github.com/kolkov/syncval/internal/syncval/queue"
	"github.com/kolkov/syncval/internal/syncval/tag"
	"github.com/kolkov/syncval/internal/syncval/timeline"
	"github.com/kolkov/syncval/internal/syncval/vectorclock"
)

// Engine is the batch resolution engine of one logical device.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	id       string
	cfg      config.Config
	logger   *slog.Logger
	reporter *hazard.Reporter
	metrics  *metrics
	tracer   trace.Tracer

	mu       sync.Mutex
	queues   map[tag.QueueID]*queue.State
	batches  map[tag.Tag]*batch.Batch
	registry *timeline.Registry
	hs       *vectorclock.VectorClock
	notify   chan struct{}
	pruned   uint64

	// unsettled holds batches whose findings wait for their dependencies
	// to resolve.
	unsettled map[tag.Tag]struct{}

	// backlog is propagation work parked by the step limit.
	backlog []step
}

// New creates an engine.
//
// Example:
//
//	e := engine.New(engine.WithSink(hazard.NewWriterSink(os.Stderr)))
//	q := e.CreateQueue(queue.Graphics, "main")
//	sem := e.CreateSemaphore(timeline.Timeline, 0)
func New(opts ...Option) *Engine {
	o := options{cfg: config.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.reg == nil {
		o.reg = prometheus.NewRegistry()
	}
	if o.tp == nil {
		o.tp = otel.GetTracerProvider()
	}

	id := uuid.NewString()
	e := &Engine{
		id:     id,
		cfg:    o.cfg,
		logger: o.logger.With(slog.String("component", "syncval"), slog.String("engine_id", id)),
		reporter: hazard.NewReporter(o.sink, hazard.ReporterOptions{
			Dedupe:               o.cfg.DedupeHazards,
			ForwardIndeterminate: o.cfg.ReportIndeterminate,
		}),
		metrics:   newMetrics(o.reg),
		tracer:    o.tp.Tracer(tracerName),
		queues:    make(map[tag.QueueID]*queue.State),
		batches:   make(map[tag.Tag]*batch.Batch),
		registry:  timeline.NewRegistry(),
		hs:        vectorclock.New(),
		notify:    make(chan struct{}),
		unsettled: make(map[tag.Tag]struct{}),
	}
	e.logger.Debug("engine created",
		slog.Bool("dedupe_hazards", o.cfg.DedupeHazards),
		slog.Int("max_propagation_steps", o.cfg.MaxPropagationSteps))
	return e
}

// ID returns the engine instance id used in logs and spans.
func (e *Engine) ID() string {
	return e.id
}

// CreateQueue adds a device queue and returns its id. Queue ids are dense
// and start at 0. It panics when every id below tag.HostQueue is in use.
func (e *Engine) CreateQueue(family queue.Family, name string) tag.QueueID {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queues) >= int(tag.HostQueue) {
		panic("engine: queue ids exhausted")
	}
	id := tag.QueueID(len(e.queues))
	e.queues[id] = queue.New(id, name, family)
	return id
}

func (e *Engine) queue(id tag.QueueID) (*queue.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.queues[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrQueueUnknown, id)
	}
	return q, nil
}

// CreateSemaphore creates a semaphore. initial is the starting counter of
// a timeline semaphore.
func (e *Engine) CreateSemaphore(kind timeline.Kind, initial uint64) timeline.SemaphoreID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.CreateSemaphore(kind, initial).ID
}

// ImportSemaphore creates a semaphore whose payload was imported from an
// external handle. Its outside signaling history is unknown, so waits on it
// resolve immediately and hazards they would mask become Indeterminate.
func (e *Engine) ImportSemaphore(kind timeline.Kind, initial uint64) timeline.SemaphoreID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.ImportSemaphore(kind, initial).ID
}

// DestroySemaphore destroys a semaphore without pending waiters.
func (e *Engine) DestroySemaphore(id timeline.SemaphoreID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.DestroySemaphore(id)
}

// CreateFence creates a fence, optionally in the signaled state.
func (e *Engine) CreateFence(signaled bool) timeline.FenceID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.CreateFence(signaled).ID
}

// DestroyFence destroys a fence and releases the batch it retains.
func (e *Engine) DestroyFence(id timeline.FenceID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.DestroyFence(id)
}

// Stats is a snapshot of engine state.
type Stats struct {
	Queues       int
	LiveBatches  int
	Semaphores   int
	Fences       int
	Signals      int
	PendingWaits int
	Pruned       uint64

	// MaxContextDepth is the longest ancestor chain of any live batch.
	MaxContextDepth int

	Hazards    map[hazard.Kind]uint64
	Duplicates uint64
	Suppressed uint64
}

// Stats returns a snapshot of engine state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs := e.registry.Stats()
	st := Stats{
		Queues:       len(e.queues),
		LiveBatches:  len(e.batches),
		Semaphores:   rs.Semaphores,
		Fences:       rs.Fences,
		Signals:      rs.Signals,
		PendingWaits: rs.Pending,
		Pruned:       e.pruned,
		Hazards:      e.reporter.Counts(),
		Duplicates:   e.reporter.Duplicates(),
		Suppressed:   e.reporter.Suppressed(),
	}
	for _, b := range e.batches {
		if ctx := b.Context(); ctx != nil {
			st.MaxContextDepth = max(st.MaxContextDepth, ctx.Depth())
		}
	}
	return st
}

// Batches returns the tags of the live batches in tag order.
func (e *Engine) Batches() []tag.Tag {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]tag.Tag, 0, len(e.batches))
	for t := range e.batches {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// broadcast wakes every blocked host wait. Callers hold e.mu.
func (e *Engine) broadcast() {
	close(e.notify)
	e.notify = make(chan struct{})
}

// updateGauges refreshes size gauges. Callers hold e.mu.
func (e *Engine) updateGauges() {
	rs := e.registry.Stats()
	e.metrics.liveBatches.Set(float64(len(e.batches)))
	e.metrics.pendingWaits.Set(float64(rs.Pending))
	e.metrics.signals.Set(float64(rs.Signals))
}

// collect returns an emitter converting findings of b into hazards.
func (e *Engine) collect(b *batch.Batch, deferred bool, found *[]hazard.Hazard) batch.Emit {
	external := b.External
	return func(f batch.Finding) {
		h := hazard.Hazard{
			Kind:       f.Kind,
			Range:      f.Range,
			Prior:      f.Prior.Ref(),
			Current:    f.Current.Ref(),
			Underlying: f.Kind,
			Deferred:   deferred,
		}
		if external && f.Prior.Tag != b.Tag {
			h.Kind = hazard.Indeterminate
		}
		*found = append(*found, h)
	}
}

// settle reports the held findings of every unsettled batch that became
// ready. Findings of batches other than current are marked deferred.
// Callers hold e.mu.
func (e *Engine) settle(current tag.Tag, found *[]hazard.Hazard) {
	if len(e.unsettled) == 0 {
		return
	}
	tags := make([]tag.Tag, 0, len(e.unsettled))
	for t := range e.unsettled {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Less(tags[j]) })
	for _, t := range tags {
		b, ok := e.batches[t]
		if !ok {
			delete(e.unsettled, t)
			continue
		}
		if !e.ready(t) {
			continue
		}
		delete(e.unsettled, t)
		emit := e.collect(b, t != current, found)
		for _, f := range b.Settle() {
			emit(f)
		}
		if t != current {
			e.logger.Debug("batch settled", slog.String("batch", t.String()))
		}
	}
}

// report delivers hazards. It must be called without e.mu held, since the
// sink may call back into the engine.
func (e *Engine) report(ctx context.Context, found []hazard.Hazard) {
	for _, h := range found {
		if !e.reporter.Report(h) {
			continue
		}
		e.metrics.hazards.WithLabelValues(h.Kind.String()).Inc()
		if h.Kind == hazard.Indeterminate && !e.cfg.ReportIndeterminate {
			e.logger.WarnContext(ctx, "indeterminate hazard suppressed",
				slog.String("underlying", h.Underlying.String()),
				slog.String("range", h.Range.String()),
				slog.String("batch", h.Current.Tag.String()))
		}
	}
}

// ready reports whether batch t can complete: no batch it transitively
// waits for is still building or has an unbound wait. Callers hold e.mu.
func (e *Engine) ready(t tag.Tag) bool {
	seen := make(map[tag.Tag]bool)
	stack := []tag.Tag{t}
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[x] {
			continue
		}
		seen[x] = true
		b, ok := e.batches[x]
		if !ok {
			continue
		}
		if b.Building() || b.PendingWaits > 0 || e.parked(x) {
			return false
		}
		stack = append(stack, b.Deps()...)
	}
	return true
}

// parked reports whether propagation work for t is parked. Callers hold
// e.mu.
func (e *Engine) parked(t tag.Tag) bool {
	for _, s := range e.backlog {
		if s.target == t {
			return true
		}
	}
	return false
}

// drain resumes parked propagation work and settles what it completes.
// Callers hold e.mu.
func (e *Engine) drain(ctx context.Context, found *[]hazard.Hazard) {
	if len(e.backlog) == 0 {
		return
	}
	e.propagate(ctx, nil, found)
	e.settle(tag.None, found)
	e.updateGauges()
}

// block runs check under e.mu until it reports done, waking on every state
// change. Parked propagation work is resumed first. It gives up when ctx
// ends, or after the configured host wait timeout when ctx has no deadline.
func (e *Engine) block(ctx context.Context, check func() (bool, error)) error {
	if _, ok := ctx.Deadline(); !ok && e.cfg.HostWaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.HostWaitTimeout)
		defer cancel()
	}
	for {
		var found []hazard.Hazard
		e.mu.Lock()
		e.drain(ctx, &found)
		done, err := check()
		if done || err != nil {
			if done {
				e.broadcast()
			}
			e.mu.Unlock()
			e.report(ctx, found)
			return err
		}
		ch := e.notify
		more := len(e.backlog) > 0
		e.mu.Unlock()
		e.report(ctx, found)

		if more && ctx.Err() == nil {
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrHostWaitTimeout, ctx.Err())
		}
	}
}
