package hazard

import (
	"io"
	"sync"
	"sync/atomic"
)

// Sink receives hazards. Report is called synchronously at the point of
// detection and may be called from several goroutines.
type Sink interface {
	Report(h Hazard)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(h Hazard)

// Report calls f(h).
func (f SinkFunc) Report(h Hazard) { f(h) }

// Discard drops every hazard.
var Discard Sink = SinkFunc(func(Hazard) {})

// Collector is a Sink that stores hazards in arrival order.
type Collector struct {
	mu      sync.Mutex
	hazards []Hazard
}

// Report appends h.
func (c *Collector) Report(h Hazard) {
	c.mu.Lock()
	c.hazards = append(c.hazards, h)
	c.mu.Unlock()
}

// Hazards returns a copy of the collected hazards.
func (c *Collector) Hazards() []Hazard {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Hazard, len(c.hazards))
	copy(out, c.hazards)
	return out
}

// Len returns the number of collected hazards.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.hazards)
}

// Reset drops all collected hazards.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.hazards = nil
	c.mu.Unlock()
}

// WriterSink formats each hazard to w. Writes are serialized so reports
// from different goroutines do not interleave.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Report formats h.
func (s *WriterSink) Report(h Hazard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.Format(s.w)
}

// ReporterOptions configures a Reporter.
type ReporterOptions struct {
	// Dedupe suppresses hazards whose Key was already reported.
	Dedupe bool

	// ForwardIndeterminate forwards Indeterminate hazards to the sink.
	// They are always counted.
	ForwardIndeterminate bool
}

// Reporter deduplicates and counts hazards before forwarding them to a Sink.
//
// Deduplication uses sync.Map.LoadOrStore so concurrent submissions that
// find the same conflict forward it exactly once.
//
// Thread Safety: all methods are safe for concurrent use.
type Reporter struct {
	sink Sink
	opts ReporterOptions

	reported sync.Map // Key() -> struct{}

	counts     [Indeterminate + 1]atomic.Uint64
	duplicates atomic.Uint64
	suppressed atomic.Uint64
}

// NewReporter creates a reporter forwarding to sink. A nil sink discards.
func NewReporter(sink Sink, opts ReporterOptions) *Reporter {
	if sink == nil {
		sink = Discard
	}
	return &Reporter{sink: sink, opts: opts}
}

// Report counts h and forwards it unless it is a duplicate or a suppressed
// Indeterminate hazard. It returns true if h was new.
func (r *Reporter) Report(h Hazard) bool {
	if h.Kind == None {
		return false
	}
	if r.opts.Dedupe {
		if _, dup := r.reported.LoadOrStore(h.Key(), struct{}{}); dup {
			r.duplicates.Add(1)
			return false
		}
	}
	if h.Kind <= Indeterminate {
		r.counts[h.Kind].Add(1)
	}
	if h.Kind == Indeterminate && !r.opts.ForwardIndeterminate {
		r.suppressed.Add(1)
		return true
	}
	r.sink.Report(h)
	return true
}

// Count returns how many unique hazards of kind k were reported.
func (r *Reporter) Count(k Kind) uint64 {
	if k > Indeterminate {
		return 0
	}
	return r.counts[k].Load()
}

// Counts returns the per-kind totals for every reportable kind.
func (r *Reporter) Counts() map[Kind]uint64 {
	out := make(map[Kind]uint64, len(Kinds()))
	for _, k := range Kinds() {
		out[k] = r.counts[k].Load()
	}
	return out
}

// Total returns the number of unique hazards of all kinds.
func (r *Reporter) Total() uint64 {
	var n uint64
	for _, k := range Kinds() {
		n += r.counts[k].Load()
	}
	return n
}

// Duplicates returns how many hazards were dropped as duplicates.
func (r *Reporter) Duplicates() uint64 {
	return r.duplicates.Load()
}

// Suppressed returns how many Indeterminate hazards were withheld from the
// sink.
func (r *Reporter) Suppressed() uint64 {
	return r.suppressed.Load()
}
