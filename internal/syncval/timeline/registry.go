package timeline

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kolkov/syncval/internal/syncval/tag"
)

var (
	// ErrUnknownSemaphore is returned for handles the registry never
	// created or already destroyed.
	ErrUnknownSemaphore = errors.New("timeline: unknown semaphore")

	// ErrUnknownFence is returned for unknown fence handles.
	ErrUnknownFence = errors.New("timeline: unknown fence")

	// ErrSemaphoreBusy is returned when destroying a semaphore that still
	// has pending waiters.
	ErrSemaphoreBusy = errors.New("timeline: semaphore has pending waiters")
)

// Registry owns every semaphore and fence of one engine.
//
// Example:
//
//	r := timeline.NewRegistry()
//	sem := r.CreateSemaphore(timeline.Timeline, 0)
//	sig, resolved := sem.Apply(1, batchTag, stage.Copy)
type Registry struct {
	semaphores map[SemaphoreID]*Semaphore
	fences     map[FenceID]*Fence
	nextSem    SemaphoreID
	nextFence  FenceID
}

// Stats summarizes registry size.
type Stats struct {
	Semaphores int
	Fences     int
	Signals    int
	Pending    int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		semaphores: make(map[SemaphoreID]*Semaphore),
		fences:     make(map[FenceID]*Fence),
	}
}

// CreateSemaphore registers a new semaphore. initial is the starting
// counter value of a timeline semaphore and is ignored for binary ones.
func (r *Registry) CreateSemaphore(kind Kind, initial uint64) *Semaphore {
	if kind == Binary {
		initial = 0
	}
	r.nextSem++
	s := newSemaphore(r.nextSem, kind, initial)
	r.semaphores[s.ID] = s
	return s
}

// ImportSemaphore registers a semaphore whose payload comes from an
// external handle.
func (r *Registry) ImportSemaphore(kind Kind, initial uint64) *Semaphore {
	s := r.CreateSemaphore(kind, initial)
	s.External = true
	return s
}

// Semaphore looks up a semaphore.
func (r *Registry) Semaphore(id SemaphoreID) (*Semaphore, error) {
	s, ok := r.semaphores[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSemaphore, id)
	}
	return s, nil
}

// DestroySemaphore removes a semaphore. Semaphores with pending waiters
// cannot be destroyed.
func (r *Registry) DestroySemaphore(id SemaphoreID) error {
	s, err := r.Semaphore(id)
	if err != nil {
		return err
	}
	if s.waiters > 0 {
		return fmt.Errorf("%w: %d has %d", ErrSemaphoreBusy, id, s.waiters)
	}
	delete(r.semaphores, id)
	return nil
}

// Semaphores returns every semaphore ordered by ID.
func (r *Registry) Semaphores() []*Semaphore {
	out := make([]*Semaphore, 0, len(r.semaphores))
	for _, s := range r.semaphores {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateFence registers a new fence, optionally created signaled.
func (r *Registry) CreateFence(signaled bool) *Fence {
	r.nextFence++
	f := &Fence{ID: r.nextFence, Signaled: signaled}
	r.fences[f.ID] = f
	return f
}

// Fence looks up a fence.
func (r *Registry) Fence(id FenceID) (*Fence, error) {
	f, ok := r.fences[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFence, id)
	}
	return f, nil
}

// DestroyFence removes a fence.
func (r *Registry) DestroyFence(id FenceID) error {
	if _, err := r.Fence(id); err != nil {
		return err
	}
	delete(r.fences, id)
	return nil
}

// Fences returns every fence ordered by ID.
func (r *Registry) Fences() []*Fence {
	out := make([]*Fence, 0, len(r.fences))
	for _, f := range r.fences {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sync applies host knowledge: fences whose batch done reports complete
// are signaled and semaphores raise their synced values. It returns the
// number of fences completed.
func (r *Registry) Sync(done func(t tag.Tag) bool) int {
	n := 0
	for _, f := range r.fences {
		if f.Submitted() && done(f.Batch) {
			f.Complete()
			n++
		}
	}
	for _, s := range r.semaphores {
		s.Sync(done)
	}
	return n
}

// Prune drops host-synchronized signal records, keeping the latest one per
// semaphore. It returns the number dropped.
func (r *Registry) Prune() int {
	n := 0
	for _, s := range r.semaphores {
		n += s.Prune()
	}
	return n
}

// Retained returns the batches the registry still references: fence
// targets, pending waiters and, when keepLatest is set, the latest signal
// of every semaphore.
func (r *Registry) Retained(keepLatest bool) map[tag.Tag]bool {
	out := make(map[tag.Tag]bool)
	for _, f := range r.fences {
		if f.Submitted() {
			out[f.Batch] = true
		}
	}
	for _, s := range r.semaphores {
		if l := s.Latest(); keepLatest && l != nil && !l.FromHost() {
			out[l.Batch] = true
		}
		for _, w := range s.Waiters() {
			out[w.Batch] = true
		}
	}
	return out
}

// Stats returns the registry size.
func (r *Registry) Stats() Stats {
	st := Stats{Semaphores: len(r.semaphores), Fences: len(r.fences)}
	for _, s := range r.semaphores {
		st.Signals += s.Signals()
		st.Pending += s.waiters
	}
	return st
}
