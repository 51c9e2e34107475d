package timeline

import (
	"errors"
	"fmt"

	"github.com/kolkov/syncval/internal/syncval/tag"
)

// ErrFenceInUse is returned when a submission names a fence that is
// already signaled or still attached to an earlier submission.
var ErrFenceInUse = errors.New("timeline: fence already signaled or in use")

// FenceID is an opaque fence handle.
type FenceID uint64

// Fence is the registry record of one fence.
//
// A fence attached to a submission retains the submission's batch until the
// host observes the fence signaled; completing it releases the batch.
type Fence struct {
	ID FenceID

	// Signaled is set once the host has observed the fence complete.
	Signaled bool

	// Batch is the submission the fence waits for, or tag.None.
	Batch tag.Tag
}

// Submitted reports whether the fence waits for a submission that the
// host has not observed complete yet.
func (f *Fence) Submitted() bool {
	return !f.Signaled && !f.Batch.IsNone()
}

// Attach binds the fence to the batch t.
func (f *Fence) Attach(t tag.Tag) error {
	if f.Signaled || !f.Batch.IsNone() {
		return fmt.Errorf("%w: fence %d", ErrFenceInUse, f.ID)
	}
	f.Batch = t
	return nil
}

// Complete marks the fence signaled and releases its batch.
func (f *Fence) Complete() {
	f.Signaled = true
	f.Batch = tag.None
}

// Reset returns the fence to the unsignaled, unattached state.
func (f *Fence) Reset() {
	f.Signaled = false
	f.Batch = tag.None
}
