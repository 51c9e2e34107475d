// Package queue implements per-queue submission state for the batch
// resolution engine.
//
// Each device queue has its own State, which stores:
//   - ID: the queue identifier used in batch tags
//   - Caps: the pipeline stages the queue family can execute
//   - the per-queue sequence counter and the tag of the last batch
//
// Submissions to one queue are serialized by the State's lock, so tags
// on a queue are handed out in submission order. Submissions to different
// queues never contend on it.
package queue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kolkov/syncval/internal/syncval/stage"
	"github.com/kolkov/syncval/internal/syncval/tag"
)

// ErrUnsupportedStage is returned when a submission uses a stage the
// queue family cannot execute.
var ErrUnsupportedStage = errors.New("queue: stage not supported by queue family")

// Family describes which stages a queue can execute.
type Family uint8

const (
	// Graphics queues execute every stage.
	Graphics Family = iota
	// Compute queues execute compute, indirect and transfer work.
	Compute
	// Transfer queues execute copies only.
	Transfer
)

var familyNames = [...]string{"graphics", "compute", "transfer"}

// String returns the lower-case family name.
func (f Family) String() string {
	if int(f) < len(familyNames) {
		return familyNames[f]
	}
	return fmt.Sprintf("Family(%d)", uint8(f))
}

// ParseFamily parses "graphics", "compute" or "transfer". The empty string
// means Graphics.
func ParseFamily(s string) (Family, error) {
	if s == "" {
		return Graphics, nil
	}
	for i, n := range familyNames {
		if n == s {
			return Family(i), nil
		}
	}
	return 0, fmt.Errorf("queue: unknown family %q", s)
}

// Caps returns the stages the family can execute. TOP_OF_PIPE,
// BOTTOM_OF_PIPE and HOST are always allowed.
func (f Family) Caps() stage.Mask {
	always := stage.TopOfPipe | stage.BottomOfPipe | stage.Host
	switch f {
	case Compute:
		return always | stage.DrawIndirect | stage.ComputeShader | stage.Copy
	case Transfer:
		return always | stage.Copy
	default:
		return stage.AllCommands
	}
}

// State is the submission state of one queue.
//
// Invariant: Last() is the tag with sequence Submitted(), or tag.None when
// nothing was submitted.
type State struct {
	// ID is the queue identifier.
	ID tag.QueueID

	// Name is a human readable label used in logs.
	Name string

	// Family bounds the stages submissions may use.
	Family Family

	submit sync.Mutex
	seq    uint64
	last   tag.Tag
}

// New creates the state of a queue that has not submitted anything yet.
//
// Example:
//
//	q := queue.New(2, "compute", queue.Compute)
//	t := q.Next() // 1@2
func New(id tag.QueueID, name string, family Family) *State {
	if name == "" {
		name = fmt.Sprintf("queue%d", id)
	}
	return &State{ID: id, Name: name, Family: family}
}

// Lock serializes submissions on the queue. It must be held from tag
// allocation until the batch is published.
func (s *State) Lock() {
	s.submit.Lock()
}

// Unlock releases the submission lock.
func (s *State) Unlock() {
	s.submit.Unlock()
}

// Next allocates the tag of the next batch and makes it the queue's last
// batch.
func (s *State) Next() tag.Tag {
	s.seq++
	s.last = tag.New(s.ID, s.seq)
	return s.last
}

// Last returns the tag of the most recent batch, or tag.None.
func (s *State) Last() tag.Tag {
	return s.last
}

// Submitted returns the number of batches submitted so far.
func (s *State) Submitted() uint64 {
	return s.seq
}

// Supports returns an error wrapping ErrUnsupportedStage if m contains a
// stage the queue cannot execute.
func (s *State) Supports(m stage.Mask) error {
	if extra := m &^ s.Family.Caps(); extra != stage.None {
		return fmt.Errorf("%w: %s on %s queue %s", ErrUnsupportedStage, extra, s.Family, s.Name)
	}
	return nil
}
