// Package cmdlog records the ordered resource accesses and pipeline
// barriers produced while simulating one command buffer.
//
// A Log is written once by the recording layer and replayed by every batch
// that submits it, so it is read-only after recording finishes.
package cmdlog

import (
	"errors"
	"fmt"

	"github.com/kolkov/syncval/internal/syncval/resource"
	"github.com/kolkov/syncval/internal/syncval/stage"
)

// ErrEmptyBarrier is returned when a barrier names no source or no
// destination stage.
var ErrEmptyBarrier = errors.New("cmdlog: barrier with empty scope")

// EntryKind discriminates log entries.
type EntryKind uint8

const (
	// EntryAccess is a resource access.
	EntryAccess EntryKind = iota + 1
	// EntryBarrier is a pipeline barrier.
	EntryBarrier
)

// String returns "access" or "barrier".
func (k EntryKind) String() string {
	switch k {
	case EntryAccess:
		return "access"
	case EntryBarrier:
		return "barrier"
	default:
		return fmt.Sprintf("EntryKind(%d)", uint8(k))
	}
}

// Entry is one record of a command buffer log.
type Entry struct {
	Kind EntryKind

	// Range and Access are set for EntryAccess.
	Range  resource.Range
	Access stage.Access

	// Barrier is set for EntryBarrier.
	Barrier stage.Barrier

	// Label names the command that produced the entry, e.g. "vkCmdCopyBuffer".
	Label string
}

// String renders the entry for debugging.
func (e Entry) String() string {
	if e.Kind == EntryBarrier {
		return "barrier " + e.Barrier.String()
	}
	return fmt.Sprintf("%s %s", e.Access, e.Range)
}

// Log is the access log of one command buffer.
type Log struct {
	name    string
	entries []Entry
}

// New creates an empty log. name identifies the command buffer in
// diagnostics.
func New(name string) *Log {
	return &Log{name: name}
}

// Name returns the command buffer name.
func (l *Log) Name() string {
	return l.name
}

// Access appends a resource access. The range must be non-empty and the
// access kind must be supported by its stage.
func (l *Log) Access(r resource.Range, sa stage.Access, label string) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%s: %w", l.name, err)
	}
	if err := sa.Validate(); err != nil {
		return fmt.Errorf("%s: %w", l.name, err)
	}
	l.entries = append(l.entries, Entry{Kind: EntryAccess, Range: r, Access: sa, Label: label})
	return nil
}

// Barrier appends a pipeline barrier from src to dst stages.
func (l *Log) Barrier(src, dst stage.Mask, label string) error {
	if src == stage.None || dst == stage.None {
		return fmt.Errorf("%s: %w: %s->%s", l.name, ErrEmptyBarrier, src, dst)
	}
	l.entries = append(l.entries, Entry{Kind: EntryBarrier, Barrier: stage.Barrier{Src: src, Dst: dst}, Label: label})
	return nil
}

// Entries returns the recorded entries in order. The slice must not be
// modified.
func (l *Log) Entries() []Entry {
	return l.entries
}

// Len returns the number of entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Accesses returns the number of access entries.
func (l *Log) Accesses() int {
	n := 0
	for _, e := range l.entries {
		if e.Kind == EntryAccess {
			n++
		}
	}
	return n
}
