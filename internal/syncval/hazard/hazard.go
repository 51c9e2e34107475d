// Package hazard defines the hazard taxonomy, the hazard record handed to
// the diagnostic layer, and a deduplicating reporter.
package hazard

import (
	"fmt"
	"io"
	"strings"

	"github.com/kolkov/syncval/internal/syncval/resource"
	"github.com/kolkov/syncval/internal/syncval/stage"
	"github.com/kolkov/syncval/internal/syncval/tag"
)

// Kind classifies a hazard. The set is closed.
//
// Names list the prior access first: ReadAfterWrite is a prior read
// followed by an unordered write, WriteAfterRead a prior write followed by an
// unordered read.
type Kind uint8

// Hazard kinds.
const (
	// None means the access is ordered after everything it conflicts with.
	None Kind = iota

	// ReadAfterWrite: a new write conflicts with a prior read.
	ReadAfterWrite

	// WriteAfterWrite: a new write conflicts with a prior write.
	WriteAfterWrite

	// WriteAfterRead: a new read conflicts with a prior write.
	WriteAfterRead

	// Indeterminate: the prior access belongs to history the engine cannot
	// model (an externally signaled semaphore sits between the two
	// accesses). Synchronization is assumed.
	Indeterminate
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case None:
		return "None"
	case ReadAfterWrite:
		return "ReadAfterWrite"
	case WriteAfterWrite:
		return "WriteAfterWrite"
	case WriteAfterRead:
		return "WriteAfterRead"
	case Indeterminate:
		return "Indeterminate"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// MessageTag returns the identifier used for message lookup, e.g.
// "SYNC-HAZARD-WRITE-AFTER-WRITE".
func (k Kind) MessageTag() string {
	switch k {
	case ReadAfterWrite:
		return "SYNC-HAZARD-READ-AFTER-WRITE"
	case WriteAfterWrite:
		return "SYNC-HAZARD-WRITE-AFTER-WRITE"
	case WriteAfterRead:
		return "SYNC-HAZARD-WRITE-AFTER-READ"
	case Indeterminate:
		return "SYNC-HAZARD-INDETERMINATE"
	default:
		return "SYNC-HAZARD-NONE"
	}
}

// Kinds lists every reportable kind, for metrics and stats.
func Kinds() []Kind {
	return []Kind{ReadAfterWrite, WriteAfterWrite, WriteAfterRead, Indeterminate}
}

// Classify returns the kind for a conflict between a prior and a current
// access. It returns None when neither is a write.
func Classify(prior, current stage.Access) Kind {
	switch {
	case current.IsWrite() && prior.IsWrite():
		return WriteAfterWrite
	case current.IsWrite():
		return ReadAfterWrite
	case prior.IsWrite():
		return WriteAfterRead
	default:
		return None
	}
}

// Access identifies one side of a hazard.
type Access struct {
	// Tag is the batch that performed the access.
	Tag tag.Tag

	// Access is the stage and access kind.
	Access stage.Access

	// Command is the index of the access in the batch's concatenated
	// command-buffer log, or -1 when unknown.
	Command int

	// Label is the caller-supplied command label, if any.
	Label string
}

// String renders "COPY:TRANSFER_WRITE by 3@0 (cmd 2 vkCmdCopyBuffer)".
func (a Access) String() string {
	var b strings.Builder
	b.WriteString(a.Access.String())
	b.WriteString(" by ")
	b.WriteString(a.Tag.String())
	if a.Command >= 0 {
		fmt.Fprintf(&b, " (cmd %d", a.Command)
		if a.Label != "" {
			b.WriteString(" ")
			b.WriteString(a.Label)
		}
		b.WriteString(")")
	}
	return b.String()
}

// Hazard is one detected conflict.
type Hazard struct {
	Kind  Kind
	Range resource.Range

	// Prior is the earlier (or, for unordered ancestors, the lower-tagged)
	// access. Current is the access being validated.
	Prior   Access
	Current Access

	// Underlying is the classification before Indeterminate masking. It
	// equals Kind for ordinary hazards.
	Underlying Kind

	// Deferred is set when the hazard was found while resolving a
	// wait-before-signal, after the batch's own submission returned.
	Deferred bool
}

// Key returns the deduplication key. Hazards between the same two accesses
// on the same resource share a key regardless of how the range was split
// during lookup.
func (h Hazard) Key() string {
	return fmt.Sprintf("%s:%d:%s:%s:%s:%s",
		h.Kind, h.Range.Resource,
		h.Prior.Tag, h.Prior.Access, h.Current.Tag, h.Current.Access)
}

// Format writes a multi-line human readable report.
//
//nolint:errcheck // diagnostics output
func (h Hazard) Format(w io.Writer) {
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "%s: %s on %s\n", h.Kind.MessageTag(), h.Kind, h.Range)
	fmt.Fprintf(w, "  Current: %s\n", h.Current)
	fmt.Fprintf(w, "  Prior:   %s\n", h.Prior)
	if h.Kind == Indeterminate {
		fmt.Fprintf(w, "  (masked %s: external semaphore in dependency chain)\n", h.Underlying)
	}
	if h.Deferred {
		fmt.Fprintf(w, "  (found while resolving a wait-before-signal)\n")
	}
	fmt.Fprintf(w, "==================\n")
}

// String returns a single-line summary.
func (h Hazard) String() string {
	return fmt.Sprintf("%s %s: %s vs prior %s", h.Kind, h.Range, h.Current, h.Prior)
}
