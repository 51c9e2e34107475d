// Package tag implements 64-bit submission tags for the batch resolution engine.
//
// A Tag identifies one submitted batch as a compact 64-bit value:
// - Top 16 bits: Queue ID (0-65535)
// - Bottom 48 bits: per-queue sequence number (1-based, 0 means "none")
//
// Batches submitted to the same queue receive strictly increasing sequence
// numbers, so "batch (q, n) is known" implies "every batch (q, m<=n) is known".
// That property is what lets a sparse per-queue clock (see package
// vectorclock) answer happens-before questions in O(1).
package tag

import "strconv"

// QueueID identifies a device queue (or the host pseudo-queue).
type QueueID uint16

// HostQueue is reserved for the host and never assigned to a device queue.
// Host signals carry no tag; the id only names the host in diagnostics.
const HostQueue QueueID = 0xFFFF

// Tag is a 64-bit submission timestamp encoding queue ID and sequence.
// Layout: [Queue:16][Seq:48]
//
// Example: 0x0002_0000_0000_0007 represents Queue=2, Seq=7.
type Tag uint64

const (
	// QueueBits is the number of bits allocated for the queue ID.
	QueueBits = 16

	// SeqBits is the number of bits allocated for the sequence number.
	SeqBits = 48

	// SeqMask is the bitmask for extracting the sequence number.
	SeqMask = (1 << SeqBits) - 1
)

// None is the zero tag. It never identifies a real batch.
const None Tag = 0

// New creates a tag from queue ID and sequence number.
//
// Sequence values beyond 48 bits are truncated.
func New(q QueueID, seq uint64) Tag {
	return Tag(uint64(q)<<SeqBits | (seq & SeqMask))
}

// Decode extracts the queue ID and sequence number from a tag.
func (t Tag) Decode() (q QueueID, seq uint64) {
	//nolint:gosec // G115: top 16 bits are the queue ID by construction.
	q = QueueID(t >> SeqBits)
	seq = uint64(t) & SeqMask
	return
}

// Queue returns the queue component of the tag.
func (t Tag) Queue() QueueID {
	q, _ := t.Decode()
	return q
}

// Seq returns the sequence component of the tag.
func (t Tag) Seq() uint64 {
	_, s := t.Decode()
	return s
}

// IsNone reports whether t is the zero tag.
func (t Tag) IsNone() bool {
	return t == None
}

// String returns "seq@queue" (e.g. "7@2"), or "host:seq" for host tags.
func (t Tag) String() string {
	if t == None {
		return "none"
	}
	q, seq := t.Decode()
	if q == HostQueue {
		return "host:" + strconv.FormatUint(seq, 10)
	}
	return strconv.FormatUint(seq, 10) + "@" + strconv.FormatUint(uint64(q), 10)
}

// Less orders tags by queue first, then sequence. It is a total order used
// only for deterministic tie-breaking, not for happens-before.
func (t Tag) Less(other Tag) bool {
	return t < other
}
