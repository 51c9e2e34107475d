package engine

import (
	"errors"

	"github.com/kolkov/syncval/internal/syncval/queue"
	"github.com/kolkov/syncval/internal/syncval/timeline"
)

// Errors returned by engine calls. A call that returns an error leaves the
// engine unchanged.
var (
	ErrUnknownSemaphore      = timeline.ErrUnknownSemaphore
	ErrUnknownFence          = timeline.ErrUnknownFence
	ErrNonMonotonicSignal    = timeline.ErrNonMonotonicSignal
	ErrBinaryWaitValue       = timeline.ErrBinaryWaitValue
	ErrSemaphoreKindMismatch = timeline.ErrSemaphoreKindMismatch
	ErrSemaphoreBusy         = timeline.ErrSemaphoreBusy
	ErrFenceInUse            = timeline.ErrFenceInUse
	ErrUnsupportedStage      = queue.ErrUnsupportedStage

	// ErrQueueUnknown is returned for queues the engine never created.
	ErrQueueUnknown = errors.New("engine: unknown queue")

	// ErrHostWaitTimeout wraps the context error of a host wait that
	// gave up before its condition held.
	ErrHostWaitTimeout = errors.New("engine: host wait timed out")
)
