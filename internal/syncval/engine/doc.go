// Package engine implements the batch resolution engine and the host-wait
// resolver.
//
// The engine turns each submission into a batch: it resolves the
// submission's waits into ancestor links, replays the command buffers
// against them to find hazards, and publishes the submission's signals.
// Waits for values nobody signaled yet are deferred. When a matching
// signal appears, the waiting batch is re-validated, and the new knowledge
// propagates to every batch that imports it. Two queues that wait on each
// other therefore resolve each other's waits without any background work.
//
// Host synchronization calls (semaphore and fence waits, device and queue
// idle) block until the awaited batches can complete. They then mark
// everything causally before them as host-synchronized and release the
// batches and signal records nothing references any more.
//
// Concurrency model:
//   - one lock guards the registry, the batch arena and the host clock
//   - submissions to one queue are serialized by that queue's own lock
//   - command buffer replay of a new batch runs without the engine lock
//   - deferred resolution runs synchronously inside the call that
//     published the resolving signal
//
// Hazards never fail a call. They are deduplicated, counted and forwarded
// to the configured sink after the engine lock is released.
package engine
