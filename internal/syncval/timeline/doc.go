// Package timeline implements the timeline registry: per-semaphore
// bookkeeping of applied signals and pending waiters, plus fences.
//
// Binary semaphores are modeled as timelines with an implicit counter: the
// Nth signal applies value N and the Nth wait binds to value N. A binary
// signal is consumed by the wait that binds to it.
//
// Timeline semaphores keep every applied signal keyed by counter value in
// an ordered tree. A wait for value V binds to the signal that applied V,
// or to the first later signal when V itself was never signaled. Waits for
// values nobody signaled yet are kept as pending waiters until a signal
// reaches them.
//
// Thread Safety: the registry holds no lock of its own. The engine guards
// it together with every other structure shared between queues.
package timeline
