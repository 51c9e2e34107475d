// Package syncval models GPU queue submissions on the host and reports
// synchronization hazards between them.
//
// An [Engine] receives the same calls a Vulkan driver would: queue
// submissions with their command buffers, semaphore waits and signals,
// fences, and host waits. For every submission it replays the recorded
// resource accesses against everything the submission is known to be
// ordered after, and reports accesses that are not. Nothing is executed;
// the engine only tracks what the GPU is guaranteed to have done.
//
// # Quick Start
//
//	eng := syncval.New(syncval.WithSink(syncval.NewWriterSink(os.Stderr)))
//	gfx := eng.CreateQueue(syncval.Graphics, "gfx")
//	xfer := eng.CreateQueue(syncval.Transfer, "xfer")
//	uploaded := eng.CreateSemaphore(syncval.Timeline, 0)
//
//	upload := syncval.NewCommandBuffer("upload")
//	_ = upload.Access(vertices, syncval.MustAccess(syncval.Copy, syncval.TransferWrite), "vkCmdCopyBuffer")
//	eng.Submit(ctx, syncval.Submission{
//		Queue:          xfer,
//		CommandBuffers: []*syncval.CommandBuffer{upload},
//		Signals:        []syncval.SignalOp{{Semaphore: uploaded, Value: 1, Stages: syncval.Copy}},
//	})
//
// A later submission that waits for uploaded=1 at VERTEX_SHADER may read
// vertices from its vertex shader; reading them with a copy is reported as
// a hazard, because the wait does not order the COPY stage.
//
// # Hazards
//
// Hazards are named after the pair of accesses, prior access first:
//   - [ReadAfterWrite]: a write that follows an unordered read
//   - [WriteAfterWrite]: two unordered writes
//   - [WriteAfterRead]: a read that follows an unordered write
//   - [Indeterminate]: a hazard whose ordering depends on a semaphore
//     imported from outside the device; counted but not reported by default
//
// Each distinct hazard is reported once. A submission that waits for a
// value nobody has signaled yet is validated when the signal arrives, and
// its hazards are reported then.
//
// # Host Synchronization
//
// Host waits ([Engine.WaitSemaphores], [Engine.WaitForFences],
// [Engine.DeviceWaitIdle], [Engine.QueueWaitIdle]) block until the awaited
// work can complete. Everything they prove complete stops taking part in
// hazard detection and is released, so memory use follows the work in
// flight rather than the length of the run.
//
// # Scenarios
//
// [LoadScenario] reads a YAML description of queues, command buffers and
// steps, which [Scenario.Run] replays against an engine. The syncval
// command replays scenario files from the shell:
//
//	$ syncval replay frame.yaml
//
// # Configuration
//
// [LoadConfig] reads YAML configuration with SYNCVAL_* environment
// overrides; pass the result with [WithConfig].
package syncval
