package syncval_test

import (
	"context"
	"fmt"

	"github.com/kolkov/syncval/syncval"
)

// Example uploads a buffer on a transfer queue and reads it on a graphics
// queue whose wait does not cover the reading stage.
func Example() {
	var hazards syncval.Collector
	eng := syncval.New(syncval.WithSink(&hazards))
	ctx := context.Background()

	gfx := eng.CreateQueue(syncval.Graphics, "gfx")
	xfer := eng.CreateQueue(syncval.Transfer, "xfer")
	uploaded := eng.CreateSemaphore(syncval.Timeline, 0)
	staging := syncval.Buffer(1, 0, 4096)

	upload := syncval.NewCommandBuffer("upload")
	if err := upload.Access(staging, syncval.MustAccess(syncval.Copy, syncval.TransferWrite), "vkCmdCopyBuffer"); err != nil {
		panic(err)
	}
	readback := syncval.NewCommandBuffer("readback")
	if err := readback.Access(staging, syncval.MustAccess(syncval.Copy, syncval.TransferRead), "vkCmdCopyBuffer"); err != nil {
		panic(err)
	}

	if _, err := eng.Submit(ctx, syncval.Submission{
		Queue:          xfer,
		CommandBuffers: []*syncval.CommandBuffer{upload},
		Signals:        []syncval.SignalOp{{Semaphore: uploaded, Value: 1, Stages: syncval.Copy}},
	}); err != nil {
		panic(err)
	}
	if _, err := eng.Submit(ctx, syncval.Submission{
		Queue:          gfx,
		CommandBuffers: []*syncval.CommandBuffer{readback},
		Waits:          []syncval.WaitOp{{Semaphore: uploaded, Value: 1, Stages: syncval.VertexShader}},
	}); err != nil {
		panic(err)
	}

	for _, h := range hazards.Hazards() {
		fmt.Println(h.Kind, h.Current.Label)
	}

	// Output:
	// WriteAfterRead vkCmdCopyBuffer
}

// Example_waitBeforeSignal submits a wait before the signal it needs. The
// waiting batch is validated once the signal arrives.
func Example_waitBeforeSignal() {
	var hazards syncval.Collector
	eng := syncval.New(syncval.WithSink(&hazards))
	ctx := context.Background()

	q1 := eng.CreateQueue(syncval.Graphics, "q1")
	q2 := eng.CreateQueue(syncval.Compute, "q2")
	sem := eng.CreateSemaphore(syncval.Timeline, 0)
	buf := syncval.Buffer(7, 0, 256)

	consume := syncval.NewCommandBuffer("consume")
	_ = consume.Access(buf, syncval.MustAccess(syncval.ComputeShader, syncval.ShaderStorageRead), "vkCmdDispatch")
	produce := syncval.NewCommandBuffer("produce")
	_ = produce.Access(buf, syncval.MustAccess(syncval.ComputeShader, syncval.ShaderStorageWrite), "vkCmdDispatch")

	_, _ = eng.Submit(ctx, syncval.Submission{
		Queue:          q1,
		CommandBuffers: []*syncval.CommandBuffer{consume},
		Waits:          []syncval.WaitOp{{Semaphore: sem, Value: 1, Stages: syncval.ComputeShader}},
	})
	fmt.Println("pending:", eng.Stats().PendingWaits)

	_, _ = eng.Submit(ctx, syncval.Submission{
		Queue:          q2,
		CommandBuffers: []*syncval.CommandBuffer{produce},
		Signals:        []syncval.SignalOp{{Semaphore: sem, Value: 1, Stages: syncval.ComputeShader}},
	})
	fmt.Println("pending:", eng.Stats().PendingWaits, "hazards:", hazards.Len())

	// Output:
	// pending: 1
	// pending: 0 hazards: 0
}

// Example_scenario replays a scenario document.
func Example_scenario() {
	s, err := syncval.ParseScenario([]byte(`
format: v1.0.0
name: same queue
queues: [{name: gfx}]
buffers: [{name: buf, size: 64}]
command_buffers:
  - name: fill
    commands:
      - access: {buffer: buf, stage: COPY, kind: TRANSFER_WRITE, label: vkCmdFillBuffer}
steps:
  - submit: {queue: gfx, command_buffers: [fill]}
  - submit: {queue: gfx, command_buffers: [fill]}
expect:
  hazards: {WriteAfterWrite: 1}
`))
	if err != nil {
		panic(err)
	}
	res, err := s.Run(context.Background(), syncval.New())
	if err != nil {
		panic(err)
	}
	fmt.Println(res.Name, res.Hazards())

	// Output:
	// same queue 1
}

func ExampleGetInfo() {
	info := syncval.GetInfo()
	fmt.Println(info.Version, info.ScenarioFormat)

	// Output:
	// 0.1.0 v1.1.0
}
