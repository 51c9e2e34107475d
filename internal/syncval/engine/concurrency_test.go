package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/kolkov/syncval/internal/syncval/queue"
	"github.com/kolkov/syncval/internal/syncval/resource"
	"github.com/kolkov/syncval/internal/syncval/stage"
	"github.com/kolkov/syncval/internal/syncval/tag"
	"github.com/kolkov/syncval/internal/syncval/timeline"
)

// TestConcurrentQueues drives producer and consumer queues from separate
// goroutines. Each producer round waits for the consumer of the previous
// round through a second semaphore, so either side may run ahead and both
// the immediate and the deferred path run concurrently with replay on
// other queues. The result must not depend on the interleaving.
func TestConcurrentQueues(t *testing.T) {
	const (
		pairs  = 3
		rounds = 40
	)
	h := newHarness(t)

	type pair struct {
		producer, consumer tag.QueueID
		ready, done        timeline.SemaphoreID
		src, dst           resource.Range
		fence              timeline.FenceID
	}
	ps := make([]pair, pairs)
	for i := range ps {
		ps[i] = pair{
			producer: h.CreateQueue(queue.Graphics, fmt.Sprintf("producer%d", i)),
			consumer: h.CreateQueue(queue.Compute, fmt.Sprintf("consumer%d", i)),
			ready:    h.CreateSemaphore(timeline.Timeline, 0),
			done:     h.CreateSemaphore(timeline.Timeline, 0),
			src:      resource.Buffer(resource.ID(10+i), 0, 1024),
			dst:      resource.Buffer(resource.ID(20+i), 0, 1024),
			fence:    h.CreateFence(false),
		}
	}

	g, ctx := errgroup.WithContext(context.Background())
	for _, p := range ps {
		g.Go(func() error {
			for r := uint64(1); r <= rounds; r++ {
				sub := Submission{
					Queue:          p.producer,
					CommandBuffers: logs(copyWrite(t, p.src)),
					Signals:        []SignalOp{{Semaphore: p.ready, Value: r, Stages: stage.Copy}},
				}
				if r > 1 {
					sub.Waits = []WaitOp{{Semaphore: p.done, Value: r - 1, Stages: stage.Copy}}
				}
				if _, err := h.Submit(ctx, sub); err != nil {
					return err
				}
			}
			return nil
		})
		g.Go(func() error {
			for r := uint64(1); r <= rounds; r++ {
				l := copyRead(t, p.src)
				if err := l.Access(p.dst, stage.MustAccess(stage.Copy, stage.TransferWrite), "vkCmdCopyBuffer"); err != nil {
					return err
				}
				sub := Submission{
					Queue:          p.consumer,
					CommandBuffers: logs(l),
					Waits:          []WaitOp{{Semaphore: p.ready, Value: r, Stages: stage.Copy}},
					Signals:        []SignalOp{{Semaphore: p.done, Value: r}},
				}
				if r == rounds {
					sub.Fence = p.fence
				}
				if _, err := h.Submit(ctx, sub); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	fences := make([]timeline.FenceID, 0, pairs)
	for _, p := range ps {
		fences = append(fences, p.fence)
	}
	require.NoError(t, h.WaitForFences(timeout(t, 5*time.Second), fences, true))
	require.NoError(t, h.DeviceWaitIdle(timeout(t, 5*time.Second)))

	assert.Empty(t, h.keys())
	st := h.Stats()
	assert.Equal(t, 0, st.PendingWaits)
	assert.Equal(t, 2*pairs, st.Queues)
	assert.Equal(t, float64(2*pairs*rounds), testutil.ToFloat64(h.metrics.submissions))
	assert.LessOrEqual(t, st.LiveBatches, 2*pairs)
}

// TestConcurrentHostWaiters parks several host waits on values that are
// signaled later from another goroutine.
func TestConcurrentHostWaiters(t *testing.T) {
	h := newHarness(t)
	q := h.CreateQueue(queue.Graphics, "gfx")
	sem := h.CreateSemaphore(timeline.Timeline, 0)
	ctx := timeout(t, 5*time.Second)

	var g errgroup.Group
	for v := uint64(1); v <= 8; v++ {
		g.Go(func() error {
			return h.WaitSemaphores(ctx, []SemaphoreWait{{Semaphore: sem, Value: v}}, true)
		})
	}
	g.Go(func() error {
		for v := uint64(1); v <= 8; v++ {
			if _, err := h.Submit(ctx, Submission{Queue: q, Signals: []SignalOp{{Semaphore: sem, Value: v}}}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())

	v, err := h.SemaphoreCounterValue(sem)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), v)
}
