package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kolkov/syncval/internal/syncval/cmdlog"
	"github.com/kolkov/syncval/internal/syncval/engine"
	"github.com/kolkov/syncval/internal/syncval/hazard"
	"github.com/kolkov/syncval/internal/syncval/stage"
	"github.com/kolkov/syncval/internal/syncval/tag"
	"github.com/kolkov/syncval/internal/syncval/timeline"
)

// ErrExpectation is returned when a replay completes but its outcome differs
// from the scenario's expectations.
var ErrExpectation = errors.New("scenario: expectation not met")

// Result summarizes a replay.
type Result struct {
	Name string

	// Steps is the number of steps executed.
	Steps int

	// Batches holds the tag of every submission in step order.
	Batches []tag.Tag

	Stats engine.Stats
}

// Hazards returns the total number of unique hazards of every kind.
func (r *Result) Hazards() uint64 {
	var n uint64
	for _, c := range r.Stats.Hazards {
		n += c
	}
	return n
}

// handles maps scenario names to the engine objects created for them.
type handles struct {
	queues map[string]tag.QueueID
	sems   map[string]timeline.SemaphoreID
	fences map[string]timeline.FenceID
}

// Run replays the scenario against eng, which should be fresh: handles are
// created on it and the expectations are checked against its totals.
//
// A step that fails stops the replay with an error naming the step, unless
// the step expects that error. Hazards go to eng's sink as they are found.
func (s *Scenario) Run(ctx context.Context, eng *engine.Engine) (*Result, error) {
	if s.logs == nil {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	h := s.create(eng)
	res := &Result{Name: s.Name}

	for i := range s.Steps {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		st := &s.Steps[i]
		err := s.exec(ctx, eng, h, st, res)
		res.Steps++
		if err := checkStepError(st, err); err != nil {
			if st.Name != "" {
				return res, fmt.Errorf("step %d (%s): %w", i, st.Name, err)
			}
			return res, fmt.Errorf("step %d: %w", i, err)
		}
	}

	res.Stats = eng.Stats()
	return res, s.check(res)
}

func checkStepError(st *Step, err error) error {
	switch {
	case st.Error == "":
		return err
	case err == nil:
		return fmt.Errorf("%w: succeeded, want error containing %q", ErrExpectation, st.Error)
	case !strings.Contains(err.Error(), st.Error):
		return fmt.Errorf("%w: error %q does not contain %q", ErrExpectation, err, st.Error)
	default:
		return nil
	}
}

// create makes the declared objects in declaration order.
func (s *Scenario) create(eng *engine.Engine) handles {
	h := handles{
		queues: make(map[string]tag.QueueID, len(s.Queues)),
		sems:   make(map[string]timeline.SemaphoreID, len(s.Semaphores)),
		fences: make(map[string]timeline.FenceID, len(s.Fences)),
	}
	for _, q := range s.Queues {
		h.queues[q.Name] = eng.CreateQueue(s.families[q.Name], q.Name)
	}
	for _, d := range s.Semaphores {
		info := s.sems[d.Name]
		if info.external {
			h.sems[d.Name] = eng.ImportSemaphore(info.kind, info.initial)
		} else {
			h.sems[d.Name] = eng.CreateSemaphore(info.kind, info.initial)
		}
	}
	for _, d := range s.Fences {
		h.fences[d.Name] = eng.CreateFence(d.Signaled)
	}
	return h
}

func (s *Scenario) exec(ctx context.Context, eng *engine.Engine, h handles, st *Step, res *Result) error {
	switch {
	case st.Submit != nil:
		t, err := eng.Submit(ctx, s.submission(h, st.Submit))
		if err == nil {
			res.Batches = append(res.Batches, t)
		}
		return err
	case st.Signal != nil:
		return eng.SignalSemaphore(ctx, h.sems[st.Signal.Semaphore], st.Signal.Value)
	case st.Observe != nil:
		return eng.ObserveSemaphoreCounter(h.sems[st.Observe.Semaphore], st.Observe.Value)
	case st.Counter != nil:
		v, err := eng.SemaphoreCounterValue(h.sems[st.Counter.Semaphore])
		if err != nil {
			return err
		}
		if v != st.Counter.Value {
			return fmt.Errorf("%w: semaphore %q counter %d, want %d", ErrExpectation, st.Counter.Semaphore, v, st.Counter.Value)
		}
		return nil
	case st.WaitSemaphores != nil:
		waits := make([]engine.SemaphoreWait, 0, len(st.WaitSemaphores.Waits))
		for _, w := range st.WaitSemaphores.Waits {
			waits = append(waits, engine.SemaphoreWait{Semaphore: h.sems[w.Semaphore], Value: w.Value})
		}
		return eng.WaitSemaphores(ctx, waits, !st.WaitSemaphores.Any)
	case st.WaitFences != nil:
		return eng.WaitForFences(ctx, h.fenceIDs(st.WaitFences.Fences), !st.WaitFences.Any)
	case st.ResetFences != nil:
		return eng.ResetFences(h.fenceIDs(st.ResetFences))
	case st.FenceStatus != nil:
		signaled, err := eng.FenceStatus(h.fences[st.FenceStatus.Fence])
		if err != nil {
			return err
		}
		if signaled != st.FenceStatus.Signaled {
			return fmt.Errorf("%w: fence %q signaled=%t, want %t", ErrExpectation, st.FenceStatus.Fence, signaled, st.FenceStatus.Signaled)
		}
		return nil
	case st.DeviceWaitIdle:
		return eng.DeviceWaitIdle(ctx)
	case st.QueueWaitIdle != "":
		return eng.QueueWaitIdle(ctx, h.queues[st.QueueWaitIdle])
	}
	return nil
}

func (h handles) fenceIDs(names []string) []timeline.FenceID {
	out := make([]timeline.FenceID, 0, len(names))
	for _, n := range names {
		out = append(out, h.fences[n])
	}
	return out
}

func (s *Scenario) submission(h handles, sub *Submit) engine.Submission {
	out := engine.Submission{
		Queue:          h.queues[sub.Queue],
		CommandBuffers: make([]*cmdlog.Log, 0, len(sub.CommandBuffers)),
	}
	for _, name := range sub.CommandBuffers {
		out.CommandBuffers = append(out.CommandBuffers, s.logs[name])
	}
	for _, w := range sub.Waits {
		out.Waits = append(out.Waits, engine.WaitOp{
			Semaphore: h.sems[w.Semaphore],
			Value:     w.Value,
			Stages:    s.mask(w.Stages),
		})
	}
	for _, sig := range sub.Signals {
		out.Signals = append(out.Signals, engine.SignalOp{
			Semaphore: h.sems[sig.Semaphore],
			Value:     sig.Value,
			Stages:    s.mask(sig.Stages),
		})
	}
	if sub.Fence != "" {
		out.Fence = h.fences[sub.Fence]
	}
	return out
}

func (s *Scenario) mask(list string) stage.Mask {
	if list == "" {
		return stage.AllCommands
	}
	return s.masks[list]
}

// check compares the replay outcome with the expect block.
func (s *Scenario) check(res *Result) error {
	if s.Expect == nil {
		return nil
	}
	var errs []error
	for _, k := range hazard.Kinds() {
		if got, want := res.Stats.Hazards[k], s.expected[k]; got != want {
			errs = append(errs, fmt.Errorf("%s hazards: got %d, want %d", k, got, want))
		}
	}
	if p := s.Expect.PendingWaits; p != nil && res.Stats.PendingWaits != *p {
		errs = append(errs, fmt.Errorf("pending waits: got %d, want %d", res.Stats.PendingWaits, *p))
	}
	if len(errs) == 0 {
		return nil
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return fmt.Errorf("%w: %w", ErrExpectation, errors.Join(errs...))
}
