package scenario

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/syncval/internal/syncval/cmdlog"
	"github.com/kolkov/syncval/internal/syncval/engine"
	"github.com/kolkov/syncval/internal/syncval/hazard"
	"github.com/kolkov/syncval/internal/syncval/resource"
)

func newEngine(sink hazard.Sink) *engine.Engine {
	return engine.New(
		engine.WithSink(sink),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func runCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestRunTestdata replays every scenario under testdata; each carries its
// own expectations.
func TestRunTestdata(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, path := range files {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := Load(path)
			require.NoError(t, err)

			var got hazard.Collector
			res, err := s.Run(runCtx(t), newEngine(&got))
			require.NoError(t, err)
			assert.Equal(t, len(s.Steps), res.Steps)

			// Indeterminate hazards are counted but not forwarded by default.
			forwarded := res.Hazards() - res.Stats.Hazards[hazard.Indeterminate]
			assert.Equal(t, int(forwarded), got.Len())
		})
	}
}

func TestRunReportsHazardDetails(t *testing.T) {
	s, err := Load(filepath.Join("testdata", "wait_scope_mismatch.yaml"))
	require.NoError(t, err)

	var got hazard.Collector
	res, err := s.Run(runCtx(t), newEngine(&got))
	require.NoError(t, err)
	require.Len(t, res.Batches, 2)

	require.Equal(t, 1, got.Len())
	h := got.Hazards()[0]
	assert.Equal(t, hazard.WriteAfterRead, h.Kind)
	assert.Equal(t, res.Batches[0], h.Prior.Tag)
	assert.Equal(t, res.Batches[1], h.Current.Tag)
	assert.Equal(t, "vkCmdCopyBuffer", h.Current.Label)
	assert.Equal(t, resource.Buffer(1, 0, 256), h.Range)
}

const minimal = `
format: v1.0.0
queues: [{name: gfx}]
buffers: [{name: buf, size: 64}]
command_buffers:
  - name: write
    commands:
      - access: {buffer: buf, stage: COPY, kind: TRANSFER_WRITE}
steps:
  - submit: {queue: gfx, command_buffers: [write]}
`

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr error
		msg     string
	}{
		{"empty", "", ErrInvalid, "empty document"},
		{"no format", "queues: [{name: gfx}]\nsteps: []", ErrUnsupportedFormat, "not a semantic version"},
		{"newer major", "format: v2.0.0\nqueues: [{name: gfx}]\nsteps: []", ErrUnsupportedFormat, "supported up to"},
		{"newer minor", "format: v1.9.0\nqueues: [{name: gfx}]\nsteps: []", ErrUnsupportedFormat, "supported up to"},
		{"unknown key", minimal + "extra: true\n", nil, "field extra not found"},
		{"no queues", "format: v1.0.0\nsteps: []", ErrInvalid, "no queues declared"},
		{"duplicate queue", "format: v1.0.0\nqueues: [{name: a}, {name: a}]\nsteps: []", ErrInvalid, `duplicate queue "a"`},
		{"bad family", "format: v1.0.0\nqueues: [{name: a, family: video}]\nsteps: []", ErrInvalid, "unknown family"},
		{"binary initial", "format: v1.0.0\nqueues: [{name: a}]\nsemaphores: [{name: s, initial: 2}]\nsteps: []", ErrInvalid, "no initial value"},
		{"unknown queue", minimal + "  - submit: {queue: nope}\n", ErrInvalid, `unknown queue "nope"`},
		{"unknown command buffer", minimal + "  - submit: {queue: gfx, command_buffers: [nope]}\n", ErrInvalid, `unknown command buffer "nope"`},
		{"unknown semaphore", minimal + "  - signal: {semaphore: s, value: 1}\n", ErrInvalid, `unknown semaphore "s"`},
		{"unknown fence", minimal + "  - wait_fences: {fences: [f]}\n", ErrInvalid, `unknown fence "f"`},
		{"two actions", minimal + "  - {device_wait_idle: true, queue_wait_idle: gfx}\n", ErrInvalid, "2 actions"},
		{"no action", minimal + "  - {name: idle}\n", ErrInvalid, "step 1 (idle): 0 actions"},
		{"bad wait stage", minimal + "  - submit: {queue: gfx, waits: [{semaphore: s, stages: WARP}]}\n", ErrInvalid, "unknown pipeline stage"},
		{"unknown hazard kind", minimal + "expect: {hazards: {DataRace: 1}}\n", ErrInvalid, `unknown hazard kind "DataRace"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestParseRejectsBadCommands(t *testing.T) {
	doc := func(cmd string) string {
		return `
format: v1.0.0
queues: [{name: gfx}]
buffers: [{name: buf, size: 64}]
images: [{name: img, mip_levels: 2, layers: 2}]
command_buffers:
  - name: cb
    commands:
      - ` + cmd + `
steps: []
`
	}
	tests := []struct {
		name string
		cmd  string
		msg  string
	}{
		{"empty", "{}", "empty command"},
		{"both", "{access: {buffer: buf, stage: COPY, kind: TRANSFER_READ}, barrier: {src: COPY, dst: COPY}}", "access and barrier"},
		{"no resource", "access: {stage: COPY, kind: TRANSFER_READ}", "names no resource"},
		{"two resources", "access: {buffer: buf, image: img, stage: COPY, kind: TRANSFER_READ}", "both a buffer and an image"},
		{"unknown buffer", "access: {buffer: nope, stage: COPY, kind: TRANSFER_READ}", `unknown buffer "nope"`},
		{"outside buffer", "access: {buffer: buf, offset: 32, size: 64, stage: COPY, kind: TRANSFER_READ}", `outside buffer "buf"`},
		{"offset at end", "access: {buffer: buf, offset: 64, stage: COPY, kind: TRANSFER_READ}", "empty range"},
		{"mip out of bounds", "access: {image: img, base_mip: 1, mip_count: 2, stage: COPY, kind: TRANSFER_READ}", "out of bounds"},
		{"incompatible access", "access: {buffer: buf, stage: VERTEX_SHADER, kind: TRANSFER_READ}", "not supported by stage"},
		{"two stages", "access: {buffer: buf, stage: COPY|HOST, kind: TRANSFER_READ}", "exactly one stage"},
		{"unknown access", "access: {buffer: buf, stage: COPY, kind: TELEPORT}", "unknown access kind"},
		{"empty barrier", "barrier: {src: COPY}", "empty scope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(doc(tt.cmd)))
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), `command buffer "cb" command 0`)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestCheckFormat(t *testing.T) {
	for _, v := range []string{"v1.0.0", "v1.1.0", "v1", "v1.0"} {
		assert.NoError(t, CheckFormat(v), v)
	}
	for _, v := range []string{"", "1.0.0", "v1.2.0", "v2.0.0", "v0.9.0", "latest"} {
		assert.ErrorIs(t, CheckFormat(v), ErrUnsupportedFormat, v)
	}
}

func TestBufferAccessDefaults(t *testing.T) {
	s, err := Parse([]byte(`
format: v1.0.0
queues: [{name: gfx}]
buffers: [{name: a, size: 64}, {name: b, size: 128}]
images: [{name: img, aspects: 2, mip_levels: 3, layers: 2}]
command_buffers:
  - name: cb
    commands:
      - access: {buffer: b, offset: 16, stage: COPY, kind: TRANSFER_READ}
      - access: {buffer: a, offset: 8, size: 8, stage: COPY, kind: TRANSFER_WRITE}
      - access: {image: img, base_aspect: 1, base_mip: 1, stage: COPY, kind: TRANSFER_WRITE}
steps: []
`))
	require.NoError(t, err)

	var ranges []resource.Range
	for _, en := range s.logs["cb"].Entries() {
		require.Equal(t, cmdlog.EntryAccess, en.Kind)
		ranges = append(ranges, en.Range)
	}
	// Aspect 1, mips 1-2, both layers: one coalesced run after the six
	// subresources of aspect 0 and the two of its mip 0.
	assert.Equal(t, []resource.Range{
		resource.Buffer(2, 16, 112),
		resource.Buffer(1, 8, 8),
		{Resource: 3, Begin: 8, End: 12},
	}, ranges)
}

func TestRunExpectationMismatch(t *testing.T) {
	s, err := Parse([]byte(minimal + `  - submit: {queue: gfx, command_buffers: [write]}
expect:
  hazards: {ReadAfterWrite: 1}
  pending_waits: 1
`))
	require.NoError(t, err)

	res, err := s.Run(runCtx(t), newEngine(nil))
	require.ErrorIs(t, err, ErrExpectation)
	assert.Contains(t, err.Error(), "ReadAfterWrite hazards: got 0, want 1")
	assert.Contains(t, err.Error(), "WriteAfterWrite hazards: got 1, want 0")
	assert.Contains(t, err.Error(), "pending waits: got 0, want 1")
	assert.Equal(t, 2, res.Steps)
}

func TestStepErrors(t *testing.T) {
	tests := []struct {
		name    string
		step    string
		wantErr error
		msg     string
	}{
		{"unexpected error", "  - submit: {queue: gfx, waits: [{semaphore: bin, value: 3}]}\n", engine.ErrBinaryWaitValue, "step 1: "},
		{"expected error", "  - submit: {queue: gfx, waits: [{semaphore: bin, value: 3}]}\n    error: counter value given\n", nil, ""},
		{"wrong error", "  - submit: {queue: gfx, waits: [{semaphore: bin, value: 3}]}\n    error: fence\n", ErrExpectation, "does not contain"},
		{"missing error", "  - name: ok\n    device_wait_idle: true\n    error: boom\n", ErrExpectation, "step 1 (ok): "},
		{"counter mismatch", "  - counter: {semaphore: tl, value: 7}\n", ErrExpectation, `semaphore "tl" counter 0, want 7`},
		{"fence status mismatch", "  - fence_status: {fence: f, signaled: true}\n", ErrExpectation, `fence "f" signaled=false`},
		{"timeline only", "  - counter: {semaphore: bin, value: 0}\n", engine.ErrSemaphoreKindMismatch, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := strings.Replace(minimal, "steps:",
				"semaphores: [{name: bin}, {name: tl, kind: timeline}]\nfences: [{name: f}]\nsteps:", 1)
			s, err := Parse([]byte(doc + tt.step))
			require.NoError(t, err)

			_, err = s.Run(runCtx(t), newEngine(nil))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := Parse([]byte(minimal))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := s.Run(ctx, newEngine(nil))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, res.Steps)
}

func TestRunBlockedHostWaitTimesOut(t *testing.T) {
	s, err := Parse([]byte(`
format: v1.0.0
queues: [{name: gfx}]
semaphores: [{name: never, kind: timeline}]
steps:
  - wait_semaphores: {waits: [{semaphore: never, value: 1}]}
`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Run(ctx, newEngine(nil))
	require.ErrorIs(t, err, engine.ErrHostWaitTimeout)
	assert.Contains(t, err.Error(), "step 0: ")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "unnamed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Name)

	big := filepath.Join(dir, "big.yaml")
	require.NoError(t, os.WriteFile(big, make([]byte, MaxFileSize+1), 0o600))
	_, err = Load(big)
	assert.ErrorContains(t, err, "exceeds")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("format: v3.0.0\n"), 0o600))
	_, err = Load(bad)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Contains(t, err.Error(), bad)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
