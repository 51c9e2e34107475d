package hazard

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/syncval/internal/syncval/resource"
	"github.com/kolkov/syncval/internal/syncval/stage"
	"github.com/kolkov/syncval/internal/syncval/tag"
)

var (
	copyWrite   = stage.MustAccess(stage.Copy, stage.TransferWrite)
	copyRead    = stage.MustAccess(stage.Copy, stage.TransferRead)
	vertexRead  = stage.MustAccess(stage.VertexShader, stage.ShaderStorageRead)
	vertexWrite = stage.MustAccess(stage.VertexShader, stage.ShaderStorageWrite)
)

func sample(kind Kind, prior, current tag.Tag) Hazard {
	return Hazard{
		Kind:       kind,
		Range:      resource.Buffer(9, 0, 256),
		Prior:      Access{Tag: prior, Access: copyWrite, Command: 0, Label: "vkCmdCopyBuffer"},
		Current:    Access{Tag: current, Access: copyRead, Command: 1},
		Underlying: kind,
	}
}

// TestClassify checks the classification table.
func TestClassify(t *testing.T) {
	tests := []struct {
		name           string
		prior, current stage.Access
		want           Kind
	}{
		{"write then write", copyWrite, vertexWrite, WriteAfterWrite},
		{"read then write", copyRead, vertexWrite, ReadAfterWrite},
		{"write then read", copyWrite, vertexRead, WriteAfterRead},
		{"read then read", copyRead, vertexRead, None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.prior, tt.current))
		})
	}
}

func TestKindStrings(t *testing.T) {
	assert.Equal(t, "WriteAfterWrite", WriteAfterWrite.String())
	assert.Equal(t, "SYNC-HAZARD-WRITE-AFTER-READ", WriteAfterRead.MessageTag())
	assert.Equal(t, "SYNC-HAZARD-NONE", None.MessageTag())
	assert.Equal(t, "Kind(42)", Kind(42).String())
	assert.Len(t, Kinds(), 4)
}

func TestFormat(t *testing.T) {
	h := sample(WriteAfterRead, tag.New(0, 1), tag.New(1, 1))
	h.Deferred = true

	var buf bytes.Buffer
	h.Format(&buf)
	out := buf.String()
	assert.Contains(t, out, "SYNC-HAZARD-WRITE-AFTER-READ")
	assert.Contains(t, out, "res#9[0,256)")
	assert.Contains(t, out, "COPY:TRANSFER_WRITE by 1@0 (cmd 0 vkCmdCopyBuffer)")
	assert.Contains(t, out, "wait-before-signal")

	assert.Contains(t, h.String(), "WriteAfterRead")
}

// TestKeyIgnoresOffsets verifies that a conflict split across sub-ranges
// dedupes to one report.
func TestKeyIgnoresOffsets(t *testing.T) {
	a := sample(WriteAfterRead, tag.New(0, 1), tag.New(1, 1))
	b := a
	b.Range = resource.Buffer(9, 128, 64)
	assert.Equal(t, a.Key(), b.Key())

	c := a
	c.Current.Tag = tag.New(1, 2)
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestReporterDedupe(t *testing.T) {
	var sink Collector
	r := NewReporter(&sink, ReporterOptions{Dedupe: true})

	h := sample(WriteAfterWrite, tag.New(0, 1), tag.New(0, 2))
	assert.True(t, r.Report(h))
	assert.False(t, r.Report(h))
	assert.False(t, r.Report(Hazard{Kind: None}))

	assert.Equal(t, 1, sink.Len())
	assert.Equal(t, uint64(1), r.Count(WriteAfterWrite))
	assert.Equal(t, uint64(1), r.Duplicates())
	assert.Equal(t, uint64(1), r.Total())
}

func TestReporterWithoutDedupe(t *testing.T) {
	var sink Collector
	r := NewReporter(&sink, ReporterOptions{})

	h := sample(WriteAfterWrite, tag.New(0, 1), tag.New(0, 2))
	r.Report(h)
	r.Report(h)
	assert.Equal(t, 2, sink.Len())
	assert.Equal(t, uint64(2), r.Counts()[WriteAfterWrite])
}

// TestReporterIndeterminate checks that Indeterminate hazards are counted
// but only forwarded when enabled.
func TestReporterIndeterminate(t *testing.T) {
	var sink Collector
	r := NewReporter(&sink, ReporterOptions{Dedupe: true})
	r.Report(sample(Indeterminate, tag.New(0, 1), tag.New(1, 1)))
	assert.Equal(t, 0, sink.Len())
	assert.Equal(t, uint64(1), r.Count(Indeterminate))
	assert.Equal(t, uint64(1), r.Suppressed())

	var fwd Collector
	r = NewReporter(&fwd, ReporterOptions{ForwardIndeterminate: true})
	r.Report(sample(Indeterminate, tag.New(0, 1), tag.New(1, 1)))
	require.Equal(t, 1, fwd.Len())
	assert.Equal(t, Indeterminate, fwd.Hazards()[0].Kind)
}

// TestReporterConcurrent reports the same hazard from many goroutines;
// exactly one must reach the sink.
func TestReporterConcurrent(t *testing.T) {
	var sink Collector
	r := NewReporter(&sink, ReporterOptions{Dedupe: true})
	h := sample(ReadAfterWrite, tag.New(0, 1), tag.New(2, 1))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Report(h)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, sink.Len())
	assert.Equal(t, uint64(31), r.Duplicates())
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	NewReporter(NewWriterSink(&buf), ReporterOptions{}).Report(sample(WriteAfterWrite, tag.New(0, 1), tag.New(0, 2)))
	assert.Contains(t, buf.String(), "SYNC-HAZARD-WRITE-AFTER-WRITE")

	NewReporter(nil, ReporterOptions{}).Report(sample(WriteAfterWrite, tag.New(0, 1), tag.New(0, 2)))
}
