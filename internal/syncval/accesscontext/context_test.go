package accesscontext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/syncval/internal/syncval/accessstate"
	"github.com/kolkov/syncval/internal/syncval/hazard"
	"github.com/kolkov/syncval/internal/syncval/resource"
	"github.com/kolkov/syncval/internal/syncval/stage"
	"github.com/kolkov/syncval/internal/syncval/tag"
	"github.com/kolkov/syncval/internal/syncval/vectorclock"
)

var (
	buf        = resource.Buffer(1, 0, 256)
	copyWrite  = stage.MustAccess(stage.Copy, stage.TransferWrite)
	copyRead   = stage.MustAccess(stage.Copy, stage.TransferRead)
	vertexRead = stage.MustAccess(stage.VertexShader, stage.ShaderStorageRead)
	fullScope  = stage.Barrier{Src: stage.AllCommands, Dst: stage.AllCommands}
)

// writer builds a context owned by t that writes r at COPY.
func writer(t tag.Tag, r resource.Range, links ...Link) *Context {
	b := NewBuilder(t, links, nil)
	b.RecordAccess(r, accessstate.Record{Access: copyWrite})
	return b.Freeze()
}

func kinds(fs []Finding) []hazard.Kind {
	out := make([]hazard.Kind, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Kind)
	}
	return out
}

// TestImportBarrierScopes checks that a link's barrier orders only the
// destination stages it names.
func TestImportBarrierScopes(t *testing.T) {
	a := writer(tag.New(0, 1), buf)

	tests := []struct {
		name   string
		link   stage.Barrier
		access stage.Access
		want   []hazard.Kind
	}{
		{"copy to copy", stage.Barrier{Src: stage.Copy, Dst: stage.Copy}, copyRead, []hazard.Kind{}},
		{"copy to vertex, read at copy", stage.Barrier{Src: stage.Copy, Dst: stage.VertexShader}, copyRead, []hazard.Kind{hazard.WriteAfterRead}},
		{"copy to vertex, read at vertex", stage.Barrier{Src: stage.Copy, Dst: stage.VertexShader}, vertexRead, []hazard.Kind{}},
		{"execution only", stage.Barrier{}, copyRead, []hazard.Kind{hazard.WriteAfterRead}},
		{"narrow signal scope", stage.Barrier{Src: stage.VertexShader, Dst: stage.AllCommands}, copyRead, []hazard.Kind{hazard.WriteAfterRead}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(tag.New(1, 1), []Link{{Context: a, Barrier: tt.link}}, nil)
			assert.Equal(t, tt.want, kinds(b.DetectHazard(buf, tt.access)))
		})
	}
}

// TestIntraBatchBarrier checks that pipeline barriers order earlier accesses
// of the same batch and imported ones alike.
func TestIntraBatchBarrier(t *testing.T) {
	prev := writer(tag.New(0, 1), resource.Buffer(2, 0, 16))

	b := NewBuilder(tag.New(0, 2), []Link{{Context: prev}}, nil)
	b.RecordAccess(buf, accessstate.Record{Access: copyWrite, Command: 0})

	fs := b.DetectHazard(buf, copyRead)
	require.Len(t, fs, 1)
	assert.Equal(t, hazard.WriteAfterRead, fs[0].Kind)
	assert.Equal(t, tag.New(0, 2), fs[0].Prior.Tag)

	assert.Len(t, b.DetectHazard(resource.Buffer(2, 0, 16), copyRead), 1)

	b.ApplyBarrier(stage.Barrier{Src: stage.Copy, Dst: stage.Copy})
	assert.Empty(t, b.DetectHazard(buf, copyRead))
	assert.Empty(t, b.DetectHazard(resource.Buffer(2, 0, 16), copyRead))
}

// TestPartialOverlap splits a lookup into own and inherited pieces.
func TestPartialOverlap(t *testing.T) {
	a := writer(tag.New(0, 1), resource.Buffer(1, 0, 128))
	b := NewBuilder(tag.New(0, 2), []Link{{Context: a, Barrier: fullScope}}, nil)
	b.RecordAccess(resource.Buffer(1, 64, 128), accessstate.Record{Access: copyWrite})
	ctx := b.Freeze()

	pieces := ctx.Resolve(buf, nil, nil)
	require.Len(t, pieces, 2)
	assert.Equal(t, resource.Buffer(1, 0, 64), pieces[0].Range)
	assert.Equal(t, resource.Buffer(1, 64, 128), pieces[1].Range)
	w0, _ := pieces[0].State.LastWrite()
	w1, _ := pieces[1].State.LastWrite()
	assert.Equal(t, tag.New(0, 1), w0.Tag)
	assert.Equal(t, tag.New(0, 2), w1.Tag)
}

// TestReadMaterializesInheritedHistory ensures recording a read keeps the
// imported write it follows.
func TestReadMaterializesInheritedHistory(t *testing.T) {
	a := writer(tag.New(0, 1), buf)
	b := NewBuilder(tag.New(0, 2), []Link{{Context: a, Barrier: fullScope}}, nil)
	b.RecordAccess(buf, accessstate.Record{Access: copyRead})
	ctx := b.Freeze()

	c := NewBuilder(tag.New(0, 3), []Link{{Context: ctx}}, nil)
	fs := c.DetectHazard(buf, copyWrite)
	require.Len(t, fs, 1)
	assert.Equal(t, hazard.ReadAfterWrite, fs[0].Kind)
	assert.Equal(t, tag.New(0, 2), fs[0].Prior.Tag)

	pieces := ctx.Resolve(buf, nil, nil)
	require.Len(t, pieces, 1)
	w, ok := pieces[0].State.LastWrite()
	require.True(t, ok)
	assert.Equal(t, tag.New(0, 1), w.Tag)
	assert.Equal(t, 1, ctx.OwnRanges())
}

type conflict struct {
	kind           hazard.Kind
	prior, current tag.Tag
}

func collect(into *[]conflict) ConflictFunc {
	return func(kind hazard.Kind, _ resource.Range, prior, current accessstate.Record) {
		*into = append(*into, conflict{kind, prior.Tag, current.Tag})
	}
}

// TestAncestorConflict reports unordered writes reached through two
// independent links, naming the lower tag as prior.
func TestAncestorConflict(t *testing.T) {
	a := writer(tag.New(1, 1), buf)
	c := writer(tag.New(0, 1), buf)

	var got []conflict
	b := NewBuilder(tag.New(2, 1), []Link{{Context: a, Barrier: fullScope}, {Context: c, Barrier: fullScope}}, nil)
	b.OnConflict(collect(&got))
	assert.Empty(t, b.DetectHazard(buf, copyRead))

	require.Len(t, got, 1)
	assert.Equal(t, conflict{hazard.WriteAfterWrite, tag.New(0, 1), tag.New(1, 1)}, got[0])
}

// TestOrderedAncestorsDoNotConflict imports a write and a later write that
// already knew about it.
func TestOrderedAncestorsDoNotConflict(t *testing.T) {
	a := writer(tag.New(0, 1), buf)
	c := writer(tag.New(1, 1), buf, Link{Context: a, Barrier: fullScope})

	var got []conflict
	b := NewBuilder(tag.New(2, 1), []Link{{Context: a, Barrier: fullScope}, {Context: c, Barrier: fullScope}}, nil)
	b.OnConflict(collect(&got))
	assert.Empty(t, b.DetectHazard(buf, copyRead))
	assert.Empty(t, got)

	pieces := b.Freeze().Resolve(buf, nil, nil)
	require.Len(t, pieces, 1)
	w, _ := pieces[0].State.LastWrite()
	assert.Equal(t, tag.New(1, 1), w.Tag)
}

// TestConcurrentReadersNoConflict: read-only ancestors never conflict.
func TestConcurrentReadersNoConflict(t *testing.T) {
	mk := func(tg tag.Tag) *Context {
		b := NewBuilder(tg, nil, nil)
		b.RecordAccess(buf, accessstate.Record{Access: copyRead})
		return b.Freeze()
	}
	var got []conflict
	b := NewBuilder(tag.New(2, 1), []Link{{Context: mk(tag.New(0, 1))}, {Context: mk(tag.New(1, 1))}}, nil)
	b.OnConflict(collect(&got))
	assert.Empty(t, b.DetectHazard(buf, vertexRead))
	assert.Empty(t, got)
	assert.Len(t, b.DetectHazard(buf, copyWrite), 1)
}

// TestHostSyncedAccessesAreInvisible checks host-knowledge filtering and
// trimming.
func TestHostSyncedAccessesAreInvisible(t *testing.T) {
	a := writer(tag.New(0, 1), buf)
	mid := NewBuilder(tag.New(0, 2), []Link{{Context: a}}, nil).Freeze()
	top := NewBuilder(tag.New(0, 3), []Link{{Context: mid}}, nil).Freeze()
	require.Equal(t, 2, top.Depth())

	assert.Len(t, top.DetectHazard(buf, copyRead, nil, nil), 1)

	hs := vectorclock.Of(tag.New(0, 1))
	assert.Empty(t, top.DetectHazard(buf, copyRead, hs, nil))

	assert.Equal(t, 1, top.Trim(hs))
	assert.Equal(t, 1, top.Depth())
	assert.Empty(t, top.DetectHazard(buf, copyRead, hs, nil))
	assert.Equal(t, 0, top.Trim(nil))
}

func TestBuilderUseAfterFreezePanics(t *testing.T) {
	b := NewBuilder(tag.New(0, 1), nil, nil)
	b.Freeze()
	assert.Panics(t, func() { b.DetectHazard(buf, copyRead) })
	assert.Panics(t, func() { b.Freeze() })
}

func TestBuilderClock(t *testing.T) {
	a := writer(tag.New(3, 4), buf)
	b := NewBuilder(tag.New(0, 1), []Link{{Context: a}, {Context: nil}}, nil)
	assert.Equal(t, tag.New(0, 1), b.Owner())
	assert.Equal(t, "{0:1, 3:4}", b.VC().String())
	assert.Len(t, b.Freeze().Links(), 1)
}
