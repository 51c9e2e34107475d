package cmdlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/syncval/internal/syncval/resource"
	"github.com/kolkov/syncval/internal/syncval/stage"
)

func TestLogRecordsInOrder(t *testing.T) {
	l := New("cb0")
	buf := resource.Buffer(1, 0, 64)

	require.NoError(t, l.Access(buf, stage.MustAccess(stage.Copy, stage.TransferWrite), "vkCmdFillBuffer"))
	require.NoError(t, l.Barrier(stage.Copy, stage.VertexShader, "vkCmdPipelineBarrier"))
	require.NoError(t, l.Access(buf, stage.MustAccess(stage.VertexShader, stage.ShaderStorageRead), "vkCmdDraw"))

	entries := l.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, EntryAccess, entries[0].Kind)
	assert.Equal(t, EntryBarrier, entries[1].Kind)
	assert.Equal(t, stage.Barrier{Src: stage.Copy, Dst: stage.VertexShader}, entries[1].Barrier)
	assert.Equal(t, "vkCmdDraw", entries[2].Label)
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, 2, l.Accesses())
	assert.Equal(t, "cb0", l.Name())
}

// TestLogRejectsInvalidEntries checks the validation applied while
// recording.
func TestLogRejectsInvalidEntries(t *testing.T) {
	l := New("cb1")
	tests := []struct {
		name    string
		record  func() error
		wantErr error
	}{
		{"empty range", func() error {
			return l.Access(resource.Buffer(1, 0, 0), stage.MustAccess(stage.Copy, stage.TransferRead), "")
		}, resource.ErrEmptyRange},
		{"stage cannot perform access", func() error {
			return l.Access(resource.Buffer(1, 0, 4), stage.Access{Stage: stage.VertexShader, Kind: stage.TransferWrite}, "")
		}, stage.ErrIncompatibleAccess},
		{"empty barrier source", func() error {
			return l.Barrier(stage.None, stage.Copy, "")
		}, ErrEmptyBarrier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record()
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), "cb1")
		})
	}
	assert.Equal(t, 0, l.Len())
}

func TestEntryString(t *testing.T) {
	e := Entry{Kind: EntryBarrier, Barrier: stage.Barrier{Src: stage.Copy, Dst: stage.Host}}
	assert.Equal(t, "barrier COPY->HOST", e.String())
	assert.Equal(t, "access", EntryAccess.String())
	assert.Equal(t, "EntryKind(9)", EntryKind(9).String())
}
