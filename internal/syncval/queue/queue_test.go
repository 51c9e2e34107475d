package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/syncval/internal/syncval/stage"
	"github.com/kolkov/syncval/internal/syncval/tag"
)

// TestNew tests queue state initialization.
func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		id       tag.QueueID
		label    string
		wantName string
	}{
		{"zero id", 0, "", "queue0"},
		{"named", 3, "present", "present"},
		{"max id", 0xFFFE, "", "queue65534"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New(tt.id, tt.label, Graphics)
			assert.Equal(t, tt.id, q.ID)
			assert.Equal(t, tt.wantName, q.Name)
			assert.Equal(t, tag.None, q.Last())
			assert.Zero(t, q.Submitted())
		})
	}
}

// TestNext verifies tags are handed out in order and Last follows them.
func TestNext(t *testing.T) {
	q := New(2, "", Compute)
	for i := uint64(1); i <= 5; i++ {
		got := q.Next()
		assert.Equal(t, tag.New(2, i), got)
		assert.Equal(t, got, q.Last())
		assert.Equal(t, i, q.Submitted())
	}
}

func TestSupports(t *testing.T) {
	tests := []struct {
		family Family
		mask   stage.Mask
		ok     bool
	}{
		{Graphics, stage.AllCommands, true},
		{Compute, stage.ComputeShader | stage.Copy, true},
		{Compute, stage.VertexShader, false},
		{Transfer, stage.Copy | stage.Host, true},
		{Transfer, stage.ComputeShader, false},
	}
	for _, tt := range tests {
		t.Run(tt.family.String()+"/"+tt.mask.String(), func(t *testing.T) {
			err := New(0, "", tt.family).Supports(tt.mask)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrUnsupportedStage)
			}
		})
	}
}

func TestParseFamily(t *testing.T) {
	for _, f := range []Family{Graphics, Compute, Transfer} {
		got, err := ParseFamily(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	got, err := ParseFamily("")
	require.NoError(t, err)
	assert.Equal(t, Graphics, got)

	_, err = ParseFamily("video")
	assert.Error(t, err)
	assert.Equal(t, "Family(9)", Family(9).String())
}
