package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.DedupeHazards)
	assert.False(t, cfg.ReportIndeterminate)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncval.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dedupe_hazards: false
report_indeterminate: true
log_level: debug
max_propagation_steps: 10
host_wait_timeout: 250ms
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.DedupeHazards)
	assert.True(t, cfg.ReportIndeterminate)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, 10, cfg.MaxPropagationSteps)
	assert.Equal(t, 250*time.Millisecond, cfg.HostWaitTimeout)
	assert.True(t, cfg.RetainLatestSignal, "unset keys keep defaults")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncval.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o600))
	t.Setenv("SYNCVAL_LOG_LEVEL", "warn")
	t.Setenv("SYNCVAL_MAX_PROPAGATION_STEPS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, cfg.Level())
	assert.Equal(t, 7, cfg.MaxPropagationSteps)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"unknown key", write("unknown.yaml", "colour: blue\n"), nil},
		{"bad level", write("level.yaml", "log_level: loud\n"), ErrInvalid},
		{"zero steps", write("steps.yaml", "max_propagation_steps: 0\n"), ErrInvalid},
		{"too large", write("large.yaml", "# "+strings.Repeat("x", MaxFileSize)+"\n"), nil},
		{"missing", filepath.Join(dir, "absent.yaml"), os.ErrNotExist},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, err == nil)
		})
	}
}
