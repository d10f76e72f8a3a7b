package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()
	assert.Equal(t, int64(10*1024*1024), cfg.Detector.MaxTextSize)
	assert.Equal(t, 0.05, cfg.Detector.MaxNonPrintableRatio)
	assert.Equal(t, 10*1024, cfg.Detector.MaxLineLength)
	assert.Equal(t, 7*24*time.Hour, cfg.ContentGC.IdleThreshold)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Operation)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "/.tarbox", cfg.Hooks.Prefix)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tarbox.yaml")
	content := `
store:
  path: /var/lib/tarbox/state.db
  max_open_conns: 16
detector:
  max_text_size: 1048576
timeouts:
  operation: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/tarbox/state.db", cfg.Store.Path)
	assert.Equal(t, 16, cfg.Store.MaxOpenConns)
	assert.Equal(t, int64(1048576), cfg.Detector.MaxTextSize)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Operation)
	// Untouched sections keep defaults.
	assert.Equal(t, 0.05, cfg.Detector.MaxNonPrintableRatio)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TARBOX_DB_PATH", "/tmp/env.db")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.Store.Path)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Configuration)
	}{
		{"empty store path", func(c *Configuration) { c.Store.Path = "" }},
		{"zero open conns", func(c *Configuration) { c.Store.MaxOpenConns = 0 }},
		{"zero text size", func(c *Configuration) { c.Detector.MaxTextSize = 0 }},
		{"ratio out of range", func(c *Configuration) { c.Detector.MaxNonPrintableRatio = 1.5 }},
		{"zero line length", func(c *Configuration) { c.Detector.MaxLineLength = 0 }},
		{"zero idle threshold", func(c *Configuration) { c.ContentGC.IdleThreshold = 0 }},
		{"zero operation timeout", func(c *Configuration) { c.Timeouts.Operation = 0 }},
		{"relative hook prefix", func(c *Configuration) { c.Hooks.Prefix = "tarbox" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
