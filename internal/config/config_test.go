package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Defaults
// =============================================================================

func TestNewPopulatesDefaults(t *testing.T) {
	cfg := New()
	assert.Equal(t, 4096, cfg.Queue.Capacity)
	assert.Equal(t, "0.0.0.0", cfg.HTTP.Host)
	assert.Equal(t, 8787, cfg.HTTP.Port)
	assert.Equal(t, 3, cfg.DocSync.SketchHashes)
}

// =============================================================================
// LoadFile
// =============================================================================

func TestLoadFileOverlaysYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hermes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  host: 127.0.0.1
  port: 9000
queue:
  capacity: 10
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.HTTP.Host)
	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, 10, cfg.Queue.Capacity)
	// Untouched fields keep their defaults.
	assert.Equal(t, "trust", cfg.Trust.AnchorsDir)
}

func TestLoadFileTreatsMissingFileAsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, New().HTTP.Port, cfg.HTTP.Port)
}

// =============================================================================
// normalize
// =============================================================================

func TestNormalizeClampsInvalidQueueCapacity(t *testing.T) {
	cfg := &Config{}
	cfg.normalize()
	assert.Equal(t, 4096, cfg.Queue.Capacity)
	assert.Equal(t, "data", cfg.DataDir)
}

func TestNormalizeClampsBackoffMaxBelowMin(t *testing.T) {
	cfg := New()
	cfg.DocSync.BackoffMin = 500_000_000  // 500ms
	cfg.DocSync.BackoffMax = 100_000_000  // 100ms, below min
	cfg.normalize()
	assert.Equal(t, cfg.DocSync.BackoffMin, cfg.DocSync.BackoffMax)
}
