package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesOnlyNamedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gitvcsd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache:
  max_repositories: 10
watcher:
  debounce_ms: 1000
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Cache.MaxRepositories)
	assert.Equal(t, 1000, cfg.Watcher.DebounceMs)
	// Untouched fields keep their defaults.
	assert.Equal(t, Default().Bus.ServiceName, cfg.Bus.ServiceName)
	assert.Equal(t, Default().Emblem.EmptyDirDepthCap, cfg.Emblem.EmptyDirDepthCap)
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, int64(500), cfg.Watcher.Debounce().Milliseconds())
	assert.Equal(t, int64(10000), cfg.Worker.ScanTimeout().Milliseconds())
	assert.Equal(t, int64(5*60*1000), cfg.Cache.CleanupInterval().Milliseconds())
}
