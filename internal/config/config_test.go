package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/chunkstore/internal/config"
)

func TestLoadDefaultsWithNoFileOrEnv(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, config.Defaults(), cfg)
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunkstored.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":9090\"\nbackend: mysql\ntableName: events\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Listen)
	require.Equal(t, "mysql", cfg.Backend)
	require.Equal(t, "events", cfg.TableName)

	t.Setenv("CHUNKSTORED_LISTEN", ":7070")
	cfg, err = config.Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.Listen, "environment variable must win over file value")
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, config.Defaults(), cfg)
}

func TestLoadInvalidIntEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("CHUNKSTORED_SNAPSHOT_CACHE_SIZE", "not-a-number")
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, config.Defaults().SnapshotCacheSize, cfg.SnapshotCacheSize)
}
