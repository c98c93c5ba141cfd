package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_CanonicalName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tickrun.json"), []byte(`{
		"workspace_dir": "${workspace}",
		"require_git": true,
		"runner": {"max_tick_seconds": 60}
	}`), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.WorkspaceDir)
	assert.True(t, cfg.RequireGit)
	assert.Equal(t, 60, cfg.Runner.MaxTickSeconds)
	assert.Equal(t, "lock.json", cfg.Runner.LockfilePath)
	assert.Equal(t, filepath.Join(dir, "lock.json"), cfg.LockPath())
}

func TestLoad_MigratesLegacyName(t *testing.T) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, ".tickrunrc.json")
	require.NoError(t, os.WriteFile(legacy, []byte(`{"workspace_dir": "${workspace}"}`), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.WorkspaceDir)

	_, err = os.Stat(filepath.Join(dir, "tickrun.json"))
	require.NoError(t, err, "canonical config should be written on migration")
}

func TestLoad_MissingConfig(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	require.Error(t, err)
}
