package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommand_HasExpectedSubcommands(t *testing.T) {
	root := NewRootCommand("test")

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}

	assert.True(t, names["tick"])
	assert.True(t, names["loop"])
	assert.True(t, names["status"])
	assert.True(t, names["unlock"])
}

func TestNewRootCommand_WorkspaceFlagDefaultsToCurrentDir(t *testing.T) {
	root := NewRootCommand("test")
	flag := root.PersistentFlags().Lookup("workspace")
	require.NotNil(t, flag)
	assert.Equal(t, ".", flag.DefValue)
}

func writeMinimalConfig(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tickrun.json"), []byte(`{
		"workspace_dir": "${workspace}",
		"runner": {"lockfile_path": "lock.json"}
	}`), 0o644))
}

func TestUnlockCommand_ForceRemovesLockUnconditionally(t *testing.T) {
	dir := t.TempDir()
	writeMinimalConfig(t, dir)
	lockPath := filepath.Join(dir, "lock.json")
	require.NoError(t, os.WriteFile(lockPath, []byte(`{"pid": 999999999, "boot_id": "nonsense"}`), 0o644))

	root := NewRootCommand("test")
	root.SetArgs([]string{"unlock", "--workspace", dir, "--force"})
	require.NoError(t, root.Execute())

	_, err := os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))
}

func TestUnlockCommand_ReclaimsStaleLock(t *testing.T) {
	dir := t.TempDir()
	writeMinimalConfig(t, dir)
	lockPath := filepath.Join(dir, "lock.json")
	// A lock file whose pid cannot possibly be alive: lockmgr's Acquire
	// protocol reclaims it (different/absent owner) without needing --force.
	require.NoError(t, os.WriteFile(lockPath, []byte(`{"pid": 999999999, "boot_id": "nonsense-boot-id"}`), 0o644))

	root := NewRootCommand("test")
	root.SetArgs([]string{"unlock", "--workspace", dir})
	require.NoError(t, root.Execute())

	_, err := os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))
}
