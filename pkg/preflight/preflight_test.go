package preflight

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init", "-q")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", ".")
	run("commit", "-q", "-m", "initial")
	return dir
}

func writeConfig(t *testing.T, dir string, extra string) {
	t.Helper()
	body := `{"workspace_dir": "${workspace}", "require_git": true` + extra + `}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tickrun.json"), []byte(body), 0o644))
	// tickrun.json is not runner-owned, so it is committed to keep the
	// worktree clean for the cleanliness check.
	for _, args := range [][]string{{"add", "tickrun.json"}, {"commit", "-q", "-m", "config"}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
}

func TestRun_OK(t *testing.T) {
	dir := initRepo(t)
	writeConfig(t, dir, "")

	res := Run(context.Background(), dir)
	require.True(t, res.OK)
	require.Len(t, res.BaseCommit, 40)
}

func TestRun_UnsafeCrashGlobBlocksFailClosed(t *testing.T) {
	dir := initRepo(t)
	writeConfig(t, dir, `, "runner": {"crash_cleanup": {"delete_tmp_glob": "../*.tmp"}}`)

	outside := filepath.Join(filepath.Dir(dir), "stray.tmp")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))
	defer os.Remove(outside)

	res := Run(context.Background(), dir)
	require.False(t, res.OK)
	require.Equal(t, "BLOCKED_CRASH_RECOVERY_REQUIRED", string(res.BlockedCode))

	_, err := os.Stat(outside)
	require.NoError(t, err, "file outside the workspace must never be deleted")
}

func TestRun_DirtyWorktreeBlocks(t *testing.T) {
	dir := initRepo(t)
	writeConfig(t, dir, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dirty.txt"), []byte("x"), 0o644))

	res := Run(context.Background(), dir)
	require.False(t, res.OK)
	require.Equal(t, "BLOCKED_DIRTY_WORKTREE", string(res.BlockedCode))
}

func TestRun_RunnerOwnedDirtIsIgnored(t *testing.T) {
	dir := initRepo(t)
	writeConfig(t, dir, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "STATE.json"), []byte("{}"), 0o644))

	res := Run(context.Background(), dir)
	require.True(t, res.OK)
}

func TestRun_BudgetCapBlocks(t *testing.T) {
	dir := initRepo(t)
	writeConfig(t, dir, `, "budgets": {"max_ticks": 1}`)

	stateData, err := json.Marshal(map[string]any{"budgets": map[string]int{"ticks": 1}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "STATE.json"), stateData, 0o644))

	res := Run(context.Background(), dir)
	require.False(t, res.OK)
	require.Equal(t, "BLOCKED_BUDGET_CAP", string(res.BlockedCode))
}

func TestRun_MissingConfigBlocks(t *testing.T) {
	dir := t.TempDir()
	res := Run(context.Background(), dir)
	require.False(t, res.OK)
	require.Equal(t, "BLOCKED_MISSING_CONFIG", string(res.BlockedCode))
}
