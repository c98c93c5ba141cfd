package gitadapter

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) *Adapter {
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
	return New(dir)
}

func TestHeadAndVerifyClean(t *testing.T) {
	a := initRepo(t)
	ctx := context.Background()

	head, err := a.Head(ctx)
	require.NoError(t, err)
	require.Len(t, head, 40)

	clean, err := a.VerifyClean(ctx)
	require.NoError(t, err)
	require.True(t, clean)
}

func TestAnalyze(t *testing.T) {
	a := initRepo(t)
	ctx := context.Background()
	base, err := a.Head(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(a.Dir, "README.md"), []byte("hello\nworld\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(a.Dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(a.Dir, "src", "new.ts"), []byte("x"), 0o644))

	cmd := exec.Command("git", "add", "README.md")
	cmd.Dir = a.Dir
	require.NoError(t, cmd.Run())
	cmd = exec.Command("git", "commit", "-q", "-m", "edit", "--author=test <test@example.com>")
	cmd.Dir = a.Dir
	require.NoError(t, cmd.Run())

	analysis, err := a.Analyze(ctx, base)
	require.NoError(t, err)
	require.Contains(t, analysis.Paths, "README.md")
	require.Contains(t, analysis.Paths, "src/new.ts")
	require.Contains(t, analysis.NewFiles, "src/new.ts")
	require.Equal(t, 1, analysis.LinesAdded)
}

func TestResetHardAndRemoveUntracked(t *testing.T) {
	a := initRepo(t)
	ctx := context.Background()
	base, err := a.Head(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(a.Dir, "README.md"), []byte("changed\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(a.Dir, "untracked.txt"), []byte("x"), 0o644))

	require.NoError(t, a.ResetHard(ctx, base))
	require.NoError(t, a.RemoveUntracked([]string{"untracked.txt"}))

	clean, err := a.VerifyClean(ctx)
	require.NoError(t, err)
	require.True(t, clean)
}
