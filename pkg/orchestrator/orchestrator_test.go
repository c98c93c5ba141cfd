package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticklab/runner/pkg/config"
	"github.com/ticklab/runner/pkg/invoker"
)

type fakeInvoker struct {
	results []invoker.Result
	errs    []error
	calls   int
}

func (f *fakeInvoker) Invoke(ctx context.Context, req invoker.Request) (invoker.Result, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], err
	}
	return invoker.Result{}, err
}

func schemaPath(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", "schemas", "task.schema.json")
}

const validTaskJSON = `{
	"id": "t1",
	"milestone_id": "m1",
	"kind": "verify_only",
	"intent": "run tests",
	"scope": {"allowed_globs": [], "forbidden_globs": [], "allow_new_files": false, "allow_lockfile_changes": false},
	"diff_limits": {"max_files": 0, "max_lines": 0},
	"verification": {"fast": ["unit"], "slow": [], "parameters": {}}
}`

func writePromptFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRun_SuccessOnFirstAttempt(t *testing.T) {
	cfg := config.OrchestratorKnobs{
		SystemPromptPath: writePromptFile(t, "system: {{.ProjectGoal}}"),
		UserPromptPath:   writePromptFile(t, "user prompt"),
		TimeoutSeconds:   5,
	}
	inv := &fakeInvoker{results: []invoker.Result{{ExitCode: 0, Stdout: validTaskJSON}}}

	res := Run(context.Background(), cfg, PromptContext{ProjectGoal: "ship feature"}, inv, schemaPath(t))

	require.True(t, res.Success)
	assert.Equal(t, "t1", res.Task.ID)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, inv.calls)
}

func TestRun_ExtractsFromFencedCodeBlock(t *testing.T) {
	cfg := config.OrchestratorKnobs{
		SystemPromptPath: writePromptFile(t, "system"),
		UserPromptPath:   writePromptFile(t, "user"),
		TimeoutSeconds:   5,
	}
	wrapped := "Here is the task:\n```json\n" + validTaskJSON + "\n```\n"
	inv := &fakeInvoker{results: []invoker.Result{{ExitCode: 0, Stdout: wrapped}}}

	res := Run(context.Background(), cfg, PromptContext{}, inv, schemaPath(t))
	require.True(t, res.Success)
	assert.Equal(t, "t1", res.Task.ID)
}

func TestRun_RetriesOnceThenSucceeds(t *testing.T) {
	cfg := config.OrchestratorKnobs{
		SystemPromptPath: writePromptFile(t, "system"),
		UserPromptPath:   writePromptFile(t, "user"),
		TimeoutSeconds:   5,
	}
	inv := &fakeInvoker{results: []invoker.Result{
		{ExitCode: 0, Stdout: "not json at all"},
		{ExitCode: 0, Stdout: validTaskJSON},
	}}

	res := Run(context.Background(), cfg, PromptContext{}, inv, schemaPath(t))
	require.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, inv.calls)
}

func TestRun_FailsAfterOneRetry(t *testing.T) {
	cfg := config.OrchestratorKnobs{
		SystemPromptPath: writePromptFile(t, "system"),
		UserPromptPath:   writePromptFile(t, "user"),
		TimeoutSeconds:   5,
	}
	inv := &fakeInvoker{results: []invoker.Result{
		{ExitCode: 0, Stdout: "garbage"},
		{ExitCode: 0, Stdout: "still garbage"},
	}}

	res := Run(context.Background(), cfg, PromptContext{}, inv, schemaPath(t))
	assert.False(t, res.Success)
	assert.Equal(t, FailureInvalidOutput, res.FailureKind)
	assert.Equal(t, 2, res.Attempts)
}

func TestRun_TimeoutIsTerminalWithoutRetry(t *testing.T) {
	cfg := config.OrchestratorKnobs{
		SystemPromptPath: writePromptFile(t, "system"),
		UserPromptPath:   writePromptFile(t, "user"),
		TimeoutSeconds:   5,
	}
	inv := &fakeInvoker{results: []invoker.Result{{TimedOut: true}}}

	res := Run(context.Background(), cfg, PromptContext{}, inv, schemaPath(t))
	assert.False(t, res.Success)
	assert.Equal(t, FailureTimeout, res.FailureKind)
	assert.Equal(t, 1, inv.calls)
}

func TestRun_EmptyCleanExitIsTerminal(t *testing.T) {
	cfg := config.OrchestratorKnobs{
		SystemPromptPath: writePromptFile(t, "system"),
		UserPromptPath:   writePromptFile(t, "user"),
		TimeoutSeconds:   5,
	}
	inv := &fakeInvoker{results: []invoker.Result{{ExitCode: 0, Stdout: "   "}}}

	res := Run(context.Background(), cfg, PromptContext{}, inv, schemaPath(t))
	assert.False(t, res.Success)
	assert.Equal(t, FailureEmptyResult, res.FailureKind)
}

func TestRun_SchemaInvalidTaskTriggersRetry(t *testing.T) {
	cfg := config.OrchestratorKnobs{
		SystemPromptPath: writePromptFile(t, "system"),
		UserPromptPath:   writePromptFile(t, "user"),
		TimeoutSeconds:   5,
	}
	missingRequired := `{"id": "t1"}`
	inv := &fakeInvoker{results: []invoker.Result{
		{ExitCode: 0, Stdout: missingRequired},
		{ExitCode: 0, Stdout: validTaskJSON},
	}}

	res := Run(context.Background(), cfg, PromptContext{}, inv, schemaPath(t))
	require.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
}
