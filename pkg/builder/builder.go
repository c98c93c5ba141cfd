// Package builder implements the builder adapter from spec.md §4.9: mode
// dispatch across external-agent and literal-patch builders, each producing
// a schema-validated types.BuilderResult or a typed stop/blocked failure.
package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ticklab/runner/pkg/atomicfs"
	"github.com/ticklab/runner/pkg/config"
	"github.com/ticklab/runner/pkg/constants"
	"github.com/ticklab/runner/pkg/invoker"
	"github.com/ticklab/runner/pkg/logger"
	"github.com/ticklab/runner/pkg/schemavalidate"
	"github.com/ticklab/runner/pkg/scope"
	"github.com/ticklab/runner/pkg/types"
)

var log = logger.New("builder")

// ParseFailureKind is the closed set of builder-result parse failures from
// spec.md §4.9, used to pick STOP_BUILDER_JSON_PARSE / SCHEMA_INVALID /
// SHAPE_INVALID.
type ParseFailureKind string

const (
	ParseFailureNone   ParseFailureKind = ""
	ParseFailureJSON   ParseFailureKind = "json_parse"
	ParseFailureSchema ParseFailureKind = "schema"
	ParseFailureShape  ParseFailureKind = "shape"
)

// Result is the outcome of Run.
type Result struct {
	Success      bool
	Result       *types.BuilderResult
	Code         types.Code
	Error        error
	ParseFailure ParseFailureKind
	Remediation  string
}

// Run dispatches on task.Builder.Mode.
func Run(ctx context.Context, cfg *config.Config, workDir string, task *types.Task, runID string) Result {
	if task.Builder == nil {
		return Result{Error: fmt.Errorf("builder: task has no builder spec")}
	}

	switch task.Builder.Mode {
	case types.BuilderPatch:
		return runPatch(workDir, task)
	case types.BuilderClaudeCode, types.BuilderCursorAgent, types.BuilderExternal:
		return runAgent(ctx, cfg, workDir, task, runID)
	default:
		return Result{
			Code:        types.CodeBlockedMissingConfig,
			Remediation: fmt.Sprintf("unknown builder mode %q; configure builders.%s in tickrun.json", task.Builder.Mode, task.Builder.Mode),
		}
	}
}

func runAgent(ctx context.Context, cfg *config.Config, workDir string, task *types.Task, runID string) Result {
	modeName := string(task.Builder.Mode)
	knobs, ok := cfg.Builders[modeName]
	if !ok || knobs.Invoker.Command == "" {
		return Result{
			Code:        types.CodeBlockedMissingConfig,
			Remediation: fmt.Sprintf("no builders.%s invoker configured in tickrun.json", modeName),
		}
	}

	if !cfg.Autonomy.Allowed(knobs.Invoker.Command) {
		return Result{
			Code:        types.CodeBlockedBuilderModeNotAllowed,
			Remediation: fmt.Sprintf("command %q is not permitted by the %q autonomy profile; adjust allow_command_prefixes/deny_command_prefixes", knobs.Invoker.Command, cfg.Autonomy.Profile),
		}
	}
	if _, err := exec.LookPath(knobs.Invoker.Command); err != nil {
		return Result{
			Code:        types.CodeBlockedBuilderCommandNotFound,
			Remediation: fmt.Sprintf("builder command %q not found on PATH", knobs.Invoker.Command),
		}
	}

	historyDir := filepath.Join(cfg.HistoryDir(), runID)
	if err := os.MkdirAll(historyDir, 0o755); err != nil {
		return Result{Error: fmt.Errorf("builder: creating history dir: %w", err)}
	}

	taskPath := filepath.Join(historyDir, "task.json")
	outputPath := filepath.Join(historyDir, "builder_result.json")
	schemaPath := knobs.SchemaPath
	if schemaPath == "" {
		schemaPath = cfg.Orchestrator.SchemaPath
	}

	if err := atomicfs.WriteJSON(taskPath, task); err != nil {
		return Result{Error: fmt.Errorf("builder: writing task contract file: %w", err)}
	}

	env := append(os.Environ(),
		fmt.Sprintf("PROTOCOL=%s", constants.ProtocolVersion),
		fmt.Sprintf("DRIVER_KIND=%s", modeName),
		fmt.Sprintf("TASK_PATH=%s", taskPath),
		fmt.Sprintf("OUTPUT_PATH=%s", outputPath),
		fmt.Sprintf("SCHEMA_PATH=%s", schemaPath),
	)

	timeout := time.Duration(knobs.TimeoutSeconds) * time.Second
	req := invoker.Request{
		Command: knobs.Invoker.Command,
		Args:    append([]string(nil), knobs.Invoker.Args...),
		Env:     env,
		Dir:     workDir,
		Timeout: timeout,
	}

	inv := invokerFor(knobs)
	res, err := inv.Invoke(ctx, req)
	if err != nil {
		return Result{Error: fmt.Errorf("builder: invoking %s: %w", knobs.Invoker.Command, err)}
	}
	if res.TimedOut {
		return Result{Code: types.CodeStopBuilderTimeout}
	}
	if res.ExitCode != 0 {
		log.Printf("builder %s exited %d: %s", modeName, res.ExitCode, res.Stderr)
		return Result{Code: types.CodeStopBuilderCLIError, Error: fmt.Errorf("builder exited %d: %s", res.ExitCode, res.Stderr)}
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return Result{Code: types.CodeStopBuilderJSONParse, ParseFailure: ParseFailureJSON, Error: fmt.Errorf("builder: reading output file: %w", err)}
	}

	var result types.BuilderResult
	if err := json.Unmarshal(data, &result); err != nil {
		return Result{Code: types.CodeStopBuilderJSONParse, ParseFailure: ParseFailureJSON, Error: err}
	}
	if schemaPath != "" {
		if errs := schemavalidate.ValidateBytes(schemaPath, data); len(errs) > 0 {
			return Result{Code: types.CodeStopBuilderSchemaInvalid, ParseFailure: ParseFailureSchema, Error: fmt.Errorf("%s", strings.Join(errs, "; "))}
		}
	}
	if strings.TrimSpace(result.Summary) == "" {
		return Result{Code: types.CodeStopBuilderShapeInvalid, ParseFailure: ParseFailureShape, Error: fmt.Errorf("builder result missing a non-empty summary")}
	}

	return Result{Success: true, Result: &result}
}

// invokerFor always resolves to the argv invoker: builder modes operate
// under the TASK_PATH/OUTPUT_PATH file contract (§6), which is inherently a
// CLI-agent shape. The native Anthropic SDK backend is reserved for the
// orchestrator and reviewer, which converse over a single prompt/response
// turn instead of driving a sandboxed coding agent loop.
func invokerFor(config.BuilderKnobs) invoker.Invoker {
	return invoker.ArgvInvoker{}
}

// runPatch bundles the safety checks spec.md §4.9 requires before a
// literal patch touches the worktree.
func runPatch(workDir string, task *types.Task) Result {
	patch := task.Builder.Patch
	if strings.TrimSpace(patch) == "" {
		return Result{Code: types.CodeStopPatchInvalidPath, Error: fmt.Errorf("builder: patch mode requires a non-empty patch body")}
	}

	paths, err := patchedPaths(patch)
	if err != nil {
		return Result{Code: types.CodeStopPatchInvalidPath, Error: err}
	}

	for _, p := range paths {
		if filepath.IsAbs(p) || strings.Contains(p, "..") {
			return Result{Code: types.CodeStopPatchInvalidPath, Error: fmt.Errorf("builder: patch touches out-of-workspace path %q", p)}
		}
		full := filepath.Join(workDir, p)
		if info, err := os.Lstat(full); err == nil && info.Mode()&os.ModeSymlink != 0 {
			return Result{Code: types.CodeStopPatchSymlink, Error: fmt.Errorf("builder: patch touches symlink %q", p)}
		}
		if scope.MatchesGlob(p, task.Scope.ForbiddenGlobs) {
			return Result{Code: types.CodeStopPatchScopeViolation, Error: fmt.Errorf("builder: patch touches forbidden path %q", p)}
		}
		if len(task.Scope.AllowedGlobs) > 0 && !scope.MatchesGlob(p, task.Scope.AllowedGlobs) {
			return Result{Code: types.CodeStopPatchScopeViolation, Error: fmt.Errorf("builder: patch touches out-of-scope path %q", p)}
		}
	}

	cmd := exec.Command("git", "apply", "--whitespace=nowarn", "-")
	cmd.Dir = workDir
	cmd.Stdin = strings.NewReader(patch)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Result{Code: types.CodeStopPatchApplyFailed, Error: fmt.Errorf("builder: git apply failed: %w: %s", err, stderr.String())}
	}

	return Result{Success: true, Result: &types.BuilderResult{
		Summary:       task.Intent,
		FilesIntended: paths,
		CommandsRan:   []string{"git apply"},
	}}
}

// patchedPaths extracts the set of paths named in unified-diff "+++ b/..."
// headers (and "--- a/..." for deletions), one entry per distinct path.
func patchedPaths(patch string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	for _, line := range strings.Split(patch, "\n") {
		var p string
		switch {
		case strings.HasPrefix(line, "+++ b/"):
			p = strings.TrimPrefix(line, "+++ b/")
		case strings.HasPrefix(line, "--- a/"):
			p = strings.TrimPrefix(line, "--- a/")
		default:
			continue
		}
		p = strings.TrimSpace(p)
		if p == "" || p == "/dev/null" || seen[p] {
			continue
		}
		seen[p] = true
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("builder: patch names no files")
	}
	return paths, nil
}
