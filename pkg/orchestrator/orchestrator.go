// Package orchestrator implements the orchestrator adapter from spec.md
// §4.8: it renders the planning prompts, invokes the external planner
// through an invoker.Invoker, extracts and schema-validates the resulting
// task, and retries once on a parse or schema failure before giving up.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/ticklab/runner/pkg/config"
	"github.com/ticklab/runner/pkg/constants"
	"github.com/ticklab/runner/pkg/gitutil"
	"github.com/ticklab/runner/pkg/invoker"
	"github.com/ticklab/runner/pkg/logger"
	"github.com/ticklab/runner/pkg/schemavalidate"
	"github.com/ticklab/runner/pkg/stringutil"
	"github.com/ticklab/runner/pkg/types"
)

var log = logger.New("orchestrator")

const stdoutExcerptLen = 2000

// PromptContext carries every placeholder the orchestrator prompt templates
// may reference.
type PromptContext struct {
	ProjectGoal             string
	MilestoneID             string
	BudgetSummary           string
	VerificationTemplateIDs []string
	RepoSummary             string
	Facts                   string
	LastReport              *types.Report
	Blocked                 *types.BlockedRecord
}

// Diagnostics carries extraction/validation context for a failed run;
// pkg/tick copies its SchemaErrors and StdoutExcerpt onto the blocked record.
type Diagnostics struct {
	SchemaErrors  []string `json:"schema_errors,omitempty"`
	ExtractMethod string   `json:"extract_method,omitempty"`
	StdoutExcerpt string   `json:"stdout_excerpt,omitempty"`
	JSONExcerpt   string   `json:"json_excerpt,omitempty"`
}

// FailureKind classifies why a run did not produce a usable task.
type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailureTimeout       FailureKind = "timeout"
	FailureInvalidOutput FailureKind = "invalid_output"
	FailureEmptyResult   FailureKind = "empty_result"
)

// Result is the outcome of Run.
type Result struct {
	Success     bool
	Task        *types.Task
	FailureKind FailureKind
	Error       error
	RawResponse string
	RawStderr   string
	Attempts    int
	RetryReason string
	Diagnostics Diagnostics
}

// Run executes the orchestrate phase end to end.
func Run(ctx context.Context, cfg config.OrchestratorKnobs, promptCtx PromptContext, inv invoker.Invoker, schemaPath string) Result {
	systemPrompt, err := renderPromptFile(cfg.SystemPromptPath, promptCtx)
	if err != nil {
		return Result{Error: fmt.Errorf("orchestrator: rendering system prompt: %w", err)}
	}
	userPrompt, err := renderPromptFile(cfg.UserPromptPath, promptCtx)
	if err != nil {
		return Result{Error: fmt.Errorf("orchestrator: rendering user prompt: %w", err)}
	}

	stdin := systemPrompt + "\n\n" + userPrompt
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	res, invErr := invokeOnce(ctx, cfg, inv, stdin, timeout)
	if invErr != nil {
		return Result{Error: invErr, Attempts: 1}
	}
	if res.TimedOut {
		log.Printf("orchestrator call timed out after %s", timeout)
		return Result{FailureKind: FailureTimeout, Attempts: 1, RawStderr: res.Stderr}
	}
	if res.ExitCode == 0 && strings.TrimSpace(res.Stdout) == "" {
		// Empty result with a clean exit usually means the provider failed
		// to authenticate rather than genuinely producing nothing.
		subtype := "unknown"
		if res.Stderr != "" {
			subtype = classifyAuthSubtype(res.Stderr)
		}
		return Result{
			FailureKind: FailureEmptyResult,
			Attempts:    1,
			RawStderr:   res.Stderr,
			Diagnostics: Diagnostics{StdoutExcerpt: subtype},
		}
	}

	task, extractMethod, jsonExcerpt, parseErr := extractTask(res.Stdout)
	if parseErr == nil {
		if schemaErrs := schemavalidate.ValidateBytes(schemaPath, mustMarshal(task)); len(schemaErrs) > 0 {
			parseErr = fmt.Errorf("schema validation failed")
			diagnostics := Diagnostics{SchemaErrors: schemaErrs, ExtractMethod: extractMethod, JSONExcerpt: jsonExcerpt, StdoutExcerpt: stringutil.Truncate(stringutil.SanitizeErrorMessage(res.Stdout), stdoutExcerptLen)}
			return retry(ctx, cfg, promptCtx, inv, schemaPath, stdin, res.Stdout, diagnostics, "schema validation failed", 1)
		}
		if valErr := task.Validate(); valErr != nil {
			diagnostics := Diagnostics{ExtractMethod: extractMethod, JSONExcerpt: jsonExcerpt, StdoutExcerpt: stringutil.Truncate(stringutil.SanitizeErrorMessage(res.Stdout), stdoutExcerptLen)}
			return retry(ctx, cfg, promptCtx, inv, schemaPath, stdin, res.Stdout, diagnostics, valErr.Error(), 1)
		}
		return Result{Success: true, Task: task, RawResponse: res.Stdout, RawStderr: res.Stderr, Attempts: 1}
	}

	diagnostics := Diagnostics{ExtractMethod: extractMethod, StdoutExcerpt: stringutil.Truncate(stringutil.SanitizeErrorMessage(res.Stdout), stdoutExcerptLen)}
	return retry(ctx, cfg, promptCtx, inv, schemaPath, stdin, res.Stdout, diagnostics, parseErr.Error(), 1)
}

// retry re-invokes the orchestrator once with a feedback prompt describing
// the failing excerpt and schema errors, per spec.md §4.8. Two failures
// (the original plus this retry) are terminal: BLOCKED_ORCHESTRATOR_OUTPUT_INVALID.
func retry(ctx context.Context, cfg config.OrchestratorKnobs, promptCtx PromptContext, inv invoker.Invoker, schemaPath, originalStdin, failingOutput string, diag Diagnostics, reason string, attemptsSoFar int) Result {
	log.Printf("retrying orchestrator after failure: %s", reason)
	feedback := fmt.Sprintf(
		"%s\n\nYour previous response could not be used:\n%s\n\nFailing output excerpt:\n%s\n\nRespond again with a single JSON object matching the task schema.",
		originalStdin, reason, stringutil.Truncate(stringutil.SanitizeErrorMessage(failingOutput), stdoutExcerptLen))

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	res, invErr := invokeOnce(ctx, cfg, inv, feedback, timeout)
	attempts := attemptsSoFar + 1
	if invErr != nil {
		return Result{Error: invErr, Attempts: attempts, RetryReason: reason, Diagnostics: diag}
	}
	if res.TimedOut {
		return Result{FailureKind: FailureTimeout, Attempts: attempts, RetryReason: reason, Diagnostics: diag}
	}

	task, extractMethod, jsonExcerpt, parseErr := extractTask(res.Stdout)
	diag.ExtractMethod = extractMethod
	diag.JSONExcerpt = jsonExcerpt
	diag.StdoutExcerpt = stringutil.Truncate(stringutil.SanitizeErrorMessage(res.Stdout), stdoutExcerptLen)
	if parseErr != nil {
		return Result{FailureKind: FailureInvalidOutput, Attempts: attempts, RetryReason: reason, Diagnostics: diag, RawResponse: res.Stdout}
	}
	if schemaErrs := schemavalidate.ValidateBytes(schemaPath, mustMarshal(task)); len(schemaErrs) > 0 {
		diag.SchemaErrors = schemaErrs
		return Result{FailureKind: FailureInvalidOutput, Attempts: attempts, RetryReason: reason, Diagnostics: diag, RawResponse: res.Stdout}
	}
	if valErr := task.Validate(); valErr != nil {
		diag.SchemaErrors = append(diag.SchemaErrors, valErr.Error())
		return Result{FailureKind: FailureInvalidOutput, Attempts: attempts, RetryReason: reason, Diagnostics: diag, RawResponse: res.Stdout}
	}
	return Result{Success: true, Task: task, RawResponse: res.Stdout, RawStderr: res.Stderr, Attempts: attempts, RetryReason: reason}
}

func invokeOnce(ctx context.Context, cfg config.OrchestratorKnobs, inv invoker.Invoker, stdin string, timeout time.Duration) (invoker.Result, error) {
	req := invoker.Request{
		Command: cfg.Invoker.Command,
		Args:    append([]string(nil), cfg.Invoker.Args...),
		Env:     orchestratorEnv(cfg),
		Timeout: timeout,
		Stdin:   stdin,
	}
	return inv.Invoke(ctx, req)
}

func orchestratorEnv(cfg config.OrchestratorKnobs) []string {
	env := os.Environ()
	env = append(env, fmt.Sprintf("PROTOCOL=%s", constants.ProtocolVersion))
	env = append(env, "DRIVER_KIND=orchestrator")
	if cfg.Invoker.Model != "" {
		env = append(env, fmt.Sprintf("MODEL=%s", cfg.Invoker.Model))
	}
	env = append(env, fmt.Sprintf("MAX_TURNS=%d", cfg.MaxTurns))
	env = append(env, fmt.Sprintf("PERMISSION_MODE=%s", cfg.PermissionMode))
	return env
}

func renderPromptFile(path string, data PromptContext) (string, error) {
	if path == "" {
		return "", nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading prompt %s: %w", path, err)
	}
	tmpl, err := template.New(path).Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("parsing prompt template %s: %w", path, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering prompt template %s: %w", path, err)
	}
	return buf.String(), nil
}

// extractTask tries, in order: direct JSON parse of the whole output,
// extraction from a fenced ```json code block, and a longest balanced-brace
// scan over the raw text.
func extractTask(raw string) (*types.Task, string, string, error) {
	trimmed := strings.TrimSpace(raw)

	var task types.Task
	if err := json.Unmarshal([]byte(trimmed), &task); err == nil {
		return &task, "direct", trimmed, nil
	}

	if excerpt, ok := extractFencedJSON(raw); ok {
		if err := json.Unmarshal([]byte(excerpt), &task); err == nil {
			return &task, "fenced_code", excerpt, nil
		}
	}

	if excerpt, ok := longestBalancedBraces(raw); ok {
		if err := json.Unmarshal([]byte(excerpt), &task); err == nil {
			return &task, "balanced_brace_scan", excerpt, nil
		}
	}

	return nil, "none", "", fmt.Errorf("orchestrator: could not extract a JSON task object from output")
}

var fencedCodeRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

func extractFencedJSON(raw string) (string, bool) {
	matches := fencedCodeRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return "", false
	}
	// Prefer the longest fenced block: the orchestrator may emit
	// explanatory fences before the actual task payload.
	best := ""
	for _, m := range matches {
		if len(m[1]) > len(best) {
			best = m[1]
		}
	}
	return strings.TrimSpace(best), best != ""
}

// longestBalancedBraces scans raw for the longest substring that starts and
// ends with matching balanced curly braces, ignoring braces inside string
// literals.
func longestBalancedBraces(raw string) (string, bool) {
	bestStart, bestLen := -1, 0
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range raw {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					length := i - start + 1
					if length > bestLen {
						bestLen = length
						bestStart = start
					}
				}
			}
		}
	}
	if bestStart < 0 {
		return "", false
	}
	return raw[bestStart : bestStart+bestLen], true
}

// classifyAuthSubtype inspects stderr for a recognizable failure subtype
// using gitutil's provider-agnostic credential-error detection, since the
// orchestrator invoker may front any external agent CLI.
func classifyAuthSubtype(stderr string) string {
	if gitutil.IsAuthError(stderr) {
		return "auth_failed"
	}
	lower := strings.ToLower(stderr)
	for _, marker := range []string{"rate limit", "too many requests", "quota exceeded"} {
		if strings.Contains(lower, marker) {
			return "rate_limited"
		}
	}
	if strings.Contains(lower, "connection refused") || strings.Contains(lower, "network unreachable") {
		return "network_error"
	}
	return "unknown"
}

func mustMarshal(t *types.Task) []byte {
	data, err := json.Marshal(t)
	if err != nil {
		// A *types.Task is always marshalable; a failure here means a
		// programming error, not a runtime condition to recover from.
		panic(fmt.Sprintf("orchestrator: marshaling task for schema validation: %v", err))
	}
	return data
}
