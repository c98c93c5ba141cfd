// Package reviewer implements the conditional reviewer adapter from
// spec.md §4.10: invoked pre-build when risk flags fire, it returns a
// proceed/force_patch/ask_question decision or, on any failure, forces a
// patch-mode builder with the error recorded on the report.
package reviewer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/ticklab/runner/pkg/config"
	"github.com/ticklab/runner/pkg/constants"
	"github.com/ticklab/runner/pkg/invoker"
	"github.com/ticklab/runner/pkg/logger"
	"github.com/ticklab/runner/pkg/risk"
	"github.com/ticklab/runner/pkg/types"
)

var log = logger.New("reviewer")

// Decision is the closed set of reviewer verdicts.
type Decision string

const (
	DecisionProceed     Decision = "proceed"
	DecisionForcePatch  Decision = "force_patch"
	DecisionAskQuestion Decision = "ask_question"
)

// rawDecision is the JSON shape the reviewer invoker is expected to emit.
type rawDecision struct {
	Decision Decision        `json:"decision"`
	Question *types.Question `json:"question,omitempty"`
	Reason   string          `json:"reason,omitempty"`
}

// PromptContext carries the placeholders the reviewer prompt template may
// reference.
type PromptContext struct {
	Task     *types.Task
	Flags    []risk.Flag
	Analysis string
}

// Result is the outcome of Run.
type Result struct {
	Decision Decision
	Question *types.Question
	Reason   string
	Err      string // non-empty iff the reviewer itself failed; Decision is forced to force_patch
}

// Run invokes the reviewer. Any failure to read the prompt file, invoke the
// agent, or parse a valid decision forces force_patch with the error
// recorded, per spec.md §4.10.
func Run(ctx context.Context, cfg config.ReviewerConfig, promptCtx PromptContext, inv invoker.Invoker) Result {
	prompt, err := renderPrompt(cfg.PromptPath, promptCtx)
	if err != nil {
		return forced(fmt.Sprintf("reviewer: rendering prompt: %v", err))
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	req := invoker.Request{
		Command: cfg.Invoker.Command,
		Args:    append([]string(nil), cfg.Invoker.Args...),
		Env:     append(os.Environ(), fmt.Sprintf("PROTOCOL=%s", constants.ProtocolVersion), "DRIVER_KIND=reviewer"),
		Timeout: timeout,
		Stdin:   prompt,
	}
	res, err := inv.Invoke(ctx, req)
	if err != nil {
		return forced(fmt.Sprintf("reviewer: invocation failed: %v", err))
	}
	if res.TimedOut {
		return forced("reviewer: invocation timed out")
	}
	if res.ExitCode != 0 {
		return forced(fmt.Sprintf("reviewer: exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)))
	}

	excerpt, ok := extractJSONObject(res.Stdout)
	if !ok {
		return forced("reviewer: no JSON decision object found in output")
	}
	var raw rawDecision
	if err := json.Unmarshal([]byte(excerpt), &raw); err != nil {
		return forced(fmt.Sprintf("reviewer: invalid decision JSON: %v", err))
	}

	switch raw.Decision {
	case DecisionProceed:
		return Result{Decision: DecisionProceed, Reason: raw.Reason}
	case DecisionForcePatch:
		return Result{Decision: DecisionForcePatch, Reason: raw.Reason}
	case DecisionAskQuestion:
		if raw.Question == nil || strings.TrimSpace(raw.Question.Prompt) == "" {
			return forced("reviewer: ask_question decision missing a question payload")
		}
		return Result{Decision: DecisionAskQuestion, Question: raw.Question, Reason: raw.Reason}
	default:
		return forced(fmt.Sprintf("reviewer: invalid decision %q", raw.Decision))
	}
}

func forced(reason string) Result {
	log.Printf("forcing patch mode: %s", reason)
	return Result{Decision: DecisionForcePatch, Err: reason, Reason: reason}
}

func renderPrompt(path string, data PromptContext) (string, error) {
	if path == "" {
		return "", fmt.Errorf("no reviewer prompt_path configured")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(path).Parse(string(raw))
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func extractJSONObject(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		return trimmed, true
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return "", false
	}
	return raw[start : end+1], true
}
