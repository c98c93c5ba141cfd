// Package verify implements the verification runner from spec.md §4.5:
// parameter sanitization, sequential fast-then-slow argv execution with
// per-phase timeouts, and classification of the result.
package verify

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/ticklab/runner/pkg/config"
	"github.com/ticklab/runner/pkg/logger"
	"github.com/ticklab/runner/pkg/types"
)

var log = logger.New("verify")

// TaintedError is returned by SanitizeParams.
type TaintedError struct {
	Param  string
	Reason string
}

func (e *TaintedError) Error() string {
	return fmt.Sprintf("verify: tainted parameter %q: %s", e.Param, e.Reason)
}

// SanitizeParams validates every parameter value before any template is
// executed, per spec.md §4.5: "Sanitize ALL before running ANY."
func SanitizeParams(params map[string]string, cfg config.VerificationConfig) error {
	var metachar *regexp.Regexp
	if cfg.MetacharRegex != "" {
		re, err := regexp.Compile(cfg.MetacharRegex)
		if err != nil {
			return &TaintedError{Param: "<metachar_regex>", Reason: fmt.Sprintf("invalid regex: %v", err)}
		}
		metachar = re
	}

	for name, value := range params {
		if cfg.MaxParamLength > 0 && len(value) > cfg.MaxParamLength {
			return &TaintedError{Param: name, Reason: fmt.Sprintf("length %d exceeds max %d", len(value), cfg.MaxParamLength)}
		}
		if cfg.RejectWhitespace && strings.ContainsAny(value, " \t\n\r") {
			return &TaintedError{Param: name, Reason: "contains whitespace"}
		}
		if cfg.RejectDotDot && strings.Contains(value, "..") {
			return &TaintedError{Param: name, Reason: "contains '..'"}
		}
		if metachar != nil && metachar.MatchString(value) {
			return &TaintedError{Param: name, Reason: "matches forbidden metacharacter pattern"}
		}
	}
	return nil
}

// ResultType is the closed classification for one executed template.
type ResultType string

const (
	ResultPass    ResultType = "PASS"
	ResultFail    ResultType = "FAIL"
	ResultTimeout ResultType = "TIMEOUT"
)

// Phase names which ordered list a template belongs to.
type Phase string

const (
	PhaseFast Phase = "fast"
	PhaseSlow Phase = "slow"
)

// Outcome is the result of Run.
type Outcome struct {
	Records                []types.VerifyRunRecord
	Classification         ResultType
	StopCode               types.Code
	IncrementFailureStreak bool
	Log                    string
}

func substitute(args []string, params map[string]string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		for name, value := range params {
			a = strings.ReplaceAll(a, "{{"+name+"}}", value)
		}
		out[i] = a
	}
	return out
}

func runOne(ctx context.Context, id string, phase Phase, tmpl config.VerifyTemplate, params map[string]string, timeout time.Duration) (types.VerifyRunRecord, string) {
	args := substitute(tmpl.Args, params)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, tmpl.Cmd, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	record := types.VerifyRunRecord{
		Template:   id,
		Phase:      string(phase),
		Cmd:        tmpl.Cmd,
		Args:       tmpl.Args,
		DurationMS: duration.Milliseconds(),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		record.TimedOut = true
		record.ExitCode = 124
		log.Printf("template %s timed out after %s", id, timeout)
		return record, buf.String()
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		record.ExitCode = exitErr.ExitCode()
	} else if err != nil {
		record.ExitCode = -1
	}
	log.Printf("template %s exit=%d duration=%s", id, record.ExitCode, duration)
	return record, buf.String()
}

// Run executes the fast list in order, stopping at the first non-PASS; if
// all fast templates pass, it runs the slow list analogously. Every
// template's command is checked against autonomy's allow/deny command
// prefixes (spec.md §3) before it is allowed to execute.
func Run(ctx context.Context, fast, slow []string, templates map[string]config.VerifyTemplate, params map[string]string, cfg config.VerificationConfig, autonomy config.Autonomy) Outcome {
	var outcome Outcome
	var logBuf strings.Builder

	fastTimeout := time.Duration(cfg.FastTimeoutSeconds) * time.Second
	slowTimeout := time.Duration(cfg.SlowTimeoutSeconds) * time.Second

	runPhase := func(ids []string, phase Phase, timeout time.Duration) (done bool) {
		for _, id := range ids {
			tmpl, ok := templates[id]
			if !ok {
				log.Printf("warn: unknown verification template %q, skipping", id)
				continue
			}
			if !autonomy.Allowed(tmpl.Cmd) {
				outcome.Classification = ResultFail
				outcome.StopCode = types.CodeBlockedBuilderModeNotAllowed
				outcome.IncrementFailureStreak = true
				fmt.Fprintf(&logBuf, "=== %s (%s) ===\nblocked: command %q not permitted by the %q autonomy profile\n", id, phase, tmpl.Cmd, autonomy.Profile)
				return true
			}
			record, out := runOne(ctx, id, phase, tmpl, params, timeout)
			outcome.Records = append(outcome.Records, record)
			fmt.Fprintf(&logBuf, "=== %s (%s) ===\n%s\n", id, phase, out)

			switch {
			case record.TimedOut:
				outcome.Classification = ResultTimeout
				outcome.StopCode = types.CodeStopVerifyFlakyOrTimeout
				outcome.IncrementFailureStreak = true
				return true
			case record.ExitCode != 0:
				outcome.Classification = ResultFail
				if phase == PhaseFast {
					outcome.StopCode = types.CodeStopVerifyFailedFast
				} else {
					outcome.StopCode = types.CodeStopVerifyFailedSlow
				}
				outcome.IncrementFailureStreak = true
				return true
			}
		}
		return false
	}

	if runPhase(fast, PhaseFast, fastTimeout) {
		outcome.Log = logBuf.String()
		return outcome
	}
	if runPhase(slow, PhaseSlow, slowTimeout) {
		outcome.Log = logBuf.String()
		return outcome
	}

	outcome.Classification = ResultPass
	outcome.Log = logBuf.String()
	return outcome
}

// ClassifyVerifyResult implements the TIMEOUT > FAIL > PASS priority from
// spec.md §4.6, independent of Run, for callers that already have an
// exit-code/timed-out pair (e.g. replaying history).
func ClassifyVerifyResult(exitCode int, timedOut bool, phase Phase) (ResultType, types.Code, bool) {
	if timedOut {
		return ResultTimeout, types.CodeStopVerifyFlakyOrTimeout, true
	}
	if exitCode != 0 {
		if phase == PhaseFast {
			return ResultFail, types.CodeStopVerifyFailedFast, true
		}
		return ResultFail, types.CodeStopVerifyFailedSlow, true
	}
	return ResultPass, "", false
}
