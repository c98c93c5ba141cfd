// Package tick implements the tick state machine from spec.md §4.11: the
// single deterministic LOCK → PREFLIGHT → ORCHESTRATE → BUILD → JUDGE →
// VERIFY → REPORT → END pipeline that produces exactly one REPORT.json per
// invocation.
package tick

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/hashstructure/v2"

	"github.com/ticklab/runner/pkg/atomicfs"
	"github.com/ticklab/runner/pkg/builder"
	"github.com/ticklab/runner/pkg/config"
	"github.com/ticklab/runner/pkg/gitadapter"
	"github.com/ticklab/runner/pkg/history"
	"github.com/ticklab/runner/pkg/invoker"
	"github.com/ticklab/runner/pkg/lockmgr"
	"github.com/ticklab/runner/pkg/logger"
	"github.com/ticklab/runner/pkg/orchestrator"
	"github.com/ticklab/runner/pkg/preflight"
	"github.com/ticklab/runner/pkg/report"
	"github.com/ticklab/runner/pkg/reviewer"
	"github.com/ticklab/runner/pkg/risk"
	"github.com/ticklab/runner/pkg/scope"
	"github.com/ticklab/runner/pkg/state"
	"github.com/ticklab/runner/pkg/stringutil"
	"github.com/ticklab/runner/pkg/types"
	"github.com/ticklab/runner/pkg/verify"
)

var log = logger.New("tick")

// OrchestratorStopPrefix marks a report's TaskSummary as carrying an
// orchestrator-requested stop reason (control.action=stop), distinguishing
// it from an ordinary successful build for the loop driver's task/milestone
// mode "orchestrator signaled completion" check.
const OrchestratorStopPrefix = "orchestrator requested stop: "

// PromptInputs carries the ambient facts the orchestrator prompt wants that
// only the caller (loop driver / CLI) has context for, mirroring spec.md
// §4.8's interpolation list (project goal, repo summary).
type PromptInputs struct {
	ProjectGoal string
	RepoSummary string
}

// Run executes exactly one tick against the workspace at cfg.WorkspaceDir
// and returns the report it produced. The returned error is always nil on
// the documented paths; it is reserved for truly unrecoverable conditions
// the phases below cannot themselves turn into a blocked report.
func Run(ctx context.Context, cfg *config.Config, prompts PromptInputs) (*types.Report, error) {
	runID := generateRunID()
	startedAt := time.Now().UTC()
	log.Printf("tick %s starting", runID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	interrupted := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			close(interrupted)
		case <-ctx.Done():
		}
	}()

	lk, lockErr := lockmgr.Acquire(cfg.LockPath())
	if lockErr != nil {
		reason := lockErr.Error()
		remediation := "wait for the other tickrun process to finish, or remove a stale lock.json"
		writeBlockedRecord(cfg, types.CodeBlockedLockHeld, reason, remediation)
		return blockedReport(runID, startedAt, types.CodeBlockedLockHeld, reason), nil
	}
	defer lk.Release()

	tickCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Runner.MaxTickSeconds)*time.Second)
	defer cancel()

	go func() {
		select {
		case <-interrupted:
			cancel()
		case <-tickCtx.Done():
		}
	}()

	r := &runner{cfg: cfg, runID: runID, startedAt: startedAt, prompts: prompts, interrupted: interrupted}
	rep := r.execute(tickCtx, interrupted)
	return rep, nil
}

// runner bundles the mutable state threaded through one tick's phases; it
// is discarded at END per spec.md §3's TickState lifecycle.
type runner struct {
	cfg       *config.Config
	runID     string
	startedAt time.Time
	prompts   PromptInputs

	baseCommit     string
	task           *types.Task
	st             *state.WorkspaceState
	expectedBranch string
	interrupted    <-chan struct{}
}

func (r *runner) execute(ctx context.Context, interrupted <-chan struct{}) *types.Report {
	select {
	case <-interrupted:
		return r.finish(r.interruptedReport())
	default:
	}

	// PREFLIGHT: the lock was already acquired by Run, so check 6 degrades
	// to a no-op inside RunWithConfig.
	pf := preflight.RunWithConfig(ctx, r.cfg, true)
	if !pf.OK {
		return r.finish(r.blockedFromPreflight(pf))
	}
	r.baseCommit = pf.BaseCommit

	st, err := state.Load(r.cfg)
	if err != nil {
		return r.finish(r.blocked(types.CodeBlockedCrashRecoveryRequired, err.Error(), "inspect STATE.json"))
	}
	r.st = st

	git := gitadapter.New(r.cfg.WorkspaceDir)

	// ORCHESTRATE
	orchRes := r.orchestrate(ctx)
	r.st.Budgets.OrchestratorCalls++
	if rep := r.reportFromOrchestrate(orchRes); rep != nil {
		return r.finish(rep)
	}
	r.task = orchRes.Task

	// Budgets are per-milestone caps (spec.md §3); whenever the orchestrator
	// moves to a new milestone, its counters start fresh regardless of which
	// loop mode is driving this tick. The departing milestone's ledger is
	// archived first so autonomous-mode runs never lose budget history.
	if r.task.MilestoneID != r.st.MilestoneID {
		departing := r.st.MilestoneID
		if err := history.ArchiveMilestone(r.cfg, departing, r.st); err != nil {
			log.Printf("warn: failed to archive milestone %q: %v", departing, err)
		}
		r.st.EnsureMilestone(r.task.MilestoneID)
		log.Printf("milestone changed from %q to %q; budget counters reset", departing, r.task.MilestoneID)
	}

	if r.task.Control != nil && r.task.Control.Action == types.ControlStop {
		rep := r.baseReport(types.VerdictSuccess, types.CodeSuccess)
		rep.TaskSummary = OrchestratorStopPrefix + r.task.Control.Reason
		return r.finish(rep)
	}
	if r.task.Kind == types.TaskQuestion {
		// A question task is side-effect free by construction (no BUILD
		// dispatch follows); confirm HEAD genuinely did not move before
		// reporting it as an ordinary question stop.
		if head, err := git.Head(ctx); err == nil && head != r.baseCommit {
			rep := r.baseReport(types.VerdictStop, types.CodeStopQuestionSideEffects)
			rep.TaskSummary = "question task caused the worktree HEAD to move"
			rep.HeadCommit = head
			return r.finish(rep)
		}
		rep := r.baseReport(types.VerdictStop, types.CodeStopOrchestratorAskQuestion)
		rep.TaskSummary = r.task.Question.Prompt
		return r.finish(rep)
	}

	fp, fpErr := fingerprint(r.task)
	if fpErr == nil && fp != "" && fp == r.st.LastFailedFingerprint && r.cfg.Runner.MaxRedispatch <= 1 {
		rep := r.baseReport(types.VerdictStop, types.CodeStopRedispatchIdenticalTask)
		rep.TaskSummary = "orchestrator redispatched a task identical to the last one that failed"
		return r.finish(rep)
	}

	if r.task.Kind == types.TaskVerifyOnly {
		return r.finish(r.runVerifyOnly(ctx, git))
	}

	// A prior reviewer force_patch decision constrains every subsequent
	// execute task to patch-mode builder input until a PASS clears the flag.
	if r.st.ForcePatch && r.task.Builder != nil && r.task.Builder.Mode != types.BuilderPatch {
		rep := r.baseReport(types.VerdictStop, types.CodeStopReviewerForcedPatch)
		rep.TaskSummary = fmt.Sprintf("force-patch guardrail is active: builder mode %q is not allowed until a patch-mode task passes verification", r.task.Builder.Mode)
		return r.finish(rep)
	}

	// PRE-BUILD RISK (execute tasks only; no diff exists yet)
	preFlags := risk.ComputeFlags(risk.Input{
		TaskLimits:     r.task.DiffLimits,
		TaskScope:      r.task.Scope,
		ReviewerConfig: r.cfg.Reviewer,
		StopHistory:    r.st.StopHistory,
		CurrentTick:    r.st.Budgets.Ticks,
		BudgetWarning:  r.st.BudgetWarning,
	})
	if risk.ShouldTriggerReviewer(r.cfg.Reviewer, preFlags) {
		inv := invoker.Resolve(r.cfg.Reviewer.Invoker.Command, r.cfg.Reviewer.Invoker.Model)
		rev := reviewer.Run(ctx, r.cfg.Reviewer, reviewer.PromptContext{Task: r.task, Flags: preFlags}, inv)
		switch rev.Decision {
		case reviewer.DecisionAskQuestion:
			rep := r.baseReport(types.VerdictStop, types.CodeStopReviewerAskQuestion)
			if rev.Question != nil {
				rep.TaskSummary = rev.Question.Prompt
			}
			rep.ReviewerErr = rev.Err
			return r.finish(rep)
		case reviewer.DecisionForcePatch:
			r.st.ForcePatch = true
			rep := r.baseReport(types.VerdictStop, types.CodeStopReviewerForcedPatch)
			rep.ReviewerErr = rev.Err
			rep.TaskSummary = rev.Reason
			return r.finish(rep)
		case reviewer.DecisionProceed:
			// continue to optional branching / BUILD
		}
	}

	// OPTIONAL BRANCHING
	if r.cfg.Runner.BranchMode == "per_tick" {
		branchName := fmt.Sprintf("tickrun/%s", sanitizeBranchComponent(r.task.ID))
		if err := checkoutBranch(ctx, git, branchName); err != nil {
			return r.finish(r.blocked(types.CodeBlockedBranchFailed, err.Error(), "resolve the branch conflict manually and re-run"))
		}
		r.expectedBranch = branchName
	}

	// BUILD
	buildRes := builder.Run(ctx, r.cfg, r.cfg.WorkspaceDir, r.task, r.runID)
	r.st.Budgets.BuilderCalls++
	if !buildRes.Success {
		code := buildRes.Code
		if code == "" {
			code = types.CodeStopBuilderCLIError
		}
		reason := ""
		if buildRes.Error != nil {
			reason = buildRes.Error.Error()
		}
		if strings.HasPrefix(string(code), "BLOCKED_") {
			return r.finish(r.blocked(code, reason, buildRes.Remediation))
		}
		r.st.FailureStreak++
		rep := r.baseReport(types.VerdictStop, code)
		rep.TaskSummary = reason
		return r.finish(rep)
	}

	// JUDGE + VERIFY
	return r.finish(r.judgeAndVerify(ctx, git))
}

func (r *runner) orchestrate(ctx context.Context) orchestrator.Result {
	inv := invoker.Resolve(r.cfg.Orchestrator.Invoker.Command, r.cfg.Orchestrator.Invoker.Model)
	var lastReport *types.Report
	var blocked *types.BlockedRecord
	if data, err := os.ReadFile(r.cfg.ReportJSONPath()); err == nil {
		var rep types.Report
		if json.Unmarshal(data, &rep) == nil {
			lastReport = &rep
		}
	}
	if data, err := os.ReadFile(r.cfg.BlockedPath()); err == nil {
		var br types.BlockedRecord
		if json.Unmarshal(data, &br) == nil {
			blocked = &br
		}
	}
	facts, _ := os.ReadFile(r.cfg.FactsPath())

	verificationIDs := make([]string, 0, len(r.cfg.Verification.Templates))
	for id := range r.cfg.Verification.Templates {
		verificationIDs = append(verificationIDs, id)
	}

	pctx := orchestrator.PromptContext{
		ProjectGoal:             r.prompts.ProjectGoal,
		MilestoneID:             r.st.MilestoneID,
		BudgetSummary:           budgetSummary(r.st, r.cfg.Budgets),
		VerificationTemplateIDs: verificationIDs,
		RepoSummary:             r.prompts.RepoSummary,
		Facts:                   string(facts),
		LastReport:              lastReport,
		Blocked:                 blocked,
	}
	return orchestrator.Run(ctx, r.cfg.Orchestrator, pctx, inv, r.cfg.Orchestrator.SchemaPath)
}

func (r *runner) reportFromOrchestrate(res orchestrator.Result) *types.Report {
	if res.Success {
		return nil
	}
	if res.FailureKind == orchestrator.FailureTimeout {
		rep := r.baseReport(types.VerdictStop, types.CodeStopOrchestratorTimeout)
		rep.TaskSummary = "orchestrator invocation exceeded its timeout"
		return rep
	}
	if res.Error != nil {
		return r.blocked(types.CodeBlockedTransportStalled, res.Error.Error(),
			"check network connectivity to the orchestrator invoker and retry")
	}
	// FailureEmptyResult or FailureInvalidOutput (after one retry): both are
	// terminal per spec.md §4.8.
	reason := "orchestrator produced no usable task after retry"
	if res.RetryReason != "" {
		reason = fmt.Sprintf("orchestrator output invalid after retry: %s", res.RetryReason)
	}
	diag := &types.Diagnostics{SchemaErrors: res.Diagnostics.SchemaErrors, StdoutExcerpt: res.Diagnostics.StdoutExcerpt}
	r.writeBlockedWithDiagnostics(types.CodeBlockedOrchestratorOutputInvalid, reason,
		"inspect the orchestrator's raw output and prompts; adjust the system prompt or schema", diag)
	rep := r.baseReport(types.VerdictBlocked, types.CodeBlockedOrchestratorOutputInvalid)
	rep.TaskSummary = reason
	return rep
}

func (r *runner) runVerifyOnly(ctx context.Context, git *gitadapter.Adapter) *types.Report {
	outcome := r.runVerification(ctx)
	r.st.Budgets.VerifyRuns++
	logPath := r.persistVerifyLog(outcome)
	if strings.HasPrefix(string(outcome.StopCode), "BLOCKED_") {
		return r.blocked(outcome.StopCode, outcome.Log, "adjust autonomy command prefixes or verification templates in tickrun.json")
	}
	head, _ := git.Head(ctx)
	if head != r.baseCommit {
		rep := r.baseReport(types.VerdictStop, types.CodeStopVerifyOnlySideEffects)
		rep.TaskSummary = "verify_only task caused the worktree HEAD to move"
		return rep
	}
	r.st.RecordVerify(r.st.Budgets.Ticks, outcome.Classification == verify.ResultPass)
	if outcome.Classification != verify.ResultPass {
		r.st.FailureStreak++
		esc := risk.ShouldEscalate(r.st.FailureStreak, r.cfg.Reviewer.Enabled)
		r.st.Escalation = state.Escalation{Active: esc.Escalate, Mode: string(esc.Mode), Reason: esc.Reason}
		rep := r.baseReport(types.VerdictStop, outcome.StopCode)
		rep.Verification = verificationSummary(outcome, logPath)
		return rep
	}
	r.st.FailureStreak = 0
	rep := r.baseReport(types.VerdictSuccess, types.CodeSuccess)
	rep.Verification = verificationSummary(outcome, logPath)
	rep.HeadCommit = head
	return rep
}

func (r *runner) judgeAndVerify(ctx context.Context, git *gitadapter.Adapter) *types.Report {
	head, err := git.Head(ctx)
	if err != nil {
		return r.blocked(types.CodeBlockedRollbackFailed, err.Error(), "inspect the worktree manually")
	}

	analysis, err := git.Analyze(ctx, r.baseCommit)
	if err != nil {
		return r.blocked(types.CodeBlockedRollbackFailed, err.Error(), "inspect the worktree manually")
	}
	patchPath := r.persistDiffPatch(ctx, git)

	// Runner artifacts (STATE.json, REPORT.json, history/**) are untracked
	// by design and legitimately dirty between ticks; those are the runner's
	// own writes, not part of the builder's diff. Pruning them first also
	// keeps rollback from deleting the runner's own per-run artifacts.
	pruneRunnerOwned(analysis, r.cfg.Runner.RunnerOwnedGlobs)

	// The builder must leave its diff uncommitted; a moved HEAD means it
	// rewrote history underneath the judge.
	if scope.CheckHeadMoved(r.baseCommit, head) {
		reason := fmt.Sprintf("HEAD moved from %s to %s during BUILD", r.baseCommit, head)
		return r.rollbackAndReport(ctx, git, types.CodeStopHeadMoved, reason, analysis, patchPath)
	}

	// A tracked change to a runner-owned path means the builder tampered
	// with a committed runner file.
	for _, p := range analysis.TrackedPaths {
		if scope.MatchesGlob(p, r.cfg.Runner.RunnerOwnedGlobs) {
			reason := fmt.Sprintf("builder diff touched runner-owned path %q", p)
			return r.rollbackAndReport(ctx, git, types.CodeStopRunnerOwnedMutation, reason, analysis, patchPath)
		}
	}

	untracked, _ := git.TouchedUntracked(ctx)
	scopeResult := scope.CheckScope(analysis.Paths, untracked, r.task.Scope, r.cfg.Scope.LockfileNames)
	if !scopeResult.OK {
		code := scopeViolationCode(scopeResult.Violations[0].Kind)
		return r.rollbackAndReport(ctx, git, code, firstViolationMessage(scopeResult), analysis, patchPath)
	}

	limitViolations := scope.CheckDiffLimits(analysis, r.task.DiffLimits)
	if len(limitViolations) > 0 {
		msgs := make([]string, 0, len(limitViolations))
		for _, v := range limitViolations {
			msgs = append(msgs, v.String())
		}
		return r.rollbackAndReport(ctx, git, types.CodeStopDiffTooLarge, strings.Join(msgs, "; "), analysis, patchPath)
	}

	// VERIFY
	outcome := r.runVerification(ctx)
	r.st.Budgets.VerifyRuns++
	logPath := r.persistVerifyLog(outcome)
	if strings.HasPrefix(string(outcome.StopCode), "BLOCKED_") {
		return r.blocked(outcome.StopCode, outcome.Log, "adjust autonomy command prefixes or verification templates in tickrun.json")
	}
	r.st.RecordVerify(r.st.Budgets.Ticks, outcome.Classification == verify.ResultPass)

	blastRadius := blastRadiusFrom(analysis)
	scopeReport := types.ScopeResult{OK: true, Touched: analysis.Paths}
	diff := diffSummaryFrom(analysis, patchPath)

	if outcome.Classification != verify.ResultPass {
		if outcome.IncrementFailureStreak {
			r.st.FailureStreak++
		}
		esc := risk.ShouldEscalate(r.st.FailureStreak, r.cfg.Reviewer.Enabled)
		r.st.Escalation = state.Escalation{Active: esc.Escalate, Mode: string(esc.Mode), Reason: esc.Reason}
		if esc.Escalate {
			if fp, err := fingerprint(r.task); err == nil {
				r.st.LastFailedFingerprint = fp
			}
		}
		rep := r.baseReport(types.VerdictStop, outcome.StopCode)
		rep.HeadCommit = head
		rep.BlastRadius = blastRadius
		rep.Scope = scopeReport
		rep.Diff = diff
		rep.Verification = verificationSummary(outcome, logPath)
		return rep
	}

	// MERGE READINESS: a clean successful verify is not yet mergeable if the
	// worktree carries changes the diff analysis above didn't account for,
	// or if there is no verify-history evidence backing the result.
	ignore := func(path string) bool {
		if scope.MatchesGlob(path, r.cfg.Runner.RunnerOwnedGlobs) {
			return true
		}
		for _, p := range analysis.Paths {
			if p == path {
				return true
			}
		}
		return false
	}
	if r.expectedBranch != "" {
		if current, branchErr := git.Branch(ctx); branchErr == nil && current != r.expectedBranch {
			rep := r.baseReport(types.VerdictStop, types.CodeStopBranchMismatch)
			rep.TaskSummary = fmt.Sprintf("worktree is on branch %q, expected %q", current, r.expectedBranch)
			rep.HeadCommit = head
			rep.BlastRadius = blastRadius
			rep.Scope = scopeReport
			rep.Diff = diff
			rep.Verification = verificationSummary(outcome, logPath)
			return rep
		}
	}
	if clean, _, cleanErr := git.Clean(ctx, ignore); cleanErr == nil && !clean {
		rep := r.baseReport(types.VerdictStop, types.CodeStopMergeDirtyWorktree)
		rep.TaskSummary = "worktree carries changes outside the analyzed diff after a successful verify"
		rep.HeadCommit = head
		rep.BlastRadius = blastRadius
		rep.Scope = scopeReport
		rep.Diff = diff
		rep.Verification = verificationSummary(outcome, logPath)
		return rep
	}
	if eligible, reasons := risk.MergeEligible(r.st.HasPassInHistory(), diff.FilesChanged); !eligible {
		rep := r.baseReport(types.VerdictStop, types.CodeStopEvidenceIncomplete)
		rep.TaskSummary = strings.Join(reasons, "; ")
		rep.HeadCommit = head
		rep.BlastRadius = blastRadius
		rep.Scope = scopeReport
		rep.Diff = diff
		rep.Verification = verificationSummary(outcome, logPath)
		return rep
	}

	r.st.FailureStreak = 0
	r.st.ForcePatch = false
	r.st.Escalation = state.Escalation{}
	rep := r.baseReport(types.VerdictSuccess, types.CodeSuccess)
	rep.HeadCommit = head
	rep.BlastRadius = blastRadius
	rep.Scope = scopeReport
	rep.Diff = diff
	rep.Verification = verificationSummary(outcome, logPath)
	return rep
}

func (r *runner) rollbackAndReport(ctx context.Context, git *gitadapter.Adapter, code types.Code, reason string, analysis *gitadapter.Analysis, patchPath string) *types.Report {
	log.Printf("rolling back to %s after %s: %s", r.baseCommit, code, reason)

	if err := git.ResetHard(ctx, r.baseCommit); err != nil {
		return r.blocked(types.CodeBlockedRollbackFailed, err.Error(), "inspect the worktree manually; a rollback to base_commit failed")
	}
	if err := git.RemoveUntracked(analysis.NewFiles); err != nil {
		return r.blocked(types.CodeBlockedRollbackFailed, err.Error(), "inspect the worktree manually; removing untracked build artifacts failed")
	}
	// The runner's own artifacts are expected dirt; everything else must be
	// bitwise back at base_commit.
	clean, _, err := git.Clean(ctx, func(p string) bool {
		return scope.MatchesGlob(p, r.cfg.Runner.RunnerOwnedGlobs)
	})
	if err != nil {
		return r.blocked(types.CodeBlockedRollbackFailed, err.Error(), "inspect the worktree manually")
	}
	if !clean {
		return r.blocked(types.CodeBlockedRollbackDirty, "worktree is not clean after rollback", "inspect the worktree manually; remnants remain after rollback")
	}

	r.st.FailureStreak++

	rep := r.baseReport(types.VerdictStop, code)
	rep.TaskSummary = reason
	rep.BlastRadius = blastRadiusFrom(analysis)
	rep.Scope = types.ScopeResult{OK: false, Violations: []string{reason}, Touched: analysis.Paths}
	rep.Diff = diffSummaryFrom(analysis, patchPath)
	rep.HeadCommit = r.baseCommit
	return rep
}

// persistDiffPatch writes the unified diff between base_commit and the worktree to
// history/<run_id>/diff.patch, returning its path for types.DiffSummary's
// patch_path (spec.md §3), or "" if there is nothing to write.
func (r *runner) persistDiffPatch(ctx context.Context, git *gitadapter.Adapter) string {
	patch, err := git.Patch(ctx, r.baseCommit)
	if err != nil || strings.TrimSpace(patch) == "" {
		return ""
	}
	path := filepath.Join(r.cfg.HistoryDir(), r.runID, "diff.patch")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Printf("warn: failed to create diff patch dir: %v", err)
		return ""
	}
	if err := os.WriteFile(path, []byte(patch), 0o644); err != nil {
		log.Printf("warn: failed to write diff patch: %v", err)
		return ""
	}
	return path
}

// persistVerifyLog writes the aggregated verify log to
// history/<run_id>/verify.log, returning its path for
// types.VerificationSummary's log_path (spec.md §4.5), or "" if there is
// nothing to write. The log is sanitized before it ever touches disk, since
// it may embed raw command output.
func (r *runner) persistVerifyLog(o verify.Outcome) string {
	if strings.TrimSpace(o.Log) == "" {
		return ""
	}
	path := filepath.Join(r.cfg.HistoryDir(), r.runID, "verify.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Printf("warn: failed to create verify log dir: %v", err)
		return ""
	}
	sanitized := stringutil.NormalizeWhitespace(stringutil.SanitizeErrorMessage(o.Log))
	if err := os.WriteFile(path, []byte(sanitized), 0o644); err != nil {
		log.Printf("warn: failed to write verify log: %v", err)
		return ""
	}
	return path
}

func (r *runner) runVerification(ctx context.Context) verify.Outcome {
	params := make(map[string]string, len(r.task.Verify.Parameters))
	for k, v := range r.task.Verify.Parameters {
		params[k] = v
	}
	if saniErr := verify.SanitizeParams(params, r.cfg.Verification); saniErr != nil {
		return verify.Outcome{Classification: verify.ResultFail, StopCode: types.CodeStopVerifyTainted, Log: saniErr.Error(), IncrementFailureStreak: true}
	}
	return verify.Run(ctx, r.task.Verify.Fast, r.task.Verify.Slow, r.cfg.Verification.Templates, params, r.cfg.Verification, r.cfg.Autonomy)
}

// baseReport seeds the fields common to every report kind.
func (r *runner) baseReport(verdict types.Verdict, code types.Code) *types.Report {
	return &types.Report{
		RunID:      r.runID,
		StartedAt:  r.startedAt,
		BaseCommit: r.baseCommit,
		HeadCommit: r.baseCommit,
		Verdict:    verdict,
		Code:       code,
		ExecMode:   types.ExecMode,
	}
}

func (r *runner) blocked(code types.Code, reason, remediation string) *types.Report {
	r.writeBlockedWithDiagnostics(code, reason, remediation, nil)
	rep := r.baseReport(types.VerdictBlocked, code)
	rep.TaskSummary = reason
	return rep
}

func (r *runner) blockedFromPreflight(pf preflight.Result) *types.Report {
	r.writeBlockedWithDiagnostics(pf.BlockedCode, pf.Reason, pf.Remediation, nil)
	return &types.Report{
		RunID:     r.runID,
		StartedAt: r.startedAt,
		Verdict:   types.VerdictBlocked,
		Code:      pf.BlockedCode,
		ExecMode:  types.ExecMode,
	}
}

func (r *runner) interruptedReport() *types.Report {
	return &types.Report{
		RunID:     r.runID,
		StartedAt: r.startedAt,
		Verdict:   types.VerdictStop,
		Code:      types.CodeStopInterrupted,
		ExecMode:  types.ExecMode,
	}
}

func (r *runner) writeBlockedWithDiagnostics(code types.Code, reason, remediation string, diag *types.Diagnostics) {
	writeBlockedRecordFull(r.cfg, code, reason, remediation, diag)
}

func writeBlockedRecord(cfg *config.Config, code types.Code, reason, remediation string) {
	writeBlockedRecordFull(cfg, code, reason, remediation, nil)
}

func writeBlockedRecordFull(cfg *config.Config, code types.Code, reason, remediation string, diag *types.Diagnostics) {
	if remediation == "" {
		remediation = defaultRemediation(code)
	}
	br := types.BlockedRecord{
		BlockedAt:   time.Now().UTC(),
		Code:        code,
		Reason:      reason,
		Remediation: remediation,
		Diagnostics: diag,
	}
	if err := atomicfs.WriteJSON(cfg.BlockedPath(), br); err != nil {
		log.Printf("warn: failed to write BLOCKED.json: %v", err)
	}
}

// finish composes final timing fields, writes REPORT.json/.md, updates and
// persists WorkspaceState, and clears a stale BLOCKED.json on any non-blocked
// verdict. It is the single exit point for every phase.
func (r *runner) finish(rep *types.Report) *types.Report {
	rep.EndedAt = time.Now().UTC()
	rep.DurationMS = rep.EndedAt.Sub(rep.StartedAt).Milliseconds()

	// A signal that arrived mid-phase surfaces as whatever failure the phase
	// turned the canceled context into; the canonical record for an
	// interrupted tick is STOP_INTERRUPTED. Blocked verdicts keep their code:
	// they describe workspace state the next tick must still see.
	if r.interrupted != nil && rep.Verdict != types.VerdictBlocked {
		select {
		case <-r.interrupted:
			rep.Verdict = types.VerdictStop
			rep.Code = types.CodeStopInterrupted
		default:
		}
	}

	if r.st == nil {
		loaded, err := state.Load(r.cfg)
		if err != nil {
			loaded = &state.WorkspaceState{}
		}
		r.st = loaded
	}

	r.st.Budgets.Ticks++
	r.st.RecomputeWarning(r.cfg.Budgets)
	r.st.LastRunID = rep.RunID
	r.st.LastVerdict = rep.Verdict
	if rep.Verdict == types.VerdictStop {
		r.st.RecordStop(r.st.Budgets.Ticks)
	}
	rep.Budgets = r.st.Snapshot()

	if rep.Verdict != types.VerdictBlocked {
		os.Remove(r.cfg.BlockedPath())
	}
	if rep.Verdict == types.VerdictSuccess {
		r.st.FailureStreak = 0
	}

	if err := history.Prune(r.cfg); err != nil {
		log.Printf("warn: history cap cleanup failed: %v", err)
		rep.Verdict = types.VerdictBlocked
		rep.Code = types.CodeBlockedHistoryCapCleanupRequired
		rep.TaskSummary = err.Error()
		writeBlockedRecord(r.cfg, rep.Code, err.Error(), "inspect history/ and remove the offending entries manually")
	}

	if err := atomicfs.WriteJSON(r.cfg.ReportJSONPath(), rep); err != nil {
		log.Printf("warn: failed to write REPORT.json: %v", err)
	}
	if r.cfg.Runner.RenderReport {
		if err := report.RenderAndWrite(r.cfg, rep); err != nil {
			log.Printf("warn: failed to render REPORT.md: %v", err)
		}
	}
	if err := r.st.Save(r.cfg); err != nil {
		log.Printf("warn: failed to persist STATE.json: %v", err)
	}

	log.Printf("tick %s finished verdict=%s code=%s", r.runID, rep.Verdict, rep.Code)
	return rep
}

func blockedReport(runID string, startedAt time.Time, code types.Code, reason string) *types.Report {
	now := time.Now().UTC()
	return &types.Report{
		RunID:       runID,
		StartedAt:   startedAt,
		EndedAt:     now,
		DurationMS:  now.Sub(startedAt).Milliseconds(),
		Verdict:     types.VerdictBlocked,
		Code:        code,
		TaskSummary: reason,
		ExecMode:    types.ExecMode,
	}
}

func generateRunID() string {
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

func fingerprint(task *types.Task) (string, error) {
	h, err := hashstructure.Hash(task, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h), nil
}

func scopeViolationCode(kind scope.ViolationKind) types.Code {
	switch kind {
	case scope.ViolationForbidden:
		return types.CodeStopScopeViolationForbidden
	case scope.ViolationOutsideAllowed:
		return types.CodeStopScopeViolationOutsideAllowed
	case scope.ViolationNewFileForbidden:
		return types.CodeStopScopeViolationNewFile
	case scope.ViolationLockfileForbidden:
		return types.CodeStopScopeViolationLockfile
	default:
		return types.CodeStopScopeViolationForbidden
	}
}

func firstViolationMessage(res scope.CheckResult) string {
	if len(res.Violations) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(res.Violations))
	for _, v := range res.Violations {
		msgs = append(msgs, v.String())
	}
	return strings.Join(msgs, "; ")
}

// pruneRunnerOwned drops the runner's own untracked artifacts from the
// analysis so scope and diff-limit checks judge only the builder's work.
func pruneRunnerOwned(a *gitadapter.Analysis, globs []string) {
	keep := func(paths []string) []string {
		out := paths[:0]
		for _, p := range paths {
			if !scope.MatchesGlob(p, globs) {
				out = append(out, p)
			}
		}
		return out
	}
	a.Paths = keep(a.Paths)
	a.NewFiles = keep(a.NewFiles)
}

func blastRadiusFrom(a *gitadapter.Analysis) types.BlastRadius {
	return types.BlastRadius{
		FilesTouched: len(a.Paths),
		LinesAdded:   a.LinesAdded,
		LinesDeleted: a.LinesDeleted,
		NewFiles:     len(a.NewFiles),
	}
}

func diffSummaryFrom(a *gitadapter.Analysis, patchPath string) types.DiffSummary {
	return types.DiffSummary{
		FilesChanged: len(a.Paths),
		LinesChanged: a.LinesAdded + a.LinesDeleted,
		PatchPath:    patchPath,
	}
}

func verificationSummary(o verify.Outcome, logPath string) types.VerificationSummary {
	return types.VerificationSummary{
		ExecMode: types.ExecMode,
		Runs:     o.Records,
		LogPath:  logPath,
	}
}

func budgetSummary(st *state.WorkspaceState, budgets config.Budgets) string {
	return fmt.Sprintf("ticks=%d/%d orchestrator=%d/%d builder=%d/%d verify=%d/%d",
		st.Budgets.Ticks, budgets.MaxTicks,
		st.Budgets.OrchestratorCalls, budgets.MaxOrchestratorCalls,
		st.Budgets.BuilderCalls, budgets.MaxBuilderCalls,
		st.Budgets.VerifyRuns, budgets.MaxVerifyRuns)
}

func defaultRemediation(code types.Code) string {
	switch code {
	case types.CodeBlockedDirtyWorktree:
		return "commit, stash, or discard uncommitted changes before the next tick"
	case types.CodeBlockedLockHeld:
		return "wait for the other tickrun process to finish, or remove a stale lock.json"
	case types.CodeBlockedBudgetExhausted:
		return "start a new milestone or raise the relevant budget cap in tickrun.json"
	case types.CodeBlockedRollbackFailed, types.CodeBlockedRollbackDirty:
		return "inspect the worktree manually; an automatic rollback did not complete cleanly"
	default:
		return "inspect REPORT.json and BLOCKED.json for details"
	}
}

func sanitizeBranchComponent(s string) string {
	replacer := strings.NewReplacer(" ", "-", "/", "-", "\\", "-")
	return replacer.Replace(strings.ToLower(s))
}

func checkoutBranch(ctx context.Context, git *gitadapter.Adapter, name string) error {
	current, err := git.Branch(ctx)
	if err != nil {
		return err
	}
	if current == name {
		return nil
	}
	return git.CheckoutOrCreate(ctx, name)
}
