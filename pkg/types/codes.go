package types

// Verdict is the coarse tick outcome.
type Verdict string

const (
	VerdictSuccess Verdict = "success"
	VerdictStop    Verdict = "stop"
	VerdictBlocked Verdict = "blocked"
)

// Code is the closed report-code enumeration from spec.md §6. Every value
// used anywhere in the tick engine must be one of these constants; the set
// is the contract external tooling parses REPORT.json against.
type Code string

const (
	CodeSuccess Code = "SUCCESS"

	// STOP_* — an expected negative outcome; artifacts are consistent.
	CodeStopScopeViolationForbidden      Code = "STOP_SCOPE_VIOLATION_FORBIDDEN"
	CodeStopScopeViolationOutsideAllowed Code = "STOP_SCOPE_VIOLATION_OUTSIDE_ALLOWED"
	CodeStopScopeViolationNewFile        Code = "STOP_SCOPE_VIOLATION_NEW_FILE"
	CodeStopScopeViolationLockfile       Code = "STOP_SCOPE_VIOLATION_LOCKFILE_CHANGE"
	CodeStopDiffTooLarge                 Code = "STOP_DIFF_TOO_LARGE"
	CodeStopVerifyFailedFast             Code = "STOP_VERIFY_FAILED_FAST"
	CodeStopVerifyFailedSlow             Code = "STOP_VERIFY_FAILED_SLOW"
	CodeStopVerifyTainted                Code = "STOP_VERIFY_TAINTED"
	CodeStopVerifyOnlySideEffects        Code = "STOP_VERIFY_ONLY_SIDE_EFFECTS"
	CodeStopQuestionSideEffects          Code = "STOP_QUESTION_SIDE_EFFECTS"
	CodeStopRunnerOwnedMutation          Code = "STOP_RUNNER_OWNED_MUTATION"
	CodeStopBuilderJSONParse             Code = "STOP_BUILDER_JSON_PARSE"
	CodeStopBuilderSchemaInvalid         Code = "STOP_BUILDER_SCHEMA_INVALID"
	CodeStopBuilderShapeInvalid          Code = "STOP_BUILDER_SHAPE_INVALID"
	CodeStopBuilderCLIError              Code = "STOP_BUILDER_CLI_ERROR"
	CodeStopBuilderTimeout               Code = "STOP_BUILDER_TIMEOUT"
	CodeStopHeadMoved                    Code = "STOP_HEAD_MOVED"
	CodeStopInterrupted                  Code = "STOP_INTERRUPTED"
	CodeStopReviewerForcedPatch          Code = "STOP_REVIEWER_FORCED_PATCH"
	CodeStopReviewerAskQuestion          Code = "STOP_REVIEWER_ASK_QUESTION"
	CodeStopOrchestratorAskQuestion      Code = "STOP_ORCHESTRATOR_ASK_QUESTION"
	CodeStopOrchestratorTimeout          Code = "STOP_ORCHESTRATOR_TIMEOUT"
	CodeStopRedispatchIdenticalTask      Code = "STOP_REDISPATCH_IDENTICAL_TASK"
	CodeStopVerifyFlakyOrTimeout         Code = "STOP_VERIFY_FLAKY_OR_TIMEOUT"
	CodeStopMergeDirtyWorktree           Code = "STOP_MERGE_DIRTY_WORKTREE"
	CodeStopBranchMismatch               Code = "STOP_BRANCH_MISMATCH"
	CodeStopEvidenceIncomplete           Code = "STOP_EVIDENCE_INCOMPLETE"
	CodeStopPatchApplyFailed             Code = "STOP_PATCH_APPLY_FAILED"
	CodeStopPatchScopeViolation          Code = "STOP_PATCH_SCOPE_VIOLATION"
	CodeStopPatchInvalidPath             Code = "STOP_PATCH_INVALID_PATH"
	CodeStopPatchSymlink                 Code = "STOP_PATCH_SYMLINK"

	// BLOCKED_* — the runner cannot safely proceed.
	CodeBlockedBudgetExhausted           Code = "BLOCKED_BUDGET_CAP"
	CodeBlockedDirtyWorktree             Code = "BLOCKED_DIRTY_WORKTREE"
	CodeBlockedLockHeld                  Code = "BLOCKED_LOCK_HELD"
	CodeBlockedCrashRecoveryRequired     Code = "BLOCKED_CRASH_RECOVERY_REQUIRED"
	CodeBlockedOrchestratorOutputInvalid Code = "BLOCKED_ORCHESTRATOR_OUTPUT_INVALID"
	CodeBlockedHistoryCapCleanupRequired Code = "BLOCKED_HISTORY_CAP_CLEANUP_REQUIRED"
	CodeBlockedMissingConfig             Code = "BLOCKED_MISSING_CONFIG"
	CodeBlockedTransportStalled          Code = "BLOCKED_TRANSPORT_STALLED"
	CodeBlockedRollbackFailed            Code = "BLOCKED_ROLLBACK_FAILED"
	CodeBlockedRollbackDirty             Code = "BLOCKED_ROLLBACK_DIRTY"
	CodeBlockedBuilderCommandNotFound    Code = "BLOCKED_BUILDER_COMMAND_NOT_FOUND"
	CodeBlockedBuilderModeNotAllowed     Code = "BLOCKED_BUILDER_MODE_NOT_ALLOWED"
	CodeBlockedBranchFailed              Code = "BLOCKED_BRANCH_FAILED"
)

// ExecMode is always "argv_no_shell" per spec.md §6.
const ExecMode = "argv_no_shell"
