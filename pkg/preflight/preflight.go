// Package preflight implements the preflight gate from spec.md §4.7: the
// ordered sequence of checks that runs on every tick entry before any git
// read or base-commit capture.
package preflight

import (
	"context"
	"fmt"
	"os"

	"github.com/ticklab/runner/pkg/atomicfs"
	"github.com/ticklab/runner/pkg/config"
	"github.com/ticklab/runner/pkg/gitadapter"
	"github.com/ticklab/runner/pkg/lockmgr"
	"github.com/ticklab/runner/pkg/logger"
	"github.com/ticklab/runner/pkg/scope"
	"github.com/ticklab/runner/pkg/state"
	"github.com/ticklab/runner/pkg/types"
)

var log = logger.New("preflight")

// Result is the outcome of Run.
type Result struct {
	OK          bool
	BlockedCode types.Code
	Reason      string
	Remediation string
	Warnings    []string
	BaseCommit  string
}

func fail(code types.Code, reason, remediation string) Result {
	return Result{BlockedCode: code, Reason: reason, Remediation: remediation}
}

// Run executes every check from spec.md §4.7 in order, stopping at the
// first failure. base_commit is captured only after checks (2)-(5) pass, so
// it always reflects a worktree the core has already validated as safe to
// read.
func Run(ctx context.Context, cfgDir string) Result {
	// 1. Config reachable and parseable.
	cfg, err := config.Load(cfgDir)
	if err != nil {
		return fail(types.CodeBlockedMissingConfig, err.Error(),
			fmt.Sprintf("create a %s file at the workspace root", "tickrun.json"))
	}
	return RunWithConfig(ctx, cfg, false)
}

// RunWithConfig runs checks (2) onward against an already-loaded config.
// lockAlreadyHeld must be true when the caller is the tick state machine
// itself running preflight from inside its own LOCK→PREFLIGHT phase
// sequence (the lock is already held by this process at that point, so
// check 6 degrades to a no-op rather than re-probing a lock file this same
// process owns); false for the loop driver's cheap pre-tick readiness check,
// which holds no lock yet.
func RunWithConfig(ctx context.Context, cfg *config.Config, lockAlreadyHeld bool) Result {
	var warnings []string

	// 2. Crash-cleanup glob must be safe; fail-closed, nothing deleted if unsafe.
	if g := cfg.Runner.CrashCleanup.DeleteTmpGlob; g != "" {
		if safety := atomicfs.GlobSafe(g); !safety.Safe {
			return fail(types.CodeBlockedCrashRecoveryRequired, safety.Reason,
				"fix runner.crash_cleanup.delete_tmp_glob in tickrun.json to a workspace-relative pattern without '..' or absolute/UNC prefixes")
		}
	}

	git := gitadapter.New(cfg.WorkspaceDir)

	// 3. Inside a git repo (only if configured to require one).
	if cfg.RequireGit {
		if _, err := git.Head(ctx); err != nil {
			return fail(types.CodeBlockedMissingConfig, fmt.Sprintf("workspace is not inside a git repository: %v", err),
				"run tickrun from inside a git worktree, or unset require_git")
		}
	}

	// 4. Worktree clean, ignoring runner-owned globs.
	ignore := func(path string) bool { return scope.MatchesGlob(path, cfg.Runner.RunnerOwnedGlobs) }
	clean, dirty, err := git.Clean(ctx, ignore)
	if err != nil {
		return fail(types.CodeBlockedMissingConfig, fmt.Sprintf("checking worktree cleanliness: %v", err), "ensure git is installed and the workspace is a valid repository")
	}
	if !clean {
		paths := make([]string, 0, len(dirty))
		for _, d := range dirty {
			paths = append(paths, d.Path)
		}
		return fail(types.CodeBlockedDirtyWorktree, fmt.Sprintf("worktree has uncommitted changes outside runner-owned paths: %v", paths),
			"commit, stash, or discard the listed changes before running another tick")
	}

	// 5. Crash-recovery: clean stale temp files; optionally validate
	// runner-owned JSON.
	cleanupErrs := atomicfs.CleanupTemp(cfg.WorkspaceDir, ".tmp")
	if g := cfg.Runner.CrashCleanup.DeleteTmpGlob; g != "" {
		cleanupErrs = append(cleanupErrs, atomicfs.CleanupGlob(cfg.WorkspaceDir, g)...)
	}
	for _, e := range cleanupErrs {
		warnings = append(warnings, e.Error())
	}
	if cfg.Runner.CrashCleanup.ValidateRunnerJSON {
		for _, p := range []string{cfg.StatePath(), cfg.ReportJSONPath(), cfg.BlockedPath()} {
			if !fileExists(p) {
				continue
			}
			if errs := validateRunnerJSON(p); len(errs) > 0 {
				return fail(types.CodeBlockedCrashRecoveryRequired,
					fmt.Sprintf("runner-owned file %s is corrupt: %v", p, errs),
					fmt.Sprintf("inspect history/ for the last good state and delete or repair %s", p))
			}
		}
	}

	// 6. Lock acquirable. Probe-only: acquire then immediately release so we
	// don't hold the lock across preflight in contexts that only want a
	// cheap readiness check.
	if !lockAlreadyHeld {
		lk, lockErr := lockmgr.Acquire(cfg.LockPath())
		if lockErr != nil {
			if ae, ok := lockErr.(*lockmgr.AcquireError); ok && ae.Kind == lockmgr.ErrHeld {
				return fail(types.CodeBlockedLockHeld, "workspace lock is held by another live process",
					"wait for the other tickrun process to finish, or verify it crashed and remove lock.json manually")
			}
			return fail(types.CodeBlockedLockHeld, lockErr.Error(), "inspect and remove lock.json if the owning process is gone")
		}
		lk.Release()
	}

	// 7. Budget caps.
	st, stErr := state.Load(cfg)
	if stErr != nil {
		return fail(types.CodeBlockedCrashRecoveryRequired, stErr.Error(), "inspect STATE.json; delete it to start a fresh ledger if corrupt")
	}
	if exceeded := st.ExceededFields(cfg.Budgets); len(exceeded) > 0 {
		return fail(types.CodeBlockedBudgetExhausted, fmt.Sprintf("budget cap reached for: %v", exceeded),
			"start a new milestone (resets budget counters) or raise the cap in tickrun.json")
	}

	base, err := git.Head(ctx)
	if err != nil {
		return fail(types.CodeBlockedMissingConfig, fmt.Sprintf("capturing base commit: %v", err), "ensure the workspace has at least one commit")
	}

	log.Printf("preflight ok, base_commit=%s", base)
	return Result{OK: true, Warnings: warnings, BaseCommit: base}
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func validateRunnerJSON(path string) []string {
	var v any
	if err := atomicfs.ReadJSON(path, &v); err != nil {
		return []string{err.Error()}
	}
	return nil
}
