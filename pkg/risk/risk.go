// Package risk implements the risk-flag computation and guardrail
// decisions from spec.md §4.6: reviewer triggers, escalation, and merge
// eligibility.
package risk

import (
	"github.com/ticklab/runner/pkg/config"
	"github.com/ticklab/runner/pkg/gitadapter"
	"github.com/ticklab/runner/pkg/scope"
	"github.com/ticklab/runner/pkg/types"
)

// Flag is one risk signal.
type Flag string

const (
	FlagHighRiskPath  Flag = "high_risk_path"
	FlagDiffNearCap   Flag = "diff_near_cap"
	FlagVerifyFailed  Flag = "verify_failed"
	FlagRepeatedStop  Flag = "repeated_stop"
	FlagBudgetWarning Flag = "budget_warning"
)

// StopEvent records one past tick's stop for the repeated-stop window.
type StopEvent struct {
	Tick int
}

// Input bundles everything ComputeFlags needs.
type Input struct {
	Analysis       *gitadapter.Analysis
	TaskLimits     types.DiffLimits
	TaskScope      types.Scope
	ReviewerConfig config.ReviewerConfig
	StopHistory    []StopEvent
	CurrentTick    int
	VerifyFailed   bool
	BudgetWarning  bool
}

// ComputeFlags derives the set of active risk flags from the tick context.
func ComputeFlags(in Input) []Flag {
	var flags []Flag

	// high_risk_path fires either from paths already touched by the current
	// diff (post-build) or from the task's allowed globs merely overlapping
	// a high-risk glob (pre-build, before any diff exists).
	highRisk := false
	if in.Analysis != nil {
		for _, p := range in.Analysis.Paths {
			if scope.MatchesGlob(p, in.ReviewerConfig.HighRiskGlobs) {
				highRisk = true
				break
			}
		}
	}
	if !highRisk {
		for _, allowed := range in.TaskScope.AllowedGlobs {
			if scope.MatchesGlob(allowed, in.ReviewerConfig.HighRiskGlobs) {
				highRisk = true
				break
			}
		}
	}
	if highRisk {
		flags = append(flags, FlagHighRiskPath)
	}

	if in.Analysis != nil {
		threshold := in.ReviewerConfig.NearCapThreshold
		if threshold > 0 {
			filesRatio := ratio(len(in.Analysis.Paths), in.TaskLimits.MaxFiles)
			linesRatio := ratio(in.Analysis.LinesAdded+in.Analysis.LinesDeleted, in.TaskLimits.MaxLines)
			if filesRatio >= threshold || linesRatio >= threshold {
				flags = append(flags, FlagDiffNearCap)
			}
		}
	}

	if in.VerifyFailed {
		flags = append(flags, FlagVerifyFailed)
	}

	if in.ReviewerConfig.RepeatedStopWindow > 0 {
		count := 0
		for _, e := range in.StopHistory {
			if e.Tick >= in.CurrentTick-in.ReviewerConfig.RepeatedStopWindow {
				count++
			}
		}
		if count >= in.ReviewerConfig.MaxStopsInWindow && in.ReviewerConfig.MaxStopsInWindow > 0 {
			flags = append(flags, FlagRepeatedStop)
		}
	}

	if in.BudgetWarning {
		flags = append(flags, FlagBudgetWarning)
	}

	return flags
}

func ratio(actual, max int) float64 {
	if max <= 0 {
		return 0
	}
	return float64(actual) / float64(max)
}

// ShouldTriggerReviewer is true iff the reviewer is enabled and any risk
// flag is set.
func ShouldTriggerReviewer(cfg config.ReviewerConfig, flags []Flag) bool {
	return cfg.Enabled && len(flags) > 0
}

// EscalationMode is who gets escalated to.
type EscalationMode string

const (
	EscalateReviewer EscalationMode = "reviewer"
	EscalateHuman    EscalationMode = "human"
)

// EscalationDecision is the result of ShouldEscalate.
type EscalationDecision struct {
	Escalate bool
	Mode     EscalationMode
	Reason   string
}

// ShouldEscalate triggers at failure_streak >= 2, escalating to the
// reviewer if enabled, otherwise to a human.
func ShouldEscalate(failureStreak int, reviewerEnabled bool) EscalationDecision {
	if failureStreak < 2 {
		return EscalationDecision{}
	}
	mode := EscalateHuman
	if reviewerEnabled {
		mode = EscalateReviewer
	}
	return EscalationDecision{
		Escalate: true,
		Mode:     mode,
		Reason:   "failure streak reached 2 consecutive non-PASS verify outcomes",
	}
}

// MergeEligible requires at least one PASS verify entry and a non-empty
// diff. On failure it returns every failing reason, concatenated by the
// caller as needed.
func MergeEligible(hasPassInHistory bool, filesChanged int) (bool, []string) {
	var reasons []string
	if !hasPassInHistory {
		reasons = append(reasons, "no PASS verification entry in history")
	}
	if filesChanged == 0 {
		reasons = append(reasons, "no files changed in diff")
	}
	return len(reasons) == 0, reasons
}
