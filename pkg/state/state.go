// Package state holds the WorkspaceState ledger persisted across ticks:
// budget counters, last run/verdict, and escalation state.
package state

import (
	"os"
	"time"

	"github.com/ticklab/runner/pkg/atomicfs"
	"github.com/ticklab/runner/pkg/config"
	"github.com/ticklab/runner/pkg/risk"
	"github.com/ticklab/runner/pkg/types"
)

// maxStopHistory and maxVerifyHistory bound the two rolling ledgers kept on
// WorkspaceState per spec.md §3 ("bounded stop history (<=50)", "verify
// history (<=50)"): oldest entries are dropped first.
const (
	maxStopHistory   = 50
	maxVerifyHistory = 50
)

// VerifyHistoryEntry records one past tick's verify classification, feeding
// risk.MergeEligible's "at least one PASS entry in verify history" check.
type VerifyHistoryEntry struct {
	Tick int  `json:"tick"`
	Pass bool `json:"pass"`
}

// BudgetCounts are the per-milestone running totals.
type BudgetCounts struct {
	Ticks             int `json:"ticks"`
	OrchestratorCalls int `json:"orchestrator_calls"`
	BuilderCalls      int `json:"builder_calls"`
	VerifyRuns        int `json:"verify_runs"`
}

// Escalation records the outcome of the most recent should-escalate check.
type Escalation struct {
	Active bool   `json:"active"`
	Mode   string `json:"mode,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// WorkspaceState is the persistent per-milestone ledger.
type WorkspaceState struct {
	MilestoneID           string               `json:"milestone_id,omitempty"`
	Budgets               BudgetCounts         `json:"budgets"`
	BudgetWarning         bool                 `json:"budget_warning"`
	LastRunID             string               `json:"last_run_id,omitempty"`
	LastVerdict           types.Verdict        `json:"last_verdict,omitempty"`
	IdeaInbox             []string             `json:"idea_inbox,omitempty"`
	PlanningDigest        string               `json:"planning_digest,omitempty"`
	OpenQuestions         []string             `json:"open_questions,omitempty"`
	ForcePatch            bool                 `json:"force_patch"`
	FailureStreak         int                  `json:"failure_streak"`
	LastFailedFingerprint string               `json:"last_failed_fingerprint,omitempty"`
	Escalation            Escalation           `json:"escalation"`
	StopHistory           []risk.StopEvent     `json:"stop_history,omitempty"`
	VerifyHistory         []VerifyHistoryEntry `json:"verify_history,omitempty"`
	UpdatedAt             time.Time            `json:"updated_at"`
}

// RecordStop appends a stop event at tick, keeping only the most recent
// maxStopHistory entries.
func (s *WorkspaceState) RecordStop(tick int) {
	s.StopHistory = append(s.StopHistory, risk.StopEvent{Tick: tick})
	if len(s.StopHistory) > maxStopHistory {
		s.StopHistory = s.StopHistory[len(s.StopHistory)-maxStopHistory:]
	}
}

// RecordVerify appends a verify outcome at tick, keeping only the most
// recent maxVerifyHistory entries.
func (s *WorkspaceState) RecordVerify(tick int, pass bool) {
	s.VerifyHistory = append(s.VerifyHistory, VerifyHistoryEntry{Tick: tick, Pass: pass})
	if len(s.VerifyHistory) > maxVerifyHistory {
		s.VerifyHistory = s.VerifyHistory[len(s.VerifyHistory)-maxVerifyHistory:]
	}
}

// HasPassInHistory reports whether any recorded verify outcome passed.
func (s *WorkspaceState) HasPassInHistory() bool {
	for _, v := range s.VerifyHistory {
		if v.Pass {
			return true
		}
	}
	return false
}

// Load reads WorkspaceState from cfg.StatePath(), returning a fresh zero
// state if the file does not exist yet.
func Load(cfg *config.Config) (*WorkspaceState, error) {
	var s WorkspaceState
	err := atomicfs.ReadJSON(cfg.StatePath(), &s)
	if err != nil {
		if we, ok := err.(*atomicfs.WriteError); ok && os.IsNotExist(we.Err) {
			return &WorkspaceState{}, nil
		}
		return nil, err
	}
	return &s, nil
}

// Save atomically persists s to cfg.StatePath(). This must be the final
// write before lock release per spec.md §5.
func (s *WorkspaceState) Save(cfg *config.Config) error {
	s.UpdatedAt = time.Now().UTC()
	return atomicfs.WriteJSON(cfg.StatePath(), s)
}

// BudgetField names one of the four countable budget dimensions.
type BudgetField string

const (
	FieldTicks             BudgetField = "ticks"
	FieldOrchestratorCalls BudgetField = "orchestrator_calls"
	FieldBuilderCalls      BudgetField = "builder_calls"
	FieldVerifyRuns        BudgetField = "verify_runs"
)

// ExceededFields reports every budget dimension whose count has reached or
// exceeded its configured cap.
func (s *WorkspaceState) ExceededFields(budgets config.Budgets) []BudgetField {
	var exceeded []BudgetField
	check := func(field BudgetField, count, cap int) {
		if cap > 0 && count >= cap {
			exceeded = append(exceeded, field)
		}
	}
	check(FieldTicks, s.Budgets.Ticks, budgets.MaxTicks)
	check(FieldOrchestratorCalls, s.Budgets.OrchestratorCalls, budgets.MaxOrchestratorCalls)
	check(FieldBuilderCalls, s.Budgets.BuilderCalls, budgets.MaxBuilderCalls)
	check(FieldVerifyRuns, s.Budgets.VerifyRuns, budgets.MaxVerifyRuns)
	return exceeded
}

// RecomputeWarning sets BudgetWarning true once any dimension's count
// crosses warnAtFraction of its cap.
func (s *WorkspaceState) RecomputeWarning(budgets config.Budgets) {
	frac := budgets.WarnAtFraction
	if frac <= 0 {
		frac = 0.8
	}
	warn := func(count, cap int) bool {
		return cap > 0 && float64(count) >= frac*float64(cap)
	}
	s.BudgetWarning = warn(s.Budgets.Ticks, budgets.MaxTicks) ||
		warn(s.Budgets.OrchestratorCalls, budgets.MaxOrchestratorCalls) ||
		warn(s.Budgets.BuilderCalls, budgets.MaxBuilderCalls) ||
		warn(s.Budgets.VerifyRuns, budgets.MaxVerifyRuns)
}

// Snapshot converts the current counters to a types.BudgetsSnapshot.
func (s *WorkspaceState) Snapshot() types.BudgetsSnapshot {
	return types.BudgetsSnapshot{
		Ticks:             s.Budgets.Ticks,
		OrchestratorCalls: s.Budgets.OrchestratorCalls,
		BuilderCalls:      s.Budgets.BuilderCalls,
		VerifyRuns:        s.Budgets.VerifyRuns,
	}
}

// EnsureMilestone resets per-milestone counters to zero when milestoneID
// differs from the current one. It archives nothing itself: pkg/tick calls
// history.ArchiveMilestone with the departing ledger before calling it.
func (s *WorkspaceState) EnsureMilestone(milestoneID string) (changed bool) {
	if s.MilestoneID == milestoneID {
		return false
	}
	s.MilestoneID = milestoneID
	s.Budgets = BudgetCounts{}
	s.BudgetWarning = false
	s.FailureStreak = 0
	s.ForcePatch = false
	s.Escalation = Escalation{}
	return true
}
