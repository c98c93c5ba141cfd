// Package loop implements the loop driver from spec.md §4.12: it chains
// tick.Run invocations under a mode-specific stop condition, honoring
// budget caps and OS signals.
package loop

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ticklab/runner/pkg/config"
	"github.com/ticklab/runner/pkg/logger"
	"github.com/ticklab/runner/pkg/preflight"
	"github.com/ticklab/runner/pkg/state"
	"github.com/ticklab/runner/pkg/tick"
	"github.com/ticklab/runner/pkg/types"
)

var log = logger.New("loop")

// Mode is the closed set of loop stop-condition policies.
type Mode string

const (
	ModeTask       Mode = "task"
	ModeMilestone  Mode = "milestone"
	ModeAutonomous Mode = "autonomous"
)

// StopReason is the closed set of reasons run-loop can end.
type StopReason string

const (
	StopSigint          StopReason = "sigint"
	StopBlocked         StopReason = "blocked"
	StopMaxTicks        StopReason = "max_ticks"
	StopBudgetWarning   StopReason = "budget_warning"
	StopOrchestrator    StopReason = "orchestrator_stop"
	StopVerdict         StopReason = "verdict"
	StopMilestoneChange StopReason = "milestone_change"
)

// Options configures one run-loop invocation.
type Options struct {
	Mode     Mode
	MaxTicks int // 0 means unbounded
	Prompts  tick.PromptInputs
}

// Result is returned by Run.
type Result struct {
	TicksExecuted int
	FinalVerdict  types.Verdict
	StopReason    StopReason
	Reports       []*types.Report
}

// Run executes ticks in sequence until a mode-specific or signal-driven stop
// condition fires. It never itself calls os.Exit; callers map StopSigint to
// exit code 130 per spec.md §4.12.
func Run(ctx context.Context, cfg *config.Config, opts Options) Result {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	stopFlag := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			close(stopFlag)
		case <-ctx.Done():
		}
	}()

	st, err := state.Load(cfg)
	if err != nil {
		log.Printf("warn: could not read workspace state before looping: %v", err)
		st = &state.WorkspaceState{}
	}
	currentMilestone := st.MilestoneID

	res := Result{}

	for {
		select {
		case <-stopFlag:
			res.StopReason = StopSigint
			return finalize(res)
		default:
		}

		if opts.MaxTicks > 0 && res.TicksExecuted >= opts.MaxTicks {
			res.StopReason = StopMaxTicks
			return finalize(res)
		}

		pf := preflight.RunWithConfig(ctx, cfg, false)
		if !pf.OK {
			res.StopReason = StopBlocked
			return finalize(res)
		}

		rep, _ := tick.Run(ctx, cfg, opts.Prompts)
		res.TicksExecuted++
		res.Reports = append(res.Reports, rep)
		res.FinalVerdict = rep.Verdict

		if rep.Code == types.CodeStopInterrupted {
			res.StopReason = StopSigint
			return finalize(res)
		}

		st, err = state.Load(cfg)
		if err != nil {
			log.Printf("warn: could not reread workspace state after tick: %v", err)
			st = &state.WorkspaceState{}
		}

		if st.BudgetWarning {
			res.StopReason = StopBudgetWarning
			return finalize(res)
		}

		milestoneChanged := st.MilestoneID != currentMilestone
		currentMilestone = st.MilestoneID

		switch opts.Mode {
		case ModeAutonomous:
			if milestoneChanged {
				// Budget counters were already reset by pkg/tick's
				// EnsureMilestone call; nothing else blocks continuing.
				log.Printf("milestone changed to %q; continuing autonomously", st.MilestoneID)
			}
			if rep.Verdict == types.VerdictBlocked {
				res.StopReason = StopBlocked
				return finalize(res)
			}
			// orchestrator-stop and plain STOP verdicts do not end an
			// autonomous loop; only blocked/sigint/budget/max_ticks do.
			continue
		case ModeMilestone:
			if milestoneChanged {
				res.StopReason = StopMilestoneChange
				return finalize(res)
			}
			fallthrough
		case ModeTask:
			if isOrchestratorStop(rep) {
				res.StopReason = StopOrchestrator
				return finalize(res)
			}
			if rep.Verdict == types.VerdictStop || rep.Verdict == types.VerdictBlocked {
				res.StopReason = StopVerdict
				return finalize(res)
			}
		}
	}
}

// isOrchestratorStop reports whether rep records a control.stop directive
// relayed through tick.Run (verdict success, code SUCCESS, TaskSummary
// carrying tick.OrchestratorStopPrefix; see pkg/tick.execute's ControlStop
// branch).
func isOrchestratorStop(rep *types.Report) bool {
	return rep.Verdict == types.VerdictSuccess && rep.Code == types.CodeSuccess &&
		strings.HasPrefix(rep.TaskSummary, tick.OrchestratorStopPrefix)
}

func finalize(res Result) Result {
	log.Printf("loop stopped after %d tick(s): %s", res.TicksExecuted, res.StopReason)
	return res
}

// ExitCode maps a StopReason to the process exit code spec.md §4.12
// prescribes: 130 on sigint, 0 otherwise. Callers invoke this from pkg/cli's loop command.
func ExitCode(reason StopReason) int {
	if reason == StopSigint {
		return 130
	}
	return 0
}
