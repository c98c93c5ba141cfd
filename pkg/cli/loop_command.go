package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ticklab/runner/pkg/config"
	"github.com/ticklab/runner/pkg/fswatch"
	"github.com/ticklab/runner/pkg/loop"
	"github.com/ticklab/runner/pkg/report"
	"github.com/ticklab/runner/pkg/tick"
)

// NewLoopCommand creates the "loop" command: chain ticks under a
// mode-specific stop condition.
func NewLoopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Run ticks repeatedly until a mode-specific stop condition fires",
		Long: `Repeats tickrun tick under one of three modes:

  task        stop on orchestrator completion or the first stop/blocked tick
  milestone   like task, but also stops when the milestone id changes
  autonomous  continues across milestone changes; stops only on blocked,
              sigint, budget warning, or --max-ticks

A budget warning, SIGINT, or a max-ticks cap always ends the loop regardless
of mode.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace, _ := cmd.Flags().GetString("workspace")
			modeFlag, _ := cmd.Flags().GetString("mode")
			maxTicks, _ := cmd.Flags().GetInt("max-ticks")
			goal, _ := cmd.Flags().GetString("project-goal")
			repoSummary, _ := cmd.Flags().GetString("repo-summary")
			watch, _ := cmd.Flags().GetBool("watch")

			mode := loop.Mode(modeFlag)
			switch mode {
			case loop.ModeTask, loop.ModeMilestone, loop.ModeAutonomous:
			default:
				fmt.Fprintln(os.Stderr, formatErrorMessage(fmt.Sprintf("unknown --mode %q (want task, milestone, or autonomous)", modeFlag)))
				os.Exit(1)
			}

			cfg, err := config.Load(workspace)
			if err != nil {
				fmt.Fprintln(os.Stderr, formatErrorMessage(err.Error()))
				os.Exit(1)
			}

			ctx := context.Background()
			res := loop.Run(ctx, cfg, loop.Options{
				Mode:     mode,
				MaxTicks: maxTicks,
				Prompts: tick.PromptInputs{
					ProjectGoal: goal,
					RepoSummary: repoSummary,
				},
			})

			for _, rep := range res.Reports {
				fmt.Fprint(os.Stderr, report.RenderTerminal(rep))
			}
			fmt.Fprintln(os.Stderr, formatInfoMessage(fmt.Sprintf(
				"loop stopped after %d tick(s): %s", res.TicksExecuted, res.StopReason)))

			if watch && res.StopReason != loop.StopSigint {
				if err := fswatch.WaitForChange(ctx, workspace, []string{"REPORT.json", "BLOCKED.json", "FACTS.md"}); err != nil {
					fmt.Fprintln(os.Stderr, formatErrorMessage(err.Error()))
				}
			}

			os.Exit(loop.ExitCode(res.StopReason))
			return nil
		},
	}

	cmd.Flags().String("mode", "task", "loop stop-condition mode: task, milestone, or autonomous")
	cmd.Flags().Int("max-ticks", 0, "stop after this many ticks regardless of mode (0 = unbounded)")
	cmd.Flags().String("project-goal", "", "one-line project goal interpolated into the orchestrator prompt")
	cmd.Flags().String("repo-summary", "", "short repo summary interpolated into the orchestrator prompt")
	cmd.Flags().Bool("watch", false, "after the loop stops cleanly, block until an operator edits a workspace file before returning")

	return cmd
}
