package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ticklab/runner/pkg/config"
	"github.com/ticklab/runner/pkg/report"
	"github.com/ticklab/runner/pkg/tick"
	"github.com/ticklab/runner/pkg/types"
)

// NewTickCommand creates the "tick" command: run the state machine exactly
// once and print the resulting report's terminal summary.
func NewTickCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run exactly one tick of the state machine",
		Long: `Acquires the workspace lock, runs preflight, orchestrates one task,
builds, judges the diff, verifies it, and writes REPORT.json — then releases
the lock. Exit code is always 0 on a completed tick (including stop and
blocked verdicts, which are communicated through REPORT.json, not the exit
code); SIGINT during the tick yields exit code 130.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace, _ := cmd.Flags().GetString("workspace")
			goal, _ := cmd.Flags().GetString("project-goal")
			repoSummary, _ := cmd.Flags().GetString("repo-summary")

			cfg, err := config.Load(workspace)
			if err != nil {
				fmt.Fprintln(os.Stderr, formatErrorMessage(err.Error()))
				os.Exit(1)
			}

			rep, err := tick.Run(context.Background(), cfg, tick.PromptInputs{
				ProjectGoal: goal,
				RepoSummary: repoSummary,
			})
			if err != nil {
				fmt.Fprintln(os.Stderr, formatErrorMessage(err.Error()))
				os.Exit(1)
			}

			fmt.Fprint(os.Stderr, report.RenderTerminal(rep))
			if rep.Code == types.CodeStopInterrupted {
				os.Exit(130)
			}
			return nil
		},
	}

	cmd.Flags().String("project-goal", "", "one-line project goal interpolated into the orchestrator prompt")
	cmd.Flags().String("repo-summary", "", "short repo summary interpolated into the orchestrator prompt")

	return cmd
}
