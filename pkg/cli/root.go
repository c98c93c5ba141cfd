// Package cli assembles the tickrun command tree. Each command is a thin
// cobra wrapper that loads config, constructs the tick/loop driver inputs,
// and maps the result to stdout/stderr and a process exit code — the "CLI
// argument parsing" spec.md §1 scopes out of the core belongs here, not in
// pkg/tick or pkg/loop.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/ticklab/runner/pkg/constants"
)

// NewRootCommand builds the tickrun root command with all subcommands wired.
func NewRootCommand(version string) *cobra.Command {
	root := &cobra.Command{
		Use:     constants.CLIName,
		Short:   "Autonomous tick-by-tick software development runner",
		Version: version,
		Long: `tickrun drives an LLM orchestrator and builder in a repeated cycle
against a git repository, enforcing scope, size, and verification limits on
every change.

Common tasks:
  tickrun tick                 # run exactly one tick
  tickrun loop --mode task     # run ticks until the task completes or stops
  tickrun status                # show the last report
  tickrun unlock                 # remove a stale lock.json`,
	}

	root.PersistentFlags().String("workspace", ".", "workspace directory containing tickrun.json")
	root.PersistentFlags().BoolP("verbose", "v", false, "accepted but not read by any command; debug output is selected with the DEBUG environment variable (e.g. DEBUG=tick:*)")

	root.AddCommand(NewTickCommand())
	root.AddCommand(NewLoopCommand())
	root.AddCommand(NewStatusCommand())
	root.AddCommand(NewUnlockCommand())

	return root
}
