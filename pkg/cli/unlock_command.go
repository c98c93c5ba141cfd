package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ticklab/runner/pkg/config"
	"github.com/ticklab/runner/pkg/lockmgr"
)

// NewUnlockCommand creates the "unlock" command: the operator escape hatch
// for a lock that lockmgr's own stale-owner detection declined to reclaim
// (i.e. a live process on this boot still holds it) per spec.md §4.2.
func NewUnlockCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Remove the workspace lock file",
		Long: `Removes lock.json and its companion advisory flock.

Without --force, this first tries the normal acquire/release protocol, which
already reclaims locks left behind by a crashed or different-boot-session
process; it only reports an error when a live process on this boot still
holds the lock. --force removes the files unconditionally — use it only
after confirming no tickrun process is actually running against this
workspace.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace, _ := cmd.Flags().GetString("workspace")
			force, _ := cmd.Flags().GetBool("force")

			cfg, err := config.Load(workspace)
			if err != nil {
				fmt.Fprintln(os.Stderr, formatErrorMessage(err.Error()))
				os.Exit(1)
			}
			path := cfg.LockPath()

			if force {
				os.Remove(path)
				os.Remove(path + ".flock")
				fmt.Fprintln(os.Stderr, formatInfoMessage("removed "+path+" unconditionally"))
				return nil
			}

			lk, err := lockmgr.Acquire(path)
			if err != nil {
				fmt.Fprintln(os.Stderr, formatErrorMessage(err.Error()))
				os.Exit(1)
			}
			lk.Release()
			fmt.Fprintln(os.Stderr, formatInfoMessage("lock "+path+" is now free"))
			return nil
		},
	}

	cmd.Flags().Bool("force", false, "remove the lock files unconditionally, even if a live owner holds them")

	return cmd
}
