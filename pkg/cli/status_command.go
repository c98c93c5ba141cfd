package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ticklab/runner/pkg/atomicfs"
	"github.com/ticklab/runner/pkg/config"
	"github.com/ticklab/runner/pkg/report"
	"github.com/ticklab/runner/pkg/types"
)

// NewStatusCommand creates the "status" command: render the last REPORT.json
// (and BLOCKED.json, if present) without running a tick.
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last tick's report",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace, _ := cmd.Flags().GetString("workspace")
			jsonFlag, _ := cmd.Flags().GetBool("json")

			cfg, err := config.Load(workspace)
			if err != nil {
				fmt.Fprintln(os.Stderr, formatErrorMessage(err.Error()))
				os.Exit(1)
			}

			var rep types.Report
			if err := atomicfs.ReadJSON(cfg.ReportJSONPath(), &rep); err != nil {
				fmt.Fprintln(os.Stderr, formatErrorMessage(fmt.Sprintf("no report yet: %v", err)))
				os.Exit(1)
			}

			if jsonFlag {
				data, err := os.ReadFile(cfg.ReportJSONPath())
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Print(report.RenderTerminal(&rep))

			var blocked types.BlockedRecord
			if err := atomicfs.ReadJSON(cfg.BlockedPath(), &blocked); err == nil {
				fmt.Println()
				fmt.Println(formatErrorMessage(fmt.Sprintf("blocked: %s — %s", blocked.Code, blocked.Reason)))
				fmt.Printf("remediation: %s\n", blocked.Remediation)
			}

			return nil
		},
	}

	cmd.Flags().Bool("json", false, "print the raw REPORT.json instead of the styled summary")

	return cmd
}
