// Package report renders a types.Report to the two places spec.md §6
// describes: REPORT.md, a human-readable markdown artifact written next to
// REPORT.json on every tick, and the styled summary `tickrun status` prints
// to a terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/ticklab/runner/pkg/atomicfs"
	"github.com/ticklab/runner/pkg/config"
	"github.com/ticklab/runner/pkg/types"
)

var (
	colorSuccess = lipgloss.AdaptiveColor{Light: "#27AE60", Dark: "#50FA7B"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#E67E22", Dark: "#FFB86C"}
	colorError   = lipgloss.AdaptiveColor{Light: "#D73737", Dark: "#FF5555"}
	colorInfo    = lipgloss.AdaptiveColor{Light: "#2980B9", Dark: "#8BE9FD"}

	styleSuccess = lipgloss.NewStyle().Bold(true).Foreground(colorSuccess)
	styleWarning = lipgloss.NewStyle().Bold(true).Foreground(colorWarning)
	styleError   = lipgloss.NewStyle().Bold(true).Foreground(colorError)
	styleInfo    = lipgloss.NewStyle().Bold(true).Foreground(colorInfo)
	styleHeader  = lipgloss.NewStyle().Bold(true)
)

// RenderAndWrite renders rep as markdown and atomically writes it to
// cfg.ReportMDPath(), truncating at the configured byte cap so a huge
// touched-path list can never balloon the rendered artifact.
func RenderAndWrite(cfg *config.Config, rep *types.Report) error {
	md := []byte(RenderMarkdown(rep))
	if limit := cfg.Runner.ReportByteCap; limit > 0 && len(md) > limit {
		md = append(md[:limit], []byte("\n\n(truncated at report byte cap)\n")...)
	}
	return atomicfs.WriteFile(cfg.ReportMDPath(), md)
}

// RenderMarkdown renders rep as a plain markdown document. It intentionally
// carries no ANSI styling: the file is read by humans in editors and by
// tooling that greps for section headers.
func RenderMarkdown(rep *types.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Tick %s\n\n", rep.RunID)
	fmt.Fprintf(&b, "- **Verdict:** %s\n", rep.Verdict)
	fmt.Fprintf(&b, "- **Code:** %s\n", rep.Code)
	fmt.Fprintf(&b, "- **Started:** %s\n", rep.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- **Duration:** %s\n", durationMS(rep.DurationMS))
	fmt.Fprintf(&b, "- **Base commit:** `%s`\n", rep.BaseCommit)
	fmt.Fprintf(&b, "- **Head commit:** `%s`\n", rep.HeadCommit)
	if rep.TaskSummary != "" {
		fmt.Fprintf(&b, "- **Summary:** %s\n", rep.TaskSummary)
	}
	if rep.ReviewerErr != "" {
		fmt.Fprintf(&b, "- **Reviewer error:** %s\n", rep.ReviewerErr)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Blast radius\n\n")
	fmt.Fprintf(&b, "- Files touched: %s\n", humanize.Comma(int64(rep.BlastRadius.FilesTouched)))
	fmt.Fprintf(&b, "- Lines added: %s\n", humanize.Comma(int64(rep.BlastRadius.LinesAdded)))
	fmt.Fprintf(&b, "- Lines deleted: %s\n", humanize.Comma(int64(rep.BlastRadius.LinesDeleted)))
	fmt.Fprintf(&b, "- New files: %s\n\n", humanize.Comma(int64(rep.BlastRadius.NewFiles)))

	if len(rep.Scope.Touched) > 0 {
		b.WriteString("## Touched paths\n\n")
		for _, p := range rep.Scope.Touched {
			fmt.Fprintf(&b, "- `%s`\n", p)
		}
		b.WriteString("\n")
	}
	if len(rep.Scope.Violations) > 0 {
		b.WriteString("## Scope violations\n\n")
		for _, v := range rep.Scope.Violations {
			fmt.Fprintf(&b, "- %s\n", v)
		}
		b.WriteString("\n")
	}

	if len(rep.Verification.Runs) > 0 {
		b.WriteString("## Verification\n\n")
		b.WriteString("| template | phase | exit | duration | timed out |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, run := range rep.Verification.Runs {
			fmt.Fprintf(&b, "| %s | %s | %d | %s | %t |\n",
				run.Template, run.Phase, run.ExitCode, durationMS(run.DurationMS), run.TimedOut)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Budgets\n\n")
	fmt.Fprintf(&b, "- Ticks: %s\n", humanize.Comma(int64(rep.Budgets.Ticks)))
	fmt.Fprintf(&b, "- Orchestrator calls: %s\n", humanize.Comma(int64(rep.Budgets.OrchestratorCalls)))
	fmt.Fprintf(&b, "- Builder calls: %s\n", humanize.Comma(int64(rep.Budgets.BuilderCalls)))
	fmt.Fprintf(&b, "- Verify runs: %s\n", humanize.Comma(int64(rep.Budgets.VerifyRuns)))

	return b.String()
}

func durationMS(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Millisecond).String()
}

// RenderTerminal renders a short styled summary of rep for `tickrun status`.
// The caller decides whether stdout is a terminal; this only builds the
// string, matching the teacher's applyStyle-at-the-call-site convention.
func RenderTerminal(rep *types.Report) string {
	var b strings.Builder

	verdictStyle := styleInfo
	switch rep.Verdict {
	case types.VerdictSuccess:
		verdictStyle = styleSuccess
	case types.VerdictStop:
		verdictStyle = styleWarning
	case types.VerdictBlocked:
		verdictStyle = styleError
	}

	b.WriteString(styleHeader.Render(fmt.Sprintf("tick %s", rep.RunID)))
	b.WriteString("\n")
	b.WriteString(verdictStyle.Render(fmt.Sprintf("%s (%s)", rep.Verdict, rep.Code)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "duration: %s\n", durationMS(rep.DurationMS))
	if rep.TaskSummary != "" {
		fmt.Fprintf(&b, "summary: %s\n", rep.TaskSummary)
	}
	fmt.Fprintf(&b, "budgets: ticks=%s orchestrator=%s builder=%s verify=%s\n",
		humanize.Comma(int64(rep.Budgets.Ticks)),
		humanize.Comma(int64(rep.Budgets.OrchestratorCalls)),
		humanize.Comma(int64(rep.Budgets.BuilderCalls)),
		humanize.Comma(int64(rep.Budgets.VerifyRuns)))

	return b.String()
}
