package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	errorColor = lipgloss.AdaptiveColor{Light: "#D73737", Dark: "#FF5555"}
	infoColor  = lipgloss.AdaptiveColor{Light: "#2980B9", Dark: "#8BE9FD"}

	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(errorColor)
	infoStyle  = lipgloss.NewStyle().Foreground(infoColor)
)

// formatErrorMessage styles a message for stderr, matching the teacher's
// console.FormatErrorMessage convention.
func formatErrorMessage(msg string) string {
	return errorStyle.Render(fmt.Sprintf("✗ %s", msg))
}

// formatInfoMessage styles a message for stderr informational output.
func formatInfoMessage(msg string) string {
	return infoStyle.Render(msg)
}
