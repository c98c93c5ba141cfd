// Package stringutil shapes external command output before it is persisted
// into runner artifacts: excerpt capping for orchestrator diagnostics,
// whitespace normalization for verify logs, and the secret-name redaction
// in sanitize.go.
package stringutil

import "strings"

// Truncate caps s at maxLen bytes for use as a diagnostics excerpt. When
// anything is dropped the cut is marked with "..." so a report reader can
// tell a capped excerpt from a short one; at maxLen of 3 or below there is
// no room for the marker and the string is cut plainly.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	const marker = "..."
	if maxLen <= len(marker) {
		return s[:maxLen]
	}
	return s[:maxLen-len(marker)] + marker
}

// NormalizeWhitespace gives a verify log a stable shape before it is
// written to history/: trailing spaces and tabs are stripped from every
// line, and non-empty content ends in exactly one newline. Two runs of the
// same templates then produce byte-identical logs regardless of how their
// commands terminated their output.
func NormalizeWhitespace(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	joined := strings.TrimRight(strings.Join(lines, "\n"), "\n")
	if joined == "" {
		return ""
	}
	return joined + "\n"
}
