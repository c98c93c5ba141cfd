package stringutil

import (
	"regexp"

	"github.com/ticklab/runner/pkg/logger"
)

var sanitizeLog = logger.New("stringutil:sanitize")

// Regex patterns for detecting potential secret key names
var (
	// Match uppercase snake_case identifiers that look like secret names (e.g., MY_SECRET_KEY, API_KEY)
	// Excludes the runner's own non-sensitive env var names.
	secretNamePattern = regexp.MustCompile(`\b([A-Z][A-Z0-9]*_[A-Z0-9_]+)\b`)

	// Match PascalCase identifiers ending with security-related suffixes (e.g., DeploySecret, ApiKey)
	pascalCaseSecretPattern = regexp.MustCompile(`\b([A-Z][a-z0-9]*(?:[A-Z][a-z0-9]*)*(?:Token|Key|Secret|Password|Credential|Auth))\b`)

	// Runner-domain identifiers to exclude from redaction even though they
	// match the snake_case shape (env vars the runner itself sets, per
	// pkg/orchestrator's orchestratorEnv and pkg/config).
	commonRunnerKeywords = map[string]bool{
		"PROTOCOL":        true,
		"DRIVER_KIND":     true,
		"MODEL":           true,
		"MAX_TURNS":       true,
		"PERMISSION_MODE": true,
		"WORKSPACE_DIR":   true,
		"MILESTONE_ID":    true,
		"TASK_ID":         true,
		"RUN_ID":          true,
		"PATH":            true,
		"HOME":            true,
		"SHELL":           true,
		"LANG":            true,
	}
)

// SanitizeErrorMessage redacts substrings of message that look like secret
// key names (e.g., API_KEY, DeploySecret) before the message is persisted to
// a report, blocked record, or verify log, per spec.md §4.5's requirement
// that raw invoker output never be persisted unsanitized.
func SanitizeErrorMessage(message string) string {
	if message == "" {
		return message
	}

	sanitizeLog.Printf("Sanitizing error message: length=%d", len(message))

	// Redact uppercase snake_case patterns (e.g., MY_SECRET_KEY, API_TOKEN)
	sanitized := secretNamePattern.ReplaceAllStringFunc(message, func(match string) string {
		// Don't redact the runner's own non-sensitive env var names.
		if commonRunnerKeywords[match] {
			return match
		}
		sanitizeLog.Printf("Redacted snake_case secret pattern: %s", match)
		return "[REDACTED]"
	})

	// Redact PascalCase patterns ending with security suffixes (e.g., DeploySecret, ApiKey)
	sanitized = pascalCaseSecretPattern.ReplaceAllString(sanitized, "[REDACTED]")

	if sanitized != message {
		sanitizeLog.Print("Error message sanitization applied redactions")
	}

	return sanitized
}
