// Package gitutil holds small string-classification helpers shared by the
// git adapter and the orchestrator adapter: recognizing an external
// invoker's auth-failure phrasing and validating commit-hash shape.
package gitutil

import "strings"

// IsAuthError reports whether errMsg looks like an authentication failure
// from an external invoker (CLI-based orchestrator/builder/reviewer agent,
// or the git remote it shells out to) — missing or rejected credentials,
// not a code or schema problem. Used by pkg/orchestrator to classify an
// empty-result tick as a likely auth failure per spec.md §4.8.
func IsAuthError(errMsg string) bool {
	lowerMsg := strings.ToLower(errMsg)
	return strings.Contains(lowerMsg, "api_key") ||
		strings.Contains(lowerMsg, "api key") ||
		strings.Contains(lowerMsg, "not logged in") ||
		strings.Contains(lowerMsg, "not logged into") ||
		strings.Contains(lowerMsg, "authentication") ||
		strings.Contains(lowerMsg, "unauthenticated") ||
		strings.Contains(lowerMsg, "unauthorized") ||
		strings.Contains(lowerMsg, "forbidden") ||
		strings.Contains(lowerMsg, "permission denied") ||
		strings.Contains(lowerMsg, "invalid credentials")
}

// IsHexString reports whether s is non-empty and consists only of
// hexadecimal digits, the shape a git commit id must have. Used by
// pkg/gitadapter to reject a corrupt or unexpected `git rev-parse` result
// before it is trusted as a base/head commit.
func IsHexString(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
