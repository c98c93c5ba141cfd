// Package scope implements the scope & diff policy from spec.md §4.4:
// glob matching against allow/forbid lists, lockfile detection, and
// diff-limit checks.
package scope

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ticklab/runner/pkg/gitadapter"
	"github.com/ticklab/runner/pkg/types"
)

// MatchesGlob returns true if p matches any of patterns, using Bash-like
// glob semantics (including "**"). An empty pattern list always returns
// false.
func MatchesGlob(p string, patterns []string) bool {
	clean := path.Clean(p)
	for _, pat := range patterns {
		if ok, _ := doublestar.Match(pat, clean); ok {
			return true
		}
		// doublestar.Match requires a full match; also allow a bare
		// directory-less pattern to match by basename, matching Bash glob
		// habits users expect from allow/forbid lists like "*.lock".
		if ok, _ := doublestar.Match(pat, path.Base(clean)); ok {
			return true
		}
	}
	return false
}

// IsLockfile reports whether p is a lockfile per the configured name list:
// a bare name matches by suffix equality against the basename, while any
// name containing a glob metacharacter is matched with doublestar.
func IsLockfile(p string, lockfileNames []string) bool {
	base := path.Base(path.Clean(p))
	for _, name := range lockfileNames {
		if strings.ContainsAny(name, "*?[") {
			if ok, _ := doublestar.Match(name, base); ok {
				return true
			}
			continue
		}
		if base == name {
			return true
		}
	}
	return false
}

// ViolationKind is the closed set of scope violation reasons.
type ViolationKind string

const (
	ViolationForbidden         ViolationKind = "forbidden"
	ViolationOutsideAllowed    ViolationKind = "outside-allowed"
	ViolationNewFileForbidden  ViolationKind = "new-file-forbidden"
	ViolationLockfileForbidden ViolationKind = "lockfile-change-forbidden"
)

// Violation names the path and the rule it broke.
type Violation struct {
	Path string
	Kind ViolationKind
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Kind)
}

// CheckResult is the outcome of CheckScope.
type CheckResult struct {
	OK         bool
	Violations []Violation
}

// CheckScope evaluates every touched path against task scope, in the order
// specified by spec.md §4.4: forbidden, then outside-allowed, then
// new-file, then lockfile. The first matching rule for a path wins; all
// paths are checked and all violations reported.
func CheckScope(touched []string, untracked []string, taskScope types.Scope, lockfileNames []string) CheckResult {
	untrackedSet := make(map[string]bool, len(untracked))
	for _, p := range untracked {
		untrackedSet[p] = true
	}

	result := CheckResult{OK: true}
	for _, p := range touched {
		if v, hit := checkPath(p, untrackedSet[p], taskScope, lockfileNames); hit {
			result.OK = false
			result.Violations = append(result.Violations, v)
		}
	}
	return result
}

func checkPath(p string, isUntracked bool, taskScope types.Scope, lockfileNames []string) (Violation, bool) {
	if MatchesGlob(p, taskScope.ForbiddenGlobs) {
		return Violation{Path: p, Kind: ViolationForbidden}, true
	}
	if len(taskScope.AllowedGlobs) > 0 && !MatchesGlob(p, taskScope.AllowedGlobs) {
		return Violation{Path: p, Kind: ViolationOutsideAllowed}, true
	}
	if isUntracked && !taskScope.AllowNewFiles {
		return Violation{Path: p, Kind: ViolationNewFileForbidden}, true
	}
	if IsLockfile(p, lockfileNames) && !taskScope.AllowLockfileChange {
		return Violation{Path: p, Kind: ViolationLockfileForbidden}, true
	}
	return Violation{}, false
}

// DiffLimitViolation names which dimension exceeded its cap.
type DiffLimitViolation struct {
	Dimension string
	Actual    int
	Max       int
}

func (v DiffLimitViolation) String() string {
	return fmt.Sprintf("%s: %d exceeds max %d", v.Dimension, v.Actual, v.Max)
}

// CheckDiffLimits fails when files touched or total changed lines exceed
// the configured maxima. Both dimensions are checked independently so a
// violation message can name both.
func CheckDiffLimits(analysis *gitadapter.Analysis, limits types.DiffLimits) []DiffLimitViolation {
	var violations []DiffLimitViolation
	filesTouched := len(analysis.Paths)
	linesChanged := analysis.LinesAdded + analysis.LinesDeleted

	if limits.MaxFiles > 0 && filesTouched > limits.MaxFiles {
		violations = append(violations, DiffLimitViolation{Dimension: "files", Actual: filesTouched, Max: limits.MaxFiles})
	}
	if limits.MaxLines > 0 && linesChanged > limits.MaxLines {
		violations = append(violations, DiffLimitViolation{Dimension: "lines", Actual: linesChanged, Max: limits.MaxLines})
	}
	return violations
}

// CheckHeadMoved fails with true when expected and actual commits differ.
func CheckHeadMoved(expected, actual string) bool {
	return expected != actual
}
