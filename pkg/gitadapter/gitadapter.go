// Package gitadapter wraps argv-only invocations of the git binary (no
// shell) that the tick engine needs: HEAD lookup, worktree cleanliness,
// diff enumeration, numstat parsing, and rollback.
package gitadapter

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ticklab/runner/pkg/gitutil"
	"github.com/ticklab/runner/pkg/logger"
)

var log = logger.New("gitadapter")

// Adapter runs git commands rooted at Dir.
type Adapter struct {
	Dir string
}

func New(dir string) *Adapter { return &Adapter{Dir: dir} }

func (a *Adapter) run(ctx context.Context, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = a.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	log.Printf("git %s", strings.Join(args, " "))
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Head returns the current HEAD commit id.
func (a *Adapter) Head(ctx context.Context) (string, error) {
	out, stderr, err := a.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("gitadapter: head: %w: %s", err, strings.TrimSpace(stderr))
	}
	head := strings.TrimSpace(out)
	if !gitutil.IsHexString(head) {
		return "", fmt.Errorf("gitadapter: head: unexpected rev-parse output %q", head)
	}
	return head, nil
}

// Branch returns the current branch name, or "" in detached-HEAD state.
func (a *Adapter) Branch(ctx context.Context) (string, error) {
	out, _, err := a.run(ctx, "symbolic-ref", "--short", "-q", "HEAD")
	if err != nil {
		return "", nil // detached HEAD; not an error for our purposes
	}
	return strings.TrimSpace(out), nil
}

// StatusEntry is one line of `git status --porcelain`.
type StatusEntry struct {
	Code string // two-letter porcelain status code, e.g. "??", " M", "A "
	Path string
}

func (a *Adapter) porcelainStatus(ctx context.Context) ([]StatusEntry, error) {
	out, stderr, err := a.run(ctx, "status", "--porcelain=1", "--untracked-files=all")
	if err != nil {
		return nil, fmt.Errorf("gitadapter: status: %w: %s", err, strings.TrimSpace(stderr))
	}
	var entries []StatusEntry
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 3 {
			continue
		}
		entries = append(entries, StatusEntry{Code: line[:2], Path: strings.TrimSpace(line[3:])})
	}
	return entries, nil
}

// Clean reports whether the worktree is clean, ignoring any dirty entry
// whose path matches one of the provided globs (runner-owned paths).
func (a *Adapter) Clean(ctx context.Context, matchesIgnore func(path string) bool) (bool, []StatusEntry, error) {
	entries, err := a.porcelainStatus(ctx)
	if err != nil {
		return false, nil, err
	}
	var dirty []StatusEntry
	for _, e := range entries {
		if matchesIgnore != nil && matchesIgnore(e.Path) {
			continue
		}
		dirty = append(dirty, e)
	}
	return len(dirty) == 0, dirty, nil
}

// VerifyClean reports true iff there are no uncommitted changes and no
// untracked files at all (used after rollback).
func (a *Adapter) VerifyClean(ctx context.Context) (bool, error) {
	entries, err := a.porcelainStatus(ctx)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// TouchedTracked returns the set of tracked paths whose worktree content
// differs from base. Builders leave their work uncommitted, so the diff is
// taken against the worktree, not HEAD. Renames report only the destination
// path.
func (a *Adapter) TouchedTracked(ctx context.Context, base string) ([]string, error) {
	out, stderr, err := a.run(ctx, "diff", "--name-status", base)
	if err != nil {
		return nil, fmt.Errorf("gitadapter: diff name-status: %w: %s", err, strings.TrimSpace(stderr))
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		status := fields[0]
		if strings.HasPrefix(status, "R") && len(fields) >= 3 {
			paths = append(paths, fields[2]) // rename destination
			continue
		}
		paths = append(paths, fields[len(fields)-1])
	}
	return paths, nil
}

// TouchedUntracked returns paths reported as untracked (porcelain "??" or
// staged-new "A ") by git status.
func (a *Adapter) TouchedUntracked(ctx context.Context) ([]string, error) {
	entries, err := a.porcelainStatus(ctx)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.Code == "??" || e.Code == "A " || strings.HasPrefix(e.Code, "A") {
			paths = append(paths, e.Path)
		}
	}
	return paths, nil
}

// LineStat is the added/deleted line count for one file.
type LineStat struct {
	Path    string
	Added   int
	Deleted int
	Binary  bool
}

// Numstat parses `git diff --numstat base` against the worktree, treating
// "-"/"-" entries (binary files) as contributing 0 added/deleted lines.
func (a *Adapter) Numstat(ctx context.Context, base string) ([]LineStat, error) {
	out, stderr, err := a.run(ctx, "diff", "--numstat", base)
	if err != nil {
		return nil, fmt.Errorf("gitadapter: diff numstat: %w: %s", err, strings.TrimSpace(stderr))
	}
	var stats []LineStat
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			continue
		}
		ls := LineStat{Path: fields[2]}
		if fields[0] == "-" && fields[1] == "-" {
			ls.Binary = true
		} else {
			ls.Added, _ = strconv.Atoi(fields[0])
			ls.Deleted, _ = strconv.Atoi(fields[1])
		}
		stats = append(stats, ls)
	}
	return stats, nil
}

// Patch returns the unified diff between base and the worktree, suitable
// for persisting as the report's diff patch_path.
func (a *Adapter) Patch(ctx context.Context, base string) (string, error) {
	out, stderr, err := a.run(ctx, "diff", base)
	if err != nil {
		return "", fmt.Errorf("gitadapter: diff: %w: %s", err, strings.TrimSpace(stderr))
	}
	return out, nil
}

// Analysis is the composed result of Analyze: the union of touched tracked
// and untracked paths, with aggregate line stats and new-file count.
type Analysis struct {
	Paths        []string
	TrackedPaths []string
	NewFiles     []string
	LinesAdded   int
	LinesDeleted int
}

// Analyze composes TouchedTracked, TouchedUntracked, and Numstat into one
// deterministic (sorted) blast-radius summary.
func (a *Adapter) Analyze(ctx context.Context, base string) (*Analysis, error) {
	tracked, err := a.TouchedTracked(ctx, base)
	if err != nil {
		return nil, err
	}
	untracked, err := a.TouchedUntracked(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := a.Numstat(ctx, base)
	if err != nil {
		return nil, err
	}

	statByPath := make(map[string]LineStat, len(stats))
	for _, s := range stats {
		statByPath[s.Path] = s
	}

	seen := make(map[string]bool)
	var paths []string
	for _, p := range tracked {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	for _, p := range untracked {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	result := &Analysis{Paths: paths, TrackedPaths: append([]string(nil), tracked...), NewFiles: append([]string(nil), untracked...)}
	sort.Strings(result.TrackedPaths)
	sort.Strings(result.NewFiles)
	for _, p := range paths {
		if s, ok := statByPath[p]; ok && !s.Binary {
			result.LinesAdded += s.Added
			result.LinesDeleted += s.Deleted
		}
	}
	return result, nil
}

// ResetHard resets the worktree and index to commit, discarding all tracked
// changes since.
func (a *Adapter) ResetHard(ctx context.Context, commit string) error {
	_, stderr, err := a.run(ctx, "reset", "--hard", commit)
	if err != nil {
		return fmt.Errorf("gitadapter: reset --hard: %w: %s", err, strings.TrimSpace(stderr))
	}
	return nil
}

// CheckoutOrCreate switches to branch name, creating it from the current
// HEAD if it does not already exist.
func (a *Adapter) CheckoutOrCreate(ctx context.Context, name string) error {
	if _, stderr, err := a.run(ctx, "checkout", name); err == nil {
		return nil
	} else {
		log.Printf("branch %s not found, creating: %s", name, strings.TrimSpace(stderr))
	}
	_, stderr, err := a.run(ctx, "checkout", "-b", name)
	if err != nil {
		return fmt.Errorf("gitadapter: checkout -b %s: %w: %s", name, err, strings.TrimSpace(stderr))
	}
	return nil
}

// RemoveUntracked deletes each of paths if present, tolerating
// already-missing entries.
func (a *Adapter) RemoveUntracked(paths []string) error {
	for _, p := range paths {
		full := filepath.Join(a.Dir, p)
		if err := os.RemoveAll(full); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("gitadapter: remove untracked %s: %w", p, err)
		}
	}
	return nil
}
