// Package atomicfs provides crash-safe writes for the runner-owned JSON and
// markdown artifacts (STATE.json, REPORT.json, REPORT.md, BLOCKED.json):
// write-temp, fsync, rename-over-target, so a reader never observes a
// partially written file.
package atomicfs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ticklab/runner/pkg/logger"
)

var log = logger.New("atomicfs")

const tmpSuffix = ".tmp"

// WriteError is returned by WriteJSON/WriteFile/ReadJSON on any failure; it
// always carries the path that was being operated on.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("atomicfs: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// WriteJSON serializes value as stable-indented UTF-8 JSON with a trailing
// newline and atomically replaces path with the result.
func WriteJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return &WriteError{Path: path, Op: "marshal", Err: err}
	}
	data = append(data, '\n')
	return WriteFile(path, data)
}

// WriteFile atomically replaces path with data using write-temp-fsync-rename.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*"+tmpSuffix)
	if err != nil {
		return &WriteError{Path: path, Op: "create_temp", Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &WriteError{Path: path, Op: "write", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &WriteError{Path: path, Op: "fsync", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &WriteError{Path: path, Op: "close", Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &WriteError{Path: path, Op: "rename", Err: err}
	}
	log.Printf("wrote %s (%d bytes)", path, len(data))
	return nil
}

// ReadJSON reads and parses path into value, returning a typed error that
// names the path on failure.
func ReadJSON(path string, value any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &WriteError{Path: path, Op: "read", Err: err}
	}
	if err := json.Unmarshal(data, value); err != nil {
		return &WriteError{Path: path, Op: "unmarshal", Err: err}
	}
	return nil
}

// CleanupTemp enumerates the direct entries of dir and unlinks every file
// whose name ends with suffix (default ".tmp" when suffix is empty). It
// continues past individual removal failures and returns the aggregate.
func CleanupTemp(dir string, suffix string) []error {
	if suffix == "" {
		suffix = tmpSuffix
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return []error{&WriteError{Path: dir, Op: "readdir", Err: err}}
	}

	var failures []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Printf("warn: failed to remove stale temp file %s: %v", p, err)
			failures = append(failures, &WriteError{Path: p, Op: "remove", Err: err})
		} else {
			log.Printf("removed stale temp file %s", p)
		}
	}
	return failures
}

// CleanupGlob unlinks every file under dir matching the workspace-relative
// pattern. Callers must have vetted pattern with GlobSafe first; an unsafe
// pattern here is a programming error and nothing is deleted. Like
// CleanupTemp it continues past individual removal failures and returns the
// aggregate.
func CleanupGlob(dir, pattern string) []error {
	if safety := GlobSafe(pattern); !safety.Safe {
		return []error{&WriteError{Path: pattern, Op: "glob", Err: fmt.Errorf("unsafe pattern: %s", safety.Reason)}}
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return []error{&WriteError{Path: pattern, Op: "glob", Err: err}}
	}

	var failures []error
	for _, p := range matches {
		info, statErr := os.Stat(p)
		if statErr != nil || info.IsDir() {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Printf("warn: failed to remove stale file %s: %v", p, err)
			failures = append(failures, &WriteError{Path: p, Op: "remove", Err: err})
		} else {
			log.Printf("removed stale file %s", p)
		}
	}
	return failures
}

// GlobSafety is the outcome of GlobSafe.
type GlobSafety struct {
	Safe   bool
	Reason string
}

// GlobSafe rejects delete-glob patterns that could escape the workspace
// directory: empty/whitespace-only, containing "..", absolute (leading "/"
// or a drive letter like "C:"), or UNC (leading "\\" or "//").
func GlobSafe(pattern string) GlobSafety {
	trimmed := strings.TrimSpace(pattern)
	if trimmed == "" {
		return GlobSafety{Safe: false, Reason: "pattern is empty or whitespace-only"}
	}
	if strings.Contains(pattern, "..") {
		return GlobSafety{Safe: false, Reason: "pattern contains '..'"}
	}
	if strings.HasPrefix(pattern, "/") {
		return GlobSafety{Safe: false, Reason: "pattern is an absolute path"}
	}
	if len(pattern) >= 2 && pattern[1] == ':' && isDriveLetter(pattern[0]) {
		return GlobSafety{Safe: false, Reason: "pattern is an absolute path (drive letter)"}
	}
	if strings.HasPrefix(pattern, `\\`) || strings.HasPrefix(pattern, "//") {
		return GlobSafety{Safe: false, Reason: "pattern is a UNC path"}
	}
	return GlobSafety{Safe: true}
}

func isDriveLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
