// Package history enforces the size cap on history/** described in
// spec.md §6: per-tick artifact directories (task.json and
// builder_result.json written by pkg/builder; diff.patch and verify.log
// written by pkg/tick) are retained only up to cfg.HistoryRetention most
// recent run ids.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ticklab/runner/pkg/atomicfs"
	"github.com/ticklab/runner/pkg/config"
	"github.com/ticklab/runner/pkg/logger"
)

var log = logger.New("history")

// ArchiveMilestone writes a snapshot of a departing milestone's ledger to
// history/milestones/<id>.json before its budget counters are reset, per
// spec.md §4.12's autonomous-mode "archive the departing milestone's ledger"
// requirement. ledger is typically a *state.WorkspaceState; it is accepted
// as `any`, so this package does not import pkg/state. An empty milestoneID is a no-op: there is no
// prior milestone to archive on the very first tick.
func ArchiveMilestone(cfg *config.Config, milestoneID string, ledger any) error {
	if milestoneID == "" {
		return nil
	}
	dir := filepath.Join(cfg.HistoryDir(), "milestones")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("history: creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, milestoneID+".json")
	if err := atomicfs.WriteJSON(path, ledger); err != nil {
		return fmt.Errorf("history: archiving milestone %s: %w", milestoneID, err)
	}
	log.Printf("archived milestone %s ledger to %s", milestoneID, path)
	return nil
}

// Prune removes the oldest run-id subdirectories of cfg.HistoryDir() beyond
// cfg.HistoryRetention, ordered lexically by name (run ids are
// timestamp-prefixed, so lexical order is chronological order). A
// HistoryRetention of 0 or less disables pruning entirely.
func Prune(cfg *config.Config) error {
	if cfg.HistoryRetention <= 0 {
		return nil
	}
	dir := cfg.HistoryDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("history: reading %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		// milestones/ holds archived ledgers, not per-run artifacts; it is
		// never subject to run-id retention.
		if e.IsDir() && e.Name() != "milestones" {
			names = append(names, e.Name())
		}
	}
	if len(names) <= cfg.HistoryRetention {
		return nil
	}
	sort.Strings(names)

	toRemove := names[:len(names)-cfg.HistoryRetention]
	for _, n := range toRemove {
		full := filepath.Join(dir, n)
		if err := os.RemoveAll(full); err != nil {
			return fmt.Errorf("history: removing %s: %w", full, err)
		}
		log.Printf("pruned history entry %s", n)
	}
	return nil
}
