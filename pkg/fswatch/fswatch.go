// Package fswatch wraps fsnotify so `tickrun loop --watch` can block, once
// the loop has stopped, until an operator edits a workspace file
// (REPORT.json, BLOCKED.json, FACTS.md) instead of busy-polling; the command
// exits when that wait ends. It sits outside the tick state machine
// entirely: nothing here is a precondition of a tick.
package fswatch

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/ticklab/runner/pkg/logger"
)

var log = logger.New("fswatch")

// WaitForChange blocks until one of names changes inside dir, ctx is
// canceled, or an unrecoverable watcher error occurs. A nil return means a
// watched file changed; ctx.Err() distinguishes cancellation from that.
func WaitForChange(ctx context.Context, dir string, names []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	watched := make(map[string]bool, len(names))
	for _, n := range names {
		watched[n] = true
	}

	log.Printf("watching %s for changes to %v", dir, names)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Base(ev.Name)] {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				log.Printf("detected change to %s", ev.Name)
				return nil
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return werr
		}
	}
}
