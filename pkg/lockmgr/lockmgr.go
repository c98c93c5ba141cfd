// Package lockmgr implements the single exclusive, content-addressed
// workspace lock described in spec.md §4.2: a pid+boot-id bearing lock file
// claimed via create-exclusive semantics, with stale-owner detection, backed
// by an OS-level advisory flock as a fast same-host guard.
package lockmgr

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/ticklab/runner/pkg/logger"
)

var log = logger.New("lockmgr")

// ErrKind classifies why Acquire failed.
type ErrKind string

const (
	ErrHeld    ErrKind = "held"
	ErrCorrupt ErrKind = "corrupt"
	ErrIO      ErrKind = "io"
)

// AcquireError is returned by Acquire.
type AcquireError struct {
	Kind ErrKind
	Path string
	Err  error
}

func (e *AcquireError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lockmgr: %s %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("lockmgr: %s %s", e.Kind, e.Path)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// Contents is the JSON body written into the lock file.
type Contents struct {
	PID        int       `json:"pid"`
	BootID     string    `json:"boot_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock represents a held workspace lock. Release is idempotent and
// best-effort.
type Lock struct {
	path       string
	flock      *flock.Flock
	AcquiredAt time.Time
	PID        int
}

// bootIDFunc and aliveFunc are indirected for tests.
var (
	bootIDFunc = readBootID
	aliveFunc  = processAlive
)

// Acquire claims path exclusively. It first takes a same-host OS advisory
// flock (fails fast if another process in this boot session holds it), then
// performs the create-exclusive protocol against the file's JSON contents to
// detect stale locks left behind by a crashed process (different boot id, or
// a pid that is no longer alive).
func Acquire(path string) (*Lock, error) {
	fl := flock.New(path + ".flock")
	gotFlock, err := fl.TryLock()
	if err != nil {
		return nil, &AcquireError{Kind: ErrIO, Path: path, Err: err}
	}
	if !gotFlock {
		return nil, &AcquireError{Kind: ErrHeld, Path: path}
	}

	now := time.Now().UTC()
	contents := Contents{PID: os.Getpid(), BootID: bootIDFunc(), AcquiredAt: now}
	data, err := json.Marshal(contents)
	if err != nil {
		fl.Unlock()
		return nil, &AcquireError{Kind: ErrIO, Path: path, Err: err}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		if _, werr := f.Write(data); werr != nil {
			f.Close()
			os.Remove(path)
			fl.Unlock()
			return nil, &AcquireError{Kind: ErrIO, Path: path, Err: werr}
		}
		f.Close()
		log.Printf("acquired lock %s (pid=%d)", path, contents.PID)
		return &Lock{path: path, flock: fl, AcquiredAt: now, PID: contents.PID}, nil
	}
	if !os.IsExist(err) {
		fl.Unlock()
		return nil, &AcquireError{Kind: ErrIO, Path: path, Err: err}
	}

	// Lock file already exists: inspect the existing owner.
	existing, readErr := os.ReadFile(path)
	if readErr != nil {
		fl.Unlock()
		return nil, &AcquireError{Kind: ErrIO, Path: path, Err: readErr}
	}
	var owner Contents
	if jsonErr := json.Unmarshal(existing, &owner); jsonErr != nil {
		fl.Unlock()
		return nil, &AcquireError{Kind: ErrCorrupt, Path: path, Err: jsonErr}
	}

	if owner.BootID == bootIDFunc() && aliveFunc(owner.PID) {
		fl.Unlock()
		return nil, &AcquireError{Kind: ErrHeld, Path: path}
	}

	// Stale: different boot session, or owner pid is gone. Overwrite.
	log.Printf("lock %s held by stale owner pid=%d boot=%s, reclaiming", path, owner.PID, owner.BootID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fl.Unlock()
		return nil, &AcquireError{Kind: ErrIO, Path: path, Err: err}
	}
	log.Printf("reclaimed stale lock %s (pid=%d)", path, contents.PID)
	return &Lock{path: path, flock: fl, AcquiredAt: now, PID: contents.PID}, nil
}

// Release deletes the lock file and drops the advisory flock. It is
// best-effort: the tick state machine must call it on every terminal path
// (success, blocked, error, interrupt).
func (l *Lock) Release() {
	if l == nil {
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		log.Printf("warn: failed to remove lock file %s: %v", l.path, err)
	}
	if l.flock != nil {
		if err := l.flock.Unlock(); err != nil {
			log.Printf("warn: failed to release flock for %s: %v", l.path, err)
		}
		os.Remove(l.flock.Path())
	}
	log.Printf("released lock %s", l.path)
}

// processAlive reports whether pid refers to a live process on this host.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", pid)); err == nil {
		return true
	}
	// /proc unavailable (non-Linux) or pid not present there: fall back to a
	// signal-0 liveness probe, which on Unix checks existence without
	// actually delivering a signal.
	proc, ferr := os.FindProcess(pid)
	if ferr != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
