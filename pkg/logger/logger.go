// Package logger is the runner's namespaced debug tracer, gated on the
// DEBUG environment variable (DEBUG=tick:*,-tick:verify). It exists for
// low-volume operational tracing of the tick phases and adapters; the
// REPORT.json artifact, not this output, is the source of truth for a
// tick's outcome.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Logger emits trace lines to stderr for one namespace. Whether it is
// enabled is decided once, at construction, from the DEBUG selector.
type Logger struct {
	namespace string
	enabled   bool
	color     string

	mu   sync.Mutex
	last time.Time
}

var (
	debugEnv = os.Getenv("DEBUG")
	useColor = os.Getenv("DEBUG_COLORS") != "0" && isatty.IsTerminal(os.Stderr.Fd())

	// patternCache memoizes the DEBUG-selector decision per namespace, so
	// the comma-split and wildcard walk run once per namespace rather than
	// once per logger construction.
	patternCache     = make(map[string]bool)
	patternCacheLock sync.RWMutex
)

// ansiPalette cycles the bright ANSI foregrounds; each namespace gets one
// so interleaved trace lines from different components stay tellable apart.
var ansiPalette = [...]string{
	"\033[96m", // cyan
	"\033[92m", // green
	"\033[93m", // yellow
	"\033[94m", // blue
	"\033[95m", // magenta
	"\033[91m", // red
}

const ansiReset = "\033[0m"

// New returns a Logger for namespace. DEBUG selectors are comma-separated
// patterns with "*" wildcards; a leading "-" excludes:
//
//	DEBUG=*                     everything
//	DEBUG=tick:*                the tick state machine's phases
//	DEBUG=tick:*,-tick:verify   tick phases except the verify runner
//	DEBUG=orchestrator,builder  exactly those two namespaces
func New(namespace string) *Logger {
	return &Logger{
		namespace: namespace,
		enabled:   enabledFor(namespace),
		color:     colorFor(namespace),
		last:      time.Now(),
	}
}

// Enabled reports whether this logger's namespace is selected by DEBUG.
func (l *Logger) Enabled() bool {
	return l.enabled
}

// Printf traces a formatted message. No-op when the namespace is not
// selected.
func (l *Logger) Printf(format string, args ...interface{}) {
	if !l.enabled {
		return
	}
	l.emit(fmt.Sprintf(format, args...))
}

// Print traces a message assembled from args. No-op when the namespace is
// not selected.
func (l *Logger) Print(args ...interface{}) {
	if !l.enabled {
		return
	}
	l.emit(fmt.Sprint(args...))
}

// LazyPrintf traces the result of build, which is only invoked when the
// namespace is selected. Use it when assembling the message is itself
// costly (rendering a diff summary, walking a path list).
func (l *Logger) LazyPrintf(build func() string) {
	if !l.enabled {
		return
	}
	l.emit(build())
}

// emit writes one trace line, tagged with the namespace and the elapsed
// time since this logger's previous line.
func (l *Logger) emit(message string) {
	l.mu.Lock()
	now := time.Now()
	elapsed := now.Sub(l.last)
	l.last = now
	l.mu.Unlock()

	tag := l.namespace
	if l.color != "" {
		tag = l.color + tag + ansiReset
	}
	fmt.Fprintf(os.Stderr, "%s %s +%s\n", tag, message, sinceLabel(elapsed))
}

// sinceLabel renders the gap between consecutive lines at a precision a
// human scanning a trace actually wants.
func sinceLabel(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(10 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

// colorFor deterministically assigns a palette entry to namespace.
func colorFor(namespace string) string {
	if !useColor {
		return ""
	}
	sum := 0
	for i := 0; i < len(namespace); i++ {
		sum += int(namespace[i])
	}
	return ansiPalette[sum%len(ansiPalette)]
}

// enabledFor answers computeEnabled through the per-namespace cache.
func enabledFor(namespace string) bool {
	patternCacheLock.RLock()
	on, hit := patternCache[namespace]
	patternCacheLock.RUnlock()
	if hit {
		return on
	}
	on = computeEnabled(namespace)
	patternCacheLock.Lock()
	patternCache[namespace] = on
	patternCacheLock.Unlock()
	return on
}

// computeEnabled evaluates the DEBUG selector for namespace: any matching
// exclusion wins outright, otherwise any matching inclusion enables.
func computeEnabled(namespace string) bool {
	var include []string
	for _, raw := range strings.Split(debugEnv, ",") {
		pattern := strings.TrimSpace(raw)
		if pattern == "" {
			continue
		}
		if excl, ok := strings.CutPrefix(pattern, "-"); ok {
			if matchPattern(namespace, excl) {
				return false
			}
			continue
		}
		include = append(include, pattern)
	}
	for _, pattern := range include {
		if matchPattern(namespace, pattern) {
			return true
		}
	}
	return false
}

// matchPattern matches namespace against a selector pattern where each "*"
// spans any run of characters, including none.
func matchPattern(namespace, pattern string) bool {
	if pattern == "" {
		return false
	}
	segments := strings.Split(pattern, "*")
	if len(segments) == 1 {
		return namespace == pattern
	}
	rest, ok := strings.CutPrefix(namespace, segments[0])
	if !ok {
		return false
	}
	for _, segment := range segments[1 : len(segments)-1] {
		idx := strings.Index(rest, segment)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(segment):]
	}
	return strings.HasSuffix(rest, segments[len(segments)-1])
}
