package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

// captureStderr captures stderr output produced while f runs.
func captureStderr(f func()) string {
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	f()

	w.Close()
	os.Stderr = old

	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String()
}

func resetCache(debug string) {
	patternCacheLock.Lock()
	patternCache = make(map[string]bool)
	debugEnv = debug
	patternCacheLock.Unlock()
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		debugEnv  string
		namespace string
		enabled   bool
	}{
		{"empty DEBUG disables all loggers", "", "tick", false},
		{"wildcard enables all loggers", "*", "tick", true},
		{"exact match enables logger", "orchestrator", "orchestrator", true},
		{"exact match different namespace disabled", "orchestrator", "builder", false},
		{"namespace wildcard enables matching loggers", "tick:*", "tick:judge", true},
		{"namespace wildcard matches deeply nested", "tick:*", "tick:verify:fast", true},
		{"namespace wildcard does not match different prefix", "tick:*", "builder", false},
		{"multiple patterns with comma", "tick:*,verify:*", "tick:judge", true},
		{"multiple patterns second matches", "tick:*,verify:*", "verify:fast", true},
		{"exclusion pattern disables specific logger", "tick:*,-tick:lock", "tick:lock", false},
		{"exclusion does not affect other loggers", "tick:*,-tick:lock", "tick:judge", true},
		{"exclusion with wildcard", "*,-tick:*", "tick:judge", false},
		{"exclusion with wildcard allows others", "*,-tick:*", "builder", true},
		{"suffix wildcard", "*:sanitize", "stringutil:sanitize", true},
		{"suffix wildcard no match", "*:sanitize", "stringutil:truncate", false},
		{"middle wildcard", "tick:*:fast", "tick:verify:fast", true},
		{"middle wildcard no match prefix", "tick:*:fast", "builder:verify:fast", false},
		{"middle wildcard no match suffix", "tick:*:fast", "tick:verify:slow", false},
		{"spaces in patterns are trimmed", "tick:* , builder:*", "builder:invoke", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetCache(tt.debugEnv)
			l := New(tt.namespace)
			assert.Equal(t, tt.enabled, l.Enabled())
		})
	}
}

func TestLogger_Printf(t *testing.T) {
	tests := []struct {
		name      string
		debugEnv  string
		namespace string
		format    string
		args      []interface{}
		wantLog   bool
	}{
		{"enabled logger prints", "*", "builder", "invoker exited %d", []interface{}{1}, true},
		{"disabled logger does not print", "", "builder", "invoker exited %d", []interface{}{1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetCache(tt.debugEnv)
			l := New(tt.namespace)

			output := captureStderr(func() {
				l.Printf(tt.format, tt.args...)
			})

			if tt.wantLog {
				assert.NotEmpty(t, output)
				assert.Contains(t, output, tt.namespace)
				assert.Contains(t, output, "invoker exited 1")
			} else {
				assert.Empty(t, output)
			}
		})
	}
}

func TestLogger_Print(t *testing.T) {
	resetCache("*")
	l := New("tick")

	output := captureStderr(func() {
		l.Print("tick ", "complete")
	})

	assert.Contains(t, output, "tick")
	assert.Contains(t, output, "tick complete")
}

func TestLogger_LazyPrintf(t *testing.T) {
	tests := []struct {
		name         string
		debugEnv     string
		namespace    string
		shouldInvoke bool
	}{
		{"enabled logger invokes lazy function", "*", "verify", true},
		{"disabled logger does not invoke lazy function", "", "verify", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetCache(tt.debugEnv)
			l := New(tt.namespace)

			invoked := false
			output := captureStderr(func() {
				l.LazyPrintf(func() string {
					invoked = true
					return "verify log persisted"
				})
			})

			assert.Equal(t, tt.shouldInvoke, invoked)
			if tt.shouldInvoke {
				assert.Contains(t, output, "verify log persisted")
			} else {
				assert.Empty(t, output)
			}
		})
	}
}

func TestLogger_EnabledCaching(t *testing.T) {
	resetCache("tick:*")

	logger1 := New("tick:cache")
	assert.True(t, logger1.Enabled())

	logger2 := New("tick:cache")
	assert.True(t, logger2.Enabled())

	patternCacheLock.RLock()
	assert.Len(t, patternCache, 1)
	patternCacheLock.RUnlock()
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		pattern   string
		want      bool
	}{
		{"exact match", "tick:judge", "tick:judge", true},
		{"no match", "tick:judge", "builder:verify", false},
		{"wildcard all", "tick:judge", "*", true},
		{"prefix wildcard", "tick:judge", "tick:*", true},
		{"prefix wildcard no match", "tick:judge", "builder:*", false},
		{"suffix wildcard", "tick:judge", "*:judge", true},
		{"suffix wildcard no match", "tick:judge", "*:verify", false},
		{"middle wildcard", "tick:verify:fast", "tick:*:fast", true},
		{"middle wildcard no match prefix", "builder:verify:fast", "tick:*:fast", false},
		{"middle wildcard no match suffix", "tick:verify:slow", "tick:*:fast", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchPattern(tt.namespace, tt.pattern))
		})
	}
}

func TestComputeEnabled(t *testing.T) {
	tests := []struct {
		name      string
		debugEnv  string
		namespace string
		want      bool
	}{
		{"single pattern match", "tick:*", "tick:judge", true},
		{"single pattern no match", "tick:*", "builder:verify", false},
		{"multiple patterns first match", "tick:*,builder:*", "tick:judge", true},
		{"multiple patterns second match", "tick:*,builder:*", "builder:verify", true},
		{"multiple patterns no match", "tick:*,builder:*", "orchestrator:retry", false},
		{"exclusion disables", "tick:*,-tick:lock", "tick:lock", false},
		{"exclusion allows others", "tick:*,-tick:lock", "tick:judge", true},
		{"exclusion wildcard", "*,-tick:*", "tick:judge", false},
		{"exclusion wildcard allows", "*,-tick:*", "builder:verify", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			debugEnv = tt.debugEnv
			assert.Equal(t, tt.want, computeEnabled(tt.namespace))
		})
	}
}
