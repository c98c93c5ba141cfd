package logger_test

import (
	"fmt"

	"github.com/ticklab/runner/pkg/logger"
)

// The runner's components each construct one package-level logger; the
// operator selects which ones trace via DEBUG before launching tickrun:
//
//	DEBUG=tick:* tickrun loop --mode autonomous
func ExampleNew() {
	log := logger.New("tick")

	// Enabled is fixed at construction from the DEBUG selector, so hot
	// paths can guard message assembly on it.
	if log.Enabled() {
		log.Printf("tick starting")
	}
}

// Printf traces one line to stderr, tagged with the namespace and the gap
// since the logger's previous line.
func ExampleLogger_Printf() {
	log := logger.New("verify")

	log.Printf("template %s exit=%d", "unit", 0)
	// With DEBUG=verify set, stderr shows: verify template unit exit=0 +0s
}

// LazyPrintf defers message assembly until the namespace is known to be
// selected — the closure never runs under a disabled logger.
func ExampleLogger_LazyPrintf() {
	log := logger.New("tick:judge")

	log.LazyPrintf(func() string {
		// Only rendered when DEBUG selects tick:judge.
		return fmt.Sprintf("diff analysis: %d paths", 3)
	})
}

// Selector patterns the runner's operators actually use.
func ExampleNew_selectors() {
	// DEBUG=*                       every component
	// DEBUG=tick:*                  the tick state machine's phases
	// DEBUG=tick:*,-tick:verify     tick phases, minus the verify runner
	// DEBUG=orchestrator,builder    the two LLM adapters only
	// DEBUG=*,-gitadapter           everything except git invocation noise
	_ = logger.New("tick:verify")
}
