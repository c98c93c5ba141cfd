// Package invoker defines the narrow interface through which the
// orchestrator, builder, and reviewer adapters call external agents,
// matching spec.md §9's "mocked subprocess invocation" re-architecture:
// adapters depend on an interface, not a concrete subprocess call, so tests
// substitute deterministic fakes.
package invoker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/ticklab/runner/pkg/logger"
)

var log = logger.New("invoker")

// Result is what an Invoker call returns.
type Result struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	DurationMS int64
	TimedOut   bool
}

// Request is the opaque call carried to an Invoker.
type Request struct {
	Command string
	Args    []string
	Env     []string
	Dir     string // working directory for subprocess backends; "" inherits
	Timeout time.Duration
	Stdin   string
}

// Invoker maps a Request to a Result. Implementations must never interpret
// or reason about the content they pass through.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// nativeInvokerCommand is the sentinel invoker.command value that selects
// the native Anthropic SDK backend instead of shelling out to a CLI agent.
const nativeInvokerCommand = "anthropic-native"

// Resolve picks ArgvInvoker for any configured CLI command, or an
// AnthropicInvoker when command is the nativeInvokerCommand sentinel,
// letting orchestrator/reviewer configs opt into the native SDK
// backend per spec.md's invoker indirection without adapters knowing which
// backend they got.
func Resolve(command, model string) Invoker {
	if command == nativeInvokerCommand {
		return NewAnthropicInvoker(model)
	}
	return ArgvInvoker{}
}

// ArgvInvoker runs req as a no-shell subprocess via os/exec.
type ArgvInvoker struct{}

func (ArgvInvoker) Invoke(ctx context.Context, req Request) (Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, req.Command, req.Args...)
	cmd.Dir = req.Dir
	if len(req.Env) > 0 {
		cmd.Env = req.Env
	}
	if req.Stdin != "" {
		cmd.Stdin = bytes.NewBufferString(req.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Printf("invoking %s (timeout=%s)", req.Command, req.Timeout)
	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	res := Result{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: duration.Milliseconds(),
	}
	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = 124
		return res, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("invoker: launching %s: %w", req.Command, err)
	}
	return res, nil
}
