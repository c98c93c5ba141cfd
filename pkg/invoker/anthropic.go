package invoker

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicInvoker sends req.Stdin as a single user turn to the Anthropic
// Messages API and reports the reply as Stdout, letting the orchestrator and
// reviewer adapters run against a native model backend instead of shelling
// out to a CLI agent. Model names the model; a non-empty req.Command other
// than the nativeInvokerCommand sentinel overrides it. req.Args is unused.
type AnthropicInvoker struct {
	Client anthropic.Client
	Model  string
}

// NewAnthropicInvoker builds an invoker reading ANTHROPIC_API_KEY from the
// environment.
func NewAnthropicInvoker(model string) AnthropicInvoker {
	return AnthropicInvoker{
		Client: anthropic.NewClient(option.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY"))),
		Model:  model,
	}
}

func (a AnthropicInvoker) Invoke(ctx context.Context, req Request) (Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	model := a.Model
	if req.Command != "" && req.Command != nativeInvokerCommand {
		model = req.Command
	}

	start := time.Now()
	msg, err := a.Client.Messages.New(runCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 8192,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Stdin)),
		},
	})
	duration := time.Since(start)

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return Result{TimedOut: true, ExitCode: 124, DurationMS: duration.Milliseconds()}, nil
		}
		return Result{}, fmt.Errorf("invoker: anthropic call failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return Result{
		ExitCode:   0,
		Stdout:     sb.String(),
		DurationMS: duration.Milliseconds(),
	}, nil
}
