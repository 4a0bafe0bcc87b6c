package agentevents

import (
	"context"
	"fmt"

	"github.com/echoshell-dev/echoshell/internal/headless"
	"github.com/echoshell-dev/echoshell/internal/interfaces"
)

// HeadlessSessionRunner adapts a cursor/claude session's headless.Executor
// to Runner for agent-stream-initiated commands (spec.md §4.10's "run
// executor (§4.7...)" branch). ExecutorFor looks the executor up by
// session id; the Session Manager owns the actual table.
type HeadlessSessionRunner struct {
	ExecutorFor func(sessionID string) (*headless.Executor, bool)
}

func (r *HeadlessSessionRunner) Run(ctx context.Context, sessionID, command string, _ []interfaces.Turn) (string, error) {
	executor, ok := r.ExecutorFor(sessionID)
	if !ok {
		return "", fmt.Errorf("no headless executor for session %s", sessionID)
	}
	stream, completion, err := executor.Execute(ctx, command)
	if err != nil {
		return "", err
	}
	for {
		if _, ok := stream.Next(); !ok {
			break
		}
	}
	c := <-completion
	if c.Err != nil {
		return "", c.Err
	}
	return c.Text, nil
}

// DirectLLMRunner adapts interfaces.LLMClient to Runner for the PTY-less
// "agent" session type (spec.md §4.10's "... or direct LLM" branch).
type DirectLLMRunner struct {
	Client interfaces.LLMClient
}

func (r *DirectLLMRunner) Run(ctx context.Context, sessionID, command string, history []interfaces.Turn) (string, error) {
	return r.Client.Complete(ctx, command, history)
}
