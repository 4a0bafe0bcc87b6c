package agentevents

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/echoshell-dev/echoshell/internal/headless"
	"github.com/echoshell-dev/echoshell/internal/interfaces"
)

func TestDirectLLMRunnerDelegatesToClient(t *testing.T) {
	r := &DirectLLMRunner{Client: &interfaces.FakeLLMClient{Prefix: "reply: "}}
	text, err := r.Run(context.Background(), "sess-1", "hello", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if text != "reply: hello" {
		t.Errorf("text = %q", text)
	}
}

func TestHeadlessSessionRunnerMissingExecutor(t *testing.T) {
	r := &HeadlessSessionRunner{ExecutorFor: func(string) (*headless.Executor, bool) { return nil, false }}
	_, err := r.Run(context.Background(), "sess-1", "hello", nil)
	if err == nil {
		t.Fatal("expected an error when no executor is registered")
	}
}

func TestHeadlessSessionRunnerDrainsStreamAndReturnsFinalText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-claude")
	script := "#!/bin/sh\n" +
		"echo '{\"type\":\"assistant\",\"message\":{\"content\":[{\"type\":\"text\",\"text\":\"answer\"}]}}'\n" +
		"echo '{\"type\":\"result\"}'\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	executor := headless.New(headless.KindClaude, headless.Config{ClaudeBin: path})
	r := &HeadlessSessionRunner{ExecutorFor: func(string) (*headless.Executor, bool) { return executor, true }}

	text, err := r.Run(context.Background(), "sess-1", "hello", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if text != "answer" {
		t.Errorf("text = %q, want %q", text, "answer")
	}
}
