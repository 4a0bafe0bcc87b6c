package headless

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeFakeCLI drops a tiny shell script in place of a real claude/cursor
// binary, so Executor tests exercise real process spawn, stdout piping and
// process-group teardown without depending on an actual LLM CLI being
// installed.
func writeFakeCLI(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-cli")
	content := "#!/bin/sh\n" + script + "\n"
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("write fake cli: %v", err)
	}
	return path
}

func drain(stream *Stream) string {
	var out string
	for {
		c, ok := stream.Next()
		if !ok {
			return out
		}
		out += c.Text
	}
}

func TestExecutorHappyPath(t *testing.T) {
	bin := writeFakeCLI(t, `
echo '{"type":"assistant","session_id":"cli-sess-1","message":{"content":[{"type":"text","text":"working on it"}]}}'
echo '{"type":"result","result":"done thinking","input_tokens":5,"output_tokens":7}'
`)
	e := New(KindClaude, Config{ClaudeBin: bin, CompletionDeadlineSeconds: 5})

	stream, completion, err := e.Execute(context.Background(), "do the thing")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	drain(stream)

	var c Completion
	select {
	case c = <-completion:
	case <-time.After(5 * time.Second):
		t.Fatalf("completion never arrived")
	}
	if c.Err != nil {
		t.Fatalf("unexpected completion error: %v", c.Err)
	}
	if c.TimedOut {
		t.Fatalf("did not expect timeout")
	}
	// Completion text is the accumulated stream text: the assistant chunk
	// followed by the result record's text.
	if c.Text != "working on itdone thinking" {
		t.Fatalf("got completion text %q", c.Text)
	}
	if e.CLISessionID() != "cli-sess-1" {
		t.Fatalf("expected cli session id captured, got %q", e.CLISessionID())
	}
	if e.Running() {
		t.Fatalf("expected executor idle after completion")
	}
}

func TestExecutorRejectsConcurrentRun(t *testing.T) {
	bin := writeFakeCLI(t, `sleep 5`)
	e := New(KindClaude, Config{ClaudeBin: bin, CompletionDeadlineSeconds: 30})

	_, _, err := e.Execute(context.Background(), "first")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	_, _, err = e.Execute(context.Background(), "second")
	if err != ErrBusy {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	e.Kill()
}

func TestExecutorDeadlineProducesTimeout(t *testing.T) {
	bin := writeFakeCLI(t, `sleep 30`)
	e := New(KindClaude, Config{ClaudeBin: bin, CompletionDeadlineSeconds: 1})

	_, completion, err := e.Execute(context.Background(), "first")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	select {
	case c := <-completion:
		if !c.TimedOut {
			t.Fatalf("expected timeout completion, got %+v", c)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("completion never arrived")
	}
}

func TestExecutorMalformedLinesSkipped(t *testing.T) {
	bin := writeFakeCLI(t, `
echo 'not json at all'
echo '{"type":"result","result":"recovered"}'
`)
	e := New(KindClaude, Config{ClaudeBin: bin, CompletionDeadlineSeconds: 5})

	stream, completion, err := e.Execute(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	drain(stream)
	c := <-completion
	if c.Text != "recovered" {
		t.Fatalf("got %q", c.Text)
	}
}

func TestExecutorFallsBackToLastDeltaWithoutResult(t *testing.T) {
	bin := writeFakeCLI(t, `
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"partial"}]}}'
`)
	e := New(KindClaude, Config{ClaudeBin: bin, CompletionDeadlineSeconds: 5})

	stream, completion, err := e.Execute(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	drain(stream)
	c := <-completion
	if c.Text != "partial" {
		t.Fatalf("expected fallback to last delta, got %q", c.Text)
	}
}

func TestExecutorContinuationFlagPassedOnSecondCall(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "args.log")
	bin := writeFakeCLI(t, fmt.Sprintf(`
echo "$@" >> %q
echo '{"type":"assistant","session_id":"sess-xyz","message":{"content":[{"type":"text","text":"ack"}]}}'
echo '{"type":"result","result":"ack"}'
`, logPath))
	e := New(KindClaude, Config{ClaudeBin: bin, CompletionDeadlineSeconds: 5})

	stream1, completion1, err := e.Execute(context.Background(), "first prompt")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	drain(stream1)
	<-completion1

	stream2, completion2, err := e.Execute(context.Background(), "second prompt")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	drain(stream2)
	<-completion2

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "--resume sess-xyz") {
		t.Fatalf("expected continuation flag on second invocation, got %q", string(data))
	}
}
