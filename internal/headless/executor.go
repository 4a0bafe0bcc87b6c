package headless

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/echoshell-dev/echoshell/internal/procgroup"
)

// ErrBusy is returned when Execute is called while a command is already
// running (spec.md §4.7: "If running, reject new command with 'session
// busy'").
var ErrBusy = fmt.Errorf("session busy")

// Completion is delivered exactly once per Execute call, by whichever of
// {result event, subprocess exit, deadline} happens first.
type Completion struct {
	Text     string
	TimedOut bool
	Err      error
}

// Executor runs a single headless LLM CLI command at a time for one
// terminal session, with CLI-issued session-id continuation (spec.md
// §4.7). It is the idle→running→idle state machine spec.md's data model
// names for TerminalSession.headless.
type Executor struct {
	kind Kind
	cfg  Config

	mu           sync.Mutex
	running      bool
	cliSessionID string
	cmd          *exec.Cmd
}

func New(kind Kind, cfg Config) *Executor {
	return &Executor{kind: kind, cfg: cfg}
}

// Running reports whether a command is currently in flight.
func (e *Executor) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// CLISessionID returns the CLI-issued continuation id, if one has been
// captured yet.
func (e *Executor) CLISessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cliSessionID
}

// Execute spawns the headless CLI for prompt and returns a Stream of
// assistant-text chunks plus a completion channel. The completion channel
// receives exactly one value before being closed.
func (e *Executor) Execute(ctx context.Context, prompt string) (*Stream, <-chan Completion, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, nil, ErrBusy
	}
	priorCmd := e.cmd
	e.running = true
	sessionID := e.cliSessionID
	e.mu.Unlock()

	// A prior subprocess may still be alive from a force-kill race; make
	// sure it is gone before starting a new one (spec.md §4.7).
	if priorCmd != nil && priorCmd.Process != nil {
		done := make(chan struct{})
		go func() { priorCmd.Wait(); close(done) }()
		procgroup.Terminate(priorCmd.Process.Pid, time.Duration(terminationGraceMS(e.kind))*time.Millisecond, done)
	}

	bin := e.cfg.binFor(e.kind)
	args := buildArgs(e.kind, e.cfg, prompt, sessionID)

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, bin, args...)
	cmd.Env = append(cmd.Environ(), "TERM=xterm-256color")
	procgroup.Prepare(cmd)

	stdout, err := cmd.StdoutPipe() // io.ReadCloser
	if err != nil {
		cancel()
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return nil, nil, fmt.Errorf("headless stdout pipe: %w", err)
	}
	cmd.Stdin = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		cancel()
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return nil, nil, fmt.Errorf("start %s: %w", bin, err)
	}

	e.mu.Lock()
	e.cmd = cmd
	e.mu.Unlock()

	stream := newStream(runCtx)
	completion := make(chan Completion, 1)
	done := make(chan struct{})

	deadline := time.Duration(e.cfg.deadlineSeconds()) * time.Second
	deadlineTimer := time.AfterFunc(deadline, func() {
		procgroup.Terminate(cmd.Process.Pid, 2*time.Second, done)
	})

	go e.readLoop(cmd, stdout, stream, completion, done, deadlineTimer, cancel)

	return stream, completion, nil
}

func (e *Executor) readLoop(cmd *exec.Cmd, stdout io.ReadCloser, stream *Stream, completion chan<- Completion, done chan struct{}, deadlineTimer *time.Timer, cancel context.CancelFunc) {
	var lastDelta string
	var resultSeen bool
	var finalText string

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		parsed, ok := parseLine(line)
		if !ok {
			continue
		}
		if parsed.HasSessionID {
			e.mu.Lock()
			e.cliSessionID = parsed.SessionID
			e.mu.Unlock()
		}
		if parsed.HasAssistantText {
			lastDelta = parsed.AssistantText
			stream.send(Chunk{Text: parsed.AssistantText})
		}
		if parsed.IsResult {
			resultSeen = true
			finalText = stream.Text()
			break
		}
	}

	timedOut := deadlineTimer.Stop() == false && !resultSeen
	waitErr := cmd.Wait()
	close(done)
	cancel()

	if finalText == "" {
		finalText = lastDelta
	}
	if finalText == "" {
		finalText = stream.Text()
	}

	stream.close(waitErr)

	c := Completion{Text: finalText, TimedOut: timedOut}
	if !resultSeen && waitErr != nil && !timedOut {
		c.Err = fmt.Errorf("headless %s exited: %w", cmd.Path, waitErr)
	}
	completion <- c
	close(completion)

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

// Kill force-terminates any in-flight command, used by the Session
// Manager when a session is destroyed while a headless command is
// running. It signals the process group directly rather than calling
// cmd.Wait itself — the readLoop goroutine owns the one legal Wait call
// for this *exec.Cmd and will reap it once the signal lands.
func (e *Executor) Kill() {
	e.mu.Lock()
	cmd := e.cmd
	e.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	procgroup.Signal(cmd.Process.Pid, syscall.SIGTERM)
	time.AfterFunc(500*time.Millisecond, func() {
		e.mu.Lock()
		stillRunning := e.running && e.cmd == cmd
		e.mu.Unlock()
		if stillRunning {
			procgroup.Signal(cmd.Process.Pid, syscall.SIGKILL)
		}
	})
}
