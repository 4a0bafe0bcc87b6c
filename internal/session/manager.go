// Package session implements the Session Manager (spec.md §4.6): it owns
// every TerminalSession's PTY, serializes writes against input and resize
// races, and drives the per-session headless executor for cursor/claude
// commands.
package session

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/echoshell-dev/echoshell/internal/headless"
	"github.com/echoshell-dev/echoshell/internal/procgroup"
)

// Type is a TerminalSession's kind (spec.md §3).
type Type string

const (
	TypeRegular Type = "regular"
	TypeCursor  Type = "cursor"
	TypeClaude  Type = "claude"
	TypeAgent   Type = "agent"
)

func (t Type) hasPTY() bool { return t != TypeAgent }

func (t Type) headlessKind() (headless.Kind, bool) {
	switch t {
	case TypeCursor:
		return headless.KindCursor, true
	case TypeClaude:
		return headless.KindClaude, true
	default:
		return "", false
	}
}

const (
	outputRingSize = 10000
	inputRingSize  = 1000
	defaultCols    = 80
	defaultRows    = 30
)

// HeadlessState mirrors spec.md §3's TerminalSession.headless shape.
type HeadlessState struct {
	Running            bool
	CLISessionID       string
	CompletionDeadline time.Time
	LastResultSeen     bool
}

// TerminalSession is one PTY (or agent) the manager owns.
type TerminalSession struct {
	ID         string
	Type       Type
	WorkingDir string
	Name       string
	PID        int
	CreatedAt  time.Time

	mu        sync.Mutex
	ptmx      *os.File
	cmd       *exec.Cmd
	cols      int
	rows      int
	outputRing *ring
	inputRing  *ring
	headless   HeadlessState
	executor   *headless.Executor
	destroyed  bool
}

func (s *TerminalSession) snapshotHeadless() HeadlessState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headless
}

// Executor returns the session's headless.Executor, if any — nil for
// regular and agent sessions. Lets a Runner (internal/agentevents) look
// an executor up by session id without the Session Manager exposing its
// whole session table.
func (s *TerminalSession) Executor() *headless.Executor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executor
}

// GetHistory returns the buffered output chunks oldest-first.
func (s *TerminalSession) GetHistory() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputRing.items()
}

// Manager is C7: the Session Manager.
type Manager struct {
	HeadlessConfig headless.Config

	// OnOutput is called with every byte chunk a session produces, whether
	// from a PTY read or a headless CLI's assistant-text stream — the
	// Output Router (C10) is the canonical subscriber.
	OnOutput func(sessionID string, data []byte)

	// OnInput is the global input listener spec.md §4.6 names.
	OnInput func(sessionID string, data []byte)

	// OnCommandSubmit fires whenever a command is terminated toward a
	// session — a PTY write ending in \r, or a headless ExecuteCommand —
	// so the Output Router can reset its per-command recording state
	// (spec.md §4.9 step 4).
	OnCommandSubmit func(sessionID, command string)

	// OnHeadlessComplete fires once a headless command's stream has
	// closed and its completion has been observed, so the Output Router
	// can emit the final isComplete=true recording update.
	OnHeadlessComplete func(sessionID string)

	OnDestroyed func(sessionID string)

	mu       sync.RWMutex
	sessions map[string]*TerminalSession
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*TerminalSession)}
}

// CreateSession spawns the session per spec.md §4.6.
func (m *Manager) CreateSession(sessionType Type, workingDir, name string) (*TerminalSession, error) {
	if workingDir == "" {
		var err error
		workingDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("ENOENT: %w", err)
		}
	}
	info, err := os.Stat(workingDir)
	if err != nil {
		return nil, fmt.Errorf("ENOENT: %s: %w", workingDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ENOTDIR: %s", workingDir)
	}

	sess := &TerminalSession{
		ID:         uuid.NewString(),
		Type:       sessionType,
		WorkingDir: workingDir,
		Name:       name,
		CreatedAt:  time.Now(),
		cols:       defaultCols,
		rows:       defaultRows,
		outputRing: newRing(outputRingSize),
		inputRing:  newRing(inputRingSize),
	}

	if sessionType.hasPTY() {
		shellBin, shellArgs := loginShell()
		cmd := exec.Command(shellBin, shellArgs...)
		cmd.Dir = workingDir
		cmd.Env = append(os.Environ(), "TERM=xterm-256color")
		procgroup.Prepare(cmd)

		ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(defaultCols), Rows: uint16(defaultRows)})
		if err != nil {
			return nil, fmt.Errorf("start pty: %w", err)
		}
		sess.ptmx = ptmx
		sess.cmd = cmd
		sess.PID = cmd.Process.Pid

		go m.readPTY(sess)
	}

	if kind, ok := sessionType.headlessKind(); ok {
		sess.executor = headless.New(kind, m.HeadlessConfig)
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	return sess, nil
}

// loginShell returns the interactive login shell to spawn for a PTY-backed
// session (spec.md §4.6: "$SHELL, fallback bash; Windows: PowerShell").
func loginShell() (string, []string) {
	if runtime.GOOS == "windows" {
		return "powershell.exe", nil
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh, nil
	}
	return "bash", nil
}

func (m *Manager) readPTY(sess *TerminalSession) {
	buf := make([]byte, 4096)
	for {
		n, err := sess.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			sess.mu.Lock()
			sess.outputRing.push(string(data))
			sess.mu.Unlock()
			if m.OnOutput != nil {
				m.OnOutput(sess.ID, data)
			}
		}
		if err != nil {
			return
		}
	}
}

// Get returns a session by id.
func (m *Manager) Get(sessionID string) (*TerminalSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// ListSessions returns every live session.
func (m *Manager) ListSessions() []*TerminalSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*TerminalSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// RenameSession sets a session's display name.
func (m *Manager) RenameSession(sessionID, name string) error {
	sess, ok := m.Get(sessionID)
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	sess.mu.Lock()
	sess.Name = name
	sess.mu.Unlock()
	return nil
}

// WriteInput normalizes and writes bytes to the PTY (spec.md §4.6),
// serialized per-session so input bursts and resize races never corrupt
// the PTY.
func (m *Manager) WriteInput(sessionID, data string, isCommand bool) error {
	sess, ok := m.Get(sessionID)
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	if sess.ptmx == nil {
		return fmt.Errorf("session %s has no PTY", sessionID)
	}

	normalized := normalizeInput(data)
	normalized = terminateCommand(normalized, isCommand)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.destroyed {
		return fmt.Errorf("session %s destroyed", sessionID)
	}
	sess.inputRing.push(normalized)
	if _, err := sess.ptmx.Write([]byte(normalized)); err != nil {
		return fmt.Errorf("write pty: %w", err)
	}
	if m.OnInput != nil {
		m.OnInput(sessionID, []byte(normalized))
	}
	if strings.HasSuffix(normalized, "\r") && m.OnCommandSubmit != nil {
		m.OnCommandSubmit(sessionID, data)
	}
	return nil
}

// ResizeTerminal changes the PTY's dimensions, failing gracefully if the
// PTY is already closed.
func (m *Manager) ResizeTerminal(sessionID string, cols, rows int) error {
	sess, ok := m.Get(sessionID)
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.ptmx == nil || sess.destroyed {
		return nil
	}
	if err := pty.Setsize(sess.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return nil
	}
	sess.cols, sess.rows = cols, rows
	return nil
}

// ExecuteCommand runs command on sessionID (spec.md §4.6). Regular
// sessions delegate to WriteInput; cursor/claude sessions run the headless
// executor and stream its output through OnOutput exactly like PTY bytes.
func (m *Manager) ExecuteCommand(ctx context.Context, sessionID, command string) error {
	sess, ok := m.Get(sessionID)
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}

	if sess.executor == nil {
		return m.WriteInput(sessionID, command, true)
	}

	stream, completion, err := sess.executor.Execute(ctx, command)
	if err != nil {
		return err
	}

	if m.OnCommandSubmit != nil {
		m.OnCommandSubmit(sessionID, command)
	}

	deadlineSeconds := m.HeadlessConfig.CompletionDeadlineSeconds
	if deadlineSeconds <= 0 {
		deadlineSeconds = 60
	}
	sess.mu.Lock()
	sess.headless.Running = true
	sess.headless.CompletionDeadline = time.Now().Add(time.Duration(deadlineSeconds) * time.Second)
	sess.mu.Unlock()

	go func() {
		for {
			chunk, ok := stream.Next()
			if !ok {
				break
			}
			if m.OnOutput != nil {
				m.OnOutput(sessionID, []byte(chunk.Text))
			}
		}
		c := <-completion
		sess.mu.Lock()
		sess.headless.Running = false
		sess.headless.CLISessionID = sess.executor.CLISessionID()
		sess.headless.LastResultSeen = !c.TimedOut
		sess.mu.Unlock()
		if m.OnHeadlessComplete != nil {
			m.OnHeadlessComplete(sessionID)
		}
	}()

	return nil
}

// DestroySession cancels any headless deadline, kills the process group,
// and notifies listeners (spec.md §4.6).
func (m *Manager) DestroySession(sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}

	sess.mu.Lock()
	sess.destroyed = true
	executor := sess.executor
	pid := sess.PID
	cmd := sess.cmd
	sess.mu.Unlock()

	if executor != nil {
		executor.Kill()
	}

	if pid > 0 {
		done := make(chan struct{})
		if cmd != nil {
			go func() { cmd.Wait(); close(done) }()
		} else {
			close(done)
		}
		procgroup.Terminate(pid, 2*time.Second, done)
	}

	if sess.ptmx != nil {
		sess.ptmx.Close()
	}

	if m.OnDestroyed != nil {
		m.OnDestroyed(sessionID)
	}
	return nil
}
