// Package router implements the Output Router (spec.md §4.9): it takes
// every byte chunk a terminal session produces and splits it into the
// display stream (forwarded verbatim) and, for headless session types,
// the recording stream of deduplicated assistant-text deltas.
//
// The line-buffered JSON extraction spec.md §4.9 step 1 describes
// happens one layer down, in internal/headless/parse.go, at the
// subprocess boundary — by the time a chunk reaches Feed it is already
// plain assistant text. Router owns what's left: dedup against the
// previous delta, fullText accumulation, the single isComplete=true
// gate, and per-session backpressure.
//
// Non-recordable (regular PTY) sessions never produce assistant-text
// deltas, so they have no recording stream of their own — but spec.md
// §4.8 still wants a stable "final frame" out of them for TTS
// selection once a command finishes. Router derives that by running
// their raw display bytes through a screen.Emulator and snapshotting
// GetScreenContent() at the next command boundary, rather than for
// display (the display stream stays a verbatim byte mirror).
package router

import (
	"strings"
	"sync"

	"github.com/echoshell-dev/echoshell/internal/screen"
)

// recordingQueueCap bounds how many not-yet-delivered recording updates
// a slow subscriber can leave pending before older, non-final ones are
// dropped (spec.md §4.9 backpressure policy).
const recordingQueueCap = 64

// RecordingUpdate is one entry of the recording stream spec.md §4.9
// names: accumulated text, the delta that produced this update, and
// whether the current command's output is now final.
type RecordingUpdate struct {
	SessionID  string
	FullText   string
	Delta      string
	IsComplete bool
}

// Router is C10.
type Router struct {
	// OnDisplay forwards raw bytes for every session, PTY or headless
	// alike — the display stream is always a verbatim mirror of C7's
	// output.
	OnDisplay func(sessionID string, data []byte)

	// OnRecording delivers one RecordingUpdate at a time, FIFO per
	// session. The final isComplete=true update for a command is always
	// delivered, even if earlier deltas for that command were dropped.
	OnRecording func(update RecordingUpdate)

	mu       sync.Mutex
	sessions map[string]*recordingState
}

type recordingState struct {
	fullText    string
	lastDelta   string
	lastCommand string

	// screen accumulates a regular (non-recordable) session's raw display
	// bytes so ResetForCommand can read back its stable final frame.
	// Left nil for recordable sessions, which never use it.
	screen *screen.Emulator

	qmu     sync.Mutex
	queue   []RecordingUpdate
	wake    chan struct{}
	started bool
}

// Forget stops sessionID's sender goroutine and drops its state. Called
// when the owning TerminalSession is destroyed.
func (r *Router) Forget(sessionID string) {
	r.mu.Lock()
	st, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if ok {
		close(st.wake)
	}
}

// New creates an empty Router.
func New() *Router {
	return &Router{sessions: make(map[string]*recordingState)}
}

func (r *Router) state(sessionID string) *recordingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[sessionID]
	if !ok {
		st = &recordingState{wake: make(chan struct{}, 1)}
		r.sessions[sessionID] = st
	}
	return st
}

// Feed processes one output chunk from sessionID. recordable selects
// whether the chunk additionally feeds the recording stream (true for
// cursor/claude/agent session types, per spec.md §4.9).
func (r *Router) Feed(sessionID string, recordable bool, data []byte) {
	if r.OnDisplay != nil {
		r.OnDisplay(sessionID, data)
	}
	if len(data) == 0 {
		return
	}
	if !recordable {
		st := r.state(sessionID)
		st.qmu.Lock()
		if st.screen == nil {
			st.screen = screen.New()
		}
		st.screen.Write(data)
		st.qmu.Unlock()
		return
	}

	text := string(data)
	st := r.state(sessionID)

	st.qmu.Lock()
	if text == st.lastDelta {
		st.qmu.Unlock()
		return
	}
	st.lastDelta = text
	if st.fullText == "" {
		st.fullText = text
	} else {
		st.fullText = st.fullText + "\n\n" + text
	}
	update := RecordingUpdate{SessionID: sessionID, FullText: st.fullText, Delta: text, IsComplete: false}
	st.qmu.Unlock()

	r.enqueue(sessionID, st, update)
}

// Complete emits the single final isComplete=true update for the
// command currently in flight on sessionID, falling back to the last
// delta if no text was ever accumulated (spec.md §4.9 step 3).
func (r *Router) Complete(sessionID string) {
	st := r.state(sessionID)
	st.qmu.Lock()
	full := st.fullText
	if full == "" {
		full = st.lastDelta
	}
	st.qmu.Unlock()
	r.enqueue(sessionID, st, RecordingUpdate{SessionID: sessionID, FullText: full, Delta: st.lastDelta, IsComplete: true})
}

// ResetForCommand clears accumulated recording state when a new command
// is submitted (spec.md §4.9 step 4: "on input keystrokes ending with
// \r/\n, reset ... capture the last non-empty line as the last command").
//
// For non-recordable (regular) sessions, the just-finished command never
// had a recording stream of its own — ResetForCommand is the only
// natural boundary at which to capture its stable final frame, so it
// snapshots the accumulated screen content and emits it as the one
// isComplete=true update for that command (spec.md §4.8) before
// resetting the emulator for the next one.
func (r *Router) ResetForCommand(sessionID, command string, recordable bool) {
	st := r.state(sessionID)
	st.qmu.Lock()
	var finalFrame string
	if !recordable && st.screen != nil {
		finalFrame = st.screen.GetScreenContent()
		st.screen.Reset()
	}
	st.fullText = ""
	st.lastDelta = ""
	st.lastCommand = lastNonEmptyLine(command)
	st.qmu.Unlock()

	if !recordable && finalFrame != "" {
		r.enqueue(sessionID, st, RecordingUpdate{SessionID: sessionID, FullText: finalFrame, IsComplete: true})
	}
}

// LastCommand returns the most recent command captured for sessionID.
func (r *Router) LastCommand(sessionID string) string {
	st := r.state(sessionID)
	st.qmu.Lock()
	defer st.qmu.Unlock()
	return st.lastCommand
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r", "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}

// enqueue pushes update onto sessionID's pending queue, dropping the
// oldest non-final entries if it would exceed recordingQueueCap, and
// wakes the (lazily started) per-session sender goroutine.
func (r *Router) enqueue(sessionID string, st *recordingState, update RecordingUpdate) {
	st.qmu.Lock()
	st.queue = append(st.queue, update)
	if len(st.queue) > recordingQueueCap {
		overflow := len(st.queue) - recordingQueueCap
		kept := st.queue[overflow:]
		var rescued []RecordingUpdate
		for _, dropped := range st.queue[:overflow] {
			if dropped.IsComplete {
				rescued = append(rescued, dropped)
			}
		}
		st.queue = append(rescued, kept...)
	}
	if !st.started {
		st.started = true
		go r.senderLoop(sessionID, st)
	}
	st.qmu.Unlock()

	select {
	case st.wake <- struct{}{}:
	default:
	}
}

func (r *Router) senderLoop(sessionID string, st *recordingState) {
	for range st.wake {
		for {
			st.qmu.Lock()
			if len(st.queue) == 0 {
				st.qmu.Unlock()
				break
			}
			next := st.queue[0]
			st.queue = st.queue[1:]
			st.qmu.Unlock()
			if r.OnRecording != nil {
				r.OnRecording(next)
			}
		}
	}
}
