package headless

import (
	"context"
	"strings"
	"sync"
)

// Chunk is one piece of assistant text surfaced while a headless CLI runs.
type Chunk struct {
	Text string
}

// Stream delivers chunks from a running headless CLI command to whatever
// is consuming it (the output router). Modeled on the teacher's
// agent.Stream: a channel-backed, close-once accumulator that also
// remembers everything it has sent so late subscribers can ask for the
// full text.
type Stream struct {
	ctx  context.Context
	ch   chan Chunk
	mu   sync.Mutex
	buf  []Chunk
	err  error
	done bool
}

func newStream(ctx context.Context) *Stream {
	return &Stream{
		ctx: ctx,
		ch:  make(chan Chunk, 64),
	}
}

func (s *Stream) send(c Chunk) {
	s.mu.Lock()
	s.buf = append(s.buf, c)
	s.mu.Unlock()
	select {
	case s.ch <- c:
	case <-s.ctx.Done():
	}
}

func (s *Stream) close(err error) {
	s.mu.Lock()
	s.err = err
	s.done = true
	s.mu.Unlock()
	close(s.ch)
}

// Next blocks for the next chunk. ok is false once the stream has closed.
func (s *Stream) Next() (Chunk, bool) {
	c, ok := <-s.ch
	return c, ok
}

// Text returns every chunk delivered so far, concatenated.
func (s *Stream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, c := range s.buf {
		b.WriteString(c.Text)
	}
	return b.String()
}

// Err returns the terminal error of the underlying subprocess, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
