package relay

import (
	"sync"

	"github.com/echoshell-dev/echoshell/internal/wireproto"
)

// PendingRegistry tracks in-flight proxied HTTP requests awaiting the
// matching http_response frame (spec.md §3 PendingRequest). Each
// requestId resolves exactly once, by response, timeout, or connection
// loss — whichever removes the map entry first wins; the others are a
// no-op (spec.md §8 invariant 2).
type PendingRegistry struct {
	mu      sync.Mutex
	pending map[string]chan wireproto.HTTPResponseFrame
}

func NewPendingRegistry() *PendingRegistry {
	return &PendingRegistry{pending: make(map[string]chan wireproto.HTTPResponseFrame)}
}

// Install registers requestID and returns the channel its eventual
// response (or a Cancel-triggered nothing) arrives on.
func (p *PendingRegistry) Install(requestID string) <-chan wireproto.HTTPResponseFrame {
	ch := make(chan wireproto.HTTPResponseFrame, 1)
	p.mu.Lock()
	p.pending[requestID] = ch
	p.mu.Unlock()
	return ch
}

// Resolve delivers resp to the waiting proxy call. Returns false if
// requestID is unknown or already resolved — the frame router logs and
// drops in that case rather than treating it as an error.
func (p *PendingRegistry) Resolve(requestID string, resp wireproto.HTTPResponseFrame) bool {
	p.mu.Lock()
	ch, ok := p.pending[requestID]
	if ok {
		delete(p.pending, requestID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- resp
	return true
}

// Cancel removes requestID without delivering a response, used when the
// proxy call times out or the tunnel disconnects before a response
// arrives.
func (p *PendingRegistry) Cancel(requestID string) {
	p.mu.Lock()
	delete(p.pending, requestID)
	p.mu.Unlock()
}
