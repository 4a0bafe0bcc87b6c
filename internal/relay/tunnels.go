package relay

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Tunnel is the relay's binding from a public tunnelId to the
// workstation's WebSocket (spec.md §3). At most one live socket answers
// a given tunnelId at any instant.
type Tunnel struct {
	ID               string
	ConnectionAPIKey string
	CreatedAt        time.Time

	mu             sync.Mutex
	conn           *websocket.Conn
	clientAuthKey  string
	lastPongAt     time.Time
	cancelHeartbeat context.CancelFunc
	done            chan struct{}
}

// Conn returns the current workstation socket, or nil if none is
// registered (tunnel created but workstation not yet connected).
func (t *Tunnel) Conn() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

// ClientAuthKey returns the workstation-owned bearer key, or "" if the
// workstation hasn't announced one yet (spec.md §4.1).
func (t *Tunnel) ClientAuthKey() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clientAuthKey
}

// Done is closed when this tunnel's socket is replaced or removed, so
// in-flight pending HTTP requests can resolve 502 instead of hanging.
func (t *Tunnel) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *Tunnel) touchPong() {
	t.mu.Lock()
	t.lastPongAt = time.Now()
	t.mu.Unlock()
}

// LastPongAt returns the last time this tunnel's liveness was refreshed,
// used by the heartbeat reaper (spec.md §4.3).
func (t *Tunnel) LastPongAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastPongAt
}

// TunnelRegistry is C1: create/restore tunnels, hold per-tunnel
// credentials and the workstation socket (spec.md §4.1).
type TunnelRegistry struct {
	mu      sync.RWMutex
	tunnels map[string]*Tunnel
}

func NewTunnelRegistry() *TunnelRegistry {
	return &TunnelRegistry{tunnels: make(map[string]*Tunnel)}
}

// Create installs a new tunnel entry with no workstation socket attached
// yet (the socket attaches later via Register, when the workstation
// dials in). apiKey is the per-tunnel connection credential.
func (r *TunnelRegistry) Create(tunnelID, apiKey string) *Tunnel {
	t := &Tunnel{
		ID:               tunnelID,
		ConnectionAPIKey: apiKey,
		CreatedAt:        time.Now(),
		done:             make(chan struct{}),
	}
	r.mu.Lock()
	r.tunnels[tunnelID] = t
	r.mu.Unlock()
	return t
}

// Register attaches (or replaces) the workstation socket for tunnelID.
// A re-register atomically cancels the prior heartbeat, closes the prior
// socket with code 1000, and swaps in the new one — there is no window
// in which two sockets answer the same tunnelId (spec.md §4.1, §8
// invariant 1).
func (r *TunnelRegistry) Register(tunnelID string, conn *websocket.Conn, cancelHeartbeat context.CancelFunc) *Tunnel {
	r.mu.Lock()
	t, ok := r.tunnels[tunnelID]
	if !ok {
		t = &Tunnel{ID: tunnelID, CreatedAt: time.Now()}
		r.tunnels[tunnelID] = t
	}
	r.mu.Unlock()

	t.mu.Lock()
	priorConn := t.conn
	priorCancel := t.cancelHeartbeat
	t.conn = conn
	t.cancelHeartbeat = cancelHeartbeat
	t.lastPongAt = time.Now()
	if t.done != nil {
		select {
		case <-t.done:
		default:
			close(t.done)
		}
	}
	t.done = make(chan struct{})
	t.mu.Unlock()

	if priorCancel != nil {
		priorCancel()
	}
	if priorConn != nil {
		go priorConn.Close(websocket.StatusNormalClosure, "replaced by new registration")
	}
	return t
}

// Get looks up a tunnel by ID.
func (r *TunnelRegistry) Get(tunnelID string) (*Tunnel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tunnels[tunnelID]
	return t, ok
}

// Delete removes a tunnel, closing its socket and cancelling its
// heartbeat if present.
func (r *TunnelRegistry) Delete(tunnelID string) {
	r.mu.Lock()
	t, ok := r.tunnels[tunnelID]
	if ok {
		delete(r.tunnels, tunnelID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	conn := t.conn
	cancel := t.cancelHeartbeat
	close(t.done)
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		go conn.Close(websocket.StatusNormalClosure, "tunnel deleted")
	}
}

// SetClientAuthKey records the workstation's announced bearer key.
func (r *TunnelRegistry) SetClientAuthKey(tunnelID, key string) bool {
	r.mu.RLock()
	t, ok := r.tunnels[tunnelID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	t.mu.Lock()
	t.clientAuthKey = key
	t.mu.Unlock()
	return true
}

// UpdateLastPong refreshes liveness for the heartbeat reaper.
func (r *TunnelRegistry) UpdateLastPong(tunnelID string) {
	r.mu.RLock()
	t, ok := r.tunnels[tunnelID]
	r.mu.RUnlock()
	if ok {
		t.touchPong()
	}
}

// Count returns the number of tunnels currently registered (spec.md §6
// GET /health).
func (r *TunnelRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tunnels)
}
