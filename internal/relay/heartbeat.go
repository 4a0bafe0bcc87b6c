package relay

import (
	"context"
	"time"
)

const (
	pingInterval     = 20 * time.Second
	livenessInterval = 30 * time.Second
	livenessTimeout  = 30 * time.Second
)

// Heartbeat is C3: two independent timers per managed socket — a ping
// tick and a liveness check — so a missed pong can never be masked by a
// just-arrived ping (spec.md §4.3).
type Heartbeat struct {
	ping     func(ctx context.Context) error
	lastPong func() time.Time
	onDead   func()

	// PingInterval, LivenessInterval, and LivenessTimeout override the
	// package defaults when non-zero — tests shrink them so the reaper
	// doesn't need a real 30s wait.
	PingInterval     time.Duration
	LivenessInterval time.Duration
	LivenessTimeout  time.Duration
}

// NewHeartbeat wires a heartbeat for one socket. ping sends a WS ping;
// lastPong reports when the socket was last confirmed alive; onDead
// runs exactly once when the liveness check trips.
func NewHeartbeat(ping func(ctx context.Context) error, lastPong func() time.Time, onDead func()) *Heartbeat {
	return &Heartbeat{ping: ping, lastPong: lastPong, onDead: onDead}
}

func (h *Heartbeat) pingInterval() time.Duration {
	if h.PingInterval > 0 {
		return h.PingInterval
	}
	return pingInterval
}

func (h *Heartbeat) livenessInterval() time.Duration {
	if h.LivenessInterval > 0 {
		return h.LivenessInterval
	}
	return livenessInterval
}

func (h *Heartbeat) livenessTimeout() time.Duration {
	if h.LivenessTimeout > 0 {
		return h.LivenessTimeout
	}
	return livenessTimeout
}

// Run blocks until ctx is cancelled or the socket is declared dead.
func (h *Heartbeat) Run(ctx context.Context) {
	pingTicker := time.NewTicker(h.pingInterval())
	defer pingTicker.Stop()
	livenessTicker := time.NewTicker(h.livenessInterval())
	defer livenessTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_ = h.ping(pingCtx)
			cancel()
		case <-livenessTicker.C:
			if time.Since(h.lastPong()) > h.livenessTimeout() {
				h.onDead()
				return
			}
		}
	}
}
