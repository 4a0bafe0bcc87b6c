package relay

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BandwidthMeter is a per-tunnel outbound rate limiter, grounded on the
// teacher's per-user BandwidthMeter but scoped to tunnels instead of
// accounts: every relay→subscriber WebSocket send and proxy response
// body copy passes through the limiter for its tunnel (SSE recording
// subscribers are not rate-limited) so one workstation
// cannot monopolize the relay's outbound bandwidth (spec.md §4.13).
type BandwidthMeter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rateVal  rate.Limit
	burst    int
}

// NewBandwidthMeter creates a meter with the given sustained rate
// (bytes/sec) and burst (bytes) applied per tunnel.
func NewBandwidthMeter(bytesPerSec, burst int) *BandwidthMeter {
	return &BandwidthMeter{
		limiters: make(map[string]*rate.Limiter),
		rateVal:  rate.Limit(bytesPerSec),
		burst:    burst,
	}
}

func (b *BandwidthMeter) limiter(tunnelID string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	lim, ok := b.limiters[tunnelID]
	if !ok {
		lim = rate.NewLimiter(b.rateVal, b.burst)
		b.limiters[tunnelID] = lim
	}
	return lim
}

// Wait blocks until the tunnel's limiter allows n bytes, or ctx is done.
// Messages larger than the burst are chunked so WaitN never rejects
// outright.
func (b *BandwidthMeter) Wait(ctx context.Context, tunnelID string, n int) error {
	lim := b.limiter(tunnelID)
	if n <= b.burst {
		return lim.WaitN(ctx, n)
	}
	for n > 0 {
		chunk := n
		if chunk > b.burst {
			chunk = b.burst
		}
		if err := lim.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Release evicts a tunnel's limiter once the tunnel is deleted, so the
// map doesn't grow unbounded across tunnel churn.
func (b *BandwidthMeter) Release(tunnelID string) {
	b.mu.Lock()
	delete(b.limiters, tunnelID)
	b.mu.Unlock()
}

// WaitWithDeadline is a convenience for call sites that want a fixed cap
// on how long they'll wait for bandwidth before giving up and dropping
// the payload (spec.md §4.9 backpressure: drop rather than block
// upstream).
func (b *BandwidthMeter) WaitWithDeadline(tunnelID string, n int, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()
	return b.Wait(ctx, tunnelID, n)
}
