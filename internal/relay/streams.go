package relay

import (
	"fmt"
	"sync"

	"github.com/echoshell-dev/echoshell/internal/logger"
)

// Stream kinds (spec.md §3 StreamSubscription).
const (
	KindTerminal     = "terminal"
	KindRecording    = "recording"
	KindAgent        = "agent"
	KindSSERecording = "sse-recording"
)

// StreamKey builds the streamKey = tunnelId[:sessionId][:kind] spec.md §3
// names.
func StreamKey(tunnelID, sessionID, kind string) string {
	return fmt.Sprintf("%s:%s:%s", tunnelID, sessionID, kind)
}

// Subscriber is one fan-out destination: a mobile WebSocket or an SSE
// connection. Send must not block indefinitely — it bounds its own wait
// and returns an error for a slow or closed subscriber, and Broadcast
// then unregisters that subscriber.
type Subscriber struct {
	ID   string
	Send func(payload []byte) error
}

// StreamRegistry is C2: maps stream keys to subscriber sets (spec.md
// §4.2). Broadcast delivers best-effort to every OPEN subscriber in FIFO
// order per subscriber; closed/erroring subscribers are removed.
type StreamRegistry struct {
	mu   sync.Mutex
	subs map[string]map[string]Subscriber // streamKey -> subID -> Subscriber
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{subs: make(map[string]map[string]Subscriber)}
}

// Register adds a subscriber under streamKey.
func (r *StreamRegistry) Register(streamKey string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[streamKey]
	if !ok {
		set = make(map[string]Subscriber)
		r.subs[streamKey] = set
	}
	set[sub.ID] = sub
}

// Unregister removes exactly one subscription; once the set is empty the
// key is dropped entirely (spec.md §3 StreamSubscription invariant).
func (r *StreamRegistry) Unregister(streamKey, subID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[streamKey]
	if !ok {
		return
	}
	delete(set, subID)
	if len(set) == 0 {
		delete(r.subs, streamKey)
	}
}

// Broadcast snapshots the subscriber set under lock, then sends outside
// the lock so a slow Send never blocks registry operations for other
// keys (spec.md §5).
func (r *StreamRegistry) Broadcast(streamKey string, payload []byte) {
	r.mu.Lock()
	set, ok := r.subs[streamKey]
	if !ok {
		r.mu.Unlock()
		return
	}
	snapshot := make([]Subscriber, 0, len(set))
	for _, sub := range set {
		snapshot = append(snapshot, sub)
	}
	r.mu.Unlock()

	var dead []string
	for _, sub := range snapshot {
		if err := sub.Send(payload); err != nil {
			logger.Warn("dropping subscriber", "subscriber", sub.ID, "stream", streamKey, "err", err)
			dead = append(dead, sub.ID)
		}
	}
	for _, id := range dead {
		r.Unregister(streamKey, id)
	}
}

// SubscriberCount reports how many subscribers are attached to
// streamKey, used by tests to assert removal (spec.md §8 S5).
func (r *StreamRegistry) SubscriberCount(streamKey string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[streamKey])
}
