package logstream

import (
	"sync"

	"github.com/reviewapps-dev/azdeploy/internal/deploy"
)

// Hub is a pub/sub hub for deployment run events.
// Subscribers receive events on a buffered channel; slow consumers
// have events dropped rather than blocking the deploy pipeline.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan deploy.Event]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[chan deploy.Event]struct{}),
	}
}

// Subscribe returns a channel that receives events for the given run,
// and an unsubscribe function. The channel is buffered (64 events).
func (h *Hub) Subscribe(runID string) (<-chan deploy.Event, func()) {
	ch := make(chan deploy.Event, 64)
	h.mu.Lock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[chan deploy.Event]struct{})
	}
	h.subs[runID][ch] = struct{}{}
	h.mu.Unlock()

	unsub := func() {
		h.mu.Lock()
		delete(h.subs[runID], ch)
		if len(h.subs[runID]) == 0 {
			delete(h.subs, runID)
		}
		h.mu.Unlock()
	}
	return ch, unsub
}

// Publish sends ev to all subscribers of its run.
// Non-blocking: drops events for slow consumers.
func (h *Hub) Publish(ev deploy.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.RunID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes all subscriber channels for the given run,
// signaling that the run has finished.
func (h *Hub) Close(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[runID] {
		close(ch)
	}
	delete(h.subs, runID)
}
