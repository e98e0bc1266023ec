package web

import (
	"context"
	"sync"

	"github.com/sweeney/irrigation-controller/internal/status"
)

// Hub fans encoded snapshots out to connected WebSocket clients. Each client
// holds at most one pending frame; a newer snapshot replaces an unsent one.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	send chan []byte
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Name implements status.Sink.
func (h *Hub) Name() string { return "websocket" }

// Deliver implements status.Sink.
func (h *Hub) Deliver(ctx context.Context, snap *status.Snapshot) error {
	h.Broadcast(status.FormatSnapshot(snap))
	return nil
}

// Broadcast queues frame for every client without blocking.
func (h *Hub) Broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
			continue
		default:
		}
		// Replace the stale frame.
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- frame:
		default:
		}
	}
}

func (h *Hub) subscribe() *client {
	c := &client{send: make(chan []byte, 1)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unsubscribe(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
