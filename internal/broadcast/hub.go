// Package broadcast fans encoded messages out to the clients of a room.
package broadcast

import (
	"log/slog"
	"sync"
)

// DefaultBuffer is the outbound queue length of a client.
const DefaultBuffer = 64

// Client is one connection's outbound message queue.
type Client struct {
	ID string

	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// NewClient creates a client whose queue holds buffer messages.
func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Client{ID: id, send: make(chan []byte, buffer)}
}

// Messages is drained by the connection's writer. It is closed when the
// client is dropped.
func (c *Client) Messages() <-chan []byte { return c.send }

// Enqueue queues msg without blocking. It reports false when the client is
// closed or its queue is full.
func (c *Client) Enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close closes the queue. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub tracks which clients are in which room.
type Hub struct {
	rooms  map[string]map[*Client]bool
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewHub creates a new broadcast hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]bool),
		logger: logger,
	}
}

// Join adds a client to a room.
func (h *Hub) Join(code string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[code] == nil {
		h.rooms[code] = make(map[*Client]bool)
	}
	h.rooms[code][c] = true
}

// Leave removes a client from a room.
func (h *Hub) Leave(code string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(code, c)
}

func (h *Hub) leaveLocked(code string, c *Client) {
	delete(h.rooms[code], c)
	if len(h.rooms[code]) == 0 {
		delete(h.rooms, code)
	}
}

// Members returns the number of clients in a room.
func (h *Hub) Members(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}

// Broadcast queues msg for every client in a room. A client that cannot keep
// up is dropped and closed; it has to reconnect and resync.
func (h *Hub) Broadcast(code string, msg []byte) {
	var slow []*Client

	h.mu.RLock()
	for c := range h.rooms[code] {
		if !c.Enqueue(msg) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		h.leaveLocked(code, c)
	}
	h.mu.Unlock()
	for _, c := range slow {
		h.logger.Warn("dropping slow client", "code", code, "client_id", c.ID)
		c.Close()
	}
}

// Close drops every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for code, clients := range h.rooms {
		for c := range clients {
			c.Close()
		}
		delete(h.rooms, code)
	}
}
