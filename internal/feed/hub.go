// Package feed serves the latest opportunities over HTTP and pushes every
// discovery result to websocket subscribers.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"giftarb/internal/model"
)

// MessageTypeSnapshot carries the full opportunity set of one discovery cycle.
const MessageTypeSnapshot = "opportunities"

// Message is the envelope written to subscribers.
type Message struct {
	Type      string              `json:"type"`
	Payload   []model.Opportunity `json:"payload"`
	Count     int                 `json:"count"`
	Timestamp time.Time           `json:"timestamp"`
}

// Hub maintains the set of active clients and broadcasts snapshots to them.
// Slow clients whose buffer is full are disconnected.
type Hub struct {
	logger *slog.Logger

	clients   map[*Client]bool
	clientsMu sync.RWMutex

	latest   *Message
	latestMu sync.RWMutex

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// NewHub creates a hub. Run must be called for it to deliver anything.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.logger.Info("FeedHub: started")

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case c := <-h.register:
			h.registerClient(c)

		case c := <-h.unregister:
			h.unregisterClient(c)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)
		}
	}
}

// Publish records opps as the latest snapshot and queues it for broadcast.
func (h *Hub) Publish(opps []model.Opportunity) {
	if opps == nil {
		opps = []model.Opportunity{}
	}
	msg := Message{Type: MessageTypeSnapshot, Payload: opps, Count: len(opps), Timestamp: time.Now()}

	h.latestMu.Lock()
	h.latest = &msg
	h.latestMu.Unlock()

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("FeedHub: broadcast buffer full, dropping snapshot")
	}
}

// Latest returns the most recent snapshot, if any.
func (h *Hub) Latest() (Message, bool) {
	h.latestMu.RLock()
	defer h.latestMu.RUnlock()
	if h.latest == nil {
		return Message{}, false
	}
	return *h.latest, true
}

// Register adds a client. It reports false when the hub is no longer running.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) registerClient(c *Client) {
	h.clientsMu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.clientsMu.Unlock()

	if msg, ok := h.Latest(); ok {
		c.trySend(msg)
	}
	h.logger.Info("FeedHub: client connected", "client_id", c.ID, "total", total)
}

func (h *Hub) unregisterClient(c *Client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.logger.Info("FeedHub: client disconnected", "client_id", c.ID, "total", len(h.clients))
	}
}

func (h *Hub) broadcastMessage(msg Message) {
	h.clientsMu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.RUnlock()

	for _, c := range clients {
		if !c.trySend(msg) {
			h.logger.Warn("FeedHub: client too slow, disconnecting", "client_id", c.ID)
			h.unregisterClient(c)
		}
	}
}

func (h *Hub) shutdown() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	h.logger.Info("FeedHub: shutting down", "clients", len(h.clients))
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}
