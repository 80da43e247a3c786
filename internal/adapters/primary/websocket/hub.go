package websocket

import (
	"log/slog"
	"sync"

	"github.com/lorrc/incident-sync/internal/core/domain"
	"github.com/lorrc/incident-sync/internal/core/ports"
)

// Hub maintains the set of connected push clients and fans every stream
// frame out to all of them. There is no per-client routing; every client
// receives the full change stream and classifies frames on its own side.
type Hub struct {
	clients map[*Client]bool

	// Broadcast channel for frames
	broadcast chan domain.Frame

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// mu protects the clients map
	mu sync.RWMutex

	logger *slog.Logger
}

// Ensure Hub implements the FrameBroadcaster interface.
var _ ports.FrameBroadcaster = (*Hub)(nil)

// NewHub creates a new push stream hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan domain.Frame, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		logger:     logger.With("component", "stream_hub"),
	}
}

// Broadcast queues a frame for delivery to every connected client.
// This method implements the ports.FrameBroadcaster interface.
func (h *Hub) Broadcast(frame domain.Frame) {
	select {
	case h.broadcast <- frame:
	default:
		h.logger.Warn("broadcast channel full, dropping frame",
			"frame_type", frame.Type,
			"event_id", frame.EventID,
		)
	}
}

// Run starts the hub's event loop. This MUST be run as a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case frame := <-h.broadcast:
			h.broadcastFrame(frame)
		}
	}
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true

	h.logger.Info("client registered",
		"context_id", client.ContextID,
		"total_connections", len(h.clients),
	)
}

// unregisterClient removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.CloseSend()
	}

	h.logger.Info("client unregistered",
		"context_id", client.ContextID,
	)
}

// broadcastFrame sends a frame to every connected client
func (h *Hub) broadcastFrame(frame domain.Frame) {
	h.mu.RLock()
	// Copy the client list to avoid holding the lock while sending
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	h.logger.Debug("broadcasting frame",
		"frame_type", frame.Type,
		"event_id", frame.EventID,
		"client_count", len(clients),
	)

	for _, client := range clients {
		select {
		case client.Send <- frame:
			// Successfully queued
		default:
			// Client's send buffer is full, unregister them. Run is
			// the only receiver on Unregister, so this must happen
			// inline rather than through the channel.
			h.logger.Warn("client send buffer full, unregistering",
				"context_id", client.ContextID,
			)
			h.unregisterClient(client)
		}
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
