package sse

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mcoot/planning-poker/internal/model"
	"github.com/mcoot/planning-poker/internal/services/room"
)

// Message is one encoded event ready for any transport
type Message struct {
	Event string
	Data  []byte
}

// Hub fans events out to the clients of a single room. Broadcast never
// blocks: a client whose buffer is full is disconnected.
type Hub struct {
	roomID  model.RoomID
	clients map[*Client]struct{}
	closed  bool
	mu      sync.Mutex
	logger  *slog.Logger
}

// NewHub creates a new Hub for a room
func NewHub(roomID model.RoomID, logger *slog.Logger) *Hub {
	return &Hub{
		roomID:  roomID,
		clients: make(map[*Client]struct{}),
		logger:  logger.With(slog.String("room", string(roomID))),
	}
}

// Register queues initial on the client and adds it to the hub.
// It reports false if the hub is already closed.
func (h *Hub) Register(client *Client, initial Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}

	client.send <- initial
	h.clients[client] = struct{}{}
	h.logger.Info("client registered",
		slog.String("player_id", string(client.playerID)),
		slog.Int("total_clients", len(h.clients)))
	return true
}

// Unregister removes a client and closes its send channel
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.remove(client) {
		h.logger.Info("client unregistered",
			slog.String("player_id", string(client.playerID)),
			slog.Duration("connection_duration", time.Since(client.connectedAt)),
			slog.Int("total_clients", len(h.clients)))
	}
}

// Broadcast sends a message to all clients
func (h *Hub) Broadcast(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := 0
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			// Missing an event would leave the client silently stale, so
			// cut it off and let it resync on reconnect
			h.remove(client)
			dropped++
			h.logger.Warn("client buffer full, disconnecting",
				slog.String("player_id", string(client.playerID)))
		}
	}
	if dropped > 0 {
		h.logger.Warn("broadcast disconnected slow clients",
			slog.String("event", message.Event),
			slog.Int("disconnected", dropped))
	}
}

// Close disconnects every client. Later registrations are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	count := len(h.clients)
	for client := range h.clients {
		h.remove(client)
	}
	h.logger.Info("hub closed", slog.Int("disconnected_clients", count))
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// remove deletes the client and closes its channel. Caller holds h.mu.
func (h *Hub) remove(client *Client) bool {
	if _, ok := h.clients[client]; !ok {
		return false
	}
	delete(h.clients, client)
	close(client.send)
	return true
}

// formatSSEMessage formats an SSE message with event name and data
// Multi-line data is properly formatted with "data: " prefix on each line
func formatSSEMessage(eventName, data string) []byte {
	var b strings.Builder
	b.WriteString("event: " + eventName + "\n")
	// SSE requires each line of data to be prefixed with "data: "
	for _, line := range splitLines(data) {
		b.WriteString("data: " + line + "\n")
	}
	b.WriteString("\n")
	return []byte(b.String())
}

// splitLines splits a string into lines, handling various line endings
func splitLines(s string) []string {
	var lines []string
	var current strings.Builder
	for _, r := range s {
		if r == '\n' {
			lines = append(lines, current.String())
			current.Reset()
		} else if r != '\r' {
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	if len(lines) == 0 {
		lines = append(lines, "")
	}
	return lines
}

// HubManager manages hubs for all rooms and publishes room events to them
type HubManager struct {
	hubs   map[model.RoomID]*Hub
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewHubManager creates a new HubManager
func NewHubManager(logger *slog.Logger) *HubManager {
	return &HubManager{
		hubs:   make(map[model.RoomID]*Hub),
		logger: logger.With(slog.String("component", "sse")),
	}
}

var _ room.Publisher = (*HubManager)(nil)

// ErrHubClosed is returned when subscribing to a hub that has shut down
var ErrHubClosed = errors.New("hub closed")

// Subscribe adds a client to the room's hub, creating the hub if needed.
// The initial message is the first thing the client receives.
func (m *HubManager) Subscribe(roomID model.RoomID, client *Client, initial Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hub, ok := m.hubs[roomID]
	if !ok {
		hub = NewHub(roomID, m.logger)
		m.hubs[roomID] = hub
	}
	if !hub.Register(client, initial) {
		return fmt.Errorf("room %s: %w", roomID, ErrHubClosed)
	}
	return nil
}

// Unsubscribe removes a client. Hubs left without clients are dropped.
func (m *HubManager) Unsubscribe(roomID model.RoomID, client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hub, ok := m.hubs[roomID]
	if !ok {
		return
	}
	hub.Unregister(client)
	if hub.ClientCount() == 0 {
		hub.Close()
		delete(m.hubs, roomID)
	}
}

// GetHub returns the hub for a room, or nil if it doesn't exist
func (m *HubManager) GetHub(roomID model.RoomID) *Hub {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hubs[roomID]
}

// Publish encodes the event once and broadcasts it to the room's hub
func (m *HubManager) Publish(roomID model.RoomID, event model.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hub, ok := m.hubs[roomID]
	if !ok {
		return
	}

	message, err := EncodeMessage(event)
	if err != nil {
		m.logger.Error("failed to encode event",
			slog.String("room", string(roomID)),
			slog.String("event", string(event.Type())),
			slog.Any("error", err))
		return
	}
	hub.Broadcast(message)
}

// RoomClosed disconnects everyone in a room that no longer exists
func (m *HubManager) RoomClosed(roomID model.RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[roomID]; ok {
		hub.Close()
		delete(m.hubs, roomID)
		m.logger.Info("hub removed", slog.String("room", string(roomID)))
	}
}

// Close shuts down every hub
func (m *HubManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, hub := range m.hubs {
		hub.Close()
		delete(m.hubs, id)
	}
}

// Rooms returns the rooms that have a live hub
func (m *HubManager) Rooms() []model.RoomID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]model.RoomID, 0, len(m.hubs))
	for id := range m.hubs {
		ids = append(ids, id)
	}
	return ids
}

// HubCount returns the number of live hubs
func (m *HubManager) HubCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hubs)
}

// EncodeMessage turns an event into its wire envelope
func EncodeMessage(event model.Event) (Message, error) {
	data, err := model.EncodeEvent(event)
	if err != nil {
		return Message{}, err
	}
	return Message{Event: string(event.Type()), Data: data}, nil
}
