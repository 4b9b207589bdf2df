// Package realtime implements personal rooms: per-user delivery channels that
// every live connection of a user joins.
package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/localcity-market/messaging/pkg/logger"
	"github.com/localcity-market/messaging/pkg/metrics"
)

// Transports label connections in metrics.
const (
	TransportWebSocket = "ws"
	TransportSSE       = "sse"
)

// Protocol events answered to a single connection.
const (
	EventJoined    = "joined"
	EventLeft      = "left"
	EventPong      = "pong"
	EventError     = "error"
	EventHeartbeat = "heartbeat"
)

// Event is the envelope written to clients.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Client is one live connection. Transports drain Events and write them out.
type Client struct {
	ID        string
	Transport string

	send chan Event

	mu     sync.Mutex
	userID string
	closed bool
}

// Events returns the channel of events queued for this connection.
func (c *Client) Events() <-chan Event {
	return c.send
}

// UserID returns the room the client is joined to, or "".
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Hub tracks rooms keyed by user id.
type Hub struct {
	bufferSize int
	logger     *logger.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

// NewHub creates a hub whose clients buffer up to bufferSize events.
func NewHub(bufferSize int, log *logger.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		bufferSize: bufferSize,
		logger:     log,
		rooms:      make(map[string]map[*Client]struct{}),
	}
}

// Connect registers a new, not yet joined connection.
func (h *Hub) Connect(transport string) *Client {
	metrics.IncrementConnections(transport)
	return &Client{
		ID:        uuid.NewString(),
		Transport: transport,
		send:      make(chan Event, h.bufferSize),
	}
}

// Join moves the client into userID's room, leaving any previous room.
func (h *Hub) Join(c *Client, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if c.userID != "" {
		h.removeLocked(c.userID, c)
	}
	if h.rooms[userID] == nil {
		h.rooms[userID] = make(map[*Client]struct{})
	}
	h.rooms[userID][c] = struct{}{}
	c.userID = userID

	h.logger.Debug("client joined room",
		zap.String("client_id", c.ID),
		zap.String("user_id", userID),
		zap.String("transport", c.Transport),
	)
}

// Leave removes the client from its room, if any.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID != "" {
		h.removeLocked(c.userID, c)
		c.userID = ""
	}
}

// Disconnect removes the client from its room and closes its event channel.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.userID != "" {
		h.removeLocked(c.userID, c)
		c.userID = ""
	}
	c.closed = true
	close(c.send)
	metrics.DecrementConnections(c.Transport)
}

// EmitToUser delivers an event to every connection in userID's room. Events
// for empty rooms and for connections with full buffers are dropped.
func (h *Hub) EmitToUser(_ context.Context, userID, event string, payload any) {
	h.Deliver(userID, Event{Event: event, Data: payload})
}

// Deliver pushes ev into userID's room and returns the number of connections
// that accepted it.
func (h *Hub) Deliver(userID string, ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered, dropped := 0, 0
	for c := range h.rooms[userID] {
		select {
		case c.send <- ev:
			delivered++
		default:
			dropped++
		}
	}
	metrics.RecordDelivery(ev.Event, delivered, dropped)
	return delivered
}

// Send queues a protocol event for a single connection without blocking.
func (h *Hub) Send(c *Client, ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// RoomSize returns how many connections are joined to userID's room.
func (h *Hub) RoomSize(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID])
}

func (h *Hub) removeLocked(userID string, c *Client) {
	set, ok := h.rooms[userID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.rooms, userID)
	}
}
