package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// DefaultSchema is reported on every change; there is only one.
const DefaultSchema = "public"

// Change is a row-level change notice broadcast to subscribers of a table.
type Change struct {
	Event   string `json:"event"`
	Schema  string `json:"schema"`
	Table   string `json:"table"`
	Payload any    `json:"payload,omitempty"`
}

// Hub maintains the set of active WebSocket clients and in-process
// subscriptions, and fans changes out to those watching the table.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	subs    map[*Subscription]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		subs:    make(map[*Subscription]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Publish broadcasts a change on table. It never blocks.
func (h *Hub) Publish(table, event string, payload any) {
	h.Broadcast(Change{Event: event, Schema: DefaultSchema, Table: table, Payload: payload})
}

// Broadcast delivers a change to every client and subscription watching
// its table. Receivers with a full buffer miss the change.
func (h *Hub) Broadcast(change Change) {
	data, err := json.Marshal(change)
	if err != nil {
		h.logger.Error("marshal broadcast", "table", change.Table, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !watches(c.table, change.Table) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Debug("client buffer full, dropping change", "table", change.Table)
		}
	}
	for s := range h.subs {
		if !watches(s.table, change.Table) {
			continue
		}
		select {
		case s.changes <- change:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribe returns an in-process subscription to table. An empty table
// receives every change.
func (h *Hub) Subscribe(table string) *Subscription {
	s := &Subscription{
		hub:     h,
		table:   table,
		changes: make(chan Change, sendBufferSize),
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.changes)
	}
	h.mu.Unlock()
}

// Subscription is an in-process receiver of hub changes.
type Subscription struct {
	hub     *Hub
	table   string
	changes chan Change
}

// Changes is closed once the subscription is closed.
func (s *Subscription) Changes() <-chan Change {
	return s.changes
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() error {
	s.hub.unsubscribe(s)
	return nil
}

func watches(filter, table string) bool {
	return filter == "" || filter == table
}
