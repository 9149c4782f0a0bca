// Package ws holds the websocket connection layer: the Client wrapper
// around one socket and the Hub that tracks live connections and fans
// events out by room.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/splitpot/splitpot-server/protocol"
)

// Hub is the connection registry and broadcaster.
type Hub struct {
	mu       sync.RWMutex
	clients  map[Conn]bool
	roomSubs map[string]map[Conn]bool // roomID -> set of conns

	// Handler receives every decoded frame from a registered connection.
	Handler func(c Conn, data []byte)
	// OnDisconnect runs once per connection after it is unregistered.
	OnDisconnect func(c Conn)
}

func NewHub() *Hub {
	return &Hub{
		clients:  make(map[Conn]bool),
		roomSubs: make(map[string]map[Conn]bool),
	}
}

func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	slog.Info("client connected", "clients", n)
}

// Unregister removes a connection from the registry and every room. It
// is idempotent: a socket may error and then close.
func (h *Hub) Unregister(c Conn) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for roomID, subs := range h.roomSubs {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.roomSubs, roomID)
		}
	}
	h.mu.Unlock()

	if cl, ok := c.(*Client); ok {
		cl.close()
	}
	if h.OnDisconnect != nil {
		h.OnDisconnect(c)
	}
	slog.Info("client unregistered", "username", c.Username())
}

func (h *Hub) SubscribeRoom(roomID string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.roomSubs[roomID] == nil {
		h.roomSubs[roomID] = make(map[Conn]bool)
	}
	h.roomSubs[roomID][c] = true
}

func (h *Hub) UnsubscribeRoom(roomID string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.roomSubs[roomID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.roomSubs, roomID)
		}
	}
}

// ListByRoom returns the live connections subscribed to a room.
func (h *Hub) ListByRoom(roomID string) []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := h.roomSubs[roomID]
	conns := make([]Conn, 0, len(subs))
	for c := range subs {
		conns = append(conns, c)
	}
	return conns
}

// BroadcastToRoom serializes the event once and delivers it to every
// connection in the room except the excluded one. Dead connections drop
// the message silently. Timestamped events a connection already holds
// from its join replay are skipped; per-room timestamps are strictly
// increasing, so the replay mark covers exactly the replayed prefix.
func (h *Hub) BroadcastToRoom(roomID string, ev protocol.ServerEvent, exclude Conn) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal error", "err", err)
		return
	}

	h.mu.RLock()
	conns := make([]Conn, 0, len(h.roomSubs[roomID]))
	for c := range h.roomSubs[roomID] {
		if c == exclude {
			continue
		}
		if markRoom, markTs := c.ReplayMark(); markRoom == roomID && ev.Timestamp != 0 && ev.Timestamp <= markTs {
			continue
		}
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Send(data)
	}
}

// BroadcastAll delivers an event to every live connection.
func (h *Hub) BroadcastAll(ev protocol.ServerEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal error", "err", err)
		return
	}

	h.mu.RLock()
	conns := make([]Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Send(data)
	}
}

func (h *Hub) handleMessage(c Conn, data []byte) {
	if h.Handler != nil {
		h.Handler(c, data)
	}
}
