// Package rpc decodes inbound client messages, mutates room and
// connection state, fans events out through the hub, and triggers
// agent dispatch.
package rpc

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/splitpot/splitpot-server/agent"
	"github.com/splitpot/splitpot-server/protocol"
	"github.com/splitpot/splitpot-server/room"
	"github.com/splitpot/splitpot-server/ws"
)

// MentionToken in a chat message triggers the agent (case-insensitive).
const MentionToken = "@claude"

// AgentName is the display name agent responses are recorded under.
const AgentName = "Claude"

// Hub is the broadcaster surface the router needs; *ws.Hub implements it.
type Hub interface {
	SubscribeRoom(roomID string, c ws.Conn)
	UnsubscribeRoom(roomID string, c ws.Conn)
	BroadcastToRoom(roomID string, ev protocol.ServerEvent, exclude ws.Conn)
	BroadcastAll(ev protocol.ServerEvent)
}

// Router owns the connection lifecycle and message dispatch.
type Router struct {
	Hub        Hub
	Rooms      *room.Store
	Dispatcher *agent.Dispatcher

	// Identities maps a caller-supplied api key to its identity tag.
	Identities map[string]string
}

func NewRouter(hub Hub, rooms *room.Store, identities map[string]string) *Router {
	return &Router{Hub: hub, Rooms: rooms, Identities: identities}
}

// Handle processes one inbound frame. Malformed input is logged and
// dropped; the connection stays open.
func (r *Router) Handle(c ws.Conn, data []byte) {
	var msg protocol.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("invalid message", "err", err)
		return
	}

	switch msg.Type {
	case protocol.TypeConnect:
		r.handleConnect(c, msg)
	case protocol.TypeCreateRoom:
		r.handleCreateRoom(c, msg)
	case protocol.TypeJoinRoom:
		r.handleJoinRoom(c, msg)
	case protocol.TypeChat:
		r.handleChat(c, msg)
	default:
		slog.Warn("unknown message type", "type", msg.Type)
	}
}

// HandleDisconnect runs after the hub unregisters a connection.
func (r *Router) HandleDisconnect(c ws.Conn) {
	r.leaveCurrentRoom(c)
}

func (r *Router) handleConnect(c ws.Conn, msg protocol.ClientMessage) {
	tag, ok := r.Identities[msg.APIKey]
	if !ok {
		c.SendEvent(protocol.NewSystem("", "Unknown API key.", time.Now().UTC()))
		return
	}
	c.SetIdentity(tag)
	slog.Info("client identified", "identity", tag)
	c.SendEvent(protocol.NewRoomList(r.Rooms.List()))
}

func (r *Router) handleCreateRoom(c ws.Conn, msg protocol.ClientMessage) {
	if msg.RoomName == "" {
		c.SendEvent(protocol.NewSystem("", "roomName is required.", time.Now().UTC()))
		return
	}
	mode, ok := room.ParseMode(msg.Mode)
	if !ok {
		c.SendEvent(protocol.NewSystem("", "mode must be one of casual, poker, trip.", time.Now().UTC()))
		return
	}

	rm := r.Rooms.Create(msg.RoomName, mode)
	slog.Info("room created", "roomId", rm.ID, "name", rm.Name, "mode", rm.Mode)

	r.Hub.BroadcastAll(protocol.NewRoomList(r.Rooms.List()))
	c.SendEvent(protocol.NewSystem(rm.ID, "Room \""+rm.Name+"\" created. ID: "+rm.ID, time.Now().UTC()))
}

func (r *Router) handleJoinRoom(c ws.Conn, msg protocol.ClientMessage) {
	if msg.RoomID == "" || msg.Username == "" {
		c.SendEvent(protocol.NewSystem("", "roomId and username are required.", time.Now().UTC()))
		return
	}

	// Departure from the old room precedes arrival in the new one. A
	// re-join under a new name retires the old participant entry.
	switch old := c.RoomID(); {
	case old != "" && old != msg.RoomID:
		r.leaveCurrentRoom(c)
	case old == msg.RoomID && c.Username() != "" && c.Username() != msg.Username:
		if r.Rooms.Leave(old, c.Username()) {
			if ev, err := r.Rooms.AppendSystem(old, c.Username()+" left the room"); err == nil {
				r.Hub.BroadcastToRoom(old, ev, c)
			}
		}
	}

	// Full history goes to the joiner and the live subscription is
	// established under the store lock, so no event recorded from here
	// on can slip between the replay snapshot and the first delivery.
	err := r.Rooms.Join(msg.RoomID, msg.Username, msg.Wallet, c.Identity(), func(replay []protocol.ServerEvent) {
		for _, ev := range replay {
			c.SendEvent(ev)
		}
		if n := len(replay); n > 0 {
			c.SetReplayMark(msg.RoomID, replay[n-1].Timestamp)
		}
		r.Hub.SubscribeRoom(msg.RoomID, c)
	})
	if err != nil {
		c.SendEvent(protocol.NewSystem("", "Room not found: "+msg.RoomID, time.Now().UTC()))
		return
	}

	c.SetProfile(msg.Username, msg.Wallet)
	c.SetRoom(msg.RoomID)

	joined, err := r.Rooms.AppendSystem(msg.RoomID, msg.Username+" joined the room")
	if err == nil {
		r.Hub.BroadcastToRoom(msg.RoomID, joined, nil)
	}
	r.Hub.BroadcastToRoom(msg.RoomID, protocol.NewUserList(msg.RoomID, r.Rooms.Users(msg.RoomID)), nil)

	slog.Info("user joined", "roomId", msg.RoomID, "username", msg.Username)
}

func (r *Router) handleChat(c ws.Conn, msg protocol.ClientMessage) {
	roomID := c.RoomID()
	username := c.Username()
	if roomID == "" || username == "" {
		c.SendEvent(protocol.NewSystem("", "Join a room before chatting.", time.Now().UTC()))
		return
	}
	if msg.Text == "" {
		return
	}

	ev, err := r.Rooms.AppendChat(roomID, username, msg.Text)
	if err != nil {
		c.SendEvent(protocol.NewSystem("", "Room not found: "+roomID, time.Now().UTC()))
		return
	}
	// Chat is echoed to the sender as well.
	r.Hub.BroadcastToRoom(roomID, ev, nil)

	if containsMention(msg.Text) {
		r.dispatchAgent(c, roomID, msg.Text)
	}
}

func (r *Router) dispatchAgent(c ws.Conn, roomID, text string) {
	req := agent.Request{
		RoomID:       roomID,
		RoomName:     r.Rooms.Name(roomID),
		Text:         text,
		History:      r.Rooms.ContextWindow(roomID),
		Participants: r.Rooms.Users(roomID),
		Contacts:     r.Rooms.Contacts(roomID),
		Poker:        r.Rooms.PokerSnapshot(roomID),
		Ledger:       r.ledgerOps(roomID),
	}

	switch err := r.Dispatcher.Dispatch(c.Identity(), req); err {
	case nil:
	case agent.ErrAlreadyProcessing:
		r.SystemMessage(roomID, "The assistant is still working on an earlier request. Try again in a moment.")
	case agent.ErrUnknownIdentity:
		c.SendEvent(protocol.NewSystem(roomID, "Connect with an API key before mentioning the assistant.", time.Now().UTC()))
	default:
		slog.Error("dispatch failed", "err", err, "roomId", roomID)
	}
}

// leaveCurrentRoom removes the connection's participant from its room
// and notifies the remaining members. Safe when no room was joined.
func (r *Router) leaveCurrentRoom(c ws.Conn) {
	roomID := c.RoomID()
	username := c.Username()
	if roomID == "" {
		return
	}
	r.Hub.UnsubscribeRoom(roomID, c)
	c.SetRoom("")

	if username != "" && r.Rooms.Leave(roomID, username) {
		ev, err := r.Rooms.AppendSystem(roomID, username+" left the room")
		if err == nil {
			r.Hub.BroadcastToRoom(roomID, ev, c)
		}
		r.Hub.BroadcastToRoom(roomID, protocol.NewUserList(roomID, r.Rooms.Users(roomID)), c)
	}
}

func containsMention(text string) bool {
	return strings.Contains(strings.ToLower(text), MentionToken)
}
