// Package protocol defines the JSON wire format between clients and the
// server: inbound commands discriminated by "type", and the outbound
// server event union.
package protocol

import "time"

// Inbound message types.
const (
	TypeConnect    = "connect"
	TypeCreateRoom = "create_room"
	TypeJoinRoom   = "join_room"
	TypeChat       = "chat"
)

// Outbound event types.
const (
	EventSystem        = "system"
	EventChat          = "chat"
	EventUserList      = "user_list"
	EventRoomList      = "room_list"
	EventAgent         = "agent"
	EventAgentProgress = "agent_progress"
	EventAgentTyping   = "agent_typing"
)

// ClientMessage is the type-peek for incoming messages. Fields beyond
// Type are populated depending on the command.
type ClientMessage struct {
	Type     string `json:"type"`
	APIKey   string `json:"apiKey,omitempty"`
	RoomName string `json:"roomName,omitempty"`
	Mode     string `json:"mode,omitempty"`
	RoomID   string `json:"roomId,omitempty"`
	Username string `json:"username,omitempty"`
	Wallet   string `json:"wallet,omitempty"`
	Text     string `json:"text,omitempty"`
}

// ServerEvent is the outbound tagged union. A zero field is omitted, so
// each event type only carries its own payload on the wire.
type ServerEvent struct {
	Type      string     `json:"type"`
	RoomID    string     `json:"roomId,omitempty"`
	Text      string     `json:"text,omitempty"`
	Username  string     `json:"username,omitempty"`
	Timestamp int64      `json:"timestamp,omitempty"`
	Rooms     []RoomInfo `json:"rooms,omitempty"`
	Users     []UserInfo `json:"users,omitempty"`
	ToolUses  []string   `json:"tool_uses,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
	ElapsedMs int64      `json:"elapsed_time,omitempty"`
	IsTyping  *bool      `json:"isTyping,omitempty"`
}

// RoomInfo is one entry of a room_list snapshot.
type RoomInfo struct {
	RoomID           string `json:"roomId"`
	RoomName         string `json:"roomName"`
	Mode             string `json:"mode"`
	ParticipantCount int    `json:"participantCount"`
}

// UserInfo is one entry of a user_list snapshot.
type UserInfo struct {
	Username string `json:"username"`
	Wallet   string `json:"wallet,omitempty"`
}

func NewSystem(roomID, text string, ts time.Time) ServerEvent {
	return ServerEvent{Type: EventSystem, RoomID: roomID, Text: text, Timestamp: ts.UnixMilli()}
}

func NewChat(roomID, username, text string, ts time.Time) ServerEvent {
	return ServerEvent{Type: EventChat, RoomID: roomID, Username: username, Text: text, Timestamp: ts.UnixMilli()}
}

func NewUserList(roomID string, users []UserInfo) ServerEvent {
	if users == nil {
		users = []UserInfo{}
	}
	return ServerEvent{Type: EventUserList, RoomID: roomID, Users: users}
}

func NewRoomList(rooms []RoomInfo) ServerEvent {
	if rooms == nil {
		rooms = []RoomInfo{}
	}
	return ServerEvent{Type: EventRoomList, Rooms: rooms}
}

func NewAgent(roomID, text string, toolUses []string, ts time.Time) ServerEvent {
	return ServerEvent{Type: EventAgent, RoomID: roomID, Text: text, ToolUses: toolUses, Timestamp: ts.UnixMilli()}
}

func NewAgentProgress(roomID, toolName string, elapsed time.Duration) ServerEvent {
	return ServerEvent{
		Type:      EventAgentProgress,
		RoomID:    roomID,
		Text:      "Using " + toolName + "…",
		ToolName:  toolName,
		ElapsedMs: elapsed.Milliseconds(),
	}
}

func NewAgentTyping(roomID string, typing bool) ServerEvent {
	return ServerEvent{Type: EventAgentTyping, RoomID: roomID, IsTyping: &typing}
}
