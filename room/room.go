// Package room owns all room state: participants, contact book, the
// bounded chat-context window, the unbounded replay log, and the
// embedded poker ledger. Every mutation goes through the Store lock.
package room

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/splitpot/splitpot-server/ledger"
	"github.com/splitpot/splitpot-server/protocol"
)

// ContextWindowSize bounds the chat window used to build agent context.
const ContextWindowSize = 50

// ErrRoomNotFound is returned for operations on an unknown room id.
var ErrRoomNotFound = errors.New("room not found")

// Mode is the room flavor.
type Mode string

const (
	ModeCasual Mode = "casual"
	ModePoker  Mode = "poker"
	ModeTrip   Mode = "trip"
)

// ParseMode validates a wire mode string.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeCasual, ModePoker, ModeTrip:
		return Mode(s), true
	}
	return "", false
}

// Participant is a named occupant of a room, distinct from a raw
// connection. Username is unique within a room.
type Participant struct {
	Username string
	Wallet   string
	Identity string
}

// ChatMessage is one entry of the bounded context window.
type ChatMessage struct {
	RoomID    string
	Sender    string
	Text      string
	Timestamp time.Time
}

// Room holds one room's state. Rooms live for the process lifetime.
type Room struct {
	ID           string
	Name         string
	Mode         Mode
	Participants []Participant
	Contacts     map[string]string // username -> wallet address
	Ledger       ledger.Ledger

	window []ChatMessage          // last ContextWindowSize entries
	replay []protocol.ServerEvent // full ordered history, never evicted
	lastTs int64                  // unix millis, for monotonic timestamps
}

// Store owns the set of rooms.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewStore() *Store {
	return &Store{rooms: make(map[string]*Room)}
}

// Create makes a new empty room and returns it. IDs are uuids, so
// collisions are negligible.
func (s *Store) Create(name string, mode Mode) *Room {
	r := &Room{
		ID:       uuid.NewString(),
		Name:     name,
		Mode:     mode,
		Contacts: make(map[string]string),
	}
	s.mu.Lock()
	s.rooms[r.ID] = r
	s.mu.Unlock()
	return r
}

// Join adds a participant to a room. Re-joining under the same username
// replaces the prior participant record. A non-empty wallet is recorded
// in the room's contact book.
//
// attach, when non-nil, runs under the store lock with a snapshot of
// the replay log taken before any join events, so the caller can
// deliver history and establish its live subscription as one step: no
// event appended after the snapshot can be fanned out before the
// subscription exists.
func (s *Store) Join(roomID, username, wallet, identity string, attach func(replay []protocol.ServerEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}

	p := Participant{Username: username, Wallet: wallet, Identity: identity}
	replaced := false
	for i := range r.Participants {
		if r.Participants[i].Username == username {
			r.Participants[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		r.Participants = append(r.Participants, p)
	}
	if wallet != "" {
		r.Contacts[username] = wallet
	}

	if attach != nil {
		attach(append([]protocol.ServerEvent(nil), r.replay...))
	}
	return nil
}

// Leave removes a participant by username. Reports whether anyone was
// removed; unknown rooms and absent usernames are no-ops.
func (s *Store) Leave(roomID, username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	for i := range r.Participants {
		if r.Participants[i].Username == username {
			r.Participants = append(r.Participants[:i], r.Participants[i+1:]...)
			return true
		}
	}
	return false
}

// AppendChat records a chat message in the context window and the
// replay log and returns the built event.
func (s *Store) AppendChat(roomID, sender, text string) (protocol.ServerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return protocol.ServerEvent{}, ErrRoomNotFound
	}
	ts := r.nextTimestamp()
	r.pushWindow(ChatMessage{RoomID: roomID, Sender: sender, Text: text, Timestamp: ts})
	ev := protocol.NewChat(roomID, sender, text, ts)
	r.replay = append(r.replay, ev)
	return ev, nil
}

// AppendAgent records an agent response in the context window and the
// replay log and returns the built event.
func (s *Store) AppendAgent(roomID, name, text string, toolUses []string) (protocol.ServerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return protocol.ServerEvent{}, ErrRoomNotFound
	}
	ts := r.nextTimestamp()
	r.pushWindow(ChatMessage{RoomID: roomID, Sender: name, Text: text, Timestamp: ts})
	ev := protocol.NewAgent(roomID, text, toolUses, ts)
	r.replay = append(r.replay, ev)
	return ev, nil
}

// AppendSystem records a room-scoped system message in the replay log
// and returns the built event.
func (s *Store) AppendSystem(roomID, text string) (protocol.ServerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return protocol.ServerEvent{}, ErrRoomNotFound
	}
	ev := protocol.NewSystem(roomID, text, r.nextTimestamp())
	r.replay = append(r.replay, ev)
	return ev, nil
}

// Replay returns a copy of the full ordered history.
func (s *Store) Replay(roomID string) []protocol.ServerEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	return append([]protocol.ServerEvent(nil), r.replay...)
}

// ContextWindow returns a copy of the bounded chat window.
func (s *Store) ContextWindow(roomID string) []ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	return append([]ChatMessage(nil), r.window...)
}

// Users returns the user_list snapshot for a room, in join order.
func (s *Store) Users(roomID string) []protocol.UserInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	users := make([]protocol.UserInfo, 0, len(r.Participants))
	for _, p := range r.Participants {
		users = append(users, protocol.UserInfo{Username: p.Username, Wallet: p.Wallet})
	}
	return users
}

// Contacts returns a copy of the room's contact book.
func (s *Store) Contacts(roomID string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	contacts := make(map[string]string, len(r.Contacts))
	for name, addr := range r.Contacts {
		contacts[name] = addr
	}
	return contacts
}

// List returns the room_list snapshot.
func (s *Store) List() []protocol.RoomInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]protocol.RoomInfo, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, protocol.RoomInfo{
			RoomID:           r.ID,
			RoomName:         r.Name,
			Mode:             string(r.Mode),
			ParticipantCount: len(r.Participants),
		})
	}
	return rooms
}

// Name returns the human name for a room id, or the id if unknown.
func (s *Store) Name(roomID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rooms[roomID]; ok {
		return r.Name
	}
	return roomID
}

func (r *Room) pushWindow(m ChatMessage) {
	r.window = append(r.window, m)
	if len(r.window) > ContextWindowSize {
		r.window = r.window[1:]
	}
}

// nextTimestamp assigns server timestamps that are strictly increasing
// per room even when the clock reads the same millisecond twice.
func (r *Room) nextTimestamp() time.Time {
	ms := time.Now().UTC().UnixMilli()
	if ms <= r.lastTs {
		ms = r.lastTs + 1
	}
	r.lastTs = ms
	return time.UnixMilli(ms).UTC()
}
