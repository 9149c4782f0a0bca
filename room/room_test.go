package room

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitpot/splitpot-server/ledger"
	"github.com/splitpot/splitpot-server/protocol"
)

// join wraps Store.Join for tests that only need the replay snapshot.
func join(t *testing.T, s *Store, roomID, username, wallet, identity string) []protocol.ServerEvent {
	t.Helper()
	var replay []protocol.ServerEvent
	err := s.Join(roomID, username, wallet, identity, func(evs []protocol.ServerEvent) { replay = evs })
	require.NoError(t, err)
	return replay
}

func TestParseMode(t *testing.T) {
	for _, valid := range []string{"casual", "poker", "trip"} {
		_, ok := ParseMode(valid)
		assert.True(t, ok, valid)
	}
	_, ok := ParseMode("karaoke")
	assert.False(t, ok)
}

func TestCreateRoomIDsUnique(t *testing.T) {
	s := NewStore()
	a := s.Create("one", ModeCasual)
	b := s.Create("two", ModePoker)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, s.List(), 2)
}

func TestJoinUnknownRoom(t *testing.T) {
	s := NewStore()
	err := s.Join("nope", "Alice", "", "id-1", func([]protocol.ServerEvent) {
		t.Fatal("attach must not run for an unknown room")
	})
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestJoinIdempotentRejoin(t *testing.T) {
	s := NewStore()
	r := s.Create("lobby", ModeCasual)

	for i := 0; i < 3; i++ {
		join(t, s, r.ID, "Alice", "", "id-1")
	}
	users := s.Users(r.ID)
	require.Len(t, users, 1, "one participant per username no matter how often it joins")

	// Re-join overwrites the prior record.
	join(t, s, r.ID, "Alice", "0xa11ce", "id-2")
	users = s.Users(r.ID)
	require.Len(t, users, 1)
	assert.Equal(t, "0xa11ce", users[0].Wallet)
}

func TestJoinRecordsContact(t *testing.T) {
	s := NewStore()
	r := s.Create("lobby", ModeCasual)
	join(t, s, r.ID, "Alice", "0xa11ce", "id-1")
	join(t, s, r.ID, "Bob", "", "id-2")

	contacts := s.Contacts(r.ID)
	assert.Equal(t, map[string]string{"Alice": "0xa11ce"}, contacts)
}

func TestJoinReplaySnapshotPrecedesJoinEvents(t *testing.T) {
	s := NewStore()
	r := s.Create("lobby", ModeCasual)

	join(t, s, r.ID, "Alice", "", "id-1")
	_, err := s.AppendSystem(r.ID, "Alice joined the room")
	require.NoError(t, err)
	_, err = s.AppendChat(r.ID, "Alice", "hello")
	require.NoError(t, err)

	replay := join(t, s, r.ID, "Bob", "", "id-2")
	require.Len(t, replay, 2)
	assert.Equal(t, protocol.EventSystem, replay[0].Type)
	assert.Equal(t, protocol.EventChat, replay[1].Type)
	assert.Equal(t, "hello", replay[1].Text)
}

func TestJoinAttachSeesNothingAppendedAfterIt(t *testing.T) {
	s := NewStore()
	r := s.Create("lobby", ModeCasual)
	_, err := s.AppendChat(r.ID, "Alice", "before")
	require.NoError(t, err)

	var replay []protocol.ServerEvent
	err = s.Join(r.ID, "Bob", "", "id-1", func(evs []protocol.ServerEvent) { replay = evs })
	require.NoError(t, err)
	_, err = s.AppendChat(r.ID, "Alice", "after")
	require.NoError(t, err)

	require.Len(t, replay, 1)
	assert.Equal(t, "before", replay[0].Text)
}

func TestLeave(t *testing.T) {
	s := NewStore()
	r := s.Create("lobby", ModeCasual)
	join(t, s, r.ID, "Alice", "", "id-1")

	assert.True(t, s.Leave(r.ID, "Alice"))
	assert.Empty(t, s.Users(r.ID))

	// Absent usernames and unknown rooms are no-ops.
	assert.False(t, s.Leave(r.ID, "Alice"))
	assert.False(t, s.Leave("nope", "Alice"))
}

func TestContextWindowBounded(t *testing.T) {
	s := NewStore()
	r := s.Create("lobby", ModeCasual)

	for i := 0; i < ContextWindowSize+10; i++ {
		_, err := s.AppendChat(r.ID, "Alice", fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	window := s.ContextWindow(r.ID)
	require.Len(t, window, ContextWindowSize)
	assert.Equal(t, "msg 10", window[0].Text, "oldest entries evicted first")
	assert.Equal(t, fmt.Sprintf("msg %d", ContextWindowSize+9), window[len(window)-1].Text)

	// The replay log never evicts.
	assert.Len(t, s.Replay(r.ID), ContextWindowSize+10)
}

func TestReplayOrderAndGrowth(t *testing.T) {
	s := NewStore()
	r := s.Create("lobby", ModeCasual)

	_, err := s.AppendSystem(r.ID, "Alice joined the room")
	require.NoError(t, err)
	_, err = s.AppendChat(r.ID, "Alice", "hi")
	require.NoError(t, err)
	_, err = s.AppendAgent(r.ID, "Claude", "hello Alice", []string{"show_ledger"})
	require.NoError(t, err)

	replay := s.Replay(r.ID)
	require.Len(t, replay, 3)
	assert.Equal(t, protocol.EventSystem, replay[0].Type)
	assert.Equal(t, protocol.EventChat, replay[1].Type)
	assert.Equal(t, protocol.EventAgent, replay[2].Type)
	assert.Equal(t, []string{"show_ledger"}, replay[2].ToolUses)

	// Timestamps are strictly increasing per room.
	assert.Less(t, replay[0].Timestamp, replay[1].Timestamp)
	assert.Less(t, replay[1].Timestamp, replay[2].Timestamp)
}

func TestAgentMessagesEnterContextWindow(t *testing.T) {
	s := NewStore()
	r := s.Create("lobby", ModeCasual)
	_, err := s.AppendAgent(r.ID, "Claude", "hello", nil)
	require.NoError(t, err)

	window := s.ContextWindow(r.ID)
	require.Len(t, window, 1)
	assert.Equal(t, "Claude", window[0].Sender)
}

func TestListSnapshot(t *testing.T) {
	s := NewStore()
	r := s.Create("Poker Night", ModePoker)
	join(t, s, r.ID, "Alice", "", "id-1")

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, protocol.RoomInfo{
		RoomID:           r.ID,
		RoomName:         "Poker Night",
		Mode:             "poker",
		ParticipantCount: 1,
	}, list[0])
}

func TestPokerSettleResolvesWallets(t *testing.T) {
	s := NewStore()
	r := s.Create("Poker Night", ModePoker)
	join(t, s, r.ID, "Alice", "", "id-1")
	join(t, s, r.ID, "Bob", "0xb0b", "id-2")

	_, err := s.PokerBuyIn(r.ID, "Alice", 10000)
	require.NoError(t, err)
	_, err = s.PokerBuyIn(r.ID, "Bob", 10000)
	require.NoError(t, err)
	_, err = s.PokerCashOut(r.ID, "Bob", 15000)
	require.NoError(t, err)
	_, err = s.PokerCashOut(r.ID, "Alice", 5000)
	require.NoError(t, err)

	payments, err := s.PokerSettle(r.ID, "Alice")
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, "0xb0b", payments[0].To, "known wallet preferred")
	assert.Equal(t, int64(15000), payments[0].Amount)
	assert.Equal(t, "Alice", payments[1].To, "falls back to the player name")
	assert.Equal(t, int64(5000), payments[1].Amount)
}

func TestPokerSettleUsesContactBookAfterLeave(t *testing.T) {
	s := NewStore()
	r := s.Create("Poker Night", ModePoker)
	join(t, s, r.ID, "Alice", "", "id-1")
	join(t, s, r.ID, "Bob", "0xb0b", "id-2")

	_, err := s.PokerBuyIn(r.ID, "Alice", 10000)
	require.NoError(t, err)
	_, err = s.PokerCashOut(r.ID, "Bob", 10000)
	require.NoError(t, err)

	// Bob is gone, but the contact book still knows his wallet.
	s.Leave(r.ID, "Bob")

	payments, err := s.PokerSettle(r.ID, "Alice")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "0xb0b", payments[0].To)
}

func TestPokerOpsUnknownRoom(t *testing.T) {
	s := NewStore()
	_, err := s.PokerBuyIn("nope", "Alice", 100)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = s.PokerSummary("nope")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Nil(t, s.PokerSnapshot("nope"))
}

func TestFormatPayments(t *testing.T) {
	assert.Equal(t, "Settled up. No payments due.", FormatPayments(nil))

	out := FormatPayments([]ledger.Payment{
		{To: "0xb0b", Amount: 15000},
		{To: "Alice", Amount: 5000},
	})
	assert.Contains(t, out, "Pay 0xb0b $150")
	assert.Contains(t, out, "Pay Alice $50")
}
