package room

import (
	"fmt"

	"github.com/splitpot/splitpot-server/ledger"
)

// Ledger operations routed through the store lock so agent-driven
// mutations never race with router-driven room state changes.

// PokerBuyIn records a buy-in, creating the session on first use.
func (s *Store) PokerBuyIn(roomID, player string, cents int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return "", ErrRoomNotFound
	}
	return r.Ledger.RecordBuyIn(player, cents), nil
}

// PokerCashOut records a cash-out.
func (s *Store) PokerCashOut(roomID, player string, cents int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return "", ErrRoomNotFound
	}
	return r.Ledger.RecordCashOut(player, cents)
}

// PokerSummary renders the ledger.
func (s *Store) PokerSummary(roomID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return "", ErrRoomNotFound
	}
	return r.Ledger.Summary(), nil
}

// PokerSnapshot returns a copy of the room's poker session, or nil.
func (s *Store) PokerSnapshot(roomID string) *ledger.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	return r.Ledger.Snapshot()
}

// PokerSettle settles the room's session, resolving payees to wallet
// addresses from the participant records and the contact book.
func (s *Store) PokerSettle(roomID, requester string) ([]ledger.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r.Ledger.Settle(requester, r.resolveWallet)
}

// resolveWallet looks up a player's wallet address, preferring the live
// participant record over the contact book. Caller holds the lock.
func (r *Room) resolveWallet(player string) string {
	for _, p := range r.Participants {
		if p.Username == player && p.Wallet != "" {
			return p.Wallet
		}
	}
	return r.Contacts[player]
}

// FormatPayments renders settlement instructions, one line per payment.
func FormatPayments(payments []ledger.Payment) string {
	if len(payments) == 0 {
		return "Settled up. No payments due."
	}
	out := "Settled up. Payments:"
	for _, p := range payments {
		out += fmt.Sprintf("\n  Pay %s %s", p.To, ledger.FormatCents(p.Amount))
	}
	return out
}
