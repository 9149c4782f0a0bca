package rpc

import (
	"errors"
	"log/slog"
	"time"

	"github.com/splitpot/splitpot-server/agent"
	"github.com/splitpot/splitpot-server/ledger"
	"github.com/splitpot/splitpot-server/protocol"
	"github.com/splitpot/splitpot-server/room"
)

// The router is the dispatcher's sink: agent lifecycle events re-enter
// the broadcaster here.

func (r *Router) AgentTyping(roomID string, typing bool) {
	r.Hub.BroadcastToRoom(roomID, protocol.NewAgentTyping(roomID, typing), nil)
}

func (r *Router) AgentProgress(roomID, tool string, elapsed time.Duration) {
	r.Hub.BroadcastToRoom(roomID, protocol.NewAgentProgress(roomID, tool, elapsed), nil)
}

func (r *Router) AgentResponse(roomID, text string, toolUses []string) {
	ev, err := r.Rooms.AppendAgent(roomID, AgentName, text, toolUses)
	if err != nil {
		slog.Error("record agent response failed", "err", err, "roomId", roomID)
		return
	}
	r.Hub.BroadcastToRoom(roomID, ev, nil)
	slog.Info("agent responded", "roomId", roomID, "len", len(text), "tools", len(toolUses))
}

func (r *Router) SystemMessage(roomID, text string) {
	ev, err := r.Rooms.AppendSystem(roomID, text)
	if err != nil {
		slog.Error("record system message failed", "err", err, "roomId", roomID)
		return
	}
	r.Hub.BroadcastToRoom(roomID, ev, nil)
}

// ledgerOps binds the room's poker ledger to closures the agent can
// call. Precondition failures come back as plain text: they are
// expected user-facing outcomes, not faults.
func (r *Router) ledgerOps(roomID string) agent.LedgerOps {
	return agent.LedgerOps{
		BuyIn: func(player string, cents int64) string {
			out, err := r.Rooms.PokerBuyIn(roomID, player, cents)
			if err != nil {
				return ledgerErrorText(err)
			}
			return out
		},
		CashOut: func(player string, cents int64) string {
			out, err := r.Rooms.PokerCashOut(roomID, player, cents)
			if err != nil {
				return ledgerErrorText(err)
			}
			return out
		},
		Summary: func() string {
			out, err := r.Rooms.PokerSummary(roomID)
			if err != nil {
				return ledgerErrorText(err)
			}
			return out
		},
		Settle: func(player string) string {
			payments, err := r.Rooms.PokerSettle(roomID, player)
			if err != nil {
				return ledgerErrorText(err)
			}
			return room.FormatPayments(payments)
		},
	}
}

func ledgerErrorText(err error) string {
	switch {
	case errors.Is(err, ledger.ErrNoActiveSession):
		return "No poker session yet. Record a buy-in first."
	case errors.Is(err, room.ErrRoomNotFound):
		return "That room no longer exists."
	default:
		return err.Error()
	}
}
