// Package agent coordinates invocations of the external conversational
// agent: one handle per caller identity, single-flight per handle,
// typing/progress lifecycle, and ledger action directives.
package agent

import (
	"context"
	"time"

	"github.com/splitpot/splitpot-server/ledger"
	"github.com/splitpot/splitpot-server/protocol"
	"github.com/splitpot/splitpot-server/room"
)

// Request carries one agent invocation: the triggering message, the
// trimmed context window, and the room context the agent may act on.
type Request struct {
	RoomID       string
	RoomName     string
	Text         string
	History      []room.ChatMessage
	Participants []protocol.UserInfo
	Contacts     map[string]string
	Poker        *ledger.Session
	Ledger       LedgerOps
}

// LedgerOps are callback closures bound to one room. Each returns
// user-facing text; ledger precondition failures are expected outcomes
// and come back as text, not errors.
type LedgerOps struct {
	BuyIn   func(player string, cents int64) string
	CashOut func(player string, cents int64) string
	Summary func() string
	Settle  func(player string) string
}

// Response is the agent's completed reply.
type Response struct {
	Text     string
	ToolUses []string
}

// ProgressFunc reports one tool invocation while the agent works.
type ProgressFunc func(tool string, elapsed time.Duration)

// Agent is the external conversational collaborator.
type Agent interface {
	ProcessMessage(ctx context.Context, req Request, onProgress ProgressFunc) (*Response, error)
}

// Sink receives the dispatcher's room-scoped output events.
type Sink interface {
	AgentTyping(roomID string, typing bool)
	AgentProgress(roomID, tool string, elapsed time.Duration)
	AgentResponse(roomID, text string, toolUses []string)
	SystemMessage(roomID, text string)
}
