package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAlreadyProcessing is returned when an identity's handle is busy
// with an earlier invocation.
var ErrAlreadyProcessing = errors.New("agent is already processing a request")

// ErrUnknownIdentity is returned for a dispatch on an unregistered tag.
var ErrUnknownIdentity = errors.New("unknown identity")

// failureText is the generic room-facing message for agent errors.
// Internal detail is logged only.
const failureText = "The assistant couldn't respond right now. Please try again."

// DefaultTimeout bounds an invocation so a hung agent cannot wedge its
// identity's handle forever.
const DefaultTimeout = 120 * time.Second

type handle struct {
	agent Agent
	busy  atomic.Bool
}

// Dispatcher holds one agent handle per caller identity tag and
// serializes invocations per handle. Multiple rooms sharing an identity
// serialize through that identity's single handle.
type Dispatcher struct {
	mu      sync.RWMutex
	handles map[string]*handle
	sink    Sink
	timeout time.Duration
}

func NewDispatcher(sink Sink, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		handles: make(map[string]*handle),
		sink:    sink,
		timeout: timeout,
	}
}

// RegisterIdentity binds an agent to an identity tag.
func (d *Dispatcher) RegisterIdentity(tag string, a Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handles[tag] = &handle{agent: a}
}

// Dispatch starts an invocation for the identity and returns
// immediately. At most one invocation is in flight per identity; a
// second call while busy fails with ErrAlreadyProcessing.
func (d *Dispatcher) Dispatch(identity string, req Request) error {
	d.mu.RLock()
	h, ok := d.handles[identity]
	d.mu.RUnlock()
	if !ok {
		return ErrUnknownIdentity
	}
	if !h.busy.CompareAndSwap(false, true) {
		return ErrAlreadyProcessing
	}
	go d.run(h, identity, req)
	return nil
}

func (d *Dispatcher) run(h *handle, identity string, req Request) {
	// Stop typing exactly once and clear the busy flag on every exit
	// route, including panics during action substitution.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent dispatch panicked", "identity", identity, "roomId", req.RoomID, "panic", r)
			d.sink.SystemMessage(req.RoomID, failureText)
		}
		d.sink.AgentTyping(req.RoomID, false)
		h.busy.Store(false)
	}()

	d.sink.AgentTyping(req.RoomID, true)

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	seen := make(map[string]bool)
	onProgress := func(tool string, elapsed time.Duration) {
		if ctx.Err() != nil || seen[tool] {
			return
		}
		seen[tool] = true
		d.sink.AgentProgress(req.RoomID, tool, elapsed)
	}

	// The agent call runs in its own goroutine so the deadline holds
	// even when an implementation ignores ctx; cleanup never waits on
	// the call itself.
	type outcome struct {
		resp *Response
		err  error
	}
	results := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- outcome{err: fmt.Errorf("agent panic: %v", r)}
			}
		}()
		resp, err := h.agent.ProcessMessage(ctx, req, onProgress)
		results <- outcome{resp: resp, err: err}
	}()

	var resp *Response
	var err error
	select {
	case out := <-results:
		resp, err = out.resp, out.err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		slog.Error("agent invocation failed", "identity", identity, "roomId", req.RoomID, "err", err)
		d.sink.SystemMessage(req.RoomID, failureText)
		return
	}

	text := applyDirectives(resp.Text, req.Ledger)
	d.sink.AgentResponse(req.RoomID, text, resp.ToolUses)
}
