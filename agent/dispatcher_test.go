package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAgent struct {
	process func(ctx context.Context, req Request, onProgress ProgressFunc) (*Response, error)
}

func (s *stubAgent) ProcessMessage(ctx context.Context, req Request, onProgress ProgressFunc) (*Response, error) {
	return s.process(ctx, req, onProgress)
}

// recordingSink captures dispatcher output and signals completion,
// since the run happens on a background goroutine.
type recordingSink struct {
	mu        sync.Mutex
	typing    []bool
	progress  []string
	responses []string
	systems   []string
	done      chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{done: make(chan struct{}, 16)}
}

func (s *recordingSink) AgentTyping(roomID string, typing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = append(s.typing, typing)
	if !typing {
		s.done <- struct{}{}
	}
}

func (s *recordingSink) AgentProgress(roomID, tool string, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, tool)
}

func (s *recordingSink) AgentResponse(roomID, text string, toolUses []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, text)
}

func (s *recordingSink) SystemMessage(roomID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systems = append(s.systems, text)
}

func (s *recordingSink) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not finish")
	}
}

func (s *recordingSink) snapshot() (typing []bool, progress, responses, systems []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.typing...),
		append([]string(nil), s.progress...),
		append([]string(nil), s.responses...),
		append([]string(nil), s.systems...)
}

// dispatchSoon retries until the handle's busy flag clears; the flag is
// released a moment after the typing-off signal the sink waits on.
func dispatchSoon(t *testing.T, d *Dispatcher, tag string, req Request) {
	t.Helper()
	require.Eventually(t, func() bool {
		return d.Dispatch(tag, req) == nil
	}, time.Second, 5*time.Millisecond)
}

func TestDispatchUnknownIdentity(t *testing.T) {
	d := NewDispatcher(newRecordingSink(), time.Second)
	err := d.Dispatch("ghost", Request{RoomID: "r1"})
	assert.ErrorIs(t, err, ErrUnknownIdentity)
}

func TestDispatchSuccess(t *testing.T) {
	sink := newRecordingSink()
	d := NewDispatcher(sink, time.Second)
	d.RegisterIdentity("alice", &stubAgent{
		process: func(ctx context.Context, req Request, onProgress ProgressFunc) (*Response, error) {
			return &Response{Text: "hi there", ToolUses: []string{"get_wallet_balance"}}, nil
		},
	})

	require.NoError(t, d.Dispatch("alice", Request{RoomID: "r1", Text: "@claude hi"}))
	sink.wait(t)

	typing, _, responses, systems := sink.snapshot()
	assert.Equal(t, []bool{true, false}, typing)
	assert.Equal(t, []string{"hi there"}, responses)
	assert.Empty(t, systems)
}

func TestDispatchSingleFlight(t *testing.T) {
	release := make(chan struct{})
	sink := newRecordingSink()
	d := NewDispatcher(sink, 5*time.Second)
	d.RegisterIdentity("alice", &stubAgent{
		process: func(ctx context.Context, req Request, onProgress ProgressFunc) (*Response, error) {
			<-release
			return &Response{Text: "done"}, nil
		},
	})

	require.NoError(t, d.Dispatch("alice", Request{RoomID: "r1"}))
	// While busy, a second dispatch never starts another invocation.
	assert.ErrorIs(t, d.Dispatch("alice", Request{RoomID: "r2"}), ErrAlreadyProcessing)

	close(release)
	sink.wait(t)

	// The busy flag is cleared, so the identity can be dispatched again.
	dispatchSoon(t, d, "alice", Request{RoomID: "r1"})
	sink.wait(t)

	typing, _, responses, _ := sink.snapshot()
	assert.Equal(t, []bool{true, false, true, false}, typing, "each dispatch pairs typing on/off exactly once")
	assert.Len(t, responses, 2)
}

func TestDispatchAgentError(t *testing.T) {
	sink := newRecordingSink()
	d := NewDispatcher(sink, time.Second)
	d.RegisterIdentity("alice", &stubAgent{
		process: func(ctx context.Context, req Request, onProgress ProgressFunc) (*Response, error) {
			return nil, context.DeadlineExceeded
		},
	})

	require.NoError(t, d.Dispatch("alice", Request{RoomID: "r1"}))
	sink.wait(t)

	typing, _, responses, systems := sink.snapshot()
	assert.Equal(t, []bool{true, false}, typing, "typing stops on the failure path too")
	assert.Empty(t, responses, "a failed invocation delivers no response")
	require.Len(t, systems, 1)
	assert.NotContains(t, systems[0], "deadline", "internal detail stays out of the room")
}

func TestDispatchDeadline(t *testing.T) {
	sink := newRecordingSink()
	d := NewDispatcher(sink, 50*time.Millisecond)
	d.RegisterIdentity("alice", &stubAgent{
		process: func(ctx context.Context, req Request, onProgress ProgressFunc) (*Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	require.NoError(t, d.Dispatch("alice", Request{RoomID: "r1"}))
	sink.wait(t)

	_, _, _, systems := sink.snapshot()
	require.Len(t, systems, 1, "a hung agent is cut off and reported")

	// The handle is usable again after the timeout.
	d.RegisterIdentity("alice", &stubAgent{
		process: func(ctx context.Context, req Request, onProgress ProgressFunc) (*Response, error) {
			return &Response{Text: "ok"}, nil
		},
	})
	dispatchSoon(t, d, "alice", Request{RoomID: "r1"})
	sink.wait(t)
}

func TestDispatchDeadlineIgnoringAgent(t *testing.T) {
	sink := newRecordingSink()
	d := NewDispatcher(sink, 50*time.Millisecond)

	// The agent never looks at ctx; the first call parks on a channel
	// released only at test end.
	var calls atomic.Int32
	block := make(chan struct{})
	defer close(block)
	d.RegisterIdentity("alice", &stubAgent{
		process: func(ctx context.Context, req Request, onProgress ProgressFunc) (*Response, error) {
			if calls.Add(1) == 1 {
				<-block
			}
			return &Response{Text: "ok"}, nil
		},
	})

	require.NoError(t, d.Dispatch("alice", Request{RoomID: "r1"}))
	sink.wait(t)

	// The deadline fired despite the hung call and the handle is free.
	dispatchSoon(t, d, "alice", Request{RoomID: "r1"})
	sink.wait(t)

	typing, _, responses, systems := sink.snapshot()
	assert.Equal(t, []bool{true, false, true, false}, typing)
	require.Len(t, systems, 1)
	assert.Equal(t, []string{"ok"}, responses)
}

func TestDispatchAgentPanic(t *testing.T) {
	sink := newRecordingSink()
	d := NewDispatcher(sink, time.Second)
	d.RegisterIdentity("alice", &stubAgent{
		process: func(ctx context.Context, req Request, onProgress ProgressFunc) (*Response, error) {
			panic("boom")
		},
	})

	require.NoError(t, d.Dispatch("alice", Request{RoomID: "r1"}))
	sink.wait(t)

	typing, _, responses, systems := sink.snapshot()
	assert.Equal(t, []bool{true, false}, typing)
	assert.Empty(t, responses)
	require.Len(t, systems, 1)
	assert.NotContains(t, systems[0], "boom", "panic detail stays out of the room")
}

func TestDispatchProgressDeduplicated(t *testing.T) {
	sink := newRecordingSink()
	d := NewDispatcher(sink, time.Second)
	d.RegisterIdentity("alice", &stubAgent{
		process: func(ctx context.Context, req Request, onProgress ProgressFunc) (*Response, error) {
			onProgress("get_wallet_balance", time.Millisecond)
			onProgress("get_wallet_balance", 2*time.Millisecond)
			onProgress("show_ledger", 3*time.Millisecond)
			return &Response{Text: "done"}, nil
		},
	})

	require.NoError(t, d.Dispatch("alice", Request{RoomID: "r1"}))
	sink.wait(t)

	_, progress, _, _ := sink.snapshot()
	assert.Equal(t, []string{"get_wallet_balance", "show_ledger"}, progress)
}

func TestDispatchAppliesDirectives(t *testing.T) {
	sink := newRecordingSink()
	d := NewDispatcher(sink, time.Second)
	d.RegisterIdentity("alice", &stubAgent{
		process: func(ctx context.Context, req Request, onProgress ProgressFunc) (*Response, error) {
			return &Response{Text: "Sure! BUY_IN(Alice, 100) Good luck."}, nil
		},
	})

	req := Request{
		RoomID: "r1",
		Ledger: LedgerOps{
			BuyIn: func(player string, cents int64) string {
				assert.Equal(t, "Alice", player)
				assert.Equal(t, int64(10000), cents)
				return "Alice bought in for $100. Total pot: $100."
			},
		},
	}
	require.NoError(t, d.Dispatch("alice", req))
	sink.wait(t)

	_, _, responses, _ := sink.snapshot()
	require.Len(t, responses, 1)
	assert.Equal(t, "Sure! Alice bought in for $100. Total pot: $100. Good luck.", responses[0])
}

func TestDispatchCleanupOnSubstitutionPanic(t *testing.T) {
	sink := newRecordingSink()
	d := NewDispatcher(sink, time.Second)
	d.RegisterIdentity("alice", &stubAgent{
		process: func(ctx context.Context, req Request, onProgress ProgressFunc) (*Response, error) {
			return &Response{Text: "SETTLE_UP(Alice)"}, nil
		},
	})

	req := Request{
		RoomID: "r1",
		Ledger: LedgerOps{
			Settle: func(player string) string { panic("boom") },
		},
	}
	require.NoError(t, d.Dispatch("alice", req))
	sink.wait(t)

	typing, _, responses, systems := sink.snapshot()
	assert.Equal(t, []bool{true, false}, typing, "typing still stops after a panic")
	assert.Empty(t, responses)
	assert.Len(t, systems, 1)

	// Busy flag was cleared by the guaranteed-cleanup path.
	d.RegisterIdentity("alice", &stubAgent{
		process: func(ctx context.Context, req Request, onProgress ProgressFunc) (*Response, error) {
			return &Response{Text: "ok"}, nil
		},
	})
	dispatchSoon(t, d, "alice", Request{RoomID: "r1"})
	sink.wait(t)
}
