package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolioagent/internal/assistant"
	"portfolioagent/internal/assistant/assistanttest"
	"portfolioagent/internal/notify"
	"portfolioagent/internal/session"
	"portfolioagent/internal/tools"
)

type fakeFetcher struct{ text string }

func (f fakeFetcher) Fetch(context.Context, string) (string, error) { return f.text, nil }

type fakeSender struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (s *fakeSender) Send(_ context.Context, msg notify.Message) notify.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return notify.Response{"status": "sent"}
}

// recorder wraps the real dispatcher and keeps the order calls ran in.
type recorder struct {
	*tools.Dispatcher
	calls []string
}

func (r *recorder) Execute(ctx context.Context, call tools.Call) (tools.Output, error) {
	r.calls = append(r.calls, call.ID)
	return r.Dispatcher.Execute(ctx, call)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	peer   *assistanttest.Peer
	sender *fakeSender
	exec   *recorder
	clock  *clock
	engine *Engine
	states []State
	deltas []string
}

func newHarness(peer *assistanttest.Peer) *harness {
	h := &harness{
		peer:   peer,
		sender: &fakeSender{},
		clock:  &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.exec = &recorder{Dispatcher: tools.NewDispatcher(fakeFetcher{text: "Hello\nWorld"}, h.sender)}
	h.engine = NewEngine(peer, h.exec, "asst_1", WithClock(h.clock.Now))
	return h
}

func (h *harness) observer() *Observer {
	return &Observer{
		Delta: func(text string) { h.deltas = append(h.deltas, text) },
		State: func(s State) { h.states = append(h.states, s) },
	}
}

func (h *harness) run(t *testing.T) Outcome {
	t.Helper()
	return h.engine.Run(context.Background(), "thread_1", h.observer())
}

func fetchCall(id string) tools.Call {
	return tools.Call{ID: id, Name: "fetch_project_material_from_url", Arguments: `{"url":"https://example.com"}`}
}

func TestReplyWithoutTools(t *testing.T) {
	peer := &assistanttest.Peer{RunEvents: []assistant.Event{
		{Kind: assistant.EventMessageInProgress, Name: "thread.message.in_progress"},
		assistanttest.Delta("Brad "),
		assistanttest.Delta("prefers "),
		assistanttest.Delta("email."),
		{Kind: assistant.EventMessageCompleted, Name: "thread.message.completed"},
		assistanttest.Completed("run_1"),
	}}
	h := newHarness(peer)
	sess := session.New(peer, "asst_1")

	out := h.engine.Reply(context.Background(), sess, "What is Brad's email policy?", h.observer())

	assert.Equal(t, "Brad prefers email.", out.Text)
	assert.Equal(t, StateDone, out.State)
	assert.NoError(t, out.Err)
	assert.Equal(t, []string{"Brad ", "prefers ", "email."}, h.deltas)
	assert.Equal(t, []State{StateStreaming, StateDone}, h.states)

	messages, submissions, cancelled := peer.Snapshot()
	require.Len(t, messages, 1)
	assert.Equal(t, "What is Brad's email policy?", messages[0].Content)
	assert.Empty(t, submissions)
	assert.Empty(t, cancelled)

	transcript := sess.Transcript()
	require.Len(t, transcript, 3)
	assert.Equal(t, "Brad prefers email.", transcript[2].Content)
}

func TestToolDetourKeepsConcatenation(t *testing.T) {
	peer := &assistanttest.Peer{
		RunEvents: []assistant.Event{assistanttest.Delta("Let me "), assistanttest.RequiresAction("run_1")},
		Runs: []assistant.Run{{
			ID:        "run_1",
			Status:    assistant.RunRequiresAction,
			ToolCalls: []tools.Call{fetchCall("call_1")},
		}},
		SubmitEvents: [][]assistant.Event{{assistanttest.Delta("check. "), assistanttest.Delta("Done.")}},
	}
	h := newHarness(peer)

	out := h.run(t)

	assert.Equal(t, "Let me check. Done.", out.Text)
	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, "run_1", out.RunID)
	assert.Equal(t, []State{StateStreaming, StateAwaitingToolOutputs, StateToolStreaming, StateDone}, h.states)

	_, submissions, _ := peer.Snapshot()
	want := []assistanttest.Submission{{
		ThreadID: "thread_1",
		RunID:    "run_1",
		Outputs:  []tools.Output{{ToolCallID: "call_1", Output: "Hello\nWorld"}},
	}}
	if diff := cmp.Diff(want, submissions); diff != "" {
		t.Errorf("submissions mismatch (-want +got):\n%s", diff)
	}
}

func TestToolsRunInListedOrderWithOneOutputEach(t *testing.T) {
	email := tools.Call{
		ID:        "call_email",
		Name:      "send_email_to_Brad",
		Arguments: `{"subject":"S","body":"B","email":"e@x.com","name":"N","occupation":"O"}`,
	}
	unknown := tools.Call{ID: "call_unknown", Name: "book_meeting", Arguments: `{}`}
	peer := &assistanttest.Peer{
		RunEvents: []assistant.Event{assistanttest.RequiresAction("")},
		Runs: []assistant.Run{{
			ID:        "run_1",
			Status:    assistant.RunRequiresAction,
			ToolCalls: []tools.Call{fetchCall("call_fetch"), unknown, email},
		}},
		SubmitEvents: [][]assistant.Event{{assistanttest.Delta("Sent.")}},
	}
	h := newHarness(peer)

	out := h.run(t)

	assert.Equal(t, "Sent.", out.Text)
	assert.Equal(t, []string{"call_fetch", "call_unknown", "call_email"}, h.exec.calls)
	require.Len(t, h.sender.sent, 1)

	_, submissions, _ := peer.Snapshot()
	require.Len(t, submissions, 1)
	assert.Equal(t, []tools.Output{
		{ToolCallID: "call_fetch", Output: "Hello\nWorld"},
		{ToolCallID: "call_unknown", Output: ""},
		{ToolCallID: "call_email", Output: `{"status":"sent"}`},
	}, submissions[0].Outputs)
}

func TestTimeoutReturnsPartialReply(t *testing.T) {
	peer := &assistanttest.Peer{RunEvents: []assistant.Event{
		{Kind: assistant.EventUnknown, Name: "thread.run.created", RunID: "run_1"},
		assistanttest.Delta("a"),
		assistanttest.Delta("b"),
		assistanttest.Delta("c"),
		assistanttest.Delta("d"),
	}}
	h := newHarness(peer)
	peer.OnNext = func(assistant.Event) { h.clock.Advance(40 * time.Second) }

	out := h.run(t)

	assert.Equal(t, "ab", out.Text)
	assert.Equal(t, StateTimedOut, out.State)
	assert.NoError(t, out.Err)
	assert.Equal(t, []string{"a", "b"}, h.deltas)
	require.Len(t, peer.Streams, 1)
	assert.Equal(t, 4, peer.Streams[0].Consumed(), "no events read after the budget ran out")

	_, _, cancelled := peer.Snapshot()
	assert.Equal(t, []string{"run_1"}, cancelled)
}

func TestTimeoutDuringToolStream(t *testing.T) {
	peer := &assistanttest.Peer{
		RunEvents:    []assistant.Event{assistanttest.Delta("one "), assistanttest.RequiresAction("run_1")},
		Runs:         []assistant.Run{{ID: "run_1", Status: assistant.RunRequiresAction, ToolCalls: []tools.Call{fetchCall("call_1")}}},
		SubmitEvents: [][]assistant.Event{{assistanttest.Delta("two "), assistanttest.Delta("three")}},
	}
	h := newHarness(peer)
	h.engine.SetBudget(30 * time.Second)
	peer.OnNext = func(assistant.Event) { h.clock.Advance(10 * time.Second) }

	out := h.run(t)

	assert.Equal(t, StateTimedOut, out.State)
	assert.Equal(t, "one two ", out.Text)
}

func TestFailuresDegradeToFallback(t *testing.T) {
	boom := errors.New("connection reset")
	cases := []struct {
		name       string
		peer       *assistanttest.Peer
		wantCancel []string
	}{
		{
			name: "create run",
			peer: &assistanttest.Peer{CreateRunErr: boom},
		},
		{
			name: "stream breaks",
			peer: &assistanttest.Peer{
				RunEvents:  []assistant.Event{{Kind: assistant.EventUnknown, Name: "thread.run.created", RunID: "run_1"}, assistanttest.Delta("partial")},
				RunFailure: boom,
			},
			wantCancel: []string{"run_1"},
		},
		{
			name: "list runs",
			peer: &assistanttest.Peer{
				RunEvents:   []assistant.Event{assistanttest.RequiresAction("")},
				ListRunsErr: boom,
			},
		},
		{
			name: "submit",
			peer: &assistanttest.Peer{
				RunEvents: []assistant.Event{assistanttest.RequiresAction("run_1")},
				Runs:      []assistant.Run{{ID: "run_1", Status: assistant.RunRequiresAction, ToolCalls: []tools.Call{fetchCall("call_1")}}},
				SubmitErr: boom,
			},
			wantCancel: []string{"run_1"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(tc.peer)
			out := h.run(t)

			assert.Equal(t, FallbackReply, out.Text)
			assert.Equal(t, StateError, out.State)
			assert.ErrorIs(t, out.Err, boom)
			var perr *ProtocolError
			assert.ErrorAs(t, out.Err, &perr)

			_, _, cancelled := tc.peer.Snapshot()
			assert.Equal(t, tc.wantCancel, cancelled)
		})
	}
}

func TestMissingArgumentFailsTurnWithoutSending(t *testing.T) {
	peer := &assistanttest.Peer{
		RunEvents: []assistant.Event{assistanttest.RequiresAction("run_1")},
		Runs: []assistant.Run{{ID: "run_1", Status: assistant.RunRequiresAction, ToolCalls: []tools.Call{{
			ID:        "call_1",
			Name:      "send_email_to_Brad",
			Arguments: `{"subject":"S","body":"B","name":"N","occupation":"O"}`,
		}}}},
	}
	h := newHarness(peer)

	out := h.run(t)

	assert.Equal(t, FallbackReply, out.Text)
	assert.True(t, tools.IsMissingArgument(out.Err))
	assert.Empty(t, h.sender.sent)
	_, submissions, _ := peer.Snapshot()
	assert.Empty(t, submissions)
}

func TestNoToolCallsMeansNoSubmission(t *testing.T) {
	for name, runs := range map[string][]assistant.Run{
		"no runs":       nil,
		"no tool calls": {{ID: "run_1", Status: assistant.RunRequiresAction}},
	} {
		t.Run(name, func(t *testing.T) {
			peer := &assistanttest.Peer{
				RunEvents: []assistant.Event{assistanttest.Delta("Hmm"), assistanttest.RequiresAction("")},
				Runs:      runs,
			}
			out := newHarness(peer).run(t)

			assert.Equal(t, "Hmm", out.Text)
			assert.Equal(t, StateDone, out.State)
			_, submissions, _ := peer.Snapshot()
			assert.Empty(t, submissions)
		})
	}
}

func TestNestedRequiresAction(t *testing.T) {
	peer := &assistanttest.Peer{
		RunEvents: []assistant.Event{assistanttest.RequiresAction("run_1")},
		Runs:      []assistant.Run{{ID: "run_1", Status: assistant.RunRequiresAction, ToolCalls: []tools.Call{fetchCall("call_1")}}},
		SubmitEvents: [][]assistant.Event{
			{assistanttest.Delta("first "), assistanttest.RequiresAction("run_1")},
			{assistanttest.Delta("second")},
		},
	}
	out := newHarness(peer).run(t)

	assert.Equal(t, "first second", out.Text)
	_, submissions, _ := peer.Snapshot()
	assert.Len(t, submissions, 2)
}

func TestSelectRun(t *testing.T) {
	older := assistant.Run{ID: "run_old", Status: assistant.RunRequiresAction, ToolCalls: []tools.Call{fetchCall("call_old")}}
	newest := assistant.Run{ID: "run_new", Status: assistant.RunInProgress}
	cases := []struct {
		name    string
		eventID string
		runs    []assistant.Run
		want    string
	}{
		{"event id wins", "run_new", []assistant.Run{newest, older}, "run_new"},
		{"first requiring action", "", []assistant.Run{newest, older}, "run_old"},
		{"unknown event id", "run_gone", []assistant.Run{newest, older}, "run_old"},
		{"newest when none require action", "", []assistant.Run{newest, {ID: "run_x", Status: assistant.RunCompleted}}, "run_new"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(&assistanttest.Peer{Runs: tc.runs})
			tr := &turn{engine: h.engine, threadID: "thread_1"}
			run, ok, err := tr.selectRun(context.Background(), tc.eventID)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tc.want, run.ID)
		})
	}
}

func TestReplyFallsBackWhenMessageFails(t *testing.T) {
	peer := &assistanttest.Peer{CreateMessageErr: errors.New("thread locked")}
	h := newHarness(peer)
	sess := session.New(peer, "asst_1")

	out := h.engine.Reply(context.Background(), sess, "hi", nil)

	assert.Equal(t, FallbackReply, out.Text)
	assert.Equal(t, StateError, out.State)
	assert.Zero(t, peer.RunsCreated)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "awaiting_tool_outputs", StateAwaitingToolOutputs.String())
	assert.Equal(t, "timed_out", StateTimedOut.String())
	assert.True(t, StateError.Terminal())
	assert.False(t, StateToolStreaming.Terminal())
}

func TestSetBudgetIgnoresNonPositive(t *testing.T) {
	e := NewEngine(&assistanttest.Peer{}, nil, "asst_1", WithBudget(30*time.Second))
	e.SetBudget(0)
	assert.Equal(t, 30*time.Second, e.Budget())
}

func drain(t *testing.T, cmd tea.Cmd, ch chan tea.Msg) (tea.Msg, []tea.Msg) {
	t.Helper()
	started := cmd()
	var msgs []tea.Msg
	for msg := range ch {
		msgs = append(msgs, msg)
	}
	return started, msgs
}

func TestRequestStreamsMessages(t *testing.T) {
	peer := &assistanttest.Peer{
		RunEvents:    []assistant.Event{assistanttest.Delta("Hi "), assistanttest.RequiresAction("run_1")},
		Runs:         []assistant.Run{{ID: "run_1", Status: assistant.RunRequiresAction, ToolCalls: []tools.Call{fetchCall("call_1")}}},
		SubmitEvents: [][]assistant.Event{{assistanttest.Delta("there")}},
	}
	h := newHarness(peer)
	sess := session.New(peer, "asst_1")

	cmd, cancel, ch := h.engine.Request(sess, "hello")
	defer cancel()
	started, msgs := drain(t, cmd, ch)

	assert.Equal(t, StreamStartedMsg{}, started)
	var text string
	var toolStarts, toolFinishes int
	var done *StreamDoneMsg
	for _, m := range msgs {
		switch m := m.(type) {
		case StreamDeltaMsg:
			text += m.Text
		case ToolUseStartMsg:
			toolStarts++
		case ToolUseFinishMsg:
			toolFinishes++
			assert.Equal(t, "Hello\nWorld", m.Output.Output)
		case StreamDoneMsg:
			done = &m
		}
	}
	assert.Equal(t, "Hi there", text)
	assert.Equal(t, 1, toolStarts)
	assert.Equal(t, 1, toolFinishes)
	require.NotNil(t, done)
	assert.Equal(t, "Hi there", done.Outcome.Text)

	release, err := sess.BeginTurn()
	require.NoError(t, err, "turn released after the reply")
	release()
}

func TestRequestRejectsBusySession(t *testing.T) {
	peer := &assistanttest.Peer{}
	sess := session.New(peer, "asst_1")
	release, err := sess.BeginTurn()
	require.NoError(t, err)
	defer release()

	cmd, cancel, ch := newHarness(peer).engine.Request(sess, "hello")
	defer cancel()
	started, msgs := drain(t, cmd, ch)

	assert.Equal(t, StreamStartedMsg{Err: session.ErrTurnInProgress}, started)
	assert.Empty(t, msgs)
}

func TestRequestRejectsEmptyMessage(t *testing.T) {
	peer := &assistanttest.Peer{}
	cmd, cancel, ch := newHarness(peer).engine.Request(session.New(peer, "asst_1"), "  ")
	defer cancel()
	started, _ := drain(t, cmd, ch)

	msg, ok := started.(StreamStartedMsg)
	require.True(t, ok)
	assert.Error(t, msg.Err)
}
