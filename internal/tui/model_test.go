package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolioagent/internal/assistant"
	"portfolioagent/internal/assistant/assistanttest"
	"portfolioagent/internal/llm"
	"portfolioagent/internal/session"
)

func newTestModel(peer *assistanttest.Peer) *Model {
	sess := session.New(peer, "asst_1")
	m := New(llm.NewEngine(peer, nil, "asst_1"), sess)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	m.renderer = nil
	m.refresh()
	return m
}

// pump runs cmd and everything it leads to, skipping spinner ticks.
func pump(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	queue := []tea.Cmd{cmd}
	for steps := 0; len(queue) > 0; steps++ {
		require.Less(t, steps, 1000, "command loop did not settle")
		next := queue[0]
		queue = queue[1:]
		if next == nil {
			continue
		}
		switch msg := next().(type) {
		case nil, spinner.TickMsg:
		case tea.BatchMsg:
			queue = append(queue, msg...)
		default:
			_, c := m.Update(msg)
			queue = append(queue, c)
		}
	}
}

func typeAndSend(t *testing.T, m *Model, text string) {
	t.Helper()
	m.input.SetValue(text)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.busy)
	pump(t, m, cmd)
}

func TestGreetingShownOnStart(t *testing.T) {
	m := newTestModel(&assistanttest.Peer{})

	assert.Contains(t, m.view.View(), "How can I assist you today?")
	assert.Contains(t, m.View(), session.Title)
}

func TestSubmitStreamsReply(t *testing.T) {
	peer := &assistanttest.Peer{RunEvents: []assistant.Event{
		assistanttest.Delta("Brad "),
		assistanttest.Delta("prefers "),
		assistanttest.Delta("email."),
	}}
	m := newTestModel(peer)

	typeAndSend(t, m, "What is Brad's email policy?")

	assert.False(t, m.busy)
	assert.Empty(t, m.status)
	assert.Empty(t, m.input.Value())
	assert.Nil(t, m.ch)

	content := m.view.View()
	assert.Contains(t, content, "What is Brad's email policy?")
	assert.Contains(t, content, "Brad prefers email.")
	assert.Equal(t, 1, strings.Count(content, "Brad prefers email."))
}

func TestFailedTurnShowsFallback(t *testing.T) {
	m := newTestModel(&assistanttest.Peer{CreateRunErr: errors.New("down")})

	typeAndSend(t, m, "hello")

	assert.True(t, m.statusErr)
	assert.Contains(t, m.view.View(), llm.FallbackReply)
}

func TestEmptyInputIsIgnored(t *testing.T) {
	m := newTestModel(&assistanttest.Peer{})
	m.input.SetValue("   ")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	assert.Nil(t, cmd)
	assert.False(t, m.busy)
}

func TestSubmitWhileBusyIsIgnored(t *testing.T) {
	m := newTestModel(&assistanttest.Peer{})
	m.busy = true
	m.input.SetValue("second")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	assert.Nil(t, cmd)
	assert.Equal(t, "second", m.input.Value())
}

func TestPartialReplyRenderedWhileStreaming(t *testing.T) {
	m := newTestModel(&assistanttest.Peer{})
	m.busy = true
	m.pendingUser = "question"

	m.handleStream(llm.StreamDeltaMsg{Text: "half an ans"})

	content := m.view.View()
	assert.Contains(t, content, "question")
	assert.Contains(t, content, "half an ans")
}

func TestEntriesLabelledWithAge(t *testing.T) {
	m := newTestModel(&assistanttest.Peer{})
	m.now = func() time.Time { return time.Now().Add(5 * time.Minute) }
	m.refresh()

	assert.Contains(t, m.view.View(), "Agent · 5 minutes ago")
}

func TestTimedOutTurnReportsBudget(t *testing.T) {
	m := newTestModel(&assistanttest.Peer{})
	m.busy = true

	m.handleStream(llm.StreamDoneMsg{Outcome: llm.Outcome{State: llm.StateTimedOut, Text: "partial"}})

	assert.False(t, m.busy)
	assert.True(t, m.statusErr)
	assert.Equal(t, "The reply was cut short after 2m.", m.status)
}
