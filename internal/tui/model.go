// Package tui is the terminal chat surface.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog/log"

	"portfolioagent/internal/assistant"
	"portfolioagent/internal/llm"
	"portfolioagent/internal/session"
	"portfolioagent/internal/timeutil"
)

const (
	inputHeight = 3
	chromeLines = 4 // header, rule, status, input border
	minWidth    = 20
)

// streamMsg carries one message read from a running turn.
type streamMsg struct{ msg tea.Msg }

type streamClosedMsg struct{}

type Model struct {
	engine *llm.Engine
	sess   *session.Session
	styles styles

	input    textarea.Model
	view     viewport.Model
	spin     spinner.Model
	renderer *glamour.TermRenderer

	width, height int
	ready         bool
	now           func() time.Time

	busy        bool
	pendingUser string
	partial     strings.Builder
	status      string
	statusErr   bool

	ch     chan tea.Msg
	cancel context.CancelFunc
}

func New(engine *llm.Engine, sess *session.Session) *Model {
	input := textarea.New()
	input.Placeholder = session.Placeholder
	input.ShowLineNumbers = false
	input.Prompt = "> "
	input.SetHeight(inputHeight)
	input.KeyMap.InsertNewline.SetEnabled(false)
	input.Focus()

	st := newStyles()
	m := &Model{
		engine: engine,
		sess:   sess,
		styles: st,
		input:  input,
		view:   viewport.New(80, 20),
		spin:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(st.Spinner)),
		now:    time.Now,
	}
	m.resize(80, 24)
	return m
}

func (m *Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.ready = true
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case tea.KeyEnter:
			return m, m.submit()
		}

	case llm.StreamStartedMsg:
		if msg.Err != nil {
			m.busy = false
			m.setStatus(msg.Err.Error(), true)
			m.refresh()
			return m, nil
		}
		return m, m.recv()

	case streamMsg:
		return m, m.handleStream(msg.msg)

	case streamClosedMsg:
		if m.cancel != nil {
			m.cancel()
		}
		m.ch, m.cancel = nil, nil
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.view, cmd = m.view.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) submit() tea.Cmd {
	if m.busy {
		return nil
	}
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	m.input.Reset()

	cmd, cancel, ch := m.engine.Request(m.sess, text)
	m.busy = true
	m.pendingUser = text
	m.partial.Reset()
	m.ch, m.cancel = ch, cancel
	m.setStatus("Thinking", false)
	m.refresh()
	return tea.Batch(cmd, m.spin.Tick)
}

func (m *Model) recv() tea.Cmd {
	ch := m.ch
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return streamMsg{msg: msg}
	}
}

func (m *Model) handleStream(msg tea.Msg) tea.Cmd {
	switch v := msg.(type) {
	case llm.StreamDeltaMsg:
		m.partial.WriteString(v.Text)
		m.refresh()
	case llm.ToolUseStartMsg:
		m.setStatus(fmt.Sprintf("Running %s", v.Call.Name), false)
	case llm.ToolUseFinishMsg:
		if v.Err != nil {
			log.Warn().Err(v.Err).Str("tool", v.Call.Name).Msg("tool failed")
		}
		m.setStatus("Thinking", false)
	case llm.StreamStateMsg:
		log.Debug().Stringer("state", v.State).Msg("turn state")
	case llm.StreamDoneMsg:
		m.busy = false
		m.pendingUser = ""
		m.partial.Reset()
		switch v.Outcome.State {
		case llm.StateTimedOut:
			m.setStatus(fmt.Sprintf("The reply was cut short after %s.", timeutil.Compact(m.engine.Budget())), true)
		case llm.StateError:
			m.setStatus("Something went wrong. Details are in the log.", true)
		default:
			m.setStatus("", false)
		}
		m.refresh()
	}
	return m.recv()
}

func (m *Model) setStatus(text string, isErr bool) {
	m.status, m.statusErr = text, isErr
}

func (m *Model) resize(width, height int) {
	if width < minWidth {
		width = minWidth
	}
	m.width, m.height = width, height

	m.input.SetWidth(width)
	m.view.Width = width
	m.view.Height = max(1, height-inputHeight-chromeLines)

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(max(minWidth, width-4)),
	)
	if err != nil {
		log.Warn().Err(err).Msg("markdown renderer unavailable")
		r = nil
	}
	m.renderer = r
	m.refresh()
}

// refresh re-renders the conversation into the viewport.
func (m *Model) refresh() {
	entries := m.sess.Transcript()
	if m.busy && m.pendingUser != "" {
		last := entries[len(entries)-1]
		if last.Role != assistant.RoleUser || last.Content != m.pendingUser {
			entries = append(entries, session.Entry{Role: assistant.RoleUser, Content: m.pendingUser})
		}
	}

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(m.renderEntry(e.Role, e.Content, e.At))
	}
	if m.busy && m.partial.Len() > 0 {
		b.WriteString(m.renderEntry(assistant.RoleAssistant, m.partial.String(), time.Time{}))
	}
	m.view.SetContent(b.String())
	m.view.GotoBottom()
}

func (m *Model) renderEntry(role assistant.Role, text string, at time.Time) string {
	label := "Agent"
	if role == assistant.RoleUser {
		label = "You"
	}
	if ago := timeutil.Ago(at, m.now()); ago != "" {
		label += " · " + ago
	}
	if role == assistant.RoleUser {
		return m.styles.UserLabel.Render(label) + "\n" + m.styles.UserText.Render(text) + "\n\n"
	}
	body := text
	if m.renderer != nil {
		if out, err := m.renderer.Render(text); err == nil {
			body = strings.TrimRight(out, "\n")
		}
	}
	return m.styles.AgentLabel.Render(label) + "\n" + body + "\n\n"
}

func (m *Model) View() string {
	header := m.styles.Header.Render(session.Title)
	rule := m.styles.HeaderRule.Render(strings.Repeat("─", m.width))

	status := m.styles.Status.Render(m.status)
	if m.statusErr {
		status = m.styles.StatusError.Render(m.status)
	} else if m.busy {
		status = " " + m.spin.View() + m.styles.Status.Render(m.status)
	}

	return strings.Join([]string{
		header,
		rule,
		m.view.View(),
		status,
		m.styles.Input.Render(m.input.View()),
	}, "\n")
}
