package llm

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"portfolioagent/internal/session"
	"portfolioagent/internal/tools"
)

// Reply runs one user turn on sess: the message is appended to the
// session's thread, the reply is streamed and then recorded in the
// transcript. The caller must hold the session's turn.
func (e *Engine) Reply(ctx context.Context, sess *session.Session, text string, obs *Observer) Outcome {
	logger := log.With().Str("session", sess.ID).Logger()

	threadID, err := sess.AddUserMessage(ctx, text)
	if err != nil {
		logger.Error().Err(err).Msg("append user message")
		obs.state(StateError)
		out := Outcome{Text: FallbackReply, State: StateError, Err: &ProtocolError{Op: "create message", Err: err}}
		sess.RecordReply(out.Text)
		return out
	}

	out := e.Run(ctx, threadID, obs)
	sess.RecordReply(out.Text)
	return out
}

// Request prepares a Bubble Tea command that runs one turn in the
// background. Progress arrives on the returned channel, which is closed
// after the final StreamDoneMsg.
func (e *Engine) Request(sess *session.Session, text string) (tea.Cmd, context.CancelFunc, chan tea.Msg) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan tea.Msg, 64)

	cmd := func() tea.Msg {
		if strings.TrimSpace(text) == "" {
			close(ch)
			cancel()
			return StreamStartedMsg{Err: errEmptyMessage}
		}
		release, err := sess.BeginTurn()
		if err != nil {
			close(ch)
			cancel()
			return StreamStartedMsg{Err: err}
		}

		go func() {
			defer close(ch)
			defer cancel()
			defer release()

			obs := &Observer{
				Delta: func(text string) { ch <- StreamDeltaMsg{Text: text} },
				ToolStart: func(call tools.Call) {
					ch <- ToolUseStartMsg{Call: call}
				},
				ToolFinish: func(call tools.Call, out tools.Output, err error) {
					ch <- ToolUseFinishMsg{Call: call, Output: out, Err: err}
				},
				State: func(s State) { ch <- StreamStateMsg{State: s} },
			}
			out := e.Reply(ctx, sess, text, obs)
			ch <- StreamDoneMsg{Outcome: out}
		}()

		return StreamStartedMsg{}
	}

	return cmd, cancel, ch
}
