// Package llm drives one conversational turn against the assistant: it
// streams the run, executes requested tools and resumes the run until the
// reply is complete, the budget runs out or something fails.
package llm

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"portfolioagent/internal/assistant"
	"portfolioagent/internal/tools"
)

const (
	DefaultBudget = 120 * time.Second
	cancelTimeout = 5 * time.Second
)

// ToolExecutor answers one tool call.
type ToolExecutor interface {
	Execute(ctx context.Context, call tools.Call) (tools.Output, error)
}

type Option func(*Engine)

// WithClock replaces time.Now for budget accounting.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithBudget(d time.Duration) Option {
	return func(e *Engine) { e.SetBudget(d) }
}

// Engine coordinates streamed runs and tool execution. It holds no
// per-conversation state and is safe for concurrent turns on different
// threads.
type Engine struct {
	peer        assistant.Peer
	executor    ToolExecutor
	assistantID string
	now         func() time.Time
	budget      atomic.Int64
}

func NewEngine(peer assistant.Peer, executor ToolExecutor, assistantID string, opts ...Option) *Engine {
	e := &Engine{
		peer:        peer,
		executor:    executor,
		assistantID: assistantID,
		now:         time.Now,
	}
	e.budget.Store(int64(DefaultBudget))
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// SetBudget changes the wall-clock limit for turns started afterwards.
// Non-positive values are ignored.
func (e *Engine) SetBudget(d time.Duration) {
	if d > 0 {
		e.budget.Store(int64(d))
	}
}

func (e *Engine) Budget() time.Duration {
	return time.Duration(e.budget.Load())
}

// Run streams one reply on threadID. The thread must already hold the
// user's message. Run never returns an error: failures are reported in
// Outcome.Err with Outcome.Text set to FallbackReply.
func (e *Engine) Run(ctx context.Context, threadID string, obs *Observer) Outcome {
	t := &turn{
		engine:   e,
		threadID: threadID,
		obs:      obs,
		budget:   e.Budget(),
		logger:   log.With().Str("thread", threadID).Logger(),
	}
	return t.run(ctx)
}

type turn struct {
	engine   *Engine
	threadID string
	obs      *Observer
	budget   time.Duration
	logger   zerolog.Logger

	state   State
	started time.Time
	reply   strings.Builder
	runID   string
	streams []assistant.Stream
}

func (t *turn) run(parent context.Context) Outcome {
	ctx, cancel := context.WithTimeout(parent, t.budget)
	defer cancel()
	defer t.closeStreams()

	if err := t.start(ctx); err != nil {
		return t.fail(ctx, err)
	}

	for len(t.streams) > 0 {
		s := t.streams[len(t.streams)-1]
		if !s.Next() {
			if err := s.Err(); err != nil {
				return t.fail(ctx, &ProtocolError{Op: "read event stream", Err: err})
			}
			t.pop()
			continue
		}
		if t.expired() {
			return t.timeout(ctx)
		}
		if err := t.handle(ctx, s.Current()); err != nil {
			return t.fail(ctx, err)
		}
	}
	return t.finish()
}

func (t *turn) transition(next State) {
	if t.state == next {
		return
	}
	t.logger.Debug().Stringer("from", t.state).Stringer("state", next).Msg("turn state")
	t.state = next
	t.obs.state(next)
}

// start moves Idle to Streaming by opening a run.
func (t *turn) start(ctx context.Context) error {
	t.started = t.engine.now()
	stream, err := t.engine.peer.CreateRun(ctx, t.threadID, t.engine.assistantID)
	if err != nil {
		return &ProtocolError{Op: "create run", Err: err}
	}
	t.push(stream)
	t.transition(StateStreaming)
	return nil
}

func (t *turn) expired() bool {
	return t.engine.now().Sub(t.started) > t.budget
}

func (t *turn) handle(ctx context.Context, ev assistant.Event) error {
	if ev.RunID != "" && t.runID == "" {
		t.runID = ev.RunID
		t.logger = t.logger.With().Str("run", ev.RunID).Logger()
	}

	switch ev.Kind {
	case assistant.EventMessageDelta:
		t.applyDelta(ev.Text)
	case assistant.EventRunRequiresAction:
		return t.requireAction(ctx, ev)
	case assistant.EventMessageInProgress, assistant.EventMessageCompleted, assistant.EventRunCompleted:
		t.logger.Debug().Str("event", ev.Name).Msg("stream event")
	default:
		t.logger.Trace().Str("event", ev.Name).Msg("ignored stream event")
	}
	return nil
}

func (t *turn) applyDelta(text string) {
	if text == "" {
		return
	}
	t.reply.WriteString(text)
	t.obs.delta(text)
}

// requireAction answers every tool call of the active run in order and
// resumes the run on a new stream.
func (t *turn) requireAction(ctx context.Context, ev assistant.Event) error {
	t.transition(StateAwaitingToolOutputs)

	run, ok, err := t.selectRun(ctx, ev.RunID)
	if err != nil {
		return err
	}
	if !ok {
		t.logger.Warn().Msg("requires action but the thread has no runs")
		return nil
	}
	if t.runID != run.ID {
		t.runID = run.ID
		t.logger = t.logger.With().Str("run", run.ID).Logger()
	}

	outputs := make([]tools.Output, 0, len(run.ToolCalls))
	for _, call := range run.ToolCalls {
		t.obs.toolStart(call)
		out, err := t.engine.executor.Execute(ctx, call)
		t.obs.toolFinish(call, out, err)
		if err != nil {
			return &ProtocolError{Op: "execute " + call.Name, Err: err}
		}
		outputs = append(outputs, out)
	}

	if len(outputs) == 0 {
		t.logger.Warn().Msg("no tool outputs to submit; run left waiting")
		return nil
	}
	return t.submit(ctx, run.ID, outputs)
}

// selectRun finds the run waiting for tool outputs. It prefers the run named
// by the event, then the newest run requiring action, then the newest run.
func (t *turn) selectRun(ctx context.Context, eventRunID string) (assistant.Run, bool, error) {
	runs, err := t.engine.peer.ListRuns(ctx, t.threadID)
	if err != nil {
		return assistant.Run{}, false, &ProtocolError{Op: "list runs", Err: err}
	}
	if len(runs) == 0 {
		return assistant.Run{}, false, nil
	}
	if eventRunID != "" {
		for _, r := range runs {
			if r.ID == eventRunID {
				return r, true, nil
			}
		}
	}
	for _, r := range runs {
		if r.Status == assistant.RunRequiresAction {
			return r, true, nil
		}
	}
	return runs[0], true, nil
}

func (t *turn) submit(ctx context.Context, runID string, outputs []tools.Output) error {
	stream, err := t.engine.peer.SubmitToolOutputs(ctx, t.threadID, runID, outputs)
	if err != nil {
		return &ProtocolError{Op: "submit tool outputs", Err: err}
	}
	t.logger.Info().Int("outputs", len(outputs)).Msg("tool outputs submitted")
	t.push(stream)
	t.transition(StateToolStreaming)
	return nil
}

func (t *turn) finish() Outcome {
	t.transition(StateDone)
	t.logger.Info().Dur("took", t.engine.now().Sub(t.started)).Int("chars", t.reply.Len()).Msg("turn done")
	return Outcome{Text: t.reply.String(), State: StateDone, RunID: t.runID}
}

func (t *turn) timeout(ctx context.Context) Outcome {
	t.closeStreams()
	t.transition(StateTimedOut)
	t.logger.Warn().Dur("budget", t.budget).Int("chars", t.reply.Len()).Msg("turn exceeded its budget; returning partial reply")
	t.cancelRun(ctx)
	return Outcome{Text: t.reply.String(), State: StateTimedOut, RunID: t.runID}
}

func (t *turn) fail(ctx context.Context, err error) Outcome {
	// A blocked read or call cut off by the budget is a timeout.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return t.timeout(ctx)
	}
	t.closeStreams()
	t.transition(StateError)
	t.logger.Error().Err(err).Msg("turn failed")
	t.cancelRun(ctx)
	return Outcome{Text: FallbackReply, State: StateError, RunID: t.runID, Err: err}
}

// cancelRun asks the service to stop an abandoned run so the thread takes
// the next message. Failures are only logged.
func (t *turn) cancelRun(ctx context.Context) {
	if t.runID == "" {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if err := t.engine.peer.CancelRun(cctx, t.threadID, t.runID); err != nil {
		t.logger.Warn().Err(err).Msg("cancel run")
	}
}

func (t *turn) push(s assistant.Stream) {
	t.streams = append(t.streams, s)
}

func (t *turn) pop() {
	last := len(t.streams) - 1
	t.streams[last].Close()
	t.streams = t.streams[:last]
}

func (t *turn) closeStreams() {
	for len(t.streams) > 0 {
		t.pop()
	}
}
