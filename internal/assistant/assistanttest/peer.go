// Package assistanttest provides an in-memory assistant.Peer with scripted
// event streams.
package assistanttest

import (
	"context"
	"fmt"
	"sync"

	"portfolioagent/internal/assistant"
	"portfolioagent/internal/tools"
)

// Stream replays a fixed list of events and then reports Err.
type Stream struct {
	events []assistant.Event
	fail   error
	onNext func(assistant.Event)
	pos    int
	cur    assistant.Event
	closed bool
}

func NewStream(events []assistant.Event, fail error) *Stream {
	return &Stream{events: events, fail: fail}
}

func (s *Stream) Next() bool {
	if s.closed || s.pos >= len(s.events) {
		return false
	}
	s.cur = s.events[s.pos]
	s.pos++
	if s.onNext != nil {
		s.onNext(s.cur)
	}
	return true
}

func (s *Stream) Current() assistant.Event { return s.cur }

func (s *Stream) Err() error {
	if s.pos >= len(s.events) {
		return s.fail
	}
	return nil
}

func (s *Stream) Close() error {
	s.closed = true
	return nil
}

// Consumed reports how many events were read.
func (s *Stream) Consumed() int { return s.pos }

func Delta(text string) assistant.Event {
	return assistant.Event{Kind: assistant.EventMessageDelta, Name: "thread.message.delta", Text: text}
}

func RequiresAction(runID string) assistant.Event {
	return assistant.Event{Kind: assistant.EventRunRequiresAction, Name: "thread.run.requires_action", RunID: runID}
}

func Completed(runID string) assistant.Event {
	return assistant.Event{Kind: assistant.EventRunCompleted, Name: "thread.run.completed", RunID: runID}
}

type Message struct {
	ThreadID string
	Role     assistant.Role
	Content  string
}

type Submission struct {
	ThreadID string
	RunID    string
	Outputs  []tools.Output
}

// Peer is a scripted assistant.Peer. RunEvents feed the stream returned by
// CreateRun; each SubmitToolOutputs call takes the next SubmitEvents entry.
type Peer struct {
	mu sync.Mutex

	Assistants   map[string]assistant.Assistant
	RunEvents    []assistant.Event
	RunFailure   error
	SubmitEvents [][]assistant.Event
	Runs         []assistant.Run

	CreateThreadErr  error
	CreateMessageErr error
	CreateRunErr     error
	ListRunsErr      error
	SubmitErr        error
	CancelErr        error

	// OnNext observes every event as it is read from any stream.
	OnNext func(assistant.Event)

	Threads     int
	Messages    []Message
	RunsCreated int
	Submissions []Submission
	Cancelled   []string
	Streams     []*Stream
}

func (p *Peer) RetrieveAssistant(_ context.Context, assistantID string) (assistant.Assistant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Assistants == nil {
		return assistant.Assistant{ID: assistantID, Model: "gpt-4o"}, nil
	}
	a, ok := p.Assistants[assistantID]
	if !ok {
		return assistant.Assistant{}, fmt.Errorf("assistant %s not found", assistantID)
	}
	return a, nil
}

func (p *Peer) CreateThread(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateThreadErr != nil {
		return "", p.CreateThreadErr
	}
	p.Threads++
	return fmt.Sprintf("thread_%d", p.Threads), nil
}

func (p *Peer) CreateMessage(_ context.Context, threadID string, role assistant.Role, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateMessageErr != nil {
		return p.CreateMessageErr
	}
	p.Messages = append(p.Messages, Message{ThreadID: threadID, Role: role, Content: content})
	return nil
}

func (p *Peer) CreateRun(context.Context, string, string) (assistant.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateRunErr != nil {
		return nil, p.CreateRunErr
	}
	p.RunsCreated++
	return p.stream(p.RunEvents, p.RunFailure), nil
}

func (p *Peer) ListRuns(context.Context, string) ([]assistant.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ListRunsErr != nil {
		return nil, p.ListRunsErr
	}
	return append([]assistant.Run(nil), p.Runs...), nil
}

func (p *Peer) SubmitToolOutputs(_ context.Context, threadID, runID string, outputs []tools.Output) (assistant.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Submissions = append(p.Submissions, Submission{ThreadID: threadID, RunID: runID, Outputs: outputs})
	if p.SubmitErr != nil {
		return nil, p.SubmitErr
	}
	var events []assistant.Event
	if len(p.SubmitEvents) > 0 {
		events = p.SubmitEvents[0]
		p.SubmitEvents = p.SubmitEvents[1:]
	}
	return p.stream(events, nil), nil
}

func (p *Peer) CancelRun(_ context.Context, _ string, runID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Cancelled = append(p.Cancelled, runID)
	return p.CancelErr
}

func (p *Peer) stream(events []assistant.Event, fail error) *Stream {
	s := NewStream(events, fail)
	s.onNext = p.OnNext
	p.Streams = append(p.Streams, s)
	return s
}

// Snapshot returns copies of the recorded calls.
func (p *Peer) Snapshot() (messages []Message, submissions []Submission, cancelled []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.Messages...),
		append([]Submission(nil), p.Submissions...),
		append([]string(nil), p.Cancelled...)
}
