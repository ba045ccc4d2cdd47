// Package assistant talks to the hosted assistant service: threads, messages,
// streamed runs and tool output submission.
package assistant

import (
	"context"

	"portfolioagent/internal/tools"
)

// EventKind tags the streamed events the orchestrator reacts to.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventMessageDelta
	EventMessageInProgress
	EventMessageCompleted
	EventRunRequiresAction
	EventRunCompleted
)

func (k EventKind) String() string {
	switch k {
	case EventMessageDelta:
		return "message_delta"
	case EventMessageInProgress:
		return "message_in_progress"
	case EventMessageCompleted:
		return "message_completed"
	case EventRunRequiresAction:
		return "run_requires_action"
	case EventRunCompleted:
		return "run_completed"
	}
	return "unknown"
}

// Event is one streamed event. Text is set on message deltas; RunID is set
// on run events when the service includes it.
type Event struct {
	Kind  EventKind
	Name  string
	Text  string
	RunID string
}

// Stream yields events until it is exhausted or fails. Callers must Close it.
type Stream interface {
	Next() bool
	Current() Event
	Err() error
	Close() error
}

type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCancelled      RunStatus = "cancelled"
	RunFailed         RunStatus = "failed"
	RunCompleted      RunStatus = "completed"
	RunIncomplete     RunStatus = "incomplete"
	RunExpired        RunStatus = "expired"
)

// Run summarizes one execution of the assistant on a thread. ToolCalls is
// populated only while the run requires action.
type Run struct {
	ID        string
	Status    RunStatus
	ToolCalls []tools.Call
}

type Assistant struct {
	ID    string
	Name  string
	Model string
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Peer is the remote assistant protocol.
type Peer interface {
	RetrieveAssistant(ctx context.Context, assistantID string) (Assistant, error)
	CreateThread(ctx context.Context) (string, error)
	CreateMessage(ctx context.Context, threadID string, role Role, content string) error
	CreateRun(ctx context.Context, threadID, assistantID string) (Stream, error)
	// ListRuns returns the thread's runs, most recent first.
	ListRuns(ctx context.Context, threadID string) ([]Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []tools.Output) (Stream, error)
	CancelRun(ctx context.Context, threadID, runID string) error
}
