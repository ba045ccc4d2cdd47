package llm

import (
	"errors"
	"fmt"

	"portfolioagent/internal/tools"
)

// FallbackReply is shown when a turn fails.
const FallbackReply = "An error occurred while processing your request."

// State is a step of one orchestrated turn.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateAwaitingToolOutputs
	StateToolStreaming
	StateDone
	StateError
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateAwaitingToolOutputs:
		return "awaiting_tool_outputs"
	case StateToolStreaming:
		return "tool_streaming"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	case StateTimedOut:
		return "timed_out"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError || s == StateTimedOut
}

// Outcome is the result of one turn. Text is always displayable: the
// assembled reply, the partial reply on timeout, or FallbackReply on error.
type Outcome struct {
	Text  string
	State State
	RunID string
	Err   error
}

// ProtocolError wraps a failure talking to the assistant or handling what
// it asked for.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Observer receives progress while a turn runs. Any field may be nil.
type Observer struct {
	Delta      func(text string)
	ToolStart  func(call tools.Call)
	ToolFinish func(call tools.Call, out tools.Output, err error)
	State      func(state State)
}

func (o *Observer) delta(text string) {
	if o != nil && o.Delta != nil {
		o.Delta(text)
	}
}

func (o *Observer) toolStart(call tools.Call) {
	if o != nil && o.ToolStart != nil {
		o.ToolStart(call)
	}
}

func (o *Observer) toolFinish(call tools.Call, out tools.Output, err error) {
	if o != nil && o.ToolFinish != nil {
		o.ToolFinish(call, out, err)
	}
}

func (o *Observer) state(s State) {
	if o != nil && o.State != nil {
		o.State(s)
	}
}

// Stream messages emitted by Request and consumed by the TUI model.
type (
	StreamStartedMsg struct{ Err error }
	StreamDeltaMsg   struct{ Text string }
	StreamStateMsg   struct{ State State }
	StreamDoneMsg    struct{ Outcome Outcome }

	ToolUseStartMsg  struct{ Call tools.Call }
	ToolUseFinishMsg struct {
		Call   tools.Call
		Output tools.Output
		Err    error
	}
)

var errEmptyMessage = errors.New("message is empty")
