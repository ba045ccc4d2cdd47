package tools

import (
	"encoding/json"
	"fmt"
)

// Call is one tool invocation requested by the assistant. Arguments holds
// the raw JSON object string sent with the request.
type Call struct {
	ID        string
	Name      string
	Arguments string
}

// Output answers exactly one Call.
type Output struct {
	ToolCallID string
	Output     string
}

// Result is what a dispatched tool produced. Value is a string for fetched
// pages, a map for relay replies, or nil when the action yielded nothing.
// Found is false when the tool name is not known.
type Result struct {
	Tool  Tool
	Value any
	Found bool
}

// String serializes the result for submission: strings as-is, nothing as
// the empty string, anything else as compact JSON.
func (r Result) String() string {
	switch v := r.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	data, err := json.Marshal(r.Value)
	if err != nil {
		return fmt.Sprint(r.Value)
	}
	return string(data)
}
