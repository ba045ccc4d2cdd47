package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"portfolioagent/internal/notify"
)

// ContentFetcher returns the visible text of a page.
type ContentFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// NotificationSender delivers a contact request and reports the relay reply.
type NotificationSender interface {
	Send(ctx context.Context, msg notify.Message) notify.Response
}

// MissingArgumentError reports a required argument absent from a call.
type MissingArgumentError struct {
	Tool     Tool
	Argument string
}

func (e *MissingArgumentError) Error() string {
	return fmt.Sprintf("%s: missing required argument %q", e.Tool, e.Argument)
}

// ArgumentsError reports a call whose arguments are not a JSON object.
type ArgumentsError struct {
	Tool string
	Err  error
}

func (e *ArgumentsError) Error() string {
	return fmt.Sprintf("%s: decode arguments: %v", e.Tool, e.Err)
}

func (e *ArgumentsError) Unwrap() error { return e.Err }

type Dispatcher struct {
	fetcher ContentFetcher
	sender  NotificationSender
}

func NewDispatcher(fetcher ContentFetcher, sender NotificationSender) *Dispatcher {
	return &Dispatcher{fetcher: fetcher, sender: sender}
}

// Dispatch runs the tool named name with args. An unknown name is not an
// error: the Result comes back with Found unset. A failed fetch yields a
// found Result with a nil Value.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) (Result, error) {
	tool := ParseTool(name)
	switch tool {
	case SendEmail:
		msg, err := emailMessage(args)
		if err != nil {
			return Result{Tool: tool, Found: true}, err
		}
		return Result{Tool: tool, Value: d.sender.Send(ctx, msg), Found: true}, nil

	case FetchProjectMaterial:
		url, err := required(tool, args, "url")
		if err != nil {
			return Result{Tool: tool, Found: true}, err
		}
		text, err := d.fetcher.Fetch(ctx, url)
		if err != nil {
			log.Warn().Err(err).Str("url", url).Msg("fetch failed")
			return Result{Tool: tool, Found: true}, nil
		}
		return Result{Tool: tool, Value: text, Found: true}, nil

	case Unknown:
	}
	return Result{Tool: Unknown}, nil
}

// Execute decodes call's arguments, dispatches it and builds the Output
// that answers it. Unknown tools are answered with an empty output so the
// run can resume.
func (d *Dispatcher) Execute(ctx context.Context, call Call) (Output, error) {
	started := time.Now()

	args, err := decodeArguments(call)
	if err != nil {
		return Output{}, err
	}

	res, err := d.Dispatch(ctx, call.Name, args)
	if err != nil {
		return Output{}, err
	}

	logger := log.With().Str("tool", call.Name).Str("call_id", call.ID).Logger()
	if !res.Found {
		logger.Warn().Msg("no tool registered under this name")
	} else {
		logger.Info().Dur("took", time.Since(started)).Msg("tool executed")
	}

	return Output{ToolCallID: call.ID, Output: res.String()}, nil
}

func decodeArguments(call Call) (map[string]any, error) {
	raw := strings.TrimSpace(call.Arguments)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, &ArgumentsError{Tool: call.Name, Err: err}
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func emailMessage(args map[string]any) (notify.Message, error) {
	var msg notify.Message
	fields := []struct {
		key string
		dst *string
	}{
		{"subject", &msg.Subject},
		{"body", &msg.Body},
		{"email", &msg.Email},
		{"name", &msg.Name},
		{"occupation", &msg.Occupation},
	}
	for _, f := range fields {
		v, err := required(SendEmail, args, f.key)
		if err != nil {
			return notify.Message{}, err
		}
		*f.dst = v
	}
	msg.PhoneNumber, _ = optional(args, "phone_number")
	return msg, nil
}

func required(tool Tool, args map[string]any, key string) (string, error) {
	v, ok := optional(args, key)
	if !ok {
		return "", &MissingArgumentError{Tool: tool, Argument: key}
	}
	return v, nil
}

func optional(args map[string]any, key string) (string, bool) {
	raw, ok := args[key]
	if !ok {
		return "", false
	}
	switch v := raw.(type) {
	case nil:
		return "", true
	case string:
		return v, true
	}
	return fmt.Sprint(raw), true
}

// IsMissingArgument reports whether err carries a *MissingArgumentError.
func IsMissingArgument(err error) bool {
	var target *MissingArgumentError
	return errors.As(err, &target)
}
