package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/ssestream"
	"github.com/openai/openai-go/v2/shared"

	"portfolioagent/internal/tools"
)

// OpenAIOption configures an OpenAI peer.
type OpenAIOption func(*OpenAI)

// OpenAI implements Peer on the Assistants beta endpoints.
type OpenAI struct {
	client        openai.Client
	requestOpts   []option.RequestOption
	model         string
	overrideModel bool
}

// WithBaseURL points the client at another API root (tests, proxies).
func WithBaseURL(baseURL string) OpenAIOption {
	return func(o *OpenAI) {
		if strings.TrimSpace(baseURL) != "" {
			o.requestOpts = append(o.requestOpts, option.WithBaseURL(baseURL))
		}
	}
}

func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(o *OpenAI) {
		if client != nil {
			o.requestOpts = append(o.requestOpts, option.WithHTTPClient(client))
		}
	}
}

// WithModel makes every run use model instead of the assistant's default.
func WithModel(model string) OpenAIOption {
	return func(o *OpenAI) {
		o.model = model
		o.overrideModel = strings.TrimSpace(model) != ""
	}
}

func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAI {
	o := &OpenAI{
		// Failed calls surface to the caller; nothing is retried.
		requestOpts: []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.client = openai.NewClient(o.requestOpts...)
	return o
}

var errEmptyID = errors.New("empty identifier")

func (o *OpenAI) RetrieveAssistant(ctx context.Context, assistantID string) (Assistant, error) {
	if assistantID == "" {
		return Assistant{}, fmt.Errorf("retrieve assistant: %w", errEmptyID)
	}
	a, err := o.client.Beta.Assistants.Get(ctx, assistantID)
	if err != nil {
		return Assistant{}, fmt.Errorf("retrieve assistant %s: %w", assistantID, err)
	}
	return Assistant{ID: a.ID, Name: a.Name, Model: a.Model}, nil
}

func (o *OpenAI) CreateThread(ctx context.Context) (string, error) {
	th, err := o.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return th.ID, nil
}

func (o *OpenAI) CreateMessage(ctx context.Context, threadID string, role Role, content string) error {
	if threadID == "" {
		return fmt.Errorf("create message: thread %w", errEmptyID)
	}
	params := openai.BetaThreadMessageNewParams{
		Role:    openai.BetaThreadMessageNewParamsRole(role),
		Content: openai.BetaThreadMessageNewParamsContentUnion{OfString: openai.String(content)},
	}
	if _, err := o.client.Beta.Threads.Messages.New(ctx, threadID, params); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (o *OpenAI) CreateRun(ctx context.Context, threadID, assistantID string) (Stream, error) {
	if threadID == "" || assistantID == "" {
		return nil, fmt.Errorf("create run: thread or assistant %w", errEmptyID)
	}
	params := openai.BetaThreadRunNewParams{AssistantID: assistantID}
	if o.overrideModel {
		params.Model = shared.ChatModel(o.model)
	}
	stream := o.client.Beta.Threads.Runs.NewStreaming(ctx, threadID, params)
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("create run: %w", err)
	}
	return &eventStream{stream: stream}, nil
}

func (o *OpenAI) ListRuns(ctx context.Context, threadID string) ([]Run, error) {
	if threadID == "" {
		return nil, fmt.Errorf("list runs: thread %w", errEmptyID)
	}
	page, err := o.client.Beta.Threads.Runs.List(ctx, threadID, openai.BetaThreadRunListParams{})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs := make([]Run, 0, len(page.Data))
	for _, r := range page.Data {
		runs = append(runs, convertRun(r))
	}
	return runs, nil
}

func (o *OpenAI) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []tools.Output) (Stream, error) {
	if threadID == "" || runID == "" {
		return nil, fmt.Errorf("submit tool outputs: thread or run %w", errEmptyID)
	}
	params := openai.BetaThreadRunSubmitToolOutputsParams{
		ToolOutputs: make([]openai.BetaThreadRunSubmitToolOutputsParamsToolOutput, 0, len(outputs)),
	}
	for _, out := range outputs {
		params.ToolOutputs = append(params.ToolOutputs, openai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: openai.String(out.ToolCallID),
			Output:     openai.String(out.Output),
		})
	}
	stream := o.client.Beta.Threads.Runs.SubmitToolOutputsStreaming(ctx, threadID, runID, params)
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("submit tool outputs: %w", err)
	}
	return &eventStream{stream: stream}, nil
}

func (o *OpenAI) CancelRun(ctx context.Context, threadID, runID string) error {
	if threadID == "" || runID == "" {
		return fmt.Errorf("cancel run: thread or run %w", errEmptyID)
	}
	if _, err := o.client.Beta.Threads.Runs.Cancel(ctx, threadID, runID); err != nil {
		return fmt.Errorf("cancel run %s: %w", runID, err)
	}
	return nil
}

func convertRun(r openai.Run) Run {
	run := Run{ID: r.ID, Status: RunStatus(r.Status)}
	for _, tc := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
		run.ToolCalls = append(run.ToolCalls, tools.Call{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return run
}

type eventStream struct {
	stream *ssestream.Stream[openai.AssistantStreamEventUnion]
	cur    Event
}

func (s *eventStream) Next() bool {
	if !s.stream.Next() {
		return false
	}
	s.cur = convertEvent(s.stream.Current())
	return true
}

func (s *eventStream) Current() Event { return s.cur }

func (s *eventStream) Err() error {
	if err := s.stream.Err(); err != nil {
		return fmt.Errorf("event stream: %w", err)
	}
	return nil
}

func (s *eventStream) Close() error { return s.stream.Close() }

func convertEvent(ev openai.AssistantStreamEventUnion) Event {
	out := Event{Name: ev.Event}
	switch {
	case strings.HasPrefix(ev.Event, "thread.run.step."):
		out.RunID = ev.Data.RunID
	case strings.HasPrefix(ev.Event, "thread.run."):
		out.RunID = ev.Data.ID
	case strings.HasPrefix(ev.Event, "thread.message."):
		out.RunID = ev.Data.RunID
	}

	switch ev.Event {
	case "thread.message.delta":
		out.Kind = EventMessageDelta
		var b strings.Builder
		for _, part := range ev.AsThreadMessageDelta().Data.Delta.Content {
			if part.Type == "text" {
				b.WriteString(part.Text.Value)
			}
		}
		out.Text = b.String()
	case "thread.message.in_progress":
		out.Kind = EventMessageInProgress
	case "thread.message.completed":
		out.Kind = EventMessageCompleted
	case "thread.run.requires_action":
		out.Kind = EventRunRequiresAction
	case "thread.run.completed":
		out.Kind = EventRunCompleted
	default:
		out.Kind = EventUnknown
	}
	return out
}
