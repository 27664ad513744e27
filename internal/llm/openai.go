// ABOUTME: OpenAI chat completions provider with streaming and tool calls
// ABOUTME: Reassembles fragmented tool-call arguments and emits each call at end of stream

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIOptions configures an OpenAIProvider.
type OpenAIOptions struct {
	APIKey         string
	BaseURL        string
	Model          string
	Temperature    float64
	MaxTokens      int
	MaxRetries     int
	RequestTimeout time.Duration
	Logger         *slog.Logger

	retryInitialInterval time.Duration
}

// OpenAIProvider streams completions from an OpenAI compatible API.
type OpenAIProvider struct {
	client *openai.Client
	opts   OpenAIOptions
	logger *slog.Logger
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a provider. BaseURL may point at any OpenAI
// compatible endpoint.
func NewOpenAIProvider(opts OpenAIOptions) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientConfig.BaseURL = opts.BaseURL
	}
	if opts.RequestTimeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: opts.RequestTimeout}
	}
	if opts.Model == "" {
		opts.Model = openai.GPT4o
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "llm", "provider", "openai")
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		opts:   opts,
		logger: logger,
	}
}

func (p *OpenAIProvider) SupportsTools() bool {
	return true
}

// Stream opens a streaming chat completion, retrying transient failures
// while opening. Once the first byte arrives no retry is attempted.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (<-chan *Event, error) {
	chatReq := p.buildRequest(req)

	var stream *openai.ChatCompletionStream
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		p.logger.Warn("opening completion stream failed, retrying", "attempt", attempt, "error", err)
		return err
	}, newRetryBackoff(ctx, p.opts.MaxRetries, p.opts.retryInitialInterval))
	if err != nil {
		return nil, fmt.Errorf("opening completion stream: %w", err)
	}

	ch := make(chan *Event)
	go p.consume(ctx, stream, ch)
	return ch, nil
}

func (p *OpenAIProvider) buildRequest(req *Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       p.opts.Model,
		Messages:    messages,
		Stream:      true,
		Temperature: float32(p.opts.Temperature),
		MaxTokens:   p.opts.MaxTokens,
	}
	for _, t := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return chatReq
}

// toolCallBuffer accumulates one tool call across deltas.
type toolCallBuffer struct {
	id   string
	name string
	args strings.Builder
}

func (p *OpenAIProvider) consume(ctx context.Context, stream *openai.ChatCompletionStream, ch chan<- *Event) {
	defer close(ch)
	defer stream.Close()

	calls := map[int]*toolCallBuffer{}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			for _, call := range assembleCalls(calls) {
				if !send(ctx, ch, &Event{Type: EventFunctionCall, Call: call}) {
					return
				}
			}
			send(ctx, ch, &Event{Type: EventDone})
			return
		}
		if err != nil {
			p.logger.Warn("completion stream failed", "error", err)
			send(ctx, ch, &Event{Type: EventError, Err: err})
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			buf, ok := calls[idx]
			if !ok {
				buf = &toolCallBuffer{}
				calls[idx] = buf
			}
			if tc.ID != "" {
				buf.id = tc.ID
			}
			if tc.Function.Name != "" {
				buf.name = tc.Function.Name
			}
			buf.args.WriteString(tc.Function.Arguments)
		}

		if delta.Content != "" {
			if !send(ctx, ch, &Event{Type: EventText, Text: delta.Content}) {
				return
			}
		}
	}
}

// assembleCalls returns the buffered calls ordered by index.
func assembleCalls(calls map[int]*toolCallBuffer) []*FunctionCall {
	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]*FunctionCall, 0, len(indexes))
	for _, idx := range indexes {
		buf := calls[idx]
		if buf.name == "" {
			continue
		}
		out = append(out, &FunctionCall{ID: buf.id, Name: buf.name, Arguments: buf.args.String()})
	}
	return out
}
