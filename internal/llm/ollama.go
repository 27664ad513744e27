// ABOUTME: Ollama provider built on langchaingo, streaming text only
// ABOUTME: Actions reach the gateway through [ACTION] markup when this provider is used

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaOptions configures an OllamaProvider.
type OllamaOptions struct {
	ServerURL      string
	Model          string
	Temperature    float64
	MaxTokens      int
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// OllamaProvider streams completions from a local Ollama server.
type OllamaProvider struct {
	model  llms.Model
	opts   OllamaOptions
	logger *slog.Logger
}

var _ Provider = (*OllamaProvider)(nil)

// NewOllamaProvider creates a provider for the given model.
func NewOllamaProvider(opts OllamaOptions) (*OllamaProvider, error) {
	ollamaOpts := []ollama.Option{ollama.WithModel(opts.Model)}
	if opts.ServerURL != "" {
		ollamaOpts = append(ollamaOpts, ollama.WithServerURL(opts.ServerURL))
	}
	if opts.RequestTimeout > 0 {
		ollamaOpts = append(ollamaOpts, ollama.WithHTTPClient(&http.Client{Timeout: opts.RequestTimeout}))
	}

	model, err := ollama.New(ollamaOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "llm", "provider", "ollama")
	}
	return &OllamaProvider{model: model, opts: opts, logger: logger}, nil
}

func (p *OllamaProvider) SupportsTools() bool {
	return false
}

// Stream runs the completion in the background. Failures before the first
// token are returned directly so callers can treat them as pre-stream errors.
func (p *OllamaProvider) Stream(ctx context.Context, req *Request) (<-chan *Event, error) {
	raw := make(chan *Event)

	go func() {
		defer close(raw)

		callOpts := []llms.CallOption{
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				if !send(ctx, raw, &Event{Type: EventText, Text: string(chunk)}) {
					return ctx.Err()
				}
				return nil
			}),
		}
		if p.opts.MaxTokens > 0 {
			callOpts = append(callOpts, llms.WithMaxTokens(p.opts.MaxTokens))
		}
		if p.opts.Temperature > 0 {
			callOpts = append(callOpts, llms.WithTemperature(p.opts.Temperature))
		}

		_, err := p.model.GenerateContent(ctx, convertMessages(req.Messages), callOpts...)
		if err != nil {
			p.logger.Warn("ollama completion failed", "error", err)
			send(ctx, raw, &Event{Type: EventError, Err: err})
			return
		}
		send(ctx, raw, &Event{Type: EventDone})
	}()

	return peekFirst(ctx, raw)
}

// peekFirst waits for the first event of raw. A leading error becomes the
// return value; anything else is replayed ahead of the remaining events.
func peekFirst(ctx context.Context, raw <-chan *Event) (<-chan *Event, error) {
	var first *Event
	select {
	case ev, ok := <-raw:
		if !ok {
			return nil, fmt.Errorf("provider stream closed without events")
		}
		first = ev
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if first.Type == EventError {
		go drain(raw)
		return nil, first.Err
	}

	out := make(chan *Event)
	go func() {
		defer close(out)
		if !send(ctx, out, first) {
			drain(raw)
			return
		}
		for ev := range raw {
			if !send(ctx, out, ev) {
				drain(raw)
				return
			}
		}
	}()
	return out, nil
}

func drain(ch <-chan *Event) {
	for range ch {
	}
}

func convertMessages(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, len(messages))
	for i, m := range messages {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case "system":
			role = llms.ChatMessageTypeSystem
		case "user":
			role = llms.ChatMessageTypeHuman
		case "assistant":
			role = llms.ChatMessageTypeAI
		}
		out[i] = llms.MessageContent{
			Role:  role,
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		}
	}
	return out
}
