// ABOUTME: Completion provider abstraction consumed by the stream coordinator
// ABOUTME: Providers turn a message list into a channel of text and function-call events

package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/palladium-gateway/internal/config"
)

// Message is one role-tagged entry sent to a provider.
type Message struct {
	Role    string
	Content string
}

// Tool describes a function the model may call. Parameters is a JSON schema.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is a single streaming completion request.
type Request struct {
	Messages []Message
	Tools    []Tool
}

// EventType distinguishes provider events.
type EventType int

const (
	// EventText carries a token delta in Text.
	EventText EventType = iota
	// EventFunctionCall carries a complete function call in Call.
	EventFunctionCall
	// EventError carries a mid-stream failure in Err. It is the last event.
	EventError
	// EventDone marks a clean end of stream. It is the last event.
	EventDone
)

func (t EventType) String() string {
	switch t {
	case EventText:
		return "text"
	case EventFunctionCall:
		return "function_call"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// FunctionCall is a structured call with its arguments fully assembled.
type FunctionCall struct {
	ID        string
	Name      string
	Arguments string
}

// Event is one item of a provider stream.
type Event struct {
	Type EventType
	Text string
	Call *FunctionCall
	Err  error
}

// Provider streams completions.
type Provider interface {
	// Stream starts a completion. An error return means nothing was streamed.
	// Otherwise the channel yields events until EventDone or EventError and
	// is then closed. Cancelling ctx ends the stream early.
	Stream(ctx context.Context, req *Request) (<-chan *Event, error)

	// SupportsTools reports whether Request.Tools is honoured.
	SupportsTools() bool
}

// New builds the provider selected by cfg.Provider.
func New(cfg config.LLMConfig, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "llm", "provider", cfg.Provider)

	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		return NewOpenAIProvider(OpenAIOptions{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			Temperature:    cfg.Temperature,
			MaxTokens:      cfg.MaxTokens,
			MaxRetries:     cfg.MaxRetries,
			RequestTimeout: cfg.RequestTimeout,
			Logger:         logger,
		}), nil
	case config.ProviderOllama:
		return NewOllamaProvider(OllamaOptions{
			ServerURL:      cfg.BaseURL,
			Model:          cfg.Model,
			Temperature:    cfg.Temperature,
			MaxTokens:      cfg.MaxTokens,
			RequestTimeout: cfg.RequestTimeout,
			Logger:         logger,
		})
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// send delivers ev unless ctx is done first.
func send(ctx context.Context, ch chan<- *Event, ev *Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
