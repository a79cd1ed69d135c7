// Package adapter provides a unified interface for the chat model providers
// a budgeted session can talk to.
package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/memvra/ctxbudget/internal/conversation"
)

// Provider name constants.
const (
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
)

// Usage is the token accounting reported by a provider for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// StreamChunk is a single piece of text, a usage report or an error
// delivered during streaming.
type StreamChunk struct {
	Text  string
	Usage *Usage
	Error error
}

// CompletionRequest holds the parameters for a completion call. Messages is
// the full transcript to send; system messages are routed to the provider's
// system slot.
type CompletionRequest struct {
	Messages    []conversation.Message
	Model       string
	MaxTokens   int
	Temperature float64
	Stream      bool
}

// ModelInfo describes the capabilities of a model.
type ModelInfo struct {
	Name              string
	Provider          string
	MaxContextWindow  int
	SupportsStreaming bool
}

// LLMAdapter is the common interface all provider adapters implement.
type LLMAdapter interface {
	// Complete sends the transcript and streams the response.
	Complete(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)

	// Info returns metadata about the adapter/model.
	Info() ModelInfo
}

// Option configures an adapter.
type Option func(*options)

type options struct {
	baseURL string
}

// WithBaseURL points the adapter at a different API endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// New constructs the LLMAdapter for the named provider. An empty apiKey is
// read from the environment by the concrete adapter.
func New(provider, apiKey string, opts ...Option) (LLMAdapter, error) {
	switch provider {
	case ProviderClaude:
		return NewClaude(apiKey, opts...), nil
	case ProviderOpenAI:
		return NewOpenAI(apiKey, opts...), nil
	default:
		return nil, fmt.Errorf("adapter: unknown provider %q; valid providers: claude, openai", provider)
	}
}

// Collect drains ch, returning the concatenated text and the last usage
// report. The first error chunk stops collection; text received before it is
// still returned.
func Collect(ch <-chan StreamChunk) (string, Usage, error) {
	return CollectFunc(ch, nil)
}

// CollectFunc is Collect with onText called for every text chunk as it
// arrives, for echoing a stream while it is assembled.
func CollectFunc(ch <-chan StreamChunk, onText func(string)) (string, Usage, error) {
	var (
		sb    strings.Builder
		usage Usage
	)
	for chunk := range ch {
		if chunk.Error != nil {
			// Drain so the producer goroutine can exit.
			for range ch {
			}
			return sb.String(), usage, chunk.Error
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if chunk.Text != "" {
			sb.WriteString(chunk.Text)
			if onText != nil {
				onText(chunk.Text)
			}
		}
	}
	return sb.String(), usage, nil
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// splitSystem separates system messages from the rest of the transcript,
// joining their content with blank lines.
func splitSystem(msgs []conversation.Message) (string, []conversation.Message) {
	var (
		system []string
		rest   = make([]conversation.Message, 0, len(msgs))
	)
	for _, m := range msgs {
		if m.Role == conversation.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
