// Package llm is the single entry point to text-generation backends. Call
// sites depend on Gateway; the provider behind it is chosen at startup.
package llm

import (
	"context"
	"iter"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat completion.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CallOptions are the per-call overrides accepted by every Gateway method.
type CallOptions struct {
	Model     string
	MaxTokens int
	System    string
	JSONMode  bool
}

type CallOption func(*CallOptions)

func WithModel(model string) CallOption {
	return func(o *CallOptions) { o.Model = model }
}

func WithMaxTokens(n int) CallOption {
	return func(o *CallOptions) { o.MaxTokens = n }
}

// WithSystem sets the system instruction for a chat completion.
func WithSystem(system string) CallOption {
	return func(o *CallOptions) { o.System = system }
}

// WithJSONMode asks providers that support it to return a JSON document.
func WithJSONMode() CallOption {
	return func(o *CallOptions) { o.JSONMode = true }
}

// Gateway is implemented by Client and by test doubles.
type Gateway interface {
	Generate(ctx context.Context, prompt string, opts ...CallOption) (string, error)
	GenerateStream(ctx context.Context, prompt string, opts ...CallOption) iter.Seq2[string, error]
	ChatCompletion(ctx context.Context, messages []Message, opts ...CallOption) (string, error)
	ChatCompletionStream(ctx context.Context, messages []Message, opts ...CallOption) iter.Seq2[string, error]
	DefaultModel() string
	Close() error
}
