package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// Config describes how a Client talks to its langchaingo model.
type Config struct {
	Provider     string
	DefaultModel string
	MaxTokens    int
	Timeout      time.Duration
	// FoldSystem prepends the system instruction to the first user turn
	// for backends without a usable system role.
	FoldSystem bool
	Logger     *slog.Logger
}

// Client implements Gateway over any langchaingo llms.Model.
type Client struct {
	model  llms.Model
	cfg    Config
	logger *slog.Logger
}

func NewClient(model llms.Model, cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		model:  model,
		cfg:    cfg,
		logger: logger.With("provider", cfg.Provider),
	}
}

func (c *Client) DefaultModel() string { return c.cfg.DefaultModel }

// Close releases the underlying model when it holds a connection.
func (c *Client) Close() error {
	if closer, ok := c.model.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Client) Generate(ctx context.Context, prompt string, opts ...CallOption) (string, error) {
	return c.complete(ctx, "generate", []Message{{Role: RoleUser, Content: prompt}}, opts)
}

func (c *Client) GenerateStream(ctx context.Context, prompt string, opts ...CallOption) iter.Seq2[string, error] {
	return c.stream(ctx, "generate_stream", []Message{{Role: RoleUser, Content: prompt}}, opts)
}

func (c *Client) ChatCompletion(ctx context.Context, messages []Message, opts ...CallOption) (string, error) {
	return c.complete(ctx, "chat_completion", messages, opts)
}

func (c *Client) ChatCompletionStream(ctx context.Context, messages []Message, opts ...CallOption) iter.Seq2[string, error] {
	return c.stream(ctx, "chat_completion_stream", messages, opts)
}

func (c *Client) complete(ctx context.Context, method string, messages []Message, opts []CallOption) (string, error) {
	o := c.resolve(opts)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, c.convert(messages, o.System), c.llmsOptions(o)...)
	if err == nil && (resp == nil || len(resp.Choices) == 0) {
		err = ErrEmptyResponse
	}
	if err != nil {
		perr := c.wrap(method, o.Model, err)
		c.record(method, o.Model, time.Since(start), 0, 0, perr)
		return "", perr
	}

	choice := resp.Choices[0]
	in, out := tokenUsage(choice.GenerationInfo)
	c.record(method, o.Model, time.Since(start), in, out, nil)
	return choice.Content, nil
}

type streamResult struct {
	content string
	info    map[string]any
	err     error
}

// stream runs the provider call on its own goroutine and relays chunks to
// the consumer. Stopping the range loop cancels the provider call.
func (c *Client) stream(ctx context.Context, method string, messages []Message, opts []CallOption) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		o := c.resolve(opts)
		ctx, cancelTimeout := c.withTimeout(ctx)
		defer cancelTimeout()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		chunks := make(chan string)
		done := make(chan streamResult, 1)
		start := time.Now()

		go func() {
			defer close(chunks)
			callOpts := append(c.llmsOptions(o), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
				select {
				case chunks <- string(chunk):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}))
			resp, err := c.model.GenerateContent(ctx, c.convert(messages, o.System), callOpts...)
			res := streamResult{err: err}
			if err == nil {
				if resp == nil || len(resp.Choices) == 0 {
					res.err = ErrEmptyResponse
				} else {
					res.content = resp.Choices[0].Content
					res.info = resp.Choices[0].GenerationInfo
				}
			}
			done <- res
		}()

		streamed := false
		for chunk := range chunks {
			if chunk == "" {
				continue
			}
			streamed = true
			if !yield(chunk, nil) {
				cancel()
				c.record(method, o.Model, time.Since(start), 0, 0, context.Canceled)
				return
			}
		}

		res := <-done
		if res.err != nil {
			perr := c.wrap(method, o.Model, res.err)
			c.record(method, o.Model, time.Since(start), 0, 0, perr)
			yield("", perr)
			return
		}
		in, out := tokenUsage(res.info)
		c.record(method, o.Model, time.Since(start), in, out, nil)
		if !streamed && res.content != "" {
			yield(res.content, nil)
		}
	}
}

func (c *Client) resolve(opts []CallOption) CallOptions {
	o := CallOptions{Model: c.cfg.DefaultModel, MaxTokens: c.cfg.MaxTokens}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (c *Client) llmsOptions(o CallOptions) []llms.CallOption {
	var out []llms.CallOption
	if o.Model != "" {
		out = append(out, llms.WithModel(o.Model))
	}
	if o.MaxTokens > 0 {
		out = append(out, llms.WithMaxTokens(o.MaxTokens))
	}
	if o.JSONMode {
		out = append(out, llms.WithJSONMode())
	}
	return out
}

func (c *Client) convert(messages []Message, system string) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages)+1)
	if system != "" && !c.cfg.FoldSystem {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}

	folded := system == "" || !c.cfg.FoldSystem
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		if m.Role == RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		text := m.Content
		if !folded && role == llms.ChatMessageTypeHuman {
			text = system + "\n\n" + text
			folded = true
		}
		out = append(out, llms.TextParts(role, text))
	}
	if !folded {
		out = append([]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, system)}, out...)
	}
	return out
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, c.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func (c *Client) wrap(method, model string, err error) error {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	return &ProviderError{Provider: c.cfg.Provider, Method: method, Model: model, Err: err}
}

func (c *Client) record(method, model string, elapsed time.Duration, in, out int, err error) {
	status := "ok"
	switch {
	case errors.Is(err, context.Canceled):
		status = "cancelled"
	case err != nil:
		status = "error"
	}

	llmCallsTotal.WithLabelValues(c.cfg.Provider, model, method, status).Inc()
	llmCallDuration.WithLabelValues(c.cfg.Provider, model, method).Observe(elapsed.Seconds())
	if in > 0 {
		llmTokensTotal.WithLabelValues(c.cfg.Provider, model, "input").Add(float64(in))
	}
	if out > 0 {
		llmTokensTotal.WithLabelValues(c.cfg.Provider, model, "output").Add(float64(out))
	}

	attrs := []any{
		"method", method,
		"model", model,
		"duration_ms", elapsed.Milliseconds(),
		"input_tokens", in,
		"output_tokens", out,
		"status", status,
	}
	if err != nil && status == "error" {
		c.logger.Warn("LLM call failed", append(attrs, "error", err)...)
		return
	}
	c.logger.Debug("LLM call", attrs...)
}

// tokenUsage reads token counts from the provider-specific generation info.
func tokenUsage(info map[string]any) (int, int) {
	in := firstInt(info, "InputTokens", "PromptTokens", "input_tokens", "prompt_tokens")
	out := firstInt(info, "OutputTokens", "CompletionTokens", "output_tokens", "completion_tokens")
	return in, out
}

func firstInt(info map[string]any, keys ...string) int {
	for _, key := range keys {
		v, ok := info[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int:
			return n
		case int32:
			return int(n)
		case int64:
			return int(n)
		case float64:
			return int(n)
		case fmt.Stringer:
			var parsed int
			if _, err := fmt.Sscanf(n.String(), "%d", &parsed); err == nil {
				return parsed
			}
		}
	}
	return 0
}
