package clients

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/research-agent/pkg/llm"
)

// Provider is the set of supported model backends.
type Provider string

const (
	Anthropic Provider = "anthropic"
	OpenAI    Provider = "openai"
	Google    Provider = "google"
)

// ParseProvider maps an LLM_PROVIDER value onto the enum.
func ParseProvider(raw string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(raw))); p {
	case Anthropic, OpenAI, Google:
		return p, nil
	case "claude":
		return Anthropic, nil
	case "gemini":
		return Google, nil
	default:
		return "", fmt.Errorf("invalid provider: %s", raw)
	}
}

// DefaultModel is the model used when LLM_MODEL is empty.
func (p Provider) DefaultModel() string {
	switch p {
	case Anthropic:
		return string(Claude4Sonnet)
	case OpenAI:
		return string(GPT4o)
	case Google:
		return string(GeminiFlash)
	}
	return ""
}

type Options struct {
	Provider  Provider
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Logger    *slog.Logger
}

// New builds the gateway for the configured provider. It is called once per
// process and the returned gateway is closed on shutdown.
func New(ctx context.Context, opts Options) (*llm.Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("missing API key for provider %s", opts.Provider)
	}
	modelName := opts.Model
	if modelName == "" {
		modelName = opts.Provider.DefaultModel()
	}

	var (
		model llms.Model
		err   error
	)
	switch opts.Provider {
	case Anthropic:
		model, err = AnthropicAI(opts.APIKey, modelName)
	case OpenAI:
		model, err = OpenAIChat(opts.APIKey, modelName)
	case Google:
		model, err = GoogleAi(ctx, opts.APIKey, modelName)
	default:
		return nil, fmt.Errorf("invalid provider: %s", opts.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to init %s model: %w", opts.Provider, err)
	}

	return llm.NewClient(model, llm.Config{
		Provider:     string(opts.Provider),
		DefaultModel: modelName,
		MaxTokens:    opts.MaxTokens,
		Timeout:      opts.Timeout,
		FoldSystem:   opts.Provider == Google,
		Logger:       opts.Logger,
	}), nil
}
