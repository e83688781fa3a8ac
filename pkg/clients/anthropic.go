package clients

import (
	"github.com/tmc/langchaingo/llms/anthropic"
)

const (
	Claude4Sonnet ModelType = "claude-sonnet-4-20250514"
	Claude4Opus   ModelType = "claude-opus-4-20250514"
	Claude35Haiku ModelType = "claude-3-5-haiku-20241022"
)

func AnthropicAI(apiKey, model string) (*anthropic.LLM, error) {
	return anthropic.New(anthropic.WithToken(apiKey), anthropic.WithModel(model))
}
