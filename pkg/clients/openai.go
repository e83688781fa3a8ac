package clients

import (
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	GPT4o     ModelType = "gpt-4o"
	GPT4oMini ModelType = "gpt-4o-mini"
)

func OpenAIChat(apiKey, model string) (*openai.LLM, error) {
	return openai.New(openai.WithToken(apiKey), openai.WithModel(model))
}
