package clients

import (
	"context"

	"github.com/tmc/langchaingo/llms/googleai"
)

// ModelType names a concrete model of one of the providers.
type ModelType string

const (
	GeminiFlash ModelType = "gemini-2.5-flash"
	GeminiPro   ModelType = "gemini-2.5-pro"
)

func GoogleAi(ctx context.Context, apiKey, model string) (*googleai.GoogleAI, error) {
	// See https://ai.google.dev/gemini-api/docs/models/gemini for possible models
	return googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(model))
}
