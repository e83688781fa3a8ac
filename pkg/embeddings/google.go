package embeddings

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Dimension is the vector size requested from the embedding model and used
// for the source index table.
const Dimension = 1536

// maxBatch is the number of texts sent in one EmbedContent call.
const maxBatch = 100

// GoogleEmbedder embeds text with the Gemini embedding models.
type GoogleEmbedder struct {
	client *genai.Client
	model  string
}

func NewGoogleEmbedder(ctx context.Context, model, apiKey string) (*GoogleEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google embedder: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini API client: %w", err)
	}
	return &GoogleEmbedder{client: client, model: model}, nil
}

func (e *GoogleEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts embeds texts in batches, returning one vector per text in order.
func (e *GoogleEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, 0, len(texts))
	dim := int32(Dimension)

	for start := 0; start < len(texts); start += maxBatch {
		batch := texts[start:min(start+maxBatch, len(texts))]
		contents := make([]*genai.Content, 0, len(batch))
		for _, text := range batch {
			contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: text}}})
		}

		res, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
			OutputDimensionality: &dim,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to embed %d texts: %w", len(batch), err)
		}
		if res == nil || len(res.Embeddings) != len(batch) {
			return nil, fmt.Errorf("embedding count mismatch: sent %d texts", len(batch))
		}
		for _, emb := range res.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, fmt.Errorf("empty embedding returned")
			}
			result = append(result, emb.Values)
		}
	}
	return result, nil
}
