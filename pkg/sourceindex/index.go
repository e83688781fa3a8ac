// Package sourceindex keeps the sources fetched by a research run
// searchable after the run: texts are chunked, embedded and stored in
// pgvector tagged with the run id.
package sourceindex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mikeboe/research-agent/pkg/research/tools"
	"github.com/mikeboe/research-agent/pkg/vectorstore"
)

type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type Store interface {
	AddDocuments(ctx context.Context, docs []vectorstore.Document) error
	SimilaritySearch(ctx context.Context, embedding []float32, topK int, filter map[string]any) ([]vectorstore.SimilaritySearchResult, error)
	DeleteByMetadata(ctx context.Context, filter map[string]any) (int64, error)
}

type Splitter interface {
	SplitText(text string) ([]string, error)
}

// Match is one chunk returned by Search.
type Match struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Chunk   int     `json:"chunk"`
	Score   float64 `json:"score"`
}

type Index struct {
	Store    Store
	Embedder Embedder
	Splitter Splitter
	Logger   *slog.Logger
}

func New(store Store, embedder Embedder, splitter Splitter, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{Store: store, Embedder: embedder, Splitter: splitter, Logger: logger}
}

// AddSources replaces the run's indexed chunks with the successful sources
// and returns the number of chunks stored.
func (ix *Index) AddSources(ctx context.Context, runID string, sources []tools.URLContent) (int, error) {
	if removed, err := ix.Store.DeleteByMetadata(ctx, map[string]any{"run_id": runID}); err != nil {
		return 0, fmt.Errorf("failed to clear previous chunks: %w", err)
	} else if removed > 0 {
		ix.Logger.Info("Cleared indexed chunks", "run_id", runID, "count", removed)
	}

	var docs []vectorstore.Document
	for _, src := range sources {
		if !src.OK() {
			continue
		}
		chunks, err := ix.Splitter.SplitText(src.Markdown())
		if err != nil {
			ix.Logger.Warn("Failed to split source", "url", src.URL, "error", err)
			continue
		}
		for i, chunk := range chunks {
			docs = append(docs, vectorstore.Document{
				Content: chunk,
				Metadata: map[string]any{
					"run_id":       runID,
					"url":          src.URL,
					"title":        src.Title,
					"content_type": src.ContentType,
					"chunk":        i,
				},
			})
		}
	}
	if len(docs) == 0 {
		return 0, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := ix.Embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(docs) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(docs))
	}
	for i := range docs {
		docs[i].Embedding = vectors[i]
	}

	if err := ix.Store.AddDocuments(ctx, docs); err != nil {
		return 0, fmt.Errorf("failed to store chunks: %w", err)
	}
	ix.Logger.Info("Indexed sources", "run_id", runID, "chunks", len(docs))
	return len(docs), nil
}

// Search returns the run's chunks most similar to query. url, when set,
// restricts the search to one source.
func (ix *Index) Search(ctx context.Context, runID, query, url string, topK int) ([]Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if topK <= 0 {
		topK = 5
	}

	vec, err := ix.Embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	filter := map[string]any{"run_id": runID}
	if url != "" {
		filter = map[string]any{"$and": []any{
			map[string]any{"run_id": runID},
			map[string]any{"url": url},
		}}
	}
	results, err := ix.Store.SimilaritySearch(ctx, vec, topK, filter)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		m := Match{Content: r.Document.Content, Score: r.Score}
		m.URL, _ = r.Document.Metadata["url"].(string)
		m.Title, _ = r.Document.Metadata["title"].(string)
		if chunk, ok := r.Document.Metadata["chunk"].(float64); ok {
			m.Chunk = int(chunk)
		}
		matches = append(matches, m)
	}
	return matches, nil
}
