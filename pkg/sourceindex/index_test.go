package sourceindex

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/research-agent/pkg/research/tools"
	"github.com/mikeboe/research-agent/pkg/splitter"
	"github.com/mikeboe/research-agent/pkg/vectorstore"
)

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text))}, nil
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := f.EmbedText(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type fakeStore struct {
	docs       []vectorstore.Document
	deleted    []map[string]any
	lastFilter map[string]any
	lastTopK   int
}

func (f *fakeStore) AddDocuments(_ context.Context, docs []vectorstore.Document) error {
	f.docs = append(f.docs, docs...)
	return nil
}

func (f *fakeStore) SimilaritySearch(_ context.Context, _ []float32, topK int, filter map[string]any) ([]vectorstore.SimilaritySearchResult, error) {
	f.lastFilter, f.lastTopK = filter, topK
	var out []vectorstore.SimilaritySearchResult
	for _, d := range f.docs {
		meta := map[string]any{}
		for k, v := range d.Metadata {
			meta[k] = v
		}
		// Decoded JSON numbers come back as float64.
		meta["chunk"] = float64(d.Metadata["chunk"].(int))
		out = append(out, vectorstore.SimilaritySearchResult{
			Document: vectorstore.Document{Content: d.Content, Metadata: meta},
			Score:    0.9,
		})
	}
	return out, nil
}

func (f *fakeStore) DeleteByMetadata(_ context.Context, filter map[string]any) (int64, error) {
	f.deleted = append(f.deleted, filter)
	return int64(len(f.docs)), nil
}

func newTestIndex(store *fakeStore, embedder *fakeEmbedder) *Index {
	return New(store, embedder, splitter.NewRecursiveCharacterTextSplitter(60, 0), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAddSources(t *testing.T) {
	store := &fakeStore{}
	embedder := &fakeEmbedder{}
	ix := newTestIndex(store, embedder)

	sources := []tools.URLContent{
		{URL: "https://a.example", Title: "A", Text: "<p>" + strings.Repeat("Cells lose capacity over time. ", 6) + "</p>", ContentType: tools.ContentHTML},
		{URL: "https://broken.example", ContentType: tools.ContentHTML, Error: "request timed out after 30s"},
		{URL: "file:///notes.txt", Title: "notes", Text: "Short note.", ContentType: tools.ContentText},
	}
	n, err := ix.AddSources(context.Background(), "run-1", sources)
	require.NoError(t, err)

	assert.Equal(t, len(store.docs), n)
	assert.Greater(t, n, 2)
	assert.Equal(t, 1, embedder.calls)
	assert.Equal(t, []map[string]any{{"run_id": "run-1"}}, store.deleted)

	urls := map[string]int{}
	for _, d := range store.docs {
		assert.Equal(t, "run-1", d.Metadata["run_id"])
		assert.NotEmpty(t, d.Embedding)
		assert.NotContains(t, d.Content, "<p>")
		urls[d.Metadata["url"].(string)]++
	}
	assert.Equal(t, 1, urls["file:///notes.txt"])
	assert.NotContains(t, urls, "https://broken.example")
}

func TestAddSourcesNothingToIndex(t *testing.T) {
	store := &fakeStore{}
	embedder := &fakeEmbedder{}
	ix := newTestIndex(store, embedder)

	n, err := ix.AddSources(context.Background(), "run-1", []tools.URLContent{{URL: "https://x.example", Error: "unexpected status 404 Not Found"}})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, embedder.calls)
}

func TestAddSourcesEmbedFailure(t *testing.T) {
	store := &fakeStore{}
	ix := newTestIndex(store, &fakeEmbedder{err: errors.New("quota exceeded")})

	_, err := ix.AddSources(context.Background(), "run-1", []tools.URLContent{{URL: "https://a.example", Text: "text", ContentType: tools.ContentText}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Empty(t, store.docs)
}

func TestSearch(t *testing.T) {
	store := &fakeStore{}
	ix := newTestIndex(store, &fakeEmbedder{})
	_, err := ix.AddSources(context.Background(), "run-1", []tools.URLContent{
		{URL: "https://a.example", Title: "A", Text: "Short note.", ContentType: tools.ContentText},
	})
	require.NoError(t, err)

	matches, err := ix.Search(context.Background(), "run-1", "capacity", "", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, Match{URL: "https://a.example", Title: "A", Content: "Short note.", Chunk: 0, Score: 0.9}, matches[0])
	assert.Equal(t, map[string]any{"run_id": "run-1"}, store.lastFilter)
	assert.Equal(t, 5, store.lastTopK)

	_, err = ix.Search(context.Background(), "run-1", "capacity", "https://a.example", 3)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"$and": []any{
		map[string]any{"run_id": "run-1"},
		map[string]any{"url": "https://a.example"},
	}}, store.lastFilter)

	_, err = ix.Search(context.Background(), "run-1", "  ", "", 3)
	assert.Error(t, err)
}
