// Package app wires configuration into the components shared by the
// server and the CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mikeboe/research-agent/pkg/clients"
	"github.com/mikeboe/research-agent/pkg/config"
	"github.com/mikeboe/research-agent/pkg/database"
	"github.com/mikeboe/research-agent/pkg/embeddings"
	"github.com/mikeboe/research-agent/pkg/llm"
	"github.com/mikeboe/research-agent/pkg/research"
	"github.com/mikeboe/research-agent/pkg/research/tools"
	"github.com/mikeboe/research-agent/pkg/sourceindex"
	"github.com/mikeboe/research-agent/pkg/splitter"
	"github.com/mikeboe/research-agent/pkg/vectorstore"
)

// EngineConfig maps the environment settings onto the engine's limits.
func EngineConfig(cfg *config.Config) research.Config {
	rc := research.DefaultConfig()
	rc.Search = tools.SearchOptions{
		NumResults: cfg.SearchNumResults,
		Language:   cfg.SearchLanguage,
		Safe:       cfg.SearchSafe,
	}
	if cfg.FetchTopN > 0 {
		rc.FetchTopN = cfg.FetchTopN
	}
	return rc
}

// searcherFor resolves SEARCH_BACKEND to a constructor, so an unknown
// backend is reported once, before any engine is built.
func searcherFor(cfg *config.Config) (func(*slog.Logger) tools.Searcher, error) {
	switch cfg.SearchBackend {
	case "google":
		return func(logger *slog.Logger) tools.Searcher {
			return tools.NewGoogleSearch(cfg.GoogleSearchAPIKey, cfg.GoogleSearchEngineID, cfg.SearchTimeout, logger)
		}, nil
	case "arxiv":
		return func(logger *slog.Logger) tools.Searcher {
			return tools.NewArxivSearch(cfg.SearchTimeout, logger)
		}, nil
	default:
		return nil, fmt.Errorf("unknown search backend %q", cfg.SearchBackend)
	}
}

// NewSearcher returns the backend named by SEARCH_BACKEND.
func NewSearcher(cfg *config.Config, logger *slog.Logger) (tools.Searcher, error) {
	newSearcher, err := searcherFor(cfg)
	if err != nil {
		return nil, err
	}
	return newSearcher(logger), nil
}

// NewGateway builds the model client for the configured provider.
func NewGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*llm.Client, error) {
	provider, err := clients.ParseProvider(cfg.LLMProvider)
	if err != nil {
		return nil, err
	}
	return clients.New(ctx, clients.Options{
		Provider:  provider,
		APIKey:    cfg.LLMAPIKey(),
		Model:     cfg.LLMModel,
		MaxTokens: cfg.LLMMaxTokens,
		Timeout:   cfg.LLMTimeout,
		Logger:    logger,
	})
}

// EngineFactory returns a constructor for engines that share gw but log
// through the logger they are given. Research runs use one per run.
func EngineFactory(cfg *config.Config, gw llm.Gateway) (func(*slog.Logger) *research.Engine, error) {
	newSearcher, err := searcherFor(cfg)
	if err != nil {
		return nil, err
	}
	rc := EngineConfig(cfg)
	return func(logger *slog.Logger) *research.Engine {
		fetcher := tools.NewFetcher(cfg.FetchTimeout, cfg.FetchUserAgent, logger)
		return research.NewEngine(gw, newSearcher(logger), fetcher, rc, logger)
	}, nil
}

// NewEngine assembles the engine around gw.
func NewEngine(cfg *config.Config, gw llm.Gateway, logger *slog.Logger) (*research.Engine, error) {
	newEngine, err := EngineFactory(cfg, gw)
	if err != nil {
		return nil, err
	}
	return newEngine(logger), nil
}

// OpenSourceIndex prepares the pgvector table and returns the index over
// it. It needs GOOGLE_API_KEY for embeddings.
func OpenSourceIndex(ctx context.Context, cfg *config.Config, db *database.PostgresDB, logger *slog.Logger) (*sourceindex.Index, error) {
	if cfg.GoogleApiKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY is required for source embeddings")
	}
	// Validates the table name before it is used in DDL.
	store, err := vectorstore.NewPGVectorStore(db.Pool, cfg.CollectionName)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureVectorExtension(ctx); err != nil {
		return nil, err
	}
	if err := db.CreateSourcesTable(ctx, cfg.CollectionName, embeddings.Dimension); err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewGoogleEmbedder(ctx, cfg.EmbeddingModel, cfg.GoogleApiKey)
	if err != nil {
		return nil, err
	}
	ts := splitter.NewMarkdownTextSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	return sourceindex.New(store, embedder, ts, logger), nil
}
