package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	googleSearchURL   = "https://www.googleapis.com/customsearch/v1"
	maxGoogleResults  = 10
	maxErrorBodyBytes = 4 << 10
)

type SearchOptions struct {
	NumResults int
	Language   string
	Safe       string
}

// Searcher runs one query against a search backend. Implementations fail
// soft: transport, API and decode errors are logged and yield no results.
type Searcher interface {
	Search(ctx context.Context, query string, opts SearchOptions) []SearchResult
}

// GoogleSearch talks to the Google Custom Search JSON API.
type GoogleSearch struct {
	APIKey   string
	EngineID string
	BaseURL  string
	Client   *http.Client
	Logger   *slog.Logger
}

func NewGoogleSearch(apiKey, engineID string, timeout time.Duration, logger *slog.Logger) *GoogleSearch {
	if logger == nil {
		logger = slog.Default()
	}
	return &GoogleSearch{
		APIKey:   apiKey,
		EngineID: engineID,
		BaseURL:  googleSearchURL,
		Client:   &http.Client{Timeout: timeout},
		Logger:   logger,
	}
}

type googleResponse struct {
	Items []struct {
		Title       string         `json:"title"`
		Link        string         `json:"link"`
		Snippet     string         `json:"snippet"`
		DisplayLink string         `json:"displayLink"`
		Pagemap     map[string]any `json:"pagemap"`
	} `json:"items"`
}

func (g *GoogleSearch) Search(ctx context.Context, query string, opts SearchOptions) []SearchResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	params := url.Values{}
	params.Set("key", g.APIKey)
	params.Set("cx", g.EngineID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(clampNum(opts.NumResults)))
	if opts.Language != "" {
		params.Set("lr", "lang_"+opts.Language)
		params.Set("hl", opts.Language)
	}
	params.Set("safe", safeMode(opts.Safe))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		g.Logger.Error("Failed to build search request", "query", query, "error", err)
		return nil
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.Client.Do(req)
	if err != nil {
		g.Logger.Error("Search request failed", "query", query, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		g.Logger.Error("Search API returned non-200 status code", "query", query, "status", resp.StatusCode, "body", string(body))
		return nil
	}

	var decoded googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		g.Logger.Error("Failed to decode search response", "query", query, "error", fmt.Errorf("decode: %w", err))
		return nil
	}

	results := make([]SearchResult, 0, len(decoded.Items))
	for _, item := range decoded.Items {
		if item.Link == "" {
			continue
		}
		results = append(results, SearchResult{
			Title:       item.Title,
			Link:        item.Link,
			Snippet:     item.Snippet,
			DisplayLink: item.DisplayLink,
			Pagemap:     item.Pagemap,
		})
	}
	g.Logger.Debug("Search completed", "query", query, "results", len(results))
	return results
}

func clampNum(n int) int {
	if n <= 0 || n > maxGoogleResults {
		return maxGoogleResults
	}
	return n
}

func safeMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "on", "true", "high", "medium":
		return "active"
	default:
		return "off"
	}
}
