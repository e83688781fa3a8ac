package tools

import (
	"context"
	"encoding/xml"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const arxivAPIURL = "https://export.arxiv.org/api/query"

// ArxivEntry struct to hold arXiv entry data
type ArxivEntry struct {
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Authors   []string    `xml:"author>name"`
	Link      []ArxivLink `xml:"link"`
}

// ArxivLink struct to hold arXiv link data
type ArxivLink struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}

// ArxivFeed struct to hold the entire arXiv feed
type ArxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []ArxivEntry `xml:"entry"`
}

// ArxivSearch is a Searcher over the arXiv Atom API.
type ArxivSearch struct {
	BaseURL string
	Client  *http.Client
	Logger  *slog.Logger
}

func NewArxivSearch(timeout time.Duration, logger *slog.Logger) *ArxivSearch {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArxivSearch{
		BaseURL: arxivAPIURL,
		Client:  &http.Client{Timeout: timeout},
		Logger:  logger,
	}
}

func (a *ArxivSearch) Search(ctx context.Context, query string, opts SearchOptions) []SearchResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	maxResults := opts.NumResults
	if maxResults <= 0 {
		maxResults = 5
	}

	params := url.Values{}
	params.Add("search_query", "all:"+query)
	params.Add("max_results", strconv.Itoa(maxResults))
	params.Add("start", "0")
	apiURL := a.BaseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		a.Logger.Error("Failed to build arXiv request", "query", query, "error", err)
		return nil
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		a.Logger.Error("arXiv request failed", "query", query, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		a.Logger.Error("arXiv API returned non-200 status code", "status", resp.StatusCode, "body", string(body))
		return nil
	}

	var feed ArxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		a.Logger.Error("Failed to unmarshal arXiv XML", "query", query, "error", err)
		return nil
	}

	results := make([]SearchResult, 0, len(feed.Entry))
	for _, entry := range feed.Entry {
		if r, ok := entry.toResult(); ok {
			results = append(results, r)
		}
	}
	a.Logger.Debug("arXiv search completed", "query", query, "results", len(results))
	return results
}

func (e ArxivEntry) toResult() (SearchResult, bool) {
	var abs, pdf string
	for _, link := range e.Link {
		switch {
		case link.Type == "application/pdf" || link.Title == "pdf":
			pdf = link.Href
		case link.Rel == "alternate":
			abs = link.Href
		}
	}
	if abs == "" {
		abs = strings.TrimSpace(e.ID)
	}
	if abs == "" {
		return SearchResult{}, false
	}

	pagemap := map[string]any{"published": strings.TrimSpace(e.Published)}
	if pdf != "" {
		pagemap["pdf"] = pdf
	}
	if len(e.Authors) > 0 {
		pagemap["authors"] = e.Authors
	}

	return SearchResult{
		Title:       collapseSpace(e.Title),
		Link:        abs,
		Snippet:     collapseSpace(e.Summary),
		DisplayLink: "arxiv.org",
		Pagemap:     pagemap,
	}, true
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
