package tools

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGoogle(t *testing.T, handler http.HandlerFunc) *GoogleSearch {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g := NewGoogleSearch("key-123", "cx-456", 5*time.Second, quietLogger())
	g.BaseURL = srv.URL
	return g
}

func TestGoogleSearchParams(t *testing.T) {
	var got url.Values
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[
			{"title":"Go","link":"https://go.dev","snippet":"The Go language","displayLink":"go.dev","pagemap":{"metatags":[{"og:type":"website"}]}},
			{"title":"No link"}
		]}`)
	})

	results := g.Search(context.Background(), "  golang  ", SearchOptions{NumResults: 25, Language: "de", Safe: "on"})
	require.Len(t, results, 1)
	assert.Equal(t, "https://go.dev", results[0].Link)
	assert.Equal(t, "go.dev", results[0].DisplayLink)
	assert.Contains(t, results[0].Pagemap, "metatags")
	assert.Zero(t, results[0].RelevanceScore)

	assert.Equal(t, "key-123", got.Get("key"))
	assert.Equal(t, "cx-456", got.Get("cx"))
	assert.Equal(t, "golang", got.Get("q"))
	assert.Equal(t, "10", got.Get("num"))
	assert.Equal(t, "lang_de", got.Get("lr"))
	assert.Equal(t, "de", got.Get("hl"))
	assert.Equal(t, "active", got.Get("safe"))
}

func TestGoogleSearchFailsSoft(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "no items",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"searchInformation":{"totalResults":"0"}}`)
			},
		},
		{
			name: "api error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				fmt.Fprint(w, `{"error":{"code":403,"message":"quota"}}`)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"items": [`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGoogle(t, tt.handler)
			assert.Empty(t, g.Search(context.Background(), "golang", SearchOptions{}))
		})
	}
}

func TestGoogleSearchUnreachable(t *testing.T) {
	g := NewGoogleSearch("k", "cx", time.Second, quietLogger())
	g.BaseURL = "http://127.0.0.1:1"
	assert.Empty(t, g.Search(context.Background(), "golang", SearchOptions{}))
}

func TestGoogleSearchBlankQuery(t *testing.T) {
	called := false
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) { called = true })
	assert.Empty(t, g.Search(context.Background(), "   ", SearchOptions{}))
	assert.False(t, called)
}

const arxivFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v7</id>
    <published>2017-06-12T17:57:34Z</published>
    <title>Attention Is All
      You Need</title>
    <summary>  The dominant sequence transduction models are based on
      complex recurrent networks.</summary>
    <author><name>Ashish Vaswani</name></author>
    <link href="http://arxiv.org/abs/1706.03762v7" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/1706.03762v7" rel="related" type="application/pdf"/>
  </entry>
</feed>`

func TestArxivSearch(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		fmt.Fprint(w, arxivFeed)
	}))
	defer srv.Close()

	a := NewArxivSearch(5*time.Second, quietLogger())
	a.BaseURL = srv.URL

	results := a.Search(context.Background(), "transformers", SearchOptions{NumResults: 3})
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, "Attention Is All You Need", r.Title)
	assert.Equal(t, "http://arxiv.org/abs/1706.03762v7", r.Link)
	assert.Equal(t, "arxiv.org", r.DisplayLink)
	assert.Equal(t, "The dominant sequence transduction models are based on complex recurrent networks.", r.Snippet)
	assert.Equal(t, "http://arxiv.org/pdf/1706.03762v7", r.Pagemap["pdf"])

	assert.Equal(t, "all:transformers", got.Get("search_query"))
	assert.Equal(t, "3", got.Get("max_results"))
}

func TestArxivSearchFailsSoft(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewArxivSearch(time.Second, quietLogger())
	a.BaseURL = srv.URL
	assert.Empty(t, a.Search(context.Background(), "transformers", SearchOptions{}))
}
