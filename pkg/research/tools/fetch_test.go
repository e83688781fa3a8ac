package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articlePage = `<!DOCTYPE html>
<html>
<head>
  <title>Solar Power Basics</title>
  <meta name="description" content="ignored">
  <link rel="stylesheet" href="/site.css">
  <style>body { color: red; }</style>
  <script>alert("tracking");</script>
</head>
<body>
  <nav><a href="/">Home</a> <a href="/about">About</a></nav>
  <main>
    <h1>Solar Power Basics</h1>
    <p>Solar panels convert sunlight into electricity using photovoltaic cells made from silicon.
    Modern residential systems reach efficiencies above twenty percent and pay for themselves within a decade.</p>
    <p>Grid tied installations feed surplus energy back to the utility network, while battery storage
    keeps the lights on after sunset and during outages in remote regions.</p>
    <script>document.write("injected")</script>
  </main>
  <footer>Copyright notice</footer>
</body>
</html>`

func newTestFetcher(timeout time.Duration) *Fetcher {
	f := NewFetcher(timeout, "", quietLogger())
	return f
}

func serve(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchHTML(t *testing.T) {
	var gotUA string
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, articlePage)
	})

	got := newTestFetcher(5 * time.Second).Fetch(context.Background(), srv.URL+"/solar")
	require.Empty(t, got.Error)
	assert.Equal(t, ContentHTML, got.ContentType)
	assert.Equal(t, srv.URL+"/solar", got.URL)
	assert.Equal(t, "Solar Power Basics", got.Title)
	assert.Contains(t, got.Text, "photovoltaic cells")
	assert.NotContains(t, got.Text, "<script")
	assert.NotContains(t, got.Text, "alert(")
	assert.NotContains(t, got.Text, "injected")
	assert.NotContains(t, got.Text, "<style")
	assert.NotContains(t, got.Text, "<meta")
	assert.NotContains(t, got.Text, "<link")
	assert.Contains(t, gotUA, "Mozilla/5.0")
}

func TestFetchStructuralFallback(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Tiny</title></head><body>
			<div class="sidebar">Links</div>
			<div id="main-content"><p>Short note.</p><script>steal()</script></div>
		</body></html>`)
	})

	got := newTestFetcher(5*time.Second).Fetch(context.Background(), srv.URL)
	require.Empty(t, got.Error)
	assert.Equal(t, "Tiny", got.Title)
	assert.Contains(t, got.Text, "Short note.")
	assert.NotContains(t, got.Text, "steal()")
}

func TestFetchPlainBodies(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantType    string
		wantText    string
		wantTitle   string
	}{
		{
			name:        "markdown",
			contentType: "text/markdown",
			body:        "# Guide\n\nRead the [docs](https://go.dev/doc) first.\n",
			wantType:    ContentMarkdown,
			wantText:    "<h1>Guide</h1>",
			wantTitle:   "Guide",
		},
		{
			name:        "code",
			contentType: "text/plain",
			body:        "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n",
			wantType:    ContentCode,
			wantText:    "<pre",
		},
		{
			name:        "plain words",
			contentType: "text/plain; charset=utf-8",
			body:        "just some words about tides",
			wantType:    ContentHTML,
			wantText:    "just some words about tides",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				fmt.Fprint(w, tt.body)
			})

			got := newTestFetcher(5*time.Second).Fetch(context.Background(), srv.URL+"/doc")
			require.Empty(t, got.Error)
			assert.Equal(t, tt.wantType, got.ContentType)
			assert.Contains(t, got.Text, tt.wantText)
			if tt.wantTitle != "" {
				assert.Equal(t, tt.wantTitle, got.Title)
			}
		})
	}
}

func TestFetchPDF(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/typed" {
			w.Header().Set("Content-Type", "application/pdf")
		} else {
			w.Header().Set("Content-Type", "application/octet-stream")
		}
		io.WriteString(w, "%PDF-1.7\n%binary")
	})

	f := newTestFetcher(5 * time.Second)
	for _, path := range []string{"/typed", "/magic", "/paper.pdf"} {
		got := f.Fetch(context.Background(), srv.URL+path)
		assert.Empty(t, got.Error, path)
		assert.Equal(t, ContentText, got.ContentType, path)
		assert.Equal(t, pdfNotice, got.Text, path)
	}
}

func TestFetchFailures(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/empty":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><body><script>only()</script></body></html>")
		}
	})

	f := newTestFetcher(5 * time.Second)

	got := f.Fetch(context.Background(), srv.URL+"/missing")
	assert.Contains(t, got.Error, "404")
	assert.Empty(t, got.Text)
	assert.Equal(t, ContentHTML, got.ContentType)

	got = f.Fetch(context.Background(), srv.URL+"/empty")
	assert.Equal(t, "no readable content found", got.Error)
	assert.Empty(t, got.Text)

	for _, raw := range []string{"ftp://example.com/file", "not a url", "", "http://"} {
		got = f.Fetch(context.Background(), raw)
		assert.NotEmpty(t, got.Error, raw)
		assert.Empty(t, got.Text, raw)
	}
	assert.Equal(t, ContentText, f.Fetch(context.Background(), "ftp://example.com/file").ContentType)
}

func TestFetchAllIsolatesTimeout(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			select {
			case <-r.Context().Done():
			case <-time.After(3 * time.Second):
			}
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "page %s is fine", strings.TrimPrefix(r.URL.Path, "/"))
	})

	f := newTestFetcher(200 * time.Millisecond)
	urls := []string{srv.URL + "/one", srv.URL + "/slow", srv.URL + "/two", "mailto:someone@example.com"}

	got := f.FetchAll(context.Background(), urls)
	require.Len(t, got, len(urls))
	for i, u := range urls {
		assert.Equal(t, u, got[i].URL)
	}

	assert.Empty(t, got[0].Error)
	assert.Contains(t, got[0].Text, "page one is fine")

	assert.Contains(t, got[1].Error, "timed out")
	assert.Empty(t, got[1].Text)

	assert.Empty(t, got[2].Error)
	assert.Contains(t, got[2].Text, "page two is fine")

	assert.NotEmpty(t, got[3].Error)
}

func TestFetchAllEmpty(t *testing.T) {
	assert.Empty(t, newTestFetcher(time.Second).FetchAll(context.Background(), nil))
}

func TestDecodeBody(t *testing.T) {
	assert.Equal(t, "café", decodeBody([]byte("caf\xe9"), "text/html; charset=windows-1252"))
	assert.Equal(t, "naïve", decodeBody([]byte("naïve"), ""))
	assert.Equal(t, "a�b", decodeBody([]byte("a\xffb"), "text/html; charset=utf-8"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		scheme string
		want   string
	}{
		{"html tags", "<div><p>Hello</p></div>", "https", ContentHTML},
		{"heading", "## Install\n\nRun it.", "https", ContentMarkdown},
		{"fence", "```go\nx := 1\n```", "file", ContentMarkdown},
		{"link syntax", "see [here](https://example.com)", "https", ContentMarkdown},
		{"code", "def handler(event):\n    return event", "https", ContentCode},
		{"web default", "plain prose only", "https", ContentHTML},
		{"non web default", "plain prose only", "file", ContentText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.text, tt.scheme))
		})
	}
}

func TestRenderText(t *testing.T) {
	out, err := render("a < b && c", ContentText)
	require.NoError(t, err)
	assert.Equal(t, "<pre>a &lt; b &amp;&amp; c</pre>", out)
}

func TestURLContentMarkdown(t *testing.T) {
	html := URLContent{Text: "<h2>Range</h2><p>About <strong>400 km</strong>.</p>", ContentType: ContentHTML}
	md := html.Markdown()
	assert.Contains(t, md, "## Range")
	assert.Contains(t, md, "**400 km**")

	plain := URLContent{Text: "raw notes", ContentType: ContentText}
	assert.Equal(t, "raw notes", plain.Markdown())

	pre, err := render("a < b", ContentText)
	require.NoError(t, err)
	rendered := URLContent{Text: pre, ContentType: ContentText}
	assert.Contains(t, rendered.Markdown(), "a < b")
}
