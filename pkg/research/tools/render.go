package tools

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/alecthomas/chroma/v2/quick"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	htmlTagPattern  = regexp.MustCompile(`(?i)<\s*(html|head|body|main|article|section|div|p|span|a|h[1-6]|ul|ol|li|table|pre|code|blockquote|br)\b[^>]*>`)
	markdownPattern = regexp.MustCompile("(?m)^\\s{0,3}(#{1,6}\\s+\\S|```)|\\[[^\\]\\n]+\\]\\([^)\\s]+\\)")
	codePattern     = regexp.MustCompile(`(?m)^\s*(func|def|class|import|package|public|private|protected|const|let|var|function|interface|struct|#include|using namespace)\b`)

	// UGCPolicy drops script, style, meta and link elements along with
	// event handler attributes.
	sanitizer = bluemonday.UGCPolicy()

	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
)

// classify picks the content type of an extracted body. Bodies without any
// recognizable pattern count as html for web origins and text otherwise.
func classify(text, scheme string) string {
	switch {
	case htmlTagPattern.MatchString(text):
		return ContentHTML
	case markdownPattern.MatchString(text):
		return ContentMarkdown
	case codePattern.MatchString(text):
		return ContentCode
	case scheme == "http" || scheme == "https":
		return ContentHTML
	default:
		return ContentText
	}
}

// render turns a classified body into display-safe HTML.
func render(text, contentType string) (string, error) {
	switch contentType {
	case ContentHTML:
		return sanitizer.Sanitize(text), nil
	case ContentMarkdown:
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(text), &buf); err != nil {
			return "", err
		}
		return sanitizer.Sanitize(buf.String()), nil
	case ContentCode:
		var buf bytes.Buffer
		// Empty lexer name lets chroma detect the language.
		if err := quick.Highlight(&buf, text, "", "html", "github"); err != nil {
			return "", err
		}
		return buf.String(), nil
	default:
		return "<pre>" + html.EscapeString(text) + "</pre>", nil
	}
}

// Markdown converts the rendered text back to markdown for prompts and
// indexing. Plain text that was never rendered is returned as is.
func (c URLContent) Markdown() string {
	if c.ContentType == ContentText && !strings.HasPrefix(c.Text, "<pre>") {
		return c.Text
	}
	md, err := htmltomarkdown.ConvertString(c.Text)
	if err != nil || strings.TrimSpace(md) == "" {
		return c.Text
	}
	return md
}
