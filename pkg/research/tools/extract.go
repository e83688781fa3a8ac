package tools

import (
	"bytes"
	"net/url"
	"strings"
	"unicode/utf8"

	readability "codeberg.org/readeck/go-readability/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

const readabilityMinWords = 20

// decodeBody converts the payload to UTF-8. Undeclared bytes that are
// already valid UTF-8 are kept; invalid sequences become U+FFFD.
func decodeBody(data []byte, contentType string) string {
	enc, name, certain := charset.DetermineEncoding(data, contentType)
	if !certain && utf8.Valid(data) {
		return string(data)
	}
	if name == "utf-8" {
		return strings.ToValidUTF8(string(data), "�")
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	return strings.ToValidUTF8(string(decoded), "�")
}

// extractContent returns the page title and the HTML of its main content.
// go-readability runs first; structural heuristics take over when it finds
// too little text.
func extractContent(content string, pageURL *url.URL) (title, body string) {
	article, err := readability.FromReader(strings.NewReader(content), pageURL)
	if err == nil && article.Node != nil {
		var text bytes.Buffer
		_ = article.RenderText(&text)
		if len(strings.Fields(text.String())) >= readabilityMinWords {
			var buf bytes.Buffer
			if html.Render(&buf, article.Node) == nil {
				return strings.TrimSpace(article.Title()), buf.String()
			}
		}
	}

	node, parseErr := html.Parse(strings.NewReader(content))
	if parseErr != nil {
		return "", ""
	}
	title = extractTitle(node)
	if container := findContentContainer(node); container != nil {
		var buf bytes.Buffer
		if html.Render(&buf, container) == nil && hasText(container) {
			return title, buf.String()
		}
	}
	return title, extractReadableHTML(node)
}

// extractPlainContent handles text/plain and text/markdown payloads. The
// title comes from the first markdown heading if present.
func extractPlainContent(content string) (title, body string) {
	text := normalizeContent(content)
	if text == "" {
		return "", ""
	}
	for _, line := range strings.SplitN(text, "\n", 10) {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "# ")), text
		}
	}
	return "", text
}

var contentMarkers = []string{"content", "main", "article", "post", "entry"}

// findContentContainer prefers <main>, then <article>, then elements whose
// role, id or class marks them as the page's content.
func findContentContainer(root *html.Node) *html.Node {
	if n := findElement(root, func(n *html.Node) bool { return n.Data == "main" || attrVal(n, "role") == "main" }); n != nil {
		return n
	}
	if n := findElement(root, func(n *html.Node) bool { return n.Data == "article" }); n != nil {
		return n
	}
	return findElement(root, func(n *html.Node) bool {
		if n.Data != "div" && n.Data != "section" {
			return false
		}
		label := strings.ToLower(attrVal(n, "id") + " " + attrVal(n, "class"))
		for _, marker := range contentMarkers {
			if strings.Contains(label, marker) {
				return true
			}
		}
		return false
	})
}

func findElement(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, match); found != nil {
			return found
		}
	}
	return nil
}

func hasText(n *html.Node) bool {
	if n.Type == html.TextNode && strings.TrimSpace(n.Data) != "" {
		return true
	}
	if n.Type == html.ElementNode && skippedElement(n) {
		return false
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if hasText(child) {
			return true
		}
	}
	return false
}

func skippedElement(n *html.Node) bool {
	switch strings.ToLower(n.Data) {
	case "script", "style", "noscript", "nav", "footer", "header", "aside", "form", "template", "head":
		return true
	}
	return hasAttr(n, "hidden") || attrVal(n, "aria-hidden") == "true"
}

func extractTitle(node *html.Node) string {
	titleNode := findElement(node, func(n *html.Node) bool { return n.Data == "title" })
	if titleNode == nil {
		return ""
	}
	return strings.TrimSpace(textContent(titleNode))
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			collect(child)
		}
	}
	collect(n)
	return buf.String()
}

// extractReadableHTML rebuilds a minimal document from headings and paragraphs.
func extractReadableHTML(root *html.Node) string {
	var builder strings.Builder

	var walker func(*html.Node)
	walker = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skippedElement(n) {
				return
			}
			tag := strings.ToLower(n.Data)
			switch tag {
			case "h1", "h2", "h3", "h4", "h5", "h6", "p", "li", "pre", "blockquote":
				text := strings.Join(strings.Fields(textContent(n)), " ")
				if text != "" {
					if tag == "li" {
						tag = "p"
					}
					builder.WriteString("<" + tag + ">" + html.EscapeString(text) + "</" + tag + ">\n")
				}
				return
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walker(child)
		}
	}
	walker(root)
	return builder.String()
}

func hasAttr(n *html.Node, key string) bool {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return true
		}
	}
	return false
}

func attrVal(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func normalizeContent(content string) string {
	lines := strings.Split(content, "\n")
	var cleaned []string
	blank := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(trimmed) == "" {
			if !blank {
				cleaned = append(cleaned, "")
				blank = true
			}
			continue
		}
		blank = false
		cleaned = append(cleaned, trimmed)
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}
