package tools

// SearchResult is one normalized hit from a search backend. Link is its identity.
type SearchResult struct {
	Title          string         `json:"title"`
	Link           string         `json:"link"`
	Snippet        string         `json:"snippet"`
	DisplayLink    string         `json:"displayLink"`
	Pagemap        map[string]any `json:"pagemap,omitempty"`
	RelevanceScore float64        `json:"relevance_score"`
}

// Content types produced by the fetcher.
const (
	ContentHTML     = "html"
	ContentMarkdown = "markdown"
	ContentCode     = "code"
	ContentText     = "text"
)

// URLContent is the fetcher's result for one URL. Error is empty on success.
type URLContent struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	ContentType string `json:"content_type"`
	Error       string `json:"error"`
}

// OK reports whether the content was extracted successfully.
func (c URLContent) OK() bool { return c.Error == "" }
