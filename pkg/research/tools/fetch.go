package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	defaultMaxBytes    = 5 << 20
	defaultConcurrency = 8
	maxFetchRetries    = 2

	pdfNotice = "This document is a PDF file. Text extraction from PDF documents is not supported; open the original link to read it."
)

// Fetcher retrieves URLs and turns them into sanitized, typed content.
type Fetcher struct {
	Client      *http.Client
	UserAgent   string
	Timeout     time.Duration
	MaxBytes    int64
	Concurrency int
	Logger      *slog.Logger
}

func NewFetcher(timeout time.Duration, userAgent string, logger *slog.Logger) *Fetcher {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		Client:      &http.Client{},
		UserAgent:   userAgent,
		Timeout:     timeout,
		MaxBytes:    defaultMaxBytes,
		Concurrency: defaultConcurrency,
		Logger:      logger,
	}
}

// FetchAll fetches every URL concurrently. The result has one entry per
// input URL, in input order; failures only populate that entry's Error.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []URLContent {
	out := make([]URLContent, len(urls))

	var g errgroup.Group
	limit := f.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	g.SetLimit(limit)
	for i, u := range urls {
		g.Go(func() error {
			out[i] = f.Fetch(ctx, u)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Fetch never returns an error: failures are reported in URLContent.Error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) URLContent {
	rawURL = strings.TrimSpace(rawURL)
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return failed(rawURL, fmt.Errorf("invalid URL %q: only absolute http(s) URLs can be fetched", rawURL))
	}

	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	start := time.Now()
	data, contentType, err := f.download(ctx, parsed.String())
	if err != nil {
		f.Logger.Warn("Fetch failed", "url", rawURL, "error", err, "duration_ms", time.Since(start).Milliseconds())
		return failed(rawURL, err)
	}

	if isPDF(parsed, contentType, data) {
		return URLContent{
			URL:         rawURL,
			Title:       path.Base(parsed.Path),
			Text:        pdfNotice,
			ContentType: ContentText,
		}
	}

	content := decodeBody(data, contentType)
	var title, body string
	if isMarkupType(contentType) {
		title, body = extractContent(content, parsed)
	} else {
		title, body = extractPlainContent(content)
	}
	if strings.TrimSpace(body) == "" {
		return failed(rawURL, errors.New("no readable content found"))
	}
	if title == "" {
		title = parsed.Host
	}

	ctype := classify(body, parsed.Scheme)
	rendered, err := render(body, ctype)
	if err != nil {
		return failed(rawURL, fmt.Errorf("render %s content: %w", ctype, err))
	}

	f.Logger.Debug("Fetched URL", "url", rawURL, "content_type", ctype, "bytes", len(data), "duration_ms", time.Since(start).Milliseconds())
	return URLContent{URL: rawURL, Title: title, Text: rendered, ContentType: ctype}
}

func (f *Fetcher) download(ctx context.Context, target string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.doWithRetry(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, "", fmt.Errorf("request timed out after %s", f.Timeout)
		}
		return nil, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	maxBytes := f.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", fmt.Errorf("request timed out after %s", f.Timeout)
		}
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isRetryableError(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// doWithRetry executes an HTTP request with exponential backoff on transient errors.
func (f *Fetcher) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error
	for attempt := 0; attempt <= maxFetchRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * 500 * time.Millisecond
			if resp != nil {
				if ra := resp.Header.Get("Retry-After"); ra != "" {
					if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 && secs <= 10 {
						backoff = time.Duration(secs) * time.Second
					}
				}
				resp.Body.Close()
			}
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		resp, err = f.Client.Do(req)
		if err != nil {
			if !isRetryableError(ctx, err) {
				return nil, err
			}
			continue
		}
		if !isRetryableStatus(resp.StatusCode) {
			return resp, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func isPDF(u *url.URL, contentType string, data []byte) bool {
	return strings.Contains(strings.ToLower(contentType), "application/pdf") ||
		strings.HasSuffix(strings.ToLower(u.Path), ".pdf") ||
		bytes.HasPrefix(data, []byte("%PDF-"))
}

func isMarkupType(contentType string) bool {
	ct := strings.ToLower(contentType)
	if ct == "" {
		return true
	}
	return strings.Contains(ct, "html") || strings.Contains(ct, "xml")
}

func failed(rawURL string, err error) URLContent {
	ctype := ContentText
	if u, perr := url.Parse(rawURL); perr == nil && (u.Scheme == "http" || u.Scheme == "https") {
		ctype = ContentHTML
	}
	return URLContent{URL: rawURL, ContentType: ctype, Error: err.Error()}
}
