package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrUnsupportedURL is returned for pages the agent never analyzes
var ErrUnsupportedURL = errors.New("unsupported url")

// ErrNotHTML is returned when a page is not an HTML document
var ErrNotHTML = errors.New("not an html page")

// PageSource fetches page HTML
type PageSource interface {
	Fetch(ctx context.Context, pageURL string) (io.ReadCloser, error)
}

// HTTPSource fetches pages over HTTP
type HTTPSource struct {
	client    *http.Client
	userAgent string
}

// NewHTTPSource creates a traced page fetcher
func NewHTTPSource(timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		userAgent: "Mozilla/5.0 (compatible; Curator/1.0)",
	}
}

// Fetch returns the body of an HTML page. The caller closes it.
func (s *HTTPSource) Fetch(ctx context.Context, pageURL string) (io.ReadCloser, error) {
	if err := checkURL(pageURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err == nil && mediaType != "text/html" && mediaType != "application/xhtml+xml" {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %s", ErrNotHTML, mediaType)
		}
	}

	return resp.Body, nil
}

// checkURL rejects browser-internal and non-web pages
func checkURL(pageURL string) error {
	u, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s", ErrUnsupportedURL, pageURL)
	}
	return nil
}
