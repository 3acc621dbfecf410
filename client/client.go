// Package client talks to the curator backend on behalf of the agent.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/curatelab/curator/httpretry"
	"github.com/curatelab/curator/models"
)

var (
	// ErrNotConnected is returned when the backend rejects or lacks credentials
	ErrNotConnected = errors.New("not connected to backend")
	// ErrDuplicate is returned when the backend already holds the submission
	ErrDuplicate = errors.New("content already posted")
)

const (
	AnalyzeTimeout = 30 * time.Second
	SubmitTimeout  = 15 * time.Second
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 4096
)

// StatusError is a non-2xx backend response
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// Client is a bearer-authenticated backend client
type Client struct {
	baseURL string
	doer    httpretry.HTTPDoer

	mu    sync.RWMutex
	token string
}

// New creates a client for baseURL. A nil doer uses a traced http.Client
// wrapped with retries.
func New(baseURL, token string, doer httpretry.HTTPDoer) *Client {
	if doer == nil {
		doer = httpretry.New(&http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}, 3)
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		doer:    doer,
		token:   token,
	}
}

// SetToken replaces the bearer token
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Connected reports whether a token is present and not yet expired. The
// signature is checked by the backend, not here.
func (c *Client) Connected() bool {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token == "" {
		return false
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return false
	}
	return true
}

// Analyze asks the backend to score a page or image
func (c *Client) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, AnalyzeTimeout)
	defer cancel()

	var resp models.AnalyzeResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/analyze", req, &resp); err != nil {
		return nil, fmt.Errorf("analyze %s: %w", req.URL, err)
	}
	if !resp.Success || resp.Analysis == nil {
		return nil, fmt.Errorf("analyze %s: backend returned no analysis", req.URL)
	}
	return resp.Analysis, nil
}

// Submit persists a scored item. A 409 response yields ErrDuplicate.
func (c *Client) Submit(ctx context.Context, sub models.Submission) (*models.SubmitResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, SubmitTimeout)
	defer cancel()

	var resp models.SubmitResponse
	status, err := c.do(ctx, http.MethodPost, "/api/content", sub, &resp)
	if err != nil {
		if status == http.StatusConflict {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("submit %s: %w", sub.URL, err)
	}
	return &resp, nil
}

// UserURLs returns every canonical URL the backend holds for the owner
func (c *Client) UserURLs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var resp models.UserURLsResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/content/user-urls", nil, &resp); err != nil {
		return nil, fmt.Errorf("list user urls: %w", err)
	}
	return resp.URLs, nil
}

// Threshold reads the owner's stored threshold
func (c *Client) Threshold(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var resp models.ThresholdResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/settings/threshold", nil, &resp); err != nil {
		return 0, fmt.Errorf("get threshold: %w", err)
	}
	return resp.Threshold, nil
}

// SetThreshold stores the owner's threshold and returns the stored value
func (c *Client) SetThreshold(ctx context.Context, value int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	body := map[string]int{"threshold": value}
	var resp models.ThresholdResponse
	if _, err := c.do(ctx, http.MethodPut, "/api/settings/threshold", body, &resp); err != nil {
		return 0, fmt.Errorf("set threshold: %w", err)
	}
	return resp.Threshold, nil
}

// do sends a JSON request and decodes a JSON response into out. The status
// code is returned alongside any error.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) (int, error) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token == "" {
		return 0, ErrNotConnected
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, ErrNotConnected
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// errorMessage extracts {"error": ...} from a response body, falling back
// to the raw text
func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
