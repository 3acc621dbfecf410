package agent

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// TestHTTPSourceUsesOtelTransport verifies outbound page fetches carry trace context
func TestHTTPSourceUsesOtelTransport(t *testing.T) {
	src := NewHTTPSource(5 * time.Second)

	_, ok := src.client.Transport.(*otelhttp.Transport)
	assert.True(t, ok, "page fetches should use otelhttp.Transport")
}

func TestHTTPSourceFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/article":
			assert.Contains(t, r.Header.Get("User-Agent"), "Curator")
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte("<html><body><p>hello</p></body></html>"))
		case "/data.json":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	src := NewHTTPSource(5 * time.Second)

	body, err := src.Fetch(context.Background(), server.URL+"/article")
	require.NoError(t, err)
	raw, err := io.ReadAll(body)
	body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "hello")

	_, err = src.Fetch(context.Background(), server.URL+"/data.json")
	assert.ErrorIs(t, err, ErrNotHTML)

	_, err = src.Fetch(context.Background(), server.URL+"/missing")
	assert.ErrorContains(t, err, "404")
}

func TestCheckURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://example.com/a", false},
		{"http://example.com", false},
		{"  https://example.com/padded  ", false},
		{"chrome://extensions", true},
		{"about:blank", true},
		{"file:///home/user/notes.html", true},
		{"https:///no-host", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := checkURL(tt.url)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedURL)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
