package agent

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatelab/curator/tracker"
)

func doControl(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestControlTabEvents(t *testing.T) {
	f := newFixture(t, nil)
	f.page("https://blog.example.com/event", 90)
	h := NewControlServer("127.0.0.1:0", f.session).Handler()

	tests := []struct {
		name       string
		method     string
		path       string
		body       interface{}
		wantStatus int
		wantState  string
	}{
		{"internal page ignored", http.MethodPost, "/events/tab-updated", TabEvent{TabID: 1, URL: "about:blank"}, http.StatusAccepted, "ignored"},
		{"bad body", http.MethodPost, "/events/tab-updated", "not an event", http.StatusBadRequest, ""},
		{"wrong method", http.MethodGet, "/events/tab-activated", nil, http.StatusMethodNotAllowed, ""},
		{"close unknown tab", http.MethodPost, "/events/tab-closed", TabEvent{TabID: 99}, http.StatusOK, "closed"},
		{"activated scheduled", http.MethodPost, "/events/tab-activated", TabEvent{TabID: 1, URL: "https://blog.example.com/event"}, http.StatusAccepted, "scheduled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, out := doControl(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantState != "" {
				assert.Equal(t, tt.wantState, out["status"])
			}
		})
	}

	assert.Eventually(t, func() bool {
		return f.tracker.State("https://blog.example.com/event") == tracker.Confirmed
	}, 2*time.Second, 5*time.Millisecond)
}

func TestControlAnalyze(t *testing.T) {
	f := newFixture(t, nil)
	f.page("https://blog.example.com/manual", 30)
	h := NewControlServer("127.0.0.1:0", f.session).Handler()

	w, _ := doControl(t, h, http.MethodPost, "/analyze", AnalyzeRequest{Save: true})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doControl(t, h, http.MethodPost, "/analyze", AnalyzeRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doControl(t, h, http.MethodPost, "/analyze", AnalyzeRequest{URL: "file:///etc/hosts"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, out := doControl(t, h, http.MethodPost, "/analyze", AnalyzeRequest{URL: "https://blog.example.com/manual"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, DecisionBelowThreshold, out["decision"])
	assert.Equal(t, false, out["qualified"])

	w, out = doControl(t, h, http.MethodPost, "/analyze", AnalyzeRequest{Save: true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, DecisionSubmitted, out["decision"])
	assert.Equal(t, 1, f.backend.submitCount())

	w, _ = doControl(t, h, http.MethodPost, "/analyze", AnalyzeRequest{URL: "https://blog.example.com/missing"})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	f.backend.mu.Lock()
	f.backend.connected = false
	f.backend.mu.Unlock()
	w, _ = doControl(t, h, http.MethodPost, "/analyze", AnalyzeRequest{URL: "https://blog.example.com/manual"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestControlThreshold(t *testing.T) {
	f := newFixture(t, nil)
	h := NewControlServer("127.0.0.1:0", f.session).Handler()

	w, out := doControl(t, h, http.MethodGet, "/settings/threshold", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(55), out["threshold"])

	tests := []struct {
		name          string
		body          string
		wantStatus    int
		wantThreshold float64
	}{
		{"percent", `{"threshold": 72}`, http.StatusOK, 72},
		{"fraction", `{"threshold": 0.4}`, http.StatusOK, 40},
		{"too high", `{"threshold": 140}`, http.StatusBadRequest, 0},
		{"not a number", `{"threshold": "high"}`, http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/settings/threshold", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantThreshold, resp["threshold"])
			assert.Equal(t, true, resp["synced"])
		})
	}

	assert.Equal(t, 40, f.session.Threshold())
}

func TestControlSyncStatusAndClear(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.urls = []string{"https://a.example.com/one", "https://a.example.com/two/"}
	h := NewControlServer("127.0.0.1:0", f.session).Handler()

	w, out := doControl(t, h, http.MethodPost, "/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), out["added"])

	w, out = doControl(t, h, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["authenticated"])
	assert.Equal(t, float64(2), out["confirmed"])

	w, _ = doControl(t, h, http.MethodPost, "/cache/clear", nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, confirmed := f.tracker.Counts()
	assert.Equal(t, 0, confirmed)

	f.backend.mu.Lock()
	f.backend.connected = false
	f.backend.mu.Unlock()
	w, _ = doControl(t, h, http.MethodPost, "/sync", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestControlCORSPreflight(t *testing.T) {
	f := newFixture(t, nil)
	h := NewControlServer("127.0.0.1:0", f.session).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
