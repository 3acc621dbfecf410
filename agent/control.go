package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/curatelab/curator/client"
	"github.com/curatelab/curator/models"
	"github.com/curatelab/curator/threshold"
)

// TabEvent is reported by the browser shim
type TabEvent struct {
	TabID int    `json:"tab_id"`
	URL   string `json:"url"`
}

// AnalyzeRequest asks for an immediate analysis. With an empty URL and save
// set, the last analysis is saved.
type AnalyzeRequest struct {
	URL  string `json:"url"`
	Save bool   `json:"save"`
}

// ControlServer is the loopback HTTP surface the browser shim talks to
type ControlServer struct {
	session *Session
	server  *http.Server
	mux     *http.ServeMux
}

// NewControlServer creates a control server bound to addr
func NewControlServer(addr string, session *Session) *ControlServer {
	c := &ControlServer{
		session: session,
		mux:     http.NewServeMux(),
	}
	c.registerRoutes()
	c.server = &http.Server{
		Addr:         addr,
		Handler:      c.middleware(c.mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return c
}

func (c *ControlServer) registerRoutes() {
	c.mux.HandleFunc("/events/tab-updated", c.handleTabUpdated)
	c.mux.HandleFunc("/events/tab-activated", c.handleTabActivated)
	c.mux.HandleFunc("/events/tab-closed", c.handleTabClosed)
	c.mux.HandleFunc("/analyze", c.handleAnalyze)
	c.mux.HandleFunc("/status", c.handleStatus)
	c.mux.HandleFunc("/settings/threshold", c.handleThreshold)
	c.mux.HandleFunc("/sync", c.handleSync)
	c.mux.HandleFunc("/cache/clear", c.handleClearCache)
}

// Handler returns the control surface handler
func (c *ControlServer) Handler() http.Handler {
	return c.server.Handler
}

// Start serves until Shutdown
func (c *ControlServer) Start() error {
	log.Printf("Starting agent control server on %s", c.server.Addr)
	if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener
func (c *ControlServer) Shutdown(ctx context.Context) error {
	return c.server.Shutdown(ctx)
}

func (c *ControlServer) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Extension origins differ per browser
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
		next.ServeHTTP(w, r)
	})
}

func (c *ControlServer) decodeTabEvent(w http.ResponseWriter, r *http.Request) (TabEvent, bool) {
	var ev TabEvent
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return ev, false
	}
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return ev, false
	}
	return ev, true
}

func (c *ControlServer) handleTabUpdated(w http.ResponseWriter, r *http.Request) {
	ev, ok := c.decodeTabEvent(w, r)
	if !ok {
		return
	}
	if err := checkURL(ev.URL); err != nil {
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}
	c.session.OnTabUpdated(ev.TabID, ev.URL)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (c *ControlServer) handleTabActivated(w http.ResponseWriter, r *http.Request) {
	ev, ok := c.decodeTabEvent(w, r)
	if !ok {
		return
	}
	if err := checkURL(ev.URL); err != nil {
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}
	c.session.OnTabActivated(ev.TabID, ev.URL)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (c *ControlServer) handleTabClosed(w http.ResponseWriter, r *http.Request) {
	ev, ok := c.decodeTabEvent(w, r)
	if !ok {
		return
	}
	c.session.OnTabClosed(ev.TabID)
	respondJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (c *ControlServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		pa  *PageAnalysis
		err error
	)
	if req.URL == "" {
		if !req.Save {
			respondError(w, http.StatusBadRequest, "url is required")
			return
		}
		pa, err = c.session.SaveLast(r.Context())
	} else {
		pa, err = c.session.AnalyzeNow(r.Context(), req.URL, req.Save)
	}

	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, pa)
	case errors.Is(err, client.ErrNotConnected):
		respondError(w, http.StatusUnauthorized, "not connected")
	case errors.Is(err, ErrNoAnalysis):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUnsupportedURL), errors.Is(err, ErrTooShort), errors.Is(err, ErrNotHTML):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Printf("Manual analysis of %s failed: %v", req.URL, err)
		respondError(w, http.StatusBadGateway, err.Error())
	}
}

func (c *ControlServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	respondJSON(w, http.StatusOK, c.session.Status())
}

func (c *ControlServer) handleThreshold(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		respondJSON(w, http.StatusOK, models.ThresholdResponse{Threshold: c.session.Threshold()})

	case http.MethodPut, http.MethodPost:
		var req models.ThresholdRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		v, err := req.Threshold.Float64()
		if err != nil {
			respondError(w, http.StatusBadRequest, "threshold must be a number")
			return
		}

		value, err := c.session.SetThreshold(r.Context(), v)
		if errors.Is(err, threshold.ErrOutOfRange) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		resp := map[string]interface{}{"threshold": value, "synced": err == nil}
		if err != nil {
			log.Printf("Threshold stored locally but not pushed: %v", err)
			resp["error"] = err.Error()
		}
		respondJSON(w, http.StatusOK, resp)

	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (c *ControlServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	added, err := c.session.Sync(r.Context())
	if err != nil {
		if errors.Is(err, client.ErrNotConnected) {
			respondError(w, http.StatusUnauthorized, "not connected")
			return
		}
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"added": added})
}

func (c *ControlServer) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := c.session.ClearCache(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
