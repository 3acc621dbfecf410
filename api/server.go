package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/curatelab/curator/analyzer"
	"github.com/curatelab/curator/auth"
	"github.com/curatelab/curator/content"
	"github.com/curatelab/curator/db"
	"github.com/curatelab/curator/metrics"
	"github.com/curatelab/curator/models"
	"github.com/curatelab/curator/storage"
	"github.com/curatelab/curator/threshold"
)

const (
	analyzeTimeout  = 2 * time.Minute
	maxRequestBytes = 1 << 20
)

// Analyzer scores analysis requests
type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error)
	Candidates() []string
}

// ContentService stores and reads curated content
type ContentService interface {
	Upsert(ctx context.Context, owner string, sub models.Submission) (*models.ContentRecord, content.Outcome, error)
	CreateManual(ctx context.Context, owner string, m models.ManualContent) (*models.ContentRecord, error)
	ListURLs(ctx context.Context, owner string) ([]string, error)
	Feed(ctx context.Context, owner string, q content.FeedQuery) (*models.FeedPage, error)
	Stats(ctx context.Context, owner string) (*models.OwnerStats, error)
}

// RecordCounter reports the total number of stored records
type RecordCounter interface {
	Count(ctx context.Context) (int, error)
}

// Server represents the API server
type Server struct {
	db          *db.DB // nil when dependencies are injected
	analyzer    Analyzer
	content     ContentService
	thresholds  *threshold.Policy
	verifier    *auth.Verifier
	counter     RecordCounter
	limiter     *rateLimiter
	addr        string
	server      *http.Server
	mux         *http.ServeMux
	corsEnabled bool
}

// Config contains server configuration
type Config struct {
	Addr           string
	DBConfig       db.Config
	StorageConfig  storage.Config
	AnalyzerConfig analyzer.Config
	Candidates     []analyzer.CandidateSpec
	AuthConfig     auth.Config
	AnalyzeRate    float64 // Analyze requests per second per owner
	AnalyzeBurst   int
	CORSEnabled    bool
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		StorageConfig:  storage.DefaultConfig(),
		AnalyzerConfig: analyzer.DefaultConfig(),
		AnalyzeRate:    defaultAnalyzeRate,
		AnalyzeBurst:   defaultAnalyzeBurst,
		CORSEnabled:    true,
	}
}

// Dependencies are the services a server is built from
type Dependencies struct {
	Analyzer   Analyzer
	Content    ContentService
	Thresholds *threshold.Policy
	Verifier   *auth.Verifier
	Counter    RecordCounter
}

// NewServer connects to the database, builds the scoring cascade and returns
// a ready server
func NewServer(ctx context.Context, config Config) (*Server, error) {
	database, err := db.New(config.DBConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	archive, err := storage.NewArchive(ctx, config.StorageConfig)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	candidates, err := analyzer.BuildCandidates(ctx, config.Candidates)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to build candidates: %w", err)
	}
	if len(candidates) == 0 {
		log.Printf("WARNING: no scoring candidates configured, all analyses will use the heuristic")
	}

	analyzerInstance, err := analyzer.New(config.AnalyzerConfig, candidates...)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize analyzer: %w", err)
	}

	policy := threshold.NewPolicy(database)

	s := New(config, Dependencies{
		Analyzer:   analyzerInstance,
		Content:    content.NewService(database, policy, archive),
		Thresholds: policy,
		Verifier:   auth.NewVerifier(config.AuthConfig),
		Counter:    database,
	})
	s.db = database
	return s, nil
}

// New creates a server from already constructed dependencies
func New(config Config, deps Dependencies) *Server {
	s := &Server{
		analyzer:    deps.Analyzer,
		content:     deps.Content,
		thresholds:  deps.Thresholds,
		verifier:    deps.Verifier,
		counter:     deps.Counter,
		limiter:     newRateLimiter(rate.Limit(config.AnalyzeRate), config.AnalyzeBurst),
		addr:        config.Addr,
		mux:         http.NewServeMux(),
		corsEnabled: config.CORSEnabled,
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: analyzeTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", metrics.Handler())

	protect := s.verifier.Middleware
	s.mux.Handle("/api/analyze", protect(http.HandlerFunc(s.handleAnalyze)))
	s.mux.Handle("/api/content", protect(http.HandlerFunc(s.handleContent)))
	s.mux.Handle("/api/content/manual", protect(http.HandlerFunc(s.handleManual)))
	s.mux.Handle("/api/content/user-urls", protect(http.HandlerFunc(s.handleUserURLs)))
	s.mux.Handle("/api/content/stats", protect(http.HandlerFunc(s.handleStats)))
	s.mux.Handle("/api/settings/threshold", protect(http.HandlerFunc(s.handleThreshold)))
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.middleware(s.mux), "curator-api")
}

// DB returns the database, or nil when the server was built with New
func (s *Server) DB() *db.DB {
	return s.db
}

// Start starts the API server
func (s *Server) Start() error {
	log.Printf("Starting API server on %s", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down API server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// middleware applies common middleware to all routes
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS headers
		if s.corsEnabled {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		// Logging (skip health checks to reduce noise)
		start := time.Now()
		if r.URL.Path != "/health" {
			log.Printf("%s %s", r.Method, r.URL.Path)
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
		next.ServeHTTP(w, r)

		if r.URL.Path != "/health" {
			log.Printf("%s %s - completed in %v", r.Method, r.URL.Path, time.Since(start))
		}
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	count, err := s.counter.Count(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get count")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"count":      count,
		"candidates": s.analyzer.Candidates(),
		"time":       time.Now(),
	})
}

// handleAnalyze scores a page or image
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	owner, _ := auth.OwnerFromContext(r.Context())
	if !s.limiter.allow(owner) {
		w.Header().Set("Retry-After", s.limiter.retryAfter())
		respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req models.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), analyzeTimeout)
	defer cancel()

	result, err := s.analyzer.Analyze(ctx, req)
	if err != nil {
		if errors.Is(err, analyzer.ErrInvalidRequest) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("Analysis failed for %s: %v", req.URL, err)
		respondError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	respondJSON(w, http.StatusOK, models.AnalyzeResponse{Success: true, Analysis: result})
}

// handleContent dispatches pipeline submissions and feed reads
func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleFeed(w, r)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSubmit upserts a pipeline submission
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerFromContext(r.Context())

	var sub models.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, outcome, err := s.content.Upsert(r.Context(), owner, sub)
	if err != nil {
		if errors.Is(err, content.ErrInvalidSubmission) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("Failed to upsert %s for %s: %v", sub.URL, owner, err)
		respondError(w, http.StatusInternalServerError, "failed to save content")
		return
	}

	status := http.StatusOK
	if outcome == content.Created {
		status = http.StatusCreated
	}
	respondJSON(w, status, models.SubmitResponse{Action: outcome.String(), Record: record})
}

// handleFeed returns a page of the owner's feed
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerFromContext(r.Context())
	query := r.URL.Query()

	q := content.FeedQuery{
		QualifiedOnly: query.Get("qualified") == "true",
		ContentType:   query.Get("type"),
		Page:          queryInt(query.Get("page"), 1),
		Limit:         queryInt(query.Get("limit"), 0),
	}

	page, err := s.content.Feed(r.Context(), owner, q)
	if err != nil {
		log.Printf("Failed to load feed for %s: %v", owner, err)
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	respondJSON(w, http.StatusOK, page)
}

// handleManual creates user-authored content
func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	owner, _ := auth.OwnerFromContext(r.Context())

	var m models.ManualContent
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := s.content.CreateManual(r.Context(), owner, m)
	switch {
	case errors.Is(err, content.ErrAlreadyExists):
		respondError(w, http.StatusConflict, content.ErrAlreadyExists.Error())
		return
	case errors.Is(err, content.ErrInvalidSubmission):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		log.Printf("Failed to create manual content %s for %s: %v", m.URL, owner, err)
		respondError(w, http.StatusInternalServerError, "failed to save content")
		return
	}

	respondJSON(w, http.StatusCreated, record)
}

// handleUserURLs lists the owner's canonical URLs
func (s *Server) handleUserURLs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	owner, _ := auth.OwnerFromContext(r.Context())
	urls, err := s.content.ListURLs(r.Context(), owner)
	if err != nil {
		log.Printf("Failed to list urls for %s: %v", owner, err)
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	respondJSON(w, http.StatusOK, models.UserURLsResponse{URLs: urls, Count: len(urls)})
}

// handleStats returns per content type counts and averages
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	owner, _ := auth.OwnerFromContext(r.Context())
	stats, err := s.content.Stats(r.Context(), owner)
	if err != nil {
		log.Printf("Failed to compute stats for %s: %v", owner, err)
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// handleThreshold reads or replaces the owner's threshold
func (s *Server) handleThreshold(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		value, err := s.thresholds.Get(r.Context(), owner)
		if err != nil {
			log.Printf("Failed to read threshold for %s: %v", owner, err)
			respondError(w, http.StatusInternalServerError, "database error")
			return
		}
		respondJSON(w, http.StatusOK, models.ThresholdResponse{Threshold: value})

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

		value, err := s.thresholds.Set(r.Context(), owner, v)
		if err != nil {
			if errors.Is(err, threshold.ErrOutOfRange) {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			log.Printf("Failed to store threshold for %s: %v", owner, err)
			respondError(w, http.StatusInternalServerError, "database error")
			return
		}
		respondJSON(w, http.StatusOK, models.ThresholdResponse{Threshold: value})

	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// queryInt parses a positive integer query value
func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
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
