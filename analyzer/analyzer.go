// Package analyzer scores page content through an ordered cascade of model
// candidates and falls back to a deterministic heuristic when none succeed.
package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/curatelab/curator/metrics"
	"github.com/curatelab/curator/models"
	"github.com/curatelab/curator/score"
	"github.com/curatelab/curator/slug"
)

// Attempt outcomes
const (
	OutcomeOK         = "ok"
	OutcomeError      = "error"
	OutcomeTimeout    = "timeout"
	OutcomeUnparsable = "unparsable"
)

const maxModelTags = 5

// ErrInvalidRequest is returned for requests with nothing to score
var ErrInvalidRequest = errors.New("invalid analysis request")

// Config contains analyzer configuration
type Config struct {
	MaxConcurrent      int // Concurrent candidate calls across all requests
	CacheSize          int // Model results kept for identical re-analysis; 0 disables
	PromptContentChars int // Content budget inside the model prompt
}

// DefaultConfig returns default analyzer configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:      3,
		CacheSize:          512,
		PromptContentChars: 1000,
	}
}

// Analyzer runs the scoring cascade
type Analyzer struct {
	config     Config
	candidates []Candidate
	slots      chan struct{}
	cache      *lru.Cache[string, models.AnalysisResult]
}

// New creates an analyzer trying candidates in the given order. With no
// candidates every request is scored heuristically.
func New(config Config, candidates ...Candidate) (*Analyzer, error) {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}

	a := &Analyzer{
		config:     config,
		candidates: candidates,
		slots:      make(chan struct{}, config.MaxConcurrent),
	}

	if config.CacheSize > 0 {
		cache, err := lru.New[string, models.AnalysisResult](config.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create result cache: %w", err)
		}
		a.cache = cache
	}

	return a, nil
}

// Candidates returns the configured candidate names in cascade order
func (a *Analyzer) Candidates() []string {
	names := make([]string, len(a.candidates))
	for i, c := range a.candidates {
		names[i] = c.Name()
	}
	return names
}

// Analyze scores req. It only fails on invalid input: candidate failures of
// any kind end in the heuristic result.
func (a *Analyzer) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	if req.Type != models.RequestTypeImage && strings.TrimSpace(req.Content) == "" && strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: title or content is required", ErrInvalidRequest)
	}

	key := cacheKey(req)
	if a.cache != nil {
		if cached, ok := a.cache.Get(key); ok {
			metrics.AnalysisCacheHits.Inc()
			result := cached
			return &result, nil
		}
	}

	var attempts []models.Attempt
	if len(a.candidates) > 0 {
		if err := a.acquireSlot(ctx); err != nil {
			log.Printf("Context cancelled while waiting for a scoring slot, using heuristic: %v", err)
		} else {
			result, tried := a.cascade(ctx, req)
			a.releaseSlot()
			attempts = tried
			if result != nil {
				metrics.Analyses.WithLabelValues("model").Inc()
				if a.cache != nil {
					a.cache.Add(key, *result)
				}
				return result, nil
			}
		}
	}

	result := HeuristicScore(req)
	result.Attempts = attempts
	metrics.Analyses.WithLabelValues("heuristic").Inc()
	if len(a.candidates) > 0 {
		log.Printf("All %d scoring candidates failed for %s, using heuristic score %d", len(a.candidates), req.URL, result.Score)
	}
	return &result, nil
}

// cascade tries each candidate in order under its own timeout. It returns the
// first parsable result, or nil with the record of every failed attempt.
func (a *Analyzer) cascade(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, []models.Attempt) {
	prompt := buildPrompt(req, a.config.PromptContentChars)
	attempts := make([]models.Attempt, 0, len(a.candidates))

	for _, c := range a.candidates {
		if ctx.Err() != nil {
			break
		}

		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, c.Timeout())
		body, err := c.Complete(callCtx, prompt)
		cancel()
		elapsed := time.Since(start)

		attempt := models.Attempt{Candidate: c.Name(), Duration: elapsed.Seconds()}
		metrics.CandidateLatency.WithLabelValues(c.Name()).Observe(elapsed.Seconds())

		if err != nil {
			attempt.Outcome = classifyError(err)
			attempt.Error = err.Error()
			attempts = append(attempts, attempt)
			metrics.CascadeAttempts.WithLabelValues(c.Name(), attempt.Outcome).Inc()
			log.Printf("Scoring candidate %s failed (%s) for %s: %v", c.Name(), attempt.Outcome, req.URL, err)
			continue
		}

		parsed, err := ParseEmbedded(body)
		if err != nil {
			attempt.Outcome = OutcomeUnparsable
			attempt.Error = err.Error()
			attempts = append(attempts, attempt)
			metrics.CascadeAttempts.WithLabelValues(c.Name(), attempt.Outcome).Inc()
			log.Printf("Scoring candidate %s returned unparsable output for %s", c.Name(), req.URL)
			continue
		}

		attempt.Outcome = OutcomeOK
		attempts = append(attempts, attempt)
		metrics.CascadeAttempts.WithLabelValues(c.Name(), attempt.Outcome).Inc()

		result := a.fromParsed(c.Name(), req, parsed)
		result.Attempts = attempts
		return result, attempts
	}

	return nil, attempts
}

// fromParsed builds the result for a successful candidate. Missing prose
// fields are filled from the heuristic so callers always get a summary.
func (a *Analyzer) fromParsed(name string, req models.AnalysisRequest, p *Parsed) *models.AnalysisResult {
	result := &models.AnalysisResult{
		Score:    score.Normalize(p.Score),
		Summary:  p.Summary,
		Tags:     slug.Tags(p.Tags),
		Category: slug.Tag(p.Category),
		Method:   name,
		Model:    name,
	}

	if len(result.Tags) > maxModelTags {
		result.Tags = result.Tags[:maxModelTags]
	}

	if result.Summary == "" || result.Category == "" {
		fallback := HeuristicScore(req)
		if result.Summary == "" {
			result.Summary = fallback.Summary
		}
		if result.Category == "" {
			result.Category = fallback.Category
		}
	}
	return result
}

func (a *Analyzer) acquireSlot(ctx context.Context) error {
	select {
	case a.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Analyzer) releaseSlot() {
	<-a.slots
}

// classifyError separates timeouts from other transport and API failures
func classifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	return OutcomeError
}

func cacheKey(req models.AnalysisRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Type))
	h.Write([]byte{0})
	h.Write([]byte(req.URL))
	h.Write([]byte{0})
	h.Write([]byte(req.Title))
	h.Write([]byte{0})
	h.Write([]byte(req.Content))
	return hex.EncodeToString(h.Sum(nil))
}
