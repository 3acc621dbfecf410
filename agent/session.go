// Package agent runs the local curation session: it debounces tab events,
// analyzes pages through the backend and submits the ones that qualify.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/curatelab/curator/extractor"
	"github.com/curatelab/curator/models"
	"github.com/curatelab/curator/threshold"
	"github.com/curatelab/curator/tracker"
)

// ErrNoAnalysis is returned when there is no analysis to save
var ErrNoAnalysis = errors.New("no analysis available")

// Backend is the subset of the backend client the session uses
type Backend interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error)
	Submit(ctx context.Context, sub models.Submission) (*models.SubmitResponse, error)
	UserURLs(ctx context.Context) ([]string, error)
	SetThreshold(ctx context.Context, value int) (int, error)
	Connected() bool
}

// Config contains session configuration
type Config struct {
	Threshold         int
	UpdateDebounce    time.Duration // Quiet period after a tab navigates
	ActivateDebounce  time.Duration // Quiet period after a tab is focused
	MaxVisualItems    int
	VisualConcurrency int
	AutoSubmit        bool
	Extract           extractor.Options
}

// DefaultConfig returns default session configuration
func DefaultConfig() Config {
	return Config{
		Threshold:         threshold.Default,
		UpdateDebounce:    3 * time.Second,
		ActivateDebounce:  2 * time.Second,
		MaxVisualItems:    3,
		VisualConcurrency: 3,
		AutoSubmit:        true,
		Extract:           extractor.DefaultOptions(),
	}
}

// Status summarizes the session for the control surface
type Status struct {
	Authenticated bool          `json:"authenticated"`
	Threshold     int           `json:"threshold"`
	Model         string        `json:"model,omitempty"`
	LastAnalysis  *PageAnalysis `json:"last_analysis,omitempty"`
	Pending       int           `json:"pending"`
	Confirmed     int           `json:"confirmed"`
	ActiveTabs    int           `json:"active_tabs"`
}

type tabState struct {
	timer  *time.Timer
	cancel context.CancelFunc
	gen    uint64
}

// Session owns per-tab scheduling and the submission pipeline
type Session struct {
	config  Config
	source  PageSource
	backend Backend
	tracker *tracker.Tracker

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	mu        sync.Mutex
	tabs      map[int]*tabState
	threshold int
	last      *PageAnalysis
	closed    bool
}

// NewSession creates a session. Call Start before feeding events.
func NewSession(config Config, source PageSource, backend Backend, t *tracker.Tracker) *Session {
	if config.MaxVisualItems < 0 {
		config.MaxVisualItems = 0
	}
	if config.VisualConcurrency <= 0 {
		config.VisualConcurrency = 3
	}
	if config.Extract.MaxContentChars <= 0 {
		config.Extract = extractor.DefaultOptions()
	}
	if n, err := threshold.Normalize(float64(config.Threshold)); err == nil {
		config.Threshold = n
	} else {
		log.Printf("Invalid threshold %d, using default %d", config.Threshold, threshold.Default)
		config.Threshold = threshold.Default
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		config:     config,
		source:     source,
		backend:    backend,
		tracker:    t,
		baseCtx:    ctx,
		cancelBase: cancel,
		tabs:       make(map[int]*tabState),
		threshold:  config.Threshold,
	}
}

// Start reconciles the tracker with the backend and pushes the local
// threshold. Both steps are skipped without credentials.
func (s *Session) Start(ctx context.Context) error {
	if !s.backend.Connected() {
		log.Printf("Agent not connected, skipping startup sync")
		return nil
	}

	var errs []error
	if n, err := s.tracker.Reconcile(ctx, s.backend); err != nil {
		errs = append(errs, err)
	} else {
		log.Printf("Startup sync merged %d backend urls", n)
	}

	if _, err := s.backend.SetThreshold(ctx, s.Threshold()); err != nil {
		errs = append(errs, fmt.Errorf("failed to push threshold: %w", err))
	}
	return errors.Join(errs...)
}

// OnTabUpdated schedules analysis after a navigation settles
func (s *Session) OnTabUpdated(tabID int, pageURL string) {
	s.schedule(tabID, pageURL, s.config.UpdateDebounce)
}

// OnTabActivated schedules analysis after a tab keeps focus
func (s *Session) OnTabActivated(tabID int, pageURL string) {
	s.schedule(tabID, pageURL, s.config.ActivateDebounce)
}

// OnTabClosed drops a tab's pending and in-flight work
func (s *Session) OnTabClosed(tabID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tab, ok := s.tabs[tabID]; ok {
		s.stopTabLocked(tab)
		delete(s.tabs, tabID)
	}
}

// schedule restarts the tab's debounce timer. A newer event for the tab
// cancels whatever the tab was doing.
func (s *Session) schedule(tabID int, pageURL string, delay time.Duration) {
	if err := checkURL(pageURL); err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	tab, ok := s.tabs[tabID]
	if !ok {
		tab = &tabState{}
		s.tabs[tabID] = tab
	}
	s.stopTabLocked(tab)

	tab.gen++
	gen := tab.gen
	tab.timer = time.AfterFunc(delay, func() { s.runTab(tabID, gen, pageURL) })
}

func (s *Session) stopTabLocked(tab *tabState) {
	if tab.timer != nil {
		tab.timer.Stop()
		tab.timer = nil
	}
	if tab.cancel != nil {
		tab.cancel()
		tab.cancel = nil
	}
	tab.gen++
}

// runTab executes the pipeline for a debounced event if no newer event
// superseded it
func (s *Session) runTab(tabID int, gen uint64, pageURL string) {
	s.mu.Lock()
	tab, ok := s.tabs[tabID]
	if !ok || tab.gen != gen || s.closed {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	tab.cancel = cancel
	tab.timer = nil
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if tab.gen == gen {
			tab.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}()

	pa, err := s.process(ctx, pageURL, processOptions{})
	switch {
	case err == nil:
		if pa.Decision != DecisionTracked {
			log.Printf("Tab %d: %s scored %d (threshold %d): %s", tabID, pa.URL, pa.Result.Score, pa.Threshold, pa.Decision)
		}
	case errors.Is(err, context.Canceled):
		log.Printf("Tab %d: analysis of %s superseded", tabID, pageURL)
	case errors.Is(err, ErrTooShort), errors.Is(err, ErrNotHTML):
		log.Printf("Tab %d: skipped %s: %v", tabID, pageURL, err)
	default:
		log.Printf("Tab %d: analysis of %s failed: %v", tabID, pageURL, err)
	}
}

// AnalyzeNow runs the pipeline immediately. With save the result is
// submitted regardless of the threshold.
func (s *Session) AnalyzeNow(ctx context.Context, pageURL string, save bool) (*PageAnalysis, error) {
	return s.process(ctx, pageURL, processOptions{force: true, save: save})
}

// SaveLast submits the most recent analysis regardless of threshold
func (s *Session) SaveLast(ctx context.Context) (*PageAnalysis, error) {
	s.mu.Lock()
	var last *PageAnalysis
	if s.last != nil {
		copied := *s.last
		last = &copied
	}
	s.mu.Unlock()

	if last == nil || last.URL == "" {
		return nil, ErrNoAnalysis
	}
	err := s.submit(ctx, last)
	s.setLast(last)
	return last, err
}

// Threshold returns the local threshold
func (s *Session) Threshold() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threshold
}

// SetThreshold stores a new local threshold and pushes it to the backend.
// The local value is kept even when the push fails.
func (s *Session) SetThreshold(ctx context.Context, v float64) (int, error) {
	n, err := threshold.Normalize(v)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.threshold = n
	s.mu.Unlock()

	if !s.backend.Connected() {
		return n, nil
	}
	if _, err := s.backend.SetThreshold(ctx, n); err != nil {
		return n, fmt.Errorf("failed to push threshold: %w", err)
	}
	return n, nil
}

// Sync merges the backend's URLs into the tracker
func (s *Session) Sync(ctx context.Context) (int, error) {
	return s.tracker.Reconcile(ctx, s.backend)
}

// ClearCache forgets tracked URLs and the last analysis
func (s *Session) ClearCache(ctx context.Context) error {
	s.mu.Lock()
	s.last = nil
	s.mu.Unlock()
	return s.tracker.Clear(ctx)
}

// Status reports authentication, threshold and the last analysis
func (s *Session) Status() Status {
	pending, confirmed := s.tracker.Counts()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Authenticated: s.backend.Connected(),
		Threshold:     s.threshold,
		Pending:       pending,
		Confirmed:     confirmed,
	}
	for _, tab := range s.tabs {
		if tab.cancel != nil {
			st.ActiveTabs++
		}
	}
	if s.last != nil {
		copied := *s.last
		st.LastAnalysis = &copied
		st.Model = copied.Result.Model
		if st.Model == "" {
			st.Model = copied.Result.Method
		}
	}
	return st
}

// Close cancels in-flight work and waits for it to finish
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	for _, tab := range s.tabs {
		s.stopTabLocked(tab)
	}
	s.mu.Unlock()

	s.cancelBase()
	s.wg.Wait()
}

func (s *Session) setLast(pa *PageAnalysis) {
	copied := *pa
	s.mu.Lock()
	s.last = &copied
	s.mu.Unlock()
}
