package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/curatelab/curator/analyzer"
	"github.com/curatelab/curator/client"
	"github.com/curatelab/curator/extractor"
	"github.com/curatelab/curator/metrics"
	"github.com/curatelab/curator/models"
	"github.com/curatelab/curator/threshold"
)

// ErrTooShort is returned for pages with too little text to analyze
var ErrTooShort = errors.New("content too short to analyze")

// Decisions recorded on a PageAnalysis
const (
	DecisionSubmitted      = "submitted"
	DecisionDuplicate      = "duplicate"
	DecisionBelowThreshold = "below_threshold"
	DecisionTracked        = "already_tracked"
	DecisionNotConnected   = "not_connected"
	DecisionFailed         = "failed"
	DecisionAnalyzed       = "analyzed" // scored, submission not requested
)

// PageAnalysis is the outcome of running the pipeline for one page
type PageAnalysis struct {
	URL         string                `json:"url"`
	Title       string                `json:"title"`
	ContentType string                `json:"content_type"`
	WordCount   int                   `json:"word_count"`
	Result      models.AnalysisResult `json:"result"`
	TextScore   int                   `json:"text_score"`
	Visual      []models.VisualScore  `json:"visual,omitempty"`
	Threshold   int                   `json:"threshold"`
	Qualified   bool                  `json:"qualified"`
	Decision    string                `json:"decision"`
	Error       string                `json:"error,omitempty"`
	AnalyzedAt  time.Time             `json:"analyzed_at"`
}

// processOptions controls one pipeline run
type processOptions struct {
	force bool // Analyze even when the URL is already tracked
	save  bool // Submit regardless of threshold
}

// process fetches, extracts and scores pageURL, then submits it when it
// qualifies. The tracker gate keeps at most one submission per URL in flight.
func (s *Session) process(ctx context.Context, pageURL string, opts processOptions) (*PageAnalysis, error) {
	if err := checkURL(pageURL); err != nil {
		return nil, err
	}
	if !s.backend.Connected() {
		return nil, client.ErrNotConnected
	}
	if !opts.force && !s.tracker.ShouldSubmit(pageURL) {
		return &PageAnalysis{URL: pageURL, Decision: DecisionTracked}, nil
	}

	pa, err := s.analyzePage(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	s.setLast(pa)

	if !pa.Qualified && !opts.save {
		metrics.Submissions.WithLabelValues(DecisionBelowThreshold).Inc()
		pa.Decision = DecisionBelowThreshold
		return pa, nil
	}
	if !s.config.AutoSubmit && !opts.save {
		pa.Decision = DecisionAnalyzed
		return pa, nil
	}

	err = s.submit(ctx, pa)
	s.setLast(pa)
	return pa, err
}

// analyzePage runs extraction, text scoring and the visual fan-out
func (s *Session) analyzePage(ctx context.Context, pageURL string) (*PageAnalysis, error) {
	body, err := s.source.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	page, err := extractor.Extract(body, pageURL, s.config.Extract)
	body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", pageURL, err)
	}

	if len([]rune(page.Content)) < extractor.MinContentChars {
		return nil, fmt.Errorf("%w: %d chars", ErrTooShort, len([]rune(page.Content)))
	}

	text, err := s.backend.Analyze(ctx, models.AnalysisRequest{
		URL:         page.URL,
		Title:       page.Title,
		Content:     page.Content,
		Type:        models.RequestTypePage,
		ContentType: page.ContentType,
		WordCount:   page.WordCount,
		Media:       page.Media,
		Indicators:  page.Indicators,
		Platform:    page.Platform,
	})
	if err != nil {
		return nil, err
	}

	visual := s.analyzeImages(ctx, page)
	combined := analyzer.CombineVisual(*text, visual)

	t := s.Threshold()
	return &PageAnalysis{
		URL:         page.URL,
		Title:       page.Title,
		ContentType: page.ContentType,
		WordCount:   page.WordCount,
		Result:      combined,
		TextScore:   text.Score,
		Visual:      visual,
		Threshold:   t,
		Qualified:   threshold.Qualifies(combined.Score, t),
		AnalyzedAt:  time.Now().UTC(),
	}, nil
}

// analyzeImages scores up to MaxVisualItems images concurrently. Failed
// images are left out.
func (s *Session) analyzeImages(ctx context.Context, page *models.ExtractedPage) []models.VisualScore {
	images := page.Images
	if len(images) > s.config.MaxVisualItems {
		images = images[:s.config.MaxVisualItems]
	}
	if len(images) == 0 {
		return nil
	}

	results := make([]*models.VisualScore, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.VisualConcurrency)

	for i, img := range images {
		g.Go(func() error {
			title := img.Alt
			if title == "" {
				title = page.Title
			}
			res, err := s.backend.Analyze(gctx, models.AnalysisRequest{
				URL:      img.Src,
				Title:    title,
				Type:     models.RequestTypeImage,
				Platform: page.Platform,
			})
			if err != nil {
				log.Printf("Visual analysis failed for %s: %v", img.Src, err)
				return nil
			}
			results[i] = &models.VisualScore{Src: img.Src, Score: res.Score, Summary: res.Summary, Method: res.Method}
			return nil
		})
	}
	g.Wait()

	visual := make([]models.VisualScore, 0, len(results))
	for _, r := range results {
		if r != nil {
			visual = append(visual, *r)
		}
	}
	return visual
}

// submit sends pa to the backend through the tracker gate and records the
// decision on pa
func (s *Session) submit(ctx context.Context, pa *PageAnalysis) error {
	if !s.backend.Connected() {
		pa.Decision = DecisionNotConnected
		return client.ErrNotConnected
	}
	if !s.tracker.TryAcquire(pa.URL) {
		pa.Decision = DecisionTracked
		return nil
	}

	_, err := s.backend.Submit(ctx, submissionFor(pa))
	switch {
	case err == nil || errors.Is(err, client.ErrDuplicate):
		pa.Decision = DecisionSubmitted
		result := "confirmed"
		if err != nil {
			pa.Decision = DecisionDuplicate
			result = DecisionDuplicate
		}
		metrics.Submissions.WithLabelValues(result).Inc()
		if err := s.tracker.MarkConfirmed(context.WithoutCancel(ctx), pa.URL); err != nil {
			log.Printf("Submitted %s but failed to persist confirmation: %v", pa.URL, err)
		}
		return nil

	case errors.Is(err, client.ErrNotConnected):
		s.tracker.MarkFailed(pa.URL)
		pa.Decision = DecisionNotConnected
		pa.Error = err.Error()
		return err

	default:
		s.tracker.MarkFailed(pa.URL)
		metrics.Submissions.WithLabelValues(DecisionFailed).Inc()
		pa.Decision = DecisionFailed
		pa.Error = err.Error()
		return fmt.Errorf("failed to submit %s: %w", pa.URL, err)
	}
}

func submissionFor(pa *PageAnalysis) models.Submission {
	r := pa.Result
	return models.Submission{
		URL:         pa.URL,
		Title:       pa.Title,
		Summary:     r.Summary,
		Score:       float64(r.Score),
		IsQualified: true,
		Analysis: &models.Analysis{
			Model:        r.Model,
			Method:       r.Method,
			AnalyzedAt:   pa.AnalyzedAt,
			Threshold:    pa.Threshold,
			WordCount:    pa.WordCount,
			ContentType:  pa.ContentType,
			TextScore:    pa.TextScore,
			Visual:       pa.Visual,
			Tags:         r.Tags,
			Category:     r.Category,
			FallbackUsed: r.FallbackUsed,
		},
	}
}
