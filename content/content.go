// Package content persists curated content: pipeline upserts keyed by
// canonical URL, manual entries, and the owner feed.
package content

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/curatelab/curator/canonical"
	"github.com/curatelab/curator/db"
	"github.com/curatelab/curator/metrics"
	"github.com/curatelab/curator/models"
	"github.com/curatelab/curator/score"
	"github.com/curatelab/curator/threshold"
)

var (
	// ErrAlreadyExists is returned when a manual entry duplicates an existing record
	ErrAlreadyExists = errors.New("already posted")
	// ErrInvalidSubmission is returned for submissions that cannot be stored
	ErrInvalidSubmission = errors.New("invalid submission")
)

const (
	defaultFeedLimit = 20
	maxFeedLimit     = 100
	maxTitleLength   = 500
	maxSummaryLength = 2000
)

// Outcome tells whether an upsert created or updated a record
type Outcome int

const (
	Created Outcome = iota + 1
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

// Store is the persistence the service needs
type Store interface {
	FindByOwnerURLs(ctx context.Context, owner string, urls []string) ([]*models.ContentRecord, error)
	UpsertRecord(ctx context.Context, rec *models.ContentRecord) (bool, error)
	UpdateByID(ctx context.Context, rec *models.ContentRecord) error
	InsertIfAbsent(ctx context.Context, rec *models.ContentRecord) (bool, error)
	ListURLs(ctx context.Context, owner string) ([]string, error)
	ListByOwner(ctx context.Context, owner string, filter models.ContentFilter) ([]*models.ContentRecord, int, error)
	Stats(ctx context.Context, owner string, threshold int) ([]models.TypeStats, error)
}

// Archiver keeps a copy of each stored analysis
type Archiver interface {
	SaveAnalysis(ctx context.Context, rec *models.ContentRecord) error
}

// FeedQuery selects a page of the owner feed
type FeedQuery struct {
	QualifiedOnly bool
	ContentType   string
	Page          int // 1-based
	Limit         int
}

// Service implements content upserts and reads
type Service struct {
	store      Store
	thresholds *threshold.Policy
	archive    Archiver // optional
	sanitizer  *bluemonday.Policy
	now        func() time.Time
}

// NewService creates a content service. archive may be nil.
func NewService(store Store, thresholds *threshold.Policy, archive Archiver) *Service {
	return &Service{
		store:      store,
		thresholds: thresholds,
		archive:    archive,
		sanitizer:  bluemonday.StrictPolicy(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Upsert stores a pipeline submission under the owner's canonical URL. An
// existing record under either URL spelling is overwritten in place, which
// upgrades manual entries; otherwise a new record is created. Repeating the
// same submission leaves the same record. The score is already on the 0-100
// scale and is only rounded here.
func (s *Service) Upsert(ctx context.Context, owner string, sub models.Submission) (*models.ContentRecord, Outcome, error) {
	canonicalURL, err := validateURL(sub.URL)
	if err != nil {
		return nil, 0, err
	}
	if math.IsNaN(sub.Score) || sub.Score < 0 || sub.Score > score.Max {
		return nil, 0, fmt.Errorf("%w: score %v out of range", ErrInvalidSubmission, sub.Score)
	}

	qualityScore := int(math.Round(sub.Score))

	now := s.now()
	analysis := &models.Analysis{Method: models.MethodHeuristic}
	if sub.Analysis != nil {
		copied := *sub.Analysis
		analysis = &copied
	}
	if analysis.AnalyzedAt.IsZero() {
		analysis.AnalyzedAt = now
	}

	title := s.clean(sub.Title, maxTitleLength)
	if title == "" {
		title = canonicalURL
	}

	existing, err := s.findExisting(ctx, owner, sub.URL)
	if err != nil {
		metrics.Upserts.WithLabelValues("error").Inc()
		return nil, 0, err
	}

	if existing != nil {
		rec := *existing
		rec.URL = canonicalURL
		rec.Title = title
		rec.Summary = s.clean(sub.Summary, maxSummaryLength)
		rec.QualityScore = qualityScore
		rec.IsQualified = true
		rec.Analysis = analysis
		rec.ContentType = analysis.ContentType
		rec.SubmissionID = uuid.New().String()
		rec.UpdatedAt = now

		err := s.store.UpdateByID(ctx, &rec)
		if err == nil {
			metrics.Upserts.WithLabelValues(Updated.String()).Inc()
			s.archiveRecord(ctx, &rec)
			return &rec, Updated, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			metrics.Upserts.WithLabelValues("error").Inc()
			return nil, 0, fmt.Errorf("failed to update record %s: %w", rec.ID, err)
		}
		log.Printf("Record %s disappeared before update, inserting %s", rec.ID, canonicalURL)
	}

	rec := &models.ContentRecord{
		ID:           uuid.New().String(),
		Owner:        owner,
		URL:          canonicalURL,
		Title:        title,
		Summary:      s.clean(sub.Summary, maxSummaryLength),
		QualityScore: qualityScore,
		IsQualified:  true,
		Analysis:     analysis,
		SubmissionID: uuid.New().String(),
		ContentType:  analysis.ContentType,
		Source:       models.SourcePipeline,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	inserted, err := s.store.UpsertRecord(ctx, rec)
	if err != nil {
		metrics.Upserts.WithLabelValues("error").Inc()
		return nil, 0, fmt.Errorf("failed to store record: %w", err)
	}

	outcome := Updated
	if inserted {
		outcome = Created
	}
	metrics.Upserts.WithLabelValues(outcome.String()).Inc()
	s.archiveRecord(ctx, rec)
	return rec, outcome, nil
}

// CreateManual stores user-authored content. Manual records are never
// qualified; a later pipeline upsert for the same URL upgrades them.
func (s *Service) CreateManual(ctx context.Context, owner string, m models.ManualContent) (*models.ContentRecord, error) {
	canonicalURL, err := validateURL(m.URL)
	if err != nil {
		metrics.ManualCreates.WithLabelValues("invalid").Inc()
		return nil, err
	}

	existing, err := s.findExisting(ctx, owner, m.URL)
	if err != nil {
		metrics.ManualCreates.WithLabelValues("error").Inc()
		return nil, err
	}
	if existing != nil {
		metrics.ManualCreates.WithLabelValues("duplicate").Inc()
		return existing, ErrAlreadyExists
	}

	title := s.clean(m.Title, maxTitleLength)
	if title == "" {
		title = canonicalURL
	}

	now := s.now()
	rec := &models.ContentRecord{
		ID:        uuid.New().String(),
		Owner:     owner,
		URL:       canonicalURL,
		Title:     title,
		Summary:   s.clean(m.Summary, maxSummaryLength),
		Source:    models.SourceManual,
		CreatedAt: now,
		UpdatedAt: now,
	}

	inserted, err := s.store.InsertIfAbsent(ctx, rec)
	if err != nil {
		metrics.ManualCreates.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to store manual record: %w", err)
	}
	if !inserted {
		metrics.ManualCreates.WithLabelValues("duplicate").Inc()
		return nil, ErrAlreadyExists
	}

	metrics.ManualCreates.WithLabelValues("created").Inc()
	return rec, nil
}

// ListURLs returns every canonical URL stored for owner
func (s *Service) ListURLs(ctx context.Context, owner string) ([]string, error) {
	urls, err := s.store.ListURLs(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list urls: %w", err)
	}
	for i, u := range urls {
		urls[i] = canonical.URL(u)
	}
	return dedupe(urls), nil
}

// Feed returns a page of the owner's records. Qualification is computed
// from the owner's current threshold, so changing the threshold changes the
// feed without touching stored records.
func (s *Service) Feed(ctx context.Context, owner string, q FeedQuery) (*models.FeedPage, error) {
	t, err := s.thresholds.Get(ctx, owner)
	if err != nil {
		return nil, err
	}

	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = defaultFeedLimit
	}
	if q.Limit > maxFeedLimit {
		q.Limit = maxFeedLimit
	}

	filter := models.ContentFilter{
		ContentType: q.ContentType,
		Limit:       q.Limit,
		Offset:      (q.Page - 1) * q.Limit,
	}
	if q.QualifiedOnly {
		filter.MinScore = &t
	}

	records, total, err := s.store.ListByOwner(ctx, owner, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	items := make([]models.FeedItem, 0, len(records))
	for _, rec := range records {
		items = append(items, models.FeedItem{
			ContentRecord: *rec,
			Qualified:     threshold.Qualifies(rec.QualityScore, t),
		})
	}

	return &models.FeedPage{
		Items:     items,
		Threshold: t,
		Total:     total,
		Page:      q.Page,
		Limit:     q.Limit,
		HasMore:   filter.Offset+len(items) < total,
	}, nil
}

// Stats summarizes the owner's records per content type
func (s *Service) Stats(ctx context.Context, owner string) (*models.OwnerStats, error) {
	t, err := s.thresholds.Get(ctx, owner)
	if err != nil {
		return nil, err
	}

	byType, err := s.store.Stats(ctx, owner, t)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}

	stats := &models.OwnerStats{Threshold: t, ByType: byType}
	var weighted float64
	for _, ts := range byType {
		stats.Total += ts.Count
		weighted += ts.AverageScore * float64(ts.Count)
	}
	if stats.Total > 0 {
		stats.AverageScore = math.Round(weighted/float64(stats.Total)*10) / 10
	}
	return stats, nil
}

// findExisting returns the owner's record under either URL spelling,
// preferring the one already stored in canonical form
func (s *Service) findExisting(ctx context.Context, owner, rawURL string) (*models.ContentRecord, error) {
	records, err := s.store.FindByOwnerURLs(ctx, owner, canonical.Variants(rawURL))
	if err != nil {
		return nil, fmt.Errorf("failed to look up existing record: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	c := canonical.URL(rawURL)
	for _, rec := range records {
		if rec.URL == c {
			return rec, nil
		}
	}
	return records[0], nil
}

func (s *Service) archiveRecord(ctx context.Context, rec *models.ContentRecord) {
	if s.archive == nil {
		return
	}
	if err := s.archive.SaveAnalysis(ctx, rec); err != nil {
		log.Printf("Failed to archive analysis for %s: %v", rec.URL, err)
	}
}

// clean strips markup and bounds the length of user or model supplied text
func (s *Service) clean(text string, max int) string {
	text = html.UnescapeString(s.sanitizer.Sanitize(text))
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > max {
		text = strings.ToValidUTF8(text[:max], "")
	}
	return text
}

func validateURL(raw string) (string, error) {
	c := canonical.URL(raw)
	if c == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidSubmission)
	}
	u, err := url.Parse(c)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidSubmission)
	}
	return c, nil
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, it := range items {
		if seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}
