package models

import (
	"encoding/json"
	"time"
)

// Record sources
const (
	SourcePipeline = "pipeline"
	SourceManual   = "manual"
)

// Analysis methods
const (
	MethodHeuristic    = "heuristic"
	VisionMethodSuffix = "+vision"
)

// ContentRecord is one curated item per (owner, canonical URL)
type ContentRecord struct {
	ID           string    `json:"id"`
	Owner        string    `json:"owner"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary"`
	QualityScore int       `json:"quality_score"`           // 0-100, last analysis wins
	IsQualified  bool      `json:"is_qualified"`            // Ever produced by the pipeline
	Analysis     *Analysis `json:"analysis,omitempty"`      // Replaced wholesale on upgrade
	SubmissionID string    `json:"submission_id,omitempty"` // Minted per pipeline save, tracing only
	ContentType  string    `json:"content_type,omitempty"`
	Source       string    `json:"source"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Analysis is the structured payload attached to a pipeline-produced record
type Analysis struct {
	Model        string        `json:"model,omitempty"`
	Method       string        `json:"method"`
	AnalyzedAt   time.Time     `json:"analyzed_at"`
	Threshold    int           `json:"threshold,omitempty"` // Threshold the agent applied at submit time
	WordCount    int           `json:"word_count,omitempty"`
	ContentType  string        `json:"content_type,omitempty"`
	TextScore    int           `json:"text_score,omitempty"`
	Visual       []VisualScore `json:"visual,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
	Category     string        `json:"category,omitempty"`
	FallbackUsed bool          `json:"fallback_used,omitempty"`
}

// VisualScore is a per-image sub-score from visual analysis
type VisualScore struct {
	Src     string `json:"src"`
	Score   int    `json:"score"`
	Summary string `json:"summary,omitempty"`
	Method  string `json:"method,omitempty"`
}

// ThresholdSetting is an owner's qualification threshold on the 0-100 scale
type ThresholdSetting struct {
	Owner     string    `json:"owner"`
	Value     int       `json:"threshold"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ImageRef is an image found on a page
type ImageRef struct {
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

// MediaCounts counts media elements on a page
type MediaCounts struct {
	Images int `json:"images"`
	Videos int `json:"videos"`
}

// QualityIndicators are cheap signals derived from the page before scoring
type QualityIndicators struct {
	HasTitle            bool `json:"has_title"`
	TitleLength         int  `json:"title_length"`
	ContentLength       int  `json:"content_length"`
	HasImages           bool `json:"has_images"`
	HasVideos           bool `json:"has_videos"`
	IsLongForm          bool `json:"is_long_form"`
	IsShortForm         bool `json:"is_short_form"`
	HasCodeBlocks       bool `json:"has_code_blocks"`
	HasTechnicalTerms   bool `json:"has_technical_terms"`
	HasResearchTerms    bool `json:"has_research_terms"`
	HasEducationalTerms bool `json:"has_educational_terms"`
}

// PlatformInfo describes the hosting platform of a page
type PlatformInfo struct {
	Domain          string `json:"domain"`
	IsKnownPlatform bool   `json:"is_known_platform"`
	PlatformType    string `json:"platform_type"` // video, image, code, news, social or other
}

// ExtractedPage is the extractor output for one page
type ExtractedPage struct {
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	ContentType string            `json:"content_type"`
	WordCount   int               `json:"word_count"`
	Media       MediaCounts       `json:"media"`
	Images      []ImageRef        `json:"images,omitempty"`
	Indicators  QualityIndicators `json:"indicators"`
	Platform    PlatformInfo      `json:"platform"`
}

// Request types accepted by the analyzer
const (
	RequestTypePage  = "page"
	RequestTypeImage = "image"
)

// AnalysisRequest is the scoring request sent from the agent to the backend
type AnalysisRequest struct {
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	Type        string            `json:"type,omitempty"` // page (default) or image
	ContentType string            `json:"content_type,omitempty"`
	WordCount   int               `json:"word_count,omitempty"`
	Media       MediaCounts       `json:"media"`
	Indicators  QualityIndicators `json:"indicators"`
	Platform    PlatformInfo      `json:"platform"`
}

// AnalysisResult is the outcome of the scoring cascade
type AnalysisResult struct {
	Score        int       `json:"score"` // Always 0-100
	Summary      string    `json:"summary"`
	Tags         []string  `json:"tags"`
	Category     string    `json:"category"`
	Method       string    `json:"method"`
	Model        string    `json:"model,omitempty"`
	FallbackUsed bool      `json:"fallback_used"`
	Attempts     []Attempt `json:"attempts,omitempty"`
}

// Attempt records one candidate call within the cascade
type Attempt struct {
	Candidate string  `json:"candidate"`
	Outcome   string  `json:"outcome"` // ok, error, timeout, unparsable
	Duration  float64 `json:"duration_seconds"`
	Error     string  `json:"error,omitempty"`
}

// AnalyzeResponse wraps an analysis result on the wire
type AnalyzeResponse struct {
	Success  bool            `json:"success"`
	Analysis *AnalysisResult `json:"analysis"`
}

// Submission is a scored item the agent asks the backend to persist
type Submission struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Score       float64   `json:"score"` // 0-100, already rescaled by the analyzer
	Analysis    *Analysis `json:"analysis,omitempty"`
	IsQualified bool      `json:"is_qualified"`
}

// ManualContent is user-authored content created outside the pipeline
type ManualContent struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// SubmitResponse is returned for pipeline submissions
type SubmitResponse struct {
	Action string         `json:"action"` // created or updated
	Record *ContentRecord `json:"record"`
}

// UserURLsResponse lists every canonical URL stored for an owner
type UserURLsResponse struct {
	URLs  []string `json:"urls"`
	Count int      `json:"count"`
}

// ThresholdRequest carries a threshold in either scale
type ThresholdRequest struct {
	Threshold json.Number `json:"threshold"`
}

// ThresholdResponse reports the stored threshold
type ThresholdResponse struct {
	Threshold int `json:"threshold"`
}

// ContentFilter narrows an owner's record listing
type ContentFilter struct {
	ContentType string
	MinScore    *int // Only records scoring at least this much
	Limit       int
	Offset      int
}

// FeedItem is a record plus its qualification under the owner's current threshold
type FeedItem struct {
	ContentRecord
	Qualified bool `json:"qualified"`
}

// FeedPage is one page of an owner's feed
type FeedPage struct {
	Items     []FeedItem `json:"items"`
	Threshold int        `json:"threshold"`
	Total     int        `json:"total"`
	Page      int        `json:"page"`
	Limit     int        `json:"limit"`
	HasMore   bool       `json:"has_more"`
}

// TypeStats aggregates records of one content type
type TypeStats struct {
	ContentType  string  `json:"content_type"`
	Count        int     `json:"count"`
	AverageScore float64 `json:"average_score"`
	Qualified    int     `json:"qualified"`
}

// OwnerStats summarizes an owner's records
type OwnerStats struct {
	Total        int         `json:"total"`
	Threshold    int         `json:"threshold"`
	ByType       []TypeStats `json:"by_type"`
	AverageScore float64     `json:"average_score"`
}

// OllamaRequest represents a request to the Ollama API
type OllamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

// OllamaResponse represents a response from the Ollama API
type OllamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
}
