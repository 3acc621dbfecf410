// Package extractor turns a fetched HTML page into the text, media and
// quality signals the analyzer scores.
package extractor

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/curatelab/curator/models"
)

// MinContentChars is the shortest extracted text worth analyzing
const MinContentChars = 200

// Options contains extraction limits
type Options struct {
	MaxContentChars int   // Content is truncated to this many bytes on a rune boundary
	MaxImages       int   // Images listed for visual analysis
	MaxBodyBytes    int64 // Bytes read from the page body
}

// DefaultOptions returns default extraction limits
func DefaultOptions() Options {
	return Options{
		MaxContentChars: 8000,
		MaxImages:       10,
		MaxBodyBytes:    5 * 1024 * 1024,
	}
}

// Extract parses an HTML page. It has no side effects beyond reading r.
func Extract(r io.Reader, pageURL string, opts Options) (*models.ExtractedPage, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("URL must be http or https")
	}

	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultOptions().MaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(r, opts.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := extractTitle(doc)
	content := mainText(body, base)
	if len(content) < MinContentChars {
		if walked := extractText(doc); len(walked) > len(content) {
			content = walked
		}
	}

	sel := goquery.NewDocumentFromNode(doc)
	media := countMedia(sel)
	images := collectImages(sel, base, opts.MaxImages)

	wordCount := len(strings.Fields(content))
	indicators := deriveIndicators(title, content, media)

	if opts.MaxContentChars > 0 && len(content) > opts.MaxContentChars {
		content = truncate(content, opts.MaxContentChars)
	}

	return &models.ExtractedPage{
		URL:         pageURL,
		Title:       title,
		Content:     content,
		ContentType: Classify(pageURL, content, media.Images, media.Videos),
		WordCount:   wordCount,
		Media:       media,
		Images:      images,
		Indicators:  indicators,
		Platform:    DetectPlatform(pageURL),
	}, nil
}

// mainText returns the readable article text, or "" when readability finds nothing
func mainText(body []byte, base *url.URL) string {
	article, err := readability.FromReader(bytes.NewReader(body), base)
	if err != nil {
		return ""
	}
	var buf strings.Builder
	if err := article.RenderText(&buf); err != nil {
		return ""
	}
	return normalizeWhitespace(buf.String())
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && (s[n]&0xC0) == 0x80 {
		n--
	}
	return s[:n]
}
