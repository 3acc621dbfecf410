package extractor

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/curatelab/curator/models"
)

const videoSelector = `video, iframe[src*="youtube"], iframe[src*="vimeo"], iframe[src*="player"], embed[type^="video"]`

// junkImageMarkers identify placeholders, UI chrome and tracking pixels
var junkImageMarkers = []string{
	"placeholder", "spacer", "blank", "transparent",
	"icon", "logo", "button", "sprite",
	"avatar-default", "default-avatar", "generic-avatar",
	"1x1", "pixel", "tracking",
	"ad-banner", "advertisement",
	"spinner", "loader", "loading",
}

func countMedia(doc *goquery.Document) models.MediaCounts {
	images := 0
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && strings.TrimSpace(src) != "" {
			images++
		}
	})
	return models.MediaCounts{
		Images: images,
		Videos: doc.Find(videoSelector).Length(),
	}
}

// collectImages lists resolvable content images in document order
func collectImages(doc *goquery.Document, base *url.URL, limit int) []models.ImageRef {
	var images []models.ImageRef
	seen := make(map[string]bool)

	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if limit > 0 && len(images) >= limit {
			return false
		}

		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" || skipImageSource(src) {
			return true
		}

		resolved, err := resolveURL(base, src)
		if err != nil || seen[resolved] || isJunkImage(resolved) {
			return true
		}
		seen[resolved] = true

		images = append(images, models.ImageRef{
			Src: resolved,
			Alt: strings.TrimSpace(s.AttrOr("alt", "")),
		})
		return true
	})
	return images
}

// skipImageSource drops inline and object-URL images, which cannot be scored by URL
func skipImageSource(src string) bool {
	lower := strings.ToLower(src)
	return strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "blob:")
}

func isJunkImage(imageURL string) bool {
	lower := strings.ToLower(imageURL)
	for _, marker := range junkImageMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// resolveURL resolves a potentially relative URL against a base URL
func resolveURL(base *url.URL, href string) (string, error) {
	parsed, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(parsed).String(), nil
}
