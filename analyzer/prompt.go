package analyzer

import (
	"fmt"
	"strings"

	"github.com/curatelab/curator/models"
)

const pagePrompt = `You are a content quality reviewer. Rate the quality of the web page below.

URL: %s
Title: %s
Content type: %s
Signals: %s

Content:
%s

Respond with a JSON object only:
{"score": <number between 0 and 1>, "summary": "<one or two sentences>", "tags": ["<tag>", ...], "category": "<tech|science|business|education|news|general>"}`

const imagePrompt = `You are a visual content reviewer. Rate how informative and high quality this image is likely to be for a reader.

Image URL: %s
Description: %s
Found on: %s

Respond with a JSON object only:
{"score": <number between 0 and 1>, "summary": "<short description>", "tags": ["<tag>", ...], "category": "<category>"}`

// buildPrompt renders the candidate prompt for req
func buildPrompt(req models.AnalysisRequest, maxContent int) string {
	if req.Type == models.RequestTypeImage {
		return fmt.Sprintf(imagePrompt, req.URL, orDefault(req.Title, "no description"), orDefault(req.Platform.Domain, "unknown"))
	}

	content := req.Content
	if maxContent > 0 && len(content) > maxContent {
		content = truncateUTF8(content, maxContent)
	}

	return fmt.Sprintf(pagePrompt, req.URL, orDefault(req.Title, "untitled"), orDefault(req.ContentType, "article"), describeSignals(req), content)
}

// describeSignals flattens the quality indicators into a short list for the model
func describeSignals(req models.AnalysisRequest) string {
	ind := req.Indicators
	var parts []string
	parts = append(parts, fmt.Sprintf("%d words", req.WordCount))
	if ind.IsLongForm {
		parts = append(parts, "long-form")
	}
	if ind.IsShortForm {
		parts = append(parts, "short-form")
	}
	if ind.HasCodeBlocks {
		parts = append(parts, "contains code")
	}
	if ind.HasTechnicalTerms {
		parts = append(parts, "technical vocabulary")
	}
	if ind.HasResearchTerms {
		parts = append(parts, "research vocabulary")
	}
	if ind.HasEducationalTerms {
		parts = append(parts, "educational vocabulary")
	}
	if req.Media.Images > 0 || req.Media.Videos > 0 {
		parts = append(parts, fmt.Sprintf("%d images, %d videos", req.Media.Images, req.Media.Videos))
	}
	if req.Platform.IsKnownPlatform {
		parts = append(parts, "platform: "+req.Platform.PlatformType)
	}
	return strings.Join(parts, ", ")
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
