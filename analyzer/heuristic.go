package analyzer

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/curatelab/curator/models"
	"github.com/curatelab/curator/score"
)

const (
	heuristicBase      = 50
	maxHeuristicTags   = 3
	defaultCategory    = "general"
	minSummarySentence = 20
)

var (
	sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]`)
	tokenPattern    = regexp.MustCompile(`[a-z0-9]+`)
)

// qualityDomains earn a bonus when the page host is, or is under, one of them
var qualityDomains = []string{
	"medium.com",
	"substack.com",
	"wikipedia.org",
	"github.com",
	"stackoverflow.com",
	"arxiv.org",
}

var tagKeywords = []struct {
	tag   string
	terms []string
}{
	{"javascript", []string{"javascript", "typescript", "node.js", "npm"}},
	{"python", []string{"python", "django", "pandas", "numpy"}},
	{"go", []string{"golang", "goroutine", "go module"}},
	{"react", []string{"react", "jsx", "next.js"}},
	{"ai", []string{"artificial intelligence", "machine learning", "neural", "llm"}},
	{"web", []string{"html", "css", "browser", "frontend"}},
	{"backend", []string{"server", "database", "api", "microservice"}},
	{"startup", []string{"startup", "founder", "venture"}},
	{"science", []string{"research", "study", "experiment", "scientific"}},
	{"security", []string{"security", "vulnerability", "encryption", "exploit"}},
}

var categoryKeywords = []struct {
	category string
	terms    []string
}{
	{"tech", []string{"programming", "software", "code", "developer", "technology"}},
	{"science", []string{"research", "scientific", "experiment", "study"}},
	{"business", []string{"business", "market", "startup", "company", "finance"}},
	{"education", []string{"tutorial", "guide", "learn", "course", "how to"}},
	{"news", []string{"breaking", "announced", "report", "news"}},
}

// HeuristicScore scores a request without any model. It is deterministic:
// the same request always produces the same result.
func HeuristicScore(req models.AnalysisRequest) models.AnalysisResult {
	s := heuristicBase

	contentLen := len(req.Content)
	switch {
	case contentLen > 3000:
		s += 15
	case contentLen > 1000:
		s += 10
	case contentLen < 200:
		s -= 10
	}

	titleLen := len(strings.TrimSpace(req.Title))
	if titleLen > 20 && titleLen < 100 {
		s += 10
	}

	if hasSpamMarkers(req.URL, req.Content) {
		s -= 15
	} else {
		s += 10
	}

	if isQualityDomain(req.URL) {
		s += 15
	}

	text := strings.ToLower(req.Title + " " + req.Content)
	words := wordSet(text)

	return models.AnalysisResult{
		Score:        score.Clamp(s),
		Summary:      fallbackSummary(req.Title, req.Content),
		Tags:         fallbackTags(text, words),
		Category:     fallbackCategory(req.ContentType, text, words),
		Method:       models.MethodHeuristic,
		FallbackUsed: true,
	}
}

// hasSpamMarkers flags ad/popup URLs and pushy call-to-action copy
func hasSpamMarkers(rawURL, content string) bool {
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(rawURL), -1) {
		if tok == "ads" || tok == "popup" || tok == "adserver" {
			return true
		}
	}

	lower := strings.ToLower(content)
	if strings.Count(lower, "click here")+strings.Count(lower, "buy now") > 2 {
		return true
	}
	return strings.Count(lower, "limited offer") > 1
}

func isQualityDomain(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if strings.HasSuffix(host, ".edu") || strings.HasSuffix(host, ".gov") {
		return true
	}
	for _, d := range qualityDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// fallbackSummary takes the first two substantial sentences, then the title
func fallbackSummary(title, content string) string {
	var picked []string
	for _, sentence := range sentencePattern.FindAllString(content, -1) {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) > minSummarySentence {
			picked = append(picked, sentence)
			if len(picked) == 2 {
				break
			}
		}
	}
	if len(picked) > 0 {
		return strings.Join(picked, " ")
	}
	if strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title)
	}
	return truncateUTF8(strings.TrimSpace(content), 150)
}

func fallbackTags(text string, words map[string]bool) []string {
	tags := []string{}
	for _, entry := range tagKeywords {
		if containsAny(text, words, entry.terms) {
			tags = append(tags, entry.tag)
			if len(tags) == maxHeuristicTags {
				break
			}
		}
	}
	return tags
}

func fallbackCategory(contentType, text string, words map[string]bool) string {
	switch contentType {
	case "code", "technical":
		return "tech"
	case "research":
		return "science"
	case "educational":
		return "education"
	case "tech-news":
		return "news"
	}
	for _, entry := range categoryKeywords {
		if containsAny(text, words, entry.terms) {
			return entry.category
		}
	}
	return defaultCategory
}

// containsAny matches single-word terms against whole words and phrases
// (anything with a space or dot) as substrings.
func containsAny(text string, words map[string]bool, terms []string) bool {
	for _, term := range terms {
		if strings.ContainsAny(term, " .") {
			if strings.Contains(text, term) {
				return true
			}
			continue
		}
		if words[term] {
			return true
		}
	}
	return false
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range tokenPattern.FindAllString(text, -1) {
		set[w] = true
	}
	return set
}
