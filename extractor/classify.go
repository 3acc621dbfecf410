package extractor

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/curatelab/curator/models"
)

// Content types produced by Classify
const (
	TypeVideo      = "video"
	TypeImage      = "image"
	TypeCode       = "code"
	TypeTechnical  = "technical"
	TypeArticle    = "article"
	TypeTechNews   = "tech-news"
	TypeDiscussion = "discussion"
	TypeMixed      = "mixed"
	TypeResearch   = "research"
	TypeEducation  = "educational"
	TypeBrief      = "brief"
)

// Platform types reported by DetectPlatform
const (
	PlatformVideo  = "video"
	PlatformImage  = "image"
	PlatformCode   = "code"
	PlatformNews   = "news"
	PlatformSocial = "social"
	PlatformOther  = "other"
)

type domainRule struct {
	contentType string
	platform    string
	domains     []string // host suffixes, optionally followed by a path prefix
}

// domainRules are checked in order; the first match wins
var domainRules = []domainRule{
	{TypeVideo, PlatformVideo, []string{"youtube.com", "youtu.be", "vimeo.com", "twitch.tv", "netflix.com", "dailymotion.com"}},
	{TypeImage, PlatformImage, []string{"imgur.com", "flickr.com", "500px.com", "deviantart.com", "behance.net", "pinterest.com", "instagram.com"}},
	{TypeCode, PlatformCode, []string{"github.com", "gitlab.com", "bitbucket.org"}},
	{TypeTechnical, PlatformCode, []string{"stackoverflow.com", "stackexchange.com", "reddit.com/r/programming"}},
	{TypeArticle, PlatformOther, []string{"medium.com", "substack.com", "wikipedia.org"}},
	{TypeTechNews, PlatformNews, []string{"news.ycombinator.com", "techcrunch.com", "arstechnica.com", "theverge.com", "wired.com"}},
	{TypeDiscussion, PlatformSocial, []string{"reddit.com", "twitter.com", "x.com", "facebook.com", "linkedin.com"}},
}

var (
	codeMarkers      = regexp.MustCompile("```|\\bfunction\\b|\\bclass\\b|\\bfunc\\b|\\bdef\\b")
	technicalTerms   = regexp.MustCompile(`\b(?:algorithm|implementation|API|framework)s?\b`)
	researchTerms    = regexp.MustCompile(`(?i)\b(?:research|study|analysis|data)\b`)
	educationalTerms = regexp.MustCompile(`(?i)\b(?:tutorial|guide|learn|how to)\b`)
)

// Classify assigns a content type. Domain rules take priority over media
// counts, which take priority over the text itself.
func Classify(pageURL, content string, images, videos int) string {
	if rule := matchDomain(pageURL); rule != nil {
		return rule.contentType
	}

	switch {
	case videos > 0:
		return TypeVideo
	case images > 3 && len(content) < 1000:
		return TypeImage
	case images > 0 && len(content) > 500:
		return TypeMixed
	}

	words := len(strings.Fields(content))
	switch {
	case codeMarkers.MatchString(content) || technicalTerms.MatchString(content):
		return TypeTechnical
	case researchTerms.MatchString(content):
		return TypeResearch
	case educationalTerms.MatchString(content):
		return TypeEducation
	case words > 1000:
		return TypeArticle
	case words < 200:
		return TypeBrief
	}
	return TypeArticle
}

// DetectPlatform reports the hosting platform of pageURL
func DetectPlatform(pageURL string) models.PlatformInfo {
	info := models.PlatformInfo{PlatformType: PlatformOther}
	if u, err := url.Parse(pageURL); err == nil {
		info.Domain = strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	}
	if rule := matchDomain(pageURL); rule != nil {
		info.IsKnownPlatform = true
		info.PlatformType = rule.platform
	}
	return info
}

func matchDomain(pageURL string) *domainRule {
	u, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	path := strings.ToLower(u.Path)

	for i := range domainRules {
		for _, pattern := range domainRules[i].domains {
			domain, prefix, _ := strings.Cut(pattern, "/")
			if host != domain && !strings.HasSuffix(host, "."+domain) {
				continue
			}
			if prefix != "" && !strings.HasPrefix(path, "/"+prefix) {
				continue
			}
			return &domainRules[i]
		}
	}
	return nil
}

func deriveIndicators(title, content string, media models.MediaCounts) models.QualityIndicators {
	return models.QualityIndicators{
		HasTitle:            len(title) > 10,
		TitleLength:         len(title),
		ContentLength:       len(content),
		HasImages:           media.Images > 0,
		HasVideos:           media.Videos > 0,
		IsLongForm:          len(content) > 2000,
		IsShortForm:         len(content) < 500,
		HasCodeBlocks:       codeMarkers.MatchString(content),
		HasTechnicalTerms:   technicalTerms.MatchString(content),
		HasResearchTerms:    researchTerms.MatchString(content),
		HasEducationalTerms: educationalTerms.MatchString(content),
	}
}
