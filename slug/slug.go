// Package slug builds URL-safe identifiers and normalized tags.
package slug

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxLen bounds generated slugs
const maxLen = 80

var (
	nonSlugChars = regexp.MustCompile("[^a-z0-9-]+")
	hyphenRuns   = regexp.MustCompile("-+")
)

// Generate creates a URL-friendly slug from a string
func Generate(s string) string {
	if s == "" {
		return ""
	}

	s = fold(strings.ToLower(s))
	s = strings.NewReplacer(" ", "-", "_", "-", "/", "-", ".", "-").Replace(s)
	s = nonSlugChars.ReplaceAllString(s, "")
	s = hyphenRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")

	if len(s) > maxLen {
		s = strings.TrimRight(s[:maxLen], "-")
	}
	return s
}

// GenerateWithFallback generates a slug, falling back when the input produces an empty slug
func GenerateWithFallback(s, fallback string) string {
	if out := Generate(s); out != "" {
		return out
	}
	return Generate(fallback)
}

// FromURL builds a slug from a page URL's host and path
func FromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return Generate(raw)
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	return Generate(host + " " + u.Path)
}

// Tag normalizes a model- or heuristic-produced tag: lowercase, hyphen-separated,
// no accents.
func Tag(tag string) string {
	tag = fold(strings.ToLower(strings.TrimSpace(tag)))
	tag = strings.NewReplacer(" ", "-", "_", "-").Replace(tag)
	tag = hyphenRuns.ReplaceAllString(tag, "-")
	return strings.Trim(tag, "- \t\n\r")
}

// Tags normalizes tags, dropping empties and duplicates while keeping order
func Tags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		n := Tag(t)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// fold strips diacritics by decomposing and dropping nonspacing marks
func fold(s string) string {
	t := transform.Chain(norm.NFD, transform.RemoveFunc(isMn), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

func isMn(r rune) bool {
	return unicode.Is(unicode.Mn, r)
}
