// Package canonical normalizes content URLs into the form used as a uniqueness key.
package canonical

import "strings"

// URL returns the canonical form of raw: surrounding whitespace trimmed and a
// single trailing slash removed. Nothing else about the URL is rewritten.
func URL(raw string) string {
	u := strings.TrimSpace(raw)
	return strings.TrimSuffix(u, "/")
}

// Variants returns the canonical form followed by its trailing-slash twin.
// Records stored before normalization may use either spelling.
func Variants(raw string) []string {
	c := URL(raw)
	if c == "" {
		return nil
	}
	return []string{c, c + "/"}
}

// Equal reports whether a and b share a canonical form
func Equal(a, b string) bool {
	return URL(a) == URL(b)
}
