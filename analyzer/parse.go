package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnparsable is returned when no structured result can be located in a model response
var ErrUnparsable = errors.New("no structured result in model response")

var (
	fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(\\{.*?\\})\\s*```")
	bareScore   = regexp.MustCompile(`(?i)"?\bscore"?\s*[:=]\s*"?(\d+(?:\.\d+)?)`)
)

// Parsed is the structured block a model embeds in its response
type Parsed struct {
	Score    float64
	Summary  string
	Tags     []string
	Category string
}

type rawParsed struct {
	Score    json.RawMessage `json:"score"`
	Summary  string          `json:"summary"`
	Tags     json.RawMessage `json:"tags"`
	Category string          `json:"category"`
}

// ParseEmbedded locates the structured result inside a model response. Models
// often wrap the JSON in prose or code fences, so the body is searched in
// order: fenced json block, first balanced object that decodes with a score,
// then a bare "score: N" pattern.
func ParseEmbedded(body string) (*Parsed, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrUnparsable
	}

	for _, m := range fencedBlock.FindAllStringSubmatch(body, -1) {
		if p, err := decodeObject(m[1]); err == nil {
			return p, nil
		}
	}

	for start := strings.IndexByte(body, '{'); start >= 0; {
		if end := matchBrace(body, start); end > start {
			if p, err := decodeObject(body[start : end+1]); err == nil {
				return p, nil
			}
		}
		next := strings.IndexByte(body[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}

	if m := bareScore.FindStringSubmatch(body); len(m) == 2 {
		v, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			return &Parsed{Score: v}, nil
		}
	}

	return nil, ErrUnparsable
}

// matchBrace returns the index of the brace closing the object opened at
// start, skipping braces inside JSON strings. It returns -1 when unbalanced.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func decodeObject(s string) (*Parsed, error) {
	var raw rawParsed
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	if len(raw.Score) == 0 || string(raw.Score) == "null" {
		return nil, fmt.Errorf("%w: score missing", ErrUnparsable)
	}

	v, err := parseNumber(raw.Score)
	if err != nil {
		return nil, err
	}

	return &Parsed{
		Score:    v,
		Summary:  strings.TrimSpace(raw.Summary),
		Tags:     parseTags(raw.Tags),
		Category: strings.TrimSpace(raw.Category),
	}, nil
}

// parseNumber accepts 0.82, 82 and "82" (some models quote numbers)
func parseNumber(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("%w: score is not a number", ErrUnparsable)
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: score %q is not a number", ErrUnparsable, s)
	}
	return f, nil
}

// parseTags accepts a JSON array or a comma-separated string
func parseTags(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return strings.Split(s, ",")
	}
	return nil
}
