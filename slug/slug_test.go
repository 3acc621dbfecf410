package slug

import (
	"reflect"
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "basic ascii",
			input:    "Hello World",
			expected: "hello-world",
		},
		{
			name:     "with punctuation",
			input:    "Hello, World!",
			expected: "hello-world",
		},
		{
			name:     "with unicode characters",
			input:    "Café München",
			expected: "cafe-munchen",
		},
		{
			name:     "with underscores",
			input:    "Hello_World_Test",
			expected: "hello-world-test",
		},
		{
			name:     "dots and slashes become hyphens",
			input:    "go.dev/blog",
			expected: "go-dev-blog",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "only special characters",
			input:    "@#$%^&*()",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Generate(tt.input); got != tt.expected {
				t.Errorf("Generate(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestGenerateTruncates(t *testing.T) {
	got := Generate(strings.Repeat("word ", 40))
	if len(got) > maxLen {
		t.Errorf("len(Generate()) = %d, want <= %d", len(got), maxLen)
	}
	if strings.HasSuffix(got, "-") {
		t.Errorf("Generate() = %q, should not end with hyphen", got)
	}
}

func TestGenerateWithFallback(t *testing.T) {
	if got := GenerateWithFallback("!!!", "Fallback Title"); got != "fallback-title" {
		t.Errorf("GenerateWithFallback() = %q, want fallback-title", got)
	}
}

func TestFromURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.example.com/posts/go-concurrency/", "example-com-posts-go-concurrency"},
		{"https://arxiv.org/abs/2401.00001", "arxiv-org-abs-2401-00001"},
		{"not a url", "not-a-url"},
	}

	for _, tt := range tests {
		if got := FromURL(tt.in); got != tt.want {
			t.Errorf("FromURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTags(t *testing.T) {
	got := Tags([]string{"Machine Learning", "machine_learning", "  ", "Résumé", "AI"})
	want := []string{"machine-learning", "resume", "ai"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tags() = %v, want %v", got, want)
	}
}
