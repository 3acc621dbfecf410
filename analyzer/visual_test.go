package analyzer

import (
	"strings"
	"testing"

	"github.com/curatelab/curator/models"
)

func TestCombineVisual(t *testing.T) {
	text := models.AnalysisResult{Score: 80, Summary: "Good article.", Method: "llama3.2:1b"}

	tests := []struct {
		name       string
		visual     []models.VisualScore
		wantScore  int
		wantMethod string
	}{
		{
			name:       "no visuals",
			visual:     nil,
			wantScore:  80,
			wantMethod: "llama3.2:1b",
		},
		{
			name:       "single image",
			visual:     []models.VisualScore{{Src: "a.png", Score: 50}},
			wantScore:  68, // 0.6*80 + 0.4*50
			wantMethod: "llama3.2:1b+vision",
		},
		{
			name:       "several images",
			visual:     []models.VisualScore{{Score: 90}, {Score: 70}, {Score: 65}},
			wantScore:  78, // 48 + 0.4*75
			wantMethod: "llama3.2:1b+vision",
		},
		{
			name:       "out of range sub-scores are clamped",
			visual:     []models.VisualScore{{Score: 150}},
			wantScore:  88,
			wantMethod: "llama3.2:1b+vision",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CombineVisual(text, tt.visual)
			if got.Score != tt.wantScore {
				t.Errorf("Score = %d, want %d", got.Score, tt.wantScore)
			}
			if got.Method != tt.wantMethod {
				t.Errorf("Method = %q, want %q", got.Method, tt.wantMethod)
			}
			if len(tt.visual) == 0 {
				if got.Summary != text.Summary {
					t.Errorf("Summary changed without visuals: %q", got.Summary)
				}
				return
			}
			if !strings.Contains(got.Summary, "Visual analysis:") {
				t.Errorf("Summary = %q, want visual note", got.Summary)
			}
		})
	}
}

func TestCombineVisualSummary(t *testing.T) {
	got := CombineVisual(models.AnalysisResult{Score: 60, Summary: "S", Method: "m"}, []models.VisualScore{{Score: 40}, {Score: 61}})
	want := "S | Visual analysis: 2 items, avg score: 51"
	if got.Summary != want {
		t.Errorf("Summary = %q, want %q", got.Summary, want)
	}
}
