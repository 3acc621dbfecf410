package analyzer

import (
	"fmt"
	"math"

	"github.com/curatelab/curator/models"
	"github.com/curatelab/curator/score"
)

// Weights applied when a text score is combined with visual sub-scores
const (
	TextWeight   = 0.6
	VisualWeight = 0.4
)

// CombineVisual blends per-image scores into a text result. The text result
// is returned unchanged when there are no visual scores.
func CombineVisual(text models.AnalysisResult, visual []models.VisualScore) models.AnalysisResult {
	if len(visual) == 0 {
		return text
	}

	total := 0
	for _, v := range visual {
		total += score.Clamp(v.Score)
	}
	avg := float64(total) / float64(len(visual))

	combined := text
	combined.Score = score.Clamp(int(math.Round(TextWeight*float64(text.Score) + VisualWeight*avg)))
	combined.Summary = fmt.Sprintf("%s | Visual analysis: %d items, avg score: %d", text.Summary, len(visual), int(math.Round(avg)))
	combined.Method = text.Method + models.VisionMethodSuffix
	return combined
}
