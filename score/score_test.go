package score

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want int
	}{
		{"fraction", 0.82, 82},
		{"percent", 82, 82},
		{"fraction rounds", 0.555, 56},
		{"percent rounds", 64.6, 65},
		{"one is a fraction", 1, 100},
		{"zero", 0, 0},
		{"negative clamps", -5, 0},
		{"over max clamps", 140, 100},
		{"nan", math.NaN(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeScalesAgree(t *testing.T) {
	if Normalize(0.82) != Normalize(82) {
		t.Errorf("Normalize(0.82) = %d, Normalize(82) = %d, want equal", Normalize(0.82), Normalize(82))
	}
}

func TestQualifies(t *testing.T) {
	tests := []struct {
		score     int
		threshold int
		want      bool
	}{
		{65, 60, true},
		{65, 70, false},
		{55, 55, true},
		{0, 0, true},
	}

	for _, tt := range tests {
		if got := Qualifies(tt.score, tt.threshold); got != tt.want {
			t.Errorf("Qualifies(%d, %d) = %v, want %v", tt.score, tt.threshold, got, tt.want)
		}
	}
}
