// SPDX-License-Identifier: MIT
package analysis

import "testing"

func TestClassifyBoundaries(t *testing.T) {
	tests := []struct {
		desc      string
		bpm       float64
		target    float64
		tolerance float64
		want      bool
	}{
		{"exact target", 180, 180, 5, true},
		{"lower boundary inclusive", 175, 180, 5, true},
		{"just below lower boundary", 174.9, 180, 5, false},
		{"upper boundary inclusive", 185, 180, 5, true},
		{"just above upper boundary", 185.1, 180, 5, false},
		{"no estimate yet", 0, 180, 5, false},
		{"negative guard", -10, 180, 5, false},
		{"zero tolerance exact", 180, 180, 0, true},
		{"zero tolerance off by a hair", 180.1, 180, 0, false},
		{"half tempo is not a match", 90, 180, 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if got := Classify(tt.bpm, tt.target, tt.tolerance); got != tt.want {
				t.Errorf("Classify(%v, %v, %v) = %v, want %v",
					tt.bpm, tt.target, tt.tolerance, got, tt.want)
			}
		})
	}
}

func TestPrimaryTempo(t *testing.T) {
	tests := []struct {
		desc       string
		candidates []float64
		want       float64
	}{
		{"nil candidates", nil, 0.0},
		{"empty candidates", []float64{}, 0.0},
		{"single candidate", []float64{178.4}, 178.4},
		{"first of several", []float64{181.2, 90.6, 120.0}, 181.2},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if got := PrimaryTempo(tt.candidates); got != tt.want {
				t.Errorf("PrimaryTempo(%v) = %v, want %v", tt.candidates, got, tt.want)
			}
		})
	}
}

func TestRoundBPM(t *testing.T) {
	tests := []struct {
		input float64
		want  float64
	}{
		{0, 0},
		{179.96, 180.0},
		{184.44, 184.4},
		{161.53, 161.5},
	}
	for _, tt := range tests {
		if got := RoundBPM(tt.input); got != tt.want {
			t.Errorf("RoundBPM(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
