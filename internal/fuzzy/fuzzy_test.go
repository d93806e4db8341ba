package fuzzy

import (
	"math"
	"testing"
)

func TestSimilarityIdentical(t *testing.T) {
	for _, s := range []string{"", "seven", "hey seven", "a"} {
		if got := Similarity(s, s); got != 1.0 {
			t.Errorf("Similarity(%q, %q) = %v, want 1.0", s, s, got)
		}
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"seven", "sven", 0.8},   // one deletion over 5 chars
		{"seven", "sevem", 0.8},  // one substitution
		{"abc", "xyz", 0.0},      // nothing shared
		{"seven", "", 0.0},       // empty vs non-empty
		{"kitten", "sitting", 1.0 - 3.0/7.0},
		{"日本", "中国", 0.0},       // 2 substitutions over 2 runes, not 6 bytes
		{"café", "cafe", 0.75},   // 1 substitution over 4 runes
	}

	for _, tt := range tests {
		got := Similarity(tt.a, tt.b)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSimilaritySymmetric(t *testing.T) {
	pairs := [][2]string{{"seven", "sven"}, {"hello", "yellow"}, {"", "x"}}
	for _, p := range pairs {
		if Similarity(p[0], p[1]) != Similarity(p[1], p[0]) {
			t.Errorf("Similarity not symmetric for %q/%q", p[0], p[1])
		}
	}
}

func TestContainsTargetSubstring(t *testing.T) {
	// Substring containment must match for any threshold up to 1.
	for _, th := range []float64{0.0, 0.35, 0.7, 1.0} {
		if !ContainsTarget("ok seven what time is it", "seven", th) {
			t.Errorf("substring match failed at threshold %v", th)
		}
		if !ContainsTarget("OK Seven", "seven", th) {
			t.Errorf("case-insensitive substring match failed at threshold %v", th)
		}
	}
}

func TestContainsTargetFuzzy(t *testing.T) {
	tests := []struct {
		transcript string
		target     string
		threshold  float64
		want       bool
	}{
		{"sven", "seven", 0.35, true},          // edit distance 1 of 5 chars
		{"sevan please", "seven", 0.35, true},  // per-word similarity
		{"sevilla", "seven", 0.95, true},       // prefix heuristic rescues it
		{"banana", "seven", 0.35, false},
		{"", "seven", 0.1, false},              // empty transcript never matches
		{"seven", "", 0.1, false},              // empty target never matches
		{"   ", "seven", 0.1, false},
		{"hey sven", "hey seven", 0.35, true},  // any word of a multi-word target
		{"he", "hey seven", 0.9, false},        // too short for prefix heuristic
	}

	for _, tt := range tests {
		got := ContainsTarget(tt.transcript, tt.target, tt.threshold)
		if got != tt.want {
			t.Errorf("ContainsTarget(%q, %q, %v) = %v, want %v",
				tt.transcript, tt.target, tt.threshold, got, tt.want)
		}
	}
}

func TestContainsTargetExact(t *testing.T) {
	if !ContainsTarget("seven", "seven", 1.0) {
		t.Error("exact equality should match at threshold 1.0")
	}
}
