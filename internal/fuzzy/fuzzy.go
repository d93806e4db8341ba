// Package fuzzy provides the string matching used by wake-word detection.
//
// Matching is deliberately biased toward recall: missing an activation is
// worse than an occasional spurious trigger, because a false trigger only
// opens a capture window the user can ignore.
package fuzzy

import "strings"

// Similarity returns the normalized edit-distance similarity between a and b
// in [0, 1]. Two identical strings (including two empty strings) score 1.0.
// Both the distance and the normalizing length count runes, so multibyte
// input is not inflated by its encoding.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}

	ra := []rune(a)
	rb := []rune(b)

	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1.0
	}

	return 1.0 - float64(levenshtein(ra, rb))/float64(maxLen)
}

// levenshtein computes the edit distance between ra and rb using a rolling
// single-row table.
func levenshtein(ra, rb []rune) int {
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)

	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// ContainsTarget reports whether the transcript contains the target phrase,
// tolerating transcription noise. It succeeds on exact equality, substring
// containment, per-word equality, per-word similarity above threshold, and a
// shared 3-character prefix when both words are at least 3 characters long.
// For multi-word targets a match on any constituent word is sufficient.
func ContainsTarget(transcript, target string, threshold float64) bool {
	transcript = strings.ToLower(strings.TrimSpace(transcript))
	target = strings.ToLower(strings.TrimSpace(target))

	if transcript == "" || target == "" {
		return false
	}

	if transcript == target || strings.Contains(transcript, target) {
		return true
	}

	words := strings.Fields(transcript)
	targetWords := strings.Fields(target)

	for _, tw := range targetWords {
		for _, w := range words {
			if matchWord(w, tw, threshold) {
				return true
			}
		}
	}

	return false
}

// matchWord compares one transcript word against one target word.
func matchWord(word, target string, threshold float64) bool {
	if word == target {
		return true
	}
	if Similarity(word, target) >= threshold {
		return true
	}
	// Prefix heuristic: speech engines often get the first syllable right.
	if len(word) >= 3 && len(target) >= 3 && word[:3] == target[:3] {
		return true
	}
	return false
}
