package lexical

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// minTokenLength drops short filler words ("the", "on", "of") without a stop-word list.
const minTokenLength = 4

// NormalizeTitle lower-cases text, removes every rune that is not a letter,
// digit or whitespace, and returns the set of remaining tokens longer than
// three characters.
func NormalizeTitle(text string) map[string]struct{} {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		default:
			return -1
		}
	}, text)

	fields := strings.Fields(cleaned)
	tokens := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if utf8.RuneCountInString(field) < minTokenLength {
			continue
		}
		tokens[field] = struct{}{}
	}
	return tokens
}

// TitleSimilarity is the Jaccard index of the normalized token sets.
func TitleSimilarity(a, b string) float64 {
	return jaccard(NormalizeTitle(a), NormalizeTitle(b))
}

func AreTitlesSimilar(a, b string, threshold float64) bool {
	return TitleSimilarity(a, b) >= threshold
}

func jaccard(left, right map[string]struct{}) float64 {
	if len(left) == 0 || len(right) == 0 {
		return 0
	}
	if len(left) > len(right) {
		left, right = right, left
	}

	intersection := 0
	for token := range left {
		if _, ok := right[token]; ok {
			intersection++
		}
	}
	union := len(left) + len(right) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
