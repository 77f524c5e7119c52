package lexical

import (
	"math"
	"testing"
)

func TestNormalizeTitleDropsShortTokensAndPunctuation(t *testing.T) {
	t.Parallel()

	tokens := NormalizeTitle("Subway Delays on the L Train!")
	want := []string{"subway", "delays", "train"}
	if len(tokens) != len(want) {
		t.Fatalf("expected %d tokens, got %d (%v)", len(want), len(tokens), tokens)
	}
	for _, token := range want {
		if _, ok := tokens[token]; !ok {
			t.Fatalf("expected token %q in %v", token, tokens)
		}
	}

	tokens = NormalizeTitle("Mayor's press-conference")
	if _, ok := tokens["mayors"]; !ok {
		t.Fatalf("expected apostrophe to be stripped, got %v", tokens)
	}
	if _, ok := tokens["pressconference"]; !ok {
		t.Fatalf("expected hyphen to be stripped, got %v", tokens)
	}
}

func TestTitleSimilarity(t *testing.T) {
	t.Parallel()

	if got := TitleSimilarity("Subway Delays on the L Train", "subway delays on the l train"); got != 1 {
		t.Fatalf("expected identical titles to score 1, got %f", got)
	}

	got := TitleSimilarity("Fire breaks out in Queens", "Blaze erupts in Queens borough")
	if math.Abs(got-1.0/6.0) > 1e-12 {
		t.Fatalf("expected 1/6, got %f", got)
	}
	if AreTitlesSimilar("Fire breaks out in Queens", "Blaze erupts in Queens borough", 0.7) {
		t.Fatalf("did not expect paraphrased titles to be lexically similar")
	}
}

func TestTitleSimilarityEmptySets(t *testing.T) {
	t.Parallel()

	if got := TitleSimilarity("", "Subway delays"); got != 0 {
		t.Fatalf("expected 0 for empty title, got %f", got)
	}
	if got := TitleSimilarity("a an the", "on of to"); got != 0 {
		t.Fatalf("expected 0 when all tokens are filtered, got %f", got)
	}
}
