package dedup

import (
	"sort"

	"github.com/btighe428/cityping-sub002/internal/content"
	"github.com/btighe428/cityping-sub002/internal/lexical"
	"github.com/btighe428/cityping-sub002/internal/vector"
)

const (
	DefaultTitleThreshold    = 0.7
	DefaultSemanticThreshold = 0.92
)

type Method string

const (
	MethodLexical  Method = "lexical"
	MethodSemantic Method = "semantic"
)

type Options struct {
	TitleThreshold    float64
	SemanticThreshold float64
	PreferHigherScore bool
}

func DefaultOptions() Options {
	return Options{
		TitleThreshold:    DefaultTitleThreshold,
		SemanticThreshold: DefaultSemanticThreshold,
		PreferHigherScore: true,
	}
}

type Duplicate struct {
	Item          content.Item `json:"item"`
	DuplicateOfID string       `json:"duplicate_of_id"`
	Method        Method       `json:"method"`
	Similarity    float64      `json:"similarity"`
}

type Stats struct {
	Total    int `json:"total"`
	Unique   int `json:"unique"`
	Lexical  int `json:"lexical"`
	Semantic int `json:"semantic"`
}

type Outcome struct {
	Unique     []content.Item `json:"unique"`
	Duplicates []Duplicate    `json:"duplicates"`
	Stats      Stats          `json:"stats"`
}

// Match is one item in a corpus that qualifies as a duplicate.
type Match struct {
	Item       content.Item `json:"item"`
	Method     Method       `json:"method"`
	Similarity float64      `json:"similarity"`
}

// Deduplicate partitions items into unique items and duplicates. Each item is
// compared only against items already accepted as unique, in acceptance
// order, and the first one that matches wins. The result therefore depends on
// input order; PreferHigherScore sorts by score first so the higher-scored
// copy is the one that survives.
func Deduplicate(items []content.Item, opts Options) Outcome {
	ordered := make([]content.Item, len(items))
	copy(ordered, items)
	if opts.PreferHigherScore {
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Score > ordered[j].Score
		})
	}

	outcome := Outcome{
		Unique:     make([]content.Item, 0, len(ordered)),
		Duplicates: make([]Duplicate, 0),
	}
	for _, item := range ordered {
		match, ok := firstMatch(item, outcome.Unique, opts.TitleThreshold, opts.SemanticThreshold)
		if !ok {
			outcome.Unique = append(outcome.Unique, item)
			continue
		}

		outcome.Duplicates = append(outcome.Duplicates, Duplicate{
			Item:          item,
			DuplicateOfID: match.Item.ID,
			Method:        match.Method,
			Similarity:    match.Similarity,
		})
		switch match.Method {
		case MethodLexical:
			outcome.Stats.Lexical++
		case MethodSemantic:
			outcome.Stats.Semantic++
		}
	}

	outcome.Stats.Total = len(ordered)
	outcome.Stats.Unique = len(outcome.Unique)
	return outcome
}

// FindPotentialDuplicates returns every corpus item that matches item, most
// similar first. threshold is the semantic threshold; the lexical stage uses
// DefaultTitleThreshold. Corpus entries sharing item's ID are skipped.
func FindPotentialDuplicates(item content.Item, corpus []content.Item, threshold float64) []Match {
	matches := make([]Match, 0)
	for _, candidate := range corpus {
		if candidate.ID == item.ID {
			continue
		}
		if match, ok := compare(item, candidate, DefaultTitleThreshold, threshold); ok {
			matches = append(matches, match)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	return matches
}

// IsDuplicateOf returns the first corpus item that item duplicates.
func IsDuplicateOf(item content.Item, corpus []content.Item, opts Options) (Match, bool) {
	filtered := make([]content.Item, 0, len(corpus))
	for _, candidate := range corpus {
		if candidate.ID != item.ID {
			filtered = append(filtered, candidate)
		}
	}
	return firstMatch(item, filtered, opts.TitleThreshold, opts.SemanticThreshold)
}

func firstMatch(item content.Item, accepted []content.Item, titleThreshold, semanticThreshold float64) (Match, bool) {
	for _, existing := range accepted {
		if match, ok := compare(item, existing, titleThreshold, semanticThreshold); ok {
			return match, true
		}
	}
	return Match{}, false
}

// compare runs the lexical stage and, only if it does not match, the semantic
// stage. A pair without comparable vectors is judged on titles alone.
func compare(item, existing content.Item, titleThreshold, semanticThreshold float64) (Match, bool) {
	titleSimilarity := lexical.TitleSimilarity(item.Title, existing.Title)
	if titleSimilarity >= titleThreshold {
		return Match{Item: existing, Method: MethodLexical, Similarity: titleSimilarity}, true
	}

	if !item.HasEmbedding() || !existing.HasEmbedding() {
		return Match{}, false
	}
	similarity, err := vector.Cosine(item.Embedding, existing.Embedding)
	if err != nil {
		return Match{}, false
	}
	if similarity >= semanticThreshold {
		return Match{Item: existing, Method: MethodSemantic, Similarity: similarity}, true
	}
	return Match{}, false
}
