package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/btighe428/cityping-sub002/internal/content"
	"github.com/btighe428/cityping-sub002/internal/embedding"
)

const (
	DefaultSimilarLimit     = 10
	DefaultSimilarThreshold = 0.8
	maxSimilarLimit         = 200
)

type SimilarItem struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
}

// FindSimilar returns articles whose cosine similarity to vec is at least
// threshold, nearest first.
func (s *Service) FindSimilar(ctx context.Context, vec []float64, limit int, threshold float64) ([]SimilarItem, error) {
	return s.FindSimilarIn(ctx, content.ClassArticles, vec, limit, threshold)
}

func (s *Service) FindSimilarIn(ctx context.Context, class content.Class, vec []float64, limit int, threshold float64) ([]SimilarItem, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", embedding.ErrInvalidArgument)
	}
	if limit <= 0 || limit > maxSimilarLimit {
		return nil, fmt.Errorf("%w: limit must be within [1, %d]", embedding.ErrInvalidArgument, maxSimilarLimit)
	}
	if math.IsNaN(threshold) || threshold < -1 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold must be within [-1, 1]", embedding.ErrInvalidArgument)
	}

	// pgvector's <=> is cosine distance, 1 - cosine similarity.
	maxDistance := 1 - threshold
	neighbors, err := s.store.NearestNeighbors(ctx, class, vec, limit, maxDistance)
	if err != nil {
		return nil, fmt.Errorf("find similar %s: %w", class, err)
	}

	out := make([]SimilarItem, 0, len(neighbors))
	for _, n := range neighbors {
		out = append(out, SimilarItem{
			ID:         n.ID,
			Title:      n.Title,
			Similarity: 1 - n.Distance,
		})
	}
	return out, nil
}

// EmbedText embeds a free-text query so it can be used with FindSimilarIn.
func (s *Service) EmbedText(ctx context.Context, text string) ([]float64, int, error) {
	if s == nil || s.embedder == nil {
		return nil, 0, fmt.Errorf("pipeline service has no embedder")
	}
	query := collapseWhitespace(text)
	if query == "" {
		return nil, 0, fmt.Errorf("%w: query text is empty", embedding.ErrInvalidArgument)
	}
	vectors, tokens, err := s.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, 0, fmt.Errorf("embed query: %w", err)
	}
	return vectors[0], tokens, nil
}
