package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/btighe428/cityping-sub002/internal/cluster"
	"github.com/btighe428/cityping-sub002/internal/content"
	"github.com/btighe428/cityping-sub002/internal/dedup"
	"github.com/btighe428/cityping-sub002/internal/globaltime"
)

const (
	DefaultCurateLookback = 48 * time.Hour
	DefaultCurateLimit    = 500
)

type CurateOptions struct {
	Class    content.Class
	Lookback time.Duration
	Limit    int
}

type CurateResult struct {
	Class       content.Class     `json:"class"`
	Candidates  int               `json:"candidates"`
	Dedup       dedup.Outcome     `json:"dedup"`
	Clusters    []cluster.Cluster `json:"clusters"`
	Unclustered []string          `json:"unclustered"`
}

// Curate loads recent items of one class, removes duplicates and clusters
// the survivors. Unique items without an embedding cannot be clustered and
// are reported in Unclustered.
func (s *Service) Curate(ctx context.Context, options CurateOptions) (CurateResult, error) {
	if err := s.ready(); err != nil {
		return CurateResult{}, err
	}

	opts := normalizeCurateOptions(options)
	since := globaltime.UTC().Add(-opts.Lookback)
	items, err := s.store.LoadCandidates(ctx, opts.Class, since, opts.Limit)
	if err != nil {
		return CurateResult{}, fmt.Errorf("load curate candidates: %w", err)
	}

	result, err := s.CurateItems(opts.Class, items)
	if err != nil {
		return CurateResult{}, err
	}

	s.logger.Info().
		Str("class", string(opts.Class)).
		Int("candidates", result.Candidates).
		Int("unique", result.Dedup.Stats.Unique).
		Int("lexical_duplicates", result.Dedup.Stats.Lexical).
		Int("semantic_duplicates", result.Dedup.Stats.Semantic).
		Int("clusters", len(result.Clusters)).
		Int("unclustered", len(result.Unclustered)).
		Msg("curation completed")
	return result, nil
}

// CurateItems runs dedup then clustering over items already in memory.
func (s *Service) CurateItems(class content.Class, items []content.Item) (CurateResult, error) {
	opts := s.Options()
	outcome := dedup.Deduplicate(items, opts.Dedup)

	embedded := make([]content.Item, 0, len(outcome.Unique))
	unclustered := make([]string, 0)
	dims := -1
	for _, item := range outcome.Unique {
		if !item.HasEmbedding() {
			unclustered = append(unclustered, item.ID)
			continue
		}
		if dims < 0 {
			dims = len(item.Embedding)
		}
		if len(item.Embedding) != dims {
			unclustered = append(unclustered, item.ID)
			continue
		}
		embedded = append(embedded, item)
	}

	clusters, err := cluster.ClusterItems(embedded, opts.ClusterThreshold)
	if err != nil {
		return CurateResult{}, fmt.Errorf("cluster unique items: %w", err)
	}

	return CurateResult{
		Class:       class,
		Candidates:  len(items),
		Dedup:       outcome,
		Clusters:    clusters,
		Unclustered: unclustered,
	}, nil
}

func normalizeCurateOptions(opts CurateOptions) CurateOptions {
	normalized := opts
	if normalized.Class == "" {
		normalized.Class = content.ClassArticles
	}
	if normalized.Lookback <= 0 {
		normalized.Lookback = DefaultCurateLookback
	}
	if normalized.Limit <= 0 {
		normalized.Limit = DefaultCurateLimit
	}
	return normalized
}
