package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/btighe428/cityping-sub002/internal/cluster"
	"github.com/btighe428/cityping-sub002/internal/content"
	"github.com/btighe428/cityping-sub002/internal/db"
	"github.com/btighe428/cityping-sub002/internal/dedup"
)

// Store is the persistence the pipeline needs. *db.Pool satisfies it.
type Store interface {
	SelectUnembedded(ctx context.Context, class content.Class, limit int) ([]db.PendingRow, error)
	WriteEmbedding(ctx context.Context, class content.Class, id string, embedding []float64, model string, embeddedAt time.Time) error
	MarkSkipped(ctx context.Context, class content.Class, id, reason string, at time.Time) error
	NearestNeighbors(ctx context.Context, class content.Class, embedding []float64, limit int, maxDistance float64) ([]db.Neighbor, error)
	LoadCandidates(ctx context.Context, class content.Class, since time.Time, limit int) ([]content.Item, error)
}

// Embedder produces vectors. *embedding.Client satisfies it.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, int, error)
	EstimateCost(tokens int) float64
	MaxBatchSize() int
	ModelName() string
}

type Options struct {
	Dedup            dedup.Options
	ClusterThreshold float64
}

func DefaultOptions() Options {
	return Options{
		Dedup:            dedup.DefaultOptions(),
		ClusterThreshold: cluster.DefaultThreshold,
	}
}

type Service struct {
	store    Store
	embedder Embedder
	opts     Options
	logger   zerolog.Logger
}

func NewService(store Store, embedder Embedder, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		embedder: embedder,
		opts:     opts,
		logger:   logger,
	}
}

func (s *Service) Options() Options {
	if s == nil {
		return DefaultOptions()
	}
	return s.opts
}

func (s *Service) ready() error {
	if s == nil || s.store == nil {
		return fmt.Errorf("pipeline service is not initialized")
	}
	return nil
}
