package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/btighe428/cityping-sub002/internal/content"
	"github.com/btighe428/cityping-sub002/internal/db"
	"github.com/btighe428/cityping-sub002/internal/embedding"
	"github.com/btighe428/cityping-sub002/internal/globaltime"
)

const DefaultEmbeddingBatchSize = 100

// skipReasonEmpty tags rows whose title and body are blank.
const skipReasonEmpty = "empty"

// JobResult summarizes one ProcessUnembedded run. Errors holds non-fatal
// failures; a failing class does not stop the other class. Skipped counts
// rows with no text, which are marked so later runs move past them.
type JobResult struct {
	RunID             string        `json:"run_id"`
	ArticlesProcessed int           `json:"articles_processed"`
	AlertsProcessed   int           `json:"alerts_processed"`
	Skipped           int           `json:"skipped"`
	TotalTokens       int           `json:"total_tokens"`
	EstimatedCost     float64       `json:"estimated_cost"`
	Errors            []string      `json:"errors"`
	Duration          time.Duration `json:"duration"`
}

func (r JobResult) Processed() int {
	return r.ArticlesProcessed + r.AlertsProcessed
}

type classOutcome struct {
	processed int
	skipped   int
	tokens    int
	errors    []string
	// fatal holds a provider auth failure; ProcessUnembedded returns it.
	fatal error
}

// ProcessUnembedded embeds up to batchSize rows of each content class that
// lack a vector. Classes run concurrently and fail independently. An invalid
// batch size is returned before any I/O. A provider auth failure in either
// class is returned together with the partial result.
func (s *Service) ProcessUnembedded(ctx context.Context, batchSize int) (JobResult, error) {
	if err := s.ready(); err != nil {
		return JobResult{}, err
	}
	if s.embedder == nil {
		return JobResult{}, fmt.Errorf("pipeline service has no embedder")
	}
	if batchSize <= 0 {
		return JobResult{}, fmt.Errorf("%w: batch size must be > 0", embedding.ErrInvalidArgument)
	}
	if maxBatch := s.embedder.MaxBatchSize(); batchSize > maxBatch {
		return JobResult{}, fmt.Errorf("%w: batch size %d exceeds provider maximum %d", embedding.ErrInvalidArgument, batchSize, maxBatch)
	}

	runID := uuid.NewString()
	started := globaltime.UTC()
	classes := content.Classes()
	outcomes := make([]classOutcome, len(classes))

	var g errgroup.Group
	for i, class := range classes {
		g.Go(func() error {
			outcomes[i] = s.processClass(ctx, runID, class, batchSize)
			return nil
		})
	}
	_ = g.Wait()

	result := JobResult{RunID: runID, Errors: make([]string, 0)}
	var fatal error
	for i, class := range classes {
		outcome := outcomes[i]
		if outcome.fatal != nil && fatal == nil {
			fatal = outcome.fatal
		}
		result.Skipped += outcome.skipped
		switch class {
		case content.ClassArticles:
			result.ArticlesProcessed = outcome.processed
		case content.ClassAlerts:
			result.AlertsProcessed = outcome.processed
		}
		result.TotalTokens += outcome.tokens
		result.Errors = append(result.Errors, outcome.errors...)
	}
	result.EstimatedCost = s.embedder.EstimateCost(result.TotalTokens)
	result.Duration = globaltime.Since(started)

	s.logger.Info().
		Str("run_id", runID).
		Int("articles_processed", result.ArticlesProcessed).
		Int("alerts_processed", result.AlertsProcessed).
		Int("skipped", result.Skipped).
		Int("total_tokens", result.TotalTokens).
		Float64("estimated_cost", result.EstimatedCost).
		Int("errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("embedding sync completed")

	if fatal != nil {
		return result, fatal
	}
	return result, nil
}

func (s *Service) processClass(ctx context.Context, runID string, class content.Class, batchSize int) classOutcome {
	var outcome classOutcome
	logger := s.logger.With().Str("run_id", runID).Str("class", string(class)).Logger()

	rows, err := s.store.SelectUnembedded(ctx, class, batchSize)
	if err != nil {
		outcome.errors = append(outcome.errors, fmt.Sprintf("%s: select unembedded: %v", class, err))
		logger.Error().Err(err).Msg("select unembedded rows failed")
		return outcome
	}
	if len(rows) == 0 {
		logger.Debug().Msg("no unembedded rows")
		return outcome
	}

	pending := make([]db.PendingRow, 0, len(rows))
	texts := make([]string, 0, len(rows))
	for _, row := range rows {
		text := embeddingInput(row)
		if text != "" {
			pending = append(pending, row)
			texts = append(texts, text)
			continue
		}
		if err := s.store.MarkSkipped(ctx, class, row.ID, skipReasonEmpty, globaltime.UTC()); err != nil {
			outcome.errors = append(outcome.errors, fmt.Sprintf("%s: id=%s has no text and could not be marked skipped: %v", class, row.ID, err))
			logger.Warn().Err(err).Str("id", row.ID).Msg("mark empty row skipped failed")
			continue
		}
		outcome.skipped++
		logger.Warn().Str("id", row.ID).Msg("skipped row with no text to embed")
	}
	if len(texts) == 0 {
		return outcome
	}

	vectors, tokens, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		outcome.errors = append(outcome.errors, fmt.Sprintf("%s: embed batch of %d: %v", class, len(texts), err))
		if errors.Is(err, embedding.ErrProviderAuth) {
			outcome.fatal = fmt.Errorf("%s: %w", class, err)
		}
		logger.Error().Err(err).Int("batch_size", len(texts)).Bool("retryable", embedding.Retryable(err)).Msg("embedding batch failed")
		return outcome
	}
	outcome.tokens = tokens

	model := s.embedder.ModelName()
	embeddedAt := globaltime.UTC()
	for i, row := range pending {
		if err := s.store.WriteEmbedding(ctx, class, row.ID, vectors[i], model, embeddedAt); err != nil {
			outcome.errors = append(outcome.errors, fmt.Sprintf("%s: %v", class, err))
			logger.Warn().Err(err).Str("id", row.ID).Msg("write embedding failed")
			continue
		}
		outcome.processed++
	}

	logger.Info().
		Int("selected", len(rows)).
		Int("processed", outcome.processed).
		Int("skipped", outcome.skipped).
		Int("tokens", tokens).
		Msg("embedded content class")
	return outcome
}

// embeddingInput renders a row as title, body and source attribution
// separated by blank lines, with whitespace collapsed inside each part.
func embeddingInput(row db.PendingRow) string {
	parts := make([]string, 0, 3)
	if title := collapseWhitespace(row.Title); title != "" {
		parts = append(parts, title)
	}
	if body := collapseWhitespace(row.Body); body != "" {
		parts = append(parts, body)
	}
	if len(parts) == 0 {
		return ""
	}
	if source := collapseWhitespace(row.Source); source != "" {
		parts = append(parts, "Source: "+source)
	}
	return strings.Join(parts, "\n\n")
}

func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
