package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/btighe428/cityping-sub002/internal/cluster"
	"github.com/btighe428/cityping-sub002/internal/content"
	"github.com/btighe428/cityping-sub002/internal/dedup"
	"github.com/btighe428/cityping-sub002/internal/embedding"
	"github.com/btighe428/cityping-sub002/internal/pipeline"
	"github.com/btighe428/cityping-sub002/internal/vector"
)

const maxItemsPerRequest = 5000

var errEmptyBody = errors.New("request body is required")

type dedupRequest struct {
	Items             []content.Item `json:"items"`
	TitleThreshold    *float64       `json:"title_threshold"`
	SemanticThreshold *float64       `json:"semantic_threshold"`
	PreferHigherScore *bool          `json:"prefer_higher_score"`
}

type clustersRequest struct {
	Items     []content.Item `json:"items"`
	Threshold *float64       `json:"threshold"`
}

type duplicatesRequest struct {
	Item      content.Item   `json:"item"`
	Corpus    []content.Item `json:"corpus"`
	Threshold *float64       `json:"threshold"`
}

type duplicatesResponse struct {
	IsDuplicate bool          `json:"is_duplicate"`
	First       *dedup.Match  `json:"first,omitempty"`
	Matches     []dedup.Match `json:"matches"`
}

type mergeRequest struct {
	A cluster.Cluster `json:"a"`
	B cluster.Cluster `json:"b"`
}

type processRequest struct {
	BatchSize int `json:"batch_size"`
}

type similarRequest struct {
	Vector    []float64 `json:"vector"`
	Text      string    `json:"text"`
	Class     string    `json:"class"`
	Limit     int       `json:"limit"`
	Threshold *float64  `json:"threshold"`
}

type similarResponse struct {
	Class       content.Class          `json:"class"`
	Items       []pipeline.SimilarItem `json:"items"`
	QueryTokens int                    `json:"query_tokens,omitempty"`
}

type curateRequest struct {
	Class    string `json:"class"`
	Lookback string `json:"lookback"`
	Limit    int    `json:"limit"`
}

func (s *Server) handleDedup(c echo.Context) error {
	var req dedupRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	if fieldErrors := validateItems(req.Items); len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	opts := s.engine.Options().Dedup
	if req.PreferHigherScore != nil {
		opts.PreferHigherScore = *req.PreferHigherScore
	}
	fieldErrors := map[string]string{}
	if req.TitleThreshold != nil {
		if !validThreshold(*req.TitleThreshold, 0, 1) {
			fieldErrors["title_threshold"] = "must be within [0, 1]"
		}
		opts.TitleThreshold = *req.TitleThreshold
	}
	if req.SemanticThreshold != nil {
		if !validThreshold(*req.SemanticThreshold, -1, 1) {
			fieldErrors["semantic_threshold"] = "must be within [-1, 1]"
		}
		opts.SemanticThreshold = *req.SemanticThreshold
	}
	if len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	return success(c, dedup.Deduplicate(req.Items, opts))
}

func (s *Server) handleDuplicates(c echo.Context) error {
	var req duplicatesRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	if strings.TrimSpace(req.Item.ID) == "" {
		return failValidation(c, map[string]string{"item.id": "is required"})
	}
	if fieldErrors := validateItems(req.Corpus); len(fieldErrors) > 0 {
		return failValidation(c, map[string]string{"corpus": "must be a list of items with ids"})
	}

	opts := s.engine.Options().Dedup
	if req.Threshold != nil {
		if !validThreshold(*req.Threshold, -1, 1) {
			return failValidation(c, map[string]string{"threshold": "must be within [-1, 1]"})
		}
		opts.SemanticThreshold = *req.Threshold
	}

	resp := duplicatesResponse{
		Matches: dedup.FindPotentialDuplicates(req.Item, req.Corpus, opts.SemanticThreshold),
	}
	if first, ok := dedup.IsDuplicateOf(req.Item, req.Corpus, opts); ok {
		resp.IsDuplicate = true
		resp.First = &first
	}
	return success(c, resp)
}

func (s *Server) handleClusters(c echo.Context) error {
	var req clustersRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	if fieldErrors := validateItems(req.Items); len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	threshold := s.engine.Options().ClusterThreshold
	if req.Threshold != nil {
		if !validThreshold(*req.Threshold, -1, 1) {
			return failValidation(c, map[string]string{"threshold": "must be within [-1, 1]"})
		}
		threshold = *req.Threshold
	}

	clusters, err := cluster.ClusterItems(req.Items, threshold)
	if err != nil {
		if errors.Is(err, cluster.ErrMissingEmbedding) || errors.Is(err, vector.ErrDimensionMismatch) {
			return failValidation(c, map[string]string{"items": err.Error()})
		}
		return err
	}
	return success(c, map[string]any{
		"threshold": threshold,
		"clusters":  clusters,
	})
}

func (s *Server) handleMergeClusters(c echo.Context) error {
	var req mergeRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	merged, err := cluster.MergeClusters(req.A, req.B)
	if err != nil {
		return failValidation(c, map[string]string{"clusters": err.Error()})
	}
	return success(c, merged)
}

func (s *Server) handleProcessEmbeddings(c echo.Context) error {
	var req processRequest
	if err := decodeOptionalJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = pipeline.DefaultEmbeddingBatchSize
	}

	result, err := s.engine.ProcessUnembedded(c.Request().Context(), batchSize)
	if err != nil {
		return s.engineError(c, "batch_size", err)
	}
	return success(c, result)
}

func (s *Server) handleSimilar(c echo.Context) error {
	var req similarRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	fieldErrors := map[string]string{}
	class := content.ClassArticles
	if strings.TrimSpace(req.Class) != "" {
		parsed, err := content.ParseClass(req.Class)
		if err != nil {
			fieldErrors["class"] = err.Error()
		}
		class = parsed
	}
	hasText := strings.TrimSpace(req.Text) != ""
	switch {
	case len(req.Vector) == 0 && !hasText:
		fieldErrors["vector"] = "either vector or text is required"
	case len(req.Vector) > 0 && hasText:
		fieldErrors["vector"] = "vector and text are mutually exclusive"
	}
	limit := req.Limit
	if limit == 0 {
		limit = pipeline.DefaultSimilarLimit
	}
	threshold := pipeline.DefaultSimilarThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	ctx := c.Request().Context()
	query := req.Vector
	tokens := 0
	if hasText {
		vec, used, err := s.engine.EmbedText(ctx, req.Text)
		if err != nil {
			return s.engineError(c, "text", err)
		}
		query = vec
		tokens = used
	}

	items, err := s.engine.FindSimilarIn(ctx, class, query, limit, threshold)
	if err != nil {
		return s.engineError(c, "query", err)
	}
	return success(c, similarResponse{
		Class:       class,
		Items:       items,
		QueryTokens: tokens,
	})
}

func (s *Server) handleCurate(c echo.Context) error {
	var req curateRequest
	if err := decodeOptionalJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	fieldErrors := map[string]string{}
	opts := pipeline.CurateOptions{Limit: req.Limit}
	if strings.TrimSpace(req.Class) != "" {
		class, err := content.ParseClass(req.Class)
		if err != nil {
			fieldErrors["class"] = err.Error()
		}
		opts.Class = class
	}
	if strings.TrimSpace(req.Lookback) != "" {
		lookback, err := time.ParseDuration(strings.TrimSpace(req.Lookback))
		if err != nil || lookback <= 0 {
			fieldErrors["lookback"] = "must be a positive duration such as 48h"
		}
		opts.Lookback = lookback
	}
	if req.Limit < 0 {
		fieldErrors["limit"] = "must be >= 0"
	}
	if len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	result, err := s.engine.Curate(c.Request().Context(), opts)
	if err != nil {
		return s.engineError(c, "curate", err)
	}
	return success(c, result)
}

// engineError maps pipeline failures onto jsend responses. Caller mistakes
// become validation failures and provider outages become 502s.
func (s *Server) engineError(c echo.Context, field string, err error) error {
	switch {
	case errors.Is(err, embedding.ErrInvalidArgument), errors.Is(err, vector.ErrDimensionMismatch):
		return failValidation(c, map[string]string{field: err.Error()})
	case errors.Is(err, embedding.ErrProviderAuth),
		errors.Is(err, embedding.ErrProviderTransient),
		errors.Is(err, embedding.ErrProviderRejected),
		errors.Is(err, embedding.ErrProviderResponseInvalid):
		retryable := embedding.Retryable(err)
		s.logger.Warn().Err(err).Bool("retryable", retryable).Msg("embedding provider failure")
		return failUpstream(c, "Embedding provider failure", retryable)
	default:
		return err
	}
}

func validateItems(items []content.Item) map[string]string {
	if items == nil {
		return map[string]string{"items": "is required"}
	}
	if len(items) > maxItemsPerRequest {
		return map[string]string{"items": fmt.Sprintf("must contain at most %d items", maxItemsPerRequest)}
	}
	for i, item := range items {
		if strings.TrimSpace(item.ID) == "" {
			return map[string]string{fmt.Sprintf("items[%d].id", i): "is required"}
		}
	}
	return nil
}

func validThreshold(value, lo, hi float64) bool {
	return !math.IsNaN(value) && value >= lo && value <= hi
}

func decodeJSONBody(c echo.Context, dst any) error {
	decoder := json.NewDecoder(c.Request().Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("decode request body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

// decodeOptionalJSONBody accepts an empty body and leaves dst untouched.
func decodeOptionalJSONBody(c echo.Context, dst any) error {
	if err := decodeJSONBody(c, dst); err != nil && !errors.Is(err, errEmptyBody) {
		return err
	}
	return nil
}
