package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/btighe428/cityping-sub002/internal/cli"
	"github.com/btighe428/cityping-sub002/internal/config"
	"github.com/btighe428/cityping-sub002/internal/db"
	"github.com/btighe428/cityping-sub002/internal/embedding"
	"github.com/btighe428/cityping-sub002/internal/logging"
	"github.com/btighe428/cityping-sub002/internal/pipeline"
)

const (
	outputFormatTable = "table"
	outputFormatJSON  = "json"
)

func parseOutputFormat(raw, defaultFormat string) (string, error) {
	format := strings.TrimSpace(strings.ToLower(raw))
	if format == "" {
		format = strings.TrimSpace(strings.ToLower(defaultFormat))
	}
	switch format {
	case outputFormatTable, outputFormatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("--format must be table or json")
	}
}

// truncateForTable shortens value to maxLen runes, ending in "..." when cut.
func truncateForTable(value string, maxLen int) string {
	runes := []rune(strings.TrimSpace(value))
	switch {
	case maxLen <= 0 || len(runes) <= maxLen:
		return string(runes)
	case maxLen <= 3:
		return string(runes[:maxLen])
	default:
		return string(runes[:maxLen-3]) + "..."
	}
}

func printJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// writeTable renders tab-aligned columns. Rows shorter than headers are
// padded with "-".
func writeTable(w io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, strings.Join(headers, "\t"))
	for _, row := range rows {
		cells := append([]string(nil), row...)
		for len(cells) < len(headers) {
			cells = append(cells, "-")
		}
		lines = append(lines, strings.Join(cells, "\t"))
	}
	if _, err := io.WriteString(tw, strings.Join(lines, "\n")+"\n"); err != nil {
		return err
	}
	return tw.Flush()
}

func loadConfig(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil && (envLoader.Explicit() || !errors.Is(err, cli.ErrEnvFileNotFound)) {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func connectReadPool(timeout time.Duration, envLoader *cli.EnvLoader) (context.Context, context.CancelFunc, *db.Pool, error) {
	cfg, _, err := loadConfig(envLoader)
	if err != nil {
		return nil, nil, nil, err
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return ctx, cancel, pool, nil
}

func embeddingConfig(cfg *config.Config) embedding.Config {
	return embedding.Config{
		Provider:              cfg.EmbeddingProvider,
		Model:                 cfg.EmbeddingModel,
		Dimensions:            cfg.EmbeddingDimensions,
		Endpoint:              cfg.EmbeddingEndpoint,
		APIKey:                cfg.OpenAIAPIKey,
		BaseURL:               cfg.OpenAIBaseURL,
		RequestTimeout:        cfg.EmbeddingRequestTimeout,
		MaxBatchSize:          cfg.EmbeddingMaxBatch,
		MaxInputTokens:        cfg.EmbeddingMaxInputTokens,
		PricePerMillionTokens: cfg.EmbeddingPricePerMillionTokens,
		RequestsPerSecond:     cfg.EmbeddingRequestsPerSecond,
	}
}

func pipelineOptions(cfg *config.Config) pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.Dedup.TitleThreshold = cfg.DedupTitleThreshold
	opts.Dedup.SemanticThreshold = cfg.DedupSemanticThreshold
	opts.ClusterThreshold = cfg.ClusterThreshold
	return opts
}

// newPipelineService wires the pool and, when withEmbedder is set, the
// configured embedding provider.
func newPipelineService(cfg *config.Config, pool *db.Pool, logger zerolog.Logger, withEmbedder bool) (*pipeline.Service, error) {
	var embedder pipeline.Embedder
	if withEmbedder {
		client, err := embedding.NewClientFromConfig(embeddingConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("configure embedding provider: %w", err)
		}
		embedder = client
	}
	return pipeline.NewService(pool, embedder, pipelineOptions(cfg), logging.Component(logger, "pipeline")), nil
}
