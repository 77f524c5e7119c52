package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/btighe428/cityping-sub002/internal/cli"
	"github.com/btighe428/cityping-sub002/internal/db"
	"github.com/btighe428/cityping-sub002/internal/embedding"
)

const healthCheckText = "cityping health check"

type healthReport struct {
	PGVector       string
	ProviderModel  string
	ProviderDims   int
	ProviderTokens int
}

func (r healthReport) String() string {
	out := fmt.Sprintf("ok: database reachable, pgvector %s", r.PGVector)
	if r.ProviderModel != "" {
		out += fmt.Sprintf("; provider model %s returned %d dims (%d tokens)", r.ProviderModel, r.ProviderDims, r.ProviderTokens)
	}
	return out
}

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Second, "Overall check timeout")
	checkProvider := fs.Bool("provider", false, "Also embed a sample text with the configured provider")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, logger, err := loadConfig(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var report healthReport
	pool, err := db.NewPool(ctx, cfg)
	if err == nil {
		report.PGVector, err = pool.VectorExtensionVersion(ctx)
		_ = pool.Close()
	}
	if err != nil {
		logger.Error().Err(err).Msg("database health check failed")
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}

	if *checkProvider {
		client, err := embedding.NewClientFromConfig(embeddingConfig(cfg))
		if err == nil {
			var vec []float64
			vec, report.ProviderTokens, err = client.EmbedOne(ctx, healthCheckText)
			report.ProviderModel = client.ModelName()
			report.ProviderDims = len(vec)
			if err == nil && report.ProviderDims != db.EmbeddingDimensions {
				err = fmt.Errorf("provider returned %d dimensions, store expects %d", report.ProviderDims, db.EmbeddingDimensions)
			}
		}
		if err != nil {
			logger.Error().Err(err).Bool("retryable", embedding.Retryable(err)).Msg("provider health check failed")
			fmt.Fprintf(os.Stderr, "Provider check failed: %v\n", err)
			return 1
		}
	}

	logger.Info().
		Str("pgvector_version", report.PGVector).
		Str("embedding_provider", cfg.EmbeddingProvider).
		Str("embedding_model", cfg.EmbeddingModel).
		Bool("provider_checked", *checkProvider).
		Msg("health check passed")
	fmt.Println(report.String())
	return 0
}
