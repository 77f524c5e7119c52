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
	"github.com/btighe428/cityping-sub002/internal/pipeline"
)

type embedTotals struct {
	Cycles            int      `json:"cycles"`
	ArticlesProcessed int      `json:"articles_processed"`
	AlertsProcessed   int      `json:"alerts_processed"`
	TotalTokens       int      `json:"total_tokens"`
	EstimatedCost     float64  `json:"estimated_cost"`
	Skipped           int      `json:"skipped"`
	Errors            []string `json:"errors"`
}

func (t *embedTotals) add(result pipeline.JobResult) {
	t.Cycles++
	t.ArticlesProcessed += result.ArticlesProcessed
	t.AlertsProcessed += result.AlertsProcessed
	t.Skipped += result.Skipped
	t.TotalTokens += result.TotalTokens
	t.EstimatedCost += result.EstimatedCost
	t.Errors = append(t.Errors, result.Errors...)
}

type embedRunner interface {
	ProcessUnembedded(ctx context.Context, batchSize int) (pipeline.JobResult, error)
}

// runEmbedCycles repeats the sync while untilEmpty is set and the previous
// cycle made progress, up to maxCycles. Skipped rows count as progress.
func runEmbedCycles(ctx context.Context, runner embedRunner, batchSize int, untilEmpty bool, maxCycles int) (embedTotals, error) {
	totals := embedTotals{Errors: make([]string, 0)}
	for {
		result, err := runner.ProcessUnembedded(ctx, batchSize)
		if err == nil || result.RunID != "" {
			totals.add(result)
		}
		if err != nil {
			return totals, err
		}

		if !untilEmpty || result.Processed()+result.Skipped == 0 || totals.Cycles >= maxCycles {
			return totals, nil
		}
		if err := ctx.Err(); err != nil {
			return totals, err
		}
	}
}

func runEmbed(args []string) int {
	fs := flag.NewFlagSet("embed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	batchSize := fs.Int("batch-size", pipeline.DefaultEmbeddingBatchSize, "Rows per content class per cycle")
	untilEmpty := fs.Bool("until-empty", false, "Repeat until a cycle embeds nothing")
	maxCycles := fs.Int("max-cycles", 50, "Upper bound on cycles with --until-empty")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *batchSize <= 0 {
		fmt.Fprintln(os.Stderr, "--batch-size must be > 0")
		return 2
	}
	if *maxCycles <= 0 {
		fmt.Fprintln(os.Stderr, "--max-cycles must be > 0")
		return 2
	}
	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	cfg, logger, err := loadConfig(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("embed command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc, err := newPipelineService(cfg, pool, logger, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Embed failed: %v\n", err)
		return 1
	}

	totals, err := runEmbedCycles(ctx, svc, *batchSize, *untilEmpty, *maxCycles)
	if err != nil {
		logger.Error().Err(err).Int("batch_size", *batchSize).Int("cycles", totals.Cycles).Msg("embed failed")
		fmt.Fprintf(os.Stderr, "Embed failed: %v\n", err)
		return 1
	}

	logger.Info().
		Int("cycles", totals.Cycles).
		Int("articles_processed", totals.ArticlesProcessed).
		Int("alerts_processed", totals.AlertsProcessed).
		Int("skipped", totals.Skipped).
		Int("total_tokens", totals.TotalTokens).
		Float64("estimated_cost", totals.EstimatedCost).
		Int("errors", len(totals.Errors)).
		Msg("embed completed")

	if outputFormat == outputFormatJSON {
		if err := printJSON(os.Stdout, totals); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
	} else {
		fmt.Printf(
			"embed cycles=%d articles=%d alerts=%d skipped=%d tokens=%d estimated_cost=$%.6f errors=%d\n",
			totals.Cycles,
			totals.ArticlesProcessed,
			totals.AlertsProcessed,
			totals.Skipped,
			totals.TotalTokens,
			totals.EstimatedCost,
			len(totals.Errors),
		)
		for _, msg := range totals.Errors {
			fmt.Fprintf(os.Stderr, "  error: %s\n", msg)
		}
	}

	return 0
}
