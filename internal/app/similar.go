package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/btighe428/cityping-sub002/internal/cli"
	"github.com/btighe428/cityping-sub002/internal/content"
	"github.com/btighe428/cityping-sub002/internal/db"
	"github.com/btighe428/cityping-sub002/internal/pipeline"
	"github.com/btighe428/cityping-sub002/internal/vector"
)

func runSimilar(args []string) int {
	fs := flag.NewFlagSet("similar", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 60*time.Second, "Command timeout")
	text := fs.String("text", "", "Free-text query to embed")
	vectorRaw := fs.String("vector", "", "Query vector literal, e.g. [0.1,0.2,...]")
	classRaw := fs.String("class", string(content.ClassArticles), "Content class: articles or alerts")
	limit := fs.Int("limit", pipeline.DefaultSimilarLimit, "Maximum results")
	threshold := fs.Float64("threshold", pipeline.DefaultSimilarThreshold, "Minimum cosine similarity")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	class, err := content.ParseClass(*classRaw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --class: %v\n", err)
		return 2
	}
	hasText := strings.TrimSpace(*text) != ""
	hasVector := strings.TrimSpace(*vectorRaw) != ""
	if hasText == hasVector {
		fmt.Fprintln(os.Stderr, "exactly one of --text or --vector is required")
		return 2
	}
	var query []float64
	if hasVector {
		query, err = vector.ParseLiteral(*vectorRaw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --vector: %v\n", err)
			return 2
		}
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
		logger.Error().Err(err).Msg("similar command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc, err := newPipelineService(cfg, pool, logger, hasText)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Similar failed: %v\n", err)
		return 1
	}

	if hasText {
		query, _, err = svc.EmbedText(ctx, *text)
		if err != nil {
			logger.Error().Err(err).Msg("embed similar query failed")
			fmt.Fprintf(os.Stderr, "Failed to embed query: %v\n", err)
			return 1
		}
	}

	items, err := svc.FindSimilarIn(ctx, class, query, *limit, *threshold)
	if err != nil {
		logger.Error().Err(err).Str("class", string(class)).Msg("similar query failed")
		fmt.Fprintf(os.Stderr, "Similar failed: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(os.Stdout, items); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.ID,
			fmt.Sprintf("%.4f", item.Similarity),
			truncateForTable(item.Title, 80),
		})
	}
	if err := writeTable(os.Stdout, []string{"id", "similarity", "title"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}
