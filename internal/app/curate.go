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
)

func runCurate(args []string) int {
	fs := flag.NewFlagSet("curate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 60*time.Second, "Command timeout")
	classRaw := fs.String("class", string(content.ClassArticles), "Content class: articles or alerts")
	lookback := fs.Duration("lookback", pipeline.DefaultCurateLookback, "How far back to load candidates")
	limit := fs.Int("limit", pipeline.DefaultCurateLimit, "Maximum candidates to load")
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
	if *lookback <= 0 {
		fmt.Fprintln(os.Stderr, "--lookback must be > 0")
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
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
		logger.Error().Err(err).Msg("curate command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc, err := newPipelineService(cfg, pool, logger, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Curate failed: %v\n", err)
		return 1
	}

	result, err := svc.Curate(ctx, pipeline.CurateOptions{
		Class:    class,
		Lookback: *lookback,
		Limit:    *limit,
	})
	if err != nil {
		logger.Error().Err(err).Str("class", string(class)).Msg("curate failed")
		fmt.Fprintf(os.Stderr, "Curate failed: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(os.Stdout, result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Printf(
		"curate class=%s candidates=%d unique=%d lexical_duplicates=%d semantic_duplicates=%d clusters=%d unclustered=%d\n\n",
		result.Class,
		result.Candidates,
		result.Dedup.Stats.Unique,
		result.Dedup.Stats.Lexical,
		result.Dedup.Stats.Semantic,
		len(result.Clusters),
		len(result.Unclustered),
	)
	if err := writeTable(os.Stdout, []string{"rank", "cluster", "size", "avg_score", "rank_score", "representative", "members"}, curateClusterRows(result)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}

func curateClusterRows(result pipeline.CurateResult) [][]string {
	titles := make(map[string]string, len(result.Dedup.Unique))
	for _, item := range result.Dedup.Unique {
		titles[item.ID] = item.Title
	}

	rows := make([][]string, 0, len(result.Clusters))
	for i, c := range result.Clusters {
		representative := c.CentroidID
		if title := titles[c.CentroidID]; title != "" {
			representative = truncateForTable(title, 60)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%d", c.ID),
			fmt.Sprintf("%d", c.Size),
			fmt.Sprintf("%.3f", c.AvgScore),
			fmt.Sprintf("%.3f", c.RankScore),
			representative,
			truncateForTable(strings.Join(c.MemberIDs, ","), 40),
		})
	}
	return rows
}
