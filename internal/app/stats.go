package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/btighe428/cityping-sub002/internal/cli"
	"github.com/btighe428/cityping-sub002/internal/db"
	"github.com/btighe428/cityping-sub002/internal/globaltime"
)

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "stats does not accept positional arguments")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	dayStart := globaltime.StartOfUTCDay()
	dayEnd := dayStart.Add(24 * time.Hour)

	stats, err := pool.QueryEmbeddingStats(ctx, dayStart, dayEnd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query embedding stats: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(os.Stdout, stats); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	if err := writeTable(os.Stdout, []string{"class", "rows", "embedded", "pending", "skipped", "embedded_today"}, statsClassRows(stats)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render class table: %v\n", err)
		return 1
	}

	if len(stats.Models) == 0 {
		return 0
	}
	fmt.Println()
	modelRows := make([][]string, 0, len(stats.Models))
	for _, row := range stats.Models {
		modelRows = append(modelRows, []string{row.Class, row.Model, fmt.Sprintf("%d", row.Rows)})
	}
	if err := writeTable(os.Stdout, []string{"class", "model", "rows"}, modelRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render model table: %v\n", err)
		return 1
	}

	return 0
}

func statsClassRows(stats *db.EmbeddingStats) [][]string {
	counts := make([]db.ClassEmbeddingCount, 0, len(stats.Classes)+1)
	counts = append(counts, stats.Classes...)
	counts = append(counts, stats.Totals)

	rows := make([][]string, 0, len(counts))
	for _, row := range counts {
		rows = append(rows, []string{
			row.Class,
			fmt.Sprintf("%d", row.Rows),
			fmt.Sprintf("%d", row.Embedded),
			fmt.Sprintf("%d", row.Pending),
			fmt.Sprintf("%d", row.Skipped),
			fmt.Sprintf("%d", row.EmbeddedToday),
		})
	}
	return rows
}
