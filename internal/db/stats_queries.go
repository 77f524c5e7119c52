package db

import (
	"context"
	"fmt"
	"time"

	"github.com/btighe428/cityping-sub002/internal/content"
)

// ClassEmbeddingCount stores per-class embedding coverage.
type ClassEmbeddingCount struct {
	Class         string `json:"class"`
	Rows          int64  `json:"rows"`
	Embedded      int64  `json:"embedded"`
	Pending       int64  `json:"pending"`
	Skipped       int64  `json:"skipped"`
	EmbeddedToday int64  `json:"embedded_today"`
}

// EmbeddingModelCount stores how many rows each model produced.
type EmbeddingModelCount struct {
	Class string `json:"class"`
	Model string `json:"model"`
	Rows  int64  `json:"rows"`
}

// EmbeddingStats is the read model returned by the stats command.
type EmbeddingStats struct {
	Day     string                `json:"day"`
	Classes []ClassEmbeddingCount `json:"classes"`
	Models  []EmbeddingModelCount `json:"models"`
	Totals  ClassEmbeddingCount   `json:"totals"`
}

// QueryEmbeddingStats returns per-class embedding coverage and the model breakdown.
func (p *Pool) QueryEmbeddingStats(ctx context.Context, dayStart, dayEnd time.Time) (*EmbeddingStats, error) {
	startUTC := dayStart.UTC()
	endUTC := dayEnd.UTC()
	if !startUTC.Before(endUTC) {
		return nil, fmt.Errorf("dayStart must be before dayEnd")
	}

	stats := &EmbeddingStats{
		Day:     startUTC.Format("2006-01-02"),
		Classes: make([]ClassEmbeddingCount, 0, len(content.Classes())),
		Models:  make([]EmbeddingModelCount, 0, 4),
		Totals:  ClassEmbeddingCount{Class: "TOTAL"},
	}

	for _, class := range content.Classes() {
		t, err := tableFor(class)
		if err != nil {
			return nil, err
		}

		countsQuery := fmt.Sprintf(`
SELECT
	COUNT(*)::BIGINT AS total_rows,
	COUNT(embedding)::BIGINT AS embedded,
	COUNT(*) FILTER (WHERE embedding IS NULL AND embedded_at IS NULL)::BIGINT AS pending,
	COUNT(*) FILTER (WHERE embedding IS NULL AND embedded_at IS NOT NULL)::BIGINT AS skipped,
	COUNT(*) FILTER (WHERE embedding IS NOT NULL AND embedded_at >= $1 AND embedded_at < $2)::BIGINT AS embedded_today
FROM %s
`, t.table)

		row := ClassEmbeddingCount{Class: string(class)}
		if err := p.QueryRow(ctx, countsQuery, startUTC, endUTC).Scan(&row.Rows, &row.Embedded, &row.Pending, &row.Skipped, &row.EmbeddedToday); err != nil {
			return nil, fmt.Errorf("query %s embedding counts: %w", class, err)
		}
		stats.Classes = append(stats.Classes, row)
		stats.Totals.Rows += row.Rows
		stats.Totals.Embedded += row.Embedded
		stats.Totals.Pending += row.Pending
		stats.Totals.Skipped += row.Skipped
		stats.Totals.EmbeddedToday += row.EmbeddedToday

		modelsQuery := fmt.Sprintf(`
SELECT
	embedding_model,
	COUNT(*)::BIGINT AS rows
FROM %s
WHERE embedding IS NOT NULL
  AND embedding_model IS NOT NULL
GROUP BY embedding_model
ORDER BY 1
`, t.table)

		rows, err := p.Query(ctx, modelsQuery)
		if err != nil {
			return nil, fmt.Errorf("query %s embedding models: %w", class, err)
		}
		for rows.Next() {
			m := EmbeddingModelCount{Class: string(class)}
			if err := rows.Scan(&m.Model, &m.Rows); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s embedding model row: %w", class, err)
			}
			stats.Models = append(stats.Models, m)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate %s embedding model rows: %w", class, err)
		}
		rows.Close()
	}

	return stats, nil
}
