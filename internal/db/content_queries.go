package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/btighe428/cityping-sub002/internal/content"
	"github.com/btighe428/cityping-sub002/internal/vector"
)

const defaultSearchEF = 64

// PendingRow is a content row that still needs an embedding.
type PendingRow struct {
	ID          string
	Title       string
	Body        string
	Source      string
	PublishedAt *time.Time
}

// Neighbor is one nearest-neighbor hit; Distance is pgvector cosine distance.
type Neighbor struct {
	ID       string
	Title    string
	Distance float64
}

type classTable struct {
	table string
	body  string
}

// Only these fixed identifiers are ever interpolated into SQL.
var classTables = map[content.Class]classTable{
	content.ClassArticles: {table: "content.articles", body: "COALESCE(NULLIF(BTRIM(body), ''), snippet, '')"},
	content.ClassAlerts:   {table: "content.alerts", body: "COALESCE(description, '')"},
}

func tableFor(class content.Class) (classTable, error) {
	t, ok := classTables[class]
	if !ok {
		return classTable{}, fmt.Errorf("unsupported content class %q", class)
	}
	return t, nil
}

// SkippedModelPrefix marks rows that were looked at but cannot be embedded.
// Such rows keep a NULL embedding and carry embedded_at, which takes them
// out of SelectUnembedded.
const SkippedModelPrefix = "skipped:"

// SelectUnembedded returns up to limit rows without an embedding that have
// not been skipped, most recent first.
func (p *Pool) SelectUnembedded(ctx context.Context, class content.Class, limit int) ([]PendingRow, error) {
	t, err := tableFor(class)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []PendingRow{}, nil
	}

	q := fmt.Sprintf(`
SELECT
	id,
	title,
	%s AS body,
	source,
	published_at
FROM %s
WHERE embedding IS NULL
  AND embedded_at IS NULL
ORDER BY COALESCE(published_at, created_at) DESC, id ASC
LIMIT $1
`, t.body, t.table)

	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("select unembedded %s: %w", class, err)
	}
	defer rows.Close()

	out := make([]PendingRow, 0, limit)
	for rows.Next() {
		var row PendingRow
		if err := rows.Scan(&row.ID, &row.Title, &row.Body, &row.Source, &row.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan unembedded %s row: %w", class, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unembedded %s rows: %w", class, err)
	}
	return out, nil
}

// WriteEmbedding stores the vector, model name and timestamp for one row in a
// single statement so readers never observe a partial write.
func (p *Pool) WriteEmbedding(
	ctx context.Context,
	class content.Class,
	id string,
	embedding []float64,
	model string,
	embeddedAt time.Time,
) error {
	t, err := tableFor(class)
	if err != nil {
		return err
	}
	if len(embedding) != EmbeddingDimensions {
		return fmt.Errorf("%s id=%s: %w: expected %d dimensions, got %d", class, id, vector.ErrDimensionMismatch, EmbeddingDimensions, len(embedding))
	}

	q := fmt.Sprintf(`
UPDATE %s
SET
	embedding = $1::vector,
	embedding_model = $2,
	embedded_at = $3
WHERE id = $4
`, t.table)

	affected, err := p.Exec(ctx, q, pgvector.NewVector(vector.ToFloat32(embedding)), model, embeddedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("write %s embedding id=%s: %w", class, id, err)
	}
	if affected == 0 {
		return fmt.Errorf("write %s embedding id=%s: %w", class, id, ErrNoRows)
	}
	return nil
}

// MarkSkipped records that a row has nothing to embed so later runs move past
// it. Rows that already hold an embedding are left alone.
func (p *Pool) MarkSkipped(ctx context.Context, class content.Class, id, reason string, at time.Time) error {
	t, err := tableFor(class)
	if err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("mark %s id=%s skipped: reason is required", class, id)
	}

	q := fmt.Sprintf(`
UPDATE %s
SET
	embedding_model = $1,
	embedded_at = $2
WHERE id = $3
  AND embedding IS NULL
`, t.table)

	affected, err := p.Exec(ctx, q, SkippedModelPrefix+reason, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark %s id=%s skipped: %w", class, id, err)
	}
	if affected == 0 {
		return fmt.Errorf("mark %s id=%s skipped: %w", class, id, ErrNoRows)
	}
	return nil
}

// NearestNeighbors returns embedded rows within maxDistance of embedding, nearest first.
func (p *Pool) NearestNeighbors(
	ctx context.Context,
	class content.Class,
	embedding []float64,
	limit int,
	maxDistance float64,
) ([]Neighbor, error) {
	t, err := tableFor(class)
	if err != nil {
		return nil, err
	}

	if len(embedding) != EmbeddingDimensions {
		return nil, fmt.Errorf("%s nearest neighbors: %w: expected %d dimensions, got %d", class, vector.ErrDimensionMismatch, EmbeddingDimensions, len(embedding))
	}

	q := fmt.Sprintf(`
SELECT
	id,
	title,
	(embedding <=> $1::vector)::DOUBLE PRECISION AS distance
FROM %s
WHERE embedding IS NOT NULL
  AND (embedding <=> $1::vector) <= $2
ORDER BY embedding <=> $1::vector ASC, id ASC
LIMIT $3
`, t.table)

	out := make([]Neighbor, 0, limit)
	err = p.WithTx(ctx, func(tx Querier) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", max(defaultSearchEF, limit))); err != nil {
			return fmt.Errorf("set hnsw.ef_search: %w", err)
		}

		rows, err := tx.Query(ctx, q, pgvector.NewVector(vector.ToFloat32(embedding)), maxDistance, limit)
		if err != nil {
			return fmt.Errorf("query %s nearest neighbors: %w", class, err)
		}
		defer rows.Close()

		for rows.Next() {
			var n Neighbor
			if err := rows.Scan(&n.ID, &n.Title, &n.Distance); err != nil {
				return fmt.Errorf("scan %s neighbor: %w", class, err)
			}
			out = append(out, n)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate %s neighbors: %w", class, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LoadCandidates returns rows published since the cutoff as items, highest
// score first. Rows without an embedding carry a nil Embedding.
func (p *Pool) LoadCandidates(ctx context.Context, class content.Class, since time.Time, limit int) ([]content.Item, error) {
	t, err := tableFor(class)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []content.Item{}, nil
	}

	q := fmt.Sprintf(`
SELECT
	id,
	title,
	score,
	embedding
FROM %s
WHERE COALESCE(published_at, created_at) >= $1
ORDER BY score DESC, COALESCE(published_at, created_at) DESC, id ASC
LIMIT $2
`, t.table)

	rows, err := p.Query(ctx, q, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("load %s candidates: %w", class, err)
	}
	defer rows.Close()

	out := make([]content.Item, 0, limit)
	for rows.Next() {
		var (
			item      content.Item
			embedding sql.Null[pgvector.Vector]
		)
		if err := rows.Scan(&item.ID, &item.Title, &item.Score, &embedding); err != nil {
			return nil, fmt.Errorf("scan %s candidate: %w", class, err)
		}
		if embedding.Valid {
			item.Embedding = vector.FromFloat32(embedding.V.Slice())
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s candidates: %w", class, err)
	}
	return out, nil
}
