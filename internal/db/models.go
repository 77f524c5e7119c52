package db

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// EmbeddingDimensions is the width of every embedding column.
const EmbeddingDimensions = 1536

// Article maps content.articles.
type Article struct {
	ID             string           `gorm:"column:id;type:text;primaryKey"`
	Title          string           `gorm:"column:title;type:text;not null"`
	Body           *string          `gorm:"column:body;type:text"`
	Snippet        *string          `gorm:"column:snippet;type:text"`
	Source         string           `gorm:"column:source;type:text;not null"`
	URL            *string          `gorm:"column:url;type:text"`
	Score          float64          `gorm:"column:score;type:double precision;not null;default:0"`
	PublishedAt    *time.Time       `gorm:"column:published_at;type:timestamptz"`
	Embedding      *pgvector.Vector `gorm:"column:embedding;type:vector(1536)"`
	EmbeddingModel *string          `gorm:"column:embedding_model;type:text"`
	EmbeddedAt     *time.Time       `gorm:"column:embedded_at;type:timestamptz"`
	CreatedAt      time.Time        `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Article) TableName() string { return "content.articles" }

// Alert maps content.alerts.
type Alert struct {
	ID             string           `gorm:"column:id;type:text;primaryKey"`
	Title          string           `gorm:"column:title;type:text;not null"`
	Description    *string          `gorm:"column:description;type:text"`
	Source         string           `gorm:"column:source;type:text;not null"`
	Severity       *string          `gorm:"column:severity;type:text"`
	Score          float64          `gorm:"column:score;type:double precision;not null;default:0"`
	StartsAt       *time.Time       `gorm:"column:starts_at;type:timestamptz"`
	PublishedAt    *time.Time       `gorm:"column:published_at;type:timestamptz"`
	Embedding      *pgvector.Vector `gorm:"column:embedding;type:vector(1536)"`
	EmbeddingModel *string          `gorm:"column:embedding_model;type:text"`
	EmbeddedAt     *time.Time       `gorm:"column:embedded_at;type:timestamptz"`
	CreatedAt      time.Time        `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Alert) TableName() string { return "content.alerts" }

func autoMigrateModels() []any {
	return []any{
		&Article{},
		&Alert{},
	}
}
