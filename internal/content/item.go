package content

import (
	"fmt"
	"strings"
)

// Item is the unit the dedup and clustering passes operate on.
// A nil Embedding means the item has not been embedded yet.
type Item struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Embedding []float64 `json:"embedding,omitempty"`
	Score     float64   `json:"score"`
}

func (i Item) HasEmbedding() bool {
	return len(i.Embedding) > 0
}

// Class names a content table that carries embeddings.
type Class string

const (
	ClassArticles Class = "articles"
	ClassAlerts   Class = "alerts"
)

func Classes() []Class {
	return []Class{ClassArticles, ClassAlerts}
}

func ParseClass(raw string) (Class, error) {
	switch Class(strings.ToLower(strings.TrimSpace(raw))) {
	case ClassArticles:
		return ClassArticles, nil
	case ClassAlerts:
		return ClassAlerts, nil
	default:
		return "", fmt.Errorf("unsupported content class %q (allowed: articles, alerts)", raw)
	}
}
