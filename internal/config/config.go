package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"8"`

	EmbeddingProvider              string        `envconfig:"EMBEDDING_PROVIDER" default:"openai"`
	EmbeddingModel                 string        `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions            int           `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	EmbeddingEndpoint              string        `envconfig:"EMBEDDING_ENDPOINT" default:""`
	OpenAIAPIKey                   string        `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL                  string        `envconfig:"OPENAI_BASE_URL" default:""`
	EmbeddingMaxBatch              int           `envconfig:"EMBEDDING_MAX_BATCH" default:"2048"`
	EmbeddingMaxInputTokens        int           `envconfig:"EMBEDDING_MAX_INPUT_TOKENS" default:"8191"`
	EmbeddingPricePerMillionTokens float64       `envconfig:"EMBEDDING_PRICE_PER_MILLION_TOKENS" default:"0.02"`
	EmbeddingRequestTimeout        time.Duration `envconfig:"EMBEDDING_REQUEST_TIMEOUT" default:"45s"`
	EmbeddingRequestsPerSecond     float64       `envconfig:"EMBEDDING_REQUESTS_PER_SECOND" default:"0"`

	DedupTitleThreshold    float64 `envconfig:"DEDUP_TITLE_THRESHOLD" default:"0.7"`
	DedupSemanticThreshold float64 `envconfig:"DEDUP_SEMANTIC_THRESHOLD" default:"0.92"`
	ClusterThreshold       float64 `envconfig:"CLUSTER_THRESHOLD" default:"0.85"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) cannot exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	switch strings.ToLower(strings.TrimSpace(c.EmbeddingProvider)) {
	case "openai":
		if strings.TrimSpace(c.OpenAIAPIKey) == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when EMBEDDING_PROVIDER=openai")
		}
	case "http":
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be one of: openai, http")
	}
	if strings.TrimSpace(c.EmbeddingModel) == "" {
		return fmt.Errorf("EMBEDDING_MODEL is required")
	}
	if c.EmbeddingDimensions < 1 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be >= 1")
	}
	if c.EmbeddingMaxBatch < 1 {
		return fmt.Errorf("EMBEDDING_MAX_BATCH must be >= 1")
	}
	if c.EmbeddingMaxInputTokens < 1 {
		return fmt.Errorf("EMBEDDING_MAX_INPUT_TOKENS must be >= 1")
	}
	if c.EmbeddingPricePerMillionTokens < 0 {
		return fmt.Errorf("EMBEDDING_PRICE_PER_MILLION_TOKENS must be >= 0")
	}
	if c.EmbeddingRequestTimeout <= 0 {
		return fmt.Errorf("EMBEDDING_REQUEST_TIMEOUT must be > 0")
	}
	if c.EmbeddingRequestsPerSecond < 0 {
		return fmt.Errorf("EMBEDDING_REQUESTS_PER_SECOND must be >= 0")
	}

	if err := validateUnitInterval("DEDUP_TITLE_THRESHOLD", c.DedupTitleThreshold, 0); err != nil {
		return err
	}
	if err := validateUnitInterval("DEDUP_SEMANTIC_THRESHOLD", c.DedupSemanticThreshold, -1); err != nil {
		return err
	}
	if err := validateUnitInterval("CLUSTER_THRESHOLD", c.ClusterThreshold, -1); err != nil {
		return err
	}
	return nil
}

func validateUnitInterval(name string, value, lower float64) error {
	if value < lower || value > 1 {
		return fmt.Errorf("%s must be within [%g, 1]", name, lower)
	}
	return nil
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
