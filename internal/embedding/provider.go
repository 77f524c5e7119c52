package embedding

import (
	"fmt"
	"strings"
	"time"
)

// Config selects and configures a provider. It mirrors the EMBEDDING_* settings.
type Config struct {
	Provider              string
	Model                 string
	Dimensions            int
	Endpoint              string
	APIKey                string
	BaseURL               string
	RequestTimeout        time.Duration
	MaxBatchSize          int
	MaxInputTokens        int
	PricePerMillionTokens float64
	RequestsPerSecond     float64
}

func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
	case "http":
		return NewHTTPProvider(HTTPConfig{
			Endpoint:       cfg.Endpoint,
			Model:          cfg.Model,
			RequestTimeout: cfg.RequestTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider %q (allowed: openai, http)", ErrInvalidArgument, cfg.Provider)
	}
}

// NewClientFromConfig builds the provider named by cfg and wraps it in a Client.
func NewClientFromConfig(cfg Config) (*Client, error) {
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}

	opts := DefaultOptions()
	if cfg.MaxBatchSize > 0 {
		opts.MaxBatchSize = cfg.MaxBatchSize
	}
	if cfg.MaxInputTokens > 0 {
		opts.MaxInputTokens = cfg.MaxInputTokens
	}
	if cfg.PricePerMillionTokens >= 0 {
		opts.PricePerMillionTokens = cfg.PricePerMillionTokens
	}
	opts.RequestsPerSecond = cfg.RequestsPerSecond
	opts.Dimensions = cfg.Dimensions
	return NewClient(provider, opts)
}
