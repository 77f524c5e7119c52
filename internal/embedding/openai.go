package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/btighe428/cityping-sub002/internal/vector"
)

const (
	DefaultOpenAIModel      = "text-embedding-3-small"
	DefaultOpenAIDimensions = 1536
)

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// OpenAIProvider calls the embeddings endpoint of any OpenAI-compatible API.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	dimensions int
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: openai api key is required", ErrInvalidArgument)
	}
	if cfg.Dimensions < 0 {
		return nil, fmt.Errorf("%w: dimensions must be >= 0", ErrInvalidArgument)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(baseURL, "/")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultOpenAIModel
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) (Response, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: p.dimensions,
	})
	if err != nil {
		return Response{}, p.classify(err)
	}

	out := Response{
		Data:        make([]Datum, 0, len(resp.Data)),
		TotalTokens: resp.Usage.TotalTokens,
	}
	for _, row := range resp.Data {
		out.Data = append(out.Data, Datum{
			Index:  row.Index,
			Vector: vector.FromFloat32(row.Embedding),
		})
	}
	return out, nil
}

func (p *OpenAIProvider) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Kind:       classifyStatus(apiErr.HTTPStatusCode),
			Provider:   p.Name(),
			StatusCode: apiErr.HTTPStatusCode,
			Err:        err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{
			Kind:       classifyStatus(reqErr.HTTPStatusCode),
			Provider:   p.Name(),
			StatusCode: reqErr.HTTPStatusCode,
			Err:        err,
		}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &ProviderError{Kind: KindInvalidResponse, Provider: p.Name(), Err: err}
	}

	return &ProviderError{Kind: KindTransient, Provider: p.Name(), Err: err}
}
