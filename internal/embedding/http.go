package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultHTTPEndpoint       = "http://127.0.0.1:8844/embed"
	DefaultHTTPModel          = "Qwen3-Embedding-8B"
	DefaultHTTPMaxLength      = 512
	DefaultHTTPRequestTimeout = 45 * time.Second
)

type HTTPConfig struct {
	Endpoint       string
	Model          string
	MaxLength      int
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// HTTPProvider talks to a self-hosted embedding service. It speaks the
// native /embed protocol ({"texts": [...]}) and the OpenAI-style
// /v1/embeddings protocol ({"input": [...]}), chosen by endpoint path.
type HTTPProvider struct {
	endpoint       string
	model          string
	maxLength      int
	requestTimeout time.Duration
	httpClient     *http.Client
}

type embedRequest struct {
	Texts     []string `json:"texts,omitempty"`
	Input     []string `json:"input,omitempty"`
	Model     string   `json:"model,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
}

func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	p := &HTTPProvider{
		endpoint:       normalizeEndpoint(cfg.Endpoint),
		model:          strings.TrimSpace(cfg.Model),
		maxLength:      cfg.MaxLength,
		requestTimeout: cfg.RequestTimeout,
		httpClient:     cfg.HTTPClient,
	}
	if p.model == "" {
		p.model = DefaultHTTPModel
	}
	if p.maxLength <= 0 {
		p.maxLength = DefaultHTTPMaxLength
	}
	if p.requestTimeout <= 0 {
		p.requestTimeout = DefaultHTTPRequestTimeout
	}
	if p.httpClient == nil {
		p.httpClient = http.DefaultClient
	}
	return p
}

func (p *HTTPProvider) Name() string     { return "http" }
func (p *HTTPProvider) Model() string    { return p.model }
func (p *HTTPProvider) Endpoint() string { return p.endpoint }

func (p *HTTPProvider) Embed(ctx context.Context, texts []string) (Response, error) {
	payload := embedRequest{
		Texts:     texts,
		MaxLength: p.maxLength,
	}
	openAIStyle := false
	parsedEndpoint, err := url.Parse(p.endpoint)
	if err == nil && strings.HasSuffix(parsedEndpoint.Path, "/v1/embeddings") {
		openAIStyle = true
		payload = embedRequest{
			Input: texts,
			Model: p.model,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("%w: marshal embedding request: %v", ErrInvalidArgument, err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("%w: build embedding request: %v", ErrInvalidArgument, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Response{}, &ProviderError{Kind: KindTransient, Provider: p.Name(), Err: fmt.Errorf("embedding request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &ProviderError{Kind: KindTransient, Provider: p.Name(), StatusCode: resp.StatusCode, Err: fmt.Errorf("read embedding response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, &ProviderError{
			Kind:       classifyStatus(resp.StatusCode),
			Provider:   p.Name(),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("embedding service status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
		}
	}

	parsed, err := decodeEmbedResponse(respBody)
	if err != nil {
		return Response{}, &ProviderError{Kind: KindInvalidResponse, Provider: p.Name(), StatusCode: resp.StatusCode, Err: err}
	}

	out := Response{}
	if len(parsed.Data) > 0 {
		out.Data = make([]Datum, 0, len(parsed.Data))
		for _, row := range parsed.Data {
			out.Data = append(out.Data, Datum{Index: row.Index, Vector: row.Embedding})
		}
	} else {
		out.Data = make([]Datum, 0, len(parsed.Embeddings))
		for i, row := range parsed.Embeddings {
			out.Data = append(out.Data, Datum{Index: i, Vector: row})
		}
	}

	if parsed.Usage != nil {
		out.TotalTokens = parsed.Usage.TotalTokens
		if out.TotalTokens == 0 {
			out.TotalTokens = parsed.Usage.PromptTokens
		}
	} else if !openAIStyle {
		// The native protocol does not report usage.
		for _, text := range texts {
			out.TotalTokens += EstimateTokens(text, DefaultCharsPerToken)
		}
	}
	return out, nil
}

func normalizeEndpoint(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultHTTPEndpoint
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/embed"
	}
	return parsed.String()
}
