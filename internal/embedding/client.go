package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

const (
	DefaultMaxBatchSize          = 2048
	DefaultMaxInputTokens        = 8191
	DefaultCharsPerToken         = 4
	DefaultPricePerMillionTokens = 0.02
)

// Provider is a remote embedding model. Implementations perform exactly one
// request per call and never retry.
type Provider interface {
	Name() string
	Model() string
	Embed(ctx context.Context, texts []string) (Response, error)
}

// Response is the strict shape every provider decodes its payload into.
type Response struct {
	Data        []Datum
	TotalTokens int
}

type Datum struct {
	Index  int
	Vector []float64
}

type Options struct {
	MaxBatchSize          int
	MaxInputTokens        int
	CharsPerToken         int
	PricePerMillionTokens float64
	// RequestsPerSecond caps provider calls; zero disables the limit.
	RequestsPerSecond float64
	// Dimensions, when set, is the only vector width the client accepts.
	Dimensions int
}

func DefaultOptions() Options {
	return Options{
		MaxBatchSize:          DefaultMaxBatchSize,
		MaxInputTokens:        DefaultMaxInputTokens,
		CharsPerToken:         DefaultCharsPerToken,
		PricePerMillionTokens: DefaultPricePerMillionTokens,
	}
}

// Client enforces batch bounds and input budgets around a Provider and
// restores input order on the way back.
type Client struct {
	provider Provider
	opts     Options
	limiter  *rate.Limiter
}

func NewClient(provider Provider, opts Options) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: embedding provider is nil", ErrInvalidArgument)
	}
	if opts.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("%w: max batch size must be > 0", ErrInvalidArgument)
	}
	if opts.MaxInputTokens <= 0 {
		return nil, fmt.Errorf("%w: max input tokens must be > 0", ErrInvalidArgument)
	}
	if opts.CharsPerToken <= 0 {
		return nil, fmt.Errorf("%w: chars per token must be > 0", ErrInvalidArgument)
	}
	if opts.PricePerMillionTokens < 0 || math.IsNaN(opts.PricePerMillionTokens) {
		return nil, fmt.Errorf("%w: price per million tokens must be >= 0", ErrInvalidArgument)
	}
	if opts.RequestsPerSecond < 0 || math.IsNaN(opts.RequestsPerSecond) {
		return nil, fmt.Errorf("%w: requests per second must be >= 0", ErrInvalidArgument)
	}
	if opts.Dimensions < 0 {
		return nil, fmt.Errorf("%w: dimensions must be >= 0", ErrInvalidArgument)
	}

	client := &Client{provider: provider, opts: opts}
	if opts.RequestsPerSecond > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return client, nil
}

func (c *Client) MaxBatchSize() int {
	return c.opts.MaxBatchSize
}

// ModelName identifies the vectors this client produces, e.g. "openai/text-embedding-3-small".
func (c *Client) ModelName() string {
	return c.provider.Name() + "/" + c.provider.Model()
}

func (c *Client) EmbedOne(ctx context.Context, text string) ([]float64, int, error) {
	vectors, tokens, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, 0, err
	}
	return vectors[0], tokens, nil
}

// EmbedBatch returns one vector per input, in input order, plus the
// provider-reported token usage. Batches larger than MaxBatchSize are
// rejected rather than split.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, int, error) {
	if len(texts) == 0 {
		return nil, 0, fmt.Errorf("%w: embedding batch is empty", ErrInvalidArgument)
	}
	if len(texts) > c.opts.MaxBatchSize {
		return nil, 0, fmt.Errorf("%w: batch of %d exceeds max batch size %d", ErrInvalidArgument, len(texts), c.opts.MaxBatchSize)
	}

	inputs := make([]string, len(texts))
	for i, text := range texts {
		inputs[i] = Truncate(text, c.opts.MaxInputTokens, c.opts.CharsPerToken)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, fmt.Errorf("wait for embedding rate limit: %w", err)
		}
	}

	resp, err := c.provider.Embed(ctx, inputs)
	if err != nil {
		var providerErr *ProviderError
		if errors.As(err, &providerErr) {
			return nil, 0, err
		}
		return nil, 0, &ProviderError{Kind: KindTransient, Provider: c.provider.Name(), Err: err}
	}

	vectors, err := orderedVectors(c.provider.Name(), resp, len(inputs))
	if err != nil {
		return nil, 0, err
	}
	if want := c.opts.Dimensions; want > 0 && len(vectors[0]) != want {
		return nil, 0, invalidResponse(c.provider.Name(), "model %s returned %d dimensions, configured EMBEDDING_DIMENSIONS is %d", c.provider.Model(), len(vectors[0]), want)
	}
	return vectors, resp.TotalTokens, nil
}

// EstimateCost is a linear estimate in dollars; it is not a billing figure.
func (c *Client) EstimateCost(tokens int) float64 {
	return float64(tokens) * c.opts.PricePerMillionTokens / 1_000_000
}

// EstimateTokens approximates the token count of text from its length.
func (c *Client) EstimateTokens(text string) int {
	return EstimateTokens(text, c.opts.CharsPerToken)
}

func EstimateTokens(text string, charsPerToken int) int {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	runes := utf8.RuneCountInString(text)
	return (runes + charsPerToken - 1) / charsPerToken
}

// Truncate keeps the prefix of text that fits maxTokens under the
// chars-per-token approximation.
func Truncate(text string, maxTokens, charsPerToken int) string {
	if maxTokens <= 0 {
		return text
	}
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	maxChars := maxTokens * charsPerToken
	if utf8.RuneCountInString(text) <= maxChars {
		return text
	}

	count := 0
	for i := range text {
		if count == maxChars {
			return strings.TrimSpace(text[:i])
		}
		count++
	}
	return text
}

func orderedVectors(provider string, resp Response, expected int) ([][]float64, error) {
	if len(resp.Data) != expected {
		return nil, invalidResponse(provider, "expected %d vectors, got %d", expected, len(resp.Data))
	}
	if resp.TotalTokens < 0 {
		return nil, invalidResponse(provider, "negative token usage %d", resp.TotalTokens)
	}

	data := make([]Datum, len(resp.Data))
	copy(data, resp.Data)
	sort.SliceStable(data, func(i, j int) bool {
		return data[i].Index < data[j].Index
	})

	vectors := make([][]float64, len(data))
	dims := len(data[0].Vector)
	for i, datum := range data {
		if datum.Index != i {
			return nil, invalidResponse(provider, "missing or duplicate index %d", i)
		}
		if len(datum.Vector) == 0 {
			return nil, invalidResponse(provider, "empty vector at index %d", i)
		}
		if len(datum.Vector) != dims {
			return nil, invalidResponse(provider, "vector at index %d has %d dimensions, expected %d", i, len(datum.Vector), dims)
		}
		for j, value := range datum.Vector {
			if math.IsNaN(value) || math.IsInf(value, 0) {
				return nil, invalidResponse(provider, "vector at index %d has non-finite value at %d", i, j)
			}
		}
		vectors[i] = datum.Vector
	}
	return vectors, nil
}
