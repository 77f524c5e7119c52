package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizeEndpoint(t *testing.T) {
	t.Parallel()

	if got := normalizeEndpoint("http://127.0.0.1:8844"); got != "http://127.0.0.1:8844/embed" {
		t.Fatalf("unexpected endpoint normalization: %q", got)
	}
	if got := normalizeEndpoint("http://127.0.0.1:8844/v1/embeddings"); got != "http://127.0.0.1:8844/v1/embeddings" {
		t.Fatalf("unexpected endpoint normalization for explicit path: %q", got)
	}
	if got := normalizeEndpoint(""); got != DefaultHTTPEndpoint {
		t.Fatalf("expected default endpoint, got %q", got)
	}
}

func TestHTTPProviderNativeProtocol(t *testing.T) {
	t.Parallel()

	var received embedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2],[0.3,0.4]],"elapsed_ms":3.5}`))
	}))
	defer server.Close()

	provider := NewHTTPProvider(HTTPConfig{Endpoint: server.URL})
	resp, err := provider.Embed(context.Background(), []string{"abcd", "abcdefgh"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(received.Texts) != 2 || received.MaxLength != DefaultHTTPMaxLength {
		t.Fatalf("unexpected request payload: %+v", received)
	}
	if len(resp.Data) != 2 || resp.Data[1].Index != 1 || resp.Data[1].Vector[0] != 0.3 {
		t.Fatalf("unexpected response data: %+v", resp.Data)
	}
	if resp.TotalTokens != 3 {
		t.Fatalf("expected estimated usage of 3 tokens, got %d", resp.TotalTokens)
	}
}

func TestHTTPProviderOpenAIStyleProtocolOutOfOrder(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 2 || req.Model != "local-model" {
			t.Errorf("unexpected request payload: %+v", req)
		}
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[2,2]},{"index":0,"embedding":[1,1]}],"usage":{"prompt_tokens":7,"total_tokens":7}}`))
	}))
	defer server.Close()

	provider := NewHTTPProvider(HTTPConfig{Endpoint: server.URL + "/v1/embeddings", Model: "local-model"})
	client := newTestClient(t, provider, DefaultOptions())

	vectors, tokens, err := client.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("embed batch: %v", err)
	}
	if tokens != 7 {
		t.Fatalf("expected 7 tokens, got %d", tokens)
	}
	if vectors[0][0] != 1 || vectors[1][0] != 2 {
		t.Fatalf("expected vectors re-sorted by index, got %v", vectors)
	}
}

func TestHTTPProviderRejectsMalformedResponse(t *testing.T) {
	t.Parallel()

	bodies := []string{
		`{"embeddings":[["x"]]}`,
		`{"vectors":[[1]]}`,
		`{"data":[{"embedding":[1]}]}`,
		`not json`,
		`{"embeddings":[[1]]} {}`,
	}
	for _, body := range bodies {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		provider := NewHTTPProvider(HTTPConfig{Endpoint: server.URL})
		_, err := provider.Embed(context.Background(), []string{"a"})
		server.Close()
		if !errors.Is(err, ErrProviderResponseInvalid) {
			t.Fatalf("body %s: expected ErrProviderResponseInvalid, got %v", body, err)
		}
	}
}

func TestHTTPProviderClassifiesStatusCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   error
	}{
		{status: http.StatusUnauthorized, want: ErrProviderAuth},
		{status: http.StatusForbidden, want: ErrProviderAuth},
		{status: http.StatusTooManyRequests, want: ErrProviderTransient},
		{status: http.StatusServiceUnavailable, want: ErrProviderTransient},
		{status: http.StatusBadRequest, want: ErrProviderRejected},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		provider := NewHTTPProvider(HTTPConfig{Endpoint: server.URL})
		_, err := provider.Embed(context.Background(), []string{"a"})
		server.Close()

		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		var providerErr *ProviderError
		if !errors.As(err, &providerErr) || providerErr.StatusCode != tc.status {
			t.Fatalf("status %d: expected ProviderError with status, got %#v", tc.status, err)
		}
	}
}

func TestNewProviderSelectsImplementation(t *testing.T) {
	t.Parallel()

	provider, err := NewProvider(Config{Provider: "http"})
	if err != nil {
		t.Fatalf("new http provider: %v", err)
	}
	if provider.Name() != "http" {
		t.Fatalf("expected http provider, got %s", provider.Name())
	}

	if _, err := NewProvider(Config{Provider: "openai"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected missing api key to be invalid, got %v", err)
	}
	if _, err := NewProvider(Config{Provider: "carrier-pigeon"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected unknown provider to be invalid, got %v", err)
	}
}

func TestDecodeEmbedResponseNamesFailingField(t *testing.T) {
	t.Parallel()

	_, err := decodeEmbedResponse([]byte(`{"embeddings":[[0.1, "x"]]}`))
	if err == nil || !strings.Contains(err.Error(), "/embeddings/0/1") {
		t.Fatalf("expected failing location in error, got %v", err)
	}

	parsed, err := decodeEmbedResponse([]byte("  {\"embeddings\":[[0.5,1]],\"elapsed_ms\":null}\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(parsed.Embeddings) != 1 || parsed.Embeddings[0][1] != 1 || parsed.ElapsedMS != nil {
		t.Fatalf("unexpected parsed response: %+v", parsed)
	}
}

func TestDecodeEmbedResponseRejectsTrailingContent(t *testing.T) {
	t.Parallel()

	for _, body := range []string{`{"embeddings":[[1]]} {}`, `{"embeddings":[[1]]} x`, "", "   "} {
		if _, err := decodeEmbedResponse([]byte(body)); err == nil {
			t.Fatalf("expected %q to be rejected", body)
		}
	}
}
