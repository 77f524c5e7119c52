package embedding

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const embedResponseSchemaURL = "embed_response.schema.json"

//go:embed embed_response.schema.json
var embedResponseSchemaJSON string

var responseSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(embedResponseSchemaURL, strings.NewReader(embedResponseSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(embedResponseSchemaURL)
})

// embedResponse accepts both the {"embeddings": [...]} and the OpenAI-style
// {"data": [{"index", "embedding"}]} shapes.
type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	ElapsedMS  *float64    `json:"elapsed_ms"`
	Data       []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage *struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func decodeEmbedResponse(raw []byte) (*embedResponse, error) {
	trimmed := bytes.TrimSpace(raw)
	value, err := decodeStrictJSON(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode response JSON: %w", err)
	}

	schema, err := responseSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %s", describeValidation(err))
	}

	var parsed embedResponse
	if err := json.Unmarshal(trimmed, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &parsed, nil
}

// decodeStrictJSON decodes a single JSON document with numbers kept as
// json.Number, the form the schema validator expects.
func decodeStrictJSON(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("response body is empty")
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if _, err := decoder.Token(); err != io.EOF {
		return nil, fmt.Errorf("response contains trailing content")
	}
	return value, nil
}

// describeValidation reports the deepest failing location, which names the
// offending field rather than the schema root.
func describeValidation(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	location := ve.InstanceLocation
	if location == "" {
		location = "/"
	}
	return fmt.Sprintf("%s: %s", location, ve.Message)
}
