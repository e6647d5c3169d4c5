package adapter

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
)

// GenerateInput is one completion request: a rendered prompt plus an
// optional output schema. When Schema is set the response must be a single
// JSON document; validation happens at the caller.
type GenerateInput struct {
	System string
	Prompt string
	Schema *jsonschema.Schema
}

// LLM is the external completion capability. Implementations make no
// guarantee beyond returning the model's raw text; callers own schema
// validation and retries, so tests can drive the pipeline with
// deterministic stubs.
type LLM interface {
	Generate(ctx context.Context, input *GenerateInput) (string, error)
}
