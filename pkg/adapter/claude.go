package adapter

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"
)

// ClaudeClient implements LLM using the Anthropic Messages API. Claude has
// no server-side response schema, so the schema is appended to the prompt
// and enforced by the caller's validation loop.
type ClaudeClient struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

type ClaudeOption func(*ClaudeClient)

func WithClaudeModel(model string) ClaudeOption {
	return func(c *ClaudeClient) {
		c.model = anthropic.Model(model)
	}
}

func WithMaxTokens(n int64) ClaudeOption {
	return func(c *ClaudeClient) {
		c.maxTokens = n
	}
}

func NewClaude(apiKey string, opts ...ClaudeOption) *ClaudeClient {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	c := &ClaudeClient{
		client:    &client,
		model:     anthropic.ModelClaude3_5Sonnet20241022,
		maxTokens: 8192,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *ClaudeClient) Generate(ctx context.Context, input *GenerateInput) (string, error) {
	prompt := input.Prompt
	if input.Schema != nil {
		schemaJSON, err := json.MarshalIndent(input.Schema, "", "  ")
		if err != nil {
			return "", goerr.Wrap(err, "failed to marshal output schema")
		}
		prompt += "\n\nRespond with a single JSON document matching this schema. Output the JSON only, no prose and no code fences:\n" + string(schemaJSON)
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if input.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: input.System},
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", goerr.Wrap(err, "failed to call anthropic messages API")
	}

	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text := block.AsText()
			if text.Text != "" {
				parts = append(parts, text.Text)
			}
		}
	}

	if len(parts) == 0 {
		return "", goerr.New("empty response from claude")
	}

	return strings.Join(parts, "\n"), nil
}
