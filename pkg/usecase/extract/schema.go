package extract

import (
	"github.com/google/jsonschema-go/jsonschema"
)

// outputSchema declares the structured output contract for the reflective
// analysis. Responses that do not satisfy it trigger a repair retry.
func outputSchema() *jsonschema.Schema {
	scope := &jsonschema.Schema{
		Type:        "string",
		Description: "universal applies to anyone on the project, environment_specific only to this user's setup",
		Enum:        []any{"universal", "environment_specific"},
	}
	stringArray := &jsonschema.Schema{
		Type:  "array",
		Items: &jsonschema.Schema{Type: "string"},
	}

	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"summary": {
				Type:        "string",
				Description: "One or two sentence summary of what the session accomplished",
			},
			"episodic": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"incident":   {Type: "string", Description: "What happened"},
						"context":    {Type: "string", Description: "What was being attempted"},
						"resolution": {Type: "string", Description: "How it was fixed, or 'unresolved'"},
						"file":       {Type: "string", Description: "Relevant file path if applicable"},
						"severity": {
							Type: "string",
							Enum: []any{"info", "warning", "error", "critical"},
						},
						"scope": scope,
					},
					Required: []string{"incident", "context", "resolution", "severity", "scope"},
				},
			},
			"semantic": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"knowledge": {Type: "string", Description: "The fact or rule discovered"},
						"category": {
							Type: "string",
							Enum: []any{
								"architecture", "patterns", "conventions", "dependencies",
								"testing", "deployment", "security", "performance",
							},
						},
						"confidence": {
							Type: "string",
							Enum: []any{"low", "medium", "high"},
						},
						"scope": scope,
					},
					Required: []string{"knowledge", "category", "confidence", "scope"},
				},
			},
			"procedural": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"workflow": {Type: "string", Description: "Name of the workflow"},
						"trigger":  {Type: "string", Description: "When to use this workflow"},
						"steps":    stringArray,
						"scope":    scope,
					},
					Required: []string{"workflow", "steps", "scope"},
				},
			},
			"decisions": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"decision":                {Type: "string", Description: "What was decided"},
						"rationale":               {Type: "string", Description: "Why this choice was made"},
						"alternatives_considered": stringArray,
						"date":                    {Type: "string", Description: "Decision date if stated, YYYY-MM-DD"},
						"scope":                   scope,
					},
					Required: []string{"decision", "rationale", "scope"},
				},
			},
			"gotchas": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"issue":    {Type: "string", Description: "The pitfall"},
						"cause":    {Type: "string", Description: "Root cause"},
						"solution": {Type: "string", Description: "How to avoid or fix"},
						"tags":     stringArray,
						"scope":    scope,
					},
					Required: []string{"issue", "scope"},
				},
			},
		},
		Required: []string{"summary", "episodic", "semantic", "procedural", "decisions", "gotchas"},
	}
}
