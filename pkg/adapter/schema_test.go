package adapter_test

import (
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/recall/pkg/adapter"
)

func testSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"summary": {Type: "string"},
			"severity": {
				Type: "string",
				Enum: []any{"info", "warning", "error", "critical"},
			},
			"steps": {
				Type:  "array",
				Items: &jsonschema.Schema{Type: "string"},
			},
			"count": {Type: "integer"},
		},
		Required: []string{"summary", "steps"},
	}
}

func TestValidateJSON(t *testing.T) {
	schema := testSchema()

	testCases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{
			name: "valid",
			raw:  `{"summary": "fixed the build", "severity": "info", "steps": ["a", "b"], "count": 2}`,
		},
		{
			name: "valid without optional fields",
			raw:  `{"summary": "ok", "steps": []}`,
		},
		{
			name:    "not json",
			raw:     `summary: fixed`,
			wantErr: true,
		},
		{
			name:    "missing required",
			raw:     `{"summary": "no steps"}`,
			wantErr: true,
		},
		{
			name:    "wrong type for array",
			raw:     `{"summary": "x", "steps": "not an array"}`,
			wantErr: true,
		},
		{
			name:    "wrong element type",
			raw:     `{"summary": "x", "steps": [1, 2]}`,
			wantErr: true,
		},
		{
			name:    "enum violation",
			raw:     `{"summary": "x", "severity": "fatal", "steps": []}`,
			wantErr: true,
		},
		{
			name:    "root not object",
			raw:     `["a"]`,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := adapter.ValidateJSON(schema, []byte(tc.raw))
			if tc.wantErr {
				gt.Error(t, err)
			} else {
				gt.NoError(t, err)
			}
		})
	}
}
