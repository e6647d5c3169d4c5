package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// toGenaiSchema converts JSON Schema to Gemini genai.Schema
func toGenaiSchema(schema *jsonschema.Schema) (*genai.Schema, error) {
	if schema == nil {
		return nil, nil
	}

	genaiSchema := &genai.Schema{}

	switch schema.Type {
	case "object":
		genaiSchema.Type = genai.TypeObject
	case "string":
		genaiSchema.Type = genai.TypeString
	case "number", "integer":
		genaiSchema.Type = genai.TypeNumber
	case "boolean":
		genaiSchema.Type = genai.TypeBoolean
	case "array":
		genaiSchema.Type = genai.TypeArray
	default:
		if schema.Type != "" {
			return nil, goerr.New("unsupported schema type", goerr.V("type", schema.Type))
		}
	}

	if schema.Description != "" {
		genaiSchema.Description = schema.Description
	}

	if len(schema.Enum) > 0 {
		genaiSchema.Enum = make([]string, len(schema.Enum))
		for i, v := range schema.Enum {
			if s, ok := v.(string); ok {
				genaiSchema.Enum[i] = s
			}
		}
	}

	if len(schema.Properties) > 0 {
		genaiSchema.Properties = make(map[string]*genai.Schema)
		for name, propSchema := range schema.Properties {
			converted, err := toGenaiSchema(propSchema)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to convert property schema",
					goerr.V("property", name))
			}
			genaiSchema.Properties[name] = converted
		}
	}

	if len(schema.Required) > 0 {
		genaiSchema.Required = schema.Required
	}

	if schema.Items != nil {
		converted, err := toGenaiSchema(schema.Items)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert items schema")
		}
		genaiSchema.Items = converted
	}

	return genaiSchema, nil
}

// ValidateJSON checks a raw completion response against the declared
// output schema. The walk covers the subset of JSON Schema this module
// declares: types, required properties, enums and array items.
func ValidateJSON(schema *jsonschema.Schema, raw []byte) error {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return goerr.Wrap(err, "response is not valid JSON")
	}
	return validateValue(schema, value, "$")
}

func validateValue(schema *jsonschema.Schema, value any, path string) error {
	if schema == nil {
		return nil
	}

	switch schema.Type {
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return goerr.New("expected object", goerr.V("path", path), goerr.V("got", typeName(value)))
		}
		for _, name := range schema.Required {
			if _, ok := obj[name]; !ok {
				return goerr.New("missing required property",
					goerr.V("path", path), goerr.V("property", name))
			}
		}
		for name, propSchema := range schema.Properties {
			prop, ok := obj[name]
			if !ok {
				continue
			}
			if err := validateValue(propSchema, prop, path+"."+name); err != nil {
				return err
			}
		}

	case "array":
		arr, ok := value.([]any)
		if !ok {
			return goerr.New("expected array", goerr.V("path", path), goerr.V("got", typeName(value)))
		}
		if schema.Items != nil {
			for i, elem := range arr {
				if err := validateValue(schema.Items, elem, fmt.Sprintf("%s[%d]", path, i)); err != nil {
					return err
				}
			}
		}

	case "string":
		s, ok := value.(string)
		if !ok {
			return goerr.New("expected string", goerr.V("path", path), goerr.V("got", typeName(value)))
		}
		if len(schema.Enum) > 0 {
			found := false
			for _, v := range schema.Enum {
				if ev, ok := v.(string); ok && ev == s {
					found = true
					break
				}
			}
			if !found {
				return goerr.New("value not in enum",
					goerr.V("path", path), goerr.V("value", s), goerr.V("enum", schema.Enum))
			}
		}

	case "number", "integer":
		if _, ok := value.(float64); !ok {
			return goerr.New("expected number", goerr.V("path", path), goerr.V("got", typeName(value)))
		}

	case "boolean":
		if _, ok := value.(bool); !ok {
			return goerr.New("expected boolean", goerr.V("path", path), goerr.V("got", typeName(value)))
		}
	}

	return nil
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}
