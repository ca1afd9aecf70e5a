package domain

import (
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// argSchema is the compiled form of a tool's ToolParameters.
type argSchema struct {
	schema *openapi3.Schema
}

func compileArgSchema(params ToolParameters) (*argSchema, error) {
	if len(params.Properties) == 0 {
		return &argSchema{}, nil
	}
	typ := params.Type
	if typ == "" {
		typ = "object"
	}
	// Required fields are checked separately so the diagnostic can name them.
	raw, err := json.Marshal(map[string]any{
		"type":       typ,
		"properties": params.Properties,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}
	var schema openapi3.Schema
	if err := schema.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	return &argSchema{schema: &schema}, nil
}

// validate checks args against the schema. Extra properties are allowed.
func (s *argSchema) validate(args map[string]any) error {
	if s == nil || s.schema == nil {
		return nil
	}
	return s.schema.VisitJSON(args)
}
