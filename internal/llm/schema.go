package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/shaharzep/decision-extract/internal/common"
)

// CompileSchema compiles a generic schema map once so it can be reused across
// many rows. Compile errors are configuration-class: the job definition is bad.
func CompileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, common.NewAppError("SCHEMA_COMPILE", "add schema resource", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, common.NewAppError("SCHEMA_COMPILE", "compile schema", err)
	}
	return schema, nil
}

// ValidateAgainstSchema validates "data" against "schemaMap". A mismatch is a
// validation-class failure: retrying the same input will not fix it.
func ValidateAgainstSchema(schemaMap map[string]any, data []byte) error {
	schema, err := CompileSchema(schemaMap)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return common.NewAppError("RESPONSE_NOT_JSON", "response is not valid JSON", common.ErrValidation)
	}
	if err := schema.Validate(v); err != nil {
		return common.NewAppError("SCHEMA_MISMATCH", "json does not match schema", fmt.Errorf("%w: %v", common.ErrValidation, err))
	}
	return nil
}

// BuildCitedProvisionsSchema returns the default JSON-Schema (draft 2020-12
// subset) for provision-extraction jobs, as a generic map. Callers with other
// job shapes supply their own schema instead.
func BuildCitedProvisionsSchema() map[string]any {
	provision := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"provision": map[string]any{"type": "string", "minLength": 1},
			"act":       map[string]any{"type": "string"},
			"article":   map[string]any{"type": "string"},
		},
		"required": []string{"provision"},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"decision_id":     map[string]any{"type": "string", "minLength": 1},
			"language":        map[string]any{"type": "string", "minLength": 2, "maxLength": 2},
			"citedProvisions": map[string]any{"type": "array", "items": provision},
		},
		"required": []string{"decision_id", "language", "citedProvisions"},
	}
}
