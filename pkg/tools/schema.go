package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// generateSchema derives a tool input schema from a Go struct using
// struct tags.
//
// Supported tags:
//   - json:"name" - parameter name
//   - json:",omitempty" - optional parameter
//   - jsonschema:"required" - explicitly mark as required
//   - jsonschema:"description=..." - parameter description
//   - jsonschema:"enum=a,enum=b" - allowed values
func generateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		// Required comes from jsonschema tags, not omitempty absence.
		RequiredFromJSONSchemaTags: true,

		// Inline everything; no $ref indirection for the model.
		ExpandedStruct: true,
		DoNotReference: true,
	}

	schema := reflector.Reflect(new(T))

	schemaMap, err := schemaToMap(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to convert schema to map: %w", err)
	}

	// Keep the object envelope minimal: type, properties, required.
	if schemaMap["type"] == "object" {
		result := map[string]any{
			"type":       "object",
			"properties": schemaMap["properties"],
		}
		if required, ok := schemaMap["required"]; ok {
			result["required"] = required
		}
		if addProps, ok := schemaMap["additionalProperties"]; ok {
			result["additionalProperties"] = addProps
		}
		return result, nil
	}

	return schemaMap, nil
}

// schemaToMap converts a jsonschema.Schema to map[string]any through a
// JSON round trip so nested schema types flatten uniformly.
func schemaToMap(schema *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	delete(result, "$schema")
	delete(result, "$id")

	return result, nil
}

// mustSchema panics on schema derivation failure. The built-in argument
// structs are fixed at compile time, so failure is a programming error.
func mustSchema[T any]() map[string]any {
	schema, err := generateSchema[T]()
	if err != nil {
		panic(err)
	}
	return schema
}
