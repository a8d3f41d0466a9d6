package executor

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// namedSchemas holds the JSON Schema text for every schema name an Extract
// step's "schema" parameter may reference. A name with no entry here is
// passed through unvalidated (the Planning composite's per-topic schemas,
// e.g. "flights_schema", are descriptive labels rather than validated
// contracts, since spec.md does not define their shape).
var namedSchemas = map[string]string{
	"result_list_schema": `{
		"type": "object",
		"required": ["items"],
		"properties": {
			"items": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"label": {"type": "string"},
						"role": {"type": "string"}
					}
				}
			}
		}
	}`,
	"semantic_schema": `{
		"type": "object",
		"properties": {
			"semantic_class": {"type": "string"},
			"principal_content": {"type": "string"},
			"entity_hints": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	"user_schema": `{
		"type": "object",
		"required": ["source_url"],
		"properties": {
			"source_url": {"type": "string"}
		}
	}`,
}

// SchemaRegistry compiles and caches the named Extract-step schemas.
type SchemaRegistry struct {
	compiled map[string]*jsonschema.Schema
}

// DefaultSchemaRegistry compiles every entry in namedSchemas up front so a
// malformed schema fails at construction rather than mid-plan.
func DefaultSchemaRegistry() *SchemaRegistry {
	reg := &SchemaRegistry{compiled: make(map[string]*jsonschema.Schema, len(namedSchemas))}
	for name, text := range namedSchemas {
		schema, err := jsonschema.CompileString(name, text)
		if err != nil {
			panic(fmt.Sprintf("executor: invalid built-in schema %q: %v", name, err))
		}
		reg.compiled[name] = schema
	}
	return reg
}

// Validate checks record against the named schema. Unknown names are a
// no-op; spec.md §4.6's topic-specific Planning schemas have no defined
// shape to validate against.
func (r *SchemaRegistry) Validate(name string, record map[string]any) error {
	schema, ok := r.compiled[name]
	if !ok {
		return nil
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("executor: encode extract record: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("executor: decode extract record: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("executor: extract record failed schema %q: %w", name, err)
	}
	return nil
}
