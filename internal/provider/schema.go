package provider

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaValidator validates a structured response against the schema
// descriptor carried on the originating request, per spec §4.1's
// "validates against the schema, and raises InvalidOutput on failure".
type SchemaValidator struct {
	compiler *jsonschema.Compiler
}

func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{compiler: jsonschema.NewCompiler()}
}

// Validate compiles schema (a raw JSON Schema document) and checks payload
// against it. Both are decoded to `any` because jsonschema/v6 validates
// against generic JSON values, not Go structs.
func (v *SchemaValidator) Validate(schemaName string, schema json.RawMessage, payload json.RawMessage) error {
	if len(schema) == 0 {
		return nil // no schema attached to the request: nothing to check
	}
	var schemaDoc any
	if err := json.Unmarshal(schema, &schemaDoc); err != nil {
		return fmt.Errorf("provider: invalid schema document: %w", err)
	}
	if err := v.compiler.AddResource(schemaName, schemaDoc); err != nil {
		return fmt.Errorf("provider: add schema resource: %w", err)
	}
	compiled, err := v.compiler.Compile(schemaName)
	if err != nil {
		return fmt.Errorf("provider: compile schema: %w", err)
	}
	var inst any
	if err := json.Unmarshal(payload, &inst); err != nil {
		return fmt.Errorf("%w: not valid JSON: %v", ErrInvalidOutput, err)
	}
	if err := compiled.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return nil
}
