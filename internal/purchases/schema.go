package purchases

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const rcEventSchemaURL = "https://habituals.app/schemas/rc-event.json"

const rcEventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "type", "app_user_id", "product_id", "store"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "type": {"type": "string", "minLength": 1},
    "app_user_id": {"type": "string", "minLength": 1},
    "original_app_user_id": {"type": ["string", "null"]},
    "product_id": {"type": "string", "minLength": 1},
    "store": {"type": "string"},
    "purchased_at_ms": {"type": ["number", "null"], "minimum": 0}
  }
}`

func compileEventSchema() (*jsonschema.Schema, error) {
	document, err := jsonschema.UnmarshalJSON(strings.NewReader(rcEventSchema))
	if err != nil {
		return nil, fmt.Errorf("purchases: parse event schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(rcEventSchemaURL, document); err != nil {
		return nil, fmt.Errorf("purchases: add event schema: %w", err)
	}
	schema, err := compiler.Compile(rcEventSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("purchases: compile event schema: %w", err)
	}
	return schema, nil
}

func validateEvent(schema *jsonschema.Schema, raw []byte) error {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
