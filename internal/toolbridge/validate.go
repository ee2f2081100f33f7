package toolbridge

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/dynamous-community/YokeFlow/internal/yokeerr"
)

// maxPayloadBytes bounds tool call input, per spec.md §4.5: "input payloads
// are bounded; oversized inputs return a bounded-size error without being
// buffered." The check runs before any json.Unmarshal so an oversized
// payload never gets fully parsed.
const maxPayloadBytes = 64 * 1024

// validator compiles the catalog's JSON Schemas once at construction and
// validates tool call payloads against them.
type validator struct {
	compiled map[ToolName]*jsonschema.Schema
}

func newValidator() (*validator, error) {
	compiled := make(map[ToolName]*jsonschema.Schema, len(schemas))
	for name, schemaText := range schemas {
		var schemaDoc any
		if err := json.Unmarshal([]byte(schemaText), &schemaDoc); err != nil {
			return nil, fmt.Errorf("unmarshal schema for %s: %w", name, err)
		}
		c := jsonschema.NewCompiler()
		resourceID := string(name) + ".json"
		if err := c.AddResource(resourceID, schemaDoc); err != nil {
			return nil, fmt.Errorf("add schema resource for %s: %w", name, err)
		}
		schema, err := c.Compile(resourceID)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", name, err)
		}
		compiled[name] = schema
	}
	return &validator{compiled: compiled}, nil
}

// validate checks payload's size, decodes it, and validates it against
// name's schema, returning the decoded document on success.
func (v *validator) validate(name ToolName, payload []byte) (map[string]any, error) {
	if len(payload) > maxPayloadBytes {
		return nil, yokeerr.New(yokeerr.KindPrecondition, false,
			"payload for %s exceeds %d bytes", name, maxPayloadBytes)
	}
	schema, ok := v.compiled[name]
	if !ok {
		return nil, yokeerr.New(yokeerr.KindNotFound, false, "unknown tool %q", name)
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, yokeerr.Wrap(yokeerr.KindPrecondition, false, err, "payload for %s is not valid JSON", name)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, yokeerr.Wrap(yokeerr.KindPrecondition, false, err, "payload for %s failed schema validation", name)
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, yokeerr.New(yokeerr.KindPrecondition, false, "payload for %s must be a JSON object", name)
	}
	return obj, nil
}
