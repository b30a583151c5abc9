package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator compiles and caches per-tool JSON Schema validators so the Tool
// Executor (4.F step 3) can reject malformed arguments before invoking a
// tool server.
type Validator struct {
	compiled map[Ident]*jsonschema.Schema
}

// NewValidator builds a Validator by compiling every spec's InputSchema
// up-front. A spec with an empty InputSchema is treated as schema-less
// (always valid) — useful for tools that take no structured arguments.
func NewValidator(specs []*Spec) (*Validator, error) {
	v := &Validator{compiled: make(map[Ident]*jsonschema.Schema, len(specs))}
	for _, s := range specs {
		if s == nil || len(s.InputSchema) == 0 {
			continue
		}
		c := jsonschema.NewCompiler()
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(s.InputSchema))
		if err != nil {
			return nil, fmt.Errorf("tools: decode schema for %q: %w", s.Name, err)
		}
		resource := string(s.Name) + ".json"
		if err := c.AddResource(resource, doc); err != nil {
			return nil, fmt.Errorf("tools: add schema resource for %q: %w", s.Name, err)
		}
		schema, err := c.Compile(resource)
		if err != nil {
			return nil, fmt.Errorf("tools: compile schema for %q: %w", s.Name, err)
		}
		v.compiled[s.Name] = schema
	}
	return v, nil
}

// Validate checks arguments against the compiled schema for name. Returns nil
// if the tool has no declared schema.
func (v *Validator) Validate(name Ident, arguments json.RawMessage) error {
	schema, ok := v.compiled[name]
	if !ok {
		return nil
	}
	var doc any
	if err := json.Unmarshal(arguments, &doc); err != nil {
		return fmt.Errorf("tools: decode arguments for %q: %w", name, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("tools: arguments for %q: %w", name, err)
	}
	return nil
}
