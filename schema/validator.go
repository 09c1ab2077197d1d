// Package schema derives JSON Schemas from Go types and validates documents
// against them. Config files and persisted session records both go through it.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	reflector "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Option adjusts the reflector used to derive a schema.
type Option func(*reflector.Reflector)

// AllowAdditional permits properties the Go type does not declare, for
// documents that other versions of the program may also write.
func AllowAdditional() Option {
	return func(r *reflector.Reflector) {
		r.AllowAdditionalProperties = true
	}
}

// Generate reflects v into a draft-07 JSON Schema document.
func Generate(v interface{}, title string, opts ...Option) ([]byte, error) {
	r := &reflector.Reflector{
		AllowAdditionalProperties: false,
		ExpandedStruct:            true,
		DoNotReference:            true,
	}
	for _, opt := range opts {
		opt(r)
	}
	s := r.Reflect(v)
	s.Title = title
	s.Version = "http://json-schema.org/draft-07/schema#"
	return json.MarshalIndent(s, "", "  ")
}

// Validator validates documents against a compiled schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the schema reflected from v.
func NewValidator(name string, v interface{}, opts ...Option) (*Validator, error) {
	data, err := Generate(v, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema %s: %w", name, err)
	}
	return NewValidatorFromBytes(name, data)
}

// NewValidatorFromBytes compiles a raw JSON Schema document.
func NewValidatorFromBytes(name string, data []byte) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	resource := name + ".json"
	if err := compiler.AddResource(resource, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	compiled, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: compiled}, nil
}

// Validate validates any value that can be marshaled to JSON.
func (v *Validator) Validate(data interface{}) error {
	// The schema expects plain JSON-like values, not Go structs.
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal document for validation: %w", err)
	}
	return v.ValidateJSON(jsonData)
}

// ValidateJSON validates a raw JSON document.
func (v *Validator) ValidateJSON(raw []byte) error {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		if validationErr, ok := err.(*jsonschema.ValidationError); ok {
			var errorMessages []string
			collectErrors(validationErr, &errorMessages)
			return fmt.Errorf("schema validation failed:\n%s", strings.Join(errorMessages, "\n"))
		}
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

// collectErrors recursively collects all validation errors into a slice
func collectErrors(err *jsonschema.ValidationError, messages *[]string) {
	if err.InstanceLocation != "" || len(err.Causes) == 0 {
		*messages = append(*messages, fmt.Sprintf("- %s: %s", err.InstanceLocation, err.Message))
	}
	for _, cause := range err.Causes {
		collectErrors(cause, messages)
	}
}
