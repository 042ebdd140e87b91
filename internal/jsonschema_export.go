package internal

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/lychee-technology/projection"
)

// ToJSONSchema describes the JSON form of records that conform to schema.
// Nullable fields accept null; bytes are base64 strings as produced by
// encoding/json.
func ToJSONSchema(schema *projection.Schema) *jsonschema.Schema {
	fields := schema.Fields()
	doc := &jsonschema.Schema{
		Title:                schema.RecordName(),
		Type:                 "object",
		Properties:           make(map[string]*jsonschema.Schema, len(fields)),
		Required:             make([]string, 0, len(fields)),
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
	for _, f := range fields {
		doc.Properties[f.Name] = fieldJSONSchema(f.Type)
		doc.Required = append(doc.Required, f.Name)
	}
	return doc
}

func fieldJSONSchema(ft projection.FieldType) *jsonschema.Schema {
	s := &jsonschema.Schema{}
	var jsonType string
	switch ft.Type {
	case projection.TypeBoolean:
		jsonType = "boolean"
	case projection.TypeInt:
		jsonType = "integer"
		minimum, maximum := float64(math.MinInt32), float64(math.MaxInt32)
		s.Minimum, s.Maximum = &minimum, &maximum
	case projection.TypeLong:
		jsonType = "integer"
	case projection.TypeFloat, projection.TypeDouble:
		// non-finite values are written as strings
		s.AnyOf = []*jsonschema.Schema{
			{Type: "number"},
			{Type: "string", Enum: []any{"NaN", "Infinity", "-Infinity"}},
		}
		if ft.Nullable {
			s.AnyOf = append(s.AnyOf, &jsonschema.Schema{Type: "null"})
		}
		return s
	case projection.TypeString:
		jsonType = "string"
	case projection.TypeBytes:
		jsonType = "string"
		s.ContentEncoding = "base64"
	case projection.TypeNull:
		jsonType = "null"
	default:
		// complex values are carried opaquely
		return s
	}
	if ft.Nullable && jsonType != "null" {
		s.Types = []string{jsonType, "null"}
	} else {
		s.Type = jsonType
	}
	return s
}

// OutputValidator checks projected records against the JSON Schema of their
// output schema. Resolved schemas are cached per output schema.
type OutputValidator struct {
	mu       sync.RWMutex
	resolved map[string]*jsonschema.Resolved
}

// NewOutputValidator creates an empty validator.
func NewOutputValidator() *OutputValidator {
	return &OutputValidator{resolved: make(map[string]*jsonschema.Resolved)}
}

// Validate marshals record to JSON and validates it.
func (v *OutputValidator) Validate(record *projection.Record) error {
	resolved, err := v.resolve(record.Schema())
	if err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}

	if err := resolved.Validate(instance); err != nil {
		return projection.NewProjectionError(projection.ErrorTypeConversion, projection.ErrCodeOutputValidation,
			fmt.Sprintf("record does not match output schema '%s'", record.Schema().RecordName())).WithCause(err)
	}
	return nil
}

func (v *OutputValidator) resolve(schema *projection.Schema) (*jsonschema.Resolved, error) {
	key := schema.Fingerprint()
	v.mu.RLock()
	resolved, ok := v.resolved[key]
	v.mu.RUnlock()
	if ok {
		return resolved, nil
	}

	resolved, err := ToJSONSchema(schema).Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve JSON schema: %w", err)
	}

	v.mu.Lock()
	v.resolved[key] = resolved
	v.mu.Unlock()
	return resolved, nil
}
