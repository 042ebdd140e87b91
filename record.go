package projection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Record is an immutable set of values validated against a schema.
// Values use their Go native representation: bool, int32, int64, float32,
// float64, []byte and string. A nil value means null.
type Record struct {
	schema *Schema
	values []any
}

// Schema returns the schema the record conforms to.
func (r *Record) Schema() *Schema {
	return r.schema
}

// Get returns the value of the named field, or nil when the field is null or
// not part of the schema.
func (r *Record) Get(name string) any {
	i, ok := r.schema.index[name]
	if !ok {
		return nil
	}
	return r.values[i]
}

// Values returns the record as a name to value map.
func (r *Record) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for i, f := range r.schema.fields {
		out[f.Name] = r.values[i]
	}
	return out
}

// MarshalJSON writes the record as a JSON object whose keys follow schema order.
// NaN and infinite floats are written as the strings "NaN", "Infinity" and
// "-Infinity".
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.schema.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(jsonValue(r.values[i]))
		if err != nil {
			return nil, fmt.Errorf("marshal field '%s': %w", f.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func jsonValue(value any) any {
	var f float64
	switch v := value.(type) {
	case float32:
		f = float64(v)
	case float64:
		f = v
	default:
		return value
	}
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return value
}

// RecordBuilder assembles a record field by field.
type RecordBuilder struct {
	schema *Schema
	values []any
}

// NewRecordBuilder creates a builder for the given schema.
func NewRecordBuilder(schema *Schema) *RecordBuilder {
	return &RecordBuilder{
		schema: schema,
		values: make([]any, len(schema.fields)),
	}
}

// Set assigns a value to the named field after checking it against the
// field's declared type.
func (b *RecordBuilder) Set(name string, value any) error {
	i, ok := b.schema.index[name]
	if !ok {
		return NewProjectionError(ErrorTypeConversion, ErrCodeInvalidRecord,
			fmt.Sprintf("field is not part of record '%s'", b.schema.recordName)).WithField(name)
	}
	if err := checkValue(b.schema.fields[i].Type, value); err != nil {
		return NewProjectionError(ErrorTypeConversion, ErrCodeInvalidRecord, err.Error()).WithField(name)
	}
	b.values[i] = value
	return nil
}

// Build finalizes the record. Every non-nullable field must have been set.
func (b *RecordBuilder) Build() (*Record, error) {
	for i, f := range b.schema.fields {
		if b.values[i] == nil && !f.Type.Nullable && f.Type.Type != TypeNull {
			return nil, NewProjectionError(ErrorTypeConversion, ErrCodeInvalidRecord,
				"non-nullable field has no value").WithField(f.Name)
		}
	}
	values := make([]any, len(b.values))
	copy(values, b.values)
	return &Record{schema: b.schema, values: values}, nil
}

// NewRecord builds a record from a name to value map.
func NewRecord(schema *Schema, values map[string]any) (*Record, error) {
	b := NewRecordBuilder(schema)
	for name, v := range values {
		if err := b.Set(name, v); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

func checkValue(ft FieldType, value any) error {
	if value == nil {
		if ft.Nullable || ft.Type == TypeNull {
			return nil
		}
		return fmt.Errorf("null value for non-nullable %s field", ft.Type)
	}
	ok := true
	switch ft.Type {
	case TypeBoolean:
		_, ok = value.(bool)
	case TypeInt:
		_, ok = value.(int32)
	case TypeLong:
		_, ok = value.(int64)
	case TypeFloat:
		_, ok = value.(float32)
	case TypeDouble:
		_, ok = value.(float64)
	case TypeBytes:
		_, ok = value.([]byte)
	case TypeString:
		_, ok = value.(string)
	case TypeNull:
		ok = false
	}
	if !ok {
		return fmt.Errorf("value of type %T does not match %s", value, ft.Type)
	}
	return nil
}
