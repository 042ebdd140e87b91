package projection

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Schema is an immutable, ordered set of uniquely named fields together with
// the record name it describes. Two schemas are equal when their record names
// and field lists match structurally.
type Schema struct {
	recordName  string
	fields      []Field
	index       map[string]int
	fingerprint string
}

// NewSchema validates the field list and builds a schema.
func NewSchema(recordName string, fields ...Field) (*Schema, error) {
	if strings.TrimSpace(recordName) == "" {
		return nil, NewProjectionError(ErrorTypeConfiguration, ErrCodeInvalidSchema, "record name cannot be empty")
	}
	s := &Schema{
		recordName: recordName,
		fields:     make([]Field, len(fields)),
		index:      make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.Name == "" {
			return nil, NewProjectionError(ErrorTypeConfiguration, ErrCodeInvalidSchema,
				fmt.Sprintf("field %d of record '%s' has no name", i, recordName))
		}
		if f.Type.Type == "" {
			return nil, NewProjectionError(ErrorTypeConfiguration, ErrCodeInvalidSchema,
				"field has no type").WithField(f.Name)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, NewProjectionError(ErrorTypeConfiguration, ErrCodeInvalidSchema,
				fmt.Sprintf("duplicate field in record '%s'", recordName)).WithField(f.Name)
		}
		s.fields[i] = f
		s.index[f.Name] = i
	}
	s.fingerprint = computeFingerprint(recordName, s.fields)
	return s, nil
}

// MustSchema is like NewSchema but panics on invalid input.
func MustSchema(recordName string, fields ...Field) *Schema {
	s, err := NewSchema(recordName, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func computeFingerprint(recordName string, fields []Field) string {
	var b strings.Builder
	b.WriteString(strconv.Quote(recordName))
	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(f.Name))
		b.WriteByte(':')
		b.WriteString(string(f.Type.Type))
		if f.Type.Nullable {
			b.WriteByte('?')
		}
	}
	b.WriteByte('}')
	return b.String()
}

// RecordName returns the name of the record this schema describes.
func (s *Schema) RecordName() string {
	return s.recordName
}

// Fields returns a copy of the ordered field list.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Len returns the number of fields.
func (s *Schema) Len() int {
	return len(s.fields)
}

// Field looks up a field by name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// HasField reports whether the schema contains a field with the given name.
func (s *Schema) HasField(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Fingerprint is a canonical string form; equal schemas share a fingerprint.
func (s *Schema) Fingerprint() string {
	return s.fingerprint
}

// Equal reports structural equality.
func (s *Schema) Equal(other *Schema) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.fingerprint == other.fingerprint
}

func (s *Schema) String() string {
	return s.fingerprint
}

// schemaJSON is the Avro-like document form of a schema.
type schemaJSON struct {
	Type   string      `json:"type"`
	Name   string      `json:"name"`
	Fields []fieldJSON `json:"fields"`
}

type fieldJSON struct {
	Name string          `json:"name"`
	Type json.RawMessage `json:"type"`
}

// MarshalJSON encodes the schema as an Avro-like record document. Nullable
// fields are written as a two-branch union with "null".
func (s *Schema) MarshalJSON() ([]byte, error) {
	doc := schemaJSON{Type: string(TypeRecord), Name: s.recordName, Fields: make([]fieldJSON, 0, len(s.fields))}
	for _, f := range s.fields {
		var v any
		switch {
		case f.Type.Type.IsSimple() && f.Type.Nullable:
			v = []string{string(f.Type.Type), string(TypeNull)}
		case f.Type.Type.IsSimple() || f.Type.Type == TypeNull:
			v = string(f.Type.Type)
		case f.Type.Nullable:
			v = []any{map[string]string{"type": string(f.Type.Type)}, string(TypeNull)}
		default:
			v = map[string]string{"type": string(f.Type.Type)}
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		doc.Fields = append(doc.Fields, fieldJSON{Name: f.Name, Type: raw})
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes an Avro-like record document.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var doc schemaJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	if doc.Type != "" && !strings.EqualFold(doc.Type, string(TypeRecord)) {
		return fmt.Errorf("schema document must be of type 'record', got '%s'", doc.Type)
	}
	fields := make([]Field, 0, len(doc.Fields))
	for _, fd := range doc.Fields {
		ft, err := parseFieldTypeJSON(fd.Type)
		if err != nil {
			return fmt.Errorf("field '%s': %w", fd.Name, err)
		}
		fields = append(fields, NewField(fd.Name, ft))
	}
	parsed, err := NewSchema(doc.Name, fields...)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

func parseFieldTypeJSON(raw json.RawMessage) (FieldType, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		t, err := ParseType(name)
		if err != nil {
			return FieldType{}, err
		}
		return Of(t), nil
	}

	var obj struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Type != "" {
		t, err := ParseType(obj.Type)
		if err != nil {
			return FieldType{}, err
		}
		return Of(t), nil
	}

	var branches []json.RawMessage
	if err := json.Unmarshal(raw, &branches); err != nil {
		return FieldType{}, fmt.Errorf("unsupported type declaration %s", string(raw))
	}
	var nonNull []FieldType
	hasNull := false
	for _, b := range branches {
		ft, err := parseFieldTypeJSON(b)
		if err != nil {
			return FieldType{}, err
		}
		if ft.Type == TypeNull {
			hasNull = true
			continue
		}
		nonNull = append(nonNull, ft)
	}
	switch {
	case len(nonNull) == 1 && hasNull:
		return NullableOf(nonNull[0].Type), nil
	case len(nonNull) == 1:
		return nonNull[0], nil
	case len(nonNull) == 0 && hasNull:
		return Of(TypeNull), nil
	default:
		return FieldType{Type: TypeUnion, Nullable: hasNull}, nil
	}
}
