package projection

import (
	"fmt"
	"strings"
)

// Type represents a field type. Only the simple types can be projected and
// converted; the remaining kinds are recognised so that schemas describing
// them can still be loaded and reported on.
type Type string

const (
	TypeBoolean Type = "boolean"
	TypeInt     Type = "int"    // 32-bit signed integer
	TypeLong    Type = "long"   // 64-bit signed integer
	TypeFloat   Type = "float"  // 32-bit IEEE 754
	TypeDouble  Type = "double" // 64-bit IEEE 754
	TypeBytes   Type = "bytes"
	TypeString  Type = "string"

	TypeNull   Type = "null"
	TypeRecord Type = "record"
	TypeArray  Type = "array"
	TypeMap    Type = "map"
	TypeUnion  Type = "union"
	TypeEnum   Type = "enum"
)

var typeAliases = map[string]Type{
	"boolean": TypeBoolean,
	"bool":    TypeBoolean,
	"int":     TypeInt,
	"int32":   TypeInt,
	"integer": TypeInt,
	"long":    TypeLong,
	"int64":   TypeLong,
	"float":   TypeFloat,
	"float32": TypeFloat,
	"double":  TypeDouble,
	"float64": TypeDouble,
	"bytes":   TypeBytes,
	"string":  TypeString,
	"null":    TypeNull,
	"record":  TypeRecord,
	"array":   TypeArray,
	"map":     TypeMap,
	"union":   TypeUnion,
	"enum":    TypeEnum,
}

// ParseType resolves a type name case-insensitively.
func ParseType(s string) (Type, error) {
	t, ok := typeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown type '%s'", s)
	}
	return t, nil
}

// IsSimple reports whether t is one of the seven simple, non-null types.
func (t Type) IsSimple() bool {
	switch t {
	case TypeBoolean, TypeInt, TypeLong, TypeFloat, TypeDouble, TypeBytes, TypeString:
		return true
	default:
		return false
	}
}

func (t Type) String() string {
	return string(t)
}

// FieldType is a type with an optional nullable wrapper.
type FieldType struct {
	Type     Type `json:"type"`
	Nullable bool `json:"nullable,omitempty"`
}

// Of returns the non-null field type for t.
func Of(t Type) FieldType {
	return FieldType{Type: t}
}

// NullableOf returns t wrapped as nullable.
func NullableOf(t Type) FieldType {
	return FieldType{Type: t, Nullable: true}
}

// NonNullable strips the nullable wrapper.
func (ft FieldType) NonNullable() FieldType {
	return FieldType{Type: ft.Type}
}

func (ft FieldType) String() string {
	if ft.Nullable {
		return "nullable " + string(ft.Type)
	}
	return string(ft.Type)
}

// Field is a named, typed schema entry.
type Field struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// NewField creates a field.
func NewField(name string, ft FieldType) Field {
	return Field{Name: name, Type: ft}
}
