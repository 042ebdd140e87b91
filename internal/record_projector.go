package internal

import (
	"fmt"

	"github.com/lychee-technology/projection"
)

// RecordProjector applies a ProjectionSpec to records. It holds no per-record
// state and is safe for concurrent use.
type RecordProjector struct {
	spec    *ProjectionSpec
	deriver *SchemaDeriver
}

var _ projection.Projector = (*RecordProjector)(nil)

// NewRecordProjector creates a projector backed by its own schema cache.
func NewRecordProjector(spec *ProjectionSpec, cache projection.CacheConfig) *RecordProjector {
	return &RecordProjector{
		spec:    spec,
		deriver: NewSchemaDeriver(spec, cache.MaxEntries),
	}
}

// OutputSchema implements projection.Projector.
func (p *RecordProjector) OutputSchema(input *projection.Schema) (*projection.Schema, error) {
	if input == nil {
		return nil, projection.NewProjectionError(projection.ErrorTypeConfiguration, projection.ErrCodeInvalidSchema, "input schema is nil")
	}
	return p.deriver.OutputSchema(input)
}

// Project implements projection.Projector.
func (p *RecordProjector) Project(record *projection.Record) (*projection.Record, error) {
	if record == nil {
		return nil, projection.NewProjectionError(projection.ErrorTypeConversion, projection.ErrCodeInvalidRecord, "record is nil")
	}
	inputSchema := record.Schema()
	outputSchema, err := p.deriver.OutputSchema(inputSchema)
	if err != nil {
		return nil, err
	}

	builder := projection.NewRecordBuilder(outputSchema)
	for _, inputField := range inputSchema.Fields() {
		if !p.spec.selector.Includes(inputField.Name) {
			continue
		}
		outputName := p.spec.renames.Target(inputField.Name)
		outputField, ok := outputSchema.Field(outputName)
		if !ok {
			return nil, projection.NewProjectionError(projection.ErrorTypeConversion, projection.ErrCodeInvalidRecord,
				fmt.Sprintf("output field '%s' missing from derived schema", outputName)).WithField(inputField.Name)
		}

		value := record.Get(inputField.Name)
		if _, convert := p.spec.conversions.Target(inputField.Name); convert && value != nil {
			value, err = ConvertValue(value, inputField.Type.Type, outputField.Type.Type)
			if err != nil {
				return nil, projection.NewProjectionError(projection.ErrorTypeConversion, projection.ErrCodeConversionFailed,
					fmt.Sprintf("cannot convert from '%s' to '%s'", inputField.Type.Type, outputField.Type.Type)).
					WithField(inputField.Name).
					WithCause(err)
			}
		}

		if err := builder.Set(outputName, value); err != nil {
			return nil, err
		}
	}
	return builder.Build()
}

// Stats returns schema cache statistics.
func (p *RecordProjector) Stats() CacheStats {
	return p.deriver.Stats()
}
