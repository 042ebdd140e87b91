package internal

import (
	"fmt"

	"github.com/lychee-technology/projection"
)

// ProjectionSpec is the validated, immutable form of a ProjectionConfig.
type ProjectionSpec struct {
	selector    *FieldSelector
	renames     *RenameMap
	conversions *ConversionTable
}

// ParseSpec parses and validates the directives. When known is non-nil the
// directives are also checked against it, including output schema
// derivation. Every failure found in the pass is returned together.
func ParseSpec(cfg projection.ProjectionConfig, known *projection.Schema) (*ProjectionSpec, error) {
	collector := &projection.FailureCollector{}

	spec := &ProjectionSpec{
		selector: newFieldSelector(splitFieldList(cfg.Drop), splitFieldList(cfg.Keep)),
	}
	spec.selector.validate(collector)

	renamePairs, malformed := parseKeyValueList(cfg.Rename)
	addMalformed(collector, projection.PropertyRename, malformed)
	spec.renames = buildRenameMap(renamePairs, collector)

	convertPairs, malformed := parseKeyValueList(cfg.Convert)
	addMalformed(collector, projection.PropertyConvert, malformed)
	spec.conversions = buildConversionTable(convertPairs, collector)

	if known != nil {
		spec.derive(known, collector)
	}

	if err := collector.Err(); err != nil {
		return nil, err
	}
	return spec, nil
}

func addMalformed(collector *projection.FailureCollector, property string, elements []string) {
	for _, e := range elements {
		collector.AddFailure(projection.ErrCodeMalformedDirective,
			fmt.Sprintf("Could not find a key and value in '%s' of the %s list.", e, property)).
			WithElement(property, e)
	}
}

// Selector returns the field selector.
func (s *ProjectionSpec) Selector() *FieldSelector { return s.selector }

// Renames returns the rename map.
func (s *ProjectionSpec) Renames() *RenameMap { return s.renames }

// Conversions returns the conversion table.
func (s *ProjectionSpec) Conversions() *ConversionTable { return s.conversions }

// DeriveOutputSchema validates the directives against input and computes the
// output schema. It is a pure function of the spec and the input schema.
func (s *ProjectionSpec) DeriveOutputSchema(input *projection.Schema) (*projection.Schema, error) {
	collector := &projection.FailureCollector{}
	out := s.derive(input, collector)
	if err := collector.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ProjectionSpec) derive(input *projection.Schema, collector *projection.FailureCollector) *projection.Schema {
	s.selector.validateSchema(input, collector)
	s.renames.validateSchema(input, collector)
	s.conversions.validateSchema(input, collector)

	inputFields := input.Fields()
	outputFields := make([]projection.Field, 0, len(inputFields))
	produced := make(map[string]string, len(inputFields))
	for _, field := range inputFields {
		if !s.selector.Includes(field.Name) {
			continue
		}

		outputType := field.Type
		if target, ok := s.conversions.Target(field.Name); ok {
			inputType := field.Type.Type
			element := field.Name + ":" + string(target)
			switch {
			case !inputType.IsSimple():
				collector.AddFailure(projection.ErrCodeUnconvertibleField,
					fmt.Sprintf("Field '%s' is of unconvertible type '%s'.", field.Name, inputType)).
					WithField(field.Name).
					WithElement(projection.PropertyConvert, element)
			case !CanConvert(inputType, target):
				collector.AddFailure(projection.ErrCodeIncompatibleConvert,
					fmt.Sprintf("Cannot convert field '%s' from type '%s' to type '%s'.", field.Name, inputType, target)).
					WithField(field.Name).
					WithElement(projection.PropertyConvert, element)
			}
			// nullability of the input carries over to the output
			outputType = projection.FieldType{Type: target, Nullable: field.Type.Nullable}
		}

		outputName := s.renames.Target(field.Name)
		if previous, dup := produced[outputName]; dup {
			collector.AddFailure(projection.ErrCodeRenameTargetConflict,
				fmt.Sprintf("Fields '%s' and '%s' would both be written as '%s'.", previous, field.Name, outputName)).
				WithField(field.Name).
				WithProperty(projection.PropertyRename)
			continue
		}
		produced[outputName] = field.Name
		outputFields = append(outputFields, projection.NewField(outputName, outputType))
	}

	if collector.Err() != nil {
		return nil
	}
	out, err := projection.NewSchema(input.RecordName()+".projected", outputFields...)
	if err != nil {
		collector.AddFailure(projection.ErrCodeInvalidSchema, "Could not build the output schema.").WithCause(err)
		return nil
	}
	return out
}
