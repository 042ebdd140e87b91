package internal

import (
	"fmt"

	"github.com/lychee-technology/projection"
)

// ConversionTable maps input field names to their declared target type.
type ConversionTable struct {
	targets map[string]projection.Type
	raw     map[string]string
	names   []string
}

func buildConversionTable(pairs []keyValue, collector *projection.FailureCollector) *ConversionTable {
	t := &ConversionTable{
		targets: make(map[string]projection.Type, len(pairs)),
		raw:     make(map[string]string, len(pairs)),
	}
	for _, kv := range pairs {
		target, err := projection.ParseType(kv.Value)
		if err != nil || !target.IsSimple() {
			collector.AddFailure(projection.ErrCodeInvalidConvertType,
				fmt.Sprintf("Cannot convert field '%s' to a '%s'.", kv.Key, kv.Value)).
				WithCorrective("Only simple types are supported.").
				WithField(kv.Key).
				WithElement(projection.PropertyConvert, kv.String())
			// still record the name so a duplicate is reported once
			if _, seen := t.targets[kv.Key]; !seen {
				t.names = append(t.names, kv.Key)
				t.targets[kv.Key] = ""
				t.raw[kv.Key] = kv.Value
			}
			continue
		}
		if _, seen := t.targets[kv.Key]; seen {
			collector.AddFailure(projection.ErrCodeDuplicateConvert,
				fmt.Sprintf("Cannot convert '%s' to multiple types.", kv.Key)).
				WithField(kv.Key).
				WithProperty(projection.PropertyConvert)
			continue
		}
		t.targets[kv.Key] = target
		t.raw[kv.Key] = kv.Value
		t.names = append(t.names, kv.Key)
	}
	return t
}

// Target returns the declared target type of the named field.
func (t *ConversionTable) Target(name string) (projection.Type, bool) {
	target, ok := t.targets[name]
	if !ok || target == "" {
		return "", false
	}
	return target, true
}

// Len returns the number of conversion entries.
func (t *ConversionTable) Len() int {
	return len(t.names)
}

func (t *ConversionTable) validateSchema(schema *projection.Schema, collector *projection.FailureCollector) {
	for _, name := range t.names {
		if !schema.HasField(name) {
			collector.AddFailure(projection.ErrCodeUnknownField,
				fmt.Sprintf("Field '%s' provided in 'Convert' is not present in the input schema.", name)).
				WithField(name).
				WithElement(projection.PropertyConvert, name+":"+t.raw[name])
		}
	}
}
