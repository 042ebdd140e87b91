package internal

import (
	"fmt"

	"github.com/lychee-technology/projection"
)

// FieldSelector decides which input fields survive projection.
// A non-empty keep set wins; otherwise the drop set excludes; otherwise every
// field passes.
type FieldSelector struct {
	drop     map[string]struct{}
	keep     map[string]struct{}
	keepList []string
}

func newFieldSelector(drop, keep []string) *FieldSelector {
	s := &FieldSelector{
		drop: make(map[string]struct{}, len(drop)),
		keep: make(map[string]struct{}, len(keep)),
	}
	for _, name := range drop {
		s.drop[name] = struct{}{}
	}
	for _, name := range keep {
		if _, dup := s.keep[name]; dup {
			continue
		}
		s.keep[name] = struct{}{}
		s.keepList = append(s.keepList, name)
	}
	return s
}

// Includes reports whether the named field is part of the output.
func (s *FieldSelector) Includes(name string) bool {
	if len(s.keep) > 0 {
		_, ok := s.keep[name]
		return ok
	}
	if len(s.drop) > 0 {
		_, dropped := s.drop[name]
		return !dropped
	}
	return true
}

// HasDrop reports whether a drop set is configured.
func (s *FieldSelector) HasDrop() bool {
	return len(s.drop) > 0
}

// HasKeep reports whether a keep set is configured.
func (s *FieldSelector) HasKeep() bool {
	return len(s.keep) > 0
}

func (s *FieldSelector) validate(collector *projection.FailureCollector) {
	if s.HasDrop() && s.HasKeep() {
		collector.AddFailure(projection.ErrCodeDropAndKeep, "Cannot specify both drop and keep.").
			WithProperty(projection.PropertyDrop).
			WithProperty(projection.PropertyKeep)
	}
}

func (s *FieldSelector) validateSchema(schema *projection.Schema, collector *projection.FailureCollector) {
	if s.HasDrop() {
		dropsAll := true
		for _, f := range schema.Fields() {
			if _, ok := s.drop[f.Name]; !ok {
				dropsAll = false
				break
			}
		}
		if dropsAll {
			collector.AddFailure(projection.ErrCodeDropAllFields,
				"'Fields to drop' cannot contain all the fields of the input schema.").
				WithProperty(projection.PropertyDrop)
		}
	}
	for _, name := range s.keepList {
		if !schema.HasField(name) {
			collector.AddFailure(projection.ErrCodeUnknownField,
				fmt.Sprintf("Field '%s' provided in 'Fields to keep' must be present in the input schema.", name)).
				WithField(name).
				WithElement(projection.PropertyKeep, name)
		}
	}
}
