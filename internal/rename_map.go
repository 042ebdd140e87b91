package internal

import (
	"fmt"

	"github.com/lychee-technology/projection"
)

// RenameMap is an injective old name -> new name mapping.
type RenameMap struct {
	forward map[string]string
	inverse map[string]string
	keys    []string
}

// buildRenameMap inserts the pairs in order. Conflicts are checked before
// insertion and reported to the collector; a conflicting pair is not inserted.
func buildRenameMap(pairs []keyValue, collector *projection.FailureCollector) *RenameMap {
	m := &RenameMap{
		forward: make(map[string]string, len(pairs)),
		inverse: make(map[string]string, len(pairs)),
	}
	for _, kv := range pairs {
		if existing, ok := m.forward[kv.Key]; ok {
			if existing == kv.Value {
				continue
			}
			collector.AddFailure(projection.ErrCodeRenameConflict,
				fmt.Sprintf("Cannot rename '%s' to both '%s' and '%s'.", kv.Key, existing, kv.Value)).
				WithField(kv.Key).
				WithElement(projection.PropertyRename, kv.Key+":"+existing).
				WithElement(projection.PropertyRename, kv.String())
			continue
		}
		if _, taken := m.inverse[kv.Value]; taken {
			collector.AddFailure(projection.ErrCodeRenameTargetConflict,
				fmt.Sprintf("Cannot rename more than one field to '%s'.", kv.Value)).
				WithField(kv.Key).
				WithProperty(projection.PropertyRename)
			continue
		}
		m.forward[kv.Key] = kv.Value
		m.inverse[kv.Value] = kv.Key
		m.keys = append(m.keys, kv.Key)
	}
	return m
}

// Target returns the output name for an input field name; names without an
// entry pass through unchanged.
func (m *RenameMap) Target(name string) string {
	if renamed, ok := m.forward[name]; ok {
		return renamed
	}
	return name
}

// Source returns the input name renamed to the given output name, if any.
func (m *RenameMap) Source(renamed string) (string, bool) {
	name, ok := m.inverse[renamed]
	return name, ok
}

// Len returns the number of rename entries.
func (m *RenameMap) Len() int {
	return len(m.forward)
}

func (m *RenameMap) validateSchema(schema *projection.Schema, collector *projection.FailureCollector) {
	for _, key := range m.keys {
		if !schema.HasField(key) {
			collector.AddFailure(projection.ErrCodeUnknownField,
				fmt.Sprintf("Field '%s' provided in 'Fields to rename' must be present in the input schema.", key)).
				WithField(key).
				WithElement(projection.PropertyRename, key+":"+m.forward[key])
		}
	}
}
