package internal

import (
	"sync/atomic"

	"github.com/lychee-technology/projection"
	"go.uber.org/zap"
)

// SchemaDeriver computes output schemas once per distinct input schema.
type SchemaDeriver struct {
	spec        *ProjectionSpec
	cache       *schemaCache
	derivations atomic.Int64
}

// NewSchemaDeriver creates a deriver. maxEntries caps the cache; zero means
// unbounded.
func NewSchemaDeriver(spec *ProjectionSpec, maxEntries int) *SchemaDeriver {
	return &SchemaDeriver{
		spec:  spec,
		cache: newSchemaCache(maxEntries),
	}
}

// OutputSchema returns the output schema for input, deriving and caching it
// on first sight. Failed derivations are not cached.
func (d *SchemaDeriver) OutputSchema(input *projection.Schema) (*projection.Schema, error) {
	if out, ok := d.cache.get(input); ok {
		return out, nil
	}

	out, err := d.spec.DeriveOutputSchema(input)
	d.derivations.Add(1)
	if err != nil {
		zap.S().Debugw("output schema derivation failed", "inputSchema", input.RecordName(), "failures", len(projection.Failures(err)))
		return nil, err
	}

	out, cached := d.cache.put(input, out)
	if cached {
		zap.S().Debugw("derived output schema", "inputSchema", input.String(), "outputSchema", out.String())
	} else {
		zap.S().Debugw("schema cache full, output schema not cached", "inputSchema", input.RecordName(), "maxEntries", d.cache.maxEntries)
	}
	return out, nil
}

// Stats returns a snapshot of cache activity.
func (d *SchemaDeriver) Stats() CacheStats {
	return CacheStats{
		Entries:     d.cache.len(),
		Hits:        d.cache.hits.Load(),
		Misses:      d.cache.misses.Load(),
		Derivations: d.derivations.Load(),
	}
}
