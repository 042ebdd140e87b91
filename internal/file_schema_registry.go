package internal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/lychee-technology/projection"
	"go.uber.org/zap"
)

const schemaFileSuffix = ".schema.json"

// fileSchemaRegistry is a SchemaRegistry implementation that loads record
// schemas from Avro-like JSON documents on disk. Each file named
// <anything>.schema.json holds one record schema and is registered under the
// record name declared inside it.
type fileSchemaRegistry struct {
	mu        sync.RWMutex
	schemaDir string
	schemas   map[string]*projection.Schema
	sources   map[string]string
}

// NewFileSchemaRegistryFromDirectory scans schemaDir for *.schema.json files.
func NewFileSchemaRegistryFromDirectory(schemaDir string) (projection.SchemaRegistry, error) {
	registry := &fileSchemaRegistry{
		schemaDir: schemaDir,
		schemas:   make(map[string]*projection.Schema),
		sources:   make(map[string]string),
	}

	if err := registry.loadSchemasFromDirectory(); err != nil {
		return nil, err
	}

	return registry, nil
}

func (r *fileSchemaRegistry) loadSchemasFromDirectory() error {
	entries, err := os.ReadDir(r.schemaDir)
	if err != nil {
		return fmt.Errorf("failed to read schema directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), schemaFileSuffix) {
			files = append(files, entry.Name())
		}
	}
	// deterministic load order so duplicate-name errors are reproducible
	sort.Strings(files)

	for _, name := range files {
		path := filepath.Join(r.schemaDir, name)
		schema, err := loadSchemaFile(path)
		if err != nil {
			return err
		}
		if previous, exists := r.sources[schema.RecordName()]; exists {
			return fmt.Errorf("schema '%s' defined in both %s and %s", schema.RecordName(), previous, path)
		}
		r.schemas[schema.RecordName()] = schema
		r.sources[schema.RecordName()] = path
		zap.S().Debugw("loaded schema", "name", schema.RecordName(), "fields", schema.Len(), "file", path)
	}

	if len(r.schemas) == 0 {
		return fmt.Errorf("no schema files found in directory: %s", r.schemaDir)
	}

	return nil
}

func loadSchemaFile(path string) (*projection.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	var schema projection.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}
	return &schema, nil
}

// GetSchema retrieves a schema by record name
func (r *fileSchemaRegistry) GetSchema(name string) (*projection.Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schema, exists := r.schemas[name]
	if !exists {
		return nil, projection.NewProjectionError(projection.ErrorTypeConfiguration, projection.ErrCodeSchemaNotFound,
			fmt.Sprintf("schema not found: %s", name))
	}
	return schema, nil
}

// ListSchemas returns the registered record names in sorted order
func (r *fileSchemaRegistry) ListSchemas() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
