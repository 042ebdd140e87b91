package projection

// SchemaRegistry provides lookup of known input schemas.
// Implementations can load schemas from files, databases, or other sources.
type SchemaRegistry interface {
	// GetSchema retrieves a schema by record name
	GetSchema(name string) (*Schema, error)
	// ListSchemas returns the names of all registered schemas
	ListSchemas() []string
}
